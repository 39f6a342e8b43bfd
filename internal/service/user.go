// Package service holds the single-document business rules: validating
// input, applying defaults, and reading documents for the handlers.
//
// Anything that has to keep two stores (or two documents) in step lives in
// the consistency package instead. The split is:
//
//	Handler → UserService / VideoService     single document
//	Handler → consistency.Engine             cascades, counters, assets
//
// Services take repository interfaces, never *sqlite.DB, so tests inject
// in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

const (
	MaxUserNameLength = 40
	MaxNameLength     = 60
)

var userNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// UserService manages user documents.
type UserService struct {
	users       repository.UserRepository
	memberships repository.MembershipRepository
	logger      *slog.Logger
}

func NewUserService(users repository.UserRepository, memberships repository.MembershipRepository, logger *slog.Logger) *UserService {
	return &UserService{
		users:       users,
		memberships: memberships,
		logger:      logger,
	}
}

// NewUser is the input of Create. Subject comes from the validated token,
// the rest from the request body.
type NewUser struct {
	Subject     string
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
}

// Create binds a directory subject to a new user document.
//
// The user name defaults to the local part of the email. If that is taken
// the subject is appended, which is unique by construction.
func (s *UserService) Create(ctx context.Context, in NewUser) (*model.User, error) {
	if in.Subject == "" {
		return nil, apperror.Unauthenticated("no subject to bind the user to")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, apperror.ValidationFailed("email", "a valid email address is required")
	}
	email := strings.ToLower(addr.Address)

	if err := checkName("firstName", in.FirstName); err != nil {
		return nil, err
	}
	if err := checkName("lastName", in.LastName); err != nil {
		return nil, err
	}

	userName := defaultUserName(email)
	if _, err := s.users.GetUserByUserName(ctx, userName); err == nil {
		userName = userName + "-" + in.Subject
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service: checking user name %q: %w", userName, err)
	}

	user := &model.User{
		Subject:     in.Subject,
		UserName:    userName,
		Email:       email,
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("user_name", user.UserName),
	)
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.users.GetUserByID(ctx, id)
}

// GetBySubject resolves an authenticated subject to its user document.
func (s *UserService) GetBySubject(ctx context.Context, subject string) (*model.User, error) {
	return s.users.GetUserBySubject(ctx, subject)
}

// UpdateProfile changes the editable fields. A new user name must not be
// used by anybody else; keeping one's own name is always allowed.
func (s *UserService) UpdateProfile(ctx context.Context, id string, p model.Profile) (*model.User, error) {
	p.UserName = strings.TrimSpace(p.UserName)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)

	current, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserName == "" {
		p.UserName = current.UserName
	}
	if len(p.UserName) > MaxUserNameLength || !userNamePattern.MatchString(p.UserName) {
		return nil, apperror.ValidationFailed("userName",
			fmt.Sprintf("user name must be 1-%d letters, digits, '.', '_' or '-'", MaxUserNameLength))
	}
	if err := checkName("firstName", p.FirstName); err != nil {
		return nil, err
	}
	if err := checkName("lastName", p.LastName); err != nil {
		return nil, err
	}

	if p.UserName != current.UserName {
		other, err := s.users.GetUserByUserName(ctx, p.UserName)
		switch {
		case err == nil && other.ID != id:
			return nil, apperror.AlreadyExists("user", "userName", p.UserName)
		case err != nil && !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("service: checking user name %q: %w", p.UserName, err)
		}
	}

	updated, err := s.users.UpdateProfile(ctx, id, p)
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile updated", slog.String("user_id", id))
	return updated, nil
}

// ListMembership returns the posts on one of the user's lists. Entries
// whose post was deleted are left out and pruned from the store.
func (s *UserService) ListMembership(ctx context.Context, userID string, list model.List) ([]model.VideoPost, error) {
	if _, err := model.ParseList(string(list)); err != nil {
		return nil, apperror.ValidationFailed("list", err.Error())
	}

	posts, err := s.memberships.ListMemberPosts(ctx, userID, list)
	if err != nil {
		return nil, fmt.Errorf("service: listing %s of %s: %w", list, userID, err)
	}

	raw, err := s.memberships.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: listing memberships of %s: %w", userID, err)
	}
	inList := 0
	for _, m := range raw {
		if m.List == list {
			inList++
		}
	}

	if inList > len(posts) {
		n, err := s.memberships.PruneMemberships(ctx, userID)
		if err != nil {
			// The read is still correct; the stale entries are retried next time.
			s.logger.Warn("failed to prune memberships",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("pruned memberships of deleted videos",
				slog.String("user_id", userID),
				slog.Int64("count", n),
			)
		}
	}
	return posts, nil
}

func checkName(field, v string) error {
	if len(strings.TrimSpace(v)) > MaxNameLength {
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d characters or less", field, MaxNameLength))
	}
	return nil
}

// defaultUserName is the email's local part with anything outside the
// user name alphabet replaced.
func defaultUserName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > MaxUserNameLength {
		name = name[:MaxUserNameLength]
	}
	if name == "" {
		name = "user"
	}
	return name
}
