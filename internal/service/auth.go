package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/clipstream/internal/apperror"
)

// Accounts is the credential side of the local identity directory
// (identity.Local).
type Accounts interface {
	Register(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, username, password string) (token, subject string, err error)
	ChangePassword(ctx context.Context, username, current, next string) error
}

// AuthService implements sign-up, sign-in and password changes when the
// server runs its own identity directory. Usernames are email addresses.
type AuthService struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewAuthService(accounts Accounts, logger *slog.Logger) *AuthService {
	return &AuthService{accounts: accounts, logger: logger}
}

// AuthResult is returned by SignIn.
type AuthResult struct {
	Token   string `json:"token"`
	Subject string `json:"subject"`
}

// SignUp registers an account and returns its subject. The user document
// is created separately once the client signs in.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (string, error) {
	username, err := parseUsername(email)
	if err != nil {
		return "", err
	}

	subject, err := s.accounts.Register(ctx, username, password)
	if err != nil {
		return "", err
	}

	s.logger.Info("account signed up", slog.String("subject", subject))
	return subject, nil
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	username, err := parseUsername(email)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid username or password")
	}

	token, subject, err := s.accounts.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Subject: subject}, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, email, current, next string) error {
	if err := s.accounts.ChangePassword(ctx, email, current, next); err != nil {
		return err
	}
	s.logger.Info("password changed", slog.String("username", strings.ToLower(email)))
	return nil
}

func parseUsername(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", apperror.ValidationFailed("username", "username must be an email address")
	}
	return strings.ToLower(addr.Address), nil
}
