package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/auth"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

// Local is a Directory backed by the credentials table.
type Local struct {
	creds     repository.CredentialRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

var _ Directory = (*Local)(nil)

func NewLocal(creds repository.CredentialRepository, tokens *auth.TokenService, passwords *auth.PasswordService, logger *slog.Logger) *Local {
	return &Local{creds: creds, tokens: tokens, passwords: passwords, logger: logger}
}

// Register creates an account and returns its new subject.
func (l *Local) Register(ctx context.Context, username, password string) (string, error) {
	username = normalizeUsername(username)
	if username == "" {
		return "", apperror.ValidationFailed("username", "username is required")
	}
	if err := auth.CheckStrength(password); err != nil {
		return "", apperror.ValidationFailed("password", strings.TrimPrefix(err.Error(), "auth: "))
	}

	hash, err := l.passwords.Hash(password)
	if err != nil {
		return "", fmt.Errorf("identity: registering %s: %w", username, err)
	}

	cred := &model.Credential{
		Username:     username,
		Subject:      uuid.NewString(),
		PasswordHash: hash,
	}
	if err := l.creds.CreateCredential(ctx, cred); err != nil {
		return "", err
	}

	l.logger.Info("account registered", slog.String("username", username), slog.String("subject", cred.Subject))
	return cred.Subject, nil
}

// Authenticate checks a password and issues a token. Unknown users and
// wrong passwords get the same error.
func (l *Local) Authenticate(ctx context.Context, username, password string) (token, subject string, err error) {
	username = normalizeUsername(username)

	cred, err := l.creds.GetCredential(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", "", apperror.Unauthenticated("invalid username or password")
		}
		return "", "", err
	}

	if err := l.passwords.Verify(cred.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return "", "", apperror.Unauthenticated("invalid username or password")
		}
		return "", "", fmt.Errorf("identity: verifying password of %s: %w", username, err)
	}

	token, err = l.tokens.Generate(cred.Subject)
	if err != nil {
		return "", "", fmt.Errorf("identity: issuing token for %s: %w", username, err)
	}
	return token, cred.Subject, nil
}

// ChangePassword replaces the password after checking the current one.
func (l *Local) ChangePassword(ctx context.Context, username, current, next string) error {
	username = normalizeUsername(username)

	cred, err := l.creds.GetCredential(ctx, username)
	if err != nil {
		return err
	}
	if err := l.passwords.Verify(cred.PasswordHash, current); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.Unauthorized("current password is incorrect")
		}
		return fmt.Errorf("identity: verifying password of %s: %w", username, err)
	}
	if err := auth.CheckStrength(next); err != nil {
		return apperror.ValidationFailed("newPassword", strings.TrimPrefix(err.Error(), "auth: "))
	}

	hash, err := l.passwords.Hash(next)
	if err != nil {
		return fmt.Errorf("identity: hashing new password of %s: %w", username, err)
	}
	return l.creds.UpdatePasswordHash(ctx, username, hash)
}

// ValidateToken checks the signature locally; no store lookup.
func (l *Local) ValidateToken(_ context.Context, token string) (string, error) {
	subject, err := l.tokens.Validate(token)
	if err != nil {
		return "", apperror.Unauthenticated("invalid or expired token")
	}
	return subject, nil
}

// DeleteAccount removes the credential. Already gone is fine.
func (l *Local) DeleteAccount(ctx context.Context, username string) error {
	username = normalizeUsername(username)
	err := l.creds.DeleteCredential(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		l.logger.Debug("account already absent from directory", slog.String("username", username))
		return nil
	}
	return err
}

// Usernames are email addresses and compare case-insensitively.
func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
