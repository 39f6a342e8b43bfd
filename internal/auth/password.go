package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
const defaultCost = 12

// Password length limits. bcrypt ignores everything past 72 bytes, so
// longer passwords are rejected rather than silently truncated.
const (
	MinPasswordLength = 8
	maxPasswordBytes  = 72
)

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService hashes and verifies passwords with bcrypt. The cost is a
// field so tests can use the bcrypt minimum.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost is for tests in other packages; cost 4 keeps
// a hash under a millisecond.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return &PasswordService{cost: cost}
}

// CheckStrength validates a new password before it is hashed.
func CheckStrength(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinPasswordLength {
		return fmt.Errorf("auth: password must be at least %d characters", MinPasswordLength)
	}
	if len(plaintext) > maxPasswordBytes {
		return fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}
	return nil
}

// Hash returns the self-describing bcrypt hash ($2a$<cost>$<salt><hash>)
// that is stored as-is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil if plaintext matches hash and ErrPasswordMismatch if
// it does not. The comparison is constant-time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
