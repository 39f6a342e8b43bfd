// Package identity is the boundary to the identity directory: the system
// that owns credentials and hands out the subject every user document is
// bound to.
//
// Two implementations exist. Local keeps credentials in the document store
// and issues its own JWTs. Remote talks to an external OAuth2/OIDC
// provider. The consistency engine only sees Directory, so account
// deletion works the same against either.
package identity

import "context"

// Directory is what the rest of the system needs from the identity
// directory.
//
// DeleteAccount must treat an account that no longer exists as success:
// account deletion retries it after partial failures.
type Directory interface {
	ValidateToken(ctx context.Context, token string) (subject string, err error)
	DeleteAccount(ctx context.Context, username string) error
}
