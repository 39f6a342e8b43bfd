package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Validator turns a bearer token into the subject it was issued for.
// identity.Local and identity.Remote both implement it.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// contextKey is unexported so no other package can read or shadow the
// subject stored by this middleware.
type contextKey string

const subjectKey contextKey = "subject"

// CookieName is the cookie checked when no Authorization header is sent.
const CookieName = "token"

var errNoToken = errors.New("auth: no token presented")

// RequireAuth rejects requests without a valid token with 401 and stores
// the token's subject in the context otherwise.
func RequireAuth(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := extractSubject(r, v)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="clipstream"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthenticated","message":"valid authentication required"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

// OptionalAuth stores the subject when a valid token is present and lets
// anonymous requests through unchanged.
func OptionalAuth(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subject, err := extractSubject(r, v); err == nil {
				r = r.WithContext(WithSubject(r.Context(), subject))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSubject returns a context carrying subject. Handler tests use it to
// skip the middleware.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns ("", false) for anonymous requests.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

// extractSubject prefers "Authorization: Bearer <token>" and falls back to
// the token cookie.
func extractSubject(r *http.Request, v Validator) (string, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		if c, err := r.Cookie(CookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return "", errNoToken
	}

	subject, err := v.ValidateToken(r.Context(), token)
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", errNoToken
	}
	return subject, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
