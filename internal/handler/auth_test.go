package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/clipstream/internal/auth"
	"github.com/sakif/clipstream/internal/handler"
	"github.com/sakif/clipstream/internal/identity"
	sqliteRepo "github.com/sakif/clipstream/internal/repository/sqlite"
	"github.com/sakif/clipstream/internal/service"
)

// newAuthRouter wires the sign-in routes to a real local directory so the
// issued token can be used against a protected route.
func newAuthRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := testLogger()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789")
	require.NoError(t, err)
	local := identity.NewLocal(db, tokens, auth.NewPasswordServiceWithCost(4), logger)

	users := service.NewUserService(db, db, logger)
	ah := handler.NewAuthHandler(service.NewAuthService(local, logger), users, 0, false, logger)
	uh := handler.NewUserHandler(users, nil, logger)

	r := chi.NewRouter()
	r.Post("/user/signup", ah.HandleSignUp)
	r.Post("/user/signin", ah.HandleSignIn)
	r.Post("/user/signout", ah.HandleSignOut)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(local))
		r.Post("/user/new", uh.HandleCreate)
		r.Post("/user/profile/password", ah.HandleChangePassword)
	})
	return r
}

func send(t *testing.T, h http.Handler, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func tokenCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Flow(t *testing.T) {
	h := newAuthRouter(t)
	creds := map[string]string{"email": "Carol@Example.com", "password": "password1"}

	rr := send(t, h, http.MethodPost, "/user/signup", creds, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	subject := decode[map[string]string](t, rr)["subject"]
	require.NotEmpty(t, subject)

	rr = send(t, h, http.MethodPost, "/user/signup", creds, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = send(t, h, http.MethodPost, "/user/signin", map[string]string{"email": "carol@example.com", "password": "wrong-one"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = send(t, h, http.MethodPost, "/user/signin", creds, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[service.AuthResult](t, rr)
	assert.Equal(t, subject, res.Subject)
	assert.NotEmpty(t, res.Token)

	cookie := tokenCookie(rr)
	require.NotNil(t, cookie, "sign-in should set the token cookie")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, res.Token, cookie.Value)

	// The cookie alone authenticates.
	rr = send(t, h, http.MethodPost, "/user/new", map[string]string{"email": "carol@example.com"}, cookie)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = send(t, h, http.MethodPost, "/user/profile/password", map[string]string{
		"currentPassword": "not-it", "newPassword": "password2",
	}, cookie)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = send(t, h, http.MethodPost, "/user/profile/password", map[string]string{
		"currentPassword": "password1", "newPassword": "password2",
	}, cookie)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = send(t, h, http.MethodPost, "/user/signin", map[string]string{"email": "carol@example.com", "password": "password2"}, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthHandler_SignOut(t *testing.T) {
	h := newAuthRouter(t)

	rr := send(t, h, http.MethodPost, "/user/signout", map[string]string{}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	cookie := tokenCookie(rr)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestAuthHandler_RejectsBadInput(t *testing.T) {
	h := newAuthRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{"weak password", map[string]string{"email": "a@example.com", "password": "short"}},
		{"not an email", map[string]string{"email": "nobody", "password": "password1"}},
		{"unknown field", map[string]string{"user": "a@example.com", "password": "password1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := send(t, h, http.MethodPost, "/user/signup", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}

	rr := send(t, h, http.MethodPost, "/user/profile/password", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
