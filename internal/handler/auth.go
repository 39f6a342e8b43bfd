package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/auth"
	"github.com/sakif/clipstream/internal/service"
)

// AuthHandler manages sign-up, sign-in and password changes against the
// built-in identity directory. It is only mounted when the server runs
// with the local directory; an external provider owns these flows itself.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp         → create an account, return its subject
//   - HandleSignIn         → check credentials, issue a token (body + cookie)
//   - HandleSignOut        → clear the token cookie
//   - HandleChangePassword → change the caller's password
type AuthHandler struct {
	accounts     *service.AuthService
	users        UserLookup
	tokenTTL     time.Duration
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(accounts *service.AuthService, users UserLookup, tokenTTL time.Duration, secureCookie bool, logger *slog.Logger) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = auth.DefaultTokenTTL
	}
	return &AuthHandler{
		accounts:     accounts,
		users:        users,
		tokenTTL:     tokenTTL,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignUp registers a new account.
//
// HTTP: POST /api/v1/user/signup
// REQUEST BODY: {"email": "...", "password": "..."}
//
// Sign-up only creates the identity. The client signs in and then calls
// POST /user/new to create the user document.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	sub, err := h.accounts.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"subject": sub})
}

// HandleSignIn checks credentials and issues a token.
//
// HTTP: POST /api/v1/user/signin
//
// The token is returned in the body for API clients and set as an
// HttpOnly cookie for browsers. auth.RequireAuth accepts either.
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	// HttpOnly = JavaScript cannot read this cookie (XSS protection).
	// SameSite=Lax = sent on top-level navigations but not cross-site POSTs.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, res)
}

// HandleSignOut clears the token cookie.
//
// HTTP: POST /api/v1/user/signout
//
// Tokens are stateless, so this only removes the browser's copy. The token
// itself stays valid until it expires.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// HandleChangePassword changes the caller's password. The account is the
// one behind the caller's user document, never one named in the body.
//
// HTTP: POST /api/v1/user/profile/password
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, apperror.ValidationFailed("password", "current and new password are required"))
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), user.Email, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
