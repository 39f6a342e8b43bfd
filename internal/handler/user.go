package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/consistency"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/service"
)

// UserHandler serves the /user routes that operate on the caller's own
// user document and lists.
//
// DEPENDENCY CHAIN:
//   - users  *service.UserService   → single-document reads and profile edits
//   - engine *consistency.Engine    → everything that touches more than one store
type UserHandler struct {
	users  *service.UserService
	engine *consistency.Engine
	logger *slog.Logger
}

func NewUserHandler(users *service.UserService, engine *consistency.Engine, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, engine: engine, logger: logger}
}

type newUserRequest struct {
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
}

// HandleCreate binds the authenticated subject to a new user document.
//
// HTTP: POST /api/v1/user/new
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	sub, err := subject(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req newUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.Create(r.Context(), service.NewUser{
		Subject:     sub,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type deleteAccountRequest struct {
	Username string `json:"username"`
}

// HandleDelete removes the caller's account and everything it owns.
//
// HTTP: DELETE /api/v1/user
// REQUEST BODY: {"username": "<login email>"}
//
// If an earlier attempt already removed the user document, the subject no
// longer resolves to a user; the pending deletion is then resumed from its
// checkpoint instead.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sub, err := subject(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req deleteAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" {
		writeError(w, apperror.ValidationFailed("username", "username is required"))
		return
	}

	var res *consistency.DeleteAccountResult
	user, err := h.users.GetBySubject(r.Context(), sub)
	switch {
	case err == nil:
		res, err = h.engine.DeleteAccount(r.Context(), user.ID, req.Username)
	case errors.Is(err, apperror.ErrNotFound):
		res, err = h.engine.ResumeDeleteAccount(r.Context(), sub, req.Username)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// HandleMe returns the caller's user document.
//
// HTTP: GET /api/v1/user/profile/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUpdateProfile replaces the editable profile fields.
//
// HTTP: POST /api/v1/user/profile/me
func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	var p model.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), user.ID, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type photoResponse struct {
	User    *model.User `json:"user"`
	Warning string      `json:"warning,omitempty"`
}

// HandleUploadPhoto replaces the profile photo.
//
// HTTP: POST /api/v1/user/profile/photo (multipart field "profile-photo")
//
// A failure to delete the previous photo does not fail the request; the
// response carries it as a warning.
func (h *UserHandler) HandleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	up, err := readUpload(w, r, "profile-photo", MaxImageBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.ReplaceProfilePhoto(r.Context(), user.ID, up.Filename, up.ContentType, up.Data)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := photoResponse{User: res.User}
	if res.CleanupErr != nil {
		resp.Warning = res.CleanupErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListLiked returns the posts the caller liked.
//
// HTTP: GET /api/v1/user/videos/videoLiked
func (h *UserHandler) HandleListLiked(w http.ResponseWriter, r *http.Request) {
	h.listMembership(w, r, model.ListLiked)
}

// HandleListCollection returns the caller's collection.
//
// HTTP: GET /api/v1/user/videos/videoCollection
func (h *UserHandler) HandleListCollection(w http.ResponseWriter, r *http.Request) {
	h.listMembership(w, r, model.ListCollections)
}

func (h *UserHandler) listMembership(w http.ResponseWriter, r *http.Request, list model.List) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	posts, err := h.users.ListMembership(r.Context(), user.ID, list)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleCollect adds a post to the caller's collection.
//
// HTTP: PUT /api/v1/user/videos/videoCollection/{id}
func (h *UserHandler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Collect(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleUncollect removes a post from the caller's collection.
//
// HTTP: DELETE /api/v1/user/videos/videoCollection/{id}
func (h *UserHandler) HandleUncollect(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Uncollect(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
