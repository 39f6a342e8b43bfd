package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/clipstream/internal/consistency"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/service"
)

// VideoHandler serves the /video routes: the public feed, likes,
// comments, uploads and post management.
type VideoHandler struct {
	videos *service.VideoService
	users  *service.UserService
	engine *consistency.Engine
	logger *slog.Logger
}

func NewVideoHandler(videos *service.VideoService, users *service.UserService, engine *consistency.Engine, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{videos: videos, users: users, engine: engine, logger: logger}
}

// HandleList returns one page of the feed.
//
// HTTP: GET /api/v1/video/videos?limit=20&offset=0
func (h *VideoHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	posts, err := h.videos.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleGet returns one post with its comments.
//
// HTTP: GET /api/v1/video/{id}
func (h *VideoHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.videos.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// HandleLike adds a post to the caller's liked videos.
//
// HTTP: PUT /api/v1/video/like/{id}
func (h *VideoHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, h.engine.Like)
}

// HandleUnlike removes a post from the caller's liked videos.
//
// HTTP: PUT /api/v1/video/unlike/{id}
func (h *VideoHandler) HandleUnlike(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, h.engine.Unlike)
}

func (h *VideoHandler) membership(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, postID string) (*consistency.MembershipResult, error)) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := op(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type commentRequest struct {
	Text string `json:"text"`
}

// HandleAddComment comments on a post.
//
// HTTP: POST /api/v1/video/comment/{id}
// REQUEST BODY: {"text": "nice"}
func (h *VideoHandler) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.AddComment(r.Context(), user.ID, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleDeleteComment deletes one of the caller's own comments.
//
// HTTP: DELETE /api/v1/video/comment/{id}/{commentId}
func (h *VideoHandler) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.DeleteComment(r.Context(), user.ID, chi.URLParam(r, "id"), chi.URLParam(r, "commentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type newPostRequest struct {
	VideoURL      string `json:"videoUrl"`
	CoverImageURL string `json:"coverImageUrl"`
	Description   string `json:"description"`
}

// HandleCreate publishes a post from two previously uploaded assets.
//
// HTTP: POST /api/v1/video/new
// REQUEST BODY: {"videoUrl": "...", "coverImageUrl": "...", "description": "..."}
func (h *VideoHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	var req newPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	post, err := h.engine.CreatePost(r.Context(), user.ID, req.VideoURL, req.CoverImageURL, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// HandleDelete deletes one of the caller's posts and its assets.
//
// HTTP: DELETE /api/v1/video/customer/{id}
func (h *VideoHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.engine.DeletePost(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUploadVideo stores a video file and returns its reference.
//
// HTTP: POST /api/v1/video/upload (multipart field "video-content")
func (h *VideoHandler) HandleUploadVideo(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, model.AssetVideo, "video-content", MaxVideoBytes)
}

// HandleUploadCover stores a cover image and returns its reference.
//
// HTTP: POST /api/v1/video/coverImage (multipart field "cover-image")
func (h *VideoHandler) HandleUploadCover(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, model.AssetCover, "cover-image", MaxImageBytes)
}

func (h *VideoHandler) upload(w http.ResponseWriter, r *http.Request, kind model.AssetKind, field string, limit int64) {
	// Only users with a bound document may upload; the asset is theirs.
	user, err := currentUser(r, h.users)
	if err != nil {
		writeError(w, err)
		return
	}

	up, err := readUpload(w, r, field, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	asset, err := h.engine.UploadAsset(r.Context(), user.ID, kind, up.Filename, up.ContentType, up.Data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, asset)
}
