package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/storage"
)

// AssetHandler streams stored objects. It backs the references handed
// out by the disk and memory stores; S3 references point at the bucket
// and never reach this handler.
type AssetHandler struct {
	store  storage.Store
	logger *slog.Logger
}

func NewAssetHandler(store storage.Store, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{store: store, logger: logger}
}

// HandleGet streams one asset.
//
// HTTP: GET /api/v1/assets/{key}
func (h *AssetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !storage.ValidKey(key) {
		writeError(w, apperror.NotFound("asset", key))
		return
	}

	body, contentType, err := h.store.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			err = apperror.Upstream("asset store", "get "+key, err)
		}
		writeError(w, err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	// Keys embed a fresh uuid on every upload, so content never changes.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		// Headers are sent; the client just sees a truncated body.
		h.logger.Warn("asset stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
