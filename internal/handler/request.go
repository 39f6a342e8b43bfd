package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/auth"
	"github.com/sakif/clipstream/internal/model"
)

// Upload size limits per multipart field.
const (
	MaxVideoBytes = 200 << 20
	MaxImageBytes = 10 << 20
)

// UserLookup resolves the authenticated subject to its user document.
// *service.UserService implements it.
type UserLookup interface {
	GetBySubject(ctx context.Context, subject string) (*model.User, error)
}

// upload is one file read from a multipart form.
type upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// readUpload reads the multipart file field from r, rejecting anything
// larger than limit bytes.
func readUpload(w http.ResponseWriter, r *http.Request, field string, limit int64) (*upload, error) {
	// A little headroom for the multipart framing around the file.
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)

	file, header, err := r.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperror.ValidationFailed(field, "file is too large")
		}
		return nil, apperror.ValidationFailed(field, "multipart field "+field+" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, apperror.ValidationFailed(field, "reading upload: "+err.Error())
	}
	if int64(len(data)) > limit {
		return nil, apperror.ValidationFailed(field, "file is too large")
	}

	return &upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// subject returns the identity set by auth.RequireAuth.
func subject(r *http.Request) (string, error) {
	sub, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthenticated("authentication required")
	}
	return sub, nil
}

// currentUser resolves the caller's user document. A valid identity with
// no user yet (POST /user/new not called) is reported as NotFound.
func currentUser(r *http.Request, users UserLookup) (*model.User, error) {
	sub, err := subject(r)
	if err != nil {
		return nil, err
	}
	return users.GetBySubject(r.Context(), sub)
}
