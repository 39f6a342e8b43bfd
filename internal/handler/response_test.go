package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_Mapping(t *testing.T) {
	upstream := apperror.Upstream("asset store", "delete", context.DeadlineExceeded)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		wantSteps  []string
	}{
		{"not found", apperror.NotFound("video", "v1"), http.StatusNotFound, "not_found", nil},
		{"not member", apperror.NotMember("likedVideos", "v1"), http.StatusNotFound, "not_found", nil},
		{"already member", apperror.AlreadyMember("likedVideos", "v1"), http.StatusConflict, "already_exists", nil},
		{"invariant", apperror.InvariantViolation("counter is zero"), http.StatusConflict, "invariant_violation", nil},
		{"upstream", upstream, http.StatusBadGateway, "upstream_failure", nil},
		{"unauthorized", apperror.Unauthorized("not yours"), http.StatusForbidden, "unauthorized", nil},
		{"unauthenticated", apperror.Unauthenticated("no token"), http.StatusUnauthorized, "unauthenticated", nil},
		{"validation", apperror.ValidationFailed("text", "too long"), http.StatusBadRequest, "validation_error", nil},
		{
			name:       "partial failure wins over its upstream cause",
			err:        apperror.PartialFailure("delete account", []string{"release-post-assets", "delete-posts"}, upstream),
			wantStatus: http.StatusInternalServerError,
			wantKind:   "partial_failure",
			wantSteps:  []string{"release-post-assets", "delete-posts"},
		},
		{"wrapped", fmt.Errorf("service: liking: %w", apperror.NotFound("video", "v1")), http.StatusNotFound, "not_found", nil},
		{"raw error", errors.New("sqlite: disk I/O error at /var/lib/db"), http.StatusInternalServerError, "internal_error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantKind, body.Error)
			assert.Equal(t, tt.wantSteps, body.CompletedSteps)
			assert.NotContains(t, body.Message, "/var/lib/db")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Text string `json:"text"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"text":"hi"}`, false},
		{"empty body", ``, true},
		{"malformed", `{"text":`, true},
		{"unknown field", `{"txt":"hi"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := decodeJSON(httptest.NewRecorder(), r, &p)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperror.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "hi", p.Text)
		})
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=5&offset=abc", nil)

	n, err := queryInt(r, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = queryInt(r, "page", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	_, err = queryInt(r, "offset", 0)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
