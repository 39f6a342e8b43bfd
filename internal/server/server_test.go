package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/clipstream/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		Port:               8080,
		DBPath:             ":memory:",
		JWTSecret:          "server-test-secret-0123456789",
		TokenTTL:           time.Hour,
		CallTimeout:        5 * time.Second,
		AssetDir:           t.TempDir(),
		AssetURLPrefix:     "http://localhost:8080/api/v1/assets",
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(s.close)
	return s
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func uploadFile(t *testing.T, h http.Handler, path, token, field, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="file"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t).Handler()

	rr := call(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newTestServer(t).Handler()

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/user/profile/me"},
		{http.MethodPut, "/api/v1/video/like/abc"},
		{http.MethodPost, "/api/v1/video/new"},
		{http.MethodDelete, "/api/v1/user"},
	} {
		rr := call(t, h, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", route.method, route.path)
	}
}

// TestEndToEnd goes through the real wiring: local directory, sqlite,
// disk asset store and the consistency engine.
func TestEndToEnd(t *testing.T) {
	h := newTestServer(t).Handler()
	creds := map[string]string{"email": "dana@example.com", "password": "password1"}

	rr := call(t, h, http.MethodPost, "/api/v1/user/signup", "", creds)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = call(t, h, http.MethodPost, "/api/v1/user/signin", "", creds)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	token := decodeBody[map[string]string](t, rr)["token"]
	require.NotEmpty(t, token)

	rr = call(t, h, http.MethodPost, "/api/v1/user/new", token, map[string]string{"email": "dana@example.com"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = uploadFile(t, h, "/api/v1/video/upload", token, "video-content", "video/mp4", []byte("fake mp4 bytes"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	video := decodeBody[map[string]any](t, rr)
	videoURL := video["url"].(string)

	rr = uploadFile(t, h, "/api/v1/video/coverImage", token, "cover-image", "image/png", []byte("fake png bytes"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	coverURL := decodeBody[map[string]any](t, rr)["url"].(string)

	// The reference is served by the asset route.
	assert.Equal(t, "http://localhost:8080/api/v1/assets/"+video["key"].(string), videoURL)
	rr = call(t, h, http.MethodGet, "/api/v1/assets/"+video["key"].(string), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "fake mp4 bytes", rr.Body.String())

	rr = call(t, h, http.MethodPost, "/api/v1/video/new", token, map[string]string{
		"videoUrl": videoURL, "coverImageUrl": coverURL, "description": "first",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	postID := decodeBody[map[string]any](t, rr)["id"].(string)

	rr = call(t, h, http.MethodPut, "/api/v1/video/like/"+postID, token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 1, decodeBody[map[string]any](t, rr)["count"])

	rr = call(t, h, http.MethodPut, "/api/v1/video/like/"+postID, token, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = call(t, h, http.MethodDelete, "/api/v1/user", token, map[string]string{"username": "dana@example.com"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(t, h, http.MethodGet, "/api/v1/video/"+postID, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(t, h, http.MethodPost, "/api/v1/user/signin", "", creds)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
