package consistency

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
	"github.com/sakif/clipstream/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUploadAsset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "uploader")

	a, err := h.engine.UploadAsset(ctx, u.ID, model.AssetVideo, "My Clip.MP4", "video/mp4", []byte("data"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^video-[0-9a-f-]{36}\.mp4$`), a.Key)
	assert.Equal(t, testPrefix+"/"+a.Key, a.Ref)
	assert.Equal(t, a.Key, storage.KeyFromRef(a.Ref))
	assert.Equal(t, u.ID, a.OwnerID)
	assert.True(t, h.store.Has(a.Key))

	rec, err := h.db.GetAsset(ctx, a.Key)
	require.NoError(t, err)
	assert.Equal(t, u.ID, rec.OwnerID)
	assert.Equal(t, model.AssetVideo, rec.Kind)
	assert.False(t, rec.Bound)

	// No declared type: sniffed from the bytes, extension from the type.
	a, err = h.engine.UploadAsset(ctx, u.ID, model.AssetCover, "cover", "", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.ContentType)
	assert.Regexp(t, `\.png$`, a.Key)
}

func TestUploadAsset_Rejects(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name        string
		kind        model.AssetKind
		contentType string
		data        []byte
	}{
		{"empty", model.AssetVideo, "video/mp4", nil},
		{"image as video", model.AssetVideo, "image/png", []byte("x")},
		{"video as cover", model.AssetCover, "video/mp4", []byte("x")},
		{"unknown kind", model.AssetKind("doc"), "text/plain", []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.UploadAsset(context.Background(), "uploader", tt.kind, "f", tt.contentType, tt.data)
			assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)
		})
	}
	assert.Equal(t, 0, h.store.Len())

	_, err := h.engine.UploadAsset(context.Background(), "", model.AssetVideo, "f", "video/mp4", []byte("x"))
	assert.True(t, errors.Is(err, apperror.ErrValidation), "an upload needs an uploader")
}

func TestUploadAsset_StoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.putErr = errors.New("connection reset")

	_, err := h.engine.UploadAsset(context.Background(), "uploader", model.AssetVideo, "a.mp4", "video/mp4", []byte("x"))
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
}

// failingRecords fails every asset record write.
type failingRecords struct {
	repository.AssetRepository
}

func (failingRecords) CreateAsset(context.Context, *model.Asset) error {
	return errors.New("disk I/O error")
}

func TestUploadAsset_RecordFailureRemovesObject(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AssetRecords = failingRecords{AssetRepository: c.AssetRecords}
	})

	_, err := h.engine.UploadAsset(context.Background(), "uploader", model.AssetVideo, "a.mp4", "video/mp4", []byte("x"))
	assert.True(t, errors.Is(err, apperror.ErrUpstream), "got %v", err)
	assert.Equal(t, 0, h.store.Len(), "an unrecorded object is taken back")
}

func TestReplaceProfilePhoto(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "photo")

	first, err := h.engine.ReplaceProfilePhoto(ctx, u.ID, "me.png", "image/png", pngHeader)
	require.NoError(t, err)
	assert.NoError(t, first.CleanupErr)
	assert.Empty(t, h.log.filter("delete "), "no previous photo to delete")
	oldRef := first.User.ProfilePhoto

	// When the old object is deleted, the user must already point at the new one.
	var refAtDelete string
	h.store.onDelete = func(string) {
		got, _ := h.db.GetUserByID(ctx, u.ID)
		refAtDelete = got.ProfilePhoto
	}

	second, err := h.engine.ReplaceProfilePhoto(ctx, u.ID, "me2.png", "image/png", pngHeader)
	require.NoError(t, err)
	assert.NoError(t, second.CleanupErr)
	assert.NotEqual(t, oldRef, second.User.ProfilePhoto)
	assert.Equal(t, second.User.ProfilePhoto, refAtDelete)
	assert.False(t, h.store.Has(storage.KeyFromRef(oldRef)))
	assert.True(t, h.store.Has(storage.KeyFromRef(second.User.ProfilePhoto)))
}

func TestReplaceProfilePhoto_OldDeleteFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "photo")

	first, err := h.engine.ReplaceProfilePhoto(ctx, u.ID, "me.png", "image/png", pngHeader)
	require.NoError(t, err)

	h.store.failDelete("profile-", errors.New("access denied"))

	res, err := h.engine.ReplaceProfilePhoto(ctx, u.ID, "me2.png", "image/png", pngHeader)
	require.NoError(t, err, "the replace itself succeeded")
	require.Error(t, res.CleanupErr)
	assert.True(t, errors.Is(res.CleanupErr, apperror.ErrUpstream))

	got, _ := h.db.GetUserByID(ctx, u.ID)
	assert.Equal(t, res.User.ProfilePhoto, got.ProfilePhoto)
	assert.True(t, h.store.Has(storage.KeyFromRef(first.User.ProfilePhoto)), "old object is orphaned, not dangling")
}

func TestReplaceProfilePhoto_PutFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t, "photo")
	h.store.putErr = errors.New("timeout")

	_, err := h.engine.ReplaceProfilePhoto(ctx, u.ID, "me.png", "image/png", pngHeader)
	assert.True(t, errors.Is(err, apperror.ErrUpstream))

	got, _ := h.db.GetUserByID(ctx, u.ID)
	assert.Empty(t, got.ProfilePhoto)
}

func TestReplaceProfilePhoto_UnknownUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.ReplaceProfilePhoto(context.Background(), "missing", "me.png", "image/png", pngHeader)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	assert.Equal(t, 0, h.store.Len(), "nothing uploaded for an unknown user")
}

func TestCreatePost_References(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner")

	video, _ := h.engine.UploadAsset(ctx, owner.ID, model.AssetVideo, "a.mp4", "video/mp4", []byte("x"))
	cover, _ := h.engine.UploadAsset(ctx, owner.ID, model.AssetCover, "a.png", "image/png", []byte("x"))

	tests := []struct {
		name     string
		ownerID  string
		videoRef string
		coverRef string
		want     error
	}{
		{"missing video", owner.ID, "", cover.Ref, apperror.ErrInvariantViolation},
		{"missing cover", owner.ID, video.Ref, "", apperror.ErrInvariantViolation},
		{"foreign video", owner.ID, "https://elsewhere.example/a.mp4", cover.Ref, apperror.ErrInvariantViolation},
		{"never uploaded", owner.ID, testPrefix + "/video-made-up.mp4", cover.Ref, apperror.ErrInvariantViolation},
		{"kinds swapped", owner.ID, cover.Ref, video.Ref, apperror.ErrInvariantViolation},
		{"unknown owner", "ghost", video.Ref, cover.Ref, apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.CreatePost(ctx, tt.ownerID, tt.videoRef, tt.coverRef, "")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	// None of the failures above left an asset claimed.
	p, err := h.engine.CreatePost(ctx, owner.ID, video.Ref, cover.Ref, " hello ")
	require.NoError(t, err)
	assert.Equal(t, "hello", p.Description)

	_, err = h.engine.CreatePost(ctx, owner.ID, video.Ref, cover.Ref, "again")
	assert.True(t, errors.Is(err, apperror.ErrInvariantViolation), "an asset backs one document only")
}

func TestCreatePost_OtherUsersAssets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user(t, "alice")
	mallory := h.user(t, "mallory")

	video, err := h.engine.UploadAsset(ctx, alice.ID, model.AssetVideo, "a.mp4", "video/mp4", []byte("x"))
	require.NoError(t, err)
	cover, err := h.engine.UploadAsset(ctx, alice.ID, model.AssetCover, "a.png", "image/png", []byte("x"))
	require.NoError(t, err)
	photo, err := h.engine.UploadAsset(ctx, alice.ID, model.AssetProfilePhoto, "me.png", "image/png", []byte("x"))
	require.NoError(t, err)

	_, err = h.engine.CreatePost(ctx, mallory.ID, video.Ref, cover.Ref, "stolen")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "got %v", err)

	// Still unbound: mallory's attempt claimed nothing.
	for _, key := range []string{video.Key, cover.Key} {
		rec, err := h.db.GetAsset(ctx, key)
		require.NoError(t, err)
		assert.False(t, rec.Bound, key)
	}

	_, err = h.engine.CreatePost(ctx, alice.ID, video.Ref, photo.Ref, "photo as cover")
	assert.True(t, errors.Is(err, apperror.ErrInvariantViolation), "got %v", err)

	p, err := h.engine.CreatePost(ctx, alice.ID, video.Ref, cover.Ref, "mine")
	require.NoError(t, err)

	// Mallory publishes alice's bound refs and deletes the post: alice's
	// objects must survive.
	_, err = h.engine.CreatePost(ctx, mallory.ID, video.Ref, cover.Ref, "stolen")
	require.Error(t, err)
	posts, err := h.db.ListPostsByOwner(ctx, mallory.ID)
	require.NoError(t, err)
	assert.Empty(t, posts)

	_, err = h.engine.DeleteAccount(ctx, mallory.ID, mallory.Email)
	require.NoError(t, err)
	assert.True(t, h.store.Has(storage.KeyFromRef(p.VideoRef)))
	assert.True(t, h.store.Has(storage.KeyFromRef(p.CoverRef)))
}

func TestCreatePost_DocumentFailureUnbinds(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Posts = &failingCreate{VideoPostRepository: c.Posts}
	})
	ctx := context.Background()
	owner := h.user(t, "owner")

	video, err := h.engine.UploadAsset(ctx, owner.ID, model.AssetVideo, "a.mp4", "video/mp4", []byte("x"))
	require.NoError(t, err)
	cover, err := h.engine.UploadAsset(ctx, owner.ID, model.AssetCover, "a.png", "image/png", []byte("x"))
	require.NoError(t, err)

	_, err = h.engine.CreatePost(ctx, owner.ID, video.Ref, cover.Ref, "")
	assert.True(t, errors.Is(err, apperror.ErrUpstream), "got %v", err)

	for _, key := range []string{video.Key, cover.Key} {
		rec, err := h.db.GetAsset(ctx, key)
		require.NoError(t, err)
		assert.False(t, rec.Bound, key)
	}
}

// failingCreate fails every post insert.
type failingCreate struct {
	repository.VideoPostRepository
}

func (*failingCreate) CreatePost(context.Context, *model.VideoPost) error {
	return errors.New("database is locked")
}

func TestDeletePost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner")
	other := h.user(t, "other")
	v := h.post(t, owner)
	c, err := h.engine.AddComment(ctx, other.ID, v.ID, "first")
	require.NoError(t, err)

	err = h.engine.DeletePost(ctx, other.ID, v.ID)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
	assert.Empty(t, h.log.filter("delete "))

	require.NoError(t, h.engine.DeletePost(ctx, owner.ID, v.ID))
	assert.Equal(t, []string{
		"delete " + storage.KeyFromRef(v.VideoRef),
		"delete " + storage.KeyFromRef(v.CoverRef),
	}, h.log.filter("delete "))

	_, err = h.db.GetPost(ctx, v.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	_, err = h.db.GetComment(ctx, v.ID, c.Comment.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = h.engine.DeletePost(ctx, owner.ID, v.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestDeletePost_CoverFailureThenRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner")
	v := h.post(t, owner)

	h.store.failDelete("cover-", errors.New("slow down"))
	err := h.engine.DeletePost(ctx, owner.ID, v.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrPartialFailure))
	assert.Equal(t, []string{"release-video"}, apperror.Steps(err))

	h.store.failDelete("cover-", nil)
	require.NoError(t, h.engine.DeletePost(ctx, owner.ID, v.ID))

	// The retry skipped the video step.
	assert.Equal(t, []string{
		"delete " + storage.KeyFromRef(v.VideoRef),
		"delete " + storage.KeyFromRef(v.CoverRef),
		"delete " + storage.KeyFromRef(v.CoverRef),
	}, h.log.filter("delete "))
}
