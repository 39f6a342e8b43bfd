package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/saga"
	"github.com/sakif/clipstream/internal/storage"
)

// MaxDescriptionLength is in runes.
const MaxDescriptionLength = 2200

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// UploadAsset stores data as a new object owned by ownerID and returns
// its reference. Nothing points at the object yet; the caller binds it to
// a document, and only ownerID can.
//
// The key is "<kind>-<uuid><ext>", a flat name, so the key of any stored
// reference is its base name.
func (e *Engine) UploadAsset(ctx context.Context, ownerID string, kind model.AssetKind, filename, contentType string, data []byte) (*model.Asset, error) {
	if ownerID == "" {
		return nil, apperror.ValidationFailed("owner", "uploader is required")
	}
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("file", "file is empty")
	}

	contentType = sniffContentType(contentType, data)
	if err := checkAssetType(kind, contentType); err != nil {
		return nil, err
	}

	key := string(kind) + "-" + uuid.NewString() + assetExt(filename, contentType)

	ref, err := callValue(ctx, e, func(ctx context.Context) (string, error) {
		return e.assets.Put(ctx, key, data, contentType)
	})
	if err != nil {
		return nil, assetErr("put "+key, err)
	}

	asset := &model.Asset{
		Kind:        kind,
		Key:         key,
		Ref:         ref,
		ContentType: contentType,
		Size:        int64(len(data)),
		OwnerID:     ownerID,
	}
	err = e.call(ctx, func(ctx context.Context) error {
		return e.records.CreateAsset(ctx, asset)
	})
	if err != nil {
		// Without a record the object could never be bound; take it back.
		if derr := e.call(ctx, func(ctx context.Context) error { return e.assets.Delete(ctx, key) }); derr != nil {
			e.logger.Warn("failed to remove unrecorded asset",
				slog.String("key", key),
				slog.String("error", derr.Error()),
			)
		}
		return nil, docErr("record asset "+key, err)
	}

	e.logger.Info("asset uploaded",
		slog.String("kind", string(kind)),
		slog.String("key", key),
		slog.String("owner_id", ownerID),
		slog.Int("size", len(data)),
	)
	return asset, nil
}

// PhotoResult is a completed profile photo replace. CleanupErr is set when
// the previous photo could not be deleted; the replace itself succeeded.
type PhotoResult struct {
	User       *model.User
	CleanupErr error
}

// ReplaceProfilePhoto uploads a new photo, points the user at it and only
// then deletes the old one, so the document never references a deleted
// object. The swap on the user document runs under the account lock and
// each replace deletes exactly the photo it swapped out, so concurrent
// replaces never leak or double-delete a photo.
func (e *Engine) ReplaceProfilePhoto(ctx context.Context, userID, filename, contentType string, data []byte) (*PhotoResult, error) {
	if _, err := e.openAccount(ctx, userID); err != nil {
		return nil, err
	}

	asset, err := e.UploadAsset(ctx, userID, model.AssetProfilePhoto, filename, contentType, data)
	if err != nil {
		return nil, err
	}

	var (
		user *model.User
		old  string
	)
	err = e.withAccount(ctx, userID, func(u *model.User) error {
		err := e.call(ctx, func(ctx context.Context) error {
			return e.records.BindAsset(ctx, asset.Key, userID, model.AssetProfilePhoto)
		})
		if err != nil {
			return docErr("bind profile photo", err)
		}

		err = e.call(ctx, func(ctx context.Context) error {
			return e.users.SetProfilePhoto(ctx, userID, asset.Ref)
		})
		if err != nil {
			return docErr("set profile photo", err)
		}
		old, user = u.ProfilePhoto, u
		user.ProfilePhoto = asset.Ref
		return nil
	})
	if err != nil {
		if rerr := e.releaseAsset(ctx, asset.Ref); rerr != nil {
			e.logger.Warn("failed to remove unused profile photo",
				slog.String("ref", asset.Ref),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, err
	}

	res := &PhotoResult{User: user}
	if old != "" && old != asset.Ref {
		if err := e.releaseAsset(ctx, old); err != nil {
			e.logger.Warn("failed to delete previous profile photo",
				slog.String("user_id", userID),
				slog.String("ref", old),
				slog.String("error", err.Error()),
			)
			res.CleanupErr = err
		}
	}
	return res, nil
}

// CreatePost publishes a video. Both references must be unbound assets of
// this store that ownerID uploaded with UploadAsset, of the matching kind.
// Binding claims them, so no two documents ever share an object.
func (e *Engine) CreatePost(ctx context.Context, ownerID, videoRef, coverRef, description string) (*model.VideoPost, error) {
	if err := e.checkRef("video", videoRef); err != nil {
		return nil, err
	}
	if err := e.checkRef("cover image", coverRef); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, apperror.ValidationFailed("description", "description is too long")
	}

	var post *model.VideoPost
	err := e.withAccount(ctx, ownerID, func(*model.User) error {
		videoKey, coverKey := storage.KeyFromRef(videoRef), storage.KeyFromRef(coverRef)

		if err := e.bindAsset(ctx, "video", videoKey, ownerID, model.AssetVideo); err != nil {
			return err
		}
		if err := e.bindAsset(ctx, "cover image", coverKey, ownerID, model.AssetCover); err != nil {
			e.unbindAsset(ctx, videoKey)
			return err
		}

		p := &model.VideoPost{
			OwnerID:     ownerID,
			VideoRef:    videoRef,
			CoverRef:    coverRef,
			Description: strings.TrimSpace(description),
		}
		err := e.call(ctx, func(ctx context.Context) error {
			return e.posts.CreatePost(ctx, p)
		})
		if err != nil {
			e.unbindAsset(ctx, videoKey)
			e.unbindAsset(ctx, coverKey)
			return docErr("create video", err)
		}
		post = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("video published", slog.String("post_id", post.ID), slog.String("owner_id", ownerID))
	return post, nil
}

// bindAsset claims key for a document of ownerID. An asset that was never
// uploaded here is reported the same way as a foreign reference.
func (e *Engine) bindAsset(ctx context.Context, what, key, ownerID string, kind model.AssetKind) error {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.records.BindAsset(ctx, key, ownerID, kind)
	})
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.InvariantViolation(fmt.Sprintf("%s %q is not an uploaded asset", what, key))
	}
	return docErr("bind "+what, err)
}

func (e *Engine) unbindAsset(ctx context.Context, key string) {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.records.UnbindAsset(ctx, key)
	})
	if err != nil {
		e.logger.Warn("failed to unbind asset", slog.String("key", key), slog.String("error", err.Error()))
	}
}

type postState struct {
	PostID   string `json:"postId"`
	VideoRef string `json:"videoRef"`
	CoverRef string `json:"coverRef"`
}

// DeletePost removes one of requesterID's posts: video asset, cover asset,
// then the document (comments go with it). Other users' list entries for
// the post are dropped lazily when those lists are next read.
func (e *Engine) DeletePost(ctx context.Context, requesterID, postID string) error {
	post, err := callValue(ctx, e, func(ctx context.Context) (*model.VideoPost, error) {
		return e.posts.GetPost(ctx, postID)
	})
	if err != nil {
		return docErr("get video", err)
	}
	if post.OwnerID != requesterID {
		return apperror.Unauthorized("only the owner can delete this video")
	}

	st := &postState{PostID: post.ID, VideoRef: post.VideoRef, CoverRef: post.CoverRef}
	_, err = e.sagas.Run(ctx, saga.Saga{
		ID:        "delete-post:" + postID,
		Operation: "delete video",
		State:     st,
		Steps: []saga.Step{
			{Name: "release-video", Policy: saga.Required, Run: func(ctx context.Context) error {
				return e.releaseAsset(ctx, st.VideoRef)
			}},
			{Name: "release-cover", Policy: saga.Required, Run: func(ctx context.Context) error {
				return e.releaseAsset(ctx, st.CoverRef)
			}},
			{Name: "delete-post", Policy: saga.Required, Run: func(ctx context.Context) error {
				return e.deletePostDoc(ctx, st.PostID)
			}},
		},
	})
	return err
}

// checkRef enforces that a document only ever points at objects we own.
func (e *Engine) checkRef(what, ref string) error {
	if ref == "" {
		return apperror.InvariantViolation(what + " reference is required")
	}
	if !e.assets.Owns(ref) {
		return apperror.InvariantViolation(fmt.Sprintf("%s reference %q is not an uploaded asset", what, ref))
	}
	return nil
}

func sniffContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return sniffed
}

func checkAssetType(kind model.AssetKind, contentType string) error {
	var want string
	switch kind {
	case model.AssetVideo:
		want = "video/"
	case model.AssetCover, model.AssetProfilePhoto:
		want = "image/"
	default:
		return apperror.ValidationFailed("kind", fmt.Sprintf("unknown asset kind %q", kind))
	}
	if !strings.HasPrefix(contentType, want) {
		return apperror.ValidationFailed("file", fmt.Sprintf("%s upload must be %s*, got %s", kind, want, contentType))
	}
	return nil
}

// assetExt keeps a short, plain extension from the client's file name and
// falls back to one derived from the content type.
func assetExt(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if extPattern.MatchString(ext) {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
