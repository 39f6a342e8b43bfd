package consistency

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndDeleteComment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner")
	author := h.user(t, "author")
	v := h.post(t, owner)

	res, err := h.engine.AddComment(ctx, author.ID, v.ID, "  nice clip  ")
	require.NoError(t, err)
	assert.Equal(t, "nice clip", res.Comment.Text)
	assert.Equal(t, int64(1), res.Count)

	// Someone else, even the video's owner, cannot delete it.
	_, err = h.engine.DeleteComment(ctx, owner.ID, v.ID, res.Comment.ID)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "got %v", err)
	assert.Equal(t, int64(1), h.getPost(t, v.ID).CountComments)

	del, err := h.engine.DeleteComment(ctx, author.ID, v.ID, res.Comment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), del.Count)
	assert.Equal(t, int64(0), h.getPost(t, v.ID).CountComments)

	_, err = h.engine.DeleteComment(ctx, author.ID, v.ID, res.Comment.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	assert.Equal(t, int64(0), h.getPost(t, v.ID).CountComments)
}

func TestAddComment_Errors(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner")
	v := h.post(t, owner)

	tests := []struct {
		name   string
		postID string
		text   string
		want   error
	}{
		{"empty text", v.ID, "   ", apperror.ErrValidation},
		{"too long", v.ID, strings.Repeat("x", MaxCommentLength+1), apperror.ErrValidation},
		{"missing video", "missing", "hi", apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.AddComment(context.Background(), owner.ID, tt.postID, tt.text)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, int64(0), h.getPost(t, v.ID).CountComments)
}

func TestDeleteComment_WrongPost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner")
	v1 := h.post(t, owner)
	v2 := h.post(t, owner)

	res, err := h.engine.AddComment(ctx, owner.ID, v1.ID, "on v1")
	require.NoError(t, err)

	_, err = h.engine.DeleteComment(ctx, owner.ID, v2.ID, res.Comment.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	assert.Equal(t, int64(1), h.getPost(t, v1.ID).CountComments)
}
