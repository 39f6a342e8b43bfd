package consistency

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
)

// MaxCommentLength is in runes.
const MaxCommentLength = 1000

// CommentResult carries the comment and the post's comment count after
// the operation.
type CommentResult struct {
	Comment *model.Comment `json:"comment"`
	Count   int64          `json:"countComments"`
}

// AddComment stores a comment and increments the post's comment counter.
func (e *Engine) AddComment(ctx context.Context, authorID, postID, text string) (*CommentResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperror.ValidationFailed("text", "comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return nil, apperror.ValidationFailed("text", "comment is too long")
	}

	_, err := callValue(ctx, e, func(ctx context.Context) (*model.VideoPost, error) {
		return e.posts.GetPost(ctx, postID)
	})
	if err != nil {
		return nil, docErr("get video", err)
	}

	c := &model.Comment{PostID: postID, AuthorID: authorID, Text: text}
	err = e.call(ctx, func(ctx context.Context) error {
		return e.comments.CreateComment(ctx, c)
	})
	if err != nil {
		return nil, docErr("create comment", err)
	}

	count, err := callValue(ctx, e, func(ctx context.Context) (int64, error) {
		return e.posts.IncrementCounter(ctx, postID, model.CounterComments)
	})
	if err != nil {
		e.logger.Error("comment stored but counter not incremented",
			slog.String("post_id", postID),
			slog.String("comment_id", c.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.PartialFailure("add comment", []string{"add-comment"}, docErr("increment counter", err))
	}

	return &CommentResult{Comment: c, Count: count}, nil
}

// DeleteComment removes a comment written by requesterID. Anyone else gets
// Unauthorized and the counter is not touched.
func (e *Engine) DeleteComment(ctx context.Context, requesterID, postID, commentID string) (*CommentResult, error) {
	var res *CommentResult
	err := e.withLock(ctx, "comment:"+commentID, func() error {
		c, err := callValue(ctx, e, func(ctx context.Context) (*model.Comment, error) {
			return e.comments.GetComment(ctx, postID, commentID)
		})
		if err != nil {
			return docErr("get comment", err)
		}
		if c.AuthorID != requesterID {
			return apperror.Unauthorized("only the author can delete this comment")
		}

		count, err := callValue(ctx, e, func(ctx context.Context) (int64, error) {
			return e.posts.DecrementCounter(ctx, postID, model.CounterComments)
		})
		if err != nil {
			return docErr("decrement counter", err)
		}

		err = e.call(ctx, func(ctx context.Context) error {
			return e.comments.DeleteComment(ctx, commentID)
		})
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			e.logger.Error("counter decremented but comment not deleted",
				slog.String("post_id", postID),
				slog.String("comment_id", commentID),
				slog.String("error", err.Error()),
			)
			return apperror.PartialFailure("delete comment", []string{"decrement-counter"}, docErr("delete comment", err))
		}

		res = &CommentResult{Comment: c, Count: count}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
