package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

// Feed pagination limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// VideoService serves the read side of video posts.
type VideoService struct {
	posts    repository.VideoPostRepository
	comments repository.CommentRepository
	logger   *slog.Logger
}

func NewVideoService(posts repository.VideoPostRepository, comments repository.CommentRepository, logger *slog.Logger) *VideoService {
	return &VideoService{posts: posts, comments: comments, logger: logger}
}

// List returns one page of the feed, newest first. limit is clamped to
// 1..MaxListLimit and a negative offset is treated as 0.
func (s *VideoService) List(ctx context.Context, limit, offset int) ([]model.VideoPost, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	posts, err := s.posts.ListPosts(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list videos", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service: listing videos: %w", err)
	}
	return posts, nil
}

// Get returns a post with its comments expanded.
func (s *VideoService) Get(ctx context.Context, id string) (*model.VideoPost, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "video ID is required")
	}

	post, err := s.posts.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}

	comments, err := s.comments.ListComments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: loading comments of %s: %w", id, err)
	}
	post.Comments = comments
	return post, nil
}

func (s *VideoService) ListByOwner(ctx context.Context, ownerID string) ([]model.VideoPost, error) {
	posts, err := s.posts.ListPostsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("service: listing videos of %s: %w", ownerID, err)
	}
	return posts, nil
}
