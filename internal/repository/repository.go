// Package repository declares the document store contracts. The consistency
// engine and the services depend on these interfaces only; the sqlite
// package provides the implementation.
package repository

import (
	"context"

	"github.com/sakif/clipstream/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository stores user documents. User name, email and subject are
// unique; a clash is reported as apperror.ErrAlreadyExists.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserBySubject(ctx context.Context, subject string) (*model.User, error)
	GetUserByUserName(ctx context.Context, userName string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, profile model.Profile) (*model.User, error)
	SetProfilePhoto(ctx context.Context, id, ref string) error
	DeleteUser(ctx context.Context, id string) error
}

// VideoPostRepository stores video posts and their counters.
//
// IncrementCounter and DecrementCounter are delta updates executed by the
// store; they return the counter value after the update. DecrementCounter
// never takes a counter below zero and reports apperror.ErrInvariantViolation
// instead.
type VideoPostRepository interface {
	CreatePost(ctx context.Context, post *model.VideoPost) error
	GetPost(ctx context.Context, id string) (*model.VideoPost, error)
	ListPosts(ctx context.Context, opts ListOptions) ([]model.VideoPost, error)
	ListPostsByOwner(ctx context.Context, ownerID string) ([]model.VideoPost, error)
	DeletePost(ctx context.Context, id string) error
	IncrementCounter(ctx context.Context, postID string, counter model.Counter) (int64, error)
	DecrementCounter(ctx context.Context, postID string, counter model.Counter) (int64, error)
}

// MembershipRepository stores the likedVideos and collections lists.
// Post ids are weak references; ListMemberPosts skips entries whose post
// no longer exists and PruneMemberships deletes them.
type MembershipRepository interface {
	AddMembership(ctx context.Context, m *model.Membership) error
	RemoveMembership(ctx context.Context, userID, postID string, list model.List) error
	IsMember(ctx context.Context, userID, postID string, list model.List) (bool, error)
	ListMemberships(ctx context.Context, userID string) ([]model.Membership, error)
	ListMemberPosts(ctx context.Context, userID string, list model.List) ([]model.VideoPost, error)
	PruneMemberships(ctx context.Context, userID string) (int64, error)
}

type CommentRepository interface {
	CreateComment(ctx context.Context, c *model.Comment) error
	GetComment(ctx context.Context, postID, commentID string) (*model.Comment, error)
	ListComments(ctx context.Context, postID string) ([]model.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
}

// AssetRepository records uploaded objects. BindAsset succeeds only for
// the uploader, the matching kind and an asset no document references yet.
type AssetRepository interface {
	CreateAsset(ctx context.Context, a *model.Asset) error
	GetAsset(ctx context.Context, key string) (*model.Asset, error)
	BindAsset(ctx context.Context, key, ownerID string, kind model.AssetKind) error
	UnbindAsset(ctx context.Context, key string) error
	DeleteAsset(ctx context.Context, key string) error
}

// CredentialRepository backs the local identity directory.
type CredentialRepository interface {
	CreateCredential(ctx context.Context, c *model.Credential) error
	GetCredential(ctx context.Context, username string) (*model.Credential, error)
	UpdatePasswordHash(ctx context.Context, username, hash string) error
	DeleteCredential(ctx context.Context, username string) error
}

// CheckpointRepository persists saga progress between invocations.
type CheckpointRepository interface {
	LoadCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, id string) error
}
