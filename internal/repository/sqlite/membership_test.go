package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
)

func TestAddMembership(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "fan")
	post := createTestPost(t, db, user.ID)
	ctx := context.Background()

	m := &model.Membership{UserID: user.ID, PostID: post.ID, List: model.ListLiked}
	if err := db.AddMembership(ctx, m); err != nil {
		t.Fatalf("AddMembership() error = %v", err)
	}

	ok, err := db.IsMember(ctx, user.ID, post.ID, model.ListLiked)
	if err != nil || !ok {
		t.Errorf("IsMember() = (%v, %v), want (true, nil)", ok, err)
	}

	// Same post in the other list is a different membership.
	ok, _ = db.IsMember(ctx, user.ID, post.ID, model.ListCollections)
	if ok {
		t.Error("IsMember(collections) = true, want false")
	}

	err = db.AddMembership(ctx, &model.Membership{UserID: user.ID, PostID: post.ID, List: model.ListLiked})
	if !errors.Is(err, apperror.ErrAlreadyExists) {
		t.Errorf("AddMembership() twice error = %v, want ErrAlreadyExists", err)
	}
}

func TestRemoveMembership(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "fan")
	post := createTestPost(t, db, user.ID)
	ctx := context.Background()

	err := db.RemoveMembership(ctx, user.ID, post.ID, model.ListCollections)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("RemoveMembership() on empty list error = %v, want ErrNotFound", err)
	}

	db.AddMembership(ctx, &model.Membership{UserID: user.ID, PostID: post.ID, List: model.ListCollections})
	if err := db.RemoveMembership(ctx, user.ID, post.ID, model.ListCollections); err != nil {
		t.Fatalf("RemoveMembership() error = %v", err)
	}
}

func TestListMemberPosts_DropsDeletedPosts(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, "owner")
	fan := createTestUser(t, db, "fan")
	kept := createTestPost(t, db, owner.ID)
	gone := createTestPost(t, db, owner.ID)
	ctx := context.Background()

	for _, p := range []*model.VideoPost{kept, gone} {
		if err := db.AddMembership(ctx, &model.Membership{UserID: fan.ID, PostID: p.ID, List: model.ListLiked}); err != nil {
			t.Fatalf("AddMembership() error = %v", err)
		}
	}

	if err := db.DeletePost(ctx, gone.ID); err != nil {
		t.Fatalf("DeletePost() error = %v", err)
	}

	posts, err := db.ListMemberPosts(ctx, fan.ID, model.ListLiked)
	if err != nil {
		t.Fatalf("ListMemberPosts() error = %v", err)
	}
	if len(posts) != 1 || posts[0].ID != kept.ID {
		t.Errorf("ListMemberPosts() = %v, want only %s", posts, kept.ID)
	}

	// The dangling entry still exists until pruned.
	raw, _ := db.ListMemberships(ctx, fan.ID)
	if len(raw) != 2 {
		t.Fatalf("ListMemberships() len = %d, want 2", len(raw))
	}

	n, err := db.PruneMemberships(ctx, fan.ID)
	if err != nil {
		t.Fatalf("PruneMemberships() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	raw, _ = db.ListMemberships(ctx, fan.ID)
	if len(raw) != 1 || raw[0].PostID != kept.ID {
		t.Errorf("after prune = %v, want only %s", raw, kept.ID)
	}
}

func TestMemberships_GoWithUser(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, "owner")
	fan := createTestUser(t, db, "fan")
	post := createTestPost(t, db, owner.ID)
	ctx := context.Background()

	db.AddMembership(ctx, &model.Membership{UserID: fan.ID, PostID: post.ID, List: model.ListCollections})

	if err := db.DeleteUser(ctx, fan.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}

	raw, err := db.ListMemberships(ctx, fan.ID)
	if err != nil {
		t.Fatalf("ListMemberships() error = %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("memberships of a deleted user = %d, want 0", len(raw))
	}
}

// =========================================================================
// COMMENT TESTS
// =========================================================================

func TestComments(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, "owner")
	post := createTestPost(t, db, owner.ID)
	other := createTestPost(t, db, owner.ID)
	ctx := context.Background()

	first := &model.Comment{PostID: post.ID, AuthorID: owner.ID, Text: "first"}
	second := &model.Comment{PostID: post.ID, AuthorID: owner.ID, Text: "second"}
	for _, c := range []*model.Comment{first, second} {
		if err := db.CreateComment(ctx, c); err != nil {
			t.Fatalf("CreateComment() error = %v", err)
		}
	}

	comments, err := db.ListComments(ctx, post.ID)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(comments) != 2 || comments[0].Text != "first" {
		t.Errorf("ListComments() = %v", comments)
	}

	// A comment id is only valid within its own post.
	if _, err := db.GetComment(ctx, other.ID, first.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetComment(other post) error = %v, want ErrNotFound", err)
	}

	if err := db.DeleteComment(ctx, first.ID); err != nil {
		t.Fatalf("DeleteComment() error = %v", err)
	}
	if err := db.DeleteComment(ctx, first.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("DeleteComment() twice error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// CREDENTIAL & CHECKPOINT TESTS
// =========================================================================

func TestCredentials(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &model.Credential{Username: "a@example.com", Subject: "sub-a", PasswordHash: "h1"}
	if err := db.CreateCredential(ctx, c); err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}

	dup := &model.Credential{Username: "a@example.com", Subject: "sub-b", PasswordHash: "h"}
	if err := db.CreateCredential(ctx, dup); !errors.Is(err, apperror.ErrAlreadyExists) {
		t.Errorf("CreateCredential() duplicate error = %v, want ErrAlreadyExists", err)
	}

	if err := db.UpdatePasswordHash(ctx, "a@example.com", "h2"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}
	got, err := db.GetCredential(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if got.PasswordHash != "h2" || got.Subject != "sub-a" {
		t.Errorf("GetCredential() = %+v", got)
	}

	if err := db.DeleteCredential(ctx, "a@example.com"); err != nil {
		t.Fatalf("DeleteCredential() error = %v", err)
	}
	if _, err := db.GetCredential(ctx, "a@example.com"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetCredential() after delete error = %v, want ErrNotFound", err)
	}
}

func TestCheckpoints(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.LoadCheckpoint(ctx, "delete-account:u1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("LoadCheckpoint() on fresh db error = %v, want ErrNotFound", err)
	}

	cp := &model.Checkpoint{ID: "delete-account:u1", Operation: "delete account", Completed: 2, State: `{"userId":"u1"}`}
	if err := db.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}
	cp.Completed = 4
	if err := db.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() upsert error = %v", err)
	}

	got, err := db.LoadCheckpoint(ctx, "delete-account:u1")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if got.Completed != 4 || got.State != `{"userId":"u1"}` {
		t.Errorf("LoadCheckpoint() = %+v", got)
	}

	if err := db.DeleteCheckpoint(ctx, "delete-account:u1"); err != nil {
		t.Fatalf("DeleteCheckpoint() error = %v", err)
	}
	if _, err := db.LoadCheckpoint(ctx, "delete-account:u1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("LoadCheckpoint() after delete error = %v, want ErrNotFound", err)
	}
}
