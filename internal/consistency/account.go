package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/saga"
)

// Account deletion step names, in execution order.
const (
	StepReleaseProfilePhoto = "release-profile-photo"
	StepReleasePostAssets   = "release-post-assets"
	StepDeletePosts         = "delete-posts"
	StepReleaseMemberships  = "release-memberships"
	StepDeleteUser          = "delete-user"
	StepDeleteIdentity      = "delete-identity-account"
)

// DeleteAccountResult lists the steps that ran. Warnings holds best-effort
// steps that failed, i.e. the profile photo could not be deleted.
type DeleteAccountResult struct {
	CompletedSteps []string       `json:"completedSteps"`
	Warnings       []saga.Warning `json:"warnings,omitempty"`
	Resumed        bool           `json:"resumed"`
}

// accountState is checkpointed with the saga. It holds everything the
// later steps need once the user document itself is gone.
type accountState struct {
	UserID   string   `json:"userId"`
	Subject  string   `json:"subject"`
	Username string   `json:"username"`
	PhotoRef string   `json:"photoRef"`
	PostIDs  []string `json:"postIds"` // posts whose assets were released
}

func accountSagaID(subject string) string {
	return "delete-account:" + subject
}

// DeleteAccount removes a user and everything the user exclusively owns:
// profile photo, every video post with its video and cover assets, the
// user's own likes and collections, the user document, and finally the
// identity directory account named by username.
//
// username must be the account's login (its email); it is what the
// directory deletes.
//
// The profile photo step is best effort. Every other step must succeed;
// the first one that fails stops the run with a partial failure naming
// the completed steps. Calling DeleteAccount again continues from there.
//
// The run begins by checkpointing under the user's account lock. From
// then on CreatePost, ReplaceProfilePhoto and AddMembership refuse the
// user, so no post, photo or like can appear behind the steps already
// done. The steps themselves run without the lock.
func (e *Engine) DeleteAccount(ctx context.Context, userID, username string) (*DeleteAccountResult, error) {
	var st *accountState
	err := e.withLock(ctx, accountKey(userID), func() error {
		user, err := callValue(ctx, e, func(ctx context.Context) (*model.User, error) {
			return e.users.GetUserByID(ctx, userID)
		})
		if err != nil {
			return docErr("get user", err)
		}
		if !strings.EqualFold(strings.TrimSpace(username), user.Email) {
			return apperror.Unauthorized("username does not match the account being deleted")
		}

		st = &accountState{
			UserID:   user.ID,
			Subject:  user.Subject,
			Username: user.Email,
			PhotoRef: user.ProfilePhoto,
		}
		if err := e.sagas.Begin(ctx, e.accountSaga(st)); err != nil {
			return docErr("begin account deletion", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.runAccountDeletion(ctx, st)
}

// ResumeDeleteAccount finishes an account deletion that failed after the
// user document was already removed, which leaves only the subject to
// identify it. Without a pending deletion it reports NotFound.
func (e *Engine) ResumeDeleteAccount(ctx context.Context, subject, username string) (*DeleteAccountResult, error) {
	st := &accountState{}
	pending, err := e.sagas.Restore(ctx, accountSagaID(subject), st)
	if err != nil {
		return nil, err
	}
	if !pending {
		return nil, apperror.NotFound("user", subject)
	}
	if !strings.EqualFold(strings.TrimSpace(username), st.Username) {
		return nil, apperror.Unauthorized("username does not match the account being deleted")
	}
	return e.runAccountDeletion(ctx, st)
}

func (e *Engine) accountSaga(st *accountState) saga.Saga {
	return saga.Saga{
		ID:        accountSagaID(st.Subject),
		Operation: "delete account",
		State:     st,
		Steps: []saga.Step{
			{Name: StepReleaseProfilePhoto, Policy: saga.BestEffort, Run: func(ctx context.Context) error {
				return e.releaseAsset(ctx, st.PhotoRef)
			}},
			{Name: StepReleasePostAssets, Policy: saga.Required, Run: func(ctx context.Context) error {
				ids, err := e.releasePostAssets(ctx, st.UserID)
				st.PostIDs = ids
				return err
			}},
			{Name: StepDeletePosts, Policy: saga.Required, Run: func(ctx context.Context) error {
				return e.deletePosts(ctx, st.UserID, st.PostIDs)
			}},
			{Name: StepReleaseMemberships, Policy: saga.Required, Run: func(ctx context.Context) error {
				return e.releaseMemberships(ctx, st.UserID)
			}},
			{Name: StepDeleteUser, Policy: saga.Required, Run: func(ctx context.Context) error {
				return e.deleteUser(ctx, st.UserID)
			}},
			{Name: StepDeleteIdentity, Policy: saga.Required, Run: func(ctx context.Context) error {
				err := e.call(ctx, func(ctx context.Context) error {
					return e.directory.DeleteAccount(ctx, st.Username)
				})
				return directoryErr("delete account", err)
			}},
		},
	}
}

func (e *Engine) runAccountDeletion(ctx context.Context, st *accountState) (*DeleteAccountResult, error) {
	res, err := e.sagas.Run(ctx, e.accountSaga(st))
	if err != nil {
		return nil, err
	}

	e.logger.Info("account deleted",
		slog.String("user_id", st.UserID),
		slog.Bool("resumed", res.Resumed),
		slog.Int("warnings", len(res.Warnings)),
	)
	return &DeleteAccountResult{
		CompletedSteps: res.Completed,
		Warnings:       res.Warnings,
		Resumed:        res.Resumed,
	}, nil
}

// releasePostAssets deletes the video and cover object of every post the
// user owns, stopping at the first failure, and returns the ids of the
// posts it covered. Objects already deleted by an earlier attempt are
// no-ops for the store.
func (e *Engine) releasePostAssets(ctx context.Context, userID string) ([]string, error) {
	posts, err := callValue(ctx, e, func(ctx context.Context) ([]model.VideoPost, error) {
		return e.posts.ListPostsByOwner(ctx, userID)
	})
	if err != nil {
		return nil, docErr("list videos", err)
	}

	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if err := e.releasePostObjects(ctx, p); err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (e *Engine) releasePostObjects(ctx context.Context, p model.VideoPost) error {
	if err := e.releaseAsset(ctx, p.VideoRef); err != nil {
		return fmt.Errorf("video %s: %w", p.ID, err)
	}
	if err := e.releaseAsset(ctx, p.CoverRef); err != nil {
		return fmt.Errorf("video %s: %w", p.ID, err)
	}
	return nil
}

// deletePosts deletes the posts whose assets were released, by id, then
// sweeps up any post of the user that was not among them.
func (e *Engine) deletePosts(ctx context.Context, userID string, released []string) error {
	for _, id := range released {
		if err := e.deletePostDoc(ctx, id); err != nil {
			return err
		}
	}
	e.logger.Debug("videos deleted", slog.String("user_id", userID), slog.Int("count", len(released)))
	return e.purgePosts(ctx, userID)
}

// purgePosts releases the assets of and deletes every post userID still
// owns. It only finds work when a post was published after the assets
// step enumerated the user's posts.
func (e *Engine) purgePosts(ctx context.Context, userID string) error {
	posts, err := callValue(ctx, e, func(ctx context.Context) ([]model.VideoPost, error) {
		return e.posts.ListPostsByOwner(ctx, userID)
	})
	if err != nil {
		return docErr("list videos", err)
	}

	for _, p := range posts {
		e.logger.Warn("deleting video published during account deletion",
			slog.String("user_id", userID),
			slog.String("post_id", p.ID),
		)
		if err := e.releasePostObjects(ctx, p); err != nil {
			return err
		}
		if err := e.deletePostDoc(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) deletePostDoc(ctx context.Context, postID string) error {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.posts.DeletePost(ctx, postID)
	})
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	return docErr("delete video "+postID, err)
}

// releaseMemberships takes back every like and collection of the user so
// the counters of other users' posts stay equal to their real membership
// count. Entries pointing at deleted posts are simply dropped.
func (e *Engine) releaseMemberships(ctx context.Context, userID string) error {
	entries, err := callValue(ctx, e, func(ctx context.Context) ([]model.Membership, error) {
		return e.memberships.ListMemberships(ctx, userID)
	})
	if err != nil {
		return docErr("list memberships", err)
	}

	for _, m := range entries {
		err := e.withLock(ctx, membershipKey(userID, m.PostID, m.List), func() error {
			_, err := e.removeMembershipLocked(ctx, userID, m.PostID, m.List)
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, apperror.ErrNotFound):
			// dangling entry (already dropped) or removed concurrently
		case errors.Is(err, apperror.ErrInvariantViolation):
			e.logger.Warn("counter already zero while releasing membership",
				slog.String("user_id", userID),
				slog.String("post_id", m.PostID),
				slog.String("list", string(m.List)),
			)
			e.dropDangling(ctx, userID, m.PostID, m.List)
		default:
			return err
		}
	}
	return nil
}

// deleteUser removes the user document. If the store refuses because the
// user still owns posts, those are purged and the delete is tried once
// more, so a resumed run never stays stuck behind steps it already passed.
func (e *Engine) deleteUser(ctx context.Context, userID string) error {
	del := func() error {
		return e.call(ctx, func(ctx context.Context) error {
			return e.users.DeleteUser(ctx, userID)
		})
	}

	err := del()
	if errors.Is(err, apperror.ErrInvariantViolation) {
		if perr := e.purgePosts(ctx, userID); perr != nil {
			return perr
		}
		err = del()
	}
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	return docErr("delete user", err)
}
