package consistency

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
)

// MembershipResult is the state of the post's counter after an add or
// remove.
type MembershipResult struct {
	PostID string     `json:"postId"`
	List   model.List `json:"list"`
	Count  int64      `json:"count"`
}

func membershipKey(userID, postID string, list model.List) string {
	return "membership:" + string(list) + ":" + userID + ":" + postID
}

// AddMembership puts postID on one of userID's lists and bumps the
// matching counter.
//
// The membership row is written first. If the counter update then fails,
// the list and the counter disagree and the error is a partial failure
// with "add-membership" as the completed step.
//
// It runs under userID's account lock as well as the pair lock, and is
// refused while the account's deletion is pending.
func (e *Engine) AddMembership(ctx context.Context, userID, postID string, list model.List) (*MembershipResult, error) {
	if _, err := model.ParseList(string(list)); err != nil {
		return nil, apperror.ValidationFailed("list", err.Error())
	}

	var res *MembershipResult
	err := e.withAccount(ctx, userID, func(*model.User) error {
		return e.withLock(ctx, membershipKey(userID, postID, list), func() error {
			var err error
			res, err = e.addMembershipLocked(ctx, userID, postID, list)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) addMembershipLocked(ctx context.Context, userID, postID string, list model.List) (*MembershipResult, error) {
	_, err := callValue(ctx, e, func(ctx context.Context) (*model.VideoPost, error) {
		return e.posts.GetPost(ctx, postID)
	})
	if err != nil {
		return nil, docErr("get video", err)
	}

	err = e.call(ctx, func(ctx context.Context) error {
		return e.memberships.AddMembership(ctx, &model.Membership{UserID: userID, PostID: postID, List: list})
	})
	if err != nil {
		return nil, docErr("add membership", err)
	}

	count, err := callValue(ctx, e, func(ctx context.Context) (int64, error) {
		return e.posts.IncrementCounter(ctx, postID, list.Counter())
	})
	if err != nil {
		e.logger.Error("membership added but counter not incremented",
			slog.String("user_id", userID),
			slog.String("post_id", postID),
			slog.String("list", string(list)),
			slog.String("error", err.Error()),
		)
		return nil, apperror.PartialFailure("add to "+string(list), []string{"add-membership"}, docErr("increment counter", err))
	}
	return &MembershipResult{PostID: postID, List: list, Count: count}, nil
}

// RemoveMembership takes postID off one of userID's lists.
//
// The counter is decremented first with the zero guard; if it is already
// zero the call fails with InvariantViolation and nothing changes. If the
// post itself is gone the entry is a dangling reference: it is dropped and
// the post's NotFound is returned.
func (e *Engine) RemoveMembership(ctx context.Context, userID, postID string, list model.List) (*MembershipResult, error) {
	if _, err := model.ParseList(string(list)); err != nil {
		return nil, apperror.ValidationFailed("list", err.Error())
	}

	var res *MembershipResult
	err := e.withLock(ctx, membershipKey(userID, postID, list), func() error {
		count, err := e.removeMembershipLocked(ctx, userID, postID, list)
		if err != nil {
			return err
		}
		res = &MembershipResult{PostID: postID, List: list, Count: count}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) removeMembershipLocked(ctx context.Context, userID, postID string, list model.List) (int64, error) {
	member, err := callValue(ctx, e, func(ctx context.Context) (bool, error) {
		return e.memberships.IsMember(ctx, userID, postID, list)
	})
	if err != nil {
		return 0, docErr("check membership", err)
	}
	if !member {
		return 0, apperror.NotMember(string(list), postID)
	}

	count, err := callValue(ctx, e, func(ctx context.Context) (int64, error) {
		return e.posts.DecrementCounter(ctx, postID, list.Counter())
	})
	if errors.Is(err, apperror.ErrNotFound) {
		e.dropDangling(ctx, userID, postID, list)
		return 0, err
	}
	if err != nil {
		return 0, docErr("decrement counter", err)
	}

	err = e.call(ctx, func(ctx context.Context) error {
		return e.memberships.RemoveMembership(ctx, userID, postID, list)
	})
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		e.logger.Error("counter decremented but membership not removed",
			slog.String("user_id", userID),
			slog.String("post_id", postID),
			slog.String("list", string(list)),
			slog.String("error", err.Error()),
		)
		return 0, apperror.PartialFailure("remove from "+string(list), []string{"decrement-counter"}, docErr("remove membership", err))
	}
	return count, nil
}

// dropDangling removes a list entry whose post no longer exists.
func (e *Engine) dropDangling(ctx context.Context, userID, postID string, list model.List) {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.memberships.RemoveMembership(ctx, userID, postID, list)
	})
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		e.logger.Warn("failed to drop dangling membership",
			slog.String("user_id", userID),
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) Like(ctx context.Context, userID, postID string) (*MembershipResult, error) {
	return e.AddMembership(ctx, userID, postID, model.ListLiked)
}

func (e *Engine) Unlike(ctx context.Context, userID, postID string) (*MembershipResult, error) {
	return e.RemoveMembership(ctx, userID, postID, model.ListLiked)
}

func (e *Engine) Collect(ctx context.Context, userID, postID string) (*MembershipResult, error) {
	return e.AddMembership(ctx, userID, postID, model.ListCollections)
}

func (e *Engine) Uncollect(ctx context.Context, userID, postID string) (*MembershipResult, error) {
	return e.RemoveMembership(ctx, userID, postID, model.ListCollections)
}
