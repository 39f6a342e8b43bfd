// Package consistency keeps users, video posts, memberships, comments,
// stored assets and identity accounts consistent with each other.
//
// None of these share a transaction. Every operation here that touches
// more than one of them is an ordered sequence of single-store calls:
//
//   - each call is bounded by Config.CallTimeout
//   - counters move only by delta updates executed in the store
//   - work on one (user, post) pair or one comment is serialized by a
//     keyed lock; no lock is ever held across an asset store call
//   - document writes that add to what a user owns hold that user's
//     account lock and are refused once a deletion of the account began
//   - a failure after some writes landed is reported as
//     apperror.ErrPartialFailure listing the writes that landed
//
// Multi-step cascades (account and post deletion) run as sagas whose
// progress is checkpointed, so repeating a failed call resumes it.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/identity"
	"github.com/sakif/clipstream/internal/lock"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
	"github.com/sakif/clipstream/internal/saga"
	"github.com/sakif/clipstream/internal/storage"
)

// DefaultCallTimeout bounds a single store or directory call.
const DefaultCallTimeout = 10 * time.Second

// Config carries the collaborators of an Engine. Locks and Sagas default to
// an in-process KeyedMutex and a Runner without checkpoints, Logger to
// slog.Default().
type Config struct {
	Users        repository.UserRepository
	Posts        repository.VideoPostRepository
	Memberships  repository.MembershipRepository
	Comments     repository.CommentRepository
	AssetRecords repository.AssetRepository
	Assets       storage.Store
	Directory    identity.Directory
	Locks        lock.Locker
	Sagas        *saga.Runner
	CallTimeout  time.Duration
	Logger       *slog.Logger
}

type Engine struct {
	users       repository.UserRepository
	posts       repository.VideoPostRepository
	memberships repository.MembershipRepository
	comments    repository.CommentRepository
	records     repository.AssetRepository
	assets      storage.Store
	directory   identity.Directory
	locks       lock.Locker
	sagas       *saga.Runner
	callTimeout time.Duration
	logger      *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Locks == nil {
		cfg.Locks = lock.NewKeyedMutex()
	}
	if cfg.Sagas == nil {
		cfg.Sagas = saga.NewRunner(nil, cfg.Logger)
	}

	return &Engine{
		users:       cfg.Users,
		posts:       cfg.Posts,
		memberships: cfg.Memberships,
		comments:    cfg.Comments,
		records:     cfg.AssetRecords,
		assets:      cfg.Assets,
		directory:   cfg.Directory,
		locks:       cfg.Locks,
		sagas:       cfg.Sagas,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger,
	}
}

// call runs fn with the per-call timeout applied.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return fn(ctx)
}

// callValue is call for functions that also return a value.
func callValue[T any](ctx context.Context, e *Engine, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return fn(ctx)
}

// withLock runs fn while holding key. Waiting for the lock is bounded by
// the call timeout too.
func (e *Engine) withLock(ctx context.Context, key string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	unlock, err := e.locks.Lock(lockCtx, key)
	cancel()
	if err != nil {
		return apperror.Upstream("lock", "acquire "+key, err)
	}
	defer unlock()
	return fn()
}

func accountKey(userID string) string {
	return "account:" + userID
}

// withAccount runs fn with the user's account lock held and the user
// document freshly loaded. It refuses with ErrInvariantViolation once a
// deletion of the account has begun, so nothing new lands behind a cascade
// that may already have passed it. fn must only touch the document store.
func (e *Engine) withAccount(ctx context.Context, userID string, fn func(user *model.User) error) error {
	return e.withLock(ctx, accountKey(userID), func() error {
		user, err := e.openAccount(ctx, userID)
		if err != nil {
			return err
		}
		return fn(user)
	})
}

// openAccount loads the user and checks that no deletion is pending.
func (e *Engine) openAccount(ctx context.Context, userID string) (*model.User, error) {
	user, err := callValue(ctx, e, func(ctx context.Context) (*model.User, error) {
		return e.users.GetUserByID(ctx, userID)
	})
	if err != nil {
		return nil, docErr("get user", err)
	}

	pending, err := e.sagas.Restore(ctx, accountSagaID(user.Subject), nil)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, apperror.InvariantViolation("account deletion is in progress")
	}
	return user, nil
}

// docErr passes typed errors from the document store through and wraps
// anything else (driver errors, timeouts) as an upstream failure.
func docErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Upstream("document store", op, err)
}

func assetErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperror.Upstream("asset store", op, err)
}

func directoryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Upstream("identity directory", op, err)
}

// releaseAsset deletes the object behind ref. Empty references and
// references this store does not own are skipped.
func (e *Engine) releaseAsset(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if !e.assets.Owns(ref) {
		e.logger.Warn("skipping release of foreign asset reference", slog.String("ref", ref))
		return nil
	}

	key := storage.KeyFromRef(ref)
	err := e.call(ctx, func(ctx context.Context) error {
		return e.assets.Delete(ctx, key)
	})
	if err != nil {
		return assetErr(fmt.Sprintf("delete %s", key), err)
	}

	// Object first, then its record: a failure in between leaves a record
	// with no object, never the reverse.
	err = e.call(ctx, func(ctx context.Context) error {
		return e.records.DeleteAsset(ctx, key)
	})
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	return docErr("delete asset record "+key, err)
}
