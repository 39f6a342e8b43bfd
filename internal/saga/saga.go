// Package saga runs an ordered list of steps against stores that share no
// transaction, recording progress after every step.
//
// There is no rollback. A run either completes, or stops at the first
// failing Required step and reports which steps were already applied. The
// checkpoint left behind lets the next run with the same ID skip those
// steps, so repeating a failed operation finishes it instead of starting
// over. Every step must therefore be safe to run again after a crash
// between its side effect and the checkpoint write.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

// Policy decides what a step failure does to the run.
type Policy int

const (
	// Required steps abort the run on failure.
	Required Policy = iota
	// BestEffort steps are logged on failure and the run continues.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "bestEffort"
	}
	return "required"
}

type Step struct {
	Name   string
	Policy Policy
	Run    func(ctx context.Context) error
}

// Warning records a BestEffort step that failed.
type Warning struct {
	Step string `json:"step"`
	Err  string `json:"error"`
}

// Result describes a finished run.
type Result struct {
	Completed []string  // every step that succeeded, including ones skipped on resume
	Warnings  []Warning // failed BestEffort steps
	Resumed   bool      // true if an earlier run had completed steps
}

// Saga is one named run. State is persisted with the checkpoint and
// restored on resume, so steps can read values (ids, asset refs) that a
// later step deletes from the primary store.
type Saga struct {
	ID        string
	Operation string
	Steps     []Step
	State     any // pointer to a JSON-serializable struct
}

// Runner executes sagas. Checkpoints is optional; without it runs are not
// resumable.
type Runner struct {
	checkpoints repository.CheckpointRepository
	logger      *slog.Logger
}

// NewRunner falls back to slog.Default() for a nil logger.
func NewRunner(checkpoints repository.CheckpointRepository, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{checkpoints: checkpoints, logger: logger}
}

// envelope is what goes into model.Checkpoint.State.
type envelope struct {
	Completed []string        `json:"completed"`
	Warnings  []Warning       `json:"warnings,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
}

// Run executes s. On success the checkpoint is removed.
//
// If a Required step fails before anything was applied its own error is
// returned unchanged. Once at least one step completed, the failure is an
// apperror.ErrPartialFailure listing the completed steps, with the step's
// error as cause.
func (r *Runner) Run(ctx context.Context, s Saga) (*Result, error) {
	res := &Result{}
	env, found := r.load(ctx, s)
	if found {
		res.Resumed = len(env.Completed) > 0
		res.Completed = append(res.Completed, env.Completed...)
		res.Warnings = append(res.Warnings, env.Warnings...)
		if s.State != nil && len(env.State) > 0 {
			if err := json.Unmarshal(env.State, s.State); err != nil {
				return nil, fmt.Errorf("saga: restoring state of %s: %w", s.ID, err)
			}
		}
		r.logger.Info("resuming saga",
			slog.String("saga", s.ID),
			slog.Int("completed", len(env.Completed)),
		)
	}

	done := make(map[string]bool, len(res.Completed))
	for _, name := range res.Completed {
		done[name] = true
	}

	for _, step := range s.Steps {
		if done[step.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, r.fail(s, res, step, err)
		}

		err := step.Run(ctx)
		if err != nil && step.Policy == Required {
			return res, r.fail(s, res, step, err)
		}

		if err != nil {
			r.logger.Warn("best-effort step failed",
				slog.String("saga", s.ID),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			res.Warnings = append(res.Warnings, Warning{Step: step.Name, Err: err.Error()})
		}
		// A failed BestEffort step counts as done: it is not retried on resume.
		res.Completed = append(res.Completed, step.Name)
		done[step.Name] = true
		r.save(ctx, s, res)
	}

	if r.checkpoints != nil {
		if err := r.checkpoints.DeleteCheckpoint(ctx, s.ID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
			r.logger.Warn("failed to delete saga checkpoint",
				slog.String("saga", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return res, nil
}

func (r *Runner) fail(s Saga, res *Result, step Step, err error) error {
	r.logger.Error("saga step failed",
		slog.String("saga", s.ID),
		slog.String("step", step.Name),
		slog.Any("completed", res.Completed),
		slog.String("error", err.Error()),
	)
	if len(res.Completed) == 0 {
		return err
	}
	return apperror.PartialFailure(s.Operation, res.Completed, err)
}

func (r *Runner) load(ctx context.Context, s Saga) (envelope, bool) {
	var env envelope
	if r.checkpoints == nil {
		return env, false
	}

	cp, err := r.checkpoints.LoadCheckpoint(ctx, s.ID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			r.logger.Warn("failed to load saga checkpoint, starting from scratch",
				slog.String("saga", s.ID),
				slog.String("error", err.Error()),
			)
		}
		return env, false
	}

	if err := json.Unmarshal([]byte(cp.State), &env); err != nil {
		r.logger.Warn("discarding unreadable saga checkpoint",
			slog.String("saga", s.ID),
			slog.String("error", err.Error()),
		)
		return envelope{}, false
	}
	return env, true
}

// save writes progress. A failed write only costs resumability, so it is
// logged and the run goes on.
func (r *Runner) save(ctx context.Context, s Saga, res *Result) {
	if r.checkpoints == nil {
		return
	}

	env := envelope{Completed: res.Completed, Warnings: res.Warnings}
	if s.State != nil {
		raw, err := json.Marshal(s.State)
		if err != nil {
			r.logger.Warn("failed to encode saga state", slog.String("saga", s.ID), slog.String("error", err.Error()))
			return
		}
		env.State = raw
	}

	raw, err := json.Marshal(env)
	if err != nil {
		r.logger.Warn("failed to encode saga checkpoint", slog.String("saga", s.ID), slog.String("error", err.Error()))
		return
	}

	cp := &model.Checkpoint{
		ID:        s.ID,
		Operation: s.Operation,
		Completed: len(res.Completed),
		State:     string(raw),
	}
	if err := r.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		r.logger.Warn("failed to save saga checkpoint",
			slog.String("saga", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Begin records s as started before any step runs, so Restore reports it
// pending from then on. An existing checkpoint is kept as it is. Unlike the
// checkpoints Run writes along the way, a failure to save here is returned.
func (r *Runner) Begin(ctx context.Context, s Saga) error {
	if r.checkpoints == nil {
		return nil
	}

	_, err := r.checkpoints.LoadCheckpoint(ctx, s.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("saga: loading checkpoint of %s: %w", s.ID, err)
	}

	env := envelope{Completed: []string{}}
	if s.State != nil {
		if env.State, err = json.Marshal(s.State); err != nil {
			return fmt.Errorf("saga: encoding state of %s: %w", s.ID, err)
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("saga: encoding checkpoint of %s: %w", s.ID, err)
	}

	err = r.checkpoints.SaveCheckpoint(ctx, &model.Checkpoint{
		ID:        s.ID,
		Operation: s.Operation,
		State:     string(raw),
	})
	if err != nil {
		return fmt.Errorf("saga: saving checkpoint of %s: %w", s.ID, err)
	}
	return nil
}

// Restore loads the state of an unfinished run of id into state. It
// reports false when no run is pending.
func (r *Runner) Restore(ctx context.Context, id string, state any) (bool, error) {
	env, ok := r.load(ctx, Saga{ID: id})
	if !ok {
		return false, nil
	}
	if state != nil && len(env.State) > 0 {
		if err := json.Unmarshal(env.State, state); err != nil {
			return false, fmt.Errorf("saga: restoring state of %s: %w", id, err)
		}
	}
	return true, nil
}
