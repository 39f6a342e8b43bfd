package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

var (
	_ repository.CredentialRepository = (*DB)(nil)
	_ repository.CheckpointRepository = (*DB)(nil)
)

func (db *DB) CreateCredential(ctx context.Context, c *model.Credential) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO credentials (username, subject, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.Username, c.Subject, c.PasswordHash, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apperror.AlreadyExists("account", "username", c.Username)
		}
		return fmt.Errorf("sqlite: inserting credential %q: %w", c.Username, err)
	}
	return nil
}

func (db *DB) GetCredential(ctx context.Context, username string) (*model.Credential, error) {
	var c model.Credential
	err := db.conn.QueryRowContext(ctx,
		`SELECT username, subject, password_hash, created_at, updated_at
		 FROM credentials WHERE username = ?`,
		username,
	).Scan(&c.Username, &c.Subject, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("account", username)
		}
		return nil, fmt.Errorf("sqlite: getting credential %q: %w", username, err)
	}
	return &c, nil
}

func (db *DB) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET password_hash = ?, updated_at = ? WHERE username = ?`,
		hash, time.Now(), username,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password of %q: %w", username, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("account", username)
	}
	return nil
}

func (db *DB) DeleteCredential(ctx context.Context, username string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM credentials WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("sqlite: deleting credential %q: %w", username, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("account", username)
	}
	return nil
}

// LoadCheckpoint returns apperror.ErrNotFound when the saga has no recorded
// progress, i.e. it has never run or it finished and was cleared.
func (db *DB) LoadCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, operation, completed, state, updated_at FROM saga_checkpoints WHERE id = ?`,
		id,
	).Scan(&cp.ID, &cp.Operation, &cp.Completed, &cp.State, &cp.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("checkpoint", id)
		}
		return nil, fmt.Errorf("sqlite: loading checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// SaveCheckpoint upserts the high-water mark of a saga.
func (db *DB) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	cp.UpdatedAt = time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO saga_checkpoints (id, operation, completed, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   operation = excluded.operation,
		   completed = excluded.completed,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		cp.ID, cp.Operation, cp.Completed, cp.State, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

func (db *DB) DeleteCheckpoint(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM saga_checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting checkpoint %s: %w", id, err)
	}
	return nil
}
