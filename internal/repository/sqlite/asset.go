package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

var _ repository.AssetRepository = (*DB)(nil)

// CreateAsset records a freshly stored object as unbound.
func (db *DB) CreateAsset(ctx context.Context, a *model.Asset) error {
	a.CreatedAt = time.Now()
	a.Bound = false

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO assets (key, owner_id, kind, content_type, size, bound, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		a.Key, a.OwnerID, string(a.Kind), a.ContentType, a.Size, a.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apperror.AlreadyExists("asset", "key", a.Key)
		}
		return fmt.Errorf("sqlite: inserting asset %s: %w", a.Key, err)
	}
	return nil
}

func (db *DB) GetAsset(ctx context.Context, key string) (*model.Asset, error) {
	var (
		a     model.Asset
		kind  string
		bound int
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT key, owner_id, kind, content_type, size, bound, created_at
		 FROM assets WHERE key = ?`,
		key,
	).Scan(&a.Key, &a.OwnerID, &kind, &a.ContentType, &a.Size, &bound, &a.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("asset", key)
		}
		return nil, fmt.Errorf("sqlite: getting asset %s: %w", key, err)
	}
	a.Kind = model.AssetKind(kind)
	a.Bound = bound != 0
	return &a, nil
}

// BindAsset marks key as referenced. The check and the write are one
// statement, so two documents racing for the same object cannot both win.
//
// When nothing was updated the record is read back to say why: missing
// (NotFound), another uploader (Unauthorized), wrong kind or already
// bound (InvariantViolation).
func (db *DB) BindAsset(ctx context.Context, key, ownerID string, kind model.AssetKind) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE assets SET bound = 1
		 WHERE key = ? AND owner_id = ? AND kind = ? AND bound = 0`,
		key, ownerID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("sqlite: binding asset %s: %w", key, err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return nil
	}

	a, err := db.GetAsset(ctx, key)
	if err != nil {
		return err
	}
	switch {
	case a.OwnerID != ownerID:
		return apperror.Unauthorized("asset " + key + " was uploaded by another user")
	case a.Kind != kind:
		return apperror.InvariantViolation(fmt.Sprintf("asset %s is a %s, not a %s", key, a.Kind, kind))
	default:
		return apperror.InvariantViolation("asset " + key + " is already in use")
	}
}

// UnbindAsset undoes BindAsset for a document write that did not land.
func (db *DB) UnbindAsset(ctx context.Context, key string) error {
	result, err := db.conn.ExecContext(ctx, `UPDATE assets SET bound = 0 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlite: unbinding asset %s: %w", key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("asset", key)
	}
	return nil
}

func (db *DB) DeleteAsset(ctx context.Context, key string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM assets WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlite: deleting asset %s: %w", key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("asset", key)
	}
	return nil
}
