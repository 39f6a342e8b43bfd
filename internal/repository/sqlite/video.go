package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

var _ repository.VideoPostRepository = (*DB)(nil)

const postColumns = `id, owner_id, video_ref, cover_ref, description,
	count_likes, count_collections, count_comments, created_at, updated_at`

// CreatePost inserts a new post with all counters at zero.
func (db *DB) CreatePost(ctx context.Context, post *model.VideoPost) error {
	now := time.Now()
	post.ID = xid.New().String()
	post.CountLikes, post.CountCollections, post.CountComments = 0, 0, 0
	post.CreatedAt = now
	post.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO video_posts (id, owner_id, video_ref, cover_ref, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		post.ID,
		post.OwnerID,
		post.VideoRef,
		post.CoverRef,
		post.Description,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting video post for owner %s: %w", post.OwnerID, err)
	}
	return nil
}

// GetPost retrieves a post by ID. Comments are not loaded here.
func (db *DB) GetPost(ctx context.Context, id string) (*model.VideoPost, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM video_posts WHERE id = ?`, id)

	var p model.VideoPost
	if err := scanPost(row, &p); err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("video", id)
		}
		return nil, fmt.Errorf("sqlite: getting video post %s: %w", id, err)
	}
	return &p, nil
}

// ListPosts returns the newest posts first.
func (db *DB) ListPosts(ctx context.Context, opts repository.ListOptions) ([]model.VideoPost, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM video_posts
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing video posts: %w", err)
	}
	return collectPosts(rows)
}

// ListPostsByOwner returns every post of one user, oldest first (the order
// in which they were published).
func (db *DB) ListPostsByOwner(ctx context.Context, ownerID string) ([]model.VideoPost, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM video_posts
		 WHERE owner_id = ?
		 ORDER BY created_at ASC, id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing video posts of %s: %w", ownerID, err)
	}
	return collectPosts(rows)
}

// DeletePost removes a post and, by cascade, its comments.
func (db *DB) DeletePost(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM video_posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting video post %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("video", id)
	}
	return nil
}

// IncrementCounter adds one to a counter.
//
// DELTA UPDATE:
// "SET c = c + 1" is evaluated by SQLite against the current row, so two
// concurrent likes both land. Reading the post, adding one in Go and
// writing it back would let the second writer overwrite the first.
func (db *DB) IncrementCounter(ctx context.Context, postID string, counter model.Counter) (int64, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return 0, err
	}

	var value int64
	err = db.conn.QueryRowContext(ctx,
		`UPDATE video_posts SET `+col+` = `+col+` + 1, updated_at = ?
		 WHERE id = ?
		 RETURNING `+col,
		time.Now(), postID,
	).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return 0, apperror.NotFound("video", postID)
		}
		return 0, fmt.Errorf("sqlite: incrementing %s of %s: %w", col, postID, err)
	}
	return value, nil
}

// DecrementCounter subtracts one from a counter unless it is already zero.
// The guard is part of the WHERE clause, so the check and the write are
// one atomic statement.
func (db *DB) DecrementCounter(ctx context.Context, postID string, counter model.Counter) (int64, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return 0, err
	}

	var value int64
	err = db.conn.QueryRowContext(ctx,
		`UPDATE video_posts SET `+col+` = `+col+` - 1, updated_at = ?
		 WHERE id = ? AND `+col+` > 0
		 RETURNING `+col,
		time.Now(), postID,
	).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("sqlite: decrementing %s of %s: %w", col, postID, err)
	}

	// No row matched: either the post is gone or the counter is at zero.
	if _, getErr := db.GetPost(ctx, postID); getErr != nil {
		return 0, getErr
	}
	return 0, apperror.InvariantViolation(
		fmt.Sprintf("%s counter of video %s is already zero", counter, postID))
}

func counterColumn(c model.Counter) (string, error) {
	switch c {
	case model.CounterLikes:
		return "count_likes", nil
	case model.CounterCollections:
		return "count_collections", nil
	case model.CounterComments:
		return "count_comments", nil
	}
	return "", fmt.Errorf("sqlite: unknown counter %q", c)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner, p *model.VideoPost) error {
	return row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.VideoRef,
		&p.CoverRef,
		&p.Description,
		&p.CountLikes,
		&p.CountCollections,
		&p.CountComments,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

func collectPosts(rows *sql.Rows) ([]model.VideoPost, error) {
	defer rows.Close()

	posts := []model.VideoPost{}
	for rows.Next() {
		var p model.VideoPost
		if err := scanPost(rows, &p); err != nil {
			return nil, fmt.Errorf("sqlite: scanning video post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating video posts: %w", err)
	}
	return posts, nil
}
