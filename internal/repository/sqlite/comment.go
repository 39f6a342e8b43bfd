package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

var _ repository.CommentRepository = (*DB)(nil)

func (db *DB) CreateComment(ctx context.Context, c *model.Comment) error {
	c.ID = xid.New().String()
	c.CreatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.AuthorID, c.Text, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting comment on %s: %w", c.PostID, err)
	}
	return nil
}

// GetComment looks a comment up within a post; a comment id that belongs
// to another post is reported as not found.
func (db *DB) GetComment(ctx context.Context, postID, commentID string) (*model.Comment, error) {
	var c model.Comment
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, post_id, author_id, text, created_at FROM comments WHERE id = ? AND post_id = ?`,
		commentID, postID,
	).Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Text, &c.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("comment", commentID)
		}
		return nil, fmt.Errorf("sqlite: getting comment %s: %w", commentID, err)
	}
	return &c, nil
}

// ListComments returns a post's comments in the order they were written.
func (db *DB) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, post_id, author_id, text, created_at FROM comments
		 WHERE post_id = ?
		 ORDER BY created_at ASC, id ASC`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments of %s: %w", postID, err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (db *DB) DeleteComment(ctx context.Context, commentID string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, commentID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting comment %s: %w", commentID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("comment", commentID)
	}
	return nil
}
