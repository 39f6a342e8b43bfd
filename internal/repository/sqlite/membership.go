package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/sakif/clipstream/internal/model"
	"github.com/sakif/clipstream/internal/repository"
)

var _ repository.MembershipRepository = (*DB)(nil)

// AddMembership appends a post to one of the user's lists.
//
// ON CONFLICT DO NOTHING turns the primary key into the membership check:
// if no row was inserted, the post was already in the list.
func (db *DB) AddMembership(ctx context.Context, m *model.Membership) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO memberships (user_id, post_id, list, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, post_id, list) DO NOTHING`,
		m.UserID, m.PostID, string(m.List), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding %s to %s of %s: %w", m.PostID, m.List, m.UserID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.AlreadyMember(string(m.List), m.PostID)
	}
	return nil
}

// RemoveMembership deletes a list entry; a missing entry is NotMember.
func (db *DB) RemoveMembership(ctx context.Context, userID, postID string, list model.List) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM memberships WHERE user_id = ? AND post_id = ? AND list = ?`,
		userID, postID, string(list),
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing %s from %s of %s: %w", postID, list, userID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotMember(string(list), postID)
	}
	return nil
}

func (db *DB) IsMember(ctx context.Context, userID, postID string, list model.List) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE user_id = ? AND post_id = ? AND list = ?`,
		userID, postID, string(list),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking membership: %w", err)
	}
	return count > 0, nil
}

// ListMemberships returns the raw entries of both lists of a user,
// including entries whose post has been deleted.
func (db *DB) ListMemberships(ctx context.Context, userID string) ([]model.Membership, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id, post_id, list, created_at FROM memberships
		 WHERE user_id = ?
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing memberships of %s: %w", userID, err)
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		var m model.Membership
		var list string
		if err := rows.Scan(&m.UserID, &m.PostID, &list, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning membership: %w", err)
		}
		m.List = model.List(list)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMemberPosts resolves a list into full posts, most recently added
// first. The inner join drops entries whose post no longer exists.
func (db *DB) ListMemberPosts(ctx context.Context, userID string, list model.List) ([]model.VideoPost, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT p.id, p.owner_id, p.video_ref, p.cover_ref, p.description,
		        p.count_likes, p.count_collections, p.count_comments, p.created_at, p.updated_at
		 FROM memberships m
		 JOIN video_posts p ON p.id = m.post_id
		 WHERE m.user_id = ? AND m.list = ?
		 ORDER BY m.created_at DESC`,
		userID, string(list),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: resolving %s of %s: %w", list, userID, err)
	}
	return collectPosts(rows)
}

// PruneMemberships deletes the user's entries that point at deleted posts
// and returns how many were removed.
func (db *DB) PruneMemberships(ctx context.Context, userID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM memberships
		 WHERE user_id = ?
		   AND NOT EXISTS (SELECT 1 FROM video_posts p WHERE p.id = memberships.post_id)`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: pruning memberships of %s: %w", userID, err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
