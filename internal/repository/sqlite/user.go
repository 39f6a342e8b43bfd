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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, subject, user_name, email, first_name, last_name,
	phone_number, profile_photo, created_at, updated_at`

// CreateUser inserts a new user and fills in ID and timestamps.
//
// The UNIQUE constraints on subject, user_name and email are the source of
// truth for uniqueness; a violation comes back as apperror.ErrAlreadyExists
// naming the offending field.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Subject,
		user.UserName,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		user.ProfilePhoto,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if col, ok := uniqueViolation(err); ok {
			return userConflict(col, user)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.UserName, err)
	}

	return nil
}

// GetUserByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id)
}

// GetUserBySubject retrieves the user bound to an identity directory subject.
func (db *DB) GetUserBySubject(ctx context.Context, subject string) (*model.User, error) {
	return db.getUser(ctx, "subject", subject)
}

func (db *DB) GetUserByUserName(ctx context.Context, userName string) (*model.User, error) {
	return db.getUser(ctx, "user_name", userName)
}

// getUser is shared by the lookups above. column is always a constant
// chosen by this package, never caller input.
func (db *DB) getUser(ctx context.Context, column, value string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)

	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s %s: %w", column, value, err)
	}
	return u, nil
}

// UpdateProfile rewrites the editable profile fields.
//
// A rename is re-checked at commit by the UNIQUE index on user_name, so two
// concurrent renames to the same name cannot both succeed even when both
// passed an earlier availability check.
func (db *DB) UpdateProfile(ctx context.Context, id string, profile model.Profile) (*model.User, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET user_name = ?, first_name = ?, last_name = ?, phone_number = ?, updated_at = ?
		 WHERE id = ?`,
		profile.UserName,
		profile.FirstName,
		profile.LastName,
		profile.PhoneNumber,
		time.Now(),
		id,
	)
	if err != nil {
		if col, ok := uniqueViolation(err); ok {
			return nil, userConflict(col, &model.User{UserName: profile.UserName})
		}
		return nil, fmt.Errorf("sqlite: updating profile %s: %w", id, err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return nil, apperror.NotFound("user", id)
	}

	return db.GetUserByID(ctx, id)
}

// SetProfilePhoto points the user at a new profile photo asset.
func (db *DB) SetProfilePhoto(ctx context.Context, id, ref string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET profile_photo = ?, updated_at = ? WHERE id = ?`,
		ref, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting profile photo for %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// DeleteUser removes the user row. Memberships go with it (ON DELETE
// CASCADE); owned video posts must already be gone or the foreign key
// on video_posts.owner_id rejects the delete with ErrInvariantViolation.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		if foreignKeyViolation(err) {
			return apperror.InvariantViolation("user " + id + " still owns video posts")
		}
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Subject,
		&u.UserName,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PhoneNumber,
		&u.ProfilePhoto,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func userConflict(column string, u *model.User) *apperror.AppError {
	switch column {
	case "user_name":
		return apperror.AlreadyExists("user", "userName", u.UserName)
	case "email":
		return apperror.AlreadyExists("user", "email", u.Email)
	case "subject":
		return apperror.AlreadyExists("user", "subject", u.Subject)
	}
	return apperror.AlreadyExists("user", column, "")
}
