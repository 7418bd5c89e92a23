package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	Role string

	User struct {
		ID                string     `json:"id"`
		Email             string     `json:"email"`
		Username          string     `json:"username"`
		PasswordHash      string     `json:"-"`
		Role              Role       `json:"role"`
		Active            bool       `json:"active"`
		LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
		PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
		CreatedAt         time.Time  `json:"created_at"`
		UpdatedAt         time.Time  `json:"updated_at"`
	}
)

const (
	RoleAdmin  = Role("admin")
	RoleEditor = Role("editor")
	RoleViewer = Role("viewer")
)

const userColumns = `u.user_id, u.email, u.username, u.password_hash, u.role, u.active,
	u.last_login_at, u.password_changed_at, u.created_at, u.updated_at`

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// NormalizeEmail returns the canonical form used to store and match emails
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner, extra ...interface{}) (*User, error) {
	var u User
	var lastLogin, pwdChanged sql.NullInt64
	var created, updated int64
	dest := []interface{}{&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Active,
		&lastLogin, &pwdChanged, &created, &updated}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}
	u.LastLoginAt = fromNullMillis(lastLogin)
	u.PasswordChangedAt = fromNullMillis(pwdChanged)
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

// CreateUser stores a new user, assigning an id when the given one is empty.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	if !u.Role.Valid() {
		return nil, InvalidRole{Role: u.Role}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	u.Username = strings.TrimSpace(u.Username)
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `insert into users(user_id, email, username, password_hash, role, active,
		last_login_at, password_changed_at, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.PasswordHash, string(u.Role), u.Active,
		toNullMillis(u.LastLoginAt), toNullMillis(u.PasswordChangedAt), toMillis(now), toMillis(now))
	if dup := asDuplicateUser(err); dup != nil {
		return nil, dup
	} else if err != nil {
		return nil, fmt.Errorf("unable to create user %v, cause %w", u.Username, err)
	}
	return &u, nil
}

// FindUserByLogin looks up a user by email or username, active or not.
func (s *Store) FindUserByLogin(ctx context.Context, login string) (*User, error) {
	login = strings.TrimSpace(login)
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where u.email = ? or u.username = ? limit 1`,
		NormalizeEmail(login), login)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, UserNotFound{Login: login}
	} else if err != nil {
		return nil, fmt.Errorf("unable to lookup user %v, cause %w", login, err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where u.user_id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, UserNotFound{Login: id}
	} else if err != nil {
		return nil, fmt.Errorf("unable to lookup user %v, cause %w", id, err)
	}
	return u, nil
}

// ListUsers returns users ordered by username, limit <= 0 means no limit.
func (s *Store) ListUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users u order by u.username asc limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to list users, cause %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan user, cause %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, userID, `last_login_at = ?`, toMillis(at))
}

func (s *Store) UpdatePassword(ctx context.Context, userID string, hash string, changedAt time.Time) error {
	return s.updateUser(ctx, userID, `password_hash = ?, password_changed_at = ?`, hash, toMillis(changedAt))
}

func (s *Store) UpdateRole(ctx context.Context, userID string, role Role) error {
	if !role.Valid() {
		return InvalidRole{Role: role}
	}
	return s.updateUser(ctx, userID, `role = ?`, string(role))
}

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	return s.updateUser(ctx, userID, `active = ?`, active)
}

func (s *Store) updateUser(ctx context.Context, userID string, set string, args ...interface{}) error {
	args = append(args, toMillis(s.now()), userID)
	res, err := s.db.ExecContext(ctx, `update users set `+set+`, updated_at = ? where user_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("unable to update user %v, cause %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to update user %v, cause %w", userID, err)
	} else if n == 0 {
		return UserNotFound{Login: userID}
	}
	return nil
}
