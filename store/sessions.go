package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	Session struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		Token     string    `json:"-"`
		ExpiresAt time.Time `json:"expires_at"`
		Active    bool      `json:"active"`
		IPAddress string    `json:"ip_address,omitempty"`
		UserAgent string    `json:"user_agent,omitempty"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	SessionWithUser struct {
		Session Session
		User    User
	}
)

const sessionColumns = `s.session_id, s.user_id, s.token, s.expires_at, s.active,
	s.ip_address, s.user_agent, s.created_at, s.updated_at`

func scanSession(row rowScanner) (*Session, error) {
	var ss Session
	var expires, created, updated int64
	err := row.Scan(&ss.ID, &ss.UserID, &ss.Token, &expires, &ss.Active,
		&ss.IPAddress, &ss.UserAgent, &created, &updated)
	if err != nil {
		return nil, err
	}
	ss.ExpiresAt = fromMillis(expires)
	ss.CreatedAt = fromMillis(created)
	ss.UpdatedAt = fromMillis(updated)
	return &ss, nil
}

// NewSessionID returns a fresh identifier for a session row. Callers that
// embed the id in the token need it before calling CreateSession.
func NewSessionID() string {
	return uuid.NewString()
}

func (s *Store) CreateSession(ctx context.Context, ss Session) (*Session, error) {
	if ss.ID == "" {
		ss.ID = NewSessionID()
	}
	now := s.now().UTC()
	ss.Active = true
	ss.CreatedAt, ss.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `insert into sessions(session_id, user_id, token, token_hash64, expires_at, active,
		ip_address, user_agent, created_at, updated_at)
		values (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		ss.ID, ss.UserID, ss.Token, tokenHash(ss.Token), toMillis(ss.ExpiresAt),
		ss.IPAddress, ss.UserAgent, toMillis(now), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("unable to create session for user %v, cause %w", ss.UserID, err)
	}
	return &ss, nil
}

// FindActiveSession returns the session identified by token, joined with
// its user, as long as the session row is active and expires after now.
// The user's own active flag is returned, not filtered.
//
// A nil result without error means no such session.
func (s *Store) FindActiveSession(ctx context.Context, token string, now time.Time) (*SessionWithUser, error) {
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+`, `+userColumns+`
		from sessions s
		inner join users u on u.user_id = s.user_id
		where s.token_hash64 = ? and s.token = ? and s.active = 1 and s.expires_at > ?`,
		tokenHash(token), token, toMillis(now))
	var ss Session
	var expires, created, updated int64
	u, err := scanUser(joinedRow{row: row, prefix: []interface{}{&ss.ID, &ss.UserID, &ss.Token, &expires, &ss.Active,
		&ss.IPAddress, &ss.UserAgent, &created, &updated}})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to lookup session, cause %w", err)
	}
	ss.ExpiresAt = fromMillis(expires)
	ss.CreatedAt = fromMillis(created)
	ss.UpdatedAt = fromMillis(updated)
	return &SessionWithUser{Session: ss, User: *u}, nil
}

// joinedRow lets scanUser fill user columns that come after other columns
type joinedRow struct {
	row    rowScanner
	prefix []interface{}
}

func (j joinedRow) Scan(dest ...interface{}) error {
	return j.row.Scan(append(j.prefix, dest...)...)
}

// ExpireSession deactivates the session identified by token if it is still
// active but already expired at now. It reports whether a row changed.
func (s *Store) ExpireSession(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update sessions set active = 0, updated_at = ?
		where token_hash64 = ? and token = ? and active = 1 and expires_at <= ?`,
		toMillis(s.now()), tokenHash(token), token, toMillis(now))
	return affected(res, err, "expire session")
}

// DeactivateSession is a no-op for sessions that are already inactive.
func (s *Store) DeactivateSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update sessions set active = 0, updated_at = ? where session_id = ? and active = 1`,
		toMillis(s.now()), sessionID)
	return affected(res, err, "deactivate session")
}

// DeactivateUserSessions deactivates every active session of the user,
// except the one identified by exceptSessionID (when not empty).
func (s *Store) DeactivateUserSessions(ctx context.Context, userID string, exceptSessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `update sessions set active = 0, updated_at = ?
		where user_id = ? and active = 1 and session_id <> ?`,
		toMillis(s.now()), userID, exceptSessionID)
	if err != nil {
		return 0, fmt.Errorf("unable to deactivate sessions of user %v, cause %w", userID, err)
	}
	return res.RowsAffected()
}

// SweepExpired deactivates every active session whose expiry is not after now.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `update sessions set active = 0, updated_at = ? where active = 1 and expires_at <= ?`,
		toMillis(s.now()), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("unable to sweep expired sessions, cause %w", err)
	}
	return res.RowsAffected()
}

// ListUserSessions returns the sessions of a user, newest first.
func (s *Store) ListUserSessions(ctx context.Context, userID string, activeOnly bool, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `select ` + sessionColumns + ` from sessions s where s.user_id = ?`
	if activeOnly {
		query += ` and s.active = 1`
	}
	query += ` order by s.created_at desc, s.rowid desc limit ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to list sessions of user %v, cause %w", userID, err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan session, cause %w", err)
		}
		out = append(out, *ss)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("unable to %v, cause %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unable to %v, cause %w", op, err)
	}
	return n > 0, nil
}
