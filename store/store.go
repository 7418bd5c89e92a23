// Package store keeps users, sessions and audit events of the CMS in a
// SQLite database.
//
// Every exported method is a single round trip to the database, nothing
// here spans a transaction over more than one statement. Whatever
// consistency is needed comes from SQLite's own atomic row updates.
//
// Rows are never deleted: users and sessions are soft-deactivated through
// their active flag and audit events are append-only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
)

type (
	Store struct {
		db    *sql.DB
		clock func() time.Time
	}

	Option func(*Store)
)

// WithClock replaces the clock used to stamp created_at/updated_at columns.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func openDatabase(ctx context.Context, dbfile string) (*sql.DB, error) {
	err := os.MkdirAll(filepath.Dir(dbfile), 0755)
	if err != nil {
		return nil, fmt.Errorf("unable to create directory to store database %v, cause %w", dbfile, err)
	}
	connstr := fmt.Sprintf("file:%v?_journal=wal&_foreign_keys=on&_busy_timeout=5000&mode=rwc", dbfile)
	conn, err := sql.Open("sqlite3", connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %w", dbfile, err)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping database %v, cause %w", dbfile, err)
	}
	return conn, nil
}

// Open returns a store backed by the given database file, creating
// the file and its schema when needed.
func Open(ctx context.Context, dbfile string, opts ...Option) (*Store, error) {
	conn, err := openDatabase(ctx, dbfile)
	if err != nil {
		return nil, err
	}
	s := &Store{db: conn, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	err = s.init(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to init database %v, cause %w", dbfile, err)
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, cmd := range []string{
		`create table if not exists users(
			user_id text not null primary key,
			email text not null unique,
			username text not null unique,
			password_hash text not null,
			role text not null,
			active integer not null default 1,
			last_login_at integer,
			password_changed_at integer,
			created_at integer not null,
			updated_at integer not null
		)`,
		`create table if not exists sessions(
			session_id text not null primary key,
			user_id text not null,
			token text not null unique,
			token_hash64 integer not null,
			expires_at integer not null,
			active integer not null default 1,
			ip_address text not null default '',
			user_agent text not null default '',
			created_at integer not null,
			updated_at integer not null,
			foreign key (user_id) references users(user_id)
		)`,
		`create index if not exists idx_sessions_token_hash64
			on sessions(token_hash64)`,
		`create index if not exists idx_sessions_user_id
			on sessions(user_id, active)`,
		`create index if not exists idx_sessions_active_expires_at
			on sessions(active, expires_at)`,
		`create table if not exists audit_events(
			event_id integer not null primary key autoincrement,
			user_id text,
			action text not null,
			resource_type text not null default '',
			resource_id text not null default '',
			data text not null default '{}',
			ip_address text not null default '',
			user_agent text not null default '',
			created_at integer not null
		)`,
		`create index if not exists idx_audit_events_created_at
			on audit_events(created_at)`,
		`create index if not exists idx_audit_events_user_id
			on audit_events(user_id, created_at)`,
	} {
		_, err := s.db.ExecContext(ctx, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.clock()
}

func tokenHash(token string) int64 {
	return int64(xxhash.Sum64String(token))
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}
