package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type (
	AuditEvent struct {
		ID           int64                  `json:"id"`
		UserID       string                 `json:"user_id,omitempty"`
		Action       string                 `json:"action"`
		ResourceType string                 `json:"resource_type,omitempty"`
		ResourceID   string                 `json:"resource_id,omitempty"`
		Data         map[string]interface{} `json:"data,omitempty"`
		IPAddress    string                 `json:"ip_address,omitempty"`
		UserAgent    string                 `json:"user_agent,omitempty"`
		CreatedAt    time.Time              `json:"created_at"`
	}

	// AuditFilter narrows ListAuditEvents, zero values are ignored.
	AuditFilter struct {
		UserID  string
		Actions []string
		Since   time.Time
		Until   time.Time
		Limit   int
	}
)

const DefaultAuditLimit = 100

// AppendAuditEvent stores ev. Audit rows are never updated or deleted.
func (s *Store) AppendAuditEvent(ctx context.Context, ev AuditEvent) (int64, error) {
	data := []byte("{}")
	if len(ev.Data) > 0 {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return 0, fmt.Errorf("unable to encode data of audit event %v, cause %w", ev.Action, err)
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	var userID sql.NullString
	if ev.UserID != "" {
		userID = sql.NullString{String: ev.UserID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `insert into audit_events(user_id, action, resource_type, resource_id, data,
		ip_address, user_agent, created_at) values (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, ev.Action, ev.ResourceType, ev.ResourceID, string(data), ev.IPAddress, ev.UserAgent, toMillis(ev.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("unable to append audit event %v, cause %w", ev.Action, err)
	}
	return res.LastInsertId()
}

// ListAuditEvents returns matching events, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	var where []string
	var args []interface{}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Actions) > 0 {
		where = append(where, "action in (?"+strings.Repeat(", ?", len(filter.Actions)-1)+")")
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, toMillis(filter.Until))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	query := `select event_id, user_id, action, resource_type, resource_id, data, ip_address, user_agent, created_at
		from audit_events`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by created_at desc, event_id desc limit ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to list audit events, cause %w", err)
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var userID sql.NullString
		var data string
		var created int64
		err = rows.Scan(&ev.ID, &userID, &ev.Action, &ev.ResourceType, &ev.ResourceID, &data,
			&ev.IPAddress, &ev.UserAgent, &created)
		if err != nil {
			return nil, fmt.Errorf("unable to scan audit event, cause %w", err)
		}
		ev.UserID = userID.String
		ev.CreatedAt = fromMillis(created)
		if data != "" && data != "{}" {
			err = json.Unmarshal([]byte(data), &ev.Data)
			if err != nil {
				return nil, fmt.Errorf("unable to decode data of audit event %v, cause %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
