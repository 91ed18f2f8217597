// Package audit provides PostgreSQL-backed storage for the trail of
// realtime concern events the relay observes. Each entry captures which
// concern changed, what happened to it, and an optional JSON detail
// blob for support staff review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// validEvents is the set of allowed event values, matching the CHECK
// constraint on the concern_audit table.
var validEvents = map[string]bool{
	"created":        true,
	"updated":        true,
	"deleted":        true,
	"assigned":       true,
	"status_changed": true,
}

// Store manages concern audit entries in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Entry represents a single audit record to be persisted.
type Entry struct {
	ConcernID    int64
	Event        string // created | updated | deleted | assigned | status_changed
	DepartmentID int64  // 0 when the event carried no department scope
	Detail       any    // marshalled to JSONB, may be nil
}

// Record is an audit entry as read back from the database.
type Record struct {
	ID           int64
	ConcernID    int64
	Event        string
	DepartmentID int64
	Detail       []byte
	CreatedAt    time.Time
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an audit entry into PostgreSQL. The detail payload is
// marshalled to JSONB. The event is validated against the allowed set
// before touching the database.
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	if !validEvents[entry.Event] {
		return fmt.Errorf("audit: invalid event %q", entry.Event)
	}
	if entry.ConcernID == 0 {
		return fmt.Errorf("audit: missing concern id")
	}

	var detailJSON []byte
	if entry.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("audit: marshal detail: %w", err)
		}
	}

	var department sql.NullInt64
	if entry.DepartmentID != 0 {
		department = sql.NullInt64{Int64: entry.DepartmentID, Valid: true}
	}

	const query = `
		INSERT INTO concern_audit (concern_id, event, department_id, detail)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ConcernID,
		entry.Event,
		department,
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// RecentForConcern returns the newest audit records for a concern,
// most recent first, capped at limit.
func (s *Store) RecentForConcern(ctx context.Context, concernID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, concern_id, event, COALESCE(department_id, 0), COALESCE(detail, 'null'), created_at
		FROM concern_audit
		WHERE concern_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, concernID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ConcernID, &r.Event, &r.DepartmentID, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return records, nil
}

// CountSince returns the number of audit entries recorded for a
// department within the given time window. Useful for activity
// dashboards and alerting on noisy departments.
func (s *Store) CountSince(ctx context.Context, departmentID int64, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM concern_audit
		WHERE department_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, departmentID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count since: %w", err)
	}
	return count, nil
}
