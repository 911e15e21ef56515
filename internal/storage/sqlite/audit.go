package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/passvault/internal/metrics"
	"github.com/Togather-Foundation/passvault/internal/storage"
)

var _ storage.AuditRepository = (*AuditRepository)(nil)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

const auditColumns = `id, event_id, type, occurred_at, payload, received_at, error`

type AuditRepository struct {
	db *DB
}

func scanAuditEvent(row rowScanner) (*storage.AuditEvent, error) {
	var (
		ev                 storage.AuditEvent
		occurred, received string
		detail             sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.EventID, &ev.Type, &occurred, &ev.Payload, &received, &detail); err != nil {
		return nil, err
	}

	var err error
	if ev.OccurredAt, err = parseTime(occurred); err != nil {
		return nil, fmt.Errorf("parse occurred_at: %w", err)
	}
	if ev.ReceivedAt, err = parseTime(received); err != nil {
		return nil, fmt.Errorf("parse received_at: %w", err)
	}
	if detail.Valid {
		ev.ErrorDetail = &detail.String
	}
	return &ev, nil
}

// InsertIfAbsent writes ev unless its event id is already stored. A zero
// ReceivedAt is stamped with the current time.
func (r *AuditRepository) InsertIfAbsent(ctx context.Context, ev storage.AuditEvent) (_ bool, err error) {
	defer func(start time.Time) { metrics.RecordQuery("insert_audit_event", start, err) }(time.Now())

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	var detail sql.NullString
	if ev.ErrorDetail != nil {
		detail = sql.NullString{String: *ev.ErrorDetail, Valid: true}
	}

	const query = `
INSERT INTO audit_password_events (event_id, type, occurred_at, payload, received_at, error)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING`

	res, err := r.db.Writer.ExecContext(ctx, query,
		ev.EventID,
		ev.Type,
		formatTime(ev.OccurredAt),
		ev.Payload,
		formatTime(ev.ReceivedAt),
		detail,
	)
	if err != nil {
		return false, fmt.Errorf("insert audit event %q: %w", ev.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert audit event %q: rows affected: %w", ev.EventID, err)
	}
	return n > 0, nil
}

// List returns events newest first, optionally filtered by type.
func (r *AuditRepository) List(ctx context.Context, filter storage.AuditFilter) (_ []storage.AuditEvent, err error) {
	defer func(start time.Time) { metrics.RecordQuery("list_audit_events", start, err) }(time.Now())

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}

	const query = `
SELECT ` + auditColumns + `
  FROM audit_password_events
 WHERE (? = '' OR type = ?)
 ORDER BY received_at DESC, id DESC
 LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, filter.Type, filter.Type, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]storage.AuditEvent, 0)
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func (r *AuditRepository) GetByEventID(ctx context.Context, eventID string) (_ *storage.AuditEvent, err error) {
	defer func(start time.Time) { metrics.RecordQuery("get_audit_event", start, err) }(time.Now())

	const query = `SELECT ` + auditColumns + ` FROM audit_password_events WHERE event_id = ?`
	ev, err := scanAuditEvent(r.db.Reader.QueryRowContext(ctx, query, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit event %q: %w", eventID, err)
	}
	return ev, nil
}

// Stats counts all rows, dead-lettered rows and rows per type.
func (r *AuditRepository) Stats(ctx context.Context) (_ *storage.AuditStats, err error) {
	defer func(start time.Time) { metrics.RecordQuery("audit_stats", start, err) }(time.Now())

	stats := &storage.AuditStats{ByType: make([]storage.TypeCount, 0)}

	const totals = `SELECT COUNT(*), COUNT(error) FROM audit_password_events`
	if err := r.db.Reader.QueryRowContext(ctx, totals).Scan(&stats.Total, &stats.Errors); err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	const byType = `
SELECT type, COUNT(*)
  FROM audit_password_events
 GROUP BY type
 ORDER BY COUNT(*) DESC, type ASC`
	rows, err := r.db.Reader.QueryContext(ctx, byType)
	if err != nil {
		return nil, fmt.Errorf("count audit events by type: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tc storage.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		stats.ByType = append(stats.ByType, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type counts: %w", err)
	}
	return stats, nil
}
