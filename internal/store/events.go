package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/echonote/engine/internal/errs"
)

// UpsertEvent inserts or updates a CalendarEvent, keyed by (source, id) per
// the data model's uniqueness invariant.
func (s *Store) UpsertEvent(ctx context.Context, e CalendarEvent) error {
	attendees, err := json.Marshal(e.Attendees)
	if err != nil {
		return errs.Validationf("store: marshal attendees for event %q: %w", e.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, source, title, description, event_type, start_at, end_at, attendees)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			event_type = excluded.event_type,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			attendees = excluded.attendees`,
		e.ID, e.Source, e.Title, nullableString(e.Description), nullableString(e.Type),
		formatTime(e.Start), formatTimePtr(e.End), string(attendees),
	)
	if err != nil {
		return errs.Transientf("store: upsert event %s/%s: %w", e.Source, e.ID, err)
	}
	return nil
}

// ListEventsInRange returns events that start before to and end at or after
// from (an event with no end matches whenever it starts before to), the
// query the Timeline Aggregator filters on.
func (s *Store) ListEventsInRange(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, description, event_type, start_at, end_at, attendees
		FROM calendar_events
		WHERE start_at < ? AND (end_at IS NULL OR end_at >= ?)
		ORDER BY start_at ASC`, formatTime(to), formatTime(from))
	if err != nil {
		return nil, errs.Transientf("store: list events in range: %w", err)
	}
	defer rows.Close()

	var out []CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errs.Transientf("store: scan event row: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SearchEventsByText runs a SQL LIKE search over title and description for
// events that start before to and end at or after from, the query the Timeline
// Aggregator's search_events augments with an attachment-file text scan.
func (s *Store) SearchEventsByText(ctx context.Context, query string, from, to time.Time) ([]CalendarEvent, error) {
	like := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, description, event_type, start_at, end_at, attendees
		FROM calendar_events
		WHERE start_at < ? AND (end_at IS NULL OR end_at >= ?)
		AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')
		ORDER BY start_at DESC`, formatTime(to), formatTime(from), like, like)
	if err != nil {
		return nil, errs.Transientf("store: search events: %w", err)
	}
	defer rows.Close()

	var out []CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errs.Transientf("store: scan event row: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// escapeLike escapes SQL LIKE metacharacters so a query containing % or _
// is matched literally.
func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '%' || c == '_' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}

// GetEvent returns a single event by (source, id).
func (s *Store) GetEvent(ctx context.Context, source, id string) (*CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, title, description, event_type, start_at, end_at, attendees
		FROM calendar_events WHERE source = ? AND id = ?`, source, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("store: event %s/%s not found", source, id)
	}
	if err != nil {
		return nil, errs.Transientf("store: get event %s/%s: %w", source, id, err)
	}
	return e, nil
}

func scanEvent(row rowScanner) (*CalendarEvent, error) {
	var e CalendarEvent
	var description, eventType sql.NullString
	var startAt string
	var endAt sql.NullString
	var attendeesJSON string

	if err := row.Scan(&e.ID, &e.Source, &e.Title, &description, &eventType, &startAt, &endAt, &attendeesJSON); err != nil {
		return nil, err
	}

	e.Description = description.String
	e.Type = eventType.String
	e.Start = parseTime(startAt)
	e.End = parseTimePtr(endAt)
	if err := json.Unmarshal([]byte(attendeesJSON), &e.Attendees); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertAttachment writes an attachment, replacing any existing attachment
// of the same (event, kind) — "latest wins" per the data model invariant.
func (s *Store) UpsertAttachment(ctx context.Context, a EventAttachment) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM event_attachments WHERE event_source = ? AND event_id = ? AND kind = ?`,
			a.EventSource, a.EventID, string(a.Kind)); err != nil {
			return errs.Transientf("store: clear prior attachment: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_attachments (id, event_id, event_source, kind, file_path, byte_size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.EventID, a.EventSource, string(a.Kind), a.FilePath, a.ByteSize, formatTime(a.CreatedAt),
		)
		if err != nil {
			return errs.Transientf("store: insert attachment: %w", err)
		}
		return nil
	})
}

// ListAttachments returns every attachment for an event.
func (s *Store) ListAttachments(ctx context.Context, source, eventID string) ([]EventAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, event_source, kind, file_path, byte_size, created_at
		FROM event_attachments WHERE event_source = ? AND event_id = ?`, source, eventID)
	if err != nil {
		return nil, errs.Transientf("store: list attachments: %w", err)
	}
	defer rows.Close()

	var out []EventAttachment
	for rows.Next() {
		var a EventAttachment
		var kind, createdAt string
		if err := rows.Scan(&a.ID, &a.EventID, &a.EventSource, &kind, &a.FilePath, &a.ByteSize, &createdAt); err != nil {
			return nil, errs.Transientf("store: scan attachment row: %w", err)
		}
		a.Kind = AttachmentKind(kind)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
