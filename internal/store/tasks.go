package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/echonote/engine/internal/errs"
)

// CreateTask inserts a new task row in status pending.
func (s *Store) CreateTask(ctx context.Context, t TranscriptionTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcription_tasks (
			id, source_path, byte_size, duration_secs, status, progress,
			source_language, engine_name, output_format, output_path,
			error_message, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SourcePath, t.ByteSize, t.DurationSecs, string(t.Status), t.Progress,
		nullableString(t.SourceLanguage), t.EngineName, t.OutputFormat, nullableString(t.OutputPath),
		nullableString(t.ErrorMessage), formatTime(t.CreatedAt), formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt),
	)
	if err != nil {
		return errs.Transientf("store: create task %q: %w", t.ID, err)
	}
	return nil
}

// GetTask returns a task by id, or a NotFoundError if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*TranscriptionTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_path, byte_size, duration_secs, status, progress,
		       source_language, engine_name, output_format, output_path,
		       error_message, created_at, started_at, completed_at
		FROM transcription_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("store: task %q not found", id)
	}
	if err != nil {
		return nil, errs.Transientf("store: get task %q: %w", id, err)
	}
	return t, nil
}

// ListTasksByStatus returns all tasks with the given status, ordered by
// created_at ascending — the order the Transcription Manager requeues in.
func (s *Store) ListTasksByStatus(ctx context.Context, status TaskStatus) ([]TranscriptionTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, byte_size, duration_secs, status, progress,
		       source_language, engine_name, output_format, output_path,
		       error_message, created_at, started_at, completed_at
		FROM transcription_tasks WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, errs.Transientf("store: list tasks by status %q: %w", status, err)
	}
	defer rows.Close()

	var out []TranscriptionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.Transientf("store: scan task row: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTaskProgress writes progress without touching any other field,
// the hot path invoked by an engine's progress callback.
func (s *Store) UpdateTaskProgress(ctx context.Context, id string, progress int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE transcription_tasks SET progress = ? WHERE id = ?`, progress, id)
	if err != nil {
		return errs.Transientf("store: update task %q progress: %w", id, err)
	}
	return nil
}

// TransitionTask moves a task to a new status, stamping started_at or
// completed_at as appropriate. Callers are responsible for enforcing the
// legal-transition invariant (status never moves backwards out of a
// terminal state) before calling this.
func (s *Store) TransitionTask(ctx context.Context, id string, status TaskStatus, opts TaskTransitionOpts) error {
	set := []string{"status = ?"}
	args := []any{string(status)}

	if opts.Progress != nil {
		set = append(set, "progress = ?")
		args = append(args, *opts.Progress)
	}
	if opts.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, formatTime(*opts.StartedAt))
	}
	if opts.ClearStartedAt {
		set = append(set, "started_at = NULL")
	}
	if opts.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, formatTime(*opts.CompletedAt))
	}
	if opts.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *opts.ErrorMessage)
	}
	if opts.DurationSecs != nil {
		set = append(set, "duration_secs = ?")
		args = append(args, *opts.DurationSecs)
	}
	if opts.OutputPath != nil {
		set = append(set, "output_path = ?")
		args = append(args, *opts.OutputPath)
	}

	query := "UPDATE transcription_tasks SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errs.Transientf("store: transition task %q to %q: %w", id, status, err)
	}
	return nil
}

// TaskTransitionOpts carries the optional fields TransitionTask may stamp
// alongside the status change.
type TaskTransitionOpts struct {
	Progress       *int
	StartedAt      *time.Time
	ClearStartedAt bool
	CompletedAt    *time.Time
	ErrorMessage   *string
	DurationSecs   *float64
	OutputPath     *string
}

// DeleteTask removes a task. Callers must ensure status != processing
// before calling, per the data model's lifecycle invariant.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcription_tasks WHERE id = ?`, id)
	if err != nil {
		return errs.Transientf("store: delete task %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFoundf("store: task %q not found", id)
	}
	return nil
}

// ResetStaleProcessingTasks demotes every processing task back to pending
// with progress=0 and no started_at, the restart-recovery step the
// Transcription Manager runs before requeuing.
func (s *Store) ResetStaleProcessingTasks(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcription_tasks
		SET status = ?, progress = 0, started_at = NULL
		WHERE status = ?`, string(TaskPending), string(TaskProcessing))
	if err != nil {
		return 0, errs.Fatalf("store: reset stale processing tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListAllTaskIDs returns every task id currently in the store, the universe
// the Transcription Manager's sidecar garbage collection checks against.
func (s *Store) ListAllTaskIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM transcription_tasks`)
	if err != nil {
		return nil, errs.Transientf("store: list all task ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Transientf("store: scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*TranscriptionTask, error) {
	var t TranscriptionTask
	var status string
	var sourceLanguage, outputPath, errorMessage sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	if err := row.Scan(
		&t.ID, &t.SourcePath, &t.ByteSize, &t.DurationSecs, &status, &t.Progress,
		&sourceLanguage, &t.EngineName, &t.OutputFormat, &outputPath,
		&errorMessage, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	t.Status = TaskStatus(status)
	t.SourceLanguage = sourceLanguage.String
	t.OutputPath = outputPath.String
	t.ErrorMessage = errorMessage.String
	t.CreatedAt = parseTime(createdAt)
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	return &t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
