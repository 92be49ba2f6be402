package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSchemaVersionRecorded(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion: got %d, want 1", v)
	}
}

func TestTaskCRUDAndTransitions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	task := store.TranscriptionTask{
		ID:           "task-1",
		SourcePath:   "/tmp/sample.wav",
		ByteSize:     1024,
		Status:       store.TaskPending,
		EngineName:   "whisper-native",
		OutputFormat: "txt",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.TaskPending {
		t.Errorf("Status: got %q, want pending", got.Status)
	}

	startedAt := time.Now()
	if err := s.TransitionTask(ctx, "task-1", store.TaskProcessing, store.TaskTransitionOpts{StartedAt: &startedAt}); err != nil {
		t.Fatalf("TransitionTask: %v", err)
	}
	if err := s.UpdateTaskProgress(ctx, "task-1", 50); err != nil {
		t.Fatalf("UpdateTaskProgress: %v", err)
	}

	got, err = s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask after transition: %v", err)
	}
	if got.Status != store.TaskProcessing {
		t.Errorf("Status: got %q, want processing", got.Status)
	}
	if got.Progress != 50 {
		t.Errorf("Progress: got %d, want 50", got.Progress)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt should be set after transition to processing")
	}

	completedAt := time.Now()
	progress := 100
	if err := s.TransitionTask(ctx, "task-1", store.TaskCompleted, store.TaskTransitionOpts{
		Progress: &progress, CompletedAt: &completedAt,
	}); err != nil {
		t.Fatalf("TransitionTask to completed: %v", err)
	}

	got, _ = s.GetTask(ctx, "task-1")
	if got.Status != store.TaskCompleted || got.Progress != 100 || got.CompletedAt == nil {
		t.Errorf("unexpected completed task state: %+v", got)
	}

	if err := s.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	_, err = s.GetTask(ctx, "task-1")
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("expected NotFoundError after delete, got: %v", err)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	_, err := s.GetTask(context.Background(), "nonexistent")
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("expected NotFoundError, got: %v", err)
	}
}

func TestResetStaleProcessingTasks(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Now()
	for i, status := range []store.TaskStatus{store.TaskProcessing, store.TaskPending, store.TaskProcessing} {
		task := store.TranscriptionTask{
			ID: "t" + string(rune('0'+i)), SourcePath: "/tmp/x.wav", ByteSize: 1,
			Status: status, StartedAt: &started, Progress: 42,
			EngineName: "whisper-native", OutputFormat: "txt", CreatedAt: time.Now(),
		}
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	n, err := s.ResetStaleProcessingTasks(ctx)
	if err != nil {
		t.Fatalf("ResetStaleProcessingTasks: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 tasks reset, got %d", n)
	}

	pending, err := s.ListTasksByStatus(ctx, store.TaskPending)
	if err != nil {
		t.Fatalf("ListTasksByStatus: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending tasks after reset, got %d", len(pending))
	}
	for _, p := range pending {
		if p.ID == "t1" {
			// t1 was created pending, so the reset leaves it untouched.
			if p.Progress != 42 {
				t.Errorf("task %q was already pending and must keep its progress: got %d, want 42", p.ID, p.Progress)
			}
			continue
		}
		if p.Progress != 0 || p.StartedAt != nil {
			t.Errorf("task %q not fully reset: progress=%d startedAt=%v", p.ID, p.Progress, p.StartedAt)
		}
	}
}

func TestEventAndAttachmentLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Now()
	end := start.Add(time.Hour)
	ev := store.CalendarEvent{
		ID: "ev-1", Source: "local", Title: "Standup",
		Start: start, End: &end, Attendees: []string{"alice", "bob"},
	}
	if err := s.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}

	got, err := s.GetEvent(ctx, "local", "ev-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Title != "Standup" || len(got.Attendees) != 2 {
		t.Errorf("unexpected event: %+v", got)
	}

	att1 := store.EventAttachment{
		ID: "att-1", EventID: "ev-1", EventSource: "local",
		Kind: store.AttachmentRecording, FilePath: "/tmp/rec1.wav", ByteSize: 10, CreatedAt: time.Now(),
	}
	if err := s.UpsertAttachment(ctx, att1); err != nil {
		t.Fatalf("UpsertAttachment: %v", err)
	}

	// Latest wins: a second recording attachment replaces the first.
	att2 := store.EventAttachment{
		ID: "att-2", EventID: "ev-1", EventSource: "local",
		Kind: store.AttachmentRecording, FilePath: "/tmp/rec2.wav", ByteSize: 20, CreatedAt: time.Now(),
	}
	if err := s.UpsertAttachment(ctx, att2); err != nil {
		t.Fatalf("UpsertAttachment (replace): %v", err)
	}

	attachments, err := s.ListAttachments(ctx, "local", "ev-1")
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	if len(attachments) != 1 {
		t.Fatalf("expected exactly one attachment of kind recording, got %d", len(attachments))
	}
	if attachments[0].FilePath != "/tmp/rec2.wav" {
		t.Errorf("expected latest attachment to win, got %q", attachments[0].FilePath)
	}
}

func TestListEventsInRangeOverlap(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	events := []store.CalendarEvent{
		{ID: "before", Source: "local", Title: "before", Start: base.Add(-2 * time.Hour), End: ptrTime(base.Add(-1 * time.Hour))},
		{ID: "overlapping", Source: "local", Title: "overlap", Start: base.Add(-30 * time.Minute), End: ptrTime(base.Add(30 * time.Minute))},
		{ID: "after", Source: "local", Title: "after", Start: base.Add(2 * time.Hour), End: ptrTime(base.Add(3 * time.Hour))},
	}
	for _, e := range events {
		if err := s.UpsertEvent(ctx, e); err != nil {
			t.Fatalf("UpsertEvent(%s): %v", e.ID, err)
		}
	}

	got, err := s.ListEventsInRange(ctx, base.Add(-1*time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListEventsInRange: %v", err)
	}
	// "before" ends exactly at from, so its closed [start,end] touches the
	// range and is returned ahead of "overlapping"; "after" starts past to.
	if len(got) != 2 || got[0].ID != "before" || got[1].ID != "overlapping" {
		t.Errorf("expected the boundary-touching and overlapping events, got %+v", got)
	}
}

func TestAutoTaskConfigDefaultWhenAbsent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetAutoTaskConfig(ctx, "local", "unknown-event")
	if err != nil {
		t.Fatalf("GetAutoTaskConfig: %v", err)
	}
	if !cfg.Disabled() {
		t.Error("expected default config to be disabled")
	}

	cfg.EnableRecording = true
	cfg.Languages = []string{"en", "fr"}
	if err := s.UpsertAutoTaskConfig(ctx, cfg); err != nil {
		t.Fatalf("UpsertAutoTaskConfig: %v", err)
	}

	got, err := s.GetAutoTaskConfig(ctx, "local", "unknown-event")
	if err != nil {
		t.Fatalf("GetAutoTaskConfig after write: %v", err)
	}
	if got.Disabled() {
		t.Error("expected config to be enabled after write")
	}
	if len(got.Languages) != 2 {
		t.Errorf("expected 2 languages, got %v", got.Languages)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	tok := store.OAuthTokenRecord{
		Provider: "google-calendar", AccessToken: "enc(access)", RefreshToken: "enc(refresh)",
		Scope: "calendar.readonly", TokenType: "Bearer", StoredAt: time.Now(),
		Extras: map[string]string{"account": "user@example.com"},
	}
	if err := s.UpsertOAuthToken(ctx, tok); err != nil {
		t.Fatalf("UpsertOAuthToken: %v", err)
	}

	got, err := s.GetOAuthToken(ctx, "google-calendar")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if got.AccessToken != "enc(access)" || got.Extras["account"] != "user@example.com" {
		t.Errorf("unexpected token record: %+v", got)
	}

	if err := s.DeleteOAuthToken(ctx, "google-calendar"); err != nil {
		t.Fatalf("DeleteOAuthToken: %v", err)
	}
	_, err = s.GetOAuthToken(ctx, "google-calendar")
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("expected NotFoundError after delete, got: %v", err)
	}
}

func TestOAuthTokenRecordIsExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()

	noExpiry := store.OAuthTokenRecord{}
	if noExpiry.IsExpired(now, 0) {
		t.Error("a record with no ExpiresAt should never be expired")
	}

	future := now.Add(time.Hour)
	fresh := store.OAuthTokenRecord{ExpiresAt: &future}
	if fresh.IsExpired(now, 0) {
		t.Error("expected a token expiring in an hour not to be expired with no buffer")
	}
	if !fresh.IsExpired(now, 2*time.Hour) {
		t.Error("expected a token expiring in an hour to be expired with a 2h refresh buffer")
	}

	past := now.Add(-time.Minute)
	stale := store.OAuthTokenRecord{ExpiresAt: &past}
	if !stale.IsExpired(now, 0) {
		t.Error("expected an already-past ExpiresAt to be expired")
	}
}

func TestSpeechModelDescriptor(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	d := store.SpeechModelDescriptor{Name: "base.en", Downloaded: false}
	if err := s.UpsertSpeechModel(ctx, d); err != nil {
		t.Fatalf("UpsertSpeechModel: %v", err)
	}

	got, err := s.GetSpeechModel(ctx, "base.en")
	if err != nil {
		t.Fatalf("GetSpeechModel: %v", err)
	}
	if got.Exists() {
		t.Error("Exists() should be false when Downloaded is false")
	}

	models, err := s.ListSpeechModels(ctx)
	if err != nil {
		t.Fatalf("ListSpeechModels: %v", err)
	}
	if len(models) != 1 {
		t.Errorf("expected 1 model, got %d", len(models))
	}
}

func TestBackupProducesReadableCopy(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, store.TranscriptionTask{
		ID: "backup-me", SourcePath: "/tmp/a.wav", ByteSize: 1,
		Status: store.TaskPending, EngineName: "whisper-native", OutputFormat: "txt", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	backupPath := filepath.Join(t.TempDir(), "backup.db")
	if err := s.Backup(ctx, backupPath); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	reopened, err := store.Open(backupPath)
	if err != nil {
		t.Fatalf("Open backup: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetTask(ctx, "backup-me")
	if err != nil {
		t.Fatalf("GetTask from backup: %v", err)
	}
	if got.ID != "backup-me" {
		t.Errorf("unexpected task from backup: %+v", got)
	}
}

func TestRekeyReportsUnavailable(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if s.Rekey("deadbeef") {
		t.Error("expected Rekey to report false: modernc.org/sqlite has no page cipher to rotate")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcription_tasks (id, source_path, byte_size, status, progress, engine_name, output_format, created_at)
			VALUES ('rollback-me', '/tmp/x.wav', 1, 'pending', 0, 'whisper-native', 'txt', ?)`, formatTimeForTest(time.Now())); err != nil {
			t.Fatalf("insert in tx: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected WithTx to propagate the error, got: %v", err)
	}

	_, getErr := s.GetTask(ctx, "rollback-me")
	if !errs.Is(getErr, errs.NotFound) {
		t.Errorf("expected rolled-back insert to be absent, got: %v", getErr)
	}
}

func formatTimeForTest(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func ptrTime(t time.Time) *time.Time { return &t }
