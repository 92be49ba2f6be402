package timeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/echonote/engine/internal/store"
	"github.com/echonote/engine/internal/timeline"
)

type stubSource struct {
	events []store.CalendarEvent
}

func (s stubSource) GetEvents(ctx context.Context, from, to time.Time) ([]store.CalendarEvent, error) {
	var out []store.CalendarEvent
	for _, e := range s.events {
		end := e.Start
		if e.End != nil {
			end = *e.End
		}
		if end.Before(from) || e.Start.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr(t time.Time) *time.Time { return &t }

func TestGetTimelineEventsPartitionsAndSorts(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	events := []store.CalendarEvent{
		{ID: "past1", Source: "local", Title: "Past 1", Start: now.Add(-2 * time.Hour), End: ptr(now.Add(-90 * time.Minute))},
		{ID: "past2", Source: "local", Title: "Past 2", Start: now.Add(-1 * time.Hour), End: ptr(now.Add(-30 * time.Minute))},
		{ID: "future1", Source: "local", Title: "Future 1", Start: now.Add(1 * time.Hour), End: ptr(now.Add(90 * time.Minute))},
		{ID: "future2", Source: "local", Title: "Future 2", Start: now.Add(3 * time.Hour), End: ptr(now.Add(4 * time.Hour))},
	}
	for _, e := range events {
		if err := db.UpsertEvent(context.Background(), e); err != nil {
			t.Fatalf("UpsertEvent: %v", err)
		}
	}

	agg := timeline.New(stubSource{events: events}, db, time.UTC)
	page, err := agg.GetTimelineEvents(context.Background(), now, 1, 1, 0, 10, timeline.Filters{})
	if err != nil {
		t.Fatalf("GetTimelineEvents: %v", err)
	}

	if page.PastTotal != 2 {
		t.Fatalf("PastTotal: got %d, want 2", page.PastTotal)
	}
	if len(page.Past) != 2 || page.Past[0].Event.ID != "past2" {
		t.Fatalf("Past: want [past2, past1] newest-first, got %+v", page.Past)
	}
	if len(page.Future) != 2 || page.Future[0].Event.ID != "future2" {
		t.Fatalf("Future: want [future2, future1] farthest-first, got %+v", page.Future)
	}
}

func TestGetTimelineEventsFutureOnlyOnPageZero(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	events := []store.CalendarEvent{
		{ID: "p1", Source: "local", Title: "p1", Start: now.Add(-time.Hour), End: ptr(now.Add(-30 * time.Minute))},
		{ID: "f1", Source: "local", Title: "f1", Start: now.Add(time.Hour), End: ptr(now.Add(90 * time.Minute))},
	}
	for _, e := range events {
		_ = db.UpsertEvent(context.Background(), e)
	}

	agg := timeline.New(stubSource{events: events}, db, time.UTC)
	page, err := agg.GetTimelineEvents(context.Background(), now, 1, 1, 1, 10, timeline.Filters{})
	if err != nil {
		t.Fatalf("GetTimelineEvents: %v", err)
	}
	if len(page.Future) != 0 {
		t.Fatalf("Future on page 1: want empty, got %+v", page.Future)
	}
}

func TestGetTimelineEventsBatchLoadsArtifactsAndAutoTasks(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	events := []store.CalendarEvent{
		{ID: "p1", Source: "local", Title: "p1", Start: now.Add(-time.Hour), End: ptr(now.Add(-30 * time.Minute))},
		{ID: "f1", Source: "local", Title: "f1", Start: now.Add(time.Hour), End: ptr(now.Add(90 * time.Minute))},
	}
	for _, e := range events {
		_ = db.UpsertEvent(context.Background(), e)
	}
	if err := db.UpsertAttachment(context.Background(), store.EventAttachment{
		ID: "a1", EventID: "p1", EventSource: "local", Kind: store.AttachmentTranscript,
		FilePath: "/tmp/p1.txt", ByteSize: 10, CreatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertAttachment: %v", err)
	}
	if err := db.UpsertAutoTaskConfig(context.Background(), store.AutoTaskConfig{
		EventID: "f1", EventSource: "local", EnableRecording: true,
	}); err != nil {
		t.Fatalf("UpsertAutoTaskConfig: %v", err)
	}

	agg := timeline.New(stubSource{events: events}, db, time.UTC)
	page, err := agg.GetTimelineEvents(context.Background(), now, 1, 1, 0, 10, timeline.Filters{})
	if err != nil {
		t.Fatalf("GetTimelineEvents: %v", err)
	}
	if len(page.Past) != 1 || page.Past[0].Artifacts[store.AttachmentTranscript].FilePath != "/tmp/p1.txt" {
		t.Fatalf("expected past event artifact loaded, got %+v", page.Past)
	}
	if len(page.Future) != 1 || !page.Future[0].AutoTask.EnableRecording {
		t.Fatalf("expected future event auto-task config loaded, got %+v", page.Future)
	}
}

func TestGetTimelineEventsDefaultAutoTaskConfigWhenAbsent(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	events := []store.CalendarEvent{
		{ID: "f1", Source: "local", Title: "f1", Start: now.Add(time.Hour), End: ptr(now.Add(90 * time.Minute))},
	}
	_ = db.UpsertEvent(context.Background(), events[0])

	agg := timeline.New(stubSource{events: events}, db, time.UTC)
	page, err := agg.GetTimelineEvents(context.Background(), now, 1, 1, 0, 10, timeline.Filters{})
	if err != nil {
		t.Fatalf("GetTimelineEvents: %v", err)
	}
	if len(page.Future) != 1 || !page.Future[0].AutoTask.Disabled() {
		t.Fatalf("expected a default disabled auto-task config, got %+v", page.Future)
	}
}

func TestSearchEventsOverlap(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	center := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	overlapping := store.CalendarEvent{
		ID: "o1", Source: "local", Title: "Quarterly Planning", Start: time.Date(2025, 11, 1, 23, 0, 0, 0, time.UTC),
		End: ptr(time.Date(2025, 11, 2, 1, 0, 0, 0, time.UTC)),
	}
	_ = db.UpsertEvent(context.Background(), overlapping)

	agg := timeline.New(stubSource{events: []store.CalendarEvent{overlapping}}, db, time.UTC)
	filters := timeline.Filters{StartDate: ptr(center), EndDate: ptr(center)}
	results, err := agg.SearchEvents(context.Background(), "Planning", filters, false)
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("SearchEvents: got %d results, want 1", len(results))
	}
	if results[0].MatchSnippet == "" {
		t.Fatal("expected a non-empty match snippet")
	}
}

func TestSearchEventsMatchesAttachmentText(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	tmpFile := filepath.Join(t.TempDir(), "transcript.txt")
	if err := os.WriteFile(tmpFile, []byte("we discussed the quarterly roadmap at length"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	now := time.Now().UTC()
	e := store.CalendarEvent{ID: "e1", Source: "local", Title: "Sync", Start: now.Add(-time.Hour), End: ptr(now.Add(-30 * time.Minute))}
	_ = db.UpsertEvent(context.Background(), e)
	_ = db.UpsertAttachment(context.Background(), store.EventAttachment{
		ID: "a1", EventID: "e1", EventSource: "local", Kind: store.AttachmentTranscript,
		FilePath: tmpFile, ByteSize: 10, CreatedAt: now,
	})

	agg := timeline.New(stubSource{events: []store.CalendarEvent{e}}, db, time.UTC)
	results, err := agg.SearchEvents(context.Background(), "roadmap", timeline.Filters{}, false)
	if err != nil {
		t.Fatalf("SearchEvents: %v", err)
	}
	if len(results) != 1 || results[0].Event.ID != "e1" {
		t.Fatalf("expected transcript-text match, got %+v", results)
	}
}

func TestSearchEventsRejectsEmptyQuery(t *testing.T) {
	t.Parallel()
	db := openTestStore(t)
	agg := timeline.New(stubSource{}, db, time.UTC)
	if _, err := agg.SearchEvents(context.Background(), "   ", timeline.Filters{}, false); err == nil {
		t.Fatal("expected validation error for empty query")
	}
}
