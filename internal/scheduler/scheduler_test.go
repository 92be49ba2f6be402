package scheduler_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/echonote/engine/internal/events"
	"github.com/echonote/engine/internal/filestore"
	"github.com/echonote/engine/internal/realtime"
	"github.com/echonote/engine/internal/scheduler"
	"github.com/echonote/engine/internal/settings"
	"github.com/echonote/engine/internal/store"
	audiomock "github.com/echonote/engine/pkg/audio/mock"
	sttmock "github.com/echonote/engine/pkg/provider/stt/mock"
	vadmock "github.com/echonote/engine/pkg/provider/vad/mock"
	"github.com/echonote/engine/pkg/types"
)

func ptr(t time.Time) *time.Time { return &t }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTestRecorder builds a real realtime.Recorder wired to mock
// collaborators. The mock audio device's stream channel is closed
// immediately so the capture loop exits without needing any frames,
// letting StartRecording/StopRecording complete instantly in tests.
func newTestRecorder(t *testing.T) *realtime.Recorder {
	t.Helper()
	files, err := filestore.Open(t.TempDir(), filestore.Options{})
	if err != nil {
		t.Fatalf("filestore.Open: %v", err)
	}
	device := &audiomock.Device{}
	stream := &audiomock.Stream{FramesCh: make(chan types.AudioFrame)}
	close(stream.FramesCh)
	device.OpenResult = stream

	return realtime.New(realtime.Options{
		Device: device,
		VAD:    &vadmock.Engine{},
		STT:    &sttmock.Provider{},
		Files:  files,
	})
}

type stubCalendar struct {
	mu     sync.Mutex
	events map[string]store.CalendarEvent
}

func newStubCalendar(evs ...store.CalendarEvent) *stubCalendar {
	m := make(map[string]store.CalendarEvent, len(evs))
	for _, e := range evs {
		m[e.Source+"/"+e.ID] = e
	}
	return &stubCalendar{events: m}
}

func (c *stubCalendar) GetEvents(ctx context.Context, from, to time.Time) ([]store.CalendarEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.CalendarEvent
	for _, e := range c.events {
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

func (c *stubCalendar) GetEvent(ctx context.Context, source, id string) (*store.CalendarEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.events[source+"/"+id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *stubCalendar) update(e store.CalendarEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[e.Source+"/"+e.ID] = e
}

type stubNotifier struct {
	mu    sync.Mutex
	seen  []scheduler.Notification
}

func (n *stubNotifier) Notify(ctx context.Context, note scheduler.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, note)
}

func (n *stubNotifier) kinds() []scheduler.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]scheduler.NotificationKind, len(n.seen))
	for i, note := range n.seen {
		out[i] = note.Kind
	}
	return out
}

func hasKind(kinds []scheduler.NotificationKind, want scheduler.NotificationKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// clock lets tests drive the scheduler's notion of "now" deterministically.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(start time.Time) *clock { return &clock{now: start} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSettings(t *testing.T) *settings.Settings {
	t.Helper()
	s, err := settings.Open("", events.New())
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	return s
}

func TestTickAutoStartsAndAutoStopsWithDelay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	clk := newClock(now)

	event := store.CalendarEvent{
		ID: "e1", Source: "local", Title: "Standup",
		Start: now, End: ptr(now.Add(10 * time.Minute)),
	}
	cal := newStubCalendar(event)
	db := openTestStore(t)
	if err := db.UpsertAutoTaskConfig(context.Background(), store.AutoTaskConfig{
		EventID: event.ID, EventSource: event.Source, EnableRecording: true, EnableTranscription: true,
	}); err != nil {
		t.Fatalf("UpsertAutoTaskConfig: %v", err)
	}

	notifier := &stubNotifier{}
	bus := events.New()
	snap := newTestSettings(t)

	sched := scheduler.New(scheduler.Options{
		Calendar: cal,
		Store:    db,
		Recorder: newTestRecorder(t),
		Settings: snap,
		Bus:      bus,
		Notifier: notifier,
		Now:      clk.Now,
	})

	sched.Tick(context.Background())

	ids := sched.ActiveEventIDs()
	if len(ids) != 1 || ids[0] != "local/e1" {
		t.Fatalf("expected event auto-started, active=%v", ids)
	}
	if !hasKind(notifier.kinds(), scheduler.NotificationAutoStartSuccess) {
		t.Fatalf("expected an auto-start-success notification, got %v", notifier.kinds())
	}

	// Advance past end+grace (default grace is 5 minutes): the event should
	// now be eligible for a stop decision. With no ConfirmationBridge wired,
	// the scheduler defaults to delaying.
	clk.Advance(16 * time.Minute)
	sched.Tick(context.Background())

	if _, stillActive := indexOf(sched.ActiveEventIDs(), "local/e1"); !stillActive {
		t.Fatalf("expected recording to remain active pending a deferred stop")
	}
	if !hasKind(notifier.kinds(), scheduler.NotificationAutoStopDeferred) {
		t.Fatalf("expected a deferred-stop notification, got %v", notifier.kinds())
	}
	next, ok := sched.PendingStopConfirmation(event.Source, event.ID)
	if !ok {
		t.Fatal("expected a pending stop confirmation to be recorded")
	}
	if !next.After(clk.Now()) {
		t.Fatalf("expected next prompt time to be in the future, got %v (now=%v)", next, clk.Now())
	}
}

func TestTickStopsImmediatelyWithConfirmingBridge(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	clk := newClock(now)

	event := store.CalendarEvent{
		ID: "e2", Source: "local", Title: "Retro",
		Start: now, End: ptr(now.Add(5 * time.Minute)),
	}
	cal := newStubCalendar(event)
	db := openTestStore(t)
	if err := db.UpsertAutoTaskConfig(context.Background(), store.AutoTaskConfig{
		EventID: event.ID, EventSource: event.Source, EnableRecording: true,
	}); err != nil {
		t.Fatalf("UpsertAutoTaskConfig: %v", err)
	}

	notifier := &stubNotifier{}
	bridge := stopNowBridge{}

	sched := scheduler.New(scheduler.Options{
		Calendar: cal,
		Store:    db,
		Recorder: newTestRecorder(t),
		Settings: newTestSettings(t),
		Bus:      events.New(),
		Notifier: notifier,
		Bridge:   bridge,
		Now:      clk.Now,
	})

	sched.Tick(context.Background())
	if ids := sched.ActiveEventIDs(); len(ids) != 1 {
		t.Fatalf("expected auto-start, active=%v", ids)
	}

	clk.Advance(11 * time.Minute)
	sched.Tick(context.Background())

	if ids := sched.ActiveEventIDs(); len(ids) != 0 {
		t.Fatalf("expected recording stopped, still active=%v", ids)
	}
	if !hasKind(notifier.kinds(), scheduler.NotificationAutoStopComplete) {
		t.Fatalf("expected an auto-stop-complete notification, got %v", notifier.kinds())
	}

	attachments, err := db.ListAttachments(context.Background(), event.Source, event.ID)
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	for _, a := range attachments {
		if a.Kind == store.AttachmentTranscript {
			t.Fatalf("transcription was not enabled for this event, should not have been persisted: %+v", a)
		}
	}
}

func TestTickIsIdempotentAcrossRepeatedCallsAtSameInstant(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	clk := newClock(now)

	event := store.CalendarEvent{
		ID: "e3", Source: "local", Title: "1:1",
		Start: now.Add(30 * time.Minute), End: ptr(now.Add(45 * time.Minute)),
	}
	cal := newStubCalendar(event)
	db := openTestStore(t)
	if err := db.UpsertAutoTaskConfig(context.Background(), store.AutoTaskConfig{
		EventID: event.ID, EventSource: event.Source, EnableRecording: true,
	}); err != nil {
		t.Fatalf("UpsertAutoTaskConfig: %v", err)
	}

	notifier := &stubNotifier{}
	sched := scheduler.New(scheduler.Options{
		Calendar: cal,
		Store:    db,
		Recorder: newTestRecorder(t),
		Settings: newTestSettings(t),
		Bus:      events.New(),
		Notifier: notifier,
		Now:      clk.Now,
	})

	sched.Tick(context.Background())
	firstNotifyCount := len(notifier.kinds())
	sched.Tick(context.Background())
	secondNotifyCount := len(notifier.kinds())

	if firstNotifyCount != secondNotifyCount {
		t.Fatalf("second tick at the same instant produced new notifications: %d -> %d", firstNotifyCount, secondNotifyCount)
	}
}

func TestTickDoesNotAutoStartWhenAutoTaskDisabled(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	clk := newClock(now)

	event := store.CalendarEvent{
		ID: "e4", Source: "local", Title: "No auto-task configured",
		Start: now, End: ptr(now.Add(10 * time.Minute)),
	}
	cal := newStubCalendar(event)
	db := openTestStore(t)

	sched := scheduler.New(scheduler.Options{
		Calendar: cal,
		Store:    db,
		Recorder: newTestRecorder(t),
		Settings: newTestSettings(t),
		Bus:      events.New(),
		Notifier: &stubNotifier{},
		Now:      clk.Now,
	})

	sched.Tick(context.Background())
	if ids := sched.ActiveEventIDs(); len(ids) != 0 {
		t.Fatalf("expected no auto-start without an enabled auto-task config, got %v", ids)
	}
}

func TestTickRefusesAutoStartWhenAlreadyRecording(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	clk := newClock(now)

	busyEvent := store.CalendarEvent{
		ID: "busy", Source: "local", Title: "Busy slot",
		Start: now, End: ptr(now.Add(30 * time.Minute)),
	}
	rival := store.CalendarEvent{
		ID: "rival", Source: "local", Title: "Overlapping",
		Start: now, End: ptr(now.Add(30 * time.Minute)),
	}
	cal := newStubCalendar(busyEvent, rival)
	db := openTestStore(t)
	for _, e := range []store.CalendarEvent{busyEvent, rival} {
		if err := db.UpsertAutoTaskConfig(context.Background(), store.AutoTaskConfig{
			EventID: e.ID, EventSource: e.Source, EnableRecording: true,
		}); err != nil {
			t.Fatalf("UpsertAutoTaskConfig: %v", err)
		}
	}

	recorder := newTestRecorder(t)
	notifier := &stubNotifier{}
	sched := scheduler.New(scheduler.Options{
		Calendar: cal,
		Store:    db,
		Recorder: recorder,
		Settings: newTestSettings(t),
		Bus:      events.New(),
		Notifier: notifier,
		Now:      clk.Now,
	})

	sched.Tick(context.Background())
	ids := sched.ActiveEventIDs()
	if len(ids) != 1 {
		t.Fatalf("expected exactly one event to win the recorder, got %v", ids)
	}
	if !hasKind(notifier.kinds(), scheduler.NotificationAutoStartBusy) {
		t.Fatalf("expected an auto-start-busy notification for the loser, got %v", notifier.kinds())
	}
}

func indexOf(ids []string, want string) (int, bool) {
	for i, id := range ids {
		if id == want {
			return i, true
		}
	}
	return -1, false
}

type stopNowBridge struct{}

func (stopNowBridge) PromptStopConfirmation(ctx context.Context, event store.CalendarEvent) (scheduler.StopDecision, error) {
	return scheduler.StopDecision{Action: scheduler.StopActionStop}, nil
}
