// Package scheduler implements the Auto-Task Scheduler: a once-a-minute
// poller that reminds the user of upcoming meetings, auto-starts realtime
// recording sessions as calendar events begin, and auto-stops them after a
// grace period with user confirmation. Grounded on the teacher's
// internal/config.Watcher lifecycle shape (a background goroutine driven
// by a ticker/fsnotify channel, Start/Stop idempotent, a done channel plus
// WaitGroup for clean shutdown) generalized from a single file-change event
// into spec §4.8's richer per-tick reminder/start/stop state machine.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/engine/internal/events"
	"github.com/echonote/engine/internal/observe"
	"github.com/echonote/engine/internal/realtime"
	"github.com/echonote/engine/internal/settings"
	"github.com/echonote/engine/internal/store"
)

// Tick cadence and bounded-wait constants from spec §4.8 / §5. The window
// constants (minReminderWindow, futureOffset, minFutureWindow) are not
// numerically pinned by the spec; the values below are this
// implementation's resolution of that gap (recorded in DESIGN.md).
const (
	tickInterval = time.Minute

	minReminderWindow = 10 * time.Minute
	futureOffset      = 30 * time.Minute
	minFutureWindow   = time.Hour

	autoStartWindow = 60 * time.Second

	stopConfirmationTimeout = 180 * time.Second
	startWaitTimeout        = 5 * time.Second
	stopWaitTimeout         = 10 * time.Second

	forceStopSafetyValve = 4 * time.Hour
)

// CalendarSource is the slice of the Calendar Store the scheduler needs: a
// windowed query for the per-tick timeline pass, and a single-event refresh
// for active recordings (spec §4.8 point 4: "refresh the event from the
// calendar store").
type CalendarSource interface {
	GetEvents(ctx context.Context, from, to time.Time) ([]store.CalendarEvent, error)
	GetEvent(ctx context.Context, source, id string) (*store.CalendarEvent, error)
}

// Options configures a new Scheduler.
type Options struct {
	Calendar CalendarSource
	Store    *store.Store
	Recorder *realtime.Recorder
	Settings *settings.Settings
	Bus      *events.Bus
	Notifier Notifier
	Bridge   ConfirmationBridge
	Metrics  *observe.Metrics

	// Now overrides the clock; nil defaults to time.Now. Tests supply a
	// deterministic clock to drive the tick algorithm's edge cases.
	Now func() time.Time
}

type activeRecording struct {
	event     store.CalendarEvent
	startedAt time.Time
	cancel    context.CancelFunc
	autoTask  store.AutoTaskConfig
}

type pendingStopConfirmation struct {
	nextPromptAt time.Time
}

// Scheduler implements spec §4.8's Auto-Task Scheduler.
type Scheduler struct {
	cal      CalendarSource
	db       *store.Store
	recorder *realtime.Recorder
	settings *settings.Settings
	notifier Notifier
	bridge   ConfirmationBridge
	metrics  *observe.Metrics
	now      func() time.Time

	unsubscribe func()

	cfgMu                        sync.Mutex
	reminderMinutes              int
	autoStopGraceMinutes         int
	stopConfirmationDelayMinutes int

	stateMu     sync.Mutex
	notified    map[string]bool
	started     map[string]bool
	active      map[string]*activeRecording
	pendingStop map[string]*pendingStopConfirmation

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Scheduler. It does not start polling; call Start.
func New(opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	snap := opts.Settings.Snapshot()

	s := &Scheduler{
		cal:                          opts.Calendar,
		db:                           opts.Store,
		recorder:                    opts.Recorder,
		settings:                     opts.Settings,
		notifier:                    opts.Notifier,
		bridge:                       opts.Bridge,
		metrics:                      opts.Metrics,
		now:                          now,
		reminderMinutes:              snap.Timeline.ReminderMinutes,
		autoStopGraceMinutes:         snap.Timeline.AutoStopGraceMinutes,
		stopConfirmationDelayMinutes: snap.Timeline.StopConfirmationDelayMinutes,
		notified:                     make(map[string]bool),
		started:                      make(map[string]bool),
		active:                       make(map[string]*activeRecording),
		pendingStop:                  make(map[string]*pendingStopConfirmation),
	}

	if opts.Bus != nil {
		s.unsubscribe = opts.Bus.Listen(events.SettingChanged, s.handleSettingChanged)
	}
	return s
}

// Start begins polling in a background goroutine, running one immediate
// pass before the first ticker-driven pass. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts polling and waits for the in-flight tick (if any) to finish.
// Idempotent. It does not stop any active recordings.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	done := s.done
	s.runMu.Unlock()

	close(done)
	s.wg.Wait()
}

// Close stops polling and releases the settings subscription. Call once,
// at application shutdown.
func (s *Scheduler) Close() {
	s.Stop()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.runMu.Lock()
	done := s.done
	s.runMu.Unlock()

	s.Tick(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// IsRunning reports whether the background poller is active.
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// ActiveEventIDs returns the (source, id) keys of events currently
// recording, for diagnostics and tests.
func (s *Scheduler) ActiveEventIDs() []string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	out := make([]string, 0, len(s.active))
	for k := range s.active {
		out = append(out, k)
	}
	return out
}

// PendingStopConfirmation reports the next prompt time for an active
// event's deferred stop confirmation, if any.
func (s *Scheduler) PendingStopConfirmation(eventSource, eventID string) (time.Time, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	p, ok := s.pendingStop[eventKey(eventSource, eventID)]
	if !ok {
		return time.Time{}, false
	}
	return p.nextPromptAt, true
}

func eventKey(source, id string) string { return source + "/" + id }

// Tick runs one pass of the scheduler's per-tick algorithm (spec §4.8).
// Exported so tests (and a caller that wants tighter-than-a-minute control)
// can drive it directly; the tick is not reentrant — concurrent calls are
// serialized by stateMu-guarded map access, but callers should not rely on
// that for correctness, matching spec §5's "no two ticks overlap"
// guarantee, which Start's single-goroutine loop provides naturally.
func (s *Scheduler) Tick(ctx context.Context) {
	tickStart := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SchedulerTickDuration.Record(ctx, time.Since(tickStart).Seconds())
		}
	}()

	now := s.now()

	s.cfgMu.Lock()
	reminderMinutes := s.reminderMinutes
	autoStopGrace := s.autoStopGraceMinutes
	s.cfgMu.Unlock()

	pastWindow := time.Duration(reminderMinutes) * time.Minute
	if pastWindow < minReminderWindow {
		pastWindow = minReminderWindow
	}
	futureWindow := time.Duration(reminderMinutes)*time.Minute + futureOffset
	if futureWindow < minFutureWindow {
		futureWindow = minFutureWindow
	}

	from := now.Add(-pastWindow)
	to := now.Add(futureWindow)

	evs, err := s.cal.GetEvents(ctx, from, to)
	if err != nil {
		slog.Warn("scheduler: failed to query timeline window", "error", err)
		return
	}

	recoveryWindow := autoStartRecoveryWindow(reminderMinutes)
	for _, e := range evs {
		key := eventKey(e.Source, e.ID)
		untilStart := e.Start.Sub(now)

		if untilStart > 0 {
			s.evaluateFutureEvent(ctx, e, key, untilStart, reminderMinutes)
			continue
		}

		end := eventEnd(e)
		s.stateMu.Lock()
		_, isActive := s.active[key]
		alreadyStarted := s.started[key]
		s.stateMu.Unlock()
		if isActive || alreadyStarted {
			continue
		}
		if now.Before(end) && now.Sub(e.Start) <= recoveryWindow {
			s.attemptAutoStart(ctx, e, key)
		}
	}

	s.evaluateActiveRecordings(ctx, autoStopGrace)
	s.cleanup(now, evs)
}

func (s *Scheduler) evaluateFutureEvent(ctx context.Context, e store.CalendarEvent, key string, untilStart time.Duration, reminderMinutes int) {
	cfg, err := s.db.GetAutoTaskConfig(ctx, e.Source, e.ID)
	if err != nil {
		slog.Warn("scheduler: failed to load auto-task config", "event", key, "error", err)
		return
	}
	if cfg.Disabled() {
		return
	}

	reminderWindow := time.Duration(reminderMinutes) * time.Minute
	if untilStart <= reminderWindow {
		s.stateMu.Lock()
		already := s.notified[key]
		if !already {
			s.notified[key] = true
		}
		s.stateMu.Unlock()
		if !already {
			s.notifier.Notify(ctx, Notification{
				Kind: NotificationReminder, EventID: key,
				Title: "Upcoming meeting", Detail: e.Title,
			})
		}
	}

	if untilStart <= autoStartWindow {
		s.stateMu.Lock()
		already := s.started[key]
		s.stateMu.Unlock()
		if !already {
			s.attemptAutoStart(ctx, e, key)
		}
	}
}

func (s *Scheduler) attemptAutoStart(ctx context.Context, e store.CalendarEvent, key string) {
	cfg, err := s.db.GetAutoTaskConfig(ctx, e.Source, e.ID)
	if err != nil {
		slog.Warn("scheduler: failed to load auto-task config for start", "event", key, "error", err)
		return
	}
	if cfg.Disabled() {
		return
	}
	if s.startAutoTasks(ctx, e, cfg) {
		s.stateMu.Lock()
		s.started[key] = true
		s.stateMu.Unlock()
	}
}

// autoStartRecoveryWindow is spec §4.8 step 3's
// max(60s, reminder_minutes·60).
func autoStartRecoveryWindow(reminderMinutes int) time.Duration {
	w := time.Duration(reminderMinutes) * time.Minute
	if w < time.Minute {
		return time.Minute
	}
	return w
}

func eventEnd(e store.CalendarEvent) time.Time {
	if e.End != nil {
		return *e.End
	}
	return e.Start
}

func (s *Scheduler) evaluateActiveRecordings(ctx context.Context, autoStopGraceMinutes int) {
	s.stateMu.Lock()
	keys := make([]string, 0, len(s.active))
	for k := range s.active {
		keys = append(keys, k)
	}
	s.stateMu.Unlock()

	for _, key := range keys {
		s.stateMu.Lock()
		rec, ok := s.active[key]
		s.stateMu.Unlock()
		if !ok {
			continue
		}

		event := rec.event
		if refreshed, err := s.cal.GetEvent(ctx, rec.event.Source, rec.event.ID); err == nil {
			event = *refreshed
		} else {
			slog.Warn("scheduler: failed to refresh active event, using cached snapshot", "event", key, "error", err)
		}

		now := s.now()
		stopDeadline := eventEnd(event).Add(time.Duration(autoStopGraceMinutes) * time.Minute)
		if now.Before(stopDeadline) {
			s.stateMu.Lock()
			delete(s.pendingStop, key)
			s.stateMu.Unlock()
			continue
		}

		s.stateMu.Lock()
		pending, hasPending := s.pendingStop[key]
		s.stateMu.Unlock()
		if hasPending && now.Before(pending.nextPromptAt) {
			continue
		}

		decision := s.promptStopConfirmation(ctx, event)
		switch decision.Action {
		case StopActionStop:
			s.stopAutoTasks(ctx, key, event)
		case StopActionDelay:
			next := now.Add(time.Duration(decision.DelayMinutes) * time.Minute)
			s.stateMu.Lock()
			delete(s.pendingStop, key)
			s.pendingStop[key] = &pendingStopConfirmation{nextPromptAt: next}
			s.stateMu.Unlock()
			s.notifier.Notify(ctx, Notification{
				Kind: NotificationAutoStopDeferred, EventID: key,
				Title: "Stop deferred", Detail: event.Title,
			})
		}
	}
}

func (s *Scheduler) promptStopConfirmation(ctx context.Context, event store.CalendarEvent) StopDecision {
	if s.bridge == nil {
		return s.defaultStopDecision()
	}
	promptCtx, cancel := context.WithTimeout(ctx, stopConfirmationTimeout)
	defer cancel()

	decision, err := s.bridge.PromptStopConfirmation(promptCtx, event)
	if err != nil {
		slog.Warn("scheduler: stop confirmation prompt failed, deferring", "event", eventKey(event.Source, event.ID), "error", err)
		return s.defaultStopDecision()
	}
	return decision
}

func (s *Scheduler) defaultStopDecision() StopDecision {
	s.cfgMu.Lock()
	delay := s.stopConfirmationDelayMinutes
	s.cfgMu.Unlock()
	if delay <= 0 {
		delay = 5
	}
	return StopDecision{Action: StopActionDelay, DelayMinutes: delay}
}

func (s *Scheduler) cleanup(now time.Time, evs []store.CalendarEvent) {
	current := make(map[string]bool, len(evs))
	for _, e := range evs {
		current[eventKey(e.Source, e.ID)] = true
	}

	s.stateMu.Lock()
	for k := range s.notified {
		if !current[k] {
			delete(s.notified, k)
		}
	}
	for k := range s.started {
		if _, active := s.active[k]; active {
			continue
		}
		if !current[k] {
			delete(s.started, k)
		}
	}
	for k := range s.pendingStop {
		if _, active := s.active[k]; !active {
			delete(s.pendingStop, k)
		}
	}

	var forceStop []string
	for k, rec := range s.active {
		if now.Sub(rec.startedAt) > forceStopSafetyValve {
			forceStop = append(forceStop, k)
		}
	}
	s.stateMu.Unlock()

	for _, key := range forceStop {
		s.stateMu.Lock()
		rec, ok := s.active[key]
		s.stateMu.Unlock()
		if !ok {
			continue
		}
		slog.Warn("scheduler: force-stopping recording past the safety valve window", "event", key)
		s.stopAutoTasks(context.Background(), key, rec.event)
	}
}

// startAutoTasks implements spec §4.8.2.
func (s *Scheduler) startAutoTasks(ctx context.Context, event store.CalendarEvent, cfg store.AutoTaskConfig) bool {
	key := eventKey(event.Source, event.ID)

	if s.recorder.IsRecording() {
		slog.Warn("scheduler: refusing to start, a recording is already in progress", "event", key)
		s.notifier.Notify(ctx, Notification{
			Kind: NotificationAutoStartBusy, EventID: key,
			Title: "Recording already in progress", Detail: event.Title,
		})
		return false
	}

	realtimeSettings := s.settings.Snapshot().Realtime
	sourceLang, targetLang := "", ""
	if len(cfg.Languages) > 0 {
		sourceLang = cfg.Languages[0]
	}
	if len(cfg.Languages) > 1 {
		targetLang = cfg.Languages[1]
	}

	translationEnabled := cfg.EnableTranslation &&
		realtimeSettings.TranslationEngine != "none" &&
		s.recorder.TranslationAvailable()

	startOpts := realtime.StartOptions{
		SourceLanguage:      sourceLang,
		TargetLanguage:      targetLang,
		TranslationEnabled:  translationEnabled,
		RecordingExtension:  realtimeSettings.RecordingFormat,
		VADThreshold:        realtimeSettings.VADThreshold,
		SilenceDurationMs:   realtimeSettings.SilenceDurationMs,
		MinAudioDurationSec: realtimeSettings.MinAudioDurationSec,
	}

	startCtx, cancelStart := context.WithTimeout(ctx, startWaitTimeout)
	defer cancelStart()
	if err := s.recorder.StartRecording(startCtx, startOpts); err != nil {
		slog.Error("scheduler: start_recording failed", "event", key, "error", err)
		s.notifier.Notify(ctx, Notification{
			Kind: NotificationAutoStartFailure, EventID: key,
			Title: "Failed to start recording", Detail: err.Error(),
		})
		return false
	}
	if !s.recorder.IsRecording() {
		slog.Error("scheduler: recorder did not report active after start_recording", "event", key)
		s.notifier.Notify(ctx, Notification{
			Kind: NotificationAutoStartFailure, EventID: key,
			Title: "Failed to start recording", Detail: event.Title,
		})
		return false
	}

	_, cancel := context.WithCancel(context.Background())
	s.stateMu.Lock()
	s.active[key] = &activeRecording{event: event, startedAt: s.now(), cancel: cancel, autoTask: cfg}
	s.stateMu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSchedulerAction(ctx, "start")
	}
	s.notifier.Notify(ctx, Notification{
		Kind: NotificationAutoStartSuccess, EventID: key,
		Title: "Recording started", Detail: event.Title,
	})
	return true
}

// stopAutoTasks implements spec §4.8.2's stop path: stop the recorder,
// persist whatever artifacts it produced as EventAttachments, and clear
// this event's active, started and pendingStop entries regardless of how
// stopping went (its notified entry is left for cleanup to drop).
func (s *Scheduler) stopAutoTasks(ctx context.Context, key string, event store.CalendarEvent) {
	s.stateMu.Lock()
	rec := s.active[key]
	s.stateMu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopWaitTimeout)
	defer cancel()

	result, err := s.recorder.StopRecording(stopCtx)
	if err != nil {
		slog.Error("scheduler: stop_recording failed", "event", key, "error", err)
	} else {
		flags := store.AutoTaskConfig{EnableRecording: true, EnableTranscription: true, EnableTranslation: true}
		if rec != nil {
			flags = rec.autoTask
		}
		s.persistArtifacts(ctx, event, result, flags)
	}

	if rec != nil && rec.cancel != nil {
		rec.cancel()
	}

	s.stateMu.Lock()
	delete(s.active, key)
	delete(s.started, key)
	delete(s.pendingStop, key)
	s.stateMu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSchedulerAction(ctx, "stop")
	}
	s.notifier.Notify(ctx, Notification{
		Kind: NotificationAutoStopComplete, EventID: key,
		Title: "Recording stopped", Detail: event.Title,
	})
}

// persistArtifacts writes an EventAttachment per artifact the recorder
// produced, skipping kinds the event's auto-task config did not enable —
// the recorder always captures and transcribes together (it has no partial
// "record but don't transcribe" mode), so the per-flag split happens here,
// at the attachment layer, rather than inside the recorder.
func (s *Scheduler) persistArtifacts(ctx context.Context, event store.CalendarEvent, result realtime.Result, flags store.AutoTaskConfig) {
	now := s.now()
	if flags.EnableRecording && result.RecordingPath != "" {
		s.upsertAttachment(ctx, event, store.AttachmentRecording, result.RecordingPath, now)
	}
	if flags.EnableTranscription && result.TranscriptPath != "" {
		s.upsertAttachment(ctx, event, store.AttachmentTranscript, result.TranscriptPath, now)
	}
	if flags.EnableTranslation && result.TranslationPath != "" {
		s.upsertAttachment(ctx, event, store.AttachmentTranslation, result.TranslationPath, now)
	}
}

func (s *Scheduler) upsertAttachment(ctx context.Context, event store.CalendarEvent, kind store.AttachmentKind, path string, now time.Time) {
	size := fileSize(path)
	err := s.db.UpsertAttachment(ctx, store.EventAttachment{
		ID: uuid.NewString(), EventID: event.ID, EventSource: event.Source,
		Kind: kind, FilePath: path, ByteSize: size, CreatedAt: now,
	})
	if err != nil {
		slog.Error("scheduler: failed to persist attachment", "event", eventKey(event.Source, event.ID), "kind", kind, "error", err)
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Scheduler) handleSettingChanged(ev events.Event) {
	ch, ok := ev.Payload.(settings.ChangeEvent)
	if !ok {
		return
	}

	switch ch.Key {
	case "timeline.reminder_minutes":
		s.cfgMu.Lock()
		s.reminderMinutes = toInt(ch.Value)
		s.cfgMu.Unlock()
		// A shrunk or widened reminder window only changes which future
		// occurrences are eligible for a fresh reminder; whether an
		// occurrence has already been auto-started is untouched (spec's
		// open question: no retroactive auto-start on window change).
		s.stateMu.Lock()
		s.notified = make(map[string]bool)
		s.stateMu.Unlock()
	case "timeline.auto_stop_grace_minutes":
		s.cfgMu.Lock()
		s.autoStopGraceMinutes = toInt(ch.Value)
		s.cfgMu.Unlock()
	case "timeline.stop_confirmation_delay_minutes":
		s.cfgMu.Lock()
		s.stopConfirmationDelayMinutes = toInt(ch.Value)
		s.cfgMu.Unlock()
	case "timeline.auto_start_enabled":
		enabled, _ := ch.Value.(bool)
		if enabled {
			s.Start(context.Background())
		} else {
			s.Stop()
		}
	case "*":
		snap := s.settings.Snapshot()
		s.cfgMu.Lock()
		s.reminderMinutes = snap.Timeline.ReminderMinutes
		s.autoStopGraceMinutes = snap.Timeline.AutoStopGraceMinutes
		s.stopConfirmationDelayMinutes = snap.Timeline.StopConfirmationDelayMinutes
		s.cfgMu.Unlock()
		s.stateMu.Lock()
		s.notified = make(map[string]bool)
		s.stateMu.Unlock()
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
