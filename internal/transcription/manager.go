// Package transcription implements the Transcription Manager: task
// submission, the worker body driving a speech.Engine over a queued file,
// export rendering, and restart recovery. Grounded on the teacher's
// internal/dvr/manager.go for the submit/worker/export shape (a manager
// owning a queue and a lazily-constructed backend, with atomic artifact
// writes and listener fan-out through the event bus) adapted from DVR
// recording jobs to file transcription jobs.
package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/events"
	"github.com/echonote/engine/internal/filestore"
	"github.com/echonote/engine/internal/observe"
	"github.com/echonote/engine/internal/store"
	"github.com/echonote/engine/internal/taskqueue"
	"github.com/echonote/engine/pkg/speech"
)

const artifactFilePermission = 0o600

// supportedExtensions is the fixed set of recognized audio/video extensions
// add_task validates against.
var supportedExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true,
	".ogg": true, ".mp4": true, ".mov": true, ".mkv": true,
}

// SupportedExtension reports whether ext (as returned by filepath.Ext,
// including the leading dot) is a recognized audio/video extension.
func SupportedExtension(ext string) bool {
	return supportedExtensions[strings.ToLower(ext)]
}

// AddTaskOptions carries the per-submission parameters add_task accepts.
type AddTaskOptions struct {
	Language     string
	OutputFormat string
	OutputPath   string
	Engine       speech.Options
}

// Options configures a new Manager.
type Options struct {
	Store        *store.Store
	Files        *filestore.Store
	Queue        *taskqueue.Queue
	Loader       *speech.Loader
	Bus          *events.Bus
	Metrics      *observe.Metrics
	Converter    Converter // defaults to NewDefaultConverter()
	SidecarPath  string
	DefaultEngineName   string // recorded on the task row; the Loader decides the actual implementation
	DefaultOutputFormat string // used when AddTaskOptions.OutputFormat is empty
}

// Manager owns the task queue and the speech engine handle, and drives the
// submit -> transcribe -> persist -> export pipeline spec §4.6 describes.
type Manager struct {
	store     *store.Store
	files     *filestore.Store
	queue     *taskqueue.Queue
	loader    *speech.Loader
	bus       *events.Bus
	metrics   *observe.Metrics
	converter Converter
	sidecar   *sidecar

	defaultEngineName   string
	defaultOutputFormat string
}

// New constructs a Manager. It does not start the queue; call StartProcessing
// to run restart recovery and begin admitting work.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil || opts.Files == nil || opts.Queue == nil || opts.Loader == nil {
		return nil, errs.Fatalf("transcription: Store, Files, Queue, and Loader are required")
	}
	converter := opts.Converter
	if converter == nil {
		converter = NewDefaultConverter()
	}
	engineName := opts.DefaultEngineName
	if engineName == "" {
		engineName = "whisper-native"
	}
	outputFormat := opts.DefaultOutputFormat
	if outputFormat == "" {
		outputFormat = "txt"
	}

	return &Manager{
		store:               opts.Store,
		files:               opts.Files,
		queue:               opts.Queue,
		loader:              opts.Loader,
		bus:                 opts.Bus,
		metrics:             opts.Metrics,
		converter:           converter,
		sidecar:             newSidecar(opts.SidecarPath),
		defaultEngineName:   engineName,
		defaultOutputFormat: outputFormat,
	}, nil
}

// AddTask validates path and submits it for transcription, returning the new
// task's id. The task is buffered by the queue if it is not yet running.
func (m *Manager) AddTask(ctx context.Context, path string, opts AddTaskOptions) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errs.Validationf("transcription: %q: %w", path, err)
	}
	if info.IsDir() {
		return "", errs.Validationf("transcription: %q is a directory", path)
	}
	if !SupportedExtension(filepath.Ext(path)) {
		return "", errs.Validationf("transcription: %q has an unrecognized extension", path)
	}

	outputFormat := opts.OutputFormat
	if outputFormat == "" {
		outputFormat = m.defaultOutputFormat
	}

	id := uuid.NewString()
	task := store.TranscriptionTask{
		ID:             id,
		SourcePath:     path,
		ByteSize:       info.Size(),
		Status:         store.TaskPending,
		Progress:       0,
		SourceLanguage: opts.Language,
		EngineName:     m.defaultEngineName,
		OutputFormat:   outputFormat,
		OutputPath:     opts.OutputPath,
		CreatedAt:      time.Now(),
	}
	if err := m.store.CreateTask(ctx, task); err != nil {
		return "", err
	}
	if err := m.sidecar.set(id, opts.Engine); err != nil {
		return "", err
	}

	m.publish(events.TaskAdded, id)
	m.enqueue(id)
	return id, nil
}

// AddTasksFromFolder walks root and submits every file with a recognized
// extension. Per-file failures are logged and skipped rather than aborting
// the whole walk; the returned error is non-nil only if the walk itself
// could not proceed.
func (m *Manager) AddTasksFromFolder(ctx context.Context, root string, opts AddTaskOptions) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !SupportedExtension(filepath.Ext(path)) {
			return nil
		}
		id, addErr := m.AddTask(ctx, path, opts)
		if addErr != nil {
			slog.Warn("transcription: skipping file in folder submission", "path", path, "error", addErr)
			return nil
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return ids, errs.Transientf("transcription: walk %q: %w", root, err)
	}
	return ids, nil
}

func (m *Manager) enqueue(id string) {
	m.queue.Add(id, m.runTask(id))
}

// runTask returns the worker body for a single task id, run on the queue's
// own goroutine. The step order matches the invariant order the manager
// must observe: load+transition, engine call, persist artifact, finalize
// metadata, auto-export, sidecar cleanup.
func (m *Manager) runTask(id string) taskqueue.TaskFunc {
	return func(ctx context.Context, token *taskqueue.CancellationToken) error {
		start := time.Now()

		if token.Cancelled() {
			return m.handleCancelled(id)
		}

		task, err := m.store.GetTask(ctx, id)
		if err != nil {
			return err
		}

		startedAt := time.Now()
		zero := 0
		if err := m.store.TransitionTask(ctx, id, store.TaskProcessing, store.TaskTransitionOpts{
			StartedAt: &startedAt, Progress: &zero,
		}); err != nil {
			return err
		}
		m.publish(events.TaskUpdated, id)

		if token.Cancelled() {
			return m.handleCancelled(id)
		}

		engine, err := m.loader.Get()
		if err != nil {
			return m.handleFailure(ctx, id, err)
		}

		engineOpts, _ := m.sidecar.get(id)
		if engineOpts.Language == "" {
			engineOpts.Language = task.SourceLanguage
		}

		progressFn := func(percent int) {
			_ = m.store.UpdateTaskProgress(context.Background(), id, percent)
			m.publish(events.TaskUpdated, id)
		}

		result, err := engine.TranscribeFile(ctx, task.SourcePath, engineOpts, progressFn)
		if err != nil {
			if token.Cancelled() {
				return m.handleCancelled(id)
			}
			return m.handleFailure(ctx, id, err)
		}

		if token.Cancelled() {
			return m.handleCancelled(id)
		}

		artifact := artifactFromResult(result)
		data, err := json.Marshal(artifact)
		if err != nil {
			return m.handleFailure(ctx, id, err)
		}
		if _, err := m.files.Save(filestore.Transcripts, artifactName(id), data); err != nil {
			return m.handleFailure(ctx, id, err)
		}

		if token.Cancelled() {
			return m.handleCancelled(id)
		}

		completedAt := time.Now()
		hundred := 100
		var durationSecs *float64
		if result.Duration > 0 {
			d := result.Duration.Seconds()
			durationSecs = &d
		}
		if err := m.store.TransitionTask(ctx, id, store.TaskCompleted, store.TaskTransitionOpts{
			CompletedAt: &completedAt, Progress: &hundred, DurationSecs: durationSecs,
		}); err != nil {
			return err
		}
		m.publish(events.TaskUpdated, id)
		m.publish(events.TaskCompleted, id)

		if m.metrics != nil {
			m.metrics.TaskDuration.Record(ctx, time.Since(start).Seconds())
			m.metrics.RecordTaskOutcome(ctx, "completed")
		}

		if refreshed, err := m.store.GetTask(ctx, id); err == nil {
			m.autoExport(ctx, artifact, *refreshed)
		}

		m.sidecar.delete(id)
		return nil
	}
}

// handleCancelled marks a task cancelled and prunes its sidecar entry. It
// never re-raises — the caller returns its result directly to the queue.
func (m *Manager) handleCancelled(id string) error {
	ctx := context.Background()
	now := time.Now()
	_ = m.store.TransitionTask(ctx, id, store.TaskCancelled, store.TaskTransitionOpts{CompletedAt: &now})
	m.publish(events.TaskUpdated, id)
	m.publish(events.TaskCancelled, id)
	if m.metrics != nil {
		m.metrics.RecordTaskOutcome(ctx, "cancelled")
	}
	m.sidecar.delete(id)
	return taskqueue.ErrCancelled
}

// handleFailure marks a task failed and records the error. The sidecar entry
// is intentionally left in place: a Transient-kind error may be retried by
// the queue, and the retried attempt still needs the original engine
// options.
func (m *Manager) handleFailure(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	now := time.Now()
	_ = m.store.TransitionTask(ctx, id, store.TaskFailed, store.TaskTransitionOpts{
		ErrorMessage: &msg, CompletedAt: &now,
	})
	m.publish(events.TaskUpdated, id)
	m.publish(events.TaskFailed, id)
	if m.metrics != nil {
		m.metrics.RecordTaskOutcome(ctx, "failed")
	}
	return cause
}

// autoExport renders artifact in task.OutputFormat and writes it to
// task.OutputPath (or a derived default under Exports/ when unset). A write
// failure is retried once into an Exports/ fallback name; export failures
// never fail the task, they are only logged.
func (m *Manager) autoExport(ctx context.Context, artifact Artifact, task store.TranscriptionTask) {
	format := task.OutputFormat
	if format == "" {
		format = m.defaultOutputFormat
	}
	rendered, err := m.converter.Convert(ctx, artifact, format)
	if err != nil {
		slog.Error("transcription: auto-export: render", "task", task.ID, "error", err)
		return
	}

	if savedPath, ok := m.writePrimaryExport(task, rendered, format); ok {
		_ = m.store.TransitionTask(ctx, task.ID, store.TaskCompleted, store.TaskTransitionOpts{OutputPath: &savedPath})
		return
	}

	fallbackName := m.files.UniqueName(filestore.Exports, fmt.Sprintf("%s.%s", task.ID, format))
	savedPath, err := m.files.Save(filestore.Exports, fallbackName, rendered)
	if err != nil {
		slog.Error("transcription: auto-export: fallback write failed", "task", task.ID, "error", err)
		return
	}
	_ = m.store.TransitionTask(ctx, task.ID, store.TaskCompleted, store.TaskTransitionOpts{OutputPath: &savedPath})
}

// writePrimaryExport attempts the task's first-choice export destination:
// the explicit OutputPath if set, else a name derived from the source file
// stem inside Exports/.
func (m *Manager) writePrimaryExport(task store.TranscriptionTask, rendered []byte, format string) (string, bool) {
	if task.OutputPath != "" {
		if err := writeExternalFile(task.OutputPath, rendered); err != nil {
			slog.Warn("transcription: auto-export: primary write failed, falling back", "task", task.ID, "error", err)
			return "", false
		}
		return task.OutputPath, true
	}

	stem := strings.TrimSuffix(filepath.Base(task.SourcePath), filepath.Ext(task.SourcePath))
	name := m.files.UniqueName(filestore.Exports, fmt.Sprintf("%s.%s", stem, format))
	saved, err := m.files.Save(filestore.Exports, name, rendered)
	if err != nil {
		slog.Warn("transcription: auto-export: default write failed, falling back", "task", task.ID, "error", err)
		return "", false
	}
	return saved, true
}

// ExportResult renders the persisted artifact for taskID in format and
// writes it to outputPath. Only permitted once the task has completed.
func (m *Manager) ExportResult(ctx context.Context, taskID, format, outputPath string) error {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != store.TaskCompleted {
		return errs.Validationf("transcription: task %q is %q, not completed", taskID, task.Status)
	}

	artifact, err := m.loadArtifact(taskID)
	if err != nil {
		return err
	}
	rendered, err := m.converter.Convert(ctx, artifact, format)
	if err != nil {
		return err
	}
	if err := writeExternalFile(outputPath, rendered); err != nil {
		return errs.Transientf("transcription: export task %q: %w", taskID, err)
	}
	return m.store.TransitionTask(ctx, taskID, store.TaskCompleted, store.TaskTransitionOpts{OutputPath: &outputPath})
}

func (m *Manager) loadArtifact(taskID string) (Artifact, error) {
	data, err := m.files.Read(filestore.Transcripts, artifactName(taskID))
	if err != nil {
		return Artifact{}, err
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, errs.Integrityf("transcription: decode artifact for task %q: %w", taskID, err)
	}
	return artifact, nil
}

// StartProcessing runs restart recovery: any task left in processing is
// reset to pending, everything pending is requeued in created_at order,
// stale sidecar entries are pruned, and the queue is started.
func (m *Manager) StartProcessing(ctx context.Context) error {
	if _, err := m.store.ResetStaleProcessingTasks(ctx); err != nil {
		return err
	}

	pending, err := m.store.ListTasksByStatus(ctx, store.TaskPending)
	if err != nil {
		return err
	}

	allIDs, err := m.store.ListAllTaskIDs(ctx)
	if err != nil {
		return err
	}
	validIDs := make(map[string]bool, len(allIDs))
	for _, id := range allIDs {
		validIDs[id] = true
	}
	if _, err := m.sidecar.gc(validIDs); err != nil {
		slog.Warn("transcription: sidecar gc failed during restart recovery", "error", err)
	}

	m.queue.Start()
	for _, t := range pending {
		m.enqueue(t.ID)
	}
	return nil
}

// AddListener registers fn for every task/processing lifecycle topic the
// manager emits. It returns a function that unsubscribes from all of them.
func (m *Manager) AddListener(fn func(events.Topic, any)) (stop func()) {
	if m.bus == nil {
		return func() {}
	}
	topics := []events.Topic{
		events.TaskAdded, events.TaskUpdated, events.TaskCompleted,
		events.TaskFailed, events.TaskCancelled, events.TaskDeleted,
		events.ProcessingPaused, events.ProcessingResumed,
	}
	stops := make([]func(), 0, len(topics))
	for _, topic := range topics {
		stops = append(stops, m.bus.Listen(topic, func(ev events.Event) { fn(ev.Topic, ev.Payload) }))
	}
	return func() {
		for _, s := range stops {
			s()
		}
	}
}

func (m *Manager) publish(topic events.Topic, taskID string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Topic: topic, Payload: taskID})
}

func artifactName(taskID string) string {
	return taskID + ".json"
}

// writeExternalFile atomically-ish writes data to an arbitrary filesystem
// path outside the file store's rooted layout (a user-chosen export
// destination), creating parent directories as needed.
func writeExternalFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, artifactFilePermission)
}
