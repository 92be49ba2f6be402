// Package speech defines the Engine contract for batch file transcription,
// used by the Transcription Manager to turn a recorded audio/video file into
// timestamped segments. This is distinct from pkg/provider/stt.Provider,
// which streams partial/final transcripts for a live session; Engine instead
// transcribes a file end-to-end and reports progress via callback, matching
// the whisper.cpp-style batch inference pkg/provider/stt/whisper already
// wraps for streaming use.
package speech

import (
	"context"
	"time"

	"github.com/echonote/engine/pkg/types"
)

// Options carries engine-only transcription parameters persisted alongside
// a task (beam size, VAD filtering, prompt, temperature, a runtime model
// override) distinct from the task's own metadata.
type Options struct {
	Language    string
	BeamSize    int
	VADFilter   bool
	Prompt      string
	Temperature float64
	Model       string
}

// ProgressFunc reports transcription progress as a percentage in [0, 100].
// Implementations write it directly to the task row and fire task_updated;
// Engine implementations must call it at least once on completion with 100.
type ProgressFunc func(percent int)

// Result is the structured outcome of a file transcription.
type Result struct {
	Segments []types.Segment
	Language string
	Duration time.Duration
}

// Engine transcribes an audio/video file in one call, as opposed to the
// streaming session model of pkg/provider/stt.Provider.
type Engine interface {
	// TranscribeFile transcribes path and invokes progress as work proceeds.
	// Implementations must check ctx and return promptly on cancellation.
	TranscribeFile(ctx context.Context, path string, opts Options, progress ProgressFunc) (Result, error)

	// Name identifies the engine for logging and model-descriptor lookups.
	Name() string
}

// Factory constructs a new Engine, typically reading credentials/model
// configuration at call time so a Reload can pick up changes.
type Factory func() (Engine, error)

// Loader lazily constructs an Engine on first use and can be asked to
// reload when credentials or the configured engine change, per spec §4.6.
// Grounded on the mutex-guarded lazy-construct pattern used throughout
// ManuGH-xg2g (e.g. internal/jobs/picon_pool.go's pooled lazy resources).
type Loader struct {
	mu      chan struct{} // 1-buffered mutex so Reload can run concurrently with Get
	factory Factory
	engine  Engine
	err     error
	built   bool
}

// NewLoader returns a Loader that has not yet constructed an engine.
func NewLoader(factory Factory) *Loader {
	l := &Loader{mu: make(chan struct{}, 1), factory: factory}
	l.mu <- struct{}{}
	return l
}

// Get returns the cached engine, constructing it on first call.
func (l *Loader) Get() (Engine, error) {
	<-l.mu
	defer func() { l.mu <- struct{}{} }()

	if l.built {
		return l.engine, l.err
	}
	l.engine, l.err = l.factory()
	l.built = true
	return l.engine, l.err
}

// Reload discards the cached engine so the next Get reconstructs it from
// the factory, picking up any credential or configuration change.
func (l *Loader) Reload() {
	<-l.mu
	defer func() { l.mu <- struct{}{} }()
	l.built = false
	l.engine = nil
	l.err = nil
}
