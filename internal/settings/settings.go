// Package settings implements the Config & Settings dotted-key tree: a
// defaults layer deep-merged with a persisted user layer, validated per
// category, and change-notifying over the event bus. Grounded on the
// teacher's internal/config package for the load/validate/persist shape
// (config.LoadFromReader's KnownFields-style rejection of bad input,
// config.Watcher's atomic-reload-then-notify flow) but this tree is the
// *runtime* surface spec.md §4.4 describes — it drives live behavior
// (recorder thresholds, queue concurrency, scheduler timing) rather than
// process bootstrap, so it is a distinct package from internal/config.
//
// The user overlay is stored as a flat map keyed by dotted path rather than
// a nested map-of-maps: every legal key is known up front (§6.3's table is
// the full key surface this engine validates), so a flat map plus a
// switch-based adapter into the typed [Tree] gives get/set the dotted-key
// ergonomics the spec calls for without a free-form untyped tree walking
// the whole codebase.
package settings

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/events"
)

const userFilePermission = 0o600

// Tree is the fully-typed, merged settings view. Values are plain data —
// copying a Tree produces an independent, frozen snapshot, which is what
// [Settings.Defaults] and [Settings.Snapshot] hand callers.
type Tree struct {
	Database        Database
	Transcription   Transcription
	Realtime        Realtime
	Timeline        Timeline
	ResourceMonitor ResourceMonitor
	UI              UI
}

// Database holds database.* keys.
type Database struct {
	Path                string
	EncryptionEnabled   bool
}

// Transcription holds transcription.* keys.
type Transcription struct {
	DefaultEngine          string
	DefaultOutputFormat    string
	MaxConcurrentTasks     int
	MaxRetries             int
	RetryDelaySeconds      float64
	FasterWhisperModelSize string
}

// Realtime holds realtime.* keys.
type Realtime struct {
	RecordingFormat     string
	TranslationEngine   string
	VADThreshold        float64
	SilenceDurationMs   int
	MinAudioDurationSec float64
}

// Timeline holds timeline.* keys.
type Timeline struct {
	ReminderMinutes              int
	AutoStopGraceMinutes         int
	StopConfirmationDelayMinutes int
	AutoStartEnabled             bool
}

// ResourceMonitor holds resource_monitor.* keys.
type ResourceMonitor struct {
	LowMemoryMB    float64
	HighCPUPercent float64
}

// UI holds ui.* keys.
type UI struct {
	Theme string
}

// Defaults is the shipped default tree, spec §6.3's implicit "out of the
// box" configuration.
func Defaults() Tree {
	return Tree{
		Database: Database{
			Path:              "data.db",
			EncryptionEnabled: false,
		},
		Transcription: Transcription{
			DefaultEngine:          "whisper-native",
			DefaultOutputFormat:    "txt",
			MaxConcurrentTasks:     2,
			MaxRetries:             2,
			RetryDelaySeconds:      5,
			FasterWhisperModelSize: "base",
		},
		Realtime: Realtime{
			RecordingFormat:     "wav",
			TranslationEngine:   "none",
			VADThreshold:        0.5,
			SilenceDurationMs:   800,
			MinAudioDurationSec: 0.5,
		},
		Timeline: Timeline{
			ReminderMinutes:              10,
			AutoStopGraceMinutes:         5,
			StopConfirmationDelayMinutes: 5,
			AutoStartEnabled:             true,
		},
		ResourceMonitor: ResourceMonitor{
			LowMemoryMB:    512,
			HighCPUPercent: 90,
		},
		UI: UI{
			Theme: "system",
		},
	}
}

// ChangeEvent is the payload carried by events.SettingChanged. Key is "*"
// for a whole-tree reset (spec §4.4's reset_to_default() with no argument).
type ChangeEvent struct {
	Key   string
	Value any
}

// Settings is the live, process-wide settings view: an immutable defaults
// [Tree] deep-merged with a mutable, persisted user overlay.
type Settings struct {
	mu       sync.RWMutex
	defaults Tree
	user     map[string]any
	path     string // empty disables persistence (useful in tests)
	bus      *events.Bus
}

// Open loads the user overlay from path (tolerating absence) and returns a
// ready Settings. bus may be nil, in which case Set/ResetToDefault never
// publish events.
func Open(path string, bus *events.Bus) (*Settings, error) {
	s := &Settings{
		defaults: Defaults(),
		user:     make(map[string]any),
		path:     path,
		bus:      bus,
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errs.Fatalf("settings: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var user map[string]any
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, errs.Integrityf("settings: decode %q: %w", path, err)
	}
	for k, v := range user {
		if _, ok := validators[k]; !ok {
			continue // drop unknown keys from a stale/older file rather than fail startup
		}
		s.user[k] = normalizeJSONValue(k, v)
	}
	return s, nil
}

// Defaults returns a frozen copy of the shipped default tree, unaffected by
// any Set call.
func (s *Settings) Defaults() Tree {
	return s.defaults
}

// Snapshot returns the current merged view (defaults deep-merged with the
// user overlay) as an independent value.
func (s *Settings) Snapshot() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merged()
}

func (s *Settings) merged() Tree {
	t := s.defaults
	for key, value := range s.user {
		applyToTree(&t, key, value)
	}
	return t
}

// Get returns the effective value for a dotted key: the user override if
// set, else the shipped default. Returns (nil, false) for an unrecognized
// key.
func (s *Settings) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.user[key]; ok {
		return v, true
	}
	return defaultValue(s.defaults, key)
}

// Set validates value against key's category validator, writes it into the
// user overlay, persists atomically, and publishes setting_changed. No
// in-memory state changes if validation fails, per spec §7's
// "no in-memory state is mutated before success" rule.
func (s *Settings) Set(key string, value any) error {
	validate, ok := validators[key]
	if !ok {
		return errs.Validationf("settings: unknown key %q", key)
	}
	if err := validate(value); err != nil {
		return err
	}

	s.mu.Lock()
	prev, hadPrev := s.user[key]
	s.user[key] = value
	snapshot := cloneUser(s.user)
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		// Roll back the in-memory mutation so a failed persist can't leave
		// a value applied that was never durably recorded.
		s.mu.Lock()
		if hadPrev {
			s.user[key] = prev
		} else {
			delete(s.user, key)
		}
		s.mu.Unlock()
		return err
	}

	s.publish(key, value)
	return nil
}

// ResetToDefault restores the shipped default for key, removing any user
// override. Calling it with an empty key resets the entire user tree and
// emits a wildcard ("*") event.
func (s *Settings) ResetToDefault(key string) error {
	if key == "" {
		s.mu.Lock()
		s.user = make(map[string]any)
		s.mu.Unlock()
		if err := s.persist(nil); err != nil {
			return err
		}
		s.publish("*", nil)
		return nil
	}

	if _, ok := validators[key]; !ok {
		return errs.Validationf("settings: unknown key %q", key)
	}

	s.mu.Lock()
	delete(s.user, key)
	snapshot := cloneUser(s.user)
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		return err
	}

	def, _ := defaultValue(s.defaults, key)
	s.publish(key, def)
	return nil
}

func (s *Settings) publish(key string, value any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Topic: events.SettingChanged, Payload: ChangeEvent{Key: key, Value: value}})
}

func (s *Settings) persist(user map[string]any) error {
	if s.path == "" {
		return nil
	}
	if user == nil {
		user = map[string]any{}
	}
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return errs.Fatalf("settings: encode user tree: %w", err)
	}
	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(userFilePermission))
	if err != nil {
		return errs.Fatalf("settings: create pending file %q: %w", s.path, err)
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return errs.Fatalf("settings: write %q: %w", s.path, err)
	}
	return pending.CloseAtomicallyReplace()
}

func cloneUser(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// normalizeJSONValue coerces a value decoded from JSON (where all numbers
// arrive as float64) to the type the in-memory validators and Tree fields
// expect for key.
func normalizeJSONValue(key string, v any) any {
	f, isFloat := v.(float64)
	if !isFloat {
		return v
	}
	if intKeys[key] {
		return int(f)
	}
	return f
}

var intKeys = map[string]bool{
	"transcription.max_concurrent_tasks": true,
	"transcription.max_retries":          true,
	"realtime.silence_duration_ms":       true,
	"timeline.reminder_minutes":          true,
	"timeline.auto_stop_grace_minutes":   true,
	"timeline.stop_confirmation_delay_minutes": true,
}
