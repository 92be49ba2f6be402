package store

import "time"

// TaskStatus is the lifecycle state of a TranscriptionTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// TranscriptionTask is the canonical row backing a single file submitted to
// the Transcription Manager.
type TranscriptionTask struct {
	ID             string
	SourcePath     string
	ByteSize       int64
	DurationSecs   *float64
	Status         TaskStatus
	Progress       int
	SourceLanguage string
	EngineName     string
	OutputFormat   string
	OutputPath     string
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// AttachmentKind enumerates the artifact kinds a CalendarEvent may own.
type AttachmentKind string

const (
	AttachmentRecording   AttachmentKind = "recording"
	AttachmentTranscript  AttachmentKind = "transcript"
	AttachmentTranslation AttachmentKind = "translation"
)

// CalendarEvent is a meeting or appointment surfaced by a CalendarSource.
type CalendarEvent struct {
	ID          string
	Source      string
	Title       string
	Description string
	Type        string
	Start       time.Time
	End         *time.Time
	Attendees   []string
}

// EventAttachment links a produced artifact to the event it belongs to.
type EventAttachment struct {
	ID          string
	EventID     string
	EventSource string
	Kind        AttachmentKind
	FilePath    string
	ByteSize    int64
	CreatedAt   time.Time
}

// AutoTaskConfig controls what the scheduler does when an event starts.
type AutoTaskConfig struct {
	EventID             string
	EventSource         string
	EnableTranscription bool
	EnableRecording     bool
	EnableTranslation   bool
	Languages           []string
}

// Disabled reports whether no auto-task flag is set, the spec's definition
// of a semantically disabled config.
func (c AutoTaskConfig) Disabled() bool {
	return !c.EnableTranscription && !c.EnableRecording && !c.EnableTranslation
}

// OAuthTokenRecord holds a provider's OAuth credential set. AccessToken and
// RefreshToken are expected to already be vault-encrypted by the caller;
// this package never writes them in plaintext on its own.
type OAuthTokenRecord struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        string
	TokenType    string
	StoredAt     time.Time
	Extras       map[string]string
}

// IsExpired reports whether the token's ExpiresAt is within buffer of now
// (or already past), so callers can refresh slightly ahead of the hard
// expiry rather than racing it. A record with no ExpiresAt never expires.
func (t OAuthTokenRecord) IsExpired(now time.Time, buffer time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !t.ExpiresAt.After(now.Add(buffer))
}

// SpeechModelDescriptor tracks a named speech model and whether it has been
// downloaded locally.
type SpeechModelDescriptor struct {
	Name       string
	Downloaded bool
	LocalPath  string
}

// Exists reports whether the descriptor's local path is present on disk
// when Downloaded is true, per the data model's invariant.
func (d SpeechModelDescriptor) Exists() bool {
	if !d.Downloaded {
		return false
	}
	return pathExists(d.LocalPath)
}
