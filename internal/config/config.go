// Package config provides the configuration schema, loader, and provider
// registry for the capture engine.
//
// This is the deployment-time bootstrap surface: the YAML file loaded once
// at process start that selects which STT/translation provider
// implementations to construct and where the engine's on-disk state lives.
// It is distinct from the dotted-key runtime settings tree in
// github.com/echonote/engine/internal/settings, which drives behavior that
// changes while the engine is running and is persisted separately.
package config

// Config is the root configuration structure for the capture engine.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	App       AppConfig       `yaml:"app"`
	Providers ProvidersConfig `yaml:"providers"`
}

// LogLevel controls slog verbosity for the engine process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ServerConfig holds network and logging settings for the engine process.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/readiness HTTP server listens
	// on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is parsed from the config file but not read by the engine:
	// cmd/echonote serves no Prometheus /metrics endpoint, on this address or
	// on ListenAddr.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// AppConfig holds filesystem locations the engine uses for its own state,
// rooted at DataDir (default ~/.echonote per spec.md §6.1).
type AppConfig struct {
	// DataDir is the directory where recordings, exports, and the encrypted
	// vault are stored. Created on startup if it does not exist.
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the path to the embedded SQLite database file used for
	// task, session, and timeline persistence. Relative paths are resolved
	// against DataDir. Empty defaults to "data.db".
	DatabasePath string `yaml:"database_path"`

	// RecordingsDir overrides where realtime recordings are written.
	// Empty defaults to DataDir/Recordings.
	RecordingsDir string `yaml:"recordings_dir"`

	// DatabaseEncryptionEnabled is parsed from the config file but not read by
	// the engine: the embedded store has no page cipher and writes its pages
	// unencrypted whatever this is set to.
	DatabaseEncryptionEnabled bool `yaml:"database_encryption_enabled"`
}

// ProvidersConfig declares which provider implementation to use for each
// cloud-backed pipeline stage. Each field selects a named provider
// registered in the [Registry]. Local-only stages (VAD, audio capture) are
// wired directly by the caller since they have no credentials to bootstrap.
type ProvidersConfig struct {
	// Speech selects the speech-to-text engine used by the realtime recorder
	// and the transcription task queue.
	Speech ProviderEntry `yaml:"speech"`

	// Translation selects the cloud LLM-backed translation engine.
	Translation ProviderEntry `yaml:"translation"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper-native",
	// "anyllm").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. In production
	// this is expected to reference a vault-resolved secret rather than a
	// plaintext value; the loader does not enforce this.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// "ggml-medium").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`
}
