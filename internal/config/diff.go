package config

import "reflect"

// ConfigDiff describes what changed between two bootstrap configs.
// Only fields that can be safely hot-reloaded are tracked — provider
// credentials and data directory changes require a restart and are reported
// only for logging, not automatic reconciliation.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SpeechProviderChanged      bool
	TranslationProviderChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Providers.Speech, new.Providers.Speech) {
		d.SpeechProviderChanged = true
	}
	if !reflect.DeepEqual(old.Providers.Translation, new.Providers.Translation) {
		d.TranslationProviderChanged = true
	}

	return d
}
