package config_test

import (
	"testing"

	"github.com/echonote/engine/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{Speech: config.ProviderEntry{Name: "whisper-native"}},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.SpeechProviderChanged {
		t.Error("expected SpeechProviderChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_SpeechProviderChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		Speech: config.ProviderEntry{Name: "whisper-native"},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		Speech: config.ProviderEntry{Name: "deepgram", APIKey: "dg-123"},
	}}

	d := config.Diff(old, new)
	if !d.SpeechProviderChanged {
		t.Error("expected SpeechProviderChanged=true")
	}
	if d.TranslationProviderChanged {
		t.Error("expected TranslationProviderChanged=false")
	}
}

func TestDiff_TranslationProviderOptionsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		Translation: config.ProviderEntry{Name: "anyllm", Options: map[string]any{"tier": "fast"}},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		Translation: config.ProviderEntry{Name: "anyllm", Options: map[string]any{"tier": "deep"}},
	}}

	d := config.Diff(old, new)
	if !d.TranslationProviderChanged {
		t.Error("expected TranslationProviderChanged=true when only Options differs")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{Speech: config.ProviderEntry{Name: "whisper-native"}},
	}
	new := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogWarn},
		Providers: config.ProvidersConfig{Speech: config.ProviderEntry{Name: "deepgram"}},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.SpeechProviderChanged {
		t.Error("expected SpeechProviderChanged=true")
	}
}
