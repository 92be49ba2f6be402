package config_test

import (
	"strings"
	"testing"

	"github.com/echonote/engine/internal/config"
)

func TestValidate_UnknownSpeechProviderIsWarningNotError(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  speech:
    name: some-custom-backend
`
	// Unknown provider names are logged, not rejected — third-party
	// providers may be registered under any name.
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/path/echonote.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	speechNames := config.ValidProviderNames["speech"]
	if len(speechNames) == 0 {
		t.Fatal(`ValidProviderNames["speech"] should not be empty`)
	}
	found := false
	for _, n := range speechNames {
		if n == "whisper-native" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["speech"] should contain "whisper-native"`)
	}
}

func TestValidate_LogLevelVariants(t *testing.T) {
	t.Parallel()
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		yaml := "server:\n  log_level: " + lvl + "\n"
		if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
			t.Errorf("log_level %q: unexpected error: %v", lvl, err)
		}
	}
}
