package whisperfile_test

import (
	"context"
	"os"
	"testing"

	"github.com/echonote/engine/pkg/speech"
	"github.com/echonote/engine/pkg/speech/whisperfile"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped, mirroring pkg/provider/stt/whisper's native tests.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping whisperfile integration test")
	}
	return p
}

func TestNew_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisperfile.New("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNew_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisperfile.New("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestTranscribeFile_MissingAudioFile_ReturnsError(t *testing.T) {
	modelPath := testModelPath(t)
	e, err := whisperfile.New(modelPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	_, err = e.TranscribeFile(context.Background(), "/nonexistent/audio.wav", speech.Options{}, nil)
	if err == nil {
		t.Fatal("expected error for missing audio file, got nil")
	}
}

func TestTranscribeFile_CancelledContext_ReturnsError(t *testing.T) {
	modelPath := testModelPath(t)
	e, err := whisperfile.New(modelPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.TranscribeFile(ctx, "testdata/sample.wav", speech.Options{}, nil)
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestName(t *testing.T) {
	modelPath := testModelPath(t)
	e, err := whisperfile.New(modelPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if got := e.Name(); got != "whisper-native" {
		t.Errorf("Name() = %q, want whisper-native", got)
	}
}
