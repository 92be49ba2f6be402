package speech_test

import (
	"context"
	"errors"
	"testing"

	"github.com/echonote/engine/pkg/speech"
	"github.com/echonote/engine/pkg/speech/mock"
)

func TestLoaderConstructsOnce(t *testing.T) {
	t.Parallel()
	var builds int
	l := speech.NewLoader(func() (speech.Engine, error) {
		builds++
		return mock.New("whisper-native"), nil
	})

	e1, err := l.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	e2, err := l.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e1 != e2 {
		t.Error("expected the same cached engine across calls")
	}
	if builds != 1 {
		t.Errorf("expected factory to run once, ran %d times", builds)
	}
}

func TestLoaderReloadReconstructs(t *testing.T) {
	t.Parallel()
	var builds int
	l := speech.NewLoader(func() (speech.Engine, error) {
		builds++
		return mock.New("whisper-native"), nil
	})

	if _, err := l.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	l.Reload()
	if _, err := l.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if builds != 2 {
		t.Errorf("expected factory to run again after Reload, ran %d times", builds)
	}
}

func TestLoaderPropagatesFactoryError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no api key configured")
	l := speech.NewLoader(func() (speech.Engine, error) {
		return nil, boom
	})

	_, err := l.Get()
	if !errors.Is(err, boom) {
		t.Errorf("expected factory error to propagate, got %v", err)
	}
}

func TestMockEngineReportsProgressToCompletion(t *testing.T) {
	t.Parallel()
	e := mock.New("mock")
	var progressed []int
	_, err := e.TranscribeFile(context.Background(), "/tmp/a.wav", speech.Options{}, func(p int) {
		progressed = append(progressed, p)
	})
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if len(progressed) != 2 || progressed[len(progressed)-1] != 100 {
		t.Errorf("expected progress to reach 100, got %v", progressed)
	}
}
