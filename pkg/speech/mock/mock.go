// Package mock provides a deterministic speech.Engine test double.
package mock

import (
	"context"

	"github.com/echonote/engine/pkg/speech"
)

// Engine is a scriptable speech.Engine for tests. Configure Result/Err
// directly; TranscribeFile reports two progress calls (50, 100) before
// returning.
type Engine struct {
	EngineName string
	Result     speech.Result
	Err        error

	// Calls records every invocation for assertions.
	Calls []Call
}

// Call records one TranscribeFile invocation.
type Call struct {
	Path string
	Opts speech.Options
}

// New returns an Engine named name.
func New(name string) *Engine {
	return &Engine{EngineName: name}
}

func (e *Engine) Name() string { return e.EngineName }

func (e *Engine) TranscribeFile(ctx context.Context, path string, opts speech.Options, progress speech.ProgressFunc) (speech.Result, error) {
	e.Calls = append(e.Calls, Call{Path: path, Opts: opts})

	if err := ctx.Err(); err != nil {
		return speech.Result{}, err
	}
	if progress != nil {
		progress(50)
	}
	if e.Err != nil {
		return speech.Result{}, e.Err
	}
	if progress != nil {
		progress(100)
	}
	return e.Result, nil
}
