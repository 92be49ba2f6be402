// Package mock provides a test double for translate.Engine.
package mock

import (
	"context"

	"github.com/echonote/engine/pkg/provider/translate"
)

// Engine is a scriptable translate.Engine for tests.
type Engine struct {
	// TranslateFunc, when set, is called by Translate. When nil, Translate
	// returns Text unchanged with a " [<TargetLanguage>]" suffix so tests can
	// assert a translation actually happened without scripting a function.
	TranslateFunc func(ctx context.Context, req translate.Request) (*translate.Result, error)

	NameValue string
}

var _ translate.Engine = (*Engine)(nil)

// Translate implements translate.Engine.
func (e *Engine) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	if e.TranslateFunc != nil {
		return e.TranslateFunc(ctx, req)
	}
	return &translate.Result{
		Text:             req.Text + " [" + req.TargetLanguage + "]",
		DetectedLanguage: req.SourceLanguage,
	}, nil
}

// Name implements translate.Engine.
func (e *Engine) Name() string {
	if e.NameValue != "" {
		return e.NameValue
	}
	return "mock"
}
