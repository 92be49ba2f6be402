package resilience

import (
	"context"

	"github.com/echonote/engine/pkg/provider/translate"
)

// TranslateFallback implements [translate.Engine] with automatic failover
// across multiple translation backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type TranslateFallback struct {
	group *FallbackGroup[translate.Engine]
}

// Compile-time interface assertion.
var _ translate.Engine = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Engine, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translation engine as a fallback.
func (f *TranslateFallback) AddFallback(name string, engine translate.Engine) {
	f.group.AddFallback(name, engine)
}

// Translate sends req to the first healthy engine and returns its response.
// If the primary fails, subsequent fallbacks are tried.
func (f *TranslateFallback) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	return ExecuteWithResult(f.group, func(e translate.Engine) (*translate.Result, error) {
		return e.Translate(ctx, req)
	})
}

// Name returns the name of the first entry (the primary).
func (f *TranslateFallback) Name() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Name()
	}
	return ""
}
