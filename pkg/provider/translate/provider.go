// Package translate defines the Engine interface for cloud translation
// backends used by EchoNote's transcription pipeline.
//
// An Engine wraps an LLM-prompted translation call: given a finalized
// transcript segment, its source language, and a target language, it returns
// the translated text. Unlike a general chat-completion provider this
// interface has no notion of tool calls, streaming, or conversation history —
// translation is a single request/response operation per segment.
//
// Implementations must be safe for concurrent use.
package translate

import "context"

// Request carries a single translation request.
type Request struct {
	// Text is the source-language text to translate. Must be non-empty.
	Text string

	// SourceLanguage is the BCP-47 tag of Text. Empty lets the engine
	// auto-detect, if supported.
	SourceLanguage string

	// TargetLanguage is the BCP-47 tag to translate into. Must be non-empty.
	TargetLanguage string

	// Glossary is an optional list of terms that must be translated verbatim
	// or with a specific rendering (e.g., proper nouns, product names).
	Glossary map[string]string
}

// Result is the outcome of a translation request.
type Result struct {
	// Text is the translated text.
	Text string

	// DetectedLanguage is the source language the engine inferred, when
	// Request.SourceLanguage was empty and the engine supports detection.
	DetectedLanguage string
}

// Engine is the abstraction over any cloud translation backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Engine interface {
	// Translate sends req to the backend and waits for the full response.
	//
	// Returns an error if the request fails or ctx is cancelled before the
	// translation arrives.
	Translate(ctx context.Context, req Request) (*Result, error)

	// Name identifies the backend for logging and metrics (e.g. "openai",
	// "anthropic", "ollama").
	Name() string
}
