// Package anyllm provides a translate.Engine backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. Translation is performed as a single-shot chat completion with a
// system prompt constraining the model to emit only the translated text.
//
// Usage:
//
//	e, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	result, err := e.Translate(ctx, translate.Request{
//	    Text: "Meeting starts at three.", SourceLanguage: "en", TargetLanguage: "de",
//	})
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/echonote/engine/pkg/provider/translate"
)

// Engine implements translate.Engine by wrapping
// github.com/mozilla-ai/any-llm-go.
type Engine struct {
	backend  anyllmlib.Provider
	model    string
	provider string
}

// New creates a new Engine backed by the given provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o-mini").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey).
// If no API key option is provided, the provider falls back to the relevant
// environment variable (e.g. OPENAI_API_KEY).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Engine, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Engine{backend: backend, model: model, provider: strings.ToLower(providerName)}, nil
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name implements translate.Engine.
func (e *Engine) Name() string { return e.provider }

// Translate implements translate.Engine. It sends req as a single chat
// completion with a system prompt that pins the model to translation-only
// output, then returns the model's full reply with leading/trailing
// whitespace trimmed.
func (e *Engine) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("anyllm: req.Text must not be empty")
	}
	if req.TargetLanguage == "" {
		return nil, fmt.Errorf("anyllm: req.TargetLanguage must not be empty")
	}

	params := anyllmlib.CompletionParams{
		Model: e.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt(req)},
			{Role: anyllmlib.RoleUser, Content: req.Text},
		},
	}
	temp := 0.0
	params.Temperature = &temp

	resp, err := e.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	return &translate.Result{Text: text, DetectedLanguage: req.SourceLanguage}, nil
}

// systemPrompt builds the instruction that constrains the model to
// translation-only output, including any glossary terms that must be
// preserved verbatim.
func systemPrompt(req translate.Request) string {
	var b strings.Builder
	b.WriteString("You are a translation engine embedded in a transcription pipeline. ")
	if req.SourceLanguage != "" {
		fmt.Fprintf(&b, "Translate the user's message from %s to %s. ", req.SourceLanguage, req.TargetLanguage)
	} else {
		fmt.Fprintf(&b, "Detect the language of the user's message and translate it to %s. ", req.TargetLanguage)
	}
	b.WriteString("Reply with the translation only, no quotes, no commentary, no explanation.")
	if len(req.Glossary) > 0 {
		b.WriteString(" Preserve these terms exactly as given: ")
		first := true
		for term, rendering := range req.Glossary {
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%q -> %q", term, rendering)
			first = false
		}
		b.WriteString(".")
	}
	return b.String()
}
