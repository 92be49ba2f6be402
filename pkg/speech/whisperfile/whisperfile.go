// This file contains the Engine implementation backed by the whisper.cpp CGO
// bindings, the same library pkg/provider/stt/whisper uses for streaming
// sessions. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH, as noted in that package.

// Package whisperfile implements a batch, file-based speech.Engine: decode a
// WAV recording end to end and hand the whole signal to whisper.cpp in one
// inference call, as opposed to the windowed streaming sessions
// pkg/provider/stt/whisper drives over live audio. Grounded on
// AshBuk-speak-to-ai's whisper-processing-streaming engine for the
// model.NewContext()/Process()/NextSegment() call shape, paired with
// github.com/go-audio/wav for container decoding the way that repo's go.mod
// pairs the two libraries.
package whisperfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/echonote/engine/pkg/speech"
	"github.com/echonote/engine/pkg/types"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const targetSampleRate = 16000

// Compile-time assertion that Engine satisfies speech.Engine.
var _ speech.Engine = (*Engine)(nil)

// Engine transcribes whole audio files using a shared whisper.cpp model.
type Engine struct {
	model    whisperlib.Model
	language string
}

// New loads the whisper.cpp model at modelPath. The model is shared across
// every TranscribeFile call; Close releases it once the Engine is no longer
// needed.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisperfile: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisperfile: load model %q: %w", modelPath, err)
	}
	return &Engine{model: model, language: "auto"}, nil
}

// Close releases the whisper.cpp model.
func (e *Engine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// Name identifies this engine for logging and model-descriptor lookups.
func (e *Engine) Name() string { return "whisper-native" }

// TranscribeFile decodes path as a WAV file, down-mixes and resamples it to
// 16 kHz mono, and runs one whisper.cpp inference pass over the full signal.
func (e *Engine) TranscribeFile(ctx context.Context, path string, opts speech.Options, progress speech.ProgressFunc) (speech.Result, error) {
	if err := ctx.Err(); err != nil {
		return speech.Result{}, err
	}

	samples, duration, err := decodeWAVMono16k(path)
	if err != nil {
		return speech.Result{}, fmt.Errorf("whisperfile: decode %q: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return speech.Result{}, err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return speech.Result{}, fmt.Errorf("whisperfile: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = e.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return speech.Result{}, fmt.Errorf("whisperfile: set language %q: %w", lang, err)
	}

	reportProgress := func(percent int) {
		if progress != nil {
			progress(percent)
		}
	}
	reportProgress(0)

	// whisper.cpp's streaming uses of this binding (pkg/provider/stt/whisper)
	// only ever drive SetLanguage before Process; beam size, temperature, and
	// prompt are accepted on speech.Options for parity with the cloud
	// engines but have no whisper.cpp context setter wired through this
	// binding yet.
	if err := wctx.Process(samples, nil, nil, func(percent int) {
		reportProgress(percent)
	}); err != nil {
		return speech.Result{}, fmt.Errorf("whisperfile: process audio: %w", err)
	}

	var segments []types.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return speech.Result{}, fmt.Errorf("whisperfile: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, types.Segment{
			Source:   text,
			Language: lang,
			Start:    seg.Start,
			End:      seg.End,
		})
	}

	reportProgress(100)

	return speech.Result{
		Segments: segments,
		Language: lang,
		Duration: duration,
	}, nil
}

// decodeWAVMono16k reads a WAV file and returns its samples as mono float32
// PCM at 16 kHz, normalized to [-1, 1], plus the source duration.
func decodeWAVMono16k(path string) ([]float32, time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read PCM buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("missing WAV format chunk")
	}

	channels := buf.Format.NumChannels
	sourceRate := buf.Format.SampleRate
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		mono[i] = sum / float32(channels)
	}

	sourceDuration := time.Duration(0)
	if sourceRate > 0 {
		sourceDuration = time.Duration(float64(len(mono)) / float64(sourceRate) * float64(time.Second))
	}

	if sourceRate == targetSampleRate || sourceRate <= 0 {
		return mono, sourceDuration, nil
	}
	return resampleLinear(mono, sourceRate, targetSampleRate), sourceDuration, nil
}

// resampleLinear resamples mono float32 PCM from srcRate to dstRate using
// linear interpolation between neighboring samples.
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if len(samples) == 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen <= 0 {
		return nil
	}
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}
