// Package realtime implements the Realtime Recorder: a single live capture
// session composing audio capture, voice-activity gating, streaming speech
// recognition, and optional translation into consolidated transcript,
// translation, and recording artifacts. Grounded on the teacher's capture
// pipeline shape (pkg/audio.Device/Stream feeding a gated processing loop)
// paired with the stt/vad/translate provider contracts this repo already
// defines, generalized from a multi-participant voice channel into the
// single always-one-speaker session a desktop recorder needs.
package realtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/filestore"
	"github.com/echonote/engine/internal/observe"
	"github.com/echonote/engine/pkg/audio"
	"github.com/echonote/engine/pkg/provider/stt"
	"github.com/echonote/engine/pkg/provider/translate"
	"github.com/echonote/engine/pkg/provider/vad"
	"github.com/echonote/engine/pkg/types"
)

const (
	minGain = 0.0
	maxGain = 10.0

	defaultFrameSizeMs    = 32
	defaultSampleRate     = 16000
	sttFinalTimeout       = 10 * time.Second
	loopShutdownTimeout   = 5 * time.Second
	defaultRecordingExt   = "pcm"
)

// Options configures a Recorder's collaborators. Translator may be nil when
// no translation engine is configured.
type Options struct {
	Device     audio.Device
	VAD        vad.Engine
	STT        stt.Provider
	Translator translate.Engine
	Files      *filestore.Store
	Metrics    *observe.Metrics
}

// StartOptions carries the per-session parameters start_recording accepts.
type StartOptions struct {
	SourceLanguage      string
	TargetLanguage      string
	TranslationEnabled  bool
	RecordingExtension  string
	GainMultiplier      float64
	VADThreshold        float64
	SilenceDurationMs   int
	MinAudioDurationSec float64
	SampleRate          int
}

// Result is what stop_recording returns: the artifacts produced, if any.
type Result struct {
	Duration        time.Duration
	TranscriptPath  string
	TranslationPath string
	RecordingPath   string
}

// Recorder is a process-wide singleton: at most one session may be active at
// a time, matching the spec's "scheduler checks is_recording and refuses to
// start overlapping sessions" invariant.
type Recorder struct {
	opts Options

	mu     sync.Mutex
	active *session
}

// New constructs an idle Recorder.
func New(opts Options) *Recorder {
	return &Recorder{opts: opts}
}

// IsRecording reports whether a session is currently active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// TranslationAvailable reports whether this Recorder was constructed with a
// translation engine at all, independent of any particular session's
// TranslationEnabled flag. The Auto-Task Scheduler checks this before
// honoring a per-event translation request (spec §4.8.2: translation only
// when the event flag, the global engine, and engine availability all
// agree).
func (r *Recorder) TranslationAvailable() bool {
	return r.opts.Translator != nil
}

// StartRecording opens a capture session. It refuses if a session is already
// active.
func (r *Recorder) StartRecording(ctx context.Context, start StartOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return errs.Validationf("realtime: a recording is already in progress")
	}
	if r.opts.Device == nil || r.opts.VAD == nil || r.opts.STT == nil {
		return errs.Fatalf("realtime: no capture device, VAD engine, or STT provider configured")
	}

	sess, err := newSession(ctx, r.opts, normalizeStartOptions(start))
	if err != nil {
		return err
	}
	r.active = sess
	sess.run()

	if r.opts.Metrics != nil {
		r.opts.Metrics.ActiveRecordings.Add(ctx, 1)
	}
	return nil
}

// StopRecording is idempotent: calling it with no active session returns a
// zero Result and no error.
func (r *Recorder) StopRecording(ctx context.Context) (Result, error) {
	r.mu.Lock()
	sess := r.active
	r.active = nil
	r.mu.Unlock()

	if sess == nil {
		return Result{}, nil
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.ActiveRecordings.Add(ctx, -1)
	}
	return sess.stop(ctx)
}

func normalizeStartOptions(s StartOptions) StartOptions {
	if s.GainMultiplier <= 0 {
		s.GainMultiplier = 1
	}
	if s.GainMultiplier > maxGain {
		s.GainMultiplier = maxGain
	}
	if s.GainMultiplier < minGain {
		s.GainMultiplier = minGain
	}
	if s.SampleRate <= 0 {
		s.SampleRate = defaultSampleRate
	}
	if s.RecordingExtension == "" {
		s.RecordingExtension = defaultRecordingExt
	}
	return s
}

// session is one live capture-to-artifact pipeline run.
type session struct {
	id   string
	opts Options
	cfg  StartOptions

	stream  audio.Stream
	vadSess vad.SessionHandle
	sttSess stt.SessionHandle

	startedAt time.Time
	loopDone  chan struct{}

	recording []byte
	segments  []types.Segment
}

func newSession(ctx context.Context, opts Options, cfg StartOptions) (*session, error) {
	stream, err := opts.Device.Open(ctx, audio.Format{SampleRate: cfg.SampleRate, Channels: 1})
	if err != nil {
		return nil, errs.Transientf("realtime: open capture device: %w", err)
	}

	vadSess, err := opts.VAD.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		FrameSizeMs:      defaultFrameSizeMs,
		SpeechThreshold:  cfg.VADThreshold,
		SilenceThreshold: cfg.VADThreshold * 0.7,
	})
	if err != nil {
		_ = stream.Close()
		return nil, errs.Transientf("realtime: create VAD session: %w", err)
	}

	sttSess, err := opts.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: cfg.SampleRate, Channels: 1, Language: cfg.SourceLanguage,
	})
	if err != nil {
		_ = vadSess.Close()
		_ = stream.Close()
		return nil, errs.Transientf("realtime: start STT stream: %w", err)
	}

	return &session{
		id:        uuid.NewString(),
		opts:      opts,
		cfg:       cfg,
		stream:    stream,
		vadSess:   vadSess,
		sttSess:   sttSess,
		startedAt: time.Now(),
		loopDone:  make(chan struct{}),
	}, nil
}

func (s *session) run() {
	go s.captureLoop()
}

// captureLoop applies the gain/clip transform to every frame, appends it to
// the consolidated recording, and drives the VAD state machine that buffers
// in-progress utterances and flushes them once trailing silence closes the
// segment.
func (s *session) captureLoop() {
	defer close(s.loopDone)

	var (
		inSegment    bool
		segmentPCM   []byte
		segmentStart time.Duration
		silenceAccum time.Duration
	)
	silenceTarget := time.Duration(s.cfg.SilenceDurationMs) * time.Millisecond
	minDuration := time.Duration(s.cfg.MinAudioDurationSec * float64(time.Second))

	for frame := range s.stream.Frames() {
		data := applyGainClip(frame.Data, s.cfg.GainMultiplier)
		s.recording = append(s.recording, data...)
		dur := frameDuration(data, s.cfg.SampleRate)

		event, err := s.vadSess.ProcessFrame(data)
		if err != nil {
			slog.Warn("realtime: VAD processing failed, dropping frame", "error", err)
			continue
		}

		switch event.Type {
		case types.VADSpeechStart:
			inSegment = true
			segmentPCM = append([]byte(nil), data...)
			segmentStart = frame.Timestamp
			silenceAccum = 0
		case types.VADSpeechContinue:
			if inSegment {
				segmentPCM = append(segmentPCM, data...)
			}
			silenceAccum = 0
		case types.VADSpeechEnd, types.VADSilence:
			if !inSegment {
				continue
			}
			segmentPCM = append(segmentPCM, data...)
			silenceAccum += dur
			if silenceAccum < silenceTarget {
				continue
			}
			segmentDuration := frame.Timestamp + dur - segmentStart
			if segmentDuration >= minDuration {
				s.finalizeSegment(context.Background(), segmentPCM, segmentStart)
			}
			inSegment = false
			segmentPCM = nil
		}
	}
}

func (s *session) finalizeSegment(ctx context.Context, pcm []byte, start time.Duration) {
	segStart := time.Now()
	if err := s.sttSess.SendAudio(pcm); err != nil {
		slog.Warn("realtime: send audio to STT session failed", "error", err)
		return
	}

	select {
	case tr, ok := <-s.sttSess.Finals():
		if !ok {
			return
		}
		seg := types.Segment{
			Source:     tr.Text,
			Language:   s.cfg.SourceLanguage,
			Start:      start,
			End:        start + tr.Duration,
			Confidence: tr.Confidence,
		}
		if s.translationEnabled() {
			res, err := s.opts.Translator.Translate(ctx, translate.Request{
				Text: tr.Text, SourceLanguage: s.cfg.SourceLanguage, TargetLanguage: s.cfg.TargetLanguage,
			})
			if err != nil {
				slog.Warn("realtime: segment translation failed", "error", err)
			} else {
				seg.Translated = res.Text
				seg.TargetLanguage = s.cfg.TargetLanguage
			}
		}
		s.segments = append(s.segments, seg)
		if s.opts.Metrics != nil {
			s.opts.Metrics.SegmentLatency.Record(ctx, time.Since(segStart).Seconds())
		}
	case <-ctx.Done():
	case <-time.After(sttFinalTimeout):
		slog.Warn("realtime: timed out waiting for a final transcript")
	}
}

func (s *session) translationEnabled() bool {
	return s.cfg.TranslationEnabled && s.opts.Translator != nil && s.cfg.TargetLanguage != ""
}

// stop releases every resource the session holds, even if a transcription
// call is still mid-flight, and writes whatever artifacts were produced.
func (s *session) stop(ctx context.Context) (Result, error) {
	_ = s.stream.Close()

	select {
	case <-s.loopDone:
	case <-time.After(loopShutdownTimeout):
		slog.Warn("realtime: capture loop did not exit within the shutdown window")
	}

	_ = s.vadSess.Close()
	_ = s.sttSess.Close()

	result := Result{Duration: time.Since(s.startedAt)}

	if len(s.segments) > 0 && s.opts.Files != nil {
		transcriptPath, err := s.opts.Files.Save(filestore.Transcripts, s.id+".txt", renderSegments(s.segments, sourceText))
		if err != nil {
			slog.Error("realtime: write transcript artifact", "error", err)
		} else {
			result.TranscriptPath = transcriptPath
		}

		if s.translationEnabled() {
			translationPath, err := s.opts.Files.Save(filestore.Transcripts, s.id+".translation.txt", renderSegments(s.segments, translatedText))
			if err != nil {
				slog.Error("realtime: write translation artifact", "error", err)
			} else {
				result.TranslationPath = translationPath
			}
		}
	}

	if len(s.recording) > 0 && s.opts.Files != nil {
		recordingPath, err := s.opts.Files.Save(filestore.Recordings, fmt.Sprintf("%s.%s", s.id, s.cfg.RecordingExtension), s.recording)
		if err != nil {
			slog.Error("realtime: write recording artifact", "error", err)
		} else {
			result.RecordingPath = recordingPath
		}
	}

	return result, nil
}

func sourceText(s types.Segment) string     { return s.Source }
func translatedText(s types.Segment) string { return s.Translated }

func renderSegments(segments []types.Segment, pick func(types.Segment) string) []byte {
	var out []byte
	for _, seg := range segments {
		out = append(out, pick(seg)...)
		out = append(out, '\n')
	}
	return out
}

// applyGainClip scales little-endian int16 PCM samples by gain (already
// clamped to [0, 10] by normalizeStartOptions) and clips the scaled result
// to the int16 range representing [-1, 1] in the spec's normalized signal
// model.
func applyGainClip(data []byte, gain float64) []byte {
	out := make([]byte, len(data))
	for i := 0; i+2 <= len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i : i+2]))
		scaled := float64(sample) * gain
		scaled = math.Max(math.MinInt16, math.Min(math.MaxInt16, scaled))
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(int16(scaled)))
	}
	return out
}

// frameDuration computes the playback duration of little-endian int16 mono
// PCM at sampleRate.
func frameDuration(data []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(data) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
