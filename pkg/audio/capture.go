// Package audio defines the interfaces and types for local microphone audio
// capture used by the realtime recorder, plus shared PCM conversion helpers.
//
// The primary abstraction is [Device] — a local input device that, once
// opened, streams [types.AudioFrame] values until the returned [Stream] is
// closed. Unlike a multi-participant voice-channel platform, a Device
// represents exactly one physical or virtual input (the operator's
// microphone, or a loopback/system-audio source); there is no per-participant
// fan-out and no mixed output channel.
//
// Implementations are provided by platform-specific adapter packages. The
// interface is intentionally narrow so that the realtime recorder remains
// decoupled from the OS audio stack.
//
// This package lives under pkg/ because external code (platform-specific
// capture backends) is expected to implement [Device].
package audio

import (
	"context"

	"github.com/echonote/engine/pkg/types"
)

// Stream represents an open capture session on a [Device]. It remains valid
// until [Stream.Close] is called or the context used to open it is
// cancelled.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns a read-only channel that delivers captured
	// [types.AudioFrame] values as they arrive. The channel is closed when
	// the stream ends (error, Close, or context cancellation).
	Frames() <-chan types.AudioFrame

	// Close stops capture and releases the underlying device handle. Safe to
	// call more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Device is the entry point for a local audio capture backend.
//
// Implementations must be safe for concurrent use; a single Device may be
// opened by at most one active [Stream] at a time, but Open may be called
// again after the previous Stream is closed.
type Device interface {
	// Open begins capturing audio at the requested format and returns a
	// [Stream] ready to deliver frames. The supplied ctx governs the open
	// attempt only; once opened, the Stream remains alive until
	// [Stream.Close] is called explicitly.
	//
	// Returns an error if the device cannot be opened (not found, already in
	// use, unsupported format).
	Open(ctx context.Context, format Format) (Stream, error)

	// Name returns a human-readable identifier for this device, suitable for
	// display in a device-selection list.
	Name() string
}
