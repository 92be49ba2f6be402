// Package mock provides in-memory mock implementations of [audio.Device] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record Open and Close calls so
// that tests can assert on call counts and arguments, and expose exported
// fields that the test can set to control return values.
package mock

import (
	"context"
	"sync"

	"github.com/echonote/engine/pkg/audio"
	"github.com/echonote/engine/pkg/types"
)

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu sync.Mutex

	// FramesCh is returned by [Stream.Frames].
	FramesCh chan types.AudioFrame

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan types.AudioFrame {
	return s.FramesCh
}

// Close implements [audio.Stream]. Closes FramesCh on first call.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.CallCountClose == 1 && s.FramesCh != nil {
		close(s.FramesCh)
	}
	return s.CloseError
}

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	Format audio.Format
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is the [audio.Stream] returned by Open.
	OpenResult audio.Stream

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// NameValue is returned by Name.
	NameValue string
}

// Open implements [audio.Device]. Records the call and returns
// OpenResult/OpenError.
func (d *Device) Open(_ context.Context, format audio.Format) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Format: format})
	return d.OpenResult, d.OpenError
}

// Name implements [audio.Device].
func (d *Device) Name() string {
	if d.NameValue != "" {
		return d.NameValue
	}
	return "mock-device"
}
