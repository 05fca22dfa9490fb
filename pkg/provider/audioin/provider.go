// Package audioin defines the audio-capture provider contract. Sources yield
// fixed-size PCM analysis frames; the Guard enforces single-holder microphone
// discipline so the scream classifier and the voice recognizer never capture
// concurrently.
package audioin

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied indicates the platform refused microphone access.
	ErrPermissionDenied = errors.New("audioin: permission denied")
	// ErrUnsupported indicates no capture device exists on this host.
	ErrUnsupported = errors.New("audioin: not supported")
	// ErrDeviceBusy indicates the capture device is held by another consumer.
	ErrDeviceBusy = errors.New("audioin: device busy")
)

// Frame is one analysis window of mono PCM audio.
type Frame struct {
	Samples    []float32 // normalized [-1, 1]
	SampleRate int
	Timestamp  time.Time
}

// Stream is an open capture stream.
type Stream interface {
	// Frames returns the channel of captured frames. The channel is closed
	// when the stream ends.
	Frames() <-chan Frame
	// Close stops capture and releases the device. Idempotent.
	Close() error
}

// Source opens capture streams.
type Source interface {
	// Open starts capturing. frameLen is the number of samples per frame.
	Open(ctx context.Context, frameLen int) (Stream, error)
}
