// Package device defines the interfaces and error taxonomy for platform
// audio device access within opsvox.
//
// The two primary abstractions are:
//
//   - [Platform] — opens microphone input and speaker output devices.
//   - [InputDevice] / [OutputDevice] — live device handles delivering or
//     consuming fixed-size sample blocks via callbacks.
//
// Implementations wrap whatever audio backend the host environment provides
// (CoreAudio, ALSA, a browser bridge, …). The session core treats them as
// black boxes: it configures them, receives block-level callbacks, and
// releases them on teardown. Exactly one input and one output handle may be
// live at a time; the capture and render pipelines own them exclusively.
//
// This package lives under pkg/ because external code (third-party device
// adapters) is expected to implement [Platform].
package device

import (
	"context"
	"errors"
)

// ErrDenied is returned by [Platform.OpenInput] when the user or operating
// system refuses microphone permission. It is terminal for the engagement
// cycle and must be surfaced to the user distinctly from other failures;
// callers must not auto-retry.
var ErrDenied = errors.New("device: permission denied")

// ErrUnavailable is returned for any other device acquisition failure
// (device busy, unplugged, backend error). Terminal for the engagement
// cycle; no auto-retry.
var ErrUnavailable = errors.New("device: unavailable")

// DefaultBlockSize is the number of samples delivered per capture callback.
// 4096 samples at 16 kHz is 256 ms of audio, matching the block size the
// assistant endpoint expects.
const DefaultBlockSize = 4096

// CaptureConfig configures an input device opened via [Platform.OpenInput].
type CaptureConfig struct {
	// SampleRate is the requested capture rate in Hz. The device may deliver
	// its native rate instead; callers must check [InputDevice.SampleRate]
	// and resample if needed.
	SampleRate int

	// BlockSize is the number of samples per capture callback.
	// Defaults to [DefaultBlockSize] if zero.
	BlockSize int

	// EchoCancellation, NoiseSuppression, and AutoGainControl request the
	// corresponding input processing stages. Best effort; devices that lack
	// a stage simply omit it.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// PlaybackConfig configures an output device opened via [Platform.OpenOutput].
type PlaybackConfig struct {
	// SampleRate is the playback rate in Hz.
	SampleRate int

	// BlockSize is the number of samples requested per pull callback.
	// Defaults to [DefaultBlockSize] if zero.
	BlockSize int
}

// InputDevice is a live microphone handle.
//
// Implementations deliver capture callbacks from an internal goroutine;
// callbacks must not block. Implementations must be safe for concurrent use.
type InputDevice interface {
	// Start begins capture. onBlock is invoked once per captured block with
	// a slice of exactly BlockSize float samples in [-1, 1]; the slice is
	// only valid for the duration of the call. Start returns an error if
	// capture cannot begin.
	Start(onBlock func(samples []float32)) error

	// SampleRate reports the rate, in Hz, at which blocks are actually
	// captured. May differ from the requested rate.
	SampleRate() int

	// Stop ends capture and releases the device. Idempotent; safe to call
	// even if Start failed or was never called.
	Stop() error
}

// OutputDevice is a live speaker handle driven by a pull model: the device
// requests one block of samples at a time at its fixed cadence.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Start begins playback. pull is invoked once per output block from an
	// internal goroutine; the callback must fill buf completely (zero-fill
	// for silence) and return promptly.
	Start(pull func(buf []float32)) error

	// SampleRate reports the playback rate in Hz.
	SampleRate() int

	// Stop ends playback and releases the device. Idempotent; safe to call
	// from teardown even if Start never completed.
	Stop() error
}

// Platform is the entry point for an audio device backend.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// OpenInput acquires the microphone with the given configuration.
	// Returns an error wrapping [ErrDenied] when permission is refused and
	// [ErrUnavailable] for any other acquisition failure. The supplied ctx
	// governs the acquisition attempt only.
	OpenInput(ctx context.Context, cfg CaptureConfig) (InputDevice, error)

	// OpenOutput acquires the speaker with the given configuration.
	// Returns an error wrapping [ErrUnavailable] on failure.
	OpenOutput(ctx context.Context, cfg PlaybackConfig) (OutputDevice, error)
}
