// Package mock provides in-memory mock implementations of the
// [device.Platform], [device.InputDevice], and [device.OutputDevice]
// interfaces for use in unit tests and headless runs.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputDevice{Rate: 16000}
//	platform := &mock.Platform{OpenInputResult: in}
//	dev, err := platform.OpenInput(ctx, device.CaptureConfig{SampleRate: 16000})
//	in.EmitBlock(make([]float32, 4096)) // simulate a captured block
package mock

import (
	"context"
	"sync"

	"github.com/opsvox/opsvox/pkg/device"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [device.InputDevice].
// Feed captured audio to the registered callback with [InputDevice.EmitBlock].
type InputDevice struct {
	mu sync.Mutex

	// Rate is returned by [InputDevice.SampleRate]. Defaults to 16000 if zero.
	Rate int

	// StartError is returned by [InputDevice.Start].
	StartError error

	// StopError is returned by [InputDevice.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	onBlock func([]float32)
	stopped bool
}

// Start implements [device.InputDevice]. Records the callback for use by
// [InputDevice.EmitBlock].
func (d *InputDevice) Start(onBlock func(samples []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.onBlock = onBlock
	d.stopped = false
	return nil
}

// SampleRate implements [device.InputDevice].
func (d *InputDevice) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Rate == 0 {
		return 16000
	}
	return d.Rate
}

// Stop implements [device.InputDevice]. Subsequent EmitBlock calls are
// dropped.
func (d *InputDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.stopped = true
	return d.StopError
}

// EmitBlock delivers samples to the callback registered via Start, on the
// caller's goroutine. Blocks emitted before Start or after Stop are dropped.
func (d *InputDevice) EmitBlock(samples []float32) {
	d.mu.Lock()
	cb := d.onBlock
	stopped := d.stopped
	d.mu.Unlock()
	if cb == nil || stopped {
		return
	}
	cb(samples)
}

// Stopped reports whether Stop has been called since the last Start.
func (d *InputDevice) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [device.OutputDevice].
// Drive playback from tests with [OutputDevice.PullBlock].
type OutputDevice struct {
	mu sync.Mutex

	// Rate is returned by [OutputDevice.SampleRate]. Defaults to 16000 if zero.
	Rate int

	// StartError is returned by [OutputDevice.Start].
	StartError error

	// StopError is returned by [OutputDevice.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	pull    func([]float32)
	stopped bool
}

// Start implements [device.OutputDevice]. Records the pull callback for use
// by [OutputDevice.PullBlock].
func (d *OutputDevice) Start(pull func(buf []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.pull = pull
	d.stopped = false
	return nil
}

// SampleRate implements [device.OutputDevice].
func (d *OutputDevice) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Rate == 0 {
		return 16000
	}
	return d.Rate
}

// Stop implements [device.OutputDevice].
func (d *OutputDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.stopped = true
	return d.StopError
}

// PullBlock invokes the registered pull callback with a fresh buffer of n
// samples and returns it. Returns nil if Start has not been called or Stop
// has been called.
func (d *OutputDevice) PullBlock(n int) []float32 {
	d.mu.Lock()
	pull := d.pull
	stopped := d.stopped
	d.mu.Unlock()
	if pull == nil || stopped {
		return nil
	}
	buf := make([]float32, n)
	pull(buf)
	return buf
}

// Stopped reports whether Stop has been called since the last Start.
func (d *OutputDevice) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// OpenInputCall records the arguments of a single [Platform.OpenInput] invocation.
type OpenInputCall struct {
	// Config is the capture configuration passed to OpenInput.
	Config device.CaptureConfig
}

// OpenOutputCall records the arguments of a single [Platform.OpenOutput] invocation.
type OpenOutputCall struct {
	// Config is the playback configuration passed to OpenOutput.
	Config device.PlaybackConfig
}

// Platform is a mock implementation of [device.Platform].
type Platform struct {
	mu sync.Mutex

	// OpenInputResult is the [device.InputDevice] returned by OpenInput.
	// Defaults to a fresh [InputDevice] if nil and OpenInputError is nil.
	OpenInputResult device.InputDevice

	// OpenInputError is the error returned by OpenInput.
	OpenInputError error

	// OpenOutputResult is the [device.OutputDevice] returned by OpenOutput.
	// Defaults to a fresh [OutputDevice] if nil and OpenOutputError is nil.
	OpenOutputResult device.OutputDevice

	// OpenOutputError is the error returned by OpenOutput.
	OpenOutputError error

	// OpenInputCalls records all OpenInput invocations.
	OpenInputCalls []OpenInputCall

	// OpenOutputCalls records all OpenOutput invocations.
	OpenOutputCalls []OpenOutputCall
}

// OpenInput implements [device.Platform].
func (p *Platform) OpenInput(_ context.Context, cfg device.CaptureConfig) (device.InputDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenInputCalls = append(p.OpenInputCalls, OpenInputCall{Config: cfg})
	if p.OpenInputError != nil {
		return nil, p.OpenInputError
	}
	if p.OpenInputResult == nil {
		p.OpenInputResult = &InputDevice{}
	}
	return p.OpenInputResult, nil
}

// OpenOutput implements [device.Platform].
func (p *Platform) OpenOutput(_ context.Context, cfg device.PlaybackConfig) (device.OutputDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenOutputCalls = append(p.OpenOutputCalls, OpenOutputCall{Config: cfg})
	if p.OpenOutputError != nil {
		return nil, p.OpenOutputError
	}
	if p.OpenOutputResult == nil {
		p.OpenOutputResult = &OutputDevice{}
	}
	return p.OpenOutputResult, nil
}
