// Package capture streams microphone audio toward the assistant endpoint.
// It opens the input device with voice processing enabled, receives fixed
// blocks, resamples them to the wire rate, PCM-encodes them, and forwards
// them to the transport — but only while the channel is open.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opsvox/opsvox/internal/observe"
	"github.com/opsvox/opsvox/pkg/device"
	"github.com/opsvox/opsvox/pkg/pcm"
)

// Sender is the outbound side of the duplex channel as capture sees it.
// Implemented by *transport.Transport.
type Sender interface {
	// Open reports whether the channel currently accepts frames.
	Open() bool

	// Send delivers one encoded frame, best-effort.
	Send(frame []byte)
}

// Monitor receives a muted copy of every captured block. Wiring the capture
// path into the playback device keeps the audio graph pumping on platforms
// that suspend idle outputs; the copy is zeroed so the speaker never echoes
// the microphone.
type Monitor interface {
	Enqueue(samples []float32)
}

// Discard is the no-op monitor sink, for platforms whose output graphs run
// continuously and need no keep-alive feed.
var Discard Monitor = discardMonitor{}

type discardMonitor struct{}

func (discardMonitor) Enqueue([]float32) {}

// Config holds capture parameters.
type Config struct {
	// BlockSize is the samples-per-block the input device delivers.
	// Defaults to [device.DefaultBlockSize].
	BlockSize int

	// Voice processing toggles, passed through to the device.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Option customises a [Capture].
type Option func(*Capture)

// WithMonitor attaches a zero-gain monitor sink.
func WithMonitor(m Monitor) Option {
	return func(c *Capture) { c.monitor = m }
}

// Capture owns the input device for one engagement cycle. Create with [New],
// start with [Start], tear down with [Stop]. Not reusable after Stop.
type Capture struct {
	platform device.Platform
	tx       Sender
	cfg      Config
	monitor  Monitor
	metrics  *observe.Metrics

	mu      sync.Mutex
	in      device.InputDevice
	stopped bool

	dropWarn sync.Once
}

// New creates a capture pipeline feeding tx.
func New(platform device.Platform, tx Sender, cfg Config, opts ...Option) *Capture {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = device.DefaultBlockSize
	}
	c := &Capture{
		platform: platform,
		tx:       tx,
		cfg:      cfg,
		metrics:  observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the input device and begins forwarding blocks. Open failures
// keep the device taxonomy intact: errors.Is(err, device.ErrDenied) and
// errors.Is(err, device.ErrUnavailable) hold on the wrapped error.
func (c *Capture) Start(ctx context.Context) error {
	in, err := c.platform.OpenInput(ctx, device.CaptureConfig{
		SampleRate:       pcm.WireSampleRate,
		BlockSize:        c.cfg.BlockSize,
		EchoCancellation: c.cfg.EchoCancellation,
		NoiseSuppression: c.cfg.NoiseSuppression,
		AutoGainControl:  c.cfg.AutoGainControl,
	})
	if err != nil {
		return fmt.Errorf("capture: open input: %w", err)
	}

	c.mu.Lock()
	c.in = in
	c.mu.Unlock()

	if err := in.Start(c.onBlock); err != nil {
		// Release the handle: a device opened here must not outlive a
		// failed Start.
		_ = in.Stop()
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		return fmt.Errorf("capture: start input: %w", err)
	}
	slog.Info("capture started",
		"device_rate", in.SampleRate(),
		"block_size", c.cfg.BlockSize,
	)
	return nil
}

// Stop halts the input device. Idempotent; returns [ErrNotStarted] when
// Start never succeeded.
func (c *Capture) Stop() error {
	c.mu.Lock()
	in := c.in
	stopped := c.stopped
	c.stopped = true
	c.mu.Unlock()

	if in == nil {
		return ErrNotStarted
	}
	if stopped {
		return nil
	}
	return in.Stop()
}

// ErrNotStarted is returned by Stop when the pipeline never started.
var ErrNotStarted = errors.New("capture: not started")

// onBlock handles one captured block on the device's callback goroutine.
func (c *Capture) onBlock(samples []float32) {
	c.mu.Lock()
	stopped := c.stopped
	in := c.in
	c.mu.Unlock()
	if stopped || in == nil {
		return
	}

	if c.monitor != nil {
		// Zeroed copy: keeps the output device pumping without echo.
		c.monitor.Enqueue(make([]float32, len(samples)))
	}

	if !c.tx.Open() {
		// Frames captured while the channel is down are discarded, never
		// buffered: stale audio must not burst out after a reconnect.
		c.metrics.FramesDropped.Add(context.Background(), 1)
		c.dropWarn.Do(func() {
			slog.Warn("channel not open, dropping captured audio")
		})
		return
	}

	if rate := in.SampleRate(); rate != pcm.WireSampleRate {
		samples = pcm.ResampleMono(samples, rate, pcm.WireSampleRate)
	}
	c.tx.Send([]byte(pcm.EncodeTransport(samples)))
}
