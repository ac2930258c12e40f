// Package render plays inbound agent audio on an output device. It owns the
// playback queue, pads device pulls with silence when the queue runs dry,
// and supports barge-in interrupts that discard everything not yet played.
package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/opsvox/opsvox/internal/observe"
	"github.com/opsvox/opsvox/internal/transport"
	"github.com/opsvox/opsvox/pkg/device"
	"github.com/opsvox/opsvox/pkg/pcm"
)

// ErrNotStarted is returned by Stop when the renderer never started.
var ErrNotStarted = errors.New("render: not started")

var _ transport.MediaSink = (*Render)(nil)

// Render queues decoded agent audio and feeds it to an output device on the
// device's pull schedule. Enqueue never blocks the caller: audio is appended
// to an internal queue and drained by the device at playback rate.
//
// Render also tracks whether the agent is audibly speaking. The flag flips
// true when audio is queued and false when the queue fully drains or is
// interrupted; transitions are published on [StateChanges].
type Render struct {
	out     device.OutputDevice
	metrics *observe.Metrics

	states chan bool

	mu       sync.Mutex
	queue    [][]float32
	head     int // consumed samples of queue[0]
	speaking bool
	started  bool
	stopped  bool
}

// New creates a renderer for the given output device. The device is not
// started until [Render.Start].
func New(out device.OutputDevice) *Render {
	return &Render{
		out:     out,
		metrics: observe.DefaultMetrics(),
		states:  make(chan bool, 16),
	}
}

// StateChanges reports agent-speaking transitions: true when queued audio
// starts, false when the queue drains or is interrupted. Delivery is
// best-effort; a slow consumer misses intermediate flips, never the work.
func (r *Render) StateChanges() <-chan bool { return r.states }

// Start begins pulling audio to the device. Calling Start twice is an error.
func (r *Render) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("render: already started")
	}
	r.started = true
	r.mu.Unlock()

	return r.out.Start(r.pull)
}

// Enqueue appends one block of agent audio to the playback queue. Samples
// arrive at the wire rate and are resampled to the device rate when the two
// differ. Never blocks; safe to call from the transport dispatch loop.
func (r *Render) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if rate := r.out.SampleRate(); rate != pcm.WireSampleRate {
		samples = pcm.ResampleMono(samples, pcm.WireSampleRate, rate)
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, samples)
	r.metrics.PlaybackQueueDepth.Add(context.Background(), 1)
	r.setSpeakingLocked(true)
	r.mu.Unlock()
}

// Interrupt discards all queued audio immediately. The next device pull
// plays silence. Used for barge-in: the user spoke over the agent and the
// rest of the agent's utterance must not be heard.
func (r *Render) Interrupt() {
	r.mu.Lock()
	flushed := len(r.queue)
	r.queue = nil
	r.head = 0
	if flushed > 0 {
		r.metrics.PlaybackQueueDepth.Add(context.Background(), -int64(flushed))
	}
	r.setSpeakingLocked(false)
	r.mu.Unlock()

	if flushed > 0 {
		slog.Debug("playback interrupted", "flushed_blocks", flushed)
	}
}

// Stop halts the device and discards queued audio. Idempotent.
func (r *Render) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	flushed := len(r.queue)
	r.queue = nil
	r.head = 0
	if flushed > 0 {
		r.metrics.PlaybackQueueDepth.Add(context.Background(), -int64(flushed))
	}
	r.setSpeakingLocked(false)
	r.mu.Unlock()

	return r.out.Stop()
}

// pull fills buf with queued audio, zero-padding any shortfall. Runs on the
// device's playback callback; must stay cheap.
func (r *Render) pull(buf []float32) {
	r.mu.Lock()
	n := 0
	for n < len(buf) && len(r.queue) > 0 {
		blk := r.queue[0]
		c := copy(buf[n:], blk[r.head:])
		n += c
		r.head += c
		if r.head == len(blk) {
			r.queue = r.queue[1:]
			r.head = 0
			r.metrics.PlaybackQueueDepth.Add(context.Background(), -1)
		}
	}
	if len(r.queue) == 0 {
		r.setSpeakingLocked(false)
	}
	r.mu.Unlock()

	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

// setSpeakingLocked flips the agent-speaking flag and publishes the
// transition. Caller holds r.mu.
func (r *Render) setSpeakingLocked(speaking bool) {
	if r.speaking == speaking {
		return
	}
	r.speaking = speaking
	select {
	case r.states <- speaking:
	default:
	}
}
