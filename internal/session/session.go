// Package session coordinates one voice engagement at a time: it builds the
// capture, render, and transport pipelines when the user engages, relays
// transcript text as it arrives, tracks whether the agent is audibly
// speaking, and tears the whole stack down when the user (or the remote
// endpoint) disengages. Every engagement cycle gets fresh pipelines; nothing
// is reused across cycles.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opsvox/opsvox/internal/capture"
	"github.com/opsvox/opsvox/internal/observe"
	"github.com/opsvox/opsvox/internal/render"
	"github.com/opsvox/opsvox/internal/transport"
	"github.com/opsvox/opsvox/pkg/device"
	"github.com/opsvox/opsvox/pkg/identity"
	"github.com/opsvox/opsvox/pkg/pcm"
)

// State is the controller's lifecycle phase.
type State int

const (
	// StateIdle means no engagement is active.
	StateIdle State = iota

	// StateConnecting means pipelines are built and the transport is
	// working toward an open channel.
	StateConnecting

	// StateStreaming means the channel is open and audio flows both ways.
	StateStreaming

	// StateDisengaging means teardown is in progress.
	StateDisengaging
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisengaging:
		return "disengaging"
	default:
		return "unknown"
	}
}

// TranscriptEntry is one utterance in the conversation log.
type TranscriptEntry struct {
	// IsLocalSpeaker is true for recognised local speech, false for the
	// agent's replies.
	IsLocalSpeaker bool

	// Text is the transcript content.
	Text string
}

// Config holds session parameters.
type Config struct {
	// Endpoint is the assistant endpoint URL.
	Endpoint string

	// Capture configures the microphone pipeline.
	Capture capture.Config

	// TransportOptions are passed through to each cycle's transport.
	// Intended for tests.
	TransportOptions []transport.Option
}

// Option customises a [Controller].
type Option func(*Controller)

// WithTranscriptFunc registers a callback invoked for every transcript entry
// as it is appended, on the session's text goroutine.
func WithTranscriptFunc(fn func(TranscriptEntry)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// Controller is the engagement state machine. A single Controller serves the
// whole process lifetime; pipelines live only as long as one cycle.
type Controller struct {
	cfg      Config
	platform device.Platform
	ident    identity.Provider
	metrics  *observe.Metrics

	onTranscript func(TranscriptEntry)

	state         atomic.Int64
	agentSpeaking atomic.Bool

	// toggleMu serialises SetEngaged so concurrent toggles cannot build two
	// cycles at once.
	toggleMu sync.Mutex

	mu         sync.Mutex
	cycle      *cycle
	transcript []TranscriptEntry
}

// New creates a Controller. The platform opens devices per cycle; ident
// supplies the channel credential at engage time, so a refreshed credential
// is picked up by the next cycle.
func New(cfg Config, platform device.Platform, ident identity.Provider, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		platform: platform,
		ident:    ident,
		metrics:  observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle phase.
func (c *Controller) State() State { return State(c.state.Load()) }

// AgentSpeaking reports whether agent audio is currently queued or playing.
// Driven by render queue transitions; barge-in stops flip it false the
// moment the queue is flushed.
func (c *Controller) AgentSpeaking() bool { return c.agentSpeaking.Load() }

// Transcript returns a copy of the append-only conversation log. Entries
// accumulate across engagement cycles for the life of the Controller.
func (c *Controller) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TranscriptEntry(nil), c.transcript...)
}

// SetEngaged toggles the engagement. Engaging while engaged (or disengaging
// while idle) is a no-op, so rapid toggles are safe. Engaging builds fresh
// pipelines; an error means nothing was left running. Disengaging blocks
// until teardown completes, guaranteeing the next engage starts clean.
func (c *Controller) SetEngaged(ctx context.Context, engaged bool) error {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()
	if engaged {
		return c.engage(ctx)
	}
	c.disengage()
	return nil
}

// Close disengages and releases the controller. Safe when already idle.
func (c *Controller) Close() {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()
	c.disengage()
}

func (c *Controller) engage(ctx context.Context) error {
	c.mu.Lock()
	if c.cycle != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cred, err := c.ident.Credential()
	if err != nil {
		return fmt.Errorf("session: engage: %w", err)
	}

	c.setState(StateConnecting)

	// Render first: the agent speaks as soon as the channel opens, so the
	// playback path must already be live.
	out, err := c.platform.OpenOutput(ctx, device.PlaybackConfig{
		SampleRate: pcm.WireSampleRate,
		BlockSize:  device.DefaultBlockSize,
	})
	if err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("session: open output: %w", err)
	}
	ren := render.New(out)
	if err := ren.Start(); err != nil {
		// The output device was already opened; release it.
		_ = ren.Stop()
		c.setState(StateIdle)
		return fmt.Errorf("session: start render: %w", err)
	}

	tr := transport.New(transport.Config{
		Endpoint:   c.cfg.Endpoint,
		Credential: cred,
	}, ren, c.cfg.TransportOptions...)

	// The pull-model output device drives the graph on its own, so the
	// zero-gain monitor path terminates in the discard sink.
	mic := capture.New(c.platform, tr, c.cfg.Capture, capture.WithMonitor(capture.Discard))
	if err := mic.Start(ctx); err != nil {
		_ = ren.Stop()
		c.setState(StateIdle)
		return err
	}

	if err := tr.Engage(ctx); err != nil {
		_ = mic.Stop()
		_ = ren.Stop()
		c.setState(StateIdle)
		return fmt.Errorf("session: engage transport: %w", err)
	}

	cy := &cycle{
		ctrl:   c,
		tr:     tr,
		mic:    mic,
		ren:    ren,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.cycle = cy
	c.mu.Unlock()

	c.metrics.EngagedSessions.Add(ctx, 1)
	slog.Info("session engaged", "endpoint", c.cfg.Endpoint)

	go cy.run()
	return nil
}

func (c *Controller) disengage() {
	c.mu.Lock()
	cy := c.cycle
	c.mu.Unlock()
	if cy == nil {
		return
	}
	cy.requestStop()
	<-cy.done
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int64(s)))
	if old != s {
		slog.Debug("session state", "from", old.String(), "to", s.String())
	}
}

// appendTranscript records one entry and notifies the callback.
func (c *Controller) appendTranscript(txt transport.Text) {
	entry := TranscriptEntry{
		IsLocalSpeaker: txt.Speaker == "user",
		Text:           txt.Content,
	}
	c.mu.Lock()
	c.transcript = append(c.transcript, entry)
	c.mu.Unlock()

	c.metrics.RecordTranscriptEntry(context.Background(), txt.Speaker)
	if c.onTranscript != nil {
		c.onTranscript(entry)
	}
}

// clearCycle detaches cy from the controller if it is still the active one.
func (c *Controller) clearCycle(cy *cycle) {
	c.mu.Lock()
	if c.cycle == cy {
		c.cycle = nil
	}
	c.mu.Unlock()
}

// ─── cycle ────────────────────────────────────────────────────────────────────

// cycle owns the pipelines of one engagement. It runs until the user
// disengages or the remote endpoint closes the conversation, then tears
// everything down in order: capture, transport, render.
type cycle struct {
	ctrl *Controller
	tr   *transport.Transport
	mic  *capture.Capture
	ren  *render.Render

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (cy *cycle) requestStop() {
	cy.stopOnce.Do(func() { close(cy.stopCh) })
}

func (cy *cycle) run() {
	defer close(cy.done)

	var wg sync.WaitGroup

	// Transcript relay: runs until the transport closes its text stream.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for txt := range cy.tr.Texts() {
			cy.ctrl.appendTranscript(txt)
		}
	}()

	// Agent-speaking relay: render queue transitions are the only source of
	// truth for the flag.
	speakDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case speaking := <-cy.ren.StateChanges():
				cy.ctrl.agentSpeaking.Store(speaking)
			case <-speakDone:
				return
			}
		}
	}()

	// Lifecycle loop.
	events := cy.tr.Events()
loop:
	for {
		select {
		case <-cy.stopCh:
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			switch ev {
			case transport.EventReady:
				cy.ctrl.setState(StateStreaming)
			case transport.EventDisengaged:
				// Remote endpoint ended the conversation.
				break loop
			}
		}
	}

	cy.ctrl.setState(StateDisengaging)

	if err := cy.mic.Stop(); err != nil {
		slog.Warn("capture stop failed", "error", err)
	}
	cy.tr.Close("user disengage")
	for range events {
		// Drain so the transport's run loop can finish.
	}
	if err := cy.ren.Stop(); err != nil {
		slog.Warn("render stop failed", "error", err)
	}
	close(speakDone)
	wg.Wait()

	cy.ctrl.agentSpeaking.Store(false)
	cy.ctrl.clearCycle(cy)
	cy.ctrl.metrics.EngagedSessions.Add(context.Background(), -1)
	cy.ctrl.setState(StateIdle)
	slog.Info("session disengaged")
}
