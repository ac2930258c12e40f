// Package transport maintains the duplex channel between the client and the
// remote assistant endpoint. It owns connection establishment (with a bounded
// per-attempt timeout), automatic reconnection after abnormal closure,
// best-effort outbound frame delivery, and dispatch of inbound media, text,
// and stop messages.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/opsvox/opsvox/internal/observe"
)

// DefaultConnectTimeout bounds a single connect attempt. An attempt that has
// not produced an open channel within this window is aborted and retried.
const DefaultConnectTimeout = 5000 * time.Millisecond

// maxInboundMessage caps the size of a single inbound frame. Media payloads
// carry base64 PCM and can be large.
const maxInboundMessage = 1 << 22

// Event signals a lifecycle transition of the channel.
type Event int

const (
	// EventReady fires each time the channel reaches the open state,
	// including after an automatic reconnect.
	EventReady Event = iota

	// EventDisengaged fires exactly once, when the transport has shut down
	// and will make no further connect attempts.
	EventDisengaged
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventDisengaged:
		return "disengaged"
	default:
		return "unknown"
	}
}

// MediaSink consumes inbound audio delivered by the remote endpoint.
// Implementations must not block: Enqueue is called from the dispatch loop
// and a stalled sink would stall all inbound traffic.
type MediaSink interface {
	// Enqueue hands decoded PCM samples to the sink for playback.
	Enqueue(samples []float32)

	// Interrupt discards any audio the sink is holding but has not yet
	// played. Called when the remote endpoint signals a barge-in stop.
	Interrupt()
}

// Config holds the parameters for one transport instance.
type Config struct {
	// Endpoint is the ws:// or wss:// URL of the assistant endpoint.
	Endpoint string

	// Credential is the opaque per-user credential presented during the
	// channel handshake as the requested subprotocol.
	Credential string
}

// Option customises a [Transport].
type Option func(*Transport)

// WithConnectTimeout overrides [DefaultConnectTimeout] for each connect
// attempt. Intended for tests.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) { t.connectTimeout = d }
}

// Transport is a single-use duplex channel manager. Create one per
// engagement cycle with [New], start it with [Engage], and tear it down with
// [Close]. A closed Transport cannot be re-engaged; build a fresh one.
//
// While engaged the Transport keeps trying to hold an open channel: a failed
// or timed-out connect attempt is retried immediately, and an abnormal
// closure of an open channel triggers an immediate reconnect. Only [Close]
// or a normal closure initiated by the remote endpoint stops the cycle.
type Transport struct {
	endpoint       string
	credential     string
	connectTimeout time.Duration

	sink    MediaSink
	metrics *observe.Metrics

	events chan Event
	texts  chan Text

	mu      sync.Mutex
	conn    *websocket.Conn
	engaged bool
	closed  bool

	runCtx    context.Context
	runCancel context.CancelFunc

	closeOnce sync.Once
}

// New creates a Transport for the given endpoint. The sink receives inbound
// media and barge-in interrupts; transcript text is delivered on [Texts].
func New(cfg Config, sink MediaSink, opts ...Option) *Transport {
	t := &Transport{
		endpoint:       cfg.Endpoint,
		credential:     cfg.Credential,
		connectTimeout: DefaultConnectTimeout,
		sink:           sink,
		metrics:        observe.DefaultMetrics(),
		events:         make(chan Event, 16),
		texts:          make(chan Text, 64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Events returns the lifecycle event stream. The channel is closed after
// [EventDisengaged] has been delivered.
func (t *Transport) Events() <-chan Event { return t.events }

// Texts returns the inbound transcript stream. The channel is closed when
// the transport disengages.
func (t *Transport) Texts() <-chan Text { return t.texts }

// Engage starts the connect loop. It returns immediately; channel state is
// reported via [Events]. Returns an error if the transport was already
// engaged or closed.
func (t *Transport) Engage(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport: already closed")
	}
	if t.engaged {
		return errors.New("transport: already engaged")
	}
	t.engaged = true
	t.runCtx, t.runCancel = context.WithCancel(ctx)

	go t.run()
	return nil
}

// Open reports whether the channel is currently open. Frames sent while the
// channel is not open are dropped.
func (t *Transport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes one outbound frame to the channel. Delivery is best-effort:
// when the channel is not open, or the write fails, the frame is dropped and
// counted. Send never blocks on reconnection.
func (t *Transport) Send(frame []byte) {
	t.mu.Lock()
	conn := t.conn
	ctx := t.runCtx
	t.mu.Unlock()

	if conn == nil {
		t.metrics.FramesDropped.Add(context.Background(), 1)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		slog.Debug("outbound frame dropped", "error", err)
		t.metrics.FramesDropped.Add(ctx, 1)
		return
	}
	t.metrics.FramesSent.Add(ctx, 1)
}

// Close disengages the transport: the open channel (if any) is closed with a
// normal closure status carrying reason, in-flight connect attempts are
// cancelled, and no further attempts are made. Safe to call multiple times
// and safe to call concurrently with Send.
func (t *Transport) Close(reason string) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		cancel := t.runCancel
		engaged := t.engaged
		t.mu.Unlock()

		if conn != nil {
			// Normal closure tells the remote endpoint this is a deliberate
			// disengage, not a failure.
			_ = conn.Close(websocket.StatusNormalClosure, reason)
		}
		if cancel != nil {
			cancel()
		}
		if !engaged {
			// No run loop exists to deliver the terminal event.
			t.events <- EventDisengaged
			close(t.events)
			close(t.texts)
		}
	})
}

// run is the connect loop. It holds the channel open for as long as the
// transport stays engaged, reconnecting immediately after failed attempts
// and abnormal closures. It exits on [Close] or on a normal closure from the
// remote endpoint, delivering [EventDisengaged] and closing both streams.
func (t *Transport) run() {
	defer func() {
		t.events <- EventDisengaged
		close(t.events)
		close(t.texts)
	}()

	first := true
	for {
		if t.runCtx.Err() != nil {
			return
		}
		if !first {
			t.metrics.Reconnects.Add(t.runCtx, 1)
		}

		conn, err := t.dial()
		if err != nil {
			if t.runCtx.Err() != nil {
				return
			}
			// Retry immediately. Holding the channel open takes priority
			// over being gentle with a flaky endpoint.
			first = false
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "disengage")
			return
		}
		t.conn = conn
		t.mu.Unlock()

		t.events <- EventReady
		slog.Info("channel open", "endpoint", t.endpoint)

		normal := t.receiveLoop(conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()

		if t.runCtx.Err() != nil || normal {
			return
		}
		slog.Warn("channel closed abnormally, reconnecting", "endpoint", t.endpoint)
		first = false
	}
}

// dial performs one connect attempt bounded by the connect timeout. The
// credential rides in the handshake as the requested subprotocol, keeping it
// out of the URL and of any access logs.
func (t *Transport) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(t.runCtx, t.connectTimeout)
	defer cancel()

	start := time.Now()
	conn, resp, err := websocket.Dial(dialCtx, t.endpoint, &websocket.DialOptions{
		Subprotocols: []string{t.credential},
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	elapsed := time.Since(start).Seconds()

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		if t.runCtx.Err() == nil {
			t.metrics.RecordConnectAttempt(t.runCtx, status, elapsed)
			slog.Debug("connect attempt failed", "status", status, "error", err)
		}
		return nil, err
	}

	conn.SetReadLimit(maxInboundMessage)
	t.metrics.RecordConnectAttempt(t.runCtx, "open", elapsed)
	return conn, nil
}

// receiveLoop reads and dispatches inbound messages until the channel
// closes. It reports whether the closure was normal: a normal closure means
// the remote endpoint is done with the conversation and the transport should
// disengage rather than reconnect.
func (t *Transport) receiveLoop(conn *websocket.Conn) (normal bool) {
	for {
		_, data, err := conn.Read(t.runCtx)
		if err != nil {
			return websocket.CloseStatus(err) == websocket.StatusNormalClosure
		}
		t.dispatch(data)
	}
}

// dispatch routes one inbound message. Malformed messages are logged,
// counted, and dropped; they never take down the loop.
func (t *Transport) dispatch(data []byte) {
	msg, err := decodeMessage(data)
	if err != nil {
		slog.Warn("malformed inbound message dropped", "error", err)
		t.metrics.MalformedMessages.Add(t.runCtx, 1)
		return
	}
	t.metrics.RecordMessageReceived(t.runCtx, msg.Kind)

	switch msg.Kind {
	case kindMedia:
		t.sink.Enqueue(msg.Media)

	case kindText:
		select {
		case t.texts <- msg.Text:
		default:
			slog.Warn("transcript stream full, fragment dropped",
				"speaker", msg.Text.Speaker)
		}

	case kindStop:
		// Barge-in: the remote endpoint detected the user speaking over the
		// agent. Pending playback must vanish before the next media frame.
		t.sink.Interrupt()
	}
}
