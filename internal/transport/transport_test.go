package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/opsvox/opsvox/pkg/pcm"
)

// mockSink records inbound media and interrupts, signalling on channels so
// tests can wait without polling.
type mockSink struct {
	mu         sync.Mutex
	enqueued   [][]float32
	interrupts int

	mediaCh     chan []float32
	interruptCh chan struct{}
}

func newMockSink() *mockSink {
	return &mockSink{
		mediaCh:     make(chan []float32, 16),
		interruptCh: make(chan struct{}, 16),
	}
}

func (s *mockSink) Enqueue(samples []float32) {
	s.mu.Lock()
	s.enqueued = append(s.enqueued, samples)
	s.mu.Unlock()
	s.mediaCh <- samples
}

func (s *mockSink) Interrupt() {
	s.mu.Lock()
	s.interrupts++
	s.mu.Unlock()
	s.interruptCh <- struct{}{}
}

// fakeEndpoint runs an in-process assistant endpoint. Each accepted channel
// is handed to handler; accepts are counted.
type fakeEndpoint struct {
	srv     *httptest.Server
	accepts atomic.Int64

	mu          sync.Mutex
	subprotocol string
}

func newFakeEndpoint(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) *fakeEndpoint {
	t.Helper()
	fe := &fakeEndpoint{}
	fe.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fe.mu.Lock()
		fe.subprotocol = r.Header.Get("Sec-WebSocket-Protocol")
		fe.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fe.accepts.Add(1)
		handler(r.Context(), conn)
	}))
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEndpoint) url() string {
	return "ws" + strings.TrimPrefix(fe.srv.URL, "http")
}

func (fe *fakeEndpoint) requestedSubprotocol() string {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.subprotocol
}

func mediaMessage(t *testing.T, samples []float32) []byte {
	t.Helper()
	b, err := json.Marshal(wireMessage{
		Event: "media",
		Data:  pcm.EncodeTransport(samples),
	})
	if err != nil {
		t.Fatalf("marshal media message: %v", err)
	}
	return b
}

func waitEvent(t *testing.T, tr *Transport, want Event) {
	t.Helper()
	select {
	case got, ok := <-tr.Events():
		if !ok {
			t.Fatalf("event stream closed, want %v", want)
		}
		if got != want {
			t.Fatalf("event = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event %v", want)
	}
}

func TestEngageDeliversMediaTextAndStop(t *testing.T) {
	fe := newFakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		write := func(b []byte) {
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				t.Errorf("endpoint write: %v", err)
			}
		}
		write(mediaMessage(t, []float32{0.25, -0.5}))
		write([]byte(`{"event":"text","speaker":"agent","data":"Checking the deployment."}`))
		write([]byte(`{"event":"stop"}`))
		write([]byte(`{"event":"text","speaker":"user","data":"Thanks."}`))
		// Hold the channel open until the client disengages.
		conn.Read(ctx)
	})

	sink := newMockSink()
	tr := New(Config{Endpoint: fe.url(), Credential: "token-abc"}, sink)
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("Engage() error: %v", err)
	}
	defer tr.Close("disengage")

	waitEvent(t, tr, EventReady)

	if got := fe.requestedSubprotocol(); got != "token-abc" {
		t.Errorf("handshake subprotocol = %q, want %q", got, "token-abc")
	}

	select {
	case samples := <-sink.mediaCh:
		if len(samples) != 2 {
			t.Errorf("media block length = %d, want 2", len(samples))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for media")
	}

	select {
	case <-sink.interruptCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for interrupt")
	}

	wantTexts := []Text{
		{Speaker: "agent", Content: "Checking the deployment."},
		{Speaker: "user", Content: "Thanks."},
	}
	for i, want := range wantTexts {
		select {
		case got := <-tr.Texts():
			if got != want {
				t.Errorf("text[%d] = %+v, want %+v", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for text[%d]", i)
		}
	}
}

func TestSendReachesEndpoint(t *testing.T) {
	received := make(chan []byte, 1)
	fe := newFakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- data
		conn.Read(ctx)
	})

	sink := newMockSink()
	tr := New(Config{Endpoint: fe.url(), Credential: "tok"}, sink)
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("Engage() error: %v", err)
	}
	defer tr.Close("disengage")

	waitEvent(t, tr, EventReady)

	frame := []byte(pcm.EncodeTransport([]float32{0.5}))
	tr.Send(frame)

	select {
	case got := <-received:
		if string(got) != string(frame) {
			t.Errorf("endpoint received %q, want %q", got, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
	}
}

func TestSendWhileNotOpenDropsFrame(t *testing.T) {
	sink := newMockSink()
	tr := New(Config{Endpoint: "ws://127.0.0.1:1", Credential: "tok"}, sink)

	// Never engaged: must not panic or block.
	tr.Send([]byte("frame"))
	tr.Close("disengage")
	waitEvent(t, tr, EventDisengaged)
}

func TestRetriesUntilClosed(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "not today", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := newMockSink()
	tr := New(Config{
		Endpoint:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Credential: "tok",
	}, sink, WithConnectTimeout(100*time.Millisecond))
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("Engage() error: %v", err)
	}

	// The connect loop must keep producing attempts without giving up.
	deadline := time.Now().Add(2 * time.Second)
	for attempts.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("attempts = %d after 2s, want >= 3", attempts.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	tr.Close("disengage")
	waitEvent(t, tr, EventDisengaged)

	// After disengage the loop must stop dead.
	settled := attempts.Load()
	time.Sleep(150 * time.Millisecond)
	if got := attempts.Load(); got > settled+1 {
		t.Errorf("attempts after Close = %d, want <= %d", got, settled+1)
	}
}

func TestNormalClosureDisengagesWithoutReconnect(t *testing.T) {
	fe := newFakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusNormalClosure, "conversation over")
	})

	sink := newMockSink()
	tr := New(Config{Endpoint: fe.url(), Credential: "tok"}, sink)
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("Engage() error: %v", err)
	}
	defer tr.Close("disengage")

	waitEvent(t, tr, EventReady)
	waitEvent(t, tr, EventDisengaged)

	time.Sleep(100 * time.Millisecond)
	if got := fe.accepts.Load(); got != 1 {
		t.Errorf("accepts = %d, want 1 (normal closure must not reconnect)", got)
	}
}

func TestAbnormalClosureReconnectsImmediately(t *testing.T) {
	fe := newFakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusInternalError, "endpoint crashed")
	})

	sink := newMockSink()
	tr := New(Config{Endpoint: fe.url(), Credential: "tok"}, sink)
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("Engage() error: %v", err)
	}

	// Every accept ends abnormally, so the transport should reconnect over
	// and over until closed.
	waitEvent(t, tr, EventReady)
	waitEvent(t, tr, EventReady)

	tr.Close("disengage")
	for {
		ev, ok := <-tr.Events()
		if !ok {
			t.Fatal("event stream closed without EventDisengaged")
		}
		if ev == EventDisengaged {
			break
		}
	}

	if got := fe.accepts.Load(); got < 2 {
		t.Errorf("accepts = %d, want >= 2", got)
	}
}

func TestMalformedMessagesDropped(t *testing.T) {
	fe := newFakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		write := func(b []byte) { conn.Write(ctx, websocket.MessageText, b) }
		write([]byte(`{not json`))
		write([]byte(`{"event":"teleport"}`))
		write([]byte(`{"event":"media","data":"!!! not base64 !!!"}`))
		write(mediaMessage(t, []float32{0.1}))
		conn.Read(ctx)
	})

	sink := newMockSink()
	tr := New(Config{Endpoint: fe.url(), Credential: "tok"}, sink)
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("Engage() error: %v", err)
	}
	defer tr.Close("disengage")

	waitEvent(t, tr, EventReady)

	// Only the well-formed trailing message should arrive.
	select {
	case samples := <-sink.mediaCh:
		if len(samples) != 1 {
			t.Errorf("media block length = %d, want 1", len(samples))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for valid media after malformed batch")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.enqueued) != 1 {
		t.Errorf("enqueued blocks = %d, want 1", len(sink.enqueued))
	}
	if sink.interrupts != 0 {
		t.Errorf("interrupts = %d, want 0", sink.interrupts)
	}
}

func TestEngageTwiceFails(t *testing.T) {
	fe := newFakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
	})

	tr := New(Config{Endpoint: fe.url(), Credential: "tok"}, newMockSink())
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("first Engage() error: %v", err)
	}
	defer tr.Close("disengage")

	if err := tr.Engage(context.Background()); err == nil {
		t.Error("second Engage() succeeded, want error")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fe := newFakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
	})

	tr := New(Config{Endpoint: fe.url(), Credential: "tok"}, newMockSink())
	if err := tr.Engage(context.Background()); err != nil {
		t.Fatalf("Engage() error: %v", err)
	}
	waitEvent(t, tr, EventReady)

	tr.Close("disengage")
	tr.Close("disengage")
	waitEvent(t, tr, EventDisengaged)

	if _, ok := <-tr.Events(); ok {
		t.Error("event stream still open after disengage")
	}
	if _, ok := <-tr.Texts(); ok {
		t.Error("text stream still open after disengage")
	}
}
