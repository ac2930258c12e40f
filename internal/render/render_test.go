package render

import (
	"testing"

	"github.com/opsvox/opsvox/pkg/device/mock"
)

func TestPullDrainsQueueInOrder(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	r.Enqueue([]float32{0.1, 0.2})
	r.Enqueue([]float32{0.3})

	got := out.PullBlock(4)
	want := []float32{0.1, 0.2, 0.3, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pull[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPullPadsSilenceWhenEmpty(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	got := out.PullBlock(8)
	for i, s := range got {
		if s != 0 {
			t.Errorf("pull[%d] = %v, want 0 (silence)", i, s)
		}
	}
}

func TestPullSpansBlocks(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	r.Enqueue([]float32{0.1, 0.2, 0.3, 0.4})

	first := out.PullBlock(3)
	second := out.PullBlock(3)

	wantFirst := []float32{0.1, 0.2, 0.3}
	wantSecond := []float32{0.4, 0, 0}
	for i := range wantFirst {
		if first[i] != wantFirst[i] {
			t.Errorf("first pull[%d] = %v, want %v", i, first[i], wantFirst[i])
		}
	}
	for i := range wantSecond {
		if second[i] != wantSecond[i] {
			t.Errorf("second pull[%d] = %v, want %v", i, second[i], wantSecond[i])
		}
	}
}

func TestInterruptDiscardsQueuedAudio(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	r.Enqueue([]float32{0.5, 0.5, 0.5, 0.5})
	r.Interrupt()

	got := out.PullBlock(4)
	for i, s := range got {
		if s != 0 {
			t.Errorf("pull[%d] = %v after interrupt, want 0", i, s)
		}
	}
}

func TestSpeakingTransitions(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	r.Enqueue([]float32{0.1, 0.2})

	select {
	case speaking := <-r.StateChanges():
		if !speaking {
			t.Error("first transition = false, want true")
		}
	default:
		t.Fatal("no speaking transition after Enqueue")
	}

	// Drain the queue: the flag must flip back to false.
	out.PullBlock(2)

	select {
	case speaking := <-r.StateChanges():
		if speaking {
			t.Error("transition after drain = true, want false")
		}
	default:
		t.Fatal("no transition after queue drained")
	}
}

func TestInterruptFlipsSpeakingFalse(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	r.Enqueue([]float32{0.1})
	<-r.StateChanges() // true

	r.Interrupt()

	select {
	case speaking := <-r.StateChanges():
		if speaking {
			t.Error("transition after Interrupt = true, want false")
		}
	default:
		t.Fatal("no transition after Interrupt")
	}
}

func TestEnqueueResamplesToDeviceRate(t *testing.T) {
	out := &mock.OutputDevice{Rate: 48000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// 16 samples at the 16 kHz wire rate become 48 at 48 kHz.
	r.Enqueue(make([]float32, 16))

	got := out.PullBlock(64)
	if got == nil {
		t.Fatal("PullBlock returned nil")
	}
	// Inspect queue indirectly: a second pull must be pure silence, meaning
	// the resampled block fit entirely in the first 64-sample pull.
	second := out.PullBlock(64)
	for i, s := range second {
		if s != 0 {
			t.Errorf("second pull[%d] = %v, want 0", i, s)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("first Stop() error: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if out.CallCountStop != 1 {
		t.Errorf("device Stop calls = %d, want 1", out.CallCountStop)
	}
}

func TestStopBeforeStart(t *testing.T) {
	r := New(&mock.OutputDevice{})
	if err := r.Stop(); err != ErrNotStarted {
		t.Errorf("Stop() error = %v, want ErrNotStarted", err)
	}
}

func TestEnqueueAfterStopDropped(t *testing.T) {
	out := &mock.OutputDevice{Rate: 16000}
	r := New(out)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	r.Enqueue([]float32{0.9})

	select {
	case <-r.StateChanges():
		t.Error("speaking transition after Stop, want none")
	default:
	}
}

func TestStartTwiceFails(t *testing.T) {
	r := New(&mock.OutputDevice{})
	if err := r.Start(); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	if err := r.Start(); err == nil {
		t.Error("second Start() succeeded, want error")
	}
}
