package clock

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cbegin/patchplay-go/internal/instruments"
	"github.com/cbegin/patchplay-go/internal/midifile"
	"github.com/cbegin/patchplay-go/internal/sequencer"
)

var _ sequencer.Clock = (*Ticker)(nil)

func TestTickerDeliversIncreasingElapsed(t *testing.T) {
	tk := NewTicker(2 * time.Millisecond)
	defer tk.Close()

	var mu sync.Mutex
	var seen []time.Duration
	got := make(chan struct{})
	tk.Register(func(elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, elapsed)
		if len(seen) == 5 {
			close(got)
		}
	})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker did not fire")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != 0 {
		t.Fatalf("first tick should be immediate, got %v", seen[0])
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("elapsed went backwards: %v", seen)
		}
	}
}

func TestTickerUnregisterFromCallback(t *testing.T) {
	tk := NewTicker(time.Millisecond)
	defer tk.Close()

	var calls atomic.Int32
	var h sequencer.Handle
	var mu sync.Mutex
	mu.Lock()
	h = tk.Register(func(time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		calls.Add(1)
		tk.Unregister(h)
	})
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("callback ran %d times after unregistering itself", calls.Load())
	}
	if tk.Len() != 0 {
		t.Fatalf("registration leaked")
	}
}

func TestTickerCloseStopsEverything(t *testing.T) {
	tk := NewTicker(time.Millisecond)
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		tk.Register(func(time.Duration) { calls.Add(1) })
	}
	tk.Close()
	after := calls.Load()
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != after {
		t.Fatalf("callbacks ran after Close")
	}
	tk.Register(func(time.Duration) { calls.Add(1) })
	time.Sleep(5 * time.Millisecond)
	if calls.Load() != after || tk.Len() != 0 {
		t.Fatalf("registration after Close should be inert")
	}
}

func TestTickerDrivesScheduler(t *testing.T) {
	tk := NewTicker(time.Millisecond)
	defer tk.Close()

	var emitted atomic.Int32
	emitter := sequencer.EmitterFunc(func(string, int, float64) { emitted.Add(1) })
	resolver := staticResolver{}
	s := sequencer.New(resolver, emitter, tk, sequencer.WithLogger(log.New(io.Discard)))

	gt, err := s.Play(midifile.NewTrack([]midifile.NoteFrame{
		{Millis: 0, Velocity: 1},
		{Millis: 5, Velocity: 1},
		{Millis: 10, Velocity: 1},
	}))
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	select {
	case <-gt.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("track did not finish")
	}
	if emitted.Load() != 3 {
		t.Fatalf("emitted %d frames, want 3", emitted.Load())
	}
	if tk.Len() != 0 {
		t.Fatalf("finished track left a registration")
	}
}

type staticResolver struct{}

func (staticResolver) Resolve(int, int) (instruments.Entry, bool) {
	return instruments.Entry{ID: instruments.DefaultID, Patch: "piano", Volume: 1}, true
}
