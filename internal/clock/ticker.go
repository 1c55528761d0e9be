package clock

import (
	"sync"
	"time"

	"github.com/cbegin/patchplay-go/internal/sequencer"
)

// DefaultInterval is one tick of a 20 Hz game-server loop.
const DefaultInterval = 50 * time.Millisecond

// Ticker is a wall-clock sequencer.Clock. Each registration runs on its own
// goroutine, so callbacks for one handle never overlap.
type Ticker struct {
	interval time.Duration

	mu     sync.Mutex
	next   sequencer.Handle
	stops  map[sequencer.Handle]chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		interval: interval,
		stops:    make(map[sequencer.Handle]chan struct{}),
	}
}

func (t *Ticker) Interval() time.Duration { return t.interval }

// Register starts calling fn every interval with the time since registration.
// After Close, Register returns a handle that never fires.
func (t *Ticker) Register(fn func(elapsed time.Duration)) sequencer.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	if t.closed {
		return h
	}
	stop := make(chan struct{})
	t.stops[h] = stop
	t.wg.Add(1)
	go t.run(fn, stop)
	return h
}

func (t *Ticker) run(fn func(time.Duration), stop chan struct{}) {
	defer t.wg.Done()
	start := time.Now()
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	fn(0)
	for {
		select {
		case <-stop:
			return
		case now := <-tk.C:
			select {
			case <-stop:
				return
			default:
			}
			fn(now.Sub(start))
		}
	}
}

// Unregister stops future callbacks for h. It does not wait for a callback in
// progress, so it may be called from inside one.
func (t *Ticker) Unregister(h sequencer.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stop, ok := t.stops[h]; ok {
		close(stop)
		delete(t.stops, h)
	}
}

// Close stops every registration and waits for the goroutines to exit. It
// must not be called from a callback.
func (t *Ticker) Close() {
	t.mu.Lock()
	t.closed = true
	for h, stop := range t.stops {
		close(stop)
		delete(t.stops, h)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// Len reports the number of live registrations.
func (t *Ticker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stops)
}
