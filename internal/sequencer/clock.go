package sequencer

import (
	"slices"
	"sync"
	"time"
)

// Handle identifies a clock registration.
type Handle uint64

// Clock calls registered functions periodically with the time elapsed since
// their registration. Unregister must be safe to call from inside a callback
// and must not block on it.
type Clock interface {
	Register(fn func(elapsed time.Duration)) Handle
	Unregister(h Handle)
}

// ManualClock only moves when Advance is called. Callbacks run one at a time
// on the caller's goroutine, in registration order.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Duration
	next Handle
	regs map[Handle]manualReg
}

type manualReg struct {
	start time.Duration
	fn    func(time.Duration)
}

func NewManualClock() *ManualClock {
	return &ManualClock{regs: make(map[Handle]manualReg)}
}

func (c *ManualClock) Register(fn func(elapsed time.Duration)) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.regs[c.next] = manualReg{start: c.now, fn: fn}
	return c.next
}

func (c *ManualClock) Unregister(h Handle) {
	c.mu.Lock()
	delete(c.regs, h)
	c.mu.Unlock()
}

// Advance moves the clock forward by d and delivers one tick to every
// registration.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	now := c.now
	handles := make([]Handle, 0, len(c.regs))
	for h := range c.regs {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	slices.Sort(handles)
	for _, h := range handles {
		c.mu.Lock()
		reg, ok := c.regs[h]
		c.mu.Unlock()
		if ok {
			reg.fn(now - reg.start)
		}
	}
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Registered reports how many callbacks are registered.
func (c *ManualClock) Registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.regs)
}
