package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the tick granularity of a countdown.
const DefaultInterval = time.Second

// Countdown tracks a single per-room countdown in whole seconds.
//
// Starting a countdown while another one is running replaces it. Every start
// gets a new generation number; callbacks belonging to an older generation are
// never delivered once the replacement has been registered.
type Countdown struct {
	clock    clockwork.Clock
	interval time.Duration

	mu        sync.Mutex
	gen       uint64
	stop      chan struct{}
	remaining int
	running   bool
}

// New returns an idle countdown driven by clock. A nil clock means the real one.
func New(clock clockwork.Clock) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{clock: clock, interval: DefaultInterval}
}

// Start begins counting down from seconds. onTick receives the remaining
// seconds after every interval while time is left; onExpire fires exactly once
// when the countdown reaches zero. It returns the generation of the new countdown.
func (c *Countdown) Start(seconds int, onTick func(remaining int), onExpire func()) uint64 {
	c.mu.Lock()
	c.cancelLocked()
	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.stop = stop
	c.remaining = seconds
	c.running = true
	ticker := c.clock.NewTicker(c.interval)
	c.mu.Unlock()

	go c.run(gen, stop, ticker, onTick, onExpire)
	return gen
}

func (c *Countdown) run(gen uint64, stop <-chan struct{}, ticker clockwork.Ticker, onTick func(int), onExpire func()) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if c.gen != gen || !c.running {
				c.mu.Unlock()
				return
			}
			c.remaining--
			rem := c.remaining
			if rem <= 0 {
				c.remaining = 0
				c.running = false
				c.stop = nil
			}
			c.mu.Unlock()

			if rem > 0 {
				if onTick != nil {
					onTick(rem)
				}
				continue
			}
			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}

// Cancel stops the running countdown, if any. No callback starts after Cancel
// returns. Cancel does not wait for a callback that is already executing, so
// callbacks may call Cancel themselves; consumers drop such late deliveries
// by comparing the generation they were handed by Start.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Countdown) cancelLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.running = false
	c.gen++
}

// Remaining returns the seconds left on the current countdown.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether a countdown is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Generation returns the generation of the most recent Start or Cancel.
func (c *Countdown) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}
