package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// TickInterval is how often remaining time is recomputed.
	TickInterval = 200 * time.Millisecond
	// GraceSeconds is how far past zero the countdown runs before it elapses.
	GraceSeconds = 3
	// OverrideBuffer is the time left on the clock after an override.
	OverrideBuffer = 3000 * time.Millisecond
)

// ComputeRemaining returns durationSeconds + ceil((anchor - now) / 1s).
func ComputeRemaining(anchor, now time.Time, durationSeconds int) int {
	d := anchor.Sub(now)
	return durationSeconds + int(ceilDiv(int64(d), int64(time.Second)))
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}

// OverrideAnchor returns the anchor an override at now proposes: the phase then has
// OverrideBuffer left before reaching zero.
func OverrideAnchor(now time.Time, durationSeconds int) time.Time {
	return now.Add(OverrideBuffer - time.Duration(durationSeconds)*time.Second)
}

// Config configures a Countdown.
type Config struct {
	Clock           clockwork.Clock
	Anchor          time.Time
	DurationSeconds int
	// OnElapsed runs once, on the first tick where remaining <= -GraceSeconds.
	OnElapsed func()
	// OnTick optionally observes every recomputed value.
	OnTick func(remaining int)
}

// Countdown tracks a shared deadline measured from an authoritative anchor.
// A scheduler goroutine started by Start owns the tick; Stop halts it.
type Countdown struct {
	clock     clockwork.Clock
	duration  int
	onElapsed func()
	onTick    func(int)

	mu         sync.Mutex
	anchor     time.Time
	overridden bool
	fired      bool
	running    bool
	stopCh     chan struct{}
}

// New returns a stopped Countdown.
func New(cfg Config) *Countdown {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{
		clock:     clock,
		duration:  cfg.DurationSeconds,
		onElapsed: cfg.OnElapsed,
		onTick:    cfg.OnTick,
		anchor:    cfg.Anchor,
	}
}

// Start begins ticking. It is a no-op when already running or after the countdown
// has elapsed.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.fired {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})

	ticker := c.clock.NewTicker(TickInterval)
	go c.run(ticker, c.stopCh)
}

// Stop halts the tick. It does not wait for the scheduler goroutine, so it is safe to
// call from inside OnElapsed or OnTick, and more than once.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
}

func (c *Countdown) run(ticker clockwork.Ticker, stopCh chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			if c.tick(stopCh) {
				return
			}
		}
	}
}

// tick recomputes remaining time and reports whether the scheduler should exit.
func (c *Countdown) tick(stopCh chan struct{}) bool {
	c.mu.Lock()
	select {
	case <-stopCh:
		c.mu.Unlock()
		return true
	default:
	}
	remaining := ComputeRemaining(c.anchor, c.clock.Now(), c.duration)
	elapsed := remaining <= -GraceSeconds && !c.fired
	if elapsed {
		c.fired = true
		c.running = false
		close(c.stopCh)
	}
	anchor := c.anchor
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(remaining)
	}
	if elapsed {
		log.Debug().
			Int("remaining", remaining).
			Time("anchor", anchor).
			Msg("countdown elapsed")
		if c.onElapsed != nil {
			c.onElapsed()
		}
		return true
	}
	return false
}

// Remaining returns the remaining seconds at the clock's current time.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeRemaining(c.anchor, c.clock.Now(), c.duration)
}

// Anchor returns the current anchor.
func (c *Countdown) Anchor() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchor
}

// Overridden reports whether an override has shortened the countdown.
func (c *Countdown) Overridden() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overridden
}

// Elapsed reports whether OnElapsed has fired.
func (c *Countdown) Elapsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// ApplyOverride moves the anchor to OverrideAnchor(now) if that is earlier than the
// current anchor. It returns the resulting anchor and whether it moved.
func (c *Countdown) ApplyOverride(now time.Time) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	candidate := OverrideAnchor(now, c.duration)
	if !candidate.Before(c.anchor) {
		return c.anchor, false
	}
	c.anchor = candidate
	c.overridden = true
	return c.anchor, true
}

// Sync adopts an authoritative anchor when it is earlier than the local one.
// Later values are stale reads and are ignored.
func (c *Countdown) Sync(anchor time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !anchor.Before(c.anchor) {
		return false
	}
	c.anchor = anchor
	return true
}
