package breaker

import (
	"sync"
	"time"
)

type State int32

const (
	StateClosed State = iota + 1
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config of the origin breaker. A zero FailureRatePercent disables it.
type Config struct {
	FailureRatePercent int
	MinimumRequests    int
	Window             time.Duration
	OpenFor            time.Duration
	HalfOpenProbes     int
}

func (c Config) Enabled() bool {
	return c.FailureRatePercent > 0
}

func (c Config) withDefaults() Config {
	if c.MinimumRequests <= 0 {
		c.MinimumRequests = 5
	}
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 5 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 1
	}
	return c
}

// Breaker stops network fetches to an origin that keeps failing so the
// coordinator answers from cache without waiting on timeouts. After OpenFor
// it lets HalfOpenProbes requests through; all of them must succeed to
// close again.
type Breaker struct {
	cfg      Config
	now      func() time.Time
	onChange func(State)

	mu          sync.Mutex
	state       State
	windowStart time.Time
	requests    int
	failures    int
	openUntil   time.Time
	probes      int
	probeOK     int
}

func New(cfg Config, onChange func(State)) *Breaker {
	return &Breaker{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		onChange: onChange,
		state:    StateClosed,
	}
}

func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a fetch may go to the network. Every allowed fetch
// must be followed by exactly one Report.
func (b *Breaker) Allow() bool {
	if b == nil || !b.cfg.Enabled() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.setState(StateHalfOpen)
		b.probes, b.probeOK = 0, 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return false
		}
		b.probes++
		return true
	default:
		return true
	}
}

func (b *Breaker) Report(success bool) {
	if b == nil || !b.cfg.Enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.cfg.Window {
			b.windowStart = now
			b.requests, b.failures = 0, 0
		}
		b.requests++
		if !success {
			b.failures++
		}
		if b.requests >= b.cfg.MinimumRequests && b.failures*100/b.requests >= b.cfg.FailureRatePercent {
			b.open(now)
		}
	case StateHalfOpen:
		if !success {
			b.open(now)
			return
		}
		b.probeOK++
		if b.probeOK >= b.cfg.HalfOpenProbes {
			b.windowStart = now
			b.requests, b.failures = 0, 0
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) open(now time.Time) {
	b.openUntil = now.Add(b.cfg.OpenFor)
	b.setState(StateOpen)
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	b.state = state
	if b.onChange != nil {
		b.onChange(state)
	}
}
