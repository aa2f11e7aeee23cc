package cache

import (
	"context"
	"sync"
	"time"
)

const DefaultMaxFlights = 10000

type Flight struct {
	done      chan struct{}
	result    Entry
	err       error
	startedAt time.Time
}

// Coalescer collapses concurrent fetches of the same key into one.
type Coalescer struct {
	mu         sync.Mutex
	flights    map[string]*Flight
	maxFlights int
}

func NewCoalescer(maxFlights int) *Coalescer {
	if maxFlights <= 0 {
		maxFlights = DefaultMaxFlights
	}
	return &Coalescer{flights: make(map[string]*Flight), maxFlights: maxFlights}
}

// Start returns the flight for key and whether the caller leads it. A nil
// flight means coalescing is unavailable and the caller should fetch alone.
func (c *Coalescer) Start(key string) (*Flight, bool) {
	if c == nil || key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.flights[key]; ok {
		return existing, false
	}
	if len(c.flights) >= c.maxFlights {
		return nil, false
	}
	flight := &Flight{done: make(chan struct{}), startedAt: time.Now()}
	c.flights[key] = flight
	return flight, true
}

func (c *Coalescer) Finish(key string, flight *Flight, entry Entry, err error) {
	if c == nil || flight == nil {
		return
	}
	c.mu.Lock()
	if current, exists := c.flights[key]; exists && current == flight {
		delete(c.flights, key)
	}
	c.mu.Unlock()
	flight.result = entry
	flight.err = err
	close(flight.done)
}

// Wait blocks until the leader finishes or ctx ends. The returned entry is a
// private copy.
func (c *Coalescer) Wait(ctx context.Context, flight *Flight) (Entry, error) {
	if flight == nil {
		return Entry{}, context.Canceled
	}
	select {
	case <-flight.done:
		if flight.err != nil {
			return Entry{}, flight.err
		}
		return flight.result.Clone(), nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

func (c *Coalescer) Inflight() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	n := len(c.flights)
	c.mu.Unlock()
	return n
}
