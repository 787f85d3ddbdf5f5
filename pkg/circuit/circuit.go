// Package circuit tracks per-resource failure counts and decides whether a
// resource may be invoked.
//
// The breaker is biased toward availability: a single success fully resets
// a resource, and once the cool-down has elapsed the next check clears the
// failure count and lets traffic through. There is no trial-probe state; the
// next real call is the probe.
package circuit

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultThreshold = 5
	DefaultCoolDown  = 300 * time.Second
)

// State is a point-in-time view of one resource's breaker
type State struct {
	Resource      string    `json:"resource"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
	Open          bool      `json:"open"`
}

type change struct {
	resource string
	open     bool
}

type entry struct {
	failureCount  int
	lastFailureAt time.Time
}

// Registry holds breaker state for every resource that has failed at least once.
// It is safe for concurrent use.
type Registry struct {
	threshold int
	coolDown  time.Duration
	now       func() time.Time
	onChange  func(resource string, open bool)

	mu      sync.Mutex
	entries map[string]*entry
	pending []change // guarded by mu, in transition order

	// flushMu delivers pending changes one drainer at a time
	flushMu sync.Mutex
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithStateChange registers a callback fired when a resource opens or recovers.
// Callbacks run outside the registry lock, one at a time, in the order the
// transitions happened.
func WithStateChange(fn func(resource string, open bool)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates a registry. Non-positive threshold or cool-down fall back to defaults.
func NewRegistry(threshold int, coolDown time.Duration, opts ...Option) *Registry {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if coolDown <= 0 {
		coolDown = DefaultCoolDown
	}

	r := &Registry{
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the consecutive failure count at which a resource opens
func (r *Registry) Threshold() int {
	return r.threshold
}

// CoolDown returns how long an open resource stays unavailable
func (r *Registry) CoolDown() time.Duration {
	return r.coolDown
}

// Allow reports whether resource may be invoked. Checking an open resource
// after its cool-down resets its failure count to zero.
func (r *Registry) Allow(resource string) bool {
	r.mu.Lock()
	e, ok := r.entries[resource]
	if !ok || e.failureCount < r.threshold {
		r.mu.Unlock()
		return true
	}

	if r.now().Sub(e.lastFailureAt) < r.coolDown {
		r.mu.Unlock()
		return false
	}

	e.failureCount = 0
	r.enqueueLocked(resource, false)
	r.mu.Unlock()

	log.Info().Str("resource", resource).Msg("Circuit cool-down elapsed, allowing traffic")
	r.flush()
	return true
}

// RecordFailure counts one terminal failure against resource
func (r *Registry) RecordFailure(resource string) {
	r.mu.Lock()
	e, ok := r.entries[resource]
	if !ok {
		e = &entry{}
		r.entries[resource] = e
	}
	e.failureCount++
	e.lastFailureAt = r.now()
	opened := e.failureCount == r.threshold
	count := e.failureCount
	if opened {
		r.enqueueLocked(resource, true)
	}
	r.mu.Unlock()

	if opened {
		log.Warn().
			Str("resource", resource).
			Int("failures", count).
			Dur("cool_down", r.coolDown).
			Msg("Circuit opened")
		r.flush()
	}
}

// RecordSuccess fully resets the failure count of resource
func (r *Registry) RecordSuccess(resource string) {
	r.mu.Lock()
	e, ok := r.entries[resource]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasOpen := e.failureCount >= r.threshold
	e.failureCount = 0
	if wasOpen {
		r.enqueueLocked(resource, false)
	}
	r.mu.Unlock()

	if wasOpen {
		r.flush()
	}
}

// Reset forgets all state for resource
func (r *Registry) Reset(resource string) {
	r.mu.Lock()
	delete(r.entries, resource)
	r.mu.Unlock()
}

// State returns the current state of one resource without side effects
func (r *Registry) State(resource string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked(resource, r.now())
}

// Snapshot returns the state of every tracked resource, sorted by name
func (r *Registry) Snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	states := make([]State, 0, len(r.entries))
	for name := range r.entries {
		states = append(states, r.stateLocked(name, now))
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Resource < states[j].Resource
	})
	return states
}

func (r *Registry) stateLocked(resource string, now time.Time) State {
	s := State{Resource: resource}
	e, ok := r.entries[resource]
	if !ok {
		return s
	}
	s.FailureCount = e.failureCount
	s.LastFailureAt = e.lastFailureAt
	s.Open = e.failureCount >= r.threshold && now.Sub(e.lastFailureAt) < r.coolDown
	return s
}

func (r *Registry) enqueueLocked(resource string, open bool) {
	if r.onChange != nil {
		r.pending = append(r.pending, change{resource: resource, open: open})
	}
}

// flush hands queued changes to the callback. mu is never held while
// waiting for flushMu, so callbacks may read the registry.
func (r *Registry) flush() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	for {
		r.mu.Lock()
		changes := r.pending
		r.pending = nil
		r.mu.Unlock()

		if len(changes) == 0 {
			return
		}
		for _, c := range changes {
			r.onChange(c.resource, c.open)
		}
	}
}
