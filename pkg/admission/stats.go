package admission

import (
	"context"
	"sync"
	"time"
)

// StatsEvent describes one admission decision.
// Route is free-form ("POST /api/generate-image"); keep its cardinality low.
type StatsEvent struct {
	Key     string
	Allowed bool
	Route   string
	At      time.Time
}

// StatsStore persists admission statistics. Callers treat errors as best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters holds allowed and denied totals.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStatsStore keeps counters in process. It never expires anything.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	byRoute   map[string]Counters
	byKey     map[string]Counters
	trackKeys bool
}

// MemoryStatsOption configures a MemoryStatsStore.
type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys enables per-client counters.
func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// NewMemoryStatsStore creates an empty in-memory store.
func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements StatsStore.
func (s *MemoryStatsStore) Record(_ context.Context, ev StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)

	c := s.byRoute[ev.Route]
	c.add(ev.Allowed)
	s.byRoute[ev.Route] = c

	if s.trackKeys {
		k := s.byKey[ev.Key]
		k.add(ev.Allowed)
		s.byKey[ev.Key] = k
	}
	return nil
}

// Total returns the overall counters.
func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByRoute returns a copy of the per-route counters.
func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

// ByKey returns a copy of the per-client counters.
func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}
