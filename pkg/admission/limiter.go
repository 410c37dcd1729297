// Package admission implements per-client sliding-window admission control.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

// ErrRejected is returned by callers that need an error value for a rejected Decision.
var ErrRejected = errors.New("rate limit exceeded")

// Config holds the limiter's deployment constants.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	SweepInterval time.Duration
	MaxEntries    int
}

// DefaultConfig returns 20 requests per 15 minutes, swept every 5 minutes.
func DefaultConfig() Config {
	return Config{
		Window:        15 * time.Minute,
		MaxRequests:   20,
		SweepInterval: 5 * time.Minute,
		MaxEntries:    100000,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Err returns ErrRejected when the decision is a rejection.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRejected
}

type entry struct {
	hits    []time.Time
	resetAt time.Time
}

// active counts hits strictly after windowStart without mutating the entry.
func (e *entry) active(windowStart time.Time) int {
	n := 0
	for i := len(e.hits) - 1; i >= 0; i-- {
		if !e.hits[i].After(windowStart) {
			break
		}
		n++
	}
	return n
}

func (e *entry) prune(windowStart time.Time) {
	keep := e.active(windowStart)
	if keep == len(e.hits) {
		return
	}
	e.hits = append(e.hits[:0:0], e.hits[len(e.hits)-keep:]...)
}

// Limiter is a sliding-window log rate limiter keyed by client identifier.
// Entries live in a fixed-capacity LRU; the least recently checked client is
// evicted when capacity is exceeded.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	clock     Clock
	logger    *slog.Logger
	entries   *simplelru.LRU
	evictions int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the limiter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter. Window and MaxRequests must be positive.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("admission: window must be positive, got %s", cfg.Window)
	}
	if cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("admission: max requests must be positive, got %d", cfg.MaxRequests)
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}

	l := &Limiter{
		cfg:    cfg,
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	lru, err := simplelru.NewLRU(cfg.MaxEntries, func(key, _ interface{}) {
		l.evictions++
		l.logger.Debug("admission entry evicted", "client", key)
	})
	if err != nil {
		return nil, fmt.Errorf("admission: create lru: %w", err)
	}
	l.entries = lru
	return l, nil
}

// Config returns the limiter's configuration.
func (l *Limiter) Config() Config { return l.cfg }

// Check prunes the client's log and admits the request if capacity remains.
// An admitted request is appended to the log; a rejected one is not.
func (l *Limiter) Check(id string) Decision {
	now := l.clock.Now()
	windowStart := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	var e *entry
	if v, ok := l.entries.Get(id); ok {
		e = v.(*entry)
	} else {
		e = &entry{}
		l.entries.Add(id, e)
	}
	e.prune(windowStart)

	if len(e.hits) >= l.cfg.MaxRequests {
		return Decision{
			Allowed:    false,
			Limit:      l.cfg.MaxRequests,
			Remaining:  0,
			ResetAt:    e.resetAt,
			RetryAfter: l.cfg.Window,
		}
	}

	e.hits = append(e.hits, now)
	e.resetAt = now.Add(l.cfg.Window)
	return Decision{
		Allowed:   true,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests - len(e.hits),
		ResetAt:   e.resetAt,
	}
}

// Status reports what Check would see without recording a request,
// pruning, or promoting the entry in the LRU.
func (l *Limiter) Status(id string) Decision {
	now := l.clock.Now()
	windowStart := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.entries.Peek(id)
	if !ok {
		return Decision{
			Allowed:   true,
			Limit:     l.cfg.MaxRequests,
			Remaining: l.cfg.MaxRequests,
			ResetAt:   now.Add(l.cfg.Window),
		}
	}
	e := v.(*entry)
	count := e.active(windowStart)
	d := Decision{
		Allowed:   count < l.cfg.MaxRequests,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests - count,
		ResetAt:   e.resetAt,
	}
	if !d.Allowed {
		d.Remaining = 0
		d.RetryAfter = l.cfg.Window
	}
	return d
}

// Sweep removes entries whose reset time has passed and whose log holds no
// timestamps inside the current window. It returns the number removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	windowStart := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, k := range l.entries.Keys() {
		v, ok := l.entries.Peek(k)
		if !ok {
			continue
		}
		e := v.(*entry)
		if e.resetAt.After(now) || e.active(windowStart) > 0 {
			continue
		}
		l.entries.Remove(k)
		removed++
	}
	return removed
}

// StartJanitor runs Sweep every SweepInterval until ctx is done.
// It does nothing when SweepInterval is not positive.
func (l *Limiter) StartJanitor(ctx context.Context) {
	if l.cfg.SweepInterval <= 0 {
		return
	}

	t := time.NewTicker(l.cfg.SweepInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Sweep(); n > 0 {
					l.logger.Debug("admission sweep", "removed", n, "tracked", l.Len())
				}
			}
		}
	}()
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}

// Evictions returns how many entries were dropped by the capacity bound.
func (l *Limiter) Evictions() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictions
}
