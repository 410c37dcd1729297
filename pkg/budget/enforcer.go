package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/tracker"
)

// ErrBudgetExceeded is returned when a request would exceed a token budget.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// Enforcer checks charged tokens against per-client budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	tracker  tracker.Tracker
	now      func() time.Time

	// mu serializes Reserve so concurrent requests from one client cannot
	// all pass against the same remaining budget. pending holds tokens
	// reserved by requests that have not been recorded yet.
	mu      sync.Mutex
	pending map[reservationKey]int64
}

type reservationKey struct {
	client string
	mode   models.Mode
}

// New creates an Enforcer with the given policies and ledger.
func New(policies []models.BudgetPolicy, t tracker.Tracker) *Enforcer {
	return &Enforcer{
		policies: policies,
		tracker:  t,
		now:      time.Now,
		pending:  make(map[reservationKey]int64),
	}
}

// Enabled reports whether any policy is configured.
func (e *Enforcer) Enabled() bool {
	return e != nil && len(e.policies) > 0
}

// Check returns ErrBudgetExceeded if charging estimate more tokens to the
// client in mode would exceed any applicable policy. Only successful
// generations are charged, so failed attempts never consume budget.
// Check reserves nothing; callers that generate concurrently use Reserve.
func (e *Enforcer) Check(ctx context.Context, clientID string, mode models.Mode, estimate int) error {
	if !e.Enabled() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.check(ctx, clientID, mode, int64(estimate))
}

// Reserve checks estimate like Check and holds it against the client's
// budget until release is called. Call release once the charge has been
// recorded in the ledger, or when the request is abandoned.
func (e *Enforcer) Reserve(ctx context.Context, clientID string, mode models.Mode, estimate int) (release func(), err error) {
	if !e.Enabled() {
		return func() {}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, clientID, mode, int64(estimate)); err != nil {
		return nil, err
	}

	key := reservationKey{client: clientID, mode: mode}
	e.pending[key] += int64(estimate)
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.pending[key] -= int64(estimate)
			if e.pending[key] <= 0 {
				delete(e.pending, key)
			}
		})
	}, nil
}

// check must be called with mu held.
func (e *Enforcer) check(ctx context.Context, clientID string, mode models.Mode, estimate int64) error {
	for _, p := range e.applicablePolicies(clientID, mode) {
		used, err := e.used(ctx, clientID, p)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used+e.reserved(clientID, p)+estimate > p.MaxTokens {
			return ErrBudgetExceeded
		}
	}
	return nil
}

// reserved sums the pending reservations p applies to. mu must be held.
func (e *Enforcer) reserved(clientID string, p models.BudgetPolicy) int64 {
	var n int64
	for k, v := range e.pending {
		if k.client == clientID && (p.Mode == "" || p.Mode == k.mode) {
			n += v
		}
	}
	return n
}

// Status returns the budget status for a client across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, clientID string) ([]models.BudgetStatus, error) {
	if !e.Enabled() {
		return nil, nil
	}
	policies := e.policiesForClient(clientID)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.used(ctx, clientID, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxTokens - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, clientID string, p models.BudgetPolicy) (int64, error) {
	since := periodStart(e.now(), p.Period)
	if p.Mode != "" {
		return e.tracker.TotalByClientAndMode(ctx, clientID, p.Mode, since)
	}
	return e.tracker.TotalByClient(ctx, clientID, since)
}

// policiesForClient returns all policies matching a client (ignoring mode filter).
func (e *Enforcer) policiesForClient(clientID string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.ClientID == "*" || p.ClientID == clientID {
			result = append(result, p)
		}
	}
	return result
}

func (e *Enforcer) applicablePolicies(clientID string, mode models.Mode) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policiesForClient(clientID) {
		if p.Mode == "" || p.Mode == mode {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(now time.Time, period models.BudgetPeriod) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
