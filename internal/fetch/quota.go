package fetch

import (
	"fmt"
	"sync"
	"time"

	"agentsync/internal/domain"
)

// QuotaLimiter tracks request units spent against one account or token.
// Usage resets at ResetAt; the next boundary comes from the reset func.
type QuotaLimiter struct {
	mu      sync.Mutex
	limit   int
	used    int
	resetAt time.Time
	next    func(now time.Time) time.Time
	now     func() time.Time
}

// NewQuotaLimiter creates a limiter allowing limit units per window.
func NewQuotaLimiter(limit int, next func(now time.Time) time.Time) *QuotaLimiter {
	q := &QuotaLimiter{
		limit: limit,
		next:  next,
		now:   time.Now,
	}
	q.resetAt = next(q.now())
	return q
}

// Spend consumes cost units, or fails with domain.ErrQuotaExhausted.
func (q *QuotaLimiter) Spend(cost int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if !now.Before(q.resetAt) {
		q.used = 0
		q.resetAt = q.next(now)
	}

	if q.used+cost > q.limit {
		return fmt.Errorf("%w: %d/%d used, resets at %s", domain.ErrQuotaExhausted, q.used, q.limit, q.resetAt.Format(time.RFC3339))
	}
	q.used += cost
	return nil
}

// Remaining returns units left in the current window.
func (q *QuotaLimiter) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.now().Before(q.resetAt) {
		return q.limit
	}
	return q.limit - q.used
}

func (q *QuotaLimiter) ResetAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resetAt
}

// DailyReset returns a boundary func for midnight in loc.
func DailyReset(loc *time.Location) func(now time.Time) time.Time {
	return func(now time.Time) time.Time {
		local := now.In(loc)
		y, m, d := local.Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}
}
