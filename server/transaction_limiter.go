package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/migadu/milterfrom/consts"
	"github.com/migadu/milterfrom/pkg/metrics"
)

// TransactionLimiter bounds the number of mail transactions held in memory
// across all connections. Acquire fails with consts.ErrBudgetExhausted when
// the budget is used up; the filter then answers with a temporary failure.
type TransactionLimiter struct {
	max     int64
	current atomic.Int64
}

// NewTransactionLimiter creates a limiter for max transactions; 0 means unlimited.
func NewTransactionLimiter(max int) *TransactionLimiter {
	return &TransactionLimiter{max: int64(max)}
}

// Acquire reserves one transaction slot. The returned release function is
// idempotent.
func (tl *TransactionLimiter) Acquire() (func(), error) {
	n := tl.current.Add(1)
	if tl.max > 0 && n > tl.max {
		tl.current.Add(-1)
		return nil, fmt.Errorf("%w (%d/%d)", consts.ErrBudgetExhausted, n-1, tl.max)
	}

	var once sync.Once
	return func() {
		once.Do(func() { tl.current.Add(-1) })
	}, nil
}

// Stats implements metrics.StatsProvider.
func (tl *TransactionLimiter) Stats() metrics.LimiterStats {
	return metrics.LimiterStats{
		Current: tl.current.Load(),
		Max:     tl.max,
	}
}
