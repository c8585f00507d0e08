package metrics

import (
	"context"
	"time"

	"github.com/migadu/milterfrom/logger"
)

// LimiterStats is a point-in-time view of a limiter.
type LimiterStats struct {
	Current int64
	Max     int64
}

// StatsProvider is implemented by the connection and transaction limiters.
type StatsProvider interface {
	Stats() LimiterStats
}

// Collector periodically samples limiter usage into gauges.
type Collector struct {
	connections  StatsProvider
	transactions StatsProvider
	interval     time.Duration
	stopCh       chan struct{}
}

// NewCollector creates a new metrics collector. Either provider may be nil.
func NewCollector(connections, transactions StatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}

	return &Collector{
		connections:  connections,
		transactions: transactions,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Debug("MetricsCollector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.connections != nil {
		stats := c.connections.Stats()
		ConnectionsCurrent.Set(float64(stats.Current))
		LimiterCapacity.WithLabelValues("connections").Set(float64(stats.Max))
	}
	if c.transactions != nil {
		stats := c.transactions.Stats()
		TransactionsInFlight.Set(float64(stats.Current))
		LimiterCapacity.WithLabelValues("transactions").Set(float64(stats.Max))
	}
}
