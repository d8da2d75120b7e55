package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/emberhollow/taskmill/pkg/storage"
)

// Collector samples population gauges from the store on a fixed
// interval. Counts come from the denormalized index attributes, so a
// sample never decodes queue blobs.
type Collector struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector sampling every 15 seconds.
func NewCollector(st storage.Store) *Collector {
	return &Collector{
		store:    st,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval overrides the sampling interval.
func (c *Collector) WithInterval(d time.Duration) *Collector {
	if d > 0 {
		c.interval = d
	}
	return c
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectQueueMetrics(ctx)
	c.collectSnapshotMetrics(ctx)
}

func (c *Collector) collectQueueMetrics(ctx context.Context) {
	counts := map[string]int{"running": 0, "paused": 0, "idle": 0}
	depth := 0

	err := c.store.Scan(ctx, storage.KeyspaceQueues, func(item *storage.Item) error {
		switch {
		case item.Attrs[storage.AttrIsPaused] == "true":
			counts["paused"]++
		case item.Attrs[storage.AttrIsRunning] == "true":
			counts["running"]++
		default:
			counts["idle"]++
		}
		if n, err := strconv.Atoi(item.Attrs[storage.AttrQueueSize]); err == nil {
			depth += n
		}
		return nil
	})
	if err != nil {
		return
	}

	for state, n := range counts {
		QueuesByState.WithLabelValues(state).Set(float64(n))
	}
	QueuedTasksTotal.Set(float64(depth))
}

func (c *Collector) collectSnapshotMetrics(ctx context.Context) {
	total := 0
	err := c.store.Scan(ctx, storage.KeyspaceSnapshots, func(*storage.Item) error {
		total++
		return nil
	})
	if err != nil {
		return
	}
	SnapshotsStored.Set(float64(total))
}
