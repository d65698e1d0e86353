package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of backlog health.
type MetricsSnapshot struct {
	// Review queue.
	ReviewUnresolved int        `json:"review_unresolved"`
	OldestUnresolved *time.Time `json:"oldest_unresolved,omitempty"`
	OldestAgeHours   float64    `json:"oldest_age_hours"`

	// Throughput within the lookback window.
	ReviewCreated int     `json:"review_created"`
	Signed        int     `json:"signed"`
	AutoMatchRate float64 `json:"auto_match_rate"`

	// DLQ depth.
	DLQDepth int `json:"dlq_depth"`

	// Collaborator circuit breakers by service name.
	Breakers map[string]string `json:"breakers,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource abstracts the store queries needed by the collector.
type StatsSource interface {
	ReviewStats(ctx context.Context, workspaceID string, since time.Time) (*model.ReviewStats, error)
	CountDLQ(ctx context.Context) (int, error)
}

// BreakerSource reports circuit breaker states; *resilience.Guard satisfies it.
type BreakerSource interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers backlog metrics across all workspaces.
type Collector struct {
	stats    StatsSource
	breakers BreakerSource
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(stats StatsSource, breakers BreakerSource) *Collector {
	return &Collector{stats: stats, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot of backlog metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	rs, err := c.stats.ReviewStats(ctx, "", cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: review stats")
	}

	snap.ReviewUnresolved = rs.Unresolved
	snap.ReviewCreated = rs.CreatedSince
	snap.Signed = rs.SignedSince
	if rs.OldestUnresolved != nil {
		oldest := rs.OldestUnresolved.UTC()
		snap.OldestUnresolved = &oldest
		snap.OldestAgeHours = now.Sub(oldest).Hours()
	}
	if finished := snap.Signed + snap.ReviewCreated; finished > 0 {
		snap.AutoMatchRate = float64(snap.Signed) / float64(finished)
	}

	depth, err := c.stats.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = depth

	if c.breakers != nil {
		states := c.breakers.States()
		snap.Breakers = make(map[string]string, len(states))
		for name, st := range states {
			snap.Breakers[name] = st.String()
		}
	}

	return snap, nil
}
