package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/config"
)

// Checker periodically collects a snapshot, refreshes the gauges, and alerts
// on breached thresholds. An alert type that stays breached is re-sent only
// after the cooldown.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	metrics   *Metrics
	cfg       config.MonitoringConfig

	interval time.Duration
	cooldown time.Duration
	now      func() time.Time
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker. metrics may be nil.
func NewChecker(collector *Collector, alerter *Alerter, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		metrics:   metrics,
		cfg:       cfg,
		interval:  interval,
		cooldown:  time.Duration(cfg.AlertCooldownMins) * time.Minute,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every interval until ctx is cancelled.
// Run must not be called concurrently.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Duration("cooldown", c.cooldown),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.check(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect snapshot", zap.Error(err))
		return
	}
	c.metrics.ObserveSnapshot(snap)

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return
	}
	if c.cfg.WebhookURL == "" {
		for _, a := range due {
			log.Warn("monitoring: alert", zap.String("type", string(a.Type)), zap.String("message", a.Message))
			c.lastSent[a.Type] = c.now()
		}
		return
	}

	sent := c.alerter.SendAlerts(ctx, due)
	for _, a := range sent {
		c.lastSent[a.Type] = c.now()
	}
	log.Info("monitoring: alerts dispatched",
		zap.Int("due", len(due)),
		zap.Int("sent", len(sent)),
	)
}

// due drops alerts whose type was sent within the cooldown. A type that
// stops firing is forgotten so its next breach alerts at once.
func (c *Checker) due(alerts []Alert) []Alert {
	firing := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		firing[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && c.now().Sub(last) < c.cooldown {
			continue
		}
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}
