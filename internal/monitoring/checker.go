// Package monitoring summarizes recorded decisions and raises drift alerts.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/grant-scorer/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker collects a snapshot on a fixed interval and forwards new alerts.
// An alert type fires once per episode: it stays quiet while the condition
// persists and fires again only after a round in which it cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	mu     sync.Mutex
	active map[AlertType]bool
}

// NewChecker creates a drift checker. A non-positive check interval means five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		active:    map[AlertType]bool{},
	}
}

// Run checks once immediately, then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("drift checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			log.Info("drift checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one round and returns the alerts that were newly raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect decisions", zap.Error(err))
		return nil
	}

	fresh := c.track(c.alerter.Evaluate(snap))
	log.Debug("monitoring: snapshot",
		zap.Int("total", snap.Total),
		zap.Float64("approve_rate", snap.ApproveRate),
		zap.Float64("disagreement_rate", snap.DisagreementRate),
		zap.Bool("truncated", snap.Truncated),
		zap.Int("new_alerts", len(fresh)),
	)
	if len(fresh) == 0 {
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts raised",
		zap.Int("alerts_raised", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return fresh
}

// track replaces the active set with this round's alert types and returns the
// alerts whose type was not active before.
func (c *Checker) track(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		next[a.Type] = true
		if !c.active[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.active = next
	return fresh
}
