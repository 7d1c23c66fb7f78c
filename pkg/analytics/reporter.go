package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/parley/pkg/logger"
)

// Reporter periodically logs a rolling-stats summary on a cron schedule.
type Reporter struct {
	agg      *Aggregator
	schedule string
	gron     *gronx.Gronx
}

// NewReporter validates the cron expression and returns a reporter.
func NewReporter(agg *Aggregator, schedule string) (*Reporter, error) {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid report schedule %q", schedule)
	}
	return &Reporter{agg: agg, schedule: schedule, gron: gron}, nil
}

// Run emits a summary whenever the schedule fires, until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := r.gron.IsDue(r.schedule, time.Now())
			if err != nil || !due {
				continue
			}
			stats := r.agg.Stats()
			logger.InfoCF("analytics", "Moderation summary", map[string]any{
				"total_24h":      stats.Last24h.Total,
				"blocked_24h":    stats.Last24h.Blocked,
				"block_rate_24h": fmt.Sprintf("%.1f%%", stats.Last24h.BlockRate),
				"error_rate_24h": fmt.Sprintf("%.1f%%", stats.Last24h.ErrorRate),
				"avg_latency_ms": fmt.Sprintf("%.0f", stats.Last24h.AvgLatencyMs),
				"total_all_time": stats.AllTime.Total,
			})
		}
	}
}
