// Package heartbeat runs the `heartbeat.interval_minutes` diagnostic period
// (§4.7b): a low-frequency cron-scheduled check that samples process health
// and logs it, independent of the Gateway Server's higher-frequency `tick`
// event broadcast.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Diagnostic is one sample taken at a heartbeat tick.
type Diagnostic struct {
	Time            time.Time
	UptimeMs        int64
	ConnectionCount int
	Health          string
}

// Source produces a Diagnostic on demand; the Gateway Server's snapshot
// satisfies this with its own connection/health bookkeeping.
type Source func() Diagnostic

// Sink receives each Diagnostic as it is produced — typically a logger and,
// when configured, the audit log.
type Sink func(Diagnostic)

// Runner schedules diagnostic sampling on a robfig/cron `@every` spec, the
// same scheduling primitive the Gateway Server uses for its tick event
// (§4.7b: "both run on github.com/robfig/cron/v3 schedules").
type Runner struct {
	cron   *cron.Cron
	source Source
	sinks  []Sink
	logger *slog.Logger
}

// NewRunner builds a Runner that has not yet started. interval must be
// positive; callers derive it from config.HeartbeatConfig.IntervalMinutes.
func NewRunner(interval time.Duration, source Source, logger *slog.Logger, sinks ...Sink) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cron:   cron.New(),
		source: source,
		sinks:  sinks,
		logger: logger,
	}
}

// Start schedules the diagnostic sample and begins running it. It returns
// an error only if the cron spec fails to parse, which would indicate a
// misconfigured interval.
func (r *Runner) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	spec := "@every " + interval.String()
	_, err := r.cron.AddFunc(spec, r.sample)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron schedule and waits for any in-flight sample to finish.
func (r *Runner) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (r *Runner) sample() {
	if r.source == nil {
		return
	}
	diag := r.source()
	r.logger.Info("heartbeat diagnostic",
		"uptime_ms", diag.UptimeMs,
		"connections", diag.ConnectionCount,
		"health", diag.Health,
	)
	for _, sink := range r.sinks {
		sink(diag)
	}
}
