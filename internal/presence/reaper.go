package presence

import (
	"context"
	"log/slog"
	"time"
)

// Reaper sweeps the registry on a fixed interval, removing stale offline
// entries. Per-entry timers are deliberately avoided; one periodic sweep is
// enough at presence scale.
type Reaper struct {
	Registry Registry
	Interval time.Duration
	Idle     time.Duration
	Logger   *slog.Logger
}

func NewReaper(reg Registry, interval, idle time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	return &Reaper{Registry: reg, Interval: interval, Idle: idle, Logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := r.Registry.Reap(now, r.Idle); n > 0 && r.Logger != nil {
				r.Logger.Info("presence_reaped", "removed", n)
			}
		}
	}
}
