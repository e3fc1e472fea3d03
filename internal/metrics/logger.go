package metrics

import (
	"context"
	"log/slog"
	"time"
)

// StatsFunc samples the live server state for the periodic log line.
type StatsFunc func() (sessions, rooms, channels int)

// RunLogger logs server stats every interval until ctx is cancelled. Quiet
// servers produce no output.
func RunLogger(ctx context.Context, interval time.Duration, stats StatsFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, rooms, channels := stats()
			if sessions > 0 || rooms > 0 {
				slog.Info("server stats", "sessions", sessions, "rooms", rooms, "channels", channels)
			}
		}
	}
}
