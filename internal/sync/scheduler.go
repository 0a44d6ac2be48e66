package sync

import (
	"context"
	"time"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
)

// RunDaily invokes fn once per day at the given local time until the context
// is canceled. A run's error is logged, never fatal; the next day's run still
// happens.
func RunDaily(ctx context.Context, hour, minute int, log *logger.Logger, fn func(context.Context) error) {
	if log == nil {
		log = logger.Get()
	}
	for {
		next := nextRun(time.Now(), hour, minute)
		log.Info("Next scheduled sync", map[string]interface{}{
			"at": next.Format(time.RFC3339),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		if err := fn(ctx); err != nil {
			log.Error("Scheduled sync failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// nextRun returns the next occurrence of hour:minute after now
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
