package mapper

import (
	"time"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
)

// recentSessionWindow is how many of the latest sessions feed the
// time-to-finish speed estimate. Older sessions may predate a speed change.
const recentSessionWindow = 5

// DerivedStats holds listening statistics computed from raw session data.
// Nothing here is stored; it is recomputed on every mapping pass.
type DerivedStats struct {
	// TotalListened is the sum of session durations in seconds
	TotalListened float64
	// SessionCount is the number of sessions
	SessionCount int
	// AverageSpeed is the listening-time-weighted mean playback speed
	AverageSpeed float64
	// MaxSpeed is the highest playback speed across sessions
	MaxSpeed float64
	// ListeningDays is the elapsed calendar days between the first and
	// last session, inclusive
	ListeningDays int
	// RecentSpeed is the weighted mean speed over the most recent sessions,
	// used for the time-to-finish estimate. Defaults to 1.0 when no session
	// reports a speed.
	RecentSpeed float64
}

// ComputeStats derives listening statistics from an ordered session list.
// Sessions are expected oldest first, matching the server's ordering.
func ComputeStats(sessions []models.ListeningSession) DerivedStats {
	stats := DerivedStats{
		SessionCount: len(sessions),
		RecentSpeed:  1.0,
	}
	if len(sessions) == 0 {
		return stats
	}

	var speedWeighted, speedWeight float64
	for _, s := range sessions {
		stats.TotalListened += s.TimeListening
		if s.PlaybackSpeed > stats.MaxSpeed {
			stats.MaxSpeed = s.PlaybackSpeed
		}
		if s.PlaybackSpeed > 0 && s.TimeListening > 0 {
			speedWeighted += s.PlaybackSpeed * s.TimeListening
			speedWeight += s.TimeListening
		}
	}
	if speedWeight > 0 {
		stats.AverageSpeed = speedWeighted / speedWeight
	}

	recent := sessions
	if len(recent) > recentSessionWindow {
		recent = recent[len(recent)-recentSessionWindow:]
	}
	var recentWeighted, recentWeight float64
	for _, s := range recent {
		if s.PlaybackSpeed > 0 && s.TimeListening > 0 {
			recentWeighted += s.PlaybackSpeed * s.TimeListening
			recentWeight += s.TimeListening
		}
	}
	if recentWeight > 0 {
		stats.RecentSpeed = recentWeighted / recentWeight
	}

	first := epochDay(sessions[0].UpdatedAt)
	last := first
	for _, s := range sessions {
		day := epochDay(s.UpdatedAt)
		if day < first {
			first = day
		}
		if day > last {
			last = day
		}
	}
	stats.ListeningDays = int(last-first) + 1

	return stats
}

// TimeToFinish estimates the remaining listening time in seconds given the
// remaining audio duration, adjusted by the recent playback speed.
func (s DerivedStats) TimeToFinish(remainingSeconds float64) float64 {
	if remainingSeconds <= 0 {
		return 0
	}
	speed := s.RecentSpeed
	if speed <= 0 {
		speed = 1.0
	}
	return remainingSeconds / speed
}

// epochDay converts epoch milliseconds to a UTC day ordinal
func epochDay(ms int64) int64 {
	return time.UnixMilli(ms).UTC().Unix() / 86400
}
