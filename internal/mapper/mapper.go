package mapper

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
)

// Config controls which roles are mapped and how numbers are formatted
type Config struct {
	// Roles is the set of field roles to produce. Empty selects all roles.
	Roles []FieldRole
	// DecimalPrecision is the rounding precision for float-valued roles
	DecimalPrecision int
}

// Map transforms a remote item and its progress data into typed field values,
// one per configured role. It is a pure function: no I/O, deterministic for
// identical inputs. Roles whose source data is absent map to the explicit
// empty sentinel rather than being omitted.
//
// collections is the item's flattened membership list (collections and
// playlists); it is fetched separately from the item itself.
func Map(item *models.AudiobookshelfItem, rec *models.ProgressRecord, collections []string, cfg Config) map[FieldRole]Value {
	roles := cfg.Roles
	if len(roles) == 0 {
		roles = AllRoles
	}

	var progress *models.MediaProgress
	var sessions []models.ListeningSession
	var bookmarks []models.Bookmark
	if rec != nil {
		progress = rec.Progress
		sessions = rec.Sessions
		bookmarks = rec.Bookmarks
	}
	stats := ComputeStats(sessions)

	out := make(map[FieldRole]Value, len(roles))
	for _, role := range roles {
		out[role] = mapRole(role, item, progress, stats, bookmarks, collections, cfg)
	}
	return out
}

// mapRole produces the value for a single role. The switch is total over
// FieldRole; adding a role without a case here fails the mapper tests.
func mapRole(role FieldRole, item *models.AudiobookshelfItem, progress *models.MediaProgress, stats DerivedStats, bookmarks []models.Bookmark, collections []string, cfg Config) Value {
	meta := &item.Media.Metadata

	switch role {
	case RoleTitle:
		return textOrEmpty(meta.Title)
	case RoleSubtitle:
		return textOrEmpty(meta.Subtitle)
	case RoleAuthor:
		return listOrEmpty(splitNames(meta.AuthorName))
	case RoleNarrator:
		return listOrEmpty(splitNames(meta.NarratorName))
	case RoleSeries:
		return textOrEmpty(meta.SeriesName)
	case RolePublisher:
		return textOrEmpty(meta.Publisher)
	case RolePublishedYear:
		return textOrEmpty(meta.PublishedYear)
	case RoleGenres:
		return listOrEmpty(meta.Genres)
	case RoleTags:
		return listOrEmpty(item.Media.Tags)
	case RoleLanguage:
		return textOrEmpty(meta.Language)
	case RoleAbridged:
		return BoolValue(meta.Abridged)
	case RoleExplicit:
		return BoolValue(meta.Explicit)
	case RoleASIN:
		return textOrEmpty(meta.ASIN)

	case RoleSize:
		if item.Size <= 0 {
			return Empty()
		}
		return TextValue(formatSizeMB(item.Size))
	case RoleDuration:
		if item.Media.Duration <= 0 {
			return Empty()
		}
		return TextValue(formatHoursMinutes(item.Media.Duration))
	case RoleFileCount:
		if item.NumFiles <= 0 {
			return Empty()
		}
		return NumberValue(float64(item.NumFiles))
	case RoleChapterCount:
		if item.Media.NumChapters <= 0 {
			return Empty()
		}
		return NumberValue(float64(item.Media.NumChapters))

	case RoleProgress:
		if progress == nil {
			return Empty()
		}
		return NumberValue(roundHalfAway(progressPercent(progress, item), 0))
	case RolePreciseProgress:
		if progress == nil {
			return Empty()
		}
		return NumberValue(roundHalfAway(progressPercent(progress, item), cfg.DecimalPrecision))
	case RoleProgressTime:
		if progress == nil {
			return Empty()
		}
		return TextValue(formatHoursMinutes(progress.CurrentTime))
	case RoleTimeRemaining:
		if progress == nil {
			return Empty()
		}
		remaining := item.Media.Duration - progress.CurrentTime
		if remaining < 0 {
			remaining = 0
		}
		return TextValue(formatHoursMinutes(stats.TimeToFinish(remaining)))
	case RoleStarted:
		return BoolValue(progress != nil)
	case RoleFinished:
		return BoolValue(progress != nil && progress.IsFinished)
	case RoleLastReadDate:
		if progress == nil || progress.LastUpdate <= 0 {
			return Empty()
		}
		return DateValue(time.UnixMilli(progress.LastUpdate).UTC())
	case RoleBeginDate:
		if progress == nil || progress.StartedAt <= 0 {
			return Empty()
		}
		return DateValue(time.UnixMilli(progress.StartedAt).UTC())
	case RoleFinishDate:
		if progress == nil || progress.FinishedAt <= 0 {
			return Empty()
		}
		return DateValue(time.UnixMilli(progress.FinishedAt).UTC())

	case RoleListenedTime:
		if stats.SessionCount == 0 {
			return Empty()
		}
		return TextValue(formatHoursMinutes(stats.TotalListened))
	case RoleSessionCount:
		if stats.SessionCount == 0 {
			return Empty()
		}
		return NumberValue(float64(stats.SessionCount))
	case RoleAverageSpeed:
		if stats.AverageSpeed <= 0 {
			return Empty()
		}
		return NumberValue(roundHalfAway(stats.AverageSpeed, cfg.DecimalPrecision))
	case RoleMaxSpeed:
		if stats.MaxSpeed <= 0 {
			return Empty()
		}
		return NumberValue(roundHalfAway(stats.MaxSpeed, cfg.DecimalPrecision))
	case RoleListeningDays:
		if stats.SessionCount == 0 {
			return Empty()
		}
		return NumberValue(float64(stats.ListeningDays))

	case RoleBookmarks:
		return TextValue(formatBookmarks(bookmarks))
	case RoleCollections:
		return listOrEmpty(collections)
	}

	return Empty()
}

// progressPercent computes the completion percentage clamped to [0, 100].
// The clamp guards against positions past the reported duration.
func progressPercent(progress *models.MediaProgress, item *models.AudiobookshelfItem) float64 {
	duration := item.Media.Duration
	if duration <= 0 {
		duration = progress.Duration
	}
	if duration <= 0 {
		return 0
	}
	pct := progress.CurrentTime / duration * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// roundHalfAway rounds to the given decimal precision using
// round-half-away-from-zero
func roundHalfAway(x float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(x*scale) / scale
}

// formatHoursMinutes renders a duration in seconds as "H:MM"
func formatHoursMinutes(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/3600, (total%3600)/60)
}

// formatHoursMinutesSeconds renders a duration in seconds as "H:MM:SS"
func formatHoursMinutesSeconds(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// formatSizeMB renders a byte count as megabytes with thousands separators
func formatSizeMB(bytes int64) string {
	mb := bytes / (1024 * 1024)
	return fmt.Sprintf("%s MB", groupThousands(mb))
}

// groupThousands inserts comma separators into a non-negative integer
func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatBookmarks renders bookmarks as "title at H:MM:SS" lines
func formatBookmarks(bookmarks []models.Bookmark) string {
	if len(bookmarks) == 0 {
		return "No Bookmarks"
	}
	lines := make([]string, 0, len(bookmarks))
	for _, b := range bookmarks {
		title := b.Title
		if title == "" {
			title = "No Title"
		}
		lines = append(lines, fmt.Sprintf("%s at %s", title, formatHoursMinutesSeconds(b.Time)))
	}
	return strings.Join(lines, "\n")
}

// splitNames splits a comma-separated name list as the server formats it
func splitNames(names string) []string {
	if strings.TrimSpace(names) == "" {
		return nil
	}
	parts := strings.Split(names, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// textOrEmpty wraps a string, mapping blank to the empty sentinel
func textOrEmpty(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Empty()
	}
	return TextValue(s)
}

// listOrEmpty wraps a list, mapping empty to the empty sentinel
func listOrEmpty(items []string) Value {
	if len(items) == 0 {
		return Empty()
	}
	return ListValue(items)
}
