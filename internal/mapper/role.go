package mapper

import (
	"fmt"
	"strings"
)

// FieldRole identifies a syncable field slot on a local record.
// Each role has exactly one mapping rule in Map and one value kind.
type FieldRole string

const (
	RoleTitle           FieldRole = "title"
	RoleSubtitle        FieldRole = "subtitle"
	RoleAuthor          FieldRole = "author"
	RoleNarrator        FieldRole = "narrator"
	RoleSeries          FieldRole = "series"
	RolePublisher       FieldRole = "publisher"
	RolePublishedYear   FieldRole = "published_year"
	RoleGenres          FieldRole = "genres"
	RoleTags            FieldRole = "tags"
	RoleLanguage        FieldRole = "language"
	RoleAbridged        FieldRole = "abridged"
	RoleExplicit        FieldRole = "explicit"
	RoleASIN            FieldRole = "asin"
	RoleSize            FieldRole = "size"
	RoleDuration        FieldRole = "duration"
	RoleFileCount       FieldRole = "file_count"
	RoleChapterCount    FieldRole = "chapter_count"
	RoleProgress        FieldRole = "progress"
	RolePreciseProgress FieldRole = "precise_progress"
	RoleProgressTime    FieldRole = "progress_time"
	RoleTimeRemaining   FieldRole = "time_remaining"
	RoleStarted         FieldRole = "started"
	RoleFinished        FieldRole = "finished"
	RoleLastReadDate    FieldRole = "last_read_date"
	RoleBeginDate       FieldRole = "begin_date"
	RoleFinishDate      FieldRole = "finish_date"
	RoleListenedTime    FieldRole = "listened_time"
	RoleSessionCount    FieldRole = "session_count"
	RoleAverageSpeed    FieldRole = "average_speed"
	RoleMaxSpeed        FieldRole = "max_speed"
	RoleListeningDays   FieldRole = "listening_days"
	RoleBookmarks       FieldRole = "bookmarks"
	RoleCollections     FieldRole = "collections"
)

// AllRoles lists every field role in a stable order
var AllRoles = []FieldRole{
	RoleTitle,
	RoleSubtitle,
	RoleAuthor,
	RoleNarrator,
	RoleSeries,
	RolePublisher,
	RolePublishedYear,
	RoleGenres,
	RoleTags,
	RoleLanguage,
	RoleAbridged,
	RoleExplicit,
	RoleASIN,
	RoleSize,
	RoleDuration,
	RoleFileCount,
	RoleChapterCount,
	RoleProgress,
	RolePreciseProgress,
	RoleProgressTime,
	RoleTimeRemaining,
	RoleStarted,
	RoleFinished,
	RoleLastReadDate,
	RoleBeginDate,
	RoleFinishDate,
	RoleListenedTime,
	RoleSessionCount,
	RoleAverageSpeed,
	RoleMaxSpeed,
	RoleListeningDays,
	RoleBookmarks,
	RoleCollections,
}

// writebackEligible is the fixed subset of roles that may be pushed back to
// the remote server. Derived and progress fields are read-only by design.
var writebackEligible = map[FieldRole]bool{
	RoleTitle:         true,
	RoleSubtitle:      true,
	RoleAuthor:        true,
	RoleNarrator:      true,
	RoleSeries:        true,
	RolePublisher:     true,
	RolePublishedYear: true,
	RoleGenres:        true,
	RoleTags:          true,
	RoleLanguage:      true,
	RoleAbridged:      true,
	RoleExplicit:      true,
	RoleCollections:   true,
}

// String returns the role's config name
func (r FieldRole) String() string {
	return string(r)
}

// WritebackEligible reports whether local edits to this role may be pushed
// to the remote server
func (r FieldRole) WritebackEligible() bool {
	return writebackEligible[r]
}

// ParseFieldRole parses a config name into a FieldRole
func ParseFieldRole(s string) (FieldRole, error) {
	r := FieldRole(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown field role %q", s)
}

// ParseFieldRoles parses a list of config names. An empty input selects
// every role.
func ParseFieldRoles(names []string) ([]FieldRole, error) {
	if len(names) == 0 {
		roles := make([]FieldRole, len(AllRoles))
		copy(roles, AllRoles)
		return roles, nil
	}
	roles := make([]FieldRole, 0, len(names))
	for _, name := range names {
		r, err := ParseFieldRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}
