package models

// MediaProgress represents a user's progress for a single library item.
// Timestamps are epoch milliseconds, as reported by the server.
type MediaProgress struct {
	ID            string  `json:"id"`
	LibraryItemID string  `json:"libraryItemId"`
	Duration      float64 `json:"duration"`
	Progress      float64 `json:"progress"` // 0..1
	CurrentTime   float64 `json:"currentTime"`
	IsFinished    bool    `json:"isFinished"`
	StartedAt     int64   `json:"startedAt"`
	FinishedAt    int64   `json:"finishedAt"`
	LastUpdate    int64   `json:"lastUpdate"`
}

// ListeningSession is one playback session for an item.
// The server decides how playback is bucketed into sessions; the engine only
// relies on the ordering and the three fields below.
type ListeningSession struct {
	ID            string  `json:"id"`
	LibraryItemID string  `json:"libraryItemId"`
	UpdatedAt     int64   `json:"updatedAt"`     // epoch ms
	TimeListening float64 `json:"timeListening"` // seconds
	PlaybackSpeed float64 `json:"playbackSpeed"`
}

// Bookmark is a user bookmark within an item
type Bookmark struct {
	LibraryItemID string  `json:"libraryItemId"`
	Title         string  `json:"title"`
	Time          float64 `json:"time"` // seconds from start
}

// UserProgress is the response of GET /api/me: per-item progress plus bookmarks
type UserProgress struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	MediaProgress []MediaProgress `json:"mediaProgress"`
	Bookmarks     []Bookmark      `json:"bookmarks"`
}

// ProgressRecord bundles everything progress-related for one item: the media
// progress, the item's listening sessions and its bookmarks.
type ProgressRecord struct {
	Progress  *MediaProgress
	Sessions  []ListeningSession
	Bookmarks []Bookmark
}
