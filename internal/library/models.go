package library

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// LocalRecord is one book in the local library database. LinkKey holds the
// remote library item ID once the record is linked; an empty LinkKey means
// the record is unlinked.
type LocalRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	Authors   string    `json:"authors"` // comma-separated, matching the server's format
	LinkKey   string    `gorm:"index" json:"link_key"`
	LinkStale bool      `json:"link_stale"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthorList splits the comma-separated author string
func (r *LocalRecord) AuthorList() []string {
	if strings.TrimSpace(r.Authors) == "" {
		return nil
	}
	parts := strings.Split(r.Authors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Linked reports whether the record carries a link key
func (r *LocalRecord) Linked() bool {
	return r.LinkKey != ""
}

// FieldValue is the current value of one field slot on a record.
// Values are stored as serialized typed variants.
type FieldValue struct {
	RecordID  uint      `gorm:"primaryKey;autoIncrement:false" json:"record_id"`
	Role      string    `gorm:"primaryKey" json:"role"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldSnapshot is the value of a field slot as of the engine's last write.
// Writeback compares current values against snapshots to detect local edits.
type FieldSnapshot struct {
	RecordID  uint      `gorm:"primaryKey;autoIncrement:false" json:"record_id"`
	Role      string    `gorm:"primaryKey" json:"role"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchEntry caches an identity resolution outcome for a normalized
// title/author signature. Negative entries record that a search found
// nothing, so repeat searches can be skipped.
type MatchEntry struct {
	Signature string    `gorm:"primaryKey" json:"signature"`
	RemoteID  string    `json:"remote_id"`
	Negative  bool      `json:"negative"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook for LocalRecord
func (r *LocalRecord) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	return nil
}

// BeforeUpdate hook for LocalRecord
func (r *LocalRecord) BeforeUpdate(tx *gorm.DB) error {
	r.UpdatedAt = time.Now()
	return nil
}

// BeforeSave hook for FieldValue
func (f *FieldValue) BeforeSave(tx *gorm.DB) error {
	f.UpdatedAt = time.Now()
	return nil
}

// BeforeSave hook for FieldSnapshot
func (f *FieldSnapshot) BeforeSave(tx *gorm.DB) error {
	f.UpdatedAt = time.Now()
	return nil
}

// BeforeCreate hook for MatchEntry
func (m *MatchEntry) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	return nil
}

// BeforeUpdate hook for MatchEntry
func (m *MatchEntry) BeforeUpdate(tx *gorm.DB) error {
	m.UpdatedAt = time.Now()
	return nil
}
