package library

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/mapper"
)

// ErrRecordNotFound is returned when a record ID does not exist
var ErrRecordNotFound = errors.New("record not found")

// Store provides operations on local library records, their field values and
// the match cache. All multi-field writes are transactional: a record's
// fields update together or not at all.
type Store struct {
	db     *Database
	logger *logger.Logger
}

// NewStore creates a store backed by the given database
func NewStore(db *Database, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Get()
	}
	return &Store{
		db: db,
		logger: log.With(map[string]interface{}{
			"component": "library_store",
		}),
	}
}

// CreateRecord inserts a new local record
func (s *Store) CreateRecord(rec *LocalRecord) error {
	if err := s.db.GetDB().Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// GetRecord fetches a record by ID
func (s *Store) GetRecord(id uint) (*LocalRecord, error) {
	var rec LocalRecord
	if err := s.db.GetDB().First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to fetch record %d: %w", id, err)
	}
	return &rec, nil
}

// ListRecords returns all records ordered by ID
func (s *Store) ListRecords() ([]LocalRecord, error) {
	var recs []LocalRecord
	if err := s.db.GetDB().Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return recs, nil
}

// ListLinkedRecords returns all records that carry a link key, ordered by ID
func (s *Store) ListLinkedRecords() ([]LocalRecord, error) {
	var recs []LocalRecord
	if err := s.db.GetDB().Where("link_key <> ''").Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list linked records: %w", err)
	}
	return recs, nil
}

// ListUnlinkedRecords returns all records without a link key, ordered by ID
func (s *Store) ListUnlinkedRecords() ([]LocalRecord, error) {
	var recs []LocalRecord
	if err := s.db.GetDB().Where("link_key = ''").Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list unlinked records: %w", err)
	}
	return recs, nil
}

// SetLinkKey links a record to a remote item and clears any stale marker
func (s *Store) SetLinkKey(id uint, linkKey string) error {
	res := s.db.GetDB().Model(&LocalRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{"link_key": linkKey, "link_stale": false})
	if res.Error != nil {
		return fmt.Errorf("failed to set link key on record %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
	}
	return nil
}

// ClearLinkKey removes a record's link. Only explicit user action calls this;
// sync never unlinks on its own.
func (s *Store) ClearLinkKey(id uint) error {
	res := s.db.GetDB().Model(&LocalRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{"link_key": "", "link_stale": false})
	if res.Error != nil {
		return fmt.Errorf("failed to clear link key on record %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
	}
	return nil
}

// MarkLinkStale flags a record whose link key no longer resolves remotely.
// The key itself is preserved for inspection.
func (s *Store) MarkLinkStale(id uint) error {
	res := s.db.GetDB().Model(&LocalRecord{}).Where("id = ?", id).
		Update("link_stale", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark record %d stale: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
	}
	return nil
}

// GetFields returns the current field values for a record
func (s *Store) GetFields(id uint) (map[mapper.FieldRole]mapper.Value, error) {
	var rows []FieldValue
	if err := s.db.GetDB().Where("record_id = ?", id).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch fields for record %d: %w", id, err)
	}
	out := make(map[mapper.FieldRole]mapper.Value, len(rows))
	for _, row := range rows {
		v, err := mapper.UnmarshalValue(row.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s of record %d: %w", row.Role, id, err)
		}
		out[mapper.FieldRole(row.Role)] = v
	}
	return out, nil
}

// SetFields writes a set of field values to a record in a single transaction
// and records matching snapshots. Either every field is written or none is.
func (s *Store) SetFields(id uint, fields map[mapper.FieldRole]mapper.Value) error {
	if len(fields) == 0 {
		return nil
	}
	return s.db.GetDB().Transaction(func(tx *gorm.DB) error {
		var rec LocalRecord
		if err := tx.First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
			}
			return fmt.Errorf("failed to fetch record %d: %w", id, err)
		}
		for role, value := range fields {
			data, err := mapper.MarshalValue(value)
			if err != nil {
				return fmt.Errorf("field %s of record %d: %w", role, id, err)
			}
			fv := FieldValue{RecordID: id, Role: role.String(), Value: data}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&fv).Error; err != nil {
				return fmt.Errorf("failed to write field %s of record %d: %w", role, id, err)
			}
			snap := FieldSnapshot{RecordID: id, Role: role.String(), Value: data}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&snap).Error; err != nil {
				return fmt.Errorf("failed to snapshot field %s of record %d: %w", role, id, err)
			}
		}
		return nil
	})
}

// SetField writes a single field value without touching its snapshot.
// This is how local edits enter the store, so writeback can later tell the
// field changed since the engine last wrote it.
func (s *Store) SetField(id uint, role mapper.FieldRole, value mapper.Value) error {
	data, err := mapper.MarshalValue(value)
	if err != nil {
		return fmt.Errorf("field %s of record %d: %w", role, id, err)
	}
	fv := FieldValue{RecordID: id, Role: role.String(), Value: data}
	if err := s.db.GetDB().Clauses(clause.OnConflict{UpdateAll: true}).Create(&fv).Error; err != nil {
		return fmt.Errorf("failed to write field %s of record %d: %w", role, id, err)
	}
	return nil
}

// GetSnapshot returns the field values as of the engine's last write
func (s *Store) GetSnapshot(id uint) (map[mapper.FieldRole]mapper.Value, error) {
	var rows []FieldSnapshot
	if err := s.db.GetDB().Where("record_id = ?", id).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot for record %d: %w", id, err)
	}
	out := make(map[mapper.FieldRole]mapper.Value, len(rows))
	for _, row := range rows {
		v, err := mapper.UnmarshalValue(row.Value)
		if err != nil {
			return nil, fmt.Errorf("snapshot field %s of record %d: %w", row.Role, id, err)
		}
		out[mapper.FieldRole(row.Role)] = v
	}
	return out, nil
}

// GetMatch looks up a cached match by signature. The second return reports
// whether an entry exists.
func (s *Store) GetMatch(signature string) (*MatchEntry, bool, error) {
	var entry MatchEntry
	err := s.db.GetDB().Where("signature = ?", signature).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up match %q: %w", signature, err)
	}
	return &entry, true, nil
}

// PutMatch stores or replaces a cached match
func (s *Store) PutMatch(entry *MatchEntry) error {
	if err := s.db.GetDB().Clauses(clause.OnConflict{UpdateAll: true}).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to store match %q: %w", entry.Signature, err)
	}
	return nil
}

// DeleteMatch removes a cached match by signature
func (s *Store) DeleteMatch(signature string) error {
	if err := s.db.GetDB().Where("signature = ?", signature).Delete(&MatchEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete match %q: %w", signature, err)
	}
	return nil
}

// ListMatches returns all cached matches ordered by signature
func (s *Store) ListMatches() ([]MatchEntry, error) {
	var entries []MatchEntry
	if err := s.db.GetDB().Order("signature").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return entries, nil
}

// ClearMatches removes all cached matches
func (s *Store) ClearMatches() error {
	if err := s.db.GetDB().Where("1 = 1").Delete(&MatchEntry{}).Error; err != nil {
		return fmt.Errorf("failed to clear match cache: %w", err)
	}
	return nil
}
