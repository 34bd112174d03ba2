package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound indicates the requested key has no stored value.
var ErrNotFound = errors.New("key not found")

// ErrCapacity indicates a write was refused because it would push the store
// past its configured byte limit. Callers are expected to sweep and retry
// or treat the write as best-effort; the store itself never evicts.
var ErrCapacity = errors.New("store capacity exceeded")

// KVEntry is one stored key/value pair. Values are opaque strings; the
// queue and cache layers own their serialization.
type KVEntry struct {
	Key       string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Value     string    `gorm:"type:TEXT NOT NULL"`
	UpdatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (KVEntry) TableName() string { return "kv_entries" }

// Store is the durable key/value store. Writes are full-value and
// last-write-wins; there are no partial or transactional updates across
// keys. MaxBytes of zero means unlimited.
type Store struct {
	DB       *gorm.DB
	MaxBytes int64
}

// NewStore wraps an opened database handle.
func NewStore(db *gorm.DB) *Store { return &Store{DB: db} }

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var rec KVEntry
	err := s.DB.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

// Set stores value under key, replacing any previous value. When a byte
// limit is configured and the write would exceed it, Set returns
// ErrCapacity and leaves the store untouched.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.MaxBytes > 0 {
		var used int64
		err := s.DB.WithContext(ctx).
			Model(&KVEntry{}).
			Where("key <> ?", key).
			Select("COALESCE(SUM(LENGTH(value)), 0)").
			Scan(&used).Error
		if err != nil {
			return err
		}
		if used+int64(len(value)) > s.MaxBytes {
			return ErrCapacity
		}
	}
	rec := KVEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rec).Error
}

// Remove deletes the value stored under key. Removing an absent key is a
// no-op, not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.DB.WithContext(ctx).Delete(&KVEntry{}, "key = ?", key).Error
}

// Keys returns all stored keys beginning with prefix, in ascending key
// order. An empty prefix returns every key. Used by the cache layer for
// pattern-based invalidation sweeps.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := s.DB.WithContext(ctx).Model(&KVEntry{}).Order("key ASC")
	if prefix != "" {
		q = q.Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if err := q.Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// escapeLike neutralizes LIKE wildcards in a literal prefix so stored keys
// containing % or _ cannot widen the match.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_':
			out = append(out, '\\', s[i])
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
