package domain

import (
	"encoding/json"
	"time"
)

// CacheEntry is one cached successful read response, scoped to the user
// session that produced it. Entries are valid only while younger than their
// TTL and while the owner matches the active user; either mismatch makes
// the entry invisible to readers.
type CacheEntry struct {
	Key         string          `json:"key"`
	OwnerUserID string          `json:"owner_user_id"`
	StoredAt    time.Time       `json:"stored_at"`
	Data        json.RawMessage `json:"data"`
}

// Expired reports whether the entry's age exceeds ttl at the given instant.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) >= ttl
}
