// Package cache implements the scoped response cache: per-user, per-endpoint
// cached server responses with time-based expiry and pattern-based
// invalidation. Entries live inside the durable store so they survive
// process restarts; the cache keeps no in-memory mirror.
//
// Expected failure modes (missing entry, stale entry, full store) are
// modeled as normal return values, never as errors across the public
// boundary: a cache problem must never fail the caller's read or write.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-contact-sync/internal/domain"
	"github.com/tbourn/go-contact-sync/internal/repo"
)

const (
	// keyPrefix scopes request-cache entries; qrKeyPrefix scopes the
	// longer-lived QR-artifact cache. Both embed the owning user id.
	keyPrefix   = "cache:v1:"
	qrKeyPrefix = "qr:v1:"

	// DefaultTTL bounds the age of a request-cache entry.
	DefaultTTL = 30 * time.Minute
	// DefaultQRTTL bounds the age of a cached QR artifact.
	DefaultQRTTL = 24 * time.Hour
	// DefaultSweepAge is the cutoff used by the capacity sweep: entries
	// older than this are evicted across all users when a write hits the
	// store limit.
	DefaultSweepAge = time.Hour
)

// cacheableFamilies is the fixed allow-list of resource path fragments
// eligible for caching. Write methods are never cached.
var cacheableFamilies = []string{"/profile", "/events", "/contacts", "/tags"}

// Cache provides scoped get/set/invalidate operations over stored entries.
type Cache struct {
	Store *repo.Store

	TTL      time.Duration
	QRTTL    time.Duration
	SweepAge time.Duration
}

// New constructs a Cache with the default TTLs.
func New(store *repo.Store) *Cache {
	return &Cache{
		Store:    store,
		TTL:      DefaultTTL,
		QRTTL:    DefaultQRTTL,
		SweepAge: DefaultSweepAge,
	}
}

// ShouldCache reports whether a response for the given endpoint path and
// HTTP method is eligible for caching: GET-class reads against the fixed
// resource allow-list only.
func ShouldCache(path, method string) bool {
	if !strings.EqualFold(method, http.MethodGet) {
		return false
	}
	for _, f := range cacheableFamilies {
		if strings.Contains(path, f) {
			return true
		}
	}
	return false
}

func entryKey(userID, path string) string { return keyPrefix + userID + ":" + path }
func qrKey(userID, path string) string    { return qrKeyPrefix + userID + ":" + path }
func userPrefix(userID string) string     { return keyPrefix + userID + ":" }
func userQRPrefix(userID string) string   { return qrKeyPrefix + userID + ":" }

// Get returns the cached response for the endpoint, scoped to the given
// user. It reports absence when there is no entry, the entry expired, or
// the entry's recorded owner does not match the active user. An owner
// mismatch means a session boundary was crossed without a cache flush, so
// it additionally wipes the user's remaining entries as a safety measure.
func (c *Cache) Get(ctx context.Context, userID, path string) (json.RawMessage, bool) {
	return c.get(ctx, userID, entryKey(userID, path), c.TTL)
}

// GetArtifact returns a cached QR artifact under the longer artifact TTL.
func (c *Cache) GetArtifact(ctx context.Context, userID, path string) (json.RawMessage, bool) {
	return c.get(ctx, userID, qrKey(userID, path), c.QRTTL)
}

func (c *Cache) get(ctx context.Context, userID, key string, ttl time.Duration) (json.RawMessage, bool) {
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		_ = c.Store.Remove(ctx, key)
		return nil, false
	}
	if entry.OwnerUserID != userID {
		log.Warn().Str("user_id", userID).Str("owner", entry.OwnerUserID).
			Msg("cache: owner mismatch, wiping user entries")
		_ = c.InvalidateAll(ctx, userID)
		return nil, false
	}
	if entry.Expired(time.Now().UTC(), ttl) {
		_ = c.Store.Remove(ctx, key)
		return nil, false
	}
	return entry.Data, true
}

// Set writes or overwrites the scoped entry for the endpoint. On a
// capacity failure it sweeps entries older than SweepAge across all users
// and retries once; a second failure is logged and reported through the
// returned bool. Set never returns an error: a cache write failure must
// not fail the caller's operation.
func (c *Cache) Set(ctx context.Context, userID, path string, data json.RawMessage) bool {
	return c.set(ctx, userID, entryKey(userID, path), data)
}

// SetArtifact caches a QR artifact for the user.
func (c *Cache) SetArtifact(ctx context.Context, userID, path string, data json.RawMessage) bool {
	return c.set(ctx, userID, qrKey(userID, path), data)
}

func (c *Cache) set(ctx context.Context, userID, key string, data json.RawMessage) bool {
	entry := domain.CacheEntry{
		Key:         key,
		OwnerUserID: userID,
		StoredAt:    time.Now().UTC(),
		Data:        data,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("cache: marshal failed")
		return false
	}

	err = c.Store.Set(ctx, key, string(raw))
	if errors.Is(err, repo.ErrCapacity) {
		c.sweep(ctx)
		err = c.Store.Set(ctx, key, string(raw))
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: write dropped")
		return false
	}
	return true
}

// sweep evicts entries older than SweepAge across all users and both
// prefixes. Best effort: individual failures are skipped.
func (c *Cache) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.SweepAge)
	removed := 0
	for _, prefix := range []string{keyPrefix, qrKeyPrefix} {
		keys, err := c.Store.Keys(ctx, prefix)
		if err != nil {
			continue
		}
		for _, key := range keys {
			raw, err := c.Store.Get(ctx, key)
			if err != nil {
				continue
			}
			var entry domain.CacheEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.StoredAt.Before(cutoff) {
				if c.Store.Remove(ctx, key) == nil {
					removed++
				}
			}
		}
	}
	log.Info().Int("removed", removed).Msg("cache: capacity sweep")
}

// Invalidate removes all entries for the user whose endpoint contains the
// family's path fragment (e.g. family "contacts" removes every key with
// "/contacts" in it). Invoked after every successful mutation of the
// corresponding resource.
func (c *Cache) Invalidate(ctx context.Context, userID, family string) error {
	fragment := "/" + strings.Trim(family, "/")
	keys, err := c.Store.Keys(ctx, userPrefix(userID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.Contains(strings.TrimPrefix(key, userPrefix(userID)), fragment) {
			if err := c.Store.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// InvalidateAll wipes every entry belonging to the user, including QR
// artifacts. Invoked on both login and logout: a new session must not
// inherit a previous session's residual cache under the same profile.
func (c *Cache) InvalidateAll(ctx context.Context, userID string) error {
	for _, prefix := range []string{userPrefix(userID), userQRPrefix(userID)} {
		keys, err := c.Store.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := c.Store.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}
