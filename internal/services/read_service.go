// Package services – ReadService
//
// This file implements the read path with a stale-while-revalidate policy:
// cacheable GETs serve the cached value immediately on a hit and, when
// connectivity is present, issue a non-blocking background refresh whose
// outcome silently overwrites the entry. Background refresh errors never
// surface to the original caller, and refreshes are rate limited so a
// burst of reads cannot amplify into a burst of remote calls.
package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-contact-sync/internal/cache"
	"github.com/tbourn/go-contact-sync/internal/remote"
)

// ReadService serves reads through the scoped response cache.
type ReadService struct {
	Cache  *cache.Cache
	Client remote.Client

	// Online gates background refreshes; when false a cache hit is served
	// without attempting revalidation.
	Online func() bool

	// RefreshTimeout bounds each background revalidation call.
	RefreshTimeout time.Duration

	refreshLimiter *rate.Limiter
}

// NewReadService constructs a ReadService. Background refreshes are capped
// at refreshRPS per second with a small burst allowance.
func NewReadService(c *cache.Cache, client remote.Client, online func() bool, refreshRPS float64) *ReadService {
	if refreshRPS <= 0 {
		refreshRPS = 1
	}
	return &ReadService{
		Cache:          c,
		Client:         client,
		Online:         online,
		RefreshTimeout: 15 * time.Second,
		refreshLimiter: rate.NewLimiter(rate.Limit(refreshRPS), 5),
	}
}

// Fetch returns the response for a GET against path on behalf of userID.
//
// Cacheable endpoints consult the cache first: a hit returns immediately
// (kicking off a background refresh when online), a miss falls through to
// a live call whose successful result refreshes the cache. Non-cacheable
// endpoints always go live.
func (r *ReadService) Fetch(ctx context.Context, userID, path string) (json.RawMessage, error) {
	if !cache.ShouldCache(path, http.MethodGet) {
		return r.Client.Get(ctx, path)
	}

	if data, ok := r.Cache.Get(ctx, userID, path); ok {
		if r.Online != nil && r.Online() && r.refreshLimiter.Allow() {
			go r.refresh(userID, path)
		}
		return data, nil
	}

	data, err := r.Client.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	r.Cache.Set(ctx, userID, path, data)
	return data, nil
}

// refresh revalidates one cached endpoint in the background. Errors are
// swallowed: the caller already got a usable (if stale) response.
func (r *ReadService) refresh(userID, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.RefreshTimeout)
	defer cancel()

	data, err := r.Client.Get(ctx, path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("background refresh failed")
		return
	}
	r.Cache.Set(ctx, userID, path, data)
}

// AfterMutation invalidates the cache families affected by a successful
// live mutation of the given resource. A profile update also invalidates
// the user's public-profile entry, which lives under its own path.
func (r *ReadService) AfterMutation(ctx context.Context, userID, resource string) error {
	if err := r.Cache.Invalidate(ctx, userID, resource); err != nil {
		return err
	}
	if resource == "profile" {
		return r.Cache.Invalidate(ctx, userID, "public/"+userID)
	}
	return nil
}
