// Package services – SessionService
//
// This file manages the active user session recorded in the durable store.
// Both login and logout wipe the affected user's cache: a new session must
// not inherit a previous session's residual entries under the same profile.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-contact-sync/internal/cache"
	"github.com/tbourn/go-contact-sync/internal/repo"
)

// sessionKey holds the active user identifier.
const sessionKey = "session:v1:active"

// SessionService tracks which user the engine currently syncs for.
type SessionService struct {
	Store *repo.Store
	Cache *cache.Cache
}

// NewSessionService constructs a SessionService.
func NewSessionService(store *repo.Store, c *cache.Cache) *SessionService {
	return &SessionService{Store: store, Cache: c}
}

// Current returns the active user id, or ErrNoSession.
func (s *SessionService) Current(ctx context.Context) (string, error) {
	userID, err := s.Store.Get(ctx, sessionKey)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && userID == "") {
		return "", ErrNoSession
	}
	return userID, err
}

// Login establishes userID as the active session and wipes that user's
// cached responses.
func (s *SessionService) Login(ctx context.Context, userID string) error {
	if err := s.Cache.InvalidateAll(ctx, userID); err != nil {
		return err
	}
	if err := s.Store.Set(ctx, sessionKey, userID); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Msg("session established")
	return nil
}

// Logout clears the active session and wipes the departing user's cached
// responses. Logging out without a session is a no-op.
func (s *SessionService) Logout(ctx context.Context) error {
	userID, err := s.Current(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.Cache.InvalidateAll(ctx, userID); err != nil {
		return err
	}
	if err := s.Store.Remove(ctx, sessionKey); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Msg("session cleared")
	return nil
}
