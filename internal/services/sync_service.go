// Package services – SyncService
//
// This file implements the sync orchestrator, which drains the persistent
// operation queue against the remote API. A drain runs under a single-flight
// discipline guarded by a durable in-progress flag, replays items in three
// sequential passes (contacts, events, tags) in insertion order within each
// pass, and applies the per-item retry policy: transient failures count
// toward a retry ceiling, terminal rejections are dropped immediately.
//
// Deviations from the original client this engine descends from, both
// deliberate and observable:
//   - application-level rejections no longer burn the retry ceiling; they
//     drop the item at once with a warning,
//   - every dispatch is wrapped in a per-item timeout so one hung call
//     cannot stall the whole drain,
//   - an in-progress flag left behind by a crashed drain goes stale after
//     FlagTTL and is overridden instead of wedging sync forever.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-contact-sync/internal/cache"
	"github.com/tbourn/go-contact-sync/internal/codec"
	"github.com/tbourn/go-contact-sync/internal/domain"
	"github.com/tbourn/go-contact-sync/internal/queue"
	"github.com/tbourn/go-contact-sync/internal/remote"
	"github.com/tbourn/go-contact-sync/internal/repo"
)

const (
	// flagKey holds the drain-in-progress timestamp in the durable store.
	// Durable (rather than in-memory) so quick process restarts and
	// concurrent instances on the same profile cannot race two drains.
	flagKey = "sync:v1:inprogress"

	// DefaultRetryCeiling is the number of failed attempts after which a
	// queued item is unconditionally dropped.
	DefaultRetryCeiling = 10

	// DefaultFlagTTL is how long an in-progress flag is honored before it
	// is presumed abandoned by a crashed drain.
	DefaultFlagTTL = 10 * time.Minute

	// DefaultItemTimeout bounds each remote dispatch within a drain.
	DefaultItemTimeout = 30 * time.Second
)

// Report summarizes one drain cycle.
type Report struct {
	Synced   int `json:"synced"`
	Dropped  int `json:"dropped"`
	Retained int `json:"retained"`
}

// SyncService drains the operation queue against the remote API.
type SyncService struct {
	Store  *repo.Store
	Queue  *queue.Queue
	Cache  *cache.Cache
	Client remote.Client

	// Online reports current connectivity; a drain is refused while false.
	Online func() bool

	RetryCeiling int
	FlagTTL      time.Duration
	ItemTimeout  time.Duration

	// RefreshHooks are optional UI callbacks invoked per resource family
	// after a drain that synced at least one item of that family. A nil or
	// missing hook is not an error.
	RefreshHooks map[domain.Kind]func()
}

// NewSyncService constructs a SyncService with the default retry policy.
func NewSyncService(store *repo.Store, q *queue.Queue, c *cache.Cache, client remote.Client, online func() bool) *SyncService {
	return &SyncService{
		Store:        store,
		Queue:        q,
		Cache:        c,
		Client:       client,
		Online:       online,
		RetryCeiling: DefaultRetryCeiling,
		FlagTTL:      DefaultFlagTTL,
		ItemTimeout:  DefaultItemTimeout,
	}
}

// Syncing reports whether a drain currently holds a fresh in-progress flag.
func (s *SyncService) Syncing(ctx context.Context) bool {
	raw, err := s.Store.Get(ctx, flagKey)
	if err != nil {
		return false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return time.Since(ts) < s.FlagTTL
}

// Drain performs one full pass over the queued items for the given user.
// Entry is refused with ErrOffline when connectivity is absent and with
// ErrDrainInProgress when another drain holds a fresh flag. The flag is
// cleared unconditionally when the drain ends.
func (s *SyncService) Drain(ctx context.Context, userID string) (Report, error) {
	var report Report

	if s.Online != nil && !s.Online() {
		return report, ErrOffline
	}
	if err := s.acquireFlag(ctx); err != nil {
		return report, err
	}
	syncInProgress.Set(1)
	defer func() {
		// Release no matter how the drain ends; a stuck flag would block
		// every future drain until FlagTTL expires.
		if err := s.Store.Remove(context.WithoutCancel(ctx), flagKey); err != nil {
			log.Error().Err(err).Msg("drain: release in-progress flag failed")
		}
		syncInProgress.Set(0)
		s.publishCounts(context.WithoutCancel(ctx), userID)
	}()

	ctx, span := otel.Tracer("sync").Start(ctx, "queue.drain",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	items, err := s.Queue.List(ctx, userID)
	if err != nil {
		return report, err
	}
	if len(items) == 0 {
		return report, nil
	}
	log.Info().Str("user_id", userID).Int("pending", len(items)).Msg("drain: start")

	failed := make(map[string]domain.QueueItem)
	syncedKinds := make(map[domain.Kind]bool)

	// Three sequential passes in fixed kind order; insertion order within
	// each pass. Not interleaved.
	for _, kind := range domain.KindOrder {
		for _, item := range items {
			if item.Kind != kind {
				continue
			}
			if s.processItem(ctx, userID, item, failed, &report) {
				syncedKinds[kind] = true
			}
		}
	}

	// Write surviving items back in one batched store write, preserving
	// their original insertion order.
	survivors := make([]domain.QueueItem, 0, len(failed))
	for _, item := range items {
		if updated, ok := failed[item.ID]; ok {
			survivors = append(survivors, updated)
		}
	}
	report.Retained = len(survivors)
	if err := s.Queue.Replace(ctx, userID, survivors); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("drain: persist retry counts failed")
		return report, err
	}

	// Synced mutations make the corresponding cached reads stale.
	for kind := range syncedKinds {
		if err := s.Cache.Invalidate(ctx, userID, familyFor(kind)); err != nil {
			log.Warn().Err(err).Str("family", familyFor(kind)).Msg("drain: cache invalidation failed")
		}
		if hook, ok := s.RefreshHooks[kind]; ok && hook != nil {
			hook()
		}
	}

	log.Info().Str("user_id", userID).
		Int("synced", report.Synced).Int("dropped", report.Dropped).Int("retained", report.Retained).
		Msg("drain: done")
	return report, nil
}

// processItem dispatches one item and applies the retry/drop policy.
// Returns true when the item synced.
func (s *SyncService) processItem(ctx context.Context, userID string, item domain.QueueItem, failed map[string]domain.QueueItem, report *Report) bool {
	ictx, cancel := context.WithTimeout(ctx, s.ItemTimeout)
	ictx, span := otel.Tracer("sync").Start(ictx, "queue.dispatch",
		trace.WithAttributes(
			attribute.String("item.id", item.ID),
			attribute.String("item.kind", string(item.Kind)),
			attribute.String("item.op", string(item.Op)),
		))
	err := s.dispatch(ictx, item)
	span.End()
	cancel()

	if err == nil {
		if rerr := s.Queue.Remove(ctx, userID, item.ID); rerr != nil {
			log.Error().Err(rerr).Str("item_id", item.ID).Msg("drain: remove synced item failed")
		}
		itemsSynced.WithLabelValues(string(item.Kind)).Inc()
		report.Synced++
		return true
	}

	if !remote.IsRetriable(err) {
		log.Warn().Err(err).Str("item_id", item.ID).Str("kind", string(item.Kind)).
			Msg("drain: terminal rejection, dropping item")
		itemsDropped.WithLabelValues(string(item.Kind), "terminal").Inc()
		report.Dropped++
		return false
	}

	item.RetryCount++
	if item.RetryCount >= s.RetryCeiling {
		log.Warn().Err(err).Str("item_id", item.ID).Int("retries", item.RetryCount).
			Msg("drain: retry ceiling reached, dropping item")
		itemsDropped.WithLabelValues(string(item.Kind), "ceiling").Inc()
		report.Dropped++
		return false
	}
	log.Debug().Err(err).Str("item_id", item.ID).Int("retries", item.RetryCount).
		Msg("drain: item failed, will retry")
	failed[item.ID] = item
	return false
}

// dispatch decodes the item's attachments and selects the remote call from
// (kind, operation). Attachments reach the transport as raw bytes only
// here, at drain time.
func (s *SyncService) dispatch(ctx context.Context, item domain.QueueItem) error {
	media, err := decodeMedia(item.Payload)
	if err != nil {
		// Corrupted stored attachment: no retry can repair it.
		return remote.ApplicationError("decode attachments", err)
	}
	p := remote.Payload{Fields: item.Payload.Fields, Media: media}

	needsTarget := item.Op != domain.OpCreate
	if needsTarget && item.TargetID == "" {
		return remote.ApplicationError("missing target id", nil)
	}

	switch item.Kind {
	case domain.KindContact:
		if item.Op == domain.OpCreate {
			_, err = s.Client.CreateContact(ctx, p)
		} else {
			_, err = s.Client.UpdateContact(ctx, item.TargetID, p)
		}
	case domain.KindEvent:
		if item.Op == domain.OpCreate {
			_, err = s.Client.CreateEvent(ctx, p)
		} else {
			_, err = s.Client.UpdateEvent(ctx, item.TargetID, p)
		}
	case domain.KindTag:
		switch item.Op {
		case domain.OpCreate:
			_, err = s.Client.CreateTag(ctx, p)
		case domain.OpDelete:
			err = s.Client.DeleteTag(ctx, item.TargetID)
		case domain.OpHide:
			// Hide is an update with the visibility flag cleared.
			hidden := remote.Payload{Fields: cloneFields(item.Payload.Fields), Media: media}
			if hidden.Fields == nil {
				hidden.Fields = make(map[string]any, 1)
			}
			hidden.Fields["visible"] = false
			_, err = s.Client.UpdateTag(ctx, item.TargetID, hidden)
		default:
			_, err = s.Client.UpdateTag(ctx, item.TargetID, p)
		}
	default:
		return remote.ApplicationError("unknown kind "+string(item.Kind), nil)
	}
	return err
}

// RunPeriodic drains on a fixed tick while online and backlogged, for the
// user returned by currentUser. Exits when ctx is canceled.
func (s *SyncService) RunPeriodic(ctx context.Context, interval time.Duration, currentUser func(context.Context) (string, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Online != nil && !s.Online() {
				continue
			}
			userID, err := currentUser(ctx)
			if err != nil {
				continue
			}
			counts, err := s.Queue.PendingCounts(ctx, userID)
			if err != nil || counts.Total() == 0 {
				continue
			}
			if _, err := s.Drain(ctx, userID); err != nil &&
				!errors.Is(err, ErrDrainInProgress) && !errors.Is(err, ErrOffline) {
				log.Error().Err(err).Msg("periodic drain failed")
			}
		}
	}
}

// acquireFlag claims the durable single-flight flag. A fresh flag refuses
// entry; a stale one (older than FlagTTL) is presumed left behind by a
// crashed drain and overridden.
func (s *SyncService) acquireFlag(ctx context.Context) error {
	raw, err := s.Store.Get(ctx, flagKey)
	if err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			if time.Since(ts) < s.FlagTTL {
				return ErrDrainInProgress
			}
			log.Warn().Time("flag_set_at", ts).Msg("drain: overriding stale in-progress flag")
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return s.Store.Set(ctx, flagKey, time.Now().UTC().Format(time.RFC3339Nano))
}

// publishCounts refreshes the pending-items gauges from the stored queue.
func (s *SyncService) publishCounts(ctx context.Context, userID string) {
	counts, err := s.Queue.PendingCounts(ctx, userID)
	if err != nil {
		return
	}
	PublishPendingCounts(counts)
}

// PublishPendingCounts updates the pending-items gauges; wired as the
// queue's OnChange callback so the indicator tracks every mutation.
func PublishPendingCounts(counts domain.PendingCounts) {
	pendingItems.WithLabelValues(string(domain.KindContact)).Set(float64(counts.Contacts))
	pendingItems.WithLabelValues(string(domain.KindEvent)).Set(float64(counts.Events))
	pendingItems.WithLabelValues(string(domain.KindTag)).Set(float64(counts.Tags))
}

// familyFor maps a kind to its cache resource family.
func familyFor(kind domain.Kind) string {
	switch kind {
	case domain.KindContact:
		return "contacts"
	case domain.KindEvent:
		return "events"
	default:
		return "tags"
	}
}

func decodeMedia(p domain.Payload) ([]remote.Media, error) {
	if len(p.Attachments) == 0 {
		return nil, nil
	}
	buffers, err := codec.DecodeAll(p.Attachments)
	if err != nil {
		return nil, err
	}
	media := make([]remote.Media, 0, len(buffers))
	for i, att := range p.Attachments {
		media = append(media, remote.Media{Name: att.Name, MIMEType: att.MIMEType, Data: buffers[i]})
	}
	return media, nil
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
