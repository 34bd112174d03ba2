// Package queue implements the persistent operation queue: an ordered list
// of pending mutations recorded while the remote API is unreachable, stored
// as a single JSON document per user inside the durable store. Insertion
// order is significant — it defines replay order for the sync drain.
//
// The queue holds no in-memory copy of its items; every operation re-reads
// the stored list, mutates it, and writes the full list back. That keeps
// independent callers (a second process on the same profile, tests, the
// drain loop) observing one consistent view at the cost of a read per call.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-contact-sync/internal/codec"
	"github.com/tbourn/go-contact-sync/internal/domain"
	"github.com/tbourn/go-contact-sync/internal/repo"
)

// ErrInvalidOperation is returned when an operation is not valid for the
// given kind (e.g. deleting a contact). This is a programmer error at the
// call site, not an expected runtime condition.
var ErrInvalidOperation = errors.New("operation not valid for kind")

// keyPrefix versions the stored representation; bump on incompatible
// changes to the QueueItem JSON shape.
const keyPrefix = "queue:v1:"

// RawAttachment is a not-yet-encoded binary payload passed to Enqueue.
type RawAttachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Queue provides durable enqueue/remove/list operations over the stored
// per-user item list. All methods take the active user identifier
// explicitly; the queue never consults ambient session state.
type Queue struct {
	Store *repo.Store

	// OnChange, when set, is invoked with fresh pending counts after every
	// successful mutation of the stored list. Used to keep the UI-facing
	// pending-count indicator and metrics current.
	OnChange func(userID string, counts domain.PendingCounts)
}

// NewQueue constructs a Queue over the given store.
func NewQueue(store *repo.Store) *Queue { return &Queue{Store: store} }

func storeKey(userID string) string { return keyPrefix + userID }

// Enqueue records a pending mutation. Binary attachments are encoded into
// their text-safe stored form here; contact display names are normalized to
// NFC so later equality checks against server data are byte-stable. A
// persistence failure is returned to the caller — an offline save that was
// never written must not appear successful.
func (q *Queue) Enqueue(ctx context.Context, userID string, kind domain.Kind, op domain.Operation, payload domain.Payload, targetID string, attachments ...RawAttachment) (*domain.QueueItem, error) {
	if !domain.ValidOperation(kind, op) {
		return nil, fmt.Errorf("%w: %s %s", ErrInvalidOperation, kind, op)
	}
	if kind == domain.KindContact {
		normalizeName(payload.Fields)
	}
	for _, att := range attachments {
		payload.Attachments = append(payload.Attachments, codec.EncodeAttachment(att.Name, att.MIMEType, att.Data))
	}

	item := domain.QueueItem{
		ID:         fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8]),
		Kind:       kind,
		Op:         op,
		TargetID:   targetID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	items, err := q.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	items = append(items, item)
	if err := q.save(ctx, userID, items); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("kind", string(kind)).Msg("enqueue: persist failed")
		return nil, err
	}
	return &item, nil
}

// Remove deletes the item with the given id and persists the reduced list.
// Removing an absent id is a no-op.
func (q *Queue) Remove(ctx context.Context, userID, id string) error {
	items, err := q.load(ctx, userID)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	return q.save(ctx, userID, kept)
}

// List returns the current items in insertion order.
func (q *Queue) List(ctx context.Context, userID string) ([]domain.QueueItem, error) {
	return q.load(ctx, userID)
}

// Replace overwrites the stored list in a single write. The drain loop uses
// it to persist all retry-count updates of one cycle in one store write
// instead of one write per failed item.
func (q *Queue) Replace(ctx context.Context, userID string, items []domain.QueueItem) error {
	return q.save(ctx, userID, items)
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context, userID string) error {
	return q.save(ctx, userID, nil)
}

// PendingCounts returns the per-kind breakdown of the current queue.
func (q *Queue) PendingCounts(ctx context.Context, userID string) (domain.PendingCounts, error) {
	var counts domain.PendingCounts
	items, err := q.load(ctx, userID)
	if err != nil {
		return counts, err
	}
	for _, it := range items {
		counts.Add(it.Kind)
	}
	return counts, nil
}

func (q *Queue) load(ctx context.Context, userID string) ([]domain.QueueItem, error) {
	raw, err := q.Store.Get(ctx, storeKey(userID))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []domain.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("corrupt queue for user %s: %w", userID, err)
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, userID string, items []domain.QueueItem) error {
	if len(items) == 0 {
		if err := q.Store.Remove(ctx, storeKey(userID)); err != nil {
			return err
		}
		q.notify(ctx, userID)
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := q.Store.Set(ctx, storeKey(userID), string(raw)); err != nil {
		return err
	}
	q.notify(ctx, userID)
	return nil
}

func (q *Queue) notify(ctx context.Context, userID string) {
	if q.OnChange == nil {
		return
	}
	counts, err := q.PendingCounts(ctx, userID)
	if err != nil {
		return
	}
	q.OnChange(userID, counts)
}

// normalizeName NFC-normalizes the display name field so offline edits and
// server responses compare equal regardless of input method composition.
func normalizeName(fields map[string]any) {
	if fields == nil {
		return
	}
	if name, ok := fields["name"].(string); ok {
		fields["name"] = norm.NFC.String(name)
	}
}
