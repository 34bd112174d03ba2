package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-contact-sync/internal/cache"
	"github.com/tbourn/go-contact-sync/internal/domain"
	"github.com/tbourn/go-contact-sync/internal/queue"
	"github.com/tbourn/go-contact-sync/internal/remote"
	"github.com/tbourn/go-contact-sync/internal/repo"
)

// call records one dispatched remote invocation.
type call struct {
	Method  string
	ID      string
	Payload remote.Payload
}

// fakeClient is a scriptable remote.Client. Each mutating method consults
// fail to decide the outcome and appends to calls.
type fakeClient struct {
	calls []call

	// fail maps a method name ("CreateContact", ...) to the error every
	// call of that method returns. Absent methods succeed.
	fail map[string]error

	getResponses map[string]json.RawMessage
	pingErr      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{fail: map[string]error{}, getResponses: map[string]json.RawMessage{}}
}

func (f *fakeClient) record(method, id string, p remote.Payload) error {
	f.calls = append(f.calls, call{Method: method, ID: id, Payload: p})
	return f.fail[method]
}

func (f *fakeClient) CreateContact(_ context.Context, p remote.Payload) (*remote.Result, error) {
	return &remote.Result{ID: "c-new"}, f.record("CreateContact", "", p)
}

func (f *fakeClient) UpdateContact(_ context.Context, id string, p remote.Payload) (*remote.Result, error) {
	return &remote.Result{ID: id}, f.record("UpdateContact", id, p)
}

func (f *fakeClient) CreateEvent(_ context.Context, p remote.Payload) (*remote.Result, error) {
	return &remote.Result{ID: "e-new"}, f.record("CreateEvent", "", p)
}

func (f *fakeClient) UpdateEvent(_ context.Context, id string, p remote.Payload) (*remote.Result, error) {
	return &remote.Result{ID: id}, f.record("UpdateEvent", id, p)
}

func (f *fakeClient) CreateTag(_ context.Context, p remote.Payload) (*remote.Result, error) {
	return &remote.Result{ID: "t-new"}, f.record("CreateTag", "", p)
}

func (f *fakeClient) UpdateTag(_ context.Context, id string, p remote.Payload) (*remote.Result, error) {
	return &remote.Result{ID: id}, f.record("UpdateTag", id, p)
}

func (f *fakeClient) DeleteTag(_ context.Context, id string) error {
	return f.record("DeleteTag", id, remote.Payload{})
}

func (f *fakeClient) Get(_ context.Context, path string) (json.RawMessage, error) {
	f.calls = append(f.calls, call{Method: "Get", ID: path})
	if err, ok := f.fail["Get"]; ok && err != nil {
		return nil, err
	}
	if body, ok := f.getResponses[path]; ok {
		return body, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeClient) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeClient) methods() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func newServiceStore(t *testing.T) *repo.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewStore(db)
}

type syncFixture struct {
	store  *repo.Store
	queue  *queue.Queue
	cache  *cache.Cache
	client *fakeClient
	sync   *SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	store := newServiceStore(t)
	q := queue.NewQueue(store)
	c := cache.New(store)
	client := newFakeClient()
	s := NewSyncService(store, q, c, client, func() bool { return true })
	return &syncFixture{store: store, queue: q, cache: c, client: client, sync: s}
}

func TestDrain_ProcessesKindsInFixedOrder(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// Enqueued interleaved: contact, event, tag, contact. The drain must
	// dispatch both contacts, then the event, then the tag.
	f.queue.Enqueue(ctx, "u1", domain.KindContact, domain.OpCreate, domain.Payload{}, "")
	f.queue.Enqueue(ctx, "u1", domain.KindEvent, domain.OpCreate, domain.Payload{}, "")
	f.queue.Enqueue(ctx, "u1", domain.KindTag, domain.OpCreate, domain.Payload{}, "")
	f.queue.Enqueue(ctx, "u1", domain.KindContact, domain.OpUpdate, domain.Payload{}, "c7")

	report, err := f.sync.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Synced != 4 || report.Dropped != 0 || report.Retained != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	want := []string{"CreateContact", "UpdateContact", "CreateEvent", "CreateTag"}
	got := f.client.methods()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}

	items, _ := f.queue.List(ctx, "u1")
	if len(items) != 0 {
		t.Fatalf("queue should be empty after full sync: %+v", items)
	}
}

func TestDrain_RetriableFailureIncrementsRetryCount(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.queue.Enqueue(ctx, "u1", domain.KindTag, domain.OpUpdate,
		domain.Payload{Fields: map[string]any{"name": "work"}}, "t1")
	f.client.fail["UpdateTag"] = remote.NetworkError("server unreachable", nil)

	// Two consecutive drains both fail at the transport level.
	for i := 0; i < 2; i++ {
		if _, err := f.sync.Drain(ctx, "u1"); err != nil {
			t.Fatalf("Drain %d: %v", i, err)
		}
	}

	items, _ := f.queue.List(ctx, "u1")
	if len(items) != 1 {
		t.Fatalf("item must survive retriable failures: %+v", items)
	}
	if items[0].RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", items[0].RetryCount)
	}

	// Once the remote recovers, the item syncs and leaves the queue.
	delete(f.client.fail, "UpdateTag")
	report, err := f.sync.Drain(ctx, "u1")
	if err != nil || report.Synced != 1 {
		t.Fatalf("recovery drain = (%+v, %v)", report, err)
	}
	if items, _ := f.queue.List(ctx, "u1"); len(items) != 0 {
		t.Fatalf("queue not empty after recovery: %+v", items)
	}
}

func TestDrain_RetryCeilingDropsItem(t *testing.T) {
	f := newSyncFixture(t)
	f.sync.RetryCeiling = 3
	ctx := context.Background()

	f.queue.Enqueue(ctx, "u1", domain.KindEvent, domain.OpCreate, domain.Payload{}, "")
	f.client.fail["CreateEvent"] = remote.NetworkError("timeout", nil)

	var last Report
	for i := 0; i < 3; i++ {
		last, _ = f.sync.Drain(ctx, "u1")
	}
	if last.Dropped != 1 {
		t.Fatalf("third failure should drop at ceiling 3: %+v", last)
	}
	if items, _ := f.queue.List(ctx, "u1"); len(items) != 0 {
		t.Fatalf("dropped item still queued: %+v", items)
	}
}

func TestDrain_TerminalRejectionDropsImmediately(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.queue.Enqueue(ctx, "u1", domain.KindContact, domain.OpCreate,
		domain.Payload{Fields: map[string]any{"name": ""}}, "")
	f.client.fail["CreateContact"] = remote.ApplicationError("validation failed", nil)

	report, err := f.sync.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Dropped != 1 || report.Retained != 0 {
		t.Fatalf("terminal rejection should drop on first attempt: %+v", report)
	}
	if items, _ := f.queue.List(ctx, "u1"); len(items) != 0 {
		t.Fatalf("rejected item still queued: %+v", items)
	}
}

func TestDrain_RefusedWhileOffline(t *testing.T) {
	f := newSyncFixture(t)
	f.sync.Online = func() bool { return false }

	if _, err := f.sync.Drain(context.Background(), "u1"); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}

func TestDrain_SingleFlight(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// A fresh in-progress flag refuses a second drain.
	if err := f.store.Set(ctx, flagKey, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		t.Fatalf("plant flag: %v", err)
	}
	if _, err := f.sync.Drain(ctx, "u1"); !errors.Is(err, ErrDrainInProgress) {
		t.Fatalf("expected ErrDrainInProgress, got %v", err)
	}
	if !f.sync.Syncing(ctx) {
		t.Fatal("Syncing should report true under a fresh flag")
	}
}

func TestDrain_OverridesStaleFlag(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// Flag older than FlagTTL: presumed left behind by a crashed drain.
	stale := time.Now().UTC().Add(-f.sync.FlagTTL - time.Minute)
	if err := f.store.Set(ctx, flagKey, stale.Format(time.RFC3339Nano)); err != nil {
		t.Fatalf("plant flag: %v", err)
	}
	if f.sync.Syncing(ctx) {
		t.Fatal("Syncing should report false for a stale flag")
	}

	f.queue.Enqueue(ctx, "u1", domain.KindContact, domain.OpCreate, domain.Payload{}, "")
	report, err := f.sync.Drain(ctx, "u1")
	if err != nil || report.Synced != 1 {
		t.Fatalf("drain over stale flag = (%+v, %v)", report, err)
	}
	// The flag is released when the drain ends.
	if _, err := f.store.Get(ctx, flagKey); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("flag should be cleared, got %v", err)
	}
}

func TestDrain_InvalidatesCacheForSyncedFamilies(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// The user saw a cached contact list while offline; after the queued
	// contact create syncs, that list is stale and must be invalidated.
	f.cache.Set(ctx, "u1", "/api/contacts", json.RawMessage(`[]`))
	f.cache.Set(ctx, "u1", "/api/events", json.RawMessage(`[]`))

	f.queue.Enqueue(ctx, "u1", domain.KindContact, domain.OpCreate,
		domain.Payload{Fields: map[string]any{"name": "Ada Lovelace"}}, "")

	refreshed := map[domain.Kind]int{}
	f.sync.RefreshHooks = map[domain.Kind]func(){
		domain.KindContact: func() { refreshed[domain.KindContact]++ },
		domain.KindEvent:   func() { refreshed[domain.KindEvent]++ },
	}

	if _, err := f.sync.Drain(ctx, "u1"); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if _, ok := f.cache.Get(ctx, "u1", "/api/contacts"); ok {
		t.Fatal("contacts cache should be invalidated after a synced contact")
	}
	if _, ok := f.cache.Get(ctx, "u1", "/api/events"); !ok {
		t.Fatal("events cache must survive a contacts-only drain")
	}
	if refreshed[domain.KindContact] != 1 || refreshed[domain.KindEvent] != 0 {
		t.Fatalf("unexpected refresh hook calls: %v", refreshed)
	}
}

func TestDrain_HideDispatchesAsInvisibleUpdate(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.queue.Enqueue(ctx, "u1", domain.KindTag, domain.OpHide,
		domain.Payload{Fields: map[string]any{"name": "archive"}}, "t3")

	if _, err := f.sync.Drain(ctx, "u1"); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(f.client.calls) != 1 {
		t.Fatalf("calls = %v", f.client.methods())
	}
	got := f.client.calls[0]
	if got.Method != "UpdateTag" || got.ID != "t3" {
		t.Fatalf("hide should dispatch as UpdateTag on the target: %+v", got)
	}
	if got.Payload.Fields["visible"] != false {
		t.Fatalf("hide payload must clear visibility: %+v", got.Payload.Fields)
	}
	if got.Payload.Fields["name"] != "archive" {
		t.Fatalf("hide payload must keep the original fields: %+v", got.Payload.Fields)
	}
}

func TestDrain_MissingTargetIsTerminal(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// An update without a target id can never succeed remotely.
	f.queue.Enqueue(ctx, "u1", domain.KindContact, domain.OpUpdate, domain.Payload{}, "")

	report, err := f.sync.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Dropped != 1 {
		t.Fatalf("missing target should drop: %+v", report)
	}
	if len(f.client.calls) != 0 {
		t.Fatalf("no remote call expected: %v", f.client.methods())
	}
}

func TestDrain_MixedOutcomeReportAndSurvivorOrder(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// Contact syncs, event retries, tag delete is rejected terminally.
	f.queue.Enqueue(ctx, "u1", domain.KindContact, domain.OpCreate, domain.Payload{}, "")
	first, _ := f.queue.Enqueue(ctx, "u1", domain.KindEvent, domain.OpCreate, domain.Payload{}, "")
	second, _ := f.queue.Enqueue(ctx, "u1", domain.KindEvent, domain.OpUpdate, domain.Payload{}, "e2")
	f.queue.Enqueue(ctx, "u1", domain.KindTag, domain.OpDelete, domain.Payload{}, "t1")

	f.client.fail["CreateEvent"] = remote.NetworkError("timeout", nil)
	f.client.fail["UpdateEvent"] = remote.NetworkError("timeout", nil)
	f.client.fail["DeleteTag"] = remote.ApplicationError("already deleted", nil)

	report, err := f.sync.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Synced != 1 || report.Dropped != 1 || report.Retained != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// Survivors keep their original relative order.
	items, _ := f.queue.List(ctx, "u1")
	if len(items) != 2 || items[0].ID != first.ID || items[1].ID != second.ID {
		t.Fatalf("unexpected survivors: %+v", items)
	}
}
