package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tbourn/go-contact-sync/internal/cache"
	"github.com/tbourn/go-contact-sync/internal/remote"
)

func newReadFixture(t *testing.T, online bool) (*ReadService, *cache.Cache, *fakeClient) {
	t.Helper()
	c := cache.New(newServiceStore(t))
	client := newFakeClient()
	r := NewReadService(c, client, func() bool { return online }, 1)
	return r, c, client
}

func TestFetch_MissGoesLiveAndFillsCache(t *testing.T) {
	r, c, client := newReadFixture(t, false)
	ctx := context.Background()
	client.getResponses["/api/contacts"] = json.RawMessage(`[{"name":"Ada Lovelace"}]`)

	got, err := r.Fetch(ctx, "u1", "/api/contacts")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != `[{"name":"Ada Lovelace"}]` {
		t.Fatalf("unexpected body: %s", got)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected one live call, got %v", client.methods())
	}
	if _, ok := c.Get(ctx, "u1", "/api/contacts"); !ok {
		t.Fatal("successful live read should fill the cache")
	}
}

func TestFetch_HitServesCachedWithoutLiveCall(t *testing.T) {
	// Offline keeps the hit path free of background refreshes, so the call
	// count is deterministic.
	r, c, client := newReadFixture(t, false)
	ctx := context.Background()

	c.Set(ctx, "u1", "/api/contacts", json.RawMessage(`[{"name":"cached"}]`))

	got, err := r.Fetch(ctx, "u1", "/api/contacts")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != `[{"name":"cached"}]` {
		t.Fatalf("expected cached body, got %s", got)
	}
	if len(client.calls) != 0 {
		t.Fatalf("cache hit must not call the remote: %v", client.methods())
	}
}

func TestFetch_NonCacheablePathAlwaysGoesLive(t *testing.T) {
	r, c, client := newReadFixture(t, false)
	ctx := context.Background()
	client.getResponses["/api/settings"] = json.RawMessage(`{"theme":"dark"}`)

	for i := 0; i < 2; i++ {
		if _, err := r.Fetch(ctx, "u1", "/api/settings"); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
	}
	if len(client.calls) != 2 {
		t.Fatalf("non-cacheable path must go live every time: %v", client.methods())
	}
	if _, ok := c.Get(ctx, "u1", "/api/settings"); ok {
		t.Fatal("non-cacheable response must not be cached")
	}
}

func TestFetch_RemoteFailurePropagatesOnMiss(t *testing.T) {
	r, c, client := newReadFixture(t, false)
	ctx := context.Background()
	client.fail["Get"] = remote.NetworkError("unreachable", nil)

	if _, err := r.Fetch(ctx, "u1", "/api/contacts"); err == nil {
		t.Fatal("expected remote failure to propagate on a miss")
	}
	if _, ok := c.Get(ctx, "u1", "/api/contacts"); ok {
		t.Fatal("failed read must not poison the cache")
	}
}

func TestAfterMutation_InvalidatesFamily(t *testing.T) {
	r, c, _ := newReadFixture(t, false)
	ctx := context.Background()

	c.Set(ctx, "u1", "/api/events", json.RawMessage(`[]`))
	c.Set(ctx, "u1", "/api/contacts", json.RawMessage(`[]`))

	if err := r.AfterMutation(ctx, "u1", "events"); err != nil {
		t.Fatalf("AfterMutation: %v", err)
	}
	if _, ok := c.Get(ctx, "u1", "/api/events"); ok {
		t.Fatal("mutated family should be invalidated")
	}
	if _, ok := c.Get(ctx, "u1", "/api/contacts"); !ok {
		t.Fatal("unrelated family must survive")
	}
}

func TestAfterMutation_ProfileAlsoInvalidatesPublicProfile(t *testing.T) {
	r, c, _ := newReadFixture(t, false)
	ctx := context.Background()

	c.Set(ctx, "u1", "/api/profile", json.RawMessage(`{}`))
	c.Set(ctx, "u1", "/api/public/u1/profile", json.RawMessage(`{}`))

	if err := r.AfterMutation(ctx, "u1", "profile"); err != nil {
		t.Fatalf("AfterMutation: %v", err)
	}
	if _, ok := c.Get(ctx, "u1", "/api/profile"); ok {
		t.Fatal("profile entry should be invalidated")
	}
	if _, ok := c.Get(ctx, "u1", "/api/public/u1/profile"); ok {
		t.Fatal("public profile entry should be invalidated too")
	}
}
