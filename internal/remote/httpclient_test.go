package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "secret-token", 5*time.Second)
}

func TestHTTPClient_CreateContact_SendsJSONAndAuth(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotPath, gotMethod string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"c42"}`))
	})

	res, err := c.CreateContact(context.Background(), Payload{
		Fields: map[string]any{"name": "Ada Lovelace"},
		Media:  []Media{{Name: "card.png", MIMEType: "image/png", Data: []byte{1, 2, 3}}},
	})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if res.ID != "c42" {
		t.Fatalf("ID = %q", res.ID)
	}
	if gotMethod != http.MethodPost || gotPath != "/contacts" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody["name"] != "Ada Lovelace" {
		t.Fatalf("body = %v", gotBody)
	}

	media, ok := gotBody["media"].([]any)
	if !ok || len(media) != 1 {
		t.Fatalf("media = %v", gotBody["media"])
	}
	item := media[0].(map[string]any)
	if item["data"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("media payload = %v", item)
	}
}

func TestHTTPClient_ServerErrorIsRetriable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateEvent(context.Background(), Payload{})
	if err == nil {
		t.Fatal("expected error")
	}
	var re *Error
	if !errors.As(err, &re) || re.Kind != Network {
		t.Fatalf("5xx should classify as network: %v", err)
	}
	if !IsRetriable(err) {
		t.Fatal("5xx should be retriable")
	}
}

func TestHTTPClient_TooManyRequestsIsRetriable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.UpdateContact(context.Background(), "c1", Payload{})
	if !IsRetriable(err) {
		t.Fatalf("429 should be retriable: %v", err)
	}
}

func TestHTTPClient_ClientErrorIsTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := c.CreateTag(context.Background(), Payload{})
	if err == nil {
		t.Fatal("expected error")
	}
	var re *Error
	if !errors.As(err, &re) || re.Kind != Application {
		t.Fatalf("4xx should classify as application: %v", err)
	}
	if IsRetriable(err) {
		t.Fatal("4xx must not be retriable")
	}
}

func TestHTTPClient_UnreachableHostIsRetriable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", time.Second)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected transport failure")
	} else if !IsRetriable(err) {
		t.Fatalf("transport failure should be retriable: %v", err)
	}
}

func TestHTTPClient_DeleteTagTargetsPath(t *testing.T) {
	var gotPath, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteTag(context.Background(), "t9"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/tags/t9" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestHTTPClient_GetReturnsRawBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"id":"c1"}]`))
	})

	body, err := c.Get(context.Background(), "/contacts")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `[{"id":"c1"}]` {
		t.Fatalf("body = %s", body)
	}
}
