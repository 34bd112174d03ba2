package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the default Client implementation over a JSON HTTP API.
// Attachments are sent inline as base64 fields of the JSON body; the
// engine hands them over as raw bytes and HTTPClient owns the wire shape.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewHTTPClient builds a client with a bounded request timeout. The
// timeout is the transport's own; the drain additionally wraps each
// dispatch in a per-item context deadline.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var _ Client = (*HTTPClient)(nil)

// CreateContact posts a new contact.
func (c *HTTPClient) CreateContact(ctx context.Context, p Payload) (*Result, error) {
	return c.mutate(ctx, http.MethodPost, "/contacts", p)
}

// UpdateContact updates an existing contact.
func (c *HTTPClient) UpdateContact(ctx context.Context, id string, p Payload) (*Result, error) {
	return c.mutate(ctx, http.MethodPut, "/contacts/"+id, p)
}

// CreateEvent posts a new event.
func (c *HTTPClient) CreateEvent(ctx context.Context, p Payload) (*Result, error) {
	return c.mutate(ctx, http.MethodPost, "/events", p)
}

// UpdateEvent updates an existing event.
func (c *HTTPClient) UpdateEvent(ctx context.Context, id string, p Payload) (*Result, error) {
	return c.mutate(ctx, http.MethodPut, "/events/"+id, p)
}

// CreateTag posts a new tag.
func (c *HTTPClient) CreateTag(ctx context.Context, p Payload) (*Result, error) {
	return c.mutate(ctx, http.MethodPost, "/tags", p)
}

// UpdateTag updates an existing tag. Hide is expressed by the caller as an
// update with the visibility field cleared.
func (c *HTTPClient) UpdateTag(ctx context.Context, id string, p Payload) (*Result, error) {
	return c.mutate(ctx, http.MethodPut, "/tags/"+id, p)
}

// DeleteTag removes a tag.
func (c *HTTPClient) DeleteTag(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tags/"+id, nil)
	return err
}

// Get performs a read and returns the raw JSON body.
func (c *HTTPClient) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Ping probes the API health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	return err
}

func (c *HTTPClient) mutate(ctx context.Context, method, path string, p Payload) (*Result, error) {
	body := make(map[string]any, len(p.Fields)+1)
	for k, v := range p.Fields {
		body[k] = v
	}
	if len(p.Media) > 0 {
		media := make([]map[string]any, 0, len(p.Media))
		for _, m := range p.Media {
			media = append(media, map[string]any{
				"name":      m.Name,
				"mime_type": m.MIMEType,
				"data":      base64.StdEncoding.EncodeToString(m.Data),
			})
		}
		body["media"] = media
	}

	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	var res Result
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, ApplicationError("decode response", err)
		}
	}
	return &res, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, ApplicationError("encode request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, ApplicationError("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, NetworkError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, NetworkError("read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		// Server-side trouble: worth retrying on a later drain.
		return nil, NetworkError(fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode), nil)
	default:
		// 4xx: the request itself is unacceptable; retrying cannot help.
		return nil, ApplicationError(fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode), nil)
	}
}
