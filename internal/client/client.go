package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linksentry/linksentry/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL string, apiKey string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) Scan(ctx context.Context, candidate string) (types.Verdict, error) {
	var out types.Verdict
	reqBody := map[string]any{"candidate": candidate}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/scan", nil, reqBody, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) History(ctx context.Context) ([]types.Verdict, error) {
	var out struct {
		Verdicts []types.Verdict `json:"verdicts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/history", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Verdicts, nil
}

func (c *Client) GetVerdict(ctx context.Context, candidate string) (types.Verdict, error) {
	q := url.Values{}
	q.Set("candidate", candidate)
	var out types.Verdict
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/history/verdict", q, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) DeleteVerdict(ctx context.Context, candidate string) error {
	q := url.Values{}
	q.Set("candidate", candidate)
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/history/verdict", q, nil, nil)
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/history", nil, nil, nil)
}

type ReconcileResult struct {
	Changed  bool            `json:"changed"`
	Verdicts []types.Verdict `json:"verdicts"`
}

func (c *Client) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var out ReconcileResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/history/reconcile", nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) Favourites(ctx context.Context) ([]types.Verdict, error) {
	var out struct {
		Favourites []types.Verdict `json:"favourites"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/favourites", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Favourites, nil
}

func (c *Client) AddFavourite(ctx context.Context, candidate string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/favourites", nil, map[string]any{"candidate": candidate}, nil)
}

func (c *Client) RemoveFavourite(ctx context.Context, candidate string) error {
	q := url.Values{}
	q.Set("candidate", candidate)
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/favourites", q, nil, nil)
}

// StreamEvents opens the server's event stream. The caller reads SSE frames
// from the returned body and closes it when done.
func (c *Client) StreamEvents(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return nil, err
	}
	c.addAuth(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return nil, fmt.Errorf("stream events: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	c.addAuth(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
