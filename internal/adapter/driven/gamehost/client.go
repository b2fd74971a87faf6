// Package gamehost talks to the web server the startup script launches inside
// a codespace. Responses are small JSON documents read with gjson.
package gamehost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.GameHost         = (*Client)(nil)
	_ driven.AddonEventSource = (*Client)(nil)
)

const (
	shortTimeout = 10 * time.Second
	startTimeout = 30 * time.Second
	maxBody      = 1 << 20
)

// ErrNoAddress is returned when the host answered but reported no address.
var ErrNoAddress = errors.New("game host reported no server address")

// Client implements driven.GameHost.
type Client struct {
	http *http.Client
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

// Health succeeds when GET /health answers 200.
func (c *Client) Health(ctx context.Context, baseURL string) error {
	status, _, err := c.do(ctx, http.MethodGet, baseURL, "/health", "", shortTimeout)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("health check: status %d", status)
	}
	return nil
}

// FetchToken reads the bearer token from GET /get_token.
func (c *Client) FetchToken(ctx context.Context, baseURL string) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, baseURL, "/get_token", "", shortTimeout)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("fetch token: status %d", status)
	}
	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return "", errors.New("fetch token: response has no token")
	}
	return token, nil
}

// StartServer posts /minecraft/start. The launcher may already know the
// server address; it is returned when present, "" otherwise.
func (c *Client) StartServer(ctx context.Context, baseURL, token string) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, baseURL, "/minecraft/start", token, startTimeout)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("start server: status %d: %s", status, truncate(body, 200))
	}
	res := gjson.ParseBytes(body)
	if addr := res.Get("estado.ip").String(); addr != "" {
		return addr, nil
	}
	return res.Get("ip").String(), nil
}

// ServerAddress reads the public address from GET /minecraft/ip.
func (c *Client) ServerAddress(ctx context.Context, baseURL, token string) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, baseURL, "/minecraft/ip", token, shortTimeout)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("server address: status %d", status)
	}
	res := gjson.ParseBytes(body)
	if !res.Get("success").Bool() || res.Get("ip").String() == "" {
		return "", ErrNoAddress
	}
	return res.Get("ip").String(), nil
}

// Events reads the pending queue from GET /discord/events. A 404 means the
// addon is not installed and yields no events. Entries without an id or type
// are skipped.
func (c *Client) Events(ctx context.Context, baseURL string) ([]model.AddonEvent, error) {
	status, body, err := c.do(ctx, http.MethodGet, baseURL, "/discord/events", "", shortTimeout)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status != http.StatusOK:
		return nil, fmt.Errorf("events: status %d", status)
	}

	res := gjson.ParseBytes(body)
	if !res.Get("success").Bool() {
		return nil, fmt.Errorf("events: %s", res.Get("error").String())
	}

	var events []model.AddonEvent
	res.Get("events").ForEach(func(_, ev gjson.Result) bool {
		id, typ := ev.Get("id"), ev.Get("event_type").String()
		if !id.Exists() || typ == "" {
			return true
		}
		payload, _ := ev.Get("payload").Value().(map[string]any)
		events = append(events, model.AddonEvent{
			ID:      id.Int(),
			Type:    model.AddonEventType(typ),
			UserID:  ev.Get("user_id").String(),
			Payload: payload,
		})
		return true
	})
	return events, nil
}

// MarkProcessed posts /discord/events/{id}/processed.
func (c *Client) MarkProcessed(ctx context.Context, baseURL string, id int64) error {
	return c.mark(ctx, baseURL, id, "processed", nil)
}

// MarkFailed posts /discord/events/{id}/failed with the reason.
func (c *Client) MarkFailed(ctx context.Context, baseURL string, id int64, reason string) error {
	body, err := sjson.SetBytes([]byte(`{}`), "error_message", reason)
	if err != nil {
		return fmt.Errorf("encoding failure reason: %w", err)
	}
	return c.mark(ctx, baseURL, id, "failed", body)
}

func (c *Client) mark(ctx context.Context, baseURL string, id int64, outcome string, body []byte) error {
	path := "/discord/events/" + strconv.FormatInt(id, 10) + "/" + outcome
	status, resp, err := c.doBody(ctx, http.MethodPost, baseURL, path, "", body, shortTimeout)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("marking event %d %s: status %d: %s", id, outcome, status, truncate(resp, 200))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, baseURL, path, token string, timeout time.Duration) (int, []byte, error) {
	return c.doBody(ctx, method, baseURL, path, token, nil, timeout)
}

func (c *Client) doBody(ctx context.Context, method, baseURL, path, token string, payload []byte, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + path
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	return resp.StatusCode, body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
