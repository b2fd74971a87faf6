// Package mcstatus implements the GameStatusChecker port against the public
// mcstatus.io API.
package mcstatus

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GameStatusChecker = (*Client)(nil)

const (
	// DefaultBaseURL is the public mcstatus.io v2 API.
	DefaultBaseURL = "https://api.mcstatus.io/v2"
	defaultPort    = "25565"
	requestTimeout = 10 * time.Second
)

// Client queries Java edition server status.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a Client. An empty baseURL uses DefaultBaseURL.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// Check returns the status of the server at address ("host" or "host:port").
// An offline server is not an error.
func (c *Client) Check(ctx context.Context, address string) (*model.GameServerStatus, error) {
	addr := normalizeAddress(address)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/java/"+url.PathEscape(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("building status request for %s: %w", addr, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying status for %s: %w", addr, err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying status for %s: status %d", addr, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading status for %s: %w", addr, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("status for %s: invalid JSON", addr)
	}

	doc := gjson.ParseBytes(body)
	status := &model.GameServerStatus{
		Address: addr,
		Online:  doc.Get("online").Bool(),
	}
	if !status.Online {
		return status, nil
	}

	status.PlayersOnline = int(doc.Get("players.online").Int())
	status.PlayersMax = int(doc.Get("players.max").Int())
	status.Version = doc.Get("version.name_clean").String()
	status.MOTD = doc.Get("motd.clean").String()
	status.LatencyMS = int(latency.Milliseconds())
	if doc.Get("icon").String() != "" {
		status.IconURL = c.baseURL + "/icon/" + url.PathEscape(addr)
	}
	return status, nil
}

// normalizeAddress appends the default port when address has none.
func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, defaultPort)
}
