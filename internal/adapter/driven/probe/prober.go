// Package probe implements the Prober port over net/http.
package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prober = (*HTTPProber)(nil)

// Codespace front doors answer bare clients differently from browsers, so
// probes present themselves as one.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
}

// maxDrain bounds how much of a response body is read before closing.
const maxDrain = 64 << 10

// HTTPProber issues single GET requests. Redirects are followed. TLS
// verification is relaxed for secondary endpoints only, since tunnel hosts
// often present certificates for a different name.
type HTTPProber struct {
	authoritative *http.Client
	secondary     *http.Client
}

// NewHTTPProber creates a prober with separate transports per endpoint kind.
func NewHTTPProber() *HTTPProber {
	insecure := http.DefaultTransport.(*http.Transport).Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // secondary tunnel endpoints only.

	return &HTTPProber{
		authoritative: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		secondary:     &http.Client{Transport: insecure},
	}
}

// NewHTTPProberWithClient uses client for both endpoint kinds.
// This constructor is intended for testing.
func NewHTTPProberWithClient(client *http.Client) *HTTPProber {
	return &HTTPProber{authoritative: client, secondary: client}
}

// Probe performs one GET against ep bounded by timeout. It never returns an
// error; failures are reported in the outcome.
func (p *HTTPProber) Probe(ctx context.Context, ep model.Endpoint, timeout time.Duration) model.ProbeOutcome {
	start := time.Now()
	out := model.ProbeOutcome{Endpoint: ep}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		return out
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	client := p.authoritative
	if ep.Kind == model.EndpointSecondary {
		client = p.secondary
	}

	resp, err := client.Do(req)
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err
		return out
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	out.StatusCode = resp.StatusCode
	return out
}
