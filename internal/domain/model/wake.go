package model

import (
	"net/http"
	"time"
)

// Endpoint is one candidate URL a wake campaign probes.
type Endpoint struct {
	URL  string
	Kind EndpointKind
}

// ProbeClass buckets a single probe result for the wake state machine.
type ProbeClass int

const (
	// ProbeReachable is any 2xx or 3xx response.
	ProbeReachable ProbeClass = iota
	// ProbeBooting is a 502 or 503, the expected "still starting" answer.
	ProbeBooting
	// ProbeUnexpected is any other HTTP status.
	ProbeUnexpected
	// ProbeUnreachable is a timeout or connection failure.
	ProbeUnreachable
)

func (c ProbeClass) String() string {
	switch c {
	case ProbeReachable:
		return "reachable"
	case ProbeBooting:
		return "booting"
	case ProbeUnexpected:
		return "unexpected"
	case ProbeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ProbeOutcome is the raw result of one HTTP probe. Exactly one of
// StatusCode and Err is meaningful.
type ProbeOutcome struct {
	Endpoint   Endpoint
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Class classifies the outcome.
func (o ProbeOutcome) Class() ProbeClass {
	switch {
	case o.Err != nil || o.StatusCode == 0:
		return ProbeUnreachable
	case o.StatusCode >= 200 && o.StatusCode < 400:
		return ProbeReachable
	case o.StatusCode == http.StatusBadGateway || o.StatusCode == http.StatusServiceUnavailable:
		return ProbeBooting
	default:
		return ProbeUnexpected
	}
}

// WakeParams are the per-campaign budgets.
type WakeParams struct {
	MaxAttempts  int
	TotalTimeout time.Duration
}

// Slice is the time allotted to each attempt.
func (p WakeParams) Slice() time.Duration {
	if p.MaxAttempts <= 0 {
		return p.TotalTimeout
	}
	return p.TotalTimeout / time.Duration(p.MaxAttempts)
}

// WakeResult is what a finished campaign reports back.
type WakeResult struct {
	CampaignID string
	Outcome    WakeOutcome
	Message    string
	Attempts   int
	// ReachedVia is the endpoint that first answered, if any did.
	ReachedVia *Endpoint
	ReachedAt  int
	LastState  ResourceState
	Elapsed    time.Duration
	// DiscoveredURL is the authoritative URL learned from a describe call,
	// so the caller can cache it on the binding.
	DiscoveredURL string
}

// Success reports whether the campaign confirmed full readiness.
func (r WakeResult) Success() bool {
	return r.Outcome == WakeReady
}
