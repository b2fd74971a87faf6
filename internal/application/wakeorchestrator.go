package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// WakeConfig holds the per-campaign budgets.
type WakeConfig struct {
	MaxAttempts  int
	TotalTimeout time.Duration
	// Delay is the minimum quiet gap between attempts when the slice allows it.
	Delay time.Duration
	// GraceAttempts is how many attempts a secondary-only success waits for the
	// management API to report Available.
	GraceAttempts int
	// Concurrency caps parallel probes within one attempt.
	Concurrency int
}

// WakeRequest identifies what to wake and where to probe.
type WakeRequest struct {
	Token        string
	ResourceName string
	Candidates   []model.Endpoint
}

// WakeOrchestrator drives a codespace from asleep to verified ready: it asks
// the management API to start the machine, then probes its public endpoints
// in paced attempts until the API confirms Available or the budget runs out.
type WakeOrchestrator struct {
	client   driven.ManagementClient
	prober   driven.Prober
	recorder driven.CampaignRecorder
	cfg      WakeConfig
}

// NewWakeOrchestrator creates a WakeOrchestrator. recorder may be nil.
func NewWakeOrchestrator(client driven.ManagementClient, prober driven.Prober, recorder driven.CampaignRecorder, cfg WakeConfig) *WakeOrchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.GraceAttempts < 0 {
		cfg.GraceAttempts = 0
	}
	return &WakeOrchestrator{client: client, prober: prober, recorder: recorder, cfg: cfg}
}

// Config returns the budgets campaigns run with.
func (o *WakeOrchestrator) Config() WakeConfig {
	return o.cfg
}

// Wake runs one campaign. The error return is reserved for campaigns that
// cannot begin: a start rejected by the API (model.ErrUpstreamRejection) or no
// endpoint to probe (model.ErrConfiguration). Everything else ends in a
// WakeResult whose Outcome tells ready, partially ready and timed out apart.
func (o *WakeOrchestrator) Wake(ctx context.Context, req WakeRequest) (model.WakeResult, error) {
	params := model.WakeParams{MaxAttempts: o.cfg.MaxAttempts, TotalTimeout: o.cfg.TotalTimeout}
	slice := params.Slice()
	start := time.Now()

	// The campaign never outlives its budget by more than one slice.
	ctx, cancel := context.WithDeadline(ctx, start.Add(params.TotalTimeout+slice))
	defer cancel()

	c := &campaign{
		WakeOrchestrator: o,
		req:              req,
		slice:            slice,
		start:            start,
		result: model.WakeResult{
			CampaignID: uuid.NewString(),
			LastState:  model.ResourceStateUnknown,
		},
	}
	c.log = slog.With("campaign_id", c.result.CampaignID, "codespace", req.ResourceName)

	if err := c.requestStart(ctx); err != nil {
		return c.result, err
	}

	endpoints, err := c.endpoints(ctx)
	if err != nil {
		return c.result, err
	}

	c.log.Info("wake campaign started",
		"endpoints", len(endpoints),
		"max_attempts", o.cfg.MaxAttempts,
		"slice", slice,
	)

	result := c.run(ctx, endpoints)
	if o.recorder != nil {
		o.recorder.RecordCampaign(result)
	}
	return result, nil
}

// campaign is the mutable state of one Wake call.
type campaign struct {
	*WakeOrchestrator
	req    WakeRequest
	slice  time.Duration
	start  time.Time
	log    *slog.Logger
	result model.WakeResult

	confirmedReach bool // an authoritative endpoint answered
	secondaryAt    int  // attempt of the first secondary answer, 0 if none
}

// requestStart asks the API to start the codespace, bounded by one slice.
// Already running is fine. A request that outlived its slice may still have
// been accepted, so the campaign probes anyway; any other error aborts it.
func (c *campaign) requestStart(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, c.slice)
	defer cancel()

	err := c.client.Start(startCtx, c.req.Token, c.req.ResourceName)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, driven.ErrAlreadyRunning):
		c.log.Info("codespace already running, probing anyway")
		return nil
	case ctx.Err() == nil && errors.Is(startCtx.Err(), context.DeadlineExceeded):
		c.log.Warn("start request timed out, probing anyway", "timeout", c.slice, "error", err)
		return nil
	default:
		c.log.Warn("start rejected", "error", err)
		return fmt.Errorf("%w: starting %s: %w", model.ErrUpstreamRejection, c.req.ResourceName, err)
	}
}

// endpoints deduplicates the candidates, or describes the codespace to learn
// its URL when there are none. The describe is bounded by one slice.
func (c *campaign) endpoints(ctx context.Context) ([]model.Endpoint, error) {
	endpoints := dedupeEndpoints(c.req.Candidates)
	if len(endpoints) > 0 {
		return endpoints, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.slice)
	defer cancel()

	res, err := c.client.Describe(ctx, c.req.Token, c.req.ResourceName)
	if err != nil {
		return nil, fmt.Errorf("%w: describing %s: %w", model.ErrUpstreamRejection, c.req.ResourceName, err)
	}
	c.result.LastState = res.State
	if res.WebURL == "" {
		return nil, fmt.Errorf("%w: no endpoint known for %s", model.ErrConfiguration, c.req.ResourceName)
	}
	c.result.DiscoveredURL = res.WebURL
	return []model.Endpoint{{URL: res.WebURL, Kind: model.EndpointAuthoritative}}, nil
}

func (c *campaign) run(ctx context.Context, endpoints []model.Endpoint) model.WakeResult {
	probeTimeout := c.slice
	if c.slice > 2*c.cfg.Delay {
		probeTimeout = c.slice - c.cfg.Delay
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if !c.waitUntil(ctx, c.start.Add(time.Duration(attempt-1)*c.slice)) {
			break
		}
		c.result.Attempts = attempt

		if outcome, done := c.attempt(ctx, attempt, endpoints, probeTimeout); done {
			return c.finish(outcome)
		}
	}

	// A campaign that ran out of attempts still spends its whole budget.
	c.waitUntil(ctx, c.start.Add(c.cfg.TotalTimeout))

	if c.confirmedReach || c.secondaryAt > 0 {
		return c.finish(model.WakeReachableUnconfirmed)
	}

	c.refreshState(ctx, probeTimeout)
	return c.finish(model.WakeTimedOut)
}

// attempt probes every endpoint once and decides whether the campaign is over.
func (c *campaign) attempt(ctx context.Context, attempt int, endpoints []model.Endpoint, timeout time.Duration) (model.WakeOutcome, bool) {
	outcomes := c.probeAll(ctx, endpoints, timeout)

	reached := false
	for _, out := range outcomes {
		class := out.Class()
		c.log.Debug("probe",
			"attempt", attempt,
			"url", out.Endpoint.URL,
			"kind", out.Endpoint.Kind,
			"class", class,
			"status", out.StatusCode,
			"duration", out.Duration,
		)
		switch class {
		case model.ProbeReachable:
			reached = true
			c.markReached(attempt, out.Endpoint)
		case model.ProbeUnexpected:
			c.log.Warn("unexpected probe status", "attempt", attempt, "url", out.Endpoint.URL, "status", out.StatusCode)
		}
	}

	if !reached && c.secondaryAt == 0 && !c.confirmedReach {
		return "", false
	}

	// Something answered at some point: only the management API can confirm.
	c.refreshState(ctx, timeout)
	if c.result.LastState == model.ResourceStateAvailable {
		return model.WakeReady, true
	}
	if !c.confirmedReach && c.secondaryAt > 0 && attempt-c.secondaryAt >= c.cfg.GraceAttempts {
		return model.WakeReachableUnconfirmed, true
	}
	return "", false
}

func (c *campaign) probeAll(ctx context.Context, endpoints []model.Endpoint, timeout time.Duration) []model.ProbeOutcome {
	outcomes := make([]model.ProbeOutcome, len(endpoints))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, ep := range endpoints {
		g.Go(func() error {
			outcomes[i] = c.prober.Probe(ctx, ep, timeout)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// markReached records the first answering endpoint. An authoritative answer
// replaces an earlier secondary one.
func (c *campaign) markReached(attempt int, ep model.Endpoint) {
	if ep.Kind == model.EndpointAuthoritative {
		if !c.confirmedReach {
			c.result.ReachedVia = &ep
			c.result.ReachedAt = attempt
		}
		c.confirmedReach = true
		return
	}
	if c.result.ReachedVia == nil {
		c.result.ReachedVia = &ep
		c.result.ReachedAt = attempt
	}
	if c.secondaryAt == 0 {
		c.secondaryAt = attempt
	}
}

// refreshState describes the codespace, bounded by timeout. A failed
// describe keeps the previous state.
func (c *campaign) refreshState(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.client.Describe(ctx, c.req.Token, c.req.ResourceName)
	if err != nil {
		c.log.Warn("describe during wake failed", "error", err)
		return
	}
	c.result.LastState = res.State
	if res.WebURL != "" {
		c.result.DiscoveredURL = res.WebURL
	}
}

// waitUntil sleeps until t. It reports false if ctx ended first.
func (c *campaign) waitUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *campaign) finish(outcome model.WakeOutcome) model.WakeResult {
	c.result.Outcome = outcome
	c.result.Elapsed = time.Since(c.start)
	c.result.Message = wakeMessage(c.result, c.req.ResourceName)

	c.log.Info("wake campaign finished",
		"outcome", outcome,
		"attempts", c.result.Attempts,
		"last_state", c.result.LastState,
		"elapsed", c.result.Elapsed.Round(time.Millisecond),
	)
	return c.result
}

func wakeMessage(r model.WakeResult, name string) string {
	switch r.Outcome {
	case model.WakeReady:
		return fmt.Sprintf("%s is ready (attempt %d, %s)", name, r.ReachedAt, r.Elapsed.Round(time.Second))
	case model.WakeReachableUnconfirmed:
		via := "an endpoint"
		if r.ReachedVia != nil {
			via = r.ReachedVia.URL
		}
		return fmt.Sprintf("%s answered at %s but the API still reports %s; check /status shortly", name, via, r.LastState)
	default:
		return fmt.Sprintf("%s did not respond after %d attempts (%s); last reported state: %s",
			name, r.Attempts, r.Elapsed.Round(time.Second), r.LastState)
	}
}

// dedupeEndpoints drops empty and repeated URLs, ignoring a trailing slash.
// When a URL appears with both kinds it is kept as authoritative.
func dedupeEndpoints(in []model.Endpoint) []model.Endpoint {
	index := map[string]int{}
	var out []model.Endpoint
	for _, ep := range in {
		key := strings.TrimRight(strings.TrimSpace(ep.URL), "/")
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			if ep.Kind == model.EndpointAuthoritative {
				out[i].Kind = model.EndpointAuthoritative
			}
			continue
		}
		if ep.Kind == "" {
			ep.Kind = model.EndpointSecondary
		}
		index[key] = len(out)
		out = append(out, ep)
	}
	return out
}
