package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// KeepAlive periodically requests the bot's own public health endpoint so
// hosting platforms that idle inactive services keep it running.
type KeepAlive struct {
	prober   driven.Prober
	url      string
	delay    time.Duration
	interval time.Duration
	timeout  time.Duration
}

// NewKeepAlive creates a KeepAlive pinging url every interval after an
// initial delay.
func NewKeepAlive(prober driven.Prober, url string, delay, interval time.Duration) *KeepAlive {
	return &KeepAlive{
		prober:   prober,
		url:      url,
		delay:    delay,
		interval: interval,
		timeout:  10 * time.Second,
	}
}

// Start blocks until ctx is canceled. Failed pings are only logged.
func (k *KeepAlive) Start(ctx context.Context) {
	if !sleepCtx(ctx, k.delay) {
		return
	}

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		k.Ping(ctx)
		select {
		case <-ctx.Done():
			slog.Info("keep-alive stopped")
			return
		case <-ticker.C:
		}
	}
}

// Ping requests the health endpoint once and reports whether it answered.
func (k *KeepAlive) Ping(ctx context.Context) bool {
	out := k.prober.Probe(ctx, model.Endpoint{URL: k.url, Kind: model.EndpointAuthoritative}, k.timeout)
	if out.Class() != model.ProbeReachable {
		slog.Warn("keep-alive ping failed", "url", k.url, "status", out.StatusCode, "error", out.Err)
		return false
	}
	slog.Debug("keep-alive ping", "url", k.url, "status", out.StatusCode, "duration", out.Duration)
	return true
}
