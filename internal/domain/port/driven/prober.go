package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

// Prober issues one HTTP request against an endpoint and reports what
// happened. It never retries and never blocks longer than timeout.
type Prober interface {
	Probe(ctx context.Context, ep model.Endpoint, timeout time.Duration) model.ProbeOutcome
}
