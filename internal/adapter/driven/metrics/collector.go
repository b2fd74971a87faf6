// Package metrics implements the CampaignRecorder port with Prometheus
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

const (
	namespace = "spacewake"
	subsystem = "wake"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.CampaignRecorder = (*Collector)(nil)
	_ prometheus.Collector    = (*Collector)(nil)
)

// Collector provides:
//   - spacewake_wake_campaigns_total{outcome}
//   - spacewake_wake_campaign_duration_seconds{outcome}
//   - spacewake_wake_campaign_attempts{outcome}
//   - spacewake_wake_actions_total{action,result}
type Collector struct {
	campaigns *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	attempts  *prometheus.HistogramVec
	actions   *prometheus.CounterVec
}

// NewCollector creates an unregistered Collector.
func NewCollector() *Collector {
	return &Collector{
		campaigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "campaigns_total",
			Help:      "Finished wake campaigns by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "campaign_duration_seconds",
			Help:      "Wall time from start request to terminal state",
			Buckets:   prometheus.LinearBuckets(15, 15, 16),
		}, []string{"outcome"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "campaign_attempts",
			Help:      "Probe attempts used per campaign",
			Buckets:   prometheus.LinearBuckets(1, 1, 15),
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actions_total",
			Help:      "Control actions by name and result",
		}, []string{"action", "result"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.campaigns.Describe(ch)
	c.duration.Describe(ch)
	c.attempts.Describe(ch)
	c.actions.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.campaigns.Collect(ch)
	c.duration.Collect(ch)
	c.attempts.Collect(ch)
	c.actions.Collect(ch)
}

// RecordCampaign observes a finished wake campaign.
func (c *Collector) RecordCampaign(result model.WakeResult) {
	outcome := string(result.Outcome)
	c.campaigns.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(result.Elapsed.Seconds())
	c.attempts.WithLabelValues(outcome).Observe(float64(result.Attempts))
}

// RecordAction counts a control action; result is "ok" or "error".
func (c *Collector) RecordAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.actions.WithLabelValues(action, result).Inc()
}
