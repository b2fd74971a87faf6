package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

func TestCollector_RecordCampaign(t *testing.T) {
	c := NewCollector()

	c.RecordCampaign(model.WakeResult{Outcome: model.WakeReady, Attempts: 3, Elapsed: 20 * time.Second})
	c.RecordCampaign(model.WakeResult{Outcome: model.WakeReady, Attempts: 1, Elapsed: 5 * time.Second})
	c.RecordCampaign(model.WakeResult{Outcome: model.WakeTimedOut, Attempts: 12, Elapsed: 3 * time.Minute})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.campaigns.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.campaigns.WithLabelValues("timed_out")))
}

func TestCollector_RecordAction(t *testing.T) {
	c := NewCollector()

	c.RecordAction("start", nil)
	c.RecordAction("start", errors.New("boom"))
	c.RecordAction("stop", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("start", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("start", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("stop", "ok")))
}

func TestCollector_Registers(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector()
	require.NoError(t, reg.Register(c))

	c.RecordAction("stop", nil)

	expected := `
# HELP spacewake_wake_actions_total Control actions by name and result
# TYPE spacewake_wake_actions_total counter
spacewake_wake_actions_total{action="stop",result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "spacewake_wake_actions_total"))
}
