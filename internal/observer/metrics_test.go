package observer

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWebhookCounters(t *testing.T) {
	InitMetrics(true)
	before := testutil.ToFloat64(webhooksHandledTotal.WithLabelValues("messages", "duplicate"))
	IncWebhookHandled("messages", "duplicate")
	after := testutil.ToFloat64(webhooksHandledTotal.WithLabelValues("messages", "duplicate"))
	assert.Equal(t, before+1, after)
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	InitMetrics(false)
	defer InitMetrics(true)

	before := testutil.ToFloat64(relayTaskOutcomesTotal.WithLabelValues("c-off", "ack"))
	IncRelayTaskOutcome("c-off", "ack")
	assert.Equal(t, before, testutil.ToFloat64(relayTaskOutcomesTotal.WithLabelValues("c-off", "ack")))
}

func TestEmptyTenantLabel(t *testing.T) {
	InitMetrics(true)
	ObserveDbOperationDuration("insert", "message", "", time.Millisecond, errors.New("x"))
	before := testutil.ToFloat64(attributionTasksSubmittedTotal.WithLabelValues("unknown", "form"))
	IncAttributionSubmitted("", "form")
	assert.Equal(t, before+1, testutil.ToFloat64(attributionTasksSubmittedTotal.WithLabelValues("unknown", "form")))
}
