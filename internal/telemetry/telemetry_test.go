package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveProviderCall(t *testing.T) {
	before := testutil.ToFloat64(providerCalls.WithLabelValues("kite", "chain", "error"))
	ObserveProviderCall("kite", "chain", 20*time.Millisecond, fmt.Errorf("timeout"))
	ObserveProviderCall("kite", "chain", 10*time.Millisecond, nil)

	assert.Equal(t, before+1, testutil.ToFloat64(providerCalls.WithLabelValues("kite", "chain", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(providerCalls.WithLabelValues("kite", "chain", "ok")), 1.0)
}

func TestCountersAndGauges(t *testing.T) {
	Skipped("scope", "ScopeViolation")
	assert.GreaterOrEqual(t, testutil.ToFloat64(skips.WithLabelValues("scope", "ScopeViolation")), 1.0)

	SetCircuitOpen("llm", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(circuitOpen.WithLabelValues("llm")))
	SetCircuitOpen("llm", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitOpen.WithLabelValues("llm")))

	SetMarginUtilization(0.42)
	assert.Equal(t, 0.42, testutil.ToFloat64(marginUtilization))
}
