package api

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
)

func TestMetricsObserveCall(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveCall("getAccount", engine.StateSucceeded, 20*time.Millisecond)
	m.ObserveCall("getAccount", engine.StateTimedOut, 30*time.Second)
	m.ObserveCall("getAccount", engine.StateTimedOut, 30*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallsTotal.WithLabelValues("getAccount", engine.StateSucceeded.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RPCCallsTotal.WithLabelValues("getAccount", engine.StateTimedOut.String())))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RPCCallDuration))
}

func TestMetricsWorkflowEvents(t *testing.T) {
	m := NewMetrics("test")
	sink := gateway.Sinks(m)

	for _, s := range []gateway.WorkflowState{
		gateway.StateStart,
		gateway.StateSourceAccountFetched,
		gateway.StateTransactionBuilt,
		gateway.StateTransactionSigned,
		gateway.StateSubmitted,
		gateway.StateConfirmationPolled,
		gateway.StateDone,
	} {
		sink.Publish(gateway.Event{WorkflowID: "wf-1", State: s})
	}
	sink.Publish(gateway.Event{WorkflowID: "wf-2", State: gateway.StateStart})
	sink.Publish(gateway.Event{WorkflowID: "wf-2", State: gateway.StateFailedAtFetch, Stage: gateway.StageFetch})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowsTotal.WithLabelValues(string(gateway.StateDone))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowsTotal.WithLabelValues(string(gateway.StateFailedAtFetch))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkflowTransitions.WithLabelValues(string(gateway.StateStart))))
	assert.Equal(t, 2, testutil.CollectAndCount(m.WorkflowsTotal))
}

func TestMetricsBindPool(t *testing.T) {
	pool, err := engine.NewPool(engine.PoolConfig{Name: "rpc-pool", CoreWorkers: 2, MaxWorkers: 4, QueueCapacity: 8})
	require.NoError(t, err)
	defer pool.Shutdown()

	m := NewMetrics("test")
	m.BindPool(pool)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[mf.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 12.0, values["test_worker_pool_capacity"])
	assert.Equal(t, 2.0, values["test_worker_pool_workers"])
	assert.Contains(t, values, "test_worker_pool_rejected_total")
}
