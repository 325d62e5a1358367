package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPopulatesEveryHandle(t *testing.T) {
	reg := New()

	assert.NotNil(t, reg.IngestRecordsTotal)
	assert.NotNil(t, reg.IngestErrorsTotal)
	assert.NotNil(t, reg.IngestBytesTotal)
	assert.NotNil(t, reg.PersistJobsSubmitted)
	assert.NotNil(t, reg.PersistQueueLength)
	assert.NotNil(t, reg.PersistBatchFlushes)
	assert.NotNil(t, reg.PersistBatchFailures)
	assert.NotNil(t, reg.PersistPerItemFailures)
	assert.NotNil(t, reg.PersistBatchLatencyMs)
	assert.NotNil(t, reg.PersistSubmitRejected)
	assert.NotNil(t, reg.SyncPushesTotal)
	assert.NotNil(t, reg.SyncPullsTotal)
	assert.NotNil(t, reg.SyncAuthFailures)
	assert.NotNil(t, reg.SyncReconnects)
	assert.NotNil(t, reg.SyncPeerWatermark)
	assert.NotNil(t, reg.SyncHeartbeatRTTMs)
}

func TestMustRegisterAttachesToRegisterer(t *testing.T) {
	reg := New()
	registerer := prometheus.NewRegistry()

	require.NotPanics(t, func() { reg.MustRegister(registerer) })

	families, err := registerer.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewBuildsIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	ra := prometheus.NewRegistry()
	rb := prometheus.NewRegistry()

	require.NotPanics(t, func() { a.MustRegister(ra) })
	require.NotPanics(t, func() { b.MustRegister(rb) })
}
