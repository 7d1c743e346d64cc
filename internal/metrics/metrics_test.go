package metrics

import (
	"errors"
	"testing"

	"github.com/garder500/holystore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.Observe(storage.Event{Kind: storage.EventInsert, ID: 1, Bytes: 10, Counters: storage.Counters{Index: 1, Count: 1}})
	m.Observe(storage.Event{Kind: storage.EventInsert, ID: 2, Bytes: 5, Counters: storage.Counters{Index: 2, Count: 2}})
	m.Observe(storage.Event{Kind: storage.EventRemove, ID: 1, Counters: storage.Counters{Index: 2, Count: 1}})
	m.Observe(storage.Event{Kind: storage.EventPipe, ID: 2, Bytes: 5})
	m.Observe(storage.Event{Kind: storage.EventError, Err: errors.New("boom")})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("remove")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.BytesWritten))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BytesServed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Objects))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LastIndex))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal))
}

func TestObserveReindex(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())
	m.Observe(storage.Event{Kind: storage.EventInsert, ID: 1, Counters: storage.Counters{Index: 1, Count: 1}})
	m.Observe(storage.Event{Kind: storage.EventReindex, Counters: storage.Counters{Index: 7, Count: 4}})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.Objects))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.LastIndex))
}

func TestInitOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := Init(reg)
	b := Init(reg)
	require.NotNil(t, a)
	assert.Same(t, a, b)
}
