package diagnostics

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_RecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diagnostics.db")
	log, err := OpenLog(path)
	require.NoError(t, err)
	defer log.Close()

	log.Record("spawn", "main>1")
	log.Record("respawn", "main>2")

	events, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "respawn", events[0].Kind)
	assert.Equal(t, "spawn", events[1].Kind)
}

func TestLog_NilIsNoOp(t *testing.T) {
	var log *Log
	assert.NotPanics(t, func() { log.Record("spawn", "x") })
	assert.NoError(t, log.Close())
}

func TestMetrics_ObserveAndEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test-pool")

	m.Observe(2, 4, 1)
	m.OnPoolEvent("respawn", "")
	m.OnPoolEvent("circuit-trip", "")
	m.OnPoolEvent("evict", "")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
