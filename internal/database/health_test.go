package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthMonitor_Counters(t *testing.T) {
	h := NewHealthMonitor(100*time.Millisecond, zap.NewNop(), nil)

	h.RecordConnection("sqlite")
	h.RecordQuery("sqlite", 10*time.Millisecond)
	h.RecordQuery("sqlite", 200*time.Millisecond) // 慢查询
	h.RecordError("sqlite")

	snap := h.Snapshot()
	assert.Equal(t, uint64(1), snap.ConnectionCount)
	assert.Equal(t, uint64(2), snap.QueryCount)
	assert.Equal(t, uint64(1), snap.SlowQueryCount)
	assert.Equal(t, uint64(1), snap.ErrorCount)
	assert.Equal(t, HealthUnknown, snap.Status)
}

func TestHealthMonitor_CountersMonotonic(t *testing.T) {
	h := NewHealthMonitor(time.Second, zap.NewNop(), nil)

	var prev Snapshot
	for i := 0; i < 50; i++ {
		h.RecordQuery("sqlite", time.Millisecond)
		if i%3 == 0 {
			h.RecordError("sqlite")
		}

		snap := h.Snapshot()
		assert.GreaterOrEqual(t, snap.QueryCount, prev.QueryCount)
		assert.GreaterOrEqual(t, snap.ErrorCount, prev.ErrorCount)
		assert.GreaterOrEqual(t, snap.SlowQueryCount, prev.SlowQueryCount)
		prev = snap
	}
}

func TestHealthMonitor_SlowThresholdDisabled(t *testing.T) {
	// 阈值为零时不统计慢查询
	h := NewHealthMonitor(0, zap.NewNop(), nil)
	h.RecordQuery("sqlite", time.Hour)

	assert.Equal(t, uint64(0), h.Snapshot().SlowQueryCount)
}

func TestHealthMonitor_CheckHealth(t *testing.T) {
	m, monitor := newTestManager(t)
	ctx := context.Background()

	// 未绑定探测器时状态未知
	snap := monitor.CheckHealth(ctx)
	assert.Equal(t, HealthUnknown, snap.Status)
	assert.False(t, snap.ConnectionHealthy)

	require.NoError(t, m.Initialize(ctx))

	snap = monitor.CheckHealth(ctx)
	assert.Equal(t, HealthHealthy, snap.Status)
	assert.True(t, snap.ConnectionHealthy)
	assert.False(t, snap.LastHealthCheck.IsZero())
}

func TestHealthMonitor_CheckHealthAfterClose(t *testing.T) {
	m, monitor := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Close())

	snap := monitor.CheckHealth(ctx)
	assert.Equal(t, HealthClosed, snap.Status)
	assert.False(t, snap.ConnectionHealthy)
}

func TestHealthMonitor_QueryCallbacksFeedCounters(t *testing.T) {
	m, monitor := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))

	session, err := m.Session(ctx)
	require.NoError(t, err)

	before := monitor.Snapshot().QueryCount
	require.NoError(t, session.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY)").Error)
	require.NoError(t, session.Exec("INSERT INTO probe (id) VALUES (1)").Error)

	// 每次 gorm 操作都经过观测回调
	assert.Greater(t, monitor.Snapshot().QueryCount, before)
}
