package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-tracker/internal/storage"
)

func TestViewMonitor_Record(t *testing.T) {
	m := NewViewMonitor()

	m.RecordHit("groups")
	m.RecordHit("groups")
	m.RecordHit("groups")
	m.RecordCompute("groups", 50*time.Millisecond, true)
	m.RecordCompute("groups", 150*time.Millisecond, true)
	m.RecordCompute("flow", time.Second, false)

	stats := m.Stats()
	require.Contains(t, stats, "groups")

	groups := stats["groups"]
	assert.Equal(t, int64(3), groups.CacheHits)
	assert.Equal(t, int64(2), groups.CacheMisses)
	assert.InDelta(t, 60.0, groups.CacheHitRate, 1e-9)
	assert.InDelta(t, 100.0, groups.AvgComputeMs, 1e-9)
	assert.Zero(t, groups.SlowComputes)

	flow := stats["flow"]
	assert.Zero(t, flow.CacheMisses)
	assert.Zero(t, flow.CacheHitRate)
	assert.Equal(t, int64(1), flow.SlowComputes)
}

func TestViewMonitor_KeepsBoundedSamples(t *testing.T) {
	m := NewViewMonitor()
	m.maxSamples = 10

	for i := 0; i < 20; i++ {
		m.RecordCompute("signal", time.Duration(i)*time.Millisecond, false)
	}

	assert.Len(t, m.views["signal"].computes, 10)
	assert.InDelta(t, 14.5, m.Stats()["signal"].AvgComputeMs, 1e-9)

	m.Reset()
	assert.Empty(t, m.Stats())
}

func TestAnalyticsService_RecordsViewStats(t *testing.T) {
	ctx := testContext(t)
	cache, _ := setupRedisCache(t)
	store := storage.NewMemoryStore()
	writeScan(t, store, walletRecord("A", "1", "", "Never"), walletRecord("B", "1", "", "Never"))

	svc := NewAnalyticsService(store, cache)
	_, err := svc.BalanceGroups(ctx)
	require.NoError(t, err)
	_, err = svc.BalanceGroups(ctx)
	require.NoError(t, err)

	stat := svc.ViewStats()[string(storage.ViewBalanceGroups)]
	assert.Equal(t, int64(1), stat.CacheHits)
	assert.Equal(t, int64(1), stat.CacheMisses)
}
