package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/storage"
	"github.com/wallet-tracker/internal/types"
)

func setupRedisCache(t *testing.T) (*storage.AnalyticsCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return storage.NewAnalyticsCache(storage.NewRedisCacheFromClient(client), time.Minute), mr
}

func writeScan(t *testing.T, store storage.SnapshotStore, records ...types.WalletRecord) *types.ScanRecord {
	t.Helper()
	scan, err := store.WriteScan(context.Background(), &types.ScanBatch{PagesRequested: 1, Records: records})
	require.NoError(t, err)
	return scan
}

// failingStore fails every read
type failingStore struct {
	storage.SnapshotStore
}

func (failingStore) LatestState(ctx context.Context, search string) ([]types.WalletSnapshot, error) {
	return nil, apperrors.NewPersistenceError("latest_state", errors.New("connection reset"))
}

func (failingStore) ScanStats(ctx context.Context, scanID string) (*types.ScanRecord, error) {
	return nil, apperrors.NewPersistenceError("scan_stats", errors.New("connection reset"))
}

func TestAnalyticsService_MarketSignalEmptyStore(t *testing.T) {
	svc := NewAnalyticsService(storage.NewMemoryStore(), nil)

	signal := svc.MarketSignal(testContext(t))
	assert.Equal(t, types.SignalNeutral, signal.Label)
	assert.Equal(t, 0.0, signal.Confidence)
	assert.Equal(t, "insufficient data", signal.Reason)
}

func TestAnalyticsService_MarketSignalStoreFailure(t *testing.T) {
	svc := NewAnalyticsService(failingStore{}, nil)

	signal := svc.MarketSignal(testContext(t))
	assert.Equal(t, types.SignalError, signal.Label)
	assert.Equal(t, 0.0, signal.Confidence)
	assert.Contains(t, signal.Reason, "latest_state")
}

func TestAnalyticsService_MarketSignalBuy(t *testing.T) {
	store := storage.NewMemoryStore()
	writeScan(t, store,
		walletRecord("A", "10", "2025-06-01", types.NeverSentinel),
		walletRecord("B", "20", "2025-06-02", types.NeverSentinel),
	)

	signal := NewAnalyticsService(store, nil).MarketSignal(testContext(t))
	assert.Equal(t, types.SignalBuy, signal.Label)
	assert.InDelta(t, 0.1, signal.Confidence, 1e-9)
}

func TestAnalyticsService_LatestStateFollowsNewestScan(t *testing.T) {
	ctx := testContext(t)
	store := storage.NewMemoryStore()
	writeScan(t, store, walletRecord("A", "10", "", "Never"), walletRecord("B", "5", "", "Never"))
	second := writeScan(t, store, walletRecord("A", "12", "", "Never"))

	svc := NewAnalyticsService(store, nil)
	latest, err := svc.LatestState(ctx, "")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "A", latest[0].Address)
	assert.Equal(t, "12", latest[0].Balance.String())
	assert.Equal(t, second.ScanID, latest[0].ScanID)

	history, err := svc.WalletHistory(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "10", history[0].Balance.String())
	assert.Equal(t, "12", history[1].Balance.String())
}

func TestAnalyticsService_Validation(t *testing.T) {
	svc := NewAnalyticsService(storage.NewMemoryStore(), nil)

	_, err := svc.WalletHistory(testContext(t), "", 10)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	_, err = svc.WalletHistory(testContext(t), "A", 0)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	_, err = svc.DailyFlowStats(testContext(t), 0)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
}

func TestAnalyticsService_ScanStats(t *testing.T) {
	ctx := testContext(t)
	store := storage.NewMemoryStore()
	svc := NewAnalyticsService(store, nil)

	scan, err := svc.ScanStats(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, scan)

	written := writeScan(t, store, walletRecord("A", "1.5", "", "Never"), walletRecord("B", "2.5", "", "Never"))

	scan, err = svc.ScanStats(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, scan)
	assert.Equal(t, written.ScanID, scan.ScanID)
	assert.Equal(t, 2, scan.WalletsCollected)
	assert.Equal(t, "4", scan.TotalBalance.String())

	scan, err = svc.ScanStats(ctx, "no-such-scan")
	require.NoError(t, err)
	assert.Nil(t, scan)
}

func TestAnalyticsService_Summary(t *testing.T) {
	store := storage.NewMemoryStore()
	writeScan(t, store, walletRecord("A", "1", "", "Never"), walletRecord("B", "2", "", "Never"), walletRecord("C", "2", "", "Never"))

	summary, err := NewAnalyticsService(store, nil).Summary(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalWallets)
	assert.Equal(t, "5", summary.TotalBalance.String())
	assert.Equal(t, "1.66666667", summary.AverageBalance.String())
	require.NotNil(t, summary.LatestScan)
}

func TestAnalyticsService_CachesViewsPerScan(t *testing.T) {
	ctx := testContext(t)
	cache, mr := setupRedisCache(t)
	store := storage.NewMemoryStore()
	first := writeScan(t, store, walletRecord("A", "10", "", "Never"), walletRecord("B", "10", "", "Never"))

	svc := NewAnalyticsService(store, cache)
	groups, err := svc.BalanceGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, mr.Exists(cache.Key(storage.ViewBalanceGroups, first.ScanID)))

	cached, err := svc.BalanceGroups(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, groups[0].MemberAddresses, cached[0].MemberAddresses)
	assert.True(t, groups[0].BalanceValue.Equal(cached[0].BalanceValue))

	// a new scan changes the key, so the stale entry is never served
	second := writeScan(t, store, walletRecord("B", "11", "", "Never"))
	groups, err = svc.BalanceGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.True(t, mr.Exists(cache.Key(storage.ViewBalanceGroups, second.ScanID)))
}

func TestAnalyticsService_CacheOutageFallsThrough(t *testing.T) {
	ctx := testContext(t)
	cache, mr := setupRedisCache(t)
	store := storage.NewMemoryStore()
	writeScan(t, store, walletRecord("A", "10", "", "Never"), walletRecord("B", "10", "", "Never"))

	mr.Close()

	groups, err := NewAnalyticsService(store, cache).BalanceGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestPipelinePurgesStaleViews(t *testing.T) {
	ctx := testContext(t)
	cache, mr := setupRedisCache(t)
	store := storage.NewMemoryStore()
	svc := NewAnalyticsService(store, cache)

	first := writeScan(t, store, walletRecord("X", "3", "", "Never"), walletRecord("Y", "3", "", "Never"))
	_, err := svc.BalanceGroups(ctx)
	require.NoError(t, err)
	staleKey := cache.Key(storage.ViewBalanceGroups, first.ScanID)
	require.True(t, mr.Exists(staleKey))

	pipeline := NewPipeline(NewCollector(&fakeFetcher{}, threePages(), 0), store, nil, cache, 10)
	_, err = pipeline.Run(ctx, 1)
	require.NoError(t, err)

	assert.False(t, mr.Exists(staleKey))
}
