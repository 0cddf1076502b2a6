package service

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/storage"
	"github.com/wallet-tracker/internal/types"
)

// ViewCache caches derived views per scan
type ViewCache interface {
	Key(view storage.AnalyticsView, scanID string, params ...string) string
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	PurgeExcept(ctx context.Context, keepScanID string) (int, error)
}

// AnalyticsService serves the read side: latest state, grouping, history,
// daily flow, the market signal and summary figures. All reads go to the
// store; derived views are optionally cached under the latest scan id.
type AnalyticsService struct {
	store   storage.SnapshotStore
	cache   ViewCache
	monitor *ViewMonitor
}

// NewAnalyticsService creates a new analytics service. cache may be nil.
func NewAnalyticsService(store storage.SnapshotStore, cache ViewCache) *AnalyticsService {
	return &AnalyticsService{
		store:   store,
		cache:   cache,
		monitor: NewViewMonitor(),
	}
}

// ViewStats returns cache and compute statistics per derived view
func (s *AnalyticsService) ViewStats() map[string]ViewStat {
	return s.monitor.Stats()
}

// LatestState returns the most recent snapshot of every address
func (s *AnalyticsService) LatestState(ctx context.Context, search string) ([]types.WalletSnapshot, error) {
	return s.store.LatestState(ctx, search)
}

// History returns snapshots newest first, optionally for one address
func (s *AnalyticsService) History(ctx context.Context, address string, limit int) ([]types.WalletSnapshot, error) {
	return s.store.History(ctx, address, limit)
}

// WalletHistory returns the last limit balance points of one address, oldest first
func (s *AnalyticsService) WalletHistory(ctx context.Context, address string, limit int) ([]types.BalancePoint, error) {
	if address == "" {
		return nil, apperrors.NewInvalidParameterError("address", "must not be empty")
	}
	return s.store.WalletHistory(ctx, address, limit)
}

// ScanStats returns the named scan or the latest one; nil when none exists
func (s *AnalyticsService) ScanStats(ctx context.Context, scanID string) (*types.ScanRecord, error) {
	return s.store.ScanStats(ctx, scanID)
}

// BalanceGroups returns the addresses currently sharing an identical balance
func (s *AnalyticsService) BalanceGroups(ctx context.Context) ([]types.BalanceGroup, error) {
	return cachedView(ctx, s, storage.ViewBalanceGroups, nil, func() ([]types.BalanceGroup, error) {
		latest, err := s.store.LatestState(ctx, "")
		if err != nil {
			return nil, err
		}
		return GroupByBalance(latest), nil
	})
}

// DuplicateBalanceWallets returns the members of all balance groups
func (s *AnalyticsService) DuplicateBalanceWallets(ctx context.Context) ([]types.WalletSnapshot, error) {
	return cachedView(ctx, s, storage.ViewDuplicates, nil, func() ([]types.WalletSnapshot, error) {
		latest, err := s.store.LatestState(ctx, "")
		if err != nil {
			return nil, err
		}
		return DuplicateBalanceWallets(latest), nil
	})
}

// DailyFlowStats returns the approximate daily net flow, newest first
func (s *AnalyticsService) DailyFlowStats(ctx context.Context, windowDays int) ([]types.DailyFlowStat, error) {
	if windowDays < 1 {
		return nil, apperrors.NewInvalidParameterError("window", "must be at least 1 day")
	}

	params := []string{strconv.Itoa(windowDays)}
	return cachedView(ctx, s, storage.ViewDailyFlow, params, func() ([]types.DailyFlowStat, error) {
		latest, err := s.store.LatestState(ctx, "")
		if err != nil {
			return nil, err
		}
		stats, unparsed := ComputeDailyFlow(latest, windowDays)
		if unparsed > 0 {
			logging.FromContext(ctx).WithField("unparsed", unparsed).Debug("Skipped unparseable activity dates")
		}
		return stats, nil
	})
}

// MarketSignal classifies the recent smoothed flow trend. It never returns an
// error: read or computation failures yield an ERROR-labelled signal.
func (s *AnalyticsService) MarketSignal(ctx context.Context) types.MarketSignal {
	signal, err := cachedView(ctx, s, storage.ViewSignal, nil, func() (types.MarketSignal, error) {
		stats, err := s.DailyFlowStats(ctx, SignalWindowDays)
		if err != nil {
			return types.MarketSignal{}, err
		}
		signal := ClassifySignal(stats)
		if signal.Label == types.SignalError {
			return signal, apperrors.NewAnalysisError(signal.Reason, nil)
		}
		return signal, nil
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Market signal degraded to error")
		return ErrorSignal(err)
	}
	return signal
}

// Summary returns headline figures over the latest state
func (s *AnalyticsService) Summary(ctx context.Context) (*types.Summary, error) {
	return cachedView(ctx, s, storage.ViewSummary, nil, func() (*types.Summary, error) {
		latest, err := s.store.LatestState(ctx, "")
		if err != nil {
			return nil, err
		}
		scan, err := s.store.ScanStats(ctx, "")
		if err != nil {
			return nil, err
		}

		summary := &types.Summary{
			TotalWallets:   len(latest),
			TotalBalance:   decimal.Zero,
			AverageBalance: decimal.Zero,
			LatestScan:     scan,
		}
		for _, snapshot := range latest {
			summary.TotalBalance = summary.TotalBalance.Add(snapshot.Balance)
		}
		if len(latest) > 0 {
			summary.AverageBalance = summary.TotalBalance.DivRound(decimal.NewFromInt(int64(len(latest))), 8)
		}
		return summary, nil
	})
}

// cachedView serves a derived view from the cache when the store has scans,
// computing and storing it on a miss. Cache failures fall through to compute.
func cachedView[T any](ctx context.Context, s *AnalyticsService, view storage.AnalyticsView, params []string, compute func() (T, error)) (T, error) {
	if s.cache == nil {
		return timedCompute(s, view, false, compute)
	}

	logger := logging.FromContext(ctx).WithField("view", string(view))

	latest, err := s.store.ScanStats(ctx, "")
	if err != nil || latest == nil {
		return timedCompute(s, view, false, compute)
	}

	key := s.cache.Key(view, latest.ScanID, params...)
	var cached T
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		logger.WithError(err).Warn("Analytics cache read failed")
	} else if found {
		s.monitor.RecordHit(string(view))
		return cached, nil
	}

	value, err := timedCompute(s, view, true, compute)
	if err != nil {
		return value, err
	}

	if err := s.cache.Set(ctx, key, value); err != nil {
		logger.WithError(err).Warn("Analytics cache write failed")
	}
	return value, nil
}

func timedCompute[T any](s *AnalyticsService, view storage.AnalyticsView, cached bool, compute func() (T, error)) (T, error) {
	start := time.Now()
	value, err := compute()
	if err == nil {
		s.monitor.RecordCompute(string(view), time.Since(start), cached)
	}
	return value, err
}
