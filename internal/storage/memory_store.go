package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/types"
)

// MemoryStore is an in-process snapshot store. It backs tests and the
// collector's dry-run mode; a write is staged and published under one lock
// so readers never see half a scan.
type MemoryStore struct {
	mu        sync.RWMutex
	scans     []types.ScanRecord
	snapshots []types.WalletSnapshot
	now       func() time.Time

	// failAfter makes the next write fail after staging that many snapshots; -1 disables
	failAfter int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		failAfter: -1,
	}
}

// SetClock replaces the time source used to assign captured_at
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNextWriteAfter makes the next WriteScan fail after n snapshot rows were staged
func (s *MemoryStore) FailNextWriteAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

// SnapshotCount returns the number of persisted snapshots, optionally for one scan
func (s *MemoryStore) SnapshotCount(scanID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scanID == "" {
		return len(s.snapshots)
	}
	count := 0
	for _, snapshot := range s.snapshots {
		if snapshot.ScanID == scanID {
			count++
		}
	}
	return count
}

// WriteScan stages the scan and its snapshots, then publishes them together
func (s *MemoryStore) WriteScan(ctx context.Context, batch *types.ScanBatch) (*types.ScanRecord, error) {
	if err := validateBatch(batch); err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", err)
	}

	scanID, err := newScanID()
	if err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var last time.Time
	if n := len(s.scans); n > 0 {
		last = s.scans[n-1].Timestamp
	}

	scan := types.ScanRecord{
		ScanID:           scanID,
		Timestamp:        nextCapturedAt(s.now(), last),
		PagesRequested:   batch.PagesRequested,
		WalletsCollected: len(batch.Records),
		TotalBalance:     sumBalances(batch.Records),
	}

	failAfter := s.failAfter
	s.failAfter = -1

	staged := make([]types.WalletSnapshot, 0, len(batch.Records))
	for _, record := range batch.Records {
		if failAfter >= 0 && len(staged) == failAfter {
			return nil, apperrors.NewPersistenceError("write_scan",
				fmt.Errorf("injected failure after %d snapshots", failAfter))
		}
		staged = append(staged, types.WalletSnapshot{
			Address:    record.Address,
			Balance:    record.Balance,
			FirstIn:    record.FirstIn,
			LastIn:     record.LastIn,
			LastOut:    record.LastOut,
			CapturedAt: scan.Timestamp,
			ScanID:     scan.ScanID,
		})
	}
	if failAfter >= 0 && len(staged) == failAfter {
		return nil, apperrors.NewPersistenceError("write_scan",
			fmt.Errorf("injected failure after %d snapshots", failAfter))
	}

	s.scans = append(s.scans, scan)
	s.snapshots = append(s.snapshots, staged...)

	result := scan
	return &result, nil
}

// LatestState returns the most recent snapshot per address
func (s *MemoryStore) LatestState(ctx context.Context, search string) ([]types.WalletSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(search)
	latest := make(map[string]types.WalletSnapshot)
	for _, snapshot := range s.snapshots {
		if needle != "" && !strings.Contains(strings.ToLower(snapshot.Address), needle) {
			continue
		}
		current, ok := latest[snapshot.Address]
		if !ok || newerSnapshot(snapshot, current) {
			latest[snapshot.Address] = snapshot
		}
	}

	result := make([]types.WalletSnapshot, 0, len(latest))
	for _, snapshot := range latest {
		result = append(result, snapshot)
	}
	sort.Slice(result, func(i, j int) bool {
		if c := result[i].Balance.Cmp(result[j].Balance); c != 0 {
			return c > 0
		}
		return result[i].Address < result[j].Address
	})

	return result, nil
}

// History returns snapshots newest first, bounded by limit
func (s *MemoryStore) History(ctx context.Context, address string, limit int) ([]types.WalletSnapshot, error) {
	if limit <= 0 {
		return nil, apperrors.NewInvalidParameterError("limit", "must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.WalletSnapshot
	for _, snapshot := range s.snapshots {
		if address == "" || snapshot.Address == address {
			result = append(result, snapshot)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CapturedAt.Equal(result[j].CapturedAt) {
			return result[i].CapturedAt.After(result[j].CapturedAt)
		}
		return result[i].Address < result[j].Address
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// WalletHistory returns the last limit points of one address, oldest first
func (s *MemoryStore) WalletHistory(ctx context.Context, address string, limit int) ([]types.BalancePoint, error) {
	if limit <= 0 {
		return nil, apperrors.NewInvalidParameterError("limit", "must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var points []types.BalancePoint
	for _, snapshot := range s.snapshots {
		if snapshot.Address != address {
			continue
		}
		points = append(points, types.BalancePoint{
			CapturedAt: snapshot.CapturedAt,
			Balance:    snapshot.Balance,
			ScanID:     snapshot.ScanID,
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		if !points[i].CapturedAt.Equal(points[j].CapturedAt) {
			return points[i].CapturedAt.Before(points[j].CapturedAt)
		}
		return points[i].ScanID < points[j].ScanID
	})

	if len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points, nil
}

// ScanStats returns one scan record, or the latest when scanID is empty
func (s *MemoryStore) ScanStats(ctx context.Context, scanID string) (*types.ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *types.ScanRecord
	for i := range s.scans {
		scan := s.scans[i]
		if scanID != "" {
			if scan.ScanID == scanID {
				return &scan, nil
			}
			continue
		}
		if found == nil || scan.Timestamp.After(found.Timestamp) ||
			(scan.Timestamp.Equal(found.Timestamp) && scan.ScanID > found.ScanID) {
			found = &scan
		}
	}
	return found, nil
}

// newerSnapshot reports whether a supersedes b for the same address
func newerSnapshot(a, b types.WalletSnapshot) bool {
	if !a.CapturedAt.Equal(b.CapturedAt) {
		return a.CapturedAt.After(b.CapturedAt)
	}
	return a.ScanID > b.ScanID
}
