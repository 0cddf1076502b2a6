package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wallet-tracker/internal/types"
)

// SnapshotStore is the append-only wallet snapshot store.
//
// WriteScan persists one ScanRecord and its snapshots as a single unit;
// readers observe either all of it or none of it. Implementations never
// retry failed writes and never mutate or delete persisted snapshots.
type SnapshotStore interface {
	// WriteScan assigns captured_at and scan_id and persists the batch
	WriteScan(ctx context.Context, batch *types.ScanBatch) (*types.ScanRecord, error)

	// LatestState returns the most recent snapshot of every address, ordered by
	// balance desc then address. search filters addresses by case-insensitive substring.
	LatestState(ctx context.Context, search string) ([]types.WalletSnapshot, error)

	// History returns snapshots newest first, optionally for one address
	History(ctx context.Context, address string, limit int) ([]types.WalletSnapshot, error)

	// WalletHistory returns one point per scan the address appeared in,
	// oldest first, keeping the most recent limit points
	WalletHistory(ctx context.Context, address string, limit int) ([]types.BalancePoint, error)

	// ScanStats returns the named scan, or the most recent one when scanID is
	// empty. It returns nil without error when no such scan exists.
	ScanStats(ctx context.Context, scanID string) (*types.ScanRecord, error)
}

// newScanID returns a time-ordered scan id, so lexicographic order follows creation order
func newScanID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate scan id: %w", err)
	}
	return id.String(), nil
}

// nextCapturedAt returns a capture time strictly after last.
// Times are truncated to microseconds, the resolution of a Postgres timestamptz.
func nextCapturedAt(now, last time.Time) time.Time {
	captured := now.UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !captured.After(last) {
		captured = last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return captured
}

// validateBatch checks the store constraints before anything is written
func validateBatch(batch *types.ScanBatch) error {
	if batch == nil {
		return fmt.Errorf("nil scan batch")
	}

	seen := make(map[string]struct{}, len(batch.Records))
	for i, record := range batch.Records {
		if record.Address == "" {
			return fmt.Errorf("record %d: empty address", i)
		}
		if record.Balance.IsNegative() {
			return fmt.Errorf("record %d (%s): negative balance %s", i, record.Address, record.Balance)
		}
		if _, dup := seen[record.Address]; dup {
			return fmt.Errorf("record %d: duplicate address %s within one scan", i, record.Address)
		}
		seen[record.Address] = struct{}{}
	}
	return nil
}

func sumBalances(records []types.WalletRecord) decimal.Decimal {
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.Balance)
	}
	return total
}
