package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wallet-tracker/internal/types"
)

// ScanArchive mirrors committed scans into ClickHouse for long-range analytics.
// Postgres stays authoritative; the archive may lag or miss scans.
type ScanArchive struct {
	db *ClickHouseDB
}

// ArchiveDailyTotal is the last archived scan of one UTC day
type ArchiveDailyTotal struct {
	Day              time.Time       `json:"day"`
	Scans            uint64          `json:"scans"`
	WalletsCollected uint32          `json:"walletsCollected"`
	TotalBalance     decimal.Decimal `json:"totalBalance"`
}

// NewScanArchive creates a new scan archive
func NewScanArchive(db *ClickHouseDB) *ScanArchive {
	return &ScanArchive{db: db}
}

// ArchiveScan appends one committed scan and its snapshots.
// Replaying the same scan is harmless: the tables are ReplacingMergeTree.
func (a *ScanArchive) ArchiveScan(ctx context.Context, scan *types.ScanRecord, records []types.WalletRecord) error {
	snapshots, err := a.db.Conn().PrepareBatch(ctx, `
		INSERT INTO wallet_snapshot_archive (
			scan_id, captured_at, address, balance, first_in, last_in, last_out
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot batch: %w", err)
	}

	for _, record := range records {
		if err := snapshots.Append(
			scan.ScanID,
			scan.Timestamp,
			record.Address,
			record.Balance,
			record.FirstIn,
			record.LastIn,
			record.LastOut,
		); err != nil {
			_ = snapshots.Abort()
			return fmt.Errorf("failed to append snapshot %s: %w", record.Address, err)
		}
	}

	if err := snapshots.Send(); err != nil {
		return fmt.Errorf("failed to send snapshot batch: %w", err)
	}

	err = a.db.Exec(ctx, `
		INSERT INTO scan_archive (scan_id, captured_at, pages_requested, wallets_collected, total_balance)
		VALUES (?, ?, ?, ?, ?)
	`, scan.ScanID, scan.Timestamp, uint32(max(scan.PagesRequested, 0)), uint32(max(scan.WalletsCollected, 0)), scan.TotalBalance) // #nosec G115 - clamped to non-negative
	if err != nil {
		return fmt.Errorf("failed to insert scan %s: %w", scan.ScanID, err)
	}

	return nil
}

// DailyTotals returns one row per UTC day for the last days days, newest first
func (a *ScanArchive) DailyTotals(ctx context.Context, days int) ([]ArchiveDailyTotal, error) {
	if days <= 0 {
		days = 30
	}

	rows, err := a.db.Conn().Query(ctx, `
		SELECT
			toDate(captured_at) AS day,
			count() AS scans,
			argMax(wallets_collected, captured_at) AS wallets,
			argMax(total_balance, captured_at) AS total
		FROM scan_archive FINAL
		WHERE captured_at >= now64(6) - toIntervalDay(?)
		GROUP BY day
		ORDER BY day DESC
	`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily totals: %w", err)
	}
	defer rows.Close()

	var totals []ArchiveDailyTotal
	for rows.Next() {
		var total ArchiveDailyTotal
		if err := rows.Scan(&total.Day, &total.Scans, &total.WalletsCollected, &total.TotalBalance); err != nil {
			return nil, fmt.Errorf("failed to scan daily total: %w", err)
		}
		totals = append(totals, total)
	}

	return totals, rows.Err()
}
