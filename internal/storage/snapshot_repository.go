package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/types"
)

// scanWriteLockKey serializes scan writers so captured_at stays strictly increasing
const scanWriteLockKey int64 = 0x77616c6c6574 // "wallet"

// SnapshotRepository is the Postgres snapshot store
type SnapshotRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{
		pool: pool,
		now:  time.Now,
	}
}

// WriteScan persists the scan record and one snapshot per record in one transaction
func (r *SnapshotRepository) WriteScan(ctx context.Context, batch *types.ScanBatch) (*types.ScanRecord, error) {
	if err := validateBatch(batch); err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", err)
	}

	scanID, err := newScanID()
	if err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", fmt.Errorf("begin tx: %w", err))
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logging.FromContext(ctx).WithError(rbErr).Warn("Rollback of scan write failed")
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, scanWriteLockKey); err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", fmt.Errorf("acquire write lock: %w", err))
	}

	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT max(captured_at) FROM scans`).Scan(&last); err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", fmt.Errorf("read last capture time: %w", err))
	}
	var lastCaptured time.Time
	if last != nil {
		lastCaptured = *last
	}

	scan := &types.ScanRecord{
		ScanID:           scanID,
		Timestamp:        nextCapturedAt(r.now(), lastCaptured),
		PagesRequested:   batch.PagesRequested,
		WalletsCollected: len(batch.Records),
		TotalBalance:     sumBalances(batch.Records),
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO scans (scan_id, captured_at, pages_requested, wallets_collected, total_balance)
		VALUES ($1, $2, $3, $4, $5::text::numeric)
	`, scan.ScanID, scan.Timestamp, scan.PagesRequested, scan.WalletsCollected, scan.TotalBalance.String())
	if err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", fmt.Errorf("insert scan: %w", err))
	}

	if len(batch.Records) > 0 {
		queue := &pgx.Batch{}
		for _, record := range batch.Records {
			queue.Queue(`
				INSERT INTO wallet_snapshots (address, balance, first_in, last_in, last_out, captured_at, scan_id)
				VALUES ($1, $2::text::numeric, $3, $4, $5, $6, $7)
			`, record.Address, record.Balance.String(), record.FirstIn, record.LastIn, record.LastOut, scan.Timestamp, scan.ScanID)
		}
		if err := tx.SendBatch(ctx, queue).Close(); err != nil {
			return nil, apperrors.NewPersistenceError("write_scan", fmt.Errorf("insert snapshots: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewPersistenceError("write_scan", fmt.Errorf("commit: %w", err))
	}
	committed = true

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"scan_id":    scan.ScanID,
		"wallets":    scan.WalletsCollected,
		"capturedAt": scan.Timestamp,
	}).Info("Scan written")

	return scan, nil
}

// LatestState resolves the most recent snapshot per address.
// Ties on captured_at prefer the greatest scan_id.
func (r *SnapshotRepository) LatestState(ctx context.Context, search string) ([]types.WalletSnapshot, error) {
	query := `
		SELECT address, balance::text, first_in, last_in, last_out, captured_at, scan_id
		FROM (
			SELECT DISTINCT ON (address) *
			FROM wallet_snapshots
			WHERE $1::text = '' OR strpos(lower(address), lower($1::text)) > 0
			ORDER BY address, captured_at DESC, scan_id DESC
		) latest
		ORDER BY latest.balance DESC, latest.address ASC
	`

	rows, err := r.pool.Query(ctx, query, search)
	if err != nil {
		return nil, apperrors.NewPersistenceError("latest_state", err)
	}
	defer rows.Close()

	snapshots, err := scanSnapshots(rows)
	if err != nil {
		return nil, apperrors.NewPersistenceError("latest_state", err)
	}
	return snapshots, nil
}

// History returns snapshots newest first, bounded by limit
func (r *SnapshotRepository) History(ctx context.Context, address string, limit int) ([]types.WalletSnapshot, error) {
	if limit <= 0 {
		return nil, apperrors.NewInvalidParameterError("limit", "must be positive")
	}

	query := `
		SELECT address, balance::text, first_in, last_in, last_out, captured_at, scan_id
		FROM wallet_snapshots
		WHERE $1::text = '' OR address = $1::text
		ORDER BY captured_at DESC, address ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, address, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("history", err)
	}
	defer rows.Close()

	snapshots, err := scanSnapshots(rows)
	if err != nil {
		return nil, apperrors.NewPersistenceError("history", err)
	}
	return snapshots, nil
}

// WalletHistory returns the last limit points of one address, oldest first
func (r *SnapshotRepository) WalletHistory(ctx context.Context, address string, limit int) ([]types.BalancePoint, error) {
	if limit <= 0 {
		return nil, apperrors.NewInvalidParameterError("limit", "must be positive")
	}

	query := `
		SELECT captured_at, balance, scan_id FROM (
			SELECT captured_at, balance::text AS balance, scan_id
			FROM wallet_snapshots
			WHERE address = $1
			ORDER BY captured_at DESC, scan_id DESC
			LIMIT $2
		) recent
		ORDER BY captured_at ASC, scan_id ASC
	`

	rows, err := r.pool.Query(ctx, query, address, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("wallet_history", err)
	}
	defer rows.Close()

	var points []types.BalancePoint
	for rows.Next() {
		var (
			point   types.BalancePoint
			balance string
		)
		if err := rows.Scan(&point.CapturedAt, &balance, &point.ScanID); err != nil {
			return nil, apperrors.NewPersistenceError("wallet_history", fmt.Errorf("failed to scan point: %w", err))
		}
		if point.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, apperrors.NewPersistenceError("wallet_history", fmt.Errorf("invalid stored balance %q: %w", balance, err))
		}
		point.CapturedAt = point.CapturedAt.UTC()
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("wallet_history", err)
	}

	return points, nil
}

// ScanStats returns one scan record, or the latest when scanID is empty
func (r *SnapshotRepository) ScanStats(ctx context.Context, scanID string) (*types.ScanRecord, error) {
	query := `
		SELECT scan_id, captured_at, pages_requested, wallets_collected, total_balance::text
		FROM scans
		WHERE $1::text = '' OR scan_id = $1::text
		ORDER BY captured_at DESC, scan_id DESC
		LIMIT 1
	`

	var (
		scan  types.ScanRecord
		total string
	)
	err := r.pool.QueryRow(ctx, query, scanID).Scan(
		&scan.ScanID,
		&scan.Timestamp,
		&scan.PagesRequested,
		&scan.WalletsCollected,
		&total,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewPersistenceError("scan_stats", err)
	}

	if scan.TotalBalance, err = decimal.NewFromString(total); err != nil {
		return nil, apperrors.NewPersistenceError("scan_stats", fmt.Errorf("invalid stored total %q: %w", total, err))
	}
	scan.Timestamp = scan.Timestamp.UTC()

	return &scan, nil
}

func scanSnapshots(rows pgx.Rows) ([]types.WalletSnapshot, error) {
	var snapshots []types.WalletSnapshot
	for rows.Next() {
		var (
			s       types.WalletSnapshot
			balance string
		)
		if err := rows.Scan(&s.Address, &balance, &s.FirstIn, &s.LastIn, &s.LastOut, &s.CapturedAt, &s.ScanID); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		value, err := decimal.NewFromString(balance)
		if err != nil {
			return nil, fmt.Errorf("invalid stored balance %q: %w", balance, err)
		}
		s.Balance = value
		s.CapturedAt = s.CapturedAt.UTC()
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}
