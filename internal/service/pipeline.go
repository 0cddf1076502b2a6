package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/storage"
	"github.com/wallet-tracker/internal/types"
)

var (
	// ErrRunInProgress is returned when a collection run is requested while one is active
	ErrRunInProgress = errors.New("a collection run is already in progress")

	// ErrNoWallets is returned when a run collected nothing worth storing
	ErrNoWallets = errors.New("no wallets collected")
)

// ScanArchiver mirrors committed scans to secondary storage
type ScanArchiver interface {
	ArchiveScan(ctx context.Context, scan *types.ScanRecord, records []types.WalletRecord) error
}

// ScanListener is notified after a scan commits
type ScanListener interface {
	ScanCommitted(ctx context.Context, report *RunReport, records []types.WalletRecord)
}

// RunReport summarises one collect-and-store run
type RunReport struct {
	Scan            *types.ScanRecord `json:"scan"`
	PagesRequested  int               `json:"pagesRequested"`
	PagesSucceeded  int               `json:"pagesSucceeded"`
	PagesSkipped    int               `json:"pagesSkipped"`
	DuplicatesFound int               `json:"duplicatesFound"`
	Duration        time.Duration     `json:"duration"`
}

// Pipeline runs Collector then Store. At most one run is active at a time.
type Pipeline struct {
	collector *Collector
	store     storage.SnapshotStore
	archive   ScanArchiver
	cache     ViewCache
	maxPages  int
	running   atomic.Bool

	mu        sync.RWMutex
	listeners []ScanListener
}

// NewPipeline creates a new pipeline. archive and cache may be nil.
func NewPipeline(collector *Collector, store storage.SnapshotStore, archive ScanArchiver, cache ViewCache, maxPages int) *Pipeline {
	return &Pipeline{
		collector: collector,
		store:     store,
		archive:   archive,
		cache:     cache,
		maxPages:  maxPages,
	}
}

// AddListener registers l for committed scans
func (p *Pipeline) AddListener(l ScanListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Running reports whether a run is in flight
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run collects pageCount pages and writes them as one scan
func (p *Pipeline) Run(ctx context.Context, pageCount int) (*RunReport, error) {
	if pageCount < 1 || (p.maxPages > 0 && pageCount > p.maxPages) {
		return nil, apperrors.NewInvalidParameterError("pages", fmt.Sprintf("must be between 1 and %d", p.maxPages))
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	logger := logging.FromContext(ctx).WithField("pages", pageCount)

	collected, err := p.collector.Collect(ctx, pageCount)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	records, duplicates := dedupeByAddress(collected.Records)
	if duplicates > 0 {
		logger.WithField("duplicates", duplicates).Info("Dropped repeated addresses within scan")
	}

	report := &RunReport{
		PagesRequested:  pageCount,
		PagesSucceeded:  collected.PagesSucceeded(),
		PagesSkipped:    collected.PagesSkipped(),
		DuplicatesFound: duplicates,
	}

	if len(records) == 0 {
		report.Duration = time.Since(start)
		return report, fmt.Errorf("%w from %d pages (%d skipped)", ErrNoWallets, pageCount, report.PagesSkipped)
	}

	scan, err := p.store.WriteScan(ctx, &types.ScanBatch{PagesRequested: pageCount, Records: records})
	if err != nil {
		report.Duration = time.Since(start)
		return report, fmt.Errorf("write scan: %w", err)
	}
	report.Scan = scan

	p.afterCommit(ctx, scan, records)

	report.Duration = time.Since(start)
	logger.WithFields(map[string]interface{}{
		"scan_id":  scan.ScanID,
		"wallets":  scan.WalletsCollected,
		"skipped":  report.PagesSkipped,
		"duration": report.Duration.String(),
	}).Info("Collection run stored")

	p.mu.RLock()
	for _, l := range p.listeners {
		l.ScanCommitted(ctx, report, records)
	}
	p.mu.RUnlock()

	return report, nil
}

// CollectAndStore is the trigger interface: it never returns an error, only
// a success flag and a human readable message.
func (p *Pipeline) CollectAndStore(ctx context.Context, pageCount int) (bool, string) {
	report, err := p.Run(ctx, pageCount)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("pages", pageCount).Error("Collection run failed")
		return false, RunFailureMessage(err)
	}
	return true, RunSuccessMessage(report)
}

// RunSuccessMessage renders the user-facing message of a successful run
func RunSuccessMessage(report *RunReport) string {
	msg := fmt.Sprintf("Stored %d wallets from %d/%d pages (scan %s)",
		report.Scan.WalletsCollected, report.PagesSucceeded, report.PagesRequested, report.Scan.ScanID)
	if report.PagesSkipped > 0 {
		msg += fmt.Sprintf(", %d pages skipped", report.PagesSkipped)
	}
	return msg
}

// RunFailureMessage renders the user-facing message of a failed run
func RunFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return "A collection run is already in progress"
	case errors.Is(err, ErrNoWallets):
		return "No wallets collected: " + err.Error()
	case apperrors.Is(err, apperrors.CategoryValidation):
		return apperrors.Categorize(err).Message
	case apperrors.IsUnreachable(err):
		return "Ranking source unreachable: " + err.Error()
	case apperrors.IsPersistence(err):
		return "Failed to store scan: " + err.Error()
	default:
		return "Collection failed: " + err.Error()
	}
}

// afterCommit feeds the optional archive and cache; failures never fail the run
func (p *Pipeline) afterCommit(ctx context.Context, scan *types.ScanRecord, records []types.WalletRecord) {
	logger := logging.FromContext(ctx).WithField("scan_id", scan.ScanID)

	if p.archive != nil {
		if err := p.archive.ArchiveScan(ctx, scan, records); err != nil {
			logger.WithError(err).Warn("Failed to archive scan")
		}
	}

	if p.cache != nil {
		purged, err := p.cache.PurgeExcept(ctx, scan.ScanID)
		if err != nil {
			logger.WithError(err).Warn("Failed to purge stale analytics cache")
		} else if purged > 0 {
			logger.WithField("purged", purged).Debug("Purged stale analytics cache entries")
		}
	}
}

// dedupeByAddress keeps the first occurrence of every address.
// Rankings can shift between page fetches, listing an address on two pages.
func dedupeByAddress(records []types.WalletRecord) ([]types.WalletRecord, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]types.WalletRecord, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.Address]; ok {
			continue
		}
		seen[record.Address] = struct{}{}
		out = append(out, record)
	}
	return out, len(records) - len(out)
}
