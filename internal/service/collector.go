package service

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/wallet-tracker/internal/adapter"
	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/types"
)

// PageFetcher downloads one raw ranking page
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]byte, error)
}

// circuitResetter is implemented by fetchers that keep a circuit breaker
type circuitResetter interface {
	ResetCircuit()
}

// PageParser turns a raw ranking page into wallet records
type PageParser interface {
	Parse(page int, body []byte) (*adapter.PageParseResult, error)
}

// PageOutcome records what happened to one page of a collection run
type PageOutcome struct {
	Page        int   `json:"page"`
	Rows        int   `json:"rows"`
	DroppedRows int   `json:"droppedRows"`
	Skipped     bool  `json:"skipped"`
	Err         error `json:"-"`
}

// CollectionResult is the accumulated output of one collection run
type CollectionResult struct {
	PagesRequested int
	Records        []types.WalletRecord
	Outcomes       []PageOutcome
}

// PagesSucceeded counts pages that were fetched and parsed, including empty ones
func (r *CollectionResult) PagesSucceeded() int {
	n := 0
	for _, outcome := range r.Outcomes {
		if !outcome.Skipped {
			n++
		}
	}
	return n
}

// PagesSkipped counts pages dropped because of a fetch or parse failure
func (r *CollectionResult) PagesSkipped() int {
	return len(r.Outcomes) - r.PagesSucceeded()
}

// Collector fetches ranking pages sequentially with a minimum delay between requests
type Collector struct {
	fetcher PageFetcher
	parser  PageParser
	delay   time.Duration
}

// NewCollector creates a new collector
func NewCollector(fetcher PageFetcher, parser PageParser, delay time.Duration) *Collector {
	return &Collector{
		fetcher: fetcher,
		parser:  parser,
		delay:   delay,
	}
}

// Collect folds pages 1..pageCount into one result. Page failures are recorded
// in the outcome log and skipped; the only error returned is an unreachable
// source on page 1, or an invalid page count.
func (c *Collector) Collect(ctx context.Context, pageCount int) (*CollectionResult, error) {
	if pageCount < 1 {
		return nil, apperrors.NewInvalidParameterError("pages", "must be at least 1")
	}

	logger := logging.FromContext(ctx)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(c.delay), 1)
	}

	if resetter, ok := c.fetcher.(circuitResetter); ok {
		resetter.ResetCircuit()
	}

	result := &CollectionResult{PagesRequested: pageCount}
	for page := 1; page <= pageCount; page++ {
		if err := limiter.Wait(ctx); err != nil {
			// cancelled: the remaining pages are skipped, what we have is kept
			for ; page <= pageCount; page++ {
				result.Outcomes = append(result.Outcomes, PageOutcome{Page: page, Skipped: true, Err: err})
			}
			logger.WithError(err).Warn("Collection cancelled")
			break
		}

		outcome, records := c.collectPage(ctx, page)
		if page == 1 && apperrors.IsUnreachable(outcome.Err) {
			logger.WithError(outcome.Err).Error("Ranking source unreachable")
			return nil, outcome.Err
		}

		result.Outcomes = append(result.Outcomes, outcome)
		result.Records = append(result.Records, records...)
	}

	logger.WithFields(map[string]interface{}{
		"pages":     pageCount,
		"succeeded": result.PagesSucceeded(),
		"skipped":   result.PagesSkipped(),
		"wallets":   len(result.Records),
	}).Info("Collection finished")

	return result, nil
}

func (c *Collector) collectPage(ctx context.Context, page int) (PageOutcome, []types.WalletRecord) {
	logger := logging.FromContext(ctx).WithField("page", page)
	outcome := PageOutcome{Page: page}

	body, err := c.fetcher.FetchPage(ctx, page)
	if err != nil {
		outcome.Skipped = true
		outcome.Err = err
		logger.WithError(err).Warn("Skipping page: fetch failed")
		return outcome, nil
	}

	parsed, err := c.parser.Parse(page, body)
	if err != nil {
		outcome.Skipped = true
		outcome.Err = err
		logger.WithError(err).Warn("Skipping page: parse failed")
		return outcome, nil
	}

	for _, rowErr := range parsed.RowErrors {
		logger.WithError(rowErr).Debug("Dropped row")
	}
	if !parsed.TableFound {
		logger.Warn("Ranking table not found, page treated as empty")
	}

	outcome.Rows = len(parsed.Records)
	outcome.DroppedRows = len(parsed.RowErrors)
	logger.WithFields(map[string]interface{}{
		"rows":    outcome.Rows,
		"dropped": outcome.DroppedRows,
	}).Info("Page collected")

	return outcome, parsed.Records
}
