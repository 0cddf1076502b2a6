package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wallet-tracker/internal/adapter"
	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/storage"
	"github.com/wallet-tracker/internal/types"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// fakeFetcher serves page bodies and errors from maps
type fakeFetcher struct {
	mu     sync.Mutex
	errs   map[int]error
	calls  []int
	onCall func(page int)
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(page)
	}
	if err := f.errs[page]; err != nil {
		return nil, err
	}
	return []byte{byte(page)}, nil
}

func (f *fakeFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

// fakeParser returns the configured records for the page encoded in the body
type fakeParser struct {
	pages map[int][]types.WalletRecord
	errs  map[int]error
}

func (p *fakeParser) Parse(page int, body []byte) (*adapter.PageParseResult, error) {
	if err := p.errs[page]; err != nil {
		return nil, err
	}
	return &adapter.PageParseResult{Records: p.pages[page], TableFound: true}, nil
}

func walletRecord(address string, balance string, lastIn, lastOut string) types.WalletRecord {
	return types.WalletRecord{
		Address: address,
		Balance: decimal.RequireFromString(balance),
		FirstIn: "2015-01-01",
		LastIn:  lastIn,
		LastOut: lastOut,
	}
}

func snapshot(address string, balance string) types.WalletSnapshot {
	return types.WalletSnapshot{
		Address: address,
		Balance: decimal.RequireFromString(balance),
		LastOut: types.NeverSentinel,
	}
}

func unreachable(page int) error {
	return apperrors.NewTransportError(page, errors.New("connection refused"), true)
}

func httpFailure(page int) error {
	return apperrors.NewTransportError(page, errors.New("status 503"), false)
}

// recordingArchive counts archived scans
type recordingArchive struct {
	mu    sync.Mutex
	scans []string
	err   error
}

func (a *recordingArchive) ArchiveScan(ctx context.Context, scan *types.ScanRecord, records []types.WalletRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scans = append(a.scans, scan.ScanID)
	return a.err
}

// recordingListener records committed scans
type recordingListener struct {
	mu      sync.Mutex
	reports []*RunReport
	wallets []int
}

func (l *recordingListener) ScanCommitted(ctx context.Context, report *RunReport, records []types.WalletRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, report)
	l.wallets = append(l.wallets, len(records))
}

// memoryViewCache is an in-process ViewCache used where Redis is not under test
type memoryViewCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
	purges  []string
}

func newMemoryViewCache() *memoryViewCache {
	return &memoryViewCache{entries: make(map[string]interface{})}
}

func (c *memoryViewCache) Key(view storage.AnalyticsView, scanID string, params ...string) string {
	key := string(view) + ":" + scanID
	for _, p := range params {
		key += ":" + p
	}
	return key
}

func (c *memoryViewCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (c *memoryViewCache) Set(ctx context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memoryViewCache) PurgeExcept(ctx context.Context, keepScanID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges = append(c.purges, keepScanID)
	return 0, nil
}
