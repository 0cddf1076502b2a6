package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-tracker/internal/adapter"
	"github.com/wallet-tracker/internal/config"
	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/types"
)

func threePages() *fakeParser {
	return &fakeParser{pages: map[int][]types.WalletRecord{
		1: {walletRecord("A", "100", "2025-06-01", "Never")},
		2: {walletRecord("B", "90", "2025-06-01", "Never")},
		3: {walletRecord("C", "80", "2025-06-01", "Never"), walletRecord("D", "70", "2025-06-02", "2025-06-02")},
	}}
}

func TestCollector_SkipsFailedPage(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[int]error{2: httpFailure(2)}}
	collector := NewCollector(fetcher, threePages(), 0)

	result, err := collector.Collect(testContext(t), 3)
	require.NoError(t, err)

	var addresses []string
	for _, r := range result.Records {
		addresses = append(addresses, r.Address)
	}
	assert.Equal(t, []string{"A", "C", "D"}, addresses)
	assert.Equal(t, 2, result.PagesSucceeded())
	assert.Equal(t, 1, result.PagesSkipped())
	require.Len(t, result.Outcomes, 3)
	assert.True(t, result.Outcomes[1].Skipped)
	assert.True(t, apperrors.IsTransport(result.Outcomes[1].Err))
}

func TestCollector_UnreachableLaterPageIsSkipped(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[int]error{3: unreachable(3)}}
	collector := NewCollector(fetcher, threePages(), 0)

	result, err := collector.Collect(testContext(t), 3)
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
	assert.Equal(t, 1, result.PagesSkipped())
}

func TestCollector_UnreachableFirstPageFails(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[int]error{1: unreachable(1)}}
	collector := NewCollector(fetcher, threePages(), 0)

	result, err := collector.Collect(testContext(t), 3)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsUnreachable(err))
	assert.Equal(t, []int{1}, fetcher.Calls())
}

func TestCollector_HTTPErrorOnFirstPageIsSkipped(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[int]error{1: httpFailure(1)}}
	collector := NewCollector(fetcher, threePages(), 0)

	result, err := collector.Collect(testContext(t), 2)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.PagesSkipped())
}

func TestCollector_ParseFailureSkipsPage(t *testing.T) {
	parser := threePages()
	parser.errs = map[int]error{1: errors.New("broken markup")}
	collector := NewCollector(&fakeFetcher{}, parser, 0)

	result, err := collector.Collect(testContext(t), 2)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, "B", result.Records[0].Address)
}

func TestCollector_EmptyPageCountsAsSucceeded(t *testing.T) {
	collector := NewCollector(&fakeFetcher{}, &fakeParser{}, 0)

	result, err := collector.Collect(testContext(t), 2)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Equal(t, 2, result.PagesSucceeded())
}

func TestCollector_InvalidPageCount(t *testing.T) {
	collector := NewCollector(&fakeFetcher{}, threePages(), 0)

	_, err := collector.Collect(testContext(t), 0)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
}

func TestCollector_CancellationKeepsCollectedPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{onCall: func(page int) {
		if page == 1 {
			cancel()
		}
	}}
	collector := NewCollector(fetcher, threePages(), 10*time.Millisecond)

	result, err := collector.Collect(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.PagesSucceeded())
	assert.Equal(t, 2, result.PagesSkipped())
}

func TestCollector_RespectsRequestDelay(t *testing.T) {
	delay := 20 * time.Millisecond
	collector := NewCollector(&fakeFetcher{}, threePages(), delay)

	start := time.Now()
	_, err := collector.Collect(testContext(t), 3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 2*delay-time.Millisecond)
}

func rankingRow(rank int, address string) string {
	return fmt.Sprintf(`<table id="tblOne"><tbody><tr><td>%d</td><td>%s</td><td>10 BTC</td><td>0.1%%</td>`+
		`<td>2020-01-01</td><td>2025-06-01</td><td>1</td><td></td><td>Never</td><td>0</td></tr></tbody></table>`, rank, address)
}

func TestCollector_RankingSourceErrorStatusesSkipOnlyTheirPages(t *testing.T) {
	rows := map[string]string{
		"/top":   rankingRow(1, "34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo"),
		"/top-7": rankingRow(7, "1FeexV6bAHb8ybZjqQMjJrcCrHGW9sb6uF"),
		"/top-8": rankingRow(8, "3LYJfcfHPXYJreMsASk2jkn69LWEYKzexb"),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := rows[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	cfg := config.CollectorConfig{
		FirstPageURL:    server.URL + "/top",
		PageURLTemplate: server.URL + "/top-%d",
		HTTPTimeout:     2 * time.Second,
		UserAgent:       "wallet-tracker-test",
	}
	columns := config.ColumnLayout{Address: 1, Balance: 2, FirstIn: 4, LastIn: 5, LastOut: 8}
	collector := NewCollector(adapter.NewRankingClient(cfg), adapter.NewRankingParser("tblOne", columns), 0)

	result, err := collector.Collect(testContext(t), 8)
	require.NoError(t, err)
	assert.Len(t, result.Records, 3)
	assert.Equal(t, 5, result.PagesSkipped())
	for _, outcome := range result.Outcomes {
		if outcome.Skipped {
			assert.False(t, strings.Contains(outcome.Err.Error(), "circuit breaker"), "page %d: %v", outcome.Page, outcome.Err)
		}
	}

	again, err := collector.Collect(testContext(t), 1)
	require.NoError(t, err)
	assert.Len(t, again.Records, 1)
}
