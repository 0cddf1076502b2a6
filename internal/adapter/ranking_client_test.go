package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-tracker/internal/circuitbreaker"
	"github.com/wallet-tracker/internal/config"
	apperrors "github.com/wallet-tracker/internal/errors"
)

func newTestClient(baseURL string) *RankingClient {
	return NewRankingClient(config.CollectorConfig{
		FirstPageURL:    baseURL + "/top",
		PageURLTemplate: baseURL + "/top-%d",
		HTTPTimeout:     2 * time.Second,
		UserAgent:       "wallet-tracker-test",
	})
}

func TestRankingClient_PageURL(t *testing.T) {
	client := newTestClient("https://example.test")

	assert.Equal(t, "https://example.test/top", client.PageURL(1))
	assert.Equal(t, "https://example.test/top-2", client.PageURL(2))
	assert.Equal(t, "https://example.test/top-17", client.PageURL(17))
}

func TestRankingClient_FetchPage(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/top":
			_, _ = w.Write([]byte("<table id=\"tblOne\"></table>"))
		case "/top-2":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	body, err := client.FetchPage(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tblOne")
	assert.Equal(t, "wallet-tracker-test", gotAgent)

	_, err = client.FetchPage(ctx, 2)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.False(t, apperrors.IsUnreachable(err))
}

func TestRankingClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client := newTestClient(baseURL)

	_, err := client.FetchPage(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnreachable(err))
}

func TestRankingClient_ErrorStatusesKeepCircuitClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/top-9" {
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	for page := 2; page <= 8; page++ {
		_, err := client.FetchPage(ctx, page)
		require.Error(t, err)
		assert.False(t, apperrors.IsUnreachable(err))
	}

	body, err := client.FetchPage(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestRankingClient_OpenCircuitSkipsPageAndResets(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client := newTestClient(baseURL)
	ctx := context.Background()

	for i := 0; i < circuitbreaker.DefaultConfig("").MaxFailures; i++ {
		_, err := client.FetchPage(ctx, 2)
		require.True(t, apperrors.IsUnreachable(err))
	}

	_, err := client.FetchPage(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
	assert.True(t, apperrors.IsTransport(err))
	assert.False(t, apperrors.IsUnreachable(err))

	client.ResetCircuit()
	_, err = client.FetchPage(ctx, 1)
	assert.False(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
	assert.True(t, apperrors.IsUnreachable(err))
}
