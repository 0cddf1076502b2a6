package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/wallet-tracker/internal/circuitbreaker"
	"github.com/wallet-tracker/internal/config"
	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/logging"
)

// RankingClient fetches raw ranking pages from the upstream source
type RankingClient struct {
	client          *resty.Client
	firstPageURL    string
	pageURLTemplate string
	breaker         *circuitbreaker.CircuitBreaker
}

// NewRankingClient creates a ranking page client from collector configuration
func NewRankingClient(cfg config.CollectorConfig) *RankingClient {
	client := resty.New()
	client.SetTimeout(cfg.HTTPTimeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml")

	// Only requests that got no response count against the circuit.
	breakerConfig := circuitbreaker.DefaultConfig("ranking-source")
	breakerConfig.IsFailure = apperrors.IsUnreachable

	return &RankingClient{
		client:          client,
		firstPageURL:    cfg.FirstPageURL,
		pageURLTemplate: cfg.PageURLTemplate,
		breaker:         circuitbreaker.NewCircuitBreaker(breakerConfig),
	}
}

// ResetCircuit closes the breaker. The collector calls it at the start of every run.
func (c *RankingClient) ResetCircuit() {
	c.breaker.Reset()
}

// PageURL returns the URL of a 1-based ranking page
func (c *RankingClient) PageURL(page int) string {
	if page <= 1 || c.pageURLTemplate == "" {
		return c.firstPageURL
	}
	return fmt.Sprintf(c.pageURLTemplate, page)
}

// FetchPage downloads one page. A request that got no response at all is an
// unreachable TransportError. A non-2xx response, or a page not attempted
// because the circuit is open, is a reachable one and only skips the page.
func (c *RankingClient) FetchPage(ctx context.Context, page int) ([]byte, error) {
	url := c.PageURL(page)
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"page": page,
		"url":  url,
	})

	var body []byte
	err := c.breaker.Execute(ctx, func() error {
		resp, err := c.client.R().SetContext(ctx).Get(url)
		if err != nil {
			return apperrors.NewTransportError(page, err, true)
		}
		if !resp.IsSuccess() {
			return apperrors.NewTransportError(page, fmt.Errorf("unexpected status %s", strings.TrimSpace(resp.Status())), false)
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			err = apperrors.NewTransportError(page, err, false)
		}
		logger.WithError(err).Debug("Ranking page fetch failed")
		return nil, err
	}

	logger.WithField("bytes", len(body)).Debug("Fetched ranking page")
	return body, nil
}
