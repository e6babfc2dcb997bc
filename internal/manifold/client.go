// Package manifold provides a client for the Manifold Markets public API.
// It covers market search, market detail and the bet ledger, plus the
// detail-enrichment pass applied to sparse search results.
package manifold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/marketpulse/internal/logger"
)

const (
	// DefaultBaseURL is the v0 public API root
	DefaultBaseURL = "https://api.manifold.markets/v0"
	// DefaultPageSize is the search page size; a shorter page means no more results
	DefaultPageSize = 40

	defaultDetailConcurrency = 6
)

// ClientConfig holds client tuning
type ClientConfig struct {
	BaseURL    string
	PageSize   int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// DetailConcurrency bounds parallel detail fetches
	DetailConcurrency int
}

// Client provides access to the Manifold API
type Client struct {
	http              *resty.Client
	pageSize          int
	detailConcurrency int
}

// NewClient creates a new Manifold client
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = defaultDetailConcurrency
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(cfg.RetryDelay * 8).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "marketpulse/1.0").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			if r == nil || r.Request == nil {
				return
			}
			if err != nil {
				logger.Debug("Retrying %s after error: %v", r.Request.URL, err)
				return
			}
			logger.Debug("Retrying %s after status %d", r.Request.URL, r.StatusCode())
		})

	return &Client{
		http:              httpClient,
		pageSize:          cfg.PageSize,
		detailConcurrency: cfg.DetailConcurrency,
	}
}

// PageSize returns the configured search page size
func (c *Client) PageSize() int {
	return c.pageSize
}

// SearchMarkets returns one page of open markets matching term, sorted by liquidity
func (c *Client) SearchMarkets(ctx context.Context, term string, offset int) ([]RawMarket, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"term":         term,
			"limit":        strconv.Itoa(c.pageSize),
			"offset":       strconv.Itoa(offset),
			"sort":         "liquidity",
			"filter":       "open",
			"contractType": "ALL",
		}).
		Get("/search-markets")
	if err != nil {
		return nil, fmt.Errorf("failed to search markets: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Endpoint: "search-markets", StatusCode: resp.StatusCode(), Body: truncate(resp.String())}
	}

	var markets []RawMarket
	if err := decodeArray(resp.Body(), &markets); err != nil {
		return nil, fmt.Errorf("search-markets: %w", err)
	}
	return markets, nil
}

// GetMarket returns the full market including answers
func (c *Client) GetMarket(ctx context.Context, id string) (*RawMarket, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/market/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch market %s: %w", id, err)
	}
	if resp.IsError() {
		return nil, &APIError{Endpoint: "market/" + id, StatusCode: resp.StatusCode(), Body: truncate(resp.String())}
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("market/%s: %w: expected object", id, ErrUnexpectedShape)
	}
	var market RawMarket
	if err := json.Unmarshal(body, &market); err != nil {
		return nil, fmt.Errorf("market/%s: %w: %v", id, ErrUnexpectedShape, err)
	}
	return &market, nil
}

// GetBets returns up to limit bets for a market placed before the given time, newest first
func (c *Client) GetBets(ctx context.Context, contractID string, before time.Time, limit int) ([]Bet, error) {
	if limit <= 0 {
		limit = 1
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"contractId": contractID,
			"beforeTime": strconv.FormatInt(before.UnixMilli(), 10),
			"limit":      strconv.Itoa(limit),
			"order":      "desc",
		}).
		Get("/bets")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bets for %s: %w", contractID, err)
	}
	if resp.IsError() {
		return nil, &APIError{Endpoint: "bets", StatusCode: resp.StatusCode(), Body: truncate(resp.String())}
	}

	var bets []Bet
	if err := decodeArray(resp.Body(), &bets); err != nil {
		return nil, fmt.Errorf("bets: %w", err)
	}
	return bets, nil
}

// ProbabilityBefore returns the post-trade probability of the latest bet at or
// before t. It returns nil when the market has no trade before t.
func (c *Client) ProbabilityBefore(ctx context.Context, marketID string, t time.Time) (*float64, error) {
	bets, err := c.GetBets(ctx, marketID, t, 1)
	if err != nil {
		return nil, err
	}
	if len(bets) == 0 {
		return nil, nil
	}
	return bets[0].ProbAfter.Ptr(), nil
}

// FetchDetails fetches the full record for each id with bounded concurrency.
// Per-market failures are logged and omitted from the result.
func (c *Client) FetchDetails(ctx context.Context, ids []string) map[string]RawMarket {
	details := make(map[string]RawMarket, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.detailConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			market, err := c.GetMarket(gctx, id)
			if err != nil {
				logger.Warn("Failed to fetch detail for market %s: %v", id, err)
				return nil
			}
			mu.Lock()
			details[id] = *market
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return details
}

// Enrich replaces up to limit sparse search results (missing probability, or
// multiple choice without answers) with their detail records. Candidates are
// chosen by liquidity rank. Order of the input is preserved.
func (c *Client) Enrich(ctx context.Context, markets []RawMarket, limit int) []RawMarket {
	if limit <= 0 {
		return markets
	}

	var targets []RawMarket
	for _, m := range markets {
		if m.NeedsDetail() {
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		return markets
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].LiquidityRank() > targets[j].LiquidityRank()
	})
	if len(targets) > limit {
		targets = targets[:limit]
	}

	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	details := c.FetchDetails(ctx, ids)
	logger.Debug("Enriched %d/%d sparse markets", len(details), len(ids))

	result := make([]RawMarket, len(markets))
	for i, m := range markets {
		if d, ok := details[m.ID]; ok {
			result[i] = d
			continue
		}
		result[i] = m
	}
	return result
}

func decodeArray(body []byte, v interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return fmt.Errorf("%w: expected array", ErrUnexpectedShape)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}

func truncate(s string) string {
	const limit = 200
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
