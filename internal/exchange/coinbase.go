package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Coinbase Exchange public REST API
	coinbaseBaseURL = "https://api.exchange.coinbase.com"

	productsEndpoint = "/products"
	candlesEndpoint  = "/products/%s/candles"
	timeEndpoint     = "/time"

	defaultRequestsPerSecond = 10
	rateLimitBurst           = 1
	rateLimitWindow          = time.Second

	maxCandlesPerRequest  = 300
	defaultRequestTimeout = 30 * time.Second

	maxRetries        = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5

	healthCheckTimeout = 5 * time.Second
)

// CoinbaseConfig configures a CoinbaseAdapter. Zero values take defaults.
type CoinbaseConfig struct {
	BaseURL           string
	RequestsPerSecond int
	Timeout           time.Duration
}

// CoinbaseAdapter implements ExchangeAdapter against the Coinbase Exchange
// public market data API, which needs no credentials.
type CoinbaseAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	rps         int
	validate    *validator.Validate
	logger      *slog.Logger

	retryInitial time.Duration
}

// NewCoinbaseAdapter creates a Coinbase adapter.
func NewCoinbaseAdapter(cfg CoinbaseConfig, logger *slog.Logger) *CoinbaseAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = coinbaseBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	return &CoinbaseAdapter{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), rateLimitBurst),
		baseURL:      cfg.BaseURL,
		rps:          cfg.RequestsPerSecond,
		validate:     validator.New(),
		logger:       logger,
		retryInitial: initialRetryDelay,
	}
}

// FetchCandles downloads every candle in [req.Start, req.End], splitting the
// range into requests of at most 300 candles.
func (c *CoinbaseAdapter) FetchCandles(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	c.logger.Debug("fetching candles from Coinbase",
		"pair", req.Pair,
		"start", req.Start,
		"end", req.End,
		"interval", req.Interval)

	chunks := calculateChunks(req.Start, req.End, req.Interval)
	byTime := make(map[int64]models.Candle)

	for i, chunk := range chunks {
		if err := c.WaitForLimit(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		rows, err := c.fetchCandleChunk(ctx, req.Pair, chunk.start, chunk.end, req.Interval)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chunk %d of %d: %w", i+1, len(chunks), err)
		}

		for _, row := range rows {
			candle, err := convertCandleToModel(row, req.Pair, req.Interval)
			if err != nil {
				c.logger.Warn("failed to convert candle, skipping",
					"pair", req.Pair,
					"error", err)
				continue
			}
			if candle.Timestamp.Before(req.Start) || candle.Timestamp.After(req.End) {
				continue
			}
			byTime[candle.Timestamp.Unix()] = *candle
		}
	}

	candles := make([]models.Candle, 0, len(byTime))
	for _, candle := range byTime {
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	c.logger.Debug("fetched candles", "pair", req.Pair, "count", len(candles), "requests", len(chunks))
	return &FetchResponse{Candles: candles, Requests: len(chunks)}, nil
}

// GetTradingPairs lists every product on the exchange, online or not.
func (c *CoinbaseAdapter) GetTradingPairs(ctx context.Context) ([]TradingPair, error) {
	if err := c.WaitForLimit(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := c.makeRequestWithRetry(ctx, c.baseURL+productsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trading pairs: %w", err)
	}

	var products []coinbaseProduct
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, fmt.Errorf("failed to parse trading pairs response: %w", err)
	}

	pairs := make([]TradingPair, 0, len(products))
	for _, product := range products {
		if err := c.validate.Struct(product); err != nil {
			c.logger.Warn("skipping malformed product", "id", product.ID, "error", err)
			continue
		}
		pairs = append(pairs, TradingPair{
			Symbol:     product.ID,
			BaseAsset:  product.BaseCurrency,
			QuoteAsset: product.QuoteCurrency,
			Status:     product.Status,
			Disabled:   product.TradingDisabled,
		})
	}

	c.logger.Debug("fetched trading pairs", "count", len(pairs))
	return pairs, nil
}

// GetLimits implements the RateLimitInfo interface.
func (c *CoinbaseAdapter) GetLimits() RateLimit {
	return RateLimit{
		RequestsPerSecond: c.rps,
		BurstSize:         rateLimitBurst,
		WindowDuration:    rateLimitWindow,
	}
}

// WaitForLimit implements the RateLimitInfo interface.
func (c *CoinbaseAdapter) WaitForLimit(ctx context.Context) error {
	return c.rateLimiter.Wait(ctx)
}

// HealthCheck queries the server time endpoint.
func (c *CoinbaseAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, c.baseURL+timeEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	c.logger.Debug("health check passed")
	return nil
}

type timeChunk struct {
	start time.Time
	end   time.Time
}

// calculateChunks splits the inclusive range [start, end] into windows of at
// most maxCandlesPerRequest candles.
func calculateChunks(start, end time.Time, granularity int) []timeChunk {
	step := time.Duration(granularity) * time.Second
	span := time.Duration(maxCandlesPerRequest-1) * step

	var chunks []timeChunk
	for current := start; !current.After(end); {
		chunkEnd := current.Add(span)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, timeChunk{start: current, end: chunkEnd})
		current = chunkEnd.Add(step)
	}
	return chunks
}

func (c *CoinbaseAdapter) fetchCandleChunk(ctx context.Context, pair string, start, end time.Time, granularity int) ([]coinbaseCandle, error) {
	params := url.Values{}
	params.Add("start", start.UTC().Format(time.RFC3339))
	params.Add("end", end.UTC().Format(time.RFC3339))
	params.Add("granularity", strconv.Itoa(granularity))

	fullURL := c.baseURL + fmt.Sprintf(candlesEndpoint, url.PathEscape(pair)) + "?" + params.Encode()

	body, err := c.makeRequestWithRetry(ctx, fullURL)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var rows []coinbaseCandle
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse candles response: %w", err)
	}
	return rows, nil
}

// makeRequestWithRetry performs a GET, retrying network failures, 429 and
// 5xx responses with exponential backoff. Other 4xx responses are permanent.
func (c *CoinbaseAdapter) makeRequestWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = c.retryInitial
	backoffConfig.MaxInterval = maxRetryDelay
	backoffConfig.Multiplier = retryMultiplier
	backoffConfig.RandomizationFactor = retryJitter
	backoffConfig.MaxElapsedTime = 0 // bounded by maxRetries and the context

	policy := backoff.WithContext(backoff.WithMaxRetries(backoffConfig, maxRetries), ctx)

	var responseBody []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "go-streak-analyzer/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
				c.logger.Warn("rate limited, waiting", "retry_after", retryAfter)
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return fmt.Errorf("unexpected status %d: rate limit exceeded", resp.StatusCode)
		case resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status %d: server error: %s", resp.StatusCode, truncate(body))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body)))
		}

		responseBody = body
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying request", "url", requestURL, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return responseBody, nil
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// coinbaseCandle is one row of the candles endpoint:
// [time, low, high, open, close, volume].
type coinbaseCandle [6]json.Number

func convertCandleToModel(row coinbaseCandle, pair string, interval int) (*models.Candle, error) {
	seconds, err := row[0].Int64()
	if err != nil {
		return nil, fmt.Errorf("invalid candle time %q: %w", row[0], err)
	}

	fields := [5]string{}
	for i, name := range []string{"low", "high", "open", "close", "volume"} {
		d, err := decimal.NewFromString(row[i+1].String())
		if err != nil {
			return nil, fmt.Errorf("invalid candle %s %q: %w", name, row[i+1], err)
		}
		fields[i] = d.String()
	}

	return models.NewCandle(
		time.Unix(seconds, 0).UTC(),
		fields[2], // open
		fields[1], // high
		fields[0], // low
		fields[3], // close
		fields[4], // volume
		pair,
		interval,
	)
}

type coinbaseProduct struct {
	ID              string `json:"id" validate:"required"`
	BaseCurrency    string `json:"base_currency" validate:"required"`
	QuoteCurrency   string `json:"quote_currency" validate:"required"`
	Status          string `json:"status" validate:"required"`
	TradingDisabled bool   `json:"trading_disabled"`
}
