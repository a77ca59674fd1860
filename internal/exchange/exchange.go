// Package exchange defines the market data provider interfaces used to keep
// snapshots current, and their Coinbase Exchange implementation.
//
// The interfaces are small and composable so the fetcher can depend on just
// what it needs and tests can substitute fakes.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// StatusOnline is the product status of pairs that can be fetched.
const StatusOnline = "online"

// Granularities lists the candle intervals, in seconds, that the exchange
// serves.
var Granularities = []int{60, 300, 900, 3600, 21600, 86400}

// IsSupportedGranularity reports whether interval is one of Granularities.
func IsSupportedGranularity(interval int) bool {
	for _, g := range Granularities {
		if g == interval {
			return true
		}
	}
	return false
}

// CandleFetcher retrieves historical candles.
//
// Implementations return candles in ascending time order without duplicates,
// restricted to the requested range. An empty range yields an empty slice and
// no error.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// PairProvider lists the trading pairs an exchange offers.
type PairProvider interface {
	GetTradingPairs(ctx context.Context) ([]TradingPair, error)
}

// RateLimitInfo exposes the adapter's request pacing.
type RateLimitInfo interface {
	GetLimits() RateLimit
	WaitForLimit(ctx context.Context) error
}

// HealthChecker performs a lightweight reachability check.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ExchangeAdapter combines all exchange capabilities into a single interface.
type ExchangeAdapter interface {
	CandleFetcher
	PairProvider
	RateLimitInfo
	HealthChecker
}

// FetchRequest specifies a candle download.
type FetchRequest struct {
	Pair     string    `json:"pair"`
	Start    time.Time `json:"start"` // inclusive
	End      time.Time `json:"end"`   // inclusive
	Interval int       `json:"interval"`
}

// Validate checks if the FetchRequest has valid parameters.
func (r *FetchRequest) Validate() error {
	if r.Pair == "" {
		return &ValidationError{Field: "pair", Message: "trading pair cannot be empty"}
	}
	if !IsSupportedGranularity(r.Interval) {
		return &ValidationError{Field: "interval", Message: fmt.Sprintf("unsupported granularity %d, use one of %v", r.Interval, Granularities)}
	}
	if r.Start.IsZero() {
		return &ValidationError{Field: "start", Message: "start time cannot be zero"}
	}
	if r.End.IsZero() {
		return &ValidationError{Field: "end", Message: "end time cannot be zero"}
	}
	if r.End.Before(r.Start) {
		return &ValidationError{Field: "end", Message: "end time must not be before start time"}
	}
	return nil
}

// FetchResponse contains the results of a candle download.
type FetchResponse struct {
	Candles  []models.Candle `json:"candles"`
	Requests int             `json:"requests"` // HTTP calls made
}

// TradingPair represents a trading pair offered by the exchange.
type TradingPair struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Status     string `json:"status"`
	Disabled   bool   `json:"trading_disabled"`
}

// Online reports whether candles can be fetched for the pair.
func (tp TradingPair) Online() bool {
	return tp.Status == StatusOnline
}

// OnlineSymbols returns the sorted symbols of online pairs. A non-empty quote
// keeps only pairs quoted in that asset.
func OnlineSymbols(pairs []TradingPair, quote string) []string {
	var out []string
	for _, p := range pairs {
		if !p.Online() {
			continue
		}
		if quote != "" && !strings.EqualFold(p.QuoteAsset, quote) {
			continue
		}
		out = append(out, p.Symbol)
	}
	sort.Strings(out)
	return out
}

// RateLimit defines the request pacing of an adapter.
type RateLimit struct {
	RequestsPerSecond int           `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	WindowDuration    time.Duration `json:"window_duration"`
}

// ValidationError represents a validation error for exchange types.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation error for field " + e.Field + ": " + e.Message
}
