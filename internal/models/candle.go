// Package models provides the market data structures shared by the snapshot
// store, the exchange adapter and the analysis core: decimal-string candles as
// they come off the wire or out of a CSV file, and the float64 series view the
// run detector and return simulator operate on.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV row for a trading pair at a fixed interval.
// Prices and volume are kept as decimal strings so that values survive a
// fetch/write/read cycle without float formatting drift.
type Candle struct {
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Open      string    `json:"open" db:"open"`
	High      string    `json:"high" db:"high"`
	Low       string    `json:"low" db:"low"`
	Close     string    `json:"close" db:"close"`
	Volume    string    `json:"volume" db:"volume"`
	Pair      string    `json:"pair" db:"pair"`
	Interval  int       `json:"interval" db:"interval"` // seconds, e.g. 86400
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that all numeric fields parse as decimals, that prices and
// volume are non-negative, that high/low bracket open and close, and that the
// identifying fields are set.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be null or zero"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	close, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	for field, v := range map[string]decimal.Decimal{"open": open, "high": high, "low": low, "close": close, "volume": volume} {
		if v.IsNegative() {
			return &ValidationError{Field: field, Message: field + " must be greater than or equal to 0"}
		}
	}

	maxOpenClose := decimal.Max(open, close)
	if high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(open, close)
	if low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	if c.Pair == "" {
		return &ValidationError{Field: "pair", Message: "pair cannot be empty"}
	}
	if c.Interval <= 0 {
		return &ValidationError{Field: "interval", Message: "interval must be a positive number of seconds"}
	}

	return nil
}

// Record converts the candle into the float64 record used by the analysis
// core. Only open, close and volume are parsed; high and low are not needed
// downstream and may be empty.
func (c *Candle) Record() (Record, error) {
	open, err := parseFloat("open", c.Open)
	if err != nil {
		return Record{}, err
	}
	close, err := parseFloat("close", c.Close)
	if err != nil {
		return Record{}, err
	}
	volume, err := parseFloat("volume", c.Volume)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Timestamp: c.Timestamp,
		Open:      open,
		Close:     close,
		Volume:    volume,
	}, nil
}

func parseFloat(field, s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &ValidationError{Field: field, Message: fmt.Sprintf("invalid %s format: %v", field, err)}
	}
	f, _ := d.Float64()
	return f, nil
}

// String returns a human-readable string representation of the candle.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Pair: %s, Interval: %d, Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Pair, c.Interval, c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// NewCandle creates a new Candle and validates it.
//
// Example:
//
//	candle, err := NewCandle(
//	    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
//	    "100.50", "101.00", "100.00", "100.75", "1000.5",
//	    "BTC-USD", 86400,
//	)
func NewCandle(timestamp time.Time, open, high, low, close, volume, pair string, interval int) (*Candle, error) {
	candle := &Candle{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Pair:      pair,
		Interval:  interval,
	}

	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create candle: %w", err)
	}

	return candle, nil
}
