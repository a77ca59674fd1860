// Package validator flags suspicious candles in a snapshot before it is
// analysed: highs that jump by a large multiple of the previous high, and
// volume that surges far above the previous day's.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// AnomalyType represents the type of anomaly detected
type AnomalyType string

const (
	AnomalyTypePriceSpike  AnomalyType = "price_spike"
	AnomalyTypeVolumeSurge AnomalyType = "volume_surge"
)

// SeverityLevel represents the severity of an anomaly
type SeverityLevel string

const (
	SeverityWarning  SeverityLevel = "warning"
	SeverityCritical SeverityLevel = "critical" // ratio at least twice the threshold
)

// Anomaly is one suspicious candle.
type Anomaly struct {
	Type      AnomalyType
	Severity  SeverityLevel
	Index     int
	Timestamp time.Time
	Current   decimal.Decimal
	Previous  decimal.Decimal
	Ratio     decimal.Decimal
	Threshold decimal.Decimal
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s %s at %s: %s -> %s (x%s, threshold x%s)",
		a.Severity, a.Type, a.Timestamp.UTC().Format("2006-01-02"),
		a.Previous.String(), a.Current.String(), a.Ratio.StringFixed(2), a.Threshold.String())
}

// ValidationConfig holds the detection thresholds as multiples of the
// previous candle's value.
type ValidationConfig struct {
	PriceSpikeThreshold  float64
	VolumeSurgeThreshold float64
}

// NewValidationConfig returns a 5x price spike and 10x volume surge config.
func NewValidationConfig() ValidationConfig {
	return ValidationConfig{
		PriceSpikeThreshold:  5.0,
		VolumeSurgeThreshold: 10.0,
	}
}

// Validate rejects thresholds at or below 1.
func (c ValidationConfig) Validate() error {
	if !(c.PriceSpikeThreshold > 1) {
		return fmt.Errorf("price spike threshold must be greater than 1, got %v", c.PriceSpikeThreshold)
	}
	if !(c.VolumeSurgeThreshold > 1) {
		return fmt.Errorf("volume surge threshold must be greater than 1, got %v", c.VolumeSurgeThreshold)
	}
	return nil
}

// OHLCVValidator scans candle sequences for anomalies.
type OHLCVValidator struct {
	priceThreshold  decimal.Decimal
	volumeThreshold decimal.Decimal
	logger          *slog.Logger
}

// NewOHLCVValidator creates a validator.
func NewOHLCVValidator(cfg ValidationConfig, logger *slog.Logger) (*OHLCVValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OHLCVValidator{
		priceThreshold:  decimal.NewFromFloat(cfg.PriceSpikeThreshold),
		volumeThreshold: decimal.NewFromFloat(cfg.VolumeSurgeThreshold),
		logger:          logger,
	}, nil
}

// ValidateCandles returns every anomaly in candles, which must be in
// ascending time order, sorted by index.
func (v *OHLCVValidator) ValidateCandles(ctx context.Context, candles []models.Candle) ([]Anomaly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var anomalies []Anomaly
	for i := 1; i < len(candles); i++ {
		prev, cur := &candles[i-1], &candles[i]

		if a, ok := v.compare(AnomalyTypePriceSpike, i, cur.Timestamp, prev.High, cur.High, v.priceThreshold); ok {
			anomalies = append(anomalies, a)
		}
		if a, ok := v.compare(AnomalyTypeVolumeSurge, i, cur.Timestamp, prev.Volume, cur.Volume, v.volumeThreshold); ok {
			anomalies = append(anomalies, a)
		}
	}

	sort.SliceStable(anomalies, func(i, j int) bool { return anomalies[i].Index < anomalies[j].Index })
	return anomalies, nil
}

func (v *OHLCVValidator) compare(kind AnomalyType, i int, at time.Time, previous, current string, threshold decimal.Decimal) (Anomaly, bool) {
	prev, err := decimal.NewFromString(previous)
	if err != nil {
		v.logger.Debug("unparseable value skipped", "type", kind, "index", i-1, "error", err)
		return Anomaly{}, false
	}
	cur, err := decimal.NewFromString(current)
	if err != nil {
		v.logger.Debug("unparseable value skipped", "type", kind, "index", i, "error", err)
		return Anomaly{}, false
	}
	if prev.IsZero() {
		return Anomaly{}, false
	}

	ratio := cur.Div(prev)
	if !ratio.GreaterThan(threshold) {
		return Anomaly{}, false
	}

	severity := SeverityWarning
	if ratio.GreaterThanOrEqual(threshold.Mul(decimal.NewFromInt(2))) {
		severity = SeverityCritical
	}
	return Anomaly{
		Type:      kind,
		Severity:  severity,
		Index:     i,
		Timestamp: at,
		Current:   cur,
		Previous:  prev,
		Ratio:     ratio,
		Threshold: threshold,
	}, true
}

// CountByType tallies anomalies per type.
func CountByType(anomalies []Anomaly) map[AnomalyType]int {
	counts := make(map[AnomalyType]int)
	for _, a := range anomalies {
		counts[a.Type]++
	}
	return counts
}
