package validator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

func candle(day int, high, volume string) models.Candle {
	return models.Candle{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Open:      high,
		High:      high,
		Low:       high,
		Close:     high,
		Volume:    volume,
		Pair:      "BTC-USD",
		Interval:  86400,
	}
}

func newValidator(t *testing.T) *OHLCVValidator {
	v, err := NewOHLCVValidator(NewValidationConfig(), nil)
	require.NoError(t, err)
	return v
}

func TestValidateCandles(t *testing.T) {
	candles := []models.Candle{
		candle(0, "100", "10"),
		candle(1, "110", "12"),
		candle(2, "600", "12"),  // 5.45x high
		candle(3, "610", "250"), // 20.8x volume
		candle(4, "0", "0"),
		candle(5, "50", "5"), // previous values are zero
	}

	anomalies, err := newValidator(t).ValidateCandles(context.Background(), candles)
	require.NoError(t, err)
	require.Len(t, anomalies, 2)

	assert.Equal(t, AnomalyTypePriceSpike, anomalies[0].Type)
	assert.Equal(t, 2, anomalies[0].Index)
	assert.Equal(t, SeverityWarning, anomalies[0].Severity)
	assert.Equal(t, "5.45", anomalies[0].Ratio.StringFixed(2))

	assert.Equal(t, AnomalyTypeVolumeSurge, anomalies[1].Type)
	assert.Equal(t, 3, anomalies[1].Index)
	assert.Equal(t, SeverityCritical, anomalies[1].Severity)
	assert.Equal(t, "critical volume_surge at 2024-01-04: 12 -> 250 (x20.83, threshold x10)", anomalies[1].String())

	counts := CountByType(anomalies)
	assert.Equal(t, 1, counts[AnomalyTypePriceSpike])
	assert.Equal(t, 1, counts[AnomalyTypeVolumeSurge])
}

func TestValidateCandles_ExactThresholdIsNotAnomalous(t *testing.T) {
	anomalies, err := newValidator(t).ValidateCandles(context.Background(), []models.Candle{
		candle(0, "10", "1"),
		candle(1, "50", "10"),
	})
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestValidateCandles_Short(t *testing.T) {
	anomalies, err := newValidator(t).ValidateCandles(context.Background(), []models.Candle{candle(0, "1", "1")})
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestValidateCandles_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newValidator(t).ValidateCandles(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOHLCVValidator_InvalidConfig(t *testing.T) {
	_, err := NewOHLCVValidator(ValidationConfig{PriceSpikeThreshold: 1, VolumeSurgeThreshold: 10}, nil)
	assert.Error(t, err)
	_, err = NewOHLCVValidator(ValidationConfig{PriceSpikeThreshold: 5}, nil)
	assert.Error(t, err)
}
