package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// closeSeries builds a daily series whose open equals close and whose volume
// is constant.
func closeSeries(closes ...float64) *models.Series {
	records := make([]models.Record, len(closes))
	for i, c := range closes {
		records[i] = models.Record{
			Timestamp: testStart.AddDate(0, 0, i),
			Open:      c,
			Close:     c,
			Volume:    100,
		}
	}
	return &models.Series{Pair: "TEST-USD", Interval: 86400, Records: records}
}

func strict(threshold int) DetectorConfig {
	return DetectorConfig{Threshold: threshold}
}

func TestDetectRuns_ShortSeries(t *testing.T) {
	tests := []struct {
		name   string
		series *models.Series
	}{
		{name: "nil series", series: nil},
		{name: "empty series", series: closeSeries()},
		{name: "single record", series: closeSeries(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, cfg := range []DetectorConfig{strict(1), strict(3), {PriceTolerance: 0.5, VolumeTolerance: 0.5, Threshold: 2}} {
				runs, err := DetectRuns(tt.series, cfg)
				require.NoError(t, err)
				assert.Empty(t, runs)
			}
		})
	}
}

func TestDetectRuns_WorkedExample(t *testing.T) {
	series := closeSeries(10, 11, 12, 11, 9)

	runs, err := DetectRuns(series, strict(2))
	require.NoError(t, err)

	assert.Equal(t, []Run{{StartIndex: 1, EndIndex: 3, TerminalCounter: 0}}, runs)
}

func TestDetectRuns_ThresholdBoundary(t *testing.T) {
	// three favorable steps then one unfavorable; the counter starts at 1 so
	// it first equals 3 at index 2
	series := closeSeries(1, 2, 3, 4, 3)

	runs, err := DetectRuns(series, strict(3))
	require.NoError(t, err)

	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].StartIndex)
	assert.Equal(t, 4, runs[0].EndIndex)
	assert.Equal(t, 0, runs[0].TerminalCounter)
}

func TestDetectRuns_OpenRunAtEndIsDropped(t *testing.T) {
	runs, err := DetectRuns(closeSeries(1, 2, 3, 4, 5), strict(2))
	require.NoError(t, err)
	assert.Empty(t, runs)

	runs, err = DetectRuns(closeSeries(1, 2, 1, 2, 3, 4), strict(2))
	require.NoError(t, err)
	assert.Equal(t, []Run{{StartIndex: 1, EndIndex: 2}}, runs)
}

func TestDetectRuns_CounterRestartsFromZero(t *testing.T) {
	// after a break the counter is 0, so reaching 2 takes two favorable days
	series := closeSeries(1, 2, 1, 2, 3, 4, 1)

	runs, err := DetectRuns(series, strict(2))
	require.NoError(t, err)

	assert.Equal(t, []Run{
		{StartIndex: 1, EndIndex: 2},
		{StartIndex: 4, EndIndex: 6},
	}, runs)
}

func TestDetectRuns_ThresholdOne(t *testing.T) {
	// the first step is unfavorable so the counter hits 0 with nothing open,
	// then one favorable day brings it to 1
	runs, err := DetectRuns(closeSeries(5, 4, 5, 4), strict(1))
	require.NoError(t, err)

	assert.Equal(t, []Run{{StartIndex: 2, EndIndex: 3}}, runs)
}

func TestDetectRuns_NoRunsOnFallingSeries(t *testing.T) {
	runs, err := DetectRuns(closeSeries(10, 9, 8, 7, 6), strict(1))
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDetectRuns_Tolerances(t *testing.T) {
	t.Run("price drop within tolerance stays favorable", func(t *testing.T) {
		series := closeSeries(100, 99.5, 99.1, 90)
		cfg := DetectorConfig{PriceTolerance: 0.01, Threshold: 2}

		runs, err := DetectRuns(series, cfg)
		require.NoError(t, err)
		assert.Equal(t, []Run{{StartIndex: 1, EndIndex: 3}}, runs)

		runs, err = DetectRuns(series, strict(2))
		require.NoError(t, err)
		assert.Empty(t, runs, "without slack the first step already breaks")
	})

	t.Run("volume drop beyond tolerance breaks the run", func(t *testing.T) {
		series := closeSeries(1, 2, 3, 4)
		series.Records[2].Volume = 95
		series.Records[3].Volume = 50
		cfg := DetectorConfig{VolumeTolerance: 0.1, Threshold: 2}

		runs, err := DetectRuns(series, cfg)
		require.NoError(t, err)
		assert.Equal(t, []Run{{StartIndex: 1, EndIndex: 3}}, runs)
	})

	t.Run("slack is exact at the boundary", func(t *testing.T) {
		series := closeSeries(100, 75, 50)
		cfg := DetectorConfig{PriceTolerance: 0.25, Threshold: 2}

		// 75 >= 100-25 is favorable, 50 >= 75-18.75 is not
		runs, err := DetectRuns(series, cfg)
		require.NoError(t, err)
		assert.Equal(t, []Run{{StartIndex: 1, EndIndex: 2}}, runs)
	})
}

func TestDetectRuns_ReferencePriceIsMaxOfOpenClose(t *testing.T) {
	series := &models.Series{Records: []models.Record{
		{Open: 10, Close: 10, Volume: 1},
		{Open: 12, Close: 8, Volume: 1},
		{Open: 7, Close: 7, Volume: 1},
	}}

	runs, err := DetectRuns(series, strict(2))
	require.NoError(t, err)
	assert.Equal(t, []Run{{StartIndex: 1, EndIndex: 2}}, runs)
}

func TestDetectRuns_NaNIsUnfavorable(t *testing.T) {
	series := closeSeries(1, 2, 3)
	series.Records[2].Volume = math.NaN()

	runs, err := DetectRuns(series, strict(2))
	require.NoError(t, err)
	assert.Equal(t, []Run{{StartIndex: 1, EndIndex: 2}}, runs)
}

func TestDetectRuns_RunsAreOrderedAndDisjoint(t *testing.T) {
	closes := []float64{1, 2, 3, 1, 2, 3, 4, 2, 3, 4, 5, 6, 1, 1, 1, 0.5}
	runs, err := DetectRuns(closeSeries(closes...), strict(2))
	require.NoError(t, err)
	require.NotEmpty(t, runs)

	for i, r := range runs {
		assert.Less(t, r.StartIndex, r.EndIndex)
		assert.Zero(t, r.TerminalCounter)
		if i > 0 {
			assert.Greater(t, r.StartIndex, runs[i-1].EndIndex)
		}
	}
}

func TestDetectorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DetectorConfig
		wantErr bool
	}{
		{name: "valid", cfg: DetectorConfig{PriceTolerance: 0.01, VolumeTolerance: 0.01, Threshold: 3}},
		{name: "zero tolerances", cfg: DetectorConfig{Threshold: 1}},
		{name: "zero threshold", cfg: DetectorConfig{Threshold: 0}, wantErr: true},
		{name: "negative threshold", cfg: DetectorConfig{Threshold: -2}, wantErr: true},
		{name: "negative price tolerance", cfg: DetectorConfig{PriceTolerance: -0.1, Threshold: 1}, wantErr: true},
		{name: "negative volume tolerance", cfg: DetectorConfig{VolumeTolerance: -0.1, Threshold: 1}, wantErr: true},
		{name: "NaN price tolerance", cfg: DetectorConfig{PriceTolerance: math.NaN(), Threshold: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrConfiguration)

			_, err = DetectRuns(closeSeries(1, 2, 3), tt.cfg)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}
