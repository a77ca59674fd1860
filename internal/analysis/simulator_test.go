package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// flatSeries returns n daily records with close 1, overridden by closes.
func flatSeries(n int, closes map[int]float64) *models.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = 1
		if c, ok := closes[i]; ok {
			values[i] = c
		}
	}
	return closeSeries(values...)
}

func TestSimulate_NoRuns(t *testing.T) {
	result, err := Simulate(flatSeries(365, nil), nil, DefaultInvestment)
	require.NoError(t, err)

	assert.Empty(t, result.Positions)
	assert.Empty(t, result.PerRunProfitPercent)
	assert.Equal(t, 100.0, result.FinalBalance)
	assert.Equal(t, 0.0, result.TotalProfitPercent)
	assert.Equal(t, 0.0, result.CAGRPercent)
	assert.Equal(t, 0.0, result.AvgReturnPerYear)
	assert.Equal(t, 1.0, result.ElapsedYears)
}

func TestSimulate_WorkedExample(t *testing.T) {
	series := closeSeries(10, 11, 12, 11, 9)

	runs, err := DetectRuns(series, strict(2))
	require.NoError(t, err)

	result, err := Simulate(series, runs, DefaultInvestment)
	require.NoError(t, err)

	require.Len(t, result.Positions, 1)
	assert.Equal(t, 11.0, result.Positions[0].EntryPrice)
	assert.Equal(t, 11.0, result.Positions[0].ExitPrice)
	assert.Equal(t, []float64{0}, result.PerRunProfitPercent)
	assert.Equal(t, 100.0, result.FinalBalance)
	assert.Equal(t, 0.0, result.TotalProfitPercent)
	assert.InDelta(t, 5.0/365.0, result.ElapsedYears, 1e-12)
}

func TestSimulate_CompoundsInRunOrder(t *testing.T) {
	// +50% then -25%, far apart in time
	series := flatSeries(730, map[int]float64{10: 20, 11: 30, 600: 40, 601: 30})
	runs := []Run{{StartIndex: 10, EndIndex: 11}, {StartIndex: 600, EndIndex: 601}}

	result, err := Simulate(series, runs, DefaultInvestment)
	require.NoError(t, err)

	assert.InDelta(t, 100*1.5*0.75, result.FinalBalance, 1e-9)
	assert.InDelta(t, 12.5, result.TotalProfitPercent, 1e-9)
	assert.InDelta(t, 2.0, result.ElapsedYears, 1e-12)
	assert.InDelta(t, 6.25, result.AvgReturnPerYear, 1e-9)
	assert.InDelta(t, (math.Sqrt(1.125)-1)*100, result.CAGRPercent, 1e-9)

	require.Len(t, result.PerRunProfitPercent, 2)
	assert.InDelta(t, 50.0, result.PerRunProfitPercent[0], 1e-9)
	assert.InDelta(t, -25.0, result.PerRunProfitPercent[1], 1e-9)
	assert.InDelta(t, 150.0, result.Positions[0].BalanceAfter, 1e-9)
	assert.InDelta(t, 112.5, result.Positions[1].BalanceAfter, 1e-9)

	adjacent := flatSeries(730, map[int]float64{10: 20, 11: 30, 12: 40, 13: 30})
	spaced, err := Simulate(adjacent, []Run{{StartIndex: 10, EndIndex: 11}, {StartIndex: 12, EndIndex: 13}}, DefaultInvestment)
	require.NoError(t, err)
	assert.InDelta(t, result.FinalBalance, spaced.FinalBalance, 1e-9, "gaps between runs do not matter")
}

func TestSimulate_TotalProfitIsAbsoluteDelta(t *testing.T) {
	series := flatSeries(365, map[int]float64{1: 10, 2: 11})

	result, err := Simulate(series, []Run{{StartIndex: 1, EndIndex: 2}}, 1000)
	require.NoError(t, err)

	assert.InDelta(t, 1100.0, result.FinalBalance, 1e-9)
	assert.InDelta(t, 100.0, result.TotalProfitPercent, 1e-9)
	assert.InDelta(t, 10.0, result.CAGRPercent, 1e-9)
}

func TestSimulate_DomainErrors(t *testing.T) {
	t.Run("zero entry price", func(t *testing.T) {
		series := flatSeries(10, map[int]float64{3: 0, 4: 5})

		_, err := Simulate(series, []Run{{StartIndex: 3, EndIndex: 4}}, DefaultInvestment)
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})

	t.Run("empty series", func(t *testing.T) {
		_, err := Simulate(closeSeries(), nil, DefaultInvestment)
		assert.ErrorIs(t, err, ErrArithmeticDomain)
		assert.ErrorIs(t, err, ErrInsufficientData)

		_, err = Simulate(nil, nil, DefaultInvestment)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("balance wiped out", func(t *testing.T) {
		series := flatSeries(10, map[int]float64{1: 5, 2: 0})

		_, err := Simulate(series, []Run{{StartIndex: 1, EndIndex: 2}}, DefaultInvestment)
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})

	t.Run("run outside the series", func(t *testing.T) {
		_, err := Simulate(flatSeries(5, nil), []Run{{StartIndex: 3, EndIndex: 5}}, DefaultInvestment)
		assert.ErrorIs(t, err, ErrRunOutOfRange)
	})

	t.Run("non-positive investment", func(t *testing.T) {
		_, err := Simulate(flatSeries(5, nil), nil, 0)
		assert.ErrorIs(t, err, ErrConfiguration)

		_, err = Simulate(flatSeries(5, nil), nil, -10)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestSimulate_DetectedRunsEndToEnd(t *testing.T) {
	// both positions exit at the price they entered at
	series := closeSeries(1, 2, 3, 4, 2, 1, 2, 3, 4, 3)

	runs, err := DetectRuns(series, strict(2))
	require.NoError(t, err)
	require.Equal(t, []Run{{StartIndex: 1, EndIndex: 4}, {StartIndex: 7, EndIndex: 9}}, runs)

	result, err := Simulate(series, runs, DefaultInvestment)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, result.PerRunProfitPercent[0], 1e-9)
	assert.InDelta(t, 0.0, result.PerRunProfitPercent[1], 1e-9)
	assert.InDelta(t, 100.0, result.FinalBalance, 1e-9)
}

func TestSimulate_NonFiniteCloses(t *testing.T) {
	runs := []Run{{StartIndex: 1, EndIndex: 2}}

	t.Run("infinite exit propagates", func(t *testing.T) {
		result, err := Simulate(closeSeries(1, 2, math.Inf(1), 1), runs, DefaultInvestment)
		require.NoError(t, err)
		assert.True(t, math.IsInf(result.Positions[0].Return, 1))
		assert.True(t, math.IsInf(result.FinalBalance, 1))
		assert.True(t, math.IsInf(result.TotalProfitPercent, 1))
		assert.True(t, math.IsInf(result.AvgReturnPerYear, 1))
		assert.True(t, math.IsInf(result.CAGRPercent, 1))
	})

	t.Run("NaN exit has no CAGR", func(t *testing.T) {
		_, err := Simulate(closeSeries(1, 2, math.NaN(), 1), runs, DefaultInvestment)
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})

	t.Run("infinite entry has no CAGR", func(t *testing.T) {
		_, err := Simulate(closeSeries(1, math.Inf(1), 2, 1), runs, DefaultInvestment)
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})
}
