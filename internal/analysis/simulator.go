package analysis

import (
	"fmt"
	"math"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

const (
	// DefaultInvestment is the starting balance used when none is given.
	DefaultInvestment = 100.0

	daysPerYear = 365.0
)

// Position is the trade implied by one run: bought at the close of the start
// day and sold at the close of the break day.
type Position struct {
	Run          Run     `json:"run"`
	EntryPrice   float64 `json:"entry_price"`
	ExitPrice    float64 `json:"exit_price"`
	Return       float64 `json:"return"` // fraction, 0.05 = +5%
	BalanceAfter float64 `json:"balance_after"`
}

// SimulationResult summarises a compounding pass over a list of runs.
type SimulationResult struct {
	Investment float64    `json:"investment"`
	Positions  []Position `json:"positions"`

	// PerRunProfitPercent holds each position's return multiplied by 100.
	PerRunProfitPercent []float64 `json:"per_run_profit_percent"`

	FinalBalance float64 `json:"final_balance"`

	// TotalProfitPercent is FinalBalance minus Investment. It only reads as
	// a percentage of principal when Investment is 100.
	TotalProfitPercent float64 `json:"total_profit_percent"`

	AvgReturnPerYear float64 `json:"avg_return_per_year"`
	CAGRPercent      float64 `json:"cagr_percent"`
	ElapsedYears     float64 `json:"elapsed_years"`
}

// Simulate compounds investment through each run in order and derives the
// annualised statistics. Time between runs is ignored; elapsed time is the
// series length in days over 365.
//
// Zero entry prices, an empty series and a non-positive final balance are
// reported as ErrArithmeticDomain. An empty series also matches
// ErrInsufficientData.
func Simulate(series *models.Series, runs []Run, investment float64) (*SimulationResult, error) {
	if math.IsNaN(investment) || investment <= 0 {
		return nil, fmt.Errorf("%w: investment must be positive, got %v", ErrConfiguration, investment)
	}

	n := 0
	if series != nil {
		n = series.Len()
	}

	result := &SimulationResult{
		Investment:          investment,
		Positions:           make([]Position, 0, len(runs)),
		PerRunProfitPercent: make([]float64, 0, len(runs)),
	}

	balance := investment
	for i, run := range runs {
		if run.StartIndex < 0 || run.StartIndex >= n || run.EndIndex < 0 || run.EndIndex >= n {
			return nil, fmt.Errorf("%w: position %d spans [%d, %d] over %d records", ErrRunOutOfRange, i+1, run.StartIndex, run.EndIndex, n)
		}

		entry := series.At(run.StartIndex).Close
		exit := series.At(run.EndIndex).Close
		if entry == 0 {
			return nil, fmt.Errorf("%w: position %d has zero entry price at index %d", ErrArithmeticDomain, i+1, run.StartIndex)
		}

		ret := (exit - entry) / entry
		balance = (1 + ret) * balance

		result.Positions = append(result.Positions, Position{
			Run:          run,
			EntryPrice:   entry,
			ExitPrice:    exit,
			Return:       ret,
			BalanceAfter: balance,
		})
		result.PerRunProfitPercent = append(result.PerRunProfitPercent, ret*100)
	}

	result.FinalBalance = balance
	result.TotalProfitPercent = balance - investment

	if n == 0 {
		return nil, fmt.Errorf("%w: %w: cannot annualise an empty series", ErrArithmeticDomain, ErrInsufficientData)
	}
	result.ElapsedYears = float64(n) / daysPerYear
	result.AvgReturnPerYear = result.TotalProfitPercent / result.ElapsedYears

	ratio := balance / investment
	if !(ratio > 0) {
		return nil, fmt.Errorf("%w: growth ratio %v has no real root for CAGR", ErrArithmeticDomain, ratio)
	}
	result.CAGRPercent = (math.Pow(ratio, 1/result.ElapsedYears) - 1) * 100

	return result, nil
}
