// Package recorder keeps a history of analysis runs so parameter sweeps can
// be compared later.
package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/johnayoung/go-streak-analyzer/internal/analysis"
)

// AnalysisRecord is one analyze invocation for one pair.
type AnalysisRecord struct {
	ID        string
	CreatedAt time.Time

	Pair       string
	Interval   int
	Records    int // series length after trimming
	StartFrom  int
	RemoveLast int

	PriceTolerance  float64
	VolumeTolerance float64
	Threshold       int
	Investment      float64

	Runs             int
	FinalBalance     float64
	TotalProfit      float64
	AvgReturnPerYear float64
	CAGRPercent      float64
	ElapsedYears     float64
}

// Params are the inputs of an analysis run.
type Params struct {
	Pair       string
	Interval   int
	StartFrom  int
	RemoveLast int
	Detector   analysis.DetectorConfig
	Investment float64
}

// NewAnalysisRecord builds a record with a fresh ID from the run inputs and
// the simulation result.
func NewAnalysisRecord(p Params, records int, result *analysis.SimulationResult) *AnalysisRecord {
	rec := &AnalysisRecord{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Pair:            p.Pair,
		Interval:        p.Interval,
		Records:         records,
		StartFrom:       p.StartFrom,
		RemoveLast:      p.RemoveLast,
		PriceTolerance:  p.Detector.PriceTolerance,
		VolumeTolerance: p.Detector.VolumeTolerance,
		Threshold:       p.Detector.Threshold,
		Investment:      p.Investment,
	}
	if result != nil {
		rec.Runs = len(result.Positions)
		rec.FinalBalance = result.FinalBalance
		rec.TotalProfit = result.TotalProfitPercent
		rec.AvgReturnPerYear = result.AvgReturnPerYear
		rec.CAGRPercent = result.CAGRPercent
		rec.ElapsedYears = result.ElapsedYears
	}
	return rec
}

// Recorder persists analysis runs.
type Recorder interface {
	RecordAnalysis(ctx context.Context, rec *AnalysisRecord) error
	Close() error
}
