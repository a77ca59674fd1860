// Package analysis implements the consecutive favorable day scanner and the
// compounding return simulator. Both are pure functions over an in-memory
// series: they perform no I/O and never log.
package analysis

import (
	"fmt"
	"math"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// Run is one detected stretch of favorable days.
//
// StartIndex is the index at which the consecutive counter first reached the
// threshold and EndIndex is the first index that broke the condition.
// TerminalCounter is the counter value at the break, which is always 0.
type Run struct {
	StartIndex      int `json:"start_index"`
	EndIndex        int `json:"end_index"`
	TerminalCounter int `json:"terminal_counter"`
}

// DetectorConfig holds the scan parameters.
type DetectorConfig struct {
	// PriceTolerance is the fraction of the previous day's price the price
	// may drop by and still count as favorable (0.01 = 1%).
	PriceTolerance float64 `json:"price_tolerance"`

	// VolumeTolerance is the same slack applied to volume.
	VolumeTolerance float64 `json:"volume_tolerance"`

	// Threshold is the counter value that opens a run.
	Threshold int `json:"threshold"`
}

// Validate rejects thresholds below one and negative or NaN tolerances.
func (c DetectorConfig) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be at least 1, got %d", ErrConfiguration, c.Threshold)
	}
	if math.IsNaN(c.PriceTolerance) || c.PriceTolerance < 0 {
		return fmt.Errorf("%w: price tolerance must be a non-negative number, got %v", ErrConfiguration, c.PriceTolerance)
	}
	if math.IsNaN(c.VolumeTolerance) || c.VolumeTolerance < 0 {
		return fmt.Errorf("%w: volume tolerance must be a non-negative number, got %v", ErrConfiguration, c.VolumeTolerance)
	}
	return nil
}

// Favorable reports whether day i did not drop by more than the configured
// tolerances relative to day i-1, for both reference price and volume.
func (c DetectorConfig) Favorable(prev, cur models.Record) bool {
	prevPrice := prev.Price()
	priceSlack := prevPrice * c.PriceTolerance
	volumeSlack := prev.Volume * c.VolumeTolerance

	return cur.Price() >= prevPrice-priceSlack && cur.Volume >= prev.Volume-volumeSlack
}

// scanState is either idle or holding an open run.
type scanState struct {
	open  bool
	start int
}

// DetectRuns scans the series once and returns the closed runs in ascending
// start order.
//
// The counter starts at 1, increments on each favorable day and resets to 0
// on any other day. The day it equals the threshold opens a run; the next
// reset closes it. A run still open when the series ends is dropped. Series
// shorter than two records yield no runs.
func DetectRuns(series *models.Series, cfg DetectorConfig) ([]Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runs := make([]Run, 0)
	if series == nil || series.Len() < 2 {
		return runs, nil
	}

	counter := 1
	var state scanState

	for i := 1; i < series.Len(); i++ {
		if cfg.Favorable(series.At(i-1), series.At(i)) {
			counter++
		} else {
			counter = 0
		}

		switch {
		case counter == cfg.Threshold:
			if !state.open {
				state = scanState{open: true, start: i}
			}
		case counter == 0 && state.open:
			runs = append(runs, Run{StartIndex: state.start, EndIndex: i, TerminalCounter: counter})
			state = scanState{}
		}
	}

	return runs, nil
}
