package chart

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// ErrDegenerateSeries marks a series that cannot be normalised: no records,
// a zero first close under growth normalisation, or a flat range.
var ErrDegenerateSeries = errors.New("series cannot be normalised")

// NormalizeOptions selects how closes are rescaled.
type NormalizeOptions struct {
	// ByPercentageGrowth plots (close/close0 - 1) * 100. Otherwise closes are
	// min-max scaled to 0..100.
	ByPercentageGrowth bool

	// StartFromZero shifts a min-max scaled line so its first point is 0.
	StartFromZero bool
}

// Normalize rescales closes for the overlay chart.
func Normalize(closes []float64, o NormalizeOptions) ([]float64, error) {
	if len(closes) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrDegenerateSeries)
	}
	out := make([]float64, len(closes))

	if o.ByPercentageGrowth {
		first := closes[0]
		if first == 0 {
			return nil, fmt.Errorf("%w: first close is zero", ErrDegenerateSeries)
		}
		for i, c := range closes {
			out[i] = (c/first - 1) * 100
		}
		return out, nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range closes {
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	if hi == lo {
		return nil, fmt.Errorf("%w: closes are flat at %v", ErrDegenerateSeries, lo)
	}
	for i, c := range closes {
		out[i] = (c - lo) / (hi - lo) * 100
	}
	if o.StartFromZero {
		base := out[0]
		for i := range out {
			out[i] -= base
		}
	}
	return out, nil
}

// GrowthRates returns close_t/close_{t-1} - 1 per step. The first rate is 0,
// as is any step from a zero close.
func GrowthRates(closes []float64) []float64 {
	rates := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rates[i] = closes[i]/closes[i-1] - 1
	}
	return rates
}

// Line is one pair's data on the overlay chart.
type Line struct {
	Pair       string
	Times      []time.Time
	Closes     []float64
	Normalized []float64
	Growth     []float64
}

// NewLine normalises a series into a Line.
func NewLine(series *models.Series, o NormalizeOptions) (Line, error) {
	closes := series.Closes()
	normalized, err := Normalize(closes, o)
	if err != nil {
		return Line{}, fmt.Errorf("%s: %w", series.Pair, err)
	}

	times := make([]time.Time, series.Len())
	for i, r := range series.Records {
		times[i] = r.Timestamp
	}

	return Line{
		Pair:       series.Pair,
		Times:      times,
		Closes:     closes,
		Normalized: normalized,
		Growth:     GrowthRates(closes),
	}, nil
}

// Leader names the pair with the highest growth at one timestamp.
type Leader struct {
	Time time.Time
	Pair string
	Rate float64
}

// Strongest returns, for every timestamp present in any line, the pair with
// the highest growth rate there. Ties go to the line listed first. The result
// is in ascending time order.
func Strongest(lines []Line) []Leader {
	best := make(map[int64]Leader)
	for _, l := range lines {
		for i, t := range l.Times {
			key := t.Unix()
			cur, ok := best[key]
			if !ok || l.Growth[i] > cur.Rate {
				best[key] = Leader{Time: t, Pair: l.Pair, Rate: l.Growth[i]}
			}
		}
	}

	out := make([]Leader, 0, len(best))
	for _, leader := range best {
		out = append(out, leader)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// timeAxis returns the sorted union of every line's timestamps.
func timeAxis(lines []Line) []time.Time {
	seen := make(map[int64]time.Time)
	for _, l := range lines {
		for _, t := range l.Times {
			seen[t.Unix()] = t
		}
	}
	axis := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		axis = append(axis, t)
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })
	return axis
}
