package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidWindow is returned by Series.Trim for negative offsets.
var ErrInvalidWindow = errors.New("invalid series window")

// Record is one daily observation as consumed by the analysis core.
type Record struct {
	Timestamp time.Time
	Open      float64
	Close     float64
	Volume    float64
}

// Price is the reference price of the record: the larger of open and close.
func (r Record) Price() float64 {
	return math.Max(r.Open, r.Close)
}

// Series is an ordered, chronologically ascending run of records for one
// trading pair and interval. Index 0 is the oldest record.
type Series struct {
	Pair     string
	Interval int
	Records  []Record
}

// Len returns the number of records in the series.
func (s *Series) Len() int {
	return len(s.Records)
}

// At returns the record at index i.
func (s *Series) At(i int) Record {
	return s.Records[i]
}

// Closes returns the close prices in series order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Close
	}
	return out
}

// Trim drops startFrom records from the front and removeLast records from the
// back, mirroring the slice rows[startFrom:len-removeLast]. A window that
// closes before it opens yields an empty series.
func (s *Series) Trim(startFrom, removeLast int) (*Series, error) {
	if startFrom < 0 || removeLast < 0 {
		return nil, fmt.Errorf("%w: start_from=%d remove_last=%d must not be negative", ErrInvalidWindow, startFrom, removeLast)
	}

	end := len(s.Records) - removeLast
	if end < 0 {
		end = 0
	}
	start := startFrom
	if start > end {
		start = end
	}

	return s.withRecords(s.Records[start:end]), nil
}

// Between keeps the records whose timestamp lies in [start, end]. A zero
// bound is treated as open.
func (s *Series) Between(start, end time.Time) *Series {
	kept := make([]Record, 0, len(s.Records))
	for _, r := range s.Records {
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		kept = append(kept, r)
	}
	return s.withRecords(kept)
}

func (s *Series) withRecords(records []Record) *Series {
	out := make([]Record, len(records))
	copy(out, records)
	return &Series{Pair: s.Pair, Interval: s.Interval, Records: out}
}

// SeriesFromCandles converts candles into a series. Candles are expected to
// already be in ascending timestamp order.
func SeriesFromCandles(pair string, interval int, candles []Candle) (*Series, error) {
	records := make([]Record, 0, len(candles))
	for i := range candles {
		r, err := candles[i].Record()
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", i, candles[i].Timestamp.Format(time.RFC3339), err)
		}
		records = append(records, r)
	}
	return &Series{Pair: pair, Interval: interval, Records: records}, nil
}

// SeriesLoader supplies the series for one pair and interval, oldest record
// first. Snapshot files and the candle stores both satisfy it.
type SeriesLoader interface {
	LoadSeries(ctx context.Context, pair string, interval int) (*Series, error)
}
