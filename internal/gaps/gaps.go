// Package gaps finds missing periods in a candle series. The analysis does
// not fill gaps; a gap only means two consecutive records are further apart
// than one interval, which the run detector would otherwise treat as
// adjacent days.
package gaps

import (
	"errors"
	"fmt"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// ErrUnordered is returned when timestamps repeat or go backwards.
var ErrUnordered = errors.New("series timestamps are not strictly ascending")

// Gap is a run of missing records between two present ones.
type Gap struct {
	After   time.Time `json:"after"`   // last record before the gap
	Before  time.Time `json:"before"`  // first record after the gap
	Missing int       `json:"missing"` // expected records absent in between
}

// Duration returns the time between the records bordering the gap.
func (g Gap) Duration() time.Duration {
	return g.Before.Sub(g.After)
}

func (g Gap) String() string {
	return fmt.Sprintf("%d missing between %s and %s",
		g.Missing, g.After.UTC().Format(time.RFC3339), g.Before.UTC().Format(time.RFC3339))
}

// Check walks the series once and reports every gap. interval is the expected
// spacing in seconds.
func Check(series *models.Series, interval int) ([]Gap, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", interval)
	}
	if series == nil {
		return nil, nil
	}

	step := time.Duration(interval) * time.Second
	var found []Gap

	for i := 1; i < series.Len(); i++ {
		prev, cur := series.At(i-1).Timestamp, series.At(i).Timestamp
		delta := cur.Sub(prev)
		if delta <= 0 {
			return found, fmt.Errorf("%w: record %d (%s) does not follow %s",
				ErrUnordered, i, cur.UTC().Format(time.RFC3339), prev.UTC().Format(time.RFC3339))
		}
		if delta <= step {
			continue
		}

		// expected slots strictly between prev and cur
		missing := int(delta / step)
		if delta%step == 0 {
			missing--
		}
		found = append(found, Gap{After: prev, Before: cur, Missing: missing})
	}

	return found, nil
}

// TotalMissing sums Missing over gaps.
func TotalMissing(gaps []Gap) int {
	total := 0
	for _, g := range gaps {
		total += g.Missing
	}
	return total
}
