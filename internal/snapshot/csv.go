package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/shopspring/decimal"
)

// Columns is the header written to every snapshot.
var Columns = []string{"time", "low", "high", "open", "close", "volume"}

var required = []string{"time", "open", "close", "volume"}

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func decode(r io.Reader, pair string, interval int) ([]models.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var candles []models.Candle
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		c, err := decodeRow(row, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c.Pair = pair
		c.Interval = interval
		candles = append(candles, c)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

func decodeRow(row []string, index map[string]int) (models.Candle, error) {
	field := func(name string) (string, bool) {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	ts, _ := field("time")
	timestamp, err := parseTime(ts)
	if err != nil {
		return models.Candle{}, err
	}

	values := make(map[string]decimal.Decimal, 5)
	for _, name := range []string{"open", "close", "volume"} {
		raw, _ := field(name)
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		values[name] = d
	}

	// high and low are optional; derive them from the body when absent
	for _, name := range []string{"high", "low"} {
		raw, ok := field(name)
		if !ok || raw == "" {
			if name == "high" {
				values[name] = decimal.Max(values["open"], values["close"])
			} else {
				values[name] = decimal.Min(values["open"], values["close"])
			}
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		values[name] = d
	}

	return models.Candle{
		Timestamp: timestamp,
		Open:      values["open"].String(),
		High:      values["high"].String(),
		Low:       values["low"].String(),
		Close:     values["close"].String(),
		Volume:    values["volume"].String(),
	}, nil
}

func encode(w io.Writer, candles []models.Candle, interval int) error {
	layout := "2006-01-02 15:04:05"
	if dailyOnly(candles, interval) {
		layout = "2006-01-02"
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}
	for _, c := range candles {
		row := []string{c.Timestamp.UTC().Format(layout), c.Low, c.High, c.Open, c.Close, c.Volume}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// dailyOnly reports whether every timestamp falls on midnight UTC, in which
// case the date alone is written.
func dailyOnly(candles []models.Candle, interval int) bool {
	if interval%86400 != 0 {
		return false
	}
	for _, c := range candles {
		t := c.Timestamp.UTC()
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 {
			return false
		}
	}
	return true
}
