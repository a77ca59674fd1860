package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 86400

func day0(offset int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func candles(pair string, closes ...string) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: day0(i),
			Open:      c, High: c, Low: c, Close: c,
			Volume: "10",
			Pair:   pair, Interval: day,
		}
	}
	return out
}

func TestFileName(t *testing.T) {
	name := FileName("BTC-USD", day, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "BTC-USD_86400_2024-03-05-00-00.csv", name)

	snap, err := ParseFileName(filepath.Join("data", "86400", name))
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", snap.Pair)
	assert.Equal(t, day, snap.Interval)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), snap.Last)
}

func TestParseFileName_Rejects(t *testing.T) {
	for _, name := range []string{
		"BTC-USD_86400_2024-03-05-00-00.txt",
		"BTC-USD_2024-03-05-00-00.csv",
		"BTC-USD_daily_2024-03-05-00-00.csv",
		"BTC-USD_86400_yesterday.csv",
		"_86400_2024-03-05-00-00.csv",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFileName(name)
			assert.Error(t, err)
		})
	}
}

func TestStore_Latest(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	dir := store.Dir(day)

	writeFile(t, dir, "BTC-USD_86400_2024-01-05-00-00.csv", "time,open,close,volume\n")
	newest := writeFile(t, dir, "BTC-USD_86400_2024-02-01-00-00.csv", "time,open,close,volume\n")
	writeFile(t, dir, "BTC-USD_86400_broken.csv", "")
	writeFile(t, dir, "ETH-USD_86400_2024-03-01-00-00.csv", "time,open,close,volume\n")
	writeFile(t, dir, "notes.txt", "ignore me")

	snap, err := store.Latest("BTC-USD", day)
	require.NoError(t, err)
	assert.Equal(t, newest, snap.Path)

	_, err = store.Latest("DOGE-USD", day)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = store.Latest("BTC-USD", 3600)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_LatestForPairs(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	dir := store.Dir(day)

	eth := writeFile(t, dir, "ETH-USD_86400_2024-03-01-00-00.csv", "")
	btc := writeFile(t, dir, "BTC-USD_86400_2024-02-01-00-00.csv", "")
	writeFile(t, dir, "BTC-USD_86400_2024-01-01-00-00.csv", "")

	found, missing, err := store.LatestForPairs([]string{"BTC-USD", "SOL-USD", "ETH-USD"}, day)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "BTC-USD", found[0].Pair)
	assert.Equal(t, btc, found[0].Path)
	assert.Equal(t, "ETH-USD", found[1].Pair)
	assert.Equal(t, eth, found[1].Path)
	assert.Equal(t, []string{"SOL-USD"}, missing)
}

func TestStore_Pairs(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	dir := store.Dir(day)

	writeFile(t, dir, "SOL-USD_86400_2024-03-01-00-00.csv", "")
	writeFile(t, dir, "BTC-USD_86400_2024-02-01-00-00.csv", "")
	writeFile(t, dir, "BTC-USD_86400_2024-01-01-00-00.csv", "")

	pairs, err := store.Pairs(day)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "SOL-USD"}, pairs)

	pairs, err = store.Pairs(60)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	in := candles("BTC-USD", "100.5", "101", "99.25")

	snap, err := store.Write("BTC-USD", day, in)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD_86400_2024-01-03-00-00.csv", filepath.Base(snap.Path))
	assert.Equal(t, day0(2), snap.Last)

	raw, err := os.ReadFile(snap.Path)
	require.NoError(t, err)
	assert.Equal(t, "time,low,high,open,close,volume\n"+
		"2024-01-01,100.5,100.5,100.5,100.5,10\n"+
		"2024-01-02,101,101,101,101,10\n"+
		"2024-01-03,99.25,99.25,99.25,99.25,10\n", string(raw))

	out, err := store.Read(snap)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// no temporary files are left behind
	entries, err := os.ReadDir(store.Dir(day))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_WriteIntraday(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	in := []models.Candle{{
		Timestamp: time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
		Open:      "1", High: "1", Low: "1", Close: "1", Volume: "1",
		Pair: "BTC-USD", Interval: 21600,
	}}

	snap, err := store.Write("BTC-USD", 21600, in)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD_21600_2024-01-01-06-00.csv", filepath.Base(snap.Path))

	raw, err := os.ReadFile(snap.Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "2024-01-01 06:00:00,1,1,1,1,1")
}

func TestStore_WriteEmpty(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	_, err := store.Write("BTC-USD", day, nil)
	assert.Error(t, err)
}

func TestStore_Read(t *testing.T) {
	dir := t.TempDir()

	t.Run("column order is free and rows are sorted", func(t *testing.T) {
		path := writeFile(t, dir, "A-USD_86400_2024-01-02-00-00.csv",
			"volume,close,open,time\n5,2,1,2024-01-02\n4,1,1,2024-01-01\n")
		snap, err := ParseFileName(path)
		require.NoError(t, err)

		out, err := NewStore(dir, nil).Read(snap)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, day0(0), out[0].Timestamp)
		assert.Equal(t, "1", out[0].Close)
		assert.Equal(t, "2", out[1].Close)
		// missing high and low are derived from the body
		assert.Equal(t, "2", out[1].High)
		assert.Equal(t, "1", out[1].Low)
		assert.Equal(t, "A-USD", out[1].Pair)
	})

	t.Run("accepts timestamp layouts", func(t *testing.T) {
		path := writeFile(t, dir, "B-USD_3600_2024-01-01-02-00.csv",
			"time,open,close,volume\n2024-01-01 00:00:00,1,1,1\n2024-01-01T01:00:00Z,1,1,1\n2024-01-01T02:00:00,1,1,1\n")
		snap, err := ParseFileName(path)
		require.NoError(t, err)

		out, err := NewStore(dir, nil).Read(snap)
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), out[2].Timestamp)
	})

	t.Run("missing column", func(t *testing.T) {
		path := writeFile(t, dir, "C-USD_86400_2024-01-01-00-00.csv", "time,open,close\n2024-01-01,1,1\n")
		snap, err := ParseFileName(path)
		require.NoError(t, err)

		_, err = NewStore(dir, nil).Read(snap)
		var ferr *FileError
		require.True(t, errors.As(err, &ferr))
		assert.Equal(t, "read", ferr.Op)
		assert.Contains(t, err.Error(), `missing column "volume"`)
	})

	t.Run("malformed number", func(t *testing.T) {
		path := writeFile(t, dir, "D-USD_86400_2024-01-01-00-00.csv", "time,open,close,volume\n2024-01-01,1,abc,1\n")
		snap, err := ParseFileName(path)
		require.NoError(t, err)

		_, err = NewStore(dir, nil).Read(snap)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
		assert.Contains(t, err.Error(), "invalid close")
	})
}

func TestStore_LoadSeries(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	_, err := store.Write("BTC-USD", day, candles("BTC-USD", "1", "2"))
	require.NoError(t, err)
	_, err = store.Write("BTC-USD", day, candles("BTC-USD", "1", "2", "3"))
	require.NoError(t, err)

	var loader models.SeriesLoader = store
	series, err := loader.LoadSeries(context.Background(), "BTC-USD", day)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, series.Closes())
	assert.Equal(t, "BTC-USD", series.Pair)
	assert.Equal(t, day, series.Interval)

	_, err = store.LoadSeries(context.Background(), "ETH-USD", day)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.LoadSeries(ctx, "BTC-USD", day)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Remove(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	snap, err := store.Write("BTC-USD", day, candles("BTC-USD", "1"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(snap))
	assert.NoFileExists(t, snap.Path)

	err = store.Remove(snap)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
