package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 86400

func dayAt(offset int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

// testCandles returns daily candles for pair whose close is the given value.
func testCandles(pair string, from int, closes ...string) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: dayAt(from + i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    "12.5",
			Pair:      pair,
			Interval:  day,
		}
	}
	return out
}

// runStoreSuite exercises the behaviour every CandleStore shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) CandleStore) {
	ctx := context.Background()

	t.Run("store and query in order", func(t *testing.T) {
		store := newStore(t)
		in := testCandles("BTC-USD", 0, "100", "101.5", "99.25")
		// stored out of order on purpose
		require.NoError(t, store.Store(ctx, []models.Candle{in[2], in[0], in[1]}))

		resp, err := store.Query(ctx, QueryRequest{Pair: "BTC-USD", Interval: day})
		require.NoError(t, err)
		assert.Equal(t, 3, resp.Total)
		assert.False(t, resp.HasMore)
		assert.Equal(t, in, resp.Candles)
	})

	t.Run("upsert replaces existing timestamps", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, testCandles("BTC-USD", 0, "1", "2")))
		require.NoError(t, store.Store(ctx, testCandles("BTC-USD", 1, "3", "4")))

		resp, err := store.Query(ctx, QueryRequest{Pair: "BTC-USD", Interval: day})
		require.NoError(t, err)
		require.Len(t, resp.Candles, 3)
		assert.Equal(t, "1", resp.Candles[0].Close)
		assert.Equal(t, "3", resp.Candles[1].Close)
		assert.Equal(t, "4", resp.Candles[2].Close)
	})

	t.Run("range and pagination", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, testCandles("ETH-USD", 0, "1", "2", "3", "4", "5")))
		require.NoError(t, store.Store(ctx, testCandles("BTC-USD", 0, "9")))

		resp, err := store.Query(ctx, QueryRequest{Pair: "ETH-USD", Interval: day, Start: dayAt(1), End: dayAt(3)})
		require.NoError(t, err)
		assert.Equal(t, 3, resp.Total)
		require.Len(t, resp.Candles, 3)
		assert.Equal(t, "2", resp.Candles[0].Close)
		assert.Equal(t, "4", resp.Candles[2].Close)

		resp, err = store.Query(ctx, QueryRequest{Pair: "ETH-USD", Interval: day, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, resp.Total)
		assert.True(t, resp.HasMore)
		assert.Equal(t, 4, resp.NextOffset)
		require.Len(t, resp.Candles, 2)
		assert.Equal(t, "3", resp.Candles[0].Close)
	})

	t.Run("latest", func(t *testing.T) {
		store := newStore(t)
		latest, err := store.GetLatest(ctx, "BTC-USD", day)
		require.NoError(t, err)
		assert.Nil(t, latest)

		require.NoError(t, store.Store(ctx, testCandles("BTC-USD", 0, "1", "2", "3")))
		latest, err = store.GetLatest(ctx, "BTC-USD", day)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, dayAt(2), latest.Timestamp)
		assert.Equal(t, "3", latest.Close)
	})

	t.Run("pairs", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, testCandles("SOL-USD", 0, "1")))
		require.NoError(t, store.Store(ctx, testCandles("BTC-USD", 0, "1", "2")))

		pairs, err := store.Pairs(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, []string{"BTC-USD", "SOL-USD"}, pairs)

		pairs, err = store.Pairs(ctx, 3600)
		require.NoError(t, err)
		assert.Empty(t, pairs)
	})

	t.Run("load series", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, testCandles("BTC-USD", 0, "1", "2.5")))

		series, err := store.LoadSeries(ctx, "BTC-USD", day)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2.5}, series.Closes())
		assert.Equal(t, "BTC-USD", series.Pair)

		_, err = store.LoadSeries(ctx, "SOL-USD", day)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("stats", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, testCandles("BTC-USD", 0, "1", "2")))
		require.NoError(t, store.Store(ctx, testCandles("ETH-USD", 3, "1")))

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalCandles)
		assert.Equal(t, 2, stats.TotalPairs)
		assert.Equal(t, dayAt(0), stats.EarliestData)
		assert.Equal(t, dayAt(3), stats.LatestData)
	})

	t.Run("rejects invalid candles", func(t *testing.T) {
		store := newStore(t)
		bad := testCandles("BTC-USD", 0, "1")
		bad[0].High = "0.5"

		err := store.Store(ctx, bad)
		var serr *StorageError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, "insert", serr.Operation)
	})

	t.Run("rejects invalid query", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Query(ctx, QueryRequest{Interval: day})
		assert.Error(t, err)
		_, err = store.Query(ctx, QueryRequest{Pair: "BTC-USD", Interval: day, Start: dayAt(2), End: dayAt(1)})
		assert.Error(t, err)
	})

	t.Run("closed store", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.HealthCheck(ctx))
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.HealthCheck(ctx), ErrClosed)
		_, err := store.Query(ctx, QueryRequest{Pair: "BTC-USD", Interval: day})
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, store.Store(ctx, testCandles("BTC-USD", 0, "1")), ErrClosed)
	})
}

func TestMemoryStorage(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) CandleStore {
		store := NewMemoryStorage()
		require.NoError(t, store.Initialize(context.Background()))
		return store
	})
}

func TestMemoryStorage_CanceledContext(t *testing.T) {
	store := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Store(ctx, testCandles("BTC-USD", 0, "1"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Query(ctx, QueryRequest{Pair: "BTC-USD", Interval: day})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"valid", QueryRequest{Pair: "BTC-USD", Interval: day}, false},
		{"missing pair", QueryRequest{Interval: day}, true},
		{"zero interval", QueryRequest{Pair: "BTC-USD"}, true},
		{"negative limit", QueryRequest{Pair: "BTC-USD", Interval: day, Limit: -1}, true},
		{"inverted range", QueryRequest{Pair: "BTC-USD", Interval: day, Start: dayAt(1), End: dayAt(0)}, true},
		{"open ended", QueryRequest{Pair: "BTC-USD", Interval: day, Start: dayAt(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
