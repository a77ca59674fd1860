package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

type seriesKey struct {
	pair     string
	interval int
}

// MemoryStorage keeps candles in process memory. It is safe for concurrent
// use.
type MemoryStorage struct {
	mu      sync.RWMutex
	candles map[seriesKey]map[int64]models.Candle // unix seconds -> candle
	closed  bool
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		candles: make(map[seriesKey]map[int64]models.Candle),
	}
}

// Initialize implements StorageManager.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// Store validates and stores candles, replacing existing timestamps.
func (m *MemoryStorage) Store(ctx context.Context, candles []models.Candle) error {
	if ctx.Err() != nil {
		return NewStorageError("store", "candles", "", ctx.Err())
	}
	if len(candles) == 0 {
		return nil
	}

	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return NewInsertError("candles", fmt.Errorf("candle at index %d validation failed: %w", i, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("store", "candles", "", ErrClosed)
	}

	for _, candle := range candles {
		key := seriesKey{candle.Pair, candle.Interval}
		if m.candles[key] == nil {
			m.candles[key] = make(map[int64]models.Candle)
		}
		m.candles[key][candle.Timestamp.Unix()] = candle
	}
	return nil
}

// Query implements CandleReader.
func (m *MemoryStorage) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("candles", "", ctx.Err())
	}
	if err := req.Validate(); err != nil {
		return nil, NewQueryError("candles", "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("candles", "", ErrClosed)
	}

	var matched []models.Candle
	for _, candle := range m.candles[seriesKey{req.Pair, req.Interval}] {
		if !req.Start.IsZero() && candle.Timestamp.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && candle.Timestamp.After(req.End) {
			continue
		}
		matched = append(matched, candle)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	total := len(matched)
	from := req.Offset
	if from > total {
		from = total
	}
	to := total
	if req.Limit > 0 && from+req.Limit < to {
		to = from + req.Limit
	}

	page := make([]models.Candle, to-from)
	copy(page, matched[from:to])

	return &QueryResponse{
		Candles:    page,
		Total:      total,
		HasMore:    to < total,
		NextOffset: to,
	}, nil
}

// GetLatest implements CandleReader.
func (m *MemoryStorage) GetLatest(ctx context.Context, pair string, interval int) (*models.Candle, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("candles", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("candles", "", ErrClosed)
	}

	var latest *models.Candle
	for _, candle := range m.candles[seriesKey{pair, interval}] {
		if latest == nil || candle.Timestamp.After(latest.Timestamp) {
			c := candle
			latest = &c
		}
	}
	return latest, nil
}

// Pairs implements CandleReader.
func (m *MemoryStorage) Pairs(ctx context.Context, interval int) ([]string, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("candles", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("candles", "", ErrClosed)
	}

	var pairs []string
	for key, byTime := range m.candles {
		if key.interval == interval && len(byTime) > 0 {
			pairs = append(pairs, key.pair)
		}
	}
	sort.Strings(pairs)
	return pairs, nil
}

// LoadSeries implements models.SeriesLoader.
func (m *MemoryStorage) LoadSeries(ctx context.Context, pair string, interval int) (*models.Series, error) {
	return loadSeries(ctx, m, pair, interval)
}

// GetStats implements StorageManager.
func (m *MemoryStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &StorageStats{}
	pairs := make(map[string]bool)
	for key, byTime := range m.candles {
		if len(byTime) == 0 {
			continue
		}
		pairs[key.pair] = true
		for _, candle := range byTime {
			stats.TotalCandles++
			if stats.EarliestData.IsZero() || candle.Timestamp.Before(stats.EarliestData) {
				stats.EarliestData = candle.Timestamp
			}
			if candle.Timestamp.After(stats.LatestData) {
				stats.LatestData = candle.Timestamp
			}
		}
	}
	stats.TotalPairs = len(pairs)
	return stats, nil
}

// HealthCheck implements StorageManager.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return NewStorageError("health_check", "", "", ErrClosed)
	}
	return nil
}

// Close implements StorageManager.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.candles = make(map[seriesKey]map[int64]models.Candle)
	return nil
}

var _ CandleStore = (*MemoryStorage)(nil)

