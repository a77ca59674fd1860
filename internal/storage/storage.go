// Package storage mirrors fetched candles into a queryable store. Snapshot
// files stay the source of truth; a store gives range queries over every pair
// and can stand in for the files as the analysis series loader.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

// ErrNoData is returned by LoadSeries when nothing is stored for the pair.
var ErrNoData = errors.New("no candles stored")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage is closed")

// CandleStorer persists candles. Storing a candle whose pair, interval and
// timestamp already exist replaces it.
type CandleStorer interface {
	Store(ctx context.Context, candles []models.Candle) error
}

// CandleReader retrieves candles.
type CandleReader interface {
	// Query returns candles matching req in ascending time order.
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)

	// GetLatest returns the newest candle, or nil when none is stored.
	GetLatest(ctx context.Context, pair string, interval int) (*models.Candle, error)

	// Pairs returns the distinct pairs stored at interval, sorted.
	Pairs(ctx context.Context, interval int) ([]string, error)
}

// StorageManager handles storage lifecycle and operational concerns.
type StorageManager interface {
	Initialize(ctx context.Context) error
	Close() error
	GetStats(ctx context.Context) (*StorageStats, error)
	HealthCheck(ctx context.Context) error
}

// CandleStore is implemented by every backend.
type CandleStore interface {
	CandleStorer
	CandleReader
	StorageManager
	models.SeriesLoader
}

// QueryRequest defines parameters for querying stored candles.
type QueryRequest struct {
	Pair     string
	Interval int

	// Start and End bound the timestamps, both inclusive. Zero means open.
	Start time.Time
	End   time.Time

	// Limit is the maximum number of results to return (0 = no limit)
	Limit int

	// Offset is the number of results to skip for pagination
	Offset int
}

// Validate checks the request.
func (r QueryRequest) Validate() error {
	if r.Pair == "" {
		return errors.New("pair is required")
	}
	if r.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if r.Limit < 0 || r.Offset < 0 {
		return errors.New("limit and offset must not be negative")
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return errors.New("end must not be before start")
	}
	return nil
}

// QueryResponse contains the results of a candle query operation.
type QueryResponse struct {
	Candles    []models.Candle
	Total      int // matches before limit and offset
	HasMore    bool
	NextOffset int
}

// StorageStats summarises a store's contents.
type StorageStats struct {
	TotalCandles int64
	TotalPairs   int
	EarliestData time.Time
	LatestData   time.Time
}

// loadSeries reads the full history of a pair through a CandleReader.
func loadSeries(ctx context.Context, r CandleReader, pair string, interval int) (*models.Series, error) {
	resp, err := r.Query(ctx, QueryRequest{Pair: pair, Interval: interval})
	if err != nil {
		return nil, err
	}
	if len(resp.Candles) == 0 {
		return nil, fmt.Errorf("%w for %s at interval %d", ErrNoData, pair, interval)
	}
	return models.SeriesFromCandles(pair, interval, resp.Candles)
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	Operation string
	Table     string
	Query     string
	Err       error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Query: query, Err: err}
}

// NewQueryError creates a StorageError specifically for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Query: query, Err: err}
}

// NewInsertError creates a StorageError specifically for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}
