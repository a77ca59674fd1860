// Package fetcher keeps the snapshot files current. For every pair it
// downloads the candles after the previous snapshot's last row up to
// yesterday 00:00 UTC, merges them with the previous rows, writes a new
// snapshot and removes the stale one.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/config"
	apperrors "github.com/johnayoung/go-streak-analyzer/internal/errors"
	"github.com/johnayoung/go-streak-analyzer/internal/exchange"
	"github.com/johnayoung/go-streak-analyzer/internal/gaps"
	"github.com/johnayoung/go-streak-analyzer/internal/logger"
	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/johnayoung/go-streak-analyzer/internal/snapshot"
	"github.com/johnayoung/go-streak-analyzer/internal/storage"
	"github.com/johnayoung/go-streak-analyzer/internal/workerpool"
)

const component = "fetcher"

// Source is the part of an exchange adapter the fetcher needs.
type Source interface {
	exchange.CandleFetcher
	exchange.PairProvider
}

// Mirror is a candle store kept in step with the snapshots. It also seeds
// pairs that have no snapshot on disk.
type Mirror interface {
	storage.CandleStorer
	storage.CandleReader
	GetStats(ctx context.Context) (*storage.StorageStats, error)
}

// Config configures a refresh.
type Config struct {
	Interval      int
	EarliestStart time.Time
	Workers       int
	QuoteAsset    string // limits discovered pairs to one quote currency
}

// DefaultConfig returns daily candles from 2008-11-16 on four workers.
func DefaultConfig() Config {
	return Config{
		Interval:      86400,
		EarliestStart: time.Date(2008, 11, 16, 0, 0, 0, 0, time.UTC),
		Workers:       4,
	}
}

// ConfigFromApp maps the application configuration.
func ConfigFromApp(cfg *config.AppConfig) (Config, error) {
	earliest, err := config.ParseDate(cfg.Fetch.EarliestStart)
	if err != nil {
		return Config{}, fmt.Errorf("invalid earliest start: %w", err)
	}
	return Config{
		Interval:      cfg.Fetch.Interval,
		EarliestStart: earliest,
		Workers:       cfg.Fetch.Workers,
		QuoteAsset:    cfg.Exchange.QuoteAsset,
	}, nil
}

// Status is the outcome of refreshing one pair.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusCurrent Status = "current" // snapshot already ends at yesterday
	StatusEmpty   Status = "empty"   // nothing downloaded and nothing on disk
	StatusFailed  Status = "failed"
)

// PairResult describes what happened to one pair.
type PairResult struct {
	Pair      string
	JobID     string
	Status    Status
	Snapshot  string // path written, or the current path when unchanged
	NewRows   int
	TotalRows int
	Gaps      int // missing records in the merged series
	Err       error
}

// Report summarises a refresh run. Results are in pair order.
type Report struct {
	Started  time.Time
	Finished time.Time
	End      time.Time // last timestamp requested
	Results  []PairResult
	Store    *storage.StorageStats // mirror contents after the run
}

// Count returns how many results have the given status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the failed results.
func (r *Report) Failed() []PairResult {
	var out []PairResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of every failed pair, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Pair, res.Err))
	}
	return errors.Join(errs...)
}

// Fetcher refreshes snapshots from a Source.
type Fetcher struct {
	source     Source
	snapshots  *snapshot.Store
	mirror     Mirror
	classifier *apperrors.ErrorClassifier
	logger     *logger.ComponentLogger
	cfg        Config
	now        func() time.Time
}

// CheckSource runs the source's health check, when it has one, under the
// retry policy.
func (f *Fetcher) CheckSource(ctx context.Context) error {
	hc, ok := f.source.(exchange.HealthChecker)
	if !ok {
		return nil
	}
	err := f.classifier.Retry(ctx, component, "health_check", func() error {
		return hc.HealthCheck(ctx)
	})
	if err != nil {
		return fmt.Errorf("exchange is unreachable: %w", err)
	}
	return nil
}

// ResolvePairs returns pairs unchanged when given, otherwise every online
// pair the source lists, filtered by the configured quote asset.
func (f *Fetcher) ResolvePairs(ctx context.Context, pairs []string) ([]string, error) {
	if len(pairs) > 0 {
		return pairs, nil
	}

	var listed []exchange.TradingPair
	err := f.classifier.Retry(ctx, component, "list_pairs", func() error {
		var err error
		listed, err = f.source.GetTradingPairs(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list trading pairs: %w", err)
	}

	symbols := exchange.OnlineSymbols(listed, f.cfg.QuoteAsset)
	f.logger.InfoWithContext(ctx, "discovered trading pairs", "listed", len(listed), "online", len(symbols))
	return symbols, nil
}

// Run refreshes every pair concurrently. Per-pair failures are recorded in
// the report; the returned error is only set when the source is unreachable
// or the pairs could not be resolved.
func (f *Fetcher) Run(ctx context.Context, pairs []string) (*Report, error) {
	ctx = logger.WithOperation(ctx, "fetch")
	ctx = logger.WithInterval(ctx, f.cfg.Interval)

	if err := f.CheckSource(ctx); err != nil {
		return nil, err
	}

	pairs, err := f.ResolvePairs(ctx, pairs)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Started: f.now(),
		End:     config.DefaultEndDate(f.now()),
		Results: make([]PairResult, len(pairs)),
	}

	jobs := make([]*workerpool.Job, len(pairs))
	for i, pair := range pairs {
		i, pair := i, pair
		jobs[i] = workerpool.NewJob(pair, nil)
		jobID := jobs[i].ID
		jobs[i].Run = func(ctx context.Context) error {
			ctx = logger.WithJobID(logger.WithPair(ctx, pair), jobID)
			res, err := f.RefreshPair(ctx, pair)
			report.Results[i] = res
			return err
		}
	}

	errs := workerpool.RunAll(ctx, f.cfg.Workers, nil, f.logger.Logger, jobs)
	for i, err := range errs {
		if err == nil {
			continue
		}
		res := &report.Results[i]
		res.Pair = pairs[i]
		res.JobID = jobs[i].ID
		res.Status = StatusFailed
		res.Err = err
	}

	if f.mirror != nil {
		stats, err := f.mirror.GetStats(ctx)
		if err != nil {
			f.logger.ErrorWithContext(ctx, "failed to read store stats", err)
		} else {
			report.Store = stats
		}
	}

	report.Finished = f.now()
	f.logger.InfoWithContext(ctx, "fetch finished",
		"pairs", len(pairs),
		"updated", report.Count(StatusUpdated),
		"current", report.Count(StatusCurrent),
		"empty", report.Count(StatusEmpty),
		"failed", report.Count(StatusFailed),
		"duration", report.Finished.Sub(report.Started))

	return report, nil
}

// RefreshPair brings one pair's snapshot up to yesterday 00:00 UTC. A pair
// without a snapshot starts from the mirror's history when there is one.
func (f *Fetcher) RefreshPair(ctx context.Context, pair string) (PairResult, error) {
	res := PairResult{Pair: pair, JobID: logger.GetJobID(ctx)}
	interval := f.cfg.Interval
	end := config.DefaultEndDate(f.now())

	var previous []models.Candle
	restored := false

	prev, err := f.snapshots.Latest(pair, interval)
	hasPrev := err == nil
	switch {
	case hasPrev:
		res.Snapshot = prev.Path
		if !prev.Last.Before(end) {
			res.Status = StatusCurrent
			f.logger.DebugWithContext(ctx, "snapshot already current", "last", prev.Last)
			return res, nil
		}
		previous, err = f.snapshots.Read(prev)
		if err != nil {
			return res, err
		}
	case errors.Is(err, snapshot.ErrNoSnapshot):
		previous = f.restore(ctx, pair)
		restored = len(previous) > 0
	default:
		return res, err
	}

	start := f.cfg.EarliestStart
	if n := len(previous); n > 0 {
		start = previous[n-1].Timestamp.Add(time.Duration(interval) * time.Second)
	}

	var fetched []models.Candle
	if !start.After(end) {
		err = f.classifier.Retry(ctx, component, "fetch_candles", func() error {
			resp, err := f.source.FetchCandles(ctx, exchange.FetchRequest{
				Pair:     pair,
				Start:    start,
				End:      end,
				Interval: interval,
			})
			if err != nil {
				return err
			}
			fetched = resp.Candles
			return nil
		})
		if err != nil {
			return res, err
		}
	}

	res.NewRows = len(fetched)
	if len(fetched) == 0 && !restored {
		res.TotalRows = len(previous)
		if hasPrev {
			res.Status = StatusCurrent
		} else {
			res.Status = StatusEmpty
		}
		f.logger.InfoWithContext(ctx, "no new candles", "start", start, "end", end)
		return res, nil
	}

	merged := Merge(previous, fetched)
	res.TotalRows = len(merged)

	written, err := f.snapshots.Write(pair, interval, merged)
	if err != nil {
		return res, err
	}
	res.Snapshot = written.Path
	res.Status = StatusUpdated

	if hasPrev && prev.Path != written.Path {
		if err := f.snapshots.Remove(prev); err != nil {
			f.logger.ErrorWithContext(ctx, "failed to remove stale snapshot", err, "path", prev.Path)
		}
	}

	if f.mirror != nil {
		if err := f.mirror.Store(ctx, merged); err != nil {
			// snapshot is already written; the mirror catches up next run
			f.logger.ErrorWithContext(ctx, "failed to mirror candles", err)
		}
	}

	res.Gaps = f.countGaps(ctx, pair, merged)

	f.logger.InfoWithContext(ctx, "snapshot updated",
		"path", written.Path,
		"new_rows", res.NewRows,
		"total_rows", res.TotalRows)
	return res, nil
}

// restore returns the mirror's candles for a pair, or nil when the mirror
// has none. Store errors are logged and the pair is downloaded in full.
func (f *Fetcher) restore(ctx context.Context, pair string) []models.Candle {
	if f.mirror == nil {
		return nil
	}
	latest, err := f.mirror.GetLatest(ctx, pair, f.cfg.Interval)
	if err != nil {
		f.logger.ErrorWithContext(ctx, "failed to read latest stored candle", err)
		return nil
	}
	if latest == nil {
		return nil
	}

	resp, err := f.mirror.Query(ctx, storage.QueryRequest{
		Pair:     pair,
		Interval: f.cfg.Interval,
		End:      latest.Timestamp,
	})
	if err != nil {
		f.logger.ErrorWithContext(ctx, "failed to read stored candles", err)
		return nil
	}
	f.logger.InfoWithContext(ctx, "restoring snapshot from store", "rows", len(resp.Candles), "last", latest.Timestamp)
	return resp.Candles
}

func (f *Fetcher) countGaps(ctx context.Context, pair string, candles []models.Candle) int {
	series, err := models.SeriesFromCandles(pair, f.cfg.Interval, candles)
	if err != nil {
		return 0
	}
	found, err := gaps.Check(series, f.cfg.Interval)
	if err != nil {
		f.logger.ErrorWithContext(ctx, "gap check failed", err)
		return 0
	}
	missing := gaps.TotalMissing(found)
	if missing > 0 {
		f.logger.Warn("snapshot has gaps", slog.String("pair", pair), slog.Int("gaps", len(found)), slog.Int("missing", missing))
	}
	return missing
}

// Merge combines two candle sets. Timestamps present in both keep the
// candle from fresh. The result is in ascending time order.
func Merge(existing, fresh []models.Candle) []models.Candle {
	byTime := make(map[int64]models.Candle, len(existing)+len(fresh))
	for _, c := range existing {
		byTime[c.Timestamp.Unix()] = c
	}
	for _, c := range fresh {
		byTime[c.Timestamp.Unix()] = c
	}

	merged := make([]models.Candle, 0, len(byTime))
	for _, c := range byTime {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}
