package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/johnayoung/go-streak-analyzer/internal/analysis"
	"github.com/johnayoung/go-streak-analyzer/internal/chart"
	"github.com/johnayoung/go-streak-analyzer/internal/gaps"
	"github.com/johnayoung/go-streak-analyzer/internal/logger"
	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/johnayoung/go-streak-analyzer/internal/recorder"
	"github.com/johnayoung/go-streak-analyzer/internal/snapshot"
	"github.com/johnayoung/go-streak-analyzer/internal/storage"
	"github.com/johnayoung/go-streak-analyzer/internal/validator"
	"github.com/johnayoung/go-streak-analyzer/internal/workerpool"
)

// handleAnalyze handles the 'analyze' command: run detection and return
// simulation for each requested pair.
func (cli *CLI) handleAnalyze(ctx context.Context, args []string) error {
	ctx = logger.NewTraceContext(ctx)

	flags, err := parseAnalyzeFlags(args, cli.config)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("analyze")
		return nil
	}

	rec, err := cli.createRecorder()
	if err != nil {
		return err
	}
	defer rec.Close()

	l := cli.logs.GetComponentLogger("analyze")
	v, err := validator.NewOHLCVValidator(validator.NewValidationConfig(), l.Logger)
	if err != nil {
		return err
	}

	a := &analyzer{
		snapshots: cli.snapshots,
		validator: v,
		recorder:  rec,
		logger:    l,
	}

	if flags.FromStore {
		store, err := cli.createStorage(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return usagef("--from-store needs storage.type set to memory or duckdb")
		}
		defer store.Close()
		if err := a.useStore(ctx, store, cli.config.Storage.Type, flags); err != nil {
			return err
		}
	}

	results, errs := a.run(ctx, flags, cli.config.Analysis.Workers)
	return printAnalyses(os.Stdout, flags.Pairs, results, errs)
}

// candleSource is the part of a candle store analyze reads from.
type candleSource interface {
	models.SeriesLoader
	HealthCheck(ctx context.Context) error
	Pairs(ctx context.Context, interval int) ([]string, error)
}

// analyzer runs the per-pair analysis pipeline.
type analyzer struct {
	snapshots *snapshot.Store
	loader    models.SeriesLoader // replaces the snapshots when set
	source    string              // loader name shown on charts
	validator *validator.OHLCVValidator
	recorder  recorder.Recorder
	logger    *logger.ComponentLogger
}

// pairAnalysis is the outcome for one pair.
type pairAnalysis struct {
	Pair      string
	Source    string // snapshot file name or store type
	Series    *models.Series
	Gaps      []gaps.Gap
	Anomalies []validator.Anomaly
	Runs      []analysis.Run
	Result    *analysis.SimulationResult
	Chart     string
}

// useStore makes store the series loader once it passes its health check.
// Without explicit pairs every pair stored at the interval is analysed.
func (a *analyzer) useStore(ctx context.Context, store candleSource, name string, flags *AnalyzeFlags) error {
	if err := store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("candle store is unavailable: %w", err)
	}
	if len(flags.Pairs) == 0 {
		pairs, err := store.Pairs(ctx, flags.Interval)
		if err != nil {
			return fmt.Errorf("failed to list stored pairs: %w", err)
		}
		if len(pairs) == 0 {
			return fmt.Errorf("%w at interval %d", storage.ErrNoData, flags.Interval)
		}
		flags.Pairs = pairs
	}
	a.loader = store
	a.source = name
	return nil
}

// run analyses every pair concurrently. Both slices are in pair order.
func (a *analyzer) run(ctx context.Context, flags *AnalyzeFlags, workers int) ([]*pairAnalysis, []error) {
	ctx = logger.WithOperation(ctx, "analyze")
	ctx = logger.WithInterval(ctx, flags.Interval)

	results := make([]*pairAnalysis, len(flags.Pairs))
	jobs := make([]*workerpool.Job, len(flags.Pairs))
	for i, pair := range flags.Pairs {
		i, pair := i, pair
		jobs[i] = workerpool.NewJob(pair, nil)
		jobID := jobs[i].ID
		jobs[i].Run = func(ctx context.Context) error {
			ctx = logger.WithJobID(logger.WithPair(ctx, pair), jobID)
			res, err := a.analyzePair(ctx, flags, pair)
			results[i] = res
			return err
		}
	}

	errs := workerpool.RunAll(ctx, workers, nil, a.logger.Logger, jobs)
	return results, errs
}

// analyzePair loads, trims and scans one pair, simulates the runs, then
// writes the chart and the record.
func (a *analyzer) analyzePair(ctx context.Context, flags *AnalyzeFlags, pair string) (*pairAnalysis, error) {
	series, candles, source, err := a.load(ctx, pair, flags.Interval)
	if err != nil {
		return nil, err
	}

	trimmed, err := series.Trim(flags.StartFrom, flags.RemoveLast)
	if err != nil {
		return nil, err
	}

	res := &pairAnalysis{Pair: pair, Source: source, Series: trimmed}

	found, err := gaps.Check(trimmed, flags.Interval)
	if err != nil {
		a.logger.ErrorWithContext(ctx, "gap check failed", err)
	}
	res.Gaps = found
	if missing := gaps.TotalMissing(found); missing > 0 {
		a.logger.Warn("series has gaps", "pair", pair, "gaps", len(found), "missing", missing)
	}
	res.Anomalies = a.anomalies(ctx, candles, trimmed)

	detector := analysis.DetectorConfig{
		PriceTolerance:  flags.PriceTolerance,
		VolumeTolerance: flags.VolumeTolerance,
		Threshold:       flags.Threshold,
	}
	res.Runs, err = analysis.DetectRuns(trimmed, detector)
	if err != nil {
		return nil, err
	}

	res.Result, err = analysis.Simulate(trimmed, res.Runs, flags.Investment)
	if err != nil {
		return nil, err
	}

	if flags.Chart {
		path := filepath.Join(flags.OutputDir, fmt.Sprintf("%s_%d_runs.html", pair, flags.Interval))
		if err := chart.WriteFile(path, chart.RunChart(trimmed, res.Runs, source)); err != nil {
			a.logger.ErrorWithContext(ctx, "failed to write chart", err, "path", path)
		} else {
			res.Chart = path
		}
	}

	record := recorder.NewAnalysisRecord(recorder.Params{
		Pair:       pair,
		Interval:   flags.Interval,
		StartFrom:  flags.StartFrom,
		RemoveLast: flags.RemoveLast,
		Detector:   detector,
		Investment: flags.Investment,
	}, trimmed.Len(), res.Result)
	if err := a.recorder.RecordAnalysis(ctx, record); err != nil {
		a.logger.ErrorWithContext(ctx, "failed to record analysis", err)
	}

	a.logger.InfoWithContext(ctx, "analysis completed",
		"records", trimmed.Len(),
		"runs", len(res.Runs),
		"final_balance", res.Result.FinalBalance)
	return res, nil
}

// load returns the series and, when read from a snapshot, its raw candles.
func (a *analyzer) load(ctx context.Context, pair string, interval int) (*models.Series, []models.Candle, string, error) {
	if a.loader != nil {
		series, err := a.loader.LoadSeries(ctx, pair, interval)
		return series, nil, a.source, err
	}

	snap, err := a.snapshots.Latest(pair, interval)
	if err != nil {
		return nil, nil, "", fmt.Errorf("no data for %s in %s: %w", pair, a.snapshots.Dir(interval), err)
	}
	candles, err := a.snapshots.Read(snap)
	if err != nil {
		return nil, nil, "", err
	}
	series, err := models.SeriesFromCandles(pair, interval, candles)
	if err != nil {
		return nil, nil, "", err
	}
	return series, candles, filepath.Base(snap.Path), nil
}

// anomalies returns the suspicious candles inside the analysed window.
func (a *analyzer) anomalies(ctx context.Context, candles []models.Candle, window *models.Series) []validator.Anomaly {
	if a.validator == nil || len(candles) == 0 || window.Len() == 0 {
		return nil
	}
	found, err := a.validator.ValidateCandles(ctx, candles)
	if err != nil {
		a.logger.ErrorWithContext(ctx, "candle validation failed", err)
		return nil
	}

	first, last := window.At(0).Timestamp, window.At(window.Len()-1).Timestamp
	var kept []validator.Anomaly
	for _, an := range found {
		if an.Timestamp.Before(first) || an.Timestamp.After(last) {
			continue
		}
		a.logger.Warn("suspicious candle", "pair", window.Pair, "anomaly", an.String())
		kept = append(kept, an)
	}
	return kept
}

// printAnalyses writes each pair's report in pair order and returns an error
// when any pair failed.
func printAnalyses(w io.Writer, pairs []string, results []*pairAnalysis, errs []error) error {
	failed := 0
	for i, pair := range pairs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if errs[i] != nil {
			failed++
			fmt.Fprintf(w, "%s: analysis failed: %v\n", pair, errs[i])
			continue
		}
		writeReport(w, results[i])
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pairs failed", failed, len(pairs))
	}
	return nil
}

// writeReport prints the profit summary of one pair.
func writeReport(w io.Writer, res *pairAnalysis) {
	fmt.Fprintf(w, "%s (%s, %d records, %d runs)\n", res.Pair, res.Source, res.Series.Len(), len(res.Runs))
	if missing := gaps.TotalMissing(res.Gaps); missing > 0 {
		fmt.Fprintf(w, "Warning: %d missing records in %d gaps\n", missing, len(res.Gaps))
	}
	if len(res.Anomalies) > 0 {
		counts := validator.CountByType(res.Anomalies)
		fmt.Fprintf(w, "Warning: %d suspicious candles (%d price spikes, %d volume surges)\n",
			len(res.Anomalies), counts[validator.AnomalyTypePriceSpike], counts[validator.AnomalyTypeVolumeSurge])
	}

	r := res.Result
	for i, profit := range r.PerRunProfitPercent {
		fmt.Fprintf(w, "Profit for position %d: %.2f%%\n", i+1, profit)
	}
	fmt.Fprintf(w, "Total cumulative percentage profit from all positions: %.2f%%\n", r.TotalProfitPercent)
	fmt.Fprintf(w, "Average return per year: %.2f%%\n", r.AvgReturnPerYear)
	fmt.Fprintf(w, "CAGR: %.2f%%\n", r.CAGRPercent)
	fmt.Fprintf(w, "Total years: %.2f\n", r.ElapsedYears)
	if res.Chart != "" {
		fmt.Fprintf(w, "Chart: %s\n", res.Chart)
	}
}
