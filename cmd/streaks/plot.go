package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/chart"
	"github.com/johnayoung/go-streak-analyzer/internal/config"
	"github.com/johnayoung/go-streak-analyzer/internal/logger"
	"github.com/johnayoung/go-streak-analyzer/internal/models"
	"github.com/johnayoung/go-streak-analyzer/internal/snapshot"
)

// handlePlot handles the 'plot' command, drawing the normalised overlay of
// several pairs.
func (cli *CLI) handlePlot(ctx context.Context, args []string) error {
	ctx = logger.NewTraceContext(ctx)

	flags, err := parsePlotFlags(args, cli.config)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("plot")
		return nil
	}

	p := &plotter{snapshots: cli.snapshots, logger: cli.logs.GetComponentLogger("plot"), now: time.Now}
	out, err := p.plot(ctx, flags)
	if err != nil {
		return err
	}

	fmt.Printf("Plotted %d pairs from %s to %s\n", len(out.Pairs), out.Start.Format("2006-01-02 15:04"), out.End.Format("2006-01-02 15:04"))
	for _, s := range out.Skipped {
		fmt.Printf("Skipped %s\n", s)
	}
	fmt.Printf("Chart: %s\n", out.Path)
	return nil
}

type plotter struct {
	snapshots *snapshot.Store
	logger    *logger.ComponentLogger
	now       func() time.Time
}

// plotResult describes a written overlay chart.
type plotResult struct {
	Path       string
	Start, End time.Time
	Pairs      []string
	Skipped    []string // pair and reason
}

func (p *plotter) plot(ctx context.Context, flags *PlotFlags) (*plotResult, error) {
	start, err := config.ParseDate(flags.StartDate)
	if err != nil {
		return nil, usagef("invalid --start_date: %v", err)
	}
	end := config.DefaultEndDate(p.now())
	if flags.EndDate != "" {
		if end, err = config.ParseDate(flags.EndDate); err != nil {
			return nil, usagef("invalid --end_date: %v", err)
		}
	}
	if end.Before(start) {
		return nil, usagef("--end_date %s is before --start_date %s", flags.EndDate, flags.StartDate)
	}

	pairs := flags.Pairs
	if len(pairs) == 0 {
		if pairs, err = p.snapshots.Pairs(flags.Interval); err != nil {
			return nil, err
		}
	}

	snaps, missing, err := p.snapshots.LatestForPairs(pairs, flags.Interval)
	if err != nil {
		return nil, err
	}

	res := &plotResult{Start: start, End: end}
	for _, pair := range missing {
		p.logger.Warn("no snapshot for pair", "pair", pair, "dir", p.snapshots.Dir(flags.Interval))
		res.Skipped = append(res.Skipped, pair+": no snapshot")
	}

	opts := chart.NormalizeOptions{
		ByPercentageGrowth: flags.NormalizeByPercentageGrowth,
		StartFromZero:      flags.StartFromZero,
	}

	var lines []chart.Line
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := p.line(snap, start, end, opts)
		if err != nil {
			p.logger.Warn("skipping pair", "pair", snap.Pair, "error", err)
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s: %v", snap.Pair, err))
			continue
		}
		lines = append(lines, line)
		res.Pairs = append(res.Pairs, snap.Pair)
	}
	if len(lines) == 0 {
		return nil, errors.New("no pair has data in the requested range")
	}

	res.Path = filepath.Join(flags.OutputDir, fmt.Sprintf("overlay_%d_%s_%s.html",
		flags.Interval, start.Format(config.DateLayout), end.Format(config.DateLayout)))
	overlay := chart.Overlay(lines, chart.OverlayOptions{
		Interval:      flags.Interval,
		HighlightPair: flags.HighlightPair,
	})
	if err := chart.WriteFile(res.Path, overlay); err != nil {
		return nil, err
	}

	p.logger.Info("overlay written", "path", res.Path, "pairs", len(lines))
	return res, nil
}

func (p *plotter) line(snap snapshot.Snapshot, start, end time.Time, opts chart.NormalizeOptions) (chart.Line, error) {
	p.logger.Debug("loading snapshot", "pair", snap.Pair, "path", snap.Path)
	candles, err := p.snapshots.Read(snap)
	if err != nil {
		return chart.Line{}, err
	}
	series, err := models.SeriesFromCandles(snap.Pair, snap.Interval, candles)
	if err != nil {
		return chart.Line{}, err
	}
	return chart.NewLine(series.Between(start, end), opts)
}

