package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/johnayoung/go-streak-analyzer/internal/config"
	"github.com/johnayoung/go-streak-analyzer/internal/fetcher"
	"github.com/johnayoung/go-streak-analyzer/internal/logger"
	"github.com/johnayoung/go-streak-analyzer/internal/scheduler"
)

// handleFetch handles the 'fetch' command, bringing every snapshot up to
// yesterday.
func (cli *CLI) handleFetch(ctx context.Context, args []string) error {
	ctx = logger.NewTraceContext(ctx)

	flags, err := parseFetchFlags(args, cli.config, false)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("fetch")
		return nil
	}

	f, closeStore, err := cli.buildFetcher(ctx, flags)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := f.Run(ctx, flags.Pairs)
	if err != nil {
		return err
	}
	printFetchReport(os.Stdout, report)
	return report.Err()
}

// handleSchedule handles the 'schedule' command, running fetch on a cron
// spec until interrupted.
func (cli *CLI) handleSchedule(ctx context.Context, args []string) error {
	ctx = logger.NewTraceContext(ctx)

	flags, err := parseFetchFlags(args, cli.config, true)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("schedule")
		return nil
	}

	f, closeStore, err := cli.buildFetcher(ctx, flags)
	if err != nil {
		return err
	}
	defer closeStore()

	task := func(ctx context.Context) error {
		report, err := f.Run(ctx, flags.Pairs)
		if err != nil {
			return err
		}
		printFetchReport(os.Stdout, report)
		return report.Err()
	}

	s, err := scheduler.New(flags.Spec, task, cli.logs.GetComponentLogger("scheduler"))
	if err != nil {
		return usagef("%v", err)
	}

	fmt.Printf("Scheduling fetch with spec %q (UTC)\n", flags.Spec)
	fmt.Println("Press Ctrl+C to stop gracefully")

	return s.Run(ctx, flags.RunNow)
}

// buildFetcher wires the exchange, the snapshot store and the optional
// storage mirror. The returned func closes the mirror.
func (cli *CLI) buildFetcher(ctx context.Context, flags *FetchFlags) (*fetcher.Fetcher, func(), error) {
	earliest, err := config.ParseDate(flags.EarliestStart)
	if err != nil {
		return nil, nil, usagef("invalid --earliest: %v", err)
	}
	cfg := fetcher.Config{
		Interval:      flags.Interval,
		EarliestStart: earliest,
		Workers:       flags.Workers,
		QuoteAsset:    flags.QuoteAsset,
	}
	if err := fetcher.ValidateConfig(cfg); err != nil {
		return nil, nil, usagef("%v", err)
	}

	source, err := cli.createExchange()
	if err != nil {
		return nil, nil, err
	}

	mirror, err := cli.createStorage(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if mirror != nil {
			mirror.Close()
		}
	}

	b := fetcher.NewBuilder().
		WithSource(source).
		WithSnapshots(cli.snapshots).
		WithClassifier(cli.classifier).
		WithLogger(cli.logs.GetComponentLogger("fetcher")).
		WithConfig(cfg)
	if mirror != nil {
		b = b.WithMirror(mirror)
	}

	f, err := b.Build()
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return f, closeStore, nil
}

// printFetchReport writes one line per pair and a summary.
func printFetchReport(w io.Writer, report *fetcher.Report) {
	for _, res := range report.Results {
		switch res.Status {
		case fetcher.StatusUpdated:
			fmt.Fprintf(w, "%-12s updated  +%d rows (%d total) -> %s\n", res.Pair, res.NewRows, res.TotalRows, res.Snapshot)
			if res.Gaps > 0 {
				fmt.Fprintf(w, "%-12s warning  %d missing records\n", "", res.Gaps)
			}
		case fetcher.StatusCurrent:
			fmt.Fprintf(w, "%-12s current  %s\n", res.Pair, res.Snapshot)
		case fetcher.StatusEmpty:
			fmt.Fprintf(w, "%-12s empty    no candles available\n", res.Pair)
		case fetcher.StatusFailed:
			fmt.Fprintf(w, "%-12s failed   %v\n", res.Pair, res.Err)
		}
	}
	fmt.Fprintf(w, "\nFetched up to %s: %d updated, %d current, %d empty, %d failed in %s\n",
		report.End.Format("2006-01-02"),
		report.Count(fetcher.StatusUpdated),
		report.Count(fetcher.StatusCurrent),
		report.Count(fetcher.StatusEmpty),
		report.Count(fetcher.StatusFailed),
		report.Finished.Sub(report.Started).Round(time.Millisecond))
	if st := report.Store; st != nil && st.TotalCandles > 0 {
		fmt.Fprintf(w, "Store holds %d candles for %d pairs from %s to %s\n",
			st.TotalCandles, st.TotalPairs,
			st.EarliestData.Format("2006-01-02"), st.LatestData.Format("2006-01-02"))
	}
}
