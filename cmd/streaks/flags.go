package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/johnayoung/go-streak-analyzer/internal/config"
)

// usageError marks a command line the user has to correct.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// FetchFlags represents flags for the fetch and schedule commands
type FetchFlags struct {
	Pairs         []string
	Interval      int
	EarliestStart string
	Workers       int
	QuoteAsset    string
	Spec          string // schedule only
	RunNow        bool   // schedule only
	Help          bool
}

// AnalyzeFlags represents flags for the analyze command
type AnalyzeFlags struct {
	Pairs           []string
	PriceTolerance  float64
	VolumeTolerance float64
	Threshold       int
	StartFrom       int
	RemoveLast      int
	Interval        int
	Investment      float64
	Chart           bool
	OutputDir       string
	FromStore       bool
	Help            bool

	priceSet  bool
	volumeSet bool
}

// PlotFlags represents flags for the plot command
type PlotFlags struct {
	Pairs                       []string
	StartDate                   string
	EndDate                     string
	Interval                    int
	StartFromZero               bool
	NormalizeByPercentageGrowth bool
	HighlightPair               string
	OutputDir                   string
	Help                        bool
}

// argReader walks a command line one token at a time.
type argReader struct {
	args []string
	pos  int
}

func (r *argReader) next() (string, bool) {
	if r.pos >= len(r.args) {
		return "", false
	}
	arg := r.args[r.pos]
	r.pos++
	return arg, true
}

func (r *argReader) value(flag string) (string, error) {
	v, ok := r.next()
	if !ok {
		return "", usagef("%s requires a value", flag)
	}
	return v, nil
}

func (r *argReader) intValue(flag string) (int, error) {
	v, err := r.value(flag)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, usagef("invalid %s value %q: must be an integer", flag, v)
	}
	return n, nil
}

func (r *argReader) floatValue(flag string) (float64, error) {
	v, err := r.value(flag)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, usagef("invalid %s value %q: must be a number", flag, v)
	}
	return f, nil
}

// list consumes every following token up to the next flag. Tokens may also
// be comma separated.
func (r *argReader) list() []string {
	var out []string
	for r.pos < len(r.args) && !strings.HasPrefix(r.args[r.pos], "-") {
		for _, p := range strings.Split(r.args[r.pos], ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, strings.ToUpper(p))
			}
		}
		r.pos++
	}
	return out
}

// parseFetchFlags parses command line arguments for the fetch and schedule
// commands. Schedule-only flags are rejected unless schedule is set.
func parseFetchFlags(args []string, cfg *config.AppConfig, schedule bool) (*FetchFlags, error) {
	flags := &FetchFlags{
		Interval:      cfg.Fetch.Interval,
		EarliestStart: cfg.Fetch.EarliestStart,
		Workers:       cfg.Fetch.Workers,
		QuoteAsset:    cfg.Exchange.QuoteAsset,
		Spec:          cfg.Scheduler.Spec,
		RunNow:        cfg.Scheduler.RunOnStart,
	}

	r := &argReader{args: args}
	for {
		arg, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch arg {
		case "--currency_pairs", "-c":
			flags.Pairs = r.list()
			if len(flags.Pairs) == 0 {
				return nil, usagef("%s requires at least one pair", arg)
			}
		case "--interval", "-i":
			flags.Interval, err = r.intValue(arg)
		case "--earliest", "-e":
			flags.EarliestStart, err = r.value(arg)
		case "--workers", "-w":
			flags.Workers, err = r.intValue(arg)
		case "--quote", "-q":
			flags.QuoteAsset, err = r.value(arg)
		case "--spec":
			if !schedule {
				return nil, usagef("unknown flag: %s", arg)
			}
			flags.Spec, err = r.value(arg)
		case "--run-now":
			if !schedule {
				return nil, usagef("unknown flag: %s", arg)
			}
			flags.RunNow = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", arg)
		}
		if err != nil {
			return nil, err
		}
	}

	return flags, nil
}

// parseAnalyzeFlags parses command line arguments for the analyze command
func parseAnalyzeFlags(args []string, cfg *config.AppConfig) (*AnalyzeFlags, error) {
	flags := &AnalyzeFlags{
		Threshold:  cfg.Analysis.Threshold,
		Interval:   cfg.Fetch.Interval,
		Investment: cfg.Analysis.Investment,
		Chart:      cfg.Analysis.Chart,
		OutputDir:  cfg.Plot.OutputDir,
	}

	r := &argReader{args: args}
	for {
		arg, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch arg {
		case "--currency_pairs", "-c":
			flags.Pairs = r.list()
			if len(flags.Pairs) == 0 {
				return nil, usagef("%s requires at least one pair", arg)
			}
		case "--price_tolerance", "-p":
			flags.PriceTolerance, err = r.floatValue(arg)
			flags.priceSet = true
		case "--volume_tolerance", "-v":
			flags.VolumeTolerance, err = r.floatValue(arg)
			flags.volumeSet = true
		case "--num_consecutive_days", "-n":
			flags.Threshold, err = r.intValue(arg)
		case "--start_from", "-s":
			flags.StartFrom, err = r.intValue(arg)
		case "--remove_lastdatapoints", "-r":
			flags.RemoveLast, err = r.intValue(arg)
		case "--interval", "-i":
			flags.Interval, err = r.intValue(arg)
		case "--investment":
			flags.Investment, err = r.floatValue(arg)
		case "--chart":
			flags.Chart = true
		case "--no-chart":
			flags.Chart = false
		case "--out", "-o":
			flags.OutputDir, err = r.value(arg)
		case "--from-store":
			flags.FromStore = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", arg)
		}
		if err != nil {
			return nil, err
		}
	}

	if flags.Help {
		return flags, nil
	}
	if len(flags.Pairs) == 0 && !flags.FromStore {
		return nil, usagef("--currency_pairs is required")
	}
	if !flags.priceSet {
		return nil, usagef("--price_tolerance is required")
	}
	if !flags.volumeSet {
		return nil, usagef("--volume_tolerance is required")
	}
	return flags, nil
}

// parsePlotFlags parses command line arguments for the plot command. The
// normalisation switches turn their option off.
func parsePlotFlags(args []string, cfg *config.AppConfig) (*PlotFlags, error) {
	flags := &PlotFlags{
		StartDate:                   cfg.Plot.StartDate,
		Interval:                    cfg.Fetch.Interval,
		StartFromZero:               cfg.Plot.StartFromZero,
		NormalizeByPercentageGrowth: cfg.Plot.NormalizeByPercentageGrowth,
		HighlightPair:               cfg.Plot.HighlightPair,
		OutputDir:                   cfg.Plot.OutputDir,
	}

	r := &argReader{args: args}
	for {
		arg, ok := r.next()
		if !ok {
			break
		}
		var err error
		switch arg {
		case "--currency_pairs", "-c":
			flags.Pairs = r.list()
		case "--start_date", "-s":
			flags.StartDate, err = r.value(arg)
		case "--end_date", "-e":
			flags.EndDate, err = r.value(arg)
		case "--interval", "-i":
			flags.Interval, err = r.intValue(arg)
		case "--start_from_zero", "-z":
			flags.StartFromZero = false
		case "--normalize_by_percentage_growth", "-n":
			flags.NormalizeByPercentageGrowth = false
		case "--highlight":
			flags.HighlightPair, err = r.value(arg)
		case "--out", "-o":
			flags.OutputDir, err = r.value(arg)
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usagef("unknown flag: %s", arg)
		}
		if err != nil {
			return nil, err
		}
	}

	return flags, nil
}
