package main

import (
	"fmt"

	"github.com/johnayoung/go-streak-analyzer/internal/config"
)

// printUsage displays the main usage information
func printUsage() {
	fmt.Printf(`%s - consecutive favorable day analyzer v%s

USAGE:
    %s <command> [options]

COMMANDS:
    fetch       Download candles for every online pair into snapshot files
    analyze     Detect favorable runs and simulate their compounded return
    plot        Plot normalised prices of several pairs on one chart
    schedule    Run fetch on a cron schedule until interrupted
    version     Show version information

GLOBAL OPTIONS:
    --help, -h        Show help information
    --version, -V     Show version information

EXAMPLES:
    # Refresh every USD pair up to yesterday
    %s fetch -q USD

    # Analyze BTC-USD and ETH-USD with 1%% price and 5%% volume tolerance
    %s analyze -c BTC-USD ETH-USD -p 0.01 -v 0.05 -n 3

    # Plot growth since January 2024 for every pair on disk
    %s plot -s 2024-01-01-00-00

CONFIGURATION:
    Configuration can be provided via:
    - Config file: streaks.yaml, streaks.yml or streaks.json in the working
      directory, or the path in %s
    - .env file in the working directory
    - Environment variables: %s* (e.g., %sDATA_DIR)

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigEnv, config.EnvPrefix, config.EnvPrefix, AppName)
}

// printCommandHelp displays help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "fetch":
		fmt.Printf(`%s fetch - Refresh snapshot files

USAGE:
    %s fetch [options]

OPTIONS:
    -c, --currency_pairs PAIR...   Pairs to fetch (default: every online pair)
    -i, --interval SECONDS         Candle interval (default: 86400)
    -e, --earliest DATE            First date for pairs without a snapshot (default: 2008-11-16)
    -w, --workers N                Pairs fetched concurrently (default: 4)
    -q, --quote ASSET              Only discover pairs quoted in ASSET
    -h, --help                     Show this help

Each pair is fetched from the day after its newest snapshot up to
yesterday 00:00 UTC. The merged rows are written to a new snapshot and the
stale one is removed.
`, AppName, AppName)

	case "analyze":
		fmt.Printf(`%s analyze - Detect favorable runs and simulate returns

USAGE:
    %s analyze -c PAIR... -p TOLERANCE -v TOLERANCE [options]

OPTIONS:
    -c, --currency_pairs PAIR...        Pairs to analyze (required unless --from-store)
    -p, --price_tolerance FRACTION      Allowed price drop, 0.01 = 1%% (required)
    -v, --volume_tolerance FRACTION     Allowed volume drop (required)
    -n, --num_consecutive_days N        Favorable days that open a run (default: 3)
    -s, --start_from N                  Records skipped at the start (default: 0)
    -r, --remove_lastdatapoints N       Records dropped at the end (default: 0)
    -i, --interval SECONDS              Candle interval (default: 86400)
        --investment AMOUNT             Starting balance (default: 100)
        --chart, --no-chart             Write the run chart (default: on)
    -o, --out DIR                       Chart directory (default: ./charts)
        --from-store                    Read candles from the configured storage
                                        (default pairs: every stored pair)
    -h, --help                          Show this help
`, AppName, AppName)

	case "plot":
		fmt.Printf(`%s plot - Plot normalised prices

USAGE:
    %s plot [options]

OPTIONS:
    -c, --currency_pairs PAIR...             Pairs to plot (default: every pair on disk)
    -s, --start_date YYYY-MM-DD-HH-MM        First timestamp (default: 2024-01-01-00-00)
    -e, --end_date YYYY-MM-DD-HH-MM          Last timestamp (default: yesterday 00:00 UTC)
    -i, --interval SECONDS                   Candle interval (default: 86400)
    -z, --start_from_zero                    Do not shift min-max lines to start at 0
    -n, --normalize_by_percentage_growth     Use min-max scaling instead of growth
        --highlight PAIR                     Pair drawn with a thicker line (default: BTC-USD)
    -o, --out DIR                            Chart directory (default: ./charts)
    -h, --help                               Show this help

A band at -100 shows, for every timestamp, the pair that grew the most
since the previous one.
`, AppName, AppName)

	case "schedule":
		fmt.Printf(`%s schedule - Run fetch periodically

USAGE:
    %s schedule [fetch options] [options]

OPTIONS:
    --spec "SEC MIN HOUR DOM MON DOW"   Cron spec in UTC (default: "0 30 0 * * *")
    --run-now                           Fetch once before waiting for the schedule
    All fetch options are accepted.
`, AppName, AppName)

	default:
		fmt.Printf("No help available for command: %s\n", command)
		printUsage()
	}
}
