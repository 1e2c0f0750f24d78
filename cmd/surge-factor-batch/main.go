// Multi-settlement-date driver for the surge factor pipeline.
//
// Usage:
//
//	go run cmd/surge-factor-batch/main.go --start 20240101 --end 20240131 --cores 4
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cs7649/surgefactor/internal/cliutil"
	"github.com/cs7649/surgefactor/internal/config"
	"github.com/cs7649/surgefactor/internal/emit"
	"github.com/cs7649/surgefactor/internal/factorengine"
	"github.com/cs7649/surgefactor/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	start := flag.String("start", "", "first settlement date, YYYYMMDD (required)")
	end := flag.String("end", "", "last settlement date, YYYYMMDD (required)")
	cores := flag.Int("cores", 1, "number of settlement-day tasks to run concurrently")
	dataPath := flag.String("data_path", "", "tick data root (overrides config storage.data_dir)")
	cfgPath := flag.String("config", "config/surgefactor.yaml", "path to config file")
	flag.Parse()

	if p := os.Getenv("SURGEFACTOR_CONFIG"); p != "" {
		*cfgPath = p
	}

	if *start == "" || *end == "" {
		fmt.Fprintln(os.Stderr, "surge-factor-batch: --start and --end are required")
		return 1
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surge-factor-batch: loading config: %v\n", err)
		return 1
	}

	dataDir := cfg.Storage.DataDir
	if *dataPath != "" {
		dataDir = strings.TrimSuffix(*dataPath, "/") + "/"
	}

	logger := cliutil.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cal, err := cliutil.CalendarFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surge-factor-batch: loading calendar: %v\n", err)
		return 2
	}

	dates, err := cal.BizDaysInRange(*start, *end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surge-factor-batch: enumerating dates: %v\n", err)
		return 2
	}
	if len(dates) == 0 {
		logger.Warn("no settlement dates in range", "start", *start, "end", *end)
		return 0
	}

	engineConfigs, err := cliutil.EngineConfigsFromSpec(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surge-factor-batch: parsing factor configs: %v\n", err)
		return 1
	}

	engine := &factorengine.Engine{
		TickStore: store.NewParquetTickStore(dataDir),
		Calendar:  cal,
		Configs:   engineConfigs,
		NWorkers:  *cores,
		Logger:    logger,
	}

	results, err := engine.Run(ctx, dates)
	if err != nil {
		logger.Error("engine run failed", "error", err)
		return 2
	}

	fs := store.NewParquetFactorStore(cfg.Storage.FactorDir)
	for name, rows := range results {
		matrix := emit.Pivot(rows)
		if err := emit.Emit(ctx, fs, logger, name, matrix, *start, *end); err != nil {
			logger.Error("emit failed", "factor", name, "error", err)
			return 2
		}
	}

	logger.Info("surge-factor-batch run complete", "dates", len(dates), "factors", len(results))
	return 0
}
