// Single-settlement-date driver for the surge factor pipeline.
//
// Usage:
//
//	go run cmd/surge-factor/main.go --date 20240105
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
	date := flag.String("date", "", "settlement date, YYYYMMDD (required)")
	dataPath := flag.String("data_path", "", "tick data root (overrides config storage.data_dir)")
	cfgPath := flag.String("config", "config/surgefactor.yaml", "path to config file")
	flag.Parse()

	if p := os.Getenv("SURGEFACTOR_CONFIG"); p != "" {
		*cfgPath = p
	}

	if *date == "" {
		fmt.Fprintln(os.Stderr, "surge-factor: --date is required")
		return 1
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surge-factor: loading config: %v\n", err)
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
		fmt.Fprintf(os.Stderr, "surge-factor: loading calendar: %v\n", err)
		return 2
	}

	engineConfigs, err := cliutil.EngineConfigsFromSpec(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surge-factor: parsing factor configs: %v\n", err)
		return 1
	}

	engine := &factorengine.Engine{
		TickStore: store.NewParquetTickStore(dataDir),
		Calendar:  cal,
		Configs:   engineConfigs,
		NWorkers:  1,
		Logger:    logger,
	}

	results, err := engine.Run(ctx, []string{*date})
	if err != nil {
		logger.Error("engine run failed", "error", err)
		return 2
	}

	fs := store.NewParquetFactorStore(cfg.Storage.FactorDir)
	for name, rows := range results {
		matrix := emit.Pivot(rows)
		if err := emit.Emit(ctx, fs, logger, name, matrix, *date, *date); err != nil {
			logger.Error("emit failed", "factor", name, "error", err)
			return 2
		}
	}

	logger.Info("surge-factor run complete", "date", *date, "factors", len(results))
	return 0
}
