// Package cliutil holds the small pieces of wiring shared by the
// surge-factor command-line drivers: logger construction, calendar
// loading, and config-to-engine-config translation.
package cliutil

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cs7649/surgefactor/internal/calendar"
	"github.com/cs7649/surgefactor/internal/config"
	"github.com/cs7649/surgefactor/internal/factorengine"
)

// NewLogger builds the structured logger for a driver process, honoring
// Logging.Format ("json" or anything else for text) and Logging.Level.
func NewLogger(cfg config.Logging) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// CalendarFromConfig loads the StaticService a driver's engine runs
// against, from the path named in Storage.CalendarPath.
func CalendarFromConfig(cfg *config.Config) (calendar.Service, error) {
	if cfg.Storage.CalendarPath == "" {
		return nil, fmt.Errorf("cliutil: storage.calendar_path is not set")
	}
	return calendar.LoadStaticService(cfg.Storage.CalendarPath)
}

// EngineConfigsFromSpec converts every configured factor spec into a
// factorengine.Config.
func EngineConfigsFromSpec(cfg *config.Config) ([]factorengine.Config, error) {
	out := make([]factorengine.Config, 0, len(cfg.Factors))
	for _, spec := range cfg.Factors {
		ec, err := spec.ToEngineConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, nil
}
