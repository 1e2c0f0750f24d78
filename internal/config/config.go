// Package config loads the surgefactor YAML configuration file, following
// the teacher's internal/config/config.go layout: a Load function parses
// the file and then applies environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cs7649/surgefactor/internal/factoraggregate"
	"github.com/cs7649/surgefactor/internal/factorengine"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the surge factor pipeline.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Logging Logging      `yaml:"logging"`
	Engine  EngineConfig `yaml:"engine"`
	Factors []FactorSpec `yaml:"factors"`
}

// Storage holds paths for tick and factor persistence.
type Storage struct {
	DataDir      string `yaml:"data_dir"`
	FactorDir    string `yaml:"factor_dir"`
	CalendarPath string `yaml:"calendar_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig holds the engine section of the config file. Workers is
// parsed but not read by the drivers: surge-factor runs one worker and
// surge-factor-batch takes its worker count from --cores.
type EngineConfig struct {
	Workers int `yaml:"workers"`
}

// FactorSpec is the YAML representation of one factorengine.Config entry.
type FactorSpec struct {
	Name string `yaml:"name"`

	BarSource   string  `yaml:"bar_source"`
	BarFreq     string  `yaml:"bar_freq"`
	OutputFreq  string  `yaml:"output_freq"`
	FactorType  string  `yaml:"factor_type"`
	TradingTime string  `yaml:"trading_time"`
	Threshold   float64 `yaml:"threshold"`

	M10Method    string `yaml:"m10_method"`
	LookbackDays int    `yaml:"lookback_days"`
	LookbackBars int    `yaml:"lookback_bars"`

	SurgeWindow  int    `yaml:"surge_window"`
	IntradayStat string `yaml:"intraday_stat"`
	PriceType    string `yaml:"price_type"`

	Neutralize bool `yaml:"neutralize"`
	IsAbs      bool `yaml:"is_abs"`
}

// ToEngineConfig converts the YAML-shaped FactorSpec into the strongly
// typed factorengine.Config the engine runs on.
func (s FactorSpec) ToEngineConfig() (factorengine.Config, error) {
	freq, err := parseFreq(s.BarFreq)
	if err != nil {
		return factorengine.Config{}, fmt.Errorf("factor %q: %w", s.Name, err)
	}

	barSource := s.BarSource
	if barSource == "" {
		barSource = "trade"
	}

	return factorengine.Config{
		Name:         s.Name,
		BarSource:    barSource,
		BarFreq:      freq,
		OutputFreq:   s.OutputFreq,
		FactorType:   s.FactorType,
		TradingTime:  s.TradingTime,
		Threshold:    s.Threshold,
		M10Method:    s.M10Method,
		LookbackDays: s.LookbackDays,
		LookbackBars: s.LookbackBars,
		SurgeWindow:  s.SurgeWindow,
		IntradayStat: factoraggregate.Stat(s.IntradayStat),
		PriceType:    s.PriceType,
		Neutralize:   s.Neutralize,
		AbsValue:     s.IsAbs,
	}, nil
}

func parseFreq(s string) (timepolicy.Freq, error) {
	switch s {
	case "1m":
		return timepolicy.Freq1m, nil
	case "5m":
		return timepolicy.Freq5m, nil
	case "10m":
		return timepolicy.Freq10m, nil
	default:
		return "", fmt.Errorf("unknown bar_freq %q", s)
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path, parses it into a Config,
// and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SURGEFACTOR_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SURGEFACTOR_FACTOR_DIR"); v != "" {
		cfg.Storage.FactorDir = v
	}
	if v := os.Getenv("SURGEFACTOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SURGEFACTOR_CALENDAR_PATH"); v != "" {
		cfg.Storage.CalendarPath = v
	}
}
