// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Feed describes where ticks and period history come from.
type Feed struct {
	Provider       string   `yaml:"provider"` // stub|binance
	Symbols        []string `yaml:"symbols"`
	WSURL          string   `yaml:"ws_url"`
	RESTURL        string   `yaml:"rest_url"`
	PollInterval   int      `yaml:"poll_interval_ms"`
	KlineLimit     int      `yaml:"kline_limit"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst"`
	RequestTimeout int      `yaml:"request_timeout_ms"`
}

// Watcher tunes the closed-period sweep loop.
type Watcher struct {
	SettleMargin     int `yaml:"settle_margin_ms"`
	SweepInterval    int `yaml:"sweep_interval_ms"`
	QueryTimeout     int `yaml:"query_timeout_ms"`
	SweepConcurrency int `yaml:"sweep_concurrency"`
}

// Watch is one symbol entry of the initial watch list.
type Watch struct {
	Symbol     string `yaml:"symbol"`
	Ticks      bool   `yaml:"ticks"`
	Periods    bool   `yaml:"periods"`
	Timeframes []int  `yaml:"timeframes"`
}

// Paper configures the in-memory account used with the stub feed.
type Paper struct {
	MaxTicksPerSymbol int    `yaml:"max_ticks_per_symbol"`
	PriceKind         string `yaml:"price_kind"`
}

// Journal configures the JSONL journal of closed periods.
type Journal struct {
	Path string `yaml:"path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App     App     `yaml:"app"`
	Feed    Feed    `yaml:"feed"`
	Watcher Watcher `yaml:"watcher"`
	Watch   []Watch `yaml:"watch"`
	Paper   Paper   `yaml:"paper"`
	Journal Journal `yaml:"journal"`
	Relay   Relay   `yaml:"relay"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Millis converts a millisecond setting into a duration, using def when unset.
func Millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
