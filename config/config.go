// Package config loads the sync configuration: where data lives, how hard
// to hit providers and which entities to keep up to date.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/marketsync/fetch"
	"github.com/rustyeddy/marketsync/freshness"
	"github.com/rustyeddy/marketsync/market"
	"github.com/rustyeddy/marketsync/store"
)

// Provider names understood by the CLI.
const (
	ProviderOanda      = "oanda"
	ProviderTwelveData = "twelvedata"
	ProviderDukascopy  = "dukascopy"
)

var KnownProviders = []string{ProviderOanda, ProviderTwelveData, ProviderDukascopy}

// Config represents the complete sync configuration
type Config struct {
	DataDir   string          `json:"data_dir" yaml:"data_dir"`
	StateDB   string          `json:"state_db" yaml:"state_db"`
	Workers   int             `json:"workers" yaml:"workers"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Freshness FreshnessConfig `json:"freshness" yaml:"freshness"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Rate      RateConfig      `json:"rate" yaml:"rate"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Entities  []market.Entity `json:"entities" yaml:"entities"`
}

// FreshnessConfig holds max ages as duration strings, e.g. "20h".
type FreshnessConfig struct {
	Default    string            `json:"default" yaml:"default"`
	Categories map[string]string `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// RetryConfig bounds retries of transient fetch failures.
type RetryConfig struct {
	Attempts int    `json:"attempts" yaml:"attempts"`
	Initial  string `json:"initial" yaml:"initial"` // e.g. "500ms"
	Max      string `json:"max" yaml:"max"`
}

// RateConfig is the global request budget shared by all workers.
type RateConfig struct {
	PerSecond float64 `json:"per_second" yaml:"per_second"`
	Burst     int     `json:"burst" yaml:"burst"`
}

type StoreConfig struct {
	ParquetMirror bool `json:"parquet_mirror" yaml:"parquet_mirror"`
}

type ProvidersConfig struct {
	Oanda      OandaConfig      `json:"oanda" yaml:"oanda"`
	TwelveData TwelveDataConfig `json:"twelvedata" yaml:"twelvedata"`
	Dukascopy  DukascopyConfig  `json:"dukascopy" yaml:"dukascopy"`
}

type OandaConfig struct {
	Env      string `json:"env" yaml:"env"` // practice or live
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TokenEnv string `json:"token_env" yaml:"token_env"`
	Start    string `json:"start,omitempty" yaml:"start,omitempty"` // first day when there is no history
}

type TwelveDataConfig struct {
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv  string `json:"api_key_env" yaml:"api_key_env"`
	OutputSize int    `json:"outputsize" yaml:"outputsize"`
}

type DukascopyConfig struct {
	BaseURL  string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Scale    float64 `json:"scale" yaml:"scale"`
	FromYear int     `json:"from_year" yaml:"from_year"`
	CacheDir string  `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
}

// LoadEnv reads KEY=value files into the environment. Missing files are
// skipped; variables already set win.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file. Settings the
// file leaves out keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	cfg.Entities = nil

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		cfg.Entities = nil
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	for i := range cfg.Entities {
		cfg.Entities[i].Category = market.Category(strings.ToLower(string(cfg.Entities[i].Category)))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration as YAML for .yaml/.yml paths, JSON
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if _, err := c.FreshnessPolicy(); err != nil {
		return err
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}
	if c.Rate.PerSecond < 0 {
		return fmt.Errorf("rate.per_second must not be negative")
	}
	if c.Providers.Oanda.Start != "" {
		if _, err := time.Parse(market.DateLayout, c.Providers.Oanda.Start); err != nil {
			return fmt.Errorf("providers.oanda.start: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
		if !isKnownProvider(e.Provider) {
			return fmt.Errorf("entities[%d]: unknown provider %q", i, e.Provider)
		}
		slot := store.SlotKey(e)
		if seen[slot] {
			return fmt.Errorf("entities[%d]: duplicate entity %s", i, e.Key())
		}
		seen[slot] = true
	}
	return nil
}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

func parsePositive(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// FreshnessPolicy builds the gate's policy.
func (c *Config) FreshnessPolicy() (freshness.Policy, error) {
	p := freshness.NewPolicy()
	if c.Freshness.Default != "" {
		d, err := parsePositive("freshness.default", c.Freshness.Default)
		if err != nil {
			return p, err
		}
		p.Default = d
	}
	for name, s := range c.Freshness.Categories {
		cat, err := market.ParseCategory(name)
		if err != nil {
			return p, fmt.Errorf("freshness.categories: %w", err)
		}
		d, err := parsePositive("freshness.categories."+name, s)
		if err != nil {
			return p, err
		}
		if p.MaxAge == nil {
			p.MaxAge = make(map[market.Category]time.Duration)
		}
		p.MaxAge[cat] = d
	}
	return p, nil
}

// RetryPolicy builds the fetch retry policy.
func (c *Config) RetryPolicy() (fetch.RetryPolicy, error) {
	p := fetch.DefaultRetry
	if c.Retry.Attempts != 0 {
		if c.Retry.Attempts < 1 {
			return p, fmt.Errorf("retry.attempts must be at least 1")
		}
		p.Attempts = c.Retry.Attempts
	}
	if c.Retry.Initial != "" {
		d, err := parsePositive("retry.initial", c.Retry.Initial)
		if err != nil {
			return p, err
		}
		p.Initial = d
	}
	if c.Retry.Max != "" {
		d, err := parsePositive("retry.max", c.Retry.Max)
		if err != nil {
			return p, err
		}
		p.Max = d
	}
	if p.Max < p.Initial {
		return p, fmt.Errorf("retry.max must not be below retry.initial")
	}
	return p, nil
}

// Select returns the configured entities whose id or key is in only, in
// configuration order. An empty only selects everything.
func (c *Config) Select(only []string) ([]market.Entity, error) {
	if len(only) == 0 {
		return c.Entities, nil
	}
	want := make(map[string]bool, len(only))
	for _, s := range only {
		want[strings.TrimSpace(s)] = true
	}

	var out []market.Entity
	for _, e := range c.Entities {
		if want[e.ID] || want[e.Key()] {
			out = append(out, e)
			delete(want, e.ID)
			delete(want, e.Key())
		}
	}
	for s := range want {
		return nil, fmt.Errorf("unknown entity %q", s)
	}
	return out, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		DataDir:   "./data",
		StateDB:   "./data/.marketsync.sqlite",
		Workers:   5,
		LogLevel:  "info",
		LogFormat: "text",
		Freshness: FreshnessConfig{Default: "20h"},
		Retry:     RetryConfig{Attempts: 4, Initial: "500ms", Max: "10s"},
		Rate:      RateConfig{PerSecond: 5, Burst: 1},
		Providers: ProvidersConfig{
			Oanda:      OandaConfig{Env: "practice", TokenEnv: "OANDA_TOKEN", Start: "2005-01-01"},
			TwelveData: TwelveDataConfig{APIKeyEnv: "TWELVEDATA_API_KEY", OutputSize: 5000},
			Dukascopy:  DukascopyConfig{Scale: 100000, FromYear: 2003},
		},
		Entities: []market.Entity{
			{ID: "EUR_USD", Category: market.FX, Provider: ProviderOanda},
			{ID: "XAUUSD", Category: market.Commodity, Provider: ProviderDukascopy},
			{ID: "AAPL", Category: market.Stock, Provider: ProviderTwelveData},
			{ID: "SPX", Category: market.Index, Provider: ProviderTwelveData},
			{ID: "BTC_USD", Category: market.Crypto, Provider: ProviderTwelveData},
		},
	}
}
