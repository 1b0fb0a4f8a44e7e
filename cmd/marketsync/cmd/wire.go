package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rustyeddy/marketsync/config"
	"github.com/rustyeddy/marketsync/fetch"
	"github.com/rustyeddy/marketsync/journal"
	"github.com/rustyeddy/marketsync/market"
	"github.com/rustyeddy/marketsync/pipeline"
	"github.com/rustyeddy/marketsync/provider/dukascopy"
	"github.com/rustyeddy/marketsync/provider/oanda"
	"github.com/rustyeddy/marketsync/provider/twelvedata"
	"github.com/rustyeddy/marketsync/store"
)

func openStore(cfg *config.Config, log *slog.Logger) *store.CSVStore {
	st := store.NewCSVStore(cfg.DataDir, log)
	if cfg.Store.ParquetMirror {
		st.Mirror = &store.ParquetMirror{Root: cfg.DataDir}
	}
	return st
}

func openJournal(cfg *config.Config, memory bool) (journal.Journal, error) {
	if memory {
		return journal.NewMemory(), nil
	}
	j, err := journal.NewSQLite(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

// missingCredentials fails every fetch for a provider whose secret is not
// in the environment, so only its entities fail.
func missingCredentials(provider, env string) fetch.Fetcher {
	return fetch.FetcherFunc(func(context.Context, market.Entity, *market.Key) ([]market.Record, error) {
		return nil, fetch.Errorf(provider, "credentials missing: set $%s", env)
	})
}

// buildRegistry registers one adapter per provider from the config and the
// environment.
func buildRegistry(cfg *config.Config) (*fetch.Registry, error) {
	reg := fetch.NewRegistry()

	oc := cfg.Providers.Oanda
	if token := os.Getenv(oc.TokenEnv); token == "" {
		reg.Register(config.ProviderOanda, missingCredentials(config.ProviderOanda, oc.TokenEnv))
	} else {
		base := oc.BaseURL
		if base == "" {
			var err error
			if base, err = oanda.BaseURL(oc.Env); err != nil {
				return nil, err
			}
		}
		client := oanda.NewClient(token, true)
		client.BaseURL = base
		if oc.Start != "" {
			start, err := time.Parse(market.DateLayout, oc.Start)
			if err != nil {
				return nil, fmt.Errorf("providers.oanda.start: %w", err)
			}
			client.Start = start
		}
		reg.Register(config.ProviderOanda, client)
	}

	tc := cfg.Providers.TwelveData
	if key := os.Getenv(tc.APIKeyEnv); key == "" {
		reg.Register(config.ProviderTwelveData, missingCredentials(config.ProviderTwelveData, tc.APIKeyEnv))
	} else {
		reg.Register(config.ProviderTwelveData, twelvedata.New(twelvedata.Config{
			APIKey:     key,
			BaseURL:    tc.BaseURL,
			OutputSize: tc.OutputSize,
		}, nil))
	}

	dc := cfg.Providers.Dukascopy
	reg.Register(config.ProviderDukascopy, dukascopy.New(dukascopy.Config{
		BaseURL:  dc.BaseURL,
		Scale:    dc.Scale,
		FromYear: dc.FromYear,
		CacheDir: dc.CacheDir,
	}, nil))

	return reg, nil
}

// newCoordinator assembles the sync pipeline from cfg.
func newCoordinator(cfg *config.Config, j journal.Journal, workers int, log *slog.Logger) (*pipeline.Coordinator, error) {
	gate, err := cfg.FreshnessPolicy()
	if err != nil {
		return nil, err
	}
	retry, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = cfg.Workers
	}

	orch := fetch.NewOrchestrator(reg, retry, fetch.NewLimiter(cfg.Rate.PerSecond, cfg.Rate.Burst), log)
	return &pipeline.Coordinator{
		Store:   openStore(cfg, log),
		Journal: j,
		Fetch:   orch,
		Gate:    gate,
		Workers: workers,
		Logger:  log,
	}, nil
}
