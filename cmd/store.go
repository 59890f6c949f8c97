package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/printforge/printq-cli/internal/store"
	"github.com/printforge/printq-cli/pkg/amazoncust"
	"github.com/printforge/printq-cli/pkg/shipstation"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "printq.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initShipStation() (shipstation.Client, error) {
	if cfg.ShipStation.Key == "" || cfg.ShipStation.Secret == "" {
		return nil, eris.New("shipstation credentials are required (PRINTQ_SHIPSTATION_KEY / PRINTQ_SHIPSTATION_SECRET)")
	}

	opts := []shipstation.Option{
		shipstation.WithRateLimit(cfg.ShipStation.RatePerSec),
	}
	if cfg.ShipStation.BaseURL != "" {
		opts = append(opts, shipstation.WithBaseURL(cfg.ShipStation.BaseURL))
	}
	return shipstation.NewClient(cfg.ShipStation.Key, cfg.ShipStation.Secret, opts...), nil
}

func initAmazonFetcher() amazoncust.Fetcher {
	opts := []amazoncust.Option{
		amazoncust.WithRateLimit(cfg.Amazon.RatePerSec),
	}
	if cfg.Amazon.TimeoutSecs > 0 {
		opts = append(opts, amazoncust.WithTimeout(time.Duration(cfg.Amazon.TimeoutSecs)*time.Second))
	}
	return amazoncust.NewFetcher(opts...)
}
