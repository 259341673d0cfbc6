// Package app wires configuration into a running coordinator.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/config"
	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/events"
	"github.com/rustyeddy/riskledger/journal"
	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/pkg/logger"
	"github.com/rustyeddy/riskledger/risk"
	"github.com/rustyeddy/riskledger/stops"
)

// App holds the wired components for one process.
type App struct {
	Config      *config.Config
	Log         *logger.Logger
	Store       *ledger.SQLStore
	Ledger      *ledger.Ledger
	Stops       *stops.Tracker
	Coordinator *coordinator.Coordinator
	Data        *market.MemoryProvider
	Publisher   *events.Publisher

	closers []func() error
}

// New opens storage, registers every configured account and returns the
// wired App. Close releases everything New opened.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	log = logger.OrNop(log)
	a := &App{Config: cfg, Log: log}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	dialect, err := ledger.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return err
	}
	store, err := ledger.OpenSQLStore(dialect, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	var (
		sink     coordinator.Sink
		journals ledger.MultiJournal
	)
	if cfg.Journal.TradesFile != "" {
		j, err := journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, j.Close)
		journals = append(journals, j)
	}
	if cfg.Kafka.Enabled {
		a.Publisher = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topics, a.Log)
		a.closers = append(a.closers, a.Publisher.Close)
		journals = append(journals, a.Publisher)
		sink = a.Publisher
	}
	a.Ledger = ledger.New(store,
		ledger.WithLogger(a.Log),
		ledger.WithFeeRate(decimal.NewFromFloat(cfg.Ledger.FeeRate)),
		ledger.WithJournal(journals),
	)

	stopStore, err := a.stopStore(ctx)
	if err != nil {
		return err
	}
	a.Stops = stops.NewTracker(cfg.Stops.Config, stopStore, stops.WithLogger(a.Log))

	if cfg.Market.CandlesFile != "" {
		a.Data, err = market.LoadCandlesFile(cfg.Market.CandlesFile)
		if err != nil {
			return fmt.Errorf("load candles: %w", err)
		}
	} else {
		a.Data = market.NewMemoryProvider()
	}

	window, err := cfg.LiquidityWindow()
	if err != nil {
		return err
	}
	opts := []coordinator.Option{
		coordinator.WithLogger(a.Log),
		coordinator.WithPipeline(risk.DefaultPipeline(a.Log, window)),
		coordinator.WithHistory(a.Data, cfg.Market.Lookback),
	}
	if sink != nil {
		opts = append(opts, coordinator.WithSink(sink))
	}
	a.Coordinator = coordinator.New(a.Ledger, a.Stops, opts...)

	personalities, err := cfg.Personalities()
	if err != nil {
		return err
	}
	for _, p := range personalities {
		if err := a.Coordinator.AddAccount(ctx, p); err != nil {
			return fmt.Errorf("add account %s: %w", p.ID, err)
		}
	}
	a.Log.Info("app ready",
		logger.StringField("dialect", string(dialect)),
		logger.IntField("accounts", len(personalities)),
		logger.StringField("stops", cfg.Stops.Backend))
	return nil
}

func (a *App) stopStore(ctx context.Context) (stops.Store, error) {
	if a.Config.Stops.Backend != "redis" {
		return stops.NewMemoryStore(), nil
	}
	rc := a.Config.Redis
	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	a.closers = append(a.closers, rdb.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	return stops.NewRedisStore(rdb, rc.Prefix), nil
}

// ContextSpec is the market data request for a cycle over tickers.
func (a *App) ContextSpec(tickers []string) coordinator.ContextSpec {
	return coordinator.ContextSpec{
		Tickers:  tickers,
		Proxies:  a.Config.Market.Proxies,
		Lookback: a.Config.Market.Lookback,
		Horizon:  a.Config.Market.Horizon,
		Universe: a.Config.Universe(),
	}
}

// MarketContext resolves the context for signals plus held tickers.
func (a *App) MarketContext(ctx context.Context, now time.Time, signals []market.Signal) (risk.MarketContext, error) {
	tickers, err := a.Coordinator.Tickers(ctx, signals)
	if err != nil {
		return risk.MarketContext{}, err
	}
	return coordinator.BuildMarketContext(ctx, now, a.Data, a.Data, a.ContextSpec(tickers), a.Log), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
