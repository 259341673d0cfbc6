package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/events"
	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/risk"
	"github.com/rustyeddy/riskledger/sizing"
	"github.com/rustyeddy/riskledger/stops"
)

// EnvPrefix prefixes environment overrides, e.g. RISKLEDGER_DATABASE_DSN.
const EnvPrefix = "RISKLEDGER"

// Config is the complete riskledger configuration.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database" mapstructure:"database"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger" mapstructure:"ledger"`
	Journal   JournalConfig   `json:"journal" yaml:"journal" mapstructure:"journal"`
	Stops     StopsConfig     `json:"stops" yaml:"stops" mapstructure:"stops"`
	Risk      risk.Params     `json:"risk" yaml:"risk" mapstructure:"risk"`
	Accounts  []AccountConfig `json:"accounts" yaml:"accounts" mapstructure:"accounts"`
	Market    MarketConfig    `json:"market" yaml:"market" mapstructure:"market"`
	Liquidity LiquidityConfig `json:"liquidity" yaml:"liquidity" mapstructure:"liquidity"`
	Redis     RedisConfig     `json:"redis" yaml:"redis" mapstructure:"redis"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka" mapstructure:"kafka"`
	HTTP      HTTPConfig      `json:"http" yaml:"http" mapstructure:"http"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" mapstructure:"scheduler"`
	Log       LogConfig       `json:"log" yaml:"log" mapstructure:"log"`
}

// DatabaseConfig selects the ledger store.
type DatabaseConfig struct {
	Dialect string `json:"dialect" yaml:"dialect" mapstructure:"dialect"` // "sqlite3" or "postgres"
	DSN     string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
}

type LedgerConfig struct {
	FeeRate float64 `json:"fee_rate" yaml:"fee_rate" mapstructure:"fee_rate"`
}

// JournalConfig enables the CSV trade and equity journal when both paths
// are set.
type JournalConfig struct {
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty" mapstructure:"trades_file"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty" mapstructure:"equity_file"`
}

// StopsConfig picks the stop state backend and the tracker tuning.
type StopsConfig struct {
	Backend      string `json:"backend" yaml:"backend" mapstructure:"backend"` // "memory" or "redis"
	stops.Config `json:",inline" yaml:",inline" mapstructure:",squash"`
}

// AccountConfig describes one personality. Params and Sizer fall back to
// the top-level risk section and the default sizer.
type AccountConfig struct {
	ID             string        `json:"id" yaml:"id" mapstructure:"id"`
	InitialCapital string        `json:"initial_capital" yaml:"initial_capital" mapstructure:"initial_capital"`
	AllowShort     bool          `json:"allow_short" yaml:"allow_short" mapstructure:"allow_short"`
	Params         *risk.Params  `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
	Sizer          *sizing.Sizer `json:"sizer,omitempty" yaml:"sizer,omitempty" mapstructure:"sizer"`
}

type MarketConfig struct {
	Proxies     []string            `json:"proxies" yaml:"proxies" mapstructure:"proxies"`
	Lookback    int                 `json:"lookback" yaml:"lookback" mapstructure:"lookback"`
	Horizon     int                 `json:"horizon" yaml:"horizon" mapstructure:"horizon"`
	Universe    []market.Instrument `json:"universe,omitempty" yaml:"universe,omitempty" mapstructure:"universe"`
	CandlesFile string              `json:"candles_file,omitempty" yaml:"candles_file,omitempty" mapstructure:"candles_file"`
}

// LiquidityConfig is the session window around open and close. Minutes of
// zero disables the check.
type LiquidityConfig struct {
	Open     string `json:"open" yaml:"open" mapstructure:"open"`   // "HH:MM"
	Close    string `json:"close" yaml:"close" mapstructure:"close"` // "HH:MM"
	Minutes  int    `json:"minutes" yaml:"minutes" mapstructure:"minutes"`
	Timezone string `json:"timezone" yaml:"timezone" mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

type KafkaConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Brokers []string      `json:"brokers" yaml:"brokers" mapstructure:"brokers"`
	Topics  events.Topics `json:"topics" yaml:"topics" mapstructure:"topics"`
}

type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Mode string `json:"mode" yaml:"mode" mapstructure:"mode"` // gin mode
}

type SchedulerConfig struct {
	// SnapshotCron is a standard 5-field cron spec, evaluated in UTC.
	SnapshotCron string `json:"snapshot_cron" yaml:"snapshot_cron" mapstructure:"snapshot_cron"`
}

type LogConfig struct {
	Level    string `json:"level" yaml:"level" mapstructure:"level"`
	Encoding string `json:"encoding" yaml:"encoding" mapstructure:"encoding"`
}

// LoadEnv loads .env style files into the process environment. Missing
// files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, applies
// RISKLEDGER_* environment overrides and validates the result. An empty
// path loads defaults plus environment.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if !strings.HasSuffix(path, ".json") && !strings.HasSuffix(path, ".yml") && !strings.HasSuffix(path, ".yaml") {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if path == "" && len(cfg.Accounts) == 0 {
		cfg.Accounts = Default().Accounts
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every scalar key so environment overrides apply
// even when the file omits the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.dialect", d.Database.Dialect)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("ledger.fee_rate", d.Ledger.FeeRate)
	v.SetDefault("journal.trades_file", d.Journal.TradesFile)
	v.SetDefault("journal.equity_file", d.Journal.EquityFile)

	v.SetDefault("stops.backend", d.Stops.Backend)
	v.SetDefault("stops.default_stop_pct", d.Stops.DefaultStopPct)
	v.SetDefault("stops.atr_period", d.Stops.ATRPeriod)
	v.SetDefault("stops.multiplier", d.Stops.Multiplier)
	v.SetDefault("stops.fallback_pct", d.Stops.FallbackPct)
	v.SetDefault("stops.break_even_trigger", d.Stops.BreakEvenTrigger)
	v.SetDefault("stops.break_even_buffer", d.Stops.BreakEvenBuffer)

	v.SetDefault("risk.max_daily_loss_pct", d.Risk.MaxDailyLossPct)
	v.SetDefault("risk.max_position_size_pct", d.Risk.MaxPositionSizePct)
	v.SetDefault("risk.max_correlation", d.Risk.MaxCorrelation)
	v.SetDefault("risk.market_crash_threshold", d.Risk.MarketCrashThreshold)
	v.SetDefault("risk.max_sector_exposure", d.Risk.MaxSectorExposure)
	v.SetDefault("risk.deterioration_threshold", d.Risk.DeteriorationThreshold)

	v.SetDefault("market.proxies", d.Market.Proxies)
	v.SetDefault("market.lookback", d.Market.Lookback)
	v.SetDefault("market.horizon", d.Market.Horizon)
	v.SetDefault("market.candles_file", d.Market.CandlesFile)

	v.SetDefault("liquidity.open", d.Liquidity.Open)
	v.SetDefault("liquidity.close", d.Liquidity.Close)
	v.SetDefault("liquidity.minutes", d.Liquidity.Minutes)
	v.SetDefault("liquidity.timezone", d.Liquidity.Timezone)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topics.trades", d.Kafka.Topics.Trades)
	v.SetDefault("kafka.topics.equity", d.Kafka.Topics.Equity)
	v.SetDefault("kafka.topics.decisions", d.Kafka.Topics.Decisions)
	v.SetDefault("kafka.topics.leaderboard", d.Kafka.Topics.Leaderboard)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.mode", d.HTTP.Mode)
	v.SetDefault("scheduler.snapshot_cron", d.Scheduler.SnapshotCron)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
}

// SaveToFile saves configuration as YAML for .yaml/.yml paths and as
// indented JSON otherwise.
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
	if _, err := ledger.ParseDialect(c.Database.Dialect); err != nil {
		return fmt.Errorf("database.dialect: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Ledger.FeeRate < 0 || c.Ledger.FeeRate >= 1 {
		return fmt.Errorf("ledger.fee_rate must be in [0,1)")
	}

	if (c.Journal.TradesFile == "") != (c.Journal.EquityFile == "") {
		return fmt.Errorf("journal trades_file and equity_file must be set together")
	}

	switch c.Stops.Backend {
	case "memory", "":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis stop backend")
		}
	default:
		return fmt.Errorf("stops.backend must be 'memory' or 'redis'")
	}
	if err := c.Stops.Config.Validate(); err != nil {
		return fmt.Errorf("stops: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id: %s", a.ID)
		}
		seen[a.ID] = true
		capital, err := decimal.NewFromString(a.InitialCapital)
		if err != nil || !capital.IsPositive() {
			return fmt.Errorf("accounts[%s].initial_capital must be positive", a.ID)
		}
		if a.Params != nil {
			if err := a.Params.Validate(); err != nil {
				return fmt.Errorf("accounts[%s].params: %w", a.ID, err)
			}
		}
	}

	if c.Market.Lookback < 2 {
		return fmt.Errorf("market.lookback must be at least 2")
	}
	if c.Market.Horizon <= 0 {
		return fmt.Errorf("market.horizon must be positive")
	}
	if _, err := c.LiquidityWindow(); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if c.Scheduler.SnapshotCron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.SnapshotCron); err != nil {
			return fmt.Errorf("scheduler.snapshot_cron: %w", err)
		}
	}
	return nil
}

// Personalities resolves account entries into coordinator personalities.
func (c *Config) Personalities() ([]coordinator.Personality, error) {
	out := make([]coordinator.Personality, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		capital, err := decimal.NewFromString(a.InitialCapital)
		if err != nil {
			return nil, fmt.Errorf("account %s initial_capital: %w", a.ID, err)
		}
		p := coordinator.Personality{
			ID:             a.ID,
			InitialCapital: capital,
			AllowShort:     a.AllowShort,
			Params:         c.Risk,
			Sizer:          sizing.DefaultSizer(),
		}
		if a.Params != nil {
			p.Params = *a.Params
		}
		if a.Sizer != nil {
			p.Sizer = *a.Sizer
		}
		out = append(out, p)
	}
	return out, nil
}

// LiquidityWindow builds the liquidity check, or nil when disabled.
func (c *Config) LiquidityWindow() (*risk.LiquidityWindow, error) {
	l := c.Liquidity
	if l.Minutes <= 0 {
		return nil, nil
	}
	open, err := clockMinutes(l.Open)
	if err != nil {
		return nil, fmt.Errorf("liquidity.open: %w", err)
	}
	closing, err := clockMinutes(l.Close)
	if err != nil {
		return nil, fmt.Errorf("liquidity.close: %w", err)
	}
	if closing <= open {
		return nil, fmt.Errorf("liquidity.close must be after liquidity.open")
	}
	loc := time.UTC
	if l.Timezone != "" {
		if loc, err = time.LoadLocation(l.Timezone); err != nil {
			return nil, fmt.Errorf("liquidity.timezone: %w", err)
		}
	}
	return &risk.LiquidityWindow{Open: open, Close: closing, Minutes: l.Minutes, Location: loc}, nil
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Universe returns the configured sector map.
func (c *Config) Universe() market.Universe {
	return market.NewUniverse(c.Market.Universe)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect: string(ledger.DialectSQLite),
			DSN:     "./riskledger.db",
		},
		Stops: StopsConfig{
			Backend: "memory",
			Config:  stops.DefaultConfig(),
		},
		Risk: risk.DefaultParams(),
		Accounts: []AccountConfig{
			{ID: "conservative", InitialCapital: "100000"},
			{ID: "aggressive", InitialCapital: "100000", AllowShort: true},
		},
		Market: MarketConfig{
			Proxies:  []string{"SPY", "QQQ"},
			Lookback: 30,
			Horizon:  5,
		},
		Liquidity: LiquidityConfig{
			Open:     "09:30",
			Close:    "16:00",
			Minutes:  15,
			Timezone: "America/New_York",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "stops:",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics:  events.DefaultTopics(),
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
			Mode: "release",
		},
		Scheduler: SchedulerConfig{
			SnapshotCron: "5 21 * * 1-5",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}
