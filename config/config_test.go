package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskledger/risk"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "sqlite3", cfg.Database.Dialect)
	assert.Equal(t, risk.DefaultParams(), cfg.Risk)
	assert.Len(t, cfg.Accounts, 2)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"bad dialect", func(c *Config) { c.Database.Dialect = "mysql" }, "database.dialect"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn is required"},
		{"fee rate", func(c *Config) { c.Ledger.FeeRate = 1.5 }, "ledger.fee_rate"},
		{"half journal", func(c *Config) { c.Journal.TradesFile = "t.csv" }, "journal trades_file and equity_file"},
		{"stop backend", func(c *Config) { c.Stops.Backend = "etcd" }, "stops.backend"},
		{"redis without addr", func(c *Config) {
			c.Stops.Backend = "redis"
			c.Redis.Addr = ""
		}, "redis.addr is required"},
		{"stop pct", func(c *Config) { c.Stops.DefaultStopPct = 2 }, "default_stop_pct"},
		{"risk params", func(c *Config) { c.Risk.MaxCorrelation = 3 }, "max_correlation"},
		{"no accounts", func(c *Config) { c.Accounts = nil }, "at least one account"},
		{"duplicate account", func(c *Config) { c.Accounts[1].ID = c.Accounts[0].ID }, "duplicate account id"},
		{"zero capital", func(c *Config) { c.Accounts[0].InitialCapital = "0" }, "initial_capital must be positive"},
		{"account params", func(c *Config) {
			p := risk.DefaultParams()
			p.MaxDailyLossPct = 5
			c.Accounts[0].Params = &p
		}, "accounts[conservative].params"},
		{"lookback", func(c *Config) { c.Market.Lookback = 1 }, "market.lookback"},
		{"liquidity order", func(c *Config) { c.Liquidity.Close = "09:00" }, "liquidity.close must be after"},
		{"liquidity format", func(c *Config) { c.Liquidity.Open = "9am" }, "liquidity.open"},
		{"kafka brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = nil
		}, "kafka.brokers"},
		{"cron", func(c *Config) { c.Scheduler.SnapshotCron = "every day" }, "scheduler.snapshot_cron"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Accounts[0].Params = &risk.Params{
				MaxDailyLossPct:        -2,
				MaxPositionSizePct:     5,
				MaxCorrelation:         0.5,
				MarketCrashThreshold:   -2,
				MaxSectorExposure:      0.3,
				DeteriorationThreshold: -1,
			}
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Database, loaded.Database)
			assert.Equal(t, cfg.Stops, loaded.Stops)
			assert.Equal(t, cfg.Risk, loaded.Risk)
			require.Len(t, loaded.Accounts, 2)
			assert.Equal(t, "100000", loaded.Accounts[0].InitialCapital)
			require.NotNil(t, loaded.Accounts[0].Params)
			assert.Equal(t, 5.0, loaded.Accounts[0].Params.MaxPositionSizePct)
			assert.True(t, loaded.Accounts[1].AllowShort)
			assert.Equal(t, cfg.Kafka.Topics, loaded.Kafka.Topics)
		})
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.yaml")
	body := `
database:
  dsn: /tmp/x.db
accounts:
  - id: solo
    initial_capital: 25000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Dialect)
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSN)
	assert.Equal(t, 30, cfg.Market.Lookback)
	require.Len(t, cfg.Accounts, 1)

	ps, err := cfg.Personalities()
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "25000", ps[0].InitialCapital.String())
	assert.Equal(t, risk.DefaultParams(), ps[0].Params)
	assert.Equal(t, 0.10, ps[0].Sizer.Cap)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RISKLEDGER_DATABASE_DIALECT", "postgres")
	t.Setenv("RISKLEDGER_DATABASE_DSN", "postgres://u:p@db/ledger?sslmode=disable")
	t.Setenv("RISKLEDGER_LOG_LEVEL", "debug")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, "postgres://u:p@db/ledger?sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Len(t, cfg.Accounts, 2)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RISKLEDGER_TEST_ONLY=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("RISKLEDGER_TEST_ONLY") })

	require.NoError(t, LoadEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("RISKLEDGER_TEST_ONLY"))
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLiquidityWindow(t *testing.T) {
	cfg := Default()
	w, err := cfg.LiquidityWindow()
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, 9*60+30, w.Open)
	assert.Equal(t, 16*60, w.Close)
	assert.Equal(t, "America/New_York", w.Location.String())

	cfg.Liquidity.Minutes = 0
	w, err = cfg.LiquidityWindow()
	require.NoError(t, err)
	assert.Nil(t, w)
}
