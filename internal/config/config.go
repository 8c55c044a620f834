package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/xtrntr/dexsim/internal/amm"
)

// Config is the server configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Markets  []string       `mapstructure:"markets"`
	Pools    []PoolConfig   `mapstructure:"pools"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	SnapshotDepth     int           `mapstructure:"snapshot_depth"`
	StaticDir         string        `mapstructure:"static_dir"` // served at / when set
}

// DatabaseConfig points at the Postgres journal. An empty URL runs without one.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// PoolConfig keeps amounts as strings so they parse exactly into decimals
type PoolConfig struct {
	ID         string `mapstructure:"id"`
	TokenA     string `mapstructure:"token_a"`
	TokenB     string `mapstructure:"token_b"`
	ReserveA   string `mapstructure:"reserve_a"`
	ReserveB   string `mapstructure:"reserve_b"`
	FeeRate    string `mapstructure:"fee_rate"`
	AccrueFees bool   `mapstructure:"accrue_fees"`
}

// AMM converts the pool entry into an amm.Config
func (p PoolConfig) AMM() (amm.Config, error) {
	reserveA, err := decimal.NewFromString(p.ReserveA)
	if err != nil {
		return amm.Config{}, fmt.Errorf("pool %s: invalid reserve_a %q: %w", p.ID, p.ReserveA, err)
	}
	reserveB, err := decimal.NewFromString(p.ReserveB)
	if err != nil {
		return amm.Config{}, fmt.Errorf("pool %s: invalid reserve_b %q: %w", p.ID, p.ReserveB, err)
	}
	fee, err := decimal.NewFromString(p.FeeRate)
	if err != nil {
		return amm.Config{}, fmt.Errorf("pool %s: invalid fee_rate %q: %w", p.ID, p.FeeRate, err)
	}
	return amm.Config{
		ID:         p.ID,
		TokenA:     p.TokenA,
		TokenB:     p.TokenB,
		ReserveA:   reserveA,
		ReserveB:   reserveB,
		FeeRate:    fee,
		AccrueFees: p.AccrueFees,
	}, nil
}

// DefaultPools are the SOL/USDC venues used when no pools are configured
func DefaultPools() []PoolConfig {
	return []PoolConfig{
		{ID: "Raydium", TokenA: "SOL", TokenB: "USDC", ReserveA: "500", ReserveB: "75000", FeeRate: "0.003"},
		{ID: "ORCA", TokenA: "SOL", TokenB: "USDC", ReserveA: "200", ReserveB: "29000", FeeRate: "0.003"},
		{ID: "Meteora", TokenA: "SOL", TokenB: "USDC", ReserveA: "2000", ReserveB: "300000", FeeRate: "0.003"},
	}
}

// Load reads configuration from path (optional, any format viper understands)
// and DEXSIM_* environment variables, e.g. DEXSIM_DATABASE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.broadcast_interval", 5*time.Second)
	v.SetDefault("server.snapshot_depth", 5)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("markets", []string{"ETH-USDT"})

	v.SetEnvPrefix("DEXSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Pools) == 0 {
		cfg.Pools = DefaultPools()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the config the server cannot start without
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (DEXSIM_AUTH_JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive, got %s", c.Server.BroadcastInterval)
	}
	if c.Server.SnapshotDepth <= 0 {
		return fmt.Errorf("server.snapshot_depth must be positive, got %d", c.Server.SnapshotDepth)
	}
	seen := make(map[string]bool)
	for _, p := range c.Pools {
		if seen[p.ID] {
			return fmt.Errorf("duplicate pool id %q", p.ID)
		}
		seen[p.ID] = true
		if _, err := p.AMM(); err != nil {
			return err
		}
	}
	return nil
}
