package app

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        defaultAddr,
		DatabaseURL: "postgres://cart@localhost/cart",
		Cart:        CartConfig{ConfigName: "cart", MinCostForCheckout: "0"},
		Graph:       GraphConfig{Backend: "age", Name: "cart_graph"},
		Redis:       RedisConfig{URL: "redis://localhost:6379/0"},
		Lock:        LockConfig{Backend: "redis"},
		Auth:        AuthConfig{JWTSecret: "secret"},
		RateLimit:   RateLimitConfig{Backend: "redis", Max: 10, Window: time.Minute},
	}
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("CART_DATABASE_URL", "postgres://cart@db/cart")
	t.Setenv("CART_LOCK_BACKEND", "postgres")
	t.Setenv("CART_RATE_LIMIT_BACKEND", "local")
	t.Setenv("CART_AUTH_JWT_SECRET", "secret")

	cfg, err := loadConfig(aconfig.Config{EnvPrefix: "CART", SkipFiles: true, SkipFlags: true})
	require.NoError(t, err)

	assert.Equal(t, "postgres://cart@db/cart", cfg.DatabaseURL)
	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, "postgres", cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "age", cfg.Graph.Backend)
	assert.Equal(t, "cart_graph", cfg.Graph.Name)
	assert.Equal(t, "cart", cfg.Cart.ConfigName)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/cart")
	t.Setenv("REDIS_URL", "redis://platform:6379")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/cart", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://own/cart"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://own/cart", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr, "explicit address wins over PORT")
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, func() error { c := validConfig(); return c.Validate() }())

	for _, tt := range []struct {
		name   string
		modify func(c *Config)
	}{
		{"no database", func(c *Config) { c.DatabaseURL = "" }},
		{"unknown graph backend", func(c *Config) { c.Graph.Backend = "dgraph" }},
		{"bad graph name", func(c *Config) { c.Graph.Name = "cart-graph; drop" }},
		{"neo4j without uri", func(c *Config) { c.Graph.Backend = "neo4j" }},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"unknown rate limit backend", func(c *Config) { c.RateLimit.Backend = "memcached" }},
		{"redis lock without redis", func(c *Config) { c.Redis.URL = ""; c.RateLimit.Backend = "local" }},
		{"no auth", func(c *Config) { c.Auth = AuthConfig{} }},
		{"bad fallback", func(c *Config) { c.Cart.MinCostForCheckout = "ten" }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("local backends without redis", func(t *testing.T) {
		c := validConfig()
		c.Redis.URL = ""
		c.Lock.Backend = "local"
		c.RateLimit.Backend = "local"
		assert.NoError(t, c.Validate())
	})
}

func TestCartConfig_Fallback(t *testing.T) {
	cfg, err := CartConfig{MinCostForCheckout: "12.50"}.Fallback()
	require.NoError(t, err)
	assert.True(t, cfg.MinCostForCheckout.Equal(decimal.RequireFromString("12.5")))
	assert.False(t, cfg.MaxItemsQty.Valid)

	cfg, err = CartConfig{MinCostForCheckout: "0", MaxItemsQty: "40"}.Fallback()
	require.NoError(t, err)
	require.True(t, cfg.MaxItemsQty.Valid)
	assert.True(t, cfg.MaxItemsQty.Decimal.Equal(decimal.NewFromInt(40)))

	_, err = CartConfig{MinCostForCheckout: "0", MaxItemsQty: "many"}.Fallback()
	assert.Error(t, err)
}
