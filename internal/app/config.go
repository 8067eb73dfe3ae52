package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/graph/neo4jgraph"
	"github.com/xenking/kart-cart/internal/storage/postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Cart        CartConfig
	Graph       GraphConfig
	Neo4j       neo4jgraph.Config
	Redis       RedisConfig
	Lock        LockConfig
	Auth        AuthConfig
	Events      EventsConfig
	Coupons     CouponsConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// CartConfig selects the stored cart policy and the policy used while no
// record is stored.
type CartConfig struct {
	ConfigName         string `default:"cart" usage:"Name of the cart_config record" flag:"cart-config-name"`
	MinCostForCheckout string `default:"0" usage:"Fallback minimum cart cost for checkout"`
	MaxItemsQty        string `default:"" usage:"Fallback ceiling on total item quantity, empty means unlimited"`
}

// Fallback parses the fallback policy.
func (c CartConfig) Fallback() (cart.Config, error) {
	var cfg cart.Config
	minCost, err := decimal.NewFromString(c.MinCostForCheckout)
	if err != nil {
		return cfg, errors.Wrap(err, "min cost for checkout")
	}
	cfg.MinCostForCheckout = minCost
	if c.MaxItemsQty != "" {
		maxQty, err := decimal.NewFromString(c.MaxItemsQty)
		if err != nil {
			return cfg, errors.Wrap(err, "max items qty")
		}
		cfg.MaxItemsQty = decimal.NewNullDecimal(maxQty)
	}
	return cfg, nil
}

// GraphConfig selects where the cart graph lives.
type GraphConfig struct {
	Backend       string        `default:"age" usage:"Graph backend: age (same transaction) or neo4j (outbox relay)"`
	Name          string        `default:"cart_graph" usage:"Apache AGE graph name"`
	RelayBatch    int           `default:"100" usage:"Outbox ops applied to Neo4j per relay round"`
	RelayInterval time.Duration `default:"1s" usage:"Pause between outbox relay rounds"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL string `usage:"Redis URL (CART_REDIS_URL or REDIS_URL), empty disables Redis"`
}

// LockConfig configures the cart lock.
type LockConfig struct {
	Backend       string        `default:"redis" usage:"Lock backend: redis, postgres or local"`
	TTL           time.Duration `default:"30s" usage:"Lock lease duration"`
	WaitTimeout   time.Duration `default:"5s" usage:"Maximum wait for a busy lock"`
	RetryInterval time.Duration `default:"50ms" usage:"Pause between lock attempts"`
}

// AuthConfig configures credential checks.
type AuthConfig struct {
	JWTSecret    string `usage:"HS256 secret for access tokens, empty disables bearer tokens" flag:"jwt-secret"`
	Issuer       string `default:"" usage:"Expected token issuer"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
}

// EventsConfig configures the cart change stream.
type EventsConfig struct {
	Stream string `default:"cart-events" usage:"Redis stream for cart changes, empty disables publishing"`
	MaxLen int64  `default:"100000" usage:"Approximate stream length cap"`
}

// CouponsConfig controls the coupon code guard.
type CouponsConfig struct {
	RefreshInterval time.Duration `default:"5m" usage:"Coupon bloom guard refresh interval"`
}

// RateLimitConfig controls the per-caller sliding window rate limiter.
type RateLimitConfig struct {
	Backend string        `default:"redis" usage:"Rate limiter backend: redis or local"`
	Max     int           `default:"100" usage:"Max requests per window"`
	Window  time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "CART",
		Files:     []string{"config.yaml", "/etc/cart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the application cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CART_DATABASE_URL or DATABASE_URL")
	}
	switch c.Graph.Backend {
	case "age":
		if !postgres.ValidGraphName(c.Graph.Name) {
			return errors.Errorf("invalid graph name %q", c.Graph.Name)
		}
	case "neo4j":
		if c.Neo4j.URI == "" {
			return errors.New("graph backend neo4j requires a Neo4j URI")
		}
	default:
		return errors.Errorf("unknown graph backend %q", c.Graph.Backend)
	}
	switch c.Lock.Backend {
	case "redis", "postgres", "local":
	default:
		return errors.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	switch c.RateLimit.Backend {
	case "redis", "local":
	default:
		return errors.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.Redis.URL == "" && (c.Lock.Backend == "redis" || c.RateLimit.Backend == "redis") {
		return errors.New("redis lock and rate limit backends require CART_REDIS_URL or REDIS_URL")
	}
	if c.Auth.JWTSecret == "" && c.Auth.APIKeyPepper == "" {
		return errors.New("no authentication configured: set CART_AUTH_JWT_SECRET or CART_AUTH_API_KEY_PEPPER")
	}
	if _, err := c.Cart.Fallback(); err != nil {
		return errors.Wrap(err, "cart fallback config")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
