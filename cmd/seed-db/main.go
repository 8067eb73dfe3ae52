package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-cart/internal/domain/auth"
	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	fixturesFile string
	graphName    string
	apiKey       string
	apiKeyPepper string
	apiKeyUserID int64
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.fixturesFile, "fixtures", "db/seed/fixtures.json", "path to fixtures JSON file, may be gzipped")
	flag.StringVar(&opts.graphName, "graph-name", "cart_graph", "Apache AGE graph to create, empty skips the graph")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or CART_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CART_AUTH_API_KEY_PEPPER env)")
	flag.Int64Var(&opts.apiKeyUserID, "api-key-user-id", 1, "user the seeded API key acts for")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("CART_SEED_API_KEY")
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("CART_AUTH_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	fx, err := readFixtures(opts.fixturesFile)
	if err != nil {
		return errors.Wrap(err, "read fixtures")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL, postgres.PoolOptions{LoadAGE: opts.graphName != ""})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations", zap.String("graph", opts.graphName))
	if err := postgres.RunMigrations(ctx, pool, opts.graphName); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Upsert(ctx, fx.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Upserted products", zap.Int("count", len(fx.Products)))

	if err := postgres.NewCouponRepository(pool).Upsert(ctx, fx.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	lg.Info("Upserted coupons", zap.Int("count", len(fx.Coupons)))

	for name, cfg := range fx.Configs {
		if err := postgres.NewConfigRepository(pool, name, cart.Config{}).Save(ctx, cfg); err != nil {
			return errors.Wrapf(err, "seed cart config %s", name)
		}
		lg.Info("Saved cart config", zap.String("name", name))
	}

	if opts.apiKey == "" {
		lg.Info("No API key given, skipping")
		return nil
	}
	key := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(opts.apiKey, []byte(opts.apiKeyPepper)),
		Name:    "Default service key",
		UserID:  opts.apiKeyUserID,
		Admin:   true,
	}
	if err := postgres.NewAPIKeyRepository(pool).Save(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Saved API key", zap.String("id", key.ID), zap.Int64("user_id", key.UserID))
	return nil
}
