package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-cart/internal/domain/auth"
	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/domain/coupon"
	"github.com/xenking/kart-cart/internal/events"
	"github.com/xenking/kart-cart/internal/graph/neo4jgraph"
	"github.com/xenking/kart-cart/internal/handler"
	"github.com/xenking/kart-cart/internal/lock"
	"github.com/xenking/kart-cart/internal/storage/postgres"
	"github.com/xenking/kart-cart/pkg/health"
	"github.com/xenking/kart-cart/pkg/httpmiddleware"
)

const serviceName = "cart-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	return run(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
}

func run(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("graph", cfg.Graph.Backend),
		zap.String("lock", cfg.Lock.Backend),
	)

	fallback, err := cfg.Cart.Fallback()
	if err != nil {
		return errors.Wrap(err, "cart fallback config")
	}

	// PostgreSQL pool + migrations. AGE is loaded on every connection only
	// when the graph lives in Postgres.
	useAGE := cfg.Graph.Backend == "age"
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{LoadAGE: useAGE})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	graphName := ""
	if useAGE {
		graphName = cfg.Graph.Name
	}
	if err := postgres.RunMigrations(ctx, pool, graphName); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Readiness, health.Check{Name: "postgres", Timeout: 5 * time.Second, Fn: health.Ping(pool)})
	healthSvc.Register(health.Liveness, health.Check{Name: "goroutines", Fn: health.GoroutineCountCheck(10000)})
	healthSvc.Register(health.Liveness, health.Check{Name: "gc", Fn: health.GCMaxPauseCheck(time.Second)})

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		healthSvc.Register(health.Readiness, health.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	g, gctx := errgroup.WithContext(ctx)

	// Graph mirror: same transaction with AGE, outbox relay with Neo4j.
	mirror := postgres.AGE(cfg.Graph.Name)
	if !useAGE {
		driver, err := neo4jgraph.Connect(ctx, cfg.Neo4j)
		if err != nil {
			return errors.Wrap(err, "connect neo4j")
		}
		defer func() { _ = driver.Close(context.Background()) }()

		neo := neo4jgraph.NewMirror(driver, cfg.Neo4j.Database)
		if err := neo.EnsureSchema(ctx); err != nil {
			return errors.Wrap(err, "ensure neo4j schema")
		}
		healthSvc.Register(health.Readiness, health.Check{Name: "neo4j", Fn: neo4jCheck(driver)})

		mirror = postgres.Outbox(neo)
		relay := postgres.NewOutboxRelay(pool, neo, cfg.Graph.RelayBatch, cfg.Graph.RelayInterval, lg.Named("outbox"))
		g.Go(func() error { return relay.Run(gctx) })
	}

	locker, err := newLocker(cfg.Lock, pool, rdb, lg.Named("lock"))
	if err != nil {
		return err
	}

	// Repositories.
	uow := postgres.NewUnitOfWork(pool, mirror, cfg.Cart.ConfigName, fallback)
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	couponValidator := coupon.NewValidator(couponRepo)
	if err := couponValidator.Refresh(ctx); err != nil {
		lg.Warn("Coupon guard not loaded", zap.Error(err))
	}
	g.Go(func() error {
		couponValidator.RunRefresh(gctx, cfg.Coupons.RefreshInterval, func(err error) {
			lg.Warn("Coupon guard refresh failed", zap.Error(err))
		})
		return nil
	})

	var emitter events.Emitter = events.Nop{}
	if rdb != nil && cfg.Events.Stream != "" {
		emitter = events.NewStream(rdb, cfg.Events.Stream, cfg.Events.MaxLen)
	}

	// Domain service.
	cartService, err := cart.NewService(uow, locker, productRepo, couponValidator,
		cart.WithEmitter(emitter),
		cart.WithTelemetry(tp, mp),
	)
	if err != nil {
		return errors.Wrap(err, "create cart service")
	}

	var tokens, keys auth.Resolver
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewJWTResolver([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	}
	if cfg.Auth.APIKeyPepper != "" {
		keys = auth.NewKeyResolver(apikeyRepo, []byte(cfg.Auth.APIKeyPepper))
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimit.Backend == "redis" {
		limiter = httpmiddleware.NewRedisLimiter(rdb, "cart:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		local := httpmiddleware.NewLocalLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		g.Go(func() error {
			local.Run(gctx)
			return nil
		})
		limiter = local
	}

	// Mux: health endpoints + API routes on one server.
	api := http.NewServeMux()
	handler.New(cartService).Register(api)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", httpmiddleware.Wrap(api,
		handler.Authenticate(tokens, keys),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Limiter: limiter,
			KeyFunc: handler.RateLimitKey,
		}),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, tp, mp),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(gctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

func newLocker(cfg LockConfig, pool *pgxpool.Pool, rdb *redis.Client, lg *zap.Logger) (lock.Locker, error) {
	opts := lock.Options{
		TTL:           cfg.TTL,
		WaitTimeout:   cfg.WaitTimeout,
		RetryInterval: cfg.RetryInterval,
	}
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis lock requires a redis url")
		}
		return lock.NewRedis(rdb, "cart:lock:", opts, lg), nil
	case "postgres":
		return lock.NewPostgres(pool, opts), nil
	case "local":
		lg.Warn("Using in-process cart lock, do not run more than one instance")
		return lock.NewLocal(opts), nil
	default:
		return nil, errors.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

func neo4jCheck(driver neo4j.DriverWithContext) health.CheckFunc {
	return driver.VerifyConnectivity
}
