package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-cart/internal/domain/coupon"
	"github.com/xenking/kart-cart/internal/storage/postgres"
)

type options struct {
	dataDir     string
	pattern     string
	databaseURL string
	minFiles    int
	minLen      int
	maxLen      int
	capacity    uint
	batch       int
	discount    string
	minCartCost string
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing gzipped coupon code lists")
	flag.StringVar(&opts.pattern, "pattern", "couponbase*.gz", "glob selecting the code lists in data-dir")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.minFiles, "min-files", 2, "number of lists a code must appear in")
	flag.IntVar(&opts.minLen, "min-len", 8, "shortest accepted code")
	flag.IntVar(&opts.maxLen, "max-len", 10, "longest accepted code")
	flag.UintVar(&opts.capacity, "bloom-capacity", 120_000_000, "expected codes per list")
	flag.IntVar(&opts.batch, "batch", 5000, "coupons upserted per batch")
	flag.StringVar(&opts.discount, "discount-abs", "5", "absolute discount of ingested coupons")
	flag.StringVar(&opts.minCartCost, "min-cart-cost", "0", "minimum cart cost of ingested coupons")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Coupon ingest failed", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	if opts.minFiles < 2 {
		return errors.New("min-files must be at least 2")
	}
	template, err := couponTemplate(opts.discount, opts.minCartCost)
	if err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(opts.dataDir, opts.pattern))
	if err != nil {
		return errors.Wrap(err, "list code files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s in %s", opts.pattern, opts.dataDir)
	}

	f := &finder{
		capacity: opts.capacity,
		minLen:   opts.minLen,
		maxLen:   opts.maxLen,
		minFiles: opts.minFiles,
		lg:       lg,
	}
	codes, err := f.find(ctx, files)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}
	lg.Info("Valid codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL, postgres.PoolOptions{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	return writeCoupons(ctx, lg, repo, codes, template, opts.batch)
}

func couponTemplate(discount, minCartCost string) (coupon.Coupon, error) {
	abs, err := decimal.NewFromString(discount)
	if err != nil || abs.IsNegative() {
		return coupon.Coupon{}, errors.Errorf("invalid discount %q", discount)
	}
	minCost, err := decimal.NewFromString(minCartCost)
	if err != nil || minCost.IsNegative() {
		return coupon.Coupon{}, errors.Errorf("invalid min cart cost %q", minCartCost)
	}
	return coupon.Coupon{MinCartCost: minCost, DiscountAbs: abs}, nil
}

type couponWriter interface {
	Upsert(ctx context.Context, coupons []coupon.Coupon) error
}

// writeCoupons upserts one coupon per code, batch coupons at a time.
func writeCoupons(ctx context.Context, lg *zap.Logger, repo couponWriter, codes []string, template coupon.Coupon, batch int) error {
	if batch <= 0 {
		batch = 1000
	}
	buf := make([]coupon.Coupon, 0, batch)
	for i, code := range codes {
		c := template
		c.Code = code
		buf = append(buf, c)
		if len(buf) < batch && i+1 < len(codes) {
			continue
		}
		if err := repo.Upsert(ctx, buf); err != nil {
			return errors.Wrapf(err, "write batch ending at %d", i+1)
		}
		buf = buf[:0]
		lg.Info("Write progress", zap.Int("written", i+1), zap.Int("total", len(codes)))
	}
	return nil
}
