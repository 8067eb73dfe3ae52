package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-cart/internal/domain/auth"
	"github.com/xenking/kart-cart/internal/domain/coupon"
	"github.com/xenking/kart-cart/internal/domain/product"
	"github.com/xenking/kart-cart/internal/events"
	"github.com/xenking/kart-cart/internal/lock"
)

const instrumentationName = "github.com/xenking/kart-cart/internal/domain/cart"

// Service runs cart use cases. Every mutation holds the cart lock for the
// whole read-modify-write and commits a single unit of work.
type Service struct {
	uow      UnitOfWork
	locker   lock.Locker
	products product.Lookup
	coupons  coupon.Lookup
	emitter  events.Emitter

	newID func() uuid.UUID
	now   func() time.Time

	tracer   trace.Tracer
	ops      metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithEmitter publishes committed changes to e.
func WithEmitter(e events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithTelemetry records spans and metrics with the given providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(instrumentationName)
		s.meter(mp)
	}
}

// NewService creates a cart Service with the required dependencies.
func NewService(
	uow UnitOfWork,
	locker lock.Locker,
	products product.Lookup,
	coupons coupon.Lookup,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		uow:      uow,
		locker:   locker,
		products: products,
		coupons:  coupons,
		emitter:  events.Nop{},
		newID:    uuid.New,
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	s.meter(metricnoop.NewMeterProvider())
	for _, o := range opts {
		o(s)
	}
	if s.ops == nil || s.duration == nil {
		return nil, errors.New("create cart instruments")
	}
	return s, nil
}

func (s *Service) meter(mp metric.MeterProvider) {
	m := mp.Meter(instrumentationName)
	ops, err := m.Int64Counter("cart.operations",
		metric.WithDescription("Cart use case executions by result"),
	)
	if err != nil {
		return
	}
	duration, err := m.Float64Histogram("cart.operation.duration",
		metric.WithDescription("Cart use case duration including lock wait"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return
	}
	s.ops, s.duration = ops, duration
}

// change describes what a mutation did. A zero Type means nothing changed and
// nothing is persisted.
type change struct {
	Type   events.Type
	ItemID int64
}

type mutation func(ctx context.Context, st Store, c *Cart) (change, error)

// Create opens a new cart owned by the caller.
func (s *Service) Create(ctx context.Context, who auth.Identity) (View, error) {
	ctx, span := s.tracer.Start(ctx, "cart.Create")
	defer span.End()
	start := s.now()

	var c *Cart
	err := s.uow.Run(ctx, true, func(ctx context.Context, st Store) error {
		fresh := New(s.newID(), who.UserID, Config{})
		if err := st.Carts().Create(ctx, fresh); err != nil {
			return errors.Wrap(err, "create cart")
		}
		var err error
		if c, err = st.Carts().Retrieve(ctx, fresh.ID); err != nil {
			return errors.Wrap(err, "retrieve created cart")
		}
		return nil
	})
	s.record(ctx, span, "create", start, err)
	if err != nil {
		return View{}, err
	}

	zctx.From(ctx).Info("Cart created", zap.Stringer("cart_id", c.ID), zap.Int64("user_id", c.UserID))
	s.emit(ctx, c, change{Type: events.CartCreated})
	return c.View(), nil
}

// Get returns the cart view.
func (s *Service) Get(ctx context.Context, who auth.Identity, cartID uuid.UUID) (View, error) {
	var v View
	err := s.read(ctx, "get", who, cartID, func(_ context.Context, _ Store, c *Cart) error {
		v = c.View()
		return nil
	})
	return v, err
}

// ItemsQty returns the total item quantity computed by the graph mirror.
func (s *Service) ItemsQty(ctx context.Context, who auth.Identity, cartID uuid.UUID) (decimal.Decimal, error) {
	qty := decimal.Zero
	err := s.read(ctx, "items_qty", who, cartID, func(ctx context.Context, st Store, c *Cart) error {
		var err error
		qty, err = st.Carts().ItemsQty(ctx, c.ID)
		return err
	})
	return qty, err
}

// List returns carts matching filter. Non-admins only see their own carts.
func (s *Service) List(ctx context.Context, who auth.Identity, filter ListFilter) ([]View, error) {
	ctx, span := s.tracer.Start(ctx, "cart.List")
	defer span.End()
	start := s.now()

	if !who.IsAdmin {
		filter.UserID = who.UserID
	}
	var views []View
	err := s.uow.Run(ctx, false, func(ctx context.Context, st Store) error {
		carts, err := st.Carts().List(ctx, filter)
		if err != nil {
			return errors.Wrap(err, "list carts")
		}
		views = make([]View, 0, len(carts))
		for _, c := range carts {
			views = append(views, c.View())
		}
		return nil
	})
	s.record(ctx, span, "list", start, err)
	return views, err
}

// AddItem adds qty of a product to the cart. A product already in the cart
// gets its quantity increased.
func (s *Service) AddItem(ctx context.Context, who auth.Identity, cartID uuid.UUID, itemID int64, qty decimal.Decimal) (View, error) {
	return s.mutate(ctx, "add_item", who, cartID, func(ctx context.Context, st Store, c *Cart) (change, error) {
		if item, err := c.Item(itemID); err == nil {
			if err := c.IncreaseItemQty(itemID, qty); err != nil {
				return change{}, err
			}
			if err := st.Items().Update(ctx, item); err != nil {
				return change{}, errors.Wrapf(err, "update item %d", itemID)
			}
			return change{Type: events.ItemUpdated, ItemID: itemID}, nil
		}
		if c.Status != StatusOpened {
			return change{}, &OperationForbiddenError{Status: c.Status}
		}
		if itemID <= 0 {
			return change{}, ErrInvalidItemID
		}

		p, err := s.products.GetProduct(ctx, itemID)
		if err != nil {
			return change{}, errors.Wrapf(err, "cart %s: get product %d", c.ID, itemID)
		}
		item := &Item{
			ID:       p.ID,
			Name:     p.Title,
			Qty:      qty,
			Price:    p.Price,
			IsWeight: p.IsWeight,
		}
		if err := c.AddItem(item); err != nil {
			return change{}, err
		}
		if err := st.Items().Add(ctx, item); err != nil {
			return change{}, errors.Wrapf(err, "add item %d", itemID)
		}
		return change{Type: events.ItemAdded, ItemID: itemID}, nil
	})
}

// UpdateItem sets the quantity of an item already in the cart.
func (s *Service) UpdateItem(ctx context.Context, who auth.Identity, cartID uuid.UUID, itemID int64, qty decimal.Decimal) (View, error) {
	return s.mutate(ctx, "update_item", who, cartID, func(ctx context.Context, st Store, c *Cart) (change, error) {
		if err := c.SetItemQty(itemID, qty); err != nil {
			return change{}, err
		}
		item, _ := c.Item(itemID)
		if err := st.Items().Update(ctx, item); err != nil {
			return change{}, errors.Wrapf(err, "update item %d", itemID)
		}
		return change{Type: events.ItemUpdated, ItemID: itemID}, nil
	})
}

// DeleteItem removes an item. Removing an item that is not in the cart
// succeeds without changes.
func (s *Service) DeleteItem(ctx context.Context, who auth.Identity, cartID uuid.UUID, itemID int64) (View, error) {
	return s.mutate(ctx, "delete_item", who, cartID, func(ctx context.Context, st Store, c *Cart) (change, error) {
		item, _ := c.Item(itemID)
		if err := c.DeleteItem(itemID); err != nil {
			var notFound *ItemNotFoundError
			if errors.As(err, &notFound) {
				return change{}, nil
			}
			return change{}, err
		}
		if err := st.Items().Delete(ctx, item); err != nil {
			return change{}, errors.Wrapf(err, "delete item %d", itemID)
		}
		return change{Type: events.ItemDeleted, ItemID: itemID}, nil
	})
}

// Clear removes all items.
func (s *Service) Clear(ctx context.Context, who auth.Identity, cartID uuid.UUID) (View, error) {
	return s.mutate(ctx, "clear", who, cartID, func(ctx context.Context, st Store, c *Cart) (change, error) {
		if err := c.Clear(); err != nil {
			return change{}, err
		}
		if err := st.Carts().Clear(ctx, c.ID); err != nil {
			return change{}, errors.Wrap(err, "clear items")
		}
		return change{Type: events.CartCleared}, nil
	})
}

// Deactivate soft-deletes the cart.
func (s *Service) Deactivate(ctx context.Context, who auth.Identity, cartID uuid.UUID) (View, error) {
	return s.transition(ctx, "deactivate", who, cartID, (*Cart).Deactivate, events.CartDeactivated)
}

// Lock freezes the cart for checkout.
func (s *Service) Lock(ctx context.Context, who auth.Identity, cartID uuid.UUID) (View, error) {
	return s.transition(ctx, "lock", who, cartID, (*Cart).Lock, events.CartLocked)
}

// Unlock reopens a locked cart.
func (s *Service) Unlock(ctx context.Context, who auth.Identity, cartID uuid.UUID) (View, error) {
	return s.transition(ctx, "unlock", who, cartID, (*Cart).Unlock, events.CartUnlocked)
}

// Complete checks out a locked cart.
func (s *Service) Complete(ctx context.Context, who auth.Identity, cartID uuid.UUID) (View, error) {
	return s.transition(ctx, "complete", who, cartID, (*Cart).Complete, events.CartCompleted)
}

func (s *Service) transition(ctx context.Context, op string, who auth.Identity, cartID uuid.UUID, fn func(*Cart) error, t events.Type) (View, error) {
	return s.mutate(ctx, op, who, cartID, func(_ context.Context, _ Store, c *Cart) (change, error) {
		if err := fn(c); err != nil {
			return change{}, err
		}
		return change{Type: t}, nil
	})
}

// ApplyCoupon attaches the coupon with the given code.
func (s *Service) ApplyCoupon(ctx context.Context, who auth.Identity, cartID uuid.UUID, code string) (View, error) {
	return s.mutate(ctx, "apply_coupon", who, cartID, func(ctx context.Context, _ Store, c *Cart) (change, error) {
		if c.Status != StatusOpened {
			return change{}, &OperationForbiddenError{Status: c.Status}
		}
		cp, err := s.coupons.GetCoupon(ctx, code)
		if err != nil {
			return change{}, errors.Wrapf(err, "cart %s: get coupon %q", c.ID, code)
		}
		if err := c.ApplyCoupon(&Coupon{
			CouponID:    cp.Code,
			MinCartCost: cp.MinCartCost,
			DiscountAbs: cp.DiscountAbs,
		}); err != nil {
			return change{}, err
		}
		return change{Type: events.CouponApplied}, nil
	})
}

// RemoveCoupon detaches the coupon. A cart without a coupon is left as is.
func (s *Service) RemoveCoupon(ctx context.Context, who auth.Identity, cartID uuid.UUID) (View, error) {
	return s.mutate(ctx, "remove_coupon", who, cartID, func(ctx context.Context, st Store, c *Cart) (change, error) {
		if err := c.RemoveCoupon(); err != nil {
			if errors.Is(err, ErrCouponNotFound) {
				return change{}, nil
			}
			return change{}, err
		}
		if err := st.Coupons().Delete(ctx, c.ID); err != nil {
			return change{}, errors.Wrap(err, "delete coupon")
		}
		return change{Type: events.CouponRemoved}, nil
	})
}

func (s *Service) mutate(ctx context.Context, op string, who auth.Identity, cartID uuid.UUID, fn mutation) (View, error) {
	ctx, span := s.tracer.Start(ctx, "cart."+op, trace.WithAttributes(
		attribute.String("cart.id", cartID.String()),
	))
	defer span.End()
	start := s.now()

	var (
		c   *Cart
		chg change
	)
	err := lock.With(ctx, s.locker, lock.CartName(cartID), func(ctx context.Context) error {
		return s.uow.Run(ctx, true, func(ctx context.Context, st Store) error {
			var err error
			if c, err = s.load(ctx, st, who, cartID); err != nil {
				return err
			}
			if chg, err = fn(ctx, st, c); err != nil {
				return err
			}
			if chg.Type == "" {
				return nil
			}
			return persist(ctx, st, c)
		})
	})
	s.record(ctx, span, op, start, err)
	if err != nil {
		return View{}, err
	}
	if chg.Type != "" {
		s.emit(ctx, c, chg)
	}
	return c.View(), nil
}

func (s *Service) read(ctx context.Context, op string, who auth.Identity, cartID uuid.UUID, fn func(ctx context.Context, st Store, c *Cart) error) error {
	ctx, span := s.tracer.Start(ctx, "cart."+op, trace.WithAttributes(
		attribute.String("cart.id", cartID.String()),
	))
	defer span.End()
	start := s.now()

	err := s.uow.Run(ctx, false, func(ctx context.Context, st Store) error {
		c, err := s.load(ctx, st, who, cartID)
		if err != nil {
			return err
		}
		return fn(ctx, st, c)
	})
	s.record(ctx, span, op, start, err)
	return err
}

func (s *Service) load(ctx context.Context, st Store, who auth.Identity, cartID uuid.UUID) (*Cart, error) {
	c, err := st.Carts().Retrieve(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin {
		if err := c.CheckOwnership(who.UserID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// persist writes the cart row and the coupon row, whose applied flag follows
// item changes.
func persist(ctx context.Context, st Store, c *Cart) error {
	if err := st.Carts().Update(ctx, c); err != nil {
		return errors.Wrap(err, "update cart")
	}
	if cp := c.Coupon(); cp != nil {
		if err := st.Coupons().Save(ctx, c.ID, cp); err != nil {
			return errors.Wrap(err, "save coupon")
		}
	}
	return nil
}

func (s *Service) emit(ctx context.Context, c *Cart, chg change) {
	ev := events.Event{
		Type:   chg.Type,
		CartID: c.ID,
		UserID: c.UserID,
		Status: c.Status.String(),
		ItemID: chg.ItemID,
		At:     s.now(),
	}
	if err := s.emitter.Emit(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Emit cart event",
			zap.String("type", string(ev.Type)),
			zap.Stringer("cart_id", ev.CartID),
			zap.Error(err),
		)
	}
}

func (s *Service) record(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotAcquired):
		result = "busy"
	case IsDomainError(err):
		result = "rejected"
	default:
		result = "error"
	}

	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("result", result))
	s.ops.Add(ctx, 1, attrs)
	s.duration.Record(ctx, s.now().Sub(start).Seconds(), attrs)

	if err == nil {
		return
	}
	span.RecordError(err)
	lg := zctx.From(ctx)
	if result == "error" {
		span.SetStatus(codes.Error, err.Error())
		lg.Error("Cart operation failed", zap.String("op", op), zap.Error(err))
		return
	}
	lg.Debug("Cart operation rejected", zap.String("op", op), zap.String("result", result), zap.Error(err))
}
