package cart

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memDB is an in-memory Store with snapshot reads and buffered writes that
// are applied on commit, so concurrent transactions can lose updates unless
// the caller serializes them.
type memDB struct {
	mu    sync.Mutex
	cfg   Config
	carts map[uuid.UUID]*memCart
	seq   int

	failItemAdd error
}

type memCart struct {
	seq    int
	userID int64
	status Status
	items  []Item
	coupon *Coupon
	edges  map[int64]decimal.Decimal
}

func newMemDB(cfg Config) *memDB {
	return &memDB{cfg: cfg, carts: make(map[uuid.UUID]*memCart)}
}

func (db *memDB) Run(ctx context.Context, autocommit bool, fn func(ctx context.Context, s Store) error) (err error) {
	tx := &memTx{db: db}
	defer func() {
		if r := recover(); r != nil {
			panic(r)
		}
		if err != nil || !autocommit {
			return
		}
		db.mu.Lock()
		defer db.mu.Unlock()
		for _, w := range tx.writes {
			w(db)
		}
	}()
	return fn(ctx, tx)
}

func (db *memDB) committed(id uuid.UUID) *memCart {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.carts[id]
}

type memTx struct {
	db      *memDB
	writes  []func(db *memDB)
	created map[uuid.UUID]*memCart
}

func (tx *memTx) Carts() Repository         { return (*memCarts)(tx) }
func (tx *memTx) Items() ItemRepository     { return (*memItems)(tx) }
func (tx *memTx) Coupons() CouponRepository { return (*memCoupons)(tx) }

func (tx *memTx) write(w func(db *memDB)) {
	tx.writes = append(tx.writes, w)
}

type memCarts memTx

func (r *memCarts) Create(_ context.Context, c *Cart) error {
	id := c.ID
	mc := &memCart{userID: c.UserID, status: c.Status, edges: map[int64]decimal.Decimal{}}
	if r.created == nil {
		r.created = make(map[uuid.UUID]*memCart)
	}
	r.created[id] = mc
	(*memTx)(r).write(func(db *memDB) {
		db.seq++
		mc.seq = db.seq
		db.carts[id] = mc
	})
	return nil
}

func (r *memCarts) Retrieve(_ context.Context, id uuid.UUID) (*Cart, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	mc, ok := r.db.carts[id]
	if !ok {
		// Carts created in this transaction are visible to it.
		if mc, ok = r.created[id]; !ok {
			return nil, ErrCartNotFound
		}
	}
	return restoreMem(id, mc, r.db.cfg), nil
}

func restoreMem(id uuid.UUID, mc *memCart, cfg Config) *Cart {
	st := State{ID: id, UserID: mc.userID, Status: mc.status, Config: cfg}
	for _, it := range mc.items {
		it := it
		st.Items = append(st.Items, &it)
	}
	if mc.coupon != nil {
		cp := *mc.coupon
		st.Coupon = &cp
	}
	return Restore(st)
}

func (r *memCarts) Update(_ context.Context, c *Cart) error {
	id, status := c.ID, c.Status
	(*memTx)(r).write(func(db *memDB) { db.carts[id].status = status })
	return nil
}

func (r *memCarts) List(_ context.Context, f ListFilter) ([]*Cart, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*Cart
	for id, mc := range r.db.carts {
		if f.UserID != 0 && mc.userID != f.UserID {
			continue
		}
		if f.Status != "" && mc.status != f.Status {
			continue
		}
		out = append(out, restoreMem(id, mc, r.db.cfg))
	}
	sort.Slice(out, func(i, j int) bool {
		return r.db.carts[out[i].ID].seq < r.db.carts[out[j].ID].seq
	})
	return out, nil
}

func (r *memCarts) Clear(_ context.Context, id uuid.UUID) error {
	(*memTx)(r).write(func(db *memDB) {
		db.carts[id].items = nil
		db.carts[id].edges = map[int64]decimal.Decimal{}
	})
	return nil
}

func (r *memCarts) ItemsQty(_ context.Context, id uuid.UUID) (decimal.Decimal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	total := decimal.Zero
	for _, q := range r.db.carts[id].edges {
		total = total.Add(q)
	}
	return total, nil
}

type memItems memTx

func (r *memItems) Add(_ context.Context, item *Item) error {
	if r.db.failItemAdd != nil {
		return r.db.failItemAdd
	}
	cp := *item
	(*memTx)(r).write(func(db *memDB) {
		mc := db.carts[cp.CartID]
		mc.items = append(mc.items, cp)
		mc.edges[cp.ID] = cp.Qty
	})
	return nil
}

func (r *memItems) Update(_ context.Context, item *Item) error {
	cp := *item
	(*memTx)(r).write(func(db *memDB) {
		mc := db.carts[cp.CartID]
		for i := range mc.items {
			if mc.items[i].ID == cp.ID {
				mc.items[i] = cp
			}
		}
		mc.edges[cp.ID] = cp.Qty
	})
	return nil
}

func (r *memItems) Delete(_ context.Context, item *Item) error {
	cartID, itemID := item.CartID, item.ID
	(*memTx)(r).write(func(db *memDB) {
		mc := db.carts[cartID]
		for i := range mc.items {
			if mc.items[i].ID == itemID {
				mc.items = append(mc.items[:i], mc.items[i+1:]...)
				break
			}
		}
		delete(mc.edges, itemID)
	})
	return nil
}

type memCoupons memTx

func (r *memCoupons) Save(_ context.Context, cartID uuid.UUID, cp *Coupon) error {
	v := *cp
	(*memTx)(r).write(func(db *memDB) { db.carts[cartID].coupon = &v })
	return nil
}

func (r *memCoupons) Delete(_ context.Context, cartID uuid.UUID) error {
	(*memTx)(r).write(func(db *memDB) { db.carts[cartID].coupon = nil })
	return nil
}
