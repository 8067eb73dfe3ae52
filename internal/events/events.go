// Package events publishes cart change notifications after commit.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Type names a cart change.
type Type string

const (
	CartCreated     Type = "cart.created"
	CartDeactivated Type = "cart.deactivated"
	CartLocked      Type = "cart.locked"
	CartUnlocked    Type = "cart.unlocked"
	CartCompleted   Type = "cart.completed"
	CartCleared     Type = "cart.cleared"
	ItemAdded       Type = "cart.item_added"
	ItemUpdated     Type = "cart.item_updated"
	ItemDeleted     Type = "cart.item_deleted"
	CouponApplied   Type = "cart.coupon_applied"
	CouponRemoved   Type = "cart.coupon_removed"
)

// Event describes a committed cart change.
type Event struct {
	Type   Type
	CartID uuid.UUID
	UserID int64
	Status string
	// ItemID is set for item events.
	ItemID int64
	At     time.Time
}

// Emitter publishes events. Emit failures never undo the committed change.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, Event) error { return nil }

var _ Emitter = (*Stream)(nil)

// Stream appends events to a Redis stream with XADD, trimming it to
// approximately MaxLen entries.
type Stream struct {
	rdb    redis.UniversalClient
	name   string
	maxLen int64
}

// NewStream creates a Stream emitter writing to the named stream.
func NewStream(rdb redis.UniversalClient, name string, maxLen int64) *Stream {
	return &Stream{rdb: rdb, name: name, maxLen: maxLen}
}

// Emit implements Emitter.
func (s *Stream) Emit(ctx context.Context, e Event) error {
	return s.rdb.XAdd(ctx, s.args(e)).Err()
}

func (s *Stream) args(e Event) *redis.XAddArgs {
	values := map[string]any{
		"type":    string(e.Type),
		"cart_id": e.CartID.String(),
		"user_id": e.UserID,
		"status":  e.Status,
		"at":      e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.ItemID != 0 {
		values["item_id"] = e.ItemID
	}
	return &redis.XAddArgs{
		Stream: s.name,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}
}
