// Package seckill allocates stock-limited vouchers during their sale window.
//
// Oversell is prevented by the source of truth's conditional decrement, and
// double claims by its (user, voucher) uniqueness constraint. The count check
// before the transaction only saves a round trip for repeat callers.
package seckill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/logging"
	"github.com/Rainbow-0328/dianping/internal/metrics"
	"github.com/Rainbow-0328/dianping/internal/observability"
	"github.com/Rainbow-0328/dianping/internal/store"
)

// DefaultOrderIDPrefix partitions order ids in the id generator.
const DefaultOrderIDPrefix = "order"

// IDGenerator issues order ids.
type IDGenerator interface {
	NextID(ctx context.Context, prefix string) (int64, error)
}

// Options configures a Coordinator.
type Options struct {
	OrderIDPrefix string
	Now           func() time.Time
}

// Coordinator runs the claim flow against a store and an id generator.
type Coordinator struct {
	store  store.Store
	ids    IDGenerator
	prefix string
	now    func() time.Time
}

// New creates a Coordinator.
func New(st store.Store, ids IDGenerator, opts Options) *Coordinator {
	if opts.OrderIDPrefix == "" {
		opts.OrderIDPrefix = DefaultOrderIDPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: st, ids: ids, prefix: opts.OrderIDPrefix, now: opts.Now}
}

// SeckillVoucher claims one unit of voucherID for user and returns the new
// order id. Failures are one of domain.ErrNotFound, ErrWindowClosed,
// ErrSoldOut, ErrAlreadyClaimed, ErrInvalidInput, or an error wrapping
// ErrStoreUnavailable.
func (c *Coordinator) SeckillVoucher(ctx context.Context, voucherID int64, user domain.User) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "seckill.claim",
		observability.AttrVoucherID.Int64(voucherID),
		observability.AttrUserID.Int64(user.ID),
	)
	defer span.End()

	orderID, err := c.seckill(ctx, voucherID, user)
	outcome := Outcome(err)
	metrics.RecordSeckill(outcome)
	span.SetAttributes(observability.AttrSeckillOutcome.String(outcome))

	switch {
	case err == nil:
		span.SetAttributes(observability.AttrOrderID.Int64(orderID))
		observability.SetSpanOK(span)
		logging.Op().Debug("seckill claimed", "voucher_id", voucherID, "user_id", user.ID, "order_id", orderID)
	case domain.IsBusinessOutcome(err):
		logging.Op().Debug("seckill rejected", "voucher_id", voucherID, "user_id", user.ID, "outcome", outcome)
	default:
		observability.SetSpanError(span, err)
		logging.Op().Error("seckill failed", "voucher_id", voucherID, "user_id", user.ID, "error", err)
	}
	return orderID, err
}

func (c *Coordinator) seckill(ctx context.Context, voucherID int64, user domain.User) (int64, error) {
	if voucherID <= 0 || user.ID <= 0 {
		return 0, domain.ErrInvalidInput
	}
	v, err := c.store.GetSeckillVoucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}
	if !v.InWindow(c.now()) {
		return 0, fmt.Errorf("voucher %d is %s: %w", voucherID, v.State(c.now()), domain.ErrWindowClosed)
	}
	return c.CreateOrder(ctx, voucherID, user)
}

// CreateOrder performs the allocation without the window check. The stock
// decrement, id allocation and order insert commit together; a failure in
// any of them leaves stock untouched.
func (c *Coordinator) CreateOrder(ctx context.Context, voucherID int64, user domain.User) (int64, error) {
	if voucherID <= 0 || user.ID <= 0 {
		return 0, domain.ErrInvalidInput
	}

	n, err := c.store.CountOrders(ctx, user.ID, voucherID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, domain.ErrAlreadyClaimed
	}

	var orderID int64
	err = c.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.DecrementStock(ctx, voucherID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSoldOut
		}

		id, err := c.ids.NextID(ctx, c.prefix)
		if err != nil {
			return fmt.Errorf("allocate order id: %w", err)
		}
		order := &domain.VoucherOrder{
			ID:         id,
			UserID:     user.ID,
			VoucherID:  voucherID,
			CreateTime: c.now(),
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

// Outcome names the result of a claim for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrSoldOut):
		return "sold_out"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, domain.ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
