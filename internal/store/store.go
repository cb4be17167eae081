// Package store is the source of truth for shops, seckill vouchers and the
// orders claimed against them.
package store

import (
	"context"

	"github.com/Rainbow-0328/dianping/internal/domain"
)

// ShopRepository reads and writes shop listings.
type ShopRepository interface {
	// GetShop returns domain.ErrNotFound when id does not exist.
	GetShop(ctx context.Context, id int64) (*domain.Shop, error)
	// SaveShop inserts or replaces a shop.
	SaveShop(ctx context.Context, shop *domain.Shop) error
	// UpdateShop overwrites an existing shop and returns domain.ErrNotFound
	// when there is nothing to update.
	UpdateShop(ctx context.Context, shop *domain.Shop) error
}

// VoucherRepository owns seckill voucher stock.
type VoucherRepository interface {
	// GetSeckillVoucher returns domain.ErrNotFound when id does not exist.
	GetSeckillVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error)
	// SaveSeckillVoucher inserts or replaces a voucher.
	SaveSeckillVoucher(ctx context.Context, v *domain.SeckillVoucher) error
	// DecrementStock takes one unit of stock if any remains, as a single
	// conditional update. It reports false when stock was already zero.
	DecrementStock(ctx context.Context, voucherID int64) (bool, error)
}

// OrderRepository records claims.
type OrderRepository interface {
	// CountOrders counts orders held by userID for voucherID.
	CountOrders(ctx context.Context, userID, voucherID int64) (int, error)
	// InsertOrder persists an order and returns domain.ErrAlreadyClaimed when
	// the user already holds one for the voucher.
	InsertOrder(ctx context.Context, order *domain.VoucherOrder) error
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	VoucherRepository
	OrderRepository
}

// Store is the full source-of-truth contract.
type Store interface {
	ShopRepository
	VoucherRepository
	OrderRepository

	// InTx runs fn in a transaction. Writes made through tx commit together
	// when fn returns nil and are discarded otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}
