package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
)

var errClosed = errors.New("store closed")

type claimKey struct {
	userID    int64
	voucherID int64
}

// MemoryStore is an in-process Store. Transactions hold the store lock for
// their whole duration, so fn passed to InTx must only touch the store
// through its tx argument.
type MemoryStore struct {
	mu       sync.Mutex
	shops    map[int64]domain.Shop
	vouchers map[int64]domain.SeckillVoucher
	orders   map[int64]domain.VoucherOrder
	claims   map[claimKey]int64
	now      func() time.Time
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shops:    make(map[int64]domain.Shop),
		vouchers: make(map[int64]domain.SeckillVoucher),
		orders:   make(map[int64]domain.VoucherOrder),
		claims:   make(map[claimKey]int64),
		now:      time.Now,
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOpen("ping")
}

func (s *MemoryStore) checkOpen(op string) error {
	if s.closed {
		return fmt.Errorf("memory %s: %w: %w", op, domain.ErrStoreUnavailable, errClosed)
	}
	return nil
}

func (s *MemoryStore) GetShop(_ context.Context, id int64) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("get shop"); err != nil {
		return nil, err
	}
	sh, ok := s.shops[id]
	if !ok {
		return nil, fmt.Errorf("shop %d: %w", id, domain.ErrNotFound)
	}
	return &sh, nil
}

func (s *MemoryStore) SaveShop(_ context.Context, sh *domain.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("save shop"); err != nil {
		return err
	}
	now := s.now()
	cp := *sh
	if prev, ok := s.shops[sh.ID]; ok {
		cp.CreateTime = prev.CreateTime
	} else {
		cp.CreateTime = now
	}
	cp.UpdateTime = now
	s.shops[sh.ID] = cp
	return nil
}

func (s *MemoryStore) UpdateShop(_ context.Context, sh *domain.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("update shop"); err != nil {
		return err
	}
	prev, ok := s.shops[sh.ID]
	if !ok {
		return fmt.Errorf("shop %d: %w", sh.ID, domain.ErrNotFound)
	}
	cp := *sh
	cp.CreateTime = prev.CreateTime
	cp.UpdateTime = s.now()
	s.shops[sh.ID] = cp
	return nil
}

func (s *MemoryStore) GetSeckillVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).GetSeckillVoucher(ctx, voucherID)
}

func (s *MemoryStore) SaveSeckillVoucher(ctx context.Context, v *domain.SeckillVoucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).SaveSeckillVoucher(ctx, v)
}

func (s *MemoryStore) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).DecrementStock(ctx, voucherID)
}

func (s *MemoryStore) CountOrders(ctx context.Context, userID, voucherID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).CountOrders(ctx, userID, voucherID)
}

func (s *MemoryStore) InsertOrder(ctx context.Context, o *domain.VoucherOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).InsertOrder(ctx, o)
}

// InTx runs fn under the store lock and reverts its writes if fn fails.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("begin tx"); err != nil {
		return err
	}
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Orders returns the orders recorded for voucherID ordered by id.
func (s *MemoryStore) Orders(voucherID int64) []domain.VoucherOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VoucherOrder
	for _, o := range s.orders {
		if o.VoucherID == voucherID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memTx operates on the maps of a locked MemoryStore and keeps an undo log.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetSeckillVoucher(_ context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	if err := t.s.checkOpen("get voucher"); err != nil {
		return nil, err
	}
	v, ok := t.s.vouchers[voucherID]
	if !ok {
		return nil, fmt.Errorf("voucher %d: %w", voucherID, domain.ErrNotFound)
	}
	return &v, nil
}

func (t *memTx) SaveSeckillVoucher(_ context.Context, v *domain.SeckillVoucher) error {
	if err := t.s.checkOpen("save voucher"); err != nil {
		return err
	}
	now := t.s.now()
	cp := *v
	prev, existed := t.s.vouchers[v.VoucherID]
	if existed {
		cp.CreateTime = prev.CreateTime
	} else {
		cp.CreateTime = now
	}
	cp.UpdateTime = now
	id := v.VoucherID
	t.s.vouchers[id] = cp
	t.undo = append(t.undo, func() {
		if existed {
			t.s.vouchers[id] = prev
		} else {
			delete(t.s.vouchers, id)
		}
	})
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, voucherID int64) (bool, error) {
	if err := t.s.checkOpen("decrement stock"); err != nil {
		return false, err
	}
	v, ok := t.s.vouchers[voucherID]
	if !ok || v.Stock <= 0 {
		return false, nil
	}
	prev := v
	v.Stock--
	v.UpdateTime = t.s.now()
	t.s.vouchers[voucherID] = v
	t.undo = append(t.undo, func() { t.s.vouchers[voucherID] = prev })
	return true, nil
}

func (t *memTx) CountOrders(_ context.Context, userID, voucherID int64) (int, error) {
	if err := t.s.checkOpen("count orders"); err != nil {
		return 0, err
	}
	if _, ok := t.s.claims[claimKey{userID, voucherID}]; ok {
		return 1, nil
	}
	return 0, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.VoucherOrder) error {
	if err := t.s.checkOpen("insert order"); err != nil {
		return err
	}
	key := claimKey{o.UserID, o.VoucherID}
	if _, ok := t.s.claims[key]; ok {
		return fmt.Errorf("user %d voucher %d: %w", o.UserID, o.VoucherID, domain.ErrAlreadyClaimed)
	}
	if _, ok := t.s.orders[o.ID]; ok {
		return fmt.Errorf("memory insert order: duplicate order id %d", o.ID)
	}
	id := o.ID
	t.s.orders[id] = *o
	t.s.claims[key] = id
	t.undo = append(t.undo, func() {
		delete(t.s.orders, id)
		delete(t.s.claims, key)
	})
	return nil
}
