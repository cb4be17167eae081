package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DIANPING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DIANPING_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testVoucherID keeps runs from colliding with each other's rows.
func testVoucherID() int64 {
	return time.Now().UnixNano() & 0x7fffffffffff
}

func TestPostgresStore_ConditionalDecrement(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	id := testVoucherID()
	seedVoucher(t, s, id, 3)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DecrementStock(ctx, id)
			if err != nil {
				t.Errorf("decrement: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 3 {
		t.Fatalf("expected 3 decrements, got %d", wins.Load())
	}
}

func TestPostgresStore_UniqueClaimAndRollback(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	id := testVoucherID()
	seedVoucher(t, s, id, 5)

	insert := func(orderID int64) error {
		return s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.DecrementStock(ctx, id); err != nil {
				return err
			}
			return tx.InsertOrder(ctx, &domain.VoucherOrder{ID: orderID, UserID: 42, VoucherID: id, CreateTime: time.Now()})
		})
	}

	if err := insert(id*10 + 1); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := insert(id*10 + 2); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	v, err := s.GetSeckillVoucher(ctx, id)
	if err != nil {
		t.Fatalf("get voucher: %v", err)
	}
	if v.Stock != 4 {
		t.Fatalf("duplicate claim should roll back its decrement, stock=%d", v.Stock)
	}
}

func TestPostgresStore_ShopRoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	id := testVoucherID()

	if err := s.SaveShop(ctx, &domain.Shop{ID: id, Name: "Noodle Bar", Address: "1 Main St", Score: 45}); err != nil {
		t.Fatalf("save shop: %v", err)
	}
	if err := s.UpdateShop(ctx, &domain.Shop{ID: id, Name: "Noodle Bar II", Address: "1 Main St"}); err != nil {
		t.Fatalf("update shop: %v", err)
	}
	got, err := s.GetShop(ctx, id)
	if err != nil {
		t.Fatalf("get shop: %v", err)
	}
	if got.Name != "Noodle Bar II" {
		t.Fatalf("unexpected shop %+v", got)
	}
	if _, err := s.GetShop(ctx, -id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
