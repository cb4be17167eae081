package seckill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/idgen"
	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/store"
)

var testNow = time.Date(2026, 6, 18, 10, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.MemoryStore) {
	t.Helper()
	kvs := kv.NewMemoryStore()
	t.Cleanup(func() { kvs.Close() })
	ids, err := idgen.New(kvs, idgen.Options{Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("idgen: %v", err)
	}
	st := store.NewMemoryStore()
	return New(st, ids, Options{Now: func() time.Time { return testNow }}), st
}

func openVoucher(t *testing.T, st store.Store, id int64, stock int) {
	t.Helper()
	err := st.SaveSeckillVoucher(context.Background(), &domain.SeckillVoucher{
		VoucherID: id,
		Stock:     stock,
		BeginTime: testNow.Add(-time.Hour),
		EndTime:   testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("save voucher: %v", err)
	}
}

func TestSeckill_NoOversell(t *testing.T) {
	c, st := newTestCoordinator(t)
	openVoucher(t, st, 1, 10)
	ctx := context.Background()

	const n = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		soldOut int
	)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := c.SeckillVoucher(ctx, 1, domain.User{ID: userID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrSoldOut):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	if ok != 10 || soldOut != n-10 {
		t.Fatalf("expected 10 orders and %d sold out, got %d and %d", n-10, ok, soldOut)
	}
	v, _ := st.GetSeckillVoucher(ctx, 1)
	if v.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", v.Stock)
	}
	orders := st.Orders(1)
	if len(orders) != 10 {
		t.Fatalf("expected 10 persisted orders, got %d", len(orders))
	}
}

func TestSeckill_OneOrderPerUserUnderConcurrency(t *testing.T) {
	c, st := newTestCoordinator(t)
	openVoucher(t, st, 1, 10)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		claimed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SeckillVoucher(ctx, 1, domain.User{ID: 42})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyClaimed):
				claimed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || claimed != 19 {
		t.Fatalf("expected 1 order and 19 already claimed, got %d and %d", ok, claimed)
	}
	v, _ := st.GetSeckillVoucher(ctx, 1)
	if v.Stock != 9 {
		t.Fatalf("rejected duplicates must not consume stock, stock=%d", v.Stock)
	}
}

func TestSeckill_LastUnitGoesToOneOfTwo(t *testing.T) {
	c, st := newTestCoordinator(t)
	openVoucher(t, st, 1, 1)
	ctx := context.Background()

	results := make(chan error, 2)
	ids := make(chan int64, 2)
	var wg sync.WaitGroup
	for _, uid := range []int64{1, 2} {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			id, err := c.SeckillVoucher(ctx, 1, domain.User{ID: uid})
			results <- err
			ids <- id
		}(uid)
	}
	wg.Wait()
	close(results)
	close(ids)

	var ok, soldOut int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrSoldOut):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || soldOut != 1 {
		t.Fatalf("expected one order and one sold out, got %d/%d", ok, soldOut)
	}
	var positive int
	for id := range ids {
		if id > 0 {
			positive++
		}
	}
	if positive != 1 {
		t.Fatalf("expected exactly one order id, got %d", positive)
	}
}

func TestSeckill_NotStartedIsWindowClosed(t *testing.T) {
	c, st := newTestCoordinator(t)
	st.SaveSeckillVoucher(context.Background(), &domain.SeckillVoucher{
		VoucherID: 2,
		Stock:     100,
		BeginTime: testNow.Add(time.Hour),
		EndTime:   testNow.Add(2 * time.Hour),
	})

	for _, uid := range []int64{1, 2, 3} {
		if _, err := c.SeckillVoucher(context.Background(), 2, domain.User{ID: uid}); !errors.Is(err, domain.ErrWindowClosed) {
			t.Fatalf("user %d: expected ErrWindowClosed, got %v", uid, err)
		}
	}
}

func TestSeckill_EndedIsWindowClosed(t *testing.T) {
	c, st := newTestCoordinator(t)
	st.SaveSeckillVoucher(context.Background(), &domain.SeckillVoucher{
		VoucherID: 3,
		Stock:     100,
		BeginTime: testNow.Add(-2 * time.Hour),
		EndTime:   testNow,
	})

	if _, err := c.SeckillVoucher(context.Background(), 3, domain.User{ID: 1}); !errors.Is(err, domain.ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed at end time, got %v", err)
	}
}

func TestSeckill_SecondClaimIsAlreadyClaimed(t *testing.T) {
	c, st := newTestCoordinator(t)
	openVoucher(t, st, 1, 5)
	ctx := context.Background()

	id, err := c.SeckillVoucher(ctx, 1, domain.User{ID: 1})
	if err != nil || id <= 0 {
		t.Fatalf("first claim: id=%d err=%v", id, err)
	}
	if _, err := c.SeckillVoucher(ctx, 1, domain.User{ID: 1}); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestSeckill_UnknownVoucher(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, err := c.SeckillVoucher(context.Background(), 99, domain.User{ID: 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSeckill_InvalidInput(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if _, err := c.SeckillVoucher(context.Background(), 0, domain.User{ID: 1}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for voucher 0, got %v", err)
	}
	if _, err := c.SeckillVoucher(context.Background(), 1, domain.User{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for anonymous user, got %v", err)
	}
}

type failingIDs struct{}

func (failingIDs) NextID(context.Context, string) (int64, error) {
	return 0, errors.New("counter store unreachable")
}

func TestCreateOrder_IDFailureKeepsStock(t *testing.T) {
	st := store.NewMemoryStore()
	openVoucher(t, st, 1, 3)
	c := New(st, failingIDs{}, Options{Now: func() time.Time { return testNow }})
	ctx := context.Background()

	_, err := c.SeckillVoucher(ctx, 1, domain.User{ID: 1})
	if err == nil || domain.IsBusinessOutcome(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if Outcome(err) != "error" {
		t.Fatalf("unexpected outcome %q", Outcome(err))
	}
	v, _ := st.GetSeckillVoucher(ctx, 1)
	if v.Stock != 3 {
		t.Fatalf("failed allocation must not consume stock, stock=%d", v.Stock)
	}
	if len(st.Orders(1)) != 0 {
		t.Fatal("no order should be persisted")
	}
}

func TestOutcome(t *testing.T) {
	cases := map[error]string{
		nil:                        "ok",
		domain.ErrSoldOut:          "sold_out",
		domain.ErrAlreadyClaimed:   "already_claimed",
		domain.ErrWindowClosed:     "window_closed",
		domain.ErrNotFound:         "not_found",
		domain.ErrInvalidInput:     "invalid",
		domain.ErrStoreUnavailable: "error",
	}
	for err, want := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}
