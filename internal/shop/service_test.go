package shop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Rainbow-0328/dianping/internal/cache"
	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/store"
)

// countingRepo counts source-of-truth reads.
type countingRepo struct {
	*store.MemoryStore
	gets atomic.Int32
}

func (r *countingRepo) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	r.gets.Add(1)
	return r.MemoryStore.GetShop(ctx, id)
}

func newTestService(t *testing.T, strategy Strategy) (*Service, *countingRepo) {
	t.Helper()
	kvs := kv.NewMemoryStore()
	c := cache.New(kvs, cache.Options{})
	t.Cleanup(func() {
		c.Close()
		kvs.Close()
	})

	repo := &countingRepo{MemoryStore: store.NewMemoryStore()}
	repo.SaveShop(context.Background(), &domain.Shop{ID: 1, Name: "103 Tea House", Address: "Jinhua Rd 12"})

	svc, err := New(repo, c, Options{Strategy: strategy})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, repo
}

func TestQueryByID_AllStrategies(t *testing.T) {
	for _, strategy := range []Strategy{StrategyPassthrough, StrategyMutex, StrategyLogical} {
		t.Run(string(strategy), func(t *testing.T) {
			svc, repo := newTestService(t, strategy)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				sh, err := svc.QueryByID(ctx, 1)
				if err != nil {
					t.Fatalf("query: %v", err)
				}
				if sh.Name != "103 Tea House" {
					t.Fatalf("unexpected shop %+v", sh)
				}
			}
			if repo.gets.Load() != 1 {
				t.Fatalf("expected 1 store read, got %d", repo.gets.Load())
			}

			for i := 0; i < 3; i++ {
				if _, err := svc.QueryByID(ctx, 404); !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
			}
			if repo.gets.Load() != 2 {
				t.Fatalf("absent shop should be read once, store reads=%d", repo.gets.Load())
			}
		})
	}
}

func TestUpdate_InvalidatesCache(t *testing.T) {
	svc, _ := newTestService(t, StrategyPassthrough)
	ctx := context.Background()

	if _, err := svc.QueryByID(ctx, 1); err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := svc.Update(ctx, &domain.Shop{ID: 1, Name: "103 Tea House (renovated)"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	sh, err := svc.QueryByID(ctx, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if sh.Name != "103 Tea House (renovated)" {
		t.Fatalf("expected updated name, got %q", sh.Name)
	}
}

func TestUpdate_RequiresID(t *testing.T) {
	svc, _ := newTestService(t, StrategyLogical)
	if err := svc.Update(context.Background(), &domain.Shop{Name: "nameless"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := svc.Update(context.Background(), &domain.Shop{ID: 9, Name: "ghost"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWarm_ServesWithoutStoreRead(t *testing.T) {
	svc, repo := newTestService(t, StrategyLogical)
	ctx := context.Background()

	found, err := svc.Warm(ctx, 1)
	if err != nil || !found {
		t.Fatalf("warm: found=%v err=%v", found, err)
	}
	if _, err := svc.QueryByID(ctx, 1); err != nil {
		t.Fatalf("query: %v", err)
	}
	if repo.gets.Load() != 1 {
		t.Fatalf("warmed read should come from cache, store reads=%d", repo.gets.Load())
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyLogical {
		t.Fatalf("empty: %v %v", s, err)
	}
	if s, err := ParseStrategy("Mutex"); err != nil || s != StrategyMutex {
		t.Fatalf("Mutex: %v %v", s, err)
	}
	if _, err := ParseStrategy("write-behind"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
