package idgen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/kv"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestGenerator(t *testing.T, opts Options) (*Generator, *kv.MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 20, 8, 30, 0, 0, time.UTC)}
	store := kv.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	opts.Now = clock.Now
	g, err := New(store, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, store, clock
}

func TestNextID_StrictlyIncreasing(t *testing.T) {
	g, _, _ := newTestGenerator(t, Options{})
	ctx := context.Background()

	var prev int64 = -1
	for i := 0; i < 100; i++ {
		id, err := g.NextID(ctx, "order")
		if err != nil {
			t.Fatalf("NextID: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		if id < 0 {
			t.Fatalf("top bit set in %d", id)
		}
		prev = id
	}
}

func TestNextID_Layout(t *testing.T) {
	g, store, clock := newTestGenerator(t, Options{})
	ctx := context.Background()

	id, err := g.NextID(ctx, "order")
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	wantDelta := clock.Now().Unix() - DefaultEpoch
	if want := wantDelta<<32 | 1; id != want {
		t.Fatalf("expected id %d, got %d", want, id)
	}
	delta, seq := g.Split(id)
	if delta != wantDelta || seq != 1 {
		t.Fatalf("split: delta=%d seq=%d", delta, seq)
	}

	raw, err := store.Get(ctx, "seq:order:2026:05:20")
	if err != nil || raw != "1" {
		t.Fatalf("expected counter at seq:order:2026:05:20 = 1, got %q err=%v", raw, err)
	}
}

func TestNextID_DatePartitions(t *testing.T) {
	g, _, clock := newTestGenerator(t, Options{})
	ctx := context.Background()

	day1a, _ := g.NextID(ctx, "order")
	day1b, _ := g.NextID(ctx, "order")
	clock.Set(clock.Now().Add(24 * time.Hour))
	day2, err := g.NextID(ctx, "order")
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}

	_, seq1 := g.Split(day1a)
	_, seq2 := g.Split(day2)
	if seq1 != seq2 {
		t.Fatalf("new day should restart the sequence: %d vs %d", seq1, seq2)
	}
	d1, _ := g.Split(day1b)
	d2, _ := g.Split(day2)
	if d2 <= d1 {
		t.Fatal("timestamp field should advance across days")
	}
}

func TestNextID_PrefixesAreIndependent(t *testing.T) {
	g, _, _ := newTestGenerator(t, Options{})
	ctx := context.Background()

	g.NextID(ctx, "order")
	g.NextID(ctx, "order")
	id, _ := g.NextID(ctx, "shop")
	if _, seq := g.Split(id); seq != 1 {
		t.Fatalf("expected fresh sequence for new prefix, got %d", seq)
	}
}

func TestNextID_SequenceExhausted(t *testing.T) {
	g, _, _ := newTestGenerator(t, Options{SequenceWidth: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.NextID(ctx, "order"); err != nil {
			t.Fatalf("NextID %d: %v", i, err)
		}
	}
	if _, err := g.NextID(ctx, "order"); !errors.Is(err, ErrSequenceExhausted) {
		t.Fatalf("expected ErrSequenceExhausted, got %v", err)
	}
}

func TestNextID_ClockBeforeEpoch(t *testing.T) {
	g, _, clock := newTestGenerator(t, Options{})
	clock.Set(time.Date(2021, 12, 31, 23, 59, 59, 0, time.UTC))

	if _, err := g.NextID(context.Background(), "order"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNextID_ConcurrentUnique(t *testing.T) {
	g, _, _ := newTestGenerator(t, Options{})
	ctx := context.Background()

	const n = 200
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := g.NextID(ctx, "order")
			if err != nil {
				t.Errorf("NextID: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d ids, got %d", n, len(seen))
	}
}

func TestNew_RejectsOversizedWidth(t *testing.T) {
	if _, err := New(kv.NewMemoryStore(), Options{SequenceWidth: 63}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
