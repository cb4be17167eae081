// Package shop serves shop listings through the cache.
package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rainbow-0328/dianping/internal/cache"
	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/store"
)

// CacheKeyPrefix namespaces shop entries in the key-value store.
const CacheKeyPrefix = "cache:shop:"

// DefaultTTL is how long a cached shop is considered fresh.
const DefaultTTL = 30 * time.Minute

// Strategy selects how shop reads are cached.
type Strategy string

const (
	StrategyPassthrough Strategy = "passthrough"
	StrategyMutex       Strategy = "mutex"
	StrategyLogical     Strategy = "logical"
)

// ParseStrategy accepts the strategy names case-insensitively. Empty selects
// StrategyLogical.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyLogical:
		return StrategyLogical, nil
	case StrategyMutex:
		return StrategyMutex, nil
	case StrategyPassthrough:
		return StrategyPassthrough, nil
	}
	return "", fmt.Errorf("%w: unknown cache strategy %q", domain.ErrInvalidInput, s)
}

// Options configures a Service.
type Options struct {
	Strategy Strategy
	TTL      time.Duration
}

// Service reads shops through the cache and keeps it coherent on update.
type Service struct {
	repo     store.ShopRepository
	cache    *cache.Client
	strategy Strategy
	ttl      time.Duration
}

// New creates a Service.
func New(repo store.ShopRepository, c *cache.Client, opts Options) (*Service, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Service{repo: repo, cache: c, strategy: strategy, ttl: opts.TTL}, nil
}

// Strategy returns the configured read strategy.
func (s *Service) Strategy() Strategy {
	return s.strategy
}

// QueryByID returns the shop or domain.ErrNotFound.
func (s *Service) QueryByID(ctx context.Context, id int64) (*domain.Shop, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidInput
	}

	var (
		sh    domain.Shop
		found bool
		err   error
	)
	switch s.strategy {
	case StrategyPassthrough:
		sh, found, err = cache.QueryWithPassthrough(ctx, s.cache, CacheKeyPrefix, id, s.load, s.ttl)
	case StrategyMutex:
		sh, found, err = cache.QueryWithMutex(ctx, s.cache, CacheKeyPrefix, id, s.load, s.ttl)
	default:
		sh, found, err = cache.QueryWithLogicalExpire(ctx, s.cache, CacheKeyPrefix, id, s.load, s.ttl)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("shop %d: %w", id, domain.ErrNotFound)
	}
	return &sh, nil
}

// Update writes the shop to the source of truth and then drops its cache
// entry. A reader racing the update may briefly see the old value.
func (s *Service) Update(ctx context.Context, sh *domain.Shop) error {
	if sh == nil || sh.ID <= 0 {
		return fmt.Errorf("%w: shop id is required", domain.ErrInvalidInput)
	}
	if err := s.repo.UpdateShop(ctx, sh); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cache.Key(CacheKeyPrefix, sh.ID))
}

// Warm preloads a shop as a logical-expiry entry and reports whether it exists.
func (s *Service) Warm(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, domain.ErrInvalidInput
	}
	return cache.Warm(ctx, s.cache, CacheKeyPrefix, id, s.load, s.ttl)
}

func (s *Service) load(ctx context.Context, id int64) (domain.Shop, bool, error) {
	sh, err := s.repo.GetShop(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Shop{}, false, nil
	}
	if err != nil {
		return domain.Shop{}, false, err
	}
	return *sh, true, nil
}
