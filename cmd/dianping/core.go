package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Rainbow-0328/dianping/internal/asyncqueue"
	"github.com/Rainbow-0328/dianping/internal/cache"
	"github.com/Rainbow-0328/dianping/internal/config"
	"github.com/Rainbow-0328/dianping/internal/idgen"
	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/ratelimit"
	"github.com/Rainbow-0328/dianping/internal/seckill"
	"github.com/Rainbow-0328/dianping/internal/shop"
	"github.com/Rainbow-0328/dianping/internal/store"
)

// core is the wired set of components shared by every command.
type core struct {
	kv      *kv.RedisStore
	store   *store.PostgresStore
	pool    *asyncqueue.WorkerPool
	cache   *cache.Client
	ids     *idgen.Generator
	shops   *shop.Service
	seckill *seckill.Coordinator
	limiter *ratelimit.Limiter
}

func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kvs, err := kv.NewRedisStore(connectCtx, kv.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}

	pg, err := store.NewPostgresStore(connectCtx, cfg.Postgres.DSN)
	if err != nil {
		kvs.Close()
		return nil, err
	}

	c := &core{kv: kvs, store: pg}

	c.pool = cache.NewRebuildPool(cfg.Cache.RebuildWorkers, cfg.Cache.RebuildQueue, cfg.Cache.LockTTL)
	c.pool.Start()

	c.cache = cache.New(kvs, cache.Options{
		NullTTL:       cfg.Cache.NullTTL,
		LockTTL:       cfg.Cache.LockTTL,
		RetryInterval: cfg.Cache.RetryInterval,
		MaxAttempts:   cfg.Cache.MaxAttempts,
		Pool:          c.pool,
	})

	c.ids, err = idgen.New(kvs, idgen.Options{
		Epoch:         cfg.IDGen.Epoch,
		SequenceWidth: cfg.IDGen.SequenceWidth,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.shops, err = shop.New(pg, c.cache, shop.Options{
		Strategy: shop.Strategy(cfg.Cache.Strategy),
		TTL:      cfg.Cache.ShopTTL,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("shop service: %w", err)
	}

	c.seckill = seckill.New(pg, c.ids, seckill.Options{OrderIDPrefix: cfg.Seckill.OrderIDPrefix})

	if cfg.RateLimit.Enabled {
		backend := ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(kvs.Client(), cfg.Redis.KeyPrefix+"rl:"))
		c.limiter = ratelimit.New(backend, ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
	}
	return c, nil
}

// Close drains pending cache rebuilds before closing the stores they write to.
func (c *core) Close() {
	if c.pool != nil {
		c.pool.Stop()
	}
	if c.store != nil {
		c.store.Close()
	}
	if c.kv != nil {
		c.kv.Close()
	}
}
