package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rainbow-0328/dianping/internal/domain"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	pgRepo
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pgRepo: pgRepo{q: pool}, pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shops (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			type_id BIGINT NOT NULL DEFAULT 0,
			images TEXT NOT NULL DEFAULT '',
			area TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			x DOUBLE PRECISION NOT NULL DEFAULT 0,
			y DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_price BIGINT NOT NULL DEFAULT 0,
			sold INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			score INTEGER NOT NULL DEFAULT 0,
			open_hours TEXT NOT NULL DEFAULT '',
			create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			update_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS seckill_vouchers (
			voucher_id BIGINT PRIMARY KEY,
			stock INTEGER NOT NULL CHECK (stock >= 0),
			begin_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			update_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS voucher_orders (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			voucher_id BIGINT NOT NULL REFERENCES seckill_vouchers(voucher_id),
			create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, voucher_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_voucher_orders_voucher ON voucher_orders(voucher_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a read-committed transaction. The conditional stock
// update takes a row lock, which is all the claim path needs.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, pgRepo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit tx", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepo struct {
	q querier
}

func (r pgRepo) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	var sh domain.Shop
	err := r.q.QueryRow(ctx, `
		SELECT id, name, type_id, images, area, address, x, y, avg_price,
		       sold, comments, score, open_hours, create_time, update_time
		FROM shops
		WHERE id = $1
	`, id).Scan(&sh.ID, &sh.Name, &sh.TypeID, &sh.Images, &sh.Area, &sh.Address, &sh.X, &sh.Y, &sh.AvgPrice,
		&sh.Sold, &sh.Comments, &sh.Score, &sh.OpenHours, &sh.CreateTime, &sh.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("shop %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get shop", err)
	}
	return &sh, nil
}

func (r pgRepo) SaveShop(ctx context.Context, sh *domain.Shop) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO shops (id, name, type_id, images, area, address, x, y, avg_price,
		                   sold, comments, score, open_hours, create_time, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type_id = EXCLUDED.type_id, images = EXCLUDED.images,
			area = EXCLUDED.area, address = EXCLUDED.address, x = EXCLUDED.x, y = EXCLUDED.y,
			avg_price = EXCLUDED.avg_price, sold = EXCLUDED.sold, comments = EXCLUDED.comments,
			score = EXCLUDED.score, open_hours = EXCLUDED.open_hours, update_time = NOW()
	`, sh.ID, sh.Name, sh.TypeID, sh.Images, sh.Area, sh.Address, sh.X, sh.Y, sh.AvgPrice,
		sh.Sold, sh.Comments, sh.Score, sh.OpenHours)
	if err != nil {
		return storeErr("save shop", err)
	}
	return nil
}

func (r pgRepo) UpdateShop(ctx context.Context, sh *domain.Shop) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE shops SET
			name = $2, type_id = $3, images = $4, area = $5, address = $6, x = $7, y = $8,
			avg_price = $9, sold = $10, comments = $11, score = $12, open_hours = $13,
			update_time = NOW()
		WHERE id = $1
	`, sh.ID, sh.Name, sh.TypeID, sh.Images, sh.Area, sh.Address, sh.X, sh.Y,
		sh.AvgPrice, sh.Sold, sh.Comments, sh.Score, sh.OpenHours)
	if err != nil {
		return storeErr("update shop", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("shop %d: %w", sh.ID, domain.ErrNotFound)
	}
	return nil
}

func (r pgRepo) GetSeckillVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	var v domain.SeckillVoucher
	err := r.q.QueryRow(ctx, `
		SELECT voucher_id, stock, begin_time, end_time, create_time, update_time
		FROM seckill_vouchers
		WHERE voucher_id = $1
	`, voucherID).Scan(&v.VoucherID, &v.Stock, &v.BeginTime, &v.EndTime, &v.CreateTime, &v.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("voucher %d: %w", voucherID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get voucher", err)
	}
	return &v, nil
}

func (r pgRepo) SaveSeckillVoucher(ctx context.Context, v *domain.SeckillVoucher) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO seckill_vouchers (voucher_id, stock, begin_time, end_time, create_time, update_time)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (voucher_id) DO UPDATE SET
			stock = EXCLUDED.stock, begin_time = EXCLUDED.begin_time,
			end_time = EXCLUDED.end_time, update_time = NOW()
	`, v.VoucherID, v.Stock, v.BeginTime, v.EndTime)
	if err != nil {
		return storeErr("save voucher", err)
	}
	return nil
}

func (r pgRepo) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE seckill_vouchers
		SET stock = stock - 1, update_time = NOW()
		WHERE voucher_id = $1 AND stock > 0
	`, voucherID)
	if err != nil {
		return false, storeErr("decrement stock", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r pgRepo) CountOrders(ctx context.Context, userID, voucherID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM voucher_orders WHERE user_id = $1 AND voucher_id = $2
	`, userID, voucherID).Scan(&n)
	if err != nil {
		return 0, storeErr("count orders", err)
	}
	return n, nil
}

func (r pgRepo) InsertOrder(ctx context.Context, o *domain.VoucherOrder) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO voucher_orders (id, user_id, voucher_id, create_time)
		VALUES ($1, $2, $3, $4)
	`, o.ID, o.UserID, o.VoucherID, o.CreateTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName != "voucher_orders_pkey" {
			return fmt.Errorf("user %d voucher %d: %w", o.UserID, o.VoucherID, domain.ErrAlreadyClaimed)
		}
		return storeErr("insert order", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("postgres %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
