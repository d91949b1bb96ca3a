package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"order-intake/internal/domain"
	"order-intake/internal/infra"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id         BIGSERIAL PRIMARY KEY,
	sender     TEXT        NOT NULL,
	item       TEXT        NOT NULL,
	quantity   INTEGER     NOT NULL CHECK (quantity > 0),
	total      BIGINT      NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// ConnectPostgres opens a pool, retrying until the database answers a ping,
// then makes sure the orders table exists.
func ConnectPostgres(ctx context.Context, dsn string, retry infra.RetryConfig, logger *slog.Logger) (*Postgres, error) {
	var pool *pgxpool.Pool
	attempt := 0

	err := infra.WithRetry(ctx, retry, func() error {
		attempt++
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return infra.Permanent(fmt.Errorf("parsing dsn: %w", err))
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			logger.Warn("postgres not ready", "attempt", attempt, "error", err)
			return fmt.Errorf("ping: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting: %w", domain.ErrStore, err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: creating schema: %w", domain.ErrStore, err)
	}

	logger.Info("postgres store ready")
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Insert(ctx context.Context, o domain.NewOrder) (domain.Order, error) {
	order := domain.Order{
		From:     o.From,
		Item:     o.Item,
		Quantity: o.Quantity,
		Total:    o.Total,
	}

	err := p.pool.QueryRow(ctx,
		`INSERT INTO orders (sender, item, quantity, total) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		o.From, o.Item, o.Quantity, o.Total,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: inserting order: %w", domain.ErrStore, err)
	}
	return order, nil
}

func (p *Postgres) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, sender, item, quantity, total, created_at FROM orders ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing orders: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.From, &o.Item, &o.Quantity, &o.Total, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning order: %w", domain.ErrStore, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing orders: %w", domain.ErrStore, err)
	}
	return orders, nil
}

func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}
