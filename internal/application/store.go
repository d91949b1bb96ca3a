package application

import (
	"context"

	"order-intake/internal/domain"
)

// OrderStore persists confirmed orders. Insert assigns a unique id that is
// strictly increasing in insertion order; List returns newest first.
type OrderStore interface {
	Insert(ctx context.Context, order domain.NewOrder) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}
