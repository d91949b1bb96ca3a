package store

import (
	"context"
	"sync"
	"time"

	"order-intake/internal/domain"
)

// Memory keeps orders in process. Ids start at 1 and are assigned under the
// same lock that appends, so id order equals insertion order.
type Memory struct {
	mu     sync.RWMutex
	orders []domain.Order
	nextID int64
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{nextID: 1, now: time.Now}
}

func (m *Memory) Insert(ctx context.Context, o domain.NewOrder) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order := domain.Order{
		ID:        m.nextID,
		From:      o.From,
		Item:      o.Item,
		Quantity:  o.Quantity,
		Total:     o.Total,
		CreatedAt: m.now().UTC(),
	}
	m.nextID++
	m.orders = append(m.orders, order)
	return order, nil
}

// List returns a copy, newest first.
func (m *Memory) List(_ context.Context) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.Order, len(m.orders))
	for i, o := range m.orders {
		result[len(m.orders)-1-i] = o
	}
	return result, nil
}
