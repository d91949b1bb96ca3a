package domain

import "time"

type ParsedOrder struct {
	ItemDisplayName string
	Quantity        int
	UnitPrice       int
	Total           int
}

// Order is a persisted order. It is never modified after insertion.
type Order struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	Item      string    `json:"item"`
	Quantity  int       `json:"quantity"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}

type NewOrder struct {
	From     string
	Item     string
	Quantity int
	Total    int
}

func NewOrderFrom(from string, p ParsedOrder) NewOrder {
	return NewOrder{
		From:     from,
		Item:     p.ItemDisplayName,
		Quantity: p.Quantity,
		Total:    p.Total,
	}
}
