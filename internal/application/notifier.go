package application

import (
	"context"
	"fmt"

	"order-intake/internal/domain"
)

type ReplyDispatcher interface {
	Send(ctx context.Context, to, message string) error
}

type NoopReplier struct{}

func (n *NoopReplier) Send(_ context.Context, _, _ string) error {
	return nil
}

const (
	HelpReply         = "Sorry, I couldn't understand your order. Example: '2 parota' or 'one parota'."
	MediaFailureReply = "Sorry, we couldn't download your voice message. Please type your order instead."
)

func ConfirmationReply(o domain.Order) string {
	return fmt.Sprintf("✅ Order confirmed!\nOrder #%d\n%d × %s\nTotal: ₹%d\nWe will notify you when ready.",
		o.ID, o.Quantity, o.Item, o.Total)
}
