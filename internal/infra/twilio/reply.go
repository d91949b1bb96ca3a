package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"order-intake/internal/domain"
)

// ReplyDispatcher sends outbound WhatsApp messages. Sends are not retried:
// a retried send risks a duplicate message to the customer.
type ReplyDispatcher struct {
	client *Client
}

func NewReplyDispatcher(client *Client) *ReplyDispatcher {
	return &ReplyDispatcher{client: client}
}

func (r *ReplyDispatcher) Send(ctx context.Context, to, message string) error {
	c := r.client
	if !c.hasCredentials() || c.number == "" {
		return fmt.Errorf("%w: twilio credentials not configured", domain.ErrReply)
	}

	data := url.Values{}
	data.Set("From", whatsappAddress(c.number))
	data.Set("To", whatsappAddress(to))
	data.Set("Body", message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", domain.ErrReply, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sending message: %w", domain.ErrReply, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: twilio error %d: %s", domain.ErrReply, resp.StatusCode, string(body))
	}

	return nil
}
