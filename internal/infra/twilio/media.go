package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"order-intake/internal/domain"
)

// MaxMediaBytes caps a single media download.
const MaxMediaBytes = 16 << 20

// MediaFetcher downloads message attachments. Account credentials are only
// attached for Twilio hosts; any other URL is fetched anonymously.
type MediaFetcher struct {
	client *Client
}

func NewMediaFetcher(client *Client) *MediaFetcher {
	return &MediaFetcher{client: client}
}

func (m *MediaFetcher) Fetch(ctx context.Context, ref domain.MediaRef) (domain.AudioPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return domain.AudioPayload{}, fmt.Errorf("%w: creating request: %w", domain.ErrMediaDownload, err)
	}
	m.client.authorize(req)

	resp, err := m.client.httpClient.Do(req)
	if err != nil {
		return domain.AudioPayload{}, fmt.Errorf("%w: %w", domain.ErrMediaDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.AudioPayload{}, fmt.Errorf("%w: media server returned %s", domain.ErrMediaDownload, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return domain.AudioPayload{}, fmt.Errorf("%w: reading body: %w", domain.ErrMediaDownload, err)
	}
	if len(data) > MaxMediaBytes {
		return domain.AudioPayload{}, fmt.Errorf("%w: media exceeds %d bytes", domain.ErrMediaDownload, MaxMediaBytes)
	}

	contentType := ref.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}

	return domain.AudioPayload{
		Bytes:       data,
		Format:      domain.FormatFromContentType(contentType),
		ContentType: contentType,
	}, nil
}
