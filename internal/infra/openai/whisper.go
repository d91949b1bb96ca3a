package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"order-intake/internal/domain"
)

type WhisperClient struct {
	client   openai.Client
	language string
	timeout  time.Duration
}

// NewWhisperClient creates a transcriber; timeout bounds one Transcribe call
// including SDK retries (zero means no limit beyond ctx).
func NewWhisperClient(apiKey, language string, timeout time.Duration, httpClient *http.Client) *WhisperClient {
	return NewWhisperClientWithURL(apiKey, language, timeout, httpClient, "")
}

// NewWhisperClientWithURL points the SDK at a custom base URL (for testing).
func NewWhisperClientWithURL(apiKey, language string, timeout time.Duration, httpClient *http.Client, baseURL string) *WhisperClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(2),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &WhisperClient{
		client:   openai.NewClient(opts...),
		language: language,
		timeout:  timeout,
	}
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio domain.AudioPayload) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.Bytes), "audio."+audio.Format.Extension(), audio.Format.MIMEType()),
		Model: openai.AudioModelWhisper1,
	}
	if c.language != "" {
		params.Language = openai.String(c.language)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Audio.Transcriptions.New(callCtx, params)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return "", fmt.Errorf("%w: whisper: %w after %s: %w", domain.ErrTranscription, domain.ErrTranscriptionTimeout, c.timeout, err)
		}
		return "", fmt.Errorf("%w: whisper: %w", domain.ErrTranscription, err)
	}

	return strings.TrimSpace(resp.Text), nil
}
