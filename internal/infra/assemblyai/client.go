package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"order-intake/internal/domain"
	"order-intake/internal/infra"
)

const defaultBaseURL = "https://api.assemblyai.com/v2"

// Client transcribes audio with the upload, submit, poll flow.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
	retry      infra.RetryConfig
	poll       infra.PollConfig
	logger     *slog.Logger
}

func NewClient(apiKey, language string, httpClient *http.Client, poll infra.PollConfig, logger *slog.Logger) *Client {
	return NewClientWithURL(apiKey, language, httpClient, poll, logger, defaultBaseURL)
}

func NewClientWithURL(apiKey, language string, httpClient *http.Client, poll infra.PollConfig, logger *slog.Logger, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		httpClient: httpClient,
		retry:      infra.DefaultRetryConfig(),
		poll:       poll,
		logger:     logger,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code,omitempty"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func (c *Client) Transcribe(ctx context.Context, audio domain.AudioPayload) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: assemblyai api key not configured", domain.ErrTranscription)
	}

	uploadURL, err := c.upload(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("%w: uploading audio: %w", domain.ErrTranscription, err)
	}

	id, err := c.submit(ctx, uploadURL)
	if err != nil {
		return "", fmt.Errorf("%w: submitting transcript: %w", domain.ErrTranscription, err)
	}
	c.logger.Debug("transcript submitted", "transcript_id", id)

	var text string
	err = infra.Poll(ctx, c.poll, func(ctx context.Context) (bool, error) {
		var result transcriptResponse
		err := infra.WithRetry(ctx, c.retry, func() error {
			return c.do(ctx, http.MethodGet, "/transcript/"+id, nil, "", &result)
		})
		if err != nil {
			return false, err
		}
		switch result.Status {
		case "completed":
			text = strings.TrimSpace(result.Text)
			return true, nil
		case "error":
			return false, fmt.Errorf("transcript %s failed: %s", id, result.Error)
		default:
			return false, nil
		}
	})
	if errors.Is(err, infra.ErrPollTimeout) {
		return "", fmt.Errorf("%w: %w: %w", domain.ErrTranscription, domain.ErrTranscriptionTimeout, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscription, err)
	}

	return text, nil
}

func (c *Client) upload(ctx context.Context, audio domain.AudioPayload) (string, error) {
	var result uploadResponse
	err := infra.WithRetry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodPost, "/upload", audio.Bytes, "application/octet-stream", &result)
	})
	if err != nil {
		return "", err
	}
	if result.UploadURL == "" {
		return "", fmt.Errorf("upload returned no url")
	}
	return result.UploadURL, nil
}

func (c *Client) submit(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(transcriptRequest{AudioURL: audioURL, LanguageCode: c.language})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var result transcriptResponse
	err = infra.WithRetry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodPost, "/transcript", payload, "application/json", &result)
	})
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("transcript request returned no id")
	}
	return result.ID, nil
}

// do performs one request. Non-retryable statuses are marked permanent so
// WithRetry gives up on them immediately.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return infra.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := fmt.Errorf("assemblyai API error %d: %s", resp.StatusCode, string(respBody))
		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return apiErr
		}
		return infra.Permanent(apiErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
