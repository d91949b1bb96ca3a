package application

import (
	"context"
	"fmt"

	"order-intake/internal/domain"
)

type MediaFetcher interface {
	Fetch(ctx context.Context, ref domain.MediaRef) (domain.AudioPayload, error)
}

// Transcoder normalises a payload into a format the Transcriber accepts.
// Failures wrap domain.ErrTranscode.
type Transcoder interface {
	Transcode(ctx context.Context, audio domain.AudioPayload) (domain.AudioPayload, error)
}

// Transcriber converts audio to text. Failures wrap domain.ErrTranscription.
type Transcriber interface {
	Transcribe(ctx context.Context, audio domain.AudioPayload) (string, error)
}

// NoopTranscriber is used for text-only deployments. Every call fails with
// domain.ErrTranscription, so voice orders fall back to the message text.
type NoopTranscriber struct{}

func (n *NoopTranscriber) Transcribe(_ context.Context, _ domain.AudioPayload) (string, error) {
	return "", fmt.Errorf("%w: speech-to-text not configured: set transcription.provider to enable audio orders", domain.ErrTranscription)
}

// NoopTranscoder leaves every payload untouched by failing, so the
// orchestrator falls back to the original bytes.
type NoopTranscoder struct{}

func (n *NoopTranscoder) Transcode(_ context.Context, audio domain.AudioPayload) (domain.AudioPayload, error) {
	return audio, fmt.Errorf("%w: transcoder disabled", domain.ErrTranscode)
}
