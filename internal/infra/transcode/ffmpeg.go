package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"order-intake/internal/domain"
)

// FFmpeg shells out to an ffmpeg binary, streaming through stdin/stdout.
type FFmpeg struct {
	binary string
	target domain.AudioFormat
	logger *slog.Logger
}

// NewFFmpeg creates a transcoder producing target (mp3 or wav). Any other
// target falls back to mp3.
func NewFFmpeg(binary string, target domain.AudioFormat, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if target != domain.FormatWAV {
		target = domain.FormatMP3
	}
	return &FFmpeg{binary: binary, target: target, logger: logger}
}

func (f *FFmpeg) Transcode(ctx context.Context, audio domain.AudioPayload) (domain.AudioPayload, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0", "-ac", "1"}
	switch f.target {
	case domain.FormatWAV:
		args = append(args, "-ar", "16000", "-acodec", "pcm_s16le", "-f", "wav")
	default:
		args = append(args, "-f", "mp3")
	}
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stdin = bytes.NewReader(audio.Bytes)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return audio, fmt.Errorf("%w: ffmpeg: %w: %s", domain.ErrTranscode, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return audio, fmt.Errorf("%w: ffmpeg produced no output", domain.ErrTranscode)
	}

	f.logger.Debug("transcoded audio", "backend", "ffmpeg", "in_bytes", len(audio.Bytes), "out_bytes", stdout.Len(), "format", f.target)

	return domain.AudioPayload{
		Bytes:       stdout.Bytes(),
		Format:      f.target,
		ContentType: f.target.MIMEType(),
	}, nil
}
