package domain

import (
	"context"
	"errors"
)

var (
	ErrMediaDownload        = errors.New("media download failed")
	ErrUnsupportedMedia     = errors.New("unsupported media")
	ErrTranscode            = errors.New("transcode failed")
	ErrTranscription        = errors.New("transcription failed")
	ErrTranscriptionTimeout = errors.New("transcription timed out")
	ErrReply                = errors.New("reply failed")
	ErrStore                = errors.New("order store failed")
)

// Kind classifies err for logs. Timeouts are checked before the generic
// transcription kind because a timeout also wraps ErrTranscription.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMediaDownload):
		return "media_download"
	case errors.Is(err, ErrUnsupportedMedia):
		return "unsupported_media"
	case errors.Is(err, ErrTranscode):
		return "transcode"
	case errors.Is(err, ErrTranscriptionTimeout):
		return "transcription_timeout"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrReply):
		return "reply"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
