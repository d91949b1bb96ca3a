package domain

import "strings"

type AudioFormat string

const (
	FormatOgg     AudioFormat = "ogg"
	FormatMP3     AudioFormat = "mp3"
	FormatWAV     AudioFormat = "wav"
	FormatUnknown AudioFormat = "unknown"
)

// Extension is used as the file name suffix when uploading to speech APIs.
func (f AudioFormat) Extension() string {
	if f == FormatUnknown || f == "" {
		return "bin"
	}
	return string(f)
}

func (f AudioFormat) MIMEType() string {
	switch f {
	case FormatOgg:
		return "audio/ogg"
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// FormatFromContentType maps a declared content type to a format by token
// match. Order matters: "audio/ogg; codecs=opus" is ogg.
func FormatFromContentType(contentType string) AudioFormat {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "ogg"), strings.Contains(ct, "opus"):
		return FormatOgg
	case strings.Contains(ct, "mp3"), strings.Contains(ct, "mpeg"):
		return FormatMP3
	case strings.Contains(ct, "wav"):
		return FormatWAV
	default:
		return FormatUnknown
	}
}

// AudioPayload is transient and never persisted.
type AudioPayload struct {
	Bytes       []byte
	Format      AudioFormat
	ContentType string
}

// IsAudio reports whether the payload is worth sending to transcription.
func (p AudioPayload) IsAudio() bool {
	if p.Format != FormatUnknown && p.Format != "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(p.ContentType), "audio")
}
