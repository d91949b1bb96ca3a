package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"

	"order-intake/internal/domain"
)

// TargetSampleRate is what speech services expect for voice notes.
const TargetSampleRate = 16000

// Native decodes Ogg (Vorbis, then Opus), WAV and MP3 in process and
// re-encodes as 16 kHz mono 16-bit WAV.
type Native struct {
	logger *slog.Logger
}

func NewNative(logger *slog.Logger) *Native {
	return &Native{logger: logger}
}

func (n *Native) Transcode(ctx context.Context, payload domain.AudioPayload) (domain.AudioPayload, error) {
	if err := ctx.Err(); err != nil {
		return payload, fmt.Errorf("%w: %w", domain.ErrTranscode, err)
	}

	samples, err := decodeMono16k(payload)
	if err != nil {
		return payload, fmt.Errorf("%w: %w", domain.ErrTranscode, err)
	}
	if len(samples) == 0 {
		return payload, fmt.Errorf("%w: no audio samples", domain.ErrTranscode)
	}

	out, err := encodeWAV(samples, TargetSampleRate)
	if err != nil {
		return payload, fmt.Errorf("%w: encoding wav: %w", domain.ErrTranscode, err)
	}

	n.logger.Debug("transcoded audio", "backend", "native", "in_bytes", len(payload.Bytes), "out_bytes", len(out), "samples", len(samples))

	return domain.AudioPayload{
		Bytes:       out,
		Format:      domain.FormatWAV,
		ContentType: domain.FormatWAV.MIMEType(),
	}, nil
}

func decodeMono16k(payload domain.AudioPayload) ([]float32, error) {
	format := payload.Format
	if format == domain.FormatUnknown || format == "" {
		format = sniff(payload.Bytes)
	}

	switch format {
	case domain.FormatOgg:
		samples, vorbisErr := decodeOggVorbis(bytes.NewReader(payload.Bytes))
		if vorbisErr == nil {
			return samples, nil
		}
		samples, opusErr := decodeOggOpus(bytes.NewReader(payload.Bytes))
		if opusErr == nil {
			return samples, nil
		}
		return nil, fmt.Errorf("decoding ogg: vorbis: %v; opus: %w", vorbisErr, opusErr)
	case domain.FormatWAV:
		return decodeWAV(bytes.NewReader(payload.Bytes))
	case domain.FormatMP3:
		return decodeMP3(bytes.NewReader(payload.Bytes))
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedMedia, payload.ContentType)
	}
}

func sniff(data []byte) domain.AudioFormat {
	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		return domain.FormatOgg
	case bytes.HasPrefix(data, []byte("RIFF")):
		return domain.FormatWAV
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return domain.FormatMP3
	default:
		return domain.FormatUnknown
	}
}

func decodeOggVorbis(r io.Reader) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid vorbis stream")
	}
	return resample(downmix(pcm, format.Channels), format.SampleRate, TargetSampleRate), nil
}

func decodeOggOpus(rs io.ReadSeeker) ([]float32, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// libopusfile always decodes at 48 kHz
	var pcm []float32
	buf := make([]int16, 48000*ch/2)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16ToFloat(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return resample(downmix(pcm, ch), 48000, TargetSampleRate), nil
}

func decodeWAV(rs io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	channels, rate := 1, 44100
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			rate = buf.Format.SampleRate
		}
	}
	return resample(downmix(intToFloat(buf.Data, depth), channels), rate, TargetSampleRate), nil
}

func decodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(ints)*2]), binary.LittleEndian, ints); err != nil {
		return nil, err
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always emits interleaved stereo
	return resample(downmix(int16ToFloat(ints), 2), rate, TargetSampleRate), nil
}

func encodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(clamp(float64(s), -1, 1) * 32767)
	}

	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)
	err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// memWriteSeeker lets the wav encoder patch its header in memory.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}
