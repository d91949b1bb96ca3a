package twilio

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"order-intake/internal/domain"
)

const maxWebhookBody = 64 << 10

// EmptyTwiML acknowledges a webhook without sending a message.
const EmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// webhookFields is a case-tolerant view over form or JSON parameters.
type webhookFields map[string]string

func (f webhookFields) first(keys ...string) string {
	for _, k := range keys {
		if v := f[k]; v != "" {
			return v
		}
	}
	return ""
}

// DecodeEvent reads an inbound message webhook. Both Twilio's form encoding
// and a JSON body are accepted, with either capitalised or camelCase keys.
func DecodeEvent(r *http.Request) (domain.InboundEvent, error) {
	fields, err := readFields(r)
	if err != nil {
		return domain.InboundEvent{}, err
	}

	ev := domain.InboundEvent{
		ID:     fields.first("MessageSid", "messageSid", "SmsMessageSid"),
		Sender: fields.first("From", "from"),
		Text:   strings.TrimSpace(fields.first("Body", "body")),
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Sender == "" {
		ev.Sender = "unknown"
	}

	numMedia, _ := strconv.Atoi(fields.first("NumMedia", "numMedia"))
	mediaURL := fields.first("MediaUrl0", "mediaUrl0", "MediaUrl", "mediaUrl")
	if numMedia > 0 && mediaURL != "" {
		ev.Media = &domain.MediaRef{
			URL:         mediaURL,
			ContentType: fields.first("MediaContentType0", "mediaContentType0", "MediaContentType", "mediaContentType"),
		}
	}

	return ev, nil
}

func readFields(r *http.Request) (webhookFields, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxWebhookBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return readJSONFields(r.Body)
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing form: %w", err)
	}
	fields := make(webhookFields, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}

func readJSONFields(body io.Reader) (webhookFields, error) {
	var raw map[string]any
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		if err == io.EOF {
			return webhookFields{}, nil
		}
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	fields := make(webhookFields, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		}
	}
	return fields, nil
}
