package domain

type MediaRef struct {
	URL         string
	ContentType string
}

// InboundEvent is one message delivery from the messaging channel.
type InboundEvent struct {
	ID     string
	Sender string
	Text   string
	Media  *MediaRef
}

func (e InboundEvent) HasMedia() bool {
	return e.Media != nil && e.Media.URL != ""
}

type EventType string

const (
	EventMessage EventType = "message"
	EventOrder   EventType = "order"
)

// MediaErrorText is broadcast in place of the message text when the
// attached media could not be downloaded.
const MediaErrorText = "[media download error]"

type MessagePayload struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// LiveEvent is what live subscribers receive.
type LiveEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

func MessageEvent(from, text string) LiveEvent {
	return LiveEvent{Type: EventMessage, Data: MessagePayload{From: from, Text: text}}
}

func OrderEvent(o Order) LiveEvent {
	return LiveEvent{Type: EventOrder, Data: o}
}
