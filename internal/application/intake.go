package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"order-intake/internal/domain"
)

type State string

const (
	StateReceived       State = "received"
	StateMediaResolving State = "media_resolving"
	StateMediaFailed    State = "media_failed"
	StateTextResolved   State = "text_resolved"
	StateUnparseable    State = "unparseable"
	StateParsed         State = "parsed"
	StatePersisted      State = "persisted"
	StateStoreFailed    State = "store_failed"
	StateReplied        State = "replied"
	StateBroadcasted    State = "broadcasted"
	StateDone           State = "done"
)

// Outcome describes how one inbound event went through the pipeline. Err
// holds the fatal failure, if any; soft failures are only logged.
type Outcome struct {
	EventID string
	Trace   []State
	Text    string
	Order   *domain.Order
	Err     error
}

// Final is the last state reached before Done.
func (o Outcome) Final() State {
	for i := len(o.Trace) - 1; i >= 0; i-- {
		if o.Trace[i] != StateDone {
			return o.Trace[i]
		}
	}
	return ""
}

func (o *Outcome) enter(s State) {
	o.Trace = append(o.Trace, s)
}

type Intake struct {
	media       MediaFetcher
	transcoder  Transcoder
	stt         Transcriber
	parser      OrderParser
	store       OrderStore
	replies     ReplyDispatcher
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewIntake(
	media MediaFetcher,
	transcoder Transcoder,
	stt Transcriber,
	parser OrderParser,
	store OrderStore,
	replies ReplyDispatcher,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *Intake {
	return &Intake{
		media:       media,
		transcoder:  transcoder,
		stt:         stt,
		parser:      parser,
		store:       store,
		replies:     replies,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Handle runs the pipeline for one event. It never panics and never fails:
// the caller acknowledges the event whatever the Outcome says.
func (in *Intake) Handle(ctx context.Context, ev domain.InboundEvent) (out Outcome) {
	out.EventID = ev.ID
	log := in.logger.With("event_id", ev.ID, "from", ev.Sender)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "panic", r)
			out.Err = fmt.Errorf("pipeline panic: %v", r)
		}
		out.enter(StateDone)
	}()

	out.enter(StateReceived)
	log.Info("inbound message", "text", ev.Text, "has_media", ev.HasMedia())

	if ev.HasMedia() {
		out.enter(StateMediaResolving)
	}

	text, err := in.resolveText(ctx, log, ev)
	if err != nil {
		out.Err = err
		out.enter(StateMediaFailed)
		log.Error("downloading media", "error", err, "kind", domain.Kind(err))
		in.broadcaster.Publish(ctx, domain.MessageEvent(ev.Sender, domain.MediaErrorText))
		in.reply(ctx, log, ev.Sender, MediaFailureReply)
		return out
	}

	out.Text = text
	out.enter(StateTextResolved)
	in.broadcaster.Publish(ctx, domain.MessageEvent(ev.Sender, text))

	parsed, ok := in.parser.Parse(text)
	if !ok {
		out.enter(StateUnparseable)
		log.Info("could not parse order", "text", text)
		in.reply(ctx, log, ev.Sender, HelpReply)
		out.enter(StateReplied)
		return out
	}

	out.enter(StateParsed)
	log.Info("parsed order",
		"item", parsed.ItemDisplayName,
		"quantity", parsed.Quantity,
		"total", parsed.Total,
	)

	order, err := in.store.Insert(ctx, domain.NewOrderFrom(ev.Sender, parsed))
	if err != nil {
		if !errors.Is(err, domain.ErrStore) {
			err = fmt.Errorf("%w: %w", domain.ErrStore, err)
		}
		out.Err = err
		out.enter(StateStoreFailed)
		log.Error("saving order", "error", err, "kind", domain.Kind(err))
		return out
	}

	out.Order = &order
	out.enter(StatePersisted)
	log.Info("order saved", "order_id", order.ID)

	in.reply(ctx, log, ev.Sender, ConfirmationReply(order))
	out.enter(StateReplied)

	in.broadcaster.Publish(ctx, domain.OrderEvent(order))
	out.enter(StateBroadcasted)

	return out
}

// resolveText returns the text to parse. Only a media download failure is
// returned as an error; transcoding and transcription fall back.
func (in *Intake) resolveText(ctx context.Context, log *slog.Logger, ev domain.InboundEvent) (string, error) {
	body := strings.TrimSpace(ev.Text)
	if !ev.HasMedia() {
		return body, nil
	}

	audio, err := in.media.Fetch(ctx, *ev.Media)
	if err != nil {
		if !errors.Is(err, domain.ErrMediaDownload) {
			err = fmt.Errorf("%w: %w", domain.ErrMediaDownload, err)
		}
		return "", err
	}

	log.Info("media downloaded", "bytes", len(audio.Bytes), "format", audio.Format, "content_type", audio.ContentType)

	if !audio.IsAudio() {
		log.Info("media is not audio, using message text")
		return body, nil
	}

	if audio.Format == domain.FormatOgg {
		converted, err := in.transcoder.Transcode(ctx, audio)
		if err != nil {
			log.Warn("transcoding failed, using original audio", "error", err, "kind", domain.Kind(err))
		} else {
			log.Info("transcoded", "from", audio.Format, "to", converted.Format, "bytes", len(converted.Bytes))
			audio = converted
		}
	}

	transcript, err := in.stt.Transcribe(ctx, audio)
	if err != nil {
		log.Warn("transcription failed, using message text", "error", err, "kind", domain.Kind(err))
		return body, nil
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		log.Warn("empty transcript, using message text")
		return body, nil
	}

	log.Info("transcribed", "text", transcript)
	return transcript, nil
}

func (in *Intake) reply(ctx context.Context, log *slog.Logger, to, message string) {
	if err := in.replies.Send(ctx, to, message); err != nil {
		log.Error("sending reply", "error", err, "kind", domain.Kind(err))
	}
}
