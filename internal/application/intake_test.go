package application_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"order-intake/internal/application"
	"order-intake/internal/domain"
)

type mockMedia struct {
	payload domain.AudioPayload
	err     error
	calls   int
}

func (m *mockMedia) Fetch(_ context.Context, _ domain.MediaRef) (domain.AudioPayload, error) {
	m.calls++
	return m.payload, m.err
}

type mockTranscoder struct {
	err   error
	calls int
}

func (m *mockTranscoder) Transcode(_ context.Context, audio domain.AudioPayload) (domain.AudioPayload, error) {
	m.calls++
	if m.err != nil {
		return audio, m.err
	}
	return domain.AudioPayload{Bytes: append([]byte("mp3:"), audio.Bytes...), Format: domain.FormatMP3}, nil
}

type mockSTT struct {
	text string
	err  error
	got  []domain.AudioPayload
}

func (m *mockSTT) Transcribe(_ context.Context, audio domain.AudioPayload) (string, error) {
	m.got = append(m.got, audio)
	return m.text, m.err
}

type mockStore struct {
	mu     sync.Mutex
	err    error
	orders []domain.Order
}

func (m *mockStore) Insert(_ context.Context, o domain.NewOrder) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Order{}, m.err
	}
	order := domain.Order{
		ID:        int64(len(m.orders) + 1),
		From:      o.From,
		Item:      o.Item,
		Quantity:  o.Quantity,
		Total:     o.Total,
		CreatedAt: time.Now(),
	}
	m.orders = append(m.orders, order)
	return order, nil
}

func (m *mockStore) List(_ context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.orders))
	for i := len(m.orders) - 1; i >= 0; i-- {
		out = append(out, m.orders[i])
	}
	return out, nil
}

type sentReply struct {
	to, message string
}

type mockReplier struct {
	mu   sync.Mutex
	err  error
	sent []sentReply
}

func (m *mockReplier) Send(_ context.Context, to, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentReply{to: to, message: message})
	return m.err
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []domain.LiveEvent
}

func (m *mockBroadcaster) Publish(_ context.Context, event domain.LiveEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

type fixture struct {
	media       *mockMedia
	transcoder  *mockTranscoder
	stt         *mockSTT
	store       *mockStore
	replies     *mockReplier
	broadcaster *mockBroadcaster
	intake      *application.Intake
}

func newFixture() *fixture {
	f := &fixture{
		media:       &mockMedia{},
		transcoder:  &mockTranscoder{},
		stt:         &mockSTT{},
		store:       &mockStore{},
		replies:     &mockReplier{},
		broadcaster: &mockBroadcaster{},
	}
	f.intake = application.NewIntake(
		f.media,
		f.transcoder,
		f.stt,
		newParser(),
		f.store,
		f.replies,
		f.broadcaster,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func voiceEvent(body string) domain.InboundEvent {
	return domain.InboundEvent{
		ID:     "ev-1",
		Sender: "whatsapp:+911234567890",
		Text:   body,
		Media:  &domain.MediaRef{URL: "https://media.example/1", ContentType: "audio/ogg"},
	}
}

func assertTrace(t *testing.T, got []application.State, want ...application.State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trace: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace: got %v, want %v", got, want)
		}
	}
}

func TestIntake_TextOrder(t *testing.T) {
	f := newFixture()

	out := f.intake.Handle(context.Background(), domain.InboundEvent{
		ID:     "ev-1",
		Sender: "whatsapp:+911234567890",
		Text:   "  2 parota ",
	})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	assertTrace(t, out.Trace,
		application.StateReceived,
		application.StateTextResolved,
		application.StateParsed,
		application.StatePersisted,
		application.StateReplied,
		application.StateBroadcasted,
		application.StateDone,
	)

	if f.media.calls != 0 {
		t.Error("media fetcher should not be called for text messages")
	}
	if out.Order == nil || out.Order.ID != 1 || out.Order.Total != 60 || out.Order.Item != "Parota" {
		t.Fatalf("order: got %+v", out.Order)
	}

	if len(f.replies.sent) != 1 {
		t.Fatalf("replies: got %d, want 1", len(f.replies.sent))
	}
	reply := f.replies.sent[0]
	if reply.to != "whatsapp:+911234567890" {
		t.Errorf("reply to: got %q", reply.to)
	}
	for _, want := range []string{"Order #1", "2 × Parota", "Total: ₹60"} {
		if !strings.Contains(reply.message, want) {
			t.Errorf("confirmation %q missing %q", reply.message, want)
		}
	}

	if len(f.broadcaster.events) != 2 {
		t.Fatalf("events: got %d, want 2", len(f.broadcaster.events))
	}
	if f.broadcaster.events[0].Type != domain.EventMessage || f.broadcaster.events[1].Type != domain.EventOrder {
		t.Errorf("event order: got %s, %s", f.broadcaster.events[0].Type, f.broadcaster.events[1].Type)
	}
	msg := f.broadcaster.events[0].Data.(domain.MessagePayload)
	if msg.Text != "2 parota" {
		t.Errorf("message text: got %q, want trimmed text", msg.Text)
	}
}

func TestIntake_Unparseable(t *testing.T) {
	f := newFixture()

	out := f.intake.Handle(context.Background(), domain.InboundEvent{ID: "ev-2", Sender: "s", Text: "hello there"})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Final() != application.StateReplied {
		t.Errorf("final: got %s", out.Final())
	}
	if len(f.store.orders) != 0 {
		t.Error("no order should be stored")
	}
	if len(f.replies.sent) != 1 || f.replies.sent[0].message != application.HelpReply {
		t.Errorf("replies: got %+v", f.replies.sent)
	}
	if len(f.broadcaster.events) != 1 || f.broadcaster.events[0].Type != domain.EventMessage {
		t.Errorf("events: got %+v", f.broadcaster.events)
	}
}

func TestIntake_VoiceOrder(t *testing.T) {
	f := newFixture()
	f.media.payload = domain.AudioPayload{Bytes: []byte("oggdata"), Format: domain.FormatOgg, ContentType: "audio/ogg"}
	f.stt.text = " three dosa "

	out := f.intake.Handle(context.Background(), voiceEvent(""))

	assertTrace(t, out.Trace,
		application.StateReceived,
		application.StateMediaResolving,
		application.StateTextResolved,
		application.StateParsed,
		application.StatePersisted,
		application.StateReplied,
		application.StateBroadcasted,
		application.StateDone,
	)
	if f.transcoder.calls != 1 {
		t.Errorf("transcoder calls: got %d, want 1", f.transcoder.calls)
	}
	if len(f.stt.got) != 1 || f.stt.got[0].Format != domain.FormatMP3 {
		t.Fatalf("transcriber should receive transcoded audio, got %+v", f.stt.got)
	}
	if out.Text != "three dosa" {
		t.Errorf("text: got %q", out.Text)
	}
	if out.Order == nil || out.Order.Quantity != 3 || out.Order.Total != 120 {
		t.Errorf("order: got %+v", out.Order)
	}
}

func TestIntake_TranscodeOnlyForOgg(t *testing.T) {
	f := newFixture()
	f.media.payload = domain.AudioPayload{Bytes: []byte("mp3data"), Format: domain.FormatMP3, ContentType: "audio/mpeg"}
	f.stt.text = "idli"

	f.intake.Handle(context.Background(), voiceEvent(""))

	if f.transcoder.calls != 0 {
		t.Errorf("transcoder should not run for mp3, got %d calls", f.transcoder.calls)
	}
	if len(f.stt.got) != 1 || string(f.stt.got[0].Bytes) != "mp3data" {
		t.Errorf("transcriber got %+v", f.stt.got)
	}
}

func TestIntake_TranscodeFailureUsesOriginalAudio(t *testing.T) {
	f := newFixture()
	f.media.payload = domain.AudioPayload{Bytes: []byte("oggdata"), Format: domain.FormatOgg}
	f.transcoder.err = fmt.Errorf("%w: ffmpeg exited 1", domain.ErrTranscode)
	f.stt.text = "2 idli"

	out := f.intake.Handle(context.Background(), voiceEvent(""))

	if len(f.stt.got) != 1 || f.stt.got[0].Format != domain.FormatOgg {
		t.Fatalf("transcriber should receive original ogg, got %+v", f.stt.got)
	}
	if out.Order == nil || out.Order.Total != 40 {
		t.Errorf("order: got %+v", out.Order)
	}
}

func TestIntake_TranscriptionFailureFallsBackToBody(t *testing.T) {
	f := newFixture()
	f.media.payload = domain.AudioPayload{Bytes: []byte("oggdata"), Format: domain.FormatOgg}
	f.stt.err = fmt.Errorf("%w: status error", domain.ErrTranscription)

	out := f.intake.Handle(context.Background(), voiceEvent("1 biryani"))

	if out.Err != nil {
		t.Fatalf("transcription failure must not be fatal: %v", out.Err)
	}
	if out.Text != "1 biryani" {
		t.Errorf("text: got %q, want original body", out.Text)
	}
	if out.Order == nil || out.Order.Item != "Biryani" {
		t.Errorf("order: got %+v", out.Order)
	}
}

func TestIntake_EmptyTranscriptFallsBackToBody(t *testing.T) {
	f := newFixture()
	f.media.payload = domain.AudioPayload{Bytes: []byte("x"), Format: domain.FormatWAV}
	f.stt.text = "   "

	out := f.intake.Handle(context.Background(), voiceEvent(""))

	if out.Final() != application.StateReplied || len(f.replies.sent) != 1 || f.replies.sent[0].message != application.HelpReply {
		t.Errorf("expected help reply, got trace %v replies %+v", out.Trace, f.replies.sent)
	}
}

func TestIntake_NonAudioMediaUsesBody(t *testing.T) {
	f := newFixture()
	f.media.payload = domain.AudioPayload{Bytes: []byte("png"), Format: domain.FormatUnknown, ContentType: "image/png"}

	out := f.intake.Handle(context.Background(), voiceEvent("2 dosa"))

	if len(f.stt.got) != 0 {
		t.Error("transcriber should not run for non-audio media")
	}
	if out.Order == nil || out.Order.Quantity != 2 {
		t.Errorf("order: got %+v", out.Order)
	}
}

func TestIntake_MediaDownloadFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.media.err = errors.New("connection reset")

	out := f.intake.Handle(context.Background(), voiceEvent("2 parota"))

	if !errors.Is(out.Err, domain.ErrMediaDownload) {
		t.Fatalf("err: got %v, want ErrMediaDownload", out.Err)
	}
	assertTrace(t, out.Trace,
		application.StateReceived,
		application.StateMediaResolving,
		application.StateMediaFailed,
		application.StateDone,
	)
	if len(f.store.orders) != 0 {
		t.Error("no order should be persisted")
	}
	if len(f.broadcaster.events) != 1 {
		t.Fatalf("events: got %d, want 1", len(f.broadcaster.events))
	}
	msg := f.broadcaster.events[0].Data.(domain.MessagePayload)
	if msg.Text != domain.MediaErrorText {
		t.Errorf("message text: got %q", msg.Text)
	}
	if len(f.replies.sent) != 1 || f.replies.sent[0].message != application.MediaFailureReply {
		t.Errorf("replies: got %+v", f.replies.sent)
	}
}

func TestIntake_StoreFailureSendsNothing(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("db down")

	out := f.intake.Handle(context.Background(), domain.InboundEvent{ID: "ev", Sender: "s", Text: "2 parota"})

	if !errors.Is(out.Err, domain.ErrStore) {
		t.Fatalf("err: got %v, want ErrStore", out.Err)
	}
	if out.Final() != application.StateStoreFailed {
		t.Errorf("final: got %s", out.Final())
	}
	if len(f.replies.sent) != 0 {
		t.Errorf("no confirmation may be sent, got %+v", f.replies.sent)
	}
	for _, ev := range f.broadcaster.events {
		if ev.Type == domain.EventOrder {
			t.Error("order event must not be broadcast after store failure")
		}
	}
}

func TestIntake_ReplyFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.replies.err = fmt.Errorf("%w: 401", domain.ErrReply)

	out := f.intake.Handle(context.Background(), domain.InboundEvent{ID: "ev", Sender: "s", Text: "dosa"})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Final() != application.StateBroadcasted {
		t.Errorf("final: got %s", out.Final())
	}
	if len(f.replies.sent) != 1 {
		t.Errorf("reply must be attempted exactly once, got %d", len(f.replies.sent))
	}
}

type panickingParser struct{}

func (panickingParser) Parse(string) (domain.ParsedOrder, bool) { panic("boom") }

func TestIntake_PanicIsContained(t *testing.T) {
	intake := application.NewIntake(
		&mockMedia{}, &mockTranscoder{}, &mockSTT{}, panickingParser{},
		&mockStore{}, &mockReplier{}, &mockBroadcaster{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	out := intake.Handle(context.Background(), domain.InboundEvent{ID: "ev", Text: "x"})

	if out.Err == nil {
		t.Fatal("expected panic to be reported in outcome")
	}
	if out.Trace[len(out.Trace)-1] != application.StateDone {
		t.Errorf("trace should end in done: %v", out.Trace)
	}
}
