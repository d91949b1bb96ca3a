package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"order-intake/internal/application"
	"order-intake/internal/domain"
	"order-intake/internal/infra/twilio"
)

// Pipeline accepts decoded inbound events.
type Pipeline interface {
	Submit(ev domain.InboundEvent)
	Process(ev domain.InboundEvent) (application.Outcome, error)
	InFlight() int64
}

type Options struct {
	Addr           string
	FrontendOrigin string
	WebhookToken   string
	// Async acknowledges before the pipeline runs; otherwise the webhook
	// waits for the event to finish.
	Async bool
	// RateLimit applies per client IP to the read API. The webhook is never
	// limited: the channel shares source addresses across all senders.
	RateLimit   int
	RateWindow  time.Duration
	TrustProxy  bool
	ReadTimeout time.Duration
}

type Server struct {
	opts     Options
	router   *chi.Mux
	pipeline Pipeline
	orders   application.OrderStore
	live     http.Handler
	logger   *slog.Logger
	server   *http.Server
}

// NewServer builds the router. live may be nil when the WebSocket stream is
// disabled.
func NewServer(opts Options, pipeline Pipeline, orders application.OrderStore, live http.Handler, logger *slog.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 120
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}

	s := &Server{
		opts:     opts,
		router:   chi.NewRouter(),
		pipeline: pipeline,
		orders:   orders,
		live:     live,
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.logger))

	origins := []string{"*"}
	if s.opts.FrontendOrigin != "" {
		origins = []string{s.opts.FrontendOrigin}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Auth-Token", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.With(requireToken(s.opts.WebhookToken, s.logger)).
		Post("/api/twilio/webhook", s.handleWebhook)

	limiter := NewRateLimiter(s.opts.RateLimit, s.opts.RateWindow)
	limiter.TrustProxy = s.opts.TrustProxy
	r.With(limiter.Middleware).Get("/api/orders", s.handleOrders)
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)
	if s.live != nil {
		r.Handle("/ws", s.live)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.router,
		ReadTimeout: s.opts.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.opts.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ev, err := twilio.DecodeEvent(r)
	if err != nil {
		s.logger.Warn("undecodable webhook", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.logger.Debug("webhook accepted", "event_id", ev.ID, "async", s.opts.Async)

	if s.opts.Async {
		s.pipeline.Submit(ev)
	} else if _, err := s.pipeline.Process(ev); err != nil {
		s.logger.Warn("event not processed", "event_id", ev.ID, "error", err)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, twilio.EmptyTwiML)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.List(r.Context())
	if err != nil {
		s.logger.Error("listing orders", "error", err, "kind", domain.Kind(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch orders"})
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"ts":        time.Now().UnixMilli(),
		"in_flight": s.pipeline.InFlight(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Order intake is running. Endpoints: POST /api/twilio/webhook, GET /api/orders, GET /ws, GET /health\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
