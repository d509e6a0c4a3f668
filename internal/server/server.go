// Package server exposes the butler over HTTP: chat (batch and two
// streaming shapes), auth token issuance, push subscription
// management, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noble1911/butler/internal/agent"
	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/notify"
	"github.com/noble1911/butler/internal/ratelimit"
)

// Orchestrator runs one conversational turn.
type Orchestrator interface {
	Respond(ctx context.Context, req *agent.Request) (string, error)
	Stream(ctx context.Context, req *agent.Request) (<-chan agent.Event, error)
	Events(ctx context.Context, req *agent.Request) (<-chan agent.Event, error)
}

// Store is the persistence the handlers need.
type Store interface {
	History(ctx context.Context, userID string, limit int) ([]agent.Message, error)
	AppendExchange(ctx context.Context, userID, userText, assistantText string) error
	SaveSubscription(ctx context.Context, sub *notify.Subscription) error
	SubscriptionsForUser(ctx context.Context, userID string) ([]*notify.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Config holds the server's request-shaping settings.
type Config struct {
	Addr         string
	SystemPrompt string
	HistoryLimit int
}

// Server routes HTTP requests to the orchestrator and store.
type Server struct {
	orchestrator Orchestrator
	store        Store
	auth         *auth.Service
	limiter      *ratelimit.Middleware
	logger       *slog.Logger
	config       Config

	httpServer *http.Server
}

// New assembles the server. The rate-limit middleware may be nil to
// run unlimited (tests).
func New(orch Orchestrator, store Store, authService *auth.Service, limiter *ratelimit.Middleware, logger *slog.Logger, config Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 40
	}
	return &Server{
		orchestrator: orch,
		store:        store,
		auth:         authService,
		limiter:      limiter,
		logger:       logger.With("component", "server"),
		config:       config,
	}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/auth/token", s.handleToken)

	mux.HandleFunc("/api/chat", s.requireUser(s.handleChat))
	mux.HandleFunc("/api/chat/stream", s.requireUser(s.handleChatStream))
	mux.HandleFunc("/api/chat/events", s.requireUser(s.handleChatEvents))
	mux.HandleFunc("/api/push/subscriptions", s.requireUser(s.handleSubscriptions))
	mux.HandleFunc("/api/push/subscriptions/", s.requireUser(s.handleSubscriptionDelete))

	if s.limiter != nil {
		return s.limiter.Wrap(mux)
	}
	return mux
}

// Start listens and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.httpServer = server

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", s.config.Addr)
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requireUser authenticates the bearer token and stores the user in
// the request context.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			s.jsonError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		user, err := s.auth.Validate(token)
		if err != nil {
			s.jsonError(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), user)))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func trimPathID(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}
