package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/noble1911/butler/internal/agent"
	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/metrics"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) buildRequest(r *http.Request) (*agent.Request, error) {
	user, _ := auth.UserFromContext(r.Context())

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}
	if strings.TrimSpace(body.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}

	history, err := s.store.History(r.Context(), user.ID, s.config.HistoryLimit)
	if err != nil {
		s.logger.Error("failed to load history", "user_id", user.ID, "error", err)
		// A turn without history beats no turn at all.
		history = nil
	}

	return &agent.Request{
		System:      s.config.SystemPrompt,
		History:     history,
		UserMessage: body.Message,
		UserID:      user.ID,
		Channel:     "api",
	}, nil
}

// handleChat runs one batch turn: POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := s.buildRequest(r)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.ChatRequests.WithLabelValues("batch").Inc()

	reply, err := s.orchestrator.Respond(r.Context(), req)
	if err != nil {
		s.logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
		s.jsonError(w, "Failed to generate a response", http.StatusInternalServerError)
		return
	}

	s.persistExchange(r.Context(), req.UserID, req.UserMessage, reply)
	s.jsonResponse(w, chatResponse{Reply: reply})
}

// handleChatStream streams text deltas: POST /api/chat/stream.
// Wire format: "data: {\"delta\": ...}\n\n" per chunk, then
// "data: [DONE]\n\n".
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	s.streamTurn(w, r, "stream", func(ev agent.Event) (any, bool) {
		return map[string]string{"delta": ev.Text}, true
	})
}

// handleChatEvents streams typed events including tool lifecycle:
// POST /api/chat/events.
func (s *Server) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	s.streamTurn(w, r, "events", func(ev agent.Event) (any, bool) {
		return ev, true
	})
}

func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, mode string, encode func(agent.Event) (any, bool)) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := s.buildRequest(r)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	metrics.ChatRequests.WithLabelValues(mode).Inc()

	var events <-chan agent.Event
	if mode == "stream" {
		events, err = s.orchestrator.Stream(r.Context(), req)
	} else {
		events, err = s.orchestrator.Events(r.Context(), req)
	}
	if err != nil {
		s.logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
		s.jsonError(w, "Failed to generate a response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var text strings.Builder
	for ev := range events {
		if ev.Type == agent.EventTextDelta {
			text.WriteString(ev.Text)
		}
		payload, keep := encode(ev)
		if !keep {
			continue
		}
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("failed to encode event", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; drain the channel so the run
			// finishes, still collecting text for persistence.
			for rest := range events {
				if rest.Type == agent.EventTextDelta {
					text.WriteString(rest.Text)
				}
			}
			break
		}
		flusher.Flush()
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	// Persist even when the client disconnected mid-stream; the
	// request context may already be cancelled.
	s.persistExchange(context.WithoutCancel(r.Context()), req.UserID, req.UserMessage, text.String())
}

func (s *Server) persistExchange(ctx context.Context, userID, userText, reply string) {
	if strings.TrimSpace(reply) == "" {
		return
	}
	if err := s.store.AppendExchange(ctx, userID, userText, reply); err != nil {
		s.logger.Error("failed to persist exchange", "user_id", userID, "error", err)
	}
}
