package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/notify"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleToken exchanges credentials for a JWT: POST /api/auth/token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := s.auth.Login(body.Username, body.Password)
	if err != nil {
		// Same response for unknown user and bad password.
		s.jsonError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	s.jsonResponse(w, tokenResponse{Token: token})
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// handleSubscriptions lists or registers push subscriptions:
// GET/POST /api/push/subscriptions.
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		subs, err := s.store.SubscriptionsForUser(r.Context(), user.ID)
		if err != nil {
			s.logger.Error("failed to list subscriptions", "user_id", user.ID, "error", err)
			s.jsonError(w, "Failed to list subscriptions", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, map[string]any{"subscriptions": subs})

	case http.MethodPost:
		var body subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.Endpoint) == "" || body.Keys.P256dh == "" || body.Keys.Auth == "" {
			s.jsonError(w, "endpoint and keys are required", http.StatusBadRequest)
			return
		}
		sub := &notify.Subscription{
			UserID:    user.ID,
			Endpoint:  body.Endpoint,
			P256dhKey: body.Keys.P256dh,
			AuthKey:   body.Keys.Auth,
		}
		if err := s.store.SaveSubscription(r.Context(), sub); err != nil {
			s.logger.Error("failed to save subscription", "user_id", user.ID, "error", err)
			s.jsonError(w, "Failed to save subscription", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(sub); err != nil {
			s.logger.Error("json encode error", "error", err)
		}

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSubscriptionDelete removes one subscription:
// DELETE /api/push/subscriptions/{id}.
func (s *Server) handleSubscriptionDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, _ := auth.UserFromContext(r.Context())

	id := trimPathID(r.URL.Path, "/api/push/subscriptions/")
	if id == "" {
		s.jsonError(w, "Subscription ID is required", http.StatusBadRequest)
		return
	}

	// Only the owner may delete a subscription.
	subs, err := s.store.SubscriptionsForUser(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("failed to list subscriptions", "user_id", user.ID, "error", err)
		s.jsonError(w, "Failed to delete subscription", http.StatusInternalServerError)
		return
	}
	owned := false
	for _, sub := range subs {
		if sub.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		s.jsonError(w, "Subscription not found", http.StatusNotFound)
		return
	}

	if err := s.store.DeleteSubscription(r.Context(), id); err != nil {
		s.logger.Error("failed to delete subscription", "subscription_id", id, "error", err)
		s.jsonError(w, "Failed to delete subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
