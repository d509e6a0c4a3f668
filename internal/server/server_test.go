package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/noble1911/butler/internal/agent"
	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/notify"
)

type fakeOrchestrator struct {
	reply  string
	events []agent.Event
	err    error

	lastReq *agent.Request
}

func (o *fakeOrchestrator) Respond(ctx context.Context, req *agent.Request) (string, error) {
	o.lastReq = req
	return o.reply, o.err
}

func (o *fakeOrchestrator) Stream(ctx context.Context, req *agent.Request) (<-chan agent.Event, error) {
	return o.channel(req, true)
}

func (o *fakeOrchestrator) Events(ctx context.Context, req *agent.Request) (<-chan agent.Event, error) {
	return o.channel(req, false)
}

func (o *fakeOrchestrator) channel(req *agent.Request, textOnly bool) (<-chan agent.Event, error) {
	o.lastReq = req
	if o.err != nil {
		return nil, o.err
	}
	ch := make(chan agent.Event, len(o.events))
	for _, ev := range o.events {
		if textOnly && ev.Type != agent.EventTextDelta {
			continue
		}
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeServerStore struct {
	history    []agent.Message
	historyErr error
	subs       []*notify.Subscription

	appended [][3]string
	saved    []*notify.Subscription
	deleted  []string
}

func (s *fakeServerStore) History(ctx context.Context, userID string, limit int) ([]agent.Message, error) {
	return s.history, s.historyErr
}

func (s *fakeServerStore) AppendExchange(ctx context.Context, userID, userText, assistantText string) error {
	s.appended = append(s.appended, [3]string{userID, userText, assistantText})
	return nil
}

func (s *fakeServerStore) SaveSubscription(ctx context.Context, sub *notify.Subscription) error {
	if sub.ID == "" {
		sub.ID = "sub-1"
	}
	s.saved = append(s.saved, sub)
	return nil
}

func (s *fakeServerStore) SubscriptionsForUser(ctx context.Context, userID string) ([]*notify.Subscription, error) {
	return s.subs, nil
}

func (s *fakeServerStore) DeleteSubscription(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func newTestServer(t *testing.T, orch *fakeOrchestrator, store *fakeServerStore) (*Server, string) {
	t.Helper()
	authService := auth.NewService(auth.Config{
		Secret:      "test-secret",
		TokenExpiry: time.Hour,
		Users:       map[string]string{"alice": "password1"},
	})
	token, err := authService.Generate(&auth.User{ID: "alice"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	srv := New(orch, store, authService, nil, logger, Config{SystemPrompt: "You are a butler.", HistoryLimit: 40})
	return srv, token
}

func postJSON(t *testing.T, handler http.Handler, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestChatRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOrchestrator{}, &fakeServerStore{})
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/chat", "", `{"message":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	w = postJSON(t, handler, "/api/chat", "not-a-jwt", `{"message":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status with garbage token = %d, want 401", w.Code)
	}
}

func TestTokenEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOrchestrator{}, &fakeServerStore{})
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/auth/token", "", `{"username":"alice","password":"password1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}

	// The issued token works against a protected route.
	w2 := postJSON(t, handler, "/api/chat", resp.Token, `{"message":"hi"}`)
	if w2.Code != http.StatusOK {
		t.Errorf("chat with issued token = %d, body = %s", w2.Code, w2.Body)
	}
}

func TestTokenEndpointRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOrchestrator{}, &fakeServerStore{})
	handler := srv.Handler()

	for _, body := range []string{
		`{"username":"alice","password":"wrong"}`,
		`{"username":"mallory","password":"password1"}`,
	} {
		w := postJSON(t, handler, "/api/auth/token", "", body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d for %s, want 401", w.Code, body)
		}
		if !strings.Contains(w.Body.String(), "Invalid credentials") {
			t.Errorf("body = %s, want uniform error", w.Body)
		}
	}
}

func TestChatBatch(t *testing.T) {
	orch := &fakeOrchestrator{reply: "Good morning."}
	store := &fakeServerStore{history: []agent.Message{{Role: "user", Content: "earlier"}}}
	srv, token := newTestServer(t, orch, store)

	w := postJSON(t, srv.Handler(), "/api/chat", token, `{"message":"good morning"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var resp struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply != "Good morning." {
		t.Errorf("reply = %q", resp.Reply)
	}

	if orch.lastReq.UserID != "alice" || orch.lastReq.UserMessage != "good morning" {
		t.Errorf("request = %+v", orch.lastReq)
	}
	if len(orch.lastReq.History) != 1 {
		t.Errorf("history not forwarded: %+v", orch.lastReq.History)
	}
	if len(store.appended) != 1 || store.appended[0] != [3]string{"alice", "good morning", "Good morning."} {
		t.Errorf("persisted = %v", store.appended)
	}
}

func TestChatRejectsBlankMessage(t *testing.T) {
	srv, token := newTestServer(t, &fakeOrchestrator{}, &fakeServerStore{})
	handler := srv.Handler()

	for _, body := range []string{`{"message":"  "}`, `{}`, `not json`} {
		w := postJSON(t, handler, "/api/chat", token, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d for %q, want 400", w.Code, body)
		}
	}
}

func TestChatOrchestratorFailure(t *testing.T) {
	orch := &fakeOrchestrator{err: errors.New("no provider")}
	store := &fakeServerStore{}
	srv, token := newTestServer(t, orch, store)

	w := postJSON(t, srv.Handler(), "/api/chat", token, `{"message":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if len(store.appended) != 0 {
		t.Errorf("failed turn persisted: %v", store.appended)
	}
}

func TestChatHistoryErrorIsNotFatal(t *testing.T) {
	orch := &fakeOrchestrator{reply: "ok"}
	store := &fakeServerStore{historyErr: errors.New("database is locked")}
	srv, token := newTestServer(t, orch, store)

	w := postJSON(t, srv.Handler(), "/api/chat", token, `{"message":"hi"}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with empty history", w.Code)
	}
	if len(orch.lastReq.History) != 0 {
		t.Errorf("history = %+v, want none", orch.lastReq.History)
	}
}

func sseDataLines(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		}
	}
	return lines
}

func TestChatStreamSSE(t *testing.T) {
	orch := &fakeOrchestrator{events: []agent.Event{
		{Type: agent.EventTextDelta, Text: "Good "},
		{Type: agent.EventToolStart, Tool: "get_weather"},
		{Type: agent.EventToolEnd, Tool: "get_weather"},
		{Type: agent.EventTextDelta, Text: "morning."},
	}}
	store := &fakeServerStore{}
	srv, token := newTestServer(t, orch, store)

	w := postJSON(t, srv.Handler(), "/api/chat/stream", token, `{"message":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := sseDataLines(w.Body.String())
	want := []string{`{"delta":"Good "}`, `{"delta":"morning."}`, "[DONE]"}
	if len(lines) != len(want) {
		t.Fatalf("data lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, lines[i], want[i])
		}
	}

	if len(store.appended) != 1 || store.appended[0][2] != "Good morning." {
		t.Errorf("persisted = %v", store.appended)
	}
}

func TestChatEventsSSE(t *testing.T) {
	orch := &fakeOrchestrator{events: []agent.Event{
		{Type: agent.EventTextDelta, Text: "Checking."},
		{Type: agent.EventToolStart, Tool: "ha_get_state"},
		{Type: agent.EventToolEnd, Tool: "ha_get_state"},
	}}
	srv, token := newTestServer(t, orch, &fakeServerStore{})

	w := postJSON(t, srv.Handler(), "/api/chat/events", token, `{"message":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	lines := sseDataLines(w.Body.String())
	if len(lines) != 4 {
		t.Fatalf("data lines = %v, want 3 events + [DONE]", lines)
	}
	var ev agent.Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != agent.EventToolStart || ev.Tool != "ha_get_state" {
		t.Errorf("event = %+v", ev)
	}
	if lines[3] != "[DONE]" {
		t.Errorf("terminator = %q", lines[3])
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	srv, token := newTestServer(t, &fakeOrchestrator{}, &fakeServerStore{})
	handler := srv.Handler()

	for _, path := range []string{"/api/chat", "/api/chat/stream", "/api/chat/events"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, w.Code)
		}
	}
}

func TestSubscriptionRegisterAndList(t *testing.T) {
	store := &fakeServerStore{}
	srv, token := newTestServer(t, &fakeOrchestrator{}, store)
	handler := srv.Handler()

	body := `{"endpoint":"https://push.example/a","keys":{"p256dh":"pk","auth":"ak"}}`
	w := postJSON(t, handler, "/api/push/subscriptions", token, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d", len(store.saved))
	}
	saved := store.saved[0]
	if saved.UserID != "alice" || saved.Endpoint != "https://push.example/a" || saved.P256dhKey != "pk" {
		t.Errorf("saved = %+v", saved)
	}

	store.subs = []*notify.Subscription{saved}
	req := httptest.NewRequest(http.MethodGet, "/api/push/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("list status = %d", w2.Code)
	}
	var resp struct {
		Subscriptions []*notify.Subscription `json:"subscriptions"`
	}
	if err := json.NewDecoder(w2.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Subscriptions) != 1 || resp.Subscriptions[0].ID != "sub-1" {
		t.Errorf("listed = %+v", resp.Subscriptions)
	}
}

func TestSubscriptionRegisterValidation(t *testing.T) {
	srv, token := newTestServer(t, &fakeOrchestrator{}, &fakeServerStore{})
	handler := srv.Handler()

	for _, body := range []string{
		`{"endpoint":"","keys":{"p256dh":"pk","auth":"ak"}}`,
		`{"endpoint":"https://push.example/a","keys":{"p256dh":"","auth":"ak"}}`,
		`{"endpoint":"https://push.example/a","keys":{"p256dh":"pk","auth":""}}`,
	} {
		w := postJSON(t, handler, "/api/push/subscriptions", token, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d for %s, want 400", w.Code, body)
		}
	}
}

func TestSubscriptionDelete(t *testing.T) {
	store := &fakeServerStore{subs: []*notify.Subscription{{ID: "sub-1", UserID: "alice"}}}
	srv, token := newTestServer(t, &fakeOrchestrator{}, store)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodDelete, "/api/push/subscriptions/sub-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "sub-1" {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestSubscriptionDeleteNotOwned(t *testing.T) {
	// The store only ever returns alice's subscriptions, so another
	// user's ID looks like it does not exist.
	store := &fakeServerStore{subs: []*notify.Subscription{{ID: "sub-1", UserID: "alice"}}}
	srv, token := newTestServer(t, &fakeOrchestrator{}, store)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodDelete, "/api/push/subscriptions/someone-elses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if len(store.deleted) != 0 {
		t.Errorf("foreign subscription deleted: %v", store.deleted)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &fakeOrchestrator{}, &fakeServerStore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body)
	}
}
