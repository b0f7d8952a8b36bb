package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"assistant/pkg/automation"
	"assistant/pkg/bus"
	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/round"
	"assistant/pkg/session"
	"assistant/pkg/state"
	"assistant/pkg/storage"
)

type fakeRounds struct {
	mu      sync.Mutex
	reasons []session.RoundReason
	called  chan session.RoundReason
}

func newFakeRounds() *fakeRounds {
	return &fakeRounds{called: make(chan session.RoundReason, 8)}
}

func (f *fakeRounds) ExecuteAIRound(ctx context.Context, reason session.RoundReason) error {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	f.called <- reason
	return nil
}

func (f *fakeRounds) InProgress() bool { return false }

func (f *fakeRounds) LastResult() (round.Result, bool) {
	return round.Result{SessionID: "s1", Outcome: round.OutcomeFinished}, true
}

// gatedRounds holds its first round open until release is closed and
// rejects overlapping rounds the way the executor does.
type gatedRounds struct {
	active  func() string
	release chan struct{}
	ran     chan string

	mu    sync.Mutex
	busy  bool
	calls int
}

func newGatedRounds() *gatedRounds {
	return &gatedRounds{release: make(chan struct{}), ran: make(chan string, 8)}
}

func (g *gatedRounds) ExecuteAIRound(ctx context.Context, reason session.RoundReason) error {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return session.ErrRoundInProgress
	}
	g.busy = true
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.busy = false
		g.mu.Unlock()
	}()

	g.ran <- g.active()
	if first {
		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}
	return nil
}

func (g *gatedRounds) InProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *gatedRounds) LastResult() (round.Result, bool) { return round.Result{}, false }

type testServer struct {
	srv          *Server
	store        *storage.Store
	ctrl         *controller.Controller
	rounds       *fakeRounds
	interactions *interaction.Manager
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	return newTestServerWithRounds(t, secret, newFakeRounds())
}

func newTestServerWithRounds(t *testing.T, secret string, rounds Rounds) *testServer {
	t.Helper()

	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	store, err := storage.Open(context.Background(), filepath.Join(dir, "test.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	kv, err := state.NewFileStore(log, filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Gateway.Port = 0 // Don't actually listen
	cfg.Gateway.JWTSecret = secret

	localBus := bus.NewLocalBus(log, 10)
	ctrl := controller.New(store, localBus, log)
	msgs := messages.New(store, nil, nil, localBus, log)
	interactions := interaction.NewManager(localBus, log)
	registry := automation.NewRegistry(log, filepath.Join(dir, "automations.yaml"))
	srv := NewServer(cfg, log, Deps{
		Store:        store,
		Messages:     msgs,
		Controller:   ctrl,
		Rounds:       rounds,
		Interactions: interactions,
		Scheduler:    automation.NewScheduler(log, registry, store, msgs, ctrl, kv),
		Bus:          localBus,
	})

	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		ctrl.Close()
		_ = kv.Close()
		_ = store.Close()
	})
	srv.roundRetryDelay = 10 * time.Millisecond

	ts := &testServer{srv: srv, store: store, ctrl: ctrl, interactions: interactions}
	if fake, ok := rounds.(*fakeRounds); ok {
		ts.rounds = fake
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (ts *testServer) createSession(t *testing.T) *session.Session {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/sessions", map[string]string{"name": "Notes"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess session.Session
	decode(t, rec, &sess)
	return &sess
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", body["status"])
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t, "")
	created := ts.createSession(t)

	if created.Type != session.TypeChat || created.Name != "Notes" || created.ID == "" {
		t.Fatalf("unexpected session: %+v", created)
	}

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: expected 200, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions?type=chat", nil, "")
	var list []session.Session
	decode(t, rec, &list)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("expected the created session in the list, got %+v", list)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions?type=bogus", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type filter: expected 400, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions/missing", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session: expected 404, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete session: expected 204, got %d", rec.Code)
	}
	if _, err := ts.store.Get(context.Background(), created.ID); err == nil {
		t.Fatalf("expected session to be deleted")
	}
}

func TestPostMessageActivatesAndStartsRound(t *testing.T) {
	ts := newTestServer(t, "")
	sess := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", map[string]string{"text": "hello"}, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Message session.Message `json:"message"`
		Control struct {
			Status string `json:"status"`
		} `json:"control"`
	}
	decode(t, rec, &body)
	if body.Control.Status != "ACTIVATED" {
		t.Fatalf("expected ACTIVATED, got %q", body.Control.Status)
	}
	if body.Message.Sender != session.SenderUser || body.Message.TextContent != "hello" {
		t.Fatalf("unexpected stored message: %+v", body.Message)
	}

	select {
	case reason := <-ts.rounds.called:
		if reason != session.RoundReasonManualStart {
			t.Fatalf("expected MANUAL_START, got %s", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("round was not started")
	}

	if got := ts.ctrl.ActiveSessionID(); got != sess.ID {
		t.Fatalf("active session = %q, want %q", got, sess.ID)
	}

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/messages", nil, "")
	var msgs []session.Message
	decode(t, rec, &msgs)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestPreemptingChatRoundRunsAfterPreviousRound(t *testing.T) {
	rounds := newGatedRounds()
	ts := newTestServerWithRounds(t, "", rounds)
	rounds.active = ts.ctrl.ActiveSessionID
	first := ts.createSession(t)
	second := ts.createSession(t)

	ts.do(t, http.MethodPost, "/api/sessions/"+first.ID+"/messages", map[string]string{"text": "one"}, "")
	select {
	case id := <-rounds.ran:
		if id != first.ID {
			t.Fatalf("first round ran for %q, want %q", id, first.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first round was not started")
	}

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+second.ID+"/messages", map[string]string{"text": "two"}, "")
	var body struct {
		Control struct {
			Status string `json:"status"`
		} `json:"control"`
	}
	decode(t, rec, &body)
	if body.Control.Status != "ACTIVATED" {
		t.Fatalf("expected ACTIVATED, got %q", body.Control.Status)
	}

	// The second session has to wait for the first round to unwind.
	select {
	case id := <-rounds.ran:
		t.Fatalf("round for %q ran while the first was still running", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(rounds.release)
	select {
	case id := <-rounds.ran:
		if id != second.ID {
			t.Fatalf("second round ran for %q, want %q", id, second.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no round ran for the preempting chat")
	}
}

func TestQueuedChatRoundStartsOnActivation(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	now := time.Now()
	auto := &session.Session{
		ID:           "a1",
		Name:         "Digest",
		Type:         session.TypeAutomation,
		AutomationID: "digest",
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := ts.store.Create(ctx, auto); err != nil {
		t.Fatalf("create automation session: %v", err)
	}
	if res := ts.ctrl.RequestSessionControl(auto.ID, session.TypeAutomation, auto.AutomationID, &now); res.Status != controller.Activated {
		t.Fatalf("automation not activated: %+v", res)
	}

	chat := ts.createSession(t)
	rec := ts.do(t, http.MethodPost, "/api/sessions/"+chat.ID+"/messages", map[string]string{"text": "hi"}, "")
	var body struct {
		Control struct {
			Status   string `json:"status"`
			Position int    `json:"position"`
		} `json:"control"`
	}
	decode(t, rec, &body)
	if body.Control.Status != "QUEUED" || body.Control.Position != 1 {
		t.Fatalf("expected QUEUED at 1, got %+v", body.Control)
	}

	select {
	case <-ts.rounds.called:
		t.Fatal("round started for a queued chat")
	case <-time.After(50 * time.Millisecond):
	}

	ts.ctrl.CloseActiveSession()
	if got := ts.ctrl.ActiveSessionID(); got != chat.ID {
		t.Fatalf("active session = %q, want %q", got, chat.ID)
	}

	select {
	case reason := <-ts.rounds.called:
		if reason != session.RoundReasonManualStart {
			t.Fatalf("expected MANUAL_START, got %s", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no round ran for the chat activated from the queue")
	}
}

func TestPostMessageValidation(t *testing.T) {
	ts := newTestServer(t, "")
	sess := ts.createSession(t)

	auto := &session.Session{ID: "auto-1", Type: session.TypeAutomation, AutomationID: "digest"}
	if err := ts.store.Create(context.Background(), auto); err != nil {
		t.Fatalf("create automation session: %v", err)
	}

	tests := []struct {
		name string
		path string
		body map[string]string
		want int
	}{
		{"empty text", "/api/sessions/" + sess.ID + "/messages", map[string]string{"text": "  "}, http.StatusBadRequest},
		{"unknown session", "/api/sessions/nope/messages", map[string]string{"text": "hi"}, http.StatusNotFound},
		{"automation session", "/api/sessions/auto-1/messages", map[string]string{"text": "hi"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body, "")
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	select {
	case <-ts.rounds.called:
		t.Fatal("no round should start for rejected messages")
	default:
	}
}

func TestStopActiveSession(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodPost, "/api/active/stop", nil, "")
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["stopped"] != false {
		t.Fatalf("expected nothing to stop, got %v", body)
	}

	sess := ts.createSession(t)
	ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", map[string]string{"text": "hello"}, "")
	<-ts.rounds.called

	rec = ts.do(t, http.MethodPost, "/api/active/stop", nil, "")
	decode(t, rec, &body)
	if body["stopped"] != true || body["session_id"] != sess.ID {
		t.Fatalf("unexpected stop response: %v", body)
	}
	if got := ts.ctrl.ActiveSessionID(); got != "" {
		t.Fatalf("expected no active session, got %q", got)
	}
	if !ts.interactions.IsInterruptionRequested() {
		t.Fatal("expected interruption to be requested")
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	sess := ts.createSession(t)
	ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", map[string]string{"text": "hello"}, "")
	<-ts.rounds.called

	rec := ts.do(t, http.MethodGet, "/api/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	decode(t, rec, &body)

	active, ok := body["active_session"].(map[string]interface{})
	if !ok || active["id"] != sess.ID {
		t.Fatalf("expected active session %s, got %v", sess.ID, body["active_session"])
	}
	if body["round_in_progress"] != false {
		t.Fatalf("expected round_in_progress false, got %v", body["round_in_progress"])
	}
	last, ok := body["last_round"].(map[string]interface{})
	if !ok || last["outcome"] != string(round.OutcomeFinished) {
		t.Fatalf("unexpected last round: %v", body["last_round"])
	}
	if body["connections"] != float64(0) {
		t.Fatalf("expected 0 connections, got %v", body["connections"])
	}
}

func TestInteractionEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	answers := make(chan *interaction.Response, 1)
	go func() {
		resp, err := ts.interactions.WaitForUserResponse(context.Background(), "s1",
			&session.CommunicationModule{Type: "question"})
		if err != nil {
			t.Errorf("wait: %v", err)
		}
		answers <- resp
	}()

	var pending []interaction.Request
	deadline := time.Now().Add(2 * time.Second)
	for len(pending) == 0 && time.Now().Before(deadline) {
		rec := ts.do(t, http.MethodGet, "/api/interactions", nil, "")
		decode(t, rec, &pending)
		if len(pending) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending interaction, got %d", len(pending))
	}

	// A communication module cannot be validated.
	rec := ts.do(t, http.MethodPost, "/api/interactions/"+pending[0].ID+"/validate", map[string]bool{"approved": true}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("validate: expected 400, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/interactions/"+pending[0].ID+"/respond", map[string]string{"text": "blue"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case resp := <-answers:
		if resp == nil || resp.Text != "blue" {
			t.Fatalf("unexpected answer: %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait was not resolved")
	}

	rec = ts.do(t, http.MethodPost, "/api/interactions/"+pending[0].ID+"/cancel", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel resolved request: expected 404, got %d", rec.Code)
	}
}

func TestAutomationEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodPost, "/api/automations", map[string]interface{}{
		"name":     "Digest",
		"schedule": "@daily",
		"prompt":   "Summarize the inbox",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create automation: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var def automation.Definition
	decode(t, rec, &def)

	rec = ts.do(t, http.MethodPost, "/api/automations", map[string]interface{}{"name": "Broken", "prompt": "x", "schedule": "nope"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid automation: expected 400, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/automations/"+def.ID+"/trigger", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var fired struct {
		SessionID string `json:"session_id"`
		Control   struct {
			Status string `json:"status"`
		} `json:"control"`
	}
	decode(t, rec, &fired)
	if fired.SessionID == "" || fired.Control.Status != "ACTIVATED" {
		t.Fatalf("unexpected trigger response: %+v", fired)
	}
	if got := ts.ctrl.ActiveSessionID(); got != fired.SessionID {
		t.Fatalf("active session = %q, want %q", got, fired.SessionID)
	}

	rec = ts.do(t, http.MethodGet, "/api/automations/"+def.ID+"/stats", nil, "")
	var stats automation.Stats
	decode(t, rec, &stats)
	if stats.RunCount != 1 || stats.LastSessionID != fired.SessionID {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = ts.do(t, http.MethodPost, "/api/automations/missing/trigger", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("trigger unknown: expected 404, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/automations/"+def.ID, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete automation: expected 204, got %d", rec.Code)
	}
}

func TestJWTProtectsAPI(t *testing.T) {
	ts := newTestServer(t, "test-secret")

	if rec := ts.do(t, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/status", nil, ""); rec.Code == http.StatusOK {
		t.Fatal("expected request without token to be rejected")
	}

	forged, err := IssueToken("other-secret", "mallory", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rec := ts.do(t, http.MethodGet, "/api/status", nil, forged); rec.Code == http.StatusOK {
		t.Fatal("expected token signed with another secret to be rejected")
	}

	token, err := IssueToken("test-secret", "alice", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rec := ts.do(t, http.MethodGet, "/api/status", nil, token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", rec.Code)
	}
}

func TestParseToken(t *testing.T) {
	token, err := IssueToken("secret", "bob", 0)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	tests := []struct {
		name    string
		secret  string
		token   string
		want    string
		wantErr bool
	}{
		{"valid", "secret", token, "bob", false},
		{"wrong secret", "nope", token, "", true},
		{"empty", "secret", "", "", true},
		{"garbage", "secret", "a.b.c", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToken(tt.secret, tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseToken() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := IssueToken("", "bob", 0); err == nil {
		t.Fatal("expected an error without a secret")
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	ts := newTestServer(t, "")
	httpSrv := httptest.NewServer(ts.srv)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/ws?session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var welcome WSMessage
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != "system" {
		t.Fatalf("expected system welcome, got %q", welcome.Type)
	}

	// Events of other sessions are filtered out.
	ts.srv.broadcast(bus.NewEvent(bus.TopicRoundStarted, "s2", nil))
	ts.srv.broadcast(bus.NewEvent(bus.TopicRoundFinished, "s1", map[string]any{"outcome": "finished"}))

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.Topic != bus.TopicRoundFinished {
		t.Fatalf("unexpected frame: %+v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if msg.Type != "pong" {
		t.Fatalf("expected pong, got %q", msg.Type)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t, "ws-secret")
	httpSrv := httptest.NewServer(ts.srv)
	defer httpSrv.Close()

	base := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	token, err := IssueToken("ws-secret", "alice", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}
