package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"assistant/pkg/bus"
	"assistant/pkg/logger"
	"assistant/pkg/session"
	"assistant/pkg/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (p *recordingPublisher) Publish(evt *bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) count(topic bus.Topic) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, evt := range p.events {
		if evt.Topic == topic {
			n++
		}
	}
	return n
}

type dismissAll bool

func (d dismissAll) DismissOlderInstances(string) bool { return bool(d) }

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	busy   int
	done   chan struct{}
	reason session.RoundReason
}

func (r *fakeRunner) ExecuteAIRound(ctx context.Context, reason session.RoundReason) error {
	r.mu.Lock()
	r.calls++
	r.reason = reason
	if r.busy > 0 {
		r.busy--
		r.mu.Unlock()
		return session.ErrRoundInProgress
	}
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return nil
}

const threshold = 300000 * time.Millisecond

type harness struct {
	ctrl  *Controller
	store *storage.Store
	clock *fakeClock
	pub   *recordingPublisher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	base := []Option{
		WithClock(clock.Now),
		WithEvictionThreshold(func() time.Duration { return threshold }),
		WithRoundRetryDelay(time.Millisecond),
	}
	ctrl := New(store, pub, log, append(base, opts...)...)
	t.Cleanup(func() {
		ctrl.Close()
		_ = store.Close()
	})
	return &harness{ctrl: ctrl, store: store, clock: clock, pub: pub}
}

func (h *harness) create(t *testing.T, id string, typ session.Type, automationID string) {
	t.Helper()
	sess := &session.Session{ID: id, Name: id, Type: typ, AutomationID: automationID}
	if err := h.store.Create(context.Background(), sess); err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
}

func (h *harness) assertActive(t *testing.T, want string) {
	t.Helper()
	if got := h.ctrl.ActiveSessionID(); got != want {
		t.Fatalf("active session = %q, want %q", got, want)
	}
}

func (h *harness) storedActive(t *testing.T) []string {
	t.Helper()
	h.ctrl.Flush()
	sessions, err := h.store.List(context.Background(), session.ListFilter{})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	var ids []string
	for _, s := range sessions {
		if s.IsActive {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func at(t time.Time) *time.Time { return &t }

func TestRequestWithNothingActiveActivates(t *testing.T) {
	h := newHarness(t)
	h.create(t, "s1", session.TypeChat, "")

	res := h.ctrl.RequestSessionControl("s1", session.TypeChat, "", nil)
	if res.Status != Activated {
		t.Fatalf("status = %s, want ACTIVATED", res.Status)
	}
	h.assertActive(t, "s1")

	if res := h.ctrl.RequestSessionControl("s1", session.TypeChat, "", nil); res.Status != AlreadyActive {
		t.Fatalf("second request status = %s, want ALREADY_ACTIVE", res.Status)
	}
	if ids := h.storedActive(t); len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("stored active = %v, want [s1]", ids)
	}
}

func TestChatPreemptsChat(t *testing.T) {
	h := newHarness(t)
	h.create(t, "s1", session.TypeChat, "")
	h.create(t, "s2", session.TypeChat, "")

	h.ctrl.RequestSessionControl("s1", session.TypeChat, "", nil)
	res := h.ctrl.RequestSessionControl("s2", session.TypeChat, "", nil)
	if res.Status != Activated {
		t.Fatalf("status = %s, want ACTIVATED", res.Status)
	}
	h.assertActive(t, "s2")
	if ids := h.storedActive(t); len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("stored active = %v, want [s2]", ids)
	}
}

func TestChatQueuesBehindRecentlyActiveAutomation(t *testing.T) {
	h := newHarness(t)
	h.create(t, "a1", session.TypeAutomation, "daily")
	h.create(t, "c1", session.TypeChat, "")

	h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "daily", nil)
	h.clock.Advance(1000 * time.Millisecond)

	res := h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)
	if res.Status != Queued || res.Position != 1 {
		t.Fatalf("result = %+v, want QUEUED(1)", res)
	}
	h.assertActive(t, "a1")

	h.ctrl.CloseActiveSession()
	h.assertActive(t, "c1")
}

func TestChatEvictsIdleAutomationKeepingSchedule(t *testing.T) {
	h := newHarness(t)
	h.create(t, "a1", session.TypeAutomation, "daily")
	h.create(t, "c1", session.TypeChat, "")

	scheduled := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "daily", at(scheduled))
	h.clock.Advance(threshold + time.Second)

	res := h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)
	if res.Status != Activated {
		t.Fatalf("status = %s, want ACTIVATED", res.Status)
	}
	h.assertActive(t, "c1")

	queue := h.ctrl.Queue()
	if len(queue) != 1 || queue[0].SessionID != "a1" {
		t.Fatalf("queue = %+v, want the evicted automation", queue)
	}
	if queue[0].ScheduledExecutionTime == nil || !queue[0].ScheduledExecutionTime.Equal(scheduled) {
		t.Fatalf("scheduled time = %v, want %v", queue[0].ScheduledExecutionTime, scheduled)
	}
	if h.pub.count(bus.TopicSessionEvicted) != 1 {
		t.Fatal("expected one eviction event")
	}

	h.ctrl.Flush()
	a1, err := h.store.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get a1: %v", err)
	}
	if a1.EndReason == nil || *a1.EndReason != session.EndReasonSuspended {
		t.Fatalf("end reason = %v, want SUSPENDED", a1.EndReason)
	}

	h.ctrl.CloseActiveSession()
	h.assertActive(t, "a1")
}

func TestAutomationWaitingOnNetworkIsNotEvicted(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{
			name: "waiting network state",
			setup: func(h *harness) {
				_ = h.store.UpdateState(context.Background(), "a1", session.StateWaitingNetwork)
			},
		},
		{
			name: "recent network error",
			setup: func(h *harness) {
				_ = h.store.RecordNetworkError(context.Background(), "a1", h.clock.Now().Add(-time.Second))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.create(t, "a1", session.TypeAutomation, "daily")
			h.create(t, "c1", session.TypeChat, "")

			h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "daily", nil)
			h.ctrl.Flush()
			h.clock.Advance(threshold + time.Minute)
			tt.setup(h)

			res := h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)
			if res.Status != Queued {
				t.Fatalf("status = %s, want QUEUED", res.Status)
			}
			h.assertActive(t, "a1")
		})
	}
}

func TestAutomationEvictsIdleChat(t *testing.T) {
	h := newHarness(t)
	h.create(t, "c1", session.TypeChat, "")
	h.create(t, "a1", session.TypeAutomation, "daily")

	h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)

	res := h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "daily", nil)
	if res.Status != Queued || res.Position != 1 {
		t.Fatalf("result = %+v, want QUEUED(1)", res)
	}
	h.ctrl.RemoveFromQueue("a1")

	h.clock.Advance(threshold + time.Second)
	res = h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "daily", nil)
	if res.Status != Activated {
		t.Fatalf("status = %s, want ACTIVATED", res.Status)
	}
	h.assertActive(t, "a1")
	if len(h.ctrl.Queue()) != 0 {
		t.Fatalf("evicted chat must not be queued, got %+v", h.ctrl.Queue())
	}
}

func TestQueuedChatIsUnique(t *testing.T) {
	h := newHarness(t)
	h.create(t, "a1", session.TypeAutomation, "daily")
	for _, id := range []string{"c1", "c2"} {
		h.create(t, id, session.TypeChat, "")
	}

	h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "daily", nil)
	h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)
	res := h.ctrl.RequestSessionControl("c2", session.TypeChat, "", nil)
	if res.Status != Queued || res.Position != 1 {
		t.Fatalf("result = %+v, want QUEUED(1)", res)
	}

	queue := h.ctrl.Queue()
	if len(queue) != 1 || queue[0].SessionID != "c2" {
		t.Fatalf("queue = %+v, want only c2", queue)
	}
}

func TestQueueSelectionOrder(t *testing.T) {
	h := newHarness(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.create(t, "active", session.TypeAutomation, "x")
	h.create(t, "late", session.TypeAutomation, "late")
	h.create(t, "unscheduled", session.TypeAutomation, "none")
	h.create(t, "early", session.TypeAutomation, "early")
	h.create(t, "chat", session.TypeChat, "")

	h.ctrl.RequestSessionControl("active", session.TypeAutomation, "x", nil)
	h.ctrl.RequestSessionControl("late", session.TypeAutomation, "late", at(base.Add(time.Hour)))
	h.ctrl.RequestSessionControl("unscheduled", session.TypeAutomation, "none", nil)
	res := h.ctrl.RequestSessionControl("early", session.TypeAutomation, "early", at(base))
	if res.Status != Queued || res.Position != 3 {
		t.Fatalf("result = %+v, want QUEUED(3)", res)
	}
	h.ctrl.RequestSessionControl("chat", session.TypeChat, "", nil)

	for _, want := range []string{"chat", "early", "late", "unscheduled"} {
		h.ctrl.CloseActiveSession()
		h.assertActive(t, want)
	}
	h.ctrl.CloseActiveSession()
	h.assertActive(t, "")

	if ids := h.storedActive(t); len(ids) != 0 {
		t.Fatalf("stored active = %v, want none", ids)
	}
}

func TestOlderAutomationInstanceDismissed(t *testing.T) {
	h := newHarness(t, WithAutomations(dismissAll(true)))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.create(t, "c1", session.TypeChat, "")
	h.create(t, "old", session.TypeAutomation, "daily")
	h.create(t, "new", session.TypeAutomation, "daily")

	h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)
	h.ctrl.RequestSessionControl("old", session.TypeAutomation, "daily", at(base))
	h.ctrl.RequestSessionControl("new", session.TypeAutomation, "daily", at(base.Add(24*time.Hour)))

	h.ctrl.CloseActiveSession()
	h.assertActive(t, "new")
	if h.pub.count(bus.TopicSessionDismissed) != 1 {
		t.Fatal("expected one dismissal event")
	}

	h.ctrl.Flush()
	old, err := h.store.Get(context.Background(), "old")
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old.EndReason == nil || *old.EndReason != session.EndReasonCancelled {
		t.Fatalf("end reason = %v, want CANCELLED", old.EndReason)
	}
}

func TestSeedSessionRejected(t *testing.T) {
	h := newHarness(t)
	res := h.ctrl.RequestSessionControl("seed", session.TypeSeed, "", nil)
	if res.Status != Rejected {
		t.Fatalf("status = %s, want REJECTED", res.Status)
	}
	h.assertActive(t, "")
}

func TestAtMostOneStoredActive(t *testing.T) {
	h := newHarness(t)
	ids := []string{"c1", "a1", "c2", "a2", "c3"}
	for _, id := range ids {
		typ := session.TypeChat
		automationID := ""
		if id[0] == 'a' {
			typ = session.TypeAutomation
			automationID = id
		}
		h.create(t, id, typ, automationID)
	}

	steps := []func(){
		func() { h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil) },
		func() { h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "a1", nil) },
		func() { h.clock.Advance(threshold * 2) },
		func() { h.ctrl.RequestSessionControl("a2", session.TypeAutomation, "a2", nil) },
		func() { h.ctrl.RequestSessionControl("c2", session.TypeChat, "", nil) },
		func() { h.ctrl.CloseActiveSession() },
		func() { h.ctrl.RequestSessionControl("c3", session.TypeChat, "", nil) },
		func() { h.ctrl.CloseSessionIfActive("c3", nil) },
		func() { h.ctrl.CloseActiveSession() },
	}
	for i, step := range steps {
		step()
		if active := h.storedActive(t); len(active) > 1 {
			t.Fatalf("step %d: stored active = %v", i, active)
		}
	}
}

func TestConcurrentRequestsActivateExactlyOne(t *testing.T) {
	h := newHarness(t)
	const n = 16
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("a%d", i)
		h.create(t, ids[i], session.TypeAutomation, ids[i])
	}

	results := make([]ControlResult, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i] = h.ctrl.RequestSessionControl(id, session.TypeAutomation, id, nil)
		}()
	}
	close(start)
	wg.Wait()

	activated := ""
	positions := make(map[int]bool)
	for i, res := range results {
		switch res.Status {
		case Activated:
			if activated != "" {
				t.Fatalf("both %s and %s were activated", activated, ids[i])
			}
			activated = ids[i]
		case Queued:
			if positions[res.Position] {
				t.Fatalf("queue position %d handed out twice", res.Position)
			}
			positions[res.Position] = true
		default:
			t.Fatalf("%s: unexpected status %s", ids[i], res.Status)
		}
	}
	if activated == "" {
		t.Fatal("no request was activated")
	}
	for pos := 1; pos < n; pos++ {
		if !positions[pos] {
			t.Fatalf("queue positions = %v, missing %d", positions, pos)
		}
	}

	h.assertActive(t, activated)
	if got := len(h.ctrl.Queue()); got != n-1 {
		t.Fatalf("queue length = %d, want %d", got, n-1)
	}
	if stored := h.storedActive(t); len(stored) != 1 || stored[0] != activated {
		t.Fatalf("stored active = %v, want [%s]", stored, activated)
	}
}

func TestCloseSessionIfActiveIgnoresOthers(t *testing.T) {
	h := newHarness(t)
	h.create(t, "c1", session.TypeChat, "")
	h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)

	if h.ctrl.CloseSessionIfActive("other", nil) {
		t.Fatal("closed a session that is not active")
	}
	if !h.ctrl.CloseSessionIfActive("c1", session.EndReasonPtr(session.EndReasonCompleted)) {
		t.Fatal("expected c1 to be closed")
	}
	h.assertActive(t, "")
}

func TestAutomationActivationStartsRound(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{busy: 2, done: make(chan struct{})}
	h.ctrl.SetRoundRunner(runner)
	h.create(t, "a1", session.TypeAutomation, "daily")

	closed := make(chan string, 1)
	h.ctrl.OnSessionClosed(func(id string) { closed <- id })

	h.ctrl.RequestSessionControl("a1", session.TypeAutomation, "daily", nil)

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("round was not started")
	}
	select {
	case id := <-closed:
		if id != "a1" {
			t.Fatalf("closed %q, want a1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("automation was not closed after its round")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 3 {
		t.Fatalf("round calls = %d, want 3", runner.calls)
	}
	if runner.reason != session.RoundReasonAutomationStart {
		t.Fatalf("reason = %s, want %s", runner.reason, session.RoundReasonAutomationStart)
	}
}

func TestChatActivationDoesNotStartRound(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{}
	h.ctrl.SetRoundRunner(runner)
	h.create(t, "c1", session.TypeChat, "")

	h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)
	h.ctrl.Flush()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 0 {
		t.Fatalf("round calls = %d, want 0", runner.calls)
	}
}

func TestRestore(t *testing.T) {
	tests := []struct {
		name       string
		typ        session.Type
		wantActive string
		wantReason *session.EndReason
	}{
		{name: "chat", typ: session.TypeChat, wantActive: "s1"},
		{name: "automation", typ: session.TypeAutomation, wantActive: "", wantReason: session.EndReasonPtr(session.EndReasonInterrupted)},
		{name: "seed", typ: session.TypeSeed, wantActive: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			automationID := ""
			if tt.typ == session.TypeAutomation {
				automationID = "daily"
			}
			h.create(t, "s1", tt.typ, automationID)
			if err := h.store.SetActive(context.Background(), "s1"); err != nil {
				t.Fatalf("set active: %v", err)
			}

			if err := h.ctrl.Restore(context.Background()); err != nil {
				t.Fatalf("restore: %v", err)
			}
			h.assertActive(t, tt.wantActive)
			h.ctrl.Flush()

			got, err := h.store.Get(context.Background(), "s1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.IsActive != (tt.wantActive != "") {
				t.Fatalf("stored active = %v", got.IsActive)
			}
			if (got.EndReason == nil) != (tt.wantReason == nil) ||
				(got.EndReason != nil && *got.EndReason != *tt.wantReason) {
				t.Fatalf("end reason = %v, want %v", got.EndReason, tt.wantReason)
			}
		})
	}
}

func TestRestoreWithoutActiveSession(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	h.assertActive(t, "")
}

func TestSubscribeReceivesLatestActive(t *testing.T) {
	h := newHarness(t)
	h.create(t, "c1", session.TypeChat, "")

	ch, cancel := h.ctrl.Subscribe()
	defer cancel()
	if got := <-ch; got != "" {
		t.Fatalf("initial value = %q, want empty", got)
	}

	h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)
	if got := <-ch; got != "c1" {
		t.Fatalf("value = %q, want c1", got)
	}
}

func TestUpdateActivityTimestampPersists(t *testing.T) {
	h := newHarness(t)
	h.create(t, "c1", session.TypeChat, "")
	h.ctrl.RequestSessionControl("c1", session.TypeChat, "", nil)

	h.clock.Advance(time.Minute)
	h.ctrl.UpdateActivityTimestamp()
	h.ctrl.Flush()

	got, err := h.store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivity.Equal(h.clock.Now().Truncate(time.Millisecond)) {
		t.Fatalf("last activity = %v, want %v", got.LastActivity, h.clock.Now())
	}

	snap, ok := h.ctrl.ActiveSession()
	if !ok || !snap.LastActivity.Equal(h.clock.Now()) {
		t.Fatalf("snapshot = %+v", snap)
	}
}
