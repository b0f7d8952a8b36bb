package automation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"assistant/pkg/controller"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/session"
	"assistant/pkg/state"
	"assistant/pkg/storage"
)

type controlCall struct {
	sessionID    string
	automationID string
	scheduled    time.Time
}

type fakeControl struct {
	mu    sync.Mutex
	calls []controlCall
}

func (f *fakeControl) RequestSessionControl(sessionID string, t session.Type, automationID string, scheduled *time.Time) controller.ControlResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := controlCall{sessionID: sessionID, automationID: automationID}
	if scheduled != nil {
		call.scheduled = *scheduled
	}
	f.calls = append(f.calls, call)
	return controller.ControlResult{Status: controller.Queued, Position: len(f.calls)}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log
}

func TestRegistryPersistsDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automations.yaml")
	reg := NewRegistry(testLogger(t), path)

	added, err := reg.Add(Definition{
		Name:                  "Morning digest",
		Schedule:              "0 7 * * *",
		Prompt:                "Summarize yesterday",
		DismissOlderInstances: true,
		Enabled:               true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("expected an id")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(data), "Morning digest") {
		t.Fatalf("definition not written:\n%s", data)
	}

	reloaded := NewRegistry(testLogger(t), path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := reloaded.Get(added.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Schedule != "0 7 * * *" || !got.Enabled {
		t.Fatalf("unexpected definition: %+v", got)
	}
	if !reloaded.DismissOlderInstances(added.ID) {
		t.Fatal("expected dismiss flag")
	}
	if reloaded.DismissOlderInstances("missing") {
		t.Fatal("unknown automation must not dismiss")
	}

	if err := reloaded.Remove(added.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := reloaded.Get(added.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistryLoadSkipsInvalidDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automations.yaml")
	content := `automations:
  - id: good
    name: Good
    schedule: "@hourly"
    prompt: check
    enabled: true
  - id: bad
    name: Bad
    schedule: "every now and then"
    prompt: check
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg := NewRegistry(testLogger(t), path)
	if err := reg.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	defs := reg.List()
	if len(defs) != 1 || defs[0].ID != "good" {
		t.Fatalf("definitions = %+v, want only good", defs)
	}
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{name: "valid", def: Definition{Name: "a", Prompt: "p", Schedule: "*/5 * * * *"}, ok: true},
		{name: "descriptor", def: Definition{Name: "a", Prompt: "p", Schedule: "@daily"}, ok: true},
		{name: "missing name", def: Definition{Prompt: "p", Schedule: "@daily"}},
		{name: "missing prompt", def: Definition{Name: "a", Schedule: "@daily"}},
		{name: "seconds field", def: Definition{Name: "a", Prompt: "p", Schedule: "0 0 7 * * *"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

type schedulerHarness struct {
	sched   *Scheduler
	store   *storage.Store
	control *fakeControl
}

func newSchedulerHarness(t *testing.T) *schedulerHarness {
	t.Helper()
	log := testLogger(t)
	dir := t.TempDir()

	store, err := storage.Open(context.Background(), filepath.Join(dir, "test.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	kv, err := state.NewFileStore(log, filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() {
		_ = kv.Close()
		_ = store.Close()
	})

	control := &fakeControl{}
	reg := NewRegistry(log, filepath.Join(dir, "automations.yaml"))
	sched := NewScheduler(log, reg, store, messages.New(store, nil, nil, nil, log), control, kv)
	return &schedulerHarness{sched: sched, store: store, control: control}
}

func TestTriggerCreatesAutomationSession(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()

	def, err := h.sched.Add(Definition{
		Name:              "Digest",
		Schedule:          "@daily",
		Prompt:            "Summarize the news",
		ProviderID:        "anthropic",
		RequireValidation: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	fired, err := h.sched.Trigger(ctx, def.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if fired.Control.Status != controller.Queued {
		t.Fatalf("control = %+v", fired.Control)
	}

	sess, err := h.store.Get(ctx, fired.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Type != session.TypeAutomation || sess.AutomationID != def.ID {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.RequireValidation || sess.ProviderID != "anthropic" {
		t.Fatalf("definition settings not copied: %+v", sess)
	}
	if sess.ScheduledExecutionTime == nil {
		t.Fatal("scheduled time not set")
	}

	msgs, err := h.store.ListMessages(ctx, fired.SessionID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != session.SenderUser || msgs[0].TextContent != "Summarize the news" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	if len(h.control.calls) != 1 || h.control.calls[0].sessionID != fired.SessionID || h.control.calls[0].automationID != def.ID {
		t.Fatalf("control calls = %+v", h.control.calls)
	}

	stats, err := h.sched.Stats(ctx, def.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.RunCount != 1 || stats.LastSessionID != fired.SessionID || stats.LastStatus != "QUEUED" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTriggerUnknownAutomation(t *testing.T) {
	h := newSchedulerHarness(t)
	if _, err := h.sched.Trigger(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestScheduledRunCarriesScheduledTime(t *testing.T) {
	h := newSchedulerHarness(t)
	base := time.Date(2026, 3, 1, 6, 59, 30, 0, time.UTC)
	now := base
	h.sched.now = func() time.Time { return now }

	def, err := h.sched.Add(Definition{Name: "Digest", Schedule: "0 7 * * *", Prompt: "go", Enabled: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	h.sched.running = true

	sched, _ := ParseSchedule(def.Schedule)
	job := &scheduledJob{s: h.sched, id: def.ID, schedule: sched, next: sched.Next(base)}

	now = base.Add(45 * time.Second)
	job.Run()

	if len(h.control.calls) != 1 {
		t.Fatalf("control calls = %d, want 1", len(h.control.calls))
	}
	want := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	if got := h.control.calls[0].scheduled; !got.Equal(want) {
		t.Fatalf("scheduled = %v, want %v", got, want)
	}
	if !job.next.Equal(want.Add(24 * time.Hour)) {
		t.Fatalf("next = %v", job.next)
	}
}

func TestDisabledAutomationIsNotScheduled(t *testing.T) {
	h := newSchedulerHarness(t)

	def, err := h.sched.Add(Definition{Name: "Digest", Schedule: "@hourly", Prompt: "go", Enabled: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if entries := h.sched.List(); len(entries) != 1 || entries[0].NextRun == nil {
		t.Fatalf("entries = %+v, want one scheduled", entries)
	}

	if err := h.sched.SetEnabled(def.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if entries := h.sched.List(); entries[0].NextRun != nil || entries[0].Enabled {
		t.Fatalf("entry still scheduled: %+v", entries[0])
	}

	if err := h.sched.Remove(def.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(h.sched.List()) != 0 {
		t.Fatal("expected no entries")
	}
}
