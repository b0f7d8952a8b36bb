package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"assistant/pkg/controller"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/session"
	"assistant/pkg/state"
)

// StatsKeyPrefix prefixes the run statistics keys in the state store.
const StatsKeyPrefix = "automation:stats:"

// ControlRequester asks the session controller for control.
type ControlRequester interface {
	RequestSessionControl(sessionID string, t session.Type, automationID string, scheduled *time.Time) controller.ControlResult
}

// Stats are the run statistics of one automation.
type Stats struct {
	RunCount      int       `json:"run_count"`
	LastRun       time.Time `json:"last_run"`
	LastSessionID string    `json:"last_session_id"`
	LastStatus    string    `json:"last_status"`
	LastError     string    `json:"last_error,omitempty"`
}

// Entry is a definition with its next fire time.
type Entry struct {
	Definition
	NextRun *time.Time `json:"next_run,omitempty"`
}

// Fired is the outcome of one automation run.
type Fired struct {
	SessionID string                   `json:"session_id"`
	Scheduled time.Time                `json:"scheduled"`
	Control   controller.ControlResult `json:"control"`
}

// Scheduler fires automations on their cron schedules. Each run creates an
// AUTOMATION session holding the prompt and requests control for it.
type Scheduler struct {
	log      *logger.Logger
	registry *Registry
	store    session.Store
	msgs     *messages.Storage
	control  ControlRequester
	kv       state.KV
	now      func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

// NewScheduler creates a scheduler. Start loads the registry.
func NewScheduler(log *logger.Logger, registry *Registry, store session.Store, msgs *messages.Storage, control ControlRequester, kv state.KV) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		log:      log,
		registry: registry,
		store:    store,
		msgs:     msgs,
		control:  control,
		kv:       kv,
		now:      time.Now,
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.Recover(cronLogger{log})),
			cron.WithLogger(cronLogger{log}),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads the definitions and schedules the enabled ones.
func (s *Scheduler) Start() error {
	s.log.Info("Starting automation scheduler")

	if err := s.registry.Load(); err != nil {
		s.log.Warn("Failed to load automations", zap.Error(err))
	}

	s.mu.Lock()
	for _, d := range s.registry.List() {
		if !d.Enabled {
			continue
		}
		if err := s.scheduleLocked(d); err != nil {
			s.log.Error("Failed to schedule automation",
				zap.String("automation_id", d.ID),
				zap.Error(err))
		}
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	return nil
}

// Stop stops firing and waits for running fires to finish.
func (s *Scheduler) Stop() error {
	s.log.Info("Stopping automation scheduler")

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// Add stores a definition and schedules it when enabled.
func (s *Scheduler) Add(d Definition) (Definition, error) {
	d, err := s.registry.Add(d)
	if err != nil {
		return Definition{}, err
	}
	if d.Enabled {
		s.mu.Lock()
		err = s.scheduleLocked(d)
		s.mu.Unlock()
		if err != nil {
			return Definition{}, fmt.Errorf("schedule automation: %w", err)
		}
	}
	s.log.Info("Added automation",
		zap.String("automation_id", d.ID),
		zap.String("name", d.Name),
		zap.String("schedule", d.Schedule))
	return d, nil
}

// Remove unschedules and deletes a definition.
func (s *Scheduler) Remove(id string) error {
	if err := s.registry.Remove(id); err != nil {
		return err
	}
	s.mu.Lock()
	s.unscheduleLocked(id)
	s.mu.Unlock()
	return nil
}

// SetEnabled turns scheduling of a definition on or off.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	d, err := s.registry.SetEnabled(id, enabled)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !enabled {
		s.unscheduleLocked(id)
		return nil
	}
	return s.scheduleLocked(d)
}

// List returns every definition with its next fire time.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	defs := s.registry.List()
	out := make([]Entry, 0, len(defs))
	for _, d := range defs {
		e := Entry{Definition: d}
		if entryID, ok := s.entries[d.ID]; ok {
			entry := s.cron.Entry(entryID)
			next := entry.Next
			// cron computes Next once it is running.
			if next.IsZero() && entry.Schedule != nil {
				next = entry.Schedule.Next(s.now())
			}
			if !next.IsZero() {
				e.NextRun = &next
			}
		}
		out = append(out, e)
	}
	return out
}

// Trigger fires an automation now, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, id string) (*Fired, error) {
	d, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, d, s.now())
}

// Stats returns the run statistics of an automation.
func (s *Scheduler) Stats(ctx context.Context, id string) (Stats, error) {
	var st Stats
	v, ok, err := s.kv.Get(ctx, StatsKeyPrefix+id)
	if err != nil || !ok {
		return st, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

// scheduleLocked registers d with cron. Caller must hold s.mu.
func (s *Scheduler) scheduleLocked(d Definition) error {
	sched, err := ParseSchedule(d.Schedule)
	if err != nil {
		return err
	}
	s.unscheduleLocked(d.ID)

	job := &scheduledJob{s: s, id: d.ID, schedule: sched, next: sched.Next(s.now())}
	s.entries[d.ID] = s.cron.Schedule(sched, job)
	return nil
}

func (s *Scheduler) unscheduleLocked(id string) {
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire creates the session of one run and requests control for it.
func (s *Scheduler) fire(ctx context.Context, d Definition, scheduled time.Time) (*Fired, error) {
	log := s.log.WithFields(zap.String("automation_id", d.ID), zap.Time("scheduled", scheduled))

	sess := &session.Session{
		ID:                     uuid.NewString(),
		Name:                   fmt.Sprintf("%s (%s)", d.Name, scheduled.Format("2006-01-02 15:04")),
		Type:                   session.TypeAutomation,
		AutomationID:           d.ID,
		ScheduledExecutionTime: &scheduled,
		ProviderID:             d.ProviderID,
		RequireValidation:      d.RequireValidation,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		s.recordRun(ctx, d.ID, "", "failed", err)
		return nil, fmt.Errorf("create automation session: %w", err)
	}
	if _, err := s.msgs.StoreUserText(ctx, sess.ID, d.Prompt); err != nil {
		s.recordRun(ctx, d.ID, sess.ID, "failed", err)
		return nil, fmt.Errorf("store automation prompt: %w", err)
	}

	res := s.control.RequestSessionControl(sess.ID, session.TypeAutomation, d.ID, &scheduled)
	log.Info("Automation fired",
		zap.String("session_id", sess.ID),
		zap.String("control", res.Status.String()),
		zap.Int("position", res.Position))
	s.recordRun(ctx, d.ID, sess.ID, res.Status.String(), nil)

	return &Fired{SessionID: sess.ID, Scheduled: scheduled, Control: res}, nil
}

func (s *Scheduler) recordRun(ctx context.Context, id, sessionID, status string, runErr error) {
	if s.kv == nil {
		return
	}
	err := s.kv.UpdateFunc(ctx, StatsKeyPrefix+id, func(current any) any {
		var st Stats
		if current != nil {
			if data, err := json.Marshal(current); err == nil {
				_ = json.Unmarshal(data, &st)
			}
		}
		st.RunCount++
		st.LastRun = s.now()
		st.LastSessionID = sessionID
		st.LastStatus = status
		st.LastError = ""
		if runErr != nil {
			st.LastError = runErr.Error()
		}
		return st
	})
	if err != nil {
		s.log.Warn("Failed to record automation run", zap.String("automation_id", id), zap.Error(err))
	}
}

// scheduledJob tracks the fire time cron is due for, so a run carries its
// scheduled time rather than the moment it started.
type scheduledJob struct {
	s        *Scheduler
	id       string
	schedule cron.Schedule

	mu   sync.Mutex
	next time.Time
}

func (j *scheduledJob) Run() {
	now := j.s.now()

	j.mu.Lock()
	at := j.next
	if at.IsZero() || at.After(now) {
		at = now.Truncate(time.Second)
	}
	j.next = j.schedule.Next(now)
	j.mu.Unlock()

	j.s.mu.Lock()
	running := j.s.running
	j.s.mu.Unlock()
	if !running {
		return
	}

	d, err := j.s.registry.Get(j.id)
	if err != nil || !d.Enabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := j.s.fire(ctx, d, at); err != nil {
		j.s.log.Error("Automation run failed", zap.String("automation_id", j.id), zap.Error(err))
	}
}

// cronLogger routes robfig/cron logs to zap.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}
