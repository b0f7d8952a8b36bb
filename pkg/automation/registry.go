// Package automation schedules AUTOMATION sessions from definitions kept
// in a YAML file.
package automation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"assistant/pkg/logger"
)

// ErrNotFound is returned for an unknown automation id.
var ErrNotFound = errors.New("automation not found")

// Definition describes one scheduled automation.
type Definition struct {
	ID                    string    `yaml:"id" json:"id"`
	Name                  string    `yaml:"name" json:"name"`
	Schedule              string    `yaml:"schedule" json:"schedule"` // standard 5-field cron or @descriptor
	Prompt                string    `yaml:"prompt" json:"prompt"`
	ProviderID            string    `yaml:"provider_id,omitempty" json:"provider_id,omitempty"`
	RequireValidation     bool      `yaml:"require_validation" json:"require_validation"`
	DismissOlderInstances bool      `yaml:"dismiss_older_instances" json:"dismiss_older_instances"`
	Enabled               bool      `yaml:"enabled" json:"enabled"`
	CreatedAt             time.Time `yaml:"created_at" json:"created_at"`
}

type definitionsFile struct {
	Automations []*Definition `yaml:"automations"`
}

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a definition schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Validate checks a definition before it is stored.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("automation name is required")
	}
	if strings.TrimSpace(d.Prompt) == "" {
		return fmt.Errorf("automation prompt is required")
	}
	_, err := ParseSchedule(d.Schedule)
	return err
}

// Registry holds the automation definitions and persists them as YAML.
type Registry struct {
	log  *logger.Logger
	path string

	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates a registry backed by path. Call Load to read it.
func NewRegistry(log *logger.Logger, path string) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		log:  log,
		path: path,
		defs: make(map[string]*Definition),
	}
}

// Load replaces the definitions with the file contents. A missing file
// is an empty registry.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read automations: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse automations: %w", err)
	}

	defs := make(map[string]*Definition, len(file.Automations))
	for _, d := range file.Automations {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if err := d.Validate(); err != nil {
			r.log.Warn("Skipping invalid automation", zap.String("automation_id", d.ID), zap.Error(err))
			continue
		}
		defs[d.ID] = d
	}

	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()

	r.log.Info("Loaded automations", zap.Int("count", len(defs)))
	return nil
}

// save writes the definitions through a temp file and rename.
// Caller must hold r.mu.
func (r *Registry) save() error {
	file := definitionsFile{Automations: r.sortedLocked()}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encode automations: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create automations dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write automations: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace automations: %w", err)
	}
	return nil
}

func (r *Registry) sortedLocked() []*Definition {
	defs := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Get returns a copy of the definition.
func (r *Registry) Get(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *d, nil
}

// List returns copies of every definition, ordered by id.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedLocked()
	out := make([]Definition, 0, len(sorted))
	for _, d := range sorted {
		out = append(out, *d)
	}
	return out
}

// Add stores a new definition and returns it with its id set.
func (r *Registry) Add(d Definition) (Definition, error) {
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[d.ID]; exists {
		return Definition{}, fmt.Errorf("automation %s already exists", d.ID)
	}
	r.defs[d.ID] = &d
	if err := r.save(); err != nil {
		delete(r.defs, d.ID)
		return Definition{}, err
	}
	return d, nil
}

// Remove deletes a definition.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.defs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.defs, id)
	if err := r.save(); err != nil {
		r.defs[id] = d
		return err
	}
	return nil
}

// SetEnabled turns a definition on or off.
func (r *Registry) SetEnabled(id string, enabled bool) (Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if d.Enabled == enabled {
		return *d, nil
	}
	d.Enabled = enabled
	if err := r.save(); err != nil {
		d.Enabled = !enabled
		return Definition{}, err
	}
	return *d, nil
}

// DismissOlderInstances reports whether queued older runs of the
// automation are dropped when a newer run is queued.
func (r *Registry) DismissOlderInstances(automationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[automationID]
	return ok && d.DismissOlderInstances
}
