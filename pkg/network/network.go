// Package network tells the round executor whether provider calls can
// reach the internet.
package network

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/logger"
	"assistant/pkg/state"
)

// Checker reports network availability.
type Checker interface {
	Available(ctx context.Context) bool
}

const (
	stateKeyAvailable = "network.available"
	stateKeyCheckedAt = "network.checked_at"
	stateKeyChangedAt = "network.changed_at"
	stateKeyProbes    = "network.probe_count"
)

// Config configures the monitor.
type Config struct {
	Targets  []string      // host:port probed by TCP dial
	Interval time.Duration // probe interval and cache lifetime
	Timeout  time.Duration // per-dial timeout
}

// DialFunc dials one probe target.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Monitor probes the configured targets on a ticker and caches the verdict.
type Monitor struct {
	log      *logger.Logger
	state    state.KV
	targets  []string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc

	mu        sync.RWMutex
	available bool
	checkedAt time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker
	wg     sync.WaitGroup
}

var _ Checker = (*Monitor)(nil)

// New creates a network monitor.
func New(log *logger.Logger, st state.KV, cfg *Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	dialer := &net.Dialer{}
	return &Monitor{
		log:      log,
		state:    st,
		targets:  cfg.Targets,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		dial:     dialer.DialContext,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetDialFunc replaces the dialer.
func (m *Monitor) SetDialFunc(dial DialFunc) {
	m.dial = dial
}

// Start probes once and then on every interval.
func (m *Monitor) Start() error {
	m.log.Info("Starting network monitor",
		zap.Strings("targets", m.targets),
		zap.Duration("interval", m.interval))

	m.Probe(m.ctx)
	m.ticker = time.NewTicker(m.interval)

	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop stops the probe loop.
func (m *Monitor) Stop() error {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Monitor) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ticker.C:
			m.Probe(m.ctx)
		case <-m.ctx.Done():
			return
		}
	}
}

// Available returns the cached verdict, probing when it is older than the
// interval.
func (m *Monitor) Available(ctx context.Context) bool {
	m.mu.RLock()
	fresh := !m.checkedAt.IsZero() && time.Since(m.checkedAt) < m.interval
	available := m.available
	m.mu.RUnlock()

	if fresh {
		return available
	}
	return m.Probe(ctx)
}

// Probe dials the targets until one answers and records the verdict.
func (m *Monitor) Probe(ctx context.Context) bool {
	available := len(m.targets) == 0
	for _, target := range m.targets {
		dctx, cancel := context.WithTimeout(ctx, m.timeout)
		conn, err := m.dial(dctx, "tcp", target)
		cancel()
		if err == nil {
			_ = conn.Close()
			available = true
			break
		}
		m.log.Debug("Network probe failed", zap.String("target", target), zap.Error(err))
	}

	now := time.Now()
	m.mu.Lock()
	changed := m.checkedAt.IsZero() || m.available != available
	m.available = available
	m.checkedAt = now
	m.mu.Unlock()

	m.record(available, changed, now)
	if changed {
		m.log.Info("Network availability changed", zap.Bool("available", available))
	}
	return available
}

func (m *Monitor) record(available, changed bool, now time.Time) {
	if m.state == nil {
		return
	}
	ctx := context.Background()
	ts := now.Format(time.RFC3339)

	if err := m.state.Set(ctx, stateKeyAvailable, available); err != nil {
		m.log.Warn("Failed to record network state", zap.Error(err))
		return
	}
	_ = m.state.Set(ctx, stateKeyCheckedAt, ts)
	if changed {
		_ = m.state.Set(ctx, stateKeyChangedAt, ts)
	}
	_ = m.state.UpdateFunc(ctx, stateKeyProbes, func(current any) any {
		if count, ok := current.(float64); ok {
			return int(count) + 1
		}
		return 1
	})
}

// GetStats returns monitor statistics.
func (m *Monitor) GetStats() map[string]any {
	ctx := context.Background()

	m.mu.RLock()
	stats := map[string]any{
		"available":  m.available,
		"checked_at": m.checkedAt,
		"targets":    m.targets,
		"interval":   m.interval.String(),
	}
	m.mu.RUnlock()

	if m.state != nil {
		if changedAt, ok, _ := m.state.GetString(ctx, stateKeyChangedAt); ok {
			stats["changed_at"] = changedAt
		}
		if probes, ok, _ := m.state.GetInt(ctx, stateKeyProbes); ok {
			stats["probe_count"] = probes
		}
	}
	return stats
}

// Always is a Checker that always reports the network as available.
type Always struct{}

// Available implements Checker.
func (Always) Available(context.Context) bool { return true }
