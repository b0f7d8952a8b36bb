package network

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"assistant/pkg/logger"
	"assistant/pkg/state"
)

func newTestMonitor(t *testing.T, targets []string, interval time.Duration) (*Monitor, state.KV) {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	kv, err := state.NewFileStore(log, filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}
	return New(log, kv, &Config{Targets: targets, Interval: interval, Timeout: time.Second}), kv
}

func TestProbeAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	m, kv := newTestMonitor(t, []string{ln.Addr().String()}, time.Minute)
	if !m.Probe(context.Background()) {
		t.Fatalf("expected network available")
	}

	ctx := context.Background()
	if v, ok, _ := kv.Get(ctx, stateKeyAvailable); !ok || v != true {
		t.Fatalf("verdict not recorded: %v", v)
	}
	if _, ok, _ := kv.GetString(ctx, stateKeyChangedAt); !ok {
		t.Fatalf("transition time not recorded")
	}
}

func TestAvailableCachesVerdict(t *testing.T) {
	m, _ := newTestMonitor(t, []string{"probe:1"}, time.Hour)

	var dials atomic.Int32
	var up atomic.Bool
	m.SetDialFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		dials.Add(1)
		if up.Load() {
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		}
		return nil, errors.New("unreachable")
	})

	if m.Available(context.Background()) {
		t.Fatalf("expected unavailable")
	}
	up.Store(true)
	if m.Available(context.Background()) {
		t.Fatalf("cached verdict must be reused within the interval")
	}
	if dials.Load() != 1 {
		t.Fatalf("expected one dial, got %d", dials.Load())
	}
	if !m.Probe(context.Background()) {
		t.Fatalf("explicit probe must refresh the verdict")
	}
}

func TestNoTargetsMeansAvailable(t *testing.T) {
	m, _ := newTestMonitor(t, nil, time.Minute)
	if !m.Available(context.Background()) {
		t.Fatalf("no probe targets must mean available")
	}
}

func TestStartStop(t *testing.T) {
	m, _ := newTestMonitor(t, nil, 10*time.Millisecond)
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	probes, _ := m.GetStats()["probe_count"].(int)
	if probes < 2 {
		t.Fatalf("expected several probes, got %d", probes)
	}
}
