package dedup

import (
	"reflect"
	"testing"

	"assistant/pkg/session"
)

func cmd(typ string, params map[string]any) session.DataCommand {
	return session.DataCommand{Type: typ, Params: params}
}

func TestHashIgnoresParamOrderAndID(t *testing.T) {
	a := session.DataCommand{ID: "1", Type: "TOOL_DATA", Params: map[string]any{"zone": "home", "limit": 10}}
	b := session.DataCommand{ID: "2", Type: "TOOL_DATA", Params: map[string]any{"limit": 10.0, "zone": "home"}}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected identical hashes, got %s and %s", ha, hb)
	}

	b.IsRelative = true
	hc, _ := Hash(b)
	if hc == ha {
		t.Fatalf("isRelative must be part of the identity")
	}
}

func TestRemoveIdenticalCommandsKeepsFirstSeenOrder(t *testing.T) {
	in := []session.DataCommand{
		cmd("A", map[string]any{"x": 1}),
		cmd("B", nil),
		cmd("A", map[string]any{"x": 1}),
		cmd("C", nil),
		cmd("B", nil),
	}
	out := RemoveIdenticalCommands(in)

	var types []string
	for _, c := range out {
		types = append(types, c.Type)
	}
	if !reflect.DeepEqual(types, []string{"A", "B", "C"}) {
		t.Fatalf("unexpected order: %v", types)
	}
}

func TestRangeInclusion(t *testing.T) {
	d := New()
	tests := []struct {
		name     string
		general  session.DataCommand
		specific session.DataCommand
		want     bool
	}{
		{
			name:     "wider numeric range covers narrower",
			general:  cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 100, "endTime": 500}),
			specific: cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 200, "endTime": 300}),
			want:     true,
		},
		{
			name:     "narrower does not cover wider",
			general:  cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 200, "endTime": 300}),
			specific: cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 100, "endTime": 500}),
			want:     false,
		},
		{
			name:     "iso timestamps",
			general:  cmd("TOOL_DATA", map[string]any{"from": "2026-01-01", "to": "2026-12-31"}),
			specific: cmd("TOOL_DATA", map[string]any{"from": "2026-03-01", "to": "2026-03-31"}),
			want:     true,
		},
		{
			name:     "unbounded general covers",
			general:  cmd("TOOL_DATA", map[string]any{"toolId": "t1"}),
			specific: cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 1, "endTime": 2}),
			want:     true,
		},
		{
			name:     "different dataset",
			general:  cmd("TOOL_DATA", map[string]any{"toolId": "t1"}),
			specific: cmd("TOOL_DATA", map[string]any{"toolId": "t2"}),
			want:     false,
		},
		{
			name:     "different type",
			general:  cmd("TOOL_DATA", nil),
			specific: cmd("ZONE_DATA", nil),
			want:     false,
		},
		{
			name:     "bounded general does not cover open specific",
			general:  cmd("TOOL_DATA", map[string]any{"startTime": 1}),
			specific: cmd("TOOL_DATA", map[string]any{}),
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Covers(tt.general, tt.specific); got != tt.want {
				t.Fatalf("Covers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelativeAndAbsoluteNeverCover(t *testing.T) {
	d := New()
	general := cmd("TOOL_DATA", nil)
	specific := cmd("TOOL_DATA", map[string]any{"startTime": 1})
	specific.IsRelative = true
	if d.Covers(general, specific) {
		t.Fatalf("relative and absolute commands must not cover each other")
	}
}

func TestRemoveIncludedOnlyPrunesLaterCommands(t *testing.T) {
	d := New()
	narrow := cmd("TOOL_DATA", map[string]any{"startTime": 2, "endTime": 3})
	wide := cmd("TOOL_DATA", map[string]any{"startTime": 1, "endTime": 4})
	narrower := cmd("TOOL_DATA", map[string]any{"startTime": 2, "endTime": 2})

	out := d.RemoveIncludedCommands([]session.DataCommand{narrow, wide, narrower})
	if len(out) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(out))
	}
	if !reflect.DeepEqual(out[0], narrow) || !reflect.DeepEqual(out[1], wide) {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestCustomRule(t *testing.T) {
	d := New(WithRule("MEMORY_LIST", PrefixRule))
	all := cmd("MEMORY_LIST", map[string]any{"prefix": "user."})
	sub := cmd("MEMORY_LIST", map[string]any{"prefix": "user.pref."})
	other := cmd("MEMORY_LIST", map[string]any{"prefix": "team."})

	out := d.Deduplicate([]session.DataCommand{all, sub, other})
	if len(out) != 2 || out[1].Params["prefix"] != "team." {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestPrefixRule(t *testing.T) {
	general := cmd("MEMORY_LIST", map[string]any{"prefix": "user."})
	tests := []struct {
		name     string
		specific session.DataCommand
		want     bool
	}{
		{"narrower prefix", cmd("MEMORY_LIST", map[string]any{"prefix": "user.pref."}), true},
		{"key under prefix", cmd("MEMORY_LIST", map[string]any{"key": "user.name"}), true},
		{"key outside prefix", cmd("MEMORY_LIST", map[string]any{"key": "team.name"}), false},
		{"no prefix or key", cmd("MEMORY_LIST", map[string]any{"limit": 5}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrefixRule(general, tt.specific); got != tt.want {
				t.Fatalf("PrefixRule() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	d := New()
	in := []session.DataCommand{
		cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 1, "endTime": 10}),
		cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 2, "endTime": 5}),
		cmd("TOOL_DATA", map[string]any{"toolId": "t1", "startTime": 1, "endTime": 10}),
		cmd("ZONE_DATA", map[string]any{"zone": "z"}),
		cmd("TOOL_DATA", map[string]any{"toolId": "t2"}),
		cmd("ZONE_DATA", map[string]any{"zone": "z"}),
	}

	once := d.Deduplicate(in)
	twice := d.Deduplicate(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("not idempotent:\nonce  %+v\ntwice %+v", once, twice)
	}
	if len(once) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(once))
	}

	identicalOnce := RemoveIdenticalCommands(in)
	if !reflect.DeepEqual(identicalOnce, RemoveIdenticalCommands(identicalOnce)) {
		t.Fatalf("RemoveIdenticalCommands is not idempotent")
	}
}
