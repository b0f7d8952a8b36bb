package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"assistant/pkg/automation"
	"assistant/pkg/session"
)

func TestPrintMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  *session.Message
		want string
	}{
		{
			name: "ai with actions",
			msg: &session.Message{Sender: session.SenderAI, AIMessage: &session.AIMessage{
				PreText:        "Turning the lights off.",
				ActionCommands: []session.DataCommand{{Type: "LIGHTS_OFF"}},
			}},
			want: "Turning the lights off.\n   ↳ 1 action(s) requested",
		},
		{
			name: "ai plain text",
			msg:  &session.Message{Sender: session.SenderAI, TextContent: "not json"},
			want: "not json",
		},
		{
			name: "system summary",
			msg: &session.Message{Sender: session.SenderSystem, SystemMessage: &session.SystemMessage{
				Type:    session.SystemDataAdded,
				Summary: "2 results added",
			}},
			want: "[data_added] 2 results added",
		},
		{
			name: "pending fallback hidden",
			msg: &session.Message{Sender: session.SenderSystem, SystemMessage: &session.SystemMessage{
				Type:    session.SystemInteractionPending,
				Summary: "waiting",
			}},
			want: "",
		},
		{
			name: "user not echoed",
			msg:  &session.Message{Sender: session.SenderUser, TextContent: "hello"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printMessage(&buf, tt.msg)
			got := buf.String()
			if tt.want == "" {
				if got != "" {
					t.Fatalf("expected no output, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Fatalf("expected output to contain %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDescribeModule(t *testing.T) {
	tests := []struct {
		name   string
		module *session.CommunicationModule
		want   string
	}{
		{"nil", nil, "waiting for your answer"},
		{"question", &session.CommunicationModule{Type: "text", Data: map[string]any{"question": "Which room?"}}, "Which room?"},
		{"no data", &session.CommunicationModule{Type: "date"}, "asks for a date"},
		{"other data", &session.CommunicationModule{Type: "choice", Data: map[string]any{"options": []string{"a", "b"}}}, `choice {"options":["a","b"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeModule(tt.module); !strings.Contains(got, tt.want) {
				t.Fatalf("describeModule() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestPlainReader(t *testing.T) {
	var out bytes.Buffer
	r := newPlainReader(strings.NewReader("first\r\nlast"), &out)

	line, err := r.ReadLine("> ")
	if err != nil || line != "first" {
		t.Fatalf("first line = %q, %v", line, err)
	}
	line, err = r.ReadLine("> ")
	if err != nil || line != "last" {
		t.Fatalf("unterminated last line = %q, %v", line, err)
	}
	if _, err := r.ReadLine("> "); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if out.String() != "> > > " {
		t.Fatalf("unexpected prompts %q", out.String())
	}
}

func TestPrintSessions(t *testing.T) {
	reason := session.EndReasonSuspended
	var buf bytes.Buffer
	printSessions(&buf, []*session.Session{
		{ID: "s1", Name: "A very long session name that gets cut", Type: session.TypeChat, State: session.StateIdle, IsActive: true},
		{ID: "s2", Name: "Digest", Type: session.TypeAutomation, State: session.StateIdle, EndReason: &reason},
	})

	out := buf.String()
	for _, want := range []string{"s1", "A very long session n...", "SUSPENDED", "AUTOMATION"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestPrintAutomations(t *testing.T) {
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.Local)
	var buf bytes.Buffer
	printAutomations(&buf, []automation.Definition{
		{ID: "a1", Name: "Morning", Schedule: "0 7 * * *", Enabled: true, DismissOlderInstances: true},
		{ID: "a2", Name: "Paused", Schedule: "@daily", Enabled: false},
	}, now)

	out := buf.String()
	for _, want := range []string{"Automations (2)", "2026-03-01 07:00", "dismiss-older", "no"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
