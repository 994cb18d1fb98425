package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulrobello/claude-office/internal/config"
	"github.com/paulrobello/claude-office/internal/event"
	"github.com/paulrobello/claude-office/internal/office"
	"github.com/paulrobello/claude-office/internal/store"
	"github.com/paulrobello/claude-office/internal/summary"
)

type captureBroadcaster struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (b *captureBroadcaster) Broadcast(sessionID string, message any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := message.(map[string]any); ok {
		b.msgs = append(b.msgs, m)
	}
}

func (b *captureBroadcaster) byType(typ string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, m := range b.msgs {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func newTestProcessor(t *testing.T) (*Processor, *store.Store, *captureBroadcaster) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.TasksDir = filepath.Join(t.TempDir(), "tasks")

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := &captureBroadcaster{}
	p := New(cfg, st, summary.NewService(nil, false), b)
	t.Cleanup(p.Shutdown)
	return p, st, b
}

func lifecycleEvent(typ event.EventType, sessionID string, data event.Data) event.Event {
	return event.Event{
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Data:      data,
	}
}

func TestProcessEventBroadcastsStateAndEvent(t *testing.T) {
	p, _, b := newTestProcessor(t)
	ctx := context.Background()

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))

	states := b.byType("state_update")
	if len(states) == 0 {
		t.Fatal("expected a state_update broadcast")
	}
	events := b.byType("event")
	if len(events) != 1 {
		t.Fatalf("got %d event broadcasts, want 1", len(events))
	}
	if len(b.byType("error")) != 0 {
		t.Errorf("unexpected error broadcasts: %v", b.byType("error"))
	}
}

func TestSubagentLifecyclePersistsCleanup(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	ctx := context.Background()

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	p.ProcessEvent(ctx, lifecycleEvent(event.SubagentStart, "s1", event.Data{
		AgentID:         "agent-1",
		TaskDescription: "run the tests",
	}))
	p.ProcessEvent(ctx, lifecycleEvent(event.SubagentStop, "s1", event.Data{
		AgentID: "agent-1",
	}))

	rows, err := st.ListEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var hasCleanup bool
	for _, row := range rows {
		if row.Type == string(event.Cleanup) {
			hasCleanup = true
		}
	}
	if !hasCleanup {
		t.Error("subagent_stop should persist a synthetic cleanup event")
	}

	state, err := p.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(state.Agents) != 0 {
		t.Errorf("agent should be gone after stop, got %d", len(state.Agents))
	}
}

func TestLatePolledEventDropped(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	ctx := context.Background()
	transcriptPath := filepath.Join(t.TempDir(), "agent.jsonl")

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	p.ProcessEvent(ctx, lifecycleEvent(event.SubagentStart, "s1", event.Data{
		AgentID:             "agent-1",
		TaskDescription:     "run the tests",
		AgentTranscriptPath: transcriptPath,
	}))
	p.ProcessEvent(ctx, lifecycleEvent(event.SubagentStop, "s1", event.Data{
		AgentID: "agent-1",
	}))

	// A poll loop that was already blocked delivering a batch can call
	// back after the stop completed. The event must not be folded or
	// persisted, or the removed agent comes back as a placeholder.
	p.handlePolledEvent(lifecycleEvent(event.PreToolUse, "s1", event.Data{
		AgentID:  "agent-1",
		ToolName: "Bash",
	}))

	state, err := p.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(state.Agents) != 0 {
		t.Errorf("late polled event resurrected the agent: %+v", state.Agents)
	}

	rows, err := st.ListEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	for _, row := range rows {
		if row.Type == string(event.PreToolUse) {
			t.Error("late polled event should not be persisted")
		}
	}
}

func TestPolledEventForActiveAgentProcessed(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	ctx := context.Background()
	transcriptPath := filepath.Join(t.TempDir(), "agent.jsonl")

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	p.ProcessEvent(ctx, lifecycleEvent(event.SubagentStart, "s1", event.Data{
		AgentID:             "agent-1",
		TaskDescription:     "run the tests",
		AgentTranscriptPath: transcriptPath,
	}))

	p.handlePolledEvent(lifecycleEvent(event.PreToolUse, "s1", event.Data{
		AgentID:  "agent-1",
		ToolName: "Bash",
	}))

	rows, err := st.ListEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var sawToolUse bool
	for _, row := range rows {
		if row.Type == string(event.PreToolUse) {
			sawToolUse = true
		}
	}
	if !sawToolUse {
		t.Error("polled event for an actively watched agent should be persisted")
	}
}

func TestHistoryCappedAtBound(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ctx := context.Background()

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	for i := 1; i <= office.MaxHistory+10; i++ {
		p.ProcessEvent(ctx, lifecycleEvent(event.PreToolUse, "s1", event.Data{
			ToolName: fmt.Sprintf("Tool-%03d", i),
		}))
	}

	state, err := p.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(state.History) != office.MaxHistory {
		t.Fatalf("history length = %d, want %d", len(state.History), office.MaxHistory)
	}

	// 511 events were folded, so the session start and the first ten
	// tool uses fall off the front; the most recent entry survives.
	if !strings.Contains(state.History[0].Summary, "Tool-011") {
		t.Errorf("oldest kept entry = %q, want Tool-011", state.History[0].Summary)
	}
	if !strings.Contains(state.History[len(state.History)-1].Summary, fmt.Sprintf("Tool-%03d", office.MaxHistory+10)) {
		t.Errorf("newest entry = %q", state.History[len(state.History)-1].Summary)
	}
}

func TestSnapshotRestoresFromLog(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	ctx := context.Background()

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	p.ProcessEvent(ctx, lifecycleEvent(event.SubagentStart, "s1", event.Data{
		AgentID: "agent-1",
	}))

	// Fresh processor against the same store simulates a restart.
	cfg := config.Default()
	p2 := New(cfg, st, summary.NewService(nil, false), &captureBroadcaster{})
	defer p2.Shutdown()

	state, err := p2.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state == nil {
		t.Fatal("expected restored state")
	}
	if len(state.Agents) != 1 || state.Agents[0].ID != "agent-1" {
		t.Fatalf("restored agents = %+v, want agent-1", state.Agents)
	}
	if len(state.History) != 2 {
		t.Errorf("restored history length = %d, want 2", len(state.History))
	}
}

func TestSnapshotUnknownSession(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	state, err := p.Snapshot(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state for unknown session, got %+v", state)
	}
}

func TestReplayCapturesEveryStep(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ctx := context.Background()

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	p.ProcessEvent(ctx, lifecycleEvent(event.UserPromptSubmit, "s1", event.Data{
		Prompt: "add a login page",
	}))

	steps, err := p.Replay(ctx, "s1")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Event.Type != event.SessionStart {
		t.Errorf("first step is %s", steps[0].Event.Type)
	}
	if steps[1].State.Boss.CurrentTask == "" {
		t.Error("prompt should set the boss task in the replayed state")
	}
}

func TestUserPromptSetsBossTask(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ctx := context.Background()

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	p.ProcessEvent(ctx, lifecycleEvent(event.UserPromptSubmit, "s1", event.Data{
		Prompt: "fix the login bug",
	}))

	state, err := p.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state.Boss.CurrentTask != "fix the login bug" {
		t.Errorf("CurrentTask = %q", state.Boss.CurrentTask)
	}
	if state.Boss.Bubble == nil || state.Boss.Bubble.Text == "" {
		t.Fatal("prompt should give the boss an acceptance line")
	}
	if state.Boss.Bubble.Text != office.WorkAcceptanceQuote("fix the login bug") {
		t.Errorf("acceptance line = %q, not from the quote pool", state.Boss.Bubble.Text)
	}
}

func TestRemoveSessionDropsState(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ctx := context.Background()

	p.ProcessEvent(ctx, lifecycleEvent(event.SessionStart, "s1", event.Data{}))
	p.RemoveSession("s1")

	p.mu.Lock()
	_, ok := p.sessions["s1"]
	p.mu.Unlock()
	if ok {
		t.Error("session state should be dropped")
	}
}

func TestEventSummary(t *testing.T) {
	ok := true
	tests := []struct {
		name string
		evt  event.Event
		want string
	}{
		{
			"session start",
			lifecycleEvent(event.SessionStart, "s", event.Data{}),
			"Claude Office session started",
		},
		{
			"tool with file path",
			lifecycleEvent(event.PreToolUse, "s", event.Data{
				ToolName:  "Edit",
				ToolInput: map[string]any{"file_path": "/src/main.go"},
			}),
			"Using Edit /src/main.go",
		},
		{
			"long target truncated",
			lifecycleEvent(event.PreToolUse, "s", event.Data{
				ToolName:  "Read",
				ToolInput: map[string]any{"file_path": "/a/very/long/path/that/does/not/fit/main.go"},
			}),
			"Using Read ...h/that/does/not/fit/main.go",
		},
		{
			"subagent stop success",
			lifecycleEvent(event.SubagentStop, "s", event.Data{AgentID: "a1", Success: &ok}),
			"Subagent a1 finished successfully",
		},
		{
			"prompt truncated",
			lifecycleEvent(event.UserPromptSubmit, "s", event.Data{
				Prompt: "please refactor the entire authentication subsystem today",
			}),
			"User: please refactor the entire authentica...",
		},
		{
			"cleanup",
			lifecycleEvent(event.Cleanup, "s", event.Data{AgentID: "a1"}),
			"Agent a1 left the building",
		},
	}

	for _, tt := range tests {
		if got := EventSummary(tt.evt); got != tt.want {
			t.Errorf("%s: EventSummary = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDeriveGitRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "pkg", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	if got := deriveGitRoot(nested); got != root {
		t.Errorf("deriveGitRoot(%q) = %q, want %q", nested, got, root)
	}

	plain := t.TempDir()
	if got := deriveGitRoot(plain); got != plain {
		t.Errorf("non-repo dir should fall back to itself, got %q", got)
	}

	if got := deriveGitRoot(""); got != "" {
		t.Errorf("empty input should yield empty root, got %q", got)
	}
}
