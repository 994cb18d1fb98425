package poller

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulrobello/claude-office/internal/event"
)

func collectEvents(buf int) (EventFunc, chan event.Event) {
	ch := make(chan event.Event, buf)
	return func(e event.Event) { ch <- e }, ch
}

func waitEvent(t *testing.T, ch chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func expectNoEvent(t *testing.T, ch chan event.Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %s agent=%s", e.Type, e.Data.AgentID)
	case <-time.After(100 * time.Millisecond):
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
}

const toolUseLine = `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}]}}`

func newTestTranscriptPoller(t *testing.T) (*TranscriptPoller, chan event.Event) {
	t.Helper()
	emit, ch := collectEvents(32)
	p := NewTranscriptPoller(emit, nil, 10*time.Millisecond, time.Minute)
	t.Cleanup(p.StopAll)
	return p, ch
}

func TestTranscriptStartsAtEndOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	appendLine(t, path, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"old","name":"Read","input":{}}]}}`)

	p, ch := newTestTranscriptPoller(t)
	p.StartPolling("a1", "s1", path)

	appendLine(t, path, toolUseLine)

	evt := waitEvent(t, ch)
	if evt.Type != event.PreToolUse {
		t.Fatalf("Type = %s, want pre_tool_use", evt.Type)
	}
	if evt.Data.ToolName != "Bash" || evt.Data.ToolUseID != "tu_1" {
		t.Errorf("got tool %s id %s, want Bash tu_1", evt.Data.ToolName, evt.Data.ToolUseID)
	}
	if evt.Data.AgentID != "a1" || evt.SessionID != "s1" {
		t.Errorf("attribution wrong: agent=%s session=%s", evt.Data.AgentID, evt.SessionID)
	}
	expectNoEvent(t, ch)
}

func TestTranscriptTaskToolSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	appendLine(t, path, "")

	p, ch := newTestTranscriptPoller(t)
	p.StartPolling("a1", "s1", path)

	appendLine(t, path, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_task","name":"Task","input":{}}]}}`)
	appendLine(t, path, toolUseLine)

	evt := waitEvent(t, ch)
	if evt.Data.ToolName != "Bash" {
		t.Errorf("got tool %s, Task calls should be dropped", evt.Data.ToolName)
	}
}

func TestTranscriptToolResultMatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	appendLine(t, path, "")

	p, ch := newTestTranscriptPoller(t)
	p.StartPolling("a1", "s1", path)

	appendLine(t, path, toolUseLine)
	waitEvent(t, ch)

	// Result for a tool this agent never started is ignored.
	appendLine(t, path, `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"foreign","is_error":false}]}}`)
	appendLine(t, path, `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","is_error":true}]}}`)

	evt := waitEvent(t, ch)
	if evt.Type != event.PostToolUse {
		t.Fatalf("Type = %s, want post_tool_use", evt.Type)
	}
	if evt.Data.ToolUseID != "tu_1" {
		t.Errorf("ToolUseID = %s, want tu_1", evt.Data.ToolUseID)
	}
	if evt.Data.Success == nil || *evt.Data.Success {
		t.Error("is_error result should map to success=false")
	}
	expectNoEvent(t, ch)
}

func TestTranscriptThinkingDeduplicated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	appendLine(t, path, "")

	p, ch := newTestTranscriptPoller(t)
	p.StartPolling("a1", "s1", path)

	thinking := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"thinking","thinking":"considering the options"}]}}`
	appendLine(t, path, thinking)
	appendLine(t, path, thinking)

	evt := waitEvent(t, ch)
	if evt.Type != event.AgentUpdate {
		t.Fatalf("Type = %s, want agent_update", evt.Type)
	}
	if evt.Data.BubbleContent == nil || evt.Data.BubbleContent.Icon != "💭" {
		t.Error("thinking update should carry a thought bubble")
	}
	expectNoEvent(t, ch)
}

func TestTranscriptTextBubbleTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	appendLine(t, path, "")

	p, ch := newTestTranscriptPoller(t)
	p.StartPolling("a1", "s1", path)

	long := ""
	for i := 0; i < 30; i++ {
		long += "0123456789"
	}
	appendLine(t, path, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"`+long+`"}]}}`)

	evt := waitEvent(t, ch)
	if evt.Data.BubbleContent == nil {
		t.Fatal("expected a speech bubble")
	}
	if got := len(evt.Data.BubbleContent.Text); got != bubbleMaxLen {
		t.Errorf("bubble length = %d, want %d", got, bubbleMaxLen)
	}
	if evt.Data.Summary != long {
		t.Error("full text should survive in summary")
	}
}

func TestTranscriptStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	p, _ := newTestTranscriptPoller(t)

	p.StartPolling("a1", "s1", path)
	if !p.IsPolling("a1") {
		t.Fatal("expected polling to be active")
	}

	p.StopPolling("a1")
	if p.IsPolling("a1") {
		t.Fatal("expected polling to be stopped")
	}
	p.StopPolling("a1")
	p.StopPolling("never-started")
}

func TestBubbleText(t *testing.T) {
	got := bubbleText("  line one\nline two  ")
	if got != "line one line two" {
		t.Errorf("bubbleText = %q", got)
	}
}
