// Package processor orchestrates the event pipeline: persist, fold
// into the session state machine, broadcast, then run the follow-up
// actions an event implies (pollers, transcript extraction, AI
// summaries).
package processor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/paulrobello/claude-office/internal/config"
	"github.com/paulrobello/claude-office/internal/event"
	"github.com/paulrobello/claude-office/internal/office"
	"github.com/paulrobello/claude-office/internal/poller"
	"github.com/paulrobello/claude-office/internal/store"
	"github.com/paulrobello/claude-office/internal/summary"
	"github.com/paulrobello/claude-office/internal/transcript"
)

// Broadcaster pushes a JSON-serializable message to every client
// watching a session.
type Broadcaster interface {
	Broadcast(sessionID string, message any)
}

// Processor owns the in-memory state machines and drives the full
// event pipeline. A single mutex serializes all state mutation, so
// events for a session apply in arrival order and poller callbacks
// cannot interleave mid-event.
type Processor struct {
	mu       sync.Mutex
	sessions map[string]*office.StateMachine

	cfg         *config.Config
	store       *store.Store
	summarizer  *summary.Service
	broadcaster Broadcaster
	transcripts *poller.TranscriptPoller
	tasks       *poller.TaskFilePoller
}

func New(cfg *config.Config, st *store.Store, summarizer *summary.Service, b Broadcaster) *Processor {
	p := &Processor{
		sessions:    make(map[string]*office.StateMachine),
		cfg:         cfg,
		store:       st,
		summarizer:  summarizer,
		broadcaster: b,
	}
	p.transcripts = poller.NewTranscriptPoller(
		p.handlePolledEvent,
		cfg.TranslatePath,
		cfg.Poll.Interval,
		cfg.Poll.TranscriptTimeout,
	)
	p.tasks = poller.NewTaskFilePoller(
		p.handleTodos,
		cfg.TasksDirFor,
		cfg.Poll.Interval,
		cfg.Poll.TaskTimeout,
	)
	return p
}

// Shutdown stops all background polling.
func (p *Processor) Shutdown() {
	p.transcripts.StopAll()
	p.tasks.StopAll()
}

// ProcessEvent runs the full pipeline for one event. Failures are
// reported to watching clients instead of being swallowed.
func (p *Processor) ProcessEvent(ctx context.Context, evt event.Event) {
	log.Printf("processing %s session=%s agent=%s", evt.Type, evt.SessionID, evt.Data.AgentID)

	if err := p.processEvent(ctx, evt); err != nil {
		log.Printf("error processing %s: %v", evt.Type, err)
		p.broadcaster.Broadcast(evt.SessionID, map[string]any{
			"type":      "error",
			"message":   fmt.Sprintf("Error processing %s: %v", evt.Type, err),
			"timestamp": evt.Timestamp.Format(time.RFC3339Nano),
		})
	}
}

// handlePolledEvent feeds a synthesized transcript event into the
// pipeline. A poll loop already blocked on the mutex can deliver its
// batch after its agent was stopped and removed; folding such an event
// would resurrect the agent as a placeholder and persist it, so
// deliveries for agents no longer polled are dropped. The check runs
// under the mutex, which also serializes StopPolling, so there is no
// window between the check and the fold.
func (p *Processor) handlePolledEvent(evt event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if evt.Data.AgentID == "" || !p.transcripts.IsPolling(evt.Data.AgentID) {
		log.Printf("dropping late polled %s for stopped agent %s", evt.Type, evt.Data.AgentID)
		return
	}
	if err := p.processEventLocked(context.Background(), evt); err != nil {
		log.Printf("error processing polled event %s: %v", evt.Type, err)
	}
}

func (p *Processor) handleTodos(sessionID string, todos []event.TodoItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tasks.IsPolling(sessionID) {
		return
	}
	sm, ok := p.sessions[sessionID]
	if !ok {
		return
	}
	sm.Todos = todos
	p.broadcastState(sessionID, sm)
}

func (p *Processor) processEvent(ctx context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processEventLocked(ctx, evt)
}

// processEventLocked runs the persist/fold/broadcast/follow-up chain.
// Callers hold p.mu.
func (p *Processor) processEventLocked(ctx context.Context, evt event.Event) error {
	evt.Normalize(time.Now())

	sourceDir := evt.Data.ProjectDir
	if sourceDir == "" {
		sourceDir = evt.Data.WorkingDir
	}
	if err := p.store.PersistEvent(ctx, evt, deriveGitRoot(sourceDir)); err != nil {
		return fmt.Errorf("persisting event: %w", err)
	}

	sm, err := p.machine(ctx, evt.SessionID)
	if err != nil {
		return err
	}

	sm.Transition(evt)

	entry := historyEntry(evt)
	sm.History = append(sm.History, entry)
	if len(sm.History) > office.MaxHistory {
		sm.History = sm.History[len(sm.History)-office.MaxHistory:]
	}

	if evt.Type == event.SubagentStart && evt.Data.AgentID != "" {
		if agent, ok := sm.Agents[evt.Data.AgentID]; ok {
			p.enrichAgent(ctx, agent, evt.Data)
			if agent.Name != "" {
				for i := range sm.AgentLifespans {
					if sm.AgentLifespans[i].AgentID == agent.ID {
						sm.AgentLifespans[i].AgentName = agent.Name
						break
					}
				}
			}
		}
	}

	p.broadcastState(evt.SessionID, sm)
	p.broadcaster.Broadcast(evt.SessionID, map[string]any{
		"type":      "event",
		"timestamp": evt.Timestamp.Format(time.RFC3339Nano),
		"event":     entry,
	})

	return p.followUp(ctx, sm, evt)
}

// followUp runs the side effects an event implies after the state fold
// and initial broadcast.
func (p *Processor) followUp(ctx context.Context, sm *office.StateMachine, evt event.Event) error {
	sessionID := evt.SessionID

	switch evt.Type {
	case event.SessionStart:
		p.tasks.StartPolling(sessionID)

	case event.SessionEnd:
		p.tasks.StopPolling(sessionID)

	case event.SubagentStart:
		agentID := evt.Data.AgentID
		if agentID == "" {
			break
		}
		if path := evt.Data.AgentTranscriptPath; path != "" {
			p.transcripts.StartPolling(agentID, sessionID, path)
		}
		if agent, ok := sm.Agents[agentID]; ok {
			agent.State = office.AgentWalkingToDesk
			agent.Bubble = nil
		}
		sm.BossState = office.BossIdle
		p.broadcastState(sessionID, sm)

	case event.SubagentInfo:
		path := evt.Data.AgentTranscriptPath
		nativeID := evt.Data.NativeAgentID
		if path == "" || nativeID == "" {
			break
		}
		if agentID, ok := sm.LinkNativeAgent(nativeID); ok {
			log.Printf("linked agent %s to native id %s", agentID, nativeID)
			if !p.transcripts.IsPolling(agentID) {
				p.transcripts.StartPolling(agentID, sessionID, path)
			}
		}

	case event.AgentUpdate:
		agentID := evt.Data.AgentID
		if agentID == "" || evt.Data.BubbleContent == nil {
			break
		}
		if agent, ok := sm.Agents[agentID]; ok {
			agent.Bubble = evt.Data.BubbleContent
			p.broadcastState(sessionID, sm)
		}

	case event.SubagentStop:
		agentID, agent := sm.ResolveAgent(evt.Data.AgentID, evt.Data.NativeAgentID)
		if agent == nil {
			log.Printf("subagent_stop for unknown agent id=%s native=%s, skipping",
				evt.Data.AgentID, evt.Data.NativeAgentID)
			break
		}
		p.transcripts.StopPolling(agentID)

		if path := evt.Data.AgentTranscriptPath; path != "" {
			translated := p.cfg.TranslatePath(path)
			response, ok := transcript.LastAssistantResponse(translated)
			if !ok {
				response, ok = transcript.LatestThinking(translated)
			}
			if ok {
				if res := p.summarizer.SummarizeResponse(ctx, response); res.Text != "" {
					agent.Bubble = &event.BubbleContent{
						Type: event.BubbleSpeech,
						Text: res.Text,
						Icon: "✅",
					}
				}
			}
		}
		p.broadcastState(sessionID, sm)

		sm.RemoveAgent(agentID)
		cleanup := event.Event{
			Type:      event.Cleanup,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Data:      evt.Data,
		}
		if err := p.store.AppendEvent(ctx, cleanup); err != nil {
			return fmt.Errorf("persisting cleanup event: %w", err)
		}
		p.broadcastState(sessionID, sm)

	case event.Stop:
		if path := evt.Data.TranscriptPath; path != "" {
			if response, ok := transcript.LastAssistantResponse(p.cfg.TranslatePath(path)); ok {
				if res := p.summarizer.SummarizeResponse(ctx, response); res.Text != "" {
					sm.BossBubble = &event.BubbleContent{
						Type:       event.BubbleSpeech,
						Text:       res.Text,
						Icon:       "💬",
						Persistent: true,
					}
				}
			}
		}
		if sm.LastUserPrompt != "" {
			sm.PrintReport = p.summarizer.DetectReportRequest(ctx, sm.LastUserPrompt)
		}
		p.broadcastState(sessionID, sm)

	case event.UserPromptSubmit:
		if evt.Data.Prompt == "" {
			break
		}
		sm.BossCurrentTask = p.summarizer.SummarizeUserPrompt(ctx, evt.Data.Prompt).Text
		sm.BossBubble = &event.BubbleContent{
			Type: event.BubbleSpeech,
			Text: office.WorkAcceptanceQuote(evt.Data.Prompt),
			Icon: "💬",
		}
		p.broadcastState(sessionID, sm)
	}

	return nil
}

func (p *Processor) enrichAgent(ctx context.Context, agent *office.Agent, data event.Data) {
	nameSource := data.AgentName
	if nameSource == "" {
		nameSource = data.TaskDescription
	}
	taskSource := data.TaskDescription
	if taskSource == "" {
		taskSource = data.AgentName
	}

	if nameSource != "" {
		agent.Name = p.summarizer.AgentName(ctx, nameSource).Text
	}
	if taskSource != "" {
		agent.CurrentTask = p.summarizer.SummarizeAgentTask(ctx, taskSource).Text
	}
}

// machine returns the state machine for a session, restoring it from
// the event log on first touch. Callers hold p.mu.
func (p *Processor) machine(ctx context.Context, sessionID string) (*office.StateMachine, error) {
	if sm, ok := p.sessions[sessionID]; ok {
		return sm, nil
	}

	sm, err := p.restore(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sm == nil {
		sm = office.NewStateMachine()
		sm.TranslatePath = p.cfg.TranslatePath
	}
	p.sessions[sessionID] = sm
	return sm, nil
}

// restore rebuilds a state machine by replaying the persisted log.
// Rows that no longer decode are skipped so old logs stay loadable.
func (p *Processor) restore(ctx context.Context, sessionID string) (*office.StateMachine, error) {
	rows, err := p.store.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading events for %s: %w", sessionID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	log.Printf("restoring session %s from %d events", sessionID, len(rows))

	sm := office.NewStateMachine()
	sm.TranslatePath = p.cfg.TranslatePath
	skipped := 0
	for _, row := range rows {
		evt, err := row.Decode()
		if err != nil {
			skipped++
			continue
		}
		sm.Transition(evt)
		sm.History = append(sm.History, historyEntry(evt))
	}
	if skipped > 0 {
		log.Printf("skipped %d malformed events restoring %s", skipped, sessionID)
	}
	if len(sm.History) > office.MaxHistory {
		sm.History = sm.History[len(sm.History)-office.MaxHistory:]
	}
	return sm, nil
}

// Snapshot returns the current game state for a session, restoring
// from the log if needed. Returns nil for unknown sessions.
func (p *Processor) Snapshot(ctx context.Context, sessionID string) (*office.GameState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sm, ok := p.sessions[sessionID]
	if !ok {
		restored, err := p.restore(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if restored == nil {
			return nil, nil
		}
		p.sessions[sessionID] = restored
		sm = restored
	}
	return sm.ToGameState(sessionID), nil
}

// ReplayStep pairs an event with the state that resulted from it.
type ReplayStep struct {
	Event event.Event       `json:"event"`
	State *office.GameState `json:"state"`
}

// Replay folds a session's log from scratch, capturing the state after
// every event. The live machine is untouched.
func (p *Processor) Replay(ctx context.Context, sessionID string) ([]ReplayStep, error) {
	rows, err := p.store.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sm := office.NewStateMachine()
	sm.TranslatePath = p.cfg.TranslatePath
	steps := make([]ReplayStep, 0, len(rows))
	for _, row := range rows {
		evt, err := row.Decode()
		if err != nil {
			continue
		}
		sm.Transition(evt)
		sm.History = append(sm.History, historyEntry(evt))
		steps = append(steps, ReplayStep{Event: evt, State: sm.ToGameState(sessionID)})
	}
	return steps, nil
}

// RemoveSession drops a session's in-memory state.
func (p *Processor) RemoveSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
	p.tasks.StopPolling(sessionID)
}

// ClearAllSessions drops all in-memory state.
func (p *Processor) ClearAllSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]*office.StateMachine)
}

func (p *Processor) broadcastState(sessionID string, sm *office.StateMachine) {
	state := sm.ToGameState(sessionID)
	p.broadcaster.Broadcast(sessionID, map[string]any{
		"type":      "state_update",
		"timestamp": state.LastUpdated.Format(time.RFC3339Nano),
		"state":     state,
	})
}

func historyEntry(evt event.Event) office.HistoryEntry {
	agentID := evt.Data.AgentID
	if agentID == "" {
		agentID = "main"
	}
	return office.HistoryEntry{
		ID:        strconv.FormatFloat(float64(evt.Timestamp.UnixNano())/1e9, 'f', 6, 64),
		Type:      string(evt.Type),
		AgentID:   agentID,
		Summary:   EventSummary(evt),
		Timestamp: evt.Timestamp.Format(time.RFC3339Nano),
	}
}

// EventSummary renders a human readable line for the event log.
func EventSummary(evt event.Event) string {
	data := evt.Data
	switch evt.Type {
	case event.SessionStart:
		return "Claude Office session started"
	case event.SessionEnd:
		return "Claude Office session ended"
	case event.PreToolUse:
		tool := data.ToolName
		if tool == "" {
			tool = "Unknown tool"
		}
		target := data.StringInput("file_path")
		if target == "" {
			target = data.StringInput("command")
		}
		if len(target) > 30 {
			target = "..." + target[len(target)-27:]
		}
		if target == "" {
			return "Using " + tool
		}
		return "Using " + tool + " " + target
	case event.PostToolUse:
		tool := data.ToolName
		if tool == "" {
			tool = "tool"
		}
		return "Completed " + tool
	case event.UserPromptSubmit:
		prompt := data.Prompt
		if prompt == "" {
			return "User submitted prompt"
		}
		if len(prompt) > 40 {
			prompt = prompt[:37] + "..."
		}
		return "User: " + prompt
	case event.PermissionRequest:
		tool := data.ToolName
		if tool == "" {
			tool = "tool"
		}
		return "Waiting for permission: " + tool
	case event.SubagentStart:
		name := data.AgentName
		if name == "" {
			name = data.AgentID
		}
		return "Spawned subagent: " + name
	case event.SubagentStop:
		status := "with errors"
		if data.Success != nil && *data.Success {
			status = "successfully"
		}
		return "Subagent " + data.AgentID + " finished " + status
	case event.Stop:
		return "Main agent task complete"
	case event.Cleanup:
		return "Agent " + data.AgentID + " left the building"
	case event.Notification:
		msg := data.Message
		if msg == "" {
			msg = data.NotificationType
		}
		if msg == "" {
			msg = "info"
		}
		return "Notification: " + msg
	case event.Reporting:
		return "Agent " + orUnknown(data.AgentID) + " reporting"
	case event.WalkingToDesk:
		return "Agent " + orUnknown(data.AgentID) + " walking to desk"
	case event.Waiting:
		return "Agent " + orUnknown(data.AgentID) + " waiting in queue"
	case event.Leaving:
		return "Agent " + orUnknown(data.AgentID) + " leaving"
	case event.Error:
		msg := data.Message
		if msg == "" {
			msg = "unknown error"
		}
		return "Error: " + msg
	}
	return "Event: " + string(evt.Type)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// deriveGitRoot walks up from a working directory looking for a .git
// entry. Falls back to the directory itself when it exists but is not
// inside a repository.
func deriveGitRoot(workingDir string) string {
	if workingDir == "" {
		return ""
	}

	abs, err := filepath.Abs(workingDir)
	if err != nil {
		return ""
	}

	dir := abs
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return abs
	}
	return ""
}
