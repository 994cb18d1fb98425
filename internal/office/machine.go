package office

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/paulrobello/claude-office/internal/event"
	"github.com/paulrobello/claude-office/internal/summary"
	"github.com/paulrobello/claude-office/internal/transcript"
)

const (
	// MaxAgents bounds the concurrent subagent roster; spawns past the
	// cap are dropped so the desk layout stays stable.
	MaxAgents = 8

	// MaxContextTokens is the context window used for the utilization
	// gauge.
	MaxContextTokens = 200000

	// MaxHistory bounds the UI event log.
	MaxHistory = 500

	maxNewsItems      = 20
	maxAgentLifespans = 10
)

var agentColors = []string{
	"#3B82F6",
	"#22C55E",
	"#A855F7",
	"#F97316",
	"#EC4899",
	"#06B6D4",
	"#EAB308",
	"#EF4444",
}

// StateMachine folds lifecycle events into the office visualization
// state for one session. Transition performs no network or broadcast
// side effects; file reads for token usage are the only I/O and every
// failure there degrades to a no-op.
type StateMachine struct {
	Phase           Phase
	BossState       BossState
	BossBubble      *event.BubbleContent
	BossCurrentTask string
	ElevatorState   ElevatorState
	Agents          map[string]*Agent
	ArrivalQueue    []string
	HandinQueue     []string
	History         []HistoryEntry
	Todos           []event.TodoItem
	LastUserPrompt  string
	PrintReport     bool

	TotalInputTokens        int
	TotalOutputTokens       int
	ToolUsesSinceCompaction int

	ToolUsage            map[string]int
	TaskCompletedCount   int
	BugFixedCount        int
	CoffeeBreakCount     int
	CodeWrittenCount     int
	RecentErrorCount     int
	RecentSuccessCount   int
	ConsecutiveSuccesses int
	LastIncidentTime     string
	AgentLifespans       []AgentLifespan
	NewsItems            []NewsItem
	CoffeeCups           int
	FileEdits            map[string]int

	// TranslatePath maps host transcript paths to locally readable ones.
	// Nil means identity.
	TranslatePath func(string) string
}

func NewStateMachine() *StateMachine {
	return &StateMachine{
		Phase:         PhaseEmpty,
		BossState:     BossIdle,
		ElevatorState: ElevatorClosed,
		Agents:        make(map[string]*Agent),
		ToolUsage:     make(map[string]int),
		FileEdits:     make(map[string]int),
	}
}

// ToGameState projects the current state into a frontend snapshot.
func (sm *StateMachine) ToGameState(sessionID string) *GameState {
	deskCount := (len(sm.Agents) + 3) / 4 * 4
	if deskCount < 8 {
		deskCount = 8
	}
	if deskCount > MaxAgents {
		deskCount = MaxAgents
	}

	agents := make([]*Agent, 0, len(sm.Agents))
	for _, a := range sm.Agents {
		copied := *a
		agents = append(agents, &copied)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Number < agents[j].Number })

	total := sm.TotalInputTokens + sm.TotalOutputTokens
	utilization := float64(total) / float64(MaxContextTokens)
	if utilization > 1.0 {
		utilization = 1.0
	}

	activity := float64(sm.ToolUsesSinceCompaction) / 100.0
	if activity > 1.0 {
		activity = 1.0
	}

	toolUsage := make(map[string]int, len(sm.ToolUsage))
	for k, v := range sm.ToolUsage {
		toolUsage[k] = v
	}
	fileEdits := make(map[string]int, len(sm.FileEdits))
	for k, v := range sm.FileEdits {
		fileEdits[k] = v
	}

	return &GameState{
		SessionID: sessionID,
		Boss: Boss{
			State:       sm.BossState,
			CurrentTask: sm.BossCurrentTask,
			Bubble:      sm.BossBubble,
			Position:    Position{X: 640, Y: 830},
		},
		Agents: agents,
		Office: OfficeState{
			DeskCount:               deskCount,
			ElevatorState:           sm.ElevatorState,
			PhoneState:              PhoneIdle,
			ContextUtilization:      utilization,
			ToolUsesSinceCompaction: sm.ToolUsesSinceCompaction,
			PrintReport:             sm.PrintReport,
		},
		LastUpdated:    time.Now(),
		History:        append([]HistoryEntry(nil), sm.History...),
		Todos:          append([]event.TodoItem(nil), sm.Todos...),
		ArrivalQueue:   append([]string(nil), sm.ArrivalQueue...),
		DepartureQueue: append([]string(nil), sm.HandinQueue...),
		WhiteboardData: WhiteboardData{
			ToolUsage:            toolUsage,
			TaskCompletedCount:   sm.TaskCompletedCount,
			BugFixedCount:        sm.BugFixedCount,
			CoffeeBreakCount:     sm.CoffeeBreakCount,
			CodeWrittenCount:     sm.CodeWrittenCount,
			RecentErrorCount:     sm.RecentErrorCount,
			RecentSuccessCount:   sm.RecentSuccessCount,
			ActivityLevel:        activity,
			ConsecutiveSuccesses: sm.ConsecutiveSuccesses,
			LastIncidentTime:     sm.LastIncidentTime,
			AgentLifespans:       append([]AgentLifespan(nil), sm.AgentLifespans...),
			NewsItems:            append([]NewsItem(nil), sm.NewsItems...),
			CoffeeCups:           sm.CoffeeCups,
			FileEdits:            fileEdits,
		},
	}
}

// RemoveAgent drops an agent from the registry and both animation
// queues.
func (sm *StateMachine) RemoveAgent(agentID string) {
	delete(sm.Agents, agentID)
	sm.ArrivalQueue = removeString(sm.ArrivalQueue, agentID)
	sm.HandinQueue = removeString(sm.HandinQueue, agentID)
}

// ResolveAgent finds an agent by id, falling back to a native-id scan.
// Native ids arrive via a later correlation event, so stops referencing
// only the native id are still resolvable.
func (sm *StateMachine) ResolveAgent(agentID, nativeID string) (string, *Agent) {
	if agentID != "" {
		if a, ok := sm.Agents[agentID]; ok {
			return agentID, a
		}
	}
	if nativeID != "" {
		for id, a := range sm.Agents {
			if a.NativeID == nativeID {
				return id, a
			}
		}
	}
	return "", nil
}

// LinkNativeAgent assigns a native id to the first agent lacking one.
// With several unlinked agents the correlation is a first-match
// heuristic and may pick the wrong one.
func (sm *StateMachine) LinkNativeAgent(nativeID string) (string, bool) {
	for _, id := range sm.agentIDsInOrder() {
		if sm.Agents[id].NativeID == "" {
			sm.Agents[id].NativeID = nativeID
			return id, true
		}
	}
	return "", false
}

func (sm *StateMachine) agentIDsInOrder() []string {
	ids := make([]string, 0, len(sm.Agents))
	for _, l := range sm.AgentLifespans {
		if _, ok := sm.Agents[l.AgentID]; ok {
			ids = append(ids, l.AgentID)
		}
	}
	for id := range sm.Agents {
		seen := false
		for _, existing := range ids {
			if existing == id {
				seen = true
				break
			}
		}
		if !seen {
			ids = append(ids, id)
		}
	}
	return ids
}

// Transition applies one event to the state. It never fails: missing or
// malformed payload fields degrade to no-ops so historical logs replay
// cleanly.
func (sm *StateMachine) Transition(evt event.Event) {
	sm.updateTokenUsage(evt)

	switch evt.Type {
	case event.SessionStart:
		sm.Phase = PhaseStarting
		sm.BossState = BossIdle
		sm.ToolUsage = make(map[string]int)
		sm.TaskCompletedCount = 0
		sm.BugFixedCount = 0
		sm.CoffeeBreakCount = 0
		sm.CodeWrittenCount = 0
		sm.RecentErrorCount = 0
		sm.RecentSuccessCount = 0
		sm.ConsecutiveSuccesses = 0
		sm.LastIncidentTime = ""
		sm.AgentLifespans = nil
		sm.NewsItems = nil
		sm.CoffeeCups = 0
		sm.FileEdits = make(map[string]int)
		sm.addNewsItem("session", "📋 New session started - ready for work!", evt.Timestamp)

	case event.ContextCompaction:
		sm.ToolUsesSinceCompaction = 0
		sm.CoffeeCups++
		sm.CoffeeBreakCount++
		sm.addNewsItem("coffee", "☕ Coffee break! Context compacted.", evt.Timestamp)

	case event.PreToolUse:
		sm.applyPreToolUse(evt)

	case event.UserPromptSubmit:
		sm.BossState = BossReceiving
		sm.PrintReport = false
		sm.LastUserPrompt = evt.Data.Prompt
		if evt.Data.Prompt != "" {
			sm.BossBubble = &event.BubbleContent{
				Type: event.BubbleSpeech,
				Text: evt.Data.Prompt,
				Icon: "📞",
			}
			sm.BossCurrentTask = evt.Data.Prompt
		}

	case event.PermissionRequest:
		sm.applyPermissionRequest(evt)

	case event.PostToolUse:
		agentID := evt.Data.AgentID
		if agentID == "" || agentID == "main" {
			sm.BossState = BossIdle
		} else if a, ok := sm.Agents[agentID]; ok && a.State == AgentWaitingPermission {
			a.State = AgentWorking
		}
		sm.ToolUsesSinceCompaction++
		sm.trackToolUse(evt)

	case event.SubagentStart:
		sm.applySubagentStart(evt)

	case event.SubagentStop:
		sm.applySubagentStop(evt)

	case event.Cleanup:
		if evt.Data.AgentID != "" {
			sm.RemoveAgent(evt.Data.AgentID)
		}

	case event.Stop:
		sm.Phase = PhaseCompleting
		sm.BossState = BossCompleting
		speech := ""
		if evt.Data.SpeechContent != nil {
			speech = evt.Data.SpeechContent.BossPhone
		}
		if speech == "" {
			speech = JobCompletionQuote(sm.LastUserPrompt)
		}
		sm.BossBubble = &event.BubbleContent{
			Type:       event.BubbleSpeech,
			Text:       speech,
			Icon:       "📞",
			Persistent: true,
		}
		sm.addNewsItem("session", "🎉 Job completed! Great work everyone!", evt.Timestamp)

	case event.SessionEnd:
		sm.Phase = PhaseEnded
		sm.BossState = BossIdle
		sm.BossCurrentTask = ""
	}
}

func (sm *StateMachine) applyPreToolUse(evt event.Event) {
	toolName := evt.Data.ToolName

	if toolName == "TodoWrite" {
		sm.parseTodoWrite(evt)
	}

	if toolName == "Task" {
		sm.Phase = PhaseDelegating
		sm.BossState = BossDelegating
		sm.ElevatorState = ElevatorArriving
		return
	}

	agentID := evt.Data.AgentID
	if agentID == "" {
		agentID = "main"
	}

	bubble := sm.toolToThought(evt)
	if agentID == "main" {
		sm.BossBubble = bubble
		sm.BossState = BossWorking
		return
	}

	// An unknown agent id mid-session means we restarted after the
	// spawn event. Synthesize a placeholder instead of dropping the
	// activity.
	if _, ok := sm.Agents[agentID]; !ok && len(sm.Agents) < MaxAgents {
		ghost := sm.createAgent(event.Data{
			AgentID:         agentID,
			AgentName:       "Ghost " + tail(agentID, 4),
			TaskDescription: "Resumed mid-session",
		})
		ghost.State = AgentWorking
		sm.Agents[agentID] = ghost
	}

	if a, ok := sm.Agents[agentID]; ok {
		a.Bubble = bubble
		a.State = AgentWorking
		sm.ArrivalQueue = removeString(sm.ArrivalQueue, agentID)
	}
}

func (sm *StateMachine) applyPermissionRequest(evt event.Event) {
	agentID := evt.Data.AgentID
	toolName := evt.Data.ToolName
	if toolName == "" {
		toolName = "permission"
	}

	bubble := &event.BubbleContent{
		Type: event.BubbleThought,
		Text: "Waiting: " + toolName,
		Icon: "❓",
	}

	if agentID == "" || agentID == "main" {
		sm.BossState = BossWaitingPermission
		sm.BossBubble = bubble
		return
	}
	if a, ok := sm.Agents[agentID]; ok {
		a.State = AgentWaitingPermission
		a.Bubble = bubble
	}
}

func (sm *StateMachine) applySubagentStart(evt event.Event) {
	if evt.Data.AgentID == "" || len(sm.Agents) >= MaxAgents {
		return
	}

	agent := sm.createAgent(evt.Data)
	sm.BossState = BossDelegating
	sm.ElevatorState = ElevatorOpen

	if !contains(sm.ArrivalQueue, agent.ID) {
		sm.ArrivalQueue = append(sm.ArrivalQueue, agent.ID)
	}
	sm.Agents[agent.ID] = agent
	sm.Phase = PhaseBusy

	name := agent.Name
	if name == "" {
		name = "Agent-" + tail(agent.ID, 4)
	}
	sm.AgentLifespans = append(sm.AgentLifespans, AgentLifespan{
		AgentID:   agent.ID,
		AgentName: name,
		Color:     agent.Color,
		StartTime: evt.Timestamp.Format(time.RFC3339Nano),
	})
	if len(sm.AgentLifespans) > maxAgentLifespans {
		sm.AgentLifespans = sm.AgentLifespans[len(sm.AgentLifespans)-maxAgentLifespans:]
	}

	sm.addNewsItem("agent", "🆕 "+name+" joins the team!", evt.Timestamp)
}

func (sm *StateMachine) applySubagentStop(evt event.Event) {
	agentID, agent := sm.ResolveAgent(evt.Data.AgentID, evt.Data.NativeAgentID)
	if agent == nil {
		return
	}

	agent.State = AgentWaiting
	if !contains(sm.HandinQueue, agentID) {
		sm.HandinQueue = append(sm.HandinQueue, agentID)
	}
	sm.BossState = BossIdle

	if path := evt.Data.AgentTranscriptPath; path != "" {
		if n := transcript.CountToolUses(sm.translate(path)); n > 0 {
			sm.ToolUsesSinceCompaction += n
		}
	}

	for i := range sm.AgentLifespans {
		if sm.AgentLifespans[i].AgentID == agentID && sm.AgentLifespans[i].EndTime == "" {
			sm.AgentLifespans[i].EndTime = evt.Timestamp.Format(time.RFC3339Nano)
			break
		}
	}

	name := agent.Name
	if name == "" {
		name = "Agent-" + tail(agentID, 4)
	}
	sm.addNewsItem("agent", "✅ "+name+" completed their task!", evt.Timestamp)
}

func (sm *StateMachine) createAgent(data event.Data) *Agent {
	id := data.AgentID
	if id == "" {
		id = "unknown"
	}
	count := len(sm.Agents) + 1

	nameSource := data.AgentName
	if nameSource == "" {
		nameSource = data.TaskDescription
	}

	return &Agent{
		ID:          id,
		Name:        summary.AgentNameFallback(nameSource),
		Color:       agentColors[(count-1)%len(agentColors)],
		Number:      count,
		State:       AgentArriving,
		Desk:        count,
		CurrentTask: data.TaskDescription,
	}
}

var toolIcons = map[string]string{
	"Read":      "📖",
	"Write":     "✍️",
	"Edit":      "📝",
	"Bash":      "💻",
	"Glob":      "🔍",
	"Grep":      "🔎",
	"WebSearch": "🌐",
	"WebFetch":  "📥",
	"Task":      "🎯",
}

func (sm *StateMachine) toolToThought(evt event.Event) *event.BubbleContent {
	toolName := evt.Data.ToolName
	icon, ok := toolIcons[toolName]
	if !ok {
		icon = "⚙️"
	}

	text := toolName
	switch toolName {
	case "Read", "Glob", "Grep", "Write", "Edit":
		path := evt.Data.StringInput("file_path")
		if path == "" {
			path = evt.Data.StringInput("pattern")
		}
		if path != "" {
			text = CompressPath(path, defaultPathMaxLen)
		}
	case "Bash":
		if cmd := evt.Data.StringInput("command"); cmd != "" {
			line := strings.SplitN(strings.TrimSpace(cmd), "\n", 2)[0]
			line = CompressPathsInText(line)
			if len(line) > 45 {
				line = line[:42] + "..."
			}
			text = line
		}
	case "Task":
		text = "Delegating..."
	}

	text = CompressPathsInText(text)
	text = TruncateLongWords(text, defaultPathMaxLen)

	return &event.BubbleContent{Type: event.BubbleThought, Text: text, Icon: icon}
}

var toolCategories = map[string]string{
	"Read":      "read",
	"Glob":      "read",
	"Grep":      "read",
	"Write":     "write",
	"Edit":      "edit",
	"Bash":      "bash",
	"Task":      "task",
	"TodoWrite": "todo",
	"WebSearch": "web",
	"WebFetch":  "web",
}

func categorizeTool(name string) string {
	if cat, ok := toolCategories[name]; ok {
		return cat
	}
	return "other"
}

func (sm *StateMachine) trackToolUse(evt event.Event) {
	toolName := evt.Data.ToolName
	if toolName == "" {
		toolName = "unknown"
	}

	sm.ToolUsage[categorizeTool(toolName)]++

	if evt.Data.Failed() {
		sm.RecentErrorCount++
		sm.ConsecutiveSuccesses = 0
		sm.LastIncidentTime = evt.Timestamp.Format(time.RFC3339Nano)
		errMsg := evt.Data.ErrorType
		if errMsg == "" {
			errMsg = "unknown error"
		}
		sm.addNewsItem("error", "⚠️ "+toolName+" failed: "+errMsg, evt.Timestamp)
	} else {
		sm.RecentSuccessCount++
		sm.ConsecutiveSuccesses++
	}

	switch toolName {
	case "Edit", "Write":
		sm.CodeWrittenCount++
		if path := evt.Data.StringInput("file_path"); path != "" {
			name := path
			if idx := strings.LastIndex(path, "/"); idx >= 0 {
				name = path[idx+1:]
			}
			sm.FileEdits[name]++
		}
	case "Bash":
		if cmd := evt.Data.StringInput("command"); strings.Contains(strings.ToLower(cmd), "fix") {
			sm.BugFixedCount++
		}
	case "TodoWrite":
		if todos, ok := evt.Data.ToolInput["todos"].([]any); ok {
			completed := 0
			for _, t := range todos {
				if m, ok := t.(map[string]any); ok {
					if status, _ := m["status"].(string); status == "completed" {
						completed++
					}
				}
			}
			sm.TaskCompletedCount = completed
		}
	}
}

func (sm *StateMachine) parseTodoWrite(evt event.Event) {
	if evt.Data.ToolInput == nil {
		return
	}
	raw, ok := evt.Data.ToolInput["todos"].([]any)
	if !ok {
		return
	}

	var todos []event.TodoItem
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		if content == "" {
			continue
		}
		status, _ := m["status"].(string)
		activeForm, _ := m["activeForm"].(string)
		todos = append(todos, event.TodoItem{
			Content:    content,
			Status:     event.ParseTodoStatus(status),
			ActiveForm: activeForm,
		})
	}
	sm.Todos = todos
}

func (sm *StateMachine) updateTokenUsage(evt event.Event) {
	if evt.Data.InputTokens != nil || evt.Data.OutputTokens != nil {
		if evt.Data.InputTokens != nil {
			sm.TotalInputTokens = *evt.Data.InputTokens
		}
		if evt.Data.OutputTokens != nil {
			sm.TotalOutputTokens = *evt.Data.OutputTokens
		}
		return
	}

	path := evt.Data.TranscriptPath
	if path == "" {
		path = evt.Data.AgentTranscriptPath
	}
	if path == "" {
		return
	}

	in, out, ok := transcript.LatestUsage(sm.translate(path))
	if !ok {
		return
	}
	sm.TotalInputTokens = in
	sm.TotalOutputTokens = out

	total := in + out
	if total > 0 {
		log.Printf("context: %d/%d tokens", total, MaxContextTokens)
	}
}

func (sm *StateMachine) addNewsItem(category, headline string, ts time.Time) {
	item := NewsItem{
		Category:  category,
		Headline:  headline,
		Timestamp: ts.Format(time.RFC3339Nano),
	}
	sm.NewsItems = append([]NewsItem{item}, sm.NewsItems...)
	if len(sm.NewsItems) > maxNewsItems {
		sm.NewsItems = sm.NewsItems[:maxNewsItems]
	}
}

func (sm *StateMachine) translate(path string) string {
	if sm.TranslatePath != nil {
		return sm.TranslatePath(path)
	}
	return path
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
