package event

import "time"

// EventType identifies the lifecycle event reported by a hook or
// synthesized by a poller.
type EventType string

const (
	SessionStart      EventType = "session_start"
	SessionEnd        EventType = "session_end"
	PreToolUse        EventType = "pre_tool_use"
	PostToolUse       EventType = "post_tool_use"
	UserPromptSubmit  EventType = "user_prompt_submit"
	PermissionRequest EventType = "permission_request"
	Notification      EventType = "notification"
	SubagentStart     EventType = "subagent_start"
	SubagentInfo      EventType = "subagent_info"
	SubagentStop      EventType = "subagent_stop"
	AgentUpdate       EventType = "agent_update"
	Stop              EventType = "stop"
	Cleanup           EventType = "cleanup"
	ContextCompaction EventType = "context_compaction"
	Reporting         EventType = "reporting"
	WalkingToDesk     EventType = "walking_to_desk"
	Waiting           EventType = "waiting"
	Leaving           EventType = "leaving"
	Error             EventType = "error"
)

type BubbleType string

const (
	BubbleThought BubbleType = "thought"
	BubbleSpeech  BubbleType = "speech"
)

// BubbleContent is the text shown in a speech or thought bubble.
type BubbleContent struct {
	Type       BubbleType `json:"type"`
	Text       string     `json:"text"`
	Icon       string     `json:"icon,omitempty"`
	Persistent bool       `json:"persistent"`
}

// SpeechContent carries per-character speech lines supplied by a hook.
type SpeechContent struct {
	Boss      string `json:"boss,omitempty"`
	Agent     string `json:"agent,omitempty"`
	BossPhone string `json:"boss_phone,omitempty"`
}

type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// ParseTodoStatus maps a raw status string to a TodoStatus, defaulting
// to pending for anything unrecognized.
func ParseTodoStatus(s string) TodoStatus {
	switch TodoStatus(s) {
	case TodoPending, TodoInProgress, TodoCompleted:
		return TodoStatus(s)
	}
	return TodoPending
}

// TodoItem is one entry from the TodoWrite tool or the task file system.
type TodoItem struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"active_form,omitempty"`
}

// Data is the payload bag shared by all event types. Every field is
// optional; consumers read only the fields their event type defines and
// treat everything else as absent.
type Data struct {
	ProjectName         string         `json:"project_name,omitempty"`
	ProjectDir          string         `json:"project_dir,omitempty"`
	WorkingDir          string         `json:"working_dir,omitempty"`
	ToolName            string         `json:"tool_name,omitempty"`
	ToolUseID           string         `json:"tool_use_id,omitempty"`
	ToolInput           map[string]any `json:"tool_input,omitempty"`
	Success             *bool          `json:"success,omitempty"`
	AgentID             string         `json:"agent_id,omitempty"`
	NativeAgentID       string         `json:"native_agent_id,omitempty"`
	AgentName           string         `json:"agent_name,omitempty"`
	AgentType           string         `json:"agent_type,omitempty"`
	TaskDescription     string         `json:"task_description,omitempty"`
	ResultSummary       string         `json:"result_summary,omitempty"`
	NotificationType    string         `json:"notification_type,omitempty"`
	Message             string         `json:"message,omitempty"`
	ErrorType           string         `json:"error_type,omitempty"`
	Reason              string         `json:"reason,omitempty"`
	Summary             string         `json:"summary,omitempty"`
	Prompt              string         `json:"prompt,omitempty"`
	BubbleContent       *BubbleContent `json:"bubble_content,omitempty"`
	SpeechContent       *SpeechContent `json:"speech_content,omitempty"`
	TranscriptPath      string         `json:"transcript_path,omitempty"`
	AgentTranscriptPath string         `json:"agent_transcript_path,omitempty"`
	Thinking            string         `json:"thinking,omitempty"`
	InputTokens         *int           `json:"input_tokens,omitempty"`
	OutputTokens        *int           `json:"output_tokens,omitempty"`
	CacheReadTokens     *int           `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens *int           `json:"cache_creation_tokens,omitempty"`
}

// Event is a single lifecycle event for one session.
type Event struct {
	Type      EventType `json:"event_type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// Normalize fills in defaults that upstream producers may omit.
func (e *Event) Normalize(now time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
}

// StringInput returns a string field from the tool input, or "" when the
// field is missing or not a string.
func (d Data) StringInput(key string) string {
	if d.ToolInput == nil {
		return ""
	}
	s, _ := d.ToolInput[key].(string)
	return s
}

// Failed reports whether the event carries an explicit failure signal.
func (d Data) Failed() bool {
	if d.Success != nil && !*d.Success {
		return true
	}
	return d.ErrorType != ""
}
