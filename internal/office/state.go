package office

import (
	"time"

	"github.com/paulrobello/claude-office/internal/event"
)

// AgentState is the visual state of a subagent character.
type AgentState string

const (
	AgentArriving          AgentState = "arriving"
	AgentReporting         AgentState = "reporting"
	AgentWalkingToDesk     AgentState = "walking_to_desk"
	AgentWorking           AgentState = "working"
	AgentThinking          AgentState = "thinking"
	AgentWaitingPermission AgentState = "waiting_permission"
	AgentCompleted         AgentState = "completed"
	AgentWaiting           AgentState = "waiting"
	AgentReportingDone     AgentState = "reporting_done"
	AgentLeaving           AgentState = "leaving"
	AgentInElevator        AgentState = "in_elevator"
)

// BossState is the visual state of the boss character.
type BossState string

const (
	BossIdle              BossState = "idle"
	BossPhoneRinging      BossState = "phone_ringing"
	BossOnPhone           BossState = "on_phone"
	BossReceiving         BossState = "receiving"
	BossWorking           BossState = "working"
	BossDelegating        BossState = "delegating"
	BossWaitingPermission BossState = "waiting_permission"
	BossReviewing         BossState = "reviewing"
	BossCompleting        BossState = "completing"
)

type ElevatorState string

const (
	ElevatorClosed    ElevatorState = "closed"
	ElevatorArriving  ElevatorState = "arriving"
	ElevatorOpen      ElevatorState = "open"
	ElevatorDeparting ElevatorState = "departing"
)

type PhoneState string

const (
	PhoneIdle    PhoneState = "idle"
	PhoneRinging PhoneState = "ringing"
	PhoneInUse   PhoneState = "in_use"
)

// Phase is the coarse session lifecycle, informational only.
type Phase string

const (
	PhaseEmpty      Phase = "empty"
	PhaseStarting   Phase = "starting"
	PhaseIdle       Phase = "idle"
	PhaseWorking    Phase = "working"
	PhaseDelegating Phase = "delegating"
	PhaseBusy       Phase = "busy"
	PhaseCompleting Phase = "completing"
	PhaseEnded      Phase = "ended"
)

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Agent is a subagent character in the office.
type Agent struct {
	ID          string               `json:"id"`
	NativeID    string               `json:"nativeId,omitempty"`
	Name        string               `json:"name,omitempty"`
	Color       string               `json:"color"`
	Number      int                  `json:"number"`
	State       AgentState           `json:"state"`
	Desk        int                  `json:"desk"`
	Bubble      *event.BubbleContent `json:"bubble,omitempty"`
	CurrentTask string               `json:"currentTask,omitempty"`
	Position    Position             `json:"position"`
}

// Boss is the main agent character.
type Boss struct {
	State       BossState            `json:"state"`
	CurrentTask string               `json:"currentTask,omitempty"`
	Bubble      *event.BubbleContent `json:"bubble,omitempty"`
	Position    Position             `json:"position"`
}

// OfficeState is the shared office environment.
type OfficeState struct {
	DeskCount               int           `json:"deskCount"`
	ElevatorState           ElevatorState `json:"elevatorState"`
	PhoneState              PhoneState    `json:"phoneState"`
	ContextUtilization      float64       `json:"contextUtilization"`
	ToolUsesSinceCompaction int           `json:"toolUsesSinceCompaction"`
	PrintReport             bool          `json:"printReport"`
}

// AgentLifespan is a timeline entry for the whiteboard widget.
type AgentLifespan struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Color     string `json:"color"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime,omitempty"`
}

// NewsItem is one ticker line on the whiteboard.
type NewsItem struct {
	Category  string `json:"category"`
	Headline  string `json:"headline"`
	Timestamp string `json:"timestamp"`
}

// WhiteboardData aggregates session statistics for display.
type WhiteboardData struct {
	ToolUsage             map[string]int  `json:"toolUsage"`
	TaskCompletedCount    int             `json:"taskCompletedCount"`
	BugFixedCount         int             `json:"bugFixedCount"`
	CoffeeBreakCount      int             `json:"coffeeBreakCount"`
	CodeWrittenCount      int             `json:"codeWrittenCount"`
	RecentErrorCount      int             `json:"recentErrorCount"`
	RecentSuccessCount    int             `json:"recentSuccessCount"`
	ActivityLevel         float64         `json:"activityLevel"`
	ConsecutiveSuccesses  int             `json:"consecutiveSuccesses"`
	LastIncidentTime      string          `json:"lastIncidentTime,omitempty"`
	AgentLifespans        []AgentLifespan `json:"agentLifespans"`
	NewsItems             []NewsItem      `json:"newsItems"`
	CoffeeCups            int             `json:"coffeeCups"`
	FileEdits             map[string]int  `json:"fileEdits"`
}

// HistoryEntry is one line of the UI event log.
type HistoryEntry struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	AgentID   string `json:"agentId"`
	Summary   string `json:"summary"`
	Timestamp string `json:"timestamp"`
}

// GameState is the complete snapshot the frontend renders.
type GameState struct {
	SessionID      string           `json:"sessionId"`
	Boss           Boss             `json:"boss"`
	Agents         []*Agent         `json:"agents"`
	Office         OfficeState      `json:"office"`
	LastUpdated    time.Time        `json:"lastUpdated"`
	History        []HistoryEntry   `json:"history"`
	Todos          []event.TodoItem `json:"todos"`
	ArrivalQueue   []string         `json:"arrivalQueue"`
	DepartureQueue []string         `json:"departureQueue"`
	WhiteboardData WhiteboardData   `json:"whiteboardData"`
}
