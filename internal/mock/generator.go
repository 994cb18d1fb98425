// Package mock feeds scripted lifecycle events through the real
// pipeline so the dashboard can be demoed without a live agent.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/paulrobello/claude-office/internal/event"
	"github.com/paulrobello/claude-office/internal/processor"
)

type mockSubagentDef struct {
	id        string
	name      string
	task      string
	spawnTick int
	endTick   int
	tools     []string
}

type mockSession struct {
	id        string
	project   string
	prompt    string
	tools     []string
	toolIdx   int
	endTick   int
	tokensIn  int
	tokensOut int
	subagents []mockSubagentDef
	completed bool
}

type Generator struct {
	proc     *processor.Processor
	sessions []*mockSession
}

func NewGenerator(proc *processor.Processor) *Generator {
	return &Generator{proc: proc}
}

// Start launches the scripted demo. Events flow through the same
// persist/fold/broadcast pipeline as real hook traffic.
func (g *Generator) Start(ctx context.Context) {
	g.sessions = []*mockSession{
		{
			id:      "mock-refactor",
			project: "myproject",
			prompt:  "Refactor the payment module and add tests",
			tools:   []string{"Read", "Grep", "Edit", "Write", "Bash", "Edit"},
			endTick: 60,
			subagents: []mockSubagentDef{
				{
					id: "agent_mock_researcher", name: "Scout", task: "Explore the payment module",
					spawnTick: 8, endTick: 30,
					tools: []string{"Read", "Grep", "Glob"},
				},
				{
					id: "agent_mock_coder", name: "Codey", task: "Write the new tests",
					spawnTick: 12, endTick: 50,
					tools: []string{"Read", "Edit", "Write", "Bash"},
				},
			},
		},
		{
			id:      "mock-debug",
			project: "api-server",
			prompt:  "Fix the flaky login test",
			tools:   []string{"Read", "Grep", "Bash", "Edit", "Bash"},
			endTick: 45,
		},
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, ms := range g.sessions {
				if !ms.completed {
					g.advance(ctx, ms, tick)
				}
			}
		}
	}
}

func (g *Generator) advance(ctx context.Context, ms *mockSession, tick int) {
	switch tick {
	case 1:
		g.emit(ctx, ms, event.SessionStart, event.Data{
			ProjectName: ms.project,
			WorkingDir:  "/home/demo/" + ms.project,
		})
		return
	case 2:
		g.emit(ctx, ms, event.UserPromptSubmit, event.Data{Prompt: ms.prompt})
		return
	}

	for _, def := range ms.subagents {
		switch tick {
		case def.spawnTick:
			g.emit(ctx, ms, event.SubagentStart, event.Data{
				AgentID:         def.id,
				AgentName:       def.name,
				TaskDescription: def.task,
			})
		case def.endTick:
			ok := true
			g.emit(ctx, ms, event.SubagentStop, event.Data{
				AgentID: def.id,
				Success: &ok,
			})
		default:
			if tick > def.spawnTick && tick < def.endTick && (tick-def.spawnTick)%3 == 0 {
				tool := def.tools[(tick-def.spawnTick)/3%len(def.tools)]
				g.emitToolPair(ctx, ms, def.id, tool)
			}
		}
	}

	if tick >= ms.endTick {
		g.emit(ctx, ms, event.Stop, event.Data{})
		ms.completed = true
		return
	}

	if tick%2 == 0 {
		tool := ms.tools[ms.toolIdx%len(ms.tools)]
		ms.toolIdx++
		g.emitToolPair(ctx, ms, "", tool)
	}
}

// emitToolPair sends a pre/post tool use pair for one tool call.
func (g *Generator) emitToolPair(ctx context.Context, ms *mockSession, agentID, tool string) {
	input := map[string]any{}
	switch tool {
	case "Bash":
		input["command"] = "go test ./..."
	case "Read", "Edit", "Write":
		input["file_path"] = fmt.Sprintf("/home/demo/%s/pkg/file%d.go", ms.project, rand.Intn(9))
	case "Grep", "Glob":
		input["pattern"] = "TODO"
	}

	g.emit(ctx, ms, event.PreToolUse, event.Data{
		AgentID:   agentID,
		ToolName:  tool,
		ToolInput: input,
	})

	// Token fields carry running totals, as real hooks report them.
	ms.tokensIn += 1200 + rand.Intn(800)
	ms.tokensOut += 300 + rand.Intn(300)
	ok := rand.Intn(10) > 0
	in, out := ms.tokensIn, ms.tokensOut
	g.emit(ctx, ms, event.PostToolUse, event.Data{
		AgentID:      agentID,
		ToolName:     tool,
		Success:      &ok,
		InputTokens:  &in,
		OutputTokens: &out,
	})
}

func (g *Generator) emit(ctx context.Context, ms *mockSession, typ event.EventType, data event.Data) {
	g.proc.ProcessEvent(ctx, event.Event{
		Type:      typ,
		SessionID: ms.id,
		Timestamp: time.Now(),
		Data:      data,
	})
}
