// Package poller watches filesystem artifacts that agents write as a
// side channel: subagent transcript files and task list files. Both
// are turned into synthetic events or todo updates for the pipeline.
package poller

import (
	"bufio"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/paulrobello/claude-office/internal/event"
)

const (
	defaultPollInterval      = time.Second
	defaultTranscriptTimeout = 10 * time.Minute
	bubbleMaxLen             = 200
)

// EventFunc receives synthetic events extracted from a transcript.
type EventFunc func(event.Event)

// TranslateFunc rewrites a host path into the locally visible one.
type TranslateFunc func(string) string

type polledAgent struct {
	agentID      string
	sessionID    string
	path         string
	offset       int64
	lastActivity time.Time
	activeTools  map[string]struct{}
	thinkingHash uint32
	textHash     uint32
	cancel       context.CancelFunc
	done         chan struct{}
}

// TranscriptPoller tails subagent transcript files and emits
// pre/post tool use and agent update events as new lines appear.
type TranscriptPoller struct {
	mu        sync.Mutex
	agents    map[string]*polledAgent
	emit      EventFunc
	translate TranslateFunc
	interval  time.Duration
	timeout   time.Duration
}

func NewTranscriptPoller(emit EventFunc, translate TranslateFunc, interval, timeout time.Duration) *TranscriptPoller {
	if translate == nil {
		translate = func(p string) string { return p }
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if timeout <= 0 {
		timeout = defaultTranscriptTimeout
	}
	return &TranscriptPoller{
		agents:    make(map[string]*polledAgent),
		emit:      emit,
		translate: translate,
		interval:  interval,
		timeout:   timeout,
	}
}

// StartPolling begins tailing an agent's transcript. The file is read
// from its current end so only activity after the spawn is reported.
// Starting an agent that is already polled is a no-op.
func (p *TranscriptPoller) StartPolling(agentID, sessionID, transcriptPath string) {
	path := expandHome(p.translate(transcriptPath))

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.agents[agentID]; ok {
		return
	}

	agent := &polledAgent{
		agentID:      agentID,
		sessionID:    sessionID,
		path:         path,
		lastActivity: time.Now(),
		activeTools:  make(map[string]struct{}),
		done:         make(chan struct{}),
	}
	if info, err := os.Stat(path); err == nil {
		agent.offset = info.Size()
	}

	ctx, cancel := context.WithCancel(context.Background())
	agent.cancel = cancel
	p.agents[agentID] = agent

	go p.pollLoop(ctx, agent)

	log.Printf("transcript poller: watching agent %s at %s", agentID, path)
}

// IsPolling reports whether the agent's transcript is being tailed.
func (p *TranscriptPoller) IsPolling(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.agents[agentID]
	return ok
}

// StopPolling stops tailing an agent's transcript. It signals the
// loop and returns without waiting: the event callback may be holding
// the caller's lock, so waiting here could deadlock. Stopping an
// unknown agent is a no-op.
func (p *TranscriptPoller) StopPolling(agentID string) {
	p.mu.Lock()
	agent, ok := p.agents[agentID]
	if ok {
		delete(p.agents, agentID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	agent.cancel()
	log.Printf("transcript poller: stopped agent %s", agentID)
}

// StopAll stops every active poll loop.
func (p *TranscriptPoller) StopAll() {
	p.mu.Lock()
	agents := make([]*polledAgent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.agents = make(map[string]*polledAgent)
	p.mu.Unlock()

	for _, a := range agents {
		a.cancel()
		<-a.done
	}
}

func (p *TranscriptPoller) pollLoop(ctx context.Context, agent *polledAgent) {
	defer close(agent.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(agent.lastActivity) > p.timeout {
			log.Printf("transcript poller: agent %s idle too long, stopping", agent.agentID)
			p.mu.Lock()
			delete(p.agents, agent.agentID)
			p.mu.Unlock()
			return
		}

		for _, evt := range p.readNew(agent) {
			p.emit(evt)
		}
	}
}

// readNew reads complete lines appended since the last poll. A
// trailing partial line stays unread until the writer finishes it.
func (p *TranscriptPoller) readNew(agent *polledAgent) []event.Event {
	info, err := os.Stat(agent.path)
	if err != nil || info.Size() <= agent.offset {
		return nil
	}

	f, err := os.Open(agent.path)
	if err != nil {
		log.Printf("transcript poller: open %s: %v", agent.path, err)
		return nil
	}
	defer f.Close()

	if _, err := f.Seek(agent.offset, io.SeekStart); err != nil {
		log.Printf("transcript poller: seek %s: %v", agent.path, err)
		return nil
	}

	var events []event.Event
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			break
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			break
		}
		agent.offset += int64(len(line))

		if evts := p.parseLine(agent, line[:len(line)-1]); len(evts) > 0 {
			agent.lastActivity = time.Now()
			events = append(events, evts...)
		}
		if err == io.EOF {
			break
		}
	}
	return events
}

type transcriptRecord struct {
	Type    string `json:"type"`
	Message struct {
		Role    string            `json:"role"`
		Content []transcriptBlock `json:"content"`
	} `json:"message"`
}

type transcriptBlock struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	Thinking  string         `json:"thinking"`
	Text      string         `json:"text"`
	ToolUseID string         `json:"tool_use_id"`
	IsError   bool           `json:"is_error"`
}

func (p *TranscriptPoller) parseLine(agent *polledAgent, line []byte) []event.Event {
	var rec transcriptRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}

	var events []event.Event

	switch {
	case rec.Type == "assistant" && rec.Message.Role == "assistant":
		for _, block := range rec.Message.Content {
			switch block.Type {
			case "tool_use":
				// Task spawns arrive as real subagent_start events,
				// so a polled Task call would double-count.
				if block.Name == "" || block.Name == "Task" {
					continue
				}
				agent.activeTools[block.ID] = struct{}{}
				events = append(events, event.Event{
					Type:      event.PreToolUse,
					SessionID: agent.sessionID,
					Timestamp: time.Now(),
					Data: event.Data{
						AgentID:   agent.agentID,
						ToolName:  block.Name,
						ToolInput: block.Input,
						ToolUseID: block.ID,
					},
				})
			case "thinking":
				if block.Thinking == "" {
					continue
				}
				if h := clipHash(block.Thinking); h != agent.thinkingHash {
					agent.thinkingHash = h
					events = append(events, event.Event{
						Type:      event.AgentUpdate,
						SessionID: agent.sessionID,
						Timestamp: time.Now(),
						Data: event.Data{
							AgentID:  agent.agentID,
							Thinking: block.Thinking,
							BubbleContent: &event.BubbleContent{
								Type: event.BubbleThought,
								Text: bubbleText(block.Thinking),
								Icon: "💭",
							},
						},
					})
				}
			case "text":
				if block.Text == "" {
					continue
				}
				if h := clipHash(block.Text); h != agent.textHash {
					agent.textHash = h
					events = append(events, event.Event{
						Type:      event.AgentUpdate,
						SessionID: agent.sessionID,
						Timestamp: time.Now(),
						Data: event.Data{
							AgentID: agent.agentID,
							Summary: block.Text,
							BubbleContent: &event.BubbleContent{
								Type: event.BubbleSpeech,
								Text: bubbleText(block.Text),
								Icon: "💬",
							},
						},
					})
				}
			}
		}

	case rec.Type == "user" && rec.Message.Role == "user":
		for _, block := range rec.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			if _, pending := agent.activeTools[block.ToolUseID]; !pending {
				continue
			}
			delete(agent.activeTools, block.ToolUseID)
			success := !block.IsError
			events = append(events, event.Event{
				Type:      event.PostToolUse,
				SessionID: agent.sessionID,
				Timestamp: time.Now(),
				Data: event.Data{
					AgentID:   agent.agentID,
					ToolUseID: block.ToolUseID,
					Success:   &success,
				},
			})
		}
	}

	return events
}

// clipHash fingerprints the leading portion of a block so repeated
// streaming snapshots of the same content collapse to one update.
func clipHash(text string) uint32 {
	if len(text) > bubbleMaxLen {
		text = text[:bubbleMaxLen]
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	return h.Sum32()
}

func bubbleText(text string) string {
	display := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(display) > bubbleMaxLen {
		display = display[:bubbleMaxLen-3] + "..."
	}
	return display
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
