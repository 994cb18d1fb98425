package poller

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulrobello/claude-office/internal/event"
)

const defaultTaskTimeout = 30 * time.Minute

// TodoFunc receives the full replacement todo list for a session.
type TodoFunc func(sessionID string, todos []event.TodoItem)

// DirFunc maps a session id to its task directory.
type DirFunc func(sessionID string) string

type polledTaskDir struct {
	sessionID    string
	dir          string
	mtimes       map[string]time.Time
	lastActivity time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

// TaskFilePoller watches per-session task directories of small JSON
// files and publishes the combined todo list whenever any file
// changes, appears, or disappears.
type TaskFilePoller struct {
	mu       sync.Mutex
	sessions map[string]*polledTaskDir
	notify   TodoFunc
	dirFor   DirFunc
	interval time.Duration
	timeout  time.Duration
}

func NewTaskFilePoller(notify TodoFunc, dirFor DirFunc, interval, timeout time.Duration) *TaskFilePoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	return &TaskFilePoller{
		sessions: make(map[string]*polledTaskDir),
		notify:   notify,
		dirFor:   dirFor,
		interval: interval,
		timeout:  timeout,
	}
}

// StartPolling begins watching a session's task directory. Already
// watched sessions are a no-op.
func (p *TaskFilePoller) StartPolling(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sessions[sessionID]; ok {
		return
	}

	state := &polledTaskDir{
		sessionID:    sessionID,
		dir:          p.dirFor(sessionID),
		mtimes:       make(map[string]time.Time),
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	p.sessions[sessionID] = state

	go p.pollLoop(ctx, state)

	log.Printf("task poller: watching session %s at %s", sessionID, state.dir)
}

// IsPolling reports whether the session's task directory is watched.
func (p *TaskFilePoller) IsPolling(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// StopPolling stops watching a session's task directory. It signals
// the loop and returns without waiting: the todo callback may be
// holding the caller's lock, so waiting here could deadlock.
func (p *TaskFilePoller) StopPolling(sessionID string) {
	p.mu.Lock()
	state, ok := p.sessions[sessionID]
	if ok {
		delete(p.sessions, sessionID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	state.cancel()
	log.Printf("task poller: stopped session %s", sessionID)
}

// StopAll stops every active watch.
func (p *TaskFilePoller) StopAll() {
	p.mu.Lock()
	states := make([]*polledTaskDir, 0, len(p.sessions))
	for _, s := range p.sessions {
		states = append(states, s)
	}
	p.sessions = make(map[string]*polledTaskDir)
	p.mu.Unlock()

	for _, s := range states {
		s.cancel()
		<-s.done
	}
}

func (p *TaskFilePoller) pollLoop(ctx context.Context, state *polledTaskDir) {
	defer close(state.done)

	p.checkForChanges(state)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(state.lastActivity) > p.timeout {
			log.Printf("task poller: session %s idle too long, stopping", state.sessionID)
			p.mu.Lock()
			delete(p.sessions, state.sessionID)
			p.mu.Unlock()
			return
		}

		p.checkForChanges(state)
	}
}

func (p *TaskFilePoller) checkForChanges(state *polledTaskDir) {
	entries, err := os.ReadDir(state.dir)
	if err != nil {
		return
	}

	current := make(map[string]time.Time)
	changed := false
	var paths []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		current[entry.Name()] = info.ModTime()
		paths = append(paths, filepath.Join(state.dir, entry.Name()))
		if prev, ok := state.mtimes[entry.Name()]; !ok || !prev.Equal(info.ModTime()) {
			changed = true
		}
	}

	if len(paths) == 0 {
		return
	}
	if len(current) != len(state.mtimes) {
		changed = true
	}
	if !changed {
		return
	}

	state.mtimes = current
	state.lastActivity = time.Now()

	p.notify(state.sessionID, readTaskFiles(paths))
}

// taskID tolerates both string and bare numeric ids on the wire.
type taskID string

func (id *taskID) UnmarshalJSON(data []byte) error {
	*id = taskID(strings.Trim(string(data), `"`))
	return nil
}

type taskFile struct {
	ID         taskID `json:"id"`
	Subject    string `json:"subject"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// readTaskFiles loads task JSON files and converts them to todo
// items, ordered by numeric id where ids parse as numbers.
func readTaskFiles(paths []string) []event.TodoItem {
	var tasks []taskFile
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("task poller: read %s: %v", path, err)
			continue
		}
		var t taskFile
		if err := json.Unmarshal(data, &t); err != nil {
			log.Printf("task poller: parse %s: %v", path, err)
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return taskSortKey(tasks[i]) < taskSortKey(tasks[j])
	})

	todos := make([]event.TodoItem, 0, len(tasks))
	for _, t := range tasks {
		if t.Subject == "" {
			continue
		}
		todos = append(todos, event.TodoItem{
			Content:    t.Subject,
			Status:     event.ParseTodoStatus(t.Status),
			ActiveForm: t.ActiveForm,
		})
	}
	return todos
}

// taskSortKey orders numeric ids first, zero-padded so "10" sorts
// after "2", then non-numeric ids lexically.
func taskSortKey(t taskFile) string {
	id := string(t.ID)
	if n, err := strconv.Atoi(id); err == nil {
		return "0" + fmt10(n)
	}
	return "1" + id
}

func fmt10(n int) string {
	s := strconv.Itoa(n)
	if len(s) >= 10 {
		return s
	}
	return strings.Repeat("0", 10-len(s)) + s
}
