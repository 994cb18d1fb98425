// Package store persists the event log and session summaries in
// SQLite. Only events are durable truth; office state is always
// rebuilt by replaying them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/paulrobello/claude-office/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	project_name TEXT NOT NULL DEFAULT '',
	project_root TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
`

// StoredEvent is one persisted event row. Data stays raw so replay can
// decode leniently and skip rows that no longer parse.
type StoredEvent struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Type      string
	Data      []byte
}

// Decode converts the row back into an Event. Malformed payloads
// produce an error the caller counts and skips.
func (se StoredEvent) Decode() (event.Event, error) {
	var data event.Data
	if len(se.Data) > 0 {
		if err := json.Unmarshal(se.Data, &data); err != nil {
			return event.Event{}, fmt.Errorf("decoding event %d payload: %w", se.ID, err)
		}
	}
	return event.Event{
		Type:      event.EventType(se.Type),
		SessionID: se.SessionID,
		Timestamp: se.Timestamp,
		Data:      data,
	}, nil
}

// SessionSummary is a session row plus its event count, for list views.
type SessionSummary struct {
	ID          string    `json:"id"`
	ProjectName string    `json:"projectName,omitempty"`
	ProjectRoot string    `json:"projectRoot,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Status      string    `json:"status"`
	EventCount  int       `json:"eventCount"`
}

type Store struct {
	pool *sqlitex.Pool
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	s := &Store{pool: pool}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// PersistEvent appends an event and maintains the session row in one
// transaction. A session_start event discards all earlier events for
// the session id: the log's reset boundary.
func (s *Store) PersistEvent(ctx context.Context, evt event.Event, projectRoot string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)

	now := time.Now().UnixNano()

	if err := sqlitex.Execute(conn, `
		INSERT INTO sessions (id, project_name, project_root, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_name = CASE WHEN sessions.project_name = '' THEN excluded.project_name ELSE sessions.project_name END,
			project_root = CASE WHEN sessions.project_root = '' THEN excluded.project_root ELSE sessions.project_root END,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{evt.SessionID, evt.Data.ProjectName, projectRoot, now, now},
		}); err != nil {
		return err
	}

	switch evt.Type {
	case event.SessionStart:
		if err := sqlitex.Execute(conn, `DELETE FROM events WHERE session_id = ?`,
			&sqlitex.ExecOptions{Args: []any{evt.SessionID}}); err != nil {
			return err
		}
		if err := s.setStatus(conn, evt.SessionID, "active"); err != nil {
			return err
		}
	case event.SessionEnd:
		if err := s.setStatus(conn, evt.SessionID, "completed"); err != nil {
			return err
		}
	}

	return s.insertEvent(conn, evt)
}

// AppendEvent inserts a single event row without session bookkeeping.
// Used for synthetic events the processor manufactures mid-pipeline.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return s.insertEvent(conn, evt)
}

func (s *Store) insertEvent(conn *sqlite.Conn, evt event.Event) error {
	payload, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}
	return sqlitex.Execute(conn, `
		INSERT INTO events (session_id, timestamp, event_type, data)
		VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{evt.SessionID, evt.Timestamp.UnixNano(), string(evt.Type), string(payload)},
		})
}

func (s *Store) setStatus(conn *sqlite.Conn, sessionID, status string) error {
	return sqlitex.Execute(conn, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{status, time.Now().UnixNano(), sessionID},
		})
}

// ListEvents returns all events for a session in arrival order.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]StoredEvent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var events []StoredEvent
	err = sqlitex.Execute(conn, `
		SELECT id, session_id, timestamp, event_type, data
		FROM events WHERE session_id = ? ORDER BY id ASC`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				events = append(events, StoredEvent{
					ID:        stmt.ColumnInt64(0),
					SessionID: stmt.ColumnText(1),
					Timestamp: time.Unix(0, stmt.ColumnInt64(2)),
					Type:      stmt.ColumnText(3),
					Data:      []byte(stmt.ColumnText(4)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListSessions returns all session rows with event counts, most
// recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var sessions []SessionSummary
	err = sqlitex.Execute(conn, `
		SELECT s.id, s.project_name, s.project_root, s.created_at, s.updated_at, s.status,
			(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
		FROM sessions s ORDER BY s.updated_at DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sessions = append(sessions, SessionSummary{
					ID:          stmt.ColumnText(0),
					ProjectName: stmt.ColumnText(1),
					ProjectRoot: stmt.ColumnText(2),
					CreatedAt:   time.Unix(0, stmt.ColumnInt64(3)),
					UpdatedAt:   time.Unix(0, stmt.ColumnInt64(4)),
					Status:      stmt.ColumnText(5),
					EventCount:  stmt.ColumnInt(6),
				})
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ProjectRoot returns the cached project root for a session, or "".
func (s *Store) ProjectRoot(ctx context.Context, sessionID string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	var root string
	err = sqlitex.Execute(conn, `SELECT project_root FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				root = stmt.ColumnText(0)
				return nil
			},
		})
	return root, err
}

// HasSession reports whether a session row exists.
func (s *Store) HasSession(ctx context.Context, sessionID string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	return found, err
}

// DeleteSession removes a session row and all its events.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)

	if err := sqlitex.Execute(conn, `DELETE FROM events WHERE session_id = ?`,
		&sqlitex.ExecOptions{Args: []any{sessionID}}); err != nil {
		return err
	}
	return sqlitex.Execute(conn, `DELETE FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{sessionID}})
}

// Clear removes every session and event.
func (s *Store) Clear(ctx context.Context) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)

	if err := sqlitex.Execute(conn, `DELETE FROM events`, nil); err != nil {
		return err
	}
	return sqlitex.Execute(conn, `DELETE FROM sessions`, nil)
}
