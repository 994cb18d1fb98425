package ws

import (
	"testing"
	"time"

	"github.com/paulrobello/claude-office/internal/event"
)

func TestHubBroadcastScopedToSession(t *testing.T) {
	ts := newTestServer(t)

	ts.processSync(t, event.Event{Type: event.SessionStart, SessionID: "s1", Timestamp: time.Now()})
	ts.processSync(t, event.Event{Type: event.SessionStart, SessionID: "s2", Timestamp: time.Now()})

	conn1 := dialWS(t, ts, "s1")
	conn2 := dialWS(t, ts, "s2")
	readMessage(t, conn1)
	readMessage(t, conn2)

	ts.hub.Broadcast("s1", map[string]any{"type": "event", "only": "s1"})

	msg := readMessage(t, conn1)
	if msg["only"] != "s1" {
		t.Errorf("s1 client got %v", msg)
	}

	conn2.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := conn2.ReadMessage(); err == nil {
		t.Error("s2 client should not receive s1 broadcasts")
	}
}

func TestHubBroadcastAll(t *testing.T) {
	ts := newTestServer(t)

	ts.processSync(t, event.Event{Type: event.SessionStart, SessionID: "s1", Timestamp: time.Now()})
	ts.processSync(t, event.Event{Type: event.SessionStart, SessionID: "s2", Timestamp: time.Now()})

	conn1 := dialWS(t, ts, "s1")
	conn2 := dialWS(t, ts, "s2")
	readMessage(t, conn1)
	readMessage(t, conn2)

	ts.hub.BroadcastAll(map[string]any{"type": MsgReload})

	if msg := readMessage(t, conn1); msg["type"] != MsgReload {
		t.Errorf("s1 client got %v", msg["type"])
	}
	if msg := readMessage(t, conn2); msg["type"] != MsgReload {
		t.Errorf("s2 client got %v", msg["type"])
	}
}

func TestHubClientCount(t *testing.T) {
	ts := newTestServer(t)
	ts.processSync(t, event.Event{Type: event.SessionStart, SessionID: "s1", Timestamp: time.Now()})

	if n := ts.hub.ClientCount("s1"); n != 0 {
		t.Fatalf("initial count = %d", n)
	}

	conn := dialWS(t, ts, "s1")
	readMessage(t, conn)

	if n := ts.hub.ClientCount("s1"); n != 1 {
		t.Fatalf("count after connect = %d", n)
	}

	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ts.hub.ClientCount("s1") == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("client never removed after close")
}
