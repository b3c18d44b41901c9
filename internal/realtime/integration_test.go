package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestManager_EndToEnd runs the manager over the real websocket transport
// against a local server: connect, receive a notification, join a topic.
func TestManager_EndToEnd(t *testing.T) {
	joins := make(chan string, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"notification","data":{"title":"New sighting"}}`)); err != nil {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame topicMessage
			if json.Unmarshal(msg, &frame) == nil && frame.Type == typeJoinInvestigation {
				joins <- frame.InvestigationID
			}
		}
	})
	defer server.Close()

	cfg := DefaultManagerConfig()
	cfg.BaseURL = wsURL(server)

	m := NewManager(cfg, StaticToken("tok1"), testLogger())
	defer m.Close()

	sink := &captureSink{}
	m.SetNotificationSink(sink)

	connected := make(chan struct{})
	events := make(chan Event, 4)
	m.OnConnect(func() { close(connected) })
	m.OnMessage(func(ev Event) { events <- ev })

	m.Connect()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connect")
	}
	if !m.IsConnected() {
		t.Fatal("IsConnected = false after connect")
	}

	select {
	case ev := <-events:
		if ev.Type != "notification" {
			t.Errorf("event type = %q, want notification", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	if got := sink.all(); len(got) != 1 || got[0].ID == "" {
		t.Errorf("sink notifications = %+v, want one with generated id", got)
	}

	if err := m.JoinTopic("inv-123"); err != nil {
		t.Fatalf("JoinTopic failed: %v", err)
	}
	select {
	case id := <-joins:
		if id != "inv-123" {
			t.Errorf("server saw join for %q, want inv-123", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for join frame")
	}

	m.Disconnect()
	if m.IsConnected() {
		t.Error("IsConnected = true after Disconnect")
	}
}
