package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestTransport_OpenAndMessages(t *testing.T) {
	frames := []string{
		`{"type":"notification","data":{"title":"one"}}`,
		`{"type":"chat_message","content":"two"}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	opened := make(chan struct{})
	messages := make(chan string, len(frames))

	tr := dialWebSocket(wsURL(server), 5*time.Second, time.Second, Handlers{
		OnOpen:    func() { close(opened) },
		OnMessage: func(data []byte) { messages <- string(data) },
	}, testLogger())
	defer tr.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}

	for i, want := range frames {
		select {
		case got := <-messages:
			if got != want {
				t.Errorf("message %d = %q, want %q", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestTransport_Send(t *testing.T) {
	received := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
	})
	defer server.Close()

	opened := make(chan struct{})
	tr := dialWebSocket(wsURL(server), 5*time.Second, time.Second, Handlers{
		OnOpen: func() { close(opened) },
	}, testLogger())
	defer tr.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}

	if err := tr.Send([]byte(`{"type":"join_investigation","investigation_id":"inv-1"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got != `{"type":"join_investigation","investigation_id":"inv-1"}` {
			t.Errorf("server received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server receive")
	}
}

func TestTransport_SendBeforeOpen(t *testing.T) {
	// Dial to a port with no listener: the transport never reaches open.
	tr := dialWebSocket("ws://127.0.0.1:1", time.Second, time.Second, Handlers{}, testLogger())
	defer tr.Close()

	if err := tr.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}

func TestTransport_ServerCloseFiresClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	})
	defer server.Close()

	errored := make(chan struct{}, 1)
	closed := make(chan struct{})

	tr := dialWebSocket(wsURL(server), 5*time.Second, time.Second, Handlers{
		OnError: func(error) { errored <- struct{}{} },
		OnClose: func() { close(closed) },
	}, testLogger())
	defer tr.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}

	// A normal peer shutdown is not a transport error.
	select {
	case <-errored:
		t.Error("unexpected error callback on clean close")
	default:
	}
}

func TestTransport_DialFailure(t *testing.T) {
	errored := make(chan struct{})
	closed := make(chan struct{})

	dialWebSocket("ws://127.0.0.1:1", time.Second, time.Second, Handlers{
		OnError: func(error) { close(errored) },
		OnClose: func() { close(closed) },
	}, testLogger())

	select {
	case <-errored:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for error")
	}
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for close after error")
	}
}

func TestTransport_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	opened := make(chan struct{})
	tr := dialWebSocket(wsURL(server), 5*time.Second, time.Second, Handlers{
		OnOpen: func() { close(opened) },
	}, testLogger())

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}

	if err := tr.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
