package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single full-duplex message channel over one underlying
// socket. A Transport dials in the background; lifecycle is reported through
// the Handlers it was created with. After the close handler fires the
// Transport is spent and is never reused.
type Transport interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Close tears the socket down. Idempotent.
	Close() error
}

// Handlers carries the lifecycle callbacks for one Transport instance.
// A handler may be nil. For a given Transport the callbacks fire in order:
// open, then zero or more message/error, then exactly one close.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Dialer creates a Transport connecting to url. The call must not block on
// network I/O; connection progress is reported via h.
type Dialer func(url string, h Handlers) Transport

// wsTransport implements Transport over gorilla/websocket.
type wsTransport struct {
	url              string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	handlers         Handlers
	logger           *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	closeOnce sync.Once
}

// dialWebSocket starts a background dial and returns immediately.
func dialWebSocket(url string, handshakeTimeout, writeTimeout time.Duration, h Handlers, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &wsTransport{
		url:              url,
		handshakeTimeout: handshakeTimeout,
		writeTimeout:     writeTimeout,
		handlers:         h,
		logger:           logger,
	}
	go t.run()
	return t
}

// run dials the socket, signals open, and pumps inbound frames until the
// socket dies.
func (t *wsTransport) run() {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.handshakeTimeout,
	}

	ctx := context.Background()
	if t.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.handshakeTimeout)
		defer cancel()
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.logger.Debug("websocket dial failed", "error", err)
		t.fireError(err)
		t.fireClose()
		return
	}

	t.mu.Lock()
	if t.closed {
		// Close raced the dial; discard the socket.
		t.mu.Unlock()
		conn.Close()
		t.fireClose()
		return
	}
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	t.logger.Debug("websocket connected", "url", t.url)

	if h := t.handlers.OnOpen; h != nil {
		h()
	}

	t.readLoop(conn)
}

// readLoop delivers inbound frames in arrival order.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.connected = false
			closed := t.closed
			t.mu.Unlock()

			if !closed && !isCleanClose(err) {
				t.fireError(err)
			}
			t.fireClose()
			return
		}

		if h := t.handlers.OnMessage; h != nil {
			h(data)
		}
	}
}

// Send writes one text frame to the socket.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the socket. The close handler still fires exactly once,
// from the read loop (or from run if the dial had not completed).
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

func (t *wsTransport) fireError(err error) {
	if h := t.handlers.OnError; h != nil {
		h(err)
	}
}

func (t *wsTransport) fireClose() {
	t.closeOnce.Do(func() {
		if h := t.handlers.OnClose; h != nil {
			h()
		}
	})
}

// isCleanClose reports whether the read error is a normal peer shutdown
// rather than a transport failure.
func isCleanClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
	)
}
