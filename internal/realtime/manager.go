package realtime

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Manager owns one logical realtime channel per client session. It drives the
// reconnection state machine, multiplexes inbound events to the registered
// callbacks, and supports joining/leaving investigation topics over the
// channel.
//
// All public methods are non-blocking: network I/O and retry timers run in
// the background. Failures are absorbed at this boundary and exposed only
// through LastError and logging.
//
// The owner must call Close exactly once when the session ends; this cancels
// any pending reconnect timer and tears down the active transport.
type Manager struct {
	cfg    ManagerConfig
	tokens TokenSource
	logger *slog.Logger
	router *frameRouter

	// Injection points for tests; production uses the websocket dialer and
	// time.AfterFunc.
	dial  Dialer
	timer timerFunc

	mu          sync.Mutex
	status      Status
	lastErr     error
	attempts    int
	intentional bool
	closed      bool
	gen         uint64 // generation of the active transport
	current     Transport
	retry       reconnectTimer

	onConnect    func()
	onDisconnect func()
	onMessage    func(Event)
	sink         NotificationSink
}

// reconnectTimer is a cancellable pending reconnect.
type reconnectTimer interface {
	Stop() bool
}

// timerFunc schedules fn after d.
type timerFunc func(d time.Duration, fn func()) reconnectTimer

func afterFunc(d time.Duration, fn func()) reconnectTimer {
	return time.AfterFunc(d, fn)
}

// NewManager creates a Manager. The token source is consulted on every
// connect attempt. A nil logger falls back to slog.Default().
func NewManager(cfg ManagerConfig, tokens TokenSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
		router: newFrameRouter(logger),
		timer:  afterFunc,
	}
	m.dial = func(u string, h Handlers) Transport {
		return dialWebSocket(u, cfg.HandshakeTimeout, cfg.WriteTimeout, h, logger)
	}
	return m
}

// OnConnect registers a callback fired each time the channel becomes
// connected. Consumers that need topic membership should re-issue JoinTopic
// here: memberships are not replayed automatically after a reconnect.
func (m *Manager) OnConnect(fn func()) {
	m.mu.Lock()
	m.onConnect = fn
	m.mu.Unlock()
}

// OnDisconnect registers a callback fired when the active transport closes.
func (m *Manager) OnDisconnect(fn func()) {
	m.mu.Lock()
	m.onDisconnect = fn
	m.mu.Unlock()
}

// OnMessage registers the subscriber for all parsed inbound events. Events
// are delivered in the order the transport received them.
func (m *Manager) OnMessage(fn func(Event)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// SetNotificationSink registers the sink for inbound "notification" events.
func (m *Manager) SetNotificationSink(s NotificationSink) {
	m.mu.Lock()
	m.sink = s
	m.mu.Unlock()
}

// Connect establishes the channel. It is a no-op while already connecting or
// connected. Without a credential it records ErrNoToken and performs no
// network I/O; the consumer is expected to call Connect again once
// authenticated.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("connect called on closed manager")
		return
	}
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return
	}

	var token string
	if m.tokens != nil {
		token = m.tokens.Token()
	}
	if token == "" {
		m.lastErr = ErrNoToken
		m.mu.Unlock()
		m.logger.Warn("connect skipped", "error", ErrNoToken)
		return
	}

	m.intentional = false
	m.status = StatusConnecting
	m.gen++
	gen := m.gen
	dial := m.dial
	target := connectURL(m.cfg.BaseURL, token)
	m.mu.Unlock()

	// Handlers are bound to this generation. A transport that has been
	// superseded may still fire its callbacks late; the generation check in
	// each handler discards them.
	t := dial(target, Handlers{
		OnOpen:    func() { m.handleOpen(gen) },
		OnMessage: func(data []byte) { m.handleFrame(gen, data) },
		OnError:   func(err error) { m.handleError(gen, err) },
		OnClose:   func() { m.handleClose(gen) },
	})

	m.mu.Lock()
	if gen != m.gen {
		// Superseded while dialing (Disconnect raced the setup).
		m.mu.Unlock()
		t.Close()
		return
	}
	m.current = t
	m.mu.Unlock()

	m.logger.Debug("realtime channel connecting")
}

// Disconnect intentionally tears the channel down. No reconnect is scheduled;
// the state is terminal until Connect is called again. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	t := m.current
	m.current = nil
	m.attempts = 0
	m.status = StatusDisconnected
	// Supersede any in-flight handlers from the old transport.
	m.gen++
	m.mu.Unlock()

	if t != nil {
		m.logger.Info("realtime channel disconnected")
		t.Close()
	}
}

// Close disposes the manager. Further Connect calls are rejected.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Send serializes v as JSON and writes it as one text frame. While
// disconnected the message is dropped: logged, no buffering, no retry.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	t := m.current
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || t == nil {
		m.logger.Warn("send while disconnected, dropping message")
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to encode outbound message", "error", err)
		return err
	}
	if err := t.Send(data); err != nil {
		m.logger.Warn("send failed", "error", err)
		return err
	}
	return nil
}

// JoinTopic subscribes to an investigation's events. Fire-and-forget: the
// manager does not track membership, so after a reconnect the consumer must
// join again (see OnConnect).
func (m *Manager) JoinTopic(investigationID string) error {
	return m.Send(topicMessage{Type: typeJoinInvestigation, InvestigationID: investigationID})
}

// LeaveTopic unsubscribes from an investigation's events.
func (m *Manager) LeaveTopic(investigationID string) error {
	return m.Send(topicMessage{Type: typeLeaveInvestigation, InvestigationID: investigationID})
}

// IsConnected reports whether the channel is up.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusConnected
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the most recent connection failure, or nil. It is
// cleared on every successful open.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// handleOpen transitions Connecting -> Connected.
func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.status = StatusConnected
	m.lastErr = nil
	m.attempts = 0
	cb := m.onConnect
	m.mu.Unlock()

	m.logger.Info("realtime channel connected")
	if cb != nil {
		cb()
	}
}

// handleError records the generic error descriptor. The state transition
// itself is left to the close event, which always follows.
func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = ErrConnection
	m.mu.Unlock()

	m.logger.Warn("transport error", "error", err)
}

// handleClose transitions to Disconnected and, after an unintentional close,
// schedules a retry with exponential backoff up to the attempt ceiling.
func (m *Manager) handleClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.status = StatusDisconnected
	cb := m.onDisconnect
	intentional := m.intentional

	var delay time.Duration
	attempt := m.attempts
	scheduled := false
	if !intentional && m.attempts < m.cfg.MaxReconnectAttempts {
		delay = m.backoffDelay(m.attempts)
		m.attempts++
		m.retry = m.timer(delay, m.retryFire)
		scheduled = true
	}
	m.mu.Unlock()

	if cb != nil {
		cb()
	}

	switch {
	case intentional:
	case scheduled:
		m.logger.Info("reconnect scheduled", "delay", delay, "attempt", attempt+1)
	default:
		m.logger.Warn("reconnect attempts exhausted, giving up",
			"attempts", attempt,
		)
	}
}

func (m *Manager) retryFire() {
	m.mu.Lock()
	m.retry = nil
	// Stop can miss a timer whose function has already started. A retry
	// that lost that race must not resurrect a torn-down channel.
	if m.intentional || m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.Connect()
}

// backoffDelay computes base * 2^attempts capped at the configured maximum.
func (m *Manager) backoffDelay(attempts int) time.Duration {
	d := m.cfg.ReconnectBaseDelay << uint(attempts)
	if d > m.cfg.ReconnectMaxDelay || d <= 0 {
		d = m.cfg.ReconnectMaxDelay
	}
	return d
}

// connectURL builds the dial target from the base origin and credential.
// Page-style http(s) schemes are mapped to their websocket variants.
func connectURL(base, token string) string {
	trimmed := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		trimmed = "wss://" + strings.TrimPrefix(trimmed, "https://")
	case strings.HasPrefix(trimmed, "http://"):
		trimmed = "ws://" + strings.TrimPrefix(trimmed, "http://")
	}
	return trimmed + "/ws?token=" + url.QueryEscape(token)
}
