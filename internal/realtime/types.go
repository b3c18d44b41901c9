package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	// ErrNoToken is recorded when Connect is called without a credential.
	ErrNoToken = errors.New("no authentication token available")

	// ErrNotConnected is returned by sends attempted while the channel is down.
	ErrNotConnected = errors.New("not connected")

	// ErrConnection is the generic descriptor recorded on transport errors.
	// The underlying cause is logged but not surfaced to consumers.
	ErrConnection = errors.New("connection error")
)

// Message type constants for the wire protocol.
const (
	typeJoinInvestigation  = "join_investigation"
	typeLeaveInvestigation = "leave_investigation"
	typeNotification       = "notification"
)

// Event is a structurally-typed message received over the channel.
// Raw holds the full frame for consumers that need fields beyond the
// common envelope.
type Event struct {
	Type            string          `json:"type"`
	Data            json.RawMessage `json:"data,omitempty"`
	InvestigationID string          `json:"investigation_id,omitempty"`

	Raw []byte `json:"-"`
}

// Notification is a record built from an inbound "notification" event.
// The ID is generated locally; the server payload is carried as-is.
type Notification struct {
	ID         string
	ReceivedAt time.Time
	Data       json.RawMessage
}

// NotificationSink receives notification records extracted by the message
// router. Implementations must not block for long: Notify is called from the
// transport read path.
type NotificationSink interface {
	Notify(Notification)
}

// TokenSource supplies the current session credential. It is consulted fresh
// on every connect attempt so a rotated token is picked up by the next
// reconnect.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource holding a fixed credential.
type StaticToken string

// Token returns the credential.
func (t StaticToken) Token() string { return string(t) }

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func() string

// Token returns the credential.
func (f TokenFunc) Token() string { return f() }

// topicMessage is the control frame for joining/leaving an investigation.
type topicMessage struct {
	Type            string `json:"type"`
	InvestigationID string `json:"investigation_id"`
}

// Status is the connection status of a Manager.
type Status int

const (
	// StatusDisconnected is the initial state and the terminal state after an
	// intentional disconnect.
	StatusDisconnected Status = iota

	// StatusConnecting means a transport is dialing.
	StatusConnecting

	// StatusConnected means the transport has signalled open.
	StatusConnected
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// BaseURL is the server origin, e.g. "wss://tigerid.example.org".
	// "http"/"https" schemes are converted to "ws"/"wss". The manager
	// appends "/ws?token=<credential>" per connect attempt.
	BaseURL string

	HandshakeTimeout time.Duration // dial deadline for each attempt
	WriteTimeout     time.Duration // write deadline for sends

	ReconnectBaseDelay   time.Duration // first retry delay
	ReconnectMaxDelay    time.Duration // cap on the backoff delay
	MaxReconnectAttempts int           // retry ceiling before giving up
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}
