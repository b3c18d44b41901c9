package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// frameRouter parses inbound frames into Events and fans them out: every
// parsed event goes to the subscriber callback, and "notification" events are
// additionally turned into Notification records for the sink. A malformed
// frame is logged and dropped; it never affects connection state.
type frameRouter struct {
	logger *slog.Logger
}

func newFrameRouter(logger *slog.Logger) *frameRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &frameRouter{logger: logger}
}

// route processes one inbound frame. Callers invoke it from the transport
// read path, so delivery order matches arrival order.
func (r *frameRouter) route(data []byte, subscriber func(Event), sink NotificationSink) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	ev.Raw = data

	if ev.Type == typeNotification && sink != nil {
		sink.Notify(Notification{
			ID:         uuid.NewString(),
			ReceivedAt: time.Now(),
			Data:       ev.Data,
		})
	}

	if subscriber != nil {
		subscriber(ev)
	}
}

// handleFrame feeds a frame from the active transport into the router.
// Frames from a superseded transport are discarded.
func (m *Manager) handleFrame(gen uint64, data []byte) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	subscriber := m.onMessage
	sink := m.sink
	m.mu.Unlock()

	m.router.route(data, subscriber, sink)
}
