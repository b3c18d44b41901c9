package realtime

import (
	"encoding/json"
	"sync"
	"testing"
)

// captureSink records notifications handed to it.
type captureSink struct {
	mu            sync.Mutex
	notifications []Notification
}

func (s *captureSink) Notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

func (s *captureSink) all() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

func TestRouter_DispatchOrder(t *testing.T) {
	r := newFrameRouter(testLogger())

	var got []string
	subscriber := func(ev Event) { got = append(got, ev.Type) }

	frames := []string{
		`{"type":"chat_message","investigation_id":"inv-1","content":"hello"}`,
		`{"type":"sighting_update","data":{"tiger_id":"T-42"}}`,
		`{"type":"chat_message","investigation_id":"inv-1","content":"again"}`,
	}
	for _, f := range frames {
		r.route([]byte(f), subscriber, nil)
	}

	want := []string{"chat_message", "sighting_update", "chat_message"}
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d type = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRouter_ParsesEnvelope(t *testing.T) {
	r := newFrameRouter(testLogger())

	var got Event
	r.route(
		[]byte(`{"type":"chat_message","investigation_id":"inv-7","content":"hi"}`),
		func(ev Event) { got = ev },
		nil,
	)

	if got.Type != "chat_message" {
		t.Errorf("Type = %q, want chat_message", got.Type)
	}
	if got.InvestigationID != "inv-7" {
		t.Errorf("InvestigationID = %q, want inv-7", got.InvestigationID)
	}
	// Fields outside the envelope stay reachable through Raw.
	var full map[string]any
	if err := json.Unmarshal(got.Raw, &full); err != nil {
		t.Fatalf("Raw not parseable: %v", err)
	}
	if full["content"] != "hi" {
		t.Errorf("Raw content = %v, want hi", full["content"])
	}
}

func TestRouter_NotificationSink(t *testing.T) {
	r := newFrameRouter(testLogger())
	sink := &captureSink{}

	var subscriberCalls int
	r.route(
		[]byte(`{"type":"notification","data":{"title":"New sighting","tiger_id":"T-42"}}`),
		func(Event) { subscriberCalls++ },
		sink,
	)

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	n := got[0]
	if n.ID == "" {
		t.Error("notification ID is empty")
	}
	if n.ReceivedAt.IsZero() {
		t.Error("notification ReceivedAt is zero")
	}
	var payload map[string]string
	if err := json.Unmarshal(n.Data, &payload); err != nil {
		t.Fatalf("notification data not parseable: %v", err)
	}
	if payload["title"] != "New sighting" {
		t.Errorf("title = %q, want %q", payload["title"], "New sighting")
	}

	// Notification events still reach the generic subscriber.
	if subscriberCalls != 1 {
		t.Errorf("subscriber calls = %d, want 1", subscriberCalls)
	}
}

func TestRouter_NonNotificationSkipsSink(t *testing.T) {
	r := newFrameRouter(testLogger())
	sink := &captureSink{}

	r.route([]byte(`{"type":"chat_message"}`), nil, sink)

	if n := len(sink.all()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestRouter_MalformedFrameDropped(t *testing.T) {
	r := newFrameRouter(testLogger())
	sink := &captureSink{}

	var subscriberCalls int
	r.route([]byte(`{not json`), func(Event) { subscriberCalls++ }, sink)

	if subscriberCalls != 0 {
		t.Errorf("subscriber calls = %d, want 0", subscriberCalls)
	}
	if n := len(sink.all()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestHandleFrame_StaleGenerationDiscarded(t *testing.T) {
	m, d, _ := newTestManager(StaticToken("tok1"))
	defer m.Close()

	var delivered int
	m.OnMessage(func(Event) { delivered++ })

	m.Connect()
	a := d.at(0)
	a.open()

	m.Disconnect()
	m.Connect()
	d.at(1).open()

	// A late frame from the superseded transport must not be delivered.
	a.handlers.OnMessage([]byte(`{"type":"chat_message"}`))
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0 from stale transport", delivered)
	}

	d.at(1).handlers.OnMessage([]byte(`{"type":"chat_message"}`))
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1 from active transport", delivered)
	}
}
