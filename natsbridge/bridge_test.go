package natsbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/service"
)

type stubPublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
	fail      bool
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{published: make(map[string][][]byte)}
}

func (s *stubPublisher) Publish(subject string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("connection lost")
	}
	s.published[subject] = append(s.published[subject], data)
	return nil
}

func (s *stubPublisher) messages(subject string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.published[subject]...)
}

func TestBridgeForwardsEventsAsJSON(t *testing.T) {
	bus := event.NewBus(nil)
	defer bus.Close()
	pub := newStubPublisher()
	bridge := NewBridge(bus, pub, DefaultOptions(), service.Dependencies{})
	defer bridge.Close()

	bus.Emit(event.Event{
		Kind:    event.KindStarted,
		Service: "db",
		Fields:  map[string]any{"attempt": 1},
	})

	subject := "servicekit.events.started"
	require.Eventually(t, func() bool {
		return len(pub.messages(subject)) == 1
	}, time.Second, 5*time.Millisecond)

	var ev event.Event
	require.NoError(t, json.Unmarshal(pub.messages(subject)[0], &ev))
	assert.Equal(t, event.KindStarted, ev.Kind)
	assert.Equal(t, "db", ev.Service)
	assert.NotEmpty(t, ev.ID)
}

func TestBridgeSubjectPerKind(t *testing.T) {
	bus := event.NewBus(nil)
	defer bus.Close()
	pub := newStubPublisher()
	opts := DefaultOptions()
	opts.SubjectPrefix = "fleet.lifecycle"
	bridge := NewBridge(bus, pub, opts, service.Dependencies{})
	defer bridge.Close()

	assert.Equal(t, "fleet.lifecycle.error", bridge.Subject(event.KindError))

	bus.Emit(event.Event{Kind: event.KindError, Service: "db", Err: "boom"})
	bus.Emit(event.Event{Kind: event.KindStopped, Service: "db"})

	require.Eventually(t, func() bool {
		return len(pub.messages("fleet.lifecycle.error")) == 1 &&
			len(pub.messages("fleet.lifecycle.stopped")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeToleratesPublishFailure(t *testing.T) {
	bus := event.NewBus(nil)
	defer bus.Close()
	pub := newStubPublisher()
	pub.fail = true
	bridge := NewBridge(bus, pub, DefaultOptions(), service.Dependencies{})
	defer bridge.Close()

	// Publish failures are logged, never panic or block the bus.
	bus.Emit(event.Event{Kind: event.KindStarted, Service: "db"})
	bus.Emit(event.Event{Kind: event.KindStopped, Service: "db"})
	time.Sleep(20 * time.Millisecond)
}

func TestBridgeCloseStopsForwarding(t *testing.T) {
	bus := event.NewBus(nil)
	defer bus.Close()
	pub := newStubPublisher()
	bridge := NewBridge(bus, pub, DefaultOptions(), service.Dependencies{})

	bridge.Close()
	bridge.Close()

	bus.Emit(event.Event{Kind: event.KindStarted, Service: "db"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, pub.messages("servicekit.events.started"))
}
