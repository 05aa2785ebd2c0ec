package transport

import (
	"context"
	"sync"
)

// Mock is an in-process Transport double used by tests: Publish records
// messages (or fails, if Online is false) instead of talking to a broker.
type Mock struct {
	mu        sync.Mutex
	online    bool
	published []Published
	handlers  map[string][]Handler
	stateCh   chan ConnState
	failNext  int
}

// Published records one call to Publish.
type Published struct {
	Topic   string
	Payload []byte
	QoS     int
	Retain  bool
}

// NewMock creates a Mock transport, initially online.
func NewMock() *Mock {
	return &Mock{online: true, handlers: make(map[string][]Handler), stateCh: make(chan ConnState, 16)}
}

// SetOnline flips connectivity and emits a state transition.
func (m *Mock) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()

	state := Disconnected
	if online {
		state = Connected
	}
	m.stateCh <- state
}

// FailNextPublishes makes the next n Publish calls return an error, as if
// the broker round-trip failed despite being "online".
func (m *Mock) FailNextPublishes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *Mock) Publish(_ context.Context, topic string, payload []byte, qos int, retain bool) error {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return errNotConnected
	}
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return errPublishFailed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.published = append(m.published, Published{Topic: topic, Payload: cp, QoS: qos, Retain: retain})
	handlers := append([]Handler(nil), m.handlers[topic]...)
	m.mu.Unlock()

	// Handlers run with the lock released: a handler that itself calls
	// Publish (e.g. a request handler replying on another topic) would
	// otherwise deadlock on this Mock's own non-reentrant mutex.
	for _, h := range handlers {
		h(topic, cp)
	}
	return nil
}

func (m *Mock) Subscribe(topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = append(m.handlers[topic], handler)
	return nil
}

func (m *Mock) ConnectionState() <-chan ConnState {
	return m.stateCh
}

// Published returns a snapshot of everything published so far.
func (m *Mock) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.published))
	copy(out, m.published)
	return out
}
