package mqtt

import (
	"fmt"
	"strings"
	"sync"

	coremqtt "github.com/kilianp07/sohbench/core/mqtt"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// Message is one payload recorded by MockClient.
type Message struct {
	Topic   string
	Payload []byte
}

// MockClient is an in-memory broker used in tests. Deliver routes a payload
// to the handlers whose filter matches the topic.
type MockClient struct {
	mu       sync.Mutex
	Messages []Message
	FailAll  bool
	handlers map[string]coremqtt.Handler
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{handlers: make(map[string]coremqtt.Handler)}
}

// Publish records the message or returns an error if configured to fail.
func (m *MockClient) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return fmt.Errorf("publish failed")
	}
	m.Messages = append(m.Messages, Message{Topic: topic, Payload: payload})
	return nil
}

func (m *MockClient) Subscribe(filter string, h coremqtt.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filter] = h
	return nil
}

// Deliver simulates an incoming message.
func (m *MockClient) Deliver(topic string, payload []byte) {
	m.mu.Lock()
	var hs []coremqtt.Handler
	for filter, h := range m.handlers {
		if matches(filter, topic) {
			hs = append(hs, h)
		}
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

// Published returns a copy of the recorded messages.
func (m *MockClient) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Messages...)
}

// matches implements the single-level + and trailing # wildcards.
func matches(filter, topic string) bool {
	for {
		f, frest, fmore := strings.Cut(filter, "/")
		t, trest, tmore := strings.Cut(topic, "/")
		switch {
		case f == "#":
			return true
		case f != "+" && f != t:
			return false
		case !fmore || !tmore:
			return fmore == tmore
		}
		filter, topic = frest, trest
	}
}
