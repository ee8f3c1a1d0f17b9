package maxcube

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/infrastructure/mqtt"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
	subscribeErr  error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the messages published on topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler whose pattern matches
// topic, honouring single-level '+' wildcards.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		_ = handler(topic, payload)
	}
}

func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// mockCommander implements Commander for testing.
type mockCommander struct {
	mu    sync.Mutex
	calls []commandCall
	err   error
}

type commandCall struct {
	Kind    string
	Room    string
	Celsius float64
	Mode    cube.Mode
	Day     cube.Weekday
	Points  []cube.SchedulePoint
}

func (c *mockCommander) ChangeTemp(_ context.Context, room string, celsius float64) error {
	return c.record(commandCall{Kind: "temp", Room: room, Celsius: celsius})
}

func (c *mockCommander) ChangeMode(_ context.Context, room string, mode cube.Mode) error {
	return c.record(commandCall{Kind: "mode", Room: room, Mode: mode})
}

func (c *mockCommander) ChangeSchedule(_ context.Context, room string, day cube.Weekday, points []cube.SchedulePoint) error {
	return c.record(commandCall{Kind: "schedule", Room: room, Day: day, Points: points})
}

func (c *mockCommander) record(call commandCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.err
}

func (c *mockCommander) Calls() []commandCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commandCall(nil), c.calls...)
}

// mockStatus implements StatusSource for testing.
type mockStatus struct {
	mu      sync.Mutex
	session cube.SessionInfo
	stats   cube.Stats
}

func (s *mockStatus) Session() cube.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *mockStatus) Stats() cube.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *mockStatus) SetState(state cube.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.State = state
}

// mockLogger records warnings.
type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Info(string, ...any)  {}
func (l *mockLogger) Error(string, ...any) {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *mockLogger) Warns() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const testSerial = "NEQ0526955"

func livingSnapshot(version uint64, changes cube.ChangeFlags) cube.RoomSnapshot {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	snap := cube.RoomSnapshot{
		ID:         1,
		Name:       "Living",
		SetTemp:    cube.TimedTemperature{Celsius: 21.5, UpdatedAt: now},
		ActualTemp: cube.TimedTemperature{Celsius: 19.8, UpdatedAt: now},
		Mode:       cube.ModeAuto,
		Valve:      cube.TimedValve{Percent: 42, UpdatedAt: now},
		Version:    version,
		Changes:    changes,
	}
	snap.Schedule[cube.Saturday][0] = cube.SchedulePoint{Temperature: 17, EndMinute: 360}
	snap.Schedule[cube.Saturday][1] = cube.SchedulePoint{Temperature: 21, EndMinute: 1440}
	return snap
}

// newTestBridge returns a started bridge and its mocks.
func newTestBridge(t *testing.T, serial string) (*Bridge, *MockMQTTClient, *mockCommander) {
	t.Helper()
	client := NewMockMQTTClient()
	cmd := &mockCommander{}
	b, err := NewBridge(BridgeOptions{
		MQTTClient:     client,
		Commander:      cmd,
		Status:         &mockStatus{session: cube.SessionInfo{State: cube.StateConnected}},
		Serial:         serial,
		QoS:            1,
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, client, cmd
}
