package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
	"github.com/raaihank/llm-pseudonymizer/internal/service"
)

type testEvent struct {
	Type      EventType       `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func allEvents() *HubConfig {
	return &HubConfig{
		BroadcastAnonymizations: true,
		BroadcastRequests:       true,
		BroadcastSystem:         true,
		BroadcastConnections:    true,
	}
}

func startHub(t *testing.T, cfg *HubConfig) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return hub, "ws" + strings.TrimPrefix(server.URL, "http"), cancel
}

func dial(t *testing.T, hub *Hub, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) testEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event testEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return event
}

func TestHubBroadcast(t *testing.T) {
	hub, url, _ := startHub(t, allEvents())
	conn := dial(t, hub, url, nil)

	hub.NotifyAnonymization(service.Event{
		RequestID:   "req-42",
		Extractor:   "rules:email",
		TextLength:  30,
		EntityCount: 1,
		TypeCounts:  map[privacy.EntityType]int{privacy.EntityEmail: 1},
		Timestamp:   time.Now(),
	})

	event := readEvent(t, conn)
	if event.Type != EventTypeAnonymization || event.RequestID != "req-42" {
		t.Fatalf("Unexpected event: %+v", event)
	}

	var data service.Event
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatalf("Failed to decode event data: %v", err)
	}
	if data.EntityCount != 1 || data.TypeCounts[privacy.EntityEmail] != 1 {
		t.Errorf("Unexpected event data: %+v", data)
	}

	if stats := hub.Stats(); stats.TotalConnections != 1 || stats.ActiveConnections != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHubDisabledEvents(t *testing.T) {
	cfg := allEvents()
	cfg.BroadcastRequests = false
	hub, url, _ := startHub(t, cfg)
	conn := dial(t, hub, url, nil)

	hub.BroadcastRequestLog(RequestLogEvent{RequestID: "hidden", Path: "/anonymize"})
	hub.BroadcastSystemStatus(SystemStatusEvent{Status: "healthy"})

	event := readEvent(t, conn)
	if event.Type != EventTypeSystemStatus {
		t.Errorf("Disabled event type leaked: %+v", event)
	}
}

func TestHubSubscription(t *testing.T) {
	hub, url, _ := startHub(t, allEvents())
	conn := dial(t, hub, url, nil)

	if err := conn.WriteJSON(map[string]any{
		"type": "subscribe",
		"data": map[string]any{"events": []string{"system_status"}},
	}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("Failed to ping: %v", err)
	}
	if event := readEvent(t, conn); event.Type != EventTypePong {
		t.Fatalf("Expected pong, got %+v", event)
	}

	hub.NotifyAnonymization(service.Event{Timestamp: time.Now()})
	hub.BroadcastSystemStatus(SystemStatusEvent{Status: "healthy"})

	if event := readEvent(t, conn); event.Type != EventTypeSystemStatus {
		t.Errorf("Expected only subscribed events, got %+v", event)
	}
}

func TestHubAuth(t *testing.T) {
	cfg := allEvents()
	cfg.Username = "admin"
	cfg.Password = "secret"
	hub, url, _ := startHub(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected unauthenticated dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", resp)
	}

	bad := http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong"))}}
	if _, _, err := websocket.DefaultDialer.Dial(url, bad); err == nil {
		t.Error("Expected wrong password to fail")
	}

	good := http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret"))}}
	dial(t, hub, url, good)
}

func TestHubConnectionEvents(t *testing.T) {
	hub, url, _ := startHub(t, allEvents())
	first := dial(t, hub, url, nil)

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}

	event := readEvent(t, first)
	if event.Type != EventTypeConnection || !strings.Contains(string(event.Data), `"connected"`) {
		t.Fatalf("Expected connected event, got %+v", event)
	}

	second.Close()
	event = readEvent(t, first)
	if event.Type != EventTypeConnection || !strings.Contains(string(event.Data), `"disconnected"`) {
		t.Errorf("Expected disconnected event, got %+v", event)
	}
}

func TestHubShutdown(t *testing.T) {
	hub, url, cancel := startHub(t, allEvents())
	conn := dial(t, hub, url, nil)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Expected connection to be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected no clients after shutdown, got %d", hub.ClientCount())
	}
}
