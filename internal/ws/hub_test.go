package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/henna-boutique/api/internal/auth"
	"github.com/henna-boutique/api/internal/enum"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// mockClient creates a client for testing without a real WebSocket connection
func mockClient(hub *Hub, room string) *Client {
	return &Client{
		hub:  hub,
		room: room,
		send: make(chan []byte, 256),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go hub.Run(done)
	return hub
}

func TestHubRegistration(t *testing.T) {
	hub := startHub(t)
	client := mockClient(hub, enum.RoomOrders)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if hub.rooms[enum.RoomOrders] == nil {
		t.Fatal("room not created")
	}
	if !hub.rooms[enum.RoomOrders][client] {
		t.Fatal("client not registered in room")
	}
}

func TestHubUnregistration(t *testing.T) {
	hub := startHub(t)
	client := mockClient(hub, enum.RoomOrders)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.Clients(enum.RoomOrders) != 0 {
		t.Fatal("room not cleaned up after last client unregistered")
	}
	if _, ok := <-client.send; ok {
		t.Fatal("send channel should be closed")
	}
}

func TestBroadcastToRoom(t *testing.T) {
	hub := startHub(t)

	orders := mockClient(hub, enum.RoomOrders)
	other := mockClient(hub, "other")
	hub.register <- orders
	hub.register <- other
	time.Sleep(10 * time.Millisecond)

	testPayload := json.RawMessage(`{"order_number":"ABC123"}`)
	if !hub.Broadcast(enum.RoomOrders, Event{Type: "order.created", Payload: testPayload}) {
		t.Fatal("broadcast was dropped")
	}

	select {
	case msg := <-orders.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if received.Type != "order.created" {
			t.Errorf("expected type 'order.created', got '%s'", received.Type)
		}
		if string(received.Payload) != string(testPayload) {
			t.Errorf("expected payload '%s', got '%s'", testPayload, received.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("orders client did not receive message")
	}

	select {
	case <-other.send:
		t.Fatal("client in another room should not receive the message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastToMultipleClients(t *testing.T) {
	hub := startHub(t)

	clients := []*Client{
		mockClient(hub, enum.RoomOrders),
		mockClient(hub, enum.RoomOrders),
		mockClient(hub, enum.RoomOrders),
	}
	for _, c := range clients {
		hub.register <- c
	}
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(enum.RoomOrders, Event{Type: "order.created", Payload: json.RawMessage(`{}`)})

	for i, client := range clients {
		select {
		case <-client.send:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("client%d did not receive message", i+1)
		}
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	hub := startHub(t)

	slow := &Client{hub: hub, room: enum.RoomOrders, send: make(chan []byte)}
	hub.register <- slow
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(enum.RoomOrders, Event{Type: "order.created", Payload: json.RawMessage(`{}`)})
	time.Sleep(10 * time.Millisecond)

	if hub.Clients(enum.RoomOrders) != 0 {
		t.Fatal("slow client should have been dropped")
	}
}

func TestFeedHandler_RejectsMissingToken(t *testing.T) {
	h := NewFeedHandler(startHub(t), testSecret, nil, zap.NewNop())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/ws/orders", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestFeedHandler_RejectsCustomers(t *testing.T) {
	h := NewFeedHandler(startHub(t), testSecret, nil, zap.NewNop())
	token, _ := auth.GenerateToken(testSecret, "amira", enum.UserRoleCustomer)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/ws/orders?token="+token, nil))

	if rr.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestFeedHandler_StreamsBroadcasts(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(NewFeedHandler(hub, testSecret, nil, zap.NewNop()))
	defer srv.Close()

	token, _ := auth.GenerateToken(testSecret, "sam", enum.UserRoleStaff)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/orders?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients(enum.RoomOrders) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(enum.RoomOrders, Event{Type: "order.created", Payload: json.RawMessage(`{"order_number":"X1"}`)})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "order.created" || string(got.Payload) != `{"order_number":"X1"}` {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://henna.example"})

	ok := httptest.NewRequest("GET", "/", nil)
	ok.Header.Set("Origin", "https://henna.example")
	bad := httptest.NewRequest("GET", "/", nil)
	bad.Header.Set("Origin", "https://evil.example")

	if !check(ok) {
		t.Error("allowed origin rejected")
	}
	if check(bad) {
		t.Error("unknown origin accepted")
	}
	if !originChecker(nil)(bad) {
		t.Error("empty allow list should accept any origin")
	}
}
