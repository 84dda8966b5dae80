package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/platform/auth"
)

func newTestClient(hub *Hub, id, userID string, topics ...string) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
}

func receiveEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newTestClient(hub, "client-1", "clin-1", ClinicianTopic("clin-1")))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("clinician/clin-1") != 1 {
		t.Fatalf("expected 1 client on clinician/clin-1, got %d", hub.TopicCount("clinician/clin-1"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "client-2", "clin-1", ClinicianTopic("clin-1"))
	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(ClinicianTopic("clin-1")) != 0 {
		t.Fatalf("expected empty topic, got %d", hub.TopicCount(ClinicianTopic("clin-1")))
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send to be closed")
	}

	// a second unregister must not panic on the closed channel
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mine := newTestClient(hub, "a", "clin-1", ClinicianTopic("clin-1"))
	other := newTestClient(hub, "b", "clin-2", ClinicianTopic("clin-2"))
	hub.Register(mine)
	hub.Register(other)

	hub.Broadcast(ClinicianTopic("clin-1"), Event{Type: EventSyncStatus, Topic: ClinicianTopic("clin-1")})

	if ev := receiveEvent(t, mine); ev.Type != EventSyncStatus {
		t.Errorf("expected %s, got %s", EventSyncStatus, ev.Type)
	}
	select {
	case <-other.Send:
		t.Error("expected no event for another clinician")
	default:
	}
}

func TestHub_BroadcastSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", UserID: "clin-1", Topics: []string{ClinicianTopic("clin-1")}, Send: make(chan []byte, 1)}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast(ClinicianTopic("clin-1"), Event{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(client.Send))
	}
}

func TestCanSubscribe(t *testing.T) {
	tests := []struct {
		user, topic string
		want        bool
	}{
		{"clin-1", "clinician/clin-1", true},
		{"clin-1", "clinician/clin-2", false},
		{"", "clinician/", false},
		{"clin-1", "board/3f2c", true},
		{"clin-1", "board/", false},
		{"clin-1", "Patient/123", false},
	}
	for _, tt := range tests {
		if got := CanSubscribe(tt.user, tt.topic); got != tt.want {
			t.Errorf("CanSubscribe(%q, %q) = %v, want %v", tt.user, tt.topic, got, tt.want)
		}
	}
}

func TestHub_SubscribeRefusesForeignClinician(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "c", "clin-1")
	hub.Register(client)

	refused := hub.Subscribe(client, []string{BoardTopic("b1"), ClinicianTopic("clin-2"), BoardTopic("b1")})

	if len(refused) != 1 || refused[0] != "clinician/clin-2" {
		t.Fatalf("expected clinician/clin-2 refused, got %v", refused)
	}
	if hub.TopicCount(BoardTopic("b1")) != 1 {
		t.Errorf("expected 1 on board/b1, got %d", hub.TopicCount(BoardTopic("b1")))
	}
	if len(client.Topics) != 1 {
		t.Errorf("expected duplicate subscribe to be ignored, got topics %v", client.Topics)
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "p", "clin-1", ClinicianTopic("clin-1"))
	hub.Register(client)

	var msg ClientMessage
	if err := json.Unmarshal([]byte(`{"action":"subscribe","topics":["board/b1","board/b2"]}`), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	hub.ProcessMessage(client, msg)
	if hub.TopicCount("board/b2") != 1 {
		t.Fatalf("expected 1 on board/b2, got %d", hub.TopicCount("board/b2"))
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"board/b1"}})
	if hub.TopicCount("board/b1") != 0 {
		t.Errorf("expected 0 on board/b1, got %d", hub.TopicCount("board/b1"))
	}
	if len(client.Topics) != 2 {
		t.Errorf("expected 2 topics remaining, got %v", client.Topics)
	}
}

func TestHub_AppointmentsChanged(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "n", "clin-1", ClinicianTopic("clin-1"))
	hub.Register(client)

	hub.AppointmentsChanged(context.Background(), "clin-1", []string{"2024-03-04", "2024-03-05"})

	ev := receiveEvent(t, client)
	if ev.Type != EventAppointmentsChanged {
		t.Fatalf("expected %s, got %s", EventAppointmentsChanged, ev.Type)
	}
	var data struct {
		Dates []string `json:"dates"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if len(data.Dates) != 2 || data.Dates[1] != "2024-03-05" {
		t.Errorf("unexpected dates %v", data.Dates)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestHub_PublishUsesEventTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "pub", "clin-1", BoardTopic("b9"))
	hub.Register(client)

	if err := hub.Publish(context.Background(), Event{Type: EventBoardNotice, Topic: BoardTopic("b9")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev := receiveEvent(t, client); ev.Topic != "board/b9" {
		t.Errorf("expected topic board/b9, got %s", ev.Topic)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(hub, "c", "clin-1", ClinicianTopic("clin-1"))
			hub.Register(c)
			hub.Broadcast(ClinicianTopic("clin-1"), Event{Type: "x"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestWebSocketHandler_HandleConnectRequiresUser(t *testing.T) {
	handler := NewWebSocketHandler(NewHub(zerolog.Nop()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewWebSocketHandler(NewHub(zerolog.Nop()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "clin-1", []string{auth.RoleClinician}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	g := e.Group("", auth.DevAuthMiddleware())
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	own := ClinicianTopic(auth.DevUserID)
	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(own) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(own) != 1 {
		t.Fatalf("expected auto-subscription to %s", own)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{BoardTopic("b1")}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for hub.TopicCount(BoardTopic("b1")) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.PublishJSON(BoardTopic("b1"), EventBoardNotice, map[string]string{"message": "saved"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != EventBoardNotice {
		t.Fatalf("expected %s, got %s", EventBoardNotice, received.Type)
	}
}
