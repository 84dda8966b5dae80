package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/platform/auth"
)

// Event types pushed to clients.
const (
	EventAppointmentsChanged = "appointments.changed"
	EventSyncStatus          = "sync.status"
	EventBoardNotice         = "board.notice"
)

const (
	clinicianPrefix = "clinician/"
	boardPrefix     = "board/"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ClinicianTopic carries schedule and sync events for one clinician.
func ClinicianTopic(clinicianID string) string { return clinicianPrefix + clinicianID }

// BoardTopic carries notices for one interactive board session.
func BoardTopic(boardID string) string { return boardPrefix + boardID }

// Event is the envelope sent to subscribers.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is what clients send to manage subscriptions.
type ClientMessage struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// EventPublisher is implemented by anything that can fan events out.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Conn abstracts the websocket connection for testing.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single connected websocket client.
type Client struct {
	ID     string
	UserID string
	Topics []string
	Send   chan []byte
	hub    *Hub
	conn   Conn
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool // topic -> set of clients
	all     map[*Client]bool
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]bool),
		all:     make(map[*Client]bool),
		logger:  logger,
	}
}

// CanSubscribe reports whether a user may listen on topic. Clinician topics
// are private to their clinician; board ids are unguessable session ids.
func CanSubscribe(userID, topic string) bool {
	switch {
	case strings.HasPrefix(topic, clinicianPrefix):
		return userID != "" && topic == ClinicianTopic(userID)
	case strings.HasPrefix(topic, boardPrefix):
		return len(topic) > len(boardPrefix)
	default:
		return false
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = true
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]bool)
		}
		h.clients[topic][client] = true
	}
}

// Unregister removes the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.all[client] {
		return
	}
	delete(h.all, client)
	for topic, subs := range h.clients {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.clients, topic)
		}
	}
	close(client.Send)
}

// Subscribe adds the topics the client is allowed to see and returns the
// ones that were refused.
func (h *Hub) Subscribe(client *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var refused []string
	for _, topic := range topics {
		if !CanSubscribe(client.UserID, topic) {
			refused = append(refused, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]bool)
		}
		if h.clients[topic][client] {
			continue
		}
		h.clients[topic][client] = true
		client.Topics = append(client.Topics, topic)
	}
	return refused
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if subs, ok := h.clients[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, topic)
			}
		}
		for i, t := range client.Topics {
			if t == topic {
				client.Topics = append(client.Topics[:i], client.Topics[i+1:]...)
				break
			}
		}
	}
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if refused := h.Subscribe(client, msg.Topics); len(refused) > 0 {
			h.logger.Warn().Str("client", client.ID).Str("user", client.UserID).
				Strs("topics", refused).Msg("subscription refused")
		}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends the event to every subscriber of topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Debug().Str("client", client.ID).Str("topic", topic).Msg("dropping event for slow client")
		}
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// PublishJSON wraps payload in an Event and broadcasts it.
func (h *Hub) PublishJSON(topic, eventType string, payload interface{}) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error().Err(err).Str("type", eventType).Msg("failed to marshal event payload")
			return
		}
		data = b
	}
	h.Broadcast(topic, Event{Type: eventType, Topic: topic, Timestamp: time.Now().UTC(), Data: data})
}

// AppointmentsChanged tells a clinician's clients which days to reload.
func (h *Hub) AppointmentsChanged(_ context.Context, clinicianID string, dates []string) {
	h.PublishJSON(ClinicianTopic(clinicianID), EventAppointmentsChanged, map[string][]string{"dates": dates})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades HTTP requests and pumps events to clients.
type WebSocketHandler struct {
	hub *Hub
}

func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection and subscribes the caller to their
// own clinician topic.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Topics: []string{ClinicianTopic(userID)},
		Send:   make(chan []byte, 256),
		hub:    wsh.hub,
		conn:   &gorillaConnAdapter{ws},
	}
	wsh.hub.Register(client)
	wsh.hub.logger.Debug().Str("client", client.ID).Str("user", userID).Msg("websocket connected")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

func (wsh *WebSocketHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
