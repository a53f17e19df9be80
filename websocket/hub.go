package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nest-server/models"
)

// Client is one open browser session. A user can hold several.
type Client struct {
	Hub    *Hub
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub keeps the open sessions per user and mirrors new in-app notifications to them.
type Hub struct {
	clients map[string]map[*Client]struct{}

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Message handlers for frames sent by the browser
	MessageHandlers map[string]MessageHandler

	done chan struct{}
	mu   sync.RWMutex
}

// Message is the frame exchanged with the browser.
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// MessageHandler handles different types of messages
type MessageHandler func(*Client, *Message) error

func NewHub() *Hub {
	hub := &Hub{
		clients:         make(map[string]map[*Client]struct{}),
		Register:        make(chan *Client),
		Unregister:      make(chan *Client),
		MessageHandlers: make(map[string]MessageHandler),
		done:            make(chan struct{}),
	}
	hub.MessageHandlers["ping"] = hub.handlePing
	return hub
}

// Run processes registrations until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]struct{})
			}
			h.clients[client.UserID][client] = struct{}{}
			sessions := len(h.clients[client.UserID])
			h.mu.Unlock()
			logrus.WithFields(logrus.Fields{"user_id": client.UserID, "sessions": sessions}).Debug("🔌 Client registered")

		case client := <-h.Unregister:
			h.remove(client)
			logrus.WithField("user_id", client.UserID).Debug("🔌 Client unregistered")

		case <-ctx.Done():
			h.mu.Lock()
			for userID, sessions := range h.clients {
				for client := range sessions {
					close(client.Send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) register(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := sessions[client]; !ok {
		return
	}
	delete(sessions, client)
	close(client.Send)
	if len(sessions) == 0 {
		delete(h.clients, client.UserID)
	}
}

// PublishNotification mirrors a stored notification to the owner's open sessions.
func (h *Hub) PublishNotification(n *models.Notification) {
	if n == nil {
		return
	}
	h.SendToUser(n.UserID, &Message{
		Type:      "notification",
		Timestamp: time.Now(),
		Data:      n,
	})
}

// SendToUser delivers message to every session of userID and returns how many got it.
// Sessions with a full buffer are skipped.
func (h *Hub) SendToUser(userID string, message *Message) int {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("❌ Error marshaling websocket message")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[userID] {
		select {
		case client.Send <- data:
			delivered++
		default:
			logrus.WithField("user_id", userID).Warn("⚠️ Websocket send buffer is full")
		}
	}
	return delivered
}

// ConnectedSessions returns the number of open sessions for userID.
func (h *Hub) ConnectedSessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) IsUserConnected(userID string) bool {
	return h.ConnectedSessions(userID) > 0
}

func (h *Hub) handlePing(client *Client, _ *Message) error {
	data, err := json.Marshal(&Message{Type: "pong", Timestamp: time.Now()})
	if err != nil {
		return err
	}

	select {
	case client.Send <- data:
	default:
		logrus.WithField("user_id", client.UserID).Warn("⚠️ Could not send pong")
	}
	return nil
}
