package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nest-server/models"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	upgrader := NewUpgrader(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWebSocket(hub, upgrader, w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHubMirrorsNotificationsToEverySession(t *testing.T) {
	hub, srv := startHub(t)

	first := dial(t, srv, "u1")
	second := dial(t, srv, "u1")
	other := dial(t, srv, "u2")

	require.Eventually(t, func() bool {
		return hub.ConnectedSessions("u1") == 2 && hub.IsUserConnected("u2")
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishNotification(&models.Notification{ID: "n1", UserID: "u1", Title: "Request approved"})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, "notification", msg.Type)
		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "n1", data["id"])
		assert.Equal(t, "Request approved", data["title"])
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "other users must not receive the notification")
}

func TestHubAnswersPing(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "u1")
	require.Eventually(t, func() bool { return hub.IsUserConnected("u1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestHubUnregistersClosedSessions(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "u1")
	require.Eventually(t, func() bool { return hub.IsUserConnected("u1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !hub.IsUserConnected("u1") }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, hub.SendToUser("u1", &Message{Type: "notification"}))
}

func TestPublishWithoutSessionsIsNoop(t *testing.T) {
	hub := NewHub()
	hub.PublishNotification(nil)
	hub.PublishNotification(&models.Notification{UserID: "nobody"})
	assert.Equal(t, 0, hub.ConnectedSessions("nobody"))
}

func TestUpgraderOrigins(t *testing.T) {
	upgrader := NewUpgrader([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, upgrader.CheckOrigin(req))

	req.Header.Del("Origin")
	assert.True(t, upgrader.CheckOrigin(req))
}
