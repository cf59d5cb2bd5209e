package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/asyncview/internal/projector"
	"github.com/conneroisu/asyncview/internal/view"
)

func setupHub(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(AllowedOrigins{"views.example.com"}, nil, opts...)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		_ = hub.Shutdown(context.Background())
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) UpdateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubPublishesRenders(t *testing.T) {
	hub, server := setupHub(t)
	conn := dial(t, server)

	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(context.Background(), view.Update{
		View:      "clock",
		HTML:      "<p>tick 1</p>",
		State:     projector.StateSubscribed,
		Seq:       2,
		Timestamp: time.Now(),
	})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageRender, msg.Type)
	assert.Equal(t, "clock", msg.Target)
	assert.Equal(t, "<p>tick 1</p>", msg.Content)
	assert.Equal(t, "subscribed", msg.State)
	assert.Equal(t, uint64(2), msg.Sequence)
	assert.Empty(t, msg.Error)

	hub.Publish(context.Background(), view.Update{
		View:  "clock",
		HTML:  "<p class=\"error\">boom</p>",
		State: projector.StateFailed,
		Err:   errors.New("boom"),
		Seq:   3,
	})

	msg = readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "boom", msg.Error)
	assert.Equal(t, "failed", msg.State)

	sent, _ := hub.Stats()
	assert.Equal(t, uint64(2), sent)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, server := setupHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubOriginValidation(t *testing.T) {
	hub := NewHub(AllowedOrigins{"views.example.com"}, nil)
	defer hub.Shutdown(context.Background())

	tests := []struct {
		name   string
		origin string
		want   int
	}{
		{name: "foreign origin", origin: "http://malicious.com", want: http.StatusForbidden},
		{name: "bad scheme", origin: "ftp://views.example.com", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			hub.HandleWebSocket(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	allowed := AllowedOrigins{"views.example.com"}
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/ws", nil)
	assert.True(t, allowed.IsAllowedOrigin("http://localhost:8080", req), "same host is always allowed")
	assert.True(t, allowed.IsAllowedOrigin("https://views.example.com", req))
	assert.False(t, allowed.IsAllowedOrigin("http://other:8080", req))
}

func TestHubConnectionLimitPerIP(t *testing.T) {
	hub, server := setupHub(t, WithMaxConnectionsPerIP(1))
	dial(t, server)
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHubShutdown(t *testing.T) {
	hub, server := setupHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	require.NoError(t, hub.Shutdown(ctx), "shutdown is idempotent")

	assert.True(t, hub.IsShutdown())
	assert.Zero(t, hub.ConnectedClients())

	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "server side closed the connection")

	hub.BroadcastMessage(UpdateMessage{Type: MessageRender, Target: "late"})

	w := httptest.NewRecorder()
	hub.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIPTracker(t *testing.T) {
	tracker := newIPTracker(2)
	assert.True(t, tracker.acquire("a"))
	assert.True(t, tracker.acquire("a"))
	assert.False(t, tracker.acquire("a"))
	assert.True(t, tracker.acquire("b"))

	tracker.release("a")
	assert.True(t, tracker.acquire("a"))

	unlimited := newIPTracker(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.acquire("a"))
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Real-IP", "10.0.0.2")
	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.1", clientIP(req, nil), "headers from untrusted peers are ignored")

	other, err := ParseTrustedProxies([]string{"192.168.0.0/16"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", clientIP(req, other))

	trusted, err := ParseTrustedProxies([]string{"10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", clientIP(req, trusted))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.2", clientIP(req, trusted))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "10.0.0.1", clientIP(req, trusted))

	_, err = ParseTrustedProxies([]string{"gateway"})
	assert.Error(t, err)
}

func TestHubConnectionLimitIgnoresSpoofedHeaders(t *testing.T) {
	hub, server := setupHub(t, WithMaxConnectionsPerIP(1))
	dial(t, server)
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	headers := http.Header{}
	headers.Set("X-Forwarded-For", "203.0.113.9")
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
