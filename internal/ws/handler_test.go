package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newServer(t *testing.T, opts Options) (*fixture, string) {
	t.Helper()
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.router, f.hub, opts, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandlerRoundTrip(t *testing.T) {
	f, url := newServer(t, Options{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := readEvent(t, conn)
	require.Equal(t, "error", ev.Type)
	var reply ErrorReply
	require.NoError(t, json.Unmarshal(ev.Data, &reply))
	assert.Equal(t, "validation", reply.Kind)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "presence:join",
		"data": map[string]string{"id": "alice", "name": "Alice"},
	}))
	assert.Equal(t, "presence:sync", readEvent(t, conn).Type)
	assert.True(t, f.tracker.Present("alice"))

	conn.Close()
	assert.Eventually(t, func() bool {
		return !f.tracker.Present("alice") && f.hub.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	_, url := newServer(t, Options{AllowedOrigins: []string{"https://play.example"}})

	header := http.Header{"Origin": {"https://elsewhere.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://play.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
