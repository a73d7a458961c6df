package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sigforge/catalog"
	"sigforge/core"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialWS(t *testing.T, srv *httptest.Server, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWebSocket_StreamsGraphEvents(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	id, err := a.session.AddNode(catalog.Protocol, nil)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string     `json:"type"`
		Data core.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, string(core.EventNodeAdded), msg.Type)
	assert.Equal(t, id, msg.Data.NodeID)
	assert.Equal(t, a.session.GraphID(), msg.Data.GraphID)
}

func TestWebSocket_RequiresTokenWhenAuthEnabled(t *testing.T) {
	a := newAuthAPI(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "/api/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := dialWS(t, srv, "/api/ws?token="+loginToken(t, a), nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	cfg := testAPIConfig()
	cfg.AllowedOrigins = []string{"http://editor.local"}
	a := newTestAPI(t, cfg)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "/api/ws", http.Header{"Origin": []string{"http://evil.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	go hub.Start()

	assert.Equal(t, 0, hub.ClientCount())
	assert.NoError(t, hub.Broadcast("ping", map[string]string{"k": "v"}))
	hub.Stop()
	assert.NoError(t, hub.Broadcast("after-stop", nil))
}
