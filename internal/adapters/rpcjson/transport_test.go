package rpcjson

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     any             `json:"id"`
}

func TestUnixSocketServer(t *testing.T) {
	g := newTestGateway(t)
	path := filepath.Join(t.TempDir(), "rpc.sock")
	srv, err := Start(path, g)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	require.NoError(t, enc.Encode(map[string]any{"jsonrpc": "2.0", "method": "create-one-note", "params": map[string]any{"body": map[string]any{"text": "over the socket"}}, "id": 1}))
	var resp wireResponse
	require.NoError(t, dec.Decode(&resp))
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "over the socket")

	// the session keeps the principal between calls on one connection
	require.NoError(t, enc.Encode(map[string]any{"jsonrpc": "2.0", "method": "authenticate", "params": map[string]any{"token": "good"}, "id": 2}))
	require.NoError(t, dec.Decode(&resp))
	require.Nil(t, resp.Error)

	require.NoError(t, enc.Encode(map[string]any{"jsonrpc": "2.0", "method": "get-many-note", "id": 3}))
	resp = wireResponse{}
	require.NoError(t, dec.Decode(&resp))
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "over the socket")
}

func TestWebSocketHandler(t *testing.T) {
	g := newTestGateway(t)
	srv := httptest.NewServer(NewWebSocketHandler(g))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": {"Bearer good"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "get-many-note", "id": 1}))
	var out wireResponse
	require.NoError(t, conn.ReadJSON(&out))
	assert.Nil(t, out.Error, "principal from the handshake is used")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	out = wireResponse{}
	require.NoError(t, conn.ReadJSON(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, codeParse, out.Error.Code)
}

func TestWebSocketWithoutAuthenticatorIgnoresToken(t *testing.T) {
	log, _ := test.NewNullLogger()
	g := NewGateway(Options{Routes: noteRoutes(t), Log: log})
	srv := httptest.NewServer(NewWebSocketHandler(g))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?token=anything", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "get-many-note", "id": 1}))
	var out wireResponse
	require.NoError(t, conn.ReadJSON(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, codeForbidden, out.Error.Code)
}

func TestUnixSocketServerCloseDropsConnections(t *testing.T) {
	g := newTestGateway(t)
	path := filepath.Join(t.TempDir(), "rpc.sock")
	srv, err := Start(path, g)
	require.NoError(t, err)

	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	// round trip first so the server has tracked the connection
	require.NoError(t, json.NewEncoder(conn).Encode(map[string]any{"jsonrpc": "2.0", "method": "events.list", "id": 1}))
	var resp wireResponse
	dec := json.NewDecoder(conn)
	require.NoError(t, dec.Decode(&resp))

	require.NoError(t, srv.Close())
	assert.Error(t, dec.Decode(&resp), "connection is closed by the server")
	_, err = net.DialTimeout("unix", path, time.Second)
	assert.Error(t, err)
}
