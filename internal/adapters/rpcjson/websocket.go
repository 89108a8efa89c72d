package rpcjson

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves the gateway over websocket, one JSON-RPC message
// per frame. The principal is resolved once at the handshake from the
// Authorization header or the token query parameter; without an authenticator
// the token is ignored.
type WebSocketHandler struct {
	gateway  *Gateway
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(gateway *Gateway) *WebSocketHandler {
	return &WebSocketHandler{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var principal *domain.Principal
	if token := handshakeToken(r); token != "" && h.gateway.auth != nil {
		p, err := h.gateway.authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"statusCode": http.StatusUnauthorized,
				"message":    domain.MsgUnauthorized,
				"error":      http.StatusText(http.StatusUnauthorized),
			})
			return
		}
		principal = p
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.gateway.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	sess := NewSession(principal)
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var resp response
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			resp = response{JSONRPC: "2.0", Error: &rpcError{Code: codeParse, Message: "parse error"}, ID: nil}
		} else {
			resp = h.gateway.dispatch(ctx, sess, req)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func handshakeToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
