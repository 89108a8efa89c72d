package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcRespError   `json:"error"`
	ID     *int64          `json:"id"`
}

type rpcRespError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func (e *rpcRespError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("rpc error (%d %s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

// rpcConn is one socket session. The server keeps the principal per
// connection, so authenticate followed by calls on the same rpcConn works.
type rpcConn struct {
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	nextID int64
}

func dialRPC(ctx context.Context, socket string) (*rpcConn, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socket, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return &rpcConn{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, nil
}

func (c *rpcConn) Close() error { return c.conn.Close() }

func (c *rpcConn) call(method string, params any, out any) error {
	c.nextID++
	id := c.nextID
	if err := c.enc.Encode(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}); err != nil {
		return err
	}

	var resp rpcResponse
	if err := c.dec.Decode(&resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.ID == nil || *resp.ID != id {
		return fmt.Errorf("rpc response id mismatch for %s", method)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// callRPC runs a single call on a fresh connection.
func callRPC(ctx context.Context, socket, method string, params any, out any) error {
	c, err := dialRPC(ctx, socket)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return c.call(method, params, out)
}
