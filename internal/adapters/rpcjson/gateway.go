package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
	"github.com/atvirokodosprendimai/dynamicapi/internal/metrics"
)

const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeClient         = 40000
	codeUnauthorized   = 40100
	codeForbidden      = 40300
	codeInternal       = 50000
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

type Login interface {
	Login(ctx context.Context, email, password string) (string, *domain.Principal, error)
}

type Options struct {
	Routes  []*application.Route
	Auth    domain.Authenticator
	Login   Login
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Gateway mirrors the generated routes that have an event onto JSON-RPC
// methods. Transports own one Session per connection.
type Gateway struct {
	events    map[string]*application.Route
	auth      domain.Authenticator
	login     Login
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	transport string
}

func NewGateway(opts Options) *Gateway {
	g := &Gateway{
		events:    make(map[string]*application.Route),
		auth:      opts.Auth,
		login:     opts.Login,
		log:       opts.Log,
		metrics:   opts.Metrics,
		transport: metrics.TransportRealtime,
	}
	if g.log == nil {
		g.log = logrus.StandardLogger()
	}
	for _, rt := range opts.Routes {
		if rt.Event != "" {
			g.events[rt.Event] = rt
		}
	}
	return g
}

// withTransport returns a copy labelled for metrics and logs.
func (g *Gateway) withTransport(name string) *Gateway {
	c := *g
	c.transport = name
	return &c
}

// Events lists the served event names in order.
func (g *Gateway) Events() []string {
	out := make([]string, 0, len(g.events))
	for e := range g.events {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Session is the principal bound to one connection by the websocket handshake,
// authenticate or auth.login. Per-call tokens do not change it.
type Session struct {
	mu        sync.RWMutex
	principal *domain.Principal
}

func NewSession(p *domain.Principal) *Session {
	return &Session{principal: p}
}

func (s *Session) Principal() *domain.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}

func (s *Session) set(p *domain.Principal) {
	s.mu.Lock()
	s.principal = p
	s.mu.Unlock()
}

func (g *Gateway) dispatch(ctx context.Context, sess *Session, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidRequest, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "authenticate":
		return g.handleAuthenticate(ctx, sess, req)
	case "auth.login":
		return g.handleAuthLogin(ctx, sess, req)
	case "auth.whoami":
		p, err := g.callPrincipal(ctx, sess, req)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		if p == nil {
			return errorResponse(req.ID, domain.Unauthenticated(nil))
		}
		return response{JSONRPC: "2.0", Result: p, ID: req.ID}
	case "events.list":
		return response{JSONRPC: "2.0", Result: g.Events(), ID: req.ID}
	}

	rt, ok := g.events[req.Method]
	if !ok {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeMethodNotFound, Message: "method not found"}, ID: req.ID}
	}
	principal, err := g.callPrincipal(ctx, sess, req)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	start := time.Now()
	result, err := g.call(ctx, principal, rt, req.Params)
	g.metrics.Observe(g.transport, rt.Names.Service, metrics.Outcome(err), time.Since(start))
	if err != nil {
		if _, client := domain.KindOf(err); !client {
			g.log.WithError(err).WithFields(logrus.Fields{
				"transport": g.transport,
				"event":     rt.Event,
				"route":     rt.Names.Gateway,
			}).Error("realtime call failed")
		}
		return errorResponse(req.ID, err)
	}
	return response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (g *Gateway) call(ctx context.Context, p *domain.Principal, rt *application.Route, params json.RawMessage) (any, error) {
	in, err := rt.DecodePayload(params)
	if err != nil {
		return nil, err
	}
	if p != nil {
		ctx = domain.WithPrincipal(ctx, p)
	}
	return rt.Handle(ctx, in)
}

// callPrincipal resolves who makes one call. A {"token": ...} param applies to
// that call only, like a bearer header on one HTTP request; without it the
// session's principal is used. Without an authenticator tokens are ignored and
// the caller stays anonymous, as over HTTP.
func (g *Gateway) callPrincipal(ctx context.Context, sess *Session, req request) (*domain.Principal, error) {
	if g.auth == nil {
		return sess.Principal(), nil
	}
	var p struct {
		Token string `json:"token"`
	}
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &p) != nil || p.Token == "" {
		return sess.Principal(), nil
	}
	return g.authenticate(ctx, p.Token)
}

func (g *Gateway) handleAuthenticate(ctx context.Context, sess *Session, req request) response {
	var p struct {
		Token string `json:"token"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	principal, err := g.authenticate(ctx, p.Token)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	sess.set(principal)
	return response{JSONRPC: "2.0", Result: principal, ID: req.ID}
}

func (g *Gateway) handleAuthLogin(ctx context.Context, sess *Session, req request) response {
	if g.login == nil {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeMethodNotFound, Message: "method not found"}, ID: req.ID}
	}
	var p struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	token, principal, err := g.login.Login(ctx, p.Email, p.Password)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	sess.set(principal)
	return response{JSONRPC: "2.0", Result: map[string]any{"id": principal.ID, "email": principal.Email, "roles": principal.Roles, "token": token}, ID: req.ID}
}

func (g *Gateway) authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	if g.auth == nil {
		return nil, domain.Unauthenticated(errors.New("authentication is not configured"))
	}
	p, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		if _, ok := domain.KindOf(err); !ok {
			return nil, domain.Unauthenticated(err)
		}
		return nil, err
	}
	return p, nil
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidParams, Message: "invalid params"}, ID: id}
}

// errorResponse maps errors to the same classes the HTTP controller uses.
func errorResponse(id any, err error) response {
	var de *domain.Error
	if !errors.As(err, &de) {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInternal, Message: "internal error"}, ID: id}
	}
	code := codeClient
	switch de.Kind {
	case domain.Unauthorized:
		code = codeUnauthorized
	case domain.Forbidden:
		code = codeForbidden
	}
	return response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: de.Message, Kind: string(de.Kind)}, ID: id}
}
