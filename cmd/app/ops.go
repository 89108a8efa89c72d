package main

import (
	"context"
	"net/http"
	"net/url"
)

func doLogin(ctx context.Context, cfg cliConfig, email, password string, out any) error {
	in := map[string]any{"email": email, "password": password}
	if cfg.Transport == transportUDS {
		return callRPC(ctx, cfg.Socket, "auth.login", in, out)
	}
	api, err := newAPIClient(cfg.Server, "")
	if err != nil {
		return err
	}
	return api.request(ctx, http.MethodPost, "/auth/login", nil, in, out)
}

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == transportHTTP {
		api, err := newAPIClient(cfg.Server, cfg.Token)
		if err != nil {
			return err
		}
		return api.request(ctx, http.MethodGet, "/auth/whoami", nil, nil, out)
	}
	return callRPC(ctx, cfg.Socket, "auth.whoami", withToken(cfg, nil), out)
}

func doEvents(ctx context.Context, cfg cliConfig, out any) error {
	return callRPC(ctx, cfg.Socket, "events.list", nil, out)
}

// doCall authenticates the session once, then sends every event on the same
// connection.
func doCall(ctx context.Context, cfg cliConfig, calls []eventCall, out func(eventCall, any) error) error {
	c, err := dialRPC(ctx, cfg.Socket)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if cfg.Token != "" {
		if err := c.call("authenticate", map[string]any{"token": cfg.Token}, nil); err != nil {
			return err
		}
	}
	for _, ec := range calls {
		var res any
		if err := c.call(ec.Event, ec.Params, &res); err != nil {
			return err
		}
		if err := out(ec, res); err != nil {
			return err
		}
	}
	return nil
}

type eventCall struct {
	Event  string
	Params map[string]any
}

func doRequest(ctx context.Context, cfg cliConfig, method, path string, query url.Values, body any, out any) error {
	api, err := newAPIClient(cfg.Server, cfg.Token)
	if err != nil {
		return err
	}
	return api.request(ctx, method, path, query, body, out)
}

func withToken(cfg cliConfig, params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	if cfg.Token != "" {
		params["token"] = cfg.Token
	}
	return params
}
