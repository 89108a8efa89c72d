package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	transportUDS  = "uds"
	transportHTTP = "http"
)

// cliConfig is what `auth login` persists. Environment variables win over the
// file so scripts can point one invocation elsewhere.
type cliConfig struct {
	Transport string `json:"transport"`
	Server    string `json:"server"`
	Socket    string `json:"socket"`
	Token     string `json:"token,omitempty"`
}

func defaultConfig() cliConfig {
	return cliConfig{Transport: transportUDS, Server: defaultServer, Socket: defaultSocket}
}

func (c cliConfig) withDefaults() cliConfig {
	def := defaultConfig()
	if c.Transport == "" {
		c.Transport = def.Transport
	}
	if c.Server == "" {
		c.Server = def.Server
	}
	if c.Socket == "" {
		c.Socket = def.Socket
	}
	return c
}

func (c cliConfig) validate() error {
	switch c.Transport {
	case transportUDS, transportHTTP:
		return nil
	}
	return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, transportUDS, transportHTTP)
}

func configPath() (string, error) {
	if p := os.Getenv("DYNAMICAPI_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dynamicapi", "config.json"), nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}

	var cfg cliConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cliConfig{}, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cliConfig{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	for env, field := range map[string]*string{
		"DYNAMICAPI_TRANSPORT": &cfg.Transport,
		"DYNAMICAPI_SERVER":    &cfg.Server,
		"DYNAMICAPI_SOCKET":    &cfg.Socket,
		"DYNAMICAPI_TOKEN":     &cfg.Token,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	cfg = cfg.withDefaults()
	return cfg, cfg.validate()
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := jsonMarshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// apiError is the body generated controllers write on failure.
type apiError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Kind       string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Kind, e.Message)
}

type apiClient struct {
	httpClient *http.Client
	base       *url.URL
	token      string
}

func newAPIClient(server, token string) (*apiClient, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", server)
	}
	return &apiClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		base:       base,
		token:      token,
	}, nil
}

// request sends body as is when it is a json.RawMessage. query carries GetMany
// filters and the ids of batch routes.
func (c *apiClient) request(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := *c.base
	target.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	target.RawQuery = query.Encode()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		if len(b) > 0 {
			reader = bytes.NewReader(b)
		}
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		ae := &apiError{}
		if json.Unmarshal(payload, ae) != nil || ae.Message == "" {
			ae = &apiError{StatusCode: resp.StatusCode, Kind: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(payload))}
		}
		return ae
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}
