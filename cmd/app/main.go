package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/dynamicapi/internal/adapters/auth"
	"github.com/atvirokodosprendimai/dynamicapi/internal/adapters/db/memory"
	sqliteadapter "github.com/atvirokodosprendimai/dynamicapi/internal/adapters/db/sqlite"
	httpadapter "github.com/atvirokodosprendimai/dynamicapi/internal/adapters/http"
	rpcadapter "github.com/atvirokodosprendimai/dynamicapi/internal/adapters/rpcjson"
	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
	"github.com/atvirokodosprendimai/dynamicapi/internal/catalog"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
	"github.com/atvirokodosprendimai/dynamicapi/internal/manifest"
	"github.com/atvirokodosprendimai/dynamicapi/internal/metrics"
)

const (
	defaultSocket   = "/tmp/dynamicapi.sock"
	defaultServer   = "http://127.0.0.1:8080"
	defaultManifest = "dynamicapi.yaml"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("load .env")
	}

	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "dynamicapi",
		Usage: "CRUD route server generated from entity manifests, and its CLI",
		Commands: []*cli.Command{
			serverCommand(),
			routesCommand(),
			authCommand(),
			eventsCommand(),
			callCommand(),
			requestCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		logrus.Fatal(err)
	}
}

type serverConfig struct {
	Addr          string
	RPCSocket     string
	DBPath        string
	Store         string
	Manifest      string
	JWTSecret     string
	TokenTTL      time.Duration
	AdminEmail    string
	AdminPassword string
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Serve the generated routes over HTTP, websocket and the unix socket",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "HTTP listen address", Sources: cli.EnvVars("DYNAMICAPI_ADDR")},
			&cli.StringFlag{Name: "rpc-socket", Value: defaultSocket, Usage: "JSON-RPC unix socket path", Sources: cli.EnvVars("DYNAMICAPI_RPC_SOCKET")},
			&cli.StringFlag{Name: "db-path", Value: "dynamicapi.db", Usage: "SQLite database path", Sources: cli.EnvVars("DYNAMICAPI_DB_PATH")},
			&cli.StringFlag{Name: "store", Value: "sqlite", Usage: "document store: sqlite or memory", Sources: cli.EnvVars("DYNAMICAPI_STORE")},
			&cli.StringFlag{Name: "manifest", Value: defaultManifest, Usage: "entity manifest (YAML)", Sources: cli.EnvVars("DYNAMICAPI_MANIFEST")},
			&cli.StringFlag{Name: "jwt-secret", Usage: "HS256 signing secret; empty disables authentication", Sources: cli.EnvVars("DYNAMICAPI_JWT_SECRET")},
			&cli.DurationFlag{Name: "token-ttl", Value: 12 * time.Hour, Usage: "issued token lifetime", Sources: cli.EnvVars("DYNAMICAPI_TOKEN_TTL")},
			&cli.StringFlag{Name: "bootstrap-admin-email", Usage: "admin user created when missing", Sources: cli.EnvVars("DYNAMICAPI_ADMIN_EMAIL")},
			&cli.StringFlag{Name: "bootstrap-admin-password", Usage: "password of the bootstrap admin", Sources: cli.EnvVars("DYNAMICAPI_ADMIN_PASSWORD")},
		}, logFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			log, err := newLogger(c.String("log-level"), c.String("log-format"))
			if err != nil {
				return err
			}
			return runServer(ctx, log, serverConfig{
				Addr:          c.String("addr"),
				RPCSocket:     c.String("rpc-socket"),
				DBPath:        c.String("db-path"),
				Store:         c.String("store"),
				Manifest:      c.String("manifest"),
				JWTSecret:     c.String("jwt-secret"),
				TokenTTL:      c.Duration("token-ttl"),
				AdminEmail:    c.String("bootstrap-admin-email"),
				AdminPassword: c.String("bootstrap-admin-password"),
			})
		},
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", Sources: cli.EnvVars("DYNAMICAPI_LOG_LEVEL")},
		&cli.StringFlag{Name: "log-format", Value: "text", Usage: "text or json", Sources: cli.EnvVars("DYNAMICAPI_LOG_FORMAT")},
	}
}

func newLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

func openStore(ctx context.Context, log logrus.FieldLogger, kind, dbPath string) (domain.DocumentStore, error) {
	switch kind {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		db, err := sqliteadapter.Open(dbPath)
		if err != nil {
			return nil, err
		}
		applied, err := sqliteadapter.RunMigrations(ctx, db)
		if err != nil {
			return nil, err
		}
		if len(applied) > 0 {
			log.WithFields(logrus.Fields{"db": dbPath, "versions": applied}).Info("schema migrated")
		}
		return sqliteadapter.NewStore(db), nil
	}
	return nil, fmt.Errorf("unknown store %q", kind)
}

func runServer(ctx context.Context, log *logrus.Logger, cfg serverConfig) error {
	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, log, cfg.Store, cfg.DBPath)
	if err != nil {
		return err
	}

	factory := application.NewFactory(store, application.NewRegistry(), log)
	routes, err := m.Assemble(ctx, factory, catalog.New(m, log))
	if err != nil {
		return err
	}

	var authSvc *auth.Service
	if cfg.JWTSecret != "" {
		users, ok := m.Descriptor(m.Auth.UsersEntity)
		if !ok {
			return errors.New("jwt secret is set but the manifest has no auth.usersEntity")
		}
		authSvc, err = auth.NewService(application.NewCallbackMethods(store, nil), auth.Config{
			Secret: []byte(cfg.JWTSecret),
			TTL:    cfg.TokenTTL,
			Users:  users,
		}, nil)
		if err != nil {
			return err
		}
		if err := authSvc.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	} else {
		log.Warn("no jwt secret configured, every caller is anonymous")
	}

	mtr := metrics.New()
	gwOpts := rpcadapter.Options{Routes: routes, Log: log, Metrics: mtr}
	routerOpts := httpadapter.Options{Routes: routes, Log: log, Metrics: mtr}
	if authSvc != nil {
		gwOpts.Auth, gwOpts.Login = authSvc, authSvc
		routerOpts.Auth, routerOpts.Login = authSvc, authSvc
	}
	gateway := rpcadapter.NewGateway(gwOpts)
	routerOpts.Realtime = rpcadapter.NewWebSocketHandler(gateway)

	router := httpadapter.NewRouter(routerOpts)
	srv := &http.Server{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(cfg.RPCSocket, gateway)
	if err != nil {
		return err
	}

	defer func() {
		_ = rpcSrv.Close()
	}()
	log.WithFields(logrus.Fields{"socket": cfg.RPCSocket, "events": len(gateway.Events())}).Info("json-rpc listening")

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "routes": len(routes)}).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func routesCommand() *cli.Command {
	return &cli.Command{
		Name:  "routes",
		Usage: "Assemble the manifest in memory and list the generated routes",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "manifest", Value: defaultManifest, Usage: "entity manifest (YAML)", Sources: cli.EnvVars("DYNAMICAPI_MANIFEST")},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		}, logFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			log, err := newLogger(c.String("log-level"), c.String("log-format"))
			if err != nil {
				return err
			}
			m, err := manifest.Load(c.String("manifest"))
			if err != nil {
				return err
			}
			factory := application.NewFactory(memory.New(), application.NewRegistry(), log)
			if _, err := m.Assemble(ctx, factory, catalog.New(m, log)); err != nil {
				return err
			}
			routes := factory.Registry().Routes()
			if c.Bool("json") {
				return printJSON(routeRows(routes))
			}
			printRoutes(routes)
			return nil
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login and store CLI token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Value: transportUDS, Usage: "uds or http"},
					&cli.StringFlag{Name: "server", Value: defaultServer},
					&cli.StringFlag{Name: "socket", Value: defaultSocket},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}.withDefaults()
					if err := cfg.validate(); err != nil {
						return err
					}
					var out struct {
						Token string `json:"token"`
						Email string `json:"email"`
					}
					if err := doLogin(ctx, cfg, c.String("email"), c.String("password"), &out); err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("logged in as %s\n", out.Email)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show the principal of the stored token",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.Principal
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"id", out.ID}, {"email", out.Email}, {"roles", strings.Join(out.Roles, ",")}})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Clear local CLI auth token",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List realtime events served on the unix socket",
		Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var out []string
			if err := doEvents(ctx, cfg, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printEvents(out)
			return nil
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Send realtime events over the unix socket",
		ArgsUsage: "<event>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "document id"},
			&cli.StringSliceFlag{Name: "ids", Usage: "document ids"},
			&cli.StringFlag{Name: "body", Usage: "JSON body"},
			&cli.StringFlag{Name: "query", Usage: "JSON filter object"},
			&cli.StringFlag{Name: "batch", Usage: "YAML file with a list of {event, params} to send in order"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var calls []eventCall
			if path := c.String("batch"); path != "" {
				if calls, err = loadBatch(path); err != nil {
					return err
				}
			} else {
				event := c.Args().First()
				if event == "" {
					return errors.New("event name or --batch is required")
				}
				params := map[string]any{}
				if v := c.String("id"); v != "" {
					params["id"] = v
				}
				if v := c.StringSlice("ids"); len(v) > 0 {
					params["ids"] = v
				}
				if v := c.String("body"); v != "" {
					params["body"] = json.RawMessage(v)
				}
				if v := c.String("query"); v != "" {
					params["query"] = json.RawMessage(v)
				}
				calls = []eventCall{{Event: event, Params: params}}
			}

			return doCall(ctx, cfg, calls, func(ec eventCall, res any) error {
				if len(calls) == 1 {
					return printJSON(res)
				}
				return printJSON(map[string]any{"event": ec.Event, "result": res})
			})
		},
	}
}

func loadBatch(path string) ([]eventCall, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Event  string         `yaml:"event"`
		Params map[string]any `yaml:"params"`
	}
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", path, err)
	}
	calls := make([]eventCall, 0, len(entries))
	for i, e := range entries {
		if e.Event == "" {
			return nil, fmt.Errorf("batch entry %d has no event", i)
		}
		calls = append(calls, eventCall{Event: e.Event, Params: e.Params})
	}
	return calls, nil
}

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "Send one HTTP request to a generated route",
		ArgsUsage: "<method> <path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "body", Usage: "JSON body"},
			&cli.StringSliceFlag{Name: "query", Usage: "filter as field=value, repeatable"},
			&cli.StringSliceFlag{Name: "ids", Usage: "document ids for batch routes"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() < 2 {
				return errors.New("method and path are required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			query := url.Values{}
			for _, kv := range c.StringSlice("query") {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("query %q must be field=value", kv)
				}
				query.Add(k, v)
			}
			if ids := c.StringSlice("ids"); len(ids) > 0 {
				query.Set("ids", strings.Join(ids, ","))
			}

			var body json.RawMessage
			if v := c.String("body"); v != "" {
				body = json.RawMessage(v)
			}
			var out any
			if err := doRequest(ctx, cfg, strings.ToUpper(c.Args().Get(0)), c.Args().Get(1), query, body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
