package application

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// ConfigError reports an invalid entity or route configuration at assembly time.
type ConfigError struct {
	Entity string
	Route  domain.RouteType
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Route == "" {
		return fmt.Sprintf("entity %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("entity %s route %s: %v", e.Entity, e.Route, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Factory assembles routes for entities and registers them.
type Factory struct {
	store    domain.DocumentStore
	registry *Registry
	methods  domain.CallbackMethods
	now      domain.Clock
	log      logrus.FieldLogger
}

type FactoryOption func(*Factory)

func WithFactoryClock(now domain.Clock) FactoryOption {
	return func(f *Factory) { f.now = now }
}

func NewFactory(store domain.DocumentStore, registry *Registry, log logrus.FieldLogger, opts ...FactoryOption) *Factory {
	f := &Factory{store: store, registry: registry, now: domain.SystemClock, log: log}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logrus.StandardLogger()
	}
	if f.registry == nil {
		f.registry = NewRegistry()
	}
	f.methods = NewCallbackMethods(store, f.now)
	return f
}

func (f *Factory) Registry() *Registry { return f.registry }

// Build assembles one route per config, registers them together and prepares
// the entity's collection. Nothing is registered when any step fails.
func (f *Factory) Build(ctx context.Context, entity domain.EntityDescriptor, opts domain.ControllerOptions, configs []domain.RouteConfig) ([]*Route, error) {
	if err := entity.Validate(); err != nil {
		return nil, &ConfigError{Entity: entity.Name, Err: err}
	}

	routes := make([]*Route, 0, len(configs))
	for _, cfg := range configs {
		rt, err := f.build(entity, opts, cfg)
		if err != nil {
			return nil, &ConfigError{Entity: entity.Name, Route: cfg.Type, Err: err}
		}
		routes = append(routes, rt)
	}

	if err := f.registry.RegisterAll(routes); err != nil {
		return nil, err
	}
	spec := domain.CollectionSpec{Name: entity.CollectionName(), UniqueKeys: entity.UniqueKeys()}
	if err := f.store.EnsureCollection(ctx, spec); err != nil {
		f.registry.remove(routes)
		return nil, fmt.Errorf("prepare collection for %s: %w", entity.Name, err)
	}

	for _, rt := range routes {
		f.log.WithFields(logrus.Fields{
			"entity":  entity.Name,
			"route":   rt.Names.Service,
			"method":  rt.Method,
			"path":    rt.Path,
			"event":   rt.Event,
			"guarded": rt.guard.Enabled(),
		}).Debug("route assembled")
	}
	return routes, nil
}

func (f *Factory) build(entity domain.EntityDescriptor, opts domain.ControllerOptions, cfg domain.RouteConfig) (*Route, error) {
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("unknown route type %q", cfg.Type)
	}

	display := opts.DisplayName
	if display == "" {
		display = entity.Name
	}
	dtos, err := resolveBundle(entity, cfg, display)
	if err != nil {
		return nil, err
	}

	names := ArtifactNames{
		Service:    NameFor(cfg.Type, display, cfg.Version, KindService),
		Controller: NameFor(cfg.Type, display, cfg.Version, KindController),
	}
	if dtos.Body != nil {
		names.Body = dtos.Body.Name
	}
	if dtos.Param != nil {
		names.Param = dtos.Param.Name
	}
	if dtos.Query != nil {
		names.Query = dtos.Query.Name
	}
	if dtos.Presenter != nil {
		names.Presenter = dtos.Presenter.Name
	}

	event := ""
	if opts.Realtime || cfg.Realtime || cfg.EventName != "" {
		event = cfg.EventName
		if event == "" {
			event = EventName(cfg.Type, cfg.SubPath, display)
		}
		names.Gateway = NameFor(cfg.Type, display, cfg.Version, KindGateway)
	}

	basePath := opts.BasePath
	if basePath == "" {
		basePath = entity.CollectionName()
	}

	service := NewEntityService(entity, f.store, f.now, f.methods, Hooks{BeforeSave: cfg.BeforeSave, BeforeCreate: cfg.BeforeCreate, AfterSave: cfg.AfterSave}, f.log)

	var load func(ctx context.Context, id string) (domain.Document, error)
	if cfg.Type.TargetsResource() {
		load = service.GetOne
	}

	tag := opts.APITag
	if tag == "" {
		tag = display
	}

	return &Route{
		Entity:      entity,
		Type:        cfg.Type,
		Version:     normalizeVersion(cfg.Version),
		SubPath:     strings.Trim(cfg.SubPath, "/"),
		Description: cfg.Description,
		DisplayName: display,
		Tag:         tag,
		Names:       names,
		Method:      MethodFor(cfg.Type),
		Path:        PathFor(basePath, cfg.SubPath, cfg.Version, cfg.Type),
		Event:       event,
		DTOs:        dtos,
		service:     service,
		guard:       NewGuard(abilityFor(cfg, opts), load),
	}, nil
}

// resolveBundle projects the default shapes for cfg.Type and names every
// shape. Caller shapes are copied; Shared ones keep their name.
func resolveBundle(entity domain.EntityDescriptor, cfg domain.RouteConfig, display string) (domain.DTOBundle, error) {
	var def domain.DTOBundle
	var err error
	project := func(mode ShapeMode) *domain.Shape {
		if err != nil {
			return nil
		}
		var s *domain.Shape
		s, err = Project(entity, mode, cfg.Exclude)
		return s
	}

	def.Presenter = project(ModePresenter)
	switch cfg.Type {
	case domain.GetOne, domain.DeleteOne:
		def.Param = paramShape()
	case domain.GetMany:
		def.Query = project(ModePartial)
	case domain.CreateOne, domain.CreateMany:
		def.Body = project(ModeCreate)
	case domain.UpdateOne, domain.DuplicateOne, domain.ReplaceOne:
		def.Param = paramShape()
		def.Body = project(ModePartial)
	case domain.UpdateMany, domain.DuplicateMany:
		def.Query = idsShape()
		def.Body = project(ModePartial)
	case domain.DeleteMany:
		def.Query = idsShape()
	}
	if err != nil {
		return domain.DTOBundle{}, err
	}

	out := domain.DTOBundle{
		Body:      pick(cfg.DTOs.Body, def.Body),
		Param:     pick(cfg.DTOs.Param, def.Param),
		Query:     pick(cfg.DTOs.Query, def.Query),
		Presenter: pick(cfg.DTOs.Presenter, def.Presenter),
	}
	nameShape(out.Body, cfg, display, KindBody)
	nameShape(out.Param, cfg, display, KindParam)
	nameShape(out.Query, cfg, display, KindQuery)
	nameShape(out.Presenter, cfg, display, KindPresenter)
	for _, s := range []*domain.Shape{out.Body, out.Param, out.Query} {
		if s == nil || len(s.Fields) == 0 {
			continue
		}
		if _, err := compileSchema(s); err != nil {
			return domain.DTOBundle{}, err
		}
	}
	return out, nil
}

func pick(custom, fallback *domain.Shape) *domain.Shape {
	if custom == nil {
		return fallback
	}
	c := *custom
	c.Fields = append([]domain.Field(nil), custom.Fields...)
	return &c
}

func nameShape(s *domain.Shape, cfg domain.RouteConfig, display string, kind NameKind) {
	if s == nil {
		return
	}
	if s.Shared && s.Name != "" {
		return
	}
	s.Name = NameFor(cfg.Type, display, cfg.Version, kind)
}

// MethodFor maps a route archetype to its HTTP method.
func MethodFor(t domain.RouteType) string {
	switch t {
	case domain.GetOne, domain.GetMany:
		return http.MethodGet
	case domain.CreateOne, domain.CreateMany, domain.DuplicateOne, domain.DuplicateMany:
		return http.MethodPost
	case domain.UpdateOne, domain.UpdateMany:
		return http.MethodPatch
	case domain.ReplaceOne:
		return http.MethodPut
	case domain.DeleteOne, domain.DeleteMany:
		return http.MethodDelete
	}
	return ""
}

// PathFor renders {basePath}{/subPath}{/vN} plus the archetype suffix, e.g.
// PathFor("users", "", "2", DuplicateOne) == "/users/v2/duplicate/{id}".
func PathFor(basePath, subPath, version string, t domain.RouteType) string {
	segments := make([]string, 0, 5)
	if b := strings.Trim(basePath, "/"); b != "" {
		segments = append(segments, b)
	}
	if s := strings.Trim(subPath, "/"); s != "" {
		segments = append(segments, s)
	}
	if v := normalizeVersion(version); v != "" {
		segments = append(segments, "v"+v)
	}
	switch t {
	case domain.GetOne, domain.UpdateOne, domain.DeleteOne, domain.ReplaceOne:
		segments = append(segments, "{id}")
	case domain.CreateMany:
		segments = append(segments, "many")
	case domain.DuplicateOne:
		segments = append(segments, "duplicate", "{id}")
	case domain.DuplicateMany:
		segments = append(segments, "duplicate")
	}
	return "/" + strings.Join(segments, "/")
}
