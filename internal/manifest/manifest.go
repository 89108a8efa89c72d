// Package manifest loads entity and route declarations from YAML and resolves
// the named abilities, hooks and mappers they reference.
package manifest

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

type Manifest struct {
	Auth     Auth     `yaml:"auth"`
	Entities []Entity `yaml:"entities"`
}

type Auth struct {
	// UsersEntity names the entity that login checks credentials against.
	UsersEntity string `yaml:"usersEntity"`
}

type Entity struct {
	Name          string         `yaml:"name"`
	Collection    string         `yaml:"collection"`
	SoftDeletable bool           `yaml:"softDeletable"`
	Fields        []domain.Field `yaml:"fields"`
	UniqueIndexes [][]string     `yaml:"uniqueIndexes"`
	Controller    Controller     `yaml:"controller"`
	Routes        []Route        `yaml:"routes"`
}

type Controller struct {
	BasePath    string            `yaml:"basePath"`
	Tag         string            `yaml:"tag"`
	DisplayName string            `yaml:"displayName"`
	Realtime    bool              `yaml:"realtime"`
	Abilities   map[string]string `yaml:"abilities"`
}

type Route struct {
	Type         domain.RouteType `yaml:"type"`
	SubPath      string           `yaml:"subPath"`
	Version      string           `yaml:"version"`
	Description  string           `yaml:"description"`
	Exclude      []string         `yaml:"exclude"`
	Ability      string           `yaml:"ability"`
	BeforeSave   string           `yaml:"beforeSave"`
	BeforeCreate string           `yaml:"beforeCreate"`
	AfterSave    string           `yaml:"afterSave"`
	EventName    string           `yaml:"eventName"`
	Realtime     bool             `yaml:"realtime"`
	// Body and Presenter name mappers attached to the projected shapes.
	Body      string `yaml:"body"`
	Presenter string `yaml:"presenter"`
}

// Catalog holds the Go implementations a manifest may reference by name.
type Catalog struct {
	Abilities  map[string]domain.AbilityPredicate
	BeforeSave   map[string]domain.BeforeSaveFunc
	BeforeCreate map[string]domain.BeforeCreateFunc
	AfterSave    map[string]domain.AfterSaveFunc
	// Mappers contribute only their mapping functions.
	Mappers map[string]domain.Shape
}

func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Entities) == 0 {
		return nil, fmt.Errorf("manifest declares no entities")
	}
	seen := make(map[string]struct{}, len(m.Entities))
	for _, e := range m.Entities {
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("entity %q declared twice", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	if m.Auth.UsersEntity != "" {
		if _, ok := seen[m.Auth.UsersEntity]; !ok {
			return nil, fmt.Errorf("auth.usersEntity %q is not declared", m.Auth.UsersEntity)
		}
	}
	return &m, nil
}

func (e Entity) Descriptor() domain.EntityDescriptor {
	return domain.EntityDescriptor{
		Name:          e.Name,
		Collection:    e.Collection,
		Fields:        e.Fields,
		SoftDeletable: e.SoftDeletable,
		UniqueIndexes: e.UniqueIndexes,
	}
}

// Descriptor returns the named entity.
func (m *Manifest) Descriptor(name string) (domain.EntityDescriptor, bool) {
	for _, e := range m.Entities {
		if e.Name == name {
			return e.Descriptor(), true
		}
	}
	return domain.EntityDescriptor{}, false
}

// Assemble builds every declared route through factory.
func (m *Manifest) Assemble(ctx context.Context, factory *application.Factory, catalog Catalog) ([]*application.Route, error) {
	all := make([]*application.Route, 0)
	for _, e := range m.Entities {
		entity := e.Descriptor()
		opts, err := e.Controller.options(catalog)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.Name, err)
		}
		configs := make([]domain.RouteConfig, 0, len(e.Routes))
		for _, r := range e.Routes {
			cfg, err := r.config(entity, catalog)
			if err != nil {
				return nil, fmt.Errorf("entity %s route %s: %w", e.Name, r.Type, err)
			}
			configs = append(configs, cfg)
		}
		routes, err := factory.Build(ctx, entity, opts, configs)
		if err != nil {
			return nil, err
		}
		all = append(all, routes...)
	}
	return all, nil
}

func (c Controller) options(catalog Catalog) (domain.ControllerOptions, error) {
	opts := domain.ControllerOptions{
		BasePath:    c.BasePath,
		APITag:      c.Tag,
		DisplayName: c.DisplayName,
		Realtime:    c.Realtime,
	}
	if len(c.Abilities) == 0 {
		return opts, nil
	}
	types := make([]string, 0, len(c.Abilities))
	for t := range c.Abilities {
		types = append(types, t)
	}
	sort.Strings(types)

	opts.Abilities = make(map[domain.RouteType]domain.AbilityPredicate, len(c.Abilities))
	for _, t := range types {
		rt := domain.RouteType(t)
		if !rt.Valid() {
			return domain.ControllerOptions{}, fmt.Errorf("abilities: unknown route type %q", t)
		}
		pred, err := lookup(catalog.Abilities, "ability", c.Abilities[t])
		if err != nil {
			return domain.ControllerOptions{}, err
		}
		opts.Abilities[rt] = pred
	}
	return opts, nil
}

func (r Route) config(entity domain.EntityDescriptor, catalog Catalog) (domain.RouteConfig, error) {
	if !r.Type.Valid() {
		return domain.RouteConfig{}, fmt.Errorf("unknown route type %q", r.Type)
	}
	cfg := domain.RouteConfig{
		Type:        r.Type,
		SubPath:     r.SubPath,
		Version:     r.Version,
		Description: r.Description,
		Exclude:     r.Exclude,
		EventName:   r.EventName,
		Realtime:    r.Realtime,
	}

	var err error
	if r.Ability != "" {
		if cfg.Ability, err = lookup(catalog.Abilities, "ability", r.Ability); err != nil {
			return domain.RouteConfig{}, err
		}
	}
	if r.BeforeSave != "" {
		if cfg.BeforeSave, err = lookup(catalog.BeforeSave, "beforeSave hook", r.BeforeSave); err != nil {
			return domain.RouteConfig{}, err
		}
	}
	if r.BeforeCreate != "" {
		if r.Type != domain.CreateOne && r.Type != domain.CreateMany {
			return domain.RouteConfig{}, fmt.Errorf("beforeCreate is only run by CreateOne and CreateMany")
		}
		if cfg.BeforeCreate, err = lookup(catalog.BeforeCreate, "beforeCreate hook", r.BeforeCreate); err != nil {
			return domain.RouteConfig{}, err
		}
	}
	if r.AfterSave != "" {
		if cfg.AfterSave, err = lookup(catalog.AfterSave, "afterSave hook", r.AfterSave); err != nil {
			return domain.RouteConfig{}, err
		}
	}
	if r.Body != "" {
		if cfg.DTOs.Body, err = mapped(entity, catalog, r.Body, application.BodyMode(r.Type), r.Exclude); err != nil {
			return domain.RouteConfig{}, err
		}
	}
	if r.Presenter != "" {
		if cfg.DTOs.Presenter, err = mapped(entity, catalog, r.Presenter, application.ModePresenter, r.Exclude); err != nil {
			return domain.RouteConfig{}, err
		}
	}
	return cfg, nil
}

// mapped projects the default shape and attaches the named mapper's functions.
func mapped(entity domain.EntityDescriptor, catalog Catalog, name string, mode application.ShapeMode, exclude []string) (*domain.Shape, error) {
	mapper, err := lookup(catalog.Mappers, "mapper", name)
	if err != nil {
		return nil, err
	}
	shape, err := application.Project(entity, mode, exclude)
	if err != nil {
		return nil, err
	}
	shape.ToEntity = mapper.ToEntity
	shape.ToEntities = mapper.ToEntities
	shape.FromEntity = mapper.FromEntity
	shape.FromEntities = mapper.FromEntities
	shape.FromDeleteResult = mapper.FromDeleteResult
	return shape, nil
}

func lookup[T any](catalog map[string]T, what, name string) (T, error) {
	v, ok := catalog[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("unknown %s %q", what, name)
	}
	return v, nil
}
