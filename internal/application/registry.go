package application

import (
	"fmt"
	"sort"
	"sync"
)

// NamingCollisionError is returned when two routes would share an artifact key,
// a generated name, an HTTP endpoint or a realtime event.
type NamingCollisionError struct {
	What     string
	Name     string
	Existing string
}

func (e *NamingCollisionError) Error() string {
	return fmt.Sprintf("%s %q is already registered by %s", e.What, e.Name, e.Existing)
}

// Registry holds every assembled route of one application instance.
type Registry struct {
	mu        sync.RWMutex
	routes    map[string]*Route
	artifacts map[string]string
	endpoints map[string]string
	events    map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		routes:    make(map[string]*Route),
		artifacts: make(map[string]string),
		endpoints: make(map[string]string),
		events:    make(map[string]string),
	}
}

// RegisterAll adds routes or none of them.
func (r *Registry) RegisterAll(routes []*Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := &Registry{
		routes:    make(map[string]*Route),
		artifacts: make(map[string]string),
		endpoints: make(map[string]string),
		events:    make(map[string]string),
	}
	for _, rt := range routes {
		if err := r.check(rt); err != nil {
			return err
		}
		if err := pending.check(rt); err != nil {
			return err
		}
		pending.add(rt)
	}
	for _, rt := range routes {
		r.add(rt)
	}
	return nil
}

func (r *Registry) check(rt *Route) error {
	service := rt.Names.Service
	if existing, ok := r.artifacts[rt.Key()]; ok {
		return &NamingCollisionError{What: "route", Name: rt.Key(), Existing: existing}
	}
	if existing, ok := r.routes[service]; ok {
		return &NamingCollisionError{What: "service", Name: service, Existing: existing.Names.Service}
	}
	if existing, ok := r.endpoints[rt.Endpoint()]; ok {
		return &NamingCollisionError{What: "endpoint", Name: rt.Endpoint(), Existing: existing}
	}
	if rt.Event != "" {
		if existing, ok := r.events[rt.Event]; ok {
			return &NamingCollisionError{What: "event", Name: rt.Event, Existing: existing}
		}
	}
	return nil
}

func (r *Registry) add(rt *Route) {
	r.routes[rt.Names.Service] = rt
	r.artifacts[rt.Key()] = rt.Names.Service
	r.endpoints[rt.Endpoint()] = rt.Names.Service
	if rt.Event != "" {
		r.events[rt.Event] = rt.Names.Service
	}
}

func (r *Registry) remove(routes []*Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range routes {
		if r.routes[rt.Names.Service] != rt {
			continue
		}
		delete(r.routes, rt.Names.Service)
		delete(r.artifacts, rt.Key())
		delete(r.endpoints, rt.Endpoint())
		if rt.Event != "" {
			delete(r.events, rt.Event)
		}
	}
}

// Routes returns every registered route sorted by service name.
func (r *Registry) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Names.Service < out[j].Names.Service })
	return out
}

func (r *Registry) Route(service string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[service]
	return rt, ok
}

// ByEvent resolves a realtime event to its route.
func (r *Registry) ByEvent(event string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	service, ok := r.events[event]
	if !ok {
		return nil, false
	}
	return r.routes[service], true
}
