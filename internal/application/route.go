package application

import (
	"context"
	"fmt"
	"net/http"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// ArtifactNames are the deterministic names of everything one route produces.
type ArtifactNames struct {
	Body       string `json:"body,omitempty"`
	Param      string `json:"param,omitempty"`
	Query      string `json:"query,omitempty"`
	Presenter  string `json:"presenter,omitempty"`
	Service    string `json:"service"`
	Controller string `json:"controller"`
	Gateway    string `json:"gateway,omitempty"`
}

// Route is the artifact set of one RouteConfig: a service bound to its shapes,
// guard and transports. It is immutable after assembly.
type Route struct {
	Entity      domain.EntityDescriptor
	Type        domain.RouteType
	Version     string
	SubPath     string
	Description string
	DisplayName string
	Tag         string
	Names       ArtifactNames
	Method      string
	Path        string
	// Event is empty when the route has no realtime mirror.
	Event string
	DTOs  domain.DTOBundle

	service *EntityService
	guard   Guard
}

// Request is a decoded envelope, identical for both transports.
type Request struct {
	ID    string
	IDs   []string
	Body  domain.Document
	List  []domain.Document
	Query domain.Filter
}

// Key identifies the artifact set: display name, route type and version. One
// entity mounted under two display names yields two artifact sets.
func (r *Route) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.DisplayName, r.Type, normalizeVersion(r.Version))
}

func (r *Route) Endpoint() string {
	return r.Method + " " + r.Path
}

// SuccessStatus is the HTTP status of a successful call.
func (r *Route) SuccessStatus() int {
	switch r.Type {
	case domain.CreateOne, domain.CreateMany, domain.DuplicateOne, domain.DuplicateMany:
		return http.StatusCreated
	}
	return http.StatusOK
}

func (r *Route) Service() *EntityService { return r.service }

// Handle authorizes, maps and runs one decoded request.
func (r *Route) Handle(ctx context.Context, req Request) (any, error) {
	if err := r.guard.Check(ctx, req.ID); err != nil {
		return nil, err
	}

	switch r.Type {
	case domain.GetOne:
		d, err := r.service.GetOne(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return r.present(d)
	case domain.GetMany:
		docs, err := r.service.GetMany(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		return r.presentMany(docs)
	case domain.CreateOne:
		body, err := r.toEntity(req.Body)
		if err != nil {
			return nil, err
		}
		d, err := r.service.CreateOne(ctx, body)
		if err != nil {
			return nil, err
		}
		return r.present(d)
	case domain.CreateMany:
		list, err := r.toEntities(req.List)
		if err != nil {
			return nil, err
		}
		docs, err := r.service.CreateMany(ctx, list)
		if err != nil {
			return nil, err
		}
		return r.presentMany(docs)
	case domain.UpdateOne:
		body, err := r.toEntity(req.Body)
		if err != nil {
			return nil, err
		}
		d, err := r.service.UpdateOne(ctx, req.ID, body)
		if err != nil {
			return nil, err
		}
		return r.present(d)
	case domain.UpdateMany:
		body, err := r.toEntity(req.Body)
		if err != nil {
			return nil, err
		}
		docs, err := r.service.UpdateMany(ctx, req.IDs, body)
		if err != nil {
			return nil, err
		}
		return r.presentMany(docs)
	case domain.DeleteOne:
		res, err := r.service.DeleteOne(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return r.presentDelete(res)
	case domain.DeleteMany:
		res, err := r.service.DeleteMany(ctx, req.IDs)
		if err != nil {
			return nil, err
		}
		return r.presentDelete(res)
	case domain.DuplicateOne:
		body, err := r.toEntity(req.Body)
		if err != nil {
			return nil, err
		}
		d, err := r.service.DuplicateOne(ctx, req.ID, body)
		if err != nil {
			return nil, err
		}
		return r.present(d)
	case domain.DuplicateMany:
		body, err := r.toEntity(req.Body)
		if err != nil {
			return nil, err
		}
		docs, err := r.service.DuplicateMany(ctx, req.IDs, body)
		if err != nil {
			return nil, err
		}
		return r.presentMany(docs)
	case domain.ReplaceOne:
		body, err := r.toEntity(req.Body)
		if err != nil {
			return nil, err
		}
		d, err := r.service.ReplaceOne(ctx, req.ID, body)
		if err != nil {
			return nil, err
		}
		return r.present(d)
	}
	return nil, fmt.Errorf("unsupported route type %q", r.Type)
}

func (r *Route) toEntity(body domain.Document) (domain.Document, error) {
	if body == nil {
		body = domain.Document{}
	}
	shape := r.DTOs.Body
	if shape == nil || shape.ToEntity == nil {
		return body, nil
	}
	return shape.ToEntity(body)
}

func (r *Route) toEntities(list []domain.Document) ([]domain.Document, error) {
	shape := r.DTOs.Body
	switch {
	case shape == nil:
		return list, nil
	case shape.ToEntities != nil:
		return shape.ToEntities(list)
	case shape.ToEntity != nil:
		out := make([]domain.Document, 0, len(list))
		for _, d := range list {
			m, err := shape.ToEntity(d)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	}
	return list, nil
}

func (r *Route) present(d domain.Document) (any, error) {
	shape := r.DTOs.Presenter
	if shape == nil || shape.FromEntity == nil {
		return d, nil
	}
	return shape.FromEntity(d)
}

func (r *Route) presentMany(docs []domain.Document) (any, error) {
	shape := r.DTOs.Presenter
	switch {
	case shape == nil:
		return docs, nil
	case shape.FromEntities != nil:
		return shape.FromEntities(docs)
	case shape.FromEntity != nil:
		out := make([]any, 0, len(docs))
		for _, d := range docs {
			m, err := shape.FromEntity(d)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	}
	return docs, nil
}

func (r *Route) presentDelete(res domain.DeleteResult) (any, error) {
	shape := r.DTOs.Presenter
	if shape == nil || shape.FromDeleteResult == nil {
		return res, nil
	}
	return shape.FromDeleteResult(res)
}

// Guarded reports whether an ability predicate is bound.
func (r *Route) Guarded() bool { return r.guard.Enabled() }
