package application

import (
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

type ShapeMode int

const (
	// ModeCreate keeps every declared field with its required flag.
	ModeCreate ShapeMode = iota
	// ModePartial keeps every declared field as optional.
	ModePartial
	// ModePresenter describes a stored document as returned to callers.
	ModePresenter
)

// BaseExclusions are never part of a request shape.
var BaseExclusions = []string{
	domain.FieldID,
	domain.FieldCreatedAt,
	domain.FieldUpdatedAt,
	domain.FieldDeletedAt,
	domain.FieldIsDeleted,
	domain.FieldInternalID,
	domain.FieldInternalVersion,
}

func isBaseField(name string) bool {
	for _, f := range BaseExclusions {
		if f == name {
			return true
		}
	}
	return false
}

// Project derives a shape from entity. exclude extends BaseExclusions; it may
// not name the identifier or a field the entity does not have.
func Project(entity domain.EntityDescriptor, mode ShapeMode, exclude []string) (*domain.Shape, error) {
	if err := checkExclusions(entity, exclude); err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	fields := make([]domain.Field, 0, len(entity.Fields)+3)
	if mode == ModePresenter {
		fields = append(fields,
			domain.Field{Name: domain.FieldID, Kind: domain.KindString, Required: true},
			domain.Field{Name: domain.FieldCreatedAt, Kind: domain.KindTime, Required: true},
			domain.Field{Name: domain.FieldUpdatedAt, Kind: domain.KindTime, Required: true},
		)
	}
	for _, f := range entity.DeclaredFields() {
		if _, ok := skip[f.Name]; ok {
			continue
		}
		if f.Kind == "" {
			f.Kind = domain.KindAny
		}
		f.Unique = false
		if mode == ModePartial {
			f.Required = false
		}
		fields = append(fields, f)
	}
	return &domain.Shape{Fields: fields}, nil
}

func checkExclusions(entity domain.EntityDescriptor, exclude []string) error {
	for _, name := range exclude {
		switch {
		case name == "":
			return errors.New("exclusion list contains an empty field name")
		case name == domain.FieldID:
			return fmt.Errorf("exclusion list may not contain %q", domain.FieldID)
		case isBaseField(name):
		default:
			if _, ok := entity.Field(name); !ok {
				return fmt.Errorf("exclusion list names unknown field %q", name)
			}
		}
	}
	return nil
}

// paramShape describes the path parameters of routes addressing one document.
func paramShape() *domain.Shape {
	return &domain.Shape{Fields: []domain.Field{{Name: domain.FieldID, Kind: domain.KindString, Required: true}}}
}

// idsShape describes the id list of batch routes.
func idsShape() *domain.Shape {
	return &domain.Shape{Fields: []domain.Field{{Name: "ids", Kind: domain.KindArray, Required: true}}}
}

// BodyMode is the projection used for the request body of t.
func BodyMode(t domain.RouteType) ShapeMode {
	switch t {
	case domain.CreateOne, domain.CreateMany:
		return ModeCreate
	}
	return ModePartial
}
