package application

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// compiled schemas keyed by shapeKey.
var schemas sync.Map

// JSONSchema renders shape as a draft-04 object schema: declared fields only,
// required fields listed, time fields as date-time strings.
func JSONSchema(shape *domain.Shape) map[string]any {
	props := make(map[string]any, len(shape.Fields))
	required := make([]string, 0, len(shape.Fields))
	for _, f := range shape.Fields {
		props[f.Name] = kindSchema(f.Kind)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func kindSchema(kind domain.FieldKind) map[string]any {
	switch kind {
	case domain.KindString:
		return map[string]any{"type": "string"}
	case domain.KindNumber:
		return map[string]any{"type": "number"}
	case domain.KindBool:
		return map[string]any{"type": "boolean"}
	case domain.KindTime:
		return map[string]any{"type": "string", "format": "date-time"}
	case domain.KindObject:
		return map[string]any{"type": "object"}
	case domain.KindArray:
		return map[string]any{"type": "array"}
	}
	return map[string]any{}
}

func shapeKey(shape *domain.Shape) string {
	var b strings.Builder
	for _, f := range shape.Fields {
		fmt.Fprintf(&b, "%s:%s:%t;", f.Name, f.Kind, f.Required)
	}
	return b.String()
}

func compileSchema(shape *domain.Shape) (*gojsonschema.Schema, error) {
	key := shapeKey(shape)
	if s, ok := schemas.Load(key); ok {
		return s.(*gojsonschema.Schema), nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(JSONSchema(shape)))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemas.Store(key, s)
	return s, nil
}

// CheckShape validates doc against shape. Shapes without fields accept
// anything; a nil value counts as absent.
func CheckShape(shape *domain.Shape, doc domain.Document) error {
	if shape == nil || len(shape.Fields) == 0 {
		return nil
	}
	schema, err := compileSchema(shape)
	if err != nil {
		return err
	}

	present := make(map[string]any, len(doc))
	for k, v := range doc {
		if v != nil {
			present[k] = v
		}
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(present))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	return schemaError(shape, res.Errors())
}

// schemaError reports unknown fields first, then the first failing field in
// declaration order.
func schemaError(shape *domain.Shape, errs []gojsonschema.ResultError) error {
	unknown := make([]string, 0)
	byField := make(map[string]error, len(errs))
	for _, e := range errs {
		prop, _ := e.Details()["property"].(string)
		switch e.Type() {
		case "additional_property_not_allowed":
			unknown = append(unknown, prop)
		case "required":
			byField[prop] = fmt.Errorf("field %q is required", prop)
		default:
			name, _, _ := strings.Cut(e.Field(), ".")
			if f, ok := shape.Field(name); ok {
				if _, seen := byField[name]; !seen {
					byField[name] = fmt.Errorf("field %q must be of kind %s", name, f.Kind)
				}
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown field %q", unknown[0])
	}
	for _, f := range shape.Fields {
		if err, ok := byField[f.Name]; ok {
			return err
		}
	}
	return fmt.Errorf("%s", errs[0].Description())
}
