package domain

import (
	"fmt"
	"strings"
	"time"
)

// Fields managed by the engine and the stores. Callers never write them directly.
const (
	FieldID              = "id"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
	FieldIsDeleted       = "isDeleted"
	FieldDeletedAt       = "deletedAt"
	FieldInternalID      = "_id"
	FieldInternalVersion = "__v"
)

// Document is the plain-field representation of a stored entity.
type Document map[string]any

func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Document) ID() string {
	switch v := d[FieldID].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Without returns a copy of d minus the named fields.
func (d Document) Without(fields ...string) Document {
	out := d.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindTime   FieldKind = "time"
	KindObject FieldKind = "object"
	KindArray  FieldKind = "array"
	KindAny    FieldKind = "any"
)

func (k FieldKind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindBool, KindTime, KindObject, KindArray, KindAny:
		return true
	}
	return false
}

type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required" json:"required,omitempty"`
	Unique   bool      `yaml:"unique" json:"unique,omitempty"`
}

// EntityDescriptor describes one record type served by generated routes.
// id, createdAt and updatedAt are implicit. When SoftDeletable is set the
// isDeleted/deletedAt pair is implicit too.
type EntityDescriptor struct {
	Name          string
	Collection    string
	Fields        []Field
	SoftDeletable bool
	UniqueIndexes [][]string
}

func (e EntityDescriptor) CollectionName() string {
	if e.Collection != "" {
		return e.Collection
	}
	return strings.ToLower(e.Name) + "s"
}

func (e EntityDescriptor) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DeclaredFields returns the caller fields without the soft-delete pair.
func (e EntityDescriptor) DeclaredFields() []Field {
	out := make([]Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == FieldIsDeleted || f.Name == FieldDeletedAt {
			continue
		}
		out = append(out, f)
	}
	return out
}

// UniqueKeys lists every unique key pattern. Soft-deletable entities get
// deletedAt appended so soft-deleted documents do not block re-creation.
func (e EntityDescriptor) UniqueKeys() [][]string {
	keys := make([][]string, 0, len(e.UniqueIndexes)+1)
	for _, f := range e.DeclaredFields() {
		if f.Unique {
			keys = append(keys, []string{f.Name})
		}
	}
	for _, idx := range e.UniqueIndexes {
		keys = append(keys, append([]string(nil), idx...))
	}
	if e.SoftDeletable {
		for i := range keys {
			keys[i] = append(keys[i], FieldDeletedAt)
		}
	}
	return keys
}

func (e EntityDescriptor) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity name is required")
	}

	seen := make(map[string]struct{}, len(e.Fields))
	var hasIsDeleted, hasDeletedAt bool
	for _, f := range e.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("entity %s: field name is required", e.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("entity %s: field %q declared twice", e.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Kind != "" && !f.Kind.Valid() {
			return fmt.Errorf("entity %s: field %q has unknown kind %q", e.Name, f.Name, f.Kind)
		}
		switch f.Name {
		case FieldID, FieldCreatedAt, FieldUpdatedAt, FieldInternalID, FieldInternalVersion:
			return fmt.Errorf("entity %s: field %q is managed by the store", e.Name, f.Name)
		case FieldIsDeleted:
			hasIsDeleted = true
		case FieldDeletedAt:
			hasDeletedAt = true
		}
	}

	if hasIsDeleted != hasDeletedAt {
		return fmt.Errorf("entity %s: %s and %s must be declared together", e.Name, FieldIsDeleted, FieldDeletedAt)
	}
	if hasIsDeleted && !e.SoftDeletable {
		return fmt.Errorf("entity %s: declares soft-delete fields but is not soft-deletable", e.Name)
	}

	for _, idx := range e.UniqueIndexes {
		if len(idx) == 0 {
			return fmt.Errorf("entity %s: empty unique index", e.Name)
		}
		for _, name := range idx {
			if _, ok := seen[name]; !ok {
				return fmt.Errorf("entity %s: unique index references unknown field %q", e.Name, name)
			}
		}
	}
	return nil
}

// Principal is the authenticated caller of a request or connection.
type Principal struct {
	ID     string         `json:"id"`
	Email  string         `json:"email,omitempty"`
	Roles  []string       `json:"roles,omitempty"`
	Claims map[string]any `json:"-"`
}

func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type DeleteResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

type UpdateResult struct {
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
}

// CollectionSpec is what a store needs to know before serving a collection.
type CollectionSpec struct {
	Name       string
	UniqueKeys [][]string
}

// Clock returns the current time. Stores and services take one so tests can pin it.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
