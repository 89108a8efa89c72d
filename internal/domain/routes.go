package domain

import "context"

// RouteType is one of the eleven CRUD route archetypes.
type RouteType string

const (
	GetOne        RouteType = "GetOne"
	GetMany       RouteType = "GetMany"
	CreateOne     RouteType = "CreateOne"
	CreateMany    RouteType = "CreateMany"
	UpdateOne     RouteType = "UpdateOne"
	UpdateMany    RouteType = "UpdateMany"
	DeleteOne     RouteType = "DeleteOne"
	DeleteMany    RouteType = "DeleteMany"
	DuplicateOne  RouteType = "DuplicateOne"
	DuplicateMany RouteType = "DuplicateMany"
	ReplaceOne    RouteType = "ReplaceOne"
)

var RouteTypes = []RouteType{
	GetOne, GetMany,
	CreateOne, CreateMany,
	UpdateOne, UpdateMany,
	DeleteOne, DeleteMany,
	DuplicateOne, DuplicateMany,
	ReplaceOne,
}

func (t RouteType) Valid() bool {
	for _, v := range RouteTypes {
		if v == t {
			return true
		}
	}
	return false
}

// TargetsResource reports whether the route acts on one document addressed by id.
func (t RouteType) TargetsResource() bool {
	switch t {
	case GetOne, UpdateOne, DeleteOne, DuplicateOne, ReplaceOne:
		return true
	}
	return false
}

// TargetsIDs reports whether the route takes a list of ids.
func (t RouteType) TargetsIDs() bool {
	switch t {
	case UpdateMany, DeleteMany, DuplicateMany:
		return true
	}
	return false
}

// AbilityPredicate decides whether principal may run a route. resource is nil
// for routes that do not address a single document. principal is nil for
// anonymous callers.
type AbilityPredicate func(principal *Principal, resource Document) bool

// BeforeSaveFunc receives the stored document and the requested change and
// returns the change to apply.
type BeforeSaveFunc func(ctx context.Context, current Document, change Document, methods CallbackMethods) (Document, error)

// BeforeCreateFunc receives each document a create route is about to insert
// and returns the document to insert.
type BeforeCreateFunc func(ctx context.Context, doc Document, methods CallbackMethods) (Document, error)

// AfterSaveFunc runs once per affected document after the write committed.
type AfterSaveFunc func(ctx context.Context, saved Document, methods CallbackMethods) error

// CallbackMethods is the restricted set of store operations handed to callbacks.
// Every method is scoped by an explicit entity and honours its soft-delete flag.
type CallbackMethods interface {
	FindOneDocument(ctx context.Context, entity EntityDescriptor, filter Filter) (Document, error)
	FindManyDocuments(ctx context.Context, entity EntityDescriptor, filter Filter) ([]Document, error)
	CreateOneDocument(ctx context.Context, entity EntityDescriptor, doc Document) (Document, error)
	CreateManyDocuments(ctx context.Context, entity EntityDescriptor, docs []Document) ([]Document, error)
	UpdateOneDocument(ctx context.Context, entity EntityDescriptor, filter Filter, set Document) (Document, error)
	UpdateManyDocuments(ctx context.Context, entity EntityDescriptor, filter Filter, set Document) (UpdateResult, error)
	DeleteOneDocument(ctx context.Context, entity EntityDescriptor, filter Filter) (DeleteResult, error)
	DeleteManyDocuments(ctx context.Context, entity EntityDescriptor, filter Filter) (DeleteResult, error)
	AggregateDocuments(ctx context.Context, entity EntityDescriptor, pipeline Pipeline) ([]Document, error)
}

// Shape is a named request or response structure. The mapping functions are
// optional; when nil the data passes through unchanged.
type Shape struct {
	Name   string
	Fields []Field

	ToEntity         func(Document) (Document, error)
	ToEntities       func([]Document) ([]Document, error)
	FromEntity       func(Document) (any, error)
	FromEntities     func([]Document) (any, error)
	FromDeleteResult func(DeleteResult) (any, error)

	// Shared marks a caller shape reused across routes: its Name is kept as given.
	Shared bool
}

func (s *Shape) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

type DTOBundle struct {
	Body      *Shape
	Param     *Shape
	Query     *Shape
	Presenter *Shape
}

// RouteConfig yields exactly one artifact set. It is not mutated after assembly.
type RouteConfig struct {
	Type        RouteType
	SubPath     string
	Version     string
	Description string
	DTOs        DTOBundle
	// Exclude extends the default exclusion set of projected shapes.
	Exclude    []string
	Ability    AbilityPredicate
	BeforeSave BeforeSaveFunc
	// BeforeCreate runs on CreateOne and CreateMany only.
	BeforeCreate BeforeCreateFunc
	AfterSave    AfterSaveFunc
	EventName    string
	Realtime     bool
}

// ControllerOptions are shared by every RouteConfig of one entity.
type ControllerOptions struct {
	BasePath string
	APITag   string
	// DisplayName replaces the entity name in generated names and events.
	DisplayName string
	Abilities   map[RouteType]AbilityPredicate
	Realtime    bool
}
