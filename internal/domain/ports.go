package domain

import "context"

// DocumentStore is the persistence collaborator. Implementations assign id,
// createdAt and updatedAt, enforce unique keys declared through EnsureCollection
// and report violations as *DuplicateKeyError. Singular lookups that match
// nothing return ErrNoDocument. CreateMany is all-or-nothing.
type DocumentStore interface {
	EnsureCollection(ctx context.Context, spec CollectionSpec) error

	Create(ctx context.Context, collection string, doc Document) (Document, error)
	CreateMany(ctx context.Context, collection string, docs []Document) ([]Document, error)
	Find(ctx context.Context, collection string, filter Filter) ([]Document, error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	FindOneAndUpdate(ctx context.Context, collection string, filter Filter, set Document) (Document, error)
	FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error)
	UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (UpdateResult, error)
	UpdateMany(ctx context.Context, collection string, filter Filter, set Document) (UpdateResult, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (DeleteResult, error)
	Aggregate(ctx context.Context, collection string, pipeline Pipeline) ([]Document, error)
}

// Authenticator resolves a principal from a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
