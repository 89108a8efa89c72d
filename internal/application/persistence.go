package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// persistence applies soft-delete scoping and error normalization on top of a
// DocumentStore. It is shared by entity services and callback methods.
type persistence struct {
	store domain.DocumentStore
	now   domain.Clock
}

func newPersistence(store domain.DocumentStore, now domain.Clock) *persistence {
	if now == nil {
		now = domain.SystemClock
	}
	return &persistence{store: store, now: now}
}

// scope copies filter and, for soft-deletable entities, pins isDeleted=false.
// Callers cannot override the flag.
func scope(entity domain.EntityDescriptor, filter domain.Filter) domain.Filter {
	f := filter.Clone()
	if entity.SoftDeletable {
		f[domain.FieldIsDeleted] = false
	}
	return f
}

// writable drops fields callers may not set.
func writable(doc domain.Document) domain.Document {
	out := doc.Without(BaseExclusions...)
	if out == nil {
		out = domain.Document{}
	}
	return out
}

func (p *persistence) fresh(entity domain.EntityDescriptor, doc domain.Document) domain.Document {
	d := writable(doc)
	if entity.SoftDeletable {
		d[domain.FieldIsDeleted] = false
		d[domain.FieldDeletedAt] = nil
	}
	return d
}

func (p *persistence) tombstone() domain.Document {
	return domain.Document{domain.FieldIsDeleted: true, domain.FieldDeletedAt: p.now()}
}

func (p *persistence) create(ctx context.Context, entity domain.EntityDescriptor, doc domain.Document) (domain.Document, error) {
	d, err := p.store.Create(ctx, entity.CollectionName(), p.fresh(entity, doc))
	if err != nil {
		return nil, normalizeError(err)
	}
	return d, nil
}

func (p *persistence) createMany(ctx context.Context, entity domain.EntityDescriptor, docs []domain.Document) ([]domain.Document, error) {
	batch := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, p.fresh(entity, d))
	}
	out, err := p.store.CreateMany(ctx, entity.CollectionName(), batch)
	if err != nil {
		return nil, normalizeError(err)
	}
	return out, nil
}

func (p *persistence) findOne(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) (domain.Document, error) {
	d, err := p.store.FindOne(ctx, entity.CollectionName(), scope(entity, filter))
	if err != nil {
		return nil, normalizeError(err)
	}
	return d, nil
}

func (p *persistence) find(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) ([]domain.Document, error) {
	docs, err := p.store.Find(ctx, entity.CollectionName(), scope(entity, filter))
	if err != nil {
		return nil, normalizeError(err)
	}
	return docs, nil
}

func (p *persistence) findOneAndUpdate(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter, set domain.Document) (domain.Document, error) {
	d, err := p.store.FindOneAndUpdate(ctx, entity.CollectionName(), scope(entity, filter), writable(set))
	if err != nil {
		return nil, normalizeError(err)
	}
	return d, nil
}

func (p *persistence) findOneAndReplace(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter, doc domain.Document) (domain.Document, error) {
	d, err := p.store.FindOneAndReplace(ctx, entity.CollectionName(), scope(entity, filter), p.fresh(entity, doc))
	if err != nil {
		return nil, normalizeError(err)
	}
	return d, nil
}

func (p *persistence) updateMany(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter, set domain.Document) (domain.UpdateResult, error) {
	res, err := p.store.UpdateMany(ctx, entity.CollectionName(), scope(entity, filter), writable(set))
	if err != nil {
		return domain.UpdateResult{}, normalizeError(err)
	}
	return res, nil
}

// deleteOne soft-deletes when the entity allows it and hard-deletes otherwise.
func (p *persistence) deleteOne(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) (domain.DeleteResult, error) {
	if !entity.SoftDeletable {
		res, err := p.store.DeleteOne(ctx, entity.CollectionName(), filter.Clone())
		if err != nil {
			return domain.DeleteResult{}, normalizeError(err)
		}
		return res, nil
	}
	_, err := p.store.FindOneAndUpdate(ctx, entity.CollectionName(), scope(entity, filter), p.tombstone())
	if errors.Is(err, domain.ErrNoDocument) {
		return domain.DeleteResult{}, nil
	}
	if err != nil {
		return domain.DeleteResult{}, normalizeError(err)
	}
	return domain.DeleteResult{DeletedCount: 1}, nil
}

func (p *persistence) deleteMany(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) (domain.DeleteResult, error) {
	if !entity.SoftDeletable {
		res, err := p.store.DeleteMany(ctx, entity.CollectionName(), filter.Clone())
		if err != nil {
			return domain.DeleteResult{}, normalizeError(err)
		}
		return res, nil
	}
	res, err := p.store.UpdateMany(ctx, entity.CollectionName(), scope(entity, filter), p.tombstone())
	if err != nil {
		return domain.DeleteResult{}, normalizeError(err)
	}
	return domain.DeleteResult{DeletedCount: res.ModifiedCount}, nil
}

func (p *persistence) aggregate(ctx context.Context, entity domain.EntityDescriptor, pipeline domain.Pipeline) ([]domain.Document, error) {
	stages := pipeline
	if entity.SoftDeletable {
		stages = append(domain.Pipeline{{Match: scope(entity, nil)}}, pipeline...)
	}
	docs, err := p.store.Aggregate(ctx, entity.CollectionName(), stages)
	if err != nil {
		return nil, normalizeError(err)
	}
	return docs, nil
}

// normalizeError maps store conditions onto client-facing errors and passes
// anything else through.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.KindOf(err); ok {
		return err
	}
	if errors.Is(err, domain.ErrNoDocument) {
		return domain.DocumentNotFound()
	}
	var dup *domain.DuplicateKeyError
	if errors.As(err, &dup) {
		return domain.Duplicate(DuplicateMessage(dup), err)
	}
	return err
}

// DuplicateMessage renders a uniqueness violation for humans. deletedAt is
// never mentioned.
func DuplicateMessage(err *domain.DuplicateKeyError) string {
	parts := make([]string, 0, len(err.KeyPattern))
	for _, field := range err.KeyPattern {
		if field == domain.FieldDeletedAt {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s '%v'", field, err.KeyValue[field]))
	}
	switch len(parts) {
	case 0:
		return "Duplicate key"
	case 1:
		return parts[0] + " is already used"
	}
	return "The combination of " + strings.Join(parts, ", ") + " already exists"
}
