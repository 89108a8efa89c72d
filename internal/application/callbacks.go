package application

import (
	"context"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// callbackMethods is the capability object handed to before/after-save hooks.
// It reaches the store only through persistence, so soft-delete scoping and
// error normalization hold for related writes too.
type callbackMethods struct {
	p *persistence
}

func NewCallbackMethods(store domain.DocumentStore, now domain.Clock) domain.CallbackMethods {
	return &callbackMethods{p: newPersistence(store, now)}
}

func (m *callbackMethods) FindOneDocument(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) (domain.Document, error) {
	return m.p.findOne(ctx, entity, filter)
}

func (m *callbackMethods) FindManyDocuments(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) ([]domain.Document, error) {
	return m.p.find(ctx, entity, filter)
}

func (m *callbackMethods) CreateOneDocument(ctx context.Context, entity domain.EntityDescriptor, doc domain.Document) (domain.Document, error) {
	return m.p.create(ctx, entity, doc)
}

func (m *callbackMethods) CreateManyDocuments(ctx context.Context, entity domain.EntityDescriptor, docs []domain.Document) ([]domain.Document, error) {
	return m.p.createMany(ctx, entity, docs)
}

func (m *callbackMethods) UpdateOneDocument(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter, set domain.Document) (domain.Document, error) {
	return m.p.findOneAndUpdate(ctx, entity, filter, set)
}

func (m *callbackMethods) UpdateManyDocuments(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter, set domain.Document) (domain.UpdateResult, error) {
	return m.p.updateMany(ctx, entity, filter, set)
}

func (m *callbackMethods) DeleteOneDocument(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) (domain.DeleteResult, error) {
	return m.p.deleteOne(ctx, entity, filter)
}

func (m *callbackMethods) DeleteManyDocuments(ctx context.Context, entity domain.EntityDescriptor, filter domain.Filter) (domain.DeleteResult, error) {
	return m.p.deleteMany(ctx, entity, filter)
}

func (m *callbackMethods) AggregateDocuments(ctx context.Context, entity domain.EntityDescriptor, pipeline domain.Pipeline) ([]domain.Document, error) {
	return m.p.aggregate(ctx, entity, pipeline)
}
