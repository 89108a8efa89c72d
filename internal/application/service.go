package application

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// Hooks are the callbacks bound to one route.
type Hooks struct {
	BeforeSave   domain.BeforeSaveFunc
	BeforeCreate domain.BeforeCreateFunc
	AfterSave    domain.AfterSaveFunc
}

// EntityService runs the CRUD operations of one route against one entity.
type EntityService struct {
	entity  domain.EntityDescriptor
	p       *persistence
	methods domain.CallbackMethods
	hooks   Hooks
	log     logrus.FieldLogger
}

func NewEntityService(entity domain.EntityDescriptor, store domain.DocumentStore, now domain.Clock, methods domain.CallbackMethods, hooks Hooks, log logrus.FieldLogger) *EntityService {
	if methods == nil {
		methods = NewCallbackMethods(store, now)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EntityService{
		entity:  entity,
		p:       newPersistence(store, now),
		methods: methods,
		hooks:   hooks,
		log:     log.WithField("entity", entity.Name),
	}
}

func (s *EntityService) Entity() domain.EntityDescriptor { return s.entity }

func (s *EntityService) CreateOne(ctx context.Context, doc domain.Document) (domain.Document, error) {
	doc, err := s.beforeCreate(ctx, doc)
	if err != nil {
		return nil, err
	}
	created, err := s.p.create(ctx, s.entity, doc)
	if err != nil {
		return nil, err
	}
	if err := s.afterSave(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// CreateMany inserts all documents or none.
func (s *EntityService) CreateMany(ctx context.Context, docs []domain.Document) ([]domain.Document, error) {
	if s.hooks.BeforeCreate != nil {
		prepared := make([]domain.Document, 0, len(docs))
		for _, d := range docs {
			next, err := s.beforeCreate(ctx, d)
			if err != nil {
				return nil, err
			}
			prepared = append(prepared, next)
		}
		docs = prepared
	}
	created, err := s.p.createMany(ctx, s.entity, docs)
	if err != nil {
		return nil, err
	}
	if err := s.afterSave(ctx, created...); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *EntityService) GetOne(ctx context.Context, id string) (domain.Document, error) {
	return s.p.findOne(ctx, s.entity, domain.ByID(id))
}

func (s *EntityService) GetMany(ctx context.Context, filter domain.Filter) ([]domain.Document, error) {
	return s.p.find(ctx, s.entity, filter)
}

func (s *EntityService) UpdateOne(ctx context.Context, id string, change domain.Document) (domain.Document, error) {
	current, err := s.p.findOne(ctx, s.entity, domain.ByID(id))
	if err != nil {
		return nil, err
	}
	change, err = s.beforeSave(ctx, current, change)
	if err != nil {
		return nil, err
	}
	updated, err := s.p.findOneAndUpdate(ctx, s.entity, domain.ByID(id), change)
	if err != nil {
		return nil, err
	}
	if err := s.afterSave(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateMany fails with not found before writing anything unless every id
// matches a live document.
func (s *EntityService) UpdateMany(ctx context.Context, ids []string, change domain.Document) ([]domain.Document, error) {
	if err := s.requireAll(ctx, ids); err != nil {
		return nil, err
	}
	if _, err := s.p.updateMany(ctx, s.entity, domain.ByIDs(ids), change); err != nil {
		return nil, err
	}
	updated, err := s.p.find(ctx, s.entity, domain.ByIDs(ids))
	if err != nil {
		return nil, err
	}
	if err := s.afterSave(ctx, updated...); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteOne never fails on storage faults; they are logged and reported as
// nothing deleted.
func (s *EntityService) DeleteOne(ctx context.Context, id string) (domain.DeleteResult, error) {
	res, err := s.p.deleteOne(ctx, s.entity, domain.ByID(id))
	if err != nil {
		s.log.WithError(err).WithField("id", id).Warn("delete one failed")
		return domain.DeleteResult{}, nil
	}
	return res, nil
}

func (s *EntityService) DeleteMany(ctx context.Context, ids []string) (domain.DeleteResult, error) {
	res, err := s.p.deleteMany(ctx, s.entity, domain.ByIDs(ids))
	if err != nil {
		s.log.WithError(err).WithField("ids", ids).Warn("delete many failed")
		return domain.DeleteResult{}, nil
	}
	return res, nil
}

// DuplicateOne copies the stored document without managed fields, applies
// overrides and creates the copy.
func (s *EntityService) DuplicateOne(ctx context.Context, id string, overrides domain.Document) (domain.Document, error) {
	current, err := s.p.findOne(ctx, s.entity, domain.ByID(id))
	if err != nil {
		return nil, err
	}
	overrides, err = s.beforeSave(ctx, current, overrides)
	if err != nil {
		return nil, err
	}
	created, err := s.p.create(ctx, s.entity, copyWith(current, overrides))
	if err != nil {
		return nil, err
	}
	if err := s.afterSave(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *EntityService) DuplicateMany(ctx context.Context, ids []string, overrides domain.Document) ([]domain.Document, error) {
	found, err := s.p.find(ctx, s.entity, domain.ByIDs(ids))
	if err != nil {
		return nil, err
	}
	if len(found) != len(ids) {
		return nil, domain.DocumentNotFound()
	}
	copies := make([]domain.Document, 0, len(found))
	for _, d := range found {
		copies = append(copies, copyWith(d, overrides))
	}
	created, err := s.p.createMany(ctx, s.entity, copies)
	if err != nil {
		return nil, err
	}
	if err := s.afterSave(ctx, created...); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *EntityService) ReplaceOne(ctx context.Context, id string, doc domain.Document) (domain.Document, error) {
	current, err := s.p.findOne(ctx, s.entity, domain.ByID(id))
	if err != nil {
		return nil, err
	}
	doc, err = s.beforeSave(ctx, current, doc)
	if err != nil {
		return nil, err
	}
	replaced, err := s.p.findOneAndReplace(ctx, s.entity, domain.ByID(id), doc)
	if err != nil {
		return nil, err
	}
	if err := s.afterSave(ctx, replaced); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *EntityService) requireAll(ctx context.Context, ids []string) error {
	found, err := s.p.find(ctx, s.entity, domain.ByIDs(ids))
	if err != nil {
		return err
	}
	if len(found) != len(ids) {
		return domain.DocumentNotFound()
	}
	return nil
}

func (s *EntityService) beforeSave(ctx context.Context, current, change domain.Document) (domain.Document, error) {
	change = writable(change)
	if s.hooks.BeforeSave == nil {
		return change, nil
	}
	next, err := s.hooks.BeforeSave(ctx, current.Clone(), change, s.methods)
	if err != nil {
		return nil, err
	}
	return writable(next), nil
}

func (s *EntityService) beforeCreate(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if s.hooks.BeforeCreate == nil {
		return doc, nil
	}
	next, err := s.hooks.BeforeCreate(ctx, writable(doc), s.methods)
	if err != nil {
		return nil, err
	}
	return writable(next), nil
}

// afterSave runs the hook once per document concurrently and waits for all of
// them. The first failure is returned; the write is not rolled back.
func (s *EntityService) afterSave(ctx context.Context, docs ...domain.Document) error {
	if s.hooks.AfterSave == nil || len(docs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range docs {
		saved := d.Clone()
		g.Go(func() error {
			return s.hooks.AfterSave(gctx, saved, s.methods)
		})
	}
	if err := g.Wait(); err != nil {
		s.log.WithError(err).Error("after save callback failed")
		return err
	}
	return nil
}

func copyWith(src, overrides domain.Document) domain.Document {
	out := writable(src)
	for k, v := range writable(overrides) {
		out[k] = v
	}
	return out
}
