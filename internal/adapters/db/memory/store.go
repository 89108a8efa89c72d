// Package memory provides a mutex-guarded DocumentStore kept entirely in process.
// It backs tests and the route listing command.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

type collection struct {
	spec  domain.CollectionSpec
	docs  map[string]domain.Document
	order []string
	// keys maps key name -> canonical value -> document id.
	keys map[string]map[string]string
}

type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	now         domain.Clock
}

type Option func(*Store)

func WithClock(c domain.Clock) Option {
	return func(s *Store) { s.now = c }
}

func New(opts ...Option) *Store {
	s := &Store{collections: make(map[string]*collection), now: domain.SystemClock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) EnsureCollection(_ context.Context, spec domain.CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(spec.Name)
	c.spec = spec
	return c.reindex()
}

// collection must be called with the write lock held.
func (s *Store) collection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{
			spec: domain.CollectionSpec{Name: name},
			docs: make(map[string]domain.Document),
			keys: make(map[string]map[string]string),
		}
		s.collections[name] = c
	}
	return c
}

func (s *Store) Create(_ context.Context, name string, doc domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name)
	d, err := c.insert(s.prepare(doc))
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

func (s *Store) CreateMany(_ context.Context, name string, docs []domain.Document) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name)

	inserted := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		d, err := c.insert(s.prepare(doc))
		if err != nil {
			for _, done := range inserted {
				c.remove(done.ID())
			}
			return nil, err
		}
		inserted = append(inserted, d)
	}

	out := make([]domain.Document, 0, len(inserted))
	for _, d := range inserted {
		out = append(out, d.Clone())
	}
	return out, nil
}

func (s *Store) Find(_ context.Context, name string, filter domain.Filter) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return []domain.Document{}, nil
	}
	return cloneAll(c.match(filter, 0)), nil
}

func (s *Store) FindOne(_ context.Context, name string, filter domain.Filter) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, domain.ErrNoDocument
	}
	found := c.match(filter, 1)
	if len(found) == 0 {
		return nil, domain.ErrNoDocument
	}
	return found[0].Clone(), nil
}

func (s *Store) FindOneAndUpdate(_ context.Context, name string, filter domain.Filter, set domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name)
	found := c.match(filter, 1)
	if len(found) == 0 {
		return nil, domain.ErrNoDocument
	}
	updated, err := c.replace(found[0], s.merge(found[0], set))
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *Store) FindOneAndReplace(_ context.Context, name string, filter domain.Filter, doc domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name)
	found := c.match(filter, 1)
	if len(found) == 0 {
		return nil, domain.ErrNoDocument
	}
	next := doc.Without(domain.FieldID, domain.FieldCreatedAt, domain.FieldUpdatedAt)
	if next == nil {
		next = domain.Document{}
	}
	next[domain.FieldID] = found[0].ID()
	next[domain.FieldCreatedAt] = found[0][domain.FieldCreatedAt]
	next[domain.FieldUpdatedAt] = s.now()
	updated, err := c.replace(found[0], next)
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *Store) UpdateOne(_ context.Context, name string, filter domain.Filter, set domain.Document) (domain.UpdateResult, error) {
	return s.update(name, filter, set, 1)
}

func (s *Store) UpdateMany(_ context.Context, name string, filter domain.Filter, set domain.Document) (domain.UpdateResult, error) {
	return s.update(name, filter, set, 0)
}

// update is not atomic across documents: a key violation stops the loop and
// leaves earlier documents modified.
func (s *Store) update(name string, filter domain.Filter, set domain.Document, limit int) (domain.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name)
	found := c.match(filter, limit)
	res := domain.UpdateResult{MatchedCount: int64(len(found))}
	for _, d := range found {
		if _, err := c.replace(d, s.merge(d, set)); err != nil {
			return res, err
		}
		res.ModifiedCount++
	}
	return res, nil
}

func (s *Store) DeleteOne(_ context.Context, name string, filter domain.Filter) (domain.DeleteResult, error) {
	return s.delete(name, filter, 1), nil
}

func (s *Store) DeleteMany(_ context.Context, name string, filter domain.Filter) (domain.DeleteResult, error) {
	return s.delete(name, filter, 0), nil
}

func (s *Store) delete(name string, filter domain.Filter, limit int) domain.DeleteResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return domain.DeleteResult{}
	}
	found := c.match(filter, limit)
	for _, d := range found {
		c.remove(d.ID())
	}
	return domain.DeleteResult{DeletedCount: int64(len(found))}
}

func (s *Store) Aggregate(_ context.Context, name string, pipeline domain.Pipeline) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return pipeline.Apply(nil), nil
	}
	return cloneAll(pipeline.Apply(c.match(nil, 0))), nil
}

func (s *Store) prepare(doc domain.Document) domain.Document {
	d := doc.Without(domain.FieldCreatedAt, domain.FieldUpdatedAt)
	if d == nil {
		d = domain.Document{}
	}
	if d.ID() == "" {
		d[domain.FieldID] = uuid.NewString()
	}
	now := s.now()
	d[domain.FieldCreatedAt] = now
	d[domain.FieldUpdatedAt] = now
	return d
}

func (s *Store) merge(current, set domain.Document) domain.Document {
	next := current.Clone()
	for k, v := range set {
		if k == domain.FieldID || k == domain.FieldCreatedAt {
			continue
		}
		next[k] = v
	}
	next[domain.FieldUpdatedAt] = s.now()
	return next
}

func (c *collection) match(filter domain.Filter, limit int) []domain.Document {
	out := make([]domain.Document, 0)
	for _, id := range c.order {
		d := c.docs[id]
		if !filter.Match(d) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (c *collection) insert(d domain.Document) (domain.Document, error) {
	id := d.ID()
	if _, exists := c.docs[id]; exists {
		return nil, &domain.DuplicateKeyError{
			Collection: c.spec.Name,
			KeyPattern: []string{domain.FieldID},
			KeyValue:   map[string]any{domain.FieldID: id},
		}
	}
	if err := c.checkKeys(d, ""); err != nil {
		return nil, err
	}
	c.docs[id] = d
	c.order = append(c.order, id)
	c.indexKeys(d)
	return d, nil
}

func (c *collection) replace(current, next domain.Document) (domain.Document, error) {
	id := current.ID()
	if err := c.checkKeys(next, id); err != nil {
		return nil, err
	}
	c.unindexKeys(current)
	c.docs[id] = next
	c.indexKeys(next)
	return next, nil
}

func (c *collection) remove(id string) {
	d, ok := c.docs[id]
	if !ok {
		return
	}
	c.unindexKeys(d)
	delete(c.docs, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *collection) checkKeys(d domain.Document, selfID string) error {
	for _, pattern := range c.spec.UniqueKeys {
		value, fields, ok := domain.UniqueKeyValue(d, pattern)
		if !ok {
			continue
		}
		owner, taken := c.keys[domain.KeyName(pattern)][value]
		if taken && owner != selfID {
			return &domain.DuplicateKeyError{
				Collection: c.spec.Name,
				KeyPattern: append([]string(nil), pattern...),
				KeyValue:   fields,
			}
		}
	}
	return nil
}

func (c *collection) indexKeys(d domain.Document) {
	for _, pattern := range c.spec.UniqueKeys {
		value, _, ok := domain.UniqueKeyValue(d, pattern)
		if !ok {
			continue
		}
		name := domain.KeyName(pattern)
		if c.keys[name] == nil {
			c.keys[name] = make(map[string]string)
		}
		c.keys[name][value] = d.ID()
	}
}

func (c *collection) unindexKeys(d domain.Document) {
	for _, pattern := range c.spec.UniqueKeys {
		value, _, ok := domain.UniqueKeyValue(d, pattern)
		if !ok {
			continue
		}
		name := domain.KeyName(pattern)
		if c.keys[name][value] == d.ID() {
			delete(c.keys[name], value)
		}
	}
}

func (c *collection) reindex() error {
	c.keys = make(map[string]map[string]string)
	for _, id := range c.order {
		d := c.docs[id]
		if err := c.checkKeys(d, id); err != nil {
			return err
		}
		c.indexKeys(d)
	}
	return nil
}

func cloneAll(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Clone())
	}
	return out
}
