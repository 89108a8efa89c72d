package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// Store keeps every collection in one documents table with a JSON column.
// Unique keys live in document_unique_keys and are checked inside the same
// transaction as the write.
type Store struct {
	db  *gorm.DB
	now domain.Clock

	mu    sync.RWMutex
	specs map[string]domain.CollectionSpec
}

type Option func(*Store)

func WithClock(c domain.Clock) Option {
	return func(s *Store) { s.now = c }
}

func Open(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: domain.SystemClock, specs: make(map[string]domain.CollectionSpec)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	keys, err := json.Marshal(spec.UniqueKeys)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		m := CollectionModel{Name: spec.Name, UniqueKeys: datatypes.JSON(keys), CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"unique_keys", "updated_at"}),
		}).Create(&m).Error; err != nil {
			return err
		}
		if err := tx.Where("collection = ?", spec.Name).Delete(&UniqueKeyModel{}).Error; err != nil {
			return err
		}
		_, docs, err := s.load(tx, spec.Name, nil, 0)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := s.writeKeys(tx, spec, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ensure collection %s: %w", spec.Name, err)
	}

	s.mu.Lock()
	s.specs[spec.Name] = spec
	s.mu.Unlock()
	return nil
}

func (s *Store) spec(name string) domain.CollectionSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if spec, ok := s.specs[name]; ok {
		return spec
	}
	return domain.CollectionSpec{Name: name}
}

func (s *Store) Create(ctx context.Context, name string, doc domain.Document) (domain.Document, error) {
	var out domain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.insert(tx, s.spec(name), doc)
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateMany(ctx context.Context, name string, docs []domain.Document) ([]domain.Document, error) {
	out := make([]domain.Document, 0, len(docs))
	spec := s.spec(name)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, doc := range docs {
			d, err := s.insert(tx, spec, doc)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Find(ctx context.Context, name string, filter domain.Filter) ([]domain.Document, error) {
	_, docs, err := s.load(s.db.WithContext(ctx), name, filter, 0)
	return docs, err
}

func (s *Store) FindOne(ctx context.Context, name string, filter domain.Filter) (domain.Document, error) {
	_, docs, err := s.load(s.db.WithContext(ctx), name, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, domain.ErrNoDocument
	}
	return docs[0], nil
}

func (s *Store) FindOneAndUpdate(ctx context.Context, name string, filter domain.Filter, set domain.Document) (domain.Document, error) {
	var out domain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, docs, err := s.load(tx, name, filter, 1)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return domain.ErrNoDocument
		}
		out, err = s.save(tx, s.spec(name), s.merge(docs[0], set))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FindOneAndReplace(ctx context.Context, name string, filter domain.Filter, doc domain.Document) (domain.Document, error) {
	var out domain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, docs, err := s.load(tx, name, filter, 1)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return domain.ErrNoDocument
		}
		next := doc.Without(domain.FieldID, domain.FieldCreatedAt, domain.FieldUpdatedAt)
		if next == nil {
			next = domain.Document{}
		}
		next[domain.FieldID] = docs[0].ID()
		next[domain.FieldCreatedAt] = docs[0][domain.FieldCreatedAt]
		next[domain.FieldUpdatedAt] = s.now()
		out, err = s.save(tx, s.spec(name), next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateOne(ctx context.Context, name string, filter domain.Filter, set domain.Document) (domain.UpdateResult, error) {
	return s.update(ctx, name, filter, set, 1)
}

func (s *Store) UpdateMany(ctx context.Context, name string, filter domain.Filter, set domain.Document) (domain.UpdateResult, error) {
	return s.update(ctx, name, filter, set, 0)
}

func (s *Store) update(ctx context.Context, name string, filter domain.Filter, set domain.Document, limit int) (domain.UpdateResult, error) {
	var res domain.UpdateResult
	spec := s.spec(name)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, docs, err := s.load(tx, name, filter, limit)
		if err != nil {
			return err
		}
		res.MatchedCount = int64(len(docs))
		for _, d := range docs {
			if _, err := s.save(tx, spec, s.merge(d, set)); err != nil {
				return err
			}
			res.ModifiedCount++
		}
		return nil
	})
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return res, nil
}

func (s *Store) DeleteOne(ctx context.Context, name string, filter domain.Filter) (domain.DeleteResult, error) {
	return s.delete(ctx, name, filter, 1)
}

func (s *Store) DeleteMany(ctx context.Context, name string, filter domain.Filter) (domain.DeleteResult, error) {
	return s.delete(ctx, name, filter, 0)
}

func (s *Store) delete(ctx context.Context, name string, filter domain.Filter, limit int) (domain.DeleteResult, error) {
	var res domain.DeleteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, docs, err := s.load(tx, name, filter, limit)
		if err != nil {
			return err
		}
		for _, d := range docs {
			id := d.ID()
			if err := tx.Where("collection = ? AND document_id = ?", name, id).Delete(&UniqueKeyModel{}).Error; err != nil {
				return err
			}
			if err := tx.Where("collection = ? AND id = ?", name, id).Delete(&DocumentModel{}).Error; err != nil {
				return err
			}
			res.DeletedCount++
		}
		return nil
	})
	if err != nil {
		return domain.DeleteResult{}, err
	}
	return res, nil
}

func (s *Store) Aggregate(ctx context.Context, name string, pipeline domain.Pipeline) ([]domain.Document, error) {
	_, docs, err := s.load(s.db.WithContext(ctx), name, nil, 0)
	if err != nil {
		return nil, err
	}
	return pipeline.Apply(docs), nil
}

// load narrows by id in SQL when the filter allows it and matches the rest in Go.
func (s *Store) load(tx *gorm.DB, name string, filter domain.Filter, limit int) ([]DocumentModel, []domain.Document, error) {
	q := tx.Where("collection = ?", name)
	switch v := filter[domain.FieldID].(type) {
	case string:
		q = q.Where("id = ?", v)
	case domain.In:
		if ids, ok := stringIDs(v); ok && len(ids) > 0 {
			q = q.Where("id IN ?", ids)
		}
	}

	rows := make([]DocumentModel, 0)
	if err := q.Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	matchedRows := make([]DocumentModel, 0, len(rows))
	docs := make([]domain.Document, 0, len(rows))
	for _, row := range rows {
		var d domain.Document
		if err := json.Unmarshal(row.Data, &d); err != nil {
			return nil, nil, fmt.Errorf("decode document %s/%s: %w", name, row.ID, err)
		}
		if !filter.Match(d) {
			continue
		}
		matchedRows = append(matchedRows, row)
		docs = append(docs, d)
		if limit > 0 && len(docs) == limit {
			break
		}
	}
	return matchedRows, docs, nil
}

func (s *Store) insert(tx *gorm.DB, spec domain.CollectionSpec, doc domain.Document) (domain.Document, error) {
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

	raw, d, err := encode(d)
	if err != nil {
		return nil, err
	}
	id := d.ID()

	var count int64
	if err := tx.Model(&DocumentModel{}).Where("collection = ? AND id = ?", spec.Name, id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &domain.DuplicateKeyError{
			Collection: spec.Name,
			KeyPattern: []string{domain.FieldID},
			KeyValue:   map[string]any{domain.FieldID: id},
		}
	}
	if err := s.writeKeys(tx, spec, d); err != nil {
		return nil, err
	}

	var maxSeq int64
	if err := tx.Model(&DocumentModel{}).Where("collection = ?", spec.Name).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
		return nil, err
	}
	row := DocumentModel{Collection: spec.Name, ID: id, Seq: maxSeq + 1, Data: raw, CreatedAt: now, UpdatedAt: now}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) save(tx *gorm.DB, spec domain.CollectionSpec, next domain.Document) (domain.Document, error) {
	raw, d, err := encode(next)
	if err != nil {
		return nil, err
	}
	if err := s.writeKeys(tx, spec, d); err != nil {
		return nil, err
	}
	err = tx.Model(&DocumentModel{}).
		Where("collection = ? AND id = ?", spec.Name, d.ID()).
		Updates(map[string]any{"data": raw, "updated_at": s.now()}).Error
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) writeKeys(tx *gorm.DB, spec domain.CollectionSpec, d domain.Document) error {
	id := d.ID()
	if err := tx.Where("collection = ? AND document_id = ?", spec.Name, id).Delete(&UniqueKeyModel{}).Error; err != nil {
		return err
	}
	for _, pattern := range spec.UniqueKeys {
		value, fields, ok := domain.UniqueKeyValue(d, pattern)
		if !ok {
			continue
		}
		name := domain.KeyName(pattern)

		existing := make([]UniqueKeyModel, 0, 1)
		err := tx.Where("collection = ? AND key_name = ? AND key_value = ?", spec.Name, name, value).Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}
		if len(existing) > 0 && existing[0].DocumentID != id {
			return &domain.DuplicateKeyError{
				Collection: spec.Name,
				KeyPattern: append([]string(nil), pattern...),
				KeyValue:   fields,
			}
		}
		if err := tx.Create(&UniqueKeyModel{Collection: spec.Name, KeyName: name, KeyValue: value, DocumentID: id}).Error; err != nil {
			return err
		}
	}
	return nil
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

// encode returns the stored bytes and the document as it will be read back.
func encode(d domain.Document) (datatypes.JSON, domain.Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document: %w", err)
	}
	var out domain.Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("encode document: %w", err)
	}
	return datatypes.JSON(raw), out, nil
}

func stringIDs(in domain.In) ([]string, bool) {
	ids := make([]string, 0, len(in))
	for _, v := range in {
		id, ok := v.(string)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
