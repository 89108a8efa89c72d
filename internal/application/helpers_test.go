package application

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/dynamicapi/internal/adapters/db/memory"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func testLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

// countingStore records how many writes reach the wrapped store and can be
// told to fail them.
type countingStore struct {
	domain.DocumentStore
	writes  atomic.Int64
	failErr error
}

func (s *countingStore) Create(ctx context.Context, name string, doc domain.Document) (domain.Document, error) {
	s.writes.Add(1)
	if s.failErr != nil {
		return nil, s.failErr
	}
	return s.DocumentStore.Create(ctx, name, doc)
}

func (s *countingStore) CreateMany(ctx context.Context, name string, docs []domain.Document) ([]domain.Document, error) {
	s.writes.Add(1)
	if s.failErr != nil {
		return nil, s.failErr
	}
	return s.DocumentStore.CreateMany(ctx, name, docs)
}

func (s *countingStore) UpdateMany(ctx context.Context, name string, filter domain.Filter, set domain.Document) (domain.UpdateResult, error) {
	s.writes.Add(1)
	if s.failErr != nil {
		return domain.UpdateResult{}, s.failErr
	}
	return s.DocumentStore.UpdateMany(ctx, name, filter, set)
}

func (s *countingStore) FindOneAndUpdate(ctx context.Context, name string, filter domain.Filter, set domain.Document) (domain.Document, error) {
	s.writes.Add(1)
	if s.failErr != nil {
		return nil, s.failErr
	}
	return s.DocumentStore.FindOneAndUpdate(ctx, name, filter, set)
}

func (s *countingStore) DeleteOne(ctx context.Context, name string, filter domain.Filter) (domain.DeleteResult, error) {
	s.writes.Add(1)
	if s.failErr != nil {
		return domain.DeleteResult{}, s.failErr
	}
	return s.DocumentStore.DeleteOne(ctx, name, filter)
}

func newCountingStore() *countingStore {
	return &countingStore{DocumentStore: memory.New(memory.WithClock(testClock))}
}

func newTestFactory(t *testing.T, store domain.DocumentStore) *Factory {
	t.Helper()
	log, _ := testLogger()
	if store == nil {
		store = memory.New(memory.WithClock(testClock))
	}
	return NewFactory(store, NewRegistry(), log, WithFactoryClock(testClock))
}

func buildRoutes(t *testing.T, f *Factory, entity domain.EntityDescriptor, opts domain.ControllerOptions, configs ...domain.RouteConfig) map[domain.RouteType]*Route {
	t.Helper()
	routes, err := f.Build(context.Background(), entity, opts, configs)
	require.NoError(t, err)
	out := make(map[domain.RouteType]*Route, len(routes))
	for _, rt := range routes {
		out[rt.Type] = rt
	}
	return out
}

func allConfigs() []domain.RouteConfig {
	out := make([]domain.RouteConfig, 0, len(domain.RouteTypes))
	for _, t := range domain.RouteTypes {
		out = append(out, domain.RouteConfig{Type: t})
	}
	return out
}
