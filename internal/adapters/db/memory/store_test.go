package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

func fixedClock() domain.Clock {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestCreateAssignsManagedFields(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(fixedClock()))

	d, err := s.Create(ctx, "users", domain.Document{"name": "a", "createdAt": "ignored"})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID())
	assert.Equal(t, fixedClock()(), d["createdAt"])
	assert.Equal(t, fixedClock()(), d["updatedAt"])

	_, err = s.Create(ctx, "users", domain.Document{"id": d.ID()})
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"id"}, dup.KeyPattern)
}

func TestUniqueKeysAndCreateManyRollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureCollection(ctx, domain.CollectionSpec{Name: "users", UniqueKeys: [][]string{{"email"}}}))

	_, err := s.Create(ctx, "users", domain.Document{"email": "a@x.io"})
	require.NoError(t, err)

	_, err = s.CreateMany(ctx, "users", []domain.Document{{"email": "b@x.io"}, {"email": "a@x.io"}})
	var dup *domain.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a@x.io", dup.KeyValue["email"])

	all, err := s.Find(ctx, "users", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "batch must not leave partial inserts")

	// documents without the key are not indexed
	_, err = s.Create(ctx, "users", domain.Document{"name": "no email"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "users", domain.Document{"name": "no email either"})
	require.NoError(t, err)
}

func TestFindOneAndUpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()
	d, err := s.Create(ctx, "items", domain.Document{"n": 1})
	require.NoError(t, err)

	updated, err := s.FindOneAndUpdate(ctx, "items", domain.ByID(d.ID()), domain.Document{"n": 2, "id": "other"})
	require.NoError(t, err)
	assert.Equal(t, d.ID(), updated.ID())
	assert.Equal(t, 2, updated["n"])

	_, err = s.FindOneAndUpdate(ctx, "items", domain.ByID("missing"), domain.Document{"n": 3})
	assert.ErrorIs(t, err, domain.ErrNoDocument)
}

func TestFindOneAndReplaceDropsOldFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	d, err := s.Create(ctx, "items", domain.Document{"a": 1, "b": 2})
	require.NoError(t, err)

	replaced, err := s.FindOneAndReplace(ctx, "items", domain.ByID(d.ID()), domain.Document{"c": 3})
	require.NoError(t, err)
	assert.Equal(t, d.ID(), replaced.ID())
	assert.Equal(t, d["createdAt"], replaced["createdAt"])
	assert.NotContains(t, replaced, "a")
	assert.Equal(t, 3, replaced["c"])

	replaced, err = s.FindOneAndReplace(ctx, "items", domain.ByID(d.ID()), nil)
	require.NoError(t, err)
	assert.Equal(t, d.ID(), replaced.ID())
}

func TestDeleteAndAggregate(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, n := range []int{3, 1, 2} {
		_, err := s.Create(ctx, "items", domain.Document{"n": n})
		require.NoError(t, err)
	}

	out, err := s.Aggregate(ctx, "items", domain.Pipeline{{Sort: []domain.SortField{{Field: "n"}}, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0]["n"])

	res, err := s.DeleteMany(ctx, "items", domain.Filter{"n": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.DeletedCount)

	res, err = s.DeleteOne(ctx, "nothing", nil)
	require.NoError(t, err)
	assert.Zero(t, res.DeletedCount)
}

func TestEnsureCollectionFailsOnExistingDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, "users", domain.Document{"email": "a"})
	_, _ = s.Create(ctx, "users", domain.Document{"email": "a"})

	err := s.EnsureCollection(ctx, domain.CollectionSpec{Name: "users", UniqueKeys: [][]string{{"email"}}})
	var dup *domain.DuplicateKeyError
	assert.ErrorAs(t, err, &dup)
}
