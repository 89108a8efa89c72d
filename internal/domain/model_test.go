package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentWithoutCopies(t *testing.T) {
	d := Document{"id": "1", "name": "a", "secret": "x"}
	out := d.Without("secret")

	assert.Equal(t, Document{"id": "1", "name": "a"}, out)
	assert.Equal(t, "x", d["secret"])
	assert.Nil(t, Document(nil).Without("id"))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "abc", Document{"id": "abc"}.ID())
	assert.Equal(t, "7", Document{"id": 7}.ID())
	assert.Equal(t, "", Document{}.ID())
}

func TestCollectionNameDefaultsToLowerPlural(t *testing.T) {
	assert.Equal(t, "users", EntityDescriptor{Name: "User"}.CollectionName())
	assert.Equal(t, "people", EntityDescriptor{Name: "Person", Collection: "people"}.CollectionName())
}

func TestUniqueKeysAppendDeletedAtForSoftDeletable(t *testing.T) {
	e := EntityDescriptor{
		Name: "User",
		Fields: []Field{
			{Name: "email", Kind: KindString, Unique: true},
			{Name: "tenant", Kind: KindString},
			{Name: "slug", Kind: KindString},
		},
		UniqueIndexes: [][]string{{"tenant", "slug"}},
		SoftDeletable: true,
	}
	assert.Equal(t, [][]string{
		{"email", FieldDeletedAt},
		{"tenant", "slug", FieldDeletedAt},
	}, e.UniqueKeys())

	e.SoftDeletable = false
	assert.Equal(t, [][]string{{"email"}, {"tenant", "slug"}}, e.UniqueKeys())
}

func TestValidateRejectsBadDescriptors(t *testing.T) {
	cases := map[string]EntityDescriptor{
		"missing name":       {},
		"managed field":      {Name: "A", Fields: []Field{{Name: "id"}}},
		"duplicate field":    {Name: "A", Fields: []Field{{Name: "x"}, {Name: "x"}}},
		"unknown kind":       {Name: "A", Fields: []Field{{Name: "x", Kind: "blob"}}},
		"half soft delete":   {Name: "A", SoftDeletable: true, Fields: []Field{{Name: FieldIsDeleted}}},
		"unknown index":      {Name: "A", UniqueIndexes: [][]string{{"nope"}}},
		"empty index":        {Name: "A", UniqueIndexes: [][]string{{}}},
		"soft fields, flags": {Name: "A", Fields: []Field{{Name: FieldIsDeleted}, {Name: FieldDeletedAt}}},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, e.Validate())
		})
	}

	ok := EntityDescriptor{
		Name:          "A",
		SoftDeletable: true,
		Fields:        []Field{{Name: "x", Kind: KindString}, {Name: FieldIsDeleted}, {Name: FieldDeletedAt}},
		UniqueIndexes: [][]string{{"x"}},
	}
	require.NoError(t, ok.Validate())
	assert.Len(t, ok.DeclaredFields(), 1)
}

func TestPrincipalHasRoleIsNilSafe(t *testing.T) {
	var p *Principal
	assert.False(t, p.HasRole("admin"))
	assert.True(t, (&Principal{Roles: []string{"user", "admin"}}).HasRole("admin"))
}

func TestErrorKinds(t *testing.T) {
	err := InvalidBody(assert.AnError)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, InvalidEnvelope, kind)
	assert.Equal(t, MsgInvalidBody, err.Error())
	assert.ErrorIs(t, err, assert.AnError)

	assert.True(t, IsKind(DocumentNotFound(), NotFound))
	assert.False(t, IsKind(assert.AnError, NotFound))
}

func TestSystemClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, SystemClock().Location())
}
