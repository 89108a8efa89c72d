package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatch(t *testing.T) {
	doc := Document{"id": "1", "age": float64(30), "isDeleted": false, "tags": []any{"a"}}

	assert.True(t, Filter{}.Match(doc))
	assert.True(t, Filter{"age": 30}.Match(doc))
	assert.True(t, Filter{"isDeleted": false}.Match(doc))
	assert.False(t, Filter{"isDeleted": true}.Match(doc))
	assert.True(t, ByIDs([]string{"2", "1"}).Match(doc))
	assert.False(t, ByIDs([]string{"2"}).Match(doc))
	assert.True(t, Filter{"missing": nil}.Match(doc))
	assert.True(t, Filter{"tags": []any{"a"}}.Match(doc))
}

func TestValuesEqualAcrossJSONRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(Document{"at": now, "n": 3})
	var back Document
	_ = json.Unmarshal(raw, &back)

	assert.True(t, ValuesEqual(now, back["at"]))
	assert.True(t, ValuesEqual(3, back["n"]))
	assert.False(t, ValuesEqual(nil, false))
}

func TestUniqueKeyValueIsSparse(t *testing.T) {
	pattern := []string{"email", FieldDeletedAt}

	_, _, ok := UniqueKeyValue(Document{FieldDeletedAt: nil}, pattern)
	assert.False(t, ok)

	v1, fields, ok := UniqueKeyValue(Document{"email": "a@b.c", FieldDeletedAt: nil}, pattern)
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", fields["email"])

	v2, _, _ := UniqueKeyValue(Document{"email": "a@b.c", FieldDeletedAt: time.Now()}, pattern)
	assert.NotEqual(t, v1, v2)
	assert.Equal(t, "email+deletedAt", KeyName(pattern))
}

func TestPipelineApply(t *testing.T) {
	docs := []Document{
		{"id": "1", "n": 3, "kind": "a"},
		{"id": "2", "n": 1, "kind": "a"},
		{"id": "3", "n": 2, "kind": "b"},
	}

	out := Pipeline{
		{Match: Filter{"kind": "a"}},
		{Sort: []SortField{{Field: "n"}}},
		{Project: []string{"n"}},
	}.Apply(docs)
	assert.Equal(t, []Document{{"n": 1}, {"n": 3}}, out)

	out = Pipeline{{Sort: []SortField{{Field: "n", Desc: true}}, Skip: 1, Limit: 1}}.Apply(docs)
	assert.Equal(t, "3", out[0].ID())

	out = Pipeline{{Match: Filter{"kind": "a"}, Count: "total"}}.Apply(docs)
	assert.Equal(t, []Document{{"total": 2}}, out)
}
