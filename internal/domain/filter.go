package domain

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Filter is an equality match over top-level fields. A value of type In
// matches when the field equals any listed value.
type Filter map[string]any

type In []any

func ByID(id string) Filter {
	return Filter{FieldID: id}
}

func ByIDs(ids []string) Filter {
	in := make(In, 0, len(ids))
	for _, id := range ids {
		in = append(in, id)
	}
	return Filter{FieldID: in}
}

func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f Filter) Match(doc Document) bool {
	for field, want := range f {
		got := doc[field]
		if in, ok := want.(In); ok {
			if !in.contains(got) {
				return false
			}
			continue
		}
		if !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

func (in In) contains(v any) bool {
	for _, candidate := range in {
		if ValuesEqual(v, candidate) {
			return true
		}
	}
	return false
}

// ValuesEqual compares document values loosely enough that a value read back
// from a JSON column still equals the value that was written.
func ValuesEqual(a, b any) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	case Document:
		return map[string]any(x)
	}
	return v
}

// UniqueKeyValue renders the canonical value of a unique key for doc. The key is
// not indexed (ok=false) when every field other than deletedAt is null.
func UniqueKeyValue(doc Document, pattern []string) (string, map[string]any, bool) {
	values := make([]any, 0, len(pattern))
	fields := make(map[string]any, len(pattern))
	indexed := false
	for _, name := range pattern {
		v := normalizeValue(doc[name])
		values = append(values, v)
		fields[name] = doc[name]
		if name != FieldDeletedAt && v != nil {
			indexed = true
		}
	}
	if !indexed {
		return "", nil, false
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", nil, false
	}
	return string(raw), fields, true
}

func KeyName(pattern []string) string {
	return strings.Join(pattern, "+")
}

type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Stage is one aggregation step. Steps apply in field order: Match, Sort,
// Skip, Limit, Project, Count.
type Stage struct {
	Match   Filter      `json:"match,omitempty"`
	Sort    []SortField `json:"sort,omitempty"`
	Skip    int         `json:"skip,omitempty"`
	Limit   int         `json:"limit,omitempty"`
	Project []string    `json:"project,omitempty"`
	Count   string      `json:"count,omitempty"`
}

type Pipeline []Stage

func (p Pipeline) Apply(docs []Document) []Document {
	out := docs
	for _, st := range p {
		out = st.apply(out)
	}
	return out
}

func (st Stage) apply(docs []Document) []Document {
	out := docs
	if len(st.Match) > 0 {
		matched := make([]Document, 0, len(out))
		for _, d := range out {
			if st.Match.Match(d) {
				matched = append(matched, d)
			}
		}
		out = matched
	}
	if len(st.Sort) > 0 {
		sorted := append([]Document(nil), out...)
		sort.SliceStable(sorted, func(i, j int) bool {
			for _, sf := range st.Sort {
				c := compareValues(sorted[i][sf.Field], sorted[j][sf.Field])
				if c == 0 {
					continue
				}
				if sf.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		out = sorted
	}
	if st.Skip > 0 {
		if st.Skip >= len(out) {
			out = nil
		} else {
			out = out[st.Skip:]
		}
	}
	if st.Limit > 0 && st.Limit < len(out) {
		out = out[:st.Limit]
	}
	if len(st.Project) > 0 {
		projected := make([]Document, 0, len(out))
		for _, d := range out {
			p := make(Document, len(st.Project))
			for _, f := range st.Project {
				if v, ok := d[f]; ok {
					p[f] = v
				}
			}
			projected = append(projected, p)
		}
		out = projected
	}
	if st.Count != "" {
		out = []Document{{st.Count: len(out)}}
	}
	return out
}

// compareValues orders nil first, then booleans, numbers, and strings.
func compareValues(a, b any) int {
	a, b = normalizeValue(a), normalizeValue(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}
