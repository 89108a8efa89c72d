package application

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// ListKey holds the documents of a CreateMany body.
const ListKey = "list"

// Payload is the realtime envelope. Body carries the same JSON an HTTP body would.
type Payload struct {
	ID    string          `json:"id,omitempty"`
	IDs   []string        `json:"ids,omitempty"`
	Query map[string]any  `json:"query,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

type envelopeErrors struct {
	body  func(error) *domain.Error
	query func(error) *domain.Error
}

var (
	httpErrors    = envelopeErrors{body: domain.InvalidBody, query: domain.InvalidQuery}
	payloadErrors = envelopeErrors{body: domain.InvalidPayload, query: domain.InvalidPayload}
)

// DecodeHTTP validates an HTTP request envelope. id is the path parameter and
// is empty for routes that do not address one document.
func (r *Route) DecodeHTTP(id string, query url.Values, body []byte) (Request, error) {
	var ids []string
	for _, v := range query["ids"] {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				ids = append(ids, p)
			}
		}
	}

	var filter map[string]any
	if r.Type == domain.GetMany {
		f, err := r.queryFromValues(query)
		if err != nil {
			return Request{}, domain.InvalidQuery(err)
		}
		filter = f
	}
	return r.decode(id, ids, filter, body, httpErrors)
}

// DecodePayload validates a realtime envelope.
func (r *Route) DecodePayload(raw json.RawMessage) (Request, error) {
	var p Payload
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &p); err != nil {
			return Request{}, domain.InvalidPayload(err)
		}
	}
	return r.decode(p.ID, p.IDs, p.Query, p.Body, payloadErrors)
}

func (r *Route) decode(id string, ids []string, query map[string]any, body []byte, errs envelopeErrors) (Request, error) {
	req := Request{}

	if r.Type.TargetsResource() {
		id = strings.TrimSpace(id)
		if err := CheckShape(r.DTOs.Param, domain.Document{domain.FieldID: nilIfEmpty(id)}); err != nil {
			return Request{}, errs.query(err)
		}
		if id == "" {
			return Request{}, errs.query(errors.New("id is required"))
		}
		req.ID = id
	}

	if r.Type.TargetsIDs() {
		if len(ids) == 0 {
			return Request{}, errs.query(errors.New("ids are required"))
		}
		for _, v := range ids {
			if strings.TrimSpace(v) == "" {
				return Request{}, errs.query(errors.New("ids may not be empty"))
			}
		}
		req.IDs = ids
	}

	if r.Type == domain.GetMany {
		filter := domain.Filter{}
		for k, v := range query {
			filter[k] = v
		}
		if err := CheckShape(r.DTOs.Query, domain.Document(filter)); err != nil {
			return Request{}, errs.query(err)
		}
		req.Query = filter
	}

	switch r.Type {
	case domain.CreateMany:
		list, err := decodeList(body)
		if err != nil {
			return Request{}, errs.body(err)
		}
		for i, d := range list {
			if err := CheckShape(r.DTOs.Body, d); err != nil {
				return Request{}, errs.body(fmt.Errorf("%s[%d]: %w", ListKey, i, err))
			}
		}
		req.List = list
	case domain.CreateOne, domain.UpdateOne, domain.UpdateMany, domain.ReplaceOne:
		d, err := decodeObject(body, false)
		if err != nil {
			return Request{}, errs.body(err)
		}
		if err := CheckShape(r.DTOs.Body, d); err != nil {
			return Request{}, errs.body(err)
		}
		req.Body = d
	case domain.DuplicateOne, domain.DuplicateMany:
		d, err := decodeObject(body, true)
		if err != nil {
			return Request{}, errs.body(err)
		}
		if err := CheckShape(r.DTOs.Body, d); err != nil {
			return Request{}, errs.body(err)
		}
		req.Body = d
	}
	return req, nil
}

func decodeObject(body []byte, optional bool) (domain.Document, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if optional {
			return domain.Document{}, nil
		}
		return nil, errors.New("body is required")
	}
	var d domain.Document
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.New("body must be an object")
	}
	return d, nil
}

func decodeList(body []byte) ([]domain.Document, error) {
	var env struct {
		List []domain.Document `json:"list"`
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("body is required")
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if len(env.List) == 0 {
		return nil, fmt.Errorf("%s must be a non-empty array", ListKey)
	}
	for i, d := range env.List {
		if d == nil {
			return nil, fmt.Errorf("%s[%d] must be an object", ListKey, i)
		}
	}
	return env.List, nil
}

// queryFromValues converts query string values using the kinds of the query shape.
func (r *Route) queryFromValues(values url.Values) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, vs := range values {
		if len(vs) == 0 {
			continue
		}
		raw := vs[len(vs)-1]
		f, ok := r.DTOs.Query.Field(name)
		if !ok {
			out[name] = raw
			continue
		}
		switch f.Kind {
		case domain.KindNumber:
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("query %q must be a number", name)
			}
			out[name] = n
		case domain.KindBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("query %q must be a boolean", name)
			}
			out[name] = b
		default:
			out[name] = raw
		}
	}
	return out, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
