package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/dynamicapi/internal/adapters/db/memory"
	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
	"github.com/atvirokodosprendimai/dynamicapi/internal/metrics"
)

type staticAuth map[string]*domain.Principal

func (a staticAuth) Authenticate(_ context.Context, token string) (*domain.Principal, error) {
	if p, ok := a[token]; ok {
		return p, nil
	}
	return nil, errors.New("bad token")
}

type staticLogin struct{}

func (staticLogin) Login(_ context.Context, email, password string) (string, *domain.Principal, error) {
	if password != "secret" {
		return "", nil, domain.Unauthenticated(nil)
	}
	return "tok", &domain.Principal{ID: "u1", Email: email}, nil
}

func articles() domain.EntityDescriptor {
	return domain.EntityDescriptor{
		Name:          "Article",
		SoftDeletable: true,
		Fields: []domain.Field{
			{Name: "title", Kind: domain.KindString, Required: true, Unique: true},
			{Name: "views", Kind: domain.KindNumber},
		},
	}
}

func newTestRouter(t *testing.T, opts domain.ControllerOptions) (http.Handler, *metrics.Metrics) {
	t.Helper()
	log, _ := test.NewNullLogger()
	factory := application.NewFactory(memory.New(), application.NewRegistry(), log)
	configs := make([]domain.RouteConfig, 0, len(domain.RouteTypes))
	for _, rt := range domain.RouteTypes {
		configs = append(configs, domain.RouteConfig{Type: rt})
	}
	routes, err := factory.Build(context.Background(), articles(), opts, configs)
	require.NoError(t, err)

	m := metrics.New()
	return NewRouter(Options{
		Routes:  routes,
		Auth:    staticAuth{"good": {ID: "u1", Roles: []string{"admin"}}},
		Login:   staticLogin{},
		Log:     log,
		Metrics: m,
	}), m
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRouterCRUDFlow(t *testing.T) {
	h, _ := newTestRouter(t, domain.ControllerOptions{})

	rec, created := do(t, h, http.MethodPost, "/articles", `{"title":"Hello","views":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	rec, got := do(t, h, http.MethodGet, "/articles/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", got["title"])

	rec, updated := do(t, h, http.MethodPatch, "/articles/"+id, `{"views":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, updated["views"])

	rec, _ = do(t, h, http.MethodPost, "/articles/duplicate/"+id, `{"title":"Copy"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/articles/many", `{"list":[{"title":"A"},{"title":"B"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/articles?views=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec, replaced := do(t, h, http.MethodPut, "/articles/"+id, `{"title":"Replaced"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, replaced, "views")

	rec, deleted := do(t, h, http.MethodDelete, "/articles/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, deleted["deletedCount"])

	rec, notFound := do(t, h, http.MethodGet, "/articles/"+id, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.MsgNotFound, notFound["message"])
	assert.EqualValues(t, 400, notFound["statusCode"])
}

func TestRouterClientErrors(t *testing.T) {
	h, _ := newTestRouter(t, domain.ControllerOptions{})

	rec, body := do(t, h, http.MethodPost, "/articles", `{"views":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.MsgInvalidBody, body["message"])

	rec, body = do(t, h, http.MethodDelete, "/articles", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.MsgInvalidQuery, body["message"])

	_, _ = do(t, h, http.MethodPost, "/articles", `{"title":"Same"}`)
	rec, body = do(t, h, http.MethodPost, "/articles", `{"title":"Same"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "title 'Same' is already used", body["message"])

	rec, body = do(t, h, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body["error"])
}

func TestRouterAuth(t *testing.T) {
	adminOnly := func(p *domain.Principal, _ domain.Document) bool { return p.HasRole("admin") }
	h, _ := newTestRouter(t, domain.ControllerOptions{Abilities: map[domain.RouteType]domain.AbilityPredicate{domain.GetMany: adminOnly}})

	rec, body := do(t, h, http.MethodGet, "/articles", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, domain.MsgForbidden, body["message"])

	rec, _ = do(t, h, http.MethodGet, "/articles", "", "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/articles", "", "Authorization", "Bearer bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.EqualValues(t, 401, body["statusCode"])

	rec, body = do(t, h, http.MethodPost, "/auth/login", `{"email":"a@x.io","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok", body["token"])

	rec, _ = do(t, h, http.MethodPost, "/auth/login", `{"email":"a@x.io","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/auth/whoami", "", "Authorization", "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", body["id"])
	rec, _ = do(t, h, http.MethodGet, "/auth/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t, domain.ControllerOptions{})

	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	_, _ = do(t, h, http.MethodGet, "/articles/missing", "")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dynamicapi_route_requests_total{outcome="not_found",route="GetOneArticleService",transport="http"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, 400, StatusFor(domain.InvalidPayload(nil)))
	assert.Equal(t, 400, StatusFor(domain.Duplicate("x", nil)))
	assert.Equal(t, 401, StatusFor(domain.Unauthenticated(nil)))
	assert.Equal(t, 403, StatusFor(domain.ForbiddenResource()))
	assert.Equal(t, 500, StatusFor(errors.New("boom")))
}

func TestRouterWithoutAuthenticatorIgnoresBearer(t *testing.T) {
	log, _ := test.NewNullLogger()
	factory := application.NewFactory(memory.New(), application.NewRegistry(), log)
	authenticated := func(p *domain.Principal, _ domain.Document) bool { return p != nil }
	routes, err := factory.Build(context.Background(), articles(), domain.ControllerOptions{}, []domain.RouteConfig{
		{Type: domain.CreateOne},
		{Type: domain.GetMany, Ability: authenticated},
	})
	require.NoError(t, err)
	h := NewRouter(Options{Routes: routes, Log: log})

	rec, _ := do(t, h, http.MethodPost, "/articles", `{"title":"Hi"}`, "Authorization", "Bearer anything")
	assert.Equal(t, http.StatusCreated, rec.Code)

	// anonymous, so the guarded route is forbidden rather than unauthorized
	rec, _ = do(t, h, http.MethodGet, "/articles", "", "Authorization", "Bearer anything")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/auth/whoami", "", "Authorization", "Bearer anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
