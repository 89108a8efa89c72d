package manifest_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/dynamicapi/internal/adapters/db/memory"
	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
	"github.com/atvirokodosprendimai/dynamicapi/internal/catalog"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
	"github.com/atvirokodosprendimai/dynamicapi/internal/manifest"
)

func newFactory(t *testing.T) *application.Factory {
	t.Helper()
	log, _ := test.NewNullLogger()
	return application.NewFactory(memory.New(), application.NewRegistry(), log)
}

func TestParseRejectsBadManifests(t *testing.T) {
	cases := map[string]string{
		"not yaml":         "entities: [",
		"no entities":      "auth: {}",
		"duplicate entity": "entities: [{name: A}, {name: A}]",
		"unknown users":    "auth: {usersEntity: User}\nentities: [{name: A}]",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := manifest.Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestLoadExampleManifest(t *testing.T) {
	m, err := manifest.Load("../../dynamicapi.yaml")
	require.NoError(t, err)

	users, ok := m.Descriptor(m.Auth.UsersEntity)
	require.True(t, ok)
	assert.Equal(t, "users", users.CollectionName())
	assert.True(t, users.SoftDeletable)

	log, _ := test.NewNullLogger()
	routes, err := m.Assemble(context.Background(), newFactory(t), catalog.New(m, log))
	require.NoError(t, err)
	assert.Len(t, routes, 21)

	byName := map[string]*application.Route{}
	for _, rt := range routes {
		byName[rt.Names.Service] = rt
	}
	v2 := byName["GetOneProjectV2Service"]
	require.NotNil(t, v2)
	assert.Equal(t, "/projects/v2/{id}", v2.Path)
	assert.Equal(t, "get-one-project-v2", v2.Event)
	assert.True(t, v2.Guarded())

	audit := byName["GetManyAuditService"]
	require.NotNil(t, audit)
	assert.Empty(t, audit.Event)
	assert.True(t, audit.Guarded())

	create := byName["CreateOneUserService"]
	require.NotNil(t, create)
	require.NotNil(t, create.DTOs.Body.ToEntity)
	require.NotNil(t, create.DTOs.Presenter.FromEntity)
	assert.Equal(t, "CreateOneUserBody", create.DTOs.Body.Name)
}

func TestExampleManifestPinsProjectOwner(t *testing.T) {
	ctx := context.Background()
	m, err := manifest.Load("../../dynamicapi.yaml")
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	routes, err := m.Assemble(ctx, newFactory(t), catalog.New(m, log))
	require.NoError(t, err)

	byName := map[string]*application.Route{}
	for _, rt := range routes {
		byName[rt.Names.Service] = rt
	}
	createOne := byName["CreateOneProjectService"]
	createMany := byName["CreateManyProjectService"]
	require.NotNil(t, createOne)
	require.NotNil(t, createMany)

	_, err = createOne.DecodePayload([]byte(`{"body":{"name":"p","slug":"p","ownerId":"someone-else"}}`))
	assert.True(t, domain.IsKind(err, domain.InvalidEnvelope))

	req, err := createOne.DecodePayload([]byte(`{"body":{"name":"p","slug":"p"}}`))
	require.NoError(t, err)
	_, err = createOne.Handle(ctx, req)
	assert.True(t, domain.IsKind(err, domain.Forbidden))

	alice := domain.WithPrincipal(ctx, &domain.Principal{ID: "alice"})
	_, err = createOne.Handle(alice, req)
	require.NoError(t, err)

	req, err = createMany.DecodePayload([]byte(`{"body":{"list":[{"name":"q","slug":"q"},{"name":"r","slug":"r"}]}}`))
	require.NoError(t, err)
	_, err = createMany.Handle(alice, req)
	require.NoError(t, err)

	docs, err := createOne.Service().GetMany(ctx, domain.Filter{"ownerId": "alice"})
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestAssembleResolvesNames(t *testing.T) {
	base := `
entities:
  - name: Note
    fields:
      - { name: text, kind: string }
    routes:
      - %s
`
	cat := manifest.Catalog{
		Abilities: map[string]domain.AbilityPredicate{"open": func(*domain.Principal, domain.Document) bool { return true }},
		Mappers:   map[string]domain.Shape{},
	}

	bad := map[string]string{
		"unknown route type":    "{ type: Upsert }",
		"unknown ability":       "{ type: GetOne, ability: nobody }",
		"unknown hook":          "{ type: UpdateOne, beforeSave: nope }",
		"unknown after hook":    "{ type: CreateOne, afterSave: nope }",
		"unknown mapper":        "{ type: CreateOne, body: nope }",
		"bad exclusion":         "{ type: CreateOne, exclude: [id] }",
		"unknown create hook":   "{ type: CreateOne, beforeCreate: nope }",
		"create hook on update": "{ type: UpdateOne, beforeCreate: nope }",
	}
	for name, route := range bad {
		t.Run(name, func(t *testing.T) {
			m, err := manifest.Parse([]byte(fmt.Sprintf(base, route)))
			require.NoError(t, err)
			_, err = m.Assemble(context.Background(), newFactory(t), cat)
			require.Error(t, err)
		})
	}

	m, err := manifest.Parse([]byte(fmt.Sprintf(base, "{ type: GetOne, ability: open }")))
	require.NoError(t, err)
	routes, err := m.Assemble(context.Background(), newFactory(t), cat)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "/notes/{id}", routes[0].Path)
	assert.True(t, routes[0].Guarded())
}

func TestControllerAbilitiesRejectUnknownRouteType(t *testing.T) {
	raw := `
entities:
  - name: Note
    controller:
      abilities: { Upsert: open }
    routes:
      - { type: GetOne }
`
	m, err := manifest.Parse([]byte(raw))
	require.NoError(t, err)
	_, err = m.Assemble(context.Background(), newFactory(t), manifest.Catalog{})
	require.Error(t, err)
}
