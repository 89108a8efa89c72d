package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/dynamicapi/internal/adapters/db/memory"
	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

var users = domain.EntityDescriptor{
	Name: "User",
	Fields: []domain.Field{
		{Name: FieldEmail, Kind: domain.KindString, Required: true, Unique: true},
		{Name: FieldPassword, Kind: domain.KindString},
		{Name: FieldRoles, Kind: domain.KindArray},
	},
}

type fixture struct {
	svc     *Service
	methods domain.CallbackMethods
	now     time.Time
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.methods = application.NewCallbackMethods(memory.New(), clock)
	svc, err := NewService(f.methods, Config{Secret: []byte(secret), TTL: time.Hour, Users: users}, clock)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(nil, Config{}, nil)
	require.Error(t, err)
}

func TestBootstrapAdminAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "s3cret")

	require.NoError(t, f.svc.BootstrapAdmin(ctx, " Root@Example.io ", "hunter2"))
	// second run finds the user and leaves it alone
	require.NoError(t, f.svc.BootstrapAdmin(ctx, "root@example.io", "other"))
	all, err := f.methods.FindManyDocuments(ctx, users, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotEqual(t, "hunter2", all[0][FieldPassword])

	token, p, err := f.svc.Login(ctx, "ROOT@example.io", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "root@example.io", p.Email)
	assert.Equal(t, []string{RoleAdmin}, p.Roles)

	got, err := f.svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, got.HasRole(RoleAdmin))
	assert.Equal(t, "dynamicapi", got.Claims["iss"])

	_, _, err = f.svc.Login(ctx, "root@example.io", "wrong")
	assert.True(t, domain.IsKind(err, domain.Unauthorized))
	_, _, err = f.svc.Login(ctx, "nobody@example.io", "hunter2")
	assert.True(t, domain.IsKind(err, domain.Unauthorized))
	_, _, err = f.svc.Login(ctx, "", "")
	assert.True(t, domain.IsKind(err, domain.Unauthorized))
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "s3cret")
	token, err := f.svc.Issue(&domain.Principal{ID: "u1", Email: "a@x.io"})
	require.NoError(t, err)

	other := newFixture(t, "another-secret")
	_, err = other.svc.Authenticate(ctx, token)
	assert.True(t, domain.IsKind(err, domain.Unauthorized))

	_, err = f.svc.Authenticate(ctx, "not-a-jwt")
	assert.True(t, domain.IsKind(err, domain.Unauthorized))
	_, err = f.svc.Authenticate(ctx, "  ")
	assert.True(t, domain.IsKind(err, domain.Unauthorized))

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.svc.Authenticate(ctx, token)
	assert.True(t, domain.IsKind(err, domain.Unauthorized), "expired token")
}

func TestAbilities(t *testing.T) {
	admin := &domain.Principal{ID: "a", Roles: []string{RoleAdmin}}
	user := &domain.Principal{ID: "u"}
	mine := domain.Document{FieldOwner: "u"}
	theirs := domain.Document{FieldOwner: "x"}

	assert.True(t, Public(nil, nil))
	assert.False(t, Authenticated(nil, nil))
	assert.True(t, Authenticated(user, nil))
	assert.False(t, Admin(nil, nil))
	assert.False(t, Admin(user, nil))
	assert.True(t, Admin(admin, nil))

	assert.False(t, Owner(nil, mine))
	assert.True(t, Owner(user, mine))
	assert.False(t, Owner(user, theirs))
	assert.False(t, Owner(user, domain.Document{}))
	assert.True(t, Owner(admin, theirs))
	assert.True(t, Owner(user, nil))

	assert.Len(t, Abilities(), 4)
}
