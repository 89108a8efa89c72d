package auth

import "github.com/atvirokodosprendimai/dynamicapi/internal/domain"

const (
	RoleAdmin  = "admin"
	FieldOwner = "ownerId"
)

func Public(*domain.Principal, domain.Document) bool { return true }

func Authenticated(p *domain.Principal, _ domain.Document) bool { return p != nil }

func Admin(p *domain.Principal, _ domain.Document) bool { return p.HasRole(RoleAdmin) }

// Owner permits admins, and otherwise principals whose id is stored in the
// resource's ownerId. Routes without a resource only need a principal.
func Owner(p *domain.Principal, resource domain.Document) bool {
	if p == nil {
		return false
	}
	if p.HasRole(RoleAdmin) || resource == nil {
		return true
	}
	owner, _ := resource[FieldOwner].(string)
	return owner != "" && owner == p.ID
}

// Abilities is the named predicate catalog referenced by manifests.
func Abilities() map[string]domain.AbilityPredicate {
	return map[string]domain.AbilityPredicate{
		"public":        Public,
		"authenticated": Authenticated,
		"admin":         Admin,
		"owner":         Owner,
	}
}
