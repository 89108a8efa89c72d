package application

import (
	"context"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

// Guard evaluates an ability predicate for one route. Both transports call
// Check with the principal already attached to ctx.
type Guard struct {
	predicate domain.AbilityPredicate
	load      func(ctx context.Context, id string) (domain.Document, error)
}

func NewGuard(predicate domain.AbilityPredicate, load func(ctx context.Context, id string) (domain.Document, error)) Guard {
	return Guard{predicate: predicate, load: load}
}

// Check permits everything when no predicate is bound. For routes addressing
// one document the document is loaded first, so a missing resource reports
// not found rather than forbidden.
func (g Guard) Check(ctx context.Context, resourceID string) error {
	if g.predicate == nil {
		return nil
	}
	var resource domain.Document
	if resourceID != "" && g.load != nil {
		d, err := g.load(ctx, resourceID)
		if err != nil {
			return err
		}
		resource = d
	}
	if !g.predicate(domain.PrincipalFromContext(ctx), resource) {
		return domain.ForbiddenResource()
	}
	return nil
}

func (g Guard) Enabled() bool { return g.predicate != nil }

// abilityFor prefers the route's own predicate over the controller-wide one.
func abilityFor(cfg domain.RouteConfig, opts domain.ControllerOptions) domain.AbilityPredicate {
	if cfg.Ability != nil {
		return cfg.Ability
	}
	if opts.Abilities != nil {
		return opts.Abilities[cfg.Type]
	}
	return nil
}
