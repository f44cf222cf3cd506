// Package permissions answers "may this principal perform this action" from
// the principal's tier. The tier vocabulary is closed and the policy matrix
// ships with the binary; there is nothing to administer at runtime.
package permissions

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/telemetry"
)

//go:embed model.conf
var casbinModelContent string

// tierPolicies is the static tier to action matrix. Internal callers can do
// everything; external tiers get read access, with syndication partners
// additionally allowed to export.
var tierPolicies = [][]string{
	{string(authn.TierInternal), AllWildcard},
	{string(authn.TierReadOnly), ContentRead},
	{string(authn.TierReadOnly), ContentList},
	{string(authn.TierSyndication), ContentRead},
	{string(authn.TierSyndication), ContentList},
	{string(authn.TierSyndication), SyndicationExport},
}

// Checker evaluates tier permissions through a Casbin enforcer built from the
// embedded model and the static policy matrix.
type Checker struct {
	enforcer casbin.IEnforcer
}

// NewChecker creates a Checker with the built-in policy matrix loaded.
func NewChecker() (*Checker, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	for _, rule := range tierPolicies {
		if _, err := enforcer.AddPolicy(rule[0], rule[1]); err != nil {
			return nil, fmt.Errorf("seed tier policy %v: %w", rule, err)
		}
	}

	return &Checker{enforcer: enforcer}, nil
}

// Can reports whether the principal's tier allows the action.
func (c *Checker) Can(ctx context.Context, p authn.Principal, action string) (bool, error) {
	if p == nil {
		return false, nil
	}

	_, span := telemetry.StartSpan(ctx, "grid/permissions", "permissions.Can",
		attribute.String(telemetry.AttrPrincipalID, p.Identity()),
		attribute.String(telemetry.AttrPrincipalTier, string(p.Tier())),
		attribute.String(telemetry.AttrPermissionAction, action),
	)
	defer span.End()

	allowed, err := c.enforcer.Enforce(string(p.Tier()), action)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("enforce %s for tier %s: %w", action, p.Tier(), err)
	}

	span.SetAttributes(attribute.Bool(telemetry.AttrPermissionAllowed, allowed))
	return allowed, nil
}
