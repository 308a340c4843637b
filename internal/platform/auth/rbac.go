package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordguard/internal/domain/identity"
)

// RoutePolicy is declared per route and drives every gate in the pipeline.
type RoutePolicy struct {
	// Action is the audited verb, e.g. "read" or "consent.grant".
	Action       string
	ResourceType string
	// RequiredRoles lists the roles allowed to call the route. An empty list
	// means any authenticated principal.
	RequiredRoles []identity.Role
	// ConsentRequired routes the request through the consent gate.
	ConsentRequired bool
	// Administrative routes are additionally open to SuperAdmin.
	Administrative bool
	// PatientParam names the path parameter carrying the target patient id.
	// Defaults to "patient_id".
	PatientParam string
	// ResourceParam names the path parameter carrying the target resource id.
	ResourceParam string
	// Category is the consent scope category the route reads.
	Category Category
}

// PatientParamName returns the configured patient path parameter.
func (p RoutePolicy) PatientParamName() string {
	if p.PatientParam == "" {
		return "patient_id"
	}
	return p.PatientParam
}

// Permits reports whether role may call a route with this policy.
func (p RoutePolicy) Permits(role identity.Role) bool {
	if len(p.RequiredRoles) == 0 {
		return role.Valid()
	}
	for _, r := range p.RequiredRoles {
		if r == role {
			return true
		}
	}
	return p.Administrative && role == identity.RoleSuperAdmin
}

// AuthorizeRole is the role gate.
func AuthorizeRole(principal Principal, policy RoutePolicy) Decision {
	if policy.Permits(principal.Role) {
		return Allow(StageRole, ReasonRolePermitted)
	}
	return Deny(StageRole, ReasonRoleForbidden)
}

// Guard builds the middleware protecting a route with a policy. Handlers
// receive it from the wiring layer so they do not depend on the pipeline
// implementation.
type Guard func(policy RoutePolicy) echo.MiddlewareFunc
