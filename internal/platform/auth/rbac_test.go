package auth

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/recordguard/internal/domain/identity"
)

func TestAuthorizeRole(t *testing.T) {
	clinical := RoutePolicy{
		Action:        "read",
		ResourceType:  "Encounter",
		RequiredRoles: []identity.Role{identity.RoleDoctor, identity.RolePatient},
	}
	admin := RoutePolicy{
		Action:         "session.revoke",
		ResourceType:   "Identity",
		RequiredRoles:  []identity.Role{identity.RoleHospitalAdmin},
		Administrative: true,
	}
	nonAdmin := RoutePolicy{
		Action:        "consent.grant",
		ResourceType:  "ConsentGrant",
		RequiredRoles: []identity.Role{identity.RolePatient},
	}
	anyone := RoutePolicy{Action: "session.revoke_all", ResourceType: "Session"}

	tests := []struct {
		name   string
		role   identity.Role
		policy RoutePolicy
		allow  bool
	}{
		{"doctor on clinical", identity.RoleDoctor, clinical, true},
		{"patient on clinical", identity.RolePatient, clinical, true},
		{"hospital admin on clinical", identity.RoleHospitalAdmin, clinical, false},
		{"super admin on non-administrative", identity.RoleSuperAdmin, clinical, false},
		{"super admin on administrative", identity.RoleSuperAdmin, admin, true},
		{"hospital admin on administrative", identity.RoleHospitalAdmin, admin, true},
		{"doctor on administrative", identity.RoleDoctor, admin, false},
		{"super admin on patient-only", identity.RoleSuperAdmin, nonAdmin, false},
		{"any role on open route", identity.RoleDoctor, anyone, true},
		{"unknown role on open route", identity.Role("Nurse"), anyone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := AuthorizeRole(Principal{ID: uuid.New(), Role: tt.role}, tt.policy)
			if d.Allowed != tt.allow {
				t.Fatalf("expected allowed=%v, got %+v", tt.allow, d)
			}
			if !d.Allowed {
				if d.Reason != ReasonRoleForbidden {
					t.Errorf("expected role_forbidden, got %s", d.Reason)
				}
				if d.HTTPStatus() != http.StatusForbidden || d.Code() != CodeForbidden {
					t.Errorf("expected 403 FORBIDDEN, got %d %s", d.HTTPStatus(), d.Code())
				}
			}
		})
	}
}

func TestRoutePolicy_PatientParamName(t *testing.T) {
	if got := (RoutePolicy{}).PatientParamName(); got != "patient_id" {
		t.Errorf("expected default patient_id, got %q", got)
	}
	if got := (RoutePolicy{PatientParam: "pid"}).PatientParamName(); got != "pid" {
		t.Errorf("expected pid, got %q", got)
	}
}
