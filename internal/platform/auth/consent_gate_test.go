package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordguard/internal/domain/identity"
)

type mockConsentFinder struct {
	grants []ConsentGrant
	err    error
	calls  int
}

func (m *mockConsentFinder) FindActiveConsent(_ context.Context, _, _ uuid.UUID, at time.Time) ([]ConsentGrant, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []ConsentGrant
	for _, g := range m.grants {
		if g.Active && g.ExpiresAt.After(at) {
			out = append(out, g)
		}
	}
	return out, nil
}

var encounterPolicy = RoutePolicy{
	Action:          "read",
	ResourceType:    "Encounter",
	RequiredRoles:   []identity.Role{identity.RoleDoctor, identity.RolePatient},
	ConsentRequired: true,
	Category:        CategoryEncounters,
}

func TestConsentGate_DenyAllowDenyAfterExpiry(t *testing.T) {
	clock := newTestClock()
	finder := &mockConsentFinder{}
	gate := NewConsentGate(ConsentGateConfig{Now: clock.Now}, finder, zerolog.Nop())
	doctor := Principal{ID: uuid.New(), Role: identity.RoleDoctor}
	patientID := uuid.New()

	d := gate.Authorize(context.Background(), doctor, encounterPolicy, patientID.String())
	if d.Allowed || d.Reason != ReasonConsentRequired {
		t.Fatalf("expected consent_required before grant, got %+v", d)
	}
	if d.Code() != CodeConsentRequired || d.HTTPStatus() != http.StatusForbidden {
		t.Errorf("expected 403 CONSENT_REQUIRED, got %d %s", d.HTTPStatus(), d.Code())
	}

	grantID := uuid.New()
	finder.grants = []ConsentGrant{{
		ID:        grantID,
		Active:    true,
		Scope:     []Category{CategoryEncounters},
		ExpiresAt: clock.Now().Add(time.Hour),
	}}
	d = gate.Authorize(context.Background(), doctor, encounterPolicy, patientID.String())
	if !d.Allowed || d.Reason != ReasonConsentGranted {
		t.Fatalf("expected consent_granted, got %+v", d)
	}
	if d.GrantID == nil || *d.GrantID != grantID {
		t.Errorf("expected grant id %s, got %v", grantID, d.GrantID)
	}

	clock.Advance(time.Hour)
	d = gate.Authorize(context.Background(), doctor, encounterPolicy, patientID.String())
	if d.Allowed || d.Reason != ReasonConsentRequired {
		t.Fatalf("expected deny at expiry instant, got %+v", d)
	}
}

func TestConsentGate_Rules(t *testing.T) {
	clock := newTestClock()
	patientID := uuid.New()
	doctorID := uuid.New()
	live := ConsentGrant{ID: uuid.New(), Active: true, Scope: []Category{CategoryPrescriptions}, ExpiresAt: clock.Now().Add(time.Hour)}

	tests := []struct {
		name      string
		principal Principal
		policy    RoutePolicy
		patient   string
		grants    []ConsentGrant
		bypass    bool
		allow     bool
		reason    Reason
		lookups   int
		bypassTag bool
	}{
		{
			name:      "patient reading own records",
			principal: Principal{ID: patientID, Role: identity.RolePatient},
			policy:    encounterPolicy,
			patient:   patientID.String(),
			allow:     true,
			reason:    ReasonSelfAccess,
		},
		{
			name:      "patient reading someone else",
			principal: Principal{ID: uuid.New(), Role: identity.RolePatient},
			policy:    encounterPolicy,
			patient:   patientID.String(),
			reason:    ReasonConsentRequired,
		},
		{
			name:      "grant does not cover category",
			principal: Principal{ID: doctorID, Role: identity.RoleDoctor},
			policy:    encounterPolicy,
			patient:   patientID.String(),
			grants:    []ConsentGrant{live},
			reason:    ReasonConsentRequired,
			lookups:   1,
		},
		{
			name:      "revoked grant",
			principal: Principal{ID: doctorID, Role: identity.RoleDoctor},
			policy:    encounterPolicy,
			patient:   patientID.String(),
			grants:    []ConsentGrant{{ID: uuid.New(), Scope: []Category{CategoryEncounters}, ExpiresAt: clock.Now().Add(time.Hour)}},
			reason:    ReasonConsentRequired,
			lookups:   1,
		},
		{
			name:      "unresolved patient",
			principal: Principal{ID: doctorID, Role: identity.RoleDoctor},
			policy:    encounterPolicy,
			patient:   "",
			reason:    ReasonPatientUnresolved,
		},
		{
			name:      "super admin without bypass",
			principal: Principal{ID: uuid.New(), Role: identity.RoleSuperAdmin},
			policy:    encounterPolicy,
			patient:   patientID.String(),
			reason:    ReasonConsentRequired,
		},
		{
			name:      "hospital admin with bypass",
			principal: Principal{ID: uuid.New(), Role: identity.RoleHospitalAdmin},
			policy:    encounterPolicy,
			patient:   patientID.String(),
			bypass:    true,
			allow:     true,
			reason:    ReasonAdminBypass,
			bypassTag: true,
		},
		{
			name:      "route without consent",
			principal: Principal{ID: doctorID, Role: identity.RoleDoctor},
			policy:    RoutePolicy{Action: "read", ResourceType: "AuditEntry"},
			allow:     true,
			reason:    ReasonNotPatientScoped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder := &mockConsentFinder{grants: tt.grants}
			gate := NewConsentGate(ConsentGateConfig{AdminBypass: tt.bypass, Now: clock.Now}, finder, zerolog.Nop())

			d := gate.Authorize(context.Background(), tt.principal, tt.policy, tt.patient)
			if d.Allowed != tt.allow || d.Reason != tt.reason {
				t.Fatalf("expected allowed=%v reason=%s, got %+v", tt.allow, tt.reason, d)
			}
			if finder.calls != tt.lookups {
				t.Errorf("expected %d lookups, got %d", tt.lookups, finder.calls)
			}
			hasTag := len(d.Tags) == 1 && d.Tags[0] == TagAdminBypass
			if hasTag != tt.bypassTag {
				t.Errorf("expected bypass tag=%v, got tags %v", tt.bypassTag, d.Tags)
			}
		})
	}
}

func TestConsentGate_LookupFailureDenies(t *testing.T) {
	finder := &mockConsentFinder{err: errors.New("connection refused")}
	gate := NewConsentGate(ConsentGateConfig{}, finder, zerolog.Nop())

	d := gate.Authorize(context.Background(), Principal{ID: uuid.New(), Role: identity.RoleDoctor}, encounterPolicy, uuid.NewString())
	if d.Allowed || d.Reason != ReasonConsentUnavailable {
		t.Fatalf("expected consent_unavailable deny, got %+v", d)
	}
	if d.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", d.HTTPStatus())
	}
}

func TestConsentGrant_Covers(t *testing.T) {
	now := time.Now()
	g := ConsentGrant{Active: true, Scope: []Category{CategoryDocuments}, ExpiresAt: now.Add(time.Minute)}
	if !g.Covers(CategoryDocuments, now) {
		t.Error("expected documents covered")
	}
	if g.Covers(CategoryEncounters, now) {
		t.Error("encounters must not be covered")
	}
	if g.Covers(CategoryDocuments, now.Add(time.Minute)) {
		t.Error("grant must not cover its own expiry instant")
	}
	if (ConsentGrant{Active: true, ExpiresAt: now.Add(time.Minute)}).Covers("", now) {
		t.Error("empty scope must cover nothing")
	}
}
