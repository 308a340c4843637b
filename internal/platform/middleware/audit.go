package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordguard/internal/domain/auditevent"
	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/internal/platform/hipaa"
)

// AuditRecorder is the part of *hipaa.AuditRecorder the pipeline uses, so
// tests can capture entries without a queue.
type AuditRecorder interface {
	Record(ctx context.Context, a hipaa.Access) *auditevent.Entry
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, a hipaa.Access) *auditevent.Entry

func (f AuditRecorderFunc) Record(ctx context.Context, a hipaa.Access) *auditevent.Entry {
	return f(ctx, a)
}

// httpMethodToAction maps HTTP methods to audit action verbs for routes
// that do not declare one.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResourceType takes the last non-parameter segment of an API path.
//
//	/api/v1/patients/123/encounters     -> encounters
//	/api/v1/patients/123/encounters/456 -> encounters
func extractResourceType(path string) string {
	path = strings.TrimPrefix(path, "/api/v1/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		s := segments[i]
		if s != "" && !isUUIDLike(s) {
			return s
		}
	}
	return "unknown"
}

// patientQueryParam names the query parameter that carries the patient id on
// routes without one in the path.
const patientQueryParam = "patient_id"

// extractPatientID reads the patient id from the named path parameter, then
// from ?patient_id=<id>.
func extractPatientID(c echo.Context, param string) string {
	if v := c.Param(param); v != "" {
		return v
	}
	return c.QueryParam(patientQueryParam)
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func parseOptionalID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

// requestInfo snapshots the request for the audit metadata.
func requestInfo(c echo.Context, status int) hipaa.RequestInfo {
	req := c.Request()
	return hipaa.RequestInfo{
		Method:    req.Method,
		Route:     c.Path(),
		Path:      req.URL.Path,
		RequestID: RequestIDFrom(c),
		RemoteIP:  c.RealIP(),
		UserAgent: req.UserAgent(),
		Status:    status,
		Query:     req.URL.Query(),
	}
}

// SessionAuditor records login, refresh and revocation events through the
// same recorder as the pipeline.
type SessionAuditor struct {
	recorder AuditRecorder
	metrics  *Metrics
}

func NewSessionAuditor(recorder AuditRecorder, metrics *Metrics) *SessionAuditor {
	return &SessionAuditor{recorder: recorder, metrics: metrics}
}

func (s *SessionAuditor) AuditSession(c echo.Context, ev auth.SessionEvent) {
	outcome := ev.Decision.Outcome()
	status := http.StatusOK
	switch {
	case ev.Failed:
		outcome = auth.OutcomeFailed
		status = http.StatusInternalServerError
	case !ev.Decision.Allowed:
		status = ev.Decision.HTTPStatus()
	}

	a := hipaa.Access{
		Action:       ev.Action,
		ResourceType: "Session",
		Outcome:      outcome,
		Reason:       ev.Decision.Reason,
		Tags:         ev.Decision.Tags,
		Request:      requestInfo(c, status),
	}
	if ev.Identity != nil {
		a.Actor = &auth.Principal{ID: ev.Identity.ID, Role: ev.Identity.Role}
		a.ResourceID = ev.Identity.ID.String()
	}

	s.recorder.Record(c.Request().Context(), a)
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(ev.Action, string(outcome), string(ev.Decision.Reason)).Inc()
	}
}
