package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/internal/platform/hipaa"
)

const tracerName = "github.com/ehr/recordguard/internal/platform/middleware"

// Pipeline runs authentication, role and consent gates in order in front of
// a protected handler and records exactly one audit entry per request.
type Pipeline struct {
	authn    *auth.AuthenticationGate
	consent  *auth.ConsentGate
	recorder AuditRecorder
	metrics  *Metrics
	tracer   trace.Tracer
	log      zerolog.Logger
}

func NewPipeline(authn *auth.AuthenticationGate, consent *auth.ConsentGate, recorder AuditRecorder, metrics *Metrics, log zerolog.Logger) *Pipeline {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		authn:    authn,
		consent:  consent,
		recorder: recorder,
		metrics:  metrics,
		tracer:   otel.Tracer(tracerName),
		log:      log,
	}
}

// Guard returns Protect as an auth.Guard for route registration.
func (p *Pipeline) Guard() auth.Guard {
	return p.Protect
}

// request carries what the pipeline learned about a request for its audit
// entry.
type request struct {
	policy     auth.RoutePolicy
	principal  *auth.Principal
	patientRaw string
}

// Protect returns the middleware enforcing policy. A denial short-circuits
// with a *auth.DecisionError; the handler only runs once every gate allowed.
func (p *Pipeline) Protect(policy auth.RoutePolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := p.tracer.Start(c.Request().Context(), "access "+p.action(c, policy))
			defer span.End()
			c.SetRequest(c.Request().WithContext(ctx))

			r := &request{
				policy:     policy,
				patientRaw: extractPatientID(c, policy.PatientParamName()),
			}

			var req *http.Request
			var principal auth.Principal
			d := p.stage(ctx, auth.StageAuthentication, func(context.Context) auth.Decision {
				var d auth.Decision
				req, principal, d = p.authn.Authenticate(c.Request())
				return d
			})
			if !d.Allowed {
				return p.deny(c, r, d)
			}
			c.SetRequest(req)
			r.principal = &principal
			span.SetAttributes(
				attribute.String("principal.id", principal.ID.String()),
				attribute.String("principal.role", string(principal.Role)),
			)

			d = p.stage(ctx, auth.StageRole, func(context.Context) auth.Decision {
				return auth.AuthorizeRole(principal, policy)
			})
			if !d.Allowed {
				return p.deny(c, r, d)
			}

			d = p.stage(ctx, auth.StageConsent, func(ctx context.Context) auth.Decision {
				return p.consent.Authorize(ctx, principal, policy, r.patientRaw)
			})
			if !d.Allowed {
				return p.deny(c, r, d)
			}

			return p.run(c, r, d, next)
		}
	}
}

// run calls the handler. A panic is recorded as Failed and re-raised for
// the recovery middleware.
func (p *Pipeline) run(c echo.Context, r *request, d auth.Decision, next echo.HandlerFunc) error {
	defer func() {
		if rec := recover(); rec != nil {
			handled := d
			handled.Stage = auth.StageHandler
			p.metrics.GateDecisions.WithLabelValues(string(auth.StageHandler), string(auth.OutcomeFailed), string(auth.ReasonHandlerError)).Inc()
			p.record(c, r, handled, auth.OutcomeFailed, auth.ReasonHandlerError, http.StatusInternalServerError)
			panic(rec)
		}
	}()
	return p.complete(c, r, d, next(c))
}

// stage runs one gate inside its own span and counts the decision.
func (p *Pipeline) stage(ctx context.Context, stage auth.Stage, gate func(context.Context) auth.Decision) auth.Decision {
	ctx, span := p.tracer.Start(ctx, "gate."+string(stage))
	defer span.End()

	d := gate(ctx)
	span.SetAttributes(
		attribute.Bool("gate.allowed", d.Allowed),
		attribute.String("gate.reason", string(d.Reason)),
	)
	if !d.Allowed {
		span.SetStatus(codes.Error, string(d.Reason))
	}
	p.metrics.GateDecisions.WithLabelValues(string(stage), string(d.Outcome()), string(d.Reason)).Inc()
	return d
}

func (p *Pipeline) deny(c echo.Context, r *request, d auth.Decision) error {
	trace.SpanFromContext(c.Request().Context()).SetStatus(codes.Error, string(d.Reason))
	p.log.Debug().
		Str("stage", string(d.Stage)).
		Str("reason", string(d.Reason)).
		Str("path", c.Request().URL.Path).
		Msg("access denied")
	p.record(c, r, d, auth.OutcomeDenied, d.Reason, d.HTTPStatus())
	return &auth.DecisionError{Decision: d}
}

// complete records the handler result. A deadline that expired while the
// handler ran is a Timeout even when the handler ignored it.
func (p *Pipeline) complete(c echo.Context, r *request, d auth.Decision, err error) error {
	ctx := c.Request().Context()
	handled := d
	handled.Stage = auth.StageHandler
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)

	switch {
	case timedOut:
		p.metrics.GateDecisions.WithLabelValues(string(auth.StageHandler), string(auth.OutcomeTimeout), string(auth.ReasonDeadlineExceeded)).Inc()
		p.record(c, r, handled, auth.OutcomeTimeout, auth.ReasonDeadlineExceeded, http.StatusGatewayTimeout)
		err = timeoutError(err)
	case err != nil:
		trace.SpanFromContext(ctx).RecordError(err)
		p.metrics.GateDecisions.WithLabelValues(string(auth.StageHandler), string(auth.OutcomeFailed), string(auth.ReasonHandlerError)).Inc()
		p.record(c, r, handled, auth.OutcomeFailed, auth.ReasonHandlerError, statusForError(err))
	default:
		p.metrics.GateDecisions.WithLabelValues(string(auth.StageHandler), string(auth.OutcomeAllowed), string(auth.ReasonCompleted)).Inc()
		p.record(c, r, d, auth.OutcomeAllowed, d.Reason, c.Response().Status)
	}
	return err
}

func (p *Pipeline) record(c echo.Context, r *request, d auth.Decision, outcome auth.Outcome, reason auth.Reason, status int) {
	a := hipaa.Access{
		Actor:        r.principal,
		Action:       p.action(c, r.policy),
		ResourceType: r.policy.ResourceType,
		PatientID:    parseOptionalID(r.patientRaw),
		GrantID:      d.GrantID,
		Outcome:      outcome,
		Reason:       reason,
		Tags:         d.Tags,
		Request:      requestInfo(c, status),
	}
	if a.ResourceType == "" {
		a.ResourceType = extractResourceType(c.Request().URL.Path)
	}
	if r.policy.ResourceParam != "" {
		a.ResourceID = c.Param(r.policy.ResourceParam)
	}
	if outcome != auth.OutcomeAllowed {
		a.Metadata = map[string]string{"stage": string(d.Stage)}
	}
	p.recorder.Record(c.Request().Context(), a)
}

func (p *Pipeline) action(c echo.Context, policy auth.RoutePolicy) string {
	if policy.Action != "" {
		return policy.Action
	}
	return httpMethodToAction(c.Request().Method)
}
