package auth

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/recordguard/internal/domain/identity"
)

// SessionEvent describes a decision taken at the session boundary, outside
// the gate pipeline.
type SessionEvent struct {
	Action   string
	Identity *identity.Identity
	Decision Decision
	// Failed marks an infrastructure failure after the request was accepted.
	Failed bool
}

// SessionAuditor records session boundary events.
type SessionAuditor interface {
	AuditSession(c echo.Context, ev SessionEvent)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type revokeResponse struct {
	IdentityID   uuid.UUID `json:"identity_id"`
	TokenVersion int       `json:"token_version"`
}

type SessionHandler struct {
	sessions *SessionService
	tokens   AccessValidator
	audit    SessionAuditor
	log      zerolog.Logger
}

func NewSessionHandler(sessions *SessionService, tokens AccessValidator, audit SessionAuditor, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens, audit: audit, log: log}
}

// RegisterRoutes mounts /auth on root and the administrative revoke endpoint
// on api. loginLimit throttles the unauthenticated endpoints.
func (h *SessionHandler) RegisterRoutes(root *echo.Group, api *echo.Group, guard Guard, loginLimit echo.MiddlewareFunc) {
	authGroup := root.Group("/auth")
	authGroup.POST("/login", h.Login, loginLimit)
	authGroup.POST("/refresh", h.Refresh, loginLimit)
	authGroup.POST("/logout-all", h.LogoutAll, guard(RoutePolicy{
		Action:       "session.revoke_all",
		ResourceType: "Session",
	}))

	api.POST("/identities/:id/revoke-sessions", h.RevokeIdentitySessions, guard(RoutePolicy{
		Action:         "session.revoke",
		ResourceType:   "Identity",
		RequiredRoles:  []identity.Role{identity.RoleSuperAdmin, identity.RoleHospitalAdmin},
		Administrative: true,
		ResourceParam:  "id",
	}))
}

func (h *SessionHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	res, err := h.sessions.Login(c.Request().Context(), req.Email, req.Password)
	ev := SessionEvent{Action: "session.login", Identity: res.Identity}

	var locked *AccountLockedError
	switch {
	case err == nil:
		ev.Decision = Allow(StageSession, ReasonAuthenticated)
	case errors.As(err, &locked):
		ev.Decision = Deny(StageSession, ReasonAccountLocked)
		ev.Decision.RetryAfter = locked.RetryAfter
	case errors.Is(err, ErrInvalidCredentials):
		ev.Decision = Deny(StageSession, ReasonInvalidCredentials)
	default:
		h.log.Error().Err(err).Msg("login failed")
		ev.Decision = Allow(StageSession, ReasonHandlerError)
		ev.Failed = true
		h.audit.AuditSession(c, ev)
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	h.audit.AuditSession(c, ev)
	if !ev.Decision.Allowed {
		return &DecisionError{Decision: ev.Decision, Message: "login refused"}
	}
	return c.JSON(http.StatusOK, res.Tokens)
}

func (h *SessionHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	pair, err := h.sessions.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrTokenRevoked) {
			h.log.Error().Err(err).Msg("refresh failed")
			h.audit.AuditSession(c, SessionEvent{Action: "session.refresh", Decision: Allow(StageSession, ReasonHandlerError), Failed: true})
			return echo.NewHTTPError(http.StatusInternalServerError, "refresh failed")
		}
		d := Deny(StageAuthentication, ReasonForTokenError(err))
		h.audit.AuditSession(c, SessionEvent{Action: "session.refresh", Decision: d})
		return &DecisionError{Decision: d, Message: "refresh token rejected"}
	}

	ev := SessionEvent{Action: "session.refresh", Decision: Allow(StageSession, ReasonAuthenticated)}
	if claims, err := h.tokens.ValidateAccess(pair.AccessToken); err == nil {
		ev.Identity = &identity.Identity{ID: claims.IdentityID, Role: claims.Role}
	}
	h.audit.AuditSession(c, ev)
	return c.JSON(http.StatusOK, pair)
}

// LogoutAll revokes every session of the calling identity.
func (h *SessionHandler) LogoutAll(c echo.Context) error {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return &DecisionError{Decision: Deny(StageAuthentication, ReasonMissingToken)}
	}
	if _, err := h.sessions.RevokeAll(c.Request().Context(), p.ID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "identity not found")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHandler) RevokeIdentitySessions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.sessions.RevokeAll(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "identity not found")
		}
		return err
	}
	h.log.Info().Str("identity_id", id.String()).Int("token_version", v).Msg("sessions revoked")
	return c.JSON(http.StatusOK, revokeResponse{IdentityID: id, TokenVersion: v})
}
