package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordguard/internal/domain/identity"
	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/pkg/pagination"
)

type grantRequest struct {
	GranteeID string    `json:"grantee_id" validate:"required,uuid"`
	Scope     []string  `json:"scope" validate:"required,min=1,dive,oneof=encounters prescriptions documents"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts consent management under the patient. The consent
// gate only lets the patient themself through (self_access).
func (h *Handler) RegisterRoutes(api *echo.Group, guard auth.Guard) {
	owner := []identity.Role{identity.RolePatient}

	api.POST("/patients/:patient_id/consents", h.CreateGrant, guard(auth.RoutePolicy{
		Action:          "consent.grant",
		ResourceType:    "ConsentGrant",
		RequiredRoles:   owner,
		ConsentRequired: true,
	}))
	api.GET("/patients/:patient_id/consents", h.ListGrants, guard(auth.RoutePolicy{
		Action:          "consent.list",
		ResourceType:    "ConsentGrant",
		RequiredRoles:   owner,
		Administrative:  true,
		ConsentRequired: true,
	}))
	api.DELETE("/patients/:patient_id/consents/:id", h.RevokeGrant, guard(auth.RoutePolicy{
		Action:          "consent.revoke",
		ResourceType:    "ConsentGrant",
		RequiredRoles:   owner,
		ConsentRequired: true,
		ResourceParam:   "id",
	}))
}

func (h *Handler) CreateGrant(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	scope := make([]Category, len(req.Scope))
	for i, s := range req.Scope {
		scope[i] = Category(s)
	}
	g, err := h.svc.Grant(c.Request().Context(), patientID, GrantRequest{
		GranteeID: uuid.MustParse(req.GranteeID),
		Scope:     scope,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) ListGrants(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RevokeGrant(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	grantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	g, err := h.svc.Revoke(c.Request().Context(), patientID, grantID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "consent grant not found")
	case errors.Is(err, ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidScope), errors.Is(err, ErrInvalidExpiry), errors.Is(err, ErrInvalidGrantee):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
