package auditevent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordguard/internal/domain/identity"
	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/pkg/ids"
	"github.com/ehr/recordguard/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts compliance review. SuperAdmin only.
func (h *Handler) RegisterRoutes(api *echo.Group, guard auth.Guard) {
	review := auth.RoutePolicy{
		Action:         "audit.search",
		ResourceType:   "AuditEntry",
		RequiredRoles:  []identity.Role{identity.RoleSuperAdmin},
		Administrative: true,
	}
	verify := review
	verify.Action = "audit.verify"
	verify.ResourceParam = "id"
	chain := review
	chain.Action = "audit.verify_chain"

	api.GET("/audit-entries", h.ListEntries, guard(review))
	api.GET("/audit-entries/chain/verify", h.VerifyChain, guard(chain))
	api.GET("/audit-entries/:id/verify", h.VerifyEntry, guard(verify))
}

func (h *Handler) ListEntries(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) VerifyEntry(c echo.Context) error {
	id := c.Param("id")
	if !ids.Valid(id) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Verify(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "audit entry not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) VerifyChain(c echo.Context) error {
	report, err := h.svc.VerifyChain(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{
		Outcome:      c.QueryParam("outcome"),
		Action:       c.QueryParam("action"),
		ResourceType: c.QueryParam("resource_type"),
	}
	if v := c.QueryParam("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid actor_id")
		}
		f.ActorID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid from, expected RFC3339")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid to, expected RFC3339")
		}
		f.To = &t
	}
	return f, nil
}
