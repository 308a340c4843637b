package clinical

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordguard/internal/domain/identity"
	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/pkg/pagination"
)

// Handler serves consent-gated reads of a patient's clinical records.
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes mounts one list and one item route per record category.
// Doctors need a consent grant covering the category; patients only reach
// their own records.
func (h *Handler) RegisterRoutes(api *echo.Group, guard auth.Guard) {
	readers := []identity.Role{identity.RoleDoctor, identity.RolePatient}

	for _, cat := range Categories {
		base := "/patients/:patient_id/" + cat.Segment
		api.GET(base, h.list(cat.Category), guard(auth.RoutePolicy{
			Action:          cat.ActionPrefix + ".list",
			ResourceType:    cat.ResourceType,
			RequiredRoles:   readers,
			ConsentRequired: true,
			Category:        cat.Category,
		}))
		api.GET(base+"/:id", h.get(cat.Category), guard(auth.RoutePolicy{
			Action:          cat.ActionPrefix + ".read",
			ResourceType:    cat.ResourceType,
			RequiredRoles:   readers,
			ConsentRequired: true,
			ResourceParam:   "id",
			Category:        cat.Category,
		}))
	}
}

func (h *Handler) list(category auth.Category) echo.HandlerFunc {
	return func(c echo.Context) error {
		patientID, err := uuid.Parse(c.Param("patient_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		pg := pagination.FromContext(c)
		items, total, err := h.repo.ListByPatient(c.Request().Context(), patientID, category, pg.Limit, pg.Offset)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
}

func (h *Handler) get(category auth.Category) echo.HandlerFunc {
	return func(c echo.Context) error {
		patientID, err := uuid.Parse(c.Param("patient_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		r, err := h.repo.GetByID(c.Request().Context(), patientID, category, id)
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "record not found")
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, r)
	}
}
