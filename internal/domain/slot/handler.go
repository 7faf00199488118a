package slot

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/slots/doctor/:doctorId", h.ListRules)
	api.GET("/slots/available/:doctorId", h.Available)

	editors := api.Group("/slots", auth.RequireRole(auth.RoleDoctor))
	editors.POST("", h.Create)
	editors.PUT("/:id", h.Update)
	editors.DELETE("/:id", h.Deactivate)
}

func (h *Handler) ListRules(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return apperr.Validation("invalid doctorId")
	}
	rules, err := h.svc.ListRules(c.Request().Context(), doctorID)
	if err != nil {
		return err
	}
	if rules == nil {
		rules = []*Rule{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(rules),
		"slots":   rules,
	})
}

func (h *Handler) Available(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return apperr.Validation("invalid doctorId")
	}
	avail, err := h.svc.AvailableSessions(c.Request().Context(), doctorID, SessionQuery{
		StartDate: c.QueryParam("startDate"),
		EndDate:   c.QueryParam("endDate"),
		Type:      c.QueryParam("appointmentType"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"count":       len(avail.Sessions),
		"slots":       avail.Sessions,
		"slotsByDate": avail.ByDate,
	})
}

func (h *Handler) Create(c echo.Context) error {
	caller, _ := auth.IdentityFromContext(c.Request().Context())
	var in CreateRuleInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	r, err := h.svc.CreateRule(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "slot": r})
}

func (h *Handler) Update(c echo.Context) error {
	caller, _ := auth.IdentityFromContext(c.Request().Context())
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid slot id")
	}
	var patch RulePatch
	if err := c.Bind(&patch); err != nil {
		return apperr.Validation("invalid request body")
	}
	r, err := h.svc.UpdateRule(c.Request().Context(), caller, id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "slot": r})
}

func (h *Handler) Deactivate(c echo.Context) error {
	caller, _ := auth.IdentityFromContext(c.Request().Context())
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid slot id")
	}
	if _, err := h.svc.DeactivateRule(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "slot deactivated"})
}
