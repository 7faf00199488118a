package appointment

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/pkg/pagination"
)

type Handler struct {
	booking *BookingService
	queue   *QueueService
}

func NewHandler(booking *BookingService, queue *QueueService) *Handler {
	return &Handler{booking: booking, queue: queue}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	appts := api.Group("/appointments", auth.RequireAuth())
	appts.POST("", h.Book, auth.RequireRole(auth.RolePatient))
	appts.GET("/my", h.ListMine, auth.RequireRole(auth.RolePatient))
	appts.GET("/:id", h.Get)
	appts.PUT("/:id/cancel", h.Cancel)

	queue := api.Group("/queue", auth.RequireRole(auth.RoleDoctor))
	queue.GET("/doctor/:doctorId/today", h.Queue)
	queue.GET("/doctor/:doctorId/today/sheet.pdf", h.Sheet)
	queue.POST("/doctor/:doctorId/reset", h.Reset)
	queue.POST("/next", h.CallNext)
	queue.PUT("/:appointmentId/start", h.Start)
	queue.PUT("/:appointmentId/complete", h.Complete)
}

func caller(c echo.Context) auth.Identity {
	id, _ := auth.IdentityFromContext(c.Request().Context())
	return id
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

type bookRequest struct {
	DoctorID        string `json:"doctorId" validate:"required,uuid"`
	SlotID          string `json:"slotId" validate:"required"`
	AppointmentType string `json:"appointmentType"`
	Symptoms        string `json:"symptoms"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	doctorID, _ := uuid.Parse(req.DoctorID)

	a, err := h.booking.Book(c.Request().Context(), BookingInput{
		PatientID:        caller(c).UserID,
		DoctorID:         doctorID,
		SessionID:        req.SlotID,
		ConsultationType: req.AppointmentType,
		Symptoms:         req.Symptoms,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "appointment": a})
}

func (h *Handler) ListMine(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.booking.ListForPatient(c.Request().Context(), caller(c).UserID, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.booking.Get(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "appointment": a})
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.booking.Cancel(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "appointment cancelled",
		"appointment": a,
	})
}

func (h *Handler) Queue(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	q, err := h.queue.Queue(c.Request().Context(), caller(c), doctorID, c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"date":    q.Date,
		"count":   len(q.Entries),
		"queue":   q.Entries,
		"summary": q.Summary,
	})
}

func (h *Handler) Sheet(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	pdf, err := h.queue.QueueSheet(c.Request().Context(), caller(c), doctorID, c.QueryParam("date"))
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`inline; filename="queue-%s.pdf"`, doctorID))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

type callNextRequest struct {
	DoctorID             string `json:"doctorId" validate:"omitempty,uuid"`
	Date                 string `json:"date" validate:"omitempty,isodate"`
	CurrentAppointmentID string `json:"currentAppointmentId" validate:"omitempty,uuid"`
}

func (h *Handler) CallNext(c echo.Context) error {
	var req callNextRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	in := CallNextInput{Date: req.Date}
	if req.DoctorID != "" {
		id, _ := uuid.Parse(req.DoctorID)
		in.DoctorID = &id
	}
	if req.CurrentAppointmentID != "" {
		id, _ := uuid.Parse(req.CurrentAppointmentID)
		in.CurrentID = &id
	}

	res, err := h.queue.CallNext(c.Request().Context(), caller(c), in)
	if err != nil {
		return err
	}
	if res.QueueEmpty {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":   true,
			"completed": true,
			"message":   "queue empty",
			"previous":  res.Completed,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"completed":   false,
		"appointment": res.Next,
		"previous":    res.Completed,
	})
}

type resetRequest struct {
	Date string `json:"date" validate:"omitempty,isodate"`
}

func (h *Handler) Reset(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Date == "" {
		req.Date = c.QueryParam("date")
	}
	q, err := h.queue.Reset(c.Request().Context(), caller(c), doctorID, req.Date)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "queue renumbered",
		"queue":   q.Entries,
		"summary": q.Summary,
	})
}

func (h *Handler) Start(c echo.Context) error {
	id, err := uuidParam(c, "appointmentId")
	if err != nil {
		return err
	}
	a, err := h.queue.Start(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "appointment": a})
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuidParam(c, "appointmentId")
	if err != nil {
		return err
	}
	a, err := h.queue.Complete(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "appointment": a})
}
