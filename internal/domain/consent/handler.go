package consent

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careledger/portal/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/consents", h.List)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/consents/request", h.Request)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/consents/:id/grant", h.Grant)
	patient.POST("/consents/:id/deny", h.Deny)
	patient.POST("/consents/:id/revoke", h.Revoke)
}

type requestBody struct {
	PatientID     uuid.UUID `json:"patient_id"`
	TransactionID string    `json:"transaction_id"`
}

func (h *Handler) Request(c echo.Context) error {
	var body requestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorUserID := auth.UserIDFromContext(c.Request().Context())
	g, err := h.svc.RequestAccess(c.Request().Context(), doctorUserID, body.PatientID, body.TransactionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) decide(c echo.Context, approve bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	g, err := h.svc.Decide(c.Request().Context(), id, userID, approve)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) Grant(c echo.Context) error { return h.decide(c, true) }
func (h *Handler) Deny(c echo.Context) error  { return h.decide(c, false) }

func (h *Handler) Revoke(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	g, err := h.svc.Revoke(c.Request().Context(), id, userID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "grant not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	roles := auth.RolesFromContext(ctx)

	var (
		grants []*Grant
		err    error
	)
	if auth.HasRole(roles, auth.RoleDoctor) {
		grants, err = h.svc.ListForDoctor(ctx, userID)
	} else {
		grants, err = h.svc.ListForPatientUser(ctx, userID)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	if grants == nil {
		grants = []*Grant{}
	}
	return c.JSON(http.StatusOK, grants)
}
