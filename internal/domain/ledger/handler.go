package ledger

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careledger/portal/internal/platform/auth"
)

// Handler serves the verification endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the ledger routes. verifyGroup must allow anonymous
// requests (the verify link is the QR entry point and renders auth_required
// for signed-out viewers); apiGroup is the authenticated API.
func (h *Handler) RegisterRoutes(verifyGroup, apiGroup *echo.Group) {
	verifyGroup.GET("/verify/:transactionId", h.Verify)

	doctor := apiGroup.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/verify/:transactionId/request-access", h.RequestAccess)
	doctor.GET("/ledger/:transactionId/metadata", h.Metadata)
}

func (h *Handler) principal(c echo.Context) Principal {
	ctx := c.Request().Context()
	return Principal{
		UserID: auth.UserIDFromContext(ctx),
		Roles:  auth.RolesFromContext(ctx),
	}
}

func (h *Handler) Verify(c echo.Context) error {
	res, err := h.svc.Verify(c.Request().Context(), c.Param("transactionId"), h.principal(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "verification failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RequestAccess(c echo.Context) error {
	res, err := h.svc.RequestAccess(c.Request().Context(), c.Param("transactionId"), h.principal(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "request failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Metadata(c echo.Context) error {
	meta, err := h.svc.Metadata(c.Request().Context(), c.Param("transactionId"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "entry not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(http.StatusOK, meta)
}
