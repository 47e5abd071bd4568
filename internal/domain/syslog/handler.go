package syslog

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterSuperAdminRoutes wires the audit log surface.
func (h *Handler) RegisterSuperAdminRoutes(sa *echo.Group) {
	sa.GET("/logs", h.List)
}

func (h *Handler) List(c echo.Context) error {
	f := Filter{
		Level:    Level(c.QueryParam("level")),
		Category: Category(c.QueryParam("category")),
	}
	if raw := c.QueryParam("lab_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lab_id")
		}
		f.LabID = &id
	}
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
		}
		f.Since = &t
	}
	if raw := c.QueryParam("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "until must be RFC 3339")
		}
		f.Until = &t
	}

	p := pagination.FromContext(c)
	entries, total, err := h.svc.List(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p.Limit, p.Offset))
}
