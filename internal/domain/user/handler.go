package user

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the lab-scoped user management surface. Reads need
// the admin or super_admin role; writes additionally demand the
// manage_technicians permission.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/users", auth.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin))
	g.GET("", h.List)
	g.GET("/:id", h.Get)

	w := api.Group("/users", auth.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin),
		auth.RequirePermission(auth.PermManageTechnicians, auth.PermManageAdmins))
	w.POST("", h.Create)
	w.PUT("/:id", h.Update)
	w.PUT("/:id/role", h.ChangeRole)
	w.DELETE("/:id", h.Delete)
}

// RegisterSuperAdminRoutes wires the cross-tenant user surface.
func (h *Handler) RegisterSuperAdminRoutes(sa *echo.Group) {
	g := sa.Group("/users")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.POST("/bulk", h.BulkCreate)
	g.PUT("/:id", h.Update)
	g.PUT("/:id/role", h.ChangeRole)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) BulkCreate(c echo.Context) error {
	var inputs []CreateInput
	if err := c.Bind(&inputs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	users, err := h.svc.BulkCreate(c.Request().Context(), inputs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, users)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	users, total, err := h.svc.List(c.Request().Context(), auth.Role(c.QueryParam("role")), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	// Bind twice: the raw form catches privileged fields smuggled into the
	// generic path, the typed form carries the allowed ones.
	var raw map[string]interface{}
	if err := c.Bind(&raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := CheckUpdatePayload(raw); err != nil {
		return err
	}

	in := UpdateInput{}
	if v, ok := raw["name"].(string); ok {
		in.Name = v
	}
	if v, ok := raw["email"].(string); ok {
		in.Email = v
	}
	if v, ok := raw["status"].(string); ok {
		in.Status = Status(v)
	}

	u, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ChangeRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Role auth.Role `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.ChangeRole(c.Request().Context(), id, body.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "user deleted"})
}
