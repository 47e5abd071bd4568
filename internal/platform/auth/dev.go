package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/tenant"
)

// DevIdentity grants every request a synthetic super_admin identity. It is a
// development-only seam: config.Validate refuses it in production, and it is
// never the inferred default.
func DevIdentity() echo.MiddlewareFunc {
	devUser := uuid.New()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acct := &Account{ID: devUser, Role: RoleSuperAdmin, Active: true}
			scope := tenant.Scope{
				UserID: acct.ID,
				Role:   string(acct.Role),
				LabID:  explicitLab(c),
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, accountKey{}, acct)
			ctx = tenant.WithScope(ctx, scope)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
