package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/tenant"
)

// Account is the minimal caller record the middleware needs. The user domain
// package adapts its entity to this shape, keeping auth free of domain
// imports.
type Account struct {
	ID     uuid.UUID
	LabID  uuid.UUID
	Role   Role
	Active bool
}

// AccountSource loads the account behind a verified token subject.
type AccountSource interface {
	AccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
}

type accountKey struct{}

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (*Account, bool) {
	acct, ok := ctx.Value(accountKey{}).(*Account)
	return acct, ok
}

// Authenticate validates the bearer token, loads the corresponding active
// account, resolves the tenant context and attaches both to the request.
//
// Tenant resolution: a super_admin may pin an explicit lab via the lab_id
// query parameter or X-Lab-ID header; with neither, the scope spans all
// tenants. Every other role is forced to its own lab — client-supplied lab
// identifiers are ignored, so a request parameter can never widen access.
func Authenticate(tokens *TokenManager, source AccountSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			userID, err := tokens.Verify(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			acct, err := source.AccountByID(c.Request().Context(), userID)
			if err != nil || acct == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if !acct.Active {
				return echo.NewHTTPError(http.StatusUnauthorized, "account is not active")
			}

			scope := tenant.Scope{
				UserID: acct.ID,
				Role:   string(acct.Role),
				LabID:  acct.LabID,
			}
			if acct.Role == RoleSuperAdmin {
				scope.LabID = explicitLab(c)
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, accountKey{}, acct)
			ctx = tenant.WithScope(ctx, scope)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func explicitLab(c echo.Context) uuid.UUID {
	raw := c.QueryParam("lab_id")
	if raw == "" {
		raw = c.Request().Header.Get("X-Lab-ID")
	}
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
