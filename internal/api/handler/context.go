package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-service/internal/api/middleware"
	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/security"
)

// ctxIdentity extracts the identity injected by the Auth middleware. Its
// absence means the route was registered without Auth.
func ctxIdentity(c echo.Context) (security.VerifiedIdentity, error) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return security.VerifiedIdentity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return identity, nil
}

// selfOrAdmin lets an account act on itself; administrators may act on any.
func selfOrAdmin(identity security.VerifiedIdentity, target uuid.UUID) error {
	if identity.AccountID() == target || identity.HasRole(domain.RoleAdmin) {
		return nil
	}
	return domain.ErrForbidden
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domain.InvalidField("id", "must be a valid UUID")
	}
	return id, nil
}
