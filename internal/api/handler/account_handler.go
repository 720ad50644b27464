package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-service/internal/api/metrics"
	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

// AccountHandler serves profile reads and administrative account operations.
type AccountHandler struct {
	accounts ports.AccountService
}

func NewAccountHandler(accounts ports.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Me returns the caller's own account.
//
// @Summary      Current account
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  accountResponse
// @Failure      401  {object}  map[string]any
// @Failure      404  {object}  map[string]any
// @Router       /accounts/me [get]
func (h *AccountHandler) Me(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	acc, err := h.accounts.Get(c.Request().Context(), identity.AccountID())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAccountResponse(*acc))
}

// Get returns an account. Callers may read their own account; administrators
// may read any.
//
// @Summary      Get account
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Account ID"
// @Success      200  {object}  accountResponse
// @Failure      403  {object}  map[string]any
// @Failure      404  {object}  map[string]any
// @Router       /accounts/{id} [get]
func (h *AccountHandler) Get(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := selfOrAdmin(identity, id); err != nil {
		return err
	}

	acc, err := h.accounts.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAccountResponse(*acc))
}

// List pages through active accounts.
//
// @Summary      List accounts
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Param        page       query     int  false  "Page (default 1)"
// @Param        page_size  query     int  false  "Page size (default 10, max 50)"
// @Success      200        {object}  accountPageResponse
// @Failure      400        {object}  map[string]any
// @Failure      403        {object}  map[string]any
// @Router       /accounts [get]
func (h *AccountHandler) List(c echo.Context) error {
	page, err := pageRequest(c)
	if err != nil {
		return err
	}

	result, err := h.accounts.List(c.Request().Context(), page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAccountPageResponse(result))
}

// Search matches q against username, email and names of active accounts.
//
// @Summary      Search accounts
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Param        q          query     string  true   "Search term"
// @Param        page       query     int     false  "Page (default 1)"
// @Param        page_size  query     int     false  "Page size (default 10, max 50)"
// @Success      200        {object}  accountPageResponse
// @Failure      400        {object}  map[string]any
// @Failure      403        {object}  map[string]any
// @Router       /accounts/search [get]
func (h *AccountHandler) Search(c echo.Context) error {
	page, err := pageRequest(c)
	if err != nil {
		return err
	}

	result, err := h.accounts.Search(c.Request().Context(), c.QueryParam("q"), page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAccountPageResponse(result))
}

// Update applies a partial profile update, optionally changing the password.
//
// @Summary      Update account
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string                    true  "Account ID"
// @Param        body  body      ports.UpdateAccountInput  true  "Fields to change"
// @Success      200   {object}  accountResponse
// @Failure      400   {object}  map[string]any
// @Failure      403   {object}  map[string]any
// @Failure      404   {object}  map[string]any
// @Failure      409   {object}  map[string]any
// @Router       /accounts/{id} [put]
func (h *AccountHandler) Update(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := selfOrAdmin(identity, id); err != nil {
		return err
	}

	var req ports.UpdateAccountInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	acc, err := h.accounts.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAccountResponse(*acc))
}

// Delete soft deletes an account. The last active administrator cannot be
// deleted.
//
// @Summary      Delete account
// @Tags         accounts
// @Security     BearerAuth
// @Param        id   path  string  true  "Account ID"
// @Success      204
// @Failure      403  {object}  map[string]any
// @Failure      404  {object}  map[string]any
// @Failure      409  {object}  map[string]any
// @Router       /accounts/{id} [delete]
func (h *AccountHandler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := h.accounts.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	metrics.AccountsDeletedTotal.Inc()
	return c.NoContent(http.StatusNoContent)
}

func pageRequest(c echo.Context) (domain.PageRequest, error) {
	var page domain.PageRequest
	err := echo.QueryParamsBinder(c).
		Int("page", &page.Page).
		Int("page_size", &page.PageSize).
		BindError()
	if err != nil {
		field := "page"
		var be *echo.BindingError
		if errors.As(err, &be) {
			field = be.Field
		}
		return page, domain.InvalidField(field, "must be an integer")
	}
	return page, nil
}
