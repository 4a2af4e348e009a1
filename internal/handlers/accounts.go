package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/accounts"
	"github.com/memohai/rolodex/internal/domain"
)

// AccountHandler manages linked directory accounts.
type AccountHandler struct {
	service *accounts.Service
	logger  *slog.Logger
}

func NewAccountHandler(log *slog.Logger, service *accounts.Service) *AccountHandler {
	return &AccountHandler{
		service: service,
		logger:  log.With(slog.String("handler", "accounts")),
	}
}

func (h *AccountHandler) Register(e *echo.Echo) {
	group := e.Group("/accounts")
	group.GET("", h.List)
	group.POST("", h.Connect)
	group.GET("/auth-url", h.AuthURL)
	group.GET("/:id", h.Get)
	group.PATCH("/:id", h.Update)
	group.POST("/:id/reauthorize", h.Reauthorize)
	group.POST("/:id/revoke", h.Revoke)
}

// List godoc
// @Summary List linked accounts
// @Tags accounts
// @Success 200 {object} accounts.ListResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [get]
func (h *AccountHandler) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.LinkedAccount{}
	}
	return c.JSON(http.StatusOK, accounts.ListResponse{Items: items})
}

// AuthURL godoc
// @Summary Get the provider consent URL
// @Tags accounts
// @Success 200 {object} accounts.AuthURLResponse
// @Router /accounts/auth-url [get]
func (h *AccountHandler) AuthURL(c echo.Context) error {
	url, state := h.service.AuthURL()
	return c.JSON(http.StatusOK, accounts.AuthURLResponse{URL: url, State: state})
}

// Connect godoc
// @Summary Link an account
// @Description Exchanges the consent code. An identity that is already linked is reauthorized.
// @Tags accounts
// @Param payload body accounts.ConnectRequest true "Connect request"
// @Success 201 {object} domain.LinkedAccount
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [post]
func (h *AccountHandler) Connect(c echo.Context) error {
	var req accounts.ConnectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Connect(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, acct)
}

// Get godoc
// @Summary Get a linked account
// @Tags accounts
// @Param id path string true "Account ID"
// @Success 200 {object} domain.LinkedAccount
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [get]
func (h *AccountHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	acct, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, acct)
}

// Update godoc
// @Summary Update account sync flags
// @Tags accounts
// @Param id path string true "Account ID"
// @Param payload body accounts.UpdateRequest true "Flags"
// @Success 200 {object} domain.LinkedAccount
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [patch]
func (h *AccountHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req accounts.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Update(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, acct)
}

// Reauthorize godoc
// @Summary Reauthorize a paused account
// @Tags accounts
// @Param id path string true "Account ID"
// @Param payload body accounts.ReauthorizeRequest true "Consent code"
// @Success 200 {object} domain.LinkedAccount
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id}/reauthorize [post]
func (h *AccountHandler) Reauthorize(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req accounts.ReauthorizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Reauthorize(c.Request().Context(), id, req.Code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, acct)
}

// Revoke godoc
// @Summary Revoke an account's authorization
// @Description Deletes the stored token and pauses the account
// @Tags accounts
// @Param id path string true "Account ID"
// @Success 200 {object} domain.LinkedAccount
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id}/revoke [post]
func (h *AccountHandler) Revoke(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	acct, err := h.service.Revoke(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	h.logger.Info("account revoked", slog.String("account_id", id.String()))
	return c.JSON(http.StatusOK, acct)
}
