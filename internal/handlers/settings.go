package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/settings"
)

type SettingsHandler struct {
	service *settings.Service
	logger  *slog.Logger
}

func NewSettingsHandler(log *slog.Logger, service *settings.Service) *SettingsHandler {
	return &SettingsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "settings")),
	}
}

func (h *SettingsHandler) Register(e *echo.Echo) {
	group := e.Group("/settings")
	group.GET("", h.Get)
	group.PUT("", h.Update)
}

// Get godoc
// @Summary Get sync settings
// @Description Get the global sync settings, creating defaults on first access
// @Tags settings
// @Success 200 {object} domain.SyncSettings
// @Failure 500 {object} ErrorResponse
// @Router /settings [get]
func (h *SettingsHandler) Get(c echo.Context) error {
	st, err := h.service.Get(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// Update godoc
// @Summary Update sync settings
// @Description Update auto sync, scheduled times, timezone or archive retention
// @Tags settings
// @Param payload body settings.UpdateRequest true "Settings payload"
// @Success 200 {object} domain.SyncSettings
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /settings [put]
func (h *SettingsHandler) Update(c echo.Context) error {
	var req settings.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.service.Update(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	h.logger.Info("settings updated", slog.Bool("auto_sync", st.AutoSync), slog.String("timezone", st.Timezone))
	return c.JSON(http.StatusOK, st)
}
