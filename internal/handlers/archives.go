package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

// ArchiveHandler lists and restores archived persons.
type ArchiveHandler struct {
	service *archive.Service
	logger  *slog.Logger
}

type ArchiveListResponse struct {
	Items []domain.ArchivedPerson `json:"items"`
}

type RestoreResponse struct {
	PersonID uuid.UUID `json:"person_id"`
}

func NewArchiveHandler(log *slog.Logger, service *archive.Service) *ArchiveHandler {
	return &ArchiveHandler{
		service: service,
		logger:  log.With(slog.String("handler", "archives")),
	}
}

func (h *ArchiveHandler) Register(e *echo.Echo) {
	group := e.Group("/archives")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("/:id/restore", h.Restore)
}

// List godoc
// @Summary List archived persons
// @Tags archives
// @Param include_restored query bool false "Include restored archives"
// @Param deleted_from query string false "local, remote or merge"
// @Param limit query int false "Max items"
// @Success 200 {object} ArchiveListResponse
// @Failure 400 {object} ErrorResponse
// @Router /archives [get]
func (h *ArchiveHandler) List(c echo.Context) error {
	var filter store.ArchiveFilter
	restored, err := queryBool(c, "include_restored")
	if err != nil {
		return err
	}
	if restored != nil {
		filter.IncludeRestored = *restored
	}
	if filter.Limit, err = queryLimit(c); err != nil {
		return err
	}
	filter.DeletedFrom = domain.DeletedFrom(strings.TrimSpace(c.QueryParam("deleted_from")))
	items, err := h.service.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.ArchivedPerson{}
	}
	return c.JSON(http.StatusOK, ArchiveListResponse{Items: items})
}

// Get godoc
// @Summary Get an archived person
// @Tags archives
// @Param id path string true "Archive ID"
// @Success 200 {object} domain.ArchivedPerson
// @Failure 404 {object} ErrorResponse
// @Router /archives/{id} [get]
func (h *ArchiveHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Restore godoc
// @Summary Restore an archived person
// @Description Recreates the person with a new id. An archive restores at most once.
// @Tags archives
// @Param id path string true "Archive ID"
// @Success 201 {object} RestoreResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /archives/{id}/restore [post]
func (h *ArchiveHandler) Restore(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	personID, err := h.service.Restore(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, RestoreResponse{PersonID: personID})
}
