package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/people"
	"github.com/memohai/rolodex/internal/store"
)

// PeopleHandler is the local CRM surface: persons and their tags, interactions and affiliations.
type PeopleHandler struct {
	service *people.Service
	logger  *slog.Logger
}

type TagListResponse struct {
	Items []domain.Tag `json:"items"`
}

type InteractionListResponse struct {
	Items []domain.Interaction `json:"items"`
}

type AffiliationListResponse struct {
	Items []domain.Affiliation `json:"items"`
}

func NewPeopleHandler(log *slog.Logger, service *people.Service) *PeopleHandler {
	return &PeopleHandler{
		service: service,
		logger:  log.With(slog.String("handler", "people")),
	}
}

func (h *PeopleHandler) Register(e *echo.Echo) {
	group := e.Group("/people")
	group.GET("", h.List)
	group.POST("", h.Create)
	group.GET("/:id", h.Get)
	group.PATCH("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	group.GET("/:id/tags", h.ListTags)
	group.POST("/:id/tags", h.AddTag)
	group.GET("/:id/interactions", h.ListInteractions)
	group.POST("/:id/interactions", h.AddInteraction)
	group.GET("/:id/affiliations", h.ListAffiliations)
	group.POST("/:id/affiliations", h.AddAffiliation)
}

// List godoc
// @Summary List persons
// @Tags people
// @Param sync_enabled query bool false "Filter by sync flag"
// @Param sync_status query string false "pending, synced, conflict or error"
// @Param email query string false "Exact email match"
// @Param limit query int false "Max items"
// @Success 200 {object} people.ListResponse
// @Failure 400 {object} ErrorResponse
// @Router /people [get]
func (h *PeopleHandler) List(c echo.Context) error {
	var (
		filter store.PersonFilter
		err    error
	)
	if filter.SyncEnabled, err = queryBool(c, "sync_enabled"); err != nil {
		return err
	}
	if filter.Limit, err = queryLimit(c); err != nil {
		return err
	}
	filter.SyncStatus = domain.SyncStatus(strings.TrimSpace(c.QueryParam("sync_status")))
	filter.Email = strings.TrimSpace(c.QueryParam("email"))
	items, err := h.service.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.Person{}
	}
	return c.JSON(http.StatusOK, people.ListResponse{Items: items})
}

// Create godoc
// @Summary Create a person
// @Tags people
// @Param payload body people.CreateRequest true "Person"
// @Success 201 {object} domain.Person
// @Failure 400 {object} ErrorResponse
// @Router /people [post]
func (h *PeopleHandler) Create(c echo.Context) error {
	var req people.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

// Get godoc
// @Summary Get a person
// @Tags people
// @Param id path string true "Person ID"
// @Success 200 {object} domain.Person
// @Failure 404 {object} ErrorResponse
// @Router /people/{id} [get]
func (h *PeopleHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// Update godoc
// @Summary Update a person
// @Description Editing a synced field marks the person pending for the next push
// @Tags people
// @Param id path string true "Person ID"
// @Param payload body people.UpdateRequest true "Changed fields"
// @Success 200 {object} domain.Person
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /people/{id} [patch]
func (h *PeopleHandler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req people.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Update(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// Delete godoc
// @Summary Delete a person
// @Description Persons that were ever synced are archived and their remote records queued for deletion
// @Tags people
// @Param id path string true "Person ID"
// @Success 200 {object} people.DeleteResult
// @Failure 404 {object} ErrorResponse
// @Router /people/{id} [delete]
func (h *PeopleHandler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.service.Delete(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *PeopleHandler) ListTags(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.service.Tags(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.Tag{}
	}
	return c.JSON(http.StatusOK, TagListResponse{Items: items})
}

func (h *PeopleHandler) AddTag(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req people.TagRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tag, err := h.service.AddTag(c.Request().Context(), id, req.Name)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, tag)
}

func (h *PeopleHandler) ListInteractions(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.service.Interactions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.Interaction{}
	}
	return c.JSON(http.StatusOK, InteractionListResponse{Items: items})
}

func (h *PeopleHandler) AddInteraction(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req people.InteractionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := h.service.AddInteraction(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, in)
}

func (h *PeopleHandler) ListAffiliations(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.service.Affiliations(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.Affiliation{}
	}
	return c.JSON(http.StatusOK, AffiliationListResponse{Items: items})
}

func (h *PeopleHandler) AddAffiliation(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req people.AffiliationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.service.AddAffiliation(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}
