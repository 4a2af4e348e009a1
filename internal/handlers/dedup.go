package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/dedup"
	"github.com/memohai/rolodex/internal/domain"
)

// DedupHandler exposes duplicate detection, merging and exclusions.
type DedupHandler struct {
	service *dedup.Service
	logger  *slog.Logger
}

type DuplicateGroupsResponse struct {
	Items []dedup.Group `json:"items"`
}

// MergeRequest merges DeleteIDs into KeepID.
type MergeRequest struct {
	KeepID    uuid.UUID   `json:"keep_id"`
	DeleteIDs []uuid.UUID `json:"delete_ids"`
}

type ExclusionRequest struct {
	PersonA uuid.UUID `json:"person_a"`
	PersonB uuid.UUID `json:"person_b"`
}

type ExclusionListResponse struct {
	Items []domain.DuplicateExclusion `json:"items"`
}

func NewDedupHandler(log *slog.Logger, service *dedup.Service) *DedupHandler {
	return &DedupHandler{
		service: service,
		logger:  log.With(slog.String("handler", "dedup")),
	}
}

func (h *DedupHandler) Register(e *echo.Echo) {
	group := e.Group("/dedup")
	group.GET("/groups", h.Groups)
	group.POST("/run", h.Run)
	group.POST("/merge", h.Merge)
	group.GET("/exclusions", h.ListExclusions)
	group.POST("/exclusions", h.AddExclusion)
	group.DELETE("/exclusions/:a/:b", h.RemoveExclusion)
}

// Groups godoc
// @Summary Find duplicate groups
// @Description Persons sharing a normalized email, minus excluded pairs
// @Tags dedup
// @Success 200 {object} DuplicateGroupsResponse
// @Router /dedup/groups [get]
func (h *DedupHandler) Groups(c echo.Context) error {
	groups, err := h.service.FindDuplicateGroups(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if groups == nil {
		groups = []dedup.Group{}
	}
	return c.JSON(http.StatusOK, DuplicateGroupsResponse{Items: groups})
}

// Run godoc
// @Summary Run a dedup pass
// @Tags dedup
// @Success 200 {object} dedup.PassResult
// @Failure 409 {object} ErrorResponse
// @Router /dedup/run [post]
func (h *DedupHandler) Run(c echo.Context) error {
	res, err := h.service.RunPass(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Merge godoc
// @Summary Merge persons
// @Tags dedup
// @Param payload body MergeRequest true "Keeper and persons to fold in"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /dedup/merge [post]
func (h *DedupHandler) Merge(c echo.Context) error {
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.KeepID == uuid.Nil || len(req.DeleteIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "keep_id and delete_ids are required")
	}
	if err := h.service.Merge(c.Request().Context(), req.KeepID, req.DeleteIDs); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListExclusions godoc
// @Summary List pairs marked as different people
// @Tags dedup
// @Success 200 {object} ExclusionListResponse
// @Router /dedup/exclusions [get]
func (h *DedupHandler) ListExclusions(c echo.Context) error {
	items, err := h.service.Exclusions(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.DuplicateExclusion{}
	}
	return c.JSON(http.StatusOK, ExclusionListResponse{Items: items})
}

// AddExclusion godoc
// @Summary Mark two persons as different people
// @Tags dedup
// @Param payload body ExclusionRequest true "Pair"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Router /dedup/exclusions [post]
func (h *DedupHandler) AddExclusion(c echo.Context) error {
	var req ExclusionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PersonA == uuid.Nil || req.PersonB == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "person_a and person_b are required")
	}
	if err := h.service.Exclude(c.Request().Context(), req.PersonA, req.PersonB); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveExclusion godoc
// @Summary Remove an exclusion
// @Tags dedup
// @Param a path string true "Person ID"
// @Param b path string true "Person ID"
// @Success 204
// @Router /dedup/exclusions/{a}/{b} [delete]
func (h *DedupHandler) RemoveExclusion(c echo.Context) error {
	a, err := pathID(c, "a")
	if err != nil {
		return err
	}
	b, err := pathID(c, "b")
	if err != nil {
		return err
	}
	if err := h.service.Unexclude(c.Request().Context(), a, b); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
