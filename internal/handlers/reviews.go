package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/review"
	"github.com/memohai/rolodex/internal/store"
)

// ReviewHandler exposes the conflict review queue.
type ReviewHandler struct {
	service *review.Service
	logger  *slog.Logger
}

type ReviewListResponse struct {
	Items []domain.ReviewItem `json:"items"`
}

func NewReviewHandler(log *slog.Logger, service *review.Service) *ReviewHandler {
	return &ReviewHandler{
		service: service,
		logger:  log.With(slog.String("handler", "reviews")),
	}
}

func (h *ReviewHandler) Register(e *echo.Echo) {
	group := e.Group("/reviews")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("/:id/resolve", h.Resolve)
	group.POST("/:id/dismiss", h.Dismiss)
}

// List godoc
// @Summary List review items
// @Description Defaults to pending items
// @Tags reviews
// @Param status query string false "pending, resolved, dismissed or all"
// @Param type query string false "Review type"
// @Param person_id query string false "Person ID"
// @Param account_id query string false "Account ID"
// @Param limit query int false "Max items"
// @Success 200 {object} ReviewListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /reviews [get]
func (h *ReviewHandler) List(c echo.Context) error {
	var (
		filter store.ReviewFilter
		err    error
	)
	filter.Status = domain.ReviewStatus(strings.TrimSpace(c.QueryParam("status")))
	switch filter.Status {
	case "":
		filter.Status = domain.ReviewPending
	case "all":
		filter.Status = ""
	}
	filter.ReviewType = domain.ReviewType(strings.TrimSpace(c.QueryParam("type")))
	if filter.PersonID, err = queryID(c, "person_id"); err != nil {
		return err
	}
	if filter.AccountID, err = queryID(c, "account_id"); err != nil {
		return err
	}
	if filter.Limit, err = queryLimit(c); err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.ReviewItem{}
	}
	return c.JSON(http.StatusOK, ReviewListResponse{Items: items})
}

// Get godoc
// @Summary Get a review item
// @Tags reviews
// @Param id path string true "Review ID"
// @Success 200 {object} domain.ReviewItem
// @Failure 404 {object} ErrorResponse
// @Router /reviews/{id} [get]
func (h *ReviewHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	item, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Resolve godoc
// @Summary Resolve a review item
// @Description Apply chosen fields, link, create or merge. A resolved item cannot be resolved again.
// @Tags reviews
// @Param id path string true "Review ID"
// @Param payload body domain.Resolution true "Resolution"
// @Success 200 {object} domain.ReviewItem
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /reviews/{id}/resolve [post]
func (h *ReviewHandler) Resolve(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var res domain.Resolution
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.service.Resolve(ctx, id, res); err != nil {
		return httpError(err)
	}
	item, err := h.service.Get(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// Dismiss godoc
// @Summary Dismiss a review item
// @Tags reviews
// @Param id path string true "Review ID"
// @Success 200 {object} domain.ReviewItem
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /reviews/{id}/dismiss [post]
func (h *ReviewHandler) Dismiss(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.service.Dismiss(ctx, id); err != nil {
		return httpError(err)
	}
	item, err := h.service.Get(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}
