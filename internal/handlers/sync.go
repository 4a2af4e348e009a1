package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/schedule"
	"github.com/memohai/rolodex/internal/store"
)

// SyncHandler triggers manual runs and reports scheduler state.
type SyncHandler struct {
	scheduler *schedule.Service
	queries   store.Queries
	logger    *slog.Logger
}

// AccountStatus is the per-account part of GET /sync/status.
type AccountStatus struct {
	ID             string            `json:"id"`
	Identity       string            `json:"identity"`
	SyncStatus     domain.SyncStatus `json:"sync_status"`
	Paused         bool              `json:"paused"`
	Due            bool              `json:"due"`
	FailureCount   int               `json:"failure_count"`
	LastError      string            `json:"last_error,omitempty"`
	LastFullSyncAt string            `json:"last_full_sync_at,omitempty"`
	NextSyncAt     string            `json:"next_sync_at,omitempty"`
}

type StatusResponse struct {
	Accounts       []AccountStatus `json:"accounts"`
	PendingReviews int             `json:"pending_reviews"`
	Jobs           []schedule.Job  `json:"jobs"`
}

func NewSyncHandler(log *slog.Logger, scheduler *schedule.Service, queries store.Queries) *SyncHandler {
	return &SyncHandler{
		scheduler: scheduler,
		queries:   queries,
		logger:    log.With(slog.String("handler", "sync")),
	}
}

func (h *SyncHandler) Register(e *echo.Echo) {
	group := e.Group("/sync")
	group.POST("/run", h.Run)
	group.GET("/jobs", h.Jobs)
	group.GET("/status", h.Status)
}

// Run godoc
// @Summary Start a manual sync
// @Description Runs asynchronously. Without account_ids every enabled account is run.
// @Tags sync
// @Param payload body schedule.RunNowRequest false "Accounts and direction"
// @Success 202 {object} schedule.RunNowResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /sync/run [post]
func (h *SyncHandler) Run(c echo.Context) error {
	var req schedule.RunNowRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	ids, err := h.scheduler.RunNow(c.Request().Context(), req.AccountIDs, req.Direction)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, schedule.RunNowResponse{Accepted: ids})
}

// Jobs godoc
// @Summary List background jobs
// @Tags sync
// @Success 200 {object} schedule.ListResponse
// @Router /sync/jobs [get]
func (h *SyncHandler) Jobs(c echo.Context) error {
	jobs := h.scheduler.Jobs()
	if jobs == nil {
		jobs = []schedule.Job{}
	}
	return c.JSON(http.StatusOK, schedule.ListResponse{Items: jobs})
}

// Status godoc
// @Summary Sync overview
// @Description Account states, pending review count and job schedule
// @Tags sync
// @Success 200 {object} StatusResponse
// @Failure 500 {object} ErrorResponse
// @Router /sync/status [get]
func (h *SyncHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	accounts, err := h.queries.ListAccounts(ctx)
	if err != nil {
		return httpError(err)
	}
	pending, err := h.queries.ListReviews(ctx, store.ReviewFilter{Status: domain.ReviewPending})
	if err != nil {
		return httpError(err)
	}
	now := time.Now()
	resp := StatusResponse{
		Accounts:       make([]AccountStatus, 0, len(accounts)),
		PendingReviews: len(pending),
		Jobs:           h.scheduler.Jobs(),
	}
	for _, a := range accounts {
		st := AccountStatus{
			ID:           a.ID.String(),
			Identity:     a.Identity,
			SyncStatus:   a.SyncStatus,
			Paused:       a.Paused(),
			Due:          schedule.Due(a, now),
			FailureCount: a.FailureCount,
			LastError:    a.LastError,
		}
		if a.LastFullSyncAt != nil {
			st.LastFullSyncAt = a.LastFullSyncAt.UTC().Format(time.RFC3339)
		}
		if a.NextSyncAt != nil {
			st.NextSyncAt = a.NextSyncAt.UTC().Format(time.RFC3339)
		}
		resp.Accounts = append(resp.Accounts, st)
	}
	if resp.Jobs == nil {
		resp.Jobs = []schedule.Job{}
	}
	return c.JSON(http.StatusOK, resp)
}
