package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

// AuditHandler serves the read-only audit trail.
type AuditHandler struct {
	log     *audit.Log
	queries store.Queries
	logger  *slog.Logger
}

type AuditListResponse struct {
	Items []domain.AuditRecord `json:"items"`
}

func NewAuditHandler(log *slog.Logger, auditLog *audit.Log, queries store.Queries) *AuditHandler {
	return &AuditHandler{
		log:     auditLog,
		queries: queries,
		logger:  log.With(slog.String("handler", "audit")),
	}
}

func (h *AuditHandler) Register(e *echo.Echo) {
	e.GET("/audit", h.List)
}

// List godoc
// @Summary List audit records
// @Description Newest first. since/until accept RFC3339 or epoch milliseconds.
// @Tags audit
// @Param person_id query string false "Person ID"
// @Param account_id query string false "Account ID"
// @Param status query string false "success, failed or pending_review"
// @Param run_id query string false "Sync run ID"
// @Param since query string false "Lower bound"
// @Param until query string false "Upper bound"
// @Param limit query int false "Max records (default 100)"
// @Success 200 {object} AuditListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /audit [get]
func (h *AuditHandler) List(c echo.Context) error {
	var (
		filter store.AuditFilter
		err    error
	)
	if filter.PersonID, err = queryID(c, "person_id"); err != nil {
		return err
	}
	if filter.AccountID, err = queryID(c, "account_id"); err != nil {
		return err
	}
	if filter.Since, err = queryTime(c, "since"); err != nil {
		return err
	}
	if filter.Until, err = queryTime(c, "until"); err != nil {
		return err
	}
	if filter.Limit, err = queryLimit(c); err != nil {
		return err
	}
	filter.Status = domain.AuditStatus(strings.TrimSpace(c.QueryParam("status")))
	filter.RunID = strings.TrimSpace(c.QueryParam("run_id"))

	items, err := h.log.List(c.Request().Context(), h.queries, filter)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []domain.AuditRecord{}
	}
	return c.JSON(http.StatusOK, AuditListResponse{Items: items})
}
