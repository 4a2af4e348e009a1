package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/rolodex/internal/accounts"
	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/credentials"
	"github.com/memohai/rolodex/internal/dedup"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/orchestrator"
	"github.com/memohai/rolodex/internal/people"
	"github.com/memohai/rolodex/internal/review"
	"github.com/memohai/rolodex/internal/schedule"
	"github.com/memohai/rolodex/internal/settings"
	"github.com/memohai/rolodex/internal/store"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

var (
	badRequest = []error{
		domain.ErrUnknownKind, domain.ErrPrimaryEmail,
		settings.ErrInvalidTime, settings.ErrInvalidTimezone, settings.ErrInvalidRetention,
		review.ErrInvalidResolution,
		dedup.ErrInvalidMerge, dedup.ErrExcluded,
		accounts.ErrMissingCode, accounts.ErrMissingIdentity, accounts.ErrInvalidTimezone,
		people.ErrEmptyName, people.ErrInvalidEmail, people.ErrEmptyTag, people.ErrEmptyInteraction, people.ErrEmptyAffiliation,
		orchestrator.ErrAccountDisabled, orchestrator.ErrDirectionDisabled,
		schedule.ErrNoAccounts,
	}
	conflict = []error{
		store.ErrDuplicate, review.ErrAlreadyTerminal, archive.ErrAlreadyRestored, dedup.ErrAlreadyRunning,
	}
)

// httpError maps a service error onto the status the API reports for it.
func httpError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, credentials.ErrRevoked), errors.Is(err, credentials.ErrNoCredential):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, schedule.ErrStopped), errors.Is(err, review.ErrNoMerger):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	for _, target := range conflict {
		if errors.Is(err, target) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
}
