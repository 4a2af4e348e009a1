package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/domain"
)

const (
	JobDispatch = "dispatch"
	JobPurge    = "purge"
	JobDedup    = "dedup"
)

var (
	// ErrStopped is returned by RunNow after Stop.
	ErrStopped = errors.New("schedule: scheduler stopped")
	// ErrNoAccounts is returned by RunNow when nothing is eligible to run.
	ErrNoAccounts = errors.New("schedule: no enabled accounts")
)

// Job is a registered background job as reported by Jobs.
type Job struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

type RunNowRequest struct {
	AccountIDs []uuid.UUID      `json:"account_ids,omitempty"`
	Direction  domain.Direction `json:"direction,omitempty"`
}

type RunNowResponse struct {
	Accepted []uuid.UUID `json:"accepted"`
}

type ListResponse struct {
	Items []Job `json:"items"`
}
