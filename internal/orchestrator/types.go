package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/directory"
	"github.com/memohai/rolodex/internal/domain"
)

var (
	// ErrAccountDisabled is returned for runs on an account whose sync is switched off.
	ErrAccountDisabled = errors.New("orchestrator: account sync disabled")
	// ErrDirectionDisabled is returned when the account allows none of the requested directions.
	ErrDirectionDisabled = errors.New("orchestrator: direction disabled for account")
)

// RunStatus is the outcome of one RunSync call.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	// RunPartial is a completed run where some entities failed.
	RunPartial        RunStatus = "partial"
	RunFailed         RunStatus = "failed"
	RunCanceled       RunStatus = "canceled"
	RunAlreadyRunning RunStatus = "already_running"
)

// RunResult counts what a run did.
type RunResult struct {
	RunID      string           `json:"run_id,omitempty"`
	AccountID  uuid.UUID        `json:"account_id"`
	Direction  domain.Direction `json:"direction,omitempty"`
	Status     RunStatus        `json:"status"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Deleted    int              `json:"deleted"`
	Archived   int              `json:"archived"`
	Conflicts  int              `json:"conflicts"`
	Failed     int              `json:"failed"`
	Pushed     int              `json:"pushed"`
	NoOps      int              `json:"noops"`
	Err        string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Connector opens the remote directory of a linked account.
type Connector interface {
	Open(ctx context.Context, account domain.LinkedAccount) (directory.Directory, error)
}

type effect int

const (
	effSkipped effect = iota
	effNoOp
	effCreated
	effUpdated
	effConflict
)
