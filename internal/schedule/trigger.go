package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/dedup"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/orchestrator"
)

// Runner executes one account sync.
type Runner interface {
	RunSync(ctx context.Context, accountID uuid.UUID, direction domain.Direction) (orchestrator.RunResult, error)
}

// Purger removes expired archives.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Deduper runs a duplicate detection pass.
type Deduper interface {
	RunPass(ctx context.Context) (dedup.PassResult, error)
}
