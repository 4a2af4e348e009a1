package review

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/store"
)

var (
	// ErrAlreadyTerminal is returned when resolving or dismissing an item that is no longer pending.
	ErrAlreadyTerminal = errors.New("review: item is not pending")
	// ErrInvalidResolution is returned when a resolution does not fit the item it is applied to.
	ErrInvalidResolution = errors.New("review: invalid resolution")
	// ErrNoMerger is returned when a merge resolution is requested before a merger is attached.
	ErrNoMerger = errors.New("review: merger not configured")
)

// Merger folds duplicate persons into a keeper inside the caller's transaction.
type Merger interface {
	MergeTx(ctx context.Context, q store.Queries, keepID uuid.UUID, deleteIDs []uuid.UUID) error
}
