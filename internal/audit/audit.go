// Package audit writes the immutable record of every sync decision.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a lexicographically sortable identifier; ids made later sort after earlier ones.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

type ctxKey string

const runIDKey ctxKey = "audit_run_id"

// WithRunID attaches the sync run identifier to the context so every record of the run carries it.
func WithRunID(ctx context.Context, runID string) context.Context {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run identifier attached by WithRunID.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// Log stamps and persists audit records.
type Log struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(log *slog.Logger) *Log {
	return &Log{logger: log.With(slog.String("service", "audit")), now: time.Now}
}

// Write validates rec, assigns its id and timestamp and inserts it through q, which may be bound
// to the caller's transaction.
func (l *Log) Write(ctx context.Context, q store.Queries, rec domain.AuditRecord) error {
	if err := domain.Kinds.Validate(domain.CategoryAction, string(rec.Action)); err != nil {
		return err
	}
	if err := domain.Kinds.Validate(domain.CategoryAuditStatus, string(rec.Status)); err != nil {
		return err
	}
	if rec.Direction != "" {
		if err := domain.Kinds.Validate(domain.CategoryDirection, string(rec.Direction)); err != nil {
			return err
		}
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	if rec.RunID == "" {
		rec.RunID = RunIDFromContext(ctx)
	}
	if err := q.InsertAudit(ctx, rec); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	attrs := []any{
		slog.String("action", string(rec.Action)),
		slog.String("status", string(rec.Status)),
		slog.String("direction", string(rec.Direction)),
		slog.String("person", rec.PersonName),
		slog.Int("changes", len(rec.Changes)),
	}
	if rec.RunID != "" {
		attrs = append(attrs, slog.String("run_id", rec.RunID))
	}
	if rec.Error != "" {
		attrs = append(attrs, slog.String("error", rec.Error))
	}
	l.logger.Debug("audit", attrs...)
	return nil
}

// List returns records newest first.
func (l *Log) List(ctx context.Context, q store.Queries, filter store.AuditFilter) ([]domain.AuditRecord, error) {
	if filter.Status != "" {
		if err := domain.Kinds.Validate(domain.CategoryAuditStatus, string(filter.Status)); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return q.ListAudit(ctx, filter)
}

// ForPerson builds a record about one person with a weak reference and a denormalized name.
func ForPerson(p domain.Person, accountID *uuid.UUID, dir domain.Direction, action domain.Action, status domain.AuditStatus) domain.AuditRecord {
	id := p.ID
	return domain.AuditRecord{
		PersonID:   &id,
		AccountID:  accountID,
		PersonName: p.DisplayName(),
		Direction:  dir,
		Action:     action,
		Status:     status,
	}
}
