package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/directory"
	"github.com/memohai/rolodex/internal/domain"
)

// run is the state of one RunSync call.
type run struct {
	svc            *Service
	account        domain.LinkedAccount
	dir            domain.Direction
	remote         directory.Directory
	res            RunResult
	collectionETag string
	log            *slog.Logger
}

func (r *run) execute(ctx context.Context) error {
	remote, err := r.svc.connector.Open(ctx, r.account)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	r.remote = remote
	if r.dir.Pulls() {
		if err := r.pull(ctx); err != nil {
			return err
		}
	}
	if r.dir.Pushes() {
		if err := r.push(ctx); err != nil {
			return err
		}
	}
	return nil
}

// entity runs fn detached from the run's cancellation and bounded by the entity timeout, so a
// canceled run never leaves one entity half written.
func (r *run) entity(ctx context.Context, fn func(ctx context.Context) error) error {
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.svc.cfg.EntityTimeout())
	defer cancel()
	return fn(ectx)
}

func (r *run) accountID() *uuid.UUID {
	id := r.account.ID
	return &id
}

// fail counts and audits a failed entity. The run goes on.
func (r *run) fail(ctx context.Context, rec domain.AuditRecord, resourceID string, err error) {
	r.res.Failed++
	rec.AccountID = r.accountID()
	rec.Status = domain.AuditFailed
	rec.Error = err.Error()
	if werr := r.svc.audit.Write(context.WithoutCancel(ctx), r.svc.store, rec); werr != nil {
		r.log.Error("write failure audit failed", slog.Any("error", werr))
	}
	r.log.Warn("sync entity failed",
		slog.String("resource_id", resourceID),
		slog.String("action", string(rec.Action)),
		slog.Any("error", err))
}

func (r *run) tally(e effect) {
	switch e {
	case effNoOp:
		r.res.NoOps++
	case effCreated:
		r.res.Created++
	case effUpdated:
		r.res.Updated++
	case effConflict:
		r.res.Conflicts++
	}
}

// abort reports whether an entity error has to stop the run.
func abort(ctx context.Context, err error) bool {
	return accountLevel(err) || ctx.Err() != nil || errors.Is(err, context.Canceled)
}
