// Package orchestrator runs sync passes between the local store and linked remote directories.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/credentials"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/directory"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/metrics"
	"github.com/memohai/rolodex/internal/review"
	"github.com/memohai/rolodex/internal/runlock"
	"github.com/memohai/rolodex/internal/settings"
	"github.com/memohai/rolodex/internal/store"
)

type Service struct {
	store     store.Store
	connector Connector
	detector  *detect.Detector
	archive   *archive.Service
	queue     *review.Service
	audit     *audit.Log
	settings  *settings.Service
	locker    runlock.Locker
	metrics   *metrics.Metrics
	cfg       config.SyncConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	log *slog.Logger,
	st store.Store,
	connector Connector,
	detector *detect.Detector,
	arch *archive.Service,
	queue *review.Service,
	auditLog *audit.Log,
	settingsService *settings.Service,
	locker runlock.Locker,
	m *metrics.Metrics,
	cfg config.SyncConfig,
) *Service {
	return &Service{
		store:     st,
		connector: connector,
		detector:  detector,
		archive:   arch,
		queue:     queue,
		audit:     auditLog,
		settings:  settingsService,
		locker:    locker,
		metrics:   m,
		cfg:       cfg,
		logger:    log.With(slog.String("service", "orchestrator")),
		now:       time.Now,
	}
}

// RunSync synchronizes one account. Only one run per account executes at a time; a concurrent
// call returns RunAlreadyRunning without error. A run that fails as a whole returns its result
// together with the cause.
func (s *Service) RunSync(ctx context.Context, accountID uuid.UUID, direction domain.Direction) (RunResult, error) {
	if err := domain.Kinds.Validate(domain.CategoryDirection, string(direction)); err != nil {
		return RunResult{}, err
	}
	release, ok, err := s.locker.TryLock(ctx, runlock.AccountKey(accountID))
	if err != nil {
		return RunResult{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return RunResult{AccountID: accountID, Status: RunAlreadyRunning}, nil
	}
	defer release()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return RunResult{}, fmt.Errorf("load account: %w", err)
	}
	if !account.SyncEnabled {
		return RunResult{}, ErrAccountDisabled
	}
	dir, ok := account.EffectiveDirection(direction)
	if !ok {
		return RunResult{}, ErrDirectionDisabled
	}

	started := s.now()
	r := &run{
		svc:     s,
		account: account,
		dir:     dir,
		res: RunResult{
			RunID:     audit.NewID(),
			AccountID: accountID,
			Direction: dir,
			StartedAt: started.UTC(),
		},
	}
	r.log = s.logger.With(
		slog.String("run_id", r.res.RunID),
		slog.String("account_id", accountID.String()),
		slog.String("direction", string(dir)))
	ctx = audit.WithRunID(ctx, r.res.RunID)

	r.log.Info("sync run started")
	runErr := r.execute(ctx)
	s.finish(ctx, r, runErr)
	s.metrics.ObserveRun(string(r.res.Status), string(dir), s.now().Sub(started))
	r.log.Info("sync run finished",
		slog.String("status", string(r.res.Status)),
		slog.Int("created", r.res.Created),
		slog.Int("updated", r.res.Updated),
		slog.Int("deleted", r.res.Deleted),
		slog.Int("conflicts", r.res.Conflicts),
		slog.Int("pushed", r.res.Pushed),
		slog.Int("failed", r.res.Failed),
		slog.Duration("took", s.now().Sub(started)))
	if runErr != nil {
		return r.res, runErr
	}
	return r.res, nil
}

// finish writes the account state once. It runs detached from ctx so a canceled run is still recorded.
func (s *Service) finish(ctx context.Context, r *run, runErr error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	r.res.FinishedAt = now
	u := domain.AccountRunUpdate{FailureCount: r.account.FailureCount}

	switch {
	case runErr == nil:
		r.res.Status = RunSuccess
		if r.res.Failed > 0 {
			r.res.Status = RunPartial
		}
		u.SyncStatus = domain.SyncSynced
		u.FailureCount = 0
		u.LastFullSyncAt = &now
		if next, err := s.nextRun(ctx, now, r.account); err != nil {
			r.log.Warn("compute next run failed", slog.Any("error", err))
		} else {
			u.NextSyncAt = &next
		}
		if r.collectionETag != "" {
			u.CollectionETag = &r.collectionETag
		}
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		r.res.Status = RunCanceled
		u.SyncStatus = domain.SyncPending
		u.LastError = "run canceled"
	case accountLevel(runErr):
		r.res.Status = RunFailed
		u.SyncStatus = domain.SyncError
		u.LastError = runErr.Error()
		u.FailureCount++
		next := now.Add(Backoff(s.cfg, u.FailureCount))
		u.NextSyncAt = &next
		if credentialError(runErr) {
			u.PausedAt = &now
		}
	default:
		r.res.Status = RunFailed
		u.SyncStatus = domain.SyncError
		u.LastError = runErr.Error()
	}

	if runErr != nil {
		r.res.Err = runErr.Error()
		id := r.account.ID
		rec := domain.AuditRecord{
			AccountID: &id,
			Direction: auditDirection(r.dir),
			Action:    domain.ActionSync,
			Status:    domain.AuditFailed,
			Error:     runErr.Error(),
		}
		if err := s.audit.Write(ctx, s.store, rec); err != nil {
			r.log.Error("write run audit failed", slog.Any("error", err))
		}
	}
	if err := s.store.FinishAccountRun(ctx, r.account.ID, u); err != nil {
		r.log.Error("update account after run failed", slog.Any("error", err))
	}
}

func (s *Service) nextRun(ctx context.Context, now time.Time, account domain.LinkedAccount) (time.Time, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return settings.NextRun(now, st, account.Timezone)
}

// Backoff is the delay before retrying an account after its n-th consecutive failure:
// the base doubled per failure, capped at the configured maximum.
func Backoff(cfg config.SyncConfig, failures int) time.Duration {
	d, limit := cfg.BackoffBase(), cfg.BackoffMax()
	for i := 1; i < failures && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

func accountLevel(err error) bool {
	return directory.AccountLevel(err) || credentialError(err)
}

func credentialError(err error) bool {
	return errors.Is(err, credentials.ErrRevoked) || errors.Is(err, credentials.ErrNoCredential)
}

// auditDirection maps a run direction onto the two directions an audit record may carry.
func auditDirection(d domain.Direction) domain.Direction {
	if d == domain.DirectionLocalToRemote {
		return d
	}
	return domain.DirectionRemoteToLocal
}
