// Package schedule drives automatic account syncs, archive purges and dedup passes from cron entries.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/dedup"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/metrics"
	"github.com/memohai/rolodex/internal/settings"
	"github.com/memohai/rolodex/internal/store"
)

type Service struct {
	queries  store.Queries
	settings *settings.Service
	runner   Runner
	purger   Purger
	deduper  Deduper
	metrics  *metrics.Metrics
	cfg      config.SchedulerConfig
	cron     *cron.Cron
	parser   cron.Parser
	logger   *slog.Logger
	now      func() time.Time

	// ctx outlives the requests that start runs and is canceled by Stop.
	ctx         context.Context
	cancel      context.CancelFunc
	sem         chan struct{}
	wg          sync.WaitGroup
	stopped     atomic.Bool
	dispatching atomic.Bool

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	spec map[string]string
}

func NewService(
	log *slog.Logger,
	queries store.Queries,
	settingsService *settings.Service,
	runner Runner,
	purger Purger,
	deduper Deduper,
	m *metrics.Metrics,
	cfg config.Config,
) *Service {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DiscardLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	limit := cfg.Sync.MaxConcurrentRuns
	if limit <= 0 {
		limit = 1
	}
	return &Service{
		queries:  queries,
		settings: settingsService,
		runner:   runner,
		purger:   purger,
		deduper:  deduper,
		metrics:  m,
		cfg:      cfg.Scheduler,
		cron:     c,
		parser:   parser,
		logger:   log.With(slog.String("service", "schedule")),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, limit),
		jobs:     map[string]cron.EntryID{},
		spec:     map[string]string{},
	}
}

// Bootstrap registers the background jobs and starts the cron loop.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if _, err := s.settings.Get(ctx); err != nil {
		return err
	}
	dispatch := s.cfg.DispatchSpec
	if strings.TrimSpace(dispatch) == "" {
		dispatch = config.DefaultDispatchSpec
	}
	if err := s.scheduleJob(JobDispatch, dispatch, func() {
		if _, err := s.Dispatch(s.ctx); err != nil {
			s.logger.Error("dispatch failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}
	if s.purger != nil && strings.TrimSpace(s.cfg.PurgeSpec) != "" {
		if err := s.scheduleJob(JobPurge, s.cfg.PurgeSpec, func() { s.purge(s.ctx) }); err != nil {
			return err
		}
	}
	if s.deduper != nil && strings.TrimSpace(s.cfg.DedupSpec) != "" {
		if err := s.scheduleJob(JobDedup, s.cfg.DedupSpec, func() { s.dedupPass(s.ctx) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())))
	return nil
}

// Stop halts the cron loop, cancels in-flight runs and waits for them until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	cronDone := s.cron.Stop()
	s.cancel()
	runsDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(runsDone)
	}()
	for _, done := range []<-chan struct{}{cronDone.Done(), runsDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("stop scheduler: %w", ctx.Err())
		}
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Dispatch runs every enabled, unpaused account whose next sync time has come, with bounded
// concurrency, and waits for them. It does nothing while automatic sync is off or a previous
// dispatch is still running.
func (s *Service) Dispatch(ctx context.Context) (int, error) {
	if !s.dispatching.CompareAndSwap(false, true) {
		s.logger.Debug("dispatch still running, tick skipped")
		return 0, nil
	}
	defer s.dispatching.Store(false)

	st, err := s.settings.Get(ctx)
	if err != nil {
		return 0, err
	}
	if !st.AutoSync {
		return 0, nil
	}
	accounts, err := s.queries.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	now := s.now()
	var due []uuid.UUID
	for _, a := range accounts {
		if Due(a, now) {
			due = append(due, a.ID)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	g := new(errgroup.Group)
	g.SetLimit(cap(s.sem))
	for _, id := range due {
		s.wg.Add(1)
		g.Go(func() error {
			defer s.wg.Done()
			s.run(ctx, id, domain.DirectionBidirectional)
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("dispatch finished", slog.Int("accounts", len(due)))
	return len(due), nil
}

// Due reports whether the scheduler should sync a right now. An account that never ran is due.
func Due(a domain.LinkedAccount, now time.Time) bool {
	if !a.SyncEnabled || a.Paused() {
		return false
	}
	return a.NextSyncAt == nil || !a.NextSyncAt.After(now)
}

// RunNow starts one asynchronous run per account and returns the accounts accepted. With no ids
// every enabled, unpaused account is run. Busy accounts are skipped by the run-lock.
func (s *Service) RunNow(ctx context.Context, accountIDs []uuid.UUID, direction domain.Direction) ([]uuid.UUID, error) {
	if s.stopped.Load() {
		return nil, ErrStopped
	}
	if direction == "" {
		direction = domain.DirectionBidirectional
	}
	if err := domain.Kinds.Validate(domain.CategoryDirection, string(direction)); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if len(accountIDs) == 0 {
		accounts, err := s.queries.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range accounts {
			if a.SyncEnabled && !a.Paused() {
				ids = append(ids, a.ID)
			}
		}
	} else {
		for _, id := range accountIDs {
			if _, err := s.queries.GetAccount(ctx, id); err != nil {
				return nil, fmt.Errorf("account %s: %w", id, err)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoAccounts
	}
	for _, id := range ids {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(s.ctx, id, direction)
		}()
	}
	s.logger.Info("manual sync requested", slog.Int("accounts", len(ids)), slog.String("direction", string(direction)))
	return ids, nil
}

// Wait blocks until every run started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, accountID uuid.UUID, direction domain.Direction) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	log := s.logger.With(slog.String("account_id", accountID.String()))
	res, err := s.runner.RunSync(ctx, accountID, direction)
	if err != nil {
		log.Warn("scheduled sync failed", slog.String("status", string(res.Status)), slog.Any("error", err))
		return
	}
	log.Debug("scheduled sync done", slog.String("run_id", res.RunID), slog.String("status", string(res.Status)))
}

func (s *Service) purge(ctx context.Context) {
	n, err := s.purger.Purge(ctx, s.now())
	if err != nil {
		s.logger.Error("archive purge failed", slog.Any("error", err))
		return
	}
	s.metrics.Purged(n)
}

func (s *Service) dedupPass(ctx context.Context) {
	res, err := s.deduper.RunPass(ctx)
	switch {
	case errors.Is(err, dedup.ErrAlreadyRunning):
		s.logger.Info("dedup pass skipped, another pass is running")
	case err != nil:
		s.logger.Error("dedup pass failed", slog.Any("error", err))
	default:
		s.logger.Info("dedup pass finished",
			slog.Int("groups", res.Groups),
			slog.Int("merged", res.Merged),
			slog.Int("queued", res.Queued))
	}
}

// Jobs lists the registered jobs ordered by name.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := s.cron.Entry(id)
		out = append(out, Job{Name: name, Spec: s.spec[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) scheduleJob(name, spec string, job func()) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron pattern for %s: %w", name, err)
	}
	s.removeJob(name)
	entryID, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[name] = entryID
	s.spec[name] = spec
	s.mu.Unlock()
	return nil
}

func (s *Service) removeJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.jobs[name]
	if ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		delete(s.spec, name)
	}
}
