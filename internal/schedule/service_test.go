package schedule

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/dedup"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/orchestrator"
	"github.com/memohai/rolodex/internal/settings"
	"github.com/memohai/rolodex/internal/store/memory"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[uuid.UUID]domain.Direction
	block chan struct{}
}

func (f *fakeRunner) RunSync(ctx context.Context, accountID uuid.UUID, direction domain.Direction) (orchestrator.RunResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return orchestrator.RunResult{Status: orchestrator.RunCanceled}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[uuid.UUID]domain.Direction{}
	}
	f.calls[accountID] = direction
	return orchestrator.RunResult{AccountID: accountID, Status: orchestrator.RunSuccess}, nil
}

func (f *fakeRunner) ran() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, len(f.calls))
	for id := range f.calls {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

type fakePurger struct{ at []time.Time }

func (f *fakePurger) Purge(_ context.Context, now time.Time) (int, error) {
	f.at = append(f.at, now)
	return 2, nil
}

type fakeDeduper struct{ err error }

func (f *fakeDeduper) RunPass(context.Context) (dedup.PassResult, error) {
	return dedup.PassResult{Groups: 1}, f.err
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T, runner Runner, cfg config.Config) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	log := logger.Discard()
	svc := NewService(log, st, settings.NewService(log, st), runner, &fakePurger{}, &fakeDeduper{}, nil, cfg)
	svc.now = func() time.Time { return now }
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc, st
}

func addAccount(t *testing.T, st *memory.Store, mutate func(*domain.LinkedAccount)) uuid.UUID {
	t.Helper()
	id := uuid.New()
	a := domain.LinkedAccount{
		ID: id, Provider: domain.ProviderGoogle, Identity: id.String() + "@example.com",
		SyncEnabled: true, PullEnabled: true, PushEnabled: true, SyncStatus: domain.SyncPending,
		CreatedAt: now, UpdatedAt: now,
	}
	if mutate != nil {
		mutate(&a)
	}
	require.NoError(t, st.CreateAccount(context.Background(), a))
	return a.ID
}

func sorted(ids ...uuid.UUID) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func TestDue(t *testing.T) {
	past, future := now.Add(-time.Minute), now.Add(time.Minute)
	tests := []struct {
		name string
		acct domain.LinkedAccount
		want bool
	}{
		{"never ran", domain.LinkedAccount{SyncEnabled: true}, true},
		{"next passed", domain.LinkedAccount{SyncEnabled: true, NextSyncAt: &past}, true},
		{"next now", domain.LinkedAccount{SyncEnabled: true, NextSyncAt: &now}, true},
		{"next ahead", domain.LinkedAccount{SyncEnabled: true, NextSyncAt: &future}, false},
		{"disabled", domain.LinkedAccount{NextSyncAt: &past}, false},
		{"paused", domain.LinkedAccount{SyncEnabled: true, PausedAt: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(tt.acct, now))
		})
	}
}

func TestDispatchRunsDueAccounts(t *testing.T) {
	runner := &fakeRunner{}
	cfg := config.Config{Sync: config.SyncConfig{MaxConcurrentRuns: 2}}
	svc, st := newTestService(t, runner, cfg)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	a := addAccount(t, st, nil)
	b := addAccount(t, st, func(a *domain.LinkedAccount) { a.NextSyncAt = &past })
	c := addAccount(t, st, func(a *domain.LinkedAccount) { a.NextSyncAt = &past })
	addAccount(t, st, func(a *domain.LinkedAccount) { a.NextSyncAt = &future })
	addAccount(t, st, func(a *domain.LinkedAccount) { a.PausedAt = &past })
	addAccount(t, st, func(a *domain.LinkedAccount) { a.SyncEnabled = false })

	n, err := svc.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, sorted(a, b, c), runner.ran())
	assert.Equal(t, domain.DirectionBidirectional, runner.calls[a])
}

func TestDispatchHonorsAutoSync(t *testing.T) {
	runner := &fakeRunner{}
	svc, st := newTestService(t, runner, config.Config{})
	addAccount(t, st, nil)
	_, err := svc.settings.Update(context.Background(), settings.UpdateRequest{AutoSync: ptr(false)})
	require.NoError(t, err)

	n, err := svc.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, runner.ran())
}

func TestRunNow(t *testing.T) {
	runner := &fakeRunner{}
	svc, st := newTestService(t, runner, config.Config{})
	ctx := context.Background()
	a := addAccount(t, st, nil)
	b := addAccount(t, st, nil)
	addAccount(t, st, func(a *domain.LinkedAccount) { a.SyncEnabled = false })

	accepted, err := svc.RunNow(ctx, []uuid.UUID{a}, domain.DirectionLocalToRemote)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, accepted)
	svc.Wait()
	assert.Equal(t, domain.DirectionLocalToRemote, runner.calls[a])

	accepted, err = svc.RunNow(ctx, nil, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, accepted)
	svc.Wait()
	assert.Equal(t, sorted(a, b), runner.ran())

	_, err = svc.RunNow(ctx, []uuid.UUID{uuid.New()}, "")
	assert.Error(t, err)
	_, err = svc.RunNow(ctx, []uuid.UUID{a}, "sideways")
	assert.Error(t, err)
}

func TestRunNowWithoutAccounts(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{}, config.Config{})
	_, err := svc.RunNow(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestStopCancelsInFlightRuns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	svc, st := newTestService(t, runner, config.Config{})
	a := addAccount(t, st, nil)

	_, err := svc.RunNow(context.Background(), []uuid.UUID{a}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	assert.Empty(t, runner.ran())

	_, err = svc.RunNow(context.Background(), []uuid.UUID{a}, "")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestBootstrapRegistersJobs(t *testing.T) {
	cfg := config.Config{Scheduler: config.SchedulerConfig{
		DispatchSpec: "@every 1m",
		PurgeSpec:    "0 30 3 * * *",
		DedupSpec:    "0 0 4 * * 0",
	}}
	svc, _ := newTestService(t, &fakeRunner{}, cfg)
	require.NoError(t, svc.Bootstrap(context.Background()))

	jobs := svc.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, JobDedup, jobs[0].Name)
	assert.Equal(t, JobDispatch, jobs[1].Name)
	assert.Equal(t, JobPurge, jobs[2].Name)
	assert.Equal(t, "0 30 3 * * *", jobs[2].Spec)
}

func TestBootstrapRejectsBadSpec(t *testing.T) {
	cfg := config.Config{Scheduler: config.SchedulerConfig{PurgeSpec: "every day"}}
	svc, _ := newTestService(t, &fakeRunner{}, cfg)
	assert.Error(t, svc.Bootstrap(context.Background()))
}

func TestPurgeAndDedupJobs(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{}, config.Config{})
	svc.purge(context.Background())
	assert.Equal(t, []time.Time{now}, svc.purger.(*fakePurger).at)

	svc.deduper = &fakeDeduper{err: dedup.ErrAlreadyRunning}
	svc.dedupPass(context.Background())
}
