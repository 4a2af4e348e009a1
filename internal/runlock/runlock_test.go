package runlock

import (
	"context"
	"errors"
	"os"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/config"
)

func TestMemoryLockIsExclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := AccountKey(uuid.New())

	release, ok, err := m.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.Held(key))

	_, ok, err = m.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = m.TryLock(ctx, DedupKey)
	assert.True(t, ok, "keys are independent")

	release()
	release()
	assert.False(t, m.Held(key))
	_, ok, _ = m.TryLock(ctx, key)
	assert.True(t, ok)
}

func TestPostgresAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	p := NewPostgres(db)
	id := lockID("dedup")

	mock.ExpectQuery(regexp.QuoteMeta("select pg_try_advisory_lock($1)")).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_unlock($1)")).WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	release, ok, err := p.TryLock(context.Background(), DedupKey)
	require.NoError(t, err)
	require.True(t, ok)
	release()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAdvisoryLockBusy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("select pg_try_advisory_lock($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	_, ok, err := NewPostgres(db).TryLock(context.Background(), "account:x")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("select pg_try_advisory_lock($1)")).WillReturnError(errors.New("conn reset"))
	_, ok, err = NewPostgres(db).TryLock(context.Background(), "account:x")
	assert.Error(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUnlockFailureDiscardsConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	id := lockID("dedup")

	mock.ExpectQuery(regexp.QuoteMeta("select pg_try_advisory_lock($1)")).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_unlock($1)")).WithArgs(id).
		WillReturnError(errors.New("conn reset"))
	mock.ExpectClose()

	release, ok, err := NewPostgres(db).TryLock(context.Background(), DedupKey)
	require.NoError(t, err)
	require.True(t, ok)
	release()
	require.NoError(t, mock.ExpectationsWereMet(), "the connection is closed instead of pooled")
	assert.Equal(t, 0, db.Stats().Idle)
}

func TestLockIDIsStable(t *testing.T) {
	assert.Equal(t, lockID("a"), lockID("a"))
	assert.NotEqual(t, lockID("a"), lockID("b"))
}

func TestRedisLockReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	_, ok, err := NewRedis(client, time.Minute).TryLock(context.Background(), DedupKey)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestKeepAliveRenewsUntilStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(ctx, 5*time.Millisecond, func(context.Context) (bool, error) {
			if calls.Add(1) == 1 {
				return false, errors.New("i/o timeout")
			}
			return true, nil
		})
	}()
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond,
		"renewal continues after a failed call")
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renewal did not stop")
	}
}

func TestKeepAliveStopsWhenLockIsLost(t *testing.T) {
	done := make(chan struct{})
	n := 0
	go func() {
		defer close(done)
		keepAlive(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
			n++
			return false, nil
		})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renewal kept running after the key changed hands")
	}
	assert.Equal(t, 1, n)
}

func TestRedisLockOutlivesTTL(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	l := NewRedis(client, 300*time.Millisecond)
	key := AccountKey(uuid.New())

	release, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(time.Second)
	_, ok, err = l.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "a held lock is renewed past its TTL")

	release()
	again, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestNewSelectsBackend(t *testing.T) {
	l, err := New(config.LockConfig{Backend: "memory"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)

	_, err = New(config.LockConfig{Backend: "postgres"}, nil, nil)
	assert.Error(t, err)
	_, err = New(config.LockConfig{Backend: "redis"}, nil, nil)
	assert.Error(t, err)
	_, err = New(config.LockConfig{Backend: "zookeeper"}, nil, nil)
	assert.Error(t, err)

	l, err = New(config.LockConfig{Backend: "redis"}, nil, NewRedisClient(config.RedisConfig{Addr: "127.0.0.1:6379"}))
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, l)
}
