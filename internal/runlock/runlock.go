// Package runlock provides the non-blocking mutual exclusion that keeps one sync run per account
// and one dedup pass at a time.
package runlock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/config"
)

// DedupKey guards the global deduplication pass.
const DedupKey = "dedup"

// AccountKey guards sync runs of one linked account.
func AccountKey(id uuid.UUID) string {
	return "account:" + id.String()
}

// Locker acquires named locks without waiting. ok is false when another holder has the key;
// release must be called exactly once after a successful acquire.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// New builds the locker selected by cfg.Backend.
func New(cfg config.LockConfig, db *sql.DB, rdb *redis.Client) (Locker, error) {
	switch cfg.Backend {
	case "", "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres lock backend needs a database")
		}
		return NewPostgres(db), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis lock backend needs a redis client")
		}
		return NewRedis(rdb, cfg.TTL()), nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: map[string]struct{}{}}
}

func (m *Memory) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, false, nil
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
