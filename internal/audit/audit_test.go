package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/store"
	"github.com/memohai/rolodex/internal/store/memory"
)

func TestNewIDIsMonotonic(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		next := NewID()
		if next <= prev {
			t.Fatalf("id %s is not after %s", next, prev)
		}
		prev = next
	}
}

func TestWriteStampsRecord(t *testing.T) {
	st := memory.New()
	l := New(logger.Discard())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	p := domain.Person{ID: uuid.New(), FirstName: "Ada", LastName: "Lovelace"}
	acct := uuid.New()
	rec := ForPerson(p, &acct, domain.DirectionRemoteToLocal, domain.ActionUpdate, domain.AuditSuccess)
	rec.Changes = []domain.FieldChange{{Field: domain.FieldTitle, Old: "a", New: "b"}}

	ctx := WithRunID(context.Background(), "run-7")
	require.NoError(t, l.Write(ctx, st, rec))

	got, err := l.List(context.Background(), st, store.AuditFilter{PersonID: &p.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "run-7", got[0].RunID)
	assert.Equal(t, "Ada Lovelace", got[0].PersonName)
	assert.Equal(t, fixed, got[0].CreatedAt)
	assert.Equal(t, acct, *got[0].AccountID)
}

func TestWriteRejectsUnknownKinds(t *testing.T) {
	l := New(logger.Discard())
	err := l.Write(context.Background(), memory.New(), domain.AuditRecord{Action: "teleport", Status: domain.AuditSuccess})
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	err = l.Write(context.Background(), memory.New(), domain.AuditRecord{Action: domain.ActionCreate, Status: "meh"})
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestRunIDFromContext(t *testing.T) {
	assert.Equal(t, "", RunIDFromContext(context.Background()))
	assert.Equal(t, "", RunIDFromContext(WithRunID(context.Background(), "  ")))
	assert.Equal(t, "r1", RunIDFromContext(WithRunID(context.Background(), "r1")))
}
