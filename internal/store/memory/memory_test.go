package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

func newPerson(first string) domain.Person {
	return domain.Person{ID: uuid.New(), FirstName: first, SyncStatus: domain.SyncPending, CreatedAt: time.Now()}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newPerson("Ada")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q store.Queries) error {
		require.NoError(t, q.CreatePerson(ctx, p))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPerson(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.WithTx(ctx, func(q store.Queries) error {
		return q.CreatePerson(ctx, p)
	}))
	got, err := s.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
}

func TestRemoteIDsDerivedFromLinks(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newPerson("Grace")
	require.NoError(t, s.CreatePerson(ctx, p))

	acct := uuid.New()
	require.NoError(t, s.UpsertLink(ctx, domain.Link{AccountID: acct, ResourceID: "people/1", EntityKind: domain.EntityPerson, EntityID: p.ID}))

	// a second resource for the same person and account violates uniqueness
	err := s.UpsertLink(ctx, domain.Link{AccountID: acct, ResourceID: "people/2", EntityKind: domain.EntityPerson, EntityID: p.ID})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{acct: "people/1"}, got.RemoteIDs)

	require.NoError(t, s.DeletePerson(ctx, p.ID))
	_, err = s.GetLinkByResource(ctx, acct, "people/1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestArchiveRestoreAndPurge(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	expired := domain.ArchivedPerson{ID: uuid.New(), ExpiresAt: now.Add(-time.Hour)}
	future := domain.ArchivedPerson{ID: uuid.New(), ExpiresAt: now.Add(time.Hour)}
	restored := domain.ArchivedPerson{ID: uuid.New(), ExpiresAt: now.Add(-time.Hour)}
	for _, a := range []domain.ArchivedPerson{expired, future, restored} {
		require.NoError(t, s.InsertArchive(ctx, a))
	}

	ok, err := s.MarkArchiveRestored(ctx, restored.ID, now, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkArchiveRestored(ctx, restored.ID, now, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.PurgeArchives(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.PurgeArchives(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetArchive(ctx, future.ID)
	assert.NoError(t, err)
	_, err = s.GetArchive(ctx, restored.ID)
	assert.NoError(t, err)
}

func TestReviewTransitionHappensOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	item := domain.ReviewItem{ID: uuid.New(), ReviewType: domain.ReviewDataConflict, Status: domain.ReviewPending}
	require.NoError(t, s.InsertReview(ctx, item))

	ok, err := s.TransitionReview(ctx, item.ID, domain.ReviewDismissed, nil, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TransitionReview(ctx, item.ID, domain.ReviewResolved, nil, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindPendingReviewKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	person, acct := uuid.New(), uuid.New()
	item := domain.ReviewItem{ID: uuid.New(), PersonID: &person, AccountID: &acct, ReviewType: domain.ReviewNameConflict, Status: domain.ReviewPending}
	require.NoError(t, s.InsertReview(ctx, item))

	got, err := s.FindPendingReview(ctx, store.ReviewKey{PersonID: &person, AccountID: &acct, ReviewType: domain.ReviewNameConflict})
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)

	_, err = s.FindPendingReview(ctx, store.ReviewKey{PersonID: &person, AccountID: &acct, ReviewType: domain.ReviewDataConflict})
	assert.ErrorIs(t, err, store.ErrNotFound)

	other := uuid.New()
	pair := domain.ReviewItem{ID: uuid.New(), PersonID: &person, OtherPersonID: &other, ReviewType: domain.ReviewDuplicateSuspect, Status: domain.ReviewPending}
	require.NoError(t, s.InsertReview(ctx, pair))
	got, err = s.FindPendingReview(ctx, store.ReviewKey{PersonID: &person, OtherPersonID: &other, ReviewType: domain.ReviewDuplicateSuspect})
	require.NoError(t, err)
	assert.Equal(t, pair.ID, got.ID)

	third := uuid.New()
	_, err = s.FindPendingReview(ctx, store.ReviewKey{PersonID: &person, OtherPersonID: &third, ReviewType: domain.ReviewDuplicateSuspect})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExclusionsAreUnordered(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, s.AddExclusion(ctx, domain.DuplicateExclusion{PersonA: a, PersonB: b}))
	require.NoError(t, s.AddExclusion(ctx, domain.DuplicateExclusion{PersonA: b, PersonB: a}))

	list, err := s.ListExclusions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.RemoveExclusion(ctx, b, a))
	list, err = s.ListExclusions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAffiliationUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()
	p, q := newPerson("A"), newPerson("B")
	require.NoError(t, s.CreatePerson(ctx, p))
	require.NoError(t, s.CreatePerson(ctx, q))
	require.NoError(t, s.AddAffiliation(ctx, domain.Affiliation{ID: uuid.New(), PersonID: p.ID, Organization: "Acme", Role: "CTO"}))
	dup := domain.Affiliation{ID: uuid.New(), PersonID: q.ID, Organization: "acme", Role: "cto"}
	require.NoError(t, s.AddAffiliation(ctx, dup))

	assert.ErrorIs(t, s.MoveAffiliation(ctx, dup.ID, p.ID), store.ErrDuplicate)
}
