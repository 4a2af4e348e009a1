package review

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/store"
	"github.com/memohai/rolodex/internal/store/memory"
)

type fakeMerger struct {
	keep    uuid.UUID
	deleted []uuid.UUID
	err     error
}

func (m *fakeMerger) MergeTx(_ context.Context, _ store.Queries, keepID uuid.UUID, deleteIDs []uuid.UUID) error {
	m.keep, m.deleted = keepID, deleteIDs
	return m.err
}

type env struct {
	st      *memory.Store
	svc     *Service
	account uuid.UUID
	person  domain.Person
	now     time.Time
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(logger.Discard(), st, detect.New(nil, 0), audit.New(logger.Discard()))
	svc.now = func() time.Time { return now }

	acct := domain.LinkedAccount{ID: uuid.New(), Provider: domain.ProviderGoogle, Identity: "me@example.com"}
	require.NoError(t, st.CreateAccount(ctx, acct))
	p := domain.Person{
		ID: uuid.New(), FirstName: "Linus", LastName: "Torvalds", Title: "Engineer", Notes: "kernel",
		SyncEnabled: true, SyncStatus: domain.SyncSynced, CreatedAt: now, UpdatedAt: now,
		Emails: []domain.Email{{ID: uuid.New(), Address: "linus@example.com", Label: "work", IsPrimary: true}},
	}
	require.NoError(t, st.CreatePerson(ctx, p))
	return env{st: st, svc: svc, account: acct.ID, person: p, now: now}
}

// conflict links the person, then diverges both sides on title and the remote side on notes.
func (e env) conflict(t *testing.T) domain.ReviewItem {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.st.UpsertLink(ctx, domain.Link{
		AccountID: e.account, ResourceID: "people/7", EntityKind: domain.EntityPerson, EntityID: e.person.ID,
		ETag: "e1", Baseline: detect.CleanSet(e.person.Fields()),
	}))
	local := e.person.Clone()
	local.Title = "Maintainer"
	require.NoError(t, e.st.UpdatePerson(ctx, local))

	remote := e.person.Fields()
	remote[domain.FieldTitle] = "Fellow"
	remote[domain.FieldNotes] = "git too"
	return domain.ReviewItem{
		PersonID: &e.person.ID, AccountID: &e.account, ResourceID: "people/7",
		ReviewType: domain.ReviewDataConflict, RemoteData: remote, LocalData: local.Fields(),
		RemoteETag: "e2", ConflictFields: []string{domain.FieldTitle},
	}
}

func TestEnqueueDeduplicatesPendingItems(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	item := e.conflict(t)

	first, err := e.svc.Enqueue(ctx, item)
	require.NoError(t, err)

	item.RemoteData = item.RemoteData.Merge(domain.FieldSet{domain.FieldTitle: "Chief"})
	second, err := e.svc.Enqueue(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	items, err := e.svc.List(ctx, store.ReviewFilter{Status: domain.ReviewPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Chief", items[0].RemoteData[domain.FieldTitle])

	p, err := e.st.GetPerson(ctx, e.person.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncConflict, p.SyncStatus)

	_, err = e.svc.Enqueue(ctx, domain.ReviewItem{ReviewType: "gossip", ResourceID: "x"})
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestResolveApplyWithChosenValue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, err := e.svc.Enqueue(ctx, e.conflict(t))
	require.NoError(t, err)

	err = e.svc.Resolve(ctx, id, domain.Resolution{Action: domain.ResolveApply, Fields: domain.FieldSet{domain.FieldTitle: "Maintainer"}})
	require.NoError(t, err)

	p, err := e.st.GetPerson(ctx, e.person.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maintainer", p.Title)
	assert.Equal(t, "git too", p.Notes, "non-conflicting remote change is applied")
	assert.Equal(t, domain.SyncPending, p.SyncStatus, "remote still has the other title")

	link, err := e.st.GetLinkByResource(ctx, e.account, "people/7")
	require.NoError(t, err)
	assert.Equal(t, "Fellow", link.Baseline[domain.FieldTitle])
	assert.Equal(t, "e2", link.ETag)

	item, err := e.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewResolved, item.Status)
	require.NotNil(t, item.Resolution)
	assert.Equal(t, domain.ResolveApply, item.Resolution.Action)

	err = e.svc.Resolve(ctx, id, domain.Resolution{Action: domain.ResolveApply})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	err = e.svc.Dismiss(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	entries, err := e.st.ListAudit(ctx, store.AuditFilter{PersonID: &e.person.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []domain.FieldChange{{Field: domain.FieldNotes, Old: "kernel", New: "git too"}}, entries[0].Changes)
}

func TestResolveApplyDefaultsToRemote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, err := e.svc.Enqueue(ctx, e.conflict(t))
	require.NoError(t, err)

	require.NoError(t, e.svc.Resolve(ctx, id, domain.Resolution{Action: domain.ResolveApply}))
	p, err := e.st.GetPerson(ctx, e.person.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fellow", p.Title)
	assert.Equal(t, domain.SyncSynced, p.SyncStatus)
	require.NotNil(t, p.LastSyncedAt)
}

func TestResolveRejectsBadInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, err := e.svc.Enqueue(ctx, e.conflict(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		res  domain.Resolution
	}{
		{"unknown action", domain.Resolution{Action: "shrug"}},
		{"unknown field", domain.Resolution{Action: domain.ResolveApply, Fields: domain.FieldSet{"shoe_size": "42"}}},
		{"merge without pair", domain.Resolution{Action: domain.ResolveMerge}},
	}
	e.svc.SetMerger(&fakeMerger{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.svc.Resolve(ctx, id, tt.res)
			assert.ErrorIs(t, err, ErrInvalidResolution)
		})
	}
	item, err := e.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewPending, item.Status)
}

func TestResolveLinkAttachesRemoteRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	remote := domain.FieldSet{
		domain.FieldFirstName: "Linus", domain.FieldLastName: "Torvalds", domain.FieldTitle: "",
		domain.FieldPhone: "+1 555 0100", domain.FieldEmails: "LINUS@example.com,lt@kernel.org",
	}
	id, err := e.svc.Enqueue(ctx, domain.ReviewItem{
		PersonID: &e.person.ID, AccountID: &e.account, ResourceID: "people/9", RemoteETag: "r1",
		ReviewType: domain.ReviewDuplicateSuspect, RemoteData: remote, LocalData: e.person.Fields(),
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.Resolve(ctx, id, domain.Resolution{Action: domain.ResolveLink}))
	p, err := e.st.GetPerson(ctx, e.person.ID)
	require.NoError(t, err)
	assert.Equal(t, "people/9", p.RemoteIDs[e.account])
	assert.Equal(t, "+1 555 0100", p.Phone)
	assert.Equal(t, "Engineer", p.Title, "empty remote values do not erase local ones")
	assert.Equal(t, "linus@example.com,lt@kernel.org", detect.Clean(domain.FieldEmails, p.Field(domain.FieldEmails)))
	assert.Equal(t, domain.SyncPending, p.SyncStatus)
}

func TestResolveCreateMakesNewPerson(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, err := e.svc.Enqueue(ctx, domain.ReviewItem{
		PersonID: &e.person.ID, AccountID: &e.account, ResourceID: "people/10", RemoteETag: "r1",
		ReviewType: domain.ReviewDuplicateSuspect,
		RemoteData: domain.FieldSet{domain.FieldFirstName: "Linus", domain.FieldLastName: "Pauling", domain.FieldEmails: "linus@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, e.svc.Resolve(ctx, id, domain.Resolution{Action: domain.ResolveCreate}))

	link, err := e.st.GetLinkByResource(ctx, e.account, "people/10")
	require.NoError(t, err)
	assert.NotEqual(t, e.person.ID, link.EntityID)
	created, err := e.st.GetPerson(ctx, link.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "Pauling", created.LastName)
	assert.Equal(t, domain.SyncSynced, created.SyncStatus)
}

func TestResolveMergeUsesKeepID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	other := uuid.New()
	id, err := e.svc.Enqueue(ctx, domain.ReviewItem{
		PersonID: &e.person.ID, OtherPersonID: &other, ReviewType: domain.ReviewDuplicateSuspect,
	})
	require.NoError(t, err)

	err = e.svc.Resolve(ctx, id, domain.Resolution{Action: domain.ResolveMerge})
	assert.ErrorIs(t, err, ErrNoMerger)

	m := &fakeMerger{}
	e.svc.SetMerger(m)
	require.NoError(t, e.svc.Resolve(ctx, id, domain.Resolution{Action: domain.ResolveMerge, KeepID: &other}))
	assert.Equal(t, other, m.keep)
	assert.Equal(t, []uuid.UUID{e.person.ID}, m.deleted)

	item, err := e.svc.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, item.Resolution.KeepID)
	assert.Equal(t, other, *item.Resolution.KeepID)
}

func TestDismissLocalDuplicateAddsExclusion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	other := uuid.New()
	id, err := e.svc.Enqueue(ctx, domain.ReviewItem{
		PersonID: &e.person.ID, OtherPersonID: &other, ReviewType: domain.ReviewDuplicateSuspect,
	})
	require.NoError(t, err)
	require.NoError(t, e.svc.Dismiss(ctx, id))

	excl, err := e.st.ListExclusions(ctx)
	require.NoError(t, err)
	require.Len(t, excl, 1)
	assert.Equal(t, domain.NewExclusion(other, e.person.ID).Key(), excl[0].Key())

	item, err := e.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewDismissed, item.Status)
	assert.Nil(t, item.Resolution)
}
