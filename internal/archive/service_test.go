package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/store"
	"github.com/memohai/rolodex/internal/store/memory"
)

type fixture struct {
	st      *memory.Store
	svc     *Service
	person  domain.Person
	account domain.LinkedAccount
	now     time.Time
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(logger.Discard(), st, audit.New(logger.Discard()))
	svc.now = func() time.Time { return now }

	acct := domain.LinkedAccount{ID: uuid.New(), Provider: domain.ProviderGoogle, Identity: "me@example.com", SyncEnabled: true}
	require.NoError(t, st.CreateAccount(ctx, acct))

	synced := now.Add(-time.Hour)
	p := domain.Person{
		ID: uuid.New(), FirstName: "Grace", LastName: "Hopper", SyncEnabled: true,
		SyncStatus: domain.SyncSynced, LastSyncedAt: &synced, CreatedAt: now, UpdatedAt: now,
		Emails: []domain.Email{{ID: uuid.New(), Address: "grace@navy.mil", Label: "work", IsPrimary: true}},
	}
	require.NoError(t, st.CreatePerson(ctx, p))
	tag, err := st.EnsureTag(ctx, "Mentors")
	require.NoError(t, err)
	require.NoError(t, st.AttachTag(ctx, p.ID, tag.ID))
	require.NoError(t, st.AddInteraction(ctx, domain.Interaction{ID: uuid.New(), PersonID: p.ID, Kind: "call", OccurredAt: now}))
	require.NoError(t, st.AddAffiliation(ctx, domain.Affiliation{ID: uuid.New(), PersonID: p.ID, Organization: "US Navy", Role: "Rear Admiral"}))
	require.NoError(t, st.UpsertLink(ctx, domain.Link{
		AccountID: acct.ID, ResourceID: "people/42", EntityKind: domain.EntityPerson, EntityID: p.ID,
		ETag: "e1", Baseline: p.Fields(), LastSyncedAt: &synced,
	}))
	return fixture{st: st, svc: svc, person: p, account: acct, now: now}
}

func TestArchiveLocalDeletionQueuesRemoteDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	id, err := f.svc.Archive(ctx, f.person.ID, domain.DeletedFromLocal)
	require.NoError(t, err)

	_, err = f.st.GetPerson(ctx, f.person.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", rec.PersonName)
	assert.Equal(t, domain.DeletedFromLocal, rec.DeletedFrom)
	assert.Equal(t, map[uuid.UUID]string{f.account.ID: "people/42"}, rec.RemoteIDs)
	assert.Equal(t, f.now.Add(90*24*time.Hour), rec.ExpiresAt)
	require.Len(t, rec.Snapshot.Tags, 1)
	assert.Len(t, rec.Snapshot.Interactions, 1)
	assert.Len(t, rec.Snapshot.Affiliations, 1)

	dels, err := f.st.ListRemoteDeletions(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, dels, 1)
	assert.Equal(t, "people/42", dels[0].ResourceID)

	entries, err := f.st.ListAudit(ctx, store.AuditFilter{PersonID: &f.person.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionArchive, entries[0].Action)
}

func TestArchiveRemoteDeletionDoesNotQueue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.st.UpsertSettings(ctx, domain.SyncSettings{RetentionDays: 7}))

	id, err := f.svc.Archive(ctx, f.person.ID, domain.DeletedFromRemote)
	require.NoError(t, err)
	rec, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(7*24*time.Hour), rec.ExpiresAt)

	dels, err := f.st.ListRemoteDeletions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, dels)
}

func TestArchiveMissingPersonLeavesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Archive(ctx, uuid.New(), domain.DeletedFromLocal)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.Archive(ctx, f.person.ID, "vanished")
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	list, err := f.svc.List(ctx, store.ArchiveFilter{IncludeRestored: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRestoreRecreatesPersonOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	archiveID, err := f.svc.Archive(ctx, f.person.ID, domain.DeletedFromLocal)
	require.NoError(t, err)

	newID, err := f.svc.Restore(ctx, archiveID)
	require.NoError(t, err)
	assert.NotEqual(t, f.person.ID, newID)

	p, err := f.st.GetPerson(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", p.FirstName)
	assert.Equal(t, "grace@navy.mil", p.PrimaryEmail())
	assert.Equal(t, domain.SyncPending, p.SyncStatus)
	assert.Equal(t, map[uuid.UUID]string{f.account.ID: "people/42"}, p.RemoteIDs)

	link, err := f.st.GetLinkByResource(ctx, f.account.ID, "people/42")
	require.NoError(t, err)
	assert.Empty(t, link.Baseline)
	assert.Nil(t, link.LastSyncedAt)

	tags, err := f.st.ListPersonTags(ctx, newID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "Mentors", tags[0].Name)
	ins, err := f.st.ListInteractions(ctx, newID)
	require.NoError(t, err)
	assert.Len(t, ins, 1)
	affs, err := f.st.ListAffiliations(ctx, newID)
	require.NoError(t, err)
	assert.Len(t, affs, 1)

	dels, err := f.st.ListRemoteDeletions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, dels, "restore cancels the queued remote delete")

	rec, err := f.svc.Get(ctx, archiveID)
	require.NoError(t, err)
	require.NotNil(t, rec.RestoredPersonID)
	assert.Equal(t, newID, *rec.RestoredPersonID)

	_, err = f.svc.Restore(ctx, archiveID)
	assert.ErrorIs(t, err, ErrAlreadyRestored)

	_, err = f.svc.Restore(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRestoreLeavesGoneRecordsUnlinked(t *testing.T) {
	tests := []struct {
		name  string
		from  domain.DeletedFrom
		drain bool
	}{
		{name: "deleted remotely", from: domain.DeletedFromRemote},
		{name: "remote delete already sent", from: domain.DeletedFromLocal, drain: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			archiveID, err := f.svc.Archive(ctx, f.person.ID, tt.from)
			require.NoError(t, err)
			if tt.drain {
				ok, err := f.st.DeleteRemoteDeletion(ctx, f.account.ID, "people/42")
				require.NoError(t, err)
				require.True(t, ok)
			}

			newID, err := f.svc.Restore(ctx, archiveID)
			require.NoError(t, err)
			p, err := f.st.GetPerson(ctx, newID)
			require.NoError(t, err)
			assert.Empty(t, p.RemoteIDs)
			assert.Equal(t, domain.SyncPending, p.SyncStatus)
			_, err = f.st.GetLinkByResource(ctx, f.account.ID, "people/42")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestPurgeKeepsRestoredAndUnexpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first, err := f.svc.Archive(ctx, f.person.ID, domain.DeletedFromRemote)
	require.NoError(t, err)

	other := domain.Person{ID: uuid.New(), FirstName: "Alan", CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.st.CreatePerson(ctx, other))
	second, err := f.svc.Archive(ctx, other.ID, domain.DeletedFromLocal)
	require.NoError(t, err)
	_, err = f.svc.Restore(ctx, second)
	require.NoError(t, err)

	n, err := f.svc.Purge(ctx, f.now.Add(89*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.svc.Purge(ctx, f.now.Add(90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.Get(ctx, first)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.Get(ctx, second)
	assert.NoError(t, err)
}
