// Package archive turns person deletions into recoverable snapshots.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/settings"
	"github.com/memohai/rolodex/internal/store"
)

// ErrAlreadyRestored is returned when an archive has already been restored once.
var ErrAlreadyRestored = errors.New("archive: already restored")

// Request describes one archive operation.
type Request struct {
	PersonID    uuid.UUID
	DeletedFrom domain.DeletedFrom
	// AccountID is the account whose remote deletion caused the archive, if any.
	AccountID *uuid.UUID
	// Snapshot, when set, is stored instead of the person's current state. Merges take it before
	// moving associations to the keeper.
	Snapshot *domain.ArchiveSnapshot
}

type Service struct {
	store  store.Store
	audit  *audit.Log
	logger *slog.Logger
	now    func() time.Time
}

func NewService(log *slog.Logger, st store.Store, auditLog *audit.Log) *Service {
	return &Service{
		store:  st,
		audit:  auditLog,
		logger: log.With(slog.String("service", "archive")),
		now:    time.Now,
	}
}

// Archive snapshots and removes a person in its own transaction.
func (s *Service) Archive(ctx context.Context, personID uuid.UUID, from domain.DeletedFrom) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		id, err = s.ArchiveTx(ctx, q, Request{PersonID: personID, DeletedFrom: from})
		return err
	})
	return id, err
}

// ArchiveTx archives inside the caller's transaction. Remote records of the person are queued
// for deletion unless the deletion came from the remote side.
func (s *Service) ArchiveTx(ctx context.Context, q store.Queries, req Request) (uuid.UUID, error) {
	if err := domain.Kinds.Validate(domain.CategoryDeletedFrom, string(req.DeletedFrom)); err != nil {
		return uuid.Nil, err
	}
	snap, err := Snapshot(ctx, q, req.PersonID)
	if err != nil {
		return uuid.Nil, err
	}
	if req.Snapshot != nil {
		snap = *req.Snapshot
	}
	p := snap.Person
	links, err := q.ListLinksByEntity(ctx, domain.EntityPerson, req.PersonID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load links: %w", err)
	}

	st, err := q.GetSettings(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("load settings: %w", err)
	}
	now := s.now().UTC()
	rec := domain.ArchivedPerson{
		ID:          uuid.New(),
		PersonID:    p.ID,
		PersonName:  p.DisplayName(),
		Snapshot:    snap,
		DeletedFrom: req.DeletedFrom,
		RemoteIDs:   map[uuid.UUID]string{},
		CreatedAt:   now,
		ExpiresAt:   now.Add(settings.Retention(st)),
	}
	for _, l := range links {
		rec.RemoteIDs[l.AccountID] = l.ResourceID
	}
	if err := q.InsertArchive(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("insert archive: %w", err)
	}

	if req.DeletedFrom != domain.DeletedFromRemote {
		for _, l := range links {
			err := q.EnqueueRemoteDeletion(ctx, domain.RemoteDeletion{
				AccountID:  l.AccountID,
				ResourceID: l.ResourceID,
				PersonID:   p.ID,
				CreatedAt:  now,
			})
			if err != nil {
				return uuid.Nil, fmt.Errorf("queue remote deletion: %w", err)
			}
		}
	}
	if err := q.DeletePerson(ctx, req.PersonID); err != nil {
		return uuid.Nil, fmt.Errorf("delete person: %w", err)
	}

	dir := domain.DirectionLocalToRemote
	if req.DeletedFrom == domain.DeletedFromRemote {
		dir = domain.DirectionRemoteToLocal
	}
	entry := audit.ForPerson(p, req.AccountID, dir, domain.ActionArchive, domain.AuditSuccess)
	if err := s.audit.Write(ctx, q, entry); err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("person archived",
		slog.String("person_id", p.ID.String()),
		slog.String("archive_id", rec.ID.String()),
		slog.String("deleted_from", string(req.DeletedFrom)),
		slog.Int("remote_links", len(links)))
	return rec.ID, nil
}

// Snapshot captures a person with every association.
func Snapshot(ctx context.Context, q store.Queries, personID uuid.UUID) (domain.ArchiveSnapshot, error) {
	p, err := q.GetPerson(ctx, personID)
	if err != nil {
		return domain.ArchiveSnapshot{}, fmt.Errorf("load person: %w", err)
	}
	snap := domain.ArchiveSnapshot{Person: p}
	if snap.Tags, err = q.ListPersonTags(ctx, p.ID); err != nil {
		return domain.ArchiveSnapshot{}, fmt.Errorf("load tags: %w", err)
	}
	if snap.Interactions, err = q.ListInteractions(ctx, p.ID); err != nil {
		return domain.ArchiveSnapshot{}, fmt.Errorf("load interactions: %w", err)
	}
	if snap.Affiliations, err = q.ListAffiliations(ctx, p.ID); err != nil {
		return domain.ArchiveSnapshot{}, fmt.Errorf("load affiliations: %w", err)
	}
	return snap, nil
}

// Restore recreates the person under a new id with its associations. A remote link is re-created
// only when the queued deletion of that record was cancelled, so the record still exists; such
// links start without a baseline and the next sync compares both sides from scratch.
func (s *Service) Restore(ctx context.Context, archiveID uuid.UUID) (uuid.UUID, error) {
	var newID uuid.UUID
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		rec, err := q.GetArchive(ctx, archiveID)
		if err != nil {
			return err
		}
		if rec.Restored() {
			return ErrAlreadyRestored
		}
		now := s.now().UTC()
		p := rec.Snapshot.Person.Clone()
		p.ID = uuid.New()
		p.RemoteIDs = nil
		p.LastSyncedAt = nil
		p.SyncStatus = domain.SyncPending
		p.CreatedAt, p.UpdatedAt = now, now
		for i := range p.Emails {
			p.Emails[i].ID = uuid.New()
		}
		if err := q.CreatePerson(ctx, p); err != nil {
			return fmt.Errorf("create person: %w", err)
		}
		newID = p.ID

		for _, t := range rec.Snapshot.Tags {
			tag, err := q.EnsureTag(ctx, t.Name)
			if err != nil {
				return fmt.Errorf("ensure tag: %w", err)
			}
			if err := q.AttachTag(ctx, p.ID, tag.ID); err != nil {
				return fmt.Errorf("attach tag: %w", err)
			}
		}
		for _, in := range rec.Snapshot.Interactions {
			in.ID, in.PersonID = uuid.New(), p.ID
			if err := q.AddInteraction(ctx, in); err != nil {
				return fmt.Errorf("restore interaction: %w", err)
			}
		}
		for _, a := range rec.Snapshot.Affiliations {
			a.ID, a.PersonID = uuid.New(), p.ID
			if err := q.AddAffiliation(ctx, a); err != nil && !errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("restore affiliation: %w", err)
			}
		}

		for accountID, resourceID := range rec.RemoteIDs {
			if _, err := q.GetAccount(ctx, accountID); errors.Is(err, store.ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			cancelled, err := q.DeleteRemoteDeletion(ctx, accountID, resourceID)
			if err != nil {
				return fmt.Errorf("cancel remote deletion: %w", err)
			}
			if !cancelled || rec.DeletedFrom == domain.DeletedFromRemote {
				// The remote record is gone. The person stays unlinked and pending so the
				// next push creates it again.
				continue
			}
			if _, err := q.GetLinkByResource(ctx, accountID, resourceID); err == nil {
				// The resource was re-linked to another person since the archive.
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			err = q.UpsertLink(ctx, domain.Link{
				AccountID:  accountID,
				ResourceID: resourceID,
				EntityKind: domain.EntityPerson,
				EntityID:   p.ID,
			})
			if err != nil {
				return fmt.Errorf("restore link: %w", err)
			}
		}

		ok, err := q.MarkArchiveRestored(ctx, rec.ID, now, p.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyRestored
		}
		return s.audit.Write(ctx, q, audit.ForPerson(p, nil, domain.DirectionLocalToRemote, domain.ActionRestore, domain.AuditSuccess))
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("archive restored", slog.String("archive_id", archiveID.String()), slog.String("person_id", newID.String()))
	return newID, nil
}

// Purge removes unrestored archives whose retention ended at or before now.
func (s *Service) Purge(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.PurgeArchives(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge archives: %w", err)
	}
	if n > 0 {
		s.logger.Info("archives purged", slog.Int("count", n))
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.ArchivedPerson, error) {
	return s.store.GetArchive(ctx, id)
}

func (s *Service) List(ctx context.Context, filter store.ArchiveFilter) ([]domain.ArchivedPerson, error) {
	if filter.DeletedFrom != "" {
		if err := domain.Kinds.Validate(domain.CategoryDeletedFrom, string(filter.DeletedFrom)); err != nil {
			return nil, err
		}
	}
	return s.store.ListArchives(ctx, filter)
}
