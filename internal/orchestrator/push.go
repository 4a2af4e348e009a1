package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/directory"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

// push drains queued remote deletions, then creates unlinked persons remotely and writes local
// edits of linked ones. Persons under review are left alone.
func (r *run) push(ctx context.Context) error {
	if err := r.drainDeletions(ctx); err != nil {
		return err
	}

	held, err := r.heldPersons(ctx)
	if err != nil {
		return err
	}
	enabled := true
	persons, err := r.svc.store.ListPersons(ctx, store.PersonFilter{SyncEnabled: &enabled})
	if err != nil {
		return fmt.Errorf("list persons: %w", err)
	}
	for _, p := range persons {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.SyncStatus == domain.SyncConflict {
			continue
		}
		if _, ok := held[p.ID]; ok {
			continue
		}
		action := domain.ActionUpdate
		var pushed bool
		if _, linked := p.RemoteIDs[r.account.ID]; linked {
			pushed, err = r.pushUpdate(ctx, p)
		} else {
			action = domain.ActionCreate
			pushed, err = r.pushCreate(ctx, p)
		}
		if err != nil {
			if abort(ctx, err) {
				return err
			}
			r.fail(ctx, audit.ForPerson(p, nil, domain.DirectionLocalToRemote, action, domain.AuditFailed), p.RemoteIDs[r.account.ID], err)
			continue
		}
		if pushed {
			r.res.Pushed++
		}
	}
	return nil
}

// heldPersons are local persons with a pending duplicate review for this account; creating them
// remotely would duplicate the remote record they may turn out to be.
func (r *run) heldPersons(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	items, err := r.svc.store.ListReviews(ctx, store.ReviewFilter{
		Status:     domain.ReviewPending,
		ReviewType: domain.ReviewDuplicateSuspect,
		AccountID:  r.accountID(),
	})
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	out := make(map[uuid.UUID]struct{}, len(items))
	for _, it := range items {
		if it.PersonID != nil {
			out[*it.PersonID] = struct{}{}
		}
	}
	return out, nil
}

func (r *run) drainDeletions(ctx context.Context) error {
	queued, err := r.svc.store.ListRemoteDeletions(ctx, r.account.ID)
	if err != nil {
		return fmt.Errorf("list remote deletions: %w", err)
	}
	for _, d := range queued {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.entity(ctx, func(ctx context.Context) error {
			if err := r.remote.DeleteContact(ctx, d.ResourceID); err != nil && !errors.Is(err, directory.ErrNotFound) {
				return err
			}
			return r.svc.store.WithTx(ctx, func(q store.Queries) error {
				ok, err := q.DeleteRemoteDeletion(ctx, d.AccountID, d.ResourceID)
				if err != nil {
					return err
				}
				if !ok {
					// A restore cancelled the deletion after the remote call went out. Drop the
					// link it re-created so the restored person is pushed as a new contact.
					if err := ignoreNotFound(q.DeleteLink(ctx, d.AccountID, d.ResourceID)); err != nil {
						return err
					}
				}
				return r.svc.audit.Write(ctx, q, domain.AuditRecord{
					PersonID:  &d.PersonID,
					AccountID: r.accountID(),
					Direction: domain.DirectionLocalToRemote,
					Action:    domain.ActionDelete,
					Status:    domain.AuditSuccess,
				})
			})
		})
		if err != nil {
			if abort(ctx, err) {
				return err
			}
			personID := d.PersonID
			r.fail(ctx, domain.AuditRecord{PersonID: &personID, Direction: domain.DirectionLocalToRemote, Action: domain.ActionDelete}, d.ResourceID, err)
			continue
		}
		r.res.Deleted++
	}
	return nil
}

func (r *run) pushCreate(ctx context.Context, p domain.Person) (bool, error) {
	groups, err := r.groupsFor(ctx, p.ID)
	if err != nil {
		return false, err
	}
	out := domain.RemoteFromPerson(p, "", "", groups)
	err = r.entity(ctx, func(ctx context.Context) error {
		created, err := r.remote.CreateContact(ctx, out)
		if err != nil {
			return err
		}
		baseline := detect.CleanSet(out.Fields())
		return r.svc.store.WithTx(ctx, func(q store.Queries) error {
			now := r.svc.now().UTC()
			err := q.UpsertLink(ctx, domain.Link{
				AccountID:    r.account.ID,
				ResourceID:   created.ResourceID,
				EntityKind:   domain.EntityPerson,
				EntityID:     p.ID,
				ETag:         created.ETag,
				Baseline:     baseline,
				LastSyncedAt: &now,
			})
			if err != nil {
				return fmt.Errorf("create link: %w", err)
			}
			if err := r.settle(ctx, q, p.ID, now); err != nil {
				return err
			}
			entry := audit.ForPerson(p, r.accountID(), domain.DirectionLocalToRemote, domain.ActionCreate, domain.AuditSuccess)
			for _, f := range baseline.Names() {
				if baseline[f] != "" {
					entry.Changes = append(entry.Changes, domain.FieldChange{Field: f, New: baseline[f]})
				}
			}
			return r.svc.audit.Write(ctx, q, entry)
		})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// pushUpdate writes local edits to the linked remote record, guarded by the link etag. A stale
// etag fails the entity; the next pull classifies the concurrent remote edit.
func (r *run) pushUpdate(ctx context.Context, p domain.Person) (bool, error) {
	link, err := r.svc.store.GetLinkByEntity(ctx, r.account.ID, domain.EntityPerson, p.ID)
	if err != nil {
		return false, fmt.Errorf("load link: %w", err)
	}
	changes := r.svc.detector.PushChanges(p, link.Baseline)
	if len(changes) == 0 {
		if p.SyncStatus != domain.SyncPending {
			return false, nil
		}
		return false, r.svc.store.WithTx(ctx, func(q store.Queries) error {
			return r.settle(ctx, q, p.ID, r.svc.now().UTC())
		})
	}
	groups, err := r.groupsFor(ctx, p.ID)
	if err != nil {
		return false, err
	}
	out := r.svc.detector.Outbound(p, link, groups)
	err = r.entity(ctx, func(ctx context.Context) error {
		updated, err := r.remote.UpdateContact(ctx, out)
		if err != nil {
			return err
		}
		return r.svc.store.WithTx(ctx, func(q store.Queries) error {
			now := r.svc.now().UTC()
			link.ETag = updated.ETag
			link.Baseline = detect.CleanSet(out.Fields())
			link.LastSyncedAt = &now
			if err := q.UpsertLink(ctx, link); err != nil {
				return fmt.Errorf("update link: %w", err)
			}
			if err := r.settle(ctx, q, p.ID, now); err != nil {
				return err
			}
			entry := audit.ForPerson(p, r.accountID(), domain.DirectionLocalToRemote, domain.ActionUpdate, domain.AuditSuccess)
			entry.Changes = changes
			return r.svc.audit.Write(ctx, q, entry)
		})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// settle marks the person synced once no linked account still has local edits to receive.
func (r *run) settle(ctx context.Context, q store.Queries, personID uuid.UUID, now time.Time) error {
	p, err := q.GetPerson(ctx, personID)
	if err != nil {
		return err
	}
	links, err := q.ListLinksByEntity(ctx, domain.EntityPerson, personID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if len(r.svc.detector.PushChanges(p, l.Baseline)) > 0 {
			return nil
		}
	}
	return q.SetPersonSyncStatus(ctx, personID, domain.SyncSynced, &now)
}

// groupsFor returns the remote groups of this account that mirror the person's tags.
func (r *run) groupsFor(ctx context.Context, personID uuid.UUID) ([]string, error) {
	tags, err := r.svc.store.ListPersonTags(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	var out []string
	for _, t := range tags {
		l, err := r.svc.store.GetLinkByEntity(ctx, r.account.ID, domain.EntityTag, t.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load tag link: %w", err)
		}
		out = append(out, l.ResourceID)
	}
	sort.Strings(out)
	return out, nil
}
