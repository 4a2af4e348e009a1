package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

// pull applies the complete remote listing. Links whose resource is missing from the listing, or
// present only as a tombstone, are treated as remote deletions and applied before any update.
func (r *run) pull(ctx context.Context) error {
	groups, err := r.syncGroups(ctx)
	if err != nil {
		return err
	}

	var records []domain.RemoteRecord
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.remote.ListContacts(ctx, token)
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}
		records = append(records, page.Records...)
		r.collectionETag = page.CollectionETag
		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == token {
			return fmt.Errorf("list contacts: page token %q repeated", token)
		}
		token = page.NextPageToken
	}

	present := make(map[string]struct{}, len(records))
	live := make([]domain.RemoteRecord, 0, len(records))
	for _, rec := range records {
		if rec.Deleted {
			continue
		}
		// Malformed records still count as present: a parse failure is not a deletion.
		if rec.ResourceID != "" {
			present[rec.ResourceID] = struct{}{}
		}
		live = append(live, rec)
	}

	links, err := r.svc.store.ListLinksByAccount(ctx, r.account.ID, domain.EntityPerson)
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}
	for _, l := range links {
		if _, ok := present[l.ResourceID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.removeLocal(ctx, l)
	}

	// Records of locally archived persons wait for the push to delete them and are not re-imported.
	queued, err := r.svc.store.ListRemoteDeletions(ctx, r.account.ID)
	if err != nil {
		return fmt.Errorf("list remote deletions: %w", err)
	}
	doomed := make(map[string]struct{}, len(queued))
	for _, d := range queued {
		doomed[d.ResourceID] = struct{}{}
	}

	for _, rec := range live {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := doomed[rec.ResourceID]; ok {
			continue
		}
		if rec.Malformed != "" {
			r.svc.metrics.Decision("malformed")
			r.fail(ctx, domain.AuditRecord{Direction: domain.DirectionRemoteToLocal, Action: domain.ActionUpdate},
				rec.ResourceID, fmt.Errorf("malformed remote record %q: %s", rec.ResourceID, rec.Malformed))
			continue
		}
		var e effect
		err := r.entity(ctx, func(ctx context.Context) error {
			return r.svc.store.WithTx(ctx, func(q store.Queries) error {
				var err error
				e, err = r.applyRemote(ctx, q, rec, groups)
				return err
			})
		})
		if err != nil {
			r.fail(ctx, domain.AuditRecord{Direction: domain.DirectionRemoteToLocal, Action: domain.ActionUpdate}, rec.ResourceID, err)
			continue
		}
		r.tally(e)
	}
	return nil
}

// syncGroups registers a tag link per remote group and returns group resource id to tag id.
// Failing to list groups only costs the tag mapping, unless the account itself is refused.
func (r *run) syncGroups(ctx context.Context) (map[string]uuid.UUID, error) {
	groups, err := r.remote.ListGroups(ctx)
	if err != nil {
		if abort(ctx, err) {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		r.log.Warn("list groups failed", slog.Any("error", err))
		return nil, nil
	}
	out := make(map[string]uuid.UUID, len(groups))
	for _, g := range groups {
		name := strings.TrimSpace(g.Name)
		if name == "" || g.ResourceID == "" {
			continue
		}
		var tagID uuid.UUID
		err := r.svc.store.WithTx(ctx, func(q store.Queries) error {
			tag, err := q.EnsureTag(ctx, name)
			if err != nil {
				return err
			}
			tagID = tag.ID
			// The first group with a given name owns the tag link.
			if _, err := q.GetLinkByEntity(ctx, r.account.ID, domain.EntityTag, tag.ID); err == nil {
				return nil
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			now := r.svc.now().UTC()
			return q.UpsertLink(ctx, domain.Link{
				AccountID:    r.account.ID,
				ResourceID:   g.ResourceID,
				EntityKind:   domain.EntityTag,
				EntityID:     tag.ID,
				LastSyncedAt: &now,
			})
		})
		if err != nil {
			r.log.Warn("map group to tag failed", slog.String("group", g.ResourceID), slog.Any("error", err))
			continue
		}
		out[g.ResourceID] = tagID
	}
	return out, nil
}

// removeLocal applies a remote deletion to the linked person: archived when it syncs, unlinked
// when sync is off for it.
func (r *run) removeLocal(ctx context.Context, l domain.Link) {
	var archived bool
	var person domain.Person
	err := r.entity(ctx, func(ctx context.Context) error {
		return r.svc.store.WithTx(ctx, func(q store.Queries) error {
			p, err := q.GetPerson(ctx, l.EntityID)
			if errors.Is(err, store.ErrNotFound) {
				return ignoreNotFound(q.DeleteLink(ctx, l.AccountID, l.ResourceID))
			}
			if err != nil {
				return err
			}
			person = p
			if !p.SyncEnabled {
				return ignoreNotFound(q.DeleteLink(ctx, l.AccountID, l.ResourceID))
			}
			_, err = r.svc.archive.ArchiveTx(ctx, q, archive.Request{
				PersonID:    p.ID,
				DeletedFrom: domain.DeletedFromRemote,
				AccountID:   r.accountID(),
			})
			archived = err == nil
			return err
		})
	})
	if err != nil {
		rec := domain.AuditRecord{PersonID: &l.EntityID, Direction: domain.DirectionRemoteToLocal, Action: domain.ActionArchive}
		if person.ID != uuid.Nil {
			rec = audit.ForPerson(person, nil, domain.DirectionRemoteToLocal, domain.ActionArchive, domain.AuditFailed)
		}
		r.fail(ctx, rec, l.ResourceID, err)
		return
	}
	r.res.Deleted++
	if archived {
		r.res.Archived++
		r.svc.metrics.Decision("archive")
	}
}

// applyRemote reconciles one live remote record inside the entity transaction.
func (r *run) applyRemote(ctx context.Context, q store.Queries, rec domain.RemoteRecord, groups map[string]uuid.UUID) (effect, error) {
	link, err := q.GetLinkByResource(ctx, r.account.ID, rec.ResourceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return r.createOrSuspect(ctx, q, rec, groups)
	case err != nil:
		return effSkipped, err
	}
	if link.EntityKind != domain.EntityPerson {
		return effSkipped, fmt.Errorf("resource %q is linked to a %s", rec.ResourceID, link.EntityKind)
	}
	p, err := q.GetPerson(ctx, link.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		if err := ignoreNotFound(q.DeleteLink(ctx, link.AccountID, link.ResourceID)); err != nil {
			return effSkipped, err
		}
		return r.createOrSuspect(ctx, q, rec, groups)
	}
	if err != nil {
		return effSkipped, err
	}
	if !p.SyncEnabled {
		return effSkipped, nil
	}

	dec := r.svc.detector.Classify(&p, rec, &link)
	r.svc.metrics.Decision(string(dec.Outcome))
	if dec.Outcome == detect.Conflict {
		item := domain.ReviewItem{
			PersonID:       &p.ID,
			AccountID:      r.accountID(),
			ResourceID:     rec.ResourceID,
			ReviewType:     dec.ReviewType,
			RemoteData:     dec.Remote,
			LocalData:      dec.Local,
			RemoteETag:     rec.ETag,
			ConflictFields: dec.ConflictFields,
		}
		return effConflict, r.enqueue(ctx, q, p, item)
	}
	// A person waiting on a review keeps its state until the review is resolved.
	if p.SyncStatus == domain.SyncConflict {
		return effSkipped, nil
	}

	now := r.svc.now().UTC()
	for f, v := range dec.ToLocal {
		p.SetField(f, v)
	}
	p.EnsurePrimary()
	if len(dec.ToRemote) > 0 {
		p.SyncStatus = domain.SyncPending
	} else {
		p.SyncStatus = domain.SyncSynced
		p.LastSyncedAt = &now
	}
	if len(dec.ToLocal) > 0 {
		if err := p.Validate(); err != nil {
			return effSkipped, fmt.Errorf("apply remote values: %w", err)
		}
		p.UpdatedAt = now
		if err := q.UpdatePerson(ctx, p); err != nil {
			return effSkipped, fmt.Errorf("update person: %w", err)
		}
	} else if err := q.SetPersonSyncStatus(ctx, p.ID, p.SyncStatus, p.LastSyncedAt); err != nil {
		return effSkipped, fmt.Errorf("set sync status: %w", err)
	}

	// The baseline is what the remote holds now; fields still waiting to be pushed differ from
	// it locally and are picked up by the push.
	link.ETag = rec.ETag
	link.Baseline = dec.Remote
	link.LastSyncedAt = &now
	if err := q.UpsertLink(ctx, link); err != nil {
		return effSkipped, fmt.Errorf("update link: %w", err)
	}
	if err := r.attachGroups(ctx, q, p.ID, rec.Groups, groups); err != nil {
		return effSkipped, err
	}

	if len(dec.LocalChanges) == 0 {
		if r.svc.cfg.AuditNoop {
			entry := audit.ForPerson(p, r.accountID(), domain.DirectionRemoteToLocal, domain.ActionUpdate, domain.AuditSuccess)
			if err := r.svc.audit.Write(ctx, q, entry); err != nil {
				return effSkipped, err
			}
		}
		return effNoOp, nil
	}
	entry := audit.ForPerson(p, r.accountID(), domain.DirectionRemoteToLocal, domain.ActionUpdate, domain.AuditSuccess)
	entry.Changes = dec.LocalChanges
	if err := r.svc.audit.Write(ctx, q, entry); err != nil {
		return effSkipped, err
	}
	return effUpdated, nil
}

// createOrSuspect handles a remote record without a link. A local person sharing an email that
// is not linked to this account yet is flagged as a suspected duplicate unless a reviewer already
// dismissed that pairing; otherwise the record becomes a new person.
func (r *run) createOrSuspect(ctx context.Context, q store.Queries, rec domain.RemoteRecord, groups map[string]uuid.UUID) (effect, error) {
	cand, err := r.candidate(ctx, q, rec)
	if err != nil {
		return effSkipped, err
	}
	if cand != nil {
		dismissed, err := q.ListReviews(ctx, store.ReviewFilter{
			Status:     domain.ReviewDismissed,
			ReviewType: domain.ReviewDuplicateSuspect,
			PersonID:   &cand.ID,
			AccountID:  r.accountID(),
			ResourceID: rec.ResourceID,
			Limit:      1,
		})
		if err != nil {
			return effSkipped, fmt.Errorf("check dismissed reviews: %w", err)
		}
		if len(dismissed) == 0 {
			dec := r.svc.detector.ClassifyCandidate(*cand, rec)
			r.svc.metrics.Decision(string(dec.Outcome))
			item := domain.ReviewItem{
				PersonID:       &cand.ID,
				AccountID:      r.accountID(),
				ResourceID:     rec.ResourceID,
				ReviewType:     domain.ReviewDuplicateSuspect,
				RemoteData:     dec.Remote,
				LocalData:      dec.Local,
				RemoteETag:     rec.ETag,
				ConflictFields: dec.ConflictFields,
			}
			return effConflict, r.enqueue(ctx, q, *cand, item)
		}
	}

	dec := r.svc.detector.Classify(nil, rec, nil)
	r.svc.metrics.Decision(string(dec.Outcome))
	now := r.svc.now().UTC()
	p := domain.PersonFromRemote(rec, now)
	p.SyncStatus = domain.SyncSynced
	p.LastSyncedAt = &now
	if err := p.Validate(); err != nil {
		return effSkipped, fmt.Errorf("invalid remote record: %w", err)
	}
	if err := q.CreatePerson(ctx, p); err != nil {
		return effSkipped, fmt.Errorf("create person: %w", err)
	}
	err = q.UpsertLink(ctx, domain.Link{
		AccountID:    r.account.ID,
		ResourceID:   rec.ResourceID,
		EntityKind:   domain.EntityPerson,
		EntityID:     p.ID,
		ETag:         rec.ETag,
		Baseline:     dec.Remote,
		LastSyncedAt: &now,
	})
	if err != nil {
		return effSkipped, fmt.Errorf("create link: %w", err)
	}
	if err := r.attachGroups(ctx, q, p.ID, rec.Groups, groups); err != nil {
		return effSkipped, err
	}
	entry := audit.ForPerson(p, r.accountID(), domain.DirectionRemoteToLocal, domain.ActionCreate, domain.AuditSuccess)
	entry.Changes = dec.LocalChanges
	if err := r.svc.audit.Write(ctx, q, entry); err != nil {
		return effSkipped, err
	}
	return effCreated, nil
}

// candidate returns the oldest sync-enabled person sharing an email with rec that has no link
// for this account.
func (r *run) candidate(ctx context.Context, q store.Queries, rec domain.RemoteRecord) (*domain.Person, error) {
	enabled := true
	for _, addr := range domain.SplitList(detect.Clean(domain.FieldEmails, rec.Field(domain.FieldEmails))) {
		persons, err := q.ListPersons(ctx, store.PersonFilter{SyncEnabled: &enabled, Email: addr})
		if err != nil {
			return nil, fmt.Errorf("find candidates: %w", err)
		}
		for _, p := range persons {
			if _, linked := p.RemoteIDs[r.account.ID]; !linked {
				return &p, nil
			}
		}
	}
	return nil, nil
}

func (r *run) enqueue(ctx context.Context, q store.Queries, p domain.Person, item domain.ReviewItem) error {
	_, created, err := r.svc.queue.EnqueueTx(ctx, q, item)
	if err != nil {
		return fmt.Errorf("enqueue review: %w", err)
	}
	if !created {
		return nil
	}
	r.svc.metrics.ReviewEnqueued(string(item.ReviewType))
	entry := audit.ForPerson(p, r.accountID(), domain.DirectionRemoteToLocal, domain.ActionUpdate, domain.AuditPendingReview)
	for _, f := range item.ConflictFields {
		entry.Changes = append(entry.Changes, domain.FieldChange{Field: f, Old: item.LocalData[f], New: item.RemoteData[f]})
	}
	return r.svc.audit.Write(ctx, q, entry)
}

// attachGroups adds the tags of the record's groups. Tags are never removed by a pull.
func (r *run) attachGroups(ctx context.Context, q store.Queries, personID uuid.UUID, memberOf []string, groups map[string]uuid.UUID) error {
	for _, g := range memberOf {
		tagID, ok := groups[g]
		if !ok {
			continue
		}
		if err := q.AttachTag(ctx, personID, tagID); err != nil {
			return fmt.Errorf("attach tag: %w", err)
		}
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
