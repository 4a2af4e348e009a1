// Package review holds conflicts the sync engine could not decide on its own until a person resolves them.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

type Service struct {
	store    store.Store
	detector *detect.Detector
	audit    *audit.Log
	merger   Merger
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(log *slog.Logger, st store.Store, detector *detect.Detector, auditLog *audit.Log) *Service {
	return &Service{
		store:    st,
		detector: detector,
		audit:    auditLog,
		logger:   log.With(slog.String("service", "review")),
		now:      time.Now,
	}
}

// SetMerger attaches the component that executes merge resolutions.
func (s *Service) SetMerger(m Merger) {
	s.merger = m
}

// Enqueue adds an item in its own transaction.
func (s *Service) Enqueue(ctx context.Context, item domain.ReviewItem) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		id, _, err = s.EnqueueTx(ctx, q, item)
		return err
	})
	return id, err
}

// EnqueueTx adds an item inside the caller's transaction. When a pending item already exists for the
// same key (see store.ReviewKey) its snapshots are refreshed instead and created is false.
func (s *Service) EnqueueTx(ctx context.Context, q store.Queries, item domain.ReviewItem) (id uuid.UUID, created bool, err error) {
	if err := domain.Kinds.Validate(domain.CategoryReviewType, string(item.ReviewType)); err != nil {
		return uuid.Nil, false, err
	}
	if item.PersonID == nil && item.ResourceID == "" {
		return uuid.Nil, false, fmt.Errorf("%w: item needs a person or a remote resource", ErrInvalidResolution)
	}
	now := s.now().UTC()
	existing, err := q.FindPendingReview(ctx, store.ReviewKey{
		PersonID:      item.PersonID,
		OtherPersonID: item.OtherPersonID,
		AccountID:     item.AccountID,
		ResourceID:    item.ResourceID,
		ReviewType:    item.ReviewType,
	})
	switch {
	case err == nil:
		existing.RemoteData = item.RemoteData
		existing.LocalData = item.LocalData
		existing.RemoteETag = item.RemoteETag
		existing.ResourceID = item.ResourceID
		existing.OtherPersonID = item.OtherPersonID
		existing.ConflictFields = item.ConflictFields
		existing.UpdatedAt = now
		if err := q.UpdateReviewSnapshots(ctx, existing); err != nil {
			return uuid.Nil, false, fmt.Errorf("refresh review: %w", err)
		}
		return existing.ID, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return uuid.Nil, false, fmt.Errorf("find review: %w", err)
	}

	item.ID = uuid.New()
	item.Status = domain.ReviewPending
	item.Resolution = nil
	item.ResolvedAt = nil
	item.CreatedAt, item.UpdatedAt = now, now
	if err := q.InsertReview(ctx, item); err != nil {
		return uuid.Nil, false, fmt.Errorf("insert review: %w", err)
	}
	if item.PersonID != nil && item.ReviewType != domain.ReviewDuplicateSuspect {
		if err := q.SetPersonSyncStatus(ctx, *item.PersonID, domain.SyncConflict, nil); err != nil {
			return uuid.Nil, false, fmt.Errorf("mark person conflicted: %w", err)
		}
	}
	s.logger.Info("review enqueued",
		slog.String("review_id", item.ID.String()),
		slog.String("type", string(item.ReviewType)),
		slog.Any("fields", item.ConflictFields))
	return item.ID, true, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.ReviewItem, error) {
	return s.store.GetReview(ctx, id)
}

func (s *Service) List(ctx context.Context, filter store.ReviewFilter) ([]domain.ReviewItem, error) {
	if filter.Status != "" {
		if err := domain.Kinds.Validate(domain.CategoryReviewStatus, string(filter.Status)); err != nil {
			return nil, err
		}
	}
	if filter.ReviewType != "" {
		if err := domain.Kinds.Validate(domain.CategoryReviewType, string(filter.ReviewType)); err != nil {
			return nil, err
		}
	}
	return s.store.ListReviews(ctx, filter)
}

// Resolve applies a human decision. Everything the resolution writes, including the terminal
// status, commits in one transaction so a resolution is applied at most once.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, res domain.Resolution) error {
	if err := domain.Kinds.Validate(domain.CategoryResolution, string(res.Action)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResolution, err)
	}
	for f := range res.Fields {
		if !isSyncedField(f) {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidResolution, f)
		}
	}
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		item, err := q.GetReview(ctx, id)
		if err != nil {
			return err
		}
		if item.Status != domain.ReviewPending {
			return ErrAlreadyTerminal
		}
		switch res.Action {
		case domain.ResolveApply:
			err = s.resolveApply(ctx, q, item, res)
		case domain.ResolveLink:
			err = s.resolveLink(ctx, q, item, res)
		case domain.ResolveCreate:
			err = s.resolveCreate(ctx, q, item, res)
		case domain.ResolveMerge:
			err = s.resolveMerge(ctx, q, item, &res)
		default:
			err = fmt.Errorf("%w: unsupported action %q", ErrInvalidResolution, res.Action)
		}
		if err != nil {
			return err
		}
		ok, err := q.TransitionReview(ctx, item.ID, domain.ReviewResolved, &res, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyTerminal
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("review resolved", slog.String("review_id", id.String()), slog.String("action", string(res.Action)))
	return nil
}

// Dismiss closes an item without applying anything. Dismissing a suspected duplicate between two
// local persons records the pair as distinct so later passes leave it alone.
func (s *Service) Dismiss(ctx context.Context, id uuid.UUID) error {
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		item, err := q.GetReview(ctx, id)
		if err != nil {
			return err
		}
		if item.Status != domain.ReviewPending {
			return ErrAlreadyTerminal
		}
		now := s.now().UTC()
		if item.ReviewType == domain.ReviewDuplicateSuspect && item.PersonID != nil && item.OtherPersonID != nil {
			excl := domain.NewExclusion(*item.PersonID, *item.OtherPersonID)
			excl.CreatedAt = now
			if err := q.AddExclusion(ctx, excl); err != nil {
				return fmt.Errorf("add exclusion: %w", err)
			}
		}
		if item.PersonID != nil && item.ReviewType != domain.ReviewDuplicateSuspect {
			err := q.SetPersonSyncStatus(ctx, *item.PersonID, domain.SyncPending, nil)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		ok, err := q.TransitionReview(ctx, item.ID, domain.ReviewDismissed, nil, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyTerminal
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("review dismissed", slog.String("review_id", id.String()))
	return nil
}

// resolveApply settles a name or data conflict on an already linked person. Non-conflicting
// one-sided changes are kept; each conflict field takes the chosen value or the remote one.
func (s *Service) resolveApply(ctx context.Context, q store.Queries, item domain.ReviewItem, res domain.Resolution) error {
	if item.PersonID == nil || item.AccountID == nil || item.ResourceID == "" {
		return fmt.Errorf("%w: apply needs a linked person", ErrInvalidResolution)
	}
	p, err := q.GetPerson(ctx, *item.PersonID)
	if err != nil {
		return fmt.Errorf("load person: %w", err)
	}
	var link *domain.Link
	if l, err := q.GetLinkByResource(ctx, *item.AccountID, item.ResourceID); err == nil {
		link = &l
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	remote := domain.RemoteFromFields(item.RemoteData, item.ResourceID, item.RemoteETag)
	dec := s.detector.Classify(&p, remote, link)

	final := dec.Proposed.Clone()
	if final == nil {
		final = domain.FieldSet{}
	}
	for _, f := range append(append([]string(nil), dec.ConflictFields...), item.ConflictFields...) {
		final[f] = item.RemoteData[f]
	}
	for f, v := range res.Fields {
		final[f] = v
	}
	return s.settle(ctx, q, p, item, final, "")
}

// resolveLink attaches the remote record of a duplicate suspect to the existing local person.
func (s *Service) resolveLink(ctx context.Context, q store.Queries, item domain.ReviewItem, res domain.Resolution) error {
	if item.PersonID == nil || item.AccountID == nil || item.ResourceID == "" {
		return fmt.Errorf("%w: link needs a local person and a remote record", ErrInvalidResolution)
	}
	if _, err := q.GetLinkByResource(ctx, *item.AccountID, item.ResourceID); err == nil {
		return fmt.Errorf("%w: remote record is already linked", ErrInvalidResolution)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	p, err := q.GetPerson(ctx, *item.PersonID)
	if err != nil {
		return fmt.Errorf("load person: %w", err)
	}
	if _, ok := p.RemoteIDs[*item.AccountID]; ok {
		return fmt.Errorf("%w: person is already linked to this account", ErrInvalidResolution)
	}
	local := detect.CleanSet(p.Fields())
	final := domain.FieldSet{}
	for _, f := range domain.SyncedFields {
		l, r := local[f], detect.Clean(f, item.RemoteData[f])
		switch {
		case f == domain.FieldEmails:
			final[f] = detect.Clean(f, l+","+r)
		case r != "":
			final[f] = r
		default:
			final[f] = l
		}
	}
	for f, v := range res.Fields {
		final[f] = v
	}
	return s.settle(ctx, q, p, item, final, domain.ActionUpdate)
}

// resolveCreate turns the remote record of a duplicate suspect into a new person.
func (s *Service) resolveCreate(ctx context.Context, q store.Queries, item domain.ReviewItem, res domain.Resolution) error {
	if item.AccountID == nil || item.ResourceID == "" {
		return fmt.Errorf("%w: create needs a remote record", ErrInvalidResolution)
	}
	if _, err := q.GetLinkByResource(ctx, *item.AccountID, item.ResourceID); err == nil {
		return fmt.Errorf("%w: remote record is already linked", ErrInvalidResolution)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	now := s.now().UTC()
	p := domain.PersonFromRemote(domain.RemoteFromFields(item.RemoteData, item.ResourceID, item.RemoteETag), now)
	if err := q.CreatePerson(ctx, p); err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	final := detect.CleanSet(item.RemoteData).Merge(res.Fields)
	return s.settle(ctx, q, p, item, final, domain.ActionCreate)
}

func (s *Service) resolveMerge(ctx context.Context, q store.Queries, item domain.ReviewItem, res *domain.Resolution) error {
	if s.merger == nil {
		return ErrNoMerger
	}
	if item.PersonID == nil || item.OtherPersonID == nil {
		return fmt.Errorf("%w: merge needs two local persons", ErrInvalidResolution)
	}
	keep, drop := *item.PersonID, *item.OtherPersonID
	if res.KeepID != nil {
		switch *res.KeepID {
		case keep:
		case drop:
			keep, drop = drop, keep
		default:
			return fmt.Errorf("%w: keep id is not part of the pair", ErrInvalidResolution)
		}
	}
	res.KeepID = &keep
	return s.merger.MergeTx(ctx, q, keep, []uuid.UUID{drop})
}

// settle writes final onto the person, points the link baseline at the remote snapshot and audits
// the change. The person stays pending when the remote still has to catch up with final.
func (s *Service) settle(ctx context.Context, q store.Queries, p domain.Person, item domain.ReviewItem, final domain.FieldSet, action domain.Action) error {
	now := s.now().UTC()
	before := detect.CleanSet(p.Fields())
	var changes []domain.FieldChange
	for _, f := range final.Names() {
		if !detect.Same(f, before[f], final[f]) {
			changes = append(changes, domain.FieldChange{Field: f, Old: before[f], New: final[f]})
			p.SetField(f, final[f])
		}
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResolution, err)
	}
	p.UpdatedAt = now
	if err := q.UpdatePerson(ctx, p); err != nil {
		return fmt.Errorf("update person: %w", err)
	}

	remote := detect.CleanSet(item.RemoteData)
	status := domain.SyncSynced
	for _, f := range domain.SyncedFields {
		if !detect.Same(f, remote[f], detect.Clean(f, p.Field(f))) {
			status = domain.SyncPending
			break
		}
	}
	var syncedAt *time.Time
	if status == domain.SyncSynced {
		syncedAt = &now
	}
	if err := q.SetPersonSyncStatus(ctx, p.ID, status, syncedAt); err != nil {
		return err
	}
	err := q.UpsertLink(ctx, domain.Link{
		AccountID:    *item.AccountID,
		ResourceID:   item.ResourceID,
		EntityKind:   domain.EntityPerson,
		EntityID:     p.ID,
		ETag:         item.RemoteETag,
		Baseline:     remote,
		LastSyncedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	if action == "" {
		action = domain.ActionUpdate
	}
	rec := audit.ForPerson(p, item.AccountID, domain.DirectionRemoteToLocal, action, domain.AuditSuccess)
	rec.Changes = changes
	return s.audit.Write(ctx, q, rec)
}

func isSyncedField(f string) bool {
	for _, name := range domain.SyncedFields {
		if name == f {
			return true
		}
	}
	return false
}
