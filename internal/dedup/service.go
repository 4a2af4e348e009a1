// Package dedup finds local persons that are the same contact and folds them into one.
package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/metrics"
	"github.com/memohai/rolodex/internal/review"
	"github.com/memohai/rolodex/internal/runlock"
	"github.com/memohai/rolodex/internal/store"
)

type Service struct {
	store     store.Store
	archive   *archive.Service
	queue     *review.Service
	audit     *audit.Log
	locker    runlock.Locker
	metrics   *metrics.Metrics
	weights   Weights
	autoMerge bool
	logger    *slog.Logger
	now       func() time.Time
}

// Options configure a Service.
type Options struct {
	Weights   Weights
	AutoMerge bool
}

func NewService(log *slog.Logger, st store.Store, arch *archive.Service, queue *review.Service, auditLog *audit.Log, locker runlock.Locker, m *metrics.Metrics, opts Options) *Service {
	w := opts.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Service{
		store:     st,
		archive:   arch,
		queue:     queue,
		audit:     auditLog,
		locker:    locker,
		metrics:   m,
		weights:   w,
		autoMerge: opts.AutoMerge,
		logger:    log.With(slog.String("service", "dedup")),
		now:       time.Now,
	}
}

// scoredFields count toward completeness. Middle name, nickname and emails do not.
var scoredFields = []string{
	domain.FieldFirstName,
	domain.FieldLastName,
	domain.FieldPhone,
	domain.FieldLinkedInURL,
	domain.FieldSocialHandle,
	domain.FieldTitle,
	domain.FieldNotes,
}

// Score rates how complete a person is.
func (s *Service) Score(p domain.Person, hasLink bool) int {
	score := 0
	for _, f := range scoredFields {
		if strings.TrimSpace(p.Field(f)) != "" {
			score += s.weights.Field
		}
	}
	if strings.TrimSpace(p.ImageURL) != "" {
		score += s.weights.Image
	}
	if hasLink {
		score += s.weights.RemoteLink
	}
	return score
}

// PickKeeper orders members best first: remote link, then score, then lowest id. It returns the keeper id.
func PickKeeper(members []Member) uuid.UUID {
	if len(members) == 0 {
		return uuid.Nil
	}
	sortMembers(members)
	return members[0].Person.ID
}

func sortMembers(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.HasLink != b.HasLink {
			return a.HasLink
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return bytes.Compare(a.Person.ID[:], b.Person.ID[:]) < 0
	})
}

// FindDuplicateGroups groups persons by normalized email. Excluded pairs are split into separate
// groups and groups with a single member are dropped.
func (s *Service) FindDuplicateGroups(ctx context.Context) ([]Group, error) {
	persons, err := s.store.ListPersons(ctx, store.PersonFilter{})
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	exclusions, err := s.store.ListExclusions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	excluded := make(map[string]struct{}, len(exclusions))
	for _, e := range exclusions {
		excluded[e.Key()] = struct{}{}
	}

	byEmail := map[string][]Member{}
	for _, p := range persons {
		seen := map[string]struct{}{}
		for _, e := range p.Emails {
			addr := strings.ToLower(strings.TrimSpace(e.Address))
			if addr == "" {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			hasLink := len(p.RemoteIDs) > 0
			byEmail[addr] = append(byEmail[addr], Member{Person: p, HasLink: hasLink, Score: s.Score(p, hasLink)})
		}
	}

	emails := make([]string, 0, len(byEmail))
	for addr, members := range byEmail {
		if len(members) > 1 {
			emails = append(emails, addr)
		}
	}
	sort.Strings(emails)

	var groups []Group
	seenSets := map[string]struct{}{}
	for _, addr := range emails {
		members := byEmail[addr]
		sortMembers(members)
		for _, part := range splitExcluded(members, excluded) {
			if len(part) < 2 {
				continue
			}
			key := memberKey(part)
			if _, dup := seenSets[key]; dup {
				continue
			}
			seenSets[key] = struct{}{}
			groups = append(groups, Group{Email: addr, Keeper: part[0].Person.ID, Members: part})
		}
	}
	return groups, nil
}

// splitExcluded partitions sorted members so no part holds an excluded pair. Each member joins the
// first part it has no exclusion with, which keeps the best member of each part first.
func splitExcluded(members []Member, excluded map[string]struct{}) [][]Member {
	var parts [][]Member
	for _, m := range members {
		placed := false
		for i, part := range parts {
			ok := true
			for _, other := range part {
				if _, x := excluded[domain.NewExclusion(m.Person.ID, other.Person.ID).Key()]; x {
					ok = false
					break
				}
			}
			if ok {
				parts[i] = append(part, m)
				placed = true
				break
			}
		}
		if !placed {
			parts = append(parts, []Member{m})
		}
	}
	return parts
}

func memberKey(members []Member) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.Person.ID.String()
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// Merge folds every person in deleteIDs into keepID, one transaction per person. Persons merged
// before a failure stay merged.
func (s *Service) Merge(ctx context.Context, keepID uuid.UUID, deleteIDs []uuid.UUID) error {
	if len(deleteIDs) == 0 {
		return ErrInvalidMerge
	}
	for _, id := range deleteIDs {
		err := s.store.WithTx(ctx, func(q store.Queries) error {
			return s.MergeTx(ctx, q, keepID, []uuid.UUID{id})
		})
		if err != nil {
			return fmt.Errorf("merge %s into %s: %w", id, keepID, err)
		}
	}
	return nil
}

// MergeTx merges inside the caller's transaction.
func (s *Service) MergeTx(ctx context.Context, q store.Queries, keepID uuid.UUID, deleteIDs []uuid.UUID) error {
	exclusions, err := q.ListExclusions(ctx)
	if err != nil {
		return err
	}
	excluded := make(map[string]struct{}, len(exclusions))
	for _, e := range exclusions {
		excluded[e.Key()] = struct{}{}
	}
	for _, id := range deleteIDs {
		if id == keepID {
			return ErrInvalidMerge
		}
		if _, x := excluded[domain.NewExclusion(keepID, id).Key()]; x {
			return ErrExcluded
		}
		if err := s.mergeOne(ctx, q, keepID, id); err != nil {
			return err
		}
	}
	s.metrics.Merged(len(deleteIDs))
	return nil
}

func (s *Service) mergeOne(ctx context.Context, q store.Queries, keepID, loserID uuid.UUID) error {
	keeper, err := q.GetPerson(ctx, keepID)
	if err != nil {
		return fmt.Errorf("load keeper: %w", err)
	}
	snap, err := archive.Snapshot(ctx, q, loserID)
	if err != nil {
		return err
	}
	loser := snap.Person
	before := detect.CleanSet(keeper.Fields())

	have := map[string]struct{}{}
	for _, e := range keeper.Emails {
		have[strings.ToLower(strings.TrimSpace(e.Address))] = struct{}{}
	}
	for _, e := range loser.Emails {
		addr := strings.ToLower(strings.TrimSpace(e.Address))
		if _, ok := have[addr]; ok || addr == "" {
			continue
		}
		have[addr] = struct{}{}
		keeper.Emails = append(keeper.Emails, domain.Email{ID: uuid.New(), Address: e.Address, Label: e.Label})
	}
	keeper.EnsurePrimary()
	for _, f := range domain.SyncedFields {
		if f == domain.FieldEmails {
			continue
		}
		if strings.TrimSpace(keeper.Field(f)) == "" && strings.TrimSpace(loser.Field(f)) != "" {
			keeper.SetField(f, loser.Field(f))
		}
	}

	for _, t := range snap.Tags {
		if err := q.AttachTag(ctx, keepID, t.ID); err != nil {
			return fmt.Errorf("move tag: %w", err)
		}
	}
	for _, in := range snap.Interactions {
		if err := q.MoveInteraction(ctx, in.ID, keepID); err != nil {
			return fmt.Errorf("move interaction: %w", err)
		}
	}
	for _, a := range snap.Affiliations {
		if err := q.MoveAffiliation(ctx, a.ID, keepID); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("move affiliation: %w", err)
		}
	}

	links, err := q.ListLinksByEntity(ctx, domain.EntityPerson, loserID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if _, taken := keeper.RemoteIDs[l.AccountID]; taken {
			// Left on the loser; archiving queues the duplicate remote record for deletion.
			continue
		}
		if err := q.DeleteLink(ctx, l.AccountID, l.ResourceID); err != nil {
			return fmt.Errorf("move link: %w", err)
		}
		l.EntityID = keepID
		if err := q.UpsertLink(ctx, l); err != nil {
			return fmt.Errorf("move link: %w", err)
		}
	}

	var changes []domain.FieldChange
	after := detect.CleanSet(keeper.Fields())
	for _, f := range after.Names() {
		if !detect.Same(f, before[f], after[f]) {
			changes = append(changes, domain.FieldChange{Field: f, Old: before[f], New: after[f]})
		}
	}
	now := s.now().UTC()
	if len(changes) > 0 && keeper.SyncEnabled {
		keeper.SyncStatus = domain.SyncPending
	}
	keeper.UpdatedAt = now
	if err := q.UpdatePerson(ctx, keeper); err != nil {
		return fmt.Errorf("update keeper: %w", err)
	}

	if _, err := s.archive.ArchiveTx(ctx, q, archive.Request{PersonID: loserID, DeletedFrom: domain.DeletedFromMerge, Snapshot: &snap}); err != nil {
		return err
	}
	rec := audit.ForPerson(keeper, nil, domain.DirectionLocalToRemote, domain.ActionMerge, domain.AuditSuccess)
	rec.Changes = changes
	if err := s.audit.Write(ctx, q, rec); err != nil {
		return err
	}
	s.logger.Info("person merged",
		slog.String("keeper_id", keepID.String()),
		slog.String("merged_id", loserID.String()),
		slog.Int("changes", len(changes)))
	return nil
}

// RunPass finds every duplicate group and either merges it or queues it for review, depending
// on the auto merge option. Only one pass runs at a time.
func (s *Service) RunPass(ctx context.Context) (PassResult, error) {
	release, ok, err := s.locker.TryLock(ctx, runlock.DedupKey)
	if err != nil {
		return PassResult{}, err
	}
	if !ok {
		return PassResult{}, ErrAlreadyRunning
	}
	defer release()

	groups, err := s.FindDuplicateGroups(ctx)
	if err != nil {
		return PassResult{}, err
	}
	res := PassResult{Groups: len(groups)}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.autoMerge {
			if err := s.mergeGroup(ctx, g, &res); err != nil {
				res.Failed++
				s.logger.Warn("dedup merge failed", slog.String("email", g.Email), slog.Any("error", err))
			}
			continue
		}
		for _, loser := range g.Losers() {
			created, err := s.suggest(ctx, g, loser)
			if err != nil {
				res.Failed++
				s.logger.Warn("dedup review failed", slog.String("email", g.Email), slog.Any("error", err))
				continue
			}
			if created {
				res.Queued++
			}
		}
	}
	s.logger.Info("dedup pass finished",
		slog.Int("groups", res.Groups), slog.Int("merged", res.Merged),
		slog.Int("queued", res.Queued), slog.Int("failed", res.Failed))
	return res, nil
}

// mergeGroup skips members already merged by an earlier overlapping group.
func (s *Service) mergeGroup(ctx context.Context, g Group, res *PassResult) error {
	if _, err := s.store.GetPerson(ctx, g.Keeper); errors.Is(err, store.ErrNotFound) {
		return nil
	}
	for _, id := range g.Losers() {
		if _, err := s.store.GetPerson(ctx, id); errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err := s.Merge(ctx, g.Keeper, []uuid.UUID{id}); err != nil {
			return err
		}
		res.Merged++
	}
	return nil
}

func (s *Service) suggest(ctx context.Context, g Group, loser uuid.UUID) (bool, error) {
	var keeper, other domain.Person
	for _, m := range g.Members {
		switch m.Person.ID {
		case g.Keeper:
			keeper = m.Person
		case loser:
			other = m.Person
		}
	}
	local, remote := detect.CleanSet(keeper.Fields()), detect.CleanSet(other.Fields())
	var conflicts []string
	for _, f := range local.Names() {
		if !detect.Same(f, local[f], remote[f]) {
			conflicts = append(conflicts, f)
		}
	}
	item := domain.ReviewItem{
		PersonID:       &keeper.ID,
		OtherPersonID:  &other.ID,
		ReviewType:     domain.ReviewDuplicateSuspect,
		LocalData:      local,
		RemoteData:     remote,
		ConflictFields: conflicts,
	}
	var created bool
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		_, created, err = s.queue.EnqueueTx(ctx, q, item)
		return err
	})
	if created {
		s.metrics.ReviewEnqueued(string(domain.ReviewDuplicateSuspect))
	}
	return created, err
}

// Exclude records that two persons are different people.
func (s *Service) Exclude(ctx context.Context, a, b uuid.UUID) error {
	if a == b {
		return ErrInvalidMerge
	}
	e := domain.NewExclusion(a, b)
	e.CreatedAt = s.now().UTC()
	return s.store.AddExclusion(ctx, e)
}

func (s *Service) Unexclude(ctx context.Context, a, b uuid.UUID) error {
	return s.store.RemoveExclusion(ctx, a, b)
}

func (s *Service) Exclusions(ctx context.Context) ([]domain.DuplicateExclusion, error) {
	return s.store.ListExclusions(ctx)
}
