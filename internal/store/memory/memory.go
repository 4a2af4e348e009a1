// Package memory is an in-process store.Store. Transactions run against a copy of the state
// that replaces the live state on commit, so a failed WithTx leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

type linkKey struct {
	account  uuid.UUID
	resource string
}

type state struct {
	persons      map[uuid.UUID]domain.Person
	tags         map[uuid.UUID]domain.Tag
	personTags   map[uuid.UUID][]uuid.UUID
	interactions map[uuid.UUID]domain.Interaction
	affiliations map[uuid.UUID]domain.Affiliation
	links        map[linkKey]domain.Link
	accounts     map[uuid.UUID]domain.LinkedAccount
	tokens       map[uuid.UUID]domain.AccountToken
	audit        []domain.AuditRecord
	archives     map[uuid.UUID]domain.ArchivedPerson
	deletions    map[linkKey]domain.RemoteDeletion
	reviews      map[uuid.UUID]domain.ReviewItem
	settings     *domain.SyncSettings
	exclusions   map[string]domain.DuplicateExclusion
}

func newState() *state {
	return &state{
		persons:      map[uuid.UUID]domain.Person{},
		tags:         map[uuid.UUID]domain.Tag{},
		personTags:   map[uuid.UUID][]uuid.UUID{},
		interactions: map[uuid.UUID]domain.Interaction{},
		affiliations: map[uuid.UUID]domain.Affiliation{},
		links:        map[linkKey]domain.Link{},
		accounts:     map[uuid.UUID]domain.LinkedAccount{},
		tokens:       map[uuid.UUID]domain.AccountToken{},
		archives:     map[uuid.UUID]domain.ArchivedPerson{},
		deletions:    map[linkKey]domain.RemoteDeletion{},
		reviews:      map[uuid.UUID]domain.ReviewItem{},
		exclusions:   map[string]domain.DuplicateExclusion{},
	}
}

// clone copies every map. Values are replaced wholesale on write and cloned on read,
// so nested slices can be shared between copies.
func (s *state) clone() *state {
	out := &state{
		persons:      copyMap(s.persons),
		tags:         copyMap(s.tags),
		personTags:   map[uuid.UUID][]uuid.UUID{},
		interactions: copyMap(s.interactions),
		affiliations: copyMap(s.affiliations),
		links:        copyMap(s.links),
		accounts:     copyMap(s.accounts),
		tokens:       copyMap(s.tokens),
		audit:        append([]domain.AuditRecord(nil), s.audit...),
		archives:     copyMap(s.archives),
		deletions:    copyMap(s.deletions),
		reviews:      copyMap(s.reviews),
		exclusions:   copyMap(s.exclusions),
	}
	for k, v := range s.personTags {
		out.personTags[k] = append([]uuid.UUID(nil), v...)
	}
	if s.settings != nil {
		cp := *s.settings
		out.settings = &cp
	}
	return out
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Store is a mutex-guarded in-memory store.Store.
type Store struct {
	mu sync.Mutex
	st *state
	*view
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	s := &Store{st: newState()}
	s.view = &view{st: s.st, mu: &s.mu}
	return s
}

// WithTx serializes with every other call on the store.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.st.clone()
	if err := fn(&view{st: tx}); err != nil {
		return err
	}
	*s.st = *tx
	return nil
}

// view implements store.Queries over one state. mu is nil inside a transaction, where the
// store lock is already held.
type view struct {
	st *state
	mu *sync.Mutex
}

func (v *view) enter() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.Lock()
	return v.mu.Unlock
}

// Persons

func (v *view) CreatePerson(_ context.Context, p domain.Person) error {
	defer v.enter()()
	if _, ok := v.st.persons[p.ID]; ok {
		return store.ErrDuplicate
	}
	p = p.Clone()
	p.RemoteIDs = nil
	v.st.persons[p.ID] = p
	return nil
}

func (v *view) GetPerson(_ context.Context, id uuid.UUID) (domain.Person, error) {
	defer v.enter()()
	return v.st.person(id)
}

func (s *state) person(id uuid.UUID) (domain.Person, error) {
	p, ok := s.persons[id]
	if !ok {
		return domain.Person{}, store.ErrNotFound
	}
	p = p.Clone()
	for _, l := range s.links {
		if l.EntityKind == domain.EntityPerson && l.EntityID == id {
			if p.RemoteIDs == nil {
				p.RemoteIDs = map[uuid.UUID]string{}
			}
			p.RemoteIDs[l.AccountID] = l.ResourceID
		}
	}
	return p, nil
}

func (v *view) UpdatePerson(_ context.Context, p domain.Person) error {
	defer v.enter()()
	if _, ok := v.st.persons[p.ID]; !ok {
		return store.ErrNotFound
	}
	p = p.Clone()
	p.RemoteIDs = nil
	v.st.persons[p.ID] = p
	return nil
}

func (v *view) DeletePerson(_ context.Context, id uuid.UUID) error {
	defer v.enter()()
	if _, ok := v.st.persons[id]; !ok {
		return store.ErrNotFound
	}
	delete(v.st.persons, id)
	delete(v.st.personTags, id)
	for k, in := range v.st.interactions {
		if in.PersonID == id {
			delete(v.st.interactions, k)
		}
	}
	for k, a := range v.st.affiliations {
		if a.PersonID == id {
			delete(v.st.affiliations, k)
		}
	}
	for k, l := range v.st.links {
		if l.EntityKind == domain.EntityPerson && l.EntityID == id {
			delete(v.st.links, k)
		}
	}
	return nil
}

func (v *view) ListPersons(_ context.Context, f store.PersonFilter) ([]domain.Person, error) {
	defer v.enter()()
	email := strings.ToLower(strings.TrimSpace(f.Email))
	var out []domain.Person
	for id, p := range v.st.persons {
		if f.SyncEnabled != nil && p.SyncEnabled != *f.SyncEnabled {
			continue
		}
		if f.SyncStatus != "" && p.SyncStatus != f.SyncStatus {
			continue
		}
		if email != "" && !hasEmail(p, email) {
			continue
		}
		full, _ := v.st.person(id)
		out = append(out, full)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return limit(out, f.Limit), nil
}

func hasEmail(p domain.Person, email string) bool {
	for _, e := range p.Emails {
		if strings.ToLower(strings.TrimSpace(e.Address)) == email {
			return true
		}
	}
	return false
}

func (v *view) SetPersonSyncStatus(_ context.Context, id uuid.UUID, status domain.SyncStatus, syncedAt *time.Time) error {
	defer v.enter()()
	p, ok := v.st.persons[id]
	if !ok {
		return store.ErrNotFound
	}
	p = p.Clone()
	p.SyncStatus = status
	if syncedAt != nil {
		t := *syncedAt
		p.LastSyncedAt = &t
	}
	v.st.persons[id] = p
	return nil
}

// Associations

func (v *view) EnsureTag(_ context.Context, name string) (domain.Tag, error) {
	defer v.enter()()
	name = strings.TrimSpace(name)
	for _, t := range v.st.tags {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	t := domain.Tag{ID: uuid.New(), Name: name}
	v.st.tags[t.ID] = t
	return t, nil
}

func (v *view) ListPersonTags(_ context.Context, personID uuid.UUID) ([]domain.Tag, error) {
	defer v.enter()()
	var out []domain.Tag
	for _, id := range v.st.personTags[personID] {
		out = append(out, v.st.tags[id])
	}
	return out, nil
}

func (v *view) AttachTag(_ context.Context, personID, tagID uuid.UUID) error {
	defer v.enter()()
	if _, ok := v.st.persons[personID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := v.st.tags[tagID]; !ok {
		return store.ErrNotFound
	}
	for _, id := range v.st.personTags[personID] {
		if id == tagID {
			return nil
		}
	}
	v.st.personTags[personID] = append(v.st.personTags[personID], tagID)
	return nil
}

func (v *view) ListInteractions(_ context.Context, personID uuid.UUID) ([]domain.Interaction, error) {
	defer v.enter()()
	var out []domain.Interaction
	for _, in := range v.st.interactions {
		if in.PersonID == personID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (v *view) AddInteraction(_ context.Context, in domain.Interaction) error {
	defer v.enter()()
	if _, ok := v.st.persons[in.PersonID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := v.st.interactions[in.ID]; ok {
		return store.ErrDuplicate
	}
	v.st.interactions[in.ID] = in
	return nil
}

func (v *view) MoveInteraction(_ context.Context, id, to uuid.UUID) error {
	defer v.enter()()
	in, ok := v.st.interactions[id]
	if !ok {
		return store.ErrNotFound
	}
	in.PersonID = to
	v.st.interactions[id] = in
	return nil
}

func (v *view) ListAffiliations(_ context.Context, personID uuid.UUID) ([]domain.Affiliation, error) {
	defer v.enter()()
	var out []domain.Affiliation
	for _, a := range v.st.affiliations {
		if a.PersonID == personID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Organization < out[j].Organization })
	return out, nil
}

func (v *view) AddAffiliation(_ context.Context, a domain.Affiliation) error {
	defer v.enter()()
	if _, ok := v.st.persons[a.PersonID]; !ok {
		return store.ErrNotFound
	}
	if v.st.affiliationTaken(a.PersonID, a) {
		return store.ErrDuplicate
	}
	v.st.affiliations[a.ID] = a
	return nil
}

func (v *view) MoveAffiliation(_ context.Context, id, to uuid.UUID) error {
	defer v.enter()()
	a, ok := v.st.affiliations[id]
	if !ok {
		return store.ErrNotFound
	}
	if v.st.affiliationTaken(to, a) {
		return store.ErrDuplicate
	}
	a.PersonID = to
	v.st.affiliations[id] = a
	return nil
}

func (s *state) affiliationTaken(personID uuid.UUID, a domain.Affiliation) bool {
	for _, other := range s.affiliations {
		if other.PersonID == personID && other.ID != a.ID && other.SameAs(a) {
			return true
		}
	}
	return false
}

// Links

func cloneLink(l domain.Link) domain.Link {
	l.Baseline = l.Baseline.Clone()
	if l.LastSyncedAt != nil {
		t := *l.LastSyncedAt
		l.LastSyncedAt = &t
	}
	return l
}

func (v *view) GetLinkByResource(_ context.Context, accountID uuid.UUID, resourceID string) (domain.Link, error) {
	defer v.enter()()
	l, ok := v.st.links[linkKey{accountID, resourceID}]
	if !ok {
		return domain.Link{}, store.ErrNotFound
	}
	return cloneLink(l), nil
}

func (v *view) GetLinkByEntity(_ context.Context, accountID uuid.UUID, kind domain.EntityKind, entityID uuid.UUID) (domain.Link, error) {
	defer v.enter()()
	for _, l := range v.st.links {
		if l.AccountID == accountID && l.EntityKind == kind && l.EntityID == entityID {
			return cloneLink(l), nil
		}
	}
	return domain.Link{}, store.ErrNotFound
}

func (v *view) ListLinksByAccount(_ context.Context, accountID uuid.UUID, kind domain.EntityKind) ([]domain.Link, error) {
	defer v.enter()()
	var out []domain.Link
	for _, l := range v.st.links {
		if l.AccountID == accountID && (kind == "" || l.EntityKind == kind) {
			out = append(out, cloneLink(l))
		}
	}
	sortLinks(out)
	return out, nil
}

func (v *view) ListLinksByEntity(_ context.Context, kind domain.EntityKind, entityID uuid.UUID) ([]domain.Link, error) {
	defer v.enter()()
	var out []domain.Link
	for _, l := range v.st.links {
		if l.EntityKind == kind && l.EntityID == entityID {
			out = append(out, cloneLink(l))
		}
	}
	sortLinks(out)
	return out, nil
}

func sortLinks(ls []domain.Link) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].AccountID != ls[j].AccountID {
			return ls[i].AccountID.String() < ls[j].AccountID.String()
		}
		return ls[i].ResourceID < ls[j].ResourceID
	})
}

func (v *view) UpsertLink(_ context.Context, l domain.Link) error {
	defer v.enter()()
	key := linkKey{l.AccountID, l.ResourceID}
	for k, other := range v.st.links {
		if k != key && other.AccountID == l.AccountID && other.EntityKind == l.EntityKind && other.EntityID == l.EntityID {
			return store.ErrDuplicate
		}
	}
	v.st.links[key] = cloneLink(l)
	return nil
}

func (v *view) DeleteLink(_ context.Context, accountID uuid.UUID, resourceID string) error {
	defer v.enter()()
	key := linkKey{accountID, resourceID}
	if _, ok := v.st.links[key]; !ok {
		return store.ErrNotFound
	}
	delete(v.st.links, key)
	return nil
}

// Accounts

func (v *view) CreateAccount(_ context.Context, a domain.LinkedAccount) error {
	defer v.enter()()
	if _, ok := v.st.accounts[a.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range v.st.accounts {
		if other.Provider == a.Provider && strings.EqualFold(other.Identity, a.Identity) {
			return store.ErrDuplicate
		}
	}
	v.st.accounts[a.ID] = a
	return nil
}

func (v *view) GetAccount(_ context.Context, id uuid.UUID) (domain.LinkedAccount, error) {
	defer v.enter()()
	a, ok := v.st.accounts[id]
	if !ok {
		return domain.LinkedAccount{}, store.ErrNotFound
	}
	return a, nil
}

func (v *view) ListAccounts(_ context.Context) ([]domain.LinkedAccount, error) {
	defer v.enter()()
	out := make([]domain.LinkedAccount, 0, len(v.st.accounts))
	for _, a := range v.st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (v *view) UpdateAccount(_ context.Context, a domain.LinkedAccount) error {
	defer v.enter()()
	if _, ok := v.st.accounts[a.ID]; !ok {
		return store.ErrNotFound
	}
	v.st.accounts[a.ID] = a
	return nil
}

func (v *view) FinishAccountRun(_ context.Context, id uuid.UUID, u domain.AccountRunUpdate) error {
	defer v.enter()()
	a, ok := v.st.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.SyncStatus = u.SyncStatus
	a.LastError = u.LastError
	a.FailureCount = u.FailureCount
	if u.LastFullSyncAt != nil {
		a.LastFullSyncAt = u.LastFullSyncAt
	}
	if u.NextSyncAt != nil {
		a.NextSyncAt = u.NextSyncAt
	}
	if u.PausedAt != nil {
		a.PausedAt = u.PausedAt
	}
	if u.CollectionETag != nil {
		a.CollectionETag = *u.CollectionETag
	}
	v.st.accounts[id] = a
	return nil
}

func (v *view) GetAccountToken(_ context.Context, accountID uuid.UUID) (domain.AccountToken, error) {
	defer v.enter()()
	t, ok := v.st.tokens[accountID]
	if !ok {
		return domain.AccountToken{}, store.ErrNotFound
	}
	return t, nil
}

func (v *view) SaveAccountToken(_ context.Context, t domain.AccountToken) error {
	defer v.enter()()
	v.st.tokens[t.AccountID] = t
	return nil
}

// Audit

func (v *view) InsertAudit(_ context.Context, rec domain.AuditRecord) error {
	defer v.enter()()
	rec.Changes = append([]domain.FieldChange(nil), rec.Changes...)
	v.st.audit = append(v.st.audit, rec)
	return nil
}

func (v *view) ListAudit(_ context.Context, f store.AuditFilter) ([]domain.AuditRecord, error) {
	defer v.enter()()
	var out []domain.AuditRecord
	for i := len(v.st.audit) - 1; i >= 0; i-- {
		rec := v.st.audit[i]
		if f.PersonID != nil && (rec.PersonID == nil || *rec.PersonID != *f.PersonID) {
			continue
		}
		if f.AccountID != nil && (rec.AccountID == nil || *rec.AccountID != *f.AccountID) {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.RunID != "" && rec.RunID != f.RunID {
			continue
		}
		if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !rec.CreatedAt.Before(*f.Until) {
			continue
		}
		out = append(out, rec)
	}
	return limit(out, f.Limit), nil
}

// Archives

func (v *view) InsertArchive(_ context.Context, a domain.ArchivedPerson) error {
	defer v.enter()()
	if _, ok := v.st.archives[a.ID]; ok {
		return store.ErrDuplicate
	}
	v.st.archives[a.ID] = a
	return nil
}

func (v *view) GetArchive(_ context.Context, id uuid.UUID) (domain.ArchivedPerson, error) {
	defer v.enter()()
	a, ok := v.st.archives[id]
	if !ok {
		return domain.ArchivedPerson{}, store.ErrNotFound
	}
	return a, nil
}

func (v *view) ListArchives(_ context.Context, f store.ArchiveFilter) ([]domain.ArchivedPerson, error) {
	defer v.enter()()
	var out []domain.ArchivedPerson
	for _, a := range v.st.archives {
		if !f.IncludeRestored && a.Restored() {
			continue
		}
		if f.DeletedFrom != "" && a.DeletedFrom != f.DeletedFrom {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limit(out, f.Limit), nil
}

func (v *view) MarkArchiveRestored(_ context.Context, id uuid.UUID, at time.Time, personID uuid.UUID) (bool, error) {
	defer v.enter()()
	a, ok := v.st.archives[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.Restored() {
		return false, nil
	}
	a.RestoredAt = &at
	a.RestoredPersonID = &personID
	v.st.archives[id] = a
	return true, nil
}

func (v *view) PurgeArchives(_ context.Context, now time.Time) (int, error) {
	defer v.enter()()
	n := 0
	for id, a := range v.st.archives {
		if !a.Restored() && !a.ExpiresAt.After(now) {
			delete(v.st.archives, id)
			n++
		}
	}
	return n, nil
}

// Remote deletion outbox

func (v *view) EnqueueRemoteDeletion(_ context.Context, d domain.RemoteDeletion) error {
	defer v.enter()()
	key := linkKey{d.AccountID, d.ResourceID}
	if _, ok := v.st.deletions[key]; !ok {
		v.st.deletions[key] = d
	}
	return nil
}

func (v *view) ListRemoteDeletions(_ context.Context, accountID uuid.UUID) ([]domain.RemoteDeletion, error) {
	defer v.enter()()
	var out []domain.RemoteDeletion
	for _, d := range v.st.deletions {
		if d.AccountID == accountID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) DeleteRemoteDeletion(_ context.Context, accountID uuid.UUID, resourceID string) (bool, error) {
	defer v.enter()()
	key := linkKey{accountID, resourceID}
	if _, ok := v.st.deletions[key]; !ok {
		return false, nil
	}
	delete(v.st.deletions, key)
	return true, nil
}

// Reviews

func cloneReview(r domain.ReviewItem) domain.ReviewItem {
	r.RemoteData = r.RemoteData.Clone()
	r.LocalData = r.LocalData.Clone()
	r.ConflictFields = append([]string(nil), r.ConflictFields...)
	if r.Resolution != nil {
		res := *r.Resolution
		res.Fields = res.Fields.Clone()
		r.Resolution = &res
	}
	return r
}

func (v *view) InsertReview(_ context.Context, item domain.ReviewItem) error {
	defer v.enter()()
	if _, ok := v.st.reviews[item.ID]; ok {
		return store.ErrDuplicate
	}
	v.st.reviews[item.ID] = cloneReview(item)
	return nil
}

func (v *view) GetReview(_ context.Context, id uuid.UUID) (domain.ReviewItem, error) {
	defer v.enter()()
	r, ok := v.st.reviews[id]
	if !ok {
		return domain.ReviewItem{}, store.ErrNotFound
	}
	return cloneReview(r), nil
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (v *view) FindPendingReview(_ context.Context, key store.ReviewKey) (domain.ReviewItem, error) {
	defer v.enter()()
	for _, r := range v.st.reviews {
		if r.Status != domain.ReviewPending || r.ReviewType != key.ReviewType {
			continue
		}
		if !sameID(r.AccountID, key.AccountID) || !sameID(r.PersonID, key.PersonID) || !sameID(r.OtherPersonID, key.OtherPersonID) {
			continue
		}
		if (key.PersonID == nil || key.ReviewType == domain.ReviewDuplicateSuspect) && r.ResourceID != key.ResourceID {
			continue
		}
		return cloneReview(r), nil
	}
	return domain.ReviewItem{}, store.ErrNotFound
}

func (v *view) ListReviews(_ context.Context, f store.ReviewFilter) ([]domain.ReviewItem, error) {
	defer v.enter()()
	var out []domain.ReviewItem
	for _, r := range v.st.reviews {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.ReviewType != "" && r.ReviewType != f.ReviewType {
			continue
		}
		if f.PersonID != nil && !sameID(r.PersonID, f.PersonID) {
			continue
		}
		if f.AccountID != nil && !sameID(r.AccountID, f.AccountID) {
			continue
		}
		if f.ResourceID != "" && r.ResourceID != f.ResourceID {
			continue
		}
		out = append(out, cloneReview(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limit(out, f.Limit), nil
}

func (v *view) UpdateReviewSnapshots(_ context.Context, item domain.ReviewItem) error {
	defer v.enter()()
	r, ok := v.st.reviews[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	r.RemoteData = item.RemoteData.Clone()
	r.LocalData = item.LocalData.Clone()
	r.RemoteETag = item.RemoteETag
	r.ResourceID = item.ResourceID
	r.OtherPersonID = item.OtherPersonID
	r.ConflictFields = append([]string(nil), item.ConflictFields...)
	r.UpdatedAt = item.UpdatedAt
	v.st.reviews[item.ID] = r
	return nil
}

func (v *view) TransitionReview(_ context.Context, id uuid.UUID, status domain.ReviewStatus, res *domain.Resolution, at time.Time) (bool, error) {
	defer v.enter()()
	r, ok := v.st.reviews[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Status != domain.ReviewPending {
		return false, nil
	}
	r.Status = status
	if res != nil {
		cp := *res
		cp.Fields = res.Fields.Clone()
		r.Resolution = &cp
	}
	r.ResolvedAt = &at
	r.UpdatedAt = at
	v.st.reviews[id] = r
	return true, nil
}

// Settings

func (v *view) GetSettings(_ context.Context) (domain.SyncSettings, error) {
	defer v.enter()()
	if v.st.settings == nil {
		return domain.SyncSettings{}, store.ErrNotFound
	}
	return *v.st.settings, nil
}

func (v *view) UpsertSettings(_ context.Context, s domain.SyncSettings) error {
	defer v.enter()()
	v.st.settings = &s
	return nil
}

// Exclusions

func (v *view) AddExclusion(_ context.Context, e domain.DuplicateExclusion) error {
	defer v.enter()()
	key := e.Key()
	if _, ok := v.st.exclusions[key]; ok {
		return nil
	}
	ordered := domain.NewExclusion(e.PersonA, e.PersonB)
	ordered.CreatedAt = e.CreatedAt
	v.st.exclusions[key] = ordered
	return nil
}

func (v *view) RemoveExclusion(_ context.Context, a, b uuid.UUID) error {
	defer v.enter()()
	delete(v.st.exclusions, domain.NewExclusion(a, b).Key())
	return nil
}

func (v *view) ListExclusions(_ context.Context) ([]domain.DuplicateExclusion, error) {
	defer v.enter()()
	out := make([]domain.DuplicateExclusion, 0, len(v.st.exclusions))
	for _, e := range v.st.exclusions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func limit[T any](in []T, n int) []T {
	if n > 0 && len(in) > n {
		return in[:n]
	}
	return in
}
