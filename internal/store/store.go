// Package store defines the persistence contract of the sync engine. The postgres package is
// the production implementation; memory backs tests and single-process tooling.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/domain"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write would violate a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate key")
)

// PersonFilter narrows ListPersons. Zero values match everything.
type PersonFilter struct {
	SyncEnabled *bool
	SyncStatus  domain.SyncStatus
	Email       string
	Limit       int
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	PersonID  *uuid.UUID
	AccountID *uuid.UUID
	Status    domain.AuditStatus
	RunID     string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// ArchiveFilter narrows ListArchives.
type ArchiveFilter struct {
	IncludeRestored bool
	DeletedFrom     domain.DeletedFrom
	Limit           int
}

// ReviewFilter narrows ListReviews.
type ReviewFilter struct {
	Status     domain.ReviewStatus
	ReviewType domain.ReviewType
	PersonID   *uuid.UUID
	AccountID  *uuid.UUID
	ResourceID string
	Limit      int
}

// ReviewKey identifies the pending review item Enqueue deduplicates against. Items match on
// person, other person, account and type; the resource also has to match when there is no
// person or the item is a duplicate suspect.
type ReviewKey struct {
	PersonID      *uuid.UUID
	OtherPersonID *uuid.UUID
	AccountID     *uuid.UUID
	ResourceID    string
	ReviewType    domain.ReviewType
}

// Queries is every read and write the engine performs. Implementations run each call
// atomically; multi-step operations go through Store.WithTx.
type Queries interface {
	CreatePerson(ctx context.Context, p domain.Person) error
	GetPerson(ctx context.Context, id uuid.UUID) (domain.Person, error)
	UpdatePerson(ctx context.Context, p domain.Person) error
	DeletePerson(ctx context.Context, id uuid.UUID) error
	ListPersons(ctx context.Context, filter PersonFilter) ([]domain.Person, error)
	SetPersonSyncStatus(ctx context.Context, id uuid.UUID, status domain.SyncStatus, syncedAt *time.Time) error

	EnsureTag(ctx context.Context, name string) (domain.Tag, error)
	ListPersonTags(ctx context.Context, personID uuid.UUID) ([]domain.Tag, error)
	// AttachTag is a no-op when the tag is already attached.
	AttachTag(ctx context.Context, personID, tagID uuid.UUID) error
	ListInteractions(ctx context.Context, personID uuid.UUID) ([]domain.Interaction, error)
	AddInteraction(ctx context.Context, in domain.Interaction) error
	MoveInteraction(ctx context.Context, id, toPersonID uuid.UUID) error
	ListAffiliations(ctx context.Context, personID uuid.UUID) ([]domain.Affiliation, error)
	AddAffiliation(ctx context.Context, a domain.Affiliation) error
	MoveAffiliation(ctx context.Context, id, toPersonID uuid.UUID) error

	GetLinkByResource(ctx context.Context, accountID uuid.UUID, resourceID string) (domain.Link, error)
	GetLinkByEntity(ctx context.Context, accountID uuid.UUID, kind domain.EntityKind, entityID uuid.UUID) (domain.Link, error)
	ListLinksByAccount(ctx context.Context, accountID uuid.UUID, kind domain.EntityKind) ([]domain.Link, error)
	ListLinksByEntity(ctx context.Context, kind domain.EntityKind, entityID uuid.UUID) ([]domain.Link, error)
	UpsertLink(ctx context.Context, l domain.Link) error
	DeleteLink(ctx context.Context, accountID uuid.UUID, resourceID string) error

	CreateAccount(ctx context.Context, a domain.LinkedAccount) error
	GetAccount(ctx context.Context, id uuid.UUID) (domain.LinkedAccount, error)
	ListAccounts(ctx context.Context) ([]domain.LinkedAccount, error)
	UpdateAccount(ctx context.Context, a domain.LinkedAccount) error
	FinishAccountRun(ctx context.Context, id uuid.UUID, u domain.AccountRunUpdate) error
	GetAccountToken(ctx context.Context, accountID uuid.UUID) (domain.AccountToken, error)
	SaveAccountToken(ctx context.Context, t domain.AccountToken) error

	InsertAudit(ctx context.Context, rec domain.AuditRecord) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]domain.AuditRecord, error)

	InsertArchive(ctx context.Context, a domain.ArchivedPerson) error
	GetArchive(ctx context.Context, id uuid.UUID) (domain.ArchivedPerson, error)
	ListArchives(ctx context.Context, filter ArchiveFilter) ([]domain.ArchivedPerson, error)
	// MarkArchiveRestored sets the restore fields only if they are unset; ok is false otherwise.
	MarkArchiveRestored(ctx context.Context, id uuid.UUID, at time.Time, personID uuid.UUID) (ok bool, err error)
	PurgeArchives(ctx context.Context, now time.Time) (int, error)

	EnqueueRemoteDeletion(ctx context.Context, d domain.RemoteDeletion) error
	ListRemoteDeletions(ctx context.Context, accountID uuid.UUID) ([]domain.RemoteDeletion, error)
	// DeleteRemoteDeletion removes a queued deletion; ok is false if none was queued.
	DeleteRemoteDeletion(ctx context.Context, accountID uuid.UUID, resourceID string) (ok bool, err error)

	InsertReview(ctx context.Context, item domain.ReviewItem) error
	GetReview(ctx context.Context, id uuid.UUID) (domain.ReviewItem, error)
	FindPendingReview(ctx context.Context, key ReviewKey) (domain.ReviewItem, error)
	ListReviews(ctx context.Context, filter ReviewFilter) ([]domain.ReviewItem, error)
	UpdateReviewSnapshots(ctx context.Context, item domain.ReviewItem) error
	// TransitionReview moves a pending item to a terminal status; ok is false if it was not pending.
	TransitionReview(ctx context.Context, id uuid.UUID, status domain.ReviewStatus, res *domain.Resolution, at time.Time) (ok bool, err error)

	GetSettings(ctx context.Context) (domain.SyncSettings, error)
	UpsertSettings(ctx context.Context, s domain.SyncSettings) error

	AddExclusion(ctx context.Context, e domain.DuplicateExclusion) error
	RemoveExclusion(ctx context.Context, a, b uuid.UUID) error
	ListExclusions(ctx context.Context) ([]domain.DuplicateExclusion, error)
}

// Store is Queries plus transactions. fn receives a Queries bound to the transaction; it is
// committed when fn returns nil and rolled back otherwise.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
