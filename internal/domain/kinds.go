package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Category names an open enumeration (sync statuses, review types, providers...).
type Category string

const (
	CategorySyncStatus   Category = "sync_status"
	CategoryDirection    Category = "direction"
	CategoryAction       Category = "action"
	CategoryAuditStatus  Category = "audit_status"
	CategoryReviewType   Category = "review_type"
	CategoryReviewStatus Category = "review_status"
	CategoryDeletedFrom  Category = "deleted_from"
	CategoryProvider     Category = "provider"
	CategoryResolution   Category = "resolution"
)

// ErrUnknownKind is returned when a value is not registered for its category.
var ErrUnknownKind = errors.New("unknown kind")

// KindRegistry records the accepted values of every open enumeration. New review types or
// providers are added with Register; values are stored lower-cased.
type KindRegistry struct {
	mu     sync.RWMutex
	values map[Category]map[string]struct{}
}

// NewKindRegistry creates an empty registry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{values: map[Category]map[string]struct{}{}}
}

// Register adds values to a category. Re-registering a value is a no-op.
func (r *KindRegistry) Register(category Category, values ...string) error {
	if strings.TrimSpace(string(category)) == "" {
		return errors.New("kind category is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.values[category]
	if !ok {
		set = map[string]struct{}{}
		r.values[category] = set
	}
	for _, v := range values {
		v = normalizeKind(v)
		if v == "" {
			return fmt.Errorf("empty value for kind %s", category)
		}
		set[v] = struct{}{}
	}
	return nil
}

// MustRegister calls Register and panics on error.
func (r *KindRegistry) MustRegister(category Category, values ...string) {
	if err := r.Register(category, values...); err != nil {
		panic(err)
	}
}

// Known reports whether value is registered for category.
func (r *KindRegistry) Known(category Category, value string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.values[category][normalizeKind(value)]
	return ok
}

// Validate returns ErrUnknownKind (wrapped with the offending value) when value is not registered.
func (r *KindRegistry) Validate(category Category, value string) error {
	if !r.Known(category, value) {
		return fmt.Errorf("%w: %s %q", ErrUnknownKind, category, value)
	}
	return nil
}

// Values lists the registered values of a category in sorted order.
func (r *KindRegistry) Values(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.values[category]))
	for v := range r.values[category] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func normalizeKind(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Kinds is the process registry seeded with the built-in values below.
var Kinds = seedKinds(NewKindRegistry())

func seedKinds(r *KindRegistry) *KindRegistry {
	r.MustRegister(CategorySyncStatus,
		string(SyncPending), string(SyncSynced), string(SyncConflict), string(SyncError))
	r.MustRegister(CategoryDirection,
		string(DirectionRemoteToLocal), string(DirectionLocalToRemote), string(DirectionBidirectional))
	r.MustRegister(CategoryAction,
		string(ActionCreate), string(ActionUpdate), string(ActionDelete), string(ActionArchive),
		string(ActionRestore), string(ActionMerge), string(ActionSync))
	r.MustRegister(CategoryAuditStatus,
		string(AuditSuccess), string(AuditFailed), string(AuditPendingReview))
	r.MustRegister(CategoryReviewType,
		string(ReviewNameConflict), string(ReviewDataConflict), string(ReviewDuplicateSuspect))
	r.MustRegister(CategoryReviewStatus,
		string(ReviewPending), string(ReviewResolved), string(ReviewDismissed))
	r.MustRegister(CategoryDeletedFrom,
		string(DeletedFromLocal), string(DeletedFromRemote), string(DeletedFromMerge))
	r.MustRegister(CategoryProvider, string(ProviderGoogle))
	r.MustRegister(CategoryResolution,
		string(ResolveApply), string(ResolveLink), string(ResolveCreate), string(ResolveMerge))
	return r
}

// SyncStatus is the per-person and per-account sync state.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// Direction of a sync decision or run.
type Direction string

const (
	DirectionRemoteToLocal Direction = "remote_to_local"
	DirectionLocalToRemote Direction = "local_to_remote"
	// DirectionBidirectional is only valid for runs; audit records always carry one of the two above.
	DirectionBidirectional Direction = "bidirectional"
)

// Pulls reports whether the run direction applies remote changes locally.
func (d Direction) Pulls() bool {
	return d == DirectionRemoteToLocal || d == DirectionBidirectional
}

// Pushes reports whether the run direction writes local changes to the remote.
func (d Direction) Pushes() bool {
	return d == DirectionLocalToRemote || d == DirectionBidirectional
}

// Action recorded on an audit record.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionArchive Action = "archive"
	ActionRestore Action = "restore"
	ActionMerge   Action = "merge"
	// ActionSync marks run-level records (whole-run failure, cancellation).
	ActionSync Action = "sync"
)

// AuditStatus is the outcome of one audited decision.
type AuditStatus string

const (
	AuditSuccess       AuditStatus = "success"
	AuditFailed        AuditStatus = "failed"
	AuditPendingReview AuditStatus = "pending_review"
)

// ReviewType classifies a review item.
type ReviewType string

const (
	ReviewNameConflict     ReviewType = "name_conflict"
	ReviewDataConflict     ReviewType = "data_conflict"
	ReviewDuplicateSuspect ReviewType = "duplicate_suspect"
)

// ReviewStatus is the review item lifecycle state.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewDismissed ReviewStatus = "dismissed"
)

// DeletedFrom records which side triggered an archive.
type DeletedFrom string

const (
	DeletedFromLocal  DeletedFrom = "local"
	DeletedFromRemote DeletedFrom = "remote"
	DeletedFromMerge  DeletedFrom = "merge"
)

// Provider names the external directory behind a linked account.
type Provider string

const ProviderGoogle Provider = "google"

// ResolutionAction is the decision recorded when a review item is resolved.
type ResolutionAction string

const (
	// ResolveApply writes the chosen field values to the local person and the remote record.
	ResolveApply ResolutionAction = "apply"
	// ResolveLink attaches the remote record to the suspected local duplicate.
	ResolveLink ResolutionAction = "link"
	// ResolveCreate creates a new local person from the remote snapshot.
	ResolveCreate ResolutionAction = "create"
	// ResolveMerge merges two local persons.
	ResolveMerge ResolutionAction = "merge"
)
