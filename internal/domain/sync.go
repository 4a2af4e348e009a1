package domain

import (
	"bytes"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityKind says what a link points at.
type EntityKind string

const (
	EntityPerson EntityKind = "person"
	EntityTag    EntityKind = "tag"
)

// Link maps a local entity to a remote resource of one linked account.
// (AccountID, ResourceID) and (AccountID, EntityKind, EntityID) are both unique.
type Link struct {
	AccountID  uuid.UUID  `json:"account_id"`
	ResourceID string     `json:"resource_id"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ETag       string     `json:"etag"`
	// Baseline holds the field values both sides agreed on at the last successful sync.
	Baseline     FieldSet   `json:"baseline"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// LinkedAccount is one authorized connection to an external directory.
type LinkedAccount struct {
	ID             uuid.UUID  `json:"id"`
	Provider       Provider   `json:"provider"`
	Identity       string     `json:"identity"`
	SyncEnabled    bool       `json:"sync_enabled"`
	PullEnabled    bool       `json:"pull_enabled"`
	PushEnabled    bool       `json:"push_enabled"`
	SyncStatus     SyncStatus `json:"sync_status"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	FailureCount   int        `json:"failure_count"`
	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty"`
	NextSyncAt     *time.Time `json:"next_sync_at,omitempty"`
	// Timezone overrides the settings timezone when set.
	Timezone       string    `json:"timezone,omitempty"`
	CollectionETag string    `json:"collection_etag,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Paused reports whether scheduled runs must skip the account.
func (a LinkedAccount) Paused() bool { return a.PausedAt != nil }

// EffectiveDirection narrows a requested run direction by the account's per-direction flags.
// ok is false when nothing is left to do.
func (a LinkedAccount) EffectiveDirection(requested Direction) (Direction, bool) {
	pull := requested.Pulls() && a.PullEnabled
	push := requested.Pushes() && a.PushEnabled
	switch {
	case pull && push:
		return DirectionBidirectional, true
	case pull:
		return DirectionRemoteToLocal, true
	case push:
		return DirectionLocalToRemote, true
	}
	return "", false
}

// AccountRunUpdate is the single write applied to an account at the end of a run.
// Nil pointers leave the column untouched.
type AccountRunUpdate struct {
	SyncStatus     SyncStatus
	LastError      string
	FailureCount   int
	LastFullSyncAt *time.Time
	NextSyncAt     *time.Time
	PausedAt       *time.Time
	CollectionETag *string
}

// AccountToken is the persisted OAuth credential of a linked account.
type AccountToken struct {
	AccountID    uuid.UUID `json:"account_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

// AuditRecord is one immutable sync decision. PersonID and AccountID are weak references;
// PersonName keeps the display value after the person is gone.
type AuditRecord struct {
	ID         string        `json:"id"`
	PersonID   *uuid.UUID    `json:"person_id,omitempty"`
	AccountID  *uuid.UUID    `json:"account_id,omitempty"`
	PersonName string        `json:"person_name,omitempty"`
	RunID      string        `json:"run_id,omitempty"`
	Direction  Direction     `json:"direction"`
	Action     Action        `json:"action"`
	Status     AuditStatus   `json:"status"`
	Changes    []FieldChange `json:"changes,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ArchiveSnapshot is the full state of a person at deletion time.
type ArchiveSnapshot struct {
	Person       Person        `json:"person"`
	Tags         []Tag         `json:"tags"`
	Interactions []Interaction `json:"interactions"`
	Affiliations []Affiliation `json:"affiliations"`
}

// ArchivedPerson is a recoverable soft-delete record.
type ArchivedPerson struct {
	ID               uuid.UUID            `json:"id"`
	PersonID         uuid.UUID            `json:"person_id"`
	PersonName       string               `json:"person_name"`
	Snapshot         ArchiveSnapshot      `json:"snapshot"`
	DeletedFrom      DeletedFrom          `json:"deleted_from"`
	RemoteIDs        map[uuid.UUID]string `json:"remote_ids,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	ExpiresAt        time.Time            `json:"expires_at"`
	RestoredAt       *time.Time           `json:"restored_at,omitempty"`
	RestoredPersonID *uuid.UUID           `json:"restored_person_id,omitempty"`
}

// Restored reports whether the archive has been consumed.
func (a ArchivedPerson) Restored() bool { return a.RestoredAt != nil }

// RemoteDeletion is a queued DeleteContact call produced by a local deletion.
type RemoteDeletion struct {
	AccountID  uuid.UUID `json:"account_id"`
	ResourceID string    `json:"resource_id"`
	PersonID   uuid.UUID `json:"person_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Resolution is the human decision recorded on a resolved review item.
type Resolution struct {
	Action ResolutionAction `json:"action"`
	// Fields are the chosen values for ResolveApply; missing conflict fields default to the remote value.
	Fields FieldSet `json:"fields,omitempty"`
	// KeepID selects the surviving person for ResolveMerge.
	KeepID *uuid.UUID `json:"keep_id,omitempty"`
}

// ReviewItem is a conflict awaiting human resolution. The snapshots are values, never references.
type ReviewItem struct {
	ID             uuid.UUID    `json:"id"`
	PersonID       *uuid.UUID   `json:"person_id,omitempty"`
	OtherPersonID  *uuid.UUID   `json:"other_person_id,omitempty"`
	AccountID      *uuid.UUID   `json:"account_id,omitempty"`
	ResourceID     string       `json:"resource_id,omitempty"`
	ReviewType     ReviewType   `json:"review_type"`
	RemoteData     FieldSet     `json:"remote_data"`
	LocalData      FieldSet     `json:"local_data"`
	RemoteETag     string       `json:"remote_etag,omitempty"`
	ConflictFields []string     `json:"conflict_fields,omitempty"`
	Status         ReviewStatus `json:"status"`
	Resolution     *Resolution  `json:"resolution,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
}

// SyncSettings is the singleton scheduling configuration.
type SyncSettings struct {
	AutoSync      bool      `json:"auto_sync"`
	MorningTime   string    `json:"morning_time"`
	EveningTime   string    `json:"evening_time"`
	Timezone      string    `json:"timezone"`
	RetentionDays int       `json:"retention_days"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DuplicateExclusion is an unordered pair stored with PersonA < PersonB.
type DuplicateExclusion struct {
	PersonA   uuid.UUID `json:"person_a"`
	PersonB   uuid.UUID `json:"person_b"`
	CreatedAt time.Time `json:"created_at"`
}

// NewExclusion orders the pair so both argument orders map to the same record.
func NewExclusion(a, b uuid.UUID) DuplicateExclusion {
	if bytes.Compare(b[:], a[:]) < 0 {
		a, b = b, a
	}
	return DuplicateExclusion{PersonA: a, PersonB: b}
}

// Key identifies the unordered pair.
func (e DuplicateExclusion) Key() string {
	x := NewExclusion(e.PersonA, e.PersonB)
	return x.PersonA.String() + ":" + x.PersonB.String()
}

// RemoteEmail is one address on a remote record.
type RemoteEmail struct {
	Address string `json:"value"`
	Label   string `json:"type,omitempty"`
}

// RemoteRecord is the remote directory's current representation of a contact.
type RemoteRecord struct {
	ResourceID   string        `json:"resourceId"`
	ETag         string        `json:"etag,omitempty"`
	Deleted      bool          `json:"deleted,omitempty"`
	FirstName    string        `json:"givenName,omitempty"`
	MiddleName   string        `json:"middleName,omitempty"`
	LastName     string        `json:"familyName,omitempty"`
	Nickname     string        `json:"nickname,omitempty"`
	Emails       []RemoteEmail `json:"emails,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Title        string        `json:"title,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	LinkedInURL  string        `json:"linkedinUrl,omitempty"`
	SocialHandle string        `json:"socialHandle,omitempty"`
	PhotoURL     string        `json:"photoUrl,omitempty"`
	Groups       []string      `json:"groups,omitempty"`
	// Malformed carries the decode or validation error of a record the client could not parse.
	Malformed string `json:"-"`
}

// Field returns the raw value of a synced field.
func (r RemoteRecord) Field(name string) string {
	switch name {
	case FieldFirstName:
		return r.FirstName
	case FieldMiddleName:
		return r.MiddleName
	case FieldLastName:
		return r.LastName
	case FieldNickname:
		return r.Nickname
	case FieldTitle:
		return r.Title
	case FieldPhone:
		return r.Phone
	case FieldLinkedInURL:
		return r.LinkedInURL
	case FieldSocialHandle:
		return r.SocialHandle
	case FieldNotes:
		return r.Notes
	case FieldImageURL:
		return r.PhotoURL
	case FieldEmails:
		addrs := make([]string, 0, len(r.Emails))
		for _, e := range r.Emails {
			addrs = append(addrs, e.Address)
		}
		return strings.Join(addrs, ",")
	}
	return ""
}

// Fields captures every synced field of the record.
func (r RemoteRecord) Fields() FieldSet {
	fs := make(FieldSet, len(SyncedFields))
	for _, name := range SyncedFields {
		fs[name] = r.Field(name)
	}
	return fs
}

// RemoteFromPerson builds the outbound representation of a person.
func RemoteFromPerson(p Person, resourceID, etag string, groups []string) RemoteRecord {
	rec := RemoteRecord{
		ResourceID:   resourceID,
		ETag:         etag,
		FirstName:    p.FirstName,
		MiddleName:   p.MiddleName,
		LastName:     p.LastName,
		Nickname:     p.Nickname,
		Phone:        p.Phone,
		Title:        p.Title,
		Notes:        p.Notes,
		LinkedInURL:  p.LinkedInURL,
		SocialHandle: p.SocialHandle,
		PhotoURL:     p.ImageURL,
		Groups:       groups,
	}
	for _, e := range p.Emails {
		rec.Emails = append(rec.Emails, RemoteEmail{Address: e.Address, Label: e.Label})
	}
	return rec
}

// PersonFromRemote builds a new local person from a remote record.
func PersonFromRemote(r RemoteRecord, now time.Time) Person {
	p := Person{
		ID:           uuid.New(),
		FirstName:    r.FirstName,
		MiddleName:   r.MiddleName,
		LastName:     r.LastName,
		Nickname:     r.Nickname,
		Title:        r.Title,
		Phone:        r.Phone,
		LinkedInURL:  r.LinkedInURL,
		SocialHandle: r.SocialHandle,
		Notes:        r.Notes,
		ImageURL:     r.PhotoURL,
		SyncEnabled:  true,
		SyncStatus:   SyncPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, e := range r.Emails {
		label := e.Label
		if label == "" {
			label = "other"
		}
		p.Emails = append(p.Emails, Email{ID: uuid.New(), Address: strings.TrimSpace(e.Address), Label: label})
	}
	p.EnsurePrimary()
	return p
}

// RemoteGroup is a contact group in the remote directory; it maps onto a local tag.
type RemoteGroup struct {
	ResourceID string `json:"resourceId"`
	Name       string `json:"name"`
}

// RemoteFromFields rebuilds a remote record from a stored field snapshot.
func RemoteFromFields(fs FieldSet, resourceID, etag string) RemoteRecord {
	var p Person
	p.Apply(fs)
	return RemoteFromPerson(p, resourceID, etag, nil)
}

// SetField writes a synced field. Emails are replaced by the comma separated addresses, unlabeled.
func (r *RemoteRecord) SetField(name, v string) {
	switch name {
	case FieldFirstName:
		r.FirstName = v
	case FieldMiddleName:
		r.MiddleName = v
	case FieldLastName:
		r.LastName = v
	case FieldNickname:
		r.Nickname = v
	case FieldTitle:
		r.Title = v
	case FieldPhone:
		r.Phone = v
	case FieldLinkedInURL:
		r.LinkedInURL = v
	case FieldSocialHandle:
		r.SocialHandle = v
	case FieldNotes:
		r.Notes = v
	case FieldImageURL:
		r.PhotoURL = v
	case FieldEmails:
		r.Emails = nil
		for _, a := range SplitList(v) {
			r.Emails = append(r.Emails, RemoteEmail{Address: a})
		}
	}
}
