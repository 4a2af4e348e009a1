// Package domain holds the records shared by the sync engine, its stores and its HTTP surface.
package domain

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Synced field names. Every field listed here must have an entry in the change detector's policy table.
const (
	FieldFirstName    = "first_name"
	FieldMiddleName   = "middle_name"
	FieldLastName     = "last_name"
	FieldNickname     = "nickname"
	FieldTitle        = "title"
	FieldPhone        = "phone"
	FieldLinkedInURL  = "linkedin_url"
	FieldSocialHandle = "social_handle"
	FieldNotes        = "notes"
	FieldImageURL     = "image_url"
	FieldEmails       = "emails"
)

// SyncedFields lists the person fields exchanged with remote directories, in display order.
var SyncedFields = []string{
	FieldFirstName, FieldMiddleName, FieldLastName, FieldNickname, FieldTitle, FieldPhone,
	FieldLinkedInURL, FieldSocialHandle, FieldNotes, FieldImageURL, FieldEmails,
}

// ErrPrimaryEmail is returned when a person has emails but not exactly one primary.
var ErrPrimaryEmail = errors.New("person must have exactly one primary email")

// Email is one contact address of a person.
type Email struct {
	ID        uuid.UUID `json:"id"`
	Address   string    `json:"address"`
	Label     string    `json:"label"`
	IsPrimary bool      `json:"is_primary"`
}

// Person is a local contact.
type Person struct {
	ID           uuid.UUID  `json:"id"`
	FirstName    string     `json:"first_name"`
	MiddleName   string     `json:"middle_name"`
	LastName     string     `json:"last_name"`
	Nickname     string     `json:"nickname"`
	Title        string     `json:"title"`
	Phone        string     `json:"phone"`
	LinkedInURL  string     `json:"linkedin_url"`
	SocialHandle string     `json:"social_handle"`
	Notes        string     `json:"notes"`
	ImageURL     string     `json:"image_url"`
	Emails       []Email    `json:"emails"`
	SyncEnabled  bool       `json:"sync_enabled"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	// RemoteIDs maps account id to remote resource id. It is derived from the link registry on read.
	RemoteIDs map[uuid.UUID]string `json:"remote_ids,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// DisplayName joins the name parts, falling back to nickname and then primary email.
func (p Person) DisplayName() string {
	name := strings.Join(strings.Fields(strings.Join([]string{p.FirstName, p.MiddleName, p.LastName}, " ")), " ")
	if name != "" {
		return name
	}
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.PrimaryEmail()
}

// PrimaryEmail returns the primary address or "".
func (p Person) PrimaryEmail() string {
	for _, e := range p.Emails {
		if e.IsPrimary {
			return e.Address
		}
	}
	return ""
}

// EverSynced reports whether the person must be archived instead of hard deleted.
func (p Person) EverSynced() bool {
	return (p.SyncStatus != "" && p.SyncStatus != SyncPending) || len(p.RemoteIDs) > 0
}

// Validate checks the primary email invariant and the sync status kind.
func (p Person) Validate() error {
	if len(p.Emails) > 0 {
		primaries := 0
		for _, e := range p.Emails {
			if e.IsPrimary {
				primaries++
			}
		}
		if primaries != 1 {
			return ErrPrimaryEmail
		}
	}
	if p.SyncStatus != "" {
		if err := Kinds.Validate(CategorySyncStatus, string(p.SyncStatus)); err != nil {
			return err
		}
	}
	return nil
}

// EnsurePrimary marks the first email primary when none is, and demotes extra primaries.
func (p *Person) EnsurePrimary() {
	seen := false
	for i := range p.Emails {
		if p.Emails[i].IsPrimary {
			if seen {
				p.Emails[i].IsPrimary = false
			}
			seen = true
		}
	}
	if !seen && len(p.Emails) > 0 {
		p.Emails[0].IsPrimary = true
	}
}

// Field returns the raw value of a synced field. Emails are joined with ",".
func (p Person) Field(name string) string {
	switch name {
	case FieldFirstName:
		return p.FirstName
	case FieldMiddleName:
		return p.MiddleName
	case FieldLastName:
		return p.LastName
	case FieldNickname:
		return p.Nickname
	case FieldTitle:
		return p.Title
	case FieldPhone:
		return p.Phone
	case FieldLinkedInURL:
		return p.LinkedInURL
	case FieldSocialHandle:
		return p.SocialHandle
	case FieldNotes:
		return p.Notes
	case FieldImageURL:
		return p.ImageURL
	case FieldEmails:
		addrs := make([]string, 0, len(p.Emails))
		for _, e := range p.Emails {
			addrs = append(addrs, e.Address)
		}
		return strings.Join(addrs, ",")
	}
	return ""
}

// SetField writes a synced field. Setting emails keeps labels and ids of addresses that survive,
// adds new ones with label "other" and preserves the primary flag where possible.
func (p *Person) SetField(name, value string) {
	switch name {
	case FieldFirstName:
		p.FirstName = value
	case FieldMiddleName:
		p.MiddleName = value
	case FieldLastName:
		p.LastName = value
	case FieldNickname:
		p.Nickname = value
	case FieldTitle:
		p.Title = value
	case FieldPhone:
		p.Phone = value
	case FieldLinkedInURL:
		p.LinkedInURL = value
	case FieldSocialHandle:
		p.SocialHandle = value
	case FieldNotes:
		p.Notes = value
	case FieldImageURL:
		p.ImageURL = value
	case FieldEmails:
		p.setEmails(SplitList(value))
	}
}

func (p *Person) setEmails(addrs []string) {
	existing := make(map[string]Email, len(p.Emails))
	for _, e := range p.Emails {
		existing[strings.ToLower(e.Address)] = e
	}
	out := make([]Email, 0, len(addrs))
	for _, a := range addrs {
		if e, ok := existing[strings.ToLower(a)]; ok {
			out = append(out, e)
			continue
		}
		out = append(out, Email{ID: uuid.New(), Address: a, Label: "other"})
	}
	p.Emails = out
	p.EnsurePrimary()
}

// Apply writes every field of fs onto the person.
func (p *Person) Apply(fs FieldSet) {
	for _, name := range fs.Names() {
		p.SetField(name, fs[name])
	}
}

// Fields captures every synced field of the person.
func (p Person) Fields() FieldSet {
	fs := make(FieldSet, len(SyncedFields))
	for _, name := range SyncedFields {
		fs[name] = p.Field(name)
	}
	return fs
}

// Clone returns a deep copy.
func (p Person) Clone() Person {
	out := p
	out.Emails = append([]Email(nil), p.Emails...)
	if p.RemoteIDs != nil {
		out.RemoteIDs = make(map[uuid.UUID]string, len(p.RemoteIDs))
		for k, v := range p.RemoteIDs {
			out.RemoteIDs[k] = v
		}
	}
	if p.LastSyncedAt != nil {
		t := *p.LastSyncedAt
		out.LastSyncedAt = &t
	}
	return out
}

// FieldSet is a structured snapshot of field values keyed by field name.
type FieldSet map[string]string

// Names returns the keys in sorted order.
func (fs FieldSet) Names() []string {
	out := make([]string, 0, len(fs))
	for k := range fs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone copies the set.
func (fs FieldSet) Clone() FieldSet {
	if fs == nil {
		return nil
	}
	out := make(FieldSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

// Merge returns a copy of fs overlaid with other.
func (fs FieldSet) Merge(other FieldSet) FieldSet {
	out := fs.Clone()
	if out == nil {
		out = FieldSet{}
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FieldChange is one field transition recorded on an audit record.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Tag is a label that can be attached to persons and mapped to remote groups.
type Tag struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Interaction is a logged touchpoint with a person.
type Interaction struct {
	ID         uuid.UUID `json:"id"`
	PersonID   uuid.UUID `json:"person_id"`
	Kind       string    `json:"kind"`
	Note       string    `json:"note"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Affiliation ties a person to an organization. (person, organization, role) is unique.
type Affiliation struct {
	ID           uuid.UUID `json:"id"`
	PersonID     uuid.UUID `json:"person_id"`
	Organization string    `json:"organization"`
	Role         string    `json:"role"`
}

// SameAs reports whether two affiliations collide on the uniqueness key.
func (a Affiliation) SameAs(b Affiliation) bool {
	return strings.EqualFold(a.Organization, b.Organization) && strings.EqualFold(a.Role, b.Role)
}
