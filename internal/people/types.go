package people

import (
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/domain"
)

// EmailInput is one address in a create or update request.
type EmailInput struct {
	Address   string `json:"address"`
	Label     string `json:"label,omitempty"`
	IsPrimary bool   `json:"is_primary,omitempty"`
}

type CreateRequest struct {
	FirstName    string       `json:"first_name"`
	MiddleName   string       `json:"middle_name,omitempty"`
	LastName     string       `json:"last_name"`
	Nickname     string       `json:"nickname,omitempty"`
	Title        string       `json:"title,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	LinkedInURL  string       `json:"linkedin_url,omitempty"`
	SocialHandle string       `json:"social_handle,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	ImageURL     string       `json:"image_url,omitempty"`
	Emails       []EmailInput `json:"emails,omitempty"`
	// SyncEnabled defaults to true.
	SyncEnabled *bool `json:"sync_enabled,omitempty"`
}

// UpdateRequest carries the fields to change. Nil fields are left alone; a non-nil Emails
// replaces the whole list.
type UpdateRequest struct {
	FirstName    *string       `json:"first_name,omitempty"`
	MiddleName   *string       `json:"middle_name,omitempty"`
	LastName     *string       `json:"last_name,omitempty"`
	Nickname     *string       `json:"nickname,omitempty"`
	Title        *string       `json:"title,omitempty"`
	Phone        *string       `json:"phone,omitempty"`
	LinkedInURL  *string       `json:"linkedin_url,omitempty"`
	SocialHandle *string       `json:"social_handle,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
	ImageURL     *string       `json:"image_url,omitempty"`
	Emails       *[]EmailInput `json:"emails,omitempty"`
	SyncEnabled  *bool         `json:"sync_enabled,omitempty"`
}

// DeleteResult tells whether the person was archived or removed outright.
type DeleteResult struct {
	Archived  bool       `json:"archived"`
	ArchiveID *uuid.UUID `json:"archive_id,omitempty"`
}

type InteractionRequest struct {
	Kind       string    `json:"kind"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitzero"`
}

type AffiliationRequest struct {
	Organization string `json:"organization"`
	Role         string `json:"role,omitempty"`
}

type TagRequest struct {
	Name string `json:"name"`
}

type ListResponse struct {
	Items []domain.Person `json:"items"`
}
