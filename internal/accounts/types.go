package accounts

import "github.com/memohai/rolodex/internal/domain"

// ConnectRequest links a remote identity after the operator completed the consent page.
type ConnectRequest struct {
	Code     string `json:"code"`
	Identity string `json:"identity"`
	Timezone string `json:"timezone,omitempty"`
}

// ReauthorizeRequest carries the code of a fresh consent for an existing account.
type ReauthorizeRequest struct {
	Code string `json:"code"`
}

// UpdateRequest toggles sync flags. Nil fields are left unchanged.
type UpdateRequest struct {
	SyncEnabled *bool   `json:"sync_enabled,omitempty"`
	PullEnabled *bool   `json:"pull_enabled,omitempty"`
	PushEnabled *bool   `json:"push_enabled,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

type AuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type ListResponse struct {
	Items []domain.LinkedAccount `json:"items"`
}
