package dedup

import (
	"errors"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/domain"
)

var (
	// ErrAlreadyRunning is returned when another dedup pass holds the lock.
	ErrAlreadyRunning = errors.New("dedup: pass already running")
	// ErrExcluded is returned when a merge involves a pair marked as distinct people.
	ErrExcluded = errors.New("dedup: pair is excluded from merging")
	// ErrInvalidMerge is returned for a keeper that is also listed for deletion, or an empty list.
	ErrInvalidMerge = errors.New("dedup: invalid merge request")
)

// Weights tune the completeness score used to pick the keeper of a group.
type Weights struct {
	Field      int `json:"field"`
	RemoteLink int `json:"remote_link"`
	Image      int `json:"image"`
}

// DefaultWeights counts a remote link as two filled fields.
func DefaultWeights() Weights {
	return Weights{Field: 1, RemoteLink: 2, Image: 1}
}

// Member is one person of a duplicate group with what the keeper choice needs.
type Member struct {
	Person  domain.Person `json:"person"`
	HasLink bool          `json:"has_link"`
	Score   int           `json:"score"`
}

// Group is a set of persons sharing a normalized email address.
type Group struct {
	Email   string    `json:"email"`
	Keeper  uuid.UUID `json:"keeper_id"`
	Members []Member  `json:"members"`
}

// Losers returns every member id except the keeper.
func (g Group) Losers() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Person.ID != g.Keeper {
			out = append(out, m.Person.ID)
		}
	}
	return out
}

// PassResult summarizes one dedup pass.
type PassResult struct {
	Groups int `json:"groups"`
	Merged int `json:"merged"`
	Queued int `json:"queued"`
	Failed int `json:"failed"`
}
