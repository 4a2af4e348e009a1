// Package people manages local persons and the records attached to them.
package people

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

var (
	ErrEmptyName        = errors.New("people: a name, nickname or email is required")
	ErrInvalidEmail     = errors.New("people: invalid email address")
	ErrEmptyTag         = errors.New("people: tag name is required")
	ErrEmptyInteraction = errors.New("people: interaction kind is required")
	ErrEmptyAffiliation = errors.New("people: organization is required")
)

type Service struct {
	store   store.Store
	archive *archive.Service
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(log *slog.Logger, st store.Store, arch *archive.Service) *Service {
	return &Service{
		store:   st,
		archive: arch,
		logger:  log.With(slog.String("service", "people")),
		now:     time.Now,
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Person, error) {
	now := s.now().UTC()
	p := domain.Person{
		ID:           uuid.New(),
		FirstName:    strings.TrimSpace(req.FirstName),
		MiddleName:   strings.TrimSpace(req.MiddleName),
		LastName:     strings.TrimSpace(req.LastName),
		Nickname:     strings.TrimSpace(req.Nickname),
		Title:        strings.TrimSpace(req.Title),
		Phone:        strings.TrimSpace(req.Phone),
		LinkedInURL:  strings.TrimSpace(req.LinkedInURL),
		SocialHandle: strings.TrimSpace(req.SocialHandle),
		Notes:        req.Notes,
		ImageURL:     strings.TrimSpace(req.ImageURL),
		SyncEnabled:  req.SyncEnabled == nil || *req.SyncEnabled,
		SyncStatus:   domain.SyncPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	emails, err := toEmails(req.Emails)
	if err != nil {
		return domain.Person{}, err
	}
	p.Emails = emails
	if err := validate(&p); err != nil {
		return domain.Person{}, err
	}
	if err := s.store.CreatePerson(ctx, p); err != nil {
		return domain.Person{}, fmt.Errorf("create person: %w", err)
	}
	s.logger.Info("person created", slog.String("person_id", p.ID.String()))
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Person, error) {
	return s.store.GetPerson(ctx, id)
}

func (s *Service) List(ctx context.Context, filter store.PersonFilter) ([]domain.Person, error) {
	return s.store.ListPersons(ctx, filter)
}

// Update applies the set fields. A synced person whose synced fields change goes back to
// pending so the next push sends the edit; a person under review keeps its conflict status.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (domain.Person, error) {
	var out domain.Person
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		p, err := q.GetPerson(ctx, id)
		if err != nil {
			return err
		}
		before := detect.CleanSet(p.Fields())
		set := func(dst *string, v *string) {
			if v != nil {
				*dst = strings.TrimSpace(*v)
			}
		}
		set(&p.FirstName, req.FirstName)
		set(&p.MiddleName, req.MiddleName)
		set(&p.LastName, req.LastName)
		set(&p.Nickname, req.Nickname)
		set(&p.Title, req.Title)
		set(&p.Phone, req.Phone)
		set(&p.LinkedInURL, req.LinkedInURL)
		set(&p.SocialHandle, req.SocialHandle)
		set(&p.ImageURL, req.ImageURL)
		if req.Notes != nil {
			p.Notes = *req.Notes
		}
		if req.Emails != nil {
			emails, err := toEmails(*req.Emails)
			if err != nil {
				return err
			}
			p.Emails = keepEmailIDs(p.Emails, emails)
		}
		if req.SyncEnabled != nil {
			p.SyncEnabled = *req.SyncEnabled
		}
		if err := validate(&p); err != nil {
			return err
		}
		if changed(before, detect.CleanSet(p.Fields())) && p.SyncStatus != domain.SyncConflict {
			p.SyncStatus = domain.SyncPending
		}
		p.UpdatedAt = s.now().UTC()
		if err := q.UpdatePerson(ctx, p); err != nil {
			return fmt.Errorf("update person: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return domain.Person{}, err
	}
	return out, nil
}

// Delete archives a person that has ever been synced, queueing its remote deletion, and removes
// a never-synced one outright. The decision is made inside the deleting transaction.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (DeleteResult, error) {
	var res DeleteResult
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		p, err := q.GetPerson(ctx, id)
		if err != nil {
			return err
		}
		if p.EverSynced() {
			archiveID, err := s.archive.ArchiveTx(ctx, q, archive.Request{PersonID: id, DeletedFrom: domain.DeletedFromLocal})
			if err != nil {
				return err
			}
			res = DeleteResult{Archived: true, ArchiveID: &archiveID}
			return nil
		}
		if err := q.DeletePerson(ctx, id); err != nil {
			return fmt.Errorf("delete person: %w", err)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	if !res.Archived {
		s.logger.Info("person deleted", slog.String("person_id", id.String()))
	}
	return res, nil
}

// AddTag attaches a tag by name, creating it on first use.
func (s *Service) AddTag(ctx context.Context, personID uuid.UUID, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, ErrEmptyTag
	}
	var tag domain.Tag
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.GetPerson(ctx, personID); err != nil {
			return err
		}
		var err error
		if tag, err = q.EnsureTag(ctx, name); err != nil {
			return err
		}
		return q.AttachTag(ctx, personID, tag.ID)
	})
	return tag, err
}

func (s *Service) Tags(ctx context.Context, personID uuid.UUID) ([]domain.Tag, error) {
	return s.store.ListPersonTags(ctx, personID)
}

func (s *Service) AddInteraction(ctx context.Context, personID uuid.UUID, req InteractionRequest) (domain.Interaction, error) {
	if strings.TrimSpace(req.Kind) == "" {
		return domain.Interaction{}, ErrEmptyInteraction
	}
	if _, err := s.store.GetPerson(ctx, personID); err != nil {
		return domain.Interaction{}, err
	}
	in := domain.Interaction{
		ID:         uuid.New(),
		PersonID:   personID,
		Kind:       strings.TrimSpace(req.Kind),
		Note:       req.Note,
		OccurredAt: req.OccurredAt.UTC(),
	}
	if req.OccurredAt.IsZero() {
		in.OccurredAt = s.now().UTC()
	}
	if err := s.store.AddInteraction(ctx, in); err != nil {
		return domain.Interaction{}, fmt.Errorf("add interaction: %w", err)
	}
	return in, nil
}

func (s *Service) Interactions(ctx context.Context, personID uuid.UUID) ([]domain.Interaction, error) {
	return s.store.ListInteractions(ctx, personID)
}

func (s *Service) AddAffiliation(ctx context.Context, personID uuid.UUID, req AffiliationRequest) (domain.Affiliation, error) {
	if strings.TrimSpace(req.Organization) == "" {
		return domain.Affiliation{}, ErrEmptyAffiliation
	}
	if _, err := s.store.GetPerson(ctx, personID); err != nil {
		return domain.Affiliation{}, err
	}
	a := domain.Affiliation{
		ID:           uuid.New(),
		PersonID:     personID,
		Organization: strings.TrimSpace(req.Organization),
		Role:         strings.TrimSpace(req.Role),
	}
	if err := s.store.AddAffiliation(ctx, a); err != nil {
		return domain.Affiliation{}, fmt.Errorf("add affiliation: %w", err)
	}
	return a, nil
}

func (s *Service) Affiliations(ctx context.Context, personID uuid.UUID) ([]domain.Affiliation, error) {
	return s.store.ListAffiliations(ctx, personID)
}

func toEmails(in []EmailInput) ([]domain.Email, error) {
	out := make([]domain.Email, 0, len(in))
	seen := map[string]bool{}
	for _, e := range in {
		addr := strings.ToLower(strings.TrimSpace(e.Address))
		if addr == "" {
			continue
		}
		if !strings.Contains(addr, "@") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, e.Address)
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, domain.Email{ID: uuid.New(), Address: addr, Label: strings.TrimSpace(e.Label), IsPrimary: e.IsPrimary})
	}
	return out, nil
}

// keepEmailIDs carries the ids of addresses that survive a replacement.
func keepEmailIDs(old, next []domain.Email) []domain.Email {
	ids := make(map[string]uuid.UUID, len(old))
	for _, e := range old {
		ids[strings.ToLower(e.Address)] = e.ID
	}
	for i := range next {
		if id, ok := ids[next[i].Address]; ok {
			next[i].ID = id
		}
	}
	return next
}

// validate settles the primary email flag in place and checks the person.
func validate(p *domain.Person) error {
	p.EnsurePrimary()
	if p.DisplayName() == "" {
		return ErrEmptyName
	}
	return p.Validate()
}

func changed(a, b domain.FieldSet) bool {
	for _, f := range domain.SyncedFields {
		if a[f] != b[f] {
			return true
		}
	}
	return false
}
