// Package accounts manages linked remote directory accounts and their authorization.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

// Errors returned by account operations.
var (
	ErrMissingCode     = errors.New("accounts: authorization code is required")
	ErrMissingIdentity = errors.New("accounts: identity is required")
	ErrInvalidTimezone = errors.New("accounts: invalid timezone")
)

// Credentials is the token side of an account.
type Credentials interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Save(ctx context.Context, accountID uuid.UUID, tok *oauth2.Token) error
	Revoke(ctx context.Context, accountID uuid.UUID) error
}

type Service struct {
	queries store.Queries
	creds   Credentials
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(log *slog.Logger, queries store.Queries, creds Credentials) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		queries: queries,
		creds:   creds,
		logger:  log.With(slog.String("service", "accounts")),
		now:     time.Now,
	}
}

// AuthURL starts the consent flow. The state is echoed back by the provider.
func (s *Service) AuthURL() (string, string) {
	state := uuid.NewString()
	return s.creds.AuthCodeURL(state), state
}

// Connect exchanges the code and links the identity. Connecting an identity that is already
// linked reauthorizes that account instead of creating a second one.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (domain.LinkedAccount, error) {
	identity := strings.ToLower(strings.TrimSpace(req.Identity))
	if identity == "" {
		return domain.LinkedAccount{}, ErrMissingIdentity
	}
	if strings.TrimSpace(req.Code) == "" {
		return domain.LinkedAccount{}, ErrMissingCode
	}
	if err := validTimezone(req.Timezone); err != nil {
		return domain.LinkedAccount{}, err
	}
	existing, err := s.findByIdentity(ctx, identity)
	if err != nil {
		return domain.LinkedAccount{}, err
	}
	if existing != nil {
		return s.Reauthorize(ctx, existing.ID, req.Code)
	}

	tok, err := s.creds.Exchange(ctx, req.Code)
	if err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("exchange code: %w", err)
	}
	now := s.now().UTC()
	a := domain.LinkedAccount{
		ID:          uuid.New(),
		Provider:    domain.ProviderGoogle,
		Identity:    identity,
		SyncEnabled: true,
		PullEnabled: true,
		PushEnabled: true,
		SyncStatus:  domain.SyncPending,
		Timezone:    strings.TrimSpace(req.Timezone),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.queries.CreateAccount(ctx, a); err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("create account: %w", err)
	}
	if err := s.creds.Save(ctx, a.ID, tok); err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("save token: %w", err)
	}
	s.logger.Info("account linked", slog.String("account_id", a.ID.String()), slog.String("identity", identity))
	return a, nil
}

// Reauthorize stores a fresh token and lifts the pause so the scheduler picks the account up again.
func (s *Service) Reauthorize(ctx context.Context, id uuid.UUID, code string) (domain.LinkedAccount, error) {
	if strings.TrimSpace(code) == "" {
		return domain.LinkedAccount{}, ErrMissingCode
	}
	a, err := s.queries.GetAccount(ctx, id)
	if err != nil {
		return domain.LinkedAccount{}, err
	}
	tok, err := s.creds.Exchange(ctx, code)
	if err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("exchange code: %w", err)
	}
	if err := s.creds.Save(ctx, a.ID, tok); err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("save token: %w", err)
	}
	a.PausedAt = nil
	a.FailureCount = 0
	a.LastError = ""
	a.NextSyncAt = nil
	a.SyncStatus = domain.SyncPending
	a.UpdatedAt = s.now().UTC()
	if err := s.queries.UpdateAccount(ctx, a); err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("update account: %w", err)
	}
	s.logger.Info("account reauthorized", slog.String("account_id", a.ID.String()))
	return a, nil
}

// Revoke drops the token and pauses the account. Its links and history are kept.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID) (domain.LinkedAccount, error) {
	a, err := s.queries.GetAccount(ctx, id)
	if err != nil {
		return domain.LinkedAccount{}, err
	}
	if err := s.creds.Revoke(ctx, a.ID); err != nil {
		return domain.LinkedAccount{}, err
	}
	now := s.now().UTC()
	a.PausedAt = &now
	a.LastError = "authorization revoked"
	a.UpdatedAt = now
	if err := s.queries.UpdateAccount(ctx, a); err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("update account: %w", err)
	}
	s.logger.Info("account revoked", slog.String("account_id", a.ID.String()))
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.LinkedAccount, error) {
	return s.queries.GetAccount(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.LinkedAccount, error) {
	return s.queries.ListAccounts(ctx)
}

// Update applies the set flags. Turning sync back on schedules the account for the next tick.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (domain.LinkedAccount, error) {
	a, err := s.queries.GetAccount(ctx, id)
	if err != nil {
		return domain.LinkedAccount{}, err
	}
	if req.SyncEnabled != nil {
		if *req.SyncEnabled && !a.SyncEnabled {
			a.NextSyncAt = nil
		}
		a.SyncEnabled = *req.SyncEnabled
	}
	if req.PullEnabled != nil {
		a.PullEnabled = *req.PullEnabled
	}
	if req.PushEnabled != nil {
		a.PushEnabled = *req.PushEnabled
	}
	if req.Timezone != nil {
		tz := strings.TrimSpace(*req.Timezone)
		if err := validTimezone(tz); err != nil {
			return domain.LinkedAccount{}, err
		}
		a.Timezone = tz
	}
	a.UpdatedAt = s.now().UTC()
	if err := s.queries.UpdateAccount(ctx, a); err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("update account: %w", err)
	}
	return a, nil
}

func (s *Service) findByIdentity(ctx context.Context, identity string) (*domain.LinkedAccount, error) {
	all, err := s.queries.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range all {
		if strings.EqualFold(a.Identity, identity) {
			return &a, nil
		}
	}
	return nil, nil
}

func validTimezone(tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return nil
}
