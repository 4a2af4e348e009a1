// Package credentials keeps the OAuth tokens of linked accounts and refreshes them on use.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

var (
	// ErrNoCredential is returned when an account has no usable token.
	ErrNoCredential = errors.New("credentials: account has no token")
	// ErrRevoked is returned when the provider refuses to refresh the token.
	ErrRevoked = errors.New("credentials: token revoked")
)

type Store struct {
	queries store.Queries
	oauth   *oauth2.Config
	logger  *slog.Logger
}

func New(log *slog.Logger, q store.Queries, cfg config.OAuthConfig) *Store {
	return &Store{
		queries: q,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: log.With(slog.String("service", "credentials")),
	}
}

// AuthCodeURL returns the consent page URL that starts linking an account.
func (s *Store) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token.
func (s *Store) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, mapRefreshError(err)
	}
	return tok, nil
}

// Save persists tok for the account.
func (s *Store) Save(ctx context.Context, accountID uuid.UUID, tok *oauth2.Token) error {
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		return ErrNoCredential
	}
	return s.queries.SaveAccountToken(ctx, domain.AccountToken{
		AccountID:    accountID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	})
}

// Revoke forgets the stored token. The account stays; it has to be reauthorized before it can sync.
func (s *Store) Revoke(ctx context.Context, accountID uuid.UUID) error {
	err := s.queries.SaveAccountToken(ctx, domain.AccountToken{AccountID: accountID})
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// TokenSource returns a source that refreshes the account token when it expires and writes the
// refreshed token back. Refusals from the provider surface as ErrRevoked.
func (s *Store) TokenSource(ctx context.Context, accountID uuid.UUID) (oauth2.TokenSource, error) {
	saved, err := s.queries.GetAccountToken(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if saved.AccessToken == "" && saved.RefreshToken == "" {
		return nil, ErrNoCredential
	}
	tok := &oauth2.Token{
		AccessToken:  saved.AccessToken,
		RefreshToken: saved.RefreshToken,
		TokenType:    saved.TokenType,
		Expiry:       saved.Expiry,
	}
	if tok.RefreshToken == "" && !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now()) {
		return nil, ErrRevoked
	}
	return &persisting{
		ctx:       context.WithoutCancel(ctx),
		accountID: accountID,
		base:      s.oauth.TokenSource(ctx, tok),
		last:      tok.AccessToken,
		store:     s,
	}, nil
}

type persisting struct {
	ctx       context.Context
	accountID uuid.UUID
	base      oauth2.TokenSource
	store     *Store

	mu   sync.Mutex
	last string
}

func (p *persisting) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, mapRefreshError(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(p.ctx, p.accountID, tok); err != nil {
			p.store.logger.Warn("persist refreshed token failed",
				slog.String("account_id", p.accountID.String()), slog.Any("error", err))
		} else {
			p.store.logger.Debug("token refreshed", slog.String("account_id", p.accountID.String()))
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

func mapRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch {
		case re.ErrorCode == "invalid_grant", re.ErrorCode == "unauthorized_client",
			re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrRevoked, re.ErrorCode)
		}
	}
	return fmt.Errorf("refresh token: %w", err)
}
