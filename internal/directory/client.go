// Package directory is the client of the remote contacts API.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/metrics"
)

// Page is one page of ListContacts. Records that failed to decode carry Malformed.
type Page struct {
	Records        []domain.RemoteRecord
	NextPageToken  string
	CollectionETag string
}

// Directory is the remote contact book of one linked account.
type Directory interface {
	ListContacts(ctx context.Context, pageToken string) (Page, error)
	ListGroups(ctx context.Context) ([]domain.RemoteGroup, error)
	CreateContact(ctx context.Context, rec domain.RemoteRecord) (domain.RemoteRecord, error)
	// UpdateContact sends rec.ETag as If-Match; a stale etag fails with ErrPrecondition.
	UpdateContact(ctx context.Context, rec domain.RemoteRecord) (domain.RemoteRecord, error)
	DeleteContact(ctx context.Context, resourceID string) error
}

// Client holds the shared HTTP client and rate limit. Session binds it to one account.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	pageSize int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(log *slog.Logger, cfg config.DirectoryConfig, m *metrics.Metrics) *Client {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	c := &Client{
		limiter:  rate.NewLimiter(limit, burst),
		pageSize: pageSize,
		metrics:  m,
		logger:   log.With(slog.String("service", "directory")),
	}
	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return c.limiter.Wait(r.Context())
		})
	return c
}

// Session returns the Directory of the account whose credential ts yields.
func (c *Client) Session(ts oauth2.TokenSource) *Session {
	return &Session{client: c, tokens: ts}
}

type Session struct {
	client *Client
	tokens oauth2.TokenSource
}

var _ Directory = (*Session)(nil)

func (s *Session) request(ctx context.Context, op string) (*resty.Request, error) {
	tok, err := s.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("directory %s: token: %w", op, err)
	}
	return s.client.http.R().SetContext(ctx).SetAuthToken(tok.AccessToken), nil
}

// check records the call and turns transport failures and non-2xx answers into errors.
func (s *Session) check(ctx context.Context, op string, resp *resty.Response, err error) error {
	if err != nil {
		s.client.metrics.RemoteCall(op, 0)
		if ctx.Err() != nil {
			return fmt.Errorf("directory %s: %w", op, ctx.Err())
		}
		return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
	}
	s.client.metrics.RemoteCall(op, resp.StatusCode())
	if resp.IsError() {
		body := resp.String()
		if len(body) > 256 {
			body = body[:256]
		}
		s.client.logger.Debug("directory call failed",
			slog.String("op", op), slog.Int("status", resp.StatusCode()))
		return &StatusError{Op: op, Code: resp.StatusCode(), Body: body}
	}
	return nil
}

type listContactsResponse struct {
	Contacts      []json.RawMessage `json:"contacts"`
	NextPageToken string            `json:"nextPageToken"`
	ETag          string            `json:"etag"`
}

func (s *Session) ListContacts(ctx context.Context, pageToken string) (Page, error) {
	const op = "list_contacts"
	req, err := s.request(ctx, op)
	if err != nil {
		return Page{}, err
	}
	req.SetQueryParam("pageSize", strconv.Itoa(s.client.pageSize))
	if pageToken != "" {
		req.SetQueryParam("pageToken", pageToken)
	}
	var out listContactsResponse
	resp, err := req.SetResult(&out).Get("/v1/contacts")
	if err := s.check(ctx, op, resp, err); err != nil {
		return Page{}, err
	}
	page := Page{NextPageToken: out.NextPageToken, CollectionETag: out.ETag, Records: make([]domain.RemoteRecord, 0, len(out.Contacts))}
	for _, raw := range out.Contacts {
		page.Records = append(page.Records, decodeRecord(raw))
	}
	return page, nil
}

// decodeRecord never fails the page: a record that does not decode or validate is returned
// with Malformed set and whatever resource id could be recovered.
func decodeRecord(raw json.RawMessage) domain.RemoteRecord {
	var rec domain.RemoteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		var id struct {
			ResourceID string `json:"resourceId"`
		}
		_ = json.Unmarshal(raw, &id)
		return domain.RemoteRecord{ResourceID: id.ResourceID, Malformed: err.Error()}
	}
	if strings.TrimSpace(rec.ResourceID) == "" {
		rec.Malformed = "missing resourceId"
		return rec
	}
	if rec.Deleted {
		return rec
	}
	for _, e := range rec.Emails {
		if !strings.Contains(e.Address, "@") {
			rec.Malformed = fmt.Sprintf("invalid email %q", e.Address)
			return rec
		}
	}
	return rec
}

type listGroupsResponse struct {
	Groups []domain.RemoteGroup `json:"groups"`
}

func (s *Session) ListGroups(ctx context.Context) ([]domain.RemoteGroup, error) {
	const op = "list_groups"
	req, err := s.request(ctx, op)
	if err != nil {
		return nil, err
	}
	var out listGroupsResponse
	resp, err := req.SetResult(&out).Get("/v1/groups")
	if err := s.check(ctx, op, resp, err); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (s *Session) CreateContact(ctx context.Context, rec domain.RemoteRecord) (domain.RemoteRecord, error) {
	const op = "create_contact"
	req, err := s.request(ctx, op)
	if err != nil {
		return domain.RemoteRecord{}, err
	}
	rec.ResourceID, rec.ETag = "", ""
	var out domain.RemoteRecord
	resp, err := req.SetBody(rec).SetResult(&out).Post("/v1/contacts")
	if err := s.check(ctx, op, resp, err); err != nil {
		return domain.RemoteRecord{}, err
	}
	if out.ResourceID == "" {
		return domain.RemoteRecord{}, fmt.Errorf("%w: %s: response has no resourceId", ErrPermanent, op)
	}
	return out, nil
}

func (s *Session) UpdateContact(ctx context.Context, rec domain.RemoteRecord) (domain.RemoteRecord, error) {
	const op = "update_contact"
	req, err := s.request(ctx, op)
	if err != nil {
		return domain.RemoteRecord{}, err
	}
	if rec.ETag != "" {
		req.SetHeader("If-Match", rec.ETag)
	}
	var out domain.RemoteRecord
	resp, err := req.SetPathParam("id", rec.ResourceID).SetBody(rec).SetResult(&out).Put("/v1/contacts/{id}")
	if err := s.check(ctx, op, resp, err); err != nil {
		return domain.RemoteRecord{}, err
	}
	if out.ResourceID == "" {
		out.ResourceID = rec.ResourceID
	}
	return out, nil
}

func (s *Session) DeleteContact(ctx context.Context, resourceID string) error {
	const op = "delete_contact"
	req, err := s.request(ctx, op)
	if err != nil {
		return err
	}
	resp, err := req.SetPathParam("id", resourceID).Delete("/v1/contacts/{id}")
	return s.check(ctx, op, resp, err)
}

// TokenSources yields the credential of a linked account.
type TokenSources interface {
	TokenSource(ctx context.Context, accountID uuid.UUID) (oauth2.TokenSource, error)
}

// Connector opens the Directory of a linked account.
type Connector struct {
	client *Client
	creds  TokenSources
}

func NewConnector(client *Client, creds TokenSources) *Connector {
	return &Connector{client: client, creds: creds}
}

// Open fetches the account token once so a refused credential fails before any remote call.
func (c *Connector) Open(ctx context.Context, account domain.LinkedAccount) (Directory, error) {
	ts, err := c.creds.TokenSource(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if _, err := ts.Token(); err != nil {
		return nil, err
	}
	return c.client.Session(ts), nil
}
