package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/logger"
)

func newSession(t *testing.T, h http.HandlerFunc, retries int) *Session {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(logger.Discard(), config.DirectoryConfig{BaseURL: srv.URL + "/", PageSize: 2, RetryCount: retries}, nil)
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)
	return c.Session(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))
}

func TestListContactsDecodesEachRecord(t *testing.T) {
	s := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contacts", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"contacts":[
				{"resourceId":"c1","etag":"e1","givenName":"Ada","emails":[{"value":"ada@x.com","type":"work"}],"groups":["friends"]},
				{"resourceId":"c2","emails":"not-a-list"}
			],"nextPageToken":"p2","etag":"col-1"}`))
			return
		}
		assert.Equal(t, "p2", r.URL.Query().Get("pageToken"))
		_, _ = w.Write([]byte(`{"contacts":[
			{"givenName":"NoID"},
			{"resourceId":"c4","emails":[{"value":"broken"}]},
			{"resourceId":"c5","deleted":true}
		],"etag":"col-1"}`))
	}, 0)
	ctx := context.Background()

	page, err := s.ListContacts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "p2", page.NextPageToken)
	assert.Equal(t, "col-1", page.CollectionETag)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "Ada", page.Records[0].FirstName)
	assert.Equal(t, []string{"friends"}, page.Records[0].Groups)
	assert.Equal(t, "work", page.Records[0].Emails[0].Label)
	assert.Empty(t, page.Records[0].Malformed)
	assert.Equal(t, "c2", page.Records[1].ResourceID)
	assert.NotEmpty(t, page.Records[1].Malformed)

	page, err = s.ListContacts(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, page.NextPageToken)
	require.Len(t, page.Records, 3)
	assert.Equal(t, "missing resourceId", page.Records[0].Malformed)
	assert.Contains(t, page.Records[1].Malformed, "invalid email")
	assert.True(t, page.Records[2].Deleted)
	assert.Empty(t, page.Records[2].Malformed)
}

func TestStatusErrorsMapToSentinels(t *testing.T) {
	tests := []struct {
		code         int
		want         error
		accountLevel bool
	}{
		{http.StatusUnauthorized, ErrUnauthorized, true},
		{http.StatusForbidden, ErrUnauthorized, true},
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusGone, ErrNotFound, false},
		{http.StatusPreconditionFailed, ErrPrecondition, false},
		{http.StatusBadGateway, ErrTransient, false},
		{http.StatusBadRequest, ErrPermanent, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			s := newSession(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.code)
			}, 0)
			_, err := s.ListGroups(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.accountLevel, AccountLevel(err))
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, "list_groups", se.Op)
		})
	}
}

func TestUpdateContactSendsIfMatch(t *testing.T) {
	s := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/contacts/c1", r.URL.Path)
		if r.Header.Get("If-Match") != "e1" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		var body domain.RemoteRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		body.ETag = "e2"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}, 0)
	ctx := context.Background()

	out, err := s.UpdateContact(ctx, domain.RemoteRecord{ResourceID: "c1", ETag: "e1", Title: "CTO"})
	require.NoError(t, err)
	assert.Equal(t, "e2", out.ETag)
	assert.Equal(t, "CTO", out.Title)

	_, err = s.UpdateContact(ctx, domain.RemoteRecord{ResourceID: "c1", ETag: "stale"})
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestCreateAndDeleteContact(t *testing.T) {
	s := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "", body["resourceId"])
			assert.Equal(t, "Grace", body["givenName"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"resourceId":"c9","etag":"e1","givenName":"Grace"}`))
		case http.MethodDelete:
			assert.Equal(t, "/v1/contacts/c9", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}, 0)
	ctx := context.Background()

	out, err := s.CreateContact(ctx, domain.RemoteRecord{ResourceID: "ignored", FirstName: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "c9", out.ResourceID)
	assert.Equal(t, "e1", out.ETag)
	require.NoError(t, s.DeleteContact(ctx, "c9"))
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	s := newSession(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"groups":[{"resourceId":"g1","name":"friends"}]}`))
	}, 1)

	groups, err := s.ListGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.RemoteGroup{{ResourceID: "g1", Name: "friends"}}, groups)
	assert.Equal(t, int32(2), calls.Load())
}

type fakeSources struct {
	ts  oauth2.TokenSource
	err error
}

func (f fakeSources) TokenSource(context.Context, uuid.UUID) (oauth2.TokenSource, error) {
	return f.ts, f.err
}

type failingSource struct{ err error }

func (f failingSource) Token() (*oauth2.Token, error) { return nil, f.err }

func TestConnectorChecksCredentialFirst(t *testing.T) {
	c := New(logger.Discard(), config.DirectoryConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	revoked := errors.New("revoked")
	acct := domain.LinkedAccount{ID: uuid.New()}

	_, err := NewConnector(c, fakeSources{err: revoked}).Open(context.Background(), acct)
	assert.ErrorIs(t, err, revoked)

	_, err = NewConnector(c, fakeSources{ts: failingSource{err: revoked}}).Open(context.Background(), acct)
	assert.ErrorIs(t, err, revoked)

	dir, err := NewConnector(c, fakeSources{ts: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"})}).Open(context.Background(), acct)
	require.NoError(t, err)
	assert.NotNil(t, dir)
}
