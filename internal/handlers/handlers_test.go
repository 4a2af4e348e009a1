package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/archive"
	"github.com/memohai/rolodex/internal/audit"
	"github.com/memohai/rolodex/internal/auth"
	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/dedup"
	"github.com/memohai/rolodex/internal/detect"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/metrics"
	"github.com/memohai/rolodex/internal/orchestrator"
	"github.com/memohai/rolodex/internal/people"
	"github.com/memohai/rolodex/internal/review"
	"github.com/memohai/rolodex/internal/runlock"
	"github.com/memohai/rolodex/internal/schedule"
	"github.com/memohai/rolodex/internal/server"
	"github.com/memohai/rolodex/internal/settings"
	"github.com/memohai/rolodex/internal/store"
	"github.com/memohai/rolodex/internal/store/memory"
)

const (
	testSecret   = "test-secret"
	testPassword = "correct horse"
)

type noopRunner struct{}

func (noopRunner) RunSync(_ context.Context, id uuid.UUID, dir domain.Direction) (orchestrator.RunResult, error) {
	return orchestrator.RunResult{AccountID: id, Direction: dir, Status: orchestrator.RunSuccess}, nil
}

type apiEnv struct {
	t      *testing.T
	srv    *server.Server
	st     *memory.Store
	queue  *review.Service
	sched  *schedule.Service
	token  string
	hashed string
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	log := logger.Discard()
	st := memory.New()
	auditLog := audit.New(log)
	arch := archive.NewService(log, st, auditLog)
	queue := review.NewService(log, st, detect.New(nil, 0), auditLog)
	dd := dedup.NewService(log, st, arch, queue, auditLog, runlock.NewMemory(), nil, dedup.Options{})
	queue.SetMerger(dd)
	settingsService := settings.NewService(log, st)
	m := metrics.New()

	cfg := config.Config{}
	cfg.Sync.MaxConcurrentRuns = 2
	sched := schedule.NewService(log, st, settingsService, noopRunner{}, arch, dd, m, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	authCfg := config.AuthConfig{JWTSecret: testSecret, JWTExpiresIn: "1h", OperatorUser: "admin", OperatorPasswordHash: hash}

	srv := server.NewServer(log, "", testSecret, m,
		NewPingHandler(log),
		NewAuthHandler(log, authCfg),
		NewMetricsHandler(m),
		NewSettingsHandler(log, settingsService),
		NewAuditHandler(log, auditLog, st),
		NewReviewHandler(log, queue),
		NewArchiveHandler(log, arch),
		NewSyncHandler(log, sched, st),
		NewDedupHandler(log, dd),
		NewPeopleHandler(log, people.NewService(log, st, arch)),
	)
	token, _, err := auth.GenerateToken("admin", testSecret, time.Hour)
	require.NoError(t, err)
	return &apiEnv{t: t, srv: srv, st: st, queue: queue, sched: sched, token: token, hashed: hash}
}

func (e *apiEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	return e.doAs(e.token, method, path, body)
}

func (e *apiEnv) doAs(token, method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPublicAndProtectedRoutes(t *testing.T) {
	api := newAPI(t)

	assert.Equal(t, http.StatusOK, api.doAs("", http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, api.doAs("", http.MethodHead, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, api.doAs("", http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.doAs("", http.MethodGet, "/people", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.doAs("not-a-jwt", http.MethodGet, "/people", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/people", nil).Code)
}

func TestLogin(t *testing.T) {
	api := newAPI(t)

	tests := []struct {
		name string
		body LoginRequest
		want int
	}{
		{"valid", LoginRequest{Username: "admin", Password: testPassword}, http.StatusOK},
		{"username case", LoginRequest{Username: "Admin", Password: testPassword}, http.StatusOK},
		{"wrong password", LoginRequest{Username: "admin", Password: "nope"}, http.StatusUnauthorized},
		{"unknown user", LoginRequest{Username: "root", Password: testPassword}, http.StatusUnauthorized},
		{"missing password", LoginRequest{Username: "admin"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.doAs("", http.MethodPost, "/auth/login", tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want != http.StatusOK {
				return
			}
			resp := decode[LoginResponse](t, rec)
			assert.Equal(t, "Bearer", resp.TokenType)
			assert.Equal(t, http.StatusOK, api.doAs(resp.AccessToken, http.MethodGet, "/settings", nil).Code)
		})
	}
}

func TestPeopleEndpoints(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodPost, "/people", people.CreateRequest{
		FirstName: "Grace",
		LastName:  "Hopper",
		Emails:    []people.EmailInput{{Address: "grace@example.com"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[domain.Person](t, rec)
	assert.Equal(t, domain.SyncPending, p.SyncStatus)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/people", people.CreateRequest{Title: "nameless"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/people/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/people/"+uuid.NewString(), nil).Code)

	title := "Rear Admiral"
	rec = api.do(http.MethodPatch, "/people/"+p.ID.String(), people.UpdateRequest{Title: &title})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, title, decode[domain.Person](t, rec).Title)

	base := "/people/" + p.ID.String()
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/tags", people.TagRequest{Name: "Navy"}).Code)
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/interactions", people.InteractionRequest{Kind: "call", Note: "COBOL"}).Code)
	aff := people.AffiliationRequest{Organization: "Navy", Role: "Officer"}
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/affiliations", aff).Code)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, base+"/affiliations", aff).Code)

	tags := decode[TagListResponse](t, api.do(http.MethodGet, base+"/tags", nil))
	require.Len(t, tags.Items, 1)
	assert.Equal(t, "Navy", tags.Items[0].Name)
	assert.Len(t, decode[InteractionListResponse](t, api.do(http.MethodGet, base+"/interactions", nil)).Items, 1)

	list := decode[people.ListResponse](t, api.do(http.MethodGet, "/people?email=GRACE@example.com", nil))
	require.Len(t, list.Items, 1)
	assert.Equal(t, p.ID, list.Items[0].ID)

	rec = api.do(http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[people.DeleteResult](t, rec).Archived, "never synced persons are removed outright")
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, base, nil).Code)
}

func TestArchiveAndRestoreEndpoints(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := domain.Person{ID: uuid.New(), FirstName: "Alan", LastName: "Turing", SyncEnabled: true, SyncStatus: domain.SyncSynced, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, api.st.CreatePerson(ctx, p))

	rec := api.do(http.MethodDelete, "/people/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[people.DeleteResult](t, rec)
	require.True(t, res.Archived)
	require.NotNil(t, res.ArchiveID)

	list := decode[ArchiveListResponse](t, api.do(http.MethodGet, "/archives", nil))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Alan Turing", list.Items[0].PersonName)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/archives?deleted_from=space", nil).Code)

	path := fmt.Sprintf("/archives/%s/restore", res.ArchiveID)
	rec = api.do(http.MethodPost, path, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	restored := decode[RestoreResponse](t, rec)
	assert.NotEqual(t, p.ID, restored.PersonID)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/people/"+restored.PersonID.String(), nil).Code)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, path, nil).Code)

	audit := decode[AuditListResponse](t, api.do(http.MethodGet, "/audit?person_id="+p.ID.String(), nil))
	require.NotEmpty(t, audit.Items)
	assert.Equal(t, domain.ActionArchive, audit.Items[0].Action)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/audit?since=yesterday", nil).Code)
}

func TestSettingsEndpoints(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.DefaultMorningTime, decode[domain.SyncSettings](t, rec).MorningTime)

	bad := "25:00"
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, "/settings", settings.UpdateRequest{MorningTime: &bad}).Code)

	good, days := "07:30", 30
	rec = api.do(http.MethodPut, "/settings", settings.UpdateRequest{MorningTime: &good, RetentionDays: &days})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[domain.SyncSettings](t, rec)
	assert.Equal(t, "07:30", st.MorningTime)
	assert.Equal(t, 30, st.RetentionDays)
}

func TestReviewEndpoints(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()

	assert.Empty(t, decode[ReviewListResponse](t, api.do(http.MethodGet, "/reviews", nil)).Items)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/reviews/"+uuid.NewString()+"/dismiss", nil).Code)

	now := time.Now().UTC()
	p := domain.Person{ID: uuid.New(), FirstName: "Ada", SyncEnabled: true, SyncStatus: domain.SyncSynced, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, api.st.CreatePerson(ctx, p))
	id, err := api.queue.Enqueue(ctx, domain.ReviewItem{
		PersonID:       &p.ID,
		ResourceID:     "people/1",
		ReviewType:     domain.ReviewDataConflict,
		LocalData:      domain.FieldSet{domain.FieldTitle: "Countess"},
		RemoteData:     domain.FieldSet{domain.FieldTitle: "Analyst"},
		ConflictFields: []string{domain.FieldTitle},
	})
	require.NoError(t, err)

	list := decode[ReviewListResponse](t, api.do(http.MethodGet, "/reviews", nil))
	require.Len(t, list.Items, 1)
	assert.Equal(t, id, list.Items[0].ID)

	base := "/reviews/" + id.String()
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, base+"/resolve", domain.Resolution{Action: "shrug"}).Code)

	rec := api.do(http.MethodPost, base+"/dismiss", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.ReviewDismissed, decode[domain.ReviewItem](t, rec).Status)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, base+"/dismiss", nil).Code)

	assert.Empty(t, decode[ReviewListResponse](t, api.do(http.MethodGet, "/reviews", nil)).Items)
	assert.Len(t, decode[ReviewListResponse](t, api.do(http.MethodGet, "/reviews?status=all", nil)).Items, 1)
}

func TestSyncEndpoints(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/sync/run", nil).Code, "nothing to run")

	acct := domain.LinkedAccount{
		ID: uuid.New(), Provider: domain.ProviderGoogle, Identity: "me@example.com",
		SyncEnabled: true, PullEnabled: true, PushEnabled: true, SyncStatus: domain.SyncPending,
	}
	require.NoError(t, api.st.CreateAccount(ctx, acct))

	rec := api.do(http.MethodPost, "/sync/run", schedule.RunNowRequest{Direction: domain.DirectionRemoteToLocal})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []uuid.UUID{acct.ID}, decode[schedule.RunNowResponse](t, rec).Accepted)
	api.sched.Wait()

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/sync/run", schedule.RunNowRequest{AccountIDs: []uuid.UUID{uuid.New()}}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/sync/run", schedule.RunNowRequest{Direction: "sideways"}).Code)

	status := decode[StatusResponse](t, api.do(http.MethodGet, "/sync/status", nil))
	require.Len(t, status.Accounts, 1)
	assert.Equal(t, "me@example.com", status.Accounts[0].Identity)
	assert.True(t, status.Accounts[0].Due)
	assert.Equal(t, 0, status.PendingReviews)

	assert.Empty(t, decode[schedule.ListResponse](t, api.do(http.MethodGet, "/sync/jobs", nil)).Items, "no jobs before bootstrap")
}

func TestDedupEndpoints(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for _, name := range []string{"Jo", "Joanna"} {
		now := time.Now().UTC()
		p := domain.Person{
			ID: uuid.New(), FirstName: name, SyncEnabled: true, SyncStatus: domain.SyncPending, CreatedAt: now, UpdatedAt: now,
			Emails: []domain.Email{{ID: uuid.New(), Address: "jo@example.com", IsPrimary: true}},
		}
		require.NoError(t, api.st.CreatePerson(ctx, p))
		ids = append(ids, p.ID)
	}

	groups := decode[DuplicateGroupsResponse](t, api.do(http.MethodGet, "/dedup/groups", nil))
	require.Len(t, groups.Items, 1)
	assert.Len(t, groups.Items[0].Members, 2)

	require.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/dedup/exclusions", ExclusionRequest{PersonA: ids[0], PersonB: ids[1]}).Code)
	assert.Empty(t, decode[DuplicateGroupsResponse](t, api.do(http.MethodGet, "/dedup/groups", nil)).Items)
	assert.Len(t, decode[ExclusionListResponse](t, api.do(http.MethodGet, "/dedup/exclusions", nil)).Items, 1)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/dedup/merge", MergeRequest{KeepID: ids[0], DeleteIDs: ids[1:]}).Code, "excluded pair")

	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, fmt.Sprintf("/dedup/exclusions/%s/%s", ids[1], ids[0]), nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/dedup/merge", MergeRequest{KeepID: ids[0]}).Code)
	require.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/dedup/merge", MergeRequest{KeepID: ids[0], DeleteIDs: ids[1:]}).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/people/"+ids[1].String(), nil).Code)
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrDuplicate, http.StatusConflict},
		{review.ErrAlreadyTerminal, http.StatusConflict},
		{archive.ErrAlreadyRestored, http.StatusConflict},
		{dedup.ErrAlreadyRunning, http.StatusConflict},
		{settings.ErrInvalidTimezone, http.StatusBadRequest},
		{people.ErrEmptyName, http.StatusBadRequest},
		{schedule.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			he, ok := httpError(tt.err).(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, tt.want, he.Code)
		})
	}
}

func TestParseTimeParam(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	parsed, ok, err := parseTimeParam(now.Format(time.RFC3339))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, parsed.Equal(now))

	parsed, ok, err = parseTimeParam("1735689600000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1735689600000), parsed.UnixMilli())

	_, ok, err = parseTimeParam("  ")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseTimeParam("invalid-time")
	assert.Error(t, err)
}
