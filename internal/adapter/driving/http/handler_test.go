package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vpnsync/internal/adapter/driven/alert"
	httphandler "github.com/ericfisherdev/vpnsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/vpnsync/internal/application"
	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// --- Mock implementations ---

type mockRefresher struct {
	mu         sync.Mutex
	calls      []model.RefreshKind
	err        error
	panicMsg   string
	counter    int64
	timestamps model.RefreshTimestamps
}

func (m *mockRefresher) Refresh(_ context.Context, kind model.RefreshKind) error {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind)
	if m.err == nil {
		if m.timestamps == nil {
			m.timestamps = model.RefreshTimestamps{}
		}
		m.timestamps[kind] = testTime
	}
	return m.err
}

func (m *mockRefresher) Timestamps() model.RefreshTimestamps {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(model.RefreshTimestamps, len(m.timestamps))
	for k, v := range m.timestamps {
		out[k] = v
	}
	return out
}

func (m *mockRefresher) Counter() int64 { return m.counter }

type mockSession struct {
	loggedIn    bool
	logoutCalls int
	loginErr    error
	loggedInAs  model.Credential
}

func (m *mockSession) Login(_ context.Context, cred model.Credential) error {
	if m.loginErr != nil {
		return m.loginErr
	}
	if cred.SessionID == "" || cred.AccessToken == "" {
		return fmt.Errorf("login: %w", application.ErrNoSession)
	}
	m.loggedInAs = cred
	m.loggedIn = true
	return nil
}

func (m *mockSession) LoggedIn() bool { return m.loggedIn }
func (m *mockSession) Logout(_ context.Context) {
	m.logoutCalls++
	m.loggedIn = false
}

type mockCerts struct {
	cert     *model.VPNCertificate
	err      error
	checkErr error
	checks   int
}

func (m *mockCerts) Current(_ context.Context) (*model.VPNCertificate, error) {
	return m.cert, m.err
}
func (m *mockCerts) CheckNow(_ context.Context) error {
	m.checks++
	return m.checkErr
}

// --- Test helpers ---

var (
	testTime    = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	testTimeStr = "2026-02-10T12:00:00Z"
)

type muxDeps struct {
	refresher *mockRefresher
	session   *mockSession
	certs     httphandler.CertificateSource
	alerts    httphandler.AlertFeed
	limits    limiter.Store
}

func setupMux(t *testing.T, deps muxDeps) http.Handler {
	t.Helper()
	if deps.refresher == nil {
		deps.refresher = &mockRefresher{}
	}
	if deps.session == nil {
		deps.session = &mockSession{loggedIn: true}
	}
	h := httphandler.NewHandler(deps.refresher, deps.session, deps.certs, deps.alerts, deps.limits, slog.Default())
	return httphandler.NewServeMux(h, slog.Default())
}

func newLimits(t *testing.T, tokens uint64) limiter.Store {
	t.Helper()
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   tokens,
		Interval: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func serve(mux http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

// --- Tests ---

func TestHealth(t *testing.T) {
	mux := setupMux(t, muxDeps{})

	rec := serve(mux, http.MethodGet, "/api/v1/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["time"])
}

func TestStatus(t *testing.T) {
	refresher := &mockRefresher{
		counter: 7,
		timestamps: model.RefreshTimestamps{
			model.RefreshAccount: testTime,
			model.RefreshLoads:   testTime,
		},
	}
	mux := setupMux(t, muxDeps{refresher: refresher})

	rec := serve(mux, http.MethodGet, "/api/v1/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var body httphandler.StatusResponse
	decodeJSON(t, rec, &body)
	assert.True(t, body.LoggedIn)
	assert.Equal(t, int64(7), body.SuccessCounter)
	assert.Equal(t, map[string]string{"account": testTimeStr, "loads": testTimeStr}, body.LastRefreshed)
	assert.Equal(t, []string{"full", "streaming", "partners"}, body.NeverRefreshed)
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantCalls  int
	}{
		{name: "account", path: "/api/v1/refresh/account", wantStatus: http.StatusOK, wantCalls: 1},
		{name: "partners", path: "/api/v1/refresh/partners", wantStatus: http.StatusOK, wantCalls: 1},
		{name: "unknown kind", path: "/api/v1/refresh/everything", wantStatus: http.StatusNotFound},
		{
			name:       "not logged in",
			path:       "/api/v1/refresh/full",
			err:        application.ErrNotLoggedIn,
			wantStatus: http.StatusConflict,
			wantCalls:  1,
		},
		{
			name:       "network failure",
			path:       "/api/v1/refresh/loads",
			err:        &model.APIError{Kind: model.ErrorNetwork, Err: context.DeadlineExceeded},
			wantStatus: http.StatusBadGateway,
			wantCalls:  1,
		},
		{
			name:       "app version rejected",
			path:       "/api/v1/refresh/full",
			err:        &model.APIError{Kind: model.ErrorAppVersionBad, HTTPStatus: 400, Code: model.CodeAppVersionBad},
			wantStatus: http.StatusUpgradeRequired,
			wantCalls:  1,
		},
		{
			name:       "unexpected failure",
			path:       "/api/v1/refresh/streaming",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &mockRefresher{err: tt.err}
			mux := setupMux(t, muxDeps{refresher: refresher})

			rec := serve(mux, http.MethodPost, tt.path)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Len(t, refresher.calls, tt.wantCalls)
		})
	}
}

func TestRefresh_ReturnsTimestamp(t *testing.T) {
	mux := setupMux(t, muxDeps{})

	rec := serve(mux, http.MethodPost, "/api/v1/refresh/streaming")

	require.Equal(t, http.StatusOK, rec.Code)
	var body httphandler.RefreshResponse
	decodeJSON(t, rec, &body)
	assert.Equal(t, "streaming", body.Kind)
	assert.Equal(t, testTimeStr, body.RefreshedAt)
}

func TestRefresh_RateLimitedPerKind(t *testing.T) {
	refresher := &mockRefresher{}
	mux := setupMux(t, muxDeps{refresher: refresher, limits: newLimits(t, 1)})

	first := serve(mux, http.MethodPost, "/api/v1/refresh/loads")
	second := serve(mux, http.MethodPost, "/api/v1/refresh/loads")
	other := serve(mux, http.MethodPost, "/api/v1/refresh/account")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, other.Code, "each kind has its own bucket")
	assert.Equal(t, []model.RefreshKind{model.RefreshLoads, model.RefreshAccount}, refresher.calls)
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		loginErr   error
		wantStatus int
	}{
		{
			name:       "valid tokens",
			body:       `{"session_id":"uid-1","access_token":"access-1","refresh_token":"refresh-1","username":"alex"}`,
			wantStatus: http.StatusCreated,
		},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing session", body: `{"access_token":"access-1"}`, wantStatus: http.StatusBadRequest},
		{
			name:       "store failure",
			body:       `{"session_id":"uid-1","access_token":"access-1"}`,
			loginErr:   errors.New("keyring locked"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockSession{loginErr: tt.loginErr}
			mux := setupMux(t, muxDeps{session: session})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusCreated {
				assert.Equal(t, "uid-1", session.loggedInAs.SessionID)
				assert.Equal(t, "refresh-1", session.loggedInAs.RefreshToken)
				assert.Equal(t, "alex", session.loggedInAs.Username)
				var body httphandler.StatusResponse
				decodeJSON(t, rec, &body)
				assert.True(t, body.LoggedIn)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	session := &mockSession{loggedIn: true}
	mux := setupMux(t, muxDeps{session: session})

	rec := serve(mux, http.MethodPost, "/api/v1/logout")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, session.logoutCalls)

	rec = serve(mux, http.MethodPost, "/api/v1/logout")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, session.logoutCalls)
}

func TestListAlerts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testTime)
	feed := alert.NewFeed(0, clock, slog.Default())
	feed.PresentDelinquent(model.DelinquencyEvent{Subject: "alex", Tier: model.TierFree})
	feed.PresentPlanChanged(model.PlanChangeEvent{OldTier: model.TierPlus, NewTier: model.TierFree, Subject: "alex"})
	mux := setupMux(t, muxDeps{alerts: feed})

	rec := serve(mux, http.MethodGet, "/api/v1/alerts")

	require.Equal(t, http.StatusOK, rec.Code)
	var body []map[string]any
	decodeJSON(t, rec, &body)
	require.Len(t, body, 2)
	assert.Equal(t, "delinquent", body[0]["kind"])
	assert.Equal(t, "plan_changed", body[1]["kind"])
	assert.Equal(t, "vpnplus", body[1]["old_tier"])
	assert.Equal(t, "free", body[1]["new_tier"])
}

func TestListAlerts_NoFeedIsEmptyArray(t *testing.T) {
	mux := setupMux(t, muxDeps{})

	rec := serve(mux, http.MethodGet, "/api/v1/alerts")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetCertificate(t *testing.T) {
	tests := []struct {
		name       string
		certs      *mockCerts
		wantStatus int
	}{
		{name: "none stored", certs: &mockCerts{}, wantStatus: http.StatusNotFound},
		{name: "read failure", certs: &mockCerts{err: errors.New("locked")}, wantStatus: http.StatusInternalServerError},
		{
			name: "stored",
			certs: &mockCerts{cert: &model.VPNCertificate{
				Certificate: "-----BEGIN CERTIFICATE-----",
				ValidUntil:  testTime.Add(24 * time.Hour),
				RefreshTime: testTime,
			}},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(t, muxDeps{certs: tt.certs})

			rec := serve(mux, http.MethodGet, "/api/v1/certificate")

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				var body httphandler.CertificateResponse
				decodeJSON(t, rec, &body)
				assert.Equal(t, testTimeStr, body.RefreshTime)
				assert.Equal(t, "2026-02-11T12:00:00Z", body.ValidUntil)
			}
		})
	}
}

func TestRefreshCertificate(t *testing.T) {
	t.Run("in progress", func(t *testing.T) {
		certs := &mockCerts{checkErr: application.ErrRefreshInProgress}
		mux := setupMux(t, muxDeps{certs: certs})

		rec := serve(mux, http.MethodPost, "/api/v1/certificate/refresh")

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, 1, certs.checks)
	})

	t.Run("renewed", func(t *testing.T) {
		certs := &mockCerts{cert: &model.VPNCertificate{Certificate: "pem", ValidUntil: testTime, RefreshTime: testTime}}
		mux := setupMux(t, muxDeps{certs: certs})

		rec := serve(mux, http.MethodPost, "/api/v1/certificate/refresh")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, certs.checks)
	})

	t.Run("no certificate source", func(t *testing.T) {
		mux := setupMux(t, muxDeps{})

		rec := serve(mux, http.MethodPost, "/api/v1/certificate/refresh")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRequestIDHeader(t *testing.T) {
	mux := setupMux(t, muxDeps{})

	rec := serve(mux, http.MethodGet, "/api/v1/health")
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "6f1c3a52-2d8f-4d55-9c39-3c0c1f6b0a11")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "6f1c3a52-2d8f-4d55-9c39-3c0c1f6b0a11", rec.Header().Get("X-Request-Id"))
}

func TestRecoveryMiddleware(t *testing.T) {
	mux := setupMux(t, muxDeps{refresher: &mockRefresher{panicMsg: "boom"}})

	rec := serve(mux, http.MethodPost, "/api/v1/refresh/account")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
