// Package vpnapi implements the VPNAPI port against the remote VPN service.
package vpnapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gregjones/httpcache"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// apiVersion is sent with every request in the x-pm-apiversion header.
const apiVersion = "3"

// refreshPath is the re-authentication endpoint.
const refreshPath = "auth/refresh"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the transport settings of a Client.
type Config struct {
	BaseURL     string
	AppVersion  string
	Timeout     time.Duration
	ReauthLimit int
}

// Route describes one API call. Body is encoded as JSON when non-nil.
type Route struct {
	Method string
	Path   string
	Query  map[string]string
	Body   any
}

// Client performs authenticated requests. It attaches the stored session,
// re-authenticates on 401 at most ReauthLimit times per request, and writes
// rotated tokens through to the credential store before returning.
type Client struct {
	http        *resty.Client
	store       driven.CredentialStore
	reauthLimit int
	logger      *slog.Logger

	// cache is nil when the caller supplied the http.Client.
	cache *sessionCache

	// reauthMu keeps concurrent 401s from spending the same refresh token twice.
	reauthMu sync.Mutex
}

// NewClient creates a Client with the following transport stack:
//  1. httpcache (conditional request caching, keyed by URL and dropped by ResetCache)
//  2. resty (base URL, default headers, timeout)
func NewClient(cfg Config, store driven.CredentialStore, logger *slog.Logger) *Client {
	cache := newSessionCache()
	httpClient := &http.Client{
		Transport: httpcache.NewTransport(cache),
		Timeout:   cfg.Timeout,
	}
	c := NewClientWithHTTPClient(httpClient, cfg, store, logger)
	c.cache = cache
	return c
}

// ResetCache drops every cached response. Account responses are keyed by URL
// only, so the cache must not outlive the session that filled it.
func (c *Client) ResetCache() {
	if c.cache == nil {
		return
	}
	c.cache.reset()
	c.logger.Debug("response cache cleared")
}

// sessionCache is an in-memory httpcache.Cache that can be emptied in one step.
type sessionCache struct {
	// mu guards the store pointer; MemoryCache locks its own entries.
	mu    sync.RWMutex
	store *httpcache.MemoryCache
}

var _ httpcache.Cache = (*sessionCache)(nil)

func newSessionCache() *sessionCache {
	return &sessionCache{store: httpcache.NewMemoryCache()}
}

func (s *sessionCache) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Get(key)
}

func (s *sessionCache) Set(key string, resp []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.store.Set(key, resp)
}

func (s *sessionCache) Delete(key string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.store.Delete(key)
}

func (s *sessionCache) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = httpcache.NewMemoryCache()
}

// NewClientWithHTTPClient creates a Client with a custom http.Client. Tests use
// it to inject an httptest server client.
func NewClientWithHTTPClient(httpClient *http.Client, cfg Config, store driven.CredentialStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout > 0 && httpClient.Timeout == 0 {
		httpClient.Timeout = cfg.Timeout
	}

	rc := resty.NewWithClient(httpClient)
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	rc.SetHeader("Accept", "application/vnd.protonmail.v1+json")
	rc.SetHeader("x-pm-appversion", cfg.AppVersion)
	rc.SetHeader("x-pm-apiversion", apiVersion)
	rc.JSONMarshal = jsonAPI.Marshal
	rc.JSONUnmarshal = jsonAPI.Unmarshal

	return &Client{
		http:        rc,
		store:       store,
		reauthLimit: cfg.ReauthLimit,
		logger:      logger,
	}
}

// Request executes route with the stored credential and decodes a successful
// JSON response into out (which may be nil). Failures are *model.APIError,
// except credential write-through failures which are *model.StoreError.
func (c *Client) Request(ctx context.Context, route Route, out any) error {
	cred := c.currentCredential(ctx)

	for reauths := 0; ; reauths++ {
		resp, err := c.execute(ctx, route, cred)
		if err != nil {
			return &model.APIError{Kind: model.ErrorNetwork, Err: fmt.Errorf("%s %s: %w", route.Method, route.Path, err)}
		}

		if resp.StatusCode() == http.StatusUnauthorized && cred != nil {
			if reauths >= c.reauthLimit {
				c.store.InvalidateSession(ctx, cred.SessionID)
				return classify(resp.StatusCode(), resp.Body())
			}

			refreshed, err := c.reauthenticate(ctx, *cred)
			if err != nil {
				return err
			}
			cred = refreshed
			continue
		}

		if resp.IsError() {
			return classify(resp.StatusCode(), resp.Body())
		}

		if err := c.captureRotatedTokens(ctx, cred, resp.Body()); err != nil {
			return err
		}

		if out != nil {
			if err := jsonAPI.Unmarshal(resp.Body(), out); err != nil {
				return &model.APIError{Kind: model.ErrorUnknown, HTTPStatus: resp.StatusCode(), Err: fmt.Errorf("decode %s response: %w", route.Path, err)}
			}
		}
		return nil
	}
}

func (c *Client) currentCredential(ctx context.Context) *model.Credential {
	if cred := c.store.FetchAuthenticated(ctx); cred != nil {
		return cred
	}
	return c.store.FetchUnauthenticated(ctx)
}

func (c *Client) execute(ctx context.Context, route Route, cred *model.Credential) (*resty.Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-pm-request-id", uuid.NewString())

	if cred != nil {
		req.SetAuthToken(cred.AccessToken)
		req.SetHeader("x-pm-uid", cred.SessionID)
	}
	if route.Query != nil {
		req.SetQueryParams(route.Query)
	}
	if route.Body != nil {
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(route.Body)
	}

	method := route.Method
	if method == "" {
		method = http.MethodGet
	}
	return req.Execute(method, route.Path)
}

type refreshRequest struct {
	UID          string `json:"UID"`
	RefreshToken string `json:"RefreshToken"`
	GrantType    string `json:"GrantType"`
	ResponseType string `json:"ResponseType"`
	RedirectURI  string `json:"RedirectURI"`
}

type refreshResponse struct {
	UID          string `json:"UID"`
	AccessToken  string `json:"AccessToken"`
	RefreshToken string `json:"RefreshToken"`
	Scope        string `json:"Scope"`
	ExpiresIn    int64  `json:"ExpiresIn"`
}

// reauthenticate exchanges the refresh token for a new token pair, stores it,
// and returns the updated credential. A rejected refresh token invalidates the
// session; a transport failure does not.
func (c *Client) reauthenticate(ctx context.Context, cred model.Credential) (*model.Credential, error) {
	c.reauthMu.Lock()
	defer c.reauthMu.Unlock()

	// Another request may have rotated the tokens while this one waited.
	if current := c.currentCredential(ctx); current != nil && current.SessionID == cred.SessionID && current.AccessToken != cred.AccessToken {
		return current, nil
	}

	c.logger.Info("access token rejected, refreshing session", "session_id", cred.SessionID)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-pm-uid", cred.SessionID).
		SetHeader("x-pm-request-id", uuid.NewString()).
		SetHeader("Content-Type", "application/json").
		SetBody(refreshRequest{
			UID:          cred.SessionID,
			RefreshToken: cred.RefreshToken,
			GrantType:    "refresh_token",
			ResponseType: "token",
			RedirectURI:  "https://protonvpn.com",
		}).
		Post(refreshPath)
	if err != nil {
		return nil, &model.APIError{Kind: model.ErrorNetwork, Err: fmt.Errorf("refresh session: %w", err)}
	}

	if resp.IsError() {
		apiErr := classify(resp.StatusCode(), resp.Body())
		if apiErr.Kind.Fatal() || resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
			return nil, apiErr
		}
		c.store.InvalidateSession(ctx, cred.SessionID)
		apiErr.Kind = model.ErrorUnauthorized
		return nil, apiErr
	}

	var out refreshResponse
	if err := jsonAPI.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &model.APIError{Kind: model.ErrorUnknown, HTTPStatus: resp.StatusCode(), Err: fmt.Errorf("decode refresh response: %w", err)}
	}
	if out.AccessToken == "" {
		return nil, &model.APIError{Kind: model.ErrorUnknown, HTTPStatus: resp.StatusCode(), Message: "refresh response carries no access token"}
	}

	if err := c.store.RotateTokens(ctx, cred.SessionID, out.AccessToken, out.RefreshToken); err != nil {
		if errors.Is(err, driven.ErrSessionMismatch) {
			return nil, &model.APIError{Kind: model.ErrorUnauthorized, Err: err}
		}
		return nil, fmt.Errorf("store refreshed tokens: %w", err)
	}

	updated := cred.WithTokens(out.AccessToken, out.RefreshToken)
	return &updated, nil
}

// captureRotatedTokens persists token material carried in a successful
// response body before the response is handed back. The write is attempted
// twice; if both fail the response is withheld.
func (c *Client) captureRotatedTokens(ctx context.Context, cred *model.Credential, body []byte) error {
	if cred == nil || !gjson.ValidBytes(body) {
		return nil
	}

	fields := gjson.GetManyBytes(body, "UID", "AccessToken", "RefreshToken")
	uid, access, refresh := fields[0].String(), fields[1].String(), fields[2].String()
	if access == "" || refresh == "" {
		return nil
	}
	if uid != "" && uid != cred.SessionID {
		return nil
	}
	if access == cred.AccessToken && refresh == cred.RefreshToken {
		return nil
	}

	var err error
	for range 2 {
		if err = c.store.RotateTokens(ctx, cred.SessionID, access, refresh); err == nil || errors.Is(err, driven.ErrSessionMismatch) {
			break
		}
		c.logger.Warn("rotated token write failed", "session_id", cred.SessionID, "error", err)
	}
	if errors.Is(err, driven.ErrSessionMismatch) {
		c.logger.Info("discarding rotated tokens for a session that is no longer stored", "session_id", cred.SessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist rotated tokens: %w", err)
	}
	return nil
}

type errorBody struct {
	Code  int    `json:"Code"`
	Error string `json:"Error"`
}

// classify maps an error response to a *model.APIError.
func classify(status int, body []byte) *model.APIError {
	var eb errorBody
	_ = jsonAPI.Unmarshal(body, &eb)

	apiErr := &model.APIError{HTTPStatus: status, Code: eb.Code, Message: eb.Error}

	switch {
	case eb.Code == model.CodeAppVersionBad:
		apiErr.Kind = model.ErrorAppVersionBad
	case eb.Code == model.CodeAPIVersionBad:
		apiErr.Kind = model.ErrorAPIVersionBad
	case eb.Code == model.CodePlanDowngraded:
		apiErr.Kind = model.ErrorPlanDowngraded
	case status == http.StatusUnauthorized:
		apiErr.Kind = model.ErrorUnauthorized
	case status == http.StatusTooManyRequests:
		apiErr.Kind = model.ErrorTooManyRequests
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		apiErr.Kind = model.ErrorNetwork
	default:
		apiErr.Kind = model.ErrorUnknown
	}

	return apiErr
}
