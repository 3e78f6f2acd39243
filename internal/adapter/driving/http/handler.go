package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	limiter "github.com/sethvargo/go-limiter"

	"github.com/ericfisherdev/vpnsync/internal/adapter/driven/alert"
	"github.com/ericfisherdev/vpnsync/internal/application"
	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// Refresher runs on-demand refreshes and reports their bookkeeping.
type Refresher interface {
	Refresh(ctx context.Context, kind model.RefreshKind) error
	Timestamps() model.RefreshTimestamps
	Counter() int64
}

// SessionControl exposes the login state of the running session.
type SessionControl interface {
	Login(ctx context.Context, cred model.Credential) error
	LoggedIn() bool
	Logout(ctx context.Context)
}

// CertificateSource reads and renews the VPN client certificate.
type CertificateSource interface {
	Current(ctx context.Context) (*model.VPNCertificate, error)
	CheckNow(ctx context.Context) error
}

// AlertFeed lists the alerts raised since startup.
type AlertFeed interface {
	List() []alert.Alert
}

// Handler is the HTTP driving adapter that serves the local control API.
type Handler struct {
	refresher Refresher
	session   SessionControl
	certs     CertificateSource
	alerts    AlertFeed
	limits    limiter.Store
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. limits
// bounds manual refreshes per kind; certs and alerts may be nil.
func NewHandler(
	refresher Refresher,
	session SessionControl,
	certs CertificateSource,
	alerts AlertFeed,
	limits limiter.Store,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		refresher: refresher,
		session:   session,
		certs:     certs,
		alerts:    alerts,
		limits:    limits,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("POST /api/v1/refresh/{kind}", h.Refresh)
	mux.HandleFunc("POST /api/v1/login", h.Login)
	mux.HandleFunc("POST /api/v1/logout", h.Logout)
	mux.HandleFunc("GET /api/v1/alerts", h.ListAlerts)
	mux.HandleFunc("GET /api/v1/certificate", h.GetCertificate)
	mux.HandleFunc("POST /api/v1/certificate/refresh", h.RefreshCertificate)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Status returns the login state, success counter and last refresh times.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatusResponse(h.session.LoggedIn(), h.refresher.Counter(), h.refresher.Timestamps()))
}

// Refresh runs one refresh of the kind named in the path and waits for it.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseRefreshKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if h.limits != nil {
		_, _, reset, ok, err := h.limits.Take(r.Context(), kind.String())
		if err != nil {
			h.logger.Error("rate limiter failed", "kind", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !ok {
			wait := time.Until(time.Unix(0, int64(reset))).Round(time.Second)
			if wait < time.Second {
				wait = time.Second
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many manual refreshes for "+kind.String())
			return
		}
	}

	if err := h.refresher.Refresh(r.Context(), kind); err != nil {
		status, message := refreshFailureStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("manual refresh failed", "kind", kind, "error", err)
		}
		writeError(w, status, message)
		return
	}

	ts := h.refresher.Timestamps()
	writeJSON(w, http.StatusOK, RefreshResponse{
		Kind:        kind.String(),
		RefreshedAt: formatTime(ts[kind]),
	})
}

// Login stores the session tokens obtained by an external sign-in flow and
// starts scheduled refreshes.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.session.Login(r.Context(), req.credential()); err != nil {
		if errors.Is(err, application.ErrNoSession) {
			writeError(w, http.StatusBadRequest, "session_id and access_token are required")
			return
		}
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toStatusResponse(h.session.LoggedIn(), h.refresher.Counter(), h.refresher.Timestamps()))
}

// Logout stops scheduled refreshes and clears stored credentials.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if !h.session.LoggedIn() {
		writeError(w, http.StatusConflict, "not logged in")
		return
	}
	h.session.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts returns the alerts raised since startup, oldest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, _ *http.Request) {
	resp := []alert.Alert{}
	if h.alerts != nil {
		resp = append(resp, h.alerts.List()...)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCertificate returns the stored VPN certificate.
func (h *Handler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	if h.certs == nil {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}

	cert, err := h.certs.Current(r.Context())
	if err != nil {
		h.logger.Error("failed to read certificate", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if cert == nil {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}

	writeJSON(w, http.StatusOK, toCertificateResponse(*cert))
}

// RefreshCertificate renews the certificate if it is missing or near expiry.
func (h *Handler) RefreshCertificate(w http.ResponseWriter, r *http.Request) {
	if h.certs == nil {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}

	err := h.certs.CheckNow(r.Context())
	switch {
	case errors.Is(err, application.ErrRefreshInProgress):
		writeError(w, http.StatusConflict, "certificate refresh already in progress")
		return
	case err != nil:
		status, message := refreshFailureStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("certificate refresh failed", "error", err)
		}
		writeError(w, status, message)
		return
	}

	h.GetCertificate(w, r)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// refreshFailureStatus maps a refresh error to a response status and message.
func refreshFailureStatus(err error) (int, string) {
	if errors.Is(err, application.ErrNotLoggedIn) {
		return http.StatusConflict, "not logged in"
	}

	switch kind := model.KindOf(err); {
	case kind == model.ErrorNetwork:
		return http.StatusBadGateway, "upstream unreachable"
	case kind == model.ErrorTooManyRequests:
		return http.StatusServiceUnavailable, "upstream rate limited"
	case kind == model.ErrorUnauthorized:
		return http.StatusUnauthorized, "session rejected"
	case kind.Fatal():
		return http.StatusUpgradeRequired, "app update required"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
