package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the JSON representation of the session state.
type StatusResponse struct {
	LoggedIn       bool              `json:"logged_in"`
	SuccessCounter int64             `json:"success_counter"`
	LastRefreshed  map[string]string `json:"last_refreshed"`
	NeverRefreshed []string          `json:"never_refreshed"`
}

// LoginRequest is the JSON body for the login endpoint. The tier is learned
// from the first account refresh.
type LoginRequest struct {
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	Username     string `json:"username"`
}

func (r LoginRequest) credential() model.Credential {
	return model.Credential{
		SessionID:    r.SessionID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Scope:        r.Scope,
		Username:     r.Username,
	}
}

// RefreshResponse is returned after a manual refresh completes.
type RefreshResponse struct {
	Kind        string `json:"kind"`
	RefreshedAt string `json:"refreshed_at"`
}

// CertificateResponse is the JSON representation of the VPN certificate.
type CertificateResponse struct {
	Certificate string `json:"certificate"`
	ValidUntil  string `json:"valid_until"`
	RefreshTime string `json:"refresh_time"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toStatusResponse lists kinds in scheduler order. Kinds without a
// timestamp go to NeverRefreshed so the map only holds real times.
func toStatusResponse(loggedIn bool, counter int64, ts model.RefreshTimestamps) StatusResponse {
	resp := StatusResponse{
		LoggedIn:       loggedIn,
		SuccessCounter: counter,
		LastRefreshed:  make(map[string]string, len(ts)),
		NeverRefreshed: []string{},
	}
	for _, kind := range model.RefreshKinds {
		at, ok := ts[kind]
		if !ok || at.IsZero() {
			resp.NeverRefreshed = append(resp.NeverRefreshed, kind.String())
			continue
		}
		resp.LastRefreshed[kind.String()] = formatTime(at)
	}
	return resp
}

func toCertificateResponse(cert model.VPNCertificate) CertificateResponse {
	return CertificateResponse{
		Certificate: cert.Certificate,
		ValidUntil:  formatTime(cert.ValidUntil),
		RefreshTime: formatTime(cert.RefreshTime),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
