package application

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/ericfisherdev/vpnsync/internal/certs"
	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Secure storage keys of the client key pair and the issued certificate.
const (
	VPNKeysKey        = "vpnKeys"
	VPNCertificateKey = "vpnCertificate"
)

// Certificate refresh defaults.
const (
	DefaultCertCheckInterval = 2 * time.Minute
	DefaultCertRefreshLead   = 3 * time.Minute
)

// ErrRefreshInProgress is returned when a certificate refresh is already running.
var ErrRefreshInProgress = errors.New("certificate refresh already in progress")

// errNeedNewKeys marks a certificate that does not certify the stored key.
var errNeedNewKeys = errors.New("certificate does not match client key")

// CertificateRequester is the API surface used to obtain certificates.
type CertificateRequester interface {
	RequestCertificate(ctx context.Context, req model.CertificateRequest) (*model.VPNCertificate, error)
}

type loginState interface {
	LoggedIn() bool
}

// CertificateRefresherConfig holds the timing and identity of certificate requests.
type CertificateRefresherConfig struct {
	CheckInterval time.Duration
	RefreshLead   time.Duration
	DeviceName    string
}

// CertificateRefresher keeps a valid client certificate in secure storage.
// It checks on a fixed interval and renews RefreshLead before the server's
// refresh time. At most one refresh runs at a time.
type CertificateRefresher struct {
	api     CertificateRequester
	storage driven.SecureStorage
	session loginState
	clock   clockwork.Clock
	cfg     CertificateRefresherConfig
	logger  *slog.Logger

	running *semaphore.Weighted
}

// NewCertificateRefresher creates a CertificateRefresher. Zero durations use
// the defaults.
func NewCertificateRefresher(
	api CertificateRequester,
	storage driven.SecureStorage,
	session loginState,
	clock clockwork.Clock,
	cfg CertificateRefresherConfig,
	logger *slog.Logger,
) *CertificateRefresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCertCheckInterval
	}
	if cfg.RefreshLead <= 0 {
		cfg.RefreshLead = DefaultCertRefreshLead
	}

	return &CertificateRefresher{
		api:     api,
		storage: storage,
		session: session,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		running: semaphore.NewWeighted(1),
	}
}

// Run checks immediately and then on every CheckInterval until ctx is canceled.
func (r *CertificateRefresher) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	r.check(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("certificate refresher stopped")
			return
		case <-ticker.Chan():
			r.check(ctx)
		}
	}
}

func (r *CertificateRefresher) check(ctx context.Context) {
	err := r.CheckNow(ctx)
	switch {
	case err == nil, errors.Is(err, ErrNotLoggedIn), errors.Is(err, ErrRefreshInProgress):
	default:
		r.logger.Error("certificate refresh failed", "error_kind", model.KindOf(err), "error", err)
	}
}

// CheckNow refreshes the certificate if none is stored, the client key is
// gone, or the stored certificate is within RefreshLead of its refresh time.
func (r *CertificateRefresher) CheckNow(ctx context.Context) error {
	if !r.running.TryAcquire(1) {
		return ErrRefreshInProgress
	}
	defer r.running.Release(1)

	if !r.session.LoggedIn() {
		return ErrNotLoggedIn
	}

	current, err := r.Current(ctx)
	if err != nil {
		r.logger.Warn("stored certificate unreadable, refreshing", "error", err)
	}
	hasKeys, err := r.storage.Exists(ctx, VPNKeysKey)
	if err != nil {
		r.logger.Warn("client key lookup failed", "error", err)
	}
	if current != nil && hasKeys && r.clock.Now().Before(current.RefreshTime.Add(-r.cfg.RefreshLead)) {
		r.logger.Debug("certificate up to date", "refresh_time", current.RefreshTime)
		return nil
	}

	return r.refresh(ctx)
}

// Current returns the stored certificate, or nil if none is stored.
func (r *CertificateRefresher) Current(ctx context.Context) (*model.VPNCertificate, error) {
	data, err := r.storage.Get(ctx, VPNCertificateKey)
	if errors.Is(err, driven.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	var cert model.VPNCertificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	return &cert, nil
}

func (r *CertificateRefresher) refresh(ctx context.Context) error {
	key, err := r.loadKeys(ctx)
	if err != nil {
		r.logger.Info("client keys missing or unreadable, generating new ones", "reason", err)
		if key, err = r.generateKeys(ctx); err != nil {
			return err
		}
	}

	cert, err := r.request(ctx, key)
	if errors.Is(err, errNeedNewKeys) {
		r.logger.Warn("issued certificate does not match client key, regenerating keys")
		if key, err = r.generateKeys(ctx); err != nil {
			return err
		}
		cert, err = r.request(ctx, key)
	}
	if err != nil {
		return err
	}

	data, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	if err := r.storage.Set(ctx, VPNCertificateKey, data); err != nil {
		return &model.StoreError{Op: "set", Key: VPNCertificateKey, Err: err}
	}

	r.logger.Info("certificate refreshed", "valid_until", cert.ValidUntil, "refresh_time", cert.RefreshTime)
	return nil
}

// request asks for a certificate over key and checks that the certificate
// proves possession of it.
func (r *CertificateRefresher) request(ctx context.Context, key ed25519.PrivateKey) (*model.VPNCertificate, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	cert, err := r.api.RequestCertificate(ctx, model.CertificateRequest{
		ClientPublicKey:     string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		ClientPublicKeyMode: "EC",
		DeviceName:          r.cfg.DeviceName,
		Mode:                "session",
	})
	if err != nil {
		return nil, err
	}

	certKey, err := certs.PublicKeyFromPEM(cert.Certificate)
	if err != nil {
		return nil, fmt.Errorf("validate certificate: %w", err)
	}
	if len(certKey) != ed25519.PublicKeySize {
		return nil, errNeedNewKeys
	}

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	sig, err := certs.Sign(challenge, key, certs.Ed25519)
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}
	ok, err := certs.Verify(sig, challenge, ed25519.PublicKey(certKey), certs.Ed25519)
	if err != nil {
		return nil, fmt.Errorf("verify challenge: %w", err)
	}
	if !ok {
		return nil, errNeedNewKeys
	}

	return cert, nil
}

func (r *CertificateRefresher) loadKeys(ctx context.Context) (ed25519.PrivateKey, error) {
	data, err := r.storage.Get(ctx, VPNKeysKey)
	if err != nil {
		return nil, err
	}

	parsed, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse client key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("client key is %T, want ed25519", parsed)
	}
	return key, nil
}

func (r *CertificateRefresher) generateKeys(ctx context.Context) (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate client key: %w", err)
	}

	data, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode client key: %w", err)
	}
	if err := r.storage.Set(ctx, VPNKeysKey, data); err != nil {
		return nil, &model.StoreError{Op: "set", Key: VPNKeysKey, Err: err}
	}

	// A new key invalidates any certificate issued for the old one.
	if err := r.storage.Delete(ctx, VPNCertificateKey); err != nil {
		r.logger.Warn("failed to discard certificate of replaced key", "error", err)
	}
	return key, nil
}
