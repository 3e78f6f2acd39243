// Package config loads application configuration from environment variables
// and an optional YAML file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// Config holds the application configuration.
type Config struct {
	APIBaseURL     string
	AppVersion     string
	RequestTimeout time.Duration
	ReauthLimit    int

	// PaidCatalogEvery is the number of consecutive successful refreshes
	// after which a full refresh downloads the paid catalog.
	PaidCatalogEvery int
	Intervals        model.RefreshIntervals

	CertCheckInterval time.Duration
	CertRefreshLead   time.Duration
	DeviceName        string

	// ManualRefreshPerMinute bounds POST /api/v1/refresh/{kind} per kind.
	ManualRefreshPerMinute int

	ListenAddr     string
	DBPath         string
	StorageDir     string
	KeyringService string
	SecretKey      []byte
	LogLevel       slog.Level
}

// fileConfig is the YAML overlay. Absent keys keep the environment value.
type fileConfig struct {
	APIBaseURL             string                 `yaml:"api_base_url"`
	AppVersion             string                 `yaml:"app_version"`
	RequestTimeout         time.Duration          `yaml:"request_timeout"`
	ReauthLimit            int                    `yaml:"reauth_limit"`
	PaidCatalogEvery       int                    `yaml:"paid_catalog_every"`
	Intervals              model.RefreshIntervals `yaml:"refresh_intervals"`
	CertCheckInterval      time.Duration          `yaml:"cert_check_interval"`
	CertRefreshLead        time.Duration          `yaml:"cert_refresh_lead"`
	DeviceName             string                 `yaml:"device_name"`
	ManualRefreshPerMinute int                    `yaml:"manual_refresh_per_minute"`
	ListenAddr             string                 `yaml:"listen_addr"`
	DBPath                 string                 `yaml:"db_path"`
	StorageDir             string                 `yaml:"storage_dir"`
	KeyringService         string                 `yaml:"keyring_service"`
}

// Load reads configuration from VPNSYNC_* environment variables, overlays
// the YAML file named by VPNSYNC_CONFIG_FILE if set, and validates the result.
// Defaults: VPNSYNC_API_URL (https://vpn-api.proton.me), VPNSYNC_REQUEST_TIMEOUT
// (30s), VPNSYNC_REAUTH_LIMIT (1), VPNSYNC_PAID_CATALOG_EVERY (10),
// VPNSYNC_LISTEN_ADDR (127.0.0.1:8787), VPNSYNC_DB_PATH (vpnsync.db),
// VPNSYNC_STORAGE_DIR (vpnsync-vault), VPNSYNC_KEYRING_SERVICE (vpnsync).
// VPNSYNC_SECRET_KEY is optional; when set it must be 64 hex characters.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()

	cfg := &Config{
		APIBaseURL:             "https://vpn-api.proton.me",
		AppVersion:             "linux-vpn-cli@4.0.0",
		RequestTimeout:         30 * time.Second,
		ReauthLimit:            1,
		PaidCatalogEvery:       10,
		Intervals:              model.DefaultRefreshIntervals(),
		CertCheckInterval:      2 * time.Minute,
		CertRefreshLead:        3 * time.Minute,
		DeviceName:             hostname,
		ManualRefreshPerMinute: 4,
		ListenAddr:             "127.0.0.1:8787",
		DBPath:                 "vpnsync.db",
		StorageDir:             "vpnsync-vault",
		KeyringService:         "vpnsync",
		LogLevel:               slog.LevelInfo,
	}

	strVars := map[string]*string{
		"VPNSYNC_API_URL":         &cfg.APIBaseURL,
		"VPNSYNC_APP_VERSION":     &cfg.AppVersion,
		"VPNSYNC_DEVICE_NAME":     &cfg.DeviceName,
		"VPNSYNC_LISTEN_ADDR":     &cfg.ListenAddr,
		"VPNSYNC_DB_PATH":         &cfg.DBPath,
		"VPNSYNC_STORAGE_DIR":     &cfg.StorageDir,
		"VPNSYNC_KEYRING_SERVICE": &cfg.KeyringService,
	}
	for key, dst := range strVars {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	durationVars := map[string]*time.Duration{
		"VPNSYNC_REQUEST_TIMEOUT":     &cfg.RequestTimeout,
		"VPNSYNC_CERT_CHECK_INTERVAL": &cfg.CertCheckInterval,
		"VPNSYNC_CERT_REFRESH_LEAD":   &cfg.CertRefreshLead,
		"VPNSYNC_REFRESH_ACCOUNT":     &cfg.Intervals.Account,
		"VPNSYNC_REFRESH_FULL":        &cfg.Intervals.Full,
		"VPNSYNC_REFRESH_LOADS":       &cfg.Intervals.Loads,
		"VPNSYNC_REFRESH_STREAMING":   &cfg.Intervals.Streaming,
		"VPNSYNC_REFRESH_PARTNERS":    &cfg.Intervals.Partners,
	}
	for key, dst := range durationVars {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
		}
		*dst = parsed
	}

	intVars := map[string]*int{
		"VPNSYNC_REAUTH_LIMIT":             &cfg.ReauthLimit,
		"VPNSYNC_PAID_CATALOG_EVERY":       &cfg.PaidCatalogEvery,
		"VPNSYNC_MANUAL_REFRESH_PER_MINUTE": &cfg.ManualRefreshPerMinute,
	}
	for key, dst := range intVars {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
		}
		*dst = parsed
	}

	if v, ok := os.LookupEnv("VPNSYNC_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			return nil, fmt.Errorf("VPNSYNC_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	if v, ok := os.LookupEnv("VPNSYNC_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("VPNSYNC_SECRET_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("VPNSYNC_SECRET_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
		}
		cfg.SecretKey = key
	}

	if path, ok := os.LookupEnv("VPNSYNC_CONFIG_FILE"); ok && path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	fc := fileConfig{
		APIBaseURL:             c.APIBaseURL,
		AppVersion:             c.AppVersion,
		RequestTimeout:         c.RequestTimeout,
		ReauthLimit:            c.ReauthLimit,
		PaidCatalogEvery:       c.PaidCatalogEvery,
		Intervals:              c.Intervals,
		CertCheckInterval:      c.CertCheckInterval,
		CertRefreshLead:        c.CertRefreshLead,
		DeviceName:             c.DeviceName,
		ManualRefreshPerMinute: c.ManualRefreshPerMinute,
		ListenAddr:             c.ListenAddr,
		DBPath:                 c.DBPath,
		StorageDir:             c.StorageDir,
		KeyringService:         c.KeyringService,
	}

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	c.APIBaseURL = fc.APIBaseURL
	c.AppVersion = fc.AppVersion
	c.RequestTimeout = fc.RequestTimeout
	c.ReauthLimit = fc.ReauthLimit
	c.PaidCatalogEvery = fc.PaidCatalogEvery
	c.Intervals = fc.Intervals
	c.CertCheckInterval = fc.CertCheckInterval
	c.CertRefreshLead = fc.CertRefreshLead
	c.DeviceName = fc.DeviceName
	c.ManualRefreshPerMinute = fc.ManualRefreshPerMinute
	c.ListenAddr = fc.ListenAddr
	c.DBPath = fc.DBPath
	c.StorageDir = fc.StorageDir
	c.KeyringService = fc.KeyringService
	return nil
}

// Validate returns an error describing every invalid value.
func (c *Config) Validate() error {
	var errs []error

	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("API base URL must not be empty"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.ReauthLimit < 0 {
		errs = append(errs, fmt.Errorf("re-auth limit must not be negative, got %d", c.ReauthLimit))
	}
	if c.PaidCatalogEvery < 1 {
		errs = append(errs, fmt.Errorf("paid catalog cadence must be at least 1, got %d", c.PaidCatalogEvery))
	}
	if c.CertCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("certificate check interval must be positive, got %s", c.CertCheckInterval))
	}
	if c.CertRefreshLead < 0 {
		errs = append(errs, fmt.Errorf("certificate refresh lead must not be negative, got %s", c.CertRefreshLead))
	}
	if c.ManualRefreshPerMinute < 1 {
		errs = append(errs, fmt.Errorf("manual refresh limit must be at least 1, got %d", c.ManualRefreshPerMinute))
	}
	if err := c.Intervals.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
