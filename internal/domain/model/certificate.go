package model

import "time"

// VPNCertificate is a client certificate issued for the current session.
type VPNCertificate struct {
	Certificate string    `json:"certificate"`
	ValidUntil  time.Time `json:"validUntil"`
	RefreshTime time.Time `json:"refreshTime"`
}

// CertificateRequest describes the key the server should certify.
type CertificateRequest struct {
	ClientPublicKey     string
	ClientPublicKeyMode string
	DeviceName          string
	Mode                string
	Duration            string
	Features            map[string]any
}
