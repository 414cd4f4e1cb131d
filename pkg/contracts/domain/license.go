// Package domain contains the core domain models of the license trust service.
// These types are shared by the store, the state machines and the HTTP layer.
package domain

import (
	"time"
)

// License is the server-owned license record. It is immutable from the point of
// view of the trust protocol except for revocation and expiry extension.
type License struct {
	ID               string    `json:"license_id"`
	Key              string    `json:"-"`
	CustomerName     string    `json:"customer_name"`
	CustomerEmail    string    `json:"-"`
	SupportCode      string    `json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
	Revoked          bool      `json:"revoked"`
	LicenseType      string    `json:"license_type"`
	SubscriptionType string    `json:"subscription_type"`
	CreatedAt        time.Time `json:"created_at"`
}

// Expired reports whether the license is past its expiry at now.
func (l *License) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Active reports whether the license may be used at now.
func (l *License) Active(now time.Time) bool {
	return !l.Revoked && !l.Expired(now)
}

// Status returns the display status of the license.
func (l *License) Status(now time.Time) LicenseStatus {
	switch {
	case l.Revoked:
		return LicenseStatusRevoked
	case l.Expired(now):
		return LicenseStatusExpired
	default:
		return LicenseStatusActive
	}
}

// LicenseStatus represents the status of a license
type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusExpired LicenseStatus = "expired"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// Activation binds a license to one device's hardware fingerprint. Rows are
// never deleted; deactivated rows stay for the audit trail.
type Activation struct {
	ID            uint       `json:"id"`
	LicenseID     string     `json:"license_id"`
	HardwareID    string     `json:"hardware_id"`
	MachineName   string     `json:"machine_name"`
	ActivatedAt   time.Time  `json:"activated_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	Deactivated   bool       `json:"deactivated"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	AppVersion    string     `json:"app_version,omitempty"`
	OSVersion     string     `json:"os_version,omitempty"`
	SourceAddress string     `json:"-"`
}
