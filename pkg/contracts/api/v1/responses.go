package api

import (
	"time"

	"licensetrust/pkg/contracts/domain"
)

// LicenseSnapshot is the customer-visible state of a license.
type LicenseSnapshot struct {
	LicenseID        string               `json:"license_id"`
	CustomerName     string               `json:"customer_name"`
	Email            string               `json:"email"`
	Status           domain.LicenseStatus `json:"status"`
	ExpiresAt        time.Time            `json:"expires_at"`
	DaysLeft         int                  `json:"days_left"`
	LicenseType      string               `json:"license_type,omitempty"`
	SubscriptionType string               `json:"subscription_type,omitempty"`
}

// DeviceInfo describes the active device with its hardware id masked.
type DeviceInfo struct {
	HardwareID  string    `json:"hardware_id"`
	MachineName string    `json:"machine_name,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	AppVersion  string    `json:"app_version,omitempty"`
}

// VerifyResponse is returned after a successful credential check.
type VerifyResponse struct {
	License      LicenseSnapshot `json:"license"`
	ActiveDevice *DeviceInfo     `json:"active_device,omitempty"`
	SessionToken string          `json:"session_token"`
	ValidUntil   time.Time       `json:"valid_until"`
}

// TransferResponse acknowledges a transfer request. The verification code is
// delivered by email only.
type TransferResponse struct {
	TransferToken     string    `json:"transfer_token"`
	CodeExpiresAt     time.Time `json:"code_expires_at"`
	TransferExpiresAt time.Time `json:"transfer_expires_at"`
	Message           string    `json:"message"`
}

// LicenseKeyResponse returns the key for re-activation on the new device.
type LicenseKeyResponse struct {
	Success    bool   `json:"success"`
	LicenseKey string `json:"license_key"`
	Message    string `json:"message"`
}

// ActivateResponse reports a device binding.
type ActivateResponse struct {
	License     LicenseSnapshot `json:"license"`
	Device      DeviceInfo      `json:"device"`
	Reactivated bool            `json:"reactivated"`
}

// TransferHistoryEntry is one row of the transfer history.
type TransferHistoryEntry struct {
	Kind           domain.TransferKind   `json:"kind"`
	Status         domain.TransferStatus `json:"status"`
	OldHardwareID  string                `json:"old_hardware_id,omitempty"`
	NewHardwareID  string                `json:"new_hardware_id,omitempty"`
	OldMachineName string                `json:"old_machine_name,omitempty"`
	NewMachineName string                `json:"new_machine_name,omitempty"`
	Reason         string                `json:"reason,omitempty"`
	RequestedAt    time.Time             `json:"requested_at"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	EmailVerified  bool                  `json:"email_verified"`
}

// TransferHistoryResponse lists transfers newest first.
type TransferHistoryResponse struct {
	LicenseID string                 `json:"license_id"`
	Transfers []TransferHistoryEntry `json:"transfers"`
	Count     int                    `json:"count"`
}

// HardwareComponents is the masked breakdown of a fingerprint.
type HardwareComponents struct {
	Processor string `json:"processor"`
	Mainboard string `json:"mainboard"`
	Network   string `json:"network"`
	Storage   string `json:"storage"`
}

// HardwareInfoResponse describes the active device without revealing it.
type HardwareInfoResponse struct {
	LicenseID   string             `json:"license_id"`
	Activated   bool               `json:"activated"`
	Components  HardwareComponents `json:"components"`
	MachineName string             `json:"machine_name,omitempty"`
	IPAddress   string             `json:"ip_address"`
	LastSeenAt  *time.Time         `json:"last_seen_at,omitempty"`
}

// CertificateSyncResponse acknowledges a pushed certificate.
type CertificateSyncResponse struct {
	CertificateID string `json:"certificate_id"`
	Status        string `json:"status"`
}

// CertificateVerifyResponse is the verdict for a certificate id.
type CertificateVerifyResponse struct {
	CertificateID string              `json:"certificate_id"`
	Verdict       string              `json:"verdict"`
	Certificate   *domain.Certificate `json:"certificate,omitempty"`
}

// HealthResponse reports liveness or readiness.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
