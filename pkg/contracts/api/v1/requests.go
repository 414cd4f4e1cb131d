// Package api contains the request and response contracts of the /api/v1
// HTTP surface.
package api

import "licensetrust/pkg/contracts/domain"

// Portal requests

// VerifyRequest proves possession of a license key and its email.
type VerifyRequest struct {
	LicenseKey  string `json:"license_key" validate:"required,min=4,max=128"`
	Email       string `json:"email" validate:"required,email,max=254"`
	SupportCode string `json:"support_code,omitempty" validate:"omitempty,max=64"`
}

// SessionRequest carries the session proof shared by authenticated calls.
type SessionRequest struct {
	SessionToken string `json:"session_token" validate:"required,max=128"`
	LicenseID    string `json:"license_id" validate:"required,max=64"`
	Email        string `json:"email" validate:"required,email,max=254"`
}

// TransferRequest asks to move the license to new hardware.
type TransferRequest struct {
	SessionRequest
	NewHardwareID  string `json:"new_hardware_id" validate:"required,max=512"`
	NewMachineName string `json:"new_machine_name" validate:"omitempty,max=128"`
	Reason         string `json:"reason" validate:"omitempty,max=500"`
}

// TransferCompleteRequest submits the emailed verification code.
type TransferCompleteRequest struct {
	TransferToken string `json:"transfer_token" validate:"required,max=128"`
	Code          string `json:"verification_code" validate:"required,len=6,numeric"`
}

// DeactivateRequest releases the active device.
type DeactivateRequest struct {
	SessionRequest
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// ActivateRequest binds a license key to a device.
type ActivateRequest struct {
	LicenseKey  string `json:"license_key" validate:"required,min=4,max=128"`
	HardwareID  string `json:"hardware_id" validate:"required,max=512"`
	MachineName string `json:"machine_name" validate:"omitempty,max=128"`
	AppVersion  string `json:"app_version" validate:"omitempty,max=32"`
	OSVersion   string `json:"os_version" validate:"omitempty,max=128"`
}

// SessionQuery is the query string form of SessionRequest.
type SessionQuery struct {
	LicenseID    string `validate:"required,max=64"`
	SessionToken string `validate:"required,max=128"`
	Email        string `validate:"required,email,max=254"`
	Limit        int    `validate:"min=0,max=1000"`
}

// Certificate requests

// CertificateSyncRequest is a locally issued certificate pushed upward. The
// embedded certificate carries the validate tags of its wire fields.
type CertificateSyncRequest struct {
	domain.Certificate
}
