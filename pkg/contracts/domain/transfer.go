package domain

import "time"

// TransferStatus is the state of a TransferRecord.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferExpired   TransferStatus = "expired"
	TransferCancelled TransferStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s TransferStatus) Terminal() bool {
	return s != TransferPending
}

// TransferKind distinguishes device moves from self-service deactivations.
type TransferKind string

const (
	TransferKindTransfer     TransferKind = "transfer"
	TransferKindDeactivation TransferKind = "deactivation"
)

// Transfer is one transfer or deactivation event. Once terminal it is immutable.
type Transfer struct {
	ID             uint           `json:"-"`
	LicenseID      string         `json:"license_id"`
	Token          string         `json:"-"`
	Kind           TransferKind   `json:"kind"`
	Status         TransferStatus `json:"status"`
	OldHardwareID  string         `json:"old_hardware_id,omitempty"`
	NewHardwareID  string         `json:"new_hardware_id,omitempty"`
	OldMachineName string         `json:"old_machine_name,omitempty"`
	NewMachineName string         `json:"new_machine_name,omitempty"`
	RequesterEmail string         `json:"-"`
	SourceAddress  string         `json:"-"`
	Reason         string         `json:"reason,omitempty"`
	RequestedAt    time.Time      `json:"requested_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	EmailVerified  bool           `json:"email_verified"`
	VerificationID uint           `json:"-"`
}

// VerificationPurpose binds a code to the state change it gates.
type VerificationPurpose string

const (
	PurposeTransfer     VerificationPurpose = "transfer"
	PurposeDeactivation VerificationPurpose = "deactivation"
)

// Verification is a short-lived numeric code tied to (license, purpose, email).
type Verification struct {
	ID             uint
	LicenseID      string
	Purpose        VerificationPurpose
	Email          string
	Code           string
	ExpiresAt      time.Time
	Used           bool
	FailedAttempts int
	CreatedAt      time.Time
}

// Expired reports whether the code is past its deadline at now.
func (v *Verification) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}
