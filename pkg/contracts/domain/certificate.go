package domain

import "time"

// SyncStatus tracks the upward replication of a locally issued certificate.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Certificate attests that a unit of processing work was completed and
// approved. Content is immutable after signing; only sync fields change.
type Certificate struct {
	ID              string            `json:"certificate_id" validate:"required,max=64"`
	LicenseID       string            `json:"license_id" validate:"required,max=128"`
	ClientCode      string            `json:"client_code" validate:"required,alphanum,max=16"`
	ModuleCode      string            `json:"module_code" validate:"required,alphanum,max=16"`
	ProjectID       string            `json:"project_id" validate:"max=128"`
	DataHash        string            `json:"data_hash" validate:"required,max=256"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at" validate:"required"`
	Signature       string            `json:"signature" validate:"required,max=1024"`
	Algorithm       string            `json:"signature_algorithm" validate:"required,max=32"`
	VerificationURL string            `json:"verification_url,omitempty"`
	SyncStatus      SyncStatus        `json:"sync_status,omitempty"`
	SyncedAt        *time.Time        `json:"synced_at,omitempty"`
	SyncAttempts    int               `json:"-"`
	LastSyncError   string            `json:"-"`
}
