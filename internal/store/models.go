package store

import (
	"time"

	"gorm.io/datatypes"

	"licensetrust/pkg/contracts/domain"
)

type licenseModel struct {
	ID               string    `gorm:"primaryKey;size:64"`
	Key              string    `gorm:"column:license_key;uniqueIndex;size:128;not null"`
	CustomerName     string    `gorm:"size:255"`
	CustomerEmail    string    `gorm:"size:255;not null"`
	SupportCode      string    `gorm:"size:64"`
	ExpiresAt        time.Time `gorm:"not null"`
	Revoked          bool      `gorm:"not null;default:false"`
	LicenseType      string    `gorm:"size:32"`
	SubscriptionType string    `gorm:"size:32"`
	CreatedAt        time.Time
}

func (licenseModel) TableName() string { return "licenses" }

func (m *licenseModel) toDomain() *domain.License {
	return &domain.License{
		ID:               m.ID,
		Key:              m.Key,
		CustomerName:     m.CustomerName,
		CustomerEmail:    m.CustomerEmail,
		SupportCode:      m.SupportCode,
		ExpiresAt:        utc(m.ExpiresAt),
		Revoked:          m.Revoked,
		LicenseType:      m.LicenseType,
		SubscriptionType: m.SubscriptionType,
		CreatedAt:        utc(m.CreatedAt),
	}
}

type activationModel struct {
	ID            uint      `gorm:"primaryKey"`
	LicenseID     string    `gorm:"size:64;not null;index:idx_activation_license,priority:1"`
	Deactivated   bool      `gorm:"not null;default:false;index:idx_activation_license,priority:2"`
	HardwareID    string    `gorm:"size:512;not null"`
	MachineName   string    `gorm:"size:255"`
	ActivatedAt   time.Time `gorm:"not null"`
	LastSeenAt    time.Time `gorm:"not null"`
	DeactivatedAt *time.Time
	AppVersion    string `gorm:"size:64"`
	OSVersion     string `gorm:"size:128"`
	SourceAddress string `gorm:"size:64"`
}

func (activationModel) TableName() string { return "device_activations" }

func (m *activationModel) toDomain() *domain.Activation {
	return &domain.Activation{
		ID:            m.ID,
		LicenseID:     m.LicenseID,
		HardwareID:    m.HardwareID,
		MachineName:   m.MachineName,
		ActivatedAt:   utc(m.ActivatedAt),
		LastSeenAt:    utc(m.LastSeenAt),
		Deactivated:   m.Deactivated,
		DeactivatedAt: utcPtr(m.DeactivatedAt),
		AppVersion:    m.AppVersion,
		OSVersion:     m.OSVersion,
		SourceAddress: m.SourceAddress,
	}
}

type transferModel struct {
	ID             uint      `gorm:"primaryKey"`
	LicenseID      string    `gorm:"size:64;not null;index:idx_transfer_license_status,priority:1"`
	Status         string    `gorm:"size:16;not null;index:idx_transfer_license_status,priority:2"`
	Token          string    `gorm:"size:64;not null;uniqueIndex"`
	Kind           string    `gorm:"size:16;not null"`
	OldHardwareID  string    `gorm:"size:512"`
	NewHardwareID  string    `gorm:"size:512"`
	OldMachineName string    `gorm:"size:255"`
	NewMachineName string    `gorm:"size:255"`
	RequesterEmail string    `gorm:"size:255"`
	SourceAddress  string    `gorm:"size:64"`
	Reason         string    `gorm:"size:1024"`
	RequestedAt    time.Time `gorm:"not null"`
	CompletedAt    *time.Time
	EmailVerified  bool `gorm:"not null;default:false"`
	VerificationID uint
}

func (transferModel) TableName() string { return "transfer_records" }

func (m *transferModel) toDomain() *domain.Transfer {
	return &domain.Transfer{
		ID:             m.ID,
		LicenseID:      m.LicenseID,
		Token:          m.Token,
		Kind:           domain.TransferKind(m.Kind),
		Status:         domain.TransferStatus(m.Status),
		OldHardwareID:  m.OldHardwareID,
		NewHardwareID:  m.NewHardwareID,
		OldMachineName: m.OldMachineName,
		NewMachineName: m.NewMachineName,
		RequesterEmail: m.RequesterEmail,
		SourceAddress:  m.SourceAddress,
		Reason:         m.Reason,
		RequestedAt:    utc(m.RequestedAt),
		CompletedAt:    utcPtr(m.CompletedAt),
		EmailVerified:  m.EmailVerified,
		VerificationID: m.VerificationID,
	}
}

type verificationModel struct {
	ID             uint      `gorm:"primaryKey"`
	LicenseID      string    `gorm:"size:64;not null;index:idx_verification_license_purpose,priority:1"`
	Purpose        string    `gorm:"size:16;not null;index:idx_verification_license_purpose,priority:2"`
	Email          string    `gorm:"size:255;not null"`
	Code           string    `gorm:"size:6;not null"`
	ExpiresAt      time.Time `gorm:"not null"`
	Used           bool      `gorm:"not null;default:false"`
	FailedAttempts int       `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (verificationModel) TableName() string { return "verification_records" }

func (m *verificationModel) toDomain() *domain.Verification {
	return &domain.Verification{
		ID:             m.ID,
		LicenseID:      m.LicenseID,
		Purpose:        domain.VerificationPurpose(m.Purpose),
		Email:          m.Email,
		Code:           m.Code,
		ExpiresAt:      utc(m.ExpiresAt),
		Used:           m.Used,
		FailedAttempts: m.FailedAttempts,
		CreatedAt:      utc(m.CreatedAt),
	}
}

type auditModel struct {
	ID            uint      `gorm:"primaryKey"`
	Actor         string    `gorm:"size:255;index"`
	Action        string    `gorm:"size:64;not null;index"`
	Success       bool      `gorm:"not null"`
	SourceAddress string    `gorm:"size:64"`
	Detail        string    `gorm:"size:1024"`
	At            time.Time `gorm:"not null"`
}

func (auditModel) TableName() string { return "audit_events" }

func (m *auditModel) toDomain() domain.AuditEvent {
	return domain.AuditEvent{
		ID:            m.ID,
		Actor:         m.Actor,
		Action:        m.Action,
		Success:       m.Success,
		SourceAddress: m.SourceAddress,
		Detail:        m.Detail,
		At:            utc(m.At),
	}
}

type certificateModel struct {
	ID              string                                `gorm:"primaryKey;size:64"`
	LicenseID       string                                `gorm:"size:64;index"`
	ClientCode      string                                `gorm:"size:8;not null"`
	ModuleCode      string                                `gorm:"size:8;not null"`
	ProjectID       string                                `gorm:"size:128"`
	DataHash        string                                `gorm:"size:128;not null"`
	Metadata        datatypes.JSONType[map[string]string] `gorm:"not null"`
	CreatedAt       time.Time                             `gorm:"not null"`
	Signature       string                                `gorm:"size:512;not null"`
	Algorithm       string                                `gorm:"size:32;not null"`
	VerificationURL string                                `gorm:"size:512"`
	SyncStatus      string                                `gorm:"size:16;not null;index"`
	SyncedAt        *time.Time
	SyncAttempts    int    `gorm:"not null;default:0"`
	LastSyncError   string `gorm:"size:1024"`
}

func (certificateModel) TableName() string { return "certificates" }

func certificateFromDomain(c *domain.Certificate) *certificateModel {
	return &certificateModel{
		ID:              c.ID,
		LicenseID:       c.LicenseID,
		ClientCode:      c.ClientCode,
		ModuleCode:      c.ModuleCode,
		ProjectID:       c.ProjectID,
		DataHash:        c.DataHash,
		Metadata:        datatypes.NewJSONType(c.Metadata),
		CreatedAt:       utc(c.CreatedAt),
		Signature:       c.Signature,
		Algorithm:       c.Algorithm,
		VerificationURL: c.VerificationURL,
		SyncStatus:      string(c.SyncStatus),
		SyncedAt:        utcPtr(c.SyncedAt),
		SyncAttempts:    c.SyncAttempts,
		LastSyncError:   c.LastSyncError,
	}
}

func (m *certificateModel) toDomain() *domain.Certificate {
	meta := m.Metadata.Data()
	if meta == nil {
		meta = map[string]string{}
	}
	return &domain.Certificate{
		ID:              m.ID,
		LicenseID:       m.LicenseID,
		ClientCode:      m.ClientCode,
		ModuleCode:      m.ModuleCode,
		ProjectID:       m.ProjectID,
		DataHash:        m.DataHash,
		Metadata:        meta,
		CreatedAt:       utc(m.CreatedAt),
		Signature:       m.Signature,
		Algorithm:       m.Algorithm,
		VerificationURL: m.VerificationURL,
		SyncStatus:      domain.SyncStatus(m.SyncStatus),
		SyncedAt:        utcPtr(m.SyncedAt),
		SyncAttempts:    m.SyncAttempts,
		LastSyncError:   m.LastSyncError,
	}
}

// cachedCertificateModel is a verification-only copy of a remote certificate.
// Seq orders entries for eviction.
type cachedCertificateModel struct {
	Seq           uint                                   `gorm:"primaryKey;autoIncrement"`
	CertificateID string                                 `gorm:"size:64;not null;uniqueIndex"`
	Certificate   datatypes.JSONType[domain.Certificate] `gorm:"not null"`
	CachedAt      time.Time                              `gorm:"not null"`
}

func (cachedCertificateModel) TableName() string { return "certificate_verification_cache" }

type sequenceModel struct {
	ClientCode string `gorm:"primaryKey;size:8"`
	ModuleCode string `gorm:"primaryKey;size:8"`
	IssuedOn   string `gorm:"primaryKey;size:8"`
	Counter    int    `gorm:"not null;default:0"`
}

func (sequenceModel) TableName() string { return "certificate_sequences" }
