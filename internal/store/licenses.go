package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"licensetrust/pkg/contracts/domain"
)

// CreateLicense inserts a license record.
func (s *Store) CreateLicense(ctx context.Context, l *domain.License) error {
	m := &licenseModel{
		ID:               l.ID,
		Key:              l.Key,
		CustomerName:     l.CustomerName,
		CustomerEmail:    l.CustomerEmail,
		SupportCode:      l.SupportCode,
		ExpiresAt:        utc(l.ExpiresAt),
		Revoked:          l.Revoked,
		LicenseType:      l.LicenseType,
		SubscriptionType: l.SubscriptionType,
		CreatedAt:        utc(l.CreatedAt),
	}
	return internal("create license", s.db.WithContext(ctx).Create(m).Error)
}

// GetLicense loads a license by id.
func (s *Store) GetLicense(ctx context.Context, id string) (*domain.License, error) {
	var m licenseModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}
	return m.toDomain(), nil
}

// GetLicenseByKey loads a license by its key.
func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	var m licenseModel
	if err := s.db.WithContext(ctx).Where("license_key = ?", key).First(&m).Error; err != nil {
		return nil, notFoundOr(err, "license")
	}
	return m.toDomain(), nil
}

// LockLicense loads a license with a row lock held until the surrounding
// transaction ends. Databases without row locks (sqlite) serialize writers.
func (s *Store) LockLicense(ctx context.Context, id string) (*domain.License, error) {
	var m licenseModel
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, notFoundOr(err, "license")
	}
	return m.toDomain(), nil
}

// SetLicenseRevoked flips the revoked flag.
func (s *Store) SetLicenseRevoked(ctx context.Context, id string, revoked bool) error {
	res := s.db.WithContext(ctx).Model(&licenseModel{}).Where("id = ?", id).Update("revoked", revoked)
	if res.Error != nil {
		return internal("revoke license", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundOr(gorm.ErrRecordNotFound, "license")
	}
	return nil
}
