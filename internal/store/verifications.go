package store

import (
	"context"

	"gorm.io/gorm"

	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

// CreateVerification inserts a verification record and sets its ID.
func (s *Store) CreateVerification(ctx context.Context, v *domain.Verification) error {
	m := &verificationModel{
		LicenseID:      v.LicenseID,
		Purpose:        string(v.Purpose),
		Email:          v.Email,
		Code:           v.Code,
		ExpiresAt:      utc(v.ExpiresAt),
		Used:           v.Used,
		FailedAttempts: v.FailedAttempts,
		CreatedAt:      utc(v.CreatedAt),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return internal("create verification", err)
	}
	v.ID = m.ID
	return nil
}

// GetVerification loads a verification record by id.
func (s *Store) GetVerification(ctx context.Context, id uint) (*domain.Verification, error) {
	var m verificationModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err, "verification")
	}
	return m.toDomain(), nil
}

// LatestVerification loads the newest record for (license, purpose).
func (s *Store) LatestVerification(ctx context.Context, licenseID string, purpose domain.VerificationPurpose) (*domain.Verification, error) {
	var m verificationModel
	err := s.db.WithContext(ctx).
		Where("license_id = ? AND purpose = ?", licenseID, string(purpose)).
		Order("id desc").
		First(&m).Error
	if err != nil {
		return nil, notFoundOr(err, "verification")
	}
	return m.toDomain(), nil
}

// UnusedVerifications lists unused records for (license, purpose) with fewer
// than maxAttempts failures. Expiry is left to the caller.
func (s *Store) UnusedVerifications(ctx context.Context, licenseID string, purpose domain.VerificationPurpose, maxAttempts int) ([]*domain.Verification, error) {
	var rows []verificationModel
	err := s.db.WithContext(ctx).
		Where("license_id = ? AND purpose = ? AND used = ? AND failed_attempts < ?",
			licenseID, string(purpose), false, maxAttempts).
		Order("id desc").
		Find(&rows).Error
	if err != nil {
		return nil, internal("list verifications", err)
	}
	out := make([]*domain.Verification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// IncrementFailedAttempts atomically bumps the failure counter of a live
// record. It returns false when the record is used or already at maxAttempts.
func (s *Store) IncrementFailedAttempts(ctx context.Context, id uint, maxAttempts int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&verificationModel{}).
		Where("id = ? AND used = ? AND failed_attempts < ?", id, false, maxAttempts).
		UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + ?", 1))
	if res.Error != nil {
		return false, internal("increment failed attempts", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkVerificationUsed consumes a live record exactly once.
func (s *Store) MarkVerificationUsed(ctx context.Context, id uint, maxAttempts int) error {
	res := s.db.WithContext(ctx).Model(&verificationModel{}).
		Where("id = ? AND used = ? AND failed_attempts < ?", id, false, maxAttempts).
		UpdateColumn("used", true)
	if res.Error != nil {
		return internal("consume verification", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("verification code already used")
	}
	return nil
}
