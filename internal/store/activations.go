package store

import (
	"context"
	"time"

	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

// ActiveActivations returns the non-deactivated activations of a license.
// More than one entry means the single-device invariant was broken.
func (s *Store) ActiveActivations(ctx context.Context, licenseID string) ([]*domain.Activation, error) {
	var rows []activationModel
	err := s.db.WithContext(ctx).
		Where("license_id = ? AND deactivated = ?", licenseID, false).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, internal("list activations", err)
	}

	out := make([]*domain.Activation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// ActiveActivation returns the single active activation of a license.
func (s *Store) ActiveActivation(ctx context.Context, licenseID string) (*domain.Activation, error) {
	active, err := s.ActiveActivations(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, apperrors.NotFound("active activation")
	}
	return active[len(active)-1], nil
}

// Activations lists every activation of a license, newest first.
func (s *Store) Activations(ctx context.Context, licenseID string) ([]*domain.Activation, error) {
	var rows []activationModel
	err := s.db.WithContext(ctx).Where("license_id = ?", licenseID).Order("id desc").Find(&rows).Error
	if err != nil {
		return nil, internal("list activations", err)
	}
	out := make([]*domain.Activation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// CreateActivation inserts a new activation and sets its ID.
func (s *Store) CreateActivation(ctx context.Context, a *domain.Activation) error {
	m := &activationModel{
		LicenseID:     a.LicenseID,
		HardwareID:    a.HardwareID,
		MachineName:   a.MachineName,
		ActivatedAt:   utc(a.ActivatedAt),
		LastSeenAt:    utc(a.LastSeenAt),
		AppVersion:    a.AppVersion,
		OSVersion:     a.OSVersion,
		SourceAddress: a.SourceAddress,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return internal("create activation", err)
	}
	a.ID = m.ID
	return nil
}

// TouchActivation refreshes last-seen data of an active activation.
func (s *Store) TouchActivation(ctx context.Context, a *domain.Activation) error {
	res := s.db.WithContext(ctx).Model(&activationModel{}).
		Where("id = ? AND deactivated = ?", a.ID, false).
		Updates(map[string]interface{}{
			"hardware_id":    a.HardwareID,
			"last_seen_at":   utc(a.LastSeenAt),
			"machine_name":   a.MachineName,
			"app_version":    a.AppVersion,
			"os_version":     a.OSVersion,
			"source_address": a.SourceAddress,
		})
	if res.Error != nil {
		return internal("touch activation", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("activation is no longer active")
	}
	return nil
}

// DeactivateActivation marks an active activation deactivated. It fails with
// Conflict when the row was already deactivated.
func (s *Store) DeactivateActivation(ctx context.Context, id uint, at time.Time) error {
	at = utc(at)
	res := s.db.WithContext(ctx).Model(&activationModel{}).
		Where("id = ? AND deactivated = ?", id, false).
		Updates(map[string]interface{}{
			"deactivated":    true,
			"deactivated_at": at,
		})
	if res.Error != nil {
		return internal("deactivate activation", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("activation is no longer active")
	}
	return nil
}
