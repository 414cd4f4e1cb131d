package store

import (
	"context"
	"time"

	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

// CreateTransfer inserts a transfer record and sets its ID.
func (s *Store) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	m := &transferModel{
		LicenseID:      t.LicenseID,
		Token:          t.Token,
		Kind:           string(t.Kind),
		Status:         string(t.Status),
		OldHardwareID:  t.OldHardwareID,
		NewHardwareID:  t.NewHardwareID,
		OldMachineName: t.OldMachineName,
		NewMachineName: t.NewMachineName,
		RequesterEmail: t.RequesterEmail,
		SourceAddress:  t.SourceAddress,
		Reason:         t.Reason,
		RequestedAt:    utc(t.RequestedAt),
		CompletedAt:    utcPtr(t.CompletedAt),
		EmailVerified:  t.EmailVerified,
		VerificationID: t.VerificationID,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return internal("create transfer", err)
	}
	t.ID = m.ID
	return nil
}

// GetTransferByToken loads a transfer by its token.
func (s *Store) GetTransferByToken(ctx context.Context, token string) (*domain.Transfer, error) {
	var m transferModel
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&m).Error; err != nil {
		return nil, notFoundOr(err, "transfer")
	}
	return m.toDomain(), nil
}

// PendingTransfers lists the pending transfers of a license, oldest first.
func (s *Store) PendingTransfers(ctx context.Context, licenseID string) ([]*domain.Transfer, error) {
	return s.findTransfers(ctx, "license_id = ? AND status = ?", licenseID, string(domain.TransferPending))
}

// AllPendingTransfers lists up to limit pending transfers across licenses.
func (s *Store) AllPendingTransfers(ctx context.Context, limit int) ([]*domain.Transfer, error) {
	var rows []transferModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.TransferPending)).
		Order("id").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, internal("list transfers", err)
	}
	return transfersToDomain(rows), nil
}

// ListTransfers returns the most recent transfers of a license, newest first.
func (s *Store) ListTransfers(ctx context.Context, licenseID string, limit int) ([]*domain.Transfer, error) {
	var rows []transferModel
	err := s.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("id desc").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, internal("list transfers", err)
	}
	return transfersToDomain(rows), nil
}

// TransitionTransfer moves a transfer from one status to another. Losers of a
// concurrent transition observe Conflict.
func (s *Store) TransitionTransfer(ctx context.Context, id uint, from, to domain.TransferStatus, at time.Time, emailVerified bool) error {
	updates := map[string]interface{}{"status": string(to)}
	if to == domain.TransferCompleted {
		updates["completed_at"] = utc(at)
		updates["email_verified"] = emailVerified
	}

	res := s.db.WithContext(ctx).Model(&transferModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return internal("transition transfer", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("transfer is no longer pending")
	}
	return nil
}

func (s *Store) findTransfers(ctx context.Context, query string, args ...interface{}) ([]*domain.Transfer, error) {
	var rows []transferModel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("id").Find(&rows).Error; err != nil {
		return nil, internal("list transfers", err)
	}
	return transfersToDomain(rows), nil
}

func transfersToDomain(rows []transferModel) []*domain.Transfer {
	out := make([]*domain.Transfer, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}
