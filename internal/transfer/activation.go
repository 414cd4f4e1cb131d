package transfer

import (
	"context"
	"log/slog"

	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/security"
	"licensetrust/internal/store"
	"licensetrust/pkg/contracts/domain"
)

// ActivationRequest binds a license key to a device.
type ActivationRequest struct {
	LicenseKey    string
	HardwareID    string
	MachineName   string
	AppVersion    string
	OSVersion     string
	SourceAddress string
}

// ActivationResult reports the binding and whether it already existed.
type ActivationResult struct {
	License     *domain.License
	Activation  *domain.Activation
	Reactivated bool
}

// Activate binds a license to hardware. Activating the device that already
// holds the license refreshes it; any other device is rejected while one is
// active.
func (w *Workflow) Activate(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	fp, err := security.ParseFingerprint(req.HardwareID)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "invalid hardware id", err)
	}
	hardwareID := fp.String()

	lic, err := w.store.GetLicenseByKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, err
	}

	now := w.now().UTC()
	result := &ActivationResult{}
	err = w.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockLicense(ctx, lic.ID)
		if err != nil {
			return err
		}
		if err := checkUsable(locked, now); err != nil {
			return err
		}
		result.License = locked

		active, err := tx.ActiveActivations(ctx, locked.ID)
		if err != nil {
			return err
		}
		for _, a := range active {
			if !sameDevice(a.HardwareID, hardwareID) {
				return apperrors.Conflict("license active on another device")
			}
		}

		if len(active) > 0 {
			a := active[len(active)-1]
			a.HardwareID = hardwareID
			a.LastSeenAt = now
			a.MachineName = req.MachineName
			a.AppVersion = req.AppVersion
			a.OSVersion = req.OSVersion
			a.SourceAddress = req.SourceAddress
			result.Activation = a
			result.Reactivated = true
			return tx.TouchActivation(ctx, a)
		}

		a := &domain.Activation{
			LicenseID:     locked.ID,
			HardwareID:    hardwareID,
			MachineName:   req.MachineName,
			ActivatedAt:   now,
			LastSeenAt:    now,
			AppVersion:    req.AppVersion,
			OSVersion:     req.OSVersion,
			SourceAddress: req.SourceAddress,
		}
		result.Activation = a
		return tx.CreateActivation(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "license activated",
		slog.String("license_id", lic.ID),
		slog.String("hardware", security.MaskHardwareID(hardwareID)),
		slog.Bool("reactivated", result.Reactivated),
	)
	return result, nil
}

// ActiveDevice returns the active activation of a license.
func (w *Workflow) ActiveDevice(ctx context.Context, licenseID string) (*domain.Activation, error) {
	return w.store.ActiveActivation(ctx, licenseID)
}
