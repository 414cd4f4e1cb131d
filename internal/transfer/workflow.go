// Package transfer implements the license transfer state machine and the
// device activation rules it protects.
//
// A transfer moves a license from the active device to new hardware. It starts
// Pending and ends Completed, Expired (window elapsed) or Cancelled
// (verification exhausted). Transitions are compare-and-set on the status
// column, so concurrent completions of one token have a single winner.
package transfer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"licensetrust/internal/config"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/infrastructure"
	"licensetrust/internal/notify"
	"licensetrust/internal/security"
	"licensetrust/internal/store"
	"licensetrust/internal/verification"
	"licensetrust/pkg/contracts/domain"
)

const sweepBatch = 500

// Request asks to move a license to new hardware.
type Request struct {
	LicenseID      string
	Email          string
	NewHardwareID  string
	NewMachineName string
	Reason         string
	SourceAddress  string
}

// Ticket is returned to the requester. The verification code is not part of
// it; the code travels through the CodeSender only.
type Ticket struct {
	Token             string
	CodeExpiresAt     time.Time
	TransferExpiresAt time.Time
}

// Completion is the result of a successful transfer or deactivation. A failed
// CompleteTransfer still returns the Completion of the transfer it loaded, with
// an empty LicenseKey, so the attempt can be attributed.
type Completion struct {
	Transfer   *domain.Transfer
	LicenseKey string
}

// Workflow coordinates transfers, deactivations and activations.
type Workflow struct {
	store          *store.Store
	guard          *verification.Guard
	sender         notify.CodeSender
	metrics        *infrastructure.TrustMetrics
	logger         *slog.Logger
	window         time.Duration
	historyDefault int
	historyMax     int
	now            func() time.Time
}

// NewWorkflow wires a workflow. metrics may be nil.
func NewWorkflow(st *store.Store, guard *verification.Guard, sender notify.CodeSender, cfg config.PortalConfig, metrics *infrastructure.TrustMetrics, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:          st,
		guard:          guard,
		sender:         sender,
		metrics:        metrics,
		logger:         logger.With(slog.String("component", "transfer")),
		window:         cfg.TransferWindow,
		historyDefault: cfg.HistoryDefault,
		historyMax:     cfg.HistoryMax,
		now:            time.Now,
	}
}

// WithClock returns a copy of w, and of its guard, using now as time source.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	c := *w
	c.now = now
	c.guard = w.guard.WithClock(now)
	return &c
}

// RequestTransfer opens a pending transfer and sends a verification code to
// the license owner.
func (w *Workflow) RequestTransfer(ctx context.Context, req Request) (*Ticket, error) {
	newHardwareID, err := security.CanonicalHardwareID(req.NewHardwareID)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "invalid new hardware id", err)
	}
	now := w.now().UTC()

	var (
		tr *domain.Transfer
		v  *domain.Verification
	)
	err = w.store.Transaction(ctx, func(tx *store.Store) error {
		lic, err := tx.LockLicense(ctx, req.LicenseID)
		if err != nil {
			return err
		}
		if err := checkUsable(lic, now); err != nil {
			return err
		}

		active, err := tx.ActiveActivations(ctx, lic.ID)
		if err != nil {
			return err
		}
		if len(active) != 1 {
			return apperrors.Conflict("license has no single active device to transfer from")
		}
		current := active[0]
		if sameDevice(current.HardwareID, newHardwareID) {
			return apperrors.Validation("new hardware id matches the active device")
		}

		if err := w.settlePending(ctx, tx, lic.ID, now); err != nil {
			return err
		}

		guard := w.guard.Bind(tx)
		v, err = guard.Prepare(ctx, lic.ID, domain.PurposeTransfer, req.Email)
		if err != nil {
			return err
		}
		if err := tx.CreateVerification(ctx, v); err != nil {
			return err
		}

		token, err := newToken()
		if err != nil {
			return apperrors.Internal("generate transfer token", err)
		}
		tr = &domain.Transfer{
			LicenseID:      lic.ID,
			Token:          token,
			Kind:           domain.TransferKindTransfer,
			Status:         domain.TransferPending,
			OldHardwareID:  current.HardwareID,
			NewHardwareID:  newHardwareID,
			OldMachineName: current.MachineName,
			NewMachineName: req.NewMachineName,
			RequesterEmail: req.Email,
			SourceAddress:  req.SourceAddress,
			Reason:         req.Reason,
			RequestedAt:    now,
			VerificationID: v.ID,
		}
		return tx.CreateTransfer(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	msg := notify.CodeMessage{
		LicenseID: tr.LicenseID,
		Email:     req.Email,
		Purpose:   string(domain.PurposeTransfer),
		Code:      v.Code,
		ExpiresAt: v.ExpiresAt,
	}
	if err := w.sender.SendCode(ctx, msg); err != nil {
		w.abandon(ctx, tr, v)
		return nil, apperrors.Internal("deliver verification code", err)
	}

	w.metrics.Transfer(ctx, "requested")
	w.logger.InfoContext(ctx, "transfer requested",
		slog.String("license_id", tr.LicenseID),
		slog.String("new_hardware", security.MaskHardwareID(tr.NewHardwareID)),
		slog.String("email", security.MaskEmail(req.Email)),
	)
	return &Ticket{
		Token:             tr.Token,
		CodeExpiresAt:     v.ExpiresAt,
		TransferExpiresAt: now.Add(w.window),
	}, nil
}

// CompleteTransfer checks code against the transfer's verification record and,
// on a match, completes the transfer and deactivates the old device in one
// transaction.
func (w *Workflow) CompleteTransfer(ctx context.Context, token, code string) (*Completion, error) {
	tr, err := w.store.GetTransferByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	attempt := &Completion{Transfer: tr}
	if tr.Status != domain.TransferPending {
		return attempt, apperrors.Conflict("transfer is no longer pending").WithField("status", string(tr.Status))
	}

	now := w.now().UTC()
	if w.stale(tr, now) {
		if err := w.store.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferExpired, now, false); err != nil {
			return attempt, err
		}
		w.metrics.Transfer(ctx, "expired")
		return attempt, apperrors.Expired("transfer window has elapsed", nil)
	}

	res, err := w.guard.Match(ctx, tr.VerificationID, code)
	if err != nil {
		return attempt, err
	}

	switch res.Outcome {
	case verification.WrongCode:
		w.metrics.VerificationFailure(ctx, string(domain.PurposeTransfer), res.Outcome.String())
		return attempt, apperrors.Validation("incorrect verification code").
			WithField("remaining_attempts", res.Remaining)

	case verification.Exhausted:
		w.metrics.VerificationFailure(ctx, string(domain.PurposeTransfer), res.Outcome.String())
		if err := w.store.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferCancelled, now, false); err != nil {
			return attempt, err
		}
		w.metrics.Transfer(ctx, "cancelled")
		return attempt, apperrors.Conflict("verification attempts exhausted, transfer cancelled").
			WithField("status", string(domain.TransferCancelled))

	case verification.Expired:
		w.metrics.VerificationFailure(ctx, string(domain.PurposeTransfer), res.Outcome.String())
		// a used record means a concurrent completion won; the CAS reports it
		if err := w.store.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferExpired, now, false); err != nil {
			return attempt, err
		}
		w.metrics.Transfer(ctx, "expired")
		return attempt, apperrors.Expired("verification code has expired", nil)
	}

	var licenseKey string
	err = w.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferCompleted, now, true); err != nil {
			return err
		}
		if err := w.guard.Bind(tx).Consume(ctx, tr.VerificationID); err != nil {
			return err
		}

		active, err := tx.ActiveActivations(ctx, tr.LicenseID)
		if err != nil {
			return err
		}
		for _, a := range active {
			if err := tx.DeactivateActivation(ctx, a.ID, now); err != nil {
				return err
			}
		}

		lic, err := tx.GetLicense(ctx, tr.LicenseID)
		if err != nil {
			return err
		}
		licenseKey = lic.Key
		return nil
	})
	if err != nil {
		return attempt, err
	}

	tr.Status = domain.TransferCompleted
	tr.CompletedAt = &now
	tr.EmailVerified = true

	w.metrics.Transfer(ctx, "completed")
	w.logger.InfoContext(ctx, "transfer completed",
		slog.String("license_id", tr.LicenseID),
		slog.String("old_hardware", security.MaskHardwareID(tr.OldHardwareID)),
		slog.String("new_hardware", security.MaskHardwareID(tr.NewHardwareID)),
	)
	return &Completion{Transfer: tr, LicenseKey: licenseKey}, nil
}

// Deactivate releases the active device of a license and records a completed
// deactivation. The caller must have authenticated the session.
func (w *Workflow) Deactivate(ctx context.Context, licenseID, email, reason, source string) (*Completion, error) {
	now := w.now().UTC()

	var (
		tr         *domain.Transfer
		licenseKey string
	)
	err := w.store.Transaction(ctx, func(tx *store.Store) error {
		lic, err := tx.LockLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		if lic.Revoked {
			return apperrors.Conflict("license is revoked")
		}

		active, err := tx.ActiveActivations(ctx, lic.ID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return apperrors.Conflict("license has no active device")
		}
		for _, a := range active {
			if err := tx.DeactivateActivation(ctx, a.ID, now); err != nil {
				return err
			}
		}

		pending, err := tx.PendingTransfers(ctx, lic.ID)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if err := tx.TransitionTransfer(ctx, p.ID, domain.TransferPending, domain.TransferCancelled, now, false); err != nil {
				return err
			}
		}

		token, err := newToken()
		if err != nil {
			return apperrors.Internal("generate transfer token", err)
		}
		current := active[len(active)-1]
		tr = &domain.Transfer{
			LicenseID:      lic.ID,
			Token:          token,
			Kind:           domain.TransferKindDeactivation,
			Status:         domain.TransferCompleted,
			OldHardwareID:  current.HardwareID,
			OldMachineName: current.MachineName,
			RequesterEmail: email,
			SourceAddress:  source,
			Reason:         reason,
			RequestedAt:    now,
			CompletedAt:    &now,
		}
		licenseKey = lic.Key
		return tx.CreateTransfer(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	w.metrics.Transfer(ctx, "deactivated")
	w.logger.InfoContext(ctx, "license deactivated",
		slog.String("license_id", licenseID),
		slog.String("hardware", security.MaskHardwareID(tr.OldHardwareID)),
	)
	return &Completion{Transfer: tr, LicenseKey: licenseKey}, nil
}

// History returns the most recent transfers of a license, newest first. A
// non-positive limit selects the default; larger limits are capped.
func (w *Workflow) History(ctx context.Context, licenseID string, limit int) ([]*domain.Transfer, error) {
	switch {
	case limit <= 0:
		limit = w.historyDefault
	case limit > w.historyMax:
		limit = w.historyMax
	}
	return w.store.ListTransfers(ctx, licenseID, limit)
}

// ExpireStale moves pending transfers older than the window to Expired. The
// state machine expires lazily on access; this sweep only tidies up.
func (w *Workflow) ExpireStale(ctx context.Context) (int, error) {
	pending, err := w.store.AllPendingTransfers(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}

	now := w.now().UTC()
	expired := 0
	for _, tr := range pending {
		if !w.stale(tr, now) {
			continue
		}
		err := w.store.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferExpired, now, false)
		switch {
		case err == nil:
			expired++
		case apperrors.IsKind(err, apperrors.KindConflict):
		default:
			return expired, err
		}
	}
	if expired > 0 {
		w.logger.InfoContext(ctx, "expired stale transfers", slog.Int("count", expired))
	}
	return expired, nil
}

// Run sweeps stale transfers every interval until ctx is cancelled.
func (w *Workflow) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.ExpireStale(ctx); err != nil {
				w.logger.ErrorContext(ctx, "transfer sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// settlePending expires stale pending transfers of a license and rejects the
// request when a live one remains.
func (w *Workflow) settlePending(ctx context.Context, tx *store.Store, licenseID string, now time.Time) error {
	pending, err := tx.PendingTransfers(ctx, licenseID)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if !w.stale(p, now) {
			return apperrors.Conflict("transfer already pending")
		}
		if err := tx.TransitionTransfer(ctx, p.ID, domain.TransferPending, domain.TransferExpired, now, false); err != nil {
			return err
		}
	}
	return nil
}

// abandon cancels a transfer whose code could not be delivered, so the owner
// can retry immediately.
func (w *Workflow) abandon(ctx context.Context, tr *domain.Transfer, v *domain.Verification) {
	now := w.now().UTC()
	err := w.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferCancelled, now, false); err != nil {
			return err
		}
		return w.guard.Bind(tx).Consume(ctx, v.ID)
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to cancel undeliverable transfer",
			slog.String("license_id", tr.LicenseID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Workflow) stale(tr *domain.Transfer, now time.Time) bool {
	return now.Sub(tr.RequestedAt) >= w.window
}

func checkUsable(lic *domain.License, now time.Time) error {
	if lic.Revoked {
		return apperrors.Conflict("license is revoked")
	}
	if lic.Expired(now) {
		return apperrors.Expired("license has expired", nil)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// sameDevice compares hardware ids in canonical form. Rows written before ids
// were canonicalized may still carry the dash separator.
func sameDevice(a, b string) bool {
	ca, errA := security.CanonicalHardwareID(a)
	cb, errB := security.CanonicalHardwareID(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ca == cb
}
