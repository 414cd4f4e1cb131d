package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math"
	"time"

	"licensetrust/internal/audit"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/security"
	"licensetrust/internal/session"
	"licensetrust/internal/transfer"
	api "licensetrust/pkg/contracts/api/v1"
	"licensetrust/pkg/contracts/domain"
)

// LicenseReader is the license lookup used by the portal. *store.Store
// satisfies it.
type LicenseReader interface {
	GetLicenseByKey(ctx context.Context, key string) (*domain.License, error)
	GetLicense(ctx context.Context, id string) (*domain.License, error)
}

// PortalService backs the customer portal endpoints.
type PortalService struct {
	licenses LicenseReader
	sessions *session.Service
	workflow *transfer.Workflow
	audit    audit.Log
	logger   *slog.Logger
	now      func() time.Time
}

// NewPortalService creates a portal service.
func NewPortalService(licenses LicenseReader, sessions *session.Service, workflow *transfer.Workflow, auditLog audit.Log, logger *slog.Logger) *PortalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortalService{
		licenses: licenses,
		sessions: sessions,
		workflow: workflow,
		audit:    auditLog,
		logger:   logger.With(slog.String("service", "portal")),
		now:      time.Now,
	}
}

// WithClock returns a copy of s using now as its time source.
func (s *PortalService) WithClock(now func() time.Time) *PortalService {
	c := *s
	c.now = now
	return &c
}

// errBadCredentials is returned for unknown keys and wrong emails alike so
// the response does not reveal which one was wrong.
func errBadCredentials() error {
	return apperrors.Unauthenticated("invalid license key or email")
}

// Verify checks a license key and email pair and issues a session token.
func (s *PortalService) Verify(ctx context.Context, req api.VerifyRequest, source string) (resp *api.VerifyResponse, err error) {
	actor := req.Email
	defer func() { s.record(ctx, actor, audit.ActionVerify, source, err, "") }()

	lic, err := s.licenses.GetLicenseByKey(ctx, req.LicenseKey)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, errBadCredentials()
	}
	if err != nil {
		return nil, err
	}
	if !sameEmail(lic.CustomerEmail, req.Email) {
		return nil, errBadCredentials()
	}
	if req.SupportCode != "" && lic.SupportCode != "" &&
		subtle.ConstantTimeCompare([]byte(req.SupportCode), []byte(lic.SupportCode)) != 1 {
		return nil, errBadCredentials()
	}

	now := s.now().UTC()
	resp = &api.VerifyResponse{
		License:      snapshot(lic, now),
		SessionToken: s.sessions.Issue(lic.ID, req.Email),
		ValidUntil:   now.Truncate(session.BucketSize).Add(2 * session.BucketSize),
	}

	device, err := s.workflow.ActiveDevice(ctx, lic.ID)
	switch {
	case err == nil:
		info := deviceInfo(device)
		resp.ActiveDevice = &info
	case !apperrors.IsKind(err, apperrors.KindNotFound):
		return nil, err
	}
	return resp, nil
}

// RequestTransfer opens a transfer to new hardware. The verification code is
// sent out of band and never included in the response.
func (s *PortalService) RequestTransfer(ctx context.Context, req api.TransferRequest, source string) (resp *api.TransferResponse, err error) {
	defer func() { s.record(ctx, req.Email, audit.ActionTransferRequest, source, err, req.LicenseID) }()

	if err := s.authenticate(req.SessionRequest); err != nil {
		return nil, err
	}
	ticket, err := s.workflow.RequestTransfer(ctx, transfer.Request{
		LicenseID:      req.LicenseID,
		Email:          req.Email,
		NewHardwareID:  req.NewHardwareID,
		NewMachineName: req.NewMachineName,
		Reason:         req.Reason,
		SourceAddress:  source,
	})
	if err != nil {
		return nil, err
	}
	return &api.TransferResponse{
		TransferToken:     ticket.Token,
		CodeExpiresAt:     ticket.CodeExpiresAt,
		TransferExpiresAt: ticket.TransferExpiresAt,
		Message:           fmt.Sprintf("A verification code was sent to %s", security.MaskEmail(req.Email)),
	}, nil
}

// CompleteTransfer submits the emailed code for a pending transfer.
func (s *PortalService) CompleteTransfer(ctx context.Context, req api.TransferCompleteRequest, source string) (resp *api.LicenseKeyResponse, err error) {
	var actor, detail string
	defer func() { s.record(ctx, actor, audit.ActionTransferComplete, source, err, detail) }()

	done, err := s.workflow.CompleteTransfer(ctx, req.TransferToken, req.Code)
	if done != nil && done.Transfer != nil {
		actor = done.Transfer.RequesterEmail
		detail = done.Transfer.LicenseID
	}
	if err != nil {
		return nil, err
	}
	return &api.LicenseKeyResponse{
		Success:    true,
		LicenseKey: done.LicenseKey,
		Message:    "Transfer completed. Activate the license on the new device with this key.",
	}, nil
}

// Deactivate releases the active device of an authenticated license.
func (s *PortalService) Deactivate(ctx context.Context, req api.DeactivateRequest, source string) (resp *api.LicenseKeyResponse, err error) {
	defer func() { s.record(ctx, req.Email, audit.ActionDeactivate, source, err, req.LicenseID) }()

	if err := s.authenticate(req.SessionRequest); err != nil {
		return nil, err
	}
	done, err := s.workflow.Deactivate(ctx, req.LicenseID, req.Email, req.Reason, source)
	if err != nil {
		return nil, err
	}
	return &api.LicenseKeyResponse{
		Success:    true,
		LicenseKey: done.LicenseKey,
		Message:    "License deactivated. It can be activated on another device with this key.",
	}, nil
}

// Activate binds a license key to the calling device.
func (s *PortalService) Activate(ctx context.Context, req api.ActivateRequest, source string) (resp *api.ActivateResponse, err error) {
	actor := "key:" + security.MaskSecret(req.LicenseKey)
	defer func() {
		s.record(ctx, actor, audit.ActionActivate, source, err, security.MaskHardwareID(req.HardwareID))
	}()

	res, err := s.workflow.Activate(ctx, transfer.ActivationRequest{
		LicenseKey:    req.LicenseKey,
		HardwareID:    req.HardwareID,
		MachineName:   req.MachineName,
		AppVersion:    req.AppVersion,
		OSVersion:     req.OSVersion,
		SourceAddress: source,
	})
	if err != nil {
		return nil, err
	}
	actor = res.License.CustomerEmail
	return &api.ActivateResponse{
		License:     snapshot(res.License, s.now().UTC()),
		Device:      deviceInfo(res.Activation),
		Reactivated: res.Reactivated,
	}, nil
}

// Transfers returns the transfer history of an authenticated license.
func (s *PortalService) Transfers(ctx context.Context, q api.SessionQuery, source string) (resp *api.TransferHistoryResponse, err error) {
	defer func() { s.record(ctx, q.Email, audit.ActionTransfers, source, err, q.LicenseID) }()

	if err := s.authenticate(sessionOf(q)); err != nil {
		return nil, err
	}
	records, err := s.workflow.History(ctx, q.LicenseID, q.Limit)
	if err != nil {
		return nil, err
	}

	resp = &api.TransferHistoryResponse{
		LicenseID: q.LicenseID,
		Transfers: make([]api.TransferHistoryEntry, 0, len(records)),
	}
	for _, t := range records {
		resp.Transfers = append(resp.Transfers, api.TransferHistoryEntry{
			Kind:           t.Kind,
			Status:         t.Status,
			OldHardwareID:  security.MaskHardwareID(t.OldHardwareID),
			NewHardwareID:  maskOptional(t.NewHardwareID),
			OldMachineName: t.OldMachineName,
			NewMachineName: t.NewMachineName,
			Reason:         t.Reason,
			RequestedAt:    t.RequestedAt,
			CompletedAt:    t.CompletedAt,
			EmailVerified:  t.EmailVerified,
		})
	}
	resp.Count = len(resp.Transfers)
	return resp, nil
}

// HardwareInfo describes the active device with every component masked.
func (s *PortalService) HardwareInfo(ctx context.Context, q api.SessionQuery, source string) (resp *api.HardwareInfoResponse, err error) {
	defer func() { s.record(ctx, q.Email, audit.ActionHardwareInfo, source, err, q.LicenseID) }()

	if err := s.authenticate(sessionOf(q)); err != nil {
		return nil, err
	}
	resp = &api.HardwareInfoResponse{LicenseID: q.LicenseID, IPAddress: security.MaskIP("")}

	device, err := s.workflow.ActiveDevice(ctx, q.LicenseID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.Activated = true
	resp.MachineName = device.MachineName
	resp.IPAddress = security.MaskIP(device.SourceAddress)
	last := device.LastSeenAt
	resp.LastSeenAt = &last
	if fp, perr := security.ParseFingerprint(device.HardwareID); perr == nil {
		m := fp.MaskedComponents()
		resp.Components = api.HardwareComponents{
			Processor: m.Processor,
			Mainboard: m.Mainboard,
			Network:   m.Network,
			Storage:   m.Storage,
		}
	} else {
		resp.Components.Processor = security.MaskComponent(device.HardwareID)
	}
	return resp, nil
}

func (s *PortalService) authenticate(req api.SessionRequest) error {
	if !s.sessions.Validate(req.SessionToken, req.LicenseID, req.Email) {
		return apperrors.Unauthenticated("invalid or expired session")
	}
	return nil
}

// record writes the outcome of an operation to the audit log.
func (s *PortalService) record(ctx context.Context, actor, action, source string, err error, detail string) {
	if err != nil {
		detail = joinDetail(detail, string(apperrors.KindOf(err)))
	}
	if aerr := s.audit.Record(ctx, audit.Event(actor, action, source, err == nil, detail)); aerr != nil {
		s.logger.ErrorContext(ctx, "failed to write audit event",
			slog.String("action", action),
			slog.String("error", aerr.Error()),
		)
	}
}

func snapshot(lic *domain.License, now time.Time) api.LicenseSnapshot {
	days := int(math.Ceil(lic.ExpiresAt.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return api.LicenseSnapshot{
		LicenseID:        lic.ID,
		CustomerName:     lic.CustomerName,
		Email:            security.MaskEmail(lic.CustomerEmail),
		Status:           lic.Status(now),
		ExpiresAt:        lic.ExpiresAt,
		DaysLeft:         days,
		LicenseType:      lic.LicenseType,
		SubscriptionType: lic.SubscriptionType,
	}
}

func deviceInfo(a *domain.Activation) api.DeviceInfo {
	return api.DeviceInfo{
		HardwareID:  security.MaskHardwareID(a.HardwareID),
		MachineName: a.MachineName,
		ActivatedAt: a.ActivatedAt,
		LastSeenAt:  a.LastSeenAt,
		AppVersion:  a.AppVersion,
	}
}

func sessionOf(q api.SessionQuery) api.SessionRequest {
	return api.SessionRequest{SessionToken: q.SessionToken, LicenseID: q.LicenseID, Email: q.Email}
}

func sameEmail(a, b string) bool {
	return subtle.ConstantTimeCompare(
		[]byte(session.NormalizeEmail(a)),
		[]byte(session.NormalizeEmail(b)),
	) == 1
}

func maskOptional(hardwareID string) string {
	if hardwareID == "" {
		return ""
	}
	return security.MaskHardwareID(hardwareID)
}

func joinDetail(detail, kind string) string {
	if detail == "" {
		return kind
	}
	return detail + " " + kind
}
