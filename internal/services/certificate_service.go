package services

import (
	"context"
	"log/slog"
	"time"

	"licensetrust/internal/audit"
	"licensetrust/internal/certificate"
	apperrors "licensetrust/internal/errors"
	api "licensetrust/pkg/contracts/api/v1"
	"licensetrust/pkg/contracts/domain"
)

// CertificateStore is the server-side certificate persistence. *store.Store
// satisfies it.
type CertificateStore interface {
	InsertCertificateIfAbsent(ctx context.Context, c *domain.Certificate) (bool, error)
	GetCertificate(ctx context.Context, id string) (*domain.Certificate, error)
}

// CertificateService is the server end of certificate sync and the public
// lookup used by verification links.
type CertificateService struct {
	store    CertificateStore
	verifier *certificate.Verifier
	audit    audit.Log
	logger   *slog.Logger
	now      func() time.Time
}

// NewCertificateService creates a certificate service. The verifier must not
// have a remote fetcher; the server is the end of the lookup chain.
func NewCertificateService(st CertificateStore, verifier *certificate.Verifier, auditLog audit.Log, logger *slog.Logger) *CertificateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertificateService{
		store:    st,
		verifier: verifier,
		audit:    auditLog,
		logger:   logger.With(slog.String("service", "certificate")),
		now:      time.Now,
	}
}

// Sync accepts a certificate pushed by a client. Pushing an id twice with the
// same content answers already_exists; the same id with different content is
// rejected as a signature mismatch.
func (s *CertificateService) Sync(ctx context.Context, req *api.CertificateSyncRequest, source string) (resp *api.CertificateSyncResponse, err error) {
	defer func() { s.record(ctx, req.LicenseID, audit.ActionCertificateSync, source, err, req.ID) }()

	if _, err := certificate.ParseID(req.ID); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "malformed certificate id", err)
	}

	cert := req.Certificate
	cert.CreatedAt = cert.CreatedAt.UTC()
	if err := s.verifier.Check(&cert); err != nil {
		return nil, err
	}

	syncedAt := s.now().UTC()
	cert.SyncStatus = domain.SyncSynced
	cert.SyncedAt = &syncedAt
	cert.SyncAttempts = 0
	cert.LastSyncError = ""

	created, err := s.store.InsertCertificateIfAbsent(ctx, &cert)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.InfoContext(ctx, "certificate synced",
			slog.String("certificate_id", cert.ID),
			slog.String("module", cert.ModuleCode),
		)
		return &api.CertificateSyncResponse{CertificateID: cert.ID, Status: certificate.SyncStatusCreated}, nil
	}

	existing, err := s.store.GetCertificate(ctx, cert.ID)
	if err != nil {
		return nil, err
	}
	if existing.Signature != cert.Signature || existing.Algorithm != cert.Algorithm {
		return nil, apperrors.SignatureMismatch("certificate id is already registered with different content")
	}
	return &api.CertificateSyncResponse{CertificateID: cert.ID, Status: certificate.SyncStatusAlreadyExists}, nil
}

// Get returns a single certificate by id.
func (s *CertificateService) Get(ctx context.Context, id, source string) (cert *domain.Certificate, err error) {
	var actor string
	defer func() { s.record(ctx, actor, audit.ActionCertificateFetch, source, err, id) }()

	if _, err := certificate.ParseID(id); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "malformed certificate id", err)
	}
	cert, err = s.store.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	actor = cert.LicenseID
	return cert, nil
}

// Verify returns the verdict for a certificate id. NotFound and
// SignatureMismatch are verdicts, not errors.
func (s *CertificateService) Verify(ctx context.Context, id, source string) (resp *api.CertificateVerifyResponse, err error) {
	var actor, detail string
	defer func() { s.record(ctx, actor, audit.ActionCertificateVerify, source, err, detail) }()

	res, err := s.verifier.Verify(ctx, id)
	if err != nil {
		detail = id
		return nil, err
	}
	detail = id + " " + string(res.Verdict)

	resp = &api.CertificateVerifyResponse{CertificateID: id, Verdict: string(res.Verdict)}
	if res.Certificate != nil {
		actor = res.Certificate.LicenseID
	}
	if res.Verdict == certificate.Valid {
		resp.Certificate = res.Certificate
	}
	return resp, nil
}

func (s *CertificateService) record(ctx context.Context, actor, action, source string, err error, detail string) {
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
