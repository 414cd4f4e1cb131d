package certificate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/infrastructure"
	"licensetrust/internal/store"
	"licensetrust/pkg/contracts/domain"
)

// IssueRequest describes a completed unit of work.
type IssueRequest struct {
	LicenseID  string
	ModuleCode string
	ProjectID  string
	DataHash   string
	Metadata   map[string]string
}

// Issuer numbers, signs and stores new certificates.
type Issuer struct {
	store      *store.Store
	signer     Signer
	clientCode string
	baseURL    string
	notify     func()
	metrics    *infrastructure.TrustMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewIssuer creates an issuer for clientCode. notify, if set, is called after
// each issuance to wake the sync engine.
func NewIssuer(st *store.Store, signer Signer, clientCode, verificationBaseURL string, notify func(), metrics *infrastructure.TrustMetrics, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		store:      st,
		signer:     signer,
		clientCode: clientCode,
		baseURL:    strings.TrimRight(verificationBaseURL, "/"),
		notify:     notify,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "certificate_issuer")),
		now:        time.Now,
	}
}

// WithClock returns a copy of i using now as its time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	c := *i
	c.now = now
	return &c
}

// Issue creates a signed certificate with the next sequence number of the day
// and stores it as pending sync.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*domain.Certificate, error) {
	if i.signer == nil {
		return nil, apperrors.Internal("certificate signing key not configured", nil)
	}
	if !ValidModuleCode(req.ModuleCode) {
		return nil, apperrors.Validation("module code must be 3 characters [A-Z0-9]")
	}
	if req.LicenseID == "" || req.DataHash == "" {
		return nil, apperrors.Validation("license id and data hash are required")
	}

	created := i.now().UTC().Truncate(time.Second)
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	var cert *domain.Certificate
	err := i.store.Transaction(ctx, func(tx *store.Store) error {
		seq, err := tx.NextCertificateSequence(ctx, i.clientCode, req.ModuleCode, created.Format(dayLayout))
		if err != nil {
			return err
		}
		id := ID{ClientCode: i.clientCode, ModuleCode: req.ModuleCode, Day: created, Sequence: seq}.String()

		cert = &domain.Certificate{
			ID:         id,
			LicenseID:  req.LicenseID,
			ClientCode: i.clientCode,
			ModuleCode: req.ModuleCode,
			ProjectID:  req.ProjectID,
			DataHash:   req.DataHash,
			Metadata:   metadata,
			CreatedAt:  created,
			SyncStatus: domain.SyncPending,
		}
		if i.baseURL != "" {
			cert.VerificationURL = i.baseURL + "/" + id
		}
		if err := Sign(cert, i.signer); err != nil {
			return apperrors.Internal("sign certificate", err)
		}
		return tx.CreateCertificate(ctx, cert)
	})
	if err != nil {
		return nil, err
	}

	i.metrics.CertificateIssued(ctx, req.ModuleCode)
	i.logger.InfoContext(ctx, "certificate issued",
		slog.String("certificate_id", cert.ID),
		slog.String("algorithm", cert.Algorithm),
	)
	if i.notify != nil {
		i.notify()
	}
	return cert, nil
}
