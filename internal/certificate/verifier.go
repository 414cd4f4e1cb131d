package certificate

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/infrastructure"
	"licensetrust/pkg/contracts/domain"
)

// Verdict is the outcome of Verify.
type Verdict string

const (
	Valid             Verdict = "valid"
	NotFound          Verdict = "not_found"
	SignatureMismatch Verdict = "signature_mismatch"
)

// Source tells where a verified certificate was found.
type Source string

const (
	SourceLocal  Source = "local"
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// Result is a verdict with the certificate it was reached on.
type Result struct {
	Verdict     Verdict             `json:"verdict"`
	Source      Source              `json:"source,omitempty"`
	Certificate *domain.Certificate `json:"certificate,omitempty"`
}

// LocalRepository is the local lookup surface. *store.Store satisfies it.
type LocalRepository interface {
	GetCertificate(ctx context.Context, id string) (*domain.Certificate, error)
	GetCachedCertificate(ctx context.Context, id string) (*domain.Certificate, error)
	CacheCertificate(ctx context.Context, c *domain.Certificate, maxEntries int, at time.Time) error
}

// Fetcher retrieves a single certificate by id from the server. It returns a
// NotFound error when the server does not know the id.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (*domain.Certificate, error)
}

// Verifier checks certificates local first, then in the verification cache,
// then on the server.
type Verifier struct {
	repo      LocalRepository
	fetcher   Fetcher
	keys      Keyring
	cacheSize int
	group     singleflight.Group
	metrics   *infrastructure.TrustMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewVerifier creates a verifier. fetcher may be nil for offline or
// server-side use.
func NewVerifier(repo LocalRepository, fetcher Fetcher, keys Keyring, cacheSize int, metrics *infrastructure.TrustMetrics, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		repo:      repo,
		fetcher:   fetcher,
		keys:      keys,
		cacheSize: cacheSize,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "certificate_verifier")),
		now:       time.Now,
	}
}

// Verify resolves id and checks its signature. Malformed ids are a
// Validation error; transport failures are returned as errors, never as a
// verdict.
func (v *Verifier) Verify(ctx context.Context, id string) (*Result, error) {
	if _, err := ParseID(id); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "malformed certificate id", err)
	}

	cert, source, err := v.lookup(ctx, id)
	switch {
	case apperrors.IsKind(err, apperrors.KindNotFound):
		v.metrics.CertificateVerified(ctx, string(NotFound))
		return &Result{Verdict: NotFound}, nil
	case apperrors.IsKind(err, apperrors.KindSignatureMismatch):
		v.metrics.CertificateVerified(ctx, string(SignatureMismatch))
		return &Result{Verdict: SignatureMismatch, Source: SourceRemote}, nil
	case err != nil:
		return nil, err
	}

	res := &Result{Verdict: Valid, Source: source, Certificate: cert}
	if err := v.Check(cert); err != nil {
		if !apperrors.IsKind(err, apperrors.KindSignatureMismatch) {
			return nil, err
		}
		res.Verdict = SignatureMismatch
		v.logger.WarnContext(ctx, "certificate signature mismatch",
			slog.String("certificate_id", id),
			slog.String("source", string(source)),
		)
	}
	v.metrics.CertificateVerified(ctx, string(res.Verdict))
	return res, nil
}

// Check verifies the signature of an in-hand certificate, including that its
// id agrees with the signed client and module codes.
func (v *Verifier) Check(c *domain.Certificate) error {
	id, err := ParseID(c.ID)
	if err != nil || id.ClientCode != c.ClientCode || id.ModuleCode != c.ModuleCode {
		return apperrors.SignatureMismatch("certificate id does not match its content")
	}
	return v.keys.VerifySignature(c)
}

func (v *Verifier) lookup(ctx context.Context, id string) (*domain.Certificate, Source, error) {
	cert, err := v.repo.GetCertificate(ctx, id)
	if err == nil {
		return cert, SourceLocal, nil
	}
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, "", err
	}

	cert, err = v.repo.GetCachedCertificate(ctx, id)
	if err == nil {
		return cert, SourceCache, nil
	}
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, "", err
	}

	if v.fetcher == nil {
		return nil, "", apperrors.NotFound("certificate")
	}
	cert, err = v.fetchOnce(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return cert, SourceRemote, nil
}

// fetchOnce deduplicates concurrent fetches of one id and caches the result
// as a single entry.
func (v *Verifier) fetchOnce(ctx context.Context, id string) (*domain.Certificate, error) {
	res, err, _ := v.group.Do(id, func() (interface{}, error) {
		cert, err := v.fetcher.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if cert.ID != id {
			return nil, apperrors.SignatureMismatch("server returned a different certificate")
		}
		if err := v.repo.CacheCertificate(ctx, cert, v.cacheSize, v.now()); err != nil {
			v.logger.WarnContext(ctx, "failed to cache certificate",
				slog.String("certificate_id", id),
				slog.String("error", err.Error()),
			)
		}
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	c := *res.(*domain.Certificate)
	return &c, nil
}
