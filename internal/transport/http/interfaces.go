package http

import (
	"context"

	api "licensetrust/pkg/contracts/api/v1"
	"licensetrust/pkg/contracts/domain"
)

// PortalService defines the customer portal operations
type PortalService interface {
	Verify(ctx context.Context, req api.VerifyRequest, source string) (*api.VerifyResponse, error)
	RequestTransfer(ctx context.Context, req api.TransferRequest, source string) (*api.TransferResponse, error)
	CompleteTransfer(ctx context.Context, req api.TransferCompleteRequest, source string) (*api.LicenseKeyResponse, error)
	Deactivate(ctx context.Context, req api.DeactivateRequest, source string) (*api.LicenseKeyResponse, error)
	Activate(ctx context.Context, req api.ActivateRequest, source string) (*api.ActivateResponse, error)
	Transfers(ctx context.Context, q api.SessionQuery, source string) (*api.TransferHistoryResponse, error)
	HardwareInfo(ctx context.Context, q api.SessionQuery, source string) (*api.HardwareInfoResponse, error)
}

// CertificateService defines the certificate sync and lookup operations
type CertificateService interface {
	Sync(ctx context.Context, req *api.CertificateSyncRequest, source string) (*api.CertificateSyncResponse, error)
	Get(ctx context.Context, id, source string) (*domain.Certificate, error)
	Verify(ctx context.Context, id, source string) (*api.CertificateVerifyResponse, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}
