package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"licensetrust/internal/certificate"
	"licensetrust/internal/config"
	"licensetrust/internal/infrastructure"
	"licensetrust/internal/store"
	"licensetrust/pkg/contracts"
	"licensetrust/pkg/contracts/domain"
)

// AgentName is the client-side service name used in logs
const AgentName = "certagent"

// Agent is the client-side certificate runtime. Certificates are issued and
// stored locally first, pushed upward by the sync engine and verified local
// first with the trust server as fallback.
type Agent struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         *store.Store
	Issuer        *certificate.Issuer
	Sync          *certificate.SyncEngine
	Verifier      *certificate.Verifier

	closers   []io.Closer
	closeOnce sync.Once
}

// AgentStatus counts local certificates per sync state.
type AgentStatus struct {
	Pending int64 `json:"pending"`
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
	Cached  int64 `json:"cached"`
}

// NewAgent wires the local store, the issuer, the sync engine and the
// verifier from cfg. Only WithLogger and WithStore apply.
func NewAgent(cfg *config.Config, opts ...Option) (_ *Agent, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &Agent{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.closeResources()
		}
	}()

	a.Logger = o.logger
	if a.Logger == nil {
		logger, closer, lerr := infrastructure.NewLogger(cfg.Logging)
		if lerr != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", lerr)
		}
		a.Logger = logger
		a.closers = append(a.closers, closer)
	}
	a.Logger = a.Logger.With(slog.String("service", AgentName))

	if a.OTelProviders, err = infrastructure.InitializeOTel(cfg.Telemetry, a.Logger); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := infrastructure.NewTrustMetrics(a.OTelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = store.Open(cfg.Database, a.Logger); err != nil {
			return nil, fmt.Errorf("failed to open certificate database: %w", err)
		}
	}
	a.closers = append(a.closers, a.Store)

	signer, keys, err := certificate.LoadSigning(cfg.Certificates)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate keys: %w", err)
	}

	client := certificate.NewClient(cfg.Certificates.ServerURL, cfg.Certificates.RequestTimeout)
	a.Sync = certificate.NewSyncEngine(a.Store, client, cfg.Certificates.Sync, metrics, a.Logger)
	a.Issuer = certificate.NewIssuer(a.Store, signer, cfg.Certificates.ClientCode,
		cfg.Certificates.VerificationBaseURL, a.Sync.Notify, metrics, a.Logger)
	a.Verifier = certificate.NewVerifier(a.Store, client, keys, cfg.Certificates.CacheSize, metrics, a.Logger)

	return a, nil
}

// Issue creates, signs and stores a certificate and wakes the sync engine.
func (a *Agent) Issue(ctx context.Context, req certificate.IssueRequest) (*domain.Certificate, error) {
	return a.Issuer.Issue(ctx, req)
}

// Verify checks the certificate with id.
func (a *Agent) Verify(ctx context.Context, id string) (*certificate.Result, error) {
	return a.Verifier.Verify(ctx, id)
}

// SyncOnce runs a single sync pass.
func (a *Agent) SyncOnce(ctx context.Context) (certificate.Report, error) {
	return a.Sync.RunOnce(ctx)
}

// Status reports the local certificate counts.
func (a *Agent) Status(ctx context.Context) (AgentStatus, error) {
	var (
		st  AgentStatus
		err error
	)
	if st.Pending, err = a.Store.CountCertificates(ctx, domain.SyncPending); err != nil {
		return st, err
	}
	if st.Synced, err = a.Store.CountCertificates(ctx, domain.SyncSynced); err != nil {
		return st, err
	}
	if st.Failed, err = a.Store.CountCertificates(ctx, domain.SyncFailed); err != nil {
		return st, err
	}
	st.Cached, err = a.Store.CountCachedCertificates(ctx)
	return st, err
}

// Run syncs until ctx is cancelled, then releases the agent's resources.
func (a *Agent) Run(ctx context.Context) error {
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.Logger.Error("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	ctx = infrastructure.EnsureTraceID(ctx)
	a.Logger.InfoContext(ctx, "Starting certificate agent",
		slog.String("version", contracts.Version),
		slog.String("client_code", a.Config.Certificates.ClientCode),
		slog.String("server_url", a.Config.Certificates.ServerURL),
		slog.Duration("interval", a.Config.Certificates.Sync.Interval),
	)
	return a.Sync.Run(ctx)
}

// Close flushes telemetry and closes the local store. It is safe to call
// more than once.
func (a *Agent) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if a.OTelProviders != nil {
			if serr := a.OTelProviders.Shutdown(ctx); serr != nil {
				err = errors.Join(err, fmt.Errorf("telemetry shutdown: %w", serr))
			}
		}
		err = errors.Join(err, a.closeResources())
	})
	return err
}

func (a *Agent) closeResources() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i].Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	a.closers = nil
	return err
}
