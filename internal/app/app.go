package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"licensetrust/internal/audit"
	"licensetrust/internal/certificate"
	"licensetrust/internal/config"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/infrastructure"
	"licensetrust/internal/middleware"
	"licensetrust/internal/notify"
	"licensetrust/internal/ratelimit"
	"licensetrust/internal/services"
	"licensetrust/internal/session"
	"licensetrust/internal/store"
	"licensetrust/internal/transfer"
	transport "licensetrust/internal/transport/http"
	"licensetrust/internal/verification"
	"licensetrust/pkg/contracts"
)

// AppName is the service name used in logs
const AppName = "trustd"

// Option overrides a dependency the application would otherwise build from
// its configuration.
type Option func(*options)

type options struct {
	logger *slog.Logger
	store  *store.Store
	sender notify.CodeSender
	redis  *redis.Client
}

// WithLogger uses logger instead of one built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore uses an already opened store. The application still closes it.
func WithStore(st *store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithCodeSender replaces the configured verification code sender.
func WithCodeSender(sender notify.CodeSender) Option {
	return func(o *options) { o.sender = sender }
}

// WithRedisClient backs the rate limiter with client regardless of the
// redis config section.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redis = client }
}

// pingFunc adapts a function to transport.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Application represents the trust server
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.TrustMetrics
	Store         *store.Store
	Audit         *audit.Recorder
	Workflow      *transfer.Workflow
	Router        chi.Router
	Server        *http.Server

	limiter      ratelimit.Limiter
	memLimiter   *ratelimit.MemoryLimiter
	portal       *services.PortalService
	certificates *services.CertificateService
	checks       map[string]transport.Pinger
	closers      []io.Closer
	closeOnce    sync.Once
}

// NewApplication wires every server component from cfg.
func NewApplication(cfg *config.Config, opts ...Option) (_ *Application, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{
		Config: cfg,
		checks: make(map[string]transport.Pinger),
	}
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

	if a.OTelProviders, err = infrastructure.InitializeOTel(cfg.Telemetry, a.Logger); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if a.Metrics, err = infrastructure.NewTrustMetrics(a.OTelProviders.Meter); err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = store.Open(cfg.Database, a.Logger); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}
	a.closers = append(a.closers, a.Store)
	a.checks["database"] = a.Store

	if err = a.initializeServices(o); err != nil {
		return nil, err
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices builds the trust components on top of the store
func (a *Application) initializeServices(o options) error {
	cfg := a.Config

	a.Audit = audit.NewRecorder(a.Metrics,
		audit.NewSlogLog(a.Logger),
		audit.NewStoreLog(a.Store),
	)

	sessions, err := session.NewService(cfg.Portal.SessionSecret)
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}

	sender := o.sender
	if sender == nil {
		if sender, err = notify.New(cfg.Notify, a.Logger); err != nil {
			return err
		}
	}

	guard := verification.NewGuard(a.Store, cfg.Portal, a.Logger)
	a.Workflow = transfer.NewWorkflow(a.Store, guard, sender, cfg.Portal, a.Metrics, a.Logger)

	client := o.redis
	if client == nil && cfg.Redis.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client)
	}
	if client != nil {
		a.limiter = ratelimit.NewRedisLimiter(client, cfg.Redis.KeyPrefix)
		a.checks["redis"] = pingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	} else {
		a.memLimiter = ratelimit.NewMemoryLimiter(a.Logger)
		a.limiter = a.memLimiter
	}

	// the server only verifies what clients push; it never signs
	_, keys, err := certificate.LoadSigning(cfg.Certificates)
	if err != nil {
		return fmt.Errorf("failed to load certificate keys: %w", err)
	}
	verifier := certificate.NewVerifier(a.Store, nil, keys, cfg.Certificates.CacheSize, a.Metrics, a.Logger)

	a.portal = services.NewPortalService(a.Store, sessions, a.Workflow, a.Audit, a.Logger)
	a.certificates = services.NewCertificateService(a.Store, verifier, a.Audit, a.Logger)
	return nil
}

// setupRouter configures the middleware chain and mounts all routes
func (a *Application) setupRouter() {
	cfg := a.Config
	errs := apperrors.NewErrorHandler(a.Logger, cfg.Logging.Development)
	validator := middleware.NewValidator(cfg.Server.MaxBodyBytes)
	limiter := middleware.NewActionLimiter(a.limiter, a.Audit, a.Metrics, errs, a.Logger)

	r := chi.NewRouter()

	// RequestID → ClientAddress → OTel → Logger → Recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientAddress(cfg.Security.TrustProxy))
	r.Use(middleware.NewTracing(a.OTelProviders.Tracer, a.Metrics).Handler)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(errs.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.Security.AllowedOrigins}))
	}
	if cfg.Security.RateLimit.Enabled {
		r.Use(middleware.NewThrottle(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, errs, a.Logger).Handler)
	}

	r.NotFound(errs.NotFound)
	r.MethodNotAllowed(errs.MethodNotAllowed)

	r.Mount("/health", transport.NewHealthHandler(a.checks, a.Logger).Routes())
	r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)

	portal := transport.NewPortalHandler(a.portal, validator, errs, a.Logger)
	certs := transport.NewCertificateHandler(a.certificates, validator, errs, a.Logger)
	r.Route("/api/"+contracts.APIVersion, func(r chi.Router) {
		r.Mount("/certificates", certs.Routes(limiter, cfg.Limits))
		r.Mount("/", portal.Routes(limiter, cfg.Limits))
	})

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run listens on the configured port and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the background janitors.
// It returns after a graceful shutdown once ctx is cancelled or any of them
// fails, and releases every resource of the application.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.Logger.Error("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "Starting application",
			slog.String("name", AppName),
			slog.String("version", contracts.Version),
			slog.String("address", ln.Addr().String()),
			slog.String("database", a.Config.Database.Driver),
		)
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Workflow.Run(gctx, a.Config.Portal.JanitorInterval)
	})

	if a.memLimiter != nil {
		g.Go(func() error {
			return a.memLimiter.Run(gctx, a.Config.Limits.JanitorInterval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down application")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close flushes telemetry and releases the store, the redis client and the
// log file. It is safe to call more than once.
func (a *Application) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if a.OTelProviders != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
			defer cancel()
			if serr := a.OTelProviders.Shutdown(shutdownCtx); serr != nil {
				err = errors.Join(err, fmt.Errorf("telemetry shutdown: %w", serr))
			}
		}
		err = errors.Join(err, a.closeResources())
	})
	return err
}

// closeResources closes in reverse order of acquisition
func (a *Application) closeResources() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i].Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	a.closers = nil
	return err
}
