package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"licensetrust/internal/config"
	"licensetrust/internal/infrastructure"
	"licensetrust/pkg/contracts/domain"
)

// ErrAlreadyExists is returned by a Pusher when the server already holds the
// certificate. The engine treats it as success.
var ErrAlreadyExists = errors.New("certificate already exists")

// PermanentError is a rejection that retrying cannot fix.
type PermanentError struct {
	Status int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("certificate rejected (%d): %s", e.Status, e.Reason)
}

// Pusher sends one certificate upward.
type Pusher interface {
	Push(ctx context.Context, c *domain.Certificate) error
}

// SyncRepository is the store surface of the engine. It has no access to the
// verification cache.
type SyncRepository interface {
	PendingCertificates(ctx context.Context, limit int) ([]*domain.Certificate, error)
	RequeueFailedCertificates(ctx context.Context) (int64, error)
	MarkCertificateSynced(ctx context.Context, id string, at time.Time, attempts int) error
	MarkCertificateFailed(ctx context.Context, id string, status domain.SyncStatus, attempts int, reason string) error
}

// Report summarizes one sync pass.
type Report struct {
	Requeued int64 `json:"requeued"`
	Synced   int   `json:"synced"`
	Deferred int   `json:"deferred"`
	Rejected int   `json:"rejected"`
}

// SyncEngine pushes pending certificates to the server.
type SyncEngine struct {
	repo       SyncRepository
	pusher     Pusher
	backoff    *Backoff
	maxRetries int
	batchSize  int
	interval   time.Duration
	wake       chan struct{}
	sleep      func(ctx context.Context, d time.Duration) error
	metrics    *infrastructure.TrustMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewSyncEngine wires an engine with the configured retry policy.
func NewSyncEngine(repo SyncRepository, pusher Pusher, cfg config.SyncConfig, metrics *infrastructure.TrustMetrics, logger *slog.Logger) *SyncEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncEngine{
		repo:       repo,
		pusher:     pusher,
		backoff:    NewBackoff(cfg),
		maxRetries: cfg.MaxRetries,
		batchSize:  cfg.BatchSize,
		interval:   cfg.Interval,
		wake:       make(chan struct{}, 1),
		sleep:      sleepContext,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "certificate_sync")),
		now:        time.Now,
	}
}

// Notify requests a pass soon. It never blocks.
func (e *SyncEngine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// RunOnce re-queues failed certificates, snapshots the pending set and pushes
// only that snapshot. Certificates created during the pass wait for the next.
func (e *SyncEngine) RunOnce(ctx context.Context) (Report, error) {
	var rep Report

	requeued, err := e.repo.RequeueFailedCertificates(ctx)
	if err != nil {
		return rep, err
	}
	rep.Requeued = requeued

	snapshot, err := e.repo.PendingCertificates(ctx, e.batchSize)
	if err != nil {
		return rep, err
	}

	for _, c := range snapshot {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		attempts, err := e.push(ctx, c)

		var perm *PermanentError
		switch {
		case err == nil:
			if err := e.repo.MarkCertificateSynced(ctx, c.ID, e.now(), attempts); err != nil {
				return rep, err
			}
			rep.Synced++
			e.metrics.SyncPush(ctx, "synced")

		case errors.As(err, &perm):
			if err := e.repo.MarkCertificateFailed(ctx, c.ID, domain.SyncFailed, attempts, perm.Error()); err != nil {
				return rep, err
			}
			rep.Rejected++
			e.metrics.SyncPush(ctx, "rejected")
			e.logger.WarnContext(ctx, "certificate rejected by server",
				slog.String("certificate_id", c.ID),
				slog.Int("status", perm.Status),
			)

		case ctx.Err() != nil:
			return rep, ctx.Err()

		default:
			if err := e.repo.MarkCertificateFailed(ctx, c.ID, domain.SyncPending, attempts, err.Error()); err != nil {
				return rep, err
			}
			rep.Deferred++
			e.metrics.SyncPush(ctx, "deferred")
		}
	}

	if len(snapshot) > 0 {
		e.logger.InfoContext(ctx, "certificate sync pass finished",
			slog.Int("synced", rep.Synced),
			slog.Int("deferred", rep.Deferred),
			slog.Int("rejected", rep.Rejected),
		)
	}
	return rep, nil
}

// push tries one certificate up to maxRetries+1 times. It returns the number
// of attempts made.
func (e *SyncEngine) push(ctx context.Context, c *domain.Certificate) (int, error) {
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if serr := e.sleep(ctx, e.backoff.Delay(attempt-1)); serr != nil {
				return attempt, serr
			}
		}

		err = e.pusher.Push(ctx, c)
		if err == nil || errors.Is(err, ErrAlreadyExists) {
			return attempt + 1, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return attempt + 1, err
		}
		e.logger.DebugContext(ctx, "certificate push failed",
			slog.String("certificate_id", c.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return e.maxRetries + 1, err
}

// Run syncs on every interval tick and on Notify until ctx is cancelled.
func (e *SyncEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "certificate sync pass failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
