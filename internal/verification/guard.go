// Package verification gates sensitive license changes behind short-lived,
// single-use numeric codes with a bounded number of attempts.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"licensetrust/internal/config"
	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

// Outcome is the verdict of a code check.
type Outcome int

const (
	Accepted Outcome = iota
	WrongCode
	Expired
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case WrongCode:
		return "wrong_code"
	case Expired:
		return "expired"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Result carries the outcome and, for WrongCode, the attempts left.
type Result struct {
	Outcome   Outcome
	Remaining int
	Record    *domain.Verification
}

// Repository is the persistence the guard needs. *store.Store satisfies it,
// inside or outside a transaction.
type Repository interface {
	CreateVerification(ctx context.Context, v *domain.Verification) error
	GetVerification(ctx context.Context, id uint) (*domain.Verification, error)
	LatestVerification(ctx context.Context, licenseID string, purpose domain.VerificationPurpose) (*domain.Verification, error)
	UnusedVerifications(ctx context.Context, licenseID string, purpose domain.VerificationPurpose, maxAttempts int) ([]*domain.Verification, error)
	IncrementFailedAttempts(ctx context.Context, id uint, maxAttempts int) (bool, error)
	MarkVerificationUsed(ctx context.Context, id uint, maxAttempts int) error
}

// Guard issues and checks verification codes.
type Guard struct {
	repo        Repository
	ttl         time.Duration
	window      time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// NewGuard builds a guard from the portal configuration.
func NewGuard(repo Repository, cfg config.PortalConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		repo:        repo,
		ttl:         cfg.CodeTTL,
		window:      cfg.CodeWindow,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "verification")),
	}
}

// WithClock returns a copy of g using now as its time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	c := *g
	c.now = now
	return &c
}

// Bind returns a copy of g that persists through repo, typically a
// transaction-scoped store.
func (g *Guard) Bind(repo Repository) *Guard {
	c := *g
	c.repo = repo
	return &c
}

// MaxAttempts is the number of wrong submissions a code tolerates.
func (g *Guard) MaxAttempts() int {
	return g.maxAttempts
}

// Prepare runs the issuance checks and returns an unsaved record with a fresh
// code. A live code for the same (license, purpose) issued within the window
// is a Conflict.
func (g *Guard) Prepare(ctx context.Context, licenseID string, purpose domain.VerificationPurpose, email string) (*domain.Verification, error) {
	now := g.now().UTC()

	open, err := g.repo.UnusedVerifications(ctx, licenseID, purpose, g.maxAttempts)
	if err != nil {
		return nil, err
	}
	for _, v := range open {
		if !v.Expired(now) && now.Sub(v.CreatedAt) < g.window {
			return nil, apperrors.Conflict("a verification code is already outstanding")
		}
	}

	code, err := generateCode()
	if err != nil {
		return nil, apperrors.Internal("generate verification code", err)
	}
	return &domain.Verification{
		LicenseID: licenseID,
		Purpose:   purpose,
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(g.ttl),
		CreatedAt: now,
	}, nil
}

// IssueCode prepares and persists a new code.
func (g *Guard) IssueCode(ctx context.Context, licenseID string, purpose domain.VerificationPurpose, email string) (*domain.Verification, error) {
	v, err := g.Prepare(ctx, licenseID, purpose, email)
	if err != nil {
		return nil, err
	}
	if err := g.repo.CreateVerification(ctx, v); err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "verification code issued",
		slog.String("license_id", licenseID),
		slog.String("purpose", string(purpose)),
		slog.Time("expires_at", v.ExpiresAt),
	)
	return v, nil
}

// Check evaluates code against the newest record for (license, purpose) and
// consumes it on a match.
func (g *Guard) Check(ctx context.Context, licenseID string, purpose domain.VerificationPurpose, code string) (Result, error) {
	v, err := g.repo.LatestVerification(ctx, licenseID, purpose)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return Result{Outcome: Expired}, nil
		}
		return Result{}, err
	}

	res, err := g.Match(ctx, v.ID, code)
	if err != nil || res.Outcome != Accepted {
		return res, err
	}
	if err := g.Consume(ctx, v.ID); err != nil {
		if apperrors.IsKind(err, apperrors.KindConflict) {
			return Result{Outcome: Expired, Record: res.Record}, nil
		}
		return Result{}, err
	}
	return res, nil
}

// Match evaluates code against record id. A mismatch atomically counts one
// failed attempt; a match leaves consumption to the caller.
func (g *Guard) Match(ctx context.Context, id uint, code string) (Result, error) {
	v, err := g.repo.GetVerification(ctx, id)
	if err != nil {
		return Result{}, err
	}

	if res, done := g.terminal(v); done {
		return res, nil
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(v.Code)) == 1 {
		return Result{Outcome: Accepted, Record: v}, nil
	}

	counted, err := g.repo.IncrementFailedAttempts(ctx, v.ID, g.maxAttempts)
	if err != nil {
		return Result{}, err
	}
	if !counted {
		// lost a race against a concurrent attempt or consumption
		v, err = g.repo.GetVerification(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if res, done := g.terminal(v); done {
			return res, nil
		}
		return Result{Outcome: Exhausted, Record: v}, nil
	}

	v.FailedAttempts++
	remaining := g.maxAttempts - v.FailedAttempts
	g.logger.WarnContext(ctx, "verification code mismatch",
		slog.Uint64("verification_id", uint64(v.ID)),
		slog.Int("remaining_attempts", remaining),
	)
	if remaining <= 0 {
		return Result{Outcome: Exhausted, Record: v}, nil
	}
	return Result{Outcome: WrongCode, Remaining: remaining, Record: v}, nil
}

// Consume marks record id used. A record that is already used or exhausted
// yields Conflict.
func (g *Guard) Consume(ctx context.Context, id uint) error {
	return g.repo.MarkVerificationUsed(ctx, id, g.maxAttempts)
}

// terminal classifies records that can no longer accept any code.
func (g *Guard) terminal(v *domain.Verification) (Result, bool) {
	switch {
	case v.FailedAttempts >= g.maxAttempts:
		return Result{Outcome: Exhausted, Record: v}, true
	case v.Used, v.Expired(g.now()):
		return Result{Outcome: Expired, Record: v}, true
	}
	return Result{}, false
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
