package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedLicense(t *testing.T, s *Store, id string) *domain.License {
	t.Helper()
	l := &domain.License{
		ID:            id,
		Key:           "KEY-" + id,
		CustomerName:  "Acme",
		CustomerEmail: "owner@acme.test",
		ExpiresAt:     time.Now().Add(365 * 24 * time.Hour).UTC(),
		LicenseType:   "professional",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.CreateLicense(context.Background(), l))
	return l
}

func TestLicenseLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLicense(t, s, "L1")

	l, err := s.GetLicenseByKey(ctx, "KEY-L1")
	require.NoError(t, err)
	assert.Equal(t, "L1", l.ID)
	assert.Equal(t, "owner@acme.test", l.CustomerEmail)

	_, err = s.GetLicense(ctx, "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	require.NoError(t, s.SetLicenseRevoked(ctx, "L1", true))
	l, err = s.LockLicense(ctx, "L1")
	require.NoError(t, err)
	assert.True(t, l.Revoked)
}

func TestDuplicateLicenseKeyIsConflict(t *testing.T) {
	s := newTestStore(t)
	seedLicense(t, s, "L1")

	err := s.CreateLicense(context.Background(), &domain.License{ID: "L2", Key: "KEY-L1", CustomerEmail: "x@y.z", ExpiresAt: time.Now()})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestActivationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLicense(t, s, "L1")

	now := time.Now().UTC()
	a := &domain.Activation{LicenseID: "L1", HardwareID: "a|b|c|d", ActivatedAt: now, LastSeenAt: now}
	require.NoError(t, s.CreateActivation(ctx, a))
	require.NotZero(t, a.ID)

	active, err := s.ActiveActivation(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)

	require.NoError(t, s.DeactivateActivation(ctx, a.ID, now))
	err = s.DeactivateActivation(ctx, a.ID, now)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	_, err = s.ActiveActivation(ctx, "L1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	all, err := s.Activations(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deactivated)
	require.NotNil(t, all[0].DeactivatedAt)
}

func TestTransitionTransferIsCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLicense(t, s, "L1")

	tr := &domain.Transfer{
		LicenseID:   "L1",
		Token:       "tok",
		Kind:        domain.TransferKindTransfer,
		Status:      domain.TransferPending,
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateTransfer(ctx, tr))

	require.NoError(t, s.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferCompleted, time.Now(), true))
	err := s.TransitionTransfer(ctx, tr.ID, domain.TransferPending, domain.TransferCancelled, time.Now(), false)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	got, err := s.GetTransferByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, got.Status)
	assert.True(t, got.EmailVerified)
	assert.NotNil(t, got.CompletedAt)
}

func TestListTransfersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLicense(t, s, "L1")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateTransfer(ctx, &domain.Transfer{
			LicenseID:   "L1",
			Token:       fmt.Sprintf("tok-%d", i),
			Kind:        domain.TransferKindDeactivation,
			Status:      domain.TransferCompleted,
			RequestedAt: time.Now().UTC(),
		}))
	}

	list, err := s.ListTransfers(ctx, "L1", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "tok-4", list[0].Token)
	assert.Equal(t, "tok-2", list[2].Token)
}

func TestIncrementFailedAttemptsStopsAtCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := &domain.Verification{
		LicenseID: "L1",
		Purpose:   domain.PurposeTransfer,
		Email:     "owner@acme.test",
		Code:      "123456",
		ExpiresAt: time.Now().Add(15 * time.Minute),
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateVerification(ctx, v))

	for i := 0; i < 5; i++ {
		ok, err := s.IncrementFailedAttempts(ctx, v.ID, 5)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.IncrementFailedAttempts(ctx, v.ID, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetVerification(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FailedAttempts)

	err = s.MarkVerificationUsed(ctx, v.ID, 5)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "exhausted code cannot be consumed")
}

func TestMarkVerificationUsedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := &domain.Verification{LicenseID: "L1", Purpose: domain.PurposeTransfer, Email: "e@x.io", Code: "000001", ExpiresAt: time.Now().Add(time.Minute), CreatedAt: time.Now()}
	require.NoError(t, s.CreateVerification(ctx, v))

	require.NoError(t, s.MarkVerificationUsed(ctx, v.ID, 5))
	assert.Error(t, s.MarkVerificationUsed(ctx, v.ID, 5))

	ok, err := s.IncrementFailedAttempts(ctx, v.ID, 5)
	require.NoError(t, err)
	assert.False(t, ok, "used codes never count attempts")
}

func TestTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLicense(t, s, "L1")

	err := s.Transaction(ctx, func(tx *Store) error {
		require.NoError(t, tx.CreateTransfer(ctx, &domain.Transfer{
			LicenseID: "L1", Token: "rolled-back", Kind: domain.TransferKindTransfer,
			Status: domain.TransferPending, RequestedAt: time.Now(),
		}))
		return apperrors.Conflict("abort")
	})
	require.Error(t, err)

	_, err = s.GetTransferByToken(ctx, "rolled-back")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestAuditAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, &domain.AuditEvent{Actor: "a@x.io", Action: "verify", Success: false, At: time.Now()}))
	require.NoError(t, s.AppendAudit(ctx, &domain.AuditEvent{Actor: "a@x.io", Action: "deactivate", Success: true, At: time.Now()}))

	all, err := s.ListAudit(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "deactivate", all[0].Action)

	verify, err := s.ListAudit(ctx, "verify", 10)
	require.NoError(t, err)
	require.Len(t, verify, 1)
	assert.False(t, verify[0].Success)
}
