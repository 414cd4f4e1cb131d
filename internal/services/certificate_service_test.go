package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensetrust/internal/audit"
	"licensetrust/internal/certificate"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/store"
	api "licensetrust/pkg/contracts/api/v1"
	"licensetrust/pkg/contracts/domain"
)

type certFixture struct {
	server  *store.Store
	service *CertificateService
	issuer  *certificate.Issuer
	signer  certificate.Signer
}

func newCertFixture(t *testing.T) *certFixture {
	t.Helper()
	open := func() *store.Store {
		s, err := store.OpenMemory()
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
	server, client := open(), open()

	signer, err := certificate.NewHMACSigner("shared-secret")
	require.NoError(t, err)
	keys := certificate.Keyring{}
	keys.Add(signer)

	verifier := certificate.NewVerifier(server, nil, keys, 16, nil, nil)
	svc := NewCertificateService(server, verifier, audit.NewRecorder(nil, audit.NewStoreLog(server)), nil)
	issuer := certificate.NewIssuer(client, signer, "ACME", "https://verify.example.test/c", nil, nil, nil).
		WithClock(func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) })

	return &certFixture{server: server, service: svc, issuer: issuer, signer: signer}
}

func (f *certFixture) issue(t *testing.T) *domain.Certificate {
	t.Helper()
	c, err := f.issuer.Issue(context.Background(), certificate.IssueRequest{
		LicenseID: "L1", ModuleCode: "RPT", ProjectID: "P-7", DataHash: "9f86d081", Metadata: map[string]string{"approved_by": "lead"},
	})
	require.NoError(t, err)
	return c
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newCertFixture(t)
	ctx := context.Background()
	c := f.issue(t)

	first, err := f.service.Sync(ctx, &api.CertificateSyncRequest{Certificate: *c}, "10.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, certificate.SyncStatusCreated, first.Status)

	second, err := f.service.Sync(ctx, &api.CertificateSyncRequest{Certificate: *c}, "10.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, certificate.SyncStatusAlreadyExists, second.Status)

	stored, err := f.server.GetCertificate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, stored.SyncStatus)
	assert.NotNil(t, stored.SyncedAt)

	synced, err := f.server.CountCertificates(ctx, domain.SyncSynced)
	require.NoError(t, err)
	assert.EqualValues(t, 1, synced)
}

func TestSyncRejectsBadCertificates(t *testing.T) {
	f := newCertFixture(t)
	ctx := context.Background()
	c := f.issue(t)

	t.Run("malformed id", func(t *testing.T) {
		bad := *c
		bad.ID = "ACME-RPT-0001"
		_, err := f.service.Sync(ctx, &api.CertificateSyncRequest{Certificate: bad}, "")
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	})

	t.Run("tampered content", func(t *testing.T) {
		bad := *c
		bad.ProjectID = "P-8"
		_, err := f.service.Sync(ctx, &api.CertificateSyncRequest{Certificate: bad}, "")
		assert.True(t, apperrors.IsKind(err, apperrors.KindSignatureMismatch))
	})

	t.Run("id reused with other content", func(t *testing.T) {
		_, err := f.service.Sync(ctx, &api.CertificateSyncRequest{Certificate: *c}, "")
		require.NoError(t, err)

		other := *c
		other.DataHash = "deadbeef"
		require.NoError(t, certificate.Sign(&other, f.signer))
		_, err = f.service.Sync(ctx, &api.CertificateSyncRequest{Certificate: other}, "")
		assert.True(t, apperrors.IsKind(err, apperrors.KindSignatureMismatch))
	})

	events, err := f.server.ListAudit(ctx, audit.ActionCertificateSync, 10)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestGetAndVerifyCertificate(t *testing.T) {
	f := newCertFixture(t)
	ctx := context.Background()
	c := f.issue(t)
	_, err := f.service.Sync(ctx, &api.CertificateSyncRequest{Certificate: *c}, "")
	require.NoError(t, err)

	got, err := f.service.Get(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, c.Signature, got.Signature)

	verdict, err := f.service.Verify(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, string(certificate.Valid), verdict.Verdict)
	require.NotNil(t, verdict.Certificate)

	missing, err := f.service.Verify(ctx, "ACME-RPT-20260504-0099", "")
	require.NoError(t, err)
	assert.Equal(t, string(certificate.NotFound), missing.Verdict)
	assert.Nil(t, missing.Certificate)

	_, err = f.service.Get(ctx, "ACME-RPT-20260504-0099", "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	_, err = f.service.Verify(ctx, "not-an-id", "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}
