package certificate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

type fakeFetcher struct {
	calls int32
	certs map[string]*domain.Certificate
	err   error
	gate  chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) (*domain.Certificate, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.certs[id]
	if !ok {
		return nil, apperrors.NotFound("certificate")
	}
	cp := *c
	return &cp, nil
}

func remoteCertificate(t *testing.T, id string) *domain.Certificate {
	t.Helper()
	signer, _ := hmacKeys(t, "shared-secret")
	c := sampleCertificate()
	c.ID = id
	parsed, err := ParseID(id)
	require.NoError(t, err)
	c.ClientCode, c.ModuleCode = parsed.ClientCode, parsed.ModuleCode
	require.NoError(t, Sign(c, signer))
	return c
}

func TestVerifyFetchesOnceAndCaches(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, keys := hmacKeys(t, "shared-secret")

	remote := remoteCertificate(t, "WXYZ-RPT-20260301-0009")
	f := &fakeFetcher{certs: map[string]*domain.Certificate{remote.ID: remote}}
	v := NewVerifier(s, f, keys, 16, nil, nil)

	res, err := v.Verify(ctx, remote.ID)
	require.NoError(t, err)
	assert.Equal(t, Valid, res.Verdict)
	assert.Equal(t, SourceRemote, res.Source)

	res, err = v.Verify(ctx, remote.ID)
	require.NoError(t, err)
	assert.Equal(t, Valid, res.Verdict)
	assert.Equal(t, SourceCache, res.Source)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))

	n, err := s.CountCachedCertificates(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// fetched certificates never become sync candidates
	pending, err := s.PendingCertificates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	total, err := s.CountCertificates(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestVerifyNotFoundAndMalformed(t *testing.T) {
	_, keys := hmacKeys(t, "shared-secret")
	v := NewVerifier(newStore(t), &fakeFetcher{}, keys, 16, nil, nil)

	res, err := v.Verify(context.Background(), "WXYZ-RPT-20260301-0001")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Verdict)

	_, err = v.Verify(context.Background(), "not-an-id")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestVerifyOfflineIsNotFound(t *testing.T) {
	_, keys := hmacKeys(t, "shared-secret")
	v := NewVerifier(newStore(t), nil, keys, 16, nil, nil)

	res, err := v.Verify(context.Background(), "WXYZ-RPT-20260301-0001")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Verdict)
}

func TestVerifyTransportErrorIsNotAVerdict(t *testing.T) {
	_, keys := hmacKeys(t, "shared-secret")
	v := NewVerifier(newStore(t), &fakeFetcher{err: apperrors.Internal("unreachable", errors.New("dial tcp"))}, keys, 16, nil, nil)

	res, err := v.Verify(context.Background(), "WXYZ-RPT-20260301-0001")
	assert.Nil(t, res)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestVerifyDetectsTamperedRemote(t *testing.T) {
	_, keys := hmacKeys(t, "shared-secret")
	remote := remoteCertificate(t, "WXYZ-RPT-20260301-0003")
	remote.Metadata = map[string]string{"approved_by": "forged"}

	v := NewVerifier(newStore(t), &fakeFetcher{certs: map[string]*domain.Certificate{remote.ID: remote}}, keys, 16, nil, nil)
	res, err := v.Verify(context.Background(), remote.ID)
	require.NoError(t, err)
	assert.Equal(t, SignatureMismatch, res.Verdict)
}

func TestVerifyRejectsSubstitutedCertificate(t *testing.T) {
	_, keys := hmacKeys(t, "shared-secret")
	other := remoteCertificate(t, "WXYZ-RPT-20260301-0004")

	v := NewVerifier(newStore(t), &fakeFetcher{certs: map[string]*domain.Certificate{"WXYZ-RPT-20260301-0005": other}}, keys, 16, nil, nil)
	res, err := v.Verify(context.Background(), "WXYZ-RPT-20260301-0005")
	require.NoError(t, err)
	assert.Equal(t, SignatureMismatch, res.Verdict)
}

func TestConcurrentVerifyFetchesOnce(t *testing.T) {
	_, keys := hmacKeys(t, "shared-secret")
	remote := remoteCertificate(t, "WXYZ-RPT-20260301-0006")
	f := &fakeFetcher{certs: map[string]*domain.Certificate{remote.ID: remote}, gate: make(chan struct{})}
	v := NewVerifier(newStore(t), f, keys, 16, nil, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := v.Verify(context.Background(), remote.ID)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) == 1 }, time.Second, time.Millisecond)
	// give the other callers time to join the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, Valid, res.Verdict)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&f.calls), int32(2))
}
