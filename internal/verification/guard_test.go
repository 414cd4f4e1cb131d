package verification

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensetrust/internal/config"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/store"
	"licensetrust/pkg/contracts/domain"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newGuard(t *testing.T) (*Guard, *testClock) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewGuard(s, config.Default().Portal, nil).WithClock(clk.Now), clk
}

func wrong(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestIssueCodeFormat(t *testing.T) {
	g, clk := newGuard(t)
	v, err := g.IssueCode(context.Background(), "L1", domain.PurposeTransfer, "owner@acme.test")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), v.Code)
	assert.Equal(t, clk.t.Add(15*time.Minute), v.ExpiresAt)
	assert.NotZero(t, v.ID)
}

func TestIssueCodeRejectsOutstandingCode(t *testing.T) {
	g, clk := newGuard(t)
	ctx := context.Background()

	_, err := g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	require.NoError(t, err)

	_, err = g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	// other purposes and licenses are independent
	_, err = g.IssueCode(ctx, "L1", domain.PurposeDeactivation, "owner@acme.test")
	assert.NoError(t, err)
	_, err = g.IssueCode(ctx, "L2", domain.PurposeTransfer, "owner@acme.test")
	assert.NoError(t, err)

	// once the first code expires a new one may be issued
	clk.t = clk.t.Add(16 * time.Minute)
	_, err = g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	assert.NoError(t, err)
}

func TestCheckAcceptsOnceOnly(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	v, err := g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	require.NoError(t, err)

	res, err := g.Check(ctx, "L1", domain.PurposeTransfer, v.Code)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res.Outcome)

	res, err = g.Check(ctx, "L1", domain.PurposeTransfer, v.Code)
	require.NoError(t, err)
	assert.Equal(t, Expired, res.Outcome)
}

func TestFiveWrongCodesExhaust(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	v, err := g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	require.NoError(t, err)

	for _, remaining := range []int{4, 3, 2, 1} {
		res, err := g.Check(ctx, "L1", domain.PurposeTransfer, wrong(v.Code))
		require.NoError(t, err)
		assert.Equal(t, WrongCode, res.Outcome)
		assert.Equal(t, remaining, res.Remaining)
	}

	res, err := g.Check(ctx, "L1", domain.PurposeTransfer, wrong(v.Code))
	require.NoError(t, err)
	assert.Equal(t, Exhausted, res.Outcome)

	// the sixth submission fails even with the correct code
	res, err = g.Check(ctx, "L1", domain.PurposeTransfer, v.Code)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, res.Outcome)
}

func TestCorrectCodeOnFifthAttempt(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	v, err := g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := g.Check(ctx, "L1", domain.PurposeTransfer, wrong(v.Code))
		require.NoError(t, err)
	}

	res, err := g.Check(ctx, "L1", domain.PurposeTransfer, v.Code)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res.Outcome)
}

func TestExpiredCodeDoesNotCountAttempts(t *testing.T) {
	g, clk := newGuard(t)
	ctx := context.Background()

	v, err := g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	require.NoError(t, err)

	clk.t = clk.t.Add(15 * time.Minute)
	for i := 0; i < 7; i++ {
		res, err := g.Match(ctx, v.ID, wrong(v.Code))
		require.NoError(t, err)
		assert.Equal(t, Expired, res.Outcome)
	}

	res, err := g.Check(ctx, "L1", domain.PurposeTransfer, v.Code)
	require.NoError(t, err)
	assert.Equal(t, Expired, res.Outcome)
	assert.Zero(t, res.Record.FailedAttempts)
}

func TestCheckWithoutCode(t *testing.T) {
	g, _ := newGuard(t)
	res, err := g.Check(context.Background(), "L9", domain.PurposeTransfer, "123456")
	require.NoError(t, err)
	assert.Equal(t, Expired, res.Outcome)
}

func TestMatchLeavesRecordUnused(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	v, err := g.IssueCode(ctx, "L1", domain.PurposeTransfer, "owner@acme.test")
	require.NoError(t, err)

	res, err := g.Match(ctx, v.ID, v.Code)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res.Outcome)

	require.NoError(t, g.Consume(ctx, v.ID))
	assert.True(t, apperrors.IsKind(g.Consume(ctx, v.ID), apperrors.KindConflict))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "wrong_code", WrongCode.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
