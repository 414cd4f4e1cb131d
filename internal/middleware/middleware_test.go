package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"licensetrust/internal/audit"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/ratelimit"
	api "licensetrust/pkg/contracts/api/v1"
	"licensetrust/pkg/contracts/domain"
)

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Record(ctx context.Context, e domain.AuditEvent) error {
	return m.Called(ctx, e).Error(0)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestIDKeepsValidHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetReqID(r.Context())
	}))

	incoming := "0b9f7a52-3c43-4d1e-9a55-7d3c2a1b5e60"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", incoming)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, incoming, seen)
	assert.Equal(t, incoming, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "<script>", seen)
	assert.Len(t, seen, 36)
}

func TestClientAddressHonoursProxyOnlyWhenTrusted(t *testing.T) {
	tests := []struct {
		name  string
		trust bool
		want  string
	}{
		{"direct", false, "192.0.2.10"},
		{"behind proxy", true, "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := ClientAddress(tt.trust)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = SourceAddress(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.10:51234"
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThrottleRejectsBeyondBurst(t *testing.T) {
	errs := apperrors.NewErrorHandler(quietLogger(), false)
	h := NewThrottle(0.001, 2, errs, quietLogger()).Handler(http.HandlerFunc(ok))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestActionLimiterAuditsRejections(t *testing.T) {
	log := &mockAudit{}
	log.On("Record", mock.Anything, mock.MatchedBy(func(e domain.AuditEvent) bool {
		return e.Action == audit.ActionRateLimited && !e.Success && e.Detail == "verify" && e.SourceAddress == "198.51.100.4"
	})).Return(nil).Once()

	errs := apperrors.NewErrorHandler(quietLogger(), false)
	limits := NewActionLimiter(ratelimit.NewMemoryLimiter(quietLogger()), log, nil, errs, quietLogger())
	calls := 0
	h := ClientAddress(false)(limits.Limit("verify", ratelimit.Policy{Limit: 2, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }),
	))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", nil)
		req.RemoteAddr = "198.51.100.4:4000"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	log.AssertExpectations(t)
}

func TestValidatorBind(t *testing.T) {
	v := NewValidator(256)

	t.Run("valid", func(t *testing.T) {
		var req api.VerifyRequest
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"license_key":"KEY-123","email":"a@b.test"}`))
		require.NoError(t, v.Bind(httptest.NewRecorder(), r, &req))
		assert.Equal(t, "KEY-123", req.LicenseKey)
	})

	t.Run("field errors use json names", func(t *testing.T) {
		var req api.TransferCompleteRequest
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"transfer_token":"t","verification_code":"12ab"}`))
		err := v.Bind(httptest.NewRecorder(), r, &req)
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.KindValidation, appErr.Kind)
		assert.Contains(t, appErr.Fields, "verification_code")
	})

	t.Run("malformed json", func(t *testing.T) {
		var req api.VerifyRequest
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"license_key":`))
		err := v.Bind(httptest.NewRecorder(), r, &req)
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	})

	t.Run("oversized body", func(t *testing.T) {
		var req api.VerifyRequest
		body := `{"license_key":"` + strings.Repeat("k", 400) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		err := v.Bind(httptest.NewRecorder(), r, &req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(ok)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestCORSOnlyEchoesAllowedOrigins(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"https://portal.example.test"}})(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/verify", nil)
	req.Header.Set("Origin", "https://portal.example.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://portal.example.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/verify", nil)
	req.Header.Set("Origin", "https://evil.example.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStructuredLoggerMasksAddress(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := ClientAddress(false)(StructuredLogger(logger)(http.HandlerFunc(ok)))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "172.16.5.9:1000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &line))
	assert.Equal(t, "172.16.***.***", line["remote_addr"])
	assert.EqualValues(t, 200, line["status"])
}
