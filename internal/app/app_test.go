package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensetrust/internal/audit"
	"licensetrust/internal/certificate"
	"licensetrust/internal/config"
	"licensetrust/internal/notify"
	"licensetrust/internal/store"
	"licensetrust/pkg/contracts/domain"
)

const (
	oldHardware = "CPU1a2b3c|MB9z8y7x|NICaa11bb|DSKcc22dd"
	newHardware = "CPU4d5e6f|MB6w5v4u|NICee33ff|DSKgg44hh"
)

// codeBox captures verification codes instead of delivering them
type codeBox struct {
	mu   sync.Mutex
	msgs []notify.CodeMessage
}

func (b *codeBox) SendCode(_ context.Context, msg notify.CodeMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *codeBox) last(t *testing.T) notify.CodeMessage {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.msgs, "no code was sent")
	return b.msgs[len(b.msgs)-1]
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Portal.SessionSecret = "portal-secret"
	cfg.Certificates.SigningSecret = "shared-secret"
	cfg.Certificates.ClientCode = "ACME"
	cfg.Telemetry.TraceExporter = "none"
	cfg.Security.RateLimit.Enabled = false
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestApplication(t *testing.T, cfg *config.Config) (*Application, *codeBox) {
	t.Helper()
	box := &codeBox{}
	a, err := NewApplication(cfg,
		WithLogger(testLogger()),
		WithStore(openStore(t)),
		WithCodeSender(box),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	require.NoError(t, a.Store.CreateLicense(context.Background(), &domain.License{
		ID:            "L1",
		Key:           "KEY-L1",
		CustomerName:  "Acme",
		CustomerEmail: "owner@acme.test",
		ExpiresAt:     time.Now().Add(30 * 24 * time.Hour),
		LicenseType:   "professional",
		CreatedAt:     time.Now(),
	}))
	return a, box
}

func call(t *testing.T, h http.Handler, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "198.51.100.20:4000"
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.Contains(rec.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestPortalTransferEndToEnd(t *testing.T) {
	a, box := newTestApplication(t, testConfig())
	h := a.Router

	rec, _ := call(t, h, http.MethodPost, "/api/v1/activate", map[string]string{
		"license_key": "KEY-L1", "hardware_id": oldHardware, "machine_name": "office-pc",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, verify := call(t, h, http.MethodPost, "/api/v1/verify", map[string]string{
		"license_key": "KEY-L1", "email": "OWNER@acme.test",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := verify["session_token"].(string)
	require.NotEmpty(t, token)
	assert.NotContains(t, rec.Body.String(), "KEY-L1")

	rec, ticket := call(t, h, http.MethodPost, "/api/v1/transfer/request", map[string]string{
		"session_token": token, "license_id": "L1", "email": "owner@acme.test",
		"new_hardware_id": newHardware, "new_machine_name": "laptop",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	code := box.last(t).Code
	assert.NotContains(t, rec.Body.String(), code)

	rec, done := call(t, h, http.MethodPost, "/api/v1/transfer/complete", map[string]string{
		"transfer_token": ticket["transfer_token"].(string), "verification_code": code,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "KEY-L1", done["license_key"])

	rec, _ = call(t, h, http.MethodGet, "/api/v1/transfers?licenseId=L1&sessionToken="+token+"&email=owner@acme.test", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"completed"`)

	active, err := a.Store.ActiveActivation(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, newHardware, active.HardwareID)

	events, err := a.Store.ListAudit(context.Background(), audit.ActionTransferComplete, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Success)
}

func TestBadCredentialsAreAuditedAndUniform(t *testing.T) {
	a, _ := newTestApplication(t, testConfig())

	wrongEmail, _ := call(t, a.Router, http.MethodPost, "/api/v1/verify", map[string]string{
		"license_key": "KEY-L1", "email": "someone@else.test",
	})
	unknownKey, _ := call(t, a.Router, http.MethodPost, "/api/v1/verify", map[string]string{
		"license_key": "KEY-NOPE", "email": "owner@acme.test",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongEmail.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownKey.Code)

	events, err := a.Store.ListAudit(context.Background(), audit.ActionVerify, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.False(t, e.Success)
		assert.Equal(t, "198.51.100.20", e.SourceAddress)
	}
}

func TestVerifyIsRateLimitedPerSource(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.Verify = config.Policy{Limit: 2, Window: time.Minute}
	a, _ := newTestApplication(t, cfg)

	body := map[string]string{"license_key": "KEY-L1", "email": "owner@acme.test"}
	for i := 0; i < 2; i++ {
		rec, _ := call(t, a.Router, http.MethodPost, "/api/v1/verify", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, problem := call(t, a.Router, http.MethodPost, "/api/v1/verify", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, float64(http.StatusTooManyRequests), problem["status"])

	events, err := a.Store.ListAudit(context.Background(), audit.ActionRateLimited, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestHealthMetricsAndUnknownRoutes(t *testing.T) {
	a, _ := newTestApplication(t, testConfig())

	rec, health := call(t, a.Router, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", health["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = call(t, a.Router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, problem := call(t, a.Router, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(http.StatusNotFound), problem["status"])

	rec, _ = call(t, a.Router, http.MethodGet, "/api/v1/verify", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	a, _ := newTestApplication(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Error(t, a.Store.Ping(context.Background()), "store is closed after shutdown")
}

func TestAgentSyncsAndVerifiesAgainstServer(t *testing.T) {
	server, _ := newTestApplication(t, testConfig())
	srv := httptest.NewServer(server.Router)
	defer srv.Close()

	newAgent := func() *Agent {
		cfg := testConfig()
		cfg.Portal.SessionSecret = ""
		cfg.Certificates.ServerURL = srv.URL
		agent, err := NewAgent(cfg, WithLogger(testLogger()), WithStore(openStore(t)))
		require.NoError(t, err)
		t.Cleanup(func() { agent.Close(context.Background()) })
		return agent
	}
	ctx := context.Background()

	issuing := newAgent()
	cert, err := issuing.Issue(ctx, certificate.IssueRequest{
		LicenseID: "L1", ModuleCode: "RPT", ProjectID: "P-1", DataHash: "2c26b46b",
	})
	require.NoError(t, err)

	status, err := issuing.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Pending)

	report, err := issuing.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)

	_, err = server.Store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err, "certificate reached the server")

	// a second installation knows nothing locally and falls back to the server
	other := newAgent()
	res, err := other.Verify(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, certificate.Valid, res.Verdict)
	assert.Equal(t, certificate.SourceRemote, res.Source)

	res, err = other.Verify(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, certificate.SourceCache, res.Source)

	missing := strings.Replace(cert.ID, "-0001", "-0999", 1)
	res, err = other.Verify(ctx, missing)
	require.NoError(t, err)
	assert.Equal(t, certificate.NotFound, res.Verdict)
}
