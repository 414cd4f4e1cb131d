package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensetrust/internal/config"
)

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got CodeMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, srv.Client())
	msg := CodeMessage{LicenseID: "L1", Email: "owner@acme.test", Purpose: "transfer", Code: "123456", ExpiresAt: time.Now().UTC()}
	require.NoError(t, s.SendCode(context.Background(), msg))
	assert.Equal(t, "123456", got.Code)
	assert.Equal(t, "owner@acme.test", got.Email)
}

func TestWebhookSenderReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, nil).SendCode(context.Background(), CodeMessage{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogSenderMasksEmail(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, s.SendCode(context.Background(), CodeMessage{Email: "owner@acme.test", Code: "654321"}))

	assert.Contains(t, buf.String(), "654321")
	assert.NotContains(t, buf.String(), "owner@acme.test")
}

func TestNewSelectsMode(t *testing.T) {
	s, err := New(config.NotifyConfig{Mode: "log"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	s, err = New(config.NotifyConfig{Mode: "webhook", WebhookURL: "http://relay.local/send"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebhookSender{}, s)

	_, err = New(config.NotifyConfig{Mode: "webhook"}, nil)
	assert.Error(t, err)

	_, err = New(config.NotifyConfig{Mode: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
