package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadata(t *testing.T) {
	m, err := parseMetadata([]string{"approved_by=lead", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"approved_by": "lead", "note": "a=b"}, m)

	m, err = parseMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = parseMetadata([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseMetadata([]string{"=x"})
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	assert.Error(t, run(nil, &bytes.Buffer{}))
	err := run([]string{"frobnicate"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestIssueThenStatusOffline(t *testing.T) {
	t.Setenv("TRUST_CERTIFICATES_SIGNING_SECRET", "signing-secret")
	t.Setenv("TRUST_CERTIFICATES_CLIENT_CODE", "ACME")
	t.Setenv("TRUST_CERTIFICATES_SERVER_URL", "http://127.0.0.1:1")
	t.Setenv("TRUST_DATABASE_DSN", filepath.Join(t.TempDir(), "certs.db"))
	t.Setenv("TRUST_TELEMETRY_ENABLE_METRICS", "false")

	var out bytes.Buffer
	require.NoError(t, run([]string{"issue", "--license", "L1", "--module", "RPT", "--hash", "ab12", "--meta", "approved_by=lead"}, &out))

	var cert map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &cert))
	id, _ := cert["certificate_id"].(string)
	assert.Regexp(t, `^ACME-RPT-\d{8}-0001$`, id)

	out.Reset()
	require.NoError(t, run([]string{"verify", id}, &out))
	assert.Contains(t, out.String(), `"verdict": "valid"`)
	assert.Contains(t, out.String(), `"source": "local"`)

	out.Reset()
	require.NoError(t, run([]string{"status"}, &out))
	var status map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, 1, status["pending"])
}
