package certificate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

// SyncResponse is the body of the server's sync endpoint.
type SyncResponse struct {
	CertificateID string `json:"certificate_id"`
	Status        string `json:"status"`
}

// Sync statuses returned by the server.
const (
	SyncStatusCreated       = "created"
	SyncStatusAlreadyExists = "already_exists"
)

// Client talks to the certificate endpoints of the trust server. It is both
// the Pusher of the sync engine and the Fetcher of the verifier.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Push implements Pusher. 409 and "already_exists" map to ErrAlreadyExists;
// other 4xx answers except 429 are PermanentError.
func (c *Client) Push(ctx context.Context, cert *domain.Certificate) error {
	wire := *cert
	wire.SyncStatus = ""
	wire.SyncedAt = nil
	body, err := json.Marshal(&wire)
	if err != nil {
		return &PermanentError{Reason: "encode: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/certificates/sync", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push certificate: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyExists
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr SyncResponse
		if json.Unmarshal(data, &sr) == nil && sr.Status == SyncStatusAlreadyExists {
			return ErrAlreadyExists
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("push certificate: server returned %d", resp.StatusCode)
	default:
		return &PermanentError{Status: resp.StatusCode, Reason: problemDetail(data)}
	}
}

// Fetch implements Fetcher.
func (c *Client) Fetch(ctx context.Context, id string) (*domain.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/certificates/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, apperrors.Internal("build fetch request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Internal("certificate server unreachable", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperrors.NotFound("certificate")
	default:
		return nil, apperrors.Internal(fmt.Sprintf("certificate server returned %d", resp.StatusCode), nil)
	}

	var cert domain.Certificate
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&cert); err != nil {
		return nil, apperrors.Internal("decode certificate", err)
	}
	cert.SyncStatus = ""
	cert.SyncedAt = nil
	return &cert, nil
}

func problemDetail(body []byte) string {
	var p struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &p) != nil {
		return strings.TrimSpace(string(body))
	}
	if p.Detail != "" {
		return p.Detail
	}
	return p.Title
}
