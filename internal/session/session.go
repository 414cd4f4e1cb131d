// Package session issues and validates stateless portal session tokens.
//
// A token proves that the caller presented a valid license key and email
// recently. It is an HMAC-SHA256 over the license id, the normalized email and
// the current hour bucket, so nothing is stored server side. Validation accepts
// the current and the immediately preceding bucket, which gives a sliding
// validity of one to two hours.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// BucketSize is the width of one validity window.
const BucketSize = time.Hour

// ErrEmptySecret is returned by NewService when no secret is configured.
var ErrEmptySecret = errors.New("session: secret must not be empty")

// Service issues and validates session tokens. It is safe for concurrent use.
type Service struct {
	secret []byte
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a token service keyed with secret.
func NewService(secret string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	s := &Service{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue returns the token for (licenseID, email) in the current bucket.
func (s *Service) Issue(licenseID, email string) string {
	return s.token(licenseID, email, bucket(s.now()))
}

// Validate reports whether token matches (licenseID, email) in the current or
// the previous bucket. Malformed input yields false.
func (s *Service) Validate(token, licenseID, email string) bool {
	if token == "" || licenseID == "" || email == "" {
		return false
	}
	given, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(given) != sha256.Size {
		return false
	}

	current := bucket(s.now())
	ok := false
	for _, b := range []int64{current, current - 1} {
		// evaluate both buckets so timing does not reveal which one matched
		if hmac.Equal(given, s.mac(licenseID, email, b)) {
			ok = true
		}
	}
	return ok
}

func (s *Service) token(licenseID, email string, b int64) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(licenseID, email, b))
}

func (s *Service) mac(licenseID, email string, b int64) []byte {
	h := hmac.New(sha256.New, s.secret)
	// length-prefix the fields so ("ab","c") and ("a","bc") never collide
	for _, field := range []string{licenseID, NormalizeEmail(email), strconv.FormatInt(b, 10)} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return h.Sum(nil)
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func bucket(t time.Time) int64 {
	return t.Unix() / int64(BucketSize/time.Second)
}
