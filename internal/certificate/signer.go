package certificate

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"licensetrust/internal/config"
	apperrors "licensetrust/internal/errors"
	"licensetrust/pkg/contracts/domain"
)

// Signature algorithm names stored with each certificate.
const (
	AlgorithmHMAC    = "HMAC-SHA256"
	AlgorithmEd25519 = "Ed25519"
)

var (
	hkdfSalt = []byte("licensetrust.certificate.v1")
	hkdfInfo = []byte("certificate signing key")
)

// Signer produces signatures over canonical payloads.
type Signer interface {
	Algorithm() string
	Sign(payload []byte) ([]byte, error)
}

// SignatureVerifier checks a signature produced by the matching Signer.
type SignatureVerifier interface {
	Algorithm() string
	Verify(payload, signature []byte) bool
}

// HMACSigner signs with HMAC-SHA256 under a key derived from a shared secret.
// Every installation configured with the same secret can verify.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner derives the signing key from secret with HKDF-SHA256.
func NewHMACSigner(secret string) (*HMACSigner, error) {
	if secret == "" {
		return nil, errors.New("certificate: empty signing secret")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &HMACSigner{key: key}, nil
}

func (s *HMACSigner) Algorithm() string { return AlgorithmHMAC }

func (s *HMACSigner) Sign(payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

func (s *HMACSigner) Verify(payload, signature []byte) bool {
	expected, _ := s.Sign(payload)
	return hmac.Equal(expected, signature)
}

// Ed25519Signer signs with a private key; Ed25519Verifier needs only the
// public half.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer wraps a private key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

func (s *Ed25519Signer) Algorithm() string { return AlgorithmEd25519 }

func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.key, payload), nil
}

// Verifier returns the matching public-key verifier.
func (s *Ed25519Signer) Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{key: s.key.Public().(ed25519.PublicKey)}
}

// Ed25519Verifier checks Ed25519 signatures.
type Ed25519Verifier struct {
	key ed25519.PublicKey
}

// NewEd25519Verifier wraps a public key.
func NewEd25519Verifier(key ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{key: key}
}

func (v *Ed25519Verifier) Algorithm() string { return AlgorithmEd25519 }

func (v *Ed25519Verifier) Verify(payload, signature []byte) bool {
	return len(signature) == ed25519.SignatureSize && ed25519.Verify(v.key, payload, signature)
}

// Keyring maps algorithm names to verifiers.
type Keyring map[string]SignatureVerifier

// Add registers v under its algorithm name.
func (k Keyring) Add(v SignatureVerifier) {
	k[v.Algorithm()] = v
}

// Sign fills in Signature and Algorithm of c.
func Sign(c *domain.Certificate, s Signer) error {
	payload, err := CanonicalPayload(c)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign certificate: %w", err)
	}
	c.Signature = base64.StdEncoding.EncodeToString(sig)
	c.Algorithm = s.Algorithm()
	return nil
}

// VerifySignature checks c against the verifier registered for its algorithm.
// Unknown algorithms, undecodable signatures and mismatches are all
// SignatureMismatch.
func (k Keyring) VerifySignature(c *domain.Certificate) error {
	v, ok := k[c.Algorithm]
	if !ok {
		return apperrors.SignatureMismatch("unsupported signature algorithm")
	}
	sig, err := base64.StdEncoding.DecodeString(c.Signature)
	if err != nil {
		return apperrors.SignatureMismatch("malformed signature")
	}
	payload, err := CanonicalPayload(c)
	if err != nil {
		return apperrors.Internal("encode certificate payload", err)
	}
	if !v.Verify(payload, sig) {
		return apperrors.SignatureMismatch("certificate signature does not match")
	}
	return nil
}

// LoadSigning builds the signer and keyring described by cfg. The signer is
// nil for verify-only Ed25519 installs that hold just the public key.
func LoadSigning(cfg config.CertificatesConfig) (Signer, Keyring, error) {
	keys := Keyring{}

	if cfg.SigningSecret != "" {
		h, err := NewHMACSigner(cfg.SigningSecret)
		if err != nil {
			return nil, nil, err
		}
		keys.Add(h)
	}

	var ed *Ed25519Signer
	if cfg.PrivateKeyPath != "" {
		priv, err := LoadPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, nil, err
		}
		ed = NewEd25519Signer(priv)
		keys.Add(ed.Verifier())
	} else if cfg.PublicKeyPath != "" {
		pub, err := LoadPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, nil, err
		}
		keys.Add(NewEd25519Verifier(pub))
	}

	switch cfg.Algorithm {
	case AlgorithmHMAC:
		s, ok := keys[AlgorithmHMAC].(*HMACSigner)
		if !ok {
			return nil, nil, errors.New("certificate: HMAC-SHA256 requires a signing secret")
		}
		return s, keys, nil
	case AlgorithmEd25519:
		if ed == nil {
			return nil, keys, nil
		}
		return ed, keys, nil
	default:
		return nil, nil, fmt.Errorf("certificate: unsupported algorithm %q", cfg.Algorithm)
	}
}

// LoadPrivateKey reads a PKCS#8 PEM encoded Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s is %T, want Ed25519", path, key)
	}
	return priv, nil
}

// LoadPublicKey reads a PKIX PEM encoded Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s is %T, want Ed25519", path, key)
	}
	return pub, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	return block, nil
}
