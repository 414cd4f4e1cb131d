package certificate

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"licensetrust/pkg/contracts/domain"
)

// PayloadVersion is the first element of every canonical payload.
const PayloadVersion = 1

var encMode cbor.EncMode

// contentDomainKey separates content digests from every other BLAKE3 use. It is
// the ASCII domain name zero padded to 32 bytes.
var contentDomainKey = [32]byte{
	'c', 'e', 'r', 't', 'i', 'f', 'i', 'c', 'a', 't', 'e', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't',
}

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("certificate: CBOR encoder initialization failed: " + err.Error())
	}
}

type content struct {
	DataHash string            `cbor:"data_hash"`
	Metadata map[string]string `cbor:"metadata"`
}

// ContentDigest is the keyed BLAKE3 hash of the data hash and metadata.
func ContentDigest(c *domain.Certificate) ([]byte, error) {
	md := c.Metadata
	if md == nil {
		md = map[string]string{}
	}
	b, err := encMode.Marshal(content{DataHash: c.DataHash, Metadata: md})
	if err != nil {
		return nil, fmt.Errorf("encode certificate content: %w", err)
	}

	h, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		return nil, fmt.Errorf("init content hash: %w", err)
	}
	_, _ = h.Write(b)
	return h.Sum(nil), nil
}

// CanonicalPayload returns the bytes that are signed:
// [version, id, license, client, module, project, issuedAtUnix, contentDigest].
func CanonicalPayload(c *domain.Certificate) ([]byte, error) {
	digest, err := ContentDigest(c)
	if err != nil {
		return nil, err
	}
	fields := []interface{}{
		uint64(PayloadVersion),
		c.ID,
		c.LicenseID,
		c.ClientCode,
		c.ModuleCode,
		c.ProjectID,
		c.CreatedAt.Unix(),
		digest,
	}
	b, err := encMode.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode certificate payload: %w", err)
	}
	return b, nil
}
