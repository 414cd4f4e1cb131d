package security

import (
	"fmt"
	"strings"
)

// Fingerprint is the four component hashes identifying one device.
type Fingerprint struct {
	Processor string
	Mainboard string
	Network   string
	Storage   string
}

// ParseFingerprint splits a hardware id of the form "cpu|board|nic|disk". The
// dash delimited form written by older clients is accepted too.
func ParseFingerprint(hardwareID string) (Fingerprint, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	sep := "|"
	if !strings.Contains(hardwareID, sep) {
		sep = "-"
	}

	parts := strings.Split(hardwareID, sep)
	if len(parts) != 4 {
		return Fingerprint{}, fmt.Errorf("hardware id must have 4 components, got %d", len(parts))
	}
	for i, p := range parts {
		if p == "" || !isAlphanumeric(p) {
			return Fingerprint{}, fmt.Errorf("hardware id component %d is invalid", i+1)
		}
	}

	return Fingerprint{
		Processor: parts[0],
		Mainboard: parts[1],
		Network:   parts[2],
		Storage:   parts[3],
	}, nil
}

// String is the canonical pipe separated hardware id. Devices are stored and
// compared in this form whatever separator the client sent.
func (f Fingerprint) String() string {
	return strings.Join([]string{f.Processor, f.Mainboard, f.Network, f.Storage}, "|")
}

// CanonicalHardwareID returns the canonical form of a raw hardware id.
func CanonicalHardwareID(hardwareID string) (string, error) {
	f, err := ParseFingerprint(hardwareID)
	if err != nil {
		return "", err
	}
	return f.String(), nil
}

// MaskedComponents returns each component masked for display.
func (f Fingerprint) MaskedComponents() MaskedFingerprint {
	return MaskedFingerprint{
		Processor: MaskComponent(f.Processor),
		Mainboard: MaskComponent(f.Mainboard),
		Network:   MaskComponent(f.Network),
		Storage:   MaskComponent(f.Storage),
	}
}

// MaskedFingerprint is the display form of a Fingerprint.
type MaskedFingerprint struct {
	Processor string `json:"processor"`
	Mainboard string `json:"mainboard"`
	Network   string `json:"network"`
	Storage   string `json:"storage"`
}

// MaskHardwareID masks a raw hardware id component-wise; ids that do not parse
// are masked as a single component.
func MaskHardwareID(hardwareID string) string {
	f, err := ParseFingerprint(hardwareID)
	if err != nil {
		return MaskComponent(hardwareID)
	}
	m := f.MaskedComponents()
	return strings.Join([]string{m.Processor, m.Mainboard, m.Network, m.Storage}, "|")
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
