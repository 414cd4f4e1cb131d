// Package security holds the hardware fingerprint model and the masking rules
// applied to personal data before it leaves the service or reaches a log.
package security

import (
	"net"
	"strings"
)

// MaskEmail keeps the first two characters and everything from one character
// before the '@': "john.doe@example.com" becomes "jo***e@example.com" and
// "ab@x.com" becomes "ab***b@x.com". A local part of one character keeps just
// that character.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 1 {
		return "***"
	}
	return email[:min(2, at)] + "***" + email[at-1:]
}

// MaskIP keeps the first two octets of an IPv4 address. Anything else is
// fully masked.
func MaskIP(addr string) string {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil || ip.To4() == nil {
		return "***"
	}
	octets := strings.Split(ip.To4().String(), ".")
	return octets[0] + "." + octets[1] + ".***.***"
}

// MaskComponent keeps the first four characters and replaces the rest with
// one asterisk each.
func MaskComponent(component string) string {
	if len(component) <= 4 {
		return component
	}
	return component[:4] + strings.Repeat("*", len(component)-4)
}

// MaskSecret is used for license keys and tokens in logs.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
