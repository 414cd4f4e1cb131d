// Package config loads the trust service configuration.
//
// Values are layered in increasing precedence:
//
//  1. Default() values
//  2. a YAML file (optional, see Load)
//  3. environment variables prefixed with TRUST_
//
// Nested sections map to underscore-joined names, for example:
//
//	TRUST_SERVER_PORT=8080
//	TRUST_DATABASE_DRIVER=postgres
//	TRUST_DATABASE_DSN=postgres://trust:secret@db/trust
//	TRUST_PORTAL_SESSION_SECRET=...
//	TRUST_LIMITS_VERIFY_LIMIT=10
//	TRUST_CERTIFICATES_SIGNING_SECRET=...
package config
