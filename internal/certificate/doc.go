// Package certificate issues, signs, verifies and synchronizes processing
// certificates.
//
// A certificate is signed over a canonical CBOR payload (RFC 8949 core
// deterministic encoding). Issued certificates live in the local store and are
// pushed upward by the SyncEngine; the engine never pulls. Certificates of
// other installations are fetched one at a time by the Verifier and kept in a
// bounded verification cache that is never a sync source.
package certificate
