// Package app wires the trust service and the client-side certificate agent.
//
// # Server
//
// NewApplication builds every server component from a *config.Config:
//
//  1. Logging and OpenTelemetry providers
//  2. The relational store (postgres, mysql or sqlite through gorm)
//  3. Audit recorder with log and database sinks
//  4. Session tokens, verification code guard and transfer workflow
//  5. Rate limiter, Redis backed when enabled and in-memory otherwise
//  6. Portal and certificate services behind chi routers under /api/v1
//
// Serve runs the HTTP server next to the transfer expiry janitor and the
// in-memory limiter janitor in one errgroup. Cancelling the context shuts the
// server down gracefully and closes the store, the Redis client and the log
// file.
//
// # Agent
//
// NewAgent builds the desktop side: a local store, the certificate issuer,
// the upward sync engine and a verifier that falls back to the server for
// certificates it does not hold.
//
// Neither constructor calls os.Exit; errors go back to the command.
package app
