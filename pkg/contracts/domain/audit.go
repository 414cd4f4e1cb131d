package domain

import "time"

// AuditEvent is an append-only record of a security-relevant outcome.
type AuditEvent struct {
	ID            uint      `json:"id"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	Success       bool      `json:"success"`
	SourceAddress string    `json:"source_address"`
	Detail        string    `json:"detail,omitempty"`
	At            time.Time `json:"at"`
}
