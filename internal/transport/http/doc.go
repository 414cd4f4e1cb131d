// Package http implements the /api/v1 handlers of the trust service. Handlers
// are thin: they bind and validate the request, call a service and render
// the result. Business rules live in the services package.
//
// # Request Flow
//
//	HTTP Request → chi Router → Middleware → Handler → Service → Store
//
// Every route under /api/v1 runs behind the per-action rate limiter, so a
// rejected request never reaches a handler.
//
// # Error Handling
//
// Errors are rendered by errors.ErrorHandler as RFC 7807 problem documents:
//
//	{
//	    "type": "/errors/validation",
//	    "title": "Bad Request",
//	    "status": 400,
//	    "detail": "incorrect verification code",
//	    "instance": "/api/v1/transfer/complete",
//	    "remaining_attempts": 3
//	}
//
// # Testing
//
// Handlers are tested with httptest against mocked service interfaces.
package http
