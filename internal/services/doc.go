// Package services implements the business logic behind the HTTP surface.
// It sits between the handlers and the trust-protocol packages, so the
// protocol rules stay in one place and the handlers only bind and render.
//
// # Services
//
//	PortalService       customer portal: credential check, session tokens,
//	                    transfer and deactivation workflow, device activation
//	CertificateService  server side of certificate sync, lookup and verification
//
// # Conventions
//
// Every public method takes a context.Context and the caller's source
// address. Errors are *errors.AppError values whose Kind maps to an HTTP
// status; messages are safe to return to the caller.
//
// Every outcome of a portal or certificate operation, success or failure, is
// written to the audit log before the method returns. A failing audit sink
// is logged and does not change the result.
//
// # Example
//
//	portal := services.NewPortalService(st, sessions, workflow, recorder, logger)
//	resp, err := portal.Verify(ctx, api.VerifyRequest{
//	    LicenseKey: key,
//	    Email:      email,
//	}, r.RemoteAddr)
package services
