// Package errors provides structured error handling with error codes for simple-twofa.
//
// Every failure surfaced by the 2FA service is an *Error carrying a typed code, so the HTTP
// layer can map it to a status without inspecting messages.
//
// # Basic Usage
//
//	import "github.com/tendant/simple-twofa/pkg/errors"
//
//	err := errors.NotFound("principal", principalID)
//	err := errors.BadRequest("2FA is not enabled")
//	err := errors.Unauthorized("invalid 2FA token")
//	err := errors.Wrap(dbErr, errors.ErrCodeInternal, "failed to load 2FA state")
//
// # Error Codes
//
//   - ErrCodeNotFound (404): the principal id does not resolve to any account
//   - ErrCodeInvalidInput (400): the operation does not fit the current 2FA state
//   - ErrCodeUnauthorized (401): a possession check failed or no secret is provisioned
//   - ErrCodeRateLimitExceeded (429): too many failed backup code attempts
//   - ErrCodeProvisioning, ErrCodeEncoding, ErrCodeInternal (500)
//
// # Inspection
//
//	if errors.IsCode(err, errors.ErrCodeUnauthorized) {
//	    // let the user retry with a new code
//	}
//	status := errors.MapErrorCodeToHTTPStatus(errors.GetCode(err))
package errors
