package scanx

import "github.com/partline/partline/pkg/errx"

var scanxErrors = errx.NewRegistry("SCANX")

var (
	ErrInvalidRequest   = scanxErrors.Register("INVALID_REQUEST", errx.TypeValidation, 400, "Invalid scan request")
	ErrRequestFailed    = scanxErrors.Register("REQUEST_FAILED", errx.TypeExternal, 502, "Scan service request failed")
	ErrUnexpectedStatus = scanxErrors.Register("UNEXPECTED_STATUS", errx.TypeExternal, 502, "Scan service returned an unexpected status")
	ErrDecodeResponse   = scanxErrors.Register("DECODE_RESPONSE", errx.TypeExternal, 502, "Failed to decode scan service response")
	ErrEncodeResult     = scanxErrors.Register("ENCODE_RESULT", errx.TypeInternal, 500, "Failed to encode scan result")
)
