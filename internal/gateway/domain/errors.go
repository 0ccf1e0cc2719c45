package domain

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayNotFound             = errors.New("gateway_not_found")
	ErrUnsupportedOperation        = errors.New("unsupported_operation")
	ErrInvalidCredentials          = errors.New("invalid_credentials")
	ErrSignatureVerificationFailed = errors.New("signature_verification_failed")
	ErrProviderRequestFailed       = errors.New("provider_request_failed")
	ErrProviderUnreachable         = errors.New("provider_unreachable")
	ErrProviderNotFound            = errors.New("provider_not_found")
	ErrInvalidConfig               = errors.New("invalid_gateway_config")
	ErrInvalidPayload              = errors.New("invalid_payload")
	ErrInvalidEvent                = errors.New("invalid_event")
	ErrInvalidRequest              = errors.New("invalid_request")

	// ErrEventProcessingFailed wraps any failure after a webhook event is
	// committed to the log. It always surfaces as a server error so the
	// provider redelivers.
	ErrEventProcessingFailed = errors.New("event_processing_failed")
)

// ProviderError carries the provider's raw rejection for diagnostics. It
// never contains credentials.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.Status, e.Body)
}

func (e *ProviderError) Unwrap() error {
	if e.Status == 401 || e.Status == 403 {
		return ErrInvalidCredentials
	}
	return ErrProviderRequestFailed
}
