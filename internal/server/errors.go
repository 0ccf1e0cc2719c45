package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
	ledgerdomain "github.com/steeplehq/giving/internal/ledger/domain"
	"github.com/steeplehq/giving/internal/vault"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return gatewaydomain.ErrInvalidRequest
}

// mapError translates domain errors to HTTP statuses. Provider rejection
// bodies and vault errors never reach the response; callers get a stable
// type string.
func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}

	case errors.Is(err, gatewaydomain.ErrSignatureVerificationFailed):
		return http.StatusUnauthorized, errorPayload{
			Type:    "signature_verification_failed",
			Message: "webhook signature verification failed",
		}

	case errors.Is(err, gatewaydomain.ErrGatewayNotFound),
		errors.Is(err, gatewaydomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "resource not found",
		}

	case errors.Is(err, gatewaydomain.ErrUnsupportedOperation):
		return http.StatusBadRequest, errorPayload{
			Type:    "unsupported_operation",
			Message: "the configured provider does not support this operation",
		}

	case errors.Is(err, gatewaydomain.ErrEventProcessingFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    "event_processing_failed",
			Message: "webhook processing failed",
		}

	case errors.Is(err, gatewaydomain.ErrInvalidRequest),
		errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidEvent),
		errors.Is(err, gatewaydomain.ErrInvalidConfig):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}

	case errors.Is(err, gatewaydomain.ErrProviderUnreachable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_unreachable",
			Message: "payment provider is unreachable",
		}

	case errors.Is(err, gatewaydomain.ErrInvalidCredentials),
		errors.Is(err, gatewaydomain.ErrProviderRequestFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_request_failed",
			Message: "payment provider rejected the request",
		}

	case errors.Is(err, ledgerdomain.ErrInvariantViolation),
		errors.Is(err, vault.ErrInvalidCiphertext),
		errors.Is(err, vault.ErrKeyMissing):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
