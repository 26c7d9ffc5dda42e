package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorAuthInvalid         = "AUTH_INVALID"
	ServiceErrorUnknownWorkflow     = "UNKNOWN_WORKFLOW"
	ServiceErrorStoreUnavailable    = "STORE_UNAVAILABLE"
	ServiceErrorPipelineFailed      = "PIPELINE_FAILED"
	ServiceErrorChannelRegistration = "CHANNEL_REGISTRATION_FAILED"
	ServiceErrorBadInput            = "BAD_INPUT"
	ServiceErrorInternal            = "INTERNAL_ERROR"
)

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "workflow") && strings.Contains(msg, "not configured"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorUnknownWorkflow)
	case strings.Contains(msg, "channel token"), strings.Contains(msg, "token mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorAuthInvalid)
	case strings.Contains(msg, "state store"), strings.Contains(msg, "store unavailable"):
		return NewStoreUnavailableError(err.Error())
	case strings.Contains(msg, "changes.watch"), strings.Contains(msg, "channel registration"):
		return NewChannelRegistrationError(err.Error())
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

// NewStoreUnavailableError marks a state-store failure. These are always
// retryable and map to 503 so provider push delivery retries redeliver.
func NewStoreUnavailableError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryOperation).
		WithTextCode(ServiceErrorStoreUnavailable).
		WithCode(http.StatusServiceUnavailable)
}

func NewChannelRegistrationError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryOperation).
		WithTextCode(ServiceErrorChannelRegistration).
		WithCode(http.StatusBadGateway)
}

func NewPipelineError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(ServiceErrorPipelineFailed).
		WithCode(http.StatusInternalServerError)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorUnknownWorkflow
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorAuthInvalid
	case goerrors.CategoryOperation:
		return ServiceErrorStoreUnavailable
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
