package inbound

import (
	"net/http"

	"github.com/Outbound-Project/outbound-bot/core"
	goerrors "github.com/goliatone/go-errors"
)

func inboundError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundAuthError(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.ServiceErrorAuthInvalid,
		metadata,
	)
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ServiceErrorBadInput,
		metadata,
	)
}
