package service

import (
	"errors"

	"listenparty/internal/domain"
)

// ErrInternalServer is what callers see in place of infrastructure failures.
var ErrInternalServer = errors.New("internal server error")

// ErrorResponse is the uniform error shape handed to transports.
type ErrorResponse struct {
	Kind      domain.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// Describe classifies err. Unclassified errors are reported as internal and
// their message is not exposed.
func Describe(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{}
	}
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		return ErrorResponse{Kind: kind, Message: ErrInternalServer.Error()}
	}
	return ErrorResponse{
		Kind:      kind,
		Message:   err.Error(),
		Retryable: domain.Retryable(err),
	}
}
