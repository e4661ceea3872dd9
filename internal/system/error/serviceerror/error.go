package serviceerror

import "github.com/carebridge/consent-api/internal/system/error/codes"

type ServiceErrorType string

const (
	ClientErrorType ServiceErrorType = "client_error"
	ServerErrorType ServiceErrorType = "server_error"
)

type ServiceError struct {
	Code             string           `json:"code"`
	Type             ServiceErrorType `json:"type"`
	Error            string           `json:"error"`
	ErrorDescription string           `json:"error_description,omitempty"`
}

var (
	InternalServerError = ServiceError{
		Type:             ServerErrorType,
		Code:             codes.InternalServerError,
		Error:            "internal_server_error",
		ErrorDescription: "An unexpected error occurred",
	}

	DatabaseError = ServiceError{
		Type:             ServerErrorType,
		Code:             codes.DatabaseError,
		Error:            "database_error",
		ErrorDescription: "A database error occurred",
	}

	InvalidRequestError = ServiceError{
		Type:             ClientErrorType,
		Code:             codes.InvalidRequest,
		Error:            "invalid_request",
		ErrorDescription: "The request is invalid",
	}

	ResourceNotFoundError = ServiceError{
		Type:             ClientErrorType,
		Code:             codes.ResourceNotFound,
		Error:            "resource_not_found",
		ErrorDescription: "Resource not found",
	}

	// InvalidTransitionError is returned when the current state of a consent
	// request does not permit the attempted transition.
	InvalidTransitionError = ServiceError{
		Type:             ClientErrorType,
		Code:             codes.InvalidTransition,
		Error:            "invalid_transition",
		ErrorDescription: "Request conflicts with current state",
	}

	ValidationError = ServiceError{
		Type:             ClientErrorType,
		Code:             codes.ValidationError,
		Error:            "validation_error",
		ErrorDescription: "Validation failed",
	}

	UnauthenticatedError = ServiceError{
		Type:             ClientErrorType,
		Code:             codes.Unauthenticated,
		Error:            "unauthenticated",
		ErrorDescription: "Authentication is required",
	}

	// UnauthorizedError is returned when the acting principal is not allowed
	// to perform the operation on the resource.
	UnauthorizedError = ServiceError{
		Type:             ClientErrorType,
		Code:             codes.Unauthorized,
		Error:            "unauthorized",
		ErrorDescription: "The principal is not permitted to perform this operation",
	}
)

func CustomServiceError(baseError ServiceError, description string) *ServiceError {
	return &ServiceError{
		Type:             baseError.Type,
		Code:             baseError.Code,
		Error:            baseError.Error,
		ErrorDescription: description,
	}
}

// Is reports whether err carries the same code as target.
func Is(err *ServiceError, target ServiceError) bool {
	return err != nil && err.Code == target.Code
}
