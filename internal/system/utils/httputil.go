package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/system/constants"
	"github.com/carebridge/consent-api/internal/system/error/apierror"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
)

// CorrelationIDContextKey is the gin context key holding the request correlation ID
const CorrelationIDContextKey = "correlation_id"

// StatusCodeFor maps a ServiceError to its HTTP status code
func StatusCodeFor(err *serviceerror.ServiceError) int {
	if err.Type != serviceerror.ClientErrorType {
		return http.StatusInternalServerError
	}
	switch err.Code {
	case serviceerror.ResourceNotFoundError.Code:
		return http.StatusNotFound
	case serviceerror.InvalidTransitionError.Code:
		return http.StatusConflict
	case serviceerror.UnauthenticatedError.Code:
		return http.StatusUnauthorized
	case serviceerror.UnauthorizedError.Code:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// SendError writes a ServiceError as an HTTP response with appropriate status code
func SendError(c *gin.Context, err *serviceerror.ServiceError) {
	errorResponse := apierror.NewErrorResponse(err.Error, err.ErrorDescription, GetCorrelationID(c))
	c.Header(constants.HeaderContentType, constants.ContentTypeJSON)
	c.AbortWithStatusJSON(StatusCodeFor(err), errorResponse)
}

// SendBadRequest is a shorthand for invalid request bodies and parameters
func SendBadRequest(c *gin.Context, description string) {
	SendError(c, serviceerror.CustomServiceError(serviceerror.InvalidRequestError, description))
}

// SendOK sends a 200 OK response
func SendOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// SendCreated sends a 201 Created response
func SendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// GetCorrelationID extracts the correlation ID set by the correlation middleware
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDContextKey)
}
