package apierror

type ErrorResponse struct {
	Code          string `json:"error"`
	Description   string `json:"error_description"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func NewErrorResponse(code, description, correlationID string) *ErrorResponse {
	return &ErrorResponse{
		Code:          code,
		Description:   description,
		CorrelationID: correlationID,
	}
}
