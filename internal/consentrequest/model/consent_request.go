package model

import "github.com/carebridge/consent-api/internal/scope"

// Status is the lifecycle state of a consent request.
type Status string

// Consent request states.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

// ConsentRequest represents the CONSENT_REQUEST table with its scope rows
type ConsentRequest struct {
	RequestID       string             `db:"REQUEST_ID" json:"id"`
	PatientID       string             `db:"PATIENT_ID" json:"patientId"`
	DoctorID        string             `db:"DOCTOR_ID" json:"doctorId"`
	Purpose         string             `db:"PURPOSE" json:"purpose"`
	RequestedScopes []scope.RecordType `db:"-" json:"requestedScopes"`
	DurationDays    int                `db:"DURATION_DAYS" json:"durationDays"`
	Status          Status             `db:"STATUS" json:"status"`
	RequestedAt     int64              `db:"REQUESTED_TIME" json:"requestedAt"`
	RespondedAt     *int64             `db:"RESPONDED_TIME" json:"respondedAt,omitempty"`
	ExpiresAt       *int64             `db:"EXPIRES_AT" json:"expiresAt,omitempty"`
	Message         *string            `db:"MESSAGE" json:"message,omitempty"`
	ResponseReason  *string            `db:"RESPONSE_REASON" json:"responseReason,omitempty"`
	UpdatedAt       int64              `db:"UPDATED_TIME" json:"updatedAt"`
}

// IsParticipant reports whether principalID is the patient or the doctor of the request.
func (c *ConsentRequest) IsParticipant(principalID string) bool {
	return principalID == c.PatientID || principalID == c.DoctorID
}

// ConsentRequestCreateRequest is the POST /consent-requests body. The doctor
// is taken from the authenticated principal.
type ConsentRequestCreateRequest struct {
	PatientID    string   `json:"patientId" binding:"required"`
	Purpose      string   `json:"purpose" binding:"required"`
	Scopes       []string `json:"scopes" binding:"required"`
	DurationDays int      `json:"durationDays" binding:"required"`
	Message      *string  `json:"message,omitempty"`
}

// DenyRequest is the POST /consent-requests/{id}/deny body.
type DenyRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// ExtendRequest is the POST /consent-requests/{id}/extend body.
type ExtendRequest struct {
	AdditionalDays int `json:"additionalDays" binding:"required"`
}

// ConsentRequestListResponse wraps a page of requests.
type ConsentRequestListResponse struct {
	Data     []ConsentRequest `json:"data"`
	Metadata PageMetadata     `json:"metadata"`
}

// PageMetadata describes the page returned by a list endpoint.
type PageMetadata struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
}
