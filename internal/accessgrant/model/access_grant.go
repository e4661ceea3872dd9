package model

import "github.com/carebridge/consent-api/internal/scope"

// Status is the state of an access grant.
type Status string

// Access grant states.
const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// AccessGrant represents the ACCESS_GRANT table. One row covers a single scope.
type AccessGrant struct {
	GrantID    string           `db:"GRANT_ID" json:"id"`
	RequestID  string           `db:"REQUEST_ID" json:"requestId"`
	PatientID  string           `db:"PATIENT_ID" json:"patientId"`
	DoctorID   string           `db:"DOCTOR_ID" json:"doctorId"`
	Scope      scope.RecordType `db:"SCOPE" json:"scope"`
	AccessType scope.AccessType `db:"ACCESS_TYPE" json:"accessType"`
	Status     Status           `db:"STATUS" json:"status"`
	GrantedAt  int64            `db:"GRANTED_TIME" json:"grantedAt"`
	ExpiresAt  int64            `db:"EXPIRES_AT" json:"expiresAt"`
	UpdatedAt  int64            `db:"UPDATED_TIME" json:"updatedAt"`
}

// IsEffective reports whether the grant permits access at nowMillis.
func (g *AccessGrant) IsEffective(nowMillis int64) bool {
	return g.Status == StatusActive && g.ExpiresAt > nowMillis
}

// AccessCheckResponse is returned by GET /access-check.
type AccessCheckResponse struct {
	DoctorID   string           `json:"doctorId"`
	PatientID  string           `json:"patientId"`
	Scope      scope.RecordType `json:"scope"`
	AccessType scope.AccessType `json:"accessType"`
	Allowed    bool             `json:"allowed"`
}

// AccessGrantListResponse wraps grants returned by the listing endpoints.
type AccessGrantListResponse struct {
	Data []AccessGrant `json:"data"`
}
