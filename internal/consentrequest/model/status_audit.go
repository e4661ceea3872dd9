package model

// StatusAudit represents the REQUEST_STATUS_AUDIT table
type StatusAudit struct {
	StatusAuditID  string  `db:"STATUS_AUDIT_ID" json:"id"`
	RequestID      string  `db:"REQUEST_ID" json:"requestId"`
	CurrentStatus  Status  `db:"CURRENT_STATUS" json:"currentStatus"`
	PreviousStatus *Status `db:"PREVIOUS_STATUS" json:"previousStatus,omitempty"`
	ActionTime     int64   `db:"ACTION_TIME" json:"actionTime"`
	ActionBy       string  `db:"ACTION_BY" json:"actionBy"`
	Reason         *string `db:"REASON" json:"reason,omitempty"`
}

// StatusAuditListResponse represents the history of a request, oldest first
type StatusAuditListResponse struct {
	Data []StatusAudit `json:"data"`
}
