package model

// Type identifies the transition a notification announces.
type Type string

// Notification types.
const (
	TypeConsentRequested Type = "consent_requested"
	TypeConsentApproved  Type = "consent_approved"
	TypeConsentDenied    Type = "consent_denied"
	TypeConsentRevoked   Type = "consent_revoked"
	TypeConsentExtended  Type = "consent_extended"
	TypeConsentExpired   Type = "consent_expired"
)

// Notification represents the NOTIFICATION outbox table
type Notification struct {
	NotificationID string `db:"NOTIFICATION_ID" json:"id"`
	RecipientID    string `db:"RECIPIENT_ID" json:"recipientId"`
	Type           Type   `db:"NOTIFICATION_TYPE" json:"type"`
	RequestID      string `db:"REQUEST_ID" json:"requestId"`
	Title          string `db:"TITLE" json:"title"`
	Message        string `db:"MESSAGE" json:"message"`
	CreatedAt      int64  `db:"CREATED_TIME" json:"createdAt"`
	ReadAt         *int64 `db:"READ_TIME" json:"readAt,omitempty"`
}

// NotificationListResponse wraps a page of notifications.
type NotificationListResponse struct {
	Data   []Notification `json:"data"`
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
}
