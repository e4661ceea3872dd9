package notification

import (
	"context"

	"github.com/carebridge/consent-api/internal/notification/model"
	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
	"github.com/carebridge/consent-api/internal/system/database/provider"
	dbutils "github.com/carebridge/consent-api/internal/system/database/utils"
	"github.com/carebridge/consent-api/internal/system/stores/interfaces"
)

const notificationColumns = "NOTIFICATION_ID, RECIPIENT_ID, NOTIFICATION_TYPE, REQUEST_ID, TITLE, MESSAGE, CREATED_TIME, READ_TIME"

// DBQuery objects for notification operations
var (
	QueryCreateNotification = dbmodel.DBQuery{
		ID:    "CREATE_NOTIFICATION",
		Query: "INSERT INTO NOTIFICATION (" + notificationColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
	}

	QueryGetNotificationByID = dbmodel.DBQuery{
		ID:    "GET_NOTIFICATION_BY_ID",
		Query: "SELECT " + notificationColumns + " FROM NOTIFICATION WHERE NOTIFICATION_ID = ?",
	}

	QueryListNotifications = dbmodel.DBQuery{
		ID:    "LIST_NOTIFICATIONS",
		Query: "SELECT " + notificationColumns + " FROM NOTIFICATION WHERE RECIPIENT_ID = ? ORDER BY CREATED_TIME DESC, NOTIFICATION_ID LIMIT ? OFFSET ?",
	}

	QueryListUnreadNotifications = dbmodel.DBQuery{
		ID:    "LIST_UNREAD_NOTIFICATIONS",
		Query: "SELECT " + notificationColumns + " FROM NOTIFICATION WHERE RECIPIENT_ID = ? AND READ_TIME IS NULL ORDER BY CREATED_TIME DESC, NOTIFICATION_ID LIMIT ? OFFSET ?",
	}

	QueryCountNotifications = dbmodel.DBQuery{
		ID:    "COUNT_NOTIFICATIONS",
		Query: "SELECT COUNT(*) AS CNT FROM NOTIFICATION WHERE RECIPIENT_ID = ?",
	}

	QueryCountUnreadNotifications = dbmodel.DBQuery{
		ID:    "COUNT_UNREAD_NOTIFICATIONS",
		Query: "SELECT COUNT(*) AS CNT FROM NOTIFICATION WHERE RECIPIENT_ID = ? AND READ_TIME IS NULL",
	}

	QueryMarkNotificationRead = dbmodel.DBQuery{
		ID:    "MARK_NOTIFICATION_READ",
		Query: "UPDATE NOTIFICATION SET READ_TIME = ? WHERE NOTIFICATION_ID = ? AND RECIPIENT_ID = ? AND READ_TIME IS NULL",
	}
)

// store implements interfaces.NotificationStore
type store struct {
	dbClient provider.DBClientInterface
}

var _ interfaces.NotificationStore = (*store)(nil)

// NewStore creates a new notification store (exported for registry)
func NewStore(dbClient provider.DBClientInterface) interfaces.NotificationStore {
	return &store{dbClient: dbClient}
}

// Create appends a notification to the outbox
func (s *store) Create(ctx context.Context, n *model.Notification) error {
	_, err := s.dbClient.Execute(ctx, QueryCreateNotification,
		n.NotificationID, n.RecipientID, string(n.Type), n.RequestID, n.Title, n.Message, n.CreatedAt, n.ReadAt)
	return err
}

// GetByID retrieves a notification by ID
func (s *store) GetByID(ctx context.Context, notificationID string) (*model.Notification, error) {
	rows, err := s.dbClient.Query(ctx, QueryGetNotificationByID, notificationID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	n := mapToNotification(rows[0])
	return &n, nil
}

// ListByRecipient returns a page of the recipient's notifications, newest first, and the total
func (s *store) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool,
	limit, offset int) ([]model.Notification, int, error) {
	listQuery, countQuery := QueryListNotifications, QueryCountNotifications
	if unreadOnly {
		listQuery, countQuery = QueryListUnreadNotifications, QueryCountUnreadNotifications
	}

	countRows, err := s.dbClient.Query(ctx, countQuery, recipientID)
	if err != nil {
		return nil, 0, err
	}
	total := 0
	if len(countRows) > 0 {
		total = int(dbutils.Int64(countRows[0], "CNT"))
	}

	rows, err := s.dbClient.Query(ctx, listQuery, recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]model.Notification, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, mapToNotification(row))
	}
	return notifications, total, nil
}

// CountUnread counts the recipient's unread notifications
func (s *store) CountUnread(ctx context.Context, recipientID string) (int, error) {
	rows, err := s.dbClient.Query(ctx, QueryCountUnreadNotifications, recipientID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return int(dbutils.Int64(rows[0], "CNT")), nil
}

// MarkRead sets the read marker once; false means no unread row matched
func (s *store) MarkRead(ctx context.Context, notificationID, recipientID string, readTime int64) (bool, error) {
	affected, err := s.dbClient.Execute(ctx, QueryMarkNotificationRead, readTime, notificationID, recipientID)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func mapToNotification(row map[string]interface{}) model.Notification {
	return model.Notification{
		NotificationID: dbutils.String(row, "NOTIFICATION_ID"),
		RecipientID:    dbutils.String(row, "RECIPIENT_ID"),
		Type:           model.Type(dbutils.String(row, "NOTIFICATION_TYPE")),
		RequestID:      dbutils.String(row, "REQUEST_ID"),
		Title:          dbutils.String(row, "TITLE"),
		Message:        dbutils.String(row, "MESSAGE"),
		CreatedAt:      dbutils.Int64(row, "CREATED_TIME"),
		ReadAt:         dbutils.OptionalInt64(row, "READ_TIME"),
	}
}
