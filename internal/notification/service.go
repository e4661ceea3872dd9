package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridge/consent-api/internal/notification/model"
	"github.com/carebridge/consent-api/internal/system/constants"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/stores"
	"github.com/carebridge/consent-api/internal/system/utils"
)

// NotificationService writes the outbox and serves it back to recipients.
// Delivery is handled by a separate consumer.
type NotificationService interface {
	Notify(ctx context.Context, recipientID string, notificationType model.Type,
		requestID, title, message string) *serviceerror.ServiceError
	List(ctx context.Context, recipientID string, unreadOnly bool,
		limit, offset int) (*model.NotificationListResponse, *serviceerror.ServiceError)
	MarkRead(ctx context.Context, notificationID, recipientID string) (*model.Notification, *serviceerror.ServiceError)
}

type notificationService struct {
	stores *stores.StoreRegistry
	now    func() time.Time
}

// NewNotificationService creates the service. A nil clock defaults to time.Now.
func NewNotificationService(registry *stores.StoreRegistry, now func() time.Time) NotificationService {
	if now == nil {
		now = time.Now
	}
	return &notificationService{stores: registry, now: now}
}

// Notify appends one notification for the recipient
func (s *notificationService) Notify(
	ctx context.Context,
	recipientID string,
	notificationType model.Type,
	requestID, title, message string,
) *serviceerror.ServiceError {
	if err := utils.ValidateID("recipientId", recipientID); err != nil {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}

	n := &model.Notification{
		NotificationID: utils.GenerateUUID(),
		RecipientID:    recipientID,
		Type:           notificationType,
		RequestID:      requestID,
		Title:          title,
		Message:        message,
		CreatedAt:      utils.TimeToMillis(s.now()),
	}
	if err := s.stores.Notification.Create(ctx, n); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to create notification: %v", err))
	}
	return nil
}

// List returns a page of the recipient's notifications with totals
func (s *notificationService) List(
	ctx context.Context,
	recipientID string,
	unreadOnly bool,
	limit, offset int,
) (*model.NotificationListResponse, *serviceerror.ServiceError) {
	if limit == 0 {
		limit = constants.DefaultPageSize
	}
	if err := utils.ValidatePagination(limit, offset, constants.MaxPageSize); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}

	notifications, total, err := s.stores.Notification.ListByRecipient(ctx, recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to list notifications: %v", err))
	}
	unread, err := s.stores.Notification.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to count unread notifications: %v", err))
	}

	return &model.NotificationListResponse{Data: notifications, Total: total, Unread: unread}, nil
}

// MarkRead marks a notification as read. Marking twice keeps the first read time.
func (s *notificationService) MarkRead(
	ctx context.Context,
	notificationID, recipientID string,
) (*model.Notification, *serviceerror.ServiceError) {
	if _, err := s.stores.Notification.MarkRead(ctx, notificationID, recipientID, utils.TimeToMillis(s.now())); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to mark notification read: %v", err))
	}

	n, err := s.stores.Notification.GetByID(ctx, notificationID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to retrieve notification: %v", err))
	}
	// Other recipients' notifications are reported as missing.
	if n == nil || n.RecipientID != recipientID {
		return nil, serviceerror.CustomServiceError(serviceerror.ResourceNotFoundError,
			fmt.Sprintf("notification not found: %s", notificationID))
	}
	return n, nil
}
