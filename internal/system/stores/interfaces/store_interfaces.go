// Package interfaces declares the store contracts shared across modules so a
// service can compose writes from several stores in one transaction.
package interfaces

import (
	"context"
	"errors"

	grantModel "github.com/carebridge/consent-api/internal/accessgrant/model"
	requestModel "github.com/carebridge/consent-api/internal/consentrequest/model"
	notificationModel "github.com/carebridge/consent-api/internal/notification/model"
	"github.com/carebridge/consent-api/internal/scope"
	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
)

// ErrStaleStatus is returned by conditional updates that matched no row
// because the row was not in the expected status.
var ErrStaleStatus = errors.New("row is not in the expected status")

// ConsentRequestStore defines the interface for consent request data operations
type ConsentRequestStore interface {
	GetByID(ctx context.Context, requestID string) (*requestModel.ConsentRequest, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]requestModel.ConsentRequest, int, error)
	ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]requestModel.ConsentRequest, int, error)
	ListExpiredApprovedIDs(ctx context.Context, now int64, limit int) ([]string, error)
	GetStatusAuditByRequestID(ctx context.Context, requestID string) ([]requestModel.StatusAudit, error)

	GetByIDForUpdate(tx dbmodel.TxInterface, requestID string) (*requestModel.ConsentRequest, error)
	Create(tx dbmodel.TxInterface, request *requestModel.ConsentRequest) error
	CreateScopes(tx dbmodel.TxInterface, requestID string, scopes []scope.RecordType) error
	CreateStatusAudit(tx dbmodel.TxInterface, audit *requestModel.StatusAudit) error
	UpdateResponse(tx dbmodel.TxInterface, request *requestModel.ConsentRequest, from requestModel.Status) error
	UpdateStatus(tx dbmodel.TxInterface, requestID string, from, to requestModel.Status, updatedTime int64) error
	UpdateExpiry(tx dbmodel.TxInterface, requestID string, expiresAt, updatedTime int64) error
	MarkExpired(tx dbmodel.TxInterface, requestID string, now int64) (bool, error)
}

// AccessGrantStore defines the interface for access grant data operations
type AccessGrantStore interface {
	HasActive(ctx context.Context, patientID, doctorID string, recordType scope.RecordType, now int64) (bool, error)
	GetByRequestID(ctx context.Context, requestID string) ([]grantModel.AccessGrant, error)
	ListByPatient(ctx context.Context, patientID string, activeOnly bool, now int64) ([]grantModel.AccessGrant, error)
	ListByDoctor(ctx context.Context, doctorID string, activeOnly bool, now int64) ([]grantModel.AccessGrant, error)
	ExpireOverdue(ctx context.Context, now int64) (int64, error)

	GetActiveForUpdate(tx dbmodel.TxInterface, patientID, doctorID string, recordType scope.RecordType) (*grantModel.AccessGrant, error)
	Create(tx dbmodel.TxInterface, grant *grantModel.AccessGrant) error
	Reassign(tx dbmodel.TxInterface, grantID, requestID string, expiresAt, updatedTime int64) error
	RevokeActiveByScopes(tx dbmodel.TxInterface, patientID, doctorID string, scopes []scope.RecordType, updatedTime int64) (int64, error)
	ExpireActiveByRequestID(tx dbmodel.TxInterface, requestID string, now int64) (int64, error)
	ExtendActiveByScopes(tx dbmodel.TxInterface, requestID, patientID, doctorID string, scopes []scope.RecordType,
		expiresAt, updatedTime int64) (int64, error)
}

// NotificationStore defines the interface for notification outbox operations
type NotificationStore interface {
	Create(ctx context.Context, notification *notificationModel.Notification) error
	GetByID(ctx context.Context, notificationID string) (*notificationModel.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]notificationModel.Notification, int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, notificationID, recipientID string, readTime int64) (bool, error)
}
