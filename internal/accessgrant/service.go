package accessgrant

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridge/consent-api/internal/accessgrant/model"
	"github.com/carebridge/consent-api/internal/scope"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/log"
	"github.com/carebridge/consent-api/internal/system/stores"
	"github.com/carebridge/consent-api/internal/system/utils"
)

// AccessGrantService answers access checks and exposes grant listings.
// Grants are only written by the consent request lifecycle.
type AccessGrantService interface {
	HasAccess(ctx context.Context, doctorID, patientID string, recordType scope.RecordType) (bool, *serviceerror.ServiceError)
	ListForPatient(ctx context.Context, patientID string, activeOnly bool) ([]model.AccessGrant, *serviceerror.ServiceError)
	ListForDoctor(ctx context.Context, doctorID string, activeOnly bool) ([]model.AccessGrant, *serviceerror.ServiceError)
	ListForRequest(ctx context.Context, requestID string) ([]model.AccessGrant, *serviceerror.ServiceError)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, *serviceerror.ServiceError)
}

type accessGrantService struct {
	stores *stores.StoreRegistry
	now    func() time.Time
}

// NewAccessGrantService creates the service. A nil clock defaults to time.Now.
func NewAccessGrantService(registry *stores.StoreRegistry, now func() time.Time) AccessGrantService {
	if now == nil {
		now = time.Now
	}
	return &accessGrantService{stores: registry, now: now}
}

// HasAccess is true iff an active grant for exactly this tuple has not yet
// reached its expiry. It never writes, so unswept grants read as denied.
func (s *accessGrantService) HasAccess(
	ctx context.Context,
	doctorID, patientID string,
	recordType scope.RecordType,
) (bool, *serviceerror.ServiceError) {
	if err := utils.ValidateID("doctorId", doctorID); err != nil {
		return false, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	if err := utils.ValidateID("patientId", patientID); err != nil {
		return false, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	if !recordType.IsValid() {
		return false, serviceerror.CustomServiceError(serviceerror.ValidationError,
			fmt.Sprintf("unknown scope: %q", recordType))
	}

	allowed, err := s.stores.AccessGrant.HasActive(ctx, patientID, doctorID, recordType, utils.TimeToMillis(s.now()))
	if err != nil {
		return false, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to check access: %v", err))
	}
	return allowed, nil
}

// ListForPatient returns grants over a patient's data, newest first
func (s *accessGrantService) ListForPatient(
	ctx context.Context,
	patientID string,
	activeOnly bool,
) ([]model.AccessGrant, *serviceerror.ServiceError) {
	if err := utils.ValidateID("patientId", patientID); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	grants, err := s.stores.AccessGrant.ListByPatient(ctx, patientID, activeOnly, utils.TimeToMillis(s.now()))
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to list access grants: %v", err))
	}
	return grants, nil
}

// ListForDoctor returns grants held by a doctor, newest first
func (s *accessGrantService) ListForDoctor(
	ctx context.Context,
	doctorID string,
	activeOnly bool,
) ([]model.AccessGrant, *serviceerror.ServiceError) {
	if err := utils.ValidateID("doctorId", doctorID); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	grants, err := s.stores.AccessGrant.ListByDoctor(ctx, doctorID, activeOnly, utils.TimeToMillis(s.now()))
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to list access grants: %v", err))
	}
	return grants, nil
}

// ListForRequest returns the grants currently linked to a request
func (s *accessGrantService) ListForRequest(ctx context.Context, requestID string) ([]model.AccessGrant, *serviceerror.ServiceError) {
	grants, err := s.stores.AccessGrant.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to list access grants: %v", err))
	}
	return grants, nil
}

// ExpireOverdue expires active grants whose expiry has passed. The update is
// conditional on status so concurrent sweepers never touch a row twice.
func (s *accessGrantService) ExpireOverdue(ctx context.Context, now time.Time) (int64, *serviceerror.ServiceError) {
	affected, err := s.stores.AccessGrant.ExpireOverdue(ctx, utils.TimeToMillis(now))
	if err != nil {
		return 0, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to expire overdue grants: %v", err))
	}
	if affected > 0 {
		log.GetLogger().With(log.String(log.LoggerKeyComponentName, "AccessGrantService")).
			Info("Expired overdue access grants", log.Int64("count", affected))
	}
	return affected, nil
}
