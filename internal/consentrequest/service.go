package consentrequest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	grantModel "github.com/carebridge/consent-api/internal/accessgrant/model"
	"github.com/carebridge/consent-api/internal/consentrequest/model"
	notificationModel "github.com/carebridge/consent-api/internal/notification/model"
	"github.com/carebridge/consent-api/internal/scope"
	"github.com/carebridge/consent-api/internal/system/constants"
	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/log"
	"github.com/carebridge/consent-api/internal/system/stores"
	"github.com/carebridge/consent-api/internal/system/stores/interfaces"
	"github.com/carebridge/consent-api/internal/system/utils"
)

// ConsentRequestService owns every transition of a consent request and the
// access grants it implies.
type ConsentRequestService interface {
	CreateRequest(ctx context.Context, patientID, doctorID, purpose string, scopes []string,
		durationDays int, message *string) (*model.ConsentRequest, *serviceerror.ServiceError)
	Approve(ctx context.Context, requestID, patientID string) (*model.ConsentRequest, *serviceerror.ServiceError)
	Deny(ctx context.Context, requestID, patientID string, reason *string) (*model.ConsentRequest, *serviceerror.ServiceError)
	Revoke(ctx context.Context, requestID, patientID string) (*model.ConsentRequest, *serviceerror.ServiceError)
	Extend(ctx context.Context, requestID, patientID string, additionalDays int) (*model.ConsentRequest, *serviceerror.ServiceError)
	Expire(ctx context.Context, requestID string, now time.Time) (bool, *serviceerror.ServiceError)

	GetRequest(ctx context.Context, requestID string) (*model.ConsentRequest, *serviceerror.ServiceError)
	ListForPatient(ctx context.Context, patientID string, limit, offset int) (*model.ConsentRequestListResponse, *serviceerror.ServiceError)
	ListForDoctor(ctx context.Context, doctorID string, limit, offset int) (*model.ConsentRequestListResponse, *serviceerror.ServiceError)
	GetStatusHistory(ctx context.Context, requestID string) ([]model.StatusAudit, *serviceerror.ServiceError)
	ListExpiredApprovedIDs(ctx context.Context, now time.Time, limit int) ([]string, *serviceerror.ServiceError)
}

// Notifier receives one notification per externally visible transition.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, notificationType notificationModel.Type,
		requestID, title, message string) *serviceerror.ServiceError
}

var (
	errRequestNotFound   = errors.New("consent request not found")
	errNotRequestPatient = errors.New("principal is not the patient of the request")
)

// transitionError reports a transition attempted from a status that does not allow it.
type transitionError struct {
	action string
	status model.Status
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("cannot %s a request in status %s", e.action, e.status)
}

type consentRequestService struct {
	stores   *stores.StoreRegistry
	notifier Notifier
	now      func() time.Time
	logger   *log.Logger
}

// NewConsentRequestService creates the service. A nil clock defaults to time.Now.
func NewConsentRequestService(registry *stores.StoreRegistry, notifier Notifier, now func() time.Time) ConsentRequestService {
	if now == nil {
		now = time.Now
	}
	return &consentRequestService{
		stores:   registry,
		notifier: notifier,
		now:      now,
		logger:   log.GetLogger().With(log.String(log.LoggerKeyComponentName, "ConsentRequestService")),
	}
}

// CreateRequest records a doctor's pending request and notifies the patient
func (s *consentRequestService) CreateRequest(
	ctx context.Context,
	patientID, doctorID, purpose string,
	scopes []string,
	durationDays int,
	message *string,
) (*model.ConsentRequest, *serviceerror.ServiceError) {
	input, err := validateCreate(patientID, doctorID, purpose, scopes, durationDays, message)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}

	sortScopes(input.scopes)
	nowMillis := utils.TimeToMillis(s.now())
	request := &model.ConsentRequest{
		RequestID:       utils.GenerateUUID(),
		PatientID:       input.patientID,
		DoctorID:        input.doctorID,
		Purpose:         input.purpose,
		RequestedScopes: input.scopes,
		DurationDays:    input.durationDays,
		Status:          model.StatusPending,
		RequestedAt:     nowMillis,
		Message:         input.message,
		UpdatedAt:       nowMillis,
	}

	store := s.stores.ConsentRequest
	err = s.stores.ExecuteTransaction(ctx, []func(tx dbmodel.TxInterface) error{
		func(tx dbmodel.TxInterface) error {
			return store.Create(tx, request)
		},
		func(tx dbmodel.TxInterface) error {
			return store.CreateScopes(tx, request.RequestID, request.RequestedScopes)
		},
		func(tx dbmodel.TxInterface) error {
			return store.CreateStatusAudit(tx, s.newAudit(request.RequestID, nil, model.StatusPending, nowMillis,
				request.DoctorID, nil))
		},
	})
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to create consent request: %v", err))
	}

	s.logger.Info("Consent request created",
		log.String("request_id", request.RequestID),
		log.Int("scope_count", len(request.RequestedScopes)))

	s.notify(ctx, request.PatientID, notificationModel.TypeConsentRequested, request.RequestID,
		"New consent request",
		fmt.Sprintf("Doctor %s requests access to %s for %d days.", request.DoctorID,
			joinScopes(request.RequestedScopes), request.DurationDays))

	return request, nil
}

// Approve moves a pending request to approved and fans it out into one
// active grant per requested scope, all in one transaction.
func (s *consentRequestService) Approve(
	ctx context.Context,
	requestID, patientID string,
) (*model.ConsentRequest, *serviceerror.ServiceError) {
	nowMillis := utils.TimeToMillis(s.now())
	requestStore := s.stores.ConsentRequest
	grantStore := s.stores.AccessGrant

	var request *model.ConsentRequest
	err := s.stores.ExecuteTransaction(ctx, []func(tx dbmodel.TxInterface) error{
		func(tx dbmodel.TxInterface) error {
			var err error
			request, err = s.loadForTransition(tx, requestID, patientID, "approve", model.StatusPending)
			if err != nil {
				return err
			}
			expiresAt := utils.AddDays(nowMillis, request.DurationDays)
			request.Status = model.StatusApproved
			request.RespondedAt = &nowMillis
			request.ExpiresAt = &expiresAt
			request.UpdatedAt = nowMillis
			return requestStore.UpdateResponse(tx, request, model.StatusPending)
		},
		func(tx dbmodel.TxInterface) error {
			for _, recordType := range request.RequestedScopes {
				if err := s.upsertGrant(tx, grantStore, request, recordType, nowMillis); err != nil {
					return fmt.Errorf("failed to grant %s: %w", recordType, err)
				}
			}
			return nil
		},
		func(tx dbmodel.TxInterface) error {
			previous := model.StatusPending
			return requestStore.CreateStatusAudit(tx, s.newAudit(request.RequestID, &previous,
				model.StatusApproved, nowMillis, patientID, nil))
		},
	})
	if err != nil {
		return nil, s.transitionFailure(err, requestID, "approve")
	}

	s.logger.Info("Consent request approved",
		log.String("request_id", request.RequestID),
		log.Int("grant_count", len(request.RequestedScopes)))

	s.notify(ctx, request.DoctorID, notificationModel.TypeConsentApproved, request.RequestID,
		"Consent request approved",
		fmt.Sprintf("Patient %s approved access to %s until %s.", request.PatientID,
			joinScopes(request.RequestedScopes), formatMillis(*request.ExpiresAt)))

	return request, nil
}

// upsertGrant keeps a single active grant per (patient, doctor, scope).
// A grant is linked to the request whose expiry it carries. A re-approval
// that outlasts the existing grant takes the grant over. A shorter one leaves
// it with the longer-lived request, so that grant's expiry differs from the
// shorter request's expiresAt and approval never cuts access short.
func (s *consentRequestService) upsertGrant(
	tx dbmodel.TxInterface,
	grantStore interfaces.AccessGrantStore,
	request *model.ConsentRequest,
	recordType scope.RecordType,
	nowMillis int64,
) error {
	existing, err := grantStore.GetActiveForUpdate(tx, request.PatientID, request.DoctorID, recordType)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.ExpiresAt > *request.ExpiresAt {
			return nil
		}
		return grantStore.Reassign(tx, existing.GrantID, request.RequestID, *request.ExpiresAt, nowMillis)
	}

	return grantStore.Create(tx, &grantModel.AccessGrant{
		GrantID:    utils.GenerateUUID(),
		RequestID:  request.RequestID,
		PatientID:  request.PatientID,
		DoctorID:   request.DoctorID,
		Scope:      recordType,
		AccessType: scope.ToAccessType(recordType),
		Status:     grantModel.StatusActive,
		GrantedAt:  nowMillis,
		ExpiresAt:  *request.ExpiresAt,
		UpdatedAt:  nowMillis,
	})
}

// Deny moves a pending request to denied. No grants are written.
func (s *consentRequestService) Deny(
	ctx context.Context,
	requestID, patientID string,
	reason *string,
) (*model.ConsentRequest, *serviceerror.ServiceError) {
	reason, err := validateReason(reason)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}

	nowMillis := utils.TimeToMillis(s.now())
	requestStore := s.stores.ConsentRequest

	var request *model.ConsentRequest
	err = s.stores.ExecuteTransaction(ctx, []func(tx dbmodel.TxInterface) error{
		func(tx dbmodel.TxInterface) error {
			var err error
			request, err = s.loadForTransition(tx, requestID, patientID, "deny", model.StatusPending)
			if err != nil {
				return err
			}
			request.Status = model.StatusDenied
			request.RespondedAt = &nowMillis
			request.ResponseReason = reason
			request.UpdatedAt = nowMillis
			return requestStore.UpdateResponse(tx, request, model.StatusPending)
		},
		func(tx dbmodel.TxInterface) error {
			previous := model.StatusPending
			return requestStore.CreateStatusAudit(tx, s.newAudit(request.RequestID, &previous,
				model.StatusDenied, nowMillis, patientID, reason))
		},
	})
	if err != nil {
		return nil, s.transitionFailure(err, requestID, "deny")
	}

	s.logger.Info("Consent request denied", log.String("request_id", request.RequestID))

	msg := fmt.Sprintf("Patient %s denied access to %s.", request.PatientID, joinScopes(request.RequestedScopes))
	if reason != nil {
		msg = fmt.Sprintf("%s Reason: %s", msg, *reason)
	}
	s.notify(ctx, request.DoctorID, notificationModel.TypeConsentDenied, request.RequestID,
		"Consent request denied", msg)

	return request, nil
}

// Revoke ends an approved request and revokes every active grant the pair
// holds for the request's scopes in the same transaction.
func (s *consentRequestService) Revoke(
	ctx context.Context,
	requestID, patientID string,
) (*model.ConsentRequest, *serviceerror.ServiceError) {
	nowMillis := utils.TimeToMillis(s.now())
	requestStore := s.stores.ConsentRequest
	grantStore := s.stores.AccessGrant

	var (
		request *model.ConsentRequest
		revoked int64
	)
	err := s.stores.ExecuteTransaction(ctx, []func(tx dbmodel.TxInterface) error{
		func(tx dbmodel.TxInterface) error {
			var err error
			request, err = s.loadForTransition(tx, requestID, patientID, "revoke", model.StatusApproved)
			if err != nil {
				return err
			}
			if err := requestStore.UpdateStatus(tx, request.RequestID, model.StatusApproved,
				model.StatusRevoked, nowMillis); err != nil {
				return err
			}
			request.Status = model.StatusRevoked
			request.UpdatedAt = nowMillis
			return nil
		},
		func(tx dbmodel.TxInterface) error {
			var err error
			revoked, err = grantStore.RevokeActiveByScopes(tx, request.PatientID, request.DoctorID,
				request.RequestedScopes, nowMillis)
			return err
		},
		func(tx dbmodel.TxInterface) error {
			previous := model.StatusApproved
			return requestStore.CreateStatusAudit(tx, s.newAudit(request.RequestID, &previous,
				model.StatusRevoked, nowMillis, patientID, nil))
		},
	})
	if err != nil {
		return nil, s.transitionFailure(err, requestID, "revoke")
	}

	s.logger.Info("Consent request revoked",
		log.String("request_id", request.RequestID),
		log.Int64("revoked_grants", revoked))

	s.notify(ctx, request.DoctorID, notificationModel.TypeConsentRevoked, request.RequestID,
		"Consent revoked",
		fmt.Sprintf("Patient %s revoked access to %s.", request.PatientID, joinScopes(request.RequestedScopes)))

	return request, nil
}

// Extend pushes the expiry of an approved request out by additionalDays,
// measured from the later of now and the current expiry. The pair's active
// grants for the request's scopes follow, are linked to this request and
// are never moved backwards.
func (s *consentRequestService) Extend(
	ctx context.Context,
	requestID, patientID string,
	additionalDays int,
) (*model.ConsentRequest, *serviceerror.ServiceError) {
	if err := validateAdditionalDays(additionalDays); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}

	nowMillis := utils.TimeToMillis(s.now())
	requestStore := s.stores.ConsentRequest
	grantStore := s.stores.AccessGrant
	reason := fmt.Sprintf("extended by %d days", additionalDays)

	var request *model.ConsentRequest
	err := s.stores.ExecuteTransaction(ctx, []func(tx dbmodel.TxInterface) error{
		func(tx dbmodel.TxInterface) error {
			var err error
			request, err = s.loadForTransition(tx, requestID, patientID, "extend", model.StatusApproved)
			if err != nil {
				return err
			}
			base := nowMillis
			if request.ExpiresAt != nil {
				base = utils.MaxMillis(*request.ExpiresAt, nowMillis)
			}
			expiresAt := utils.AddDays(base, additionalDays)
			if err := requestStore.UpdateExpiry(tx, request.RequestID, expiresAt, nowMillis); err != nil {
				return err
			}
			request.ExpiresAt = &expiresAt
			request.UpdatedAt = nowMillis
			return nil
		},
		func(tx dbmodel.TxInterface) error {
			_, err := grantStore.ExtendActiveByScopes(tx, request.RequestID, request.PatientID, request.DoctorID,
				request.RequestedScopes, *request.ExpiresAt, nowMillis)
			return err
		},
		func(tx dbmodel.TxInterface) error {
			previous := model.StatusApproved
			return requestStore.CreateStatusAudit(tx, s.newAudit(request.RequestID, &previous,
				model.StatusApproved, nowMillis, patientID, &reason))
		},
	})
	if err != nil {
		return nil, s.transitionFailure(err, requestID, "extend")
	}

	s.logger.Info("Consent request extended",
		log.String("request_id", request.RequestID),
		log.Int("additional_days", additionalDays))

	s.notify(ctx, request.DoctorID, notificationModel.TypeConsentExtended, request.RequestID,
		"Consent extended",
		fmt.Sprintf("Patient %s extended access to %s until %s.", request.PatientID,
			joinScopes(request.RequestedScopes), formatMillis(*request.ExpiresAt)))

	return request, nil
}

// Expire is the sweeper's transition: an approved request past its expiry
// becomes expired together with its linked active grants. It returns false
// when the request was not eligible, for example because another sweeper
// already expired it.
func (s *consentRequestService) Expire(ctx context.Context, requestID string, now time.Time) (bool, *serviceerror.ServiceError) {
	nowMillis := utils.TimeToMillis(now)
	requestStore := s.stores.ConsentRequest
	grantStore := s.stores.AccessGrant

	var (
		request *model.ConsentRequest
		acted   bool
		expired int64
	)
	err := s.stores.ExecuteTransaction(ctx, []func(tx dbmodel.TxInterface) error{
		func(tx dbmodel.TxInterface) error {
			var err error
			request, err = requestStore.GetByIDForUpdate(tx, requestID)
			if err != nil {
				return err
			}
			if request == nil {
				return nil
			}
			acted, err = requestStore.MarkExpired(tx, requestID, nowMillis)
			return err
		},
		func(tx dbmodel.TxInterface) error {
			if !acted {
				return nil
			}
			var err error
			expired, err = grantStore.ExpireActiveByRequestID(tx, requestID, nowMillis)
			return err
		},
		func(tx dbmodel.TxInterface) error {
			if !acted {
				return nil
			}
			previous := model.StatusApproved
			return requestStore.CreateStatusAudit(tx, s.newAudit(requestID, &previous,
				model.StatusExpired, nowMillis, constants.SystemActor, nil))
		},
	})
	if err != nil {
		return false, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to expire consent request %s: %v", requestID, err))
	}
	if !acted {
		return false, nil
	}

	request.Status = model.StatusExpired
	s.logger.Info("Consent request expired",
		log.String("request_id", requestID),
		log.Int64("expired_grants", expired))

	scopes := joinScopes(request.RequestedScopes)
	s.notify(ctx, request.DoctorID, notificationModel.TypeConsentExpired, requestID,
		"Consent expired", fmt.Sprintf("Your access to %s for patient %s has expired.", scopes, request.PatientID))
	s.notify(ctx, request.PatientID, notificationModel.TypeConsentExpired, requestID,
		"Consent expired", fmt.Sprintf("Doctor %s no longer has access to %s.", request.DoctorID, scopes))

	return true, nil
}

// GetRequest retrieves a request by ID
func (s *consentRequestService) GetRequest(ctx context.Context, requestID string) (*model.ConsentRequest, *serviceerror.ServiceError) {
	if err := utils.ValidateID("requestId", requestID); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	request, err := s.stores.ConsentRequest.GetByID(ctx, requestID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to retrieve consent request: %v", err))
	}
	if request == nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ResourceNotFoundError,
			fmt.Sprintf("consent request not found: %s", requestID))
	}
	return request, nil
}

// ListForPatient returns a page of requests addressed to the patient
func (s *consentRequestService) ListForPatient(
	ctx context.Context,
	patientID string,
	limit, offset int,
) (*model.ConsentRequestListResponse, *serviceerror.ServiceError) {
	return s.list(ctx, "patientId", patientID, limit, offset, s.stores.ConsentRequest.ListByPatient)
}

// ListForDoctor returns a page of requests made by the doctor
func (s *consentRequestService) ListForDoctor(
	ctx context.Context,
	doctorID string,
	limit, offset int,
) (*model.ConsentRequestListResponse, *serviceerror.ServiceError) {
	return s.list(ctx, "doctorId", doctorID, limit, offset, s.stores.ConsentRequest.ListByDoctor)
}

func (s *consentRequestService) list(
	ctx context.Context,
	field, principalID string,
	limit, offset int,
	fetch func(ctx context.Context, id string, limit, offset int) ([]model.ConsentRequest, int, error),
) (*model.ConsentRequestListResponse, *serviceerror.ServiceError) {
	if err := utils.ValidateID(field, principalID); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}
	if limit == 0 {
		limit = constants.DefaultPageSize
	}
	if err := utils.ValidatePagination(limit, offset, constants.MaxPageSize); err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.ValidationError, err.Error())
	}

	requests, total, err := fetch(ctx, principalID, limit, offset)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to list consent requests: %v", err))
	}

	return &model.ConsentRequestListResponse{
		Data: requests,
		Metadata: model.PageMetadata{
			Total:  total,
			Offset: offset,
			Count:  len(requests),
			Limit:  limit,
		},
	}, nil
}

// GetStatusHistory returns the request's transitions, oldest first
func (s *consentRequestService) GetStatusHistory(ctx context.Context, requestID string) ([]model.StatusAudit, *serviceerror.ServiceError) {
	if _, serviceErr := s.GetRequest(ctx, requestID); serviceErr != nil {
		return nil, serviceErr
	}
	audits, err := s.stores.ConsentRequest.GetStatusAuditByRequestID(ctx, requestID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to retrieve status history: %v", err))
	}
	return audits, nil
}

// ListExpiredApprovedIDs returns up to limit approved requests whose expiry is at or before now
func (s *consentRequestService) ListExpiredApprovedIDs(ctx context.Context, now time.Time, limit int) ([]string, *serviceerror.ServiceError) {
	ids, err := s.stores.ConsentRequest.ListExpiredApprovedIDs(ctx, utils.TimeToMillis(now), limit)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to list expired consent requests: %v", err))
	}
	return ids, nil
}

// loadForTransition reads the request under lock and checks existence,
// the acting patient and the source status, in that order.
func (s *consentRequestService) loadForTransition(
	tx dbmodel.TxInterface,
	requestID, patientID, action string,
	from model.Status,
) (*model.ConsentRequest, error) {
	request, err := s.stores.ConsentRequest.GetByIDForUpdate(tx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, errRequestNotFound
	}
	if request.PatientID != patientID {
		return nil, errNotRequestPatient
	}
	if request.Status != from {
		return nil, &transitionError{action: action, status: request.Status}
	}
	return request, nil
}

// transitionFailure maps an error raised inside a transition transaction to a ServiceError.
func (s *consentRequestService) transitionFailure(err error, requestID, action string) *serviceerror.ServiceError {
	var te *transitionError
	switch {
	case errors.Is(err, errRequestNotFound):
		return serviceerror.CustomServiceError(serviceerror.ResourceNotFoundError,
			fmt.Sprintf("consent request not found: %s", requestID))
	case errors.Is(err, errNotRequestPatient):
		return serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
			fmt.Sprintf("only the patient can %s this request", action))
	case errors.As(err, &te):
		return serviceerror.CustomServiceError(serviceerror.InvalidTransitionError, te.Error())
	case errors.Is(err, interfaces.ErrStaleStatus):
		return serviceerror.CustomServiceError(serviceerror.InvalidTransitionError,
			fmt.Sprintf("cannot %s: the request was modified concurrently", action))
	default:
		s.logger.Error("Consent request transition failed",
			log.String("request_id", requestID),
			log.String("action", action),
			log.Error(err))
		return serviceerror.CustomServiceError(serviceerror.DatabaseError,
			fmt.Sprintf("failed to %s consent request: %v", action, err))
	}
}

func (s *consentRequestService) newAudit(requestID string, previous *model.Status, current model.Status,
	actionTime int64, actionBy string, reason *string) *model.StatusAudit {
	return &model.StatusAudit{
		StatusAuditID:  utils.GenerateUUID(),
		RequestID:      requestID,
		CurrentStatus:  current,
		PreviousStatus: previous,
		ActionTime:     actionTime,
		ActionBy:       actionBy,
		Reason:         reason,
	}
}

// notify runs after commit. Failures are logged and never undo the transition.
func (s *consentRequestService) notify(ctx context.Context, recipientID string, notificationType notificationModel.Type,
	requestID, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, recipientID, notificationType, requestID, title, message); err != nil {
		s.logger.Warn("Failed to emit notification",
			log.String("request_id", requestID),
			log.String("type", string(notificationType)),
			log.String("error", err.ErrorDescription))
	}
}

func joinScopes(scopes []scope.RecordType) string {
	return strings.Join(scope.Strings(scopes), ", ")
}

func formatMillis(millis int64) string {
	return utils.MillisToTime(millis).UTC().Format(time.RFC3339)
}
