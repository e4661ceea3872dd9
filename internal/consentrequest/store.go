package consentrequest

import (
	"context"
	"fmt"
	"sort"

	"github.com/carebridge/consent-api/internal/consentrequest/model"
	"github.com/carebridge/consent-api/internal/scope"
	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
	"github.com/carebridge/consent-api/internal/system/database/provider"
	dbutils "github.com/carebridge/consent-api/internal/system/database/utils"
	"github.com/carebridge/consent-api/internal/system/stores/interfaces"
)

const requestColumns = "REQUEST_ID, PATIENT_ID, DOCTOR_ID, PURPOSE, DURATION_DAYS, STATUS, REQUESTED_TIME, RESPONDED_TIME, EXPIRES_AT, MESSAGE, RESPONSE_REASON, UPDATED_TIME"

// DBQuery objects for consent request operations
var (
	QueryCreateRequest = dbmodel.DBQuery{
		ID:    "CREATE_CONSENT_REQUEST",
		Query: "INSERT INTO CONSENT_REQUEST (" + requestColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
	}

	QueryGetRequestByID = dbmodel.DBQuery{
		ID:    "GET_CONSENT_REQUEST_BY_ID",
		Query: "SELECT " + requestColumns + " FROM CONSENT_REQUEST WHERE REQUEST_ID = ?",
	}

	QueryGetRequestByIDForUpdate = dbmodel.DBQuery{
		ID:          "GET_CONSENT_REQUEST_BY_ID_FOR_UPDATE",
		Query:       "SELECT " + requestColumns + " FROM CONSENT_REQUEST WHERE REQUEST_ID = ? FOR UPDATE",
		SQLiteQuery: "SELECT " + requestColumns + " FROM CONSENT_REQUEST WHERE REQUEST_ID = ?",
	}

	QueryListRequestsByPatient = dbmodel.DBQuery{
		ID:    "LIST_CONSENT_REQUESTS_BY_PATIENT",
		Query: "SELECT " + requestColumns + " FROM CONSENT_REQUEST WHERE PATIENT_ID = ? ORDER BY REQUESTED_TIME DESC, REQUEST_ID LIMIT ? OFFSET ?",
	}

	QueryCountRequestsByPatient = dbmodel.DBQuery{
		ID:    "COUNT_CONSENT_REQUESTS_BY_PATIENT",
		Query: "SELECT COUNT(*) AS CNT FROM CONSENT_REQUEST WHERE PATIENT_ID = ?",
	}

	QueryListRequestsByDoctor = dbmodel.DBQuery{
		ID:    "LIST_CONSENT_REQUESTS_BY_DOCTOR",
		Query: "SELECT " + requestColumns + " FROM CONSENT_REQUEST WHERE DOCTOR_ID = ? ORDER BY REQUESTED_TIME DESC, REQUEST_ID LIMIT ? OFFSET ?",
	}

	QueryCountRequestsByDoctor = dbmodel.DBQuery{
		ID:    "COUNT_CONSENT_REQUESTS_BY_DOCTOR",
		Query: "SELECT COUNT(*) AS CNT FROM CONSENT_REQUEST WHERE DOCTOR_ID = ?",
	}

	QueryListExpiredApprovedIDs = dbmodel.DBQuery{
		ID:    "LIST_EXPIRED_APPROVED_CONSENT_REQUEST_IDS",
		Query: "SELECT REQUEST_ID FROM CONSENT_REQUEST WHERE STATUS = 'approved' AND EXPIRES_AT <= ? ORDER BY EXPIRES_AT, REQUEST_ID LIMIT ?",
	}

	QueryUpdateResponse = dbmodel.DBQuery{
		ID:    "UPDATE_CONSENT_REQUEST_RESPONSE",
		Query: "UPDATE CONSENT_REQUEST SET STATUS = ?, RESPONDED_TIME = ?, EXPIRES_AT = ?, RESPONSE_REASON = ?, UPDATED_TIME = ? WHERE REQUEST_ID = ? AND STATUS = ?",
	}

	QueryUpdateStatus = dbmodel.DBQuery{
		ID:    "UPDATE_CONSENT_REQUEST_STATUS",
		Query: "UPDATE CONSENT_REQUEST SET STATUS = ?, UPDATED_TIME = ? WHERE REQUEST_ID = ? AND STATUS = ?",
	}

	QueryUpdateExpiry = dbmodel.DBQuery{
		ID:    "UPDATE_CONSENT_REQUEST_EXPIRY",
		Query: "UPDATE CONSENT_REQUEST SET EXPIRES_AT = ?, UPDATED_TIME = ? WHERE REQUEST_ID = ? AND STATUS = 'approved'",
	}

	QueryMarkExpired = dbmodel.DBQuery{
		ID:    "MARK_CONSENT_REQUEST_EXPIRED",
		Query: "UPDATE CONSENT_REQUEST SET STATUS = 'expired', UPDATED_TIME = ? WHERE REQUEST_ID = ? AND STATUS = 'approved' AND EXPIRES_AT <= ?",
	}

	// Scope queries
	QueryCreateScope = dbmodel.DBQuery{
		ID:    "CREATE_CONSENT_REQUEST_SCOPE",
		Query: "INSERT INTO CONSENT_REQUEST_SCOPE (REQUEST_ID, SCOPE) VALUES (?, ?)",
	}

	QueryGetScopesByRequestIDs = dbmodel.DBQuery{
		ID:    "GET_CONSENT_REQUEST_SCOPES_BY_REQUEST_IDS",
		Query: "SELECT REQUEST_ID, SCOPE FROM CONSENT_REQUEST_SCOPE WHERE REQUEST_ID IN (?)",
	}

	// Status audit queries
	QueryCreateStatusAudit = dbmodel.DBQuery{
		ID:    "CREATE_REQUEST_STATUS_AUDIT",
		Query: "INSERT INTO REQUEST_STATUS_AUDIT (STATUS_AUDIT_ID, REQUEST_ID, CURRENT_STATUS, PREVIOUS_STATUS, ACTION_TIME, ACTION_BY, REASON) VALUES (?, ?, ?, ?, ?, ?, ?)",
	}

	QueryGetStatusAuditByRequestID = dbmodel.DBQuery{
		ID: "GET_REQUEST_STATUS_AUDIT_BY_REQUEST_ID",
		Query: "SELECT STATUS_AUDIT_ID, REQUEST_ID, CURRENT_STATUS, PREVIOUS_STATUS, ACTION_TIME, ACTION_BY, REASON FROM REQUEST_STATUS_AUDIT " +
			"WHERE REQUEST_ID = ? ORDER BY ACTION_TIME, CASE WHEN PREVIOUS_STATUS IS NULL THEN 0 ELSE 1 END",
	}
)

// store implements interfaces.ConsentRequestStore
type store struct {
	dbClient provider.DBClientInterface
}

var _ interfaces.ConsentRequestStore = (*store)(nil)

// NewStore creates a new consent request store (exported for registry)
func NewStore(dbClient provider.DBClientInterface) interfaces.ConsentRequestStore {
	return &store{dbClient: dbClient}
}

// GetByID retrieves a request with its scopes, or nil if it does not exist
func (s *store) GetByID(ctx context.Context, requestID string) (*model.ConsentRequest, error) {
	rows, err := s.dbClient.Query(ctx, QueryGetRequestByID, requestID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	request := mapToConsentRequest(rows[0])
	scopeRows, err := s.dbClient.Query(ctx, QueryGetScopesByRequestIDs, []string{requestID})
	if err != nil {
		return nil, err
	}
	attachScopes([]*model.ConsentRequest{&request}, scopeRows)
	return &request, nil
}

// ListByPatient returns a page of the patient's requests, newest first, and the total
func (s *store) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]model.ConsentRequest, int, error) {
	return s.list(ctx, QueryListRequestsByPatient, QueryCountRequestsByPatient, patientID, limit, offset)
}

// ListByDoctor returns a page of the doctor's requests, newest first, and the total
func (s *store) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]model.ConsentRequest, int, error) {
	return s.list(ctx, QueryListRequestsByDoctor, QueryCountRequestsByDoctor, doctorID, limit, offset)
}

func (s *store) list(ctx context.Context, listQuery, countQuery dbmodel.DBQuery, principalID string,
	limit, offset int) ([]model.ConsentRequest, int, error) {
	countRows, err := s.dbClient.Query(ctx, countQuery, principalID)
	if err != nil {
		return nil, 0, err
	}
	total := 0
	if len(countRows) > 0 {
		total = int(dbutils.Int64(countRows[0], "CNT"))
	}

	rows, err := s.dbClient.Query(ctx, listQuery, principalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	requests := make([]model.ConsentRequest, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, mapToConsentRequest(row))
	}
	if len(requests) == 0 {
		return requests, total, nil
	}

	ids := make([]string, len(requests))
	ptrs := make([]*model.ConsentRequest, len(requests))
	for i := range requests {
		ids[i] = requests[i].RequestID
		ptrs[i] = &requests[i]
	}
	scopeRows, err := s.dbClient.Query(ctx, QueryGetScopesByRequestIDs, ids)
	if err != nil {
		return nil, 0, err
	}
	attachScopes(ptrs, scopeRows)
	return requests, total, nil
}

// ListExpiredApprovedIDs returns up to limit approved requests whose expiry has passed, oldest expiry first
func (s *store) ListExpiredApprovedIDs(ctx context.Context, now int64, limit int) ([]string, error) {
	rows, err := s.dbClient.Query(ctx, QueryListExpiredApprovedIDs, now, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, dbutils.String(row, "REQUEST_ID"))
	}
	return ids, nil
}

// GetStatusAuditByRequestID returns the request's status history, oldest first
func (s *store) GetStatusAuditByRequestID(ctx context.Context, requestID string) ([]model.StatusAudit, error) {
	rows, err := s.dbClient.Query(ctx, QueryGetStatusAuditByRequestID, requestID)
	if err != nil {
		return nil, err
	}
	audits := make([]model.StatusAudit, 0, len(rows))
	for _, row := range rows {
		audit := model.StatusAudit{
			StatusAuditID: dbutils.String(row, "STATUS_AUDIT_ID"),
			RequestID:     dbutils.String(row, "REQUEST_ID"),
			CurrentStatus: model.Status(dbutils.String(row, "CURRENT_STATUS")),
			ActionTime:    dbutils.Int64(row, "ACTION_TIME"),
			ActionBy:      dbutils.String(row, "ACTION_BY"),
			Reason:        dbutils.OptionalString(row, "REASON"),
		}
		if prev := dbutils.OptionalString(row, "PREVIOUS_STATUS"); prev != nil {
			status := model.Status(*prev)
			audit.PreviousStatus = &status
		}
		audits = append(audits, audit)
	}
	return audits, nil
}

// GetByIDForUpdate reads a request inside tx, locking the row where the dialect allows
func (s *store) GetByIDForUpdate(tx dbmodel.TxInterface, requestID string) (*model.ConsentRequest, error) {
	rows, err := tx.Query(QueryGetRequestByIDForUpdate, requestID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	request := mapToConsentRequest(rows[0])
	scopeRows, err := tx.Query(QueryGetScopesByRequestIDs, []string{requestID})
	if err != nil {
		return nil, err
	}
	attachScopes([]*model.ConsentRequest{&request}, scopeRows)
	return &request, nil
}

// Create inserts the request row
func (s *store) Create(tx dbmodel.TxInterface, r *model.ConsentRequest) error {
	_, err := tx.Execute(QueryCreateRequest,
		r.RequestID, r.PatientID, r.DoctorID, r.Purpose, r.DurationDays, string(r.Status),
		r.RequestedAt, r.RespondedAt, r.ExpiresAt, r.Message, r.ResponseReason, r.UpdatedAt)
	return err
}

// CreateScopes inserts one row per requested scope
func (s *store) CreateScopes(tx dbmodel.TxInterface, requestID string, scopes []scope.RecordType) error {
	for _, sc := range scopes {
		if _, err := tx.Execute(QueryCreateScope, requestID, string(sc)); err != nil {
			return err
		}
	}
	return nil
}

// CreateStatusAudit appends a status history row
func (s *store) CreateStatusAudit(tx dbmodel.TxInterface, audit *model.StatusAudit) error {
	var previous *string
	if audit.PreviousStatus != nil {
		p := string(*audit.PreviousStatus)
		previous = &p
	}
	_, err := tx.Execute(QueryCreateStatusAudit,
		audit.StatusAuditID, audit.RequestID, string(audit.CurrentStatus), previous,
		audit.ActionTime, audit.ActionBy, audit.Reason)
	return err
}

// UpdateResponse records the patient's answer, conditional on the request still being in status from
func (s *store) UpdateResponse(tx dbmodel.TxInterface, r *model.ConsentRequest, from model.Status) error {
	affected, err := tx.Execute(QueryUpdateResponse,
		string(r.Status), r.RespondedAt, r.ExpiresAt, r.ResponseReason, r.UpdatedAt, r.RequestID, string(from))
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("consent request %s: %w", r.RequestID, interfaces.ErrStaleStatus)
	}
	return nil
}

// UpdateStatus moves the request from one status to another
func (s *store) UpdateStatus(tx dbmodel.TxInterface, requestID string, from, to model.Status, updatedTime int64) error {
	affected, err := tx.Execute(QueryUpdateStatus, string(to), updatedTime, requestID, string(from))
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("consent request %s: %w", requestID, interfaces.ErrStaleStatus)
	}
	return nil
}

// UpdateExpiry sets a new expiry on an approved request
func (s *store) UpdateExpiry(tx dbmodel.TxInterface, requestID string, expiresAt, updatedTime int64) error {
	affected, err := tx.Execute(QueryUpdateExpiry, expiresAt, updatedTime, requestID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("consent request %s: %w", requestID, interfaces.ErrStaleStatus)
	}
	return nil
}

// MarkExpired expires an approved request whose expiry has passed; false means nothing matched
func (s *store) MarkExpired(tx dbmodel.TxInterface, requestID string, now int64) (bool, error) {
	affected, err := tx.Execute(QueryMarkExpired, now, requestID, now)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func attachScopes(requests []*model.ConsentRequest, scopeRows []map[string]interface{}) {
	byID := make(map[string]*model.ConsentRequest, len(requests))
	for _, r := range requests {
		r.RequestedScopes = make([]scope.RecordType, 0)
		byID[r.RequestID] = r
	}
	for _, row := range scopeRows {
		if r, ok := byID[dbutils.String(row, "REQUEST_ID")]; ok {
			r.RequestedScopes = append(r.RequestedScopes, scope.RecordType(dbutils.String(row, "SCOPE")))
		}
	}
	for _, r := range requests {
		sortScopes(r.RequestedScopes)
	}
}

// sortScopes orders scopes by vocabulary position so responses are stable.
func sortScopes(scopes []scope.RecordType) {
	rank := make(map[scope.RecordType]int)
	for i, r := range scope.RecordTypes() {
		rank[r] = i
	}
	sort.SliceStable(scopes, func(i, j int) bool { return rank[scopes[i]] < rank[scopes[j]] })
}

func mapToConsentRequest(row map[string]interface{}) model.ConsentRequest {
	return model.ConsentRequest{
		RequestID:      dbutils.String(row, "REQUEST_ID"),
		PatientID:      dbutils.String(row, "PATIENT_ID"),
		DoctorID:       dbutils.String(row, "DOCTOR_ID"),
		Purpose:        dbutils.String(row, "PURPOSE"),
		DurationDays:   int(dbutils.Int64(row, "DURATION_DAYS")),
		Status:         model.Status(dbutils.String(row, "STATUS")),
		RequestedAt:    dbutils.Int64(row, "REQUESTED_TIME"),
		RespondedAt:    dbutils.OptionalInt64(row, "RESPONDED_TIME"),
		ExpiresAt:      dbutils.OptionalInt64(row, "EXPIRES_AT"),
		Message:        dbutils.OptionalString(row, "MESSAGE"),
		ResponseReason: dbutils.OptionalString(row, "RESPONSE_REASON"),
		UpdatedAt:      dbutils.Int64(row, "UPDATED_TIME"),
	}
}
