package accessgrant

import (
	"context"
	"fmt"

	"github.com/carebridge/consent-api/internal/accessgrant/model"
	"github.com/carebridge/consent-api/internal/scope"
	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
	"github.com/carebridge/consent-api/internal/system/database/provider"
	dbutils "github.com/carebridge/consent-api/internal/system/database/utils"
	"github.com/carebridge/consent-api/internal/system/stores/interfaces"
)

const grantColumns = "GRANT_ID, REQUEST_ID, PATIENT_ID, DOCTOR_ID, SCOPE, ACCESS_TYPE, STATUS, GRANTED_TIME, EXPIRES_AT, UPDATED_TIME"

// DBQuery objects for access grant operations
var (
	QueryCreateGrant = dbmodel.DBQuery{
		ID:    "CREATE_ACCESS_GRANT",
		Query: "INSERT INTO ACCESS_GRANT (" + grantColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
	}

	QueryGetActiveGrantForUpdate = dbmodel.DBQuery{
		ID:          "GET_ACTIVE_ACCESS_GRANT_FOR_UPDATE",
		Query:       "SELECT " + grantColumns + " FROM ACCESS_GRANT WHERE PATIENT_ID = ? AND DOCTOR_ID = ? AND SCOPE = ? AND STATUS = 'active' FOR UPDATE",
		SQLiteQuery: "SELECT " + grantColumns + " FROM ACCESS_GRANT WHERE PATIENT_ID = ? AND DOCTOR_ID = ? AND SCOPE = ? AND STATUS = 'active'",
	}

	QueryReassignGrant = dbmodel.DBQuery{
		ID:    "REASSIGN_ACCESS_GRANT",
		Query: "UPDATE ACCESS_GRANT SET REQUEST_ID = ?, EXPIRES_AT = ?, UPDATED_TIME = ? WHERE GRANT_ID = ? AND STATUS = 'active'",
	}

	QueryRevokeActiveGrantsByScopes = dbmodel.DBQuery{
		ID:    "REVOKE_ACTIVE_ACCESS_GRANTS_BY_SCOPES",
		Query: "UPDATE ACCESS_GRANT SET STATUS = 'revoked', UPDATED_TIME = ? WHERE PATIENT_ID = ? AND DOCTOR_ID = ? AND SCOPE IN (?) AND STATUS = 'active'",
	}

	QueryExpireActiveGrantsByRequestID = dbmodel.DBQuery{
		ID:    "EXPIRE_ACTIVE_ACCESS_GRANTS_BY_REQUEST_ID",
		Query: "UPDATE ACCESS_GRANT SET STATUS = 'expired', UPDATED_TIME = ? WHERE REQUEST_ID = ? AND STATUS = 'active' AND EXPIRES_AT <= ?",
	}

	QueryExtendActiveGrantsByScopes = dbmodel.DBQuery{
		ID: "EXTEND_ACTIVE_ACCESS_GRANTS_BY_SCOPES",
		Query: "UPDATE ACCESS_GRANT SET REQUEST_ID = ?, EXPIRES_AT = ?, UPDATED_TIME = ? " +
			"WHERE PATIENT_ID = ? AND DOCTOR_ID = ? AND SCOPE IN (?) AND STATUS = 'active' AND EXPIRES_AT < ?",
	}

	QueryExpireOverdueGrants = dbmodel.DBQuery{
		ID:    "EXPIRE_OVERDUE_ACCESS_GRANTS",
		Query: "UPDATE ACCESS_GRANT SET STATUS = 'expired', UPDATED_TIME = ? WHERE STATUS = 'active' AND EXPIRES_AT <= ?",
	}

	QueryCountEffectiveGrants = dbmodel.DBQuery{
		ID:    "COUNT_EFFECTIVE_ACCESS_GRANTS",
		Query: "SELECT COUNT(*) AS CNT FROM ACCESS_GRANT WHERE PATIENT_ID = ? AND DOCTOR_ID = ? AND SCOPE = ? AND STATUS = 'active' AND EXPIRES_AT > ?",
	}

	QueryGetGrantsByRequestID = dbmodel.DBQuery{
		ID:    "GET_ACCESS_GRANTS_BY_REQUEST_ID",
		Query: "SELECT " + grantColumns + " FROM ACCESS_GRANT WHERE REQUEST_ID = ? ORDER BY SCOPE",
	}

	QueryGetGrantsByPatient = dbmodel.DBQuery{
		ID:    "GET_ACCESS_GRANTS_BY_PATIENT",
		Query: "SELECT " + grantColumns + " FROM ACCESS_GRANT WHERE PATIENT_ID = ? ORDER BY GRANTED_TIME DESC, SCOPE",
	}

	QueryGetEffectiveGrantsByPatient = dbmodel.DBQuery{
		ID:    "GET_EFFECTIVE_ACCESS_GRANTS_BY_PATIENT",
		Query: "SELECT " + grantColumns + " FROM ACCESS_GRANT WHERE PATIENT_ID = ? AND STATUS = 'active' AND EXPIRES_AT > ? ORDER BY GRANTED_TIME DESC, SCOPE",
	}

	QueryGetGrantsByDoctor = dbmodel.DBQuery{
		ID:    "GET_ACCESS_GRANTS_BY_DOCTOR",
		Query: "SELECT " + grantColumns + " FROM ACCESS_GRANT WHERE DOCTOR_ID = ? ORDER BY GRANTED_TIME DESC, SCOPE",
	}

	QueryGetEffectiveGrantsByDoctor = dbmodel.DBQuery{
		ID:    "GET_EFFECTIVE_ACCESS_GRANTS_BY_DOCTOR",
		Query: "SELECT " + grantColumns + " FROM ACCESS_GRANT WHERE DOCTOR_ID = ? AND STATUS = 'active' AND EXPIRES_AT > ? ORDER BY GRANTED_TIME DESC, SCOPE",
	}
)

// store implements interfaces.AccessGrantStore
type store struct {
	dbClient provider.DBClientInterface
}

var _ interfaces.AccessGrantStore = (*store)(nil)

// NewStore creates a new access grant store (exported for registry)
func NewStore(dbClient provider.DBClientInterface) interfaces.AccessGrantStore {
	return &store{dbClient: dbClient}
}

// HasActive reports whether an active grant for the tuple is still within its expiry.
func (s *store) HasActive(ctx context.Context, patientID, doctorID string, recordType scope.RecordType, now int64) (bool, error) {
	rows, err := s.dbClient.Query(ctx, QueryCountEffectiveGrants, patientID, doctorID, string(recordType), now)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	return dbutils.Int64(rows[0], "CNT") > 0, nil
}

// GetByRequestID returns every grant that currently points at the request
func (s *store) GetByRequestID(ctx context.Context, requestID string) ([]model.AccessGrant, error) {
	rows, err := s.dbClient.Query(ctx, QueryGetGrantsByRequestID, requestID)
	if err != nil {
		return nil, err
	}
	return mapToGrants(rows), nil
}

// ListByPatient returns grants held over a patient's data
func (s *store) ListByPatient(ctx context.Context, patientID string, activeOnly bool, now int64) ([]model.AccessGrant, error) {
	var (
		rows []map[string]interface{}
		err  error
	)
	if activeOnly {
		rows, err = s.dbClient.Query(ctx, QueryGetEffectiveGrantsByPatient, patientID, now)
	} else {
		rows, err = s.dbClient.Query(ctx, QueryGetGrantsByPatient, patientID)
	}
	if err != nil {
		return nil, err
	}
	return mapToGrants(rows), nil
}

// ListByDoctor returns grants held by a doctor
func (s *store) ListByDoctor(ctx context.Context, doctorID string, activeOnly bool, now int64) ([]model.AccessGrant, error) {
	var (
		rows []map[string]interface{}
		err  error
	)
	if activeOnly {
		rows, err = s.dbClient.Query(ctx, QueryGetEffectiveGrantsByDoctor, doctorID, now)
	} else {
		rows, err = s.dbClient.Query(ctx, QueryGetGrantsByDoctor, doctorID)
	}
	if err != nil {
		return nil, err
	}
	return mapToGrants(rows), nil
}

// ExpireOverdue expires every active grant past its expiry
func (s *store) ExpireOverdue(ctx context.Context, now int64) (int64, error) {
	return s.dbClient.Execute(ctx, QueryExpireOverdueGrants, now, now)
}

// GetActiveForUpdate returns the active grant for the tuple, locking it where the dialect allows
func (s *store) GetActiveForUpdate(tx dbmodel.TxInterface, patientID, doctorID string,
	recordType scope.RecordType) (*model.AccessGrant, error) {
	rows, err := tx.Query(QueryGetActiveGrantForUpdate, patientID, doctorID, string(recordType))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	grant := mapToGrant(rows[0])
	return &grant, nil
}

// Create inserts a grant
func (s *store) Create(tx dbmodel.TxInterface, grant *model.AccessGrant) error {
	_, err := tx.Execute(QueryCreateGrant,
		grant.GrantID, grant.RequestID, grant.PatientID, grant.DoctorID, string(grant.Scope),
		string(grant.AccessType), string(grant.Status), grant.GrantedAt, grant.ExpiresAt, grant.UpdatedAt)
	return err
}

// Reassign points an active grant at a newer request and sets its expiry
func (s *store) Reassign(tx dbmodel.TxInterface, grantID, requestID string, expiresAt, updatedTime int64) error {
	affected, err := tx.Execute(QueryReassignGrant, requestID, expiresAt, updatedTime, grantID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("grant %s: %w", grantID, interfaces.ErrStaleStatus)
	}
	return nil
}

// RevokeActiveByScopes revokes the pair's active grants for the given scopes
func (s *store) RevokeActiveByScopes(tx dbmodel.TxInterface, patientID, doctorID string,
	scopes []scope.RecordType, updatedTime int64) (int64, error) {
	if len(scopes) == 0 {
		return 0, nil
	}
	return tx.Execute(QueryRevokeActiveGrantsByScopes, updatedTime, patientID, doctorID, scope.Strings(scopes))
}

// ExpireActiveByRequestID expires the request's active grants that are past their expiry
func (s *store) ExpireActiveByRequestID(tx dbmodel.TxInterface, requestID string, now int64) (int64, error) {
	return tx.Execute(QueryExpireActiveGrantsByRequestID, now, requestID, now)
}

// ExtendActiveByScopes moves the pair's active grants for the given scopes
// forward to expiresAt and links them to the extending request. Grants that
// already outlive expiresAt are left untouched.
func (s *store) ExtendActiveByScopes(tx dbmodel.TxInterface, requestID, patientID, doctorID string,
	scopes []scope.RecordType, expiresAt, updatedTime int64) (int64, error) {
	if len(scopes) == 0 {
		return 0, nil
	}
	return tx.Execute(QueryExtendActiveGrantsByScopes, requestID, expiresAt, updatedTime,
		patientID, doctorID, scope.Strings(scopes), expiresAt)
}

func mapToGrants(rows []map[string]interface{}) []model.AccessGrant {
	grants := make([]model.AccessGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, mapToGrant(row))
	}
	return grants
}

func mapToGrant(row map[string]interface{}) model.AccessGrant {
	return model.AccessGrant{
		GrantID:    dbutils.String(row, "GRANT_ID"),
		RequestID:  dbutils.String(row, "REQUEST_ID"),
		PatientID:  dbutils.String(row, "PATIENT_ID"),
		DoctorID:   dbutils.String(row, "DOCTOR_ID"),
		Scope:      scope.RecordType(dbutils.String(row, "SCOPE")),
		AccessType: scope.AccessType(dbutils.String(row, "ACCESS_TYPE")),
		Status:     model.Status(dbutils.String(row, "STATUS")),
		GrantedAt:  dbutils.Int64(row, "GRANTED_TIME"),
		ExpiresAt:  dbutils.Int64(row, "EXPIRES_AT"),
		UpdatedAt:  dbutils.Int64(row, "UPDATED_TIME"),
	}
}
