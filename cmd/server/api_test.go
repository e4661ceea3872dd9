package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"

	grantModel "github.com/carebridge/consent-api/internal/accessgrant/model"
	requestModel "github.com/carebridge/consent-api/internal/consentrequest/model"
	notificationModel "github.com/carebridge/consent-api/internal/notification/model"
	"github.com/carebridge/consent-api/internal/system/config"
	"github.com/carebridge/consent-api/internal/system/constants"
	"github.com/carebridge/consent-api/internal/system/database/dbtest"
	"github.com/carebridge/consent-api/internal/system/database/provider"
)

const (
	testPatientID = "patient-api"
	testDoctorID  = "doctor-api"
)

type ConsentAPITestSuite struct {
	suite.Suite
	engine *gin.Engine
}

func TestConsentAPITestSuite(t *testing.T) {
	suite.Run(t, new(ConsentAPITestSuite))
}

// SetupTest wires a fresh engine over an in-memory database
func (ts *ConsentAPITestSuite) SetupTest() {
	db := dbtest.NewSQLiteDB(ts.T())
	cfg := &config.Config{
		Security: config.SecurityConfig{TrustedHeaders: true},
	}

	ts.engine = newEngine(cfg)
	registerServices(ts.engine, cfg, db, newStoreRegistry(provider.NewDBClient(db.DB, db.Type())))
}

func (ts *ConsentAPITestSuite) call(method, path, principalID, role string, body interface{}) (*httptest.ResponseRecorder, []byte) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		ts.Require().NoError(err)
	}

	req := httptest.NewRequest(method, constants.APIBasePath+path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set(constants.ContentTypeHeaderName, "application/json")
	}
	if principalID != "" {
		req.Header.Set(constants.UserIDHeaderName, principalID)
		req.Header.Set(constants.UserRoleHeaderName, role)
	}

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w, w.Body.Bytes()
}

func (ts *ConsentAPITestSuite) accessAllowed(recordType string) bool {
	w, body := ts.call(http.MethodGet, "/access-check?doctorId="+testDoctorID+"&patientId="+testPatientID+
		"&scope="+recordType, testDoctorID, constants.RoleDoctor, nil)
	ts.Require().Equal(http.StatusOK, w.Code)

	var resp grantModel.AccessCheckResponse
	ts.Require().NoError(json.Unmarshal(body, &resp))
	return resp.Allowed
}

func (ts *ConsentAPITestSuite) TestPublicEndpoints() {
	w, body := ts.call(http.MethodGet, "/health", "", "", nil)
	ts.Equal(http.StatusOK, w.Code)
	ts.Contains(string(body), "healthy")

	w, body = ts.call(http.MethodGet, "/scopes", "", "", nil)
	ts.Equal(http.StatusOK, w.Code)
	ts.Contains(string(body), "lab_test")
	ts.Contains(string(body), "view_prescriptions")
}

func (ts *ConsentAPITestSuite) TestRequiresPrincipal() {
	w, body := ts.call(http.MethodGet, "/notifications", "", "", nil)
	ts.Equal(http.StatusUnauthorized, w.Code)
	ts.Contains(string(body), "unauthenticated")
	ts.NotEmpty(w.Header().Get(constants.CorrelationIDHeaderName))
}

func (ts *ConsentAPITestSuite) TestConsentLifecycle() {
	w, body := ts.call(http.MethodPost, "/consent-requests", testDoctorID, constants.RoleDoctor, map[string]interface{}{
		"patientId":    testPatientID,
		"purpose":      "diabetes management",
		"scopes":       []string{"lab_test", "prescription"},
		"durationDays": 30,
	})
	ts.Require().Equal(http.StatusCreated, w.Code, string(body))

	var created requestModel.ConsentRequest
	ts.Require().NoError(json.Unmarshal(body, &created))
	ts.False(ts.accessAllowed("lab_test"))

	w, body = ts.call(http.MethodGet, "/notifications", testPatientID, constants.RolePatient, nil)
	ts.Require().Equal(http.StatusOK, w.Code)
	var inbox notificationModel.NotificationListResponse
	ts.Require().NoError(json.Unmarshal(body, &inbox))
	ts.Require().Len(inbox.Data, 1)
	ts.Equal(notificationModel.TypeConsentRequested, inbox.Data[0].Type)
	ts.Equal(created.RequestID, inbox.Data[0].RequestID)

	w, _ = ts.call(http.MethodPost, "/consent-requests/"+created.RequestID+"/approve", testPatientID,
		constants.RolePatient, nil)
	ts.Require().Equal(http.StatusOK, w.Code)
	ts.True(ts.accessAllowed("lab_test"))
	ts.True(ts.accessAllowed("prescription"))
	ts.False(ts.accessAllowed("imaging"))

	w, body = ts.call(http.MethodGet, "/patients/"+testPatientID+"/access-grants?active=true", testPatientID,
		constants.RolePatient, nil)
	ts.Require().Equal(http.StatusOK, w.Code)
	var grants grantModel.AccessGrantListResponse
	ts.Require().NoError(json.Unmarshal(body, &grants))
	ts.Len(grants.Data, 2)

	w, _ = ts.call(http.MethodPost, "/consent-requests/"+created.RequestID+"/revoke", testPatientID,
		constants.RolePatient, nil)
	ts.Require().Equal(http.StatusOK, w.Code)
	ts.False(ts.accessAllowed("lab_test"))
	ts.False(ts.accessAllowed("prescription"))

	w, body = ts.call(http.MethodGet, "/consent-requests/"+created.RequestID+"/history", testDoctorID,
		constants.RoleDoctor, nil)
	ts.Require().Equal(http.StatusOK, w.Code)
	var history requestModel.StatusAuditListResponse
	ts.Require().NoError(json.Unmarshal(body, &history))
	ts.Len(history.Data, 3)

	w, body = ts.call(http.MethodGet, "/notifications?unread=true", testDoctorID, constants.RoleDoctor, nil)
	ts.Require().Equal(http.StatusOK, w.Code)
	ts.Require().NoError(json.Unmarshal(body, &inbox))
	ts.Equal(2, inbox.Unread)
	ts.Require().Len(inbox.Data, 2)
	ts.ElementsMatch([]notificationModel.Type{notificationModel.TypeConsentApproved, notificationModel.TypeConsentRevoked},
		[]notificationModel.Type{inbox.Data[0].Type, inbox.Data[1].Type})
}

func (ts *ConsentAPITestSuite) TestConflictingTransition() {
	w, body := ts.call(http.MethodPost, "/consent-requests", testDoctorID, constants.RoleDoctor, map[string]interface{}{
		"patientId":    testPatientID,
		"purpose":      "imaging review",
		"scopes":       []string{"imaging"},
		"durationDays": 7,
	})
	ts.Require().Equal(http.StatusCreated, w.Code)
	var created requestModel.ConsentRequest
	ts.Require().NoError(json.Unmarshal(body, &created))

	w, _ = ts.call(http.MethodPost, "/consent-requests/"+created.RequestID+"/deny", testPatientID,
		constants.RolePatient, map[string]interface{}{"reason": "not now"})
	ts.Require().Equal(http.StatusOK, w.Code)

	w, body = ts.call(http.MethodPost, "/consent-requests/"+created.RequestID+"/approve", testPatientID,
		constants.RolePatient, nil)
	ts.Equal(http.StatusConflict, w.Code)
	ts.Contains(string(body), "invalid_transition")
}
