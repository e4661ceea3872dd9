package consentrequest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/consent-api/internal/consentrequest/model"
	"github.com/carebridge/consent-api/internal/system/constants"
	"github.com/carebridge/consent-api/internal/system/error/apierror"
	"github.com/carebridge/consent-api/internal/system/middleware"
)

func newTestRouter(env *testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetPrincipal(c, middleware.Principal{
			ID:   c.GetHeader(constants.UserIDHeaderName),
			Role: c.GetHeader(constants.UserRoleHeaderName),
		})
		c.Next()
	})
	registerRoutes(router, newConsentRequestHandler(env.service))
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path, principalID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(constants.UserIDHeaderName, principalID)
	req.Header.Set(constants.UserRoleHeaderName, role)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeRequest(t *testing.T, w *httptest.ResponseRecorder) model.ConsentRequest {
	t.Helper()
	var out model.ConsentRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierror.ErrorResponse {
	t.Helper()
	var out apierror.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func createBody() map[string]interface{} {
	return map[string]interface{}{
		"patientId":    patientID,
		"purpose":      "annual review",
		"scopes":       []string{"lab_test", "prescription"},
		"durationDays": 30,
	}
}

func TestHandler_CreateRequest(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	t.Run("doctor creates a pending request", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/consent-requests", doctorID, constants.RoleDoctor, createBody())
		require.Equal(t, http.StatusCreated, w.Code)

		created := decodeRequest(t, w)
		assert.NotEmpty(t, created.RequestID)
		assert.Equal(t, doctorID, created.DoctorID)
		assert.Equal(t, model.StatusPending, created.Status)
		assert.Len(t, created.RequestedScopes, 2)
	})

	t.Run("patient cannot create", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/consent-requests", patientID, constants.RolePatient, createBody())
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "unauthorized", decodeError(t, w).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/consent-requests", doctorID, constants.RoleDoctor,
			map[string]interface{}{"patientId": patientID})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeError(t, w).Code)
	})

	t.Run("unknown scope", func(t *testing.T) {
		body := createBody()
		body["scopes"] = []string{"dna"}
		w := doRequest(t, router, http.MethodPost, "/consent-requests", doctorID, constants.RoleDoctor, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_error", decodeError(t, w).Code)
	})
}

func TestHandler_Transitions(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	req := env.create(t, "lab_test")
	base := "/consent-requests/" + req.RequestID

	w := doRequest(t, router, http.MethodPost, base+"/approve", doctorID, constants.RoleDoctor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, http.MethodPost, "/consent-requests/missing/approve", patientID, constants.RolePatient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodPost, base+"/approve", patientID, constants.RolePatient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	approved := decodeRequest(t, w)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.ExpiresAt)

	w = doRequest(t, router, http.MethodPost, base+"/deny", patientID, constants.RolePatient, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, w).Code)

	w = doRequest(t, router, http.MethodPost, base+"/extend", patientID, constants.RolePatient,
		map[string]interface{}{"additionalDays": 10})
	require.Equal(t, http.StatusOK, w.Code)
	extended := decodeRequest(t, w)
	assert.Greater(t, *extended.ExpiresAt, *approved.ExpiresAt)

	w = doRequest(t, router, http.MethodPost, base+"/extend", patientID, constants.RolePatient,
		map[string]interface{}{"additionalDays": "ten"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, base+"/revoke", patientID, constants.RolePatient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusRevoked, decodeRequest(t, w).Status)
}

func TestHandler_DenyWithReason(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	req := env.create(t, "imaging")

	w := doRequest(t, router, http.MethodPost, "/consent-requests/"+req.RequestID+"/deny", patientID,
		constants.RolePatient, map[string]interface{}{"reason": "second opinion not needed"})
	require.Equal(t, http.StatusOK, w.Code)

	denied := decodeRequest(t, w)
	assert.Equal(t, model.StatusDenied, denied.Status)
	require.NotNil(t, denied.ResponseReason)
	assert.Equal(t, "second opinion not needed", *denied.ResponseReason)
}

func TestHandler_DenyReasonWithUnknownLength(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)

	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantReason string
	}{
		{name: "chunked reason", body: `{"reason":"not this clinic"}`, wantCode: http.StatusOK, wantReason: "not this clinic"},
		{name: "chunked empty body", body: "", wantCode: http.StatusOK},
		{name: "chunked malformed body", body: `{"reason":`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.create(t, "imaging")

			// A reader without a known size leaves ContentLength at -1, as with chunked encoding.
			httpReq := httptest.NewRequest(http.MethodPost, "/consent-requests/"+req.RequestID+"/deny",
				io.MultiReader(strings.NewReader(tt.body)))
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set(constants.UserIDHeaderName, patientID)
			httpReq.Header.Set(constants.UserRoleHeaderName, constants.RolePatient)
			require.Equal(t, int64(-1), httpReq.ContentLength)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httpReq)
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			denied := decodeRequest(t, w)
			assert.Equal(t, model.StatusDenied, denied.Status)
			if tt.wantReason == "" {
				assert.Nil(t, denied.ResponseReason)
				return
			}
			require.NotNil(t, denied.ResponseReason)
			assert.Equal(t, tt.wantReason, *denied.ResponseReason)
		})
	}
}

func TestHandler_Visibility(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	req := env.create(t, "lab_test")
	path := "/consent-requests/" + req.RequestID

	tests := []struct {
		name      string
		principal string
		role      string
		want      int
	}{
		{"patient", patientID, constants.RolePatient, http.StatusOK},
		{"doctor", doctorID, constants.RoleDoctor, http.StatusOK},
		{"service", "records-gateway", constants.RoleService, http.StatusOK},
		{"other doctor", "doctor-2", constants.RoleDoctor, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, path, tt.principal, tt.role, nil)
			assert.Equal(t, tt.want, w.Code)

			w = doRequest(t, router, http.MethodGet, path+"/history", tt.principal, tt.role, nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := doRequest(t, router, http.MethodGet, "/consent-requests/unknown", patientID, constants.RolePatient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Lists(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env)
	env.create(t, "lab_test")
	env.create(t, "imaging")

	w := doRequest(t, router, http.MethodGet, "/patients/"+patientID+"/consent-requests?limit=1", patientID,
		constants.RolePatient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page model.ConsentRequestListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Metadata.Total)
	assert.Len(t, page.Data, 1)

	w = doRequest(t, router, http.MethodGet, "/patients/"+patientID+"/consent-requests", doctorID,
		constants.RoleDoctor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, http.MethodGet, "/doctors/"+doctorID+"/consent-requests?offset=x", doctorID,
		constants.RoleDoctor, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodGet, "/doctors/"+doctorID+"/consent-requests", doctorID,
		constants.RoleDoctor, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
