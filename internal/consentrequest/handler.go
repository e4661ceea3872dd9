package consentrequest

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/consentrequest/model"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/middleware"
	"github.com/carebridge/consent-api/internal/system/utils"
)

type consentRequestHandler struct {
	service ConsentRequestService
}

func newConsentRequestHandler(service ConsentRequestService) *consentRequestHandler {
	return &consentRequestHandler{service: service}
}

// createRequest handles POST /consent-requests. The calling doctor is the requester.
func (h *consentRequestHandler) createRequest(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	if !principal.IsDoctor() {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
			"only doctors can request consent"))
		return
	}

	var req model.ConsentRequestCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	created, serviceErr := h.service.CreateRequest(c.Request.Context(), req.PatientID, principal.ID,
		req.Purpose, req.Scopes, req.DurationDays, req.Message)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendCreated(c, created)
}

// getRequest handles GET /consent-requests/:requestId
func (h *consentRequestHandler) getRequest(c *gin.Context) {
	request, ok := h.loadVisible(c)
	if !ok {
		return
	}
	utils.SendOK(c, request)
}

// getHistory handles GET /consent-requests/:requestId/history
func (h *consentRequestHandler) getHistory(c *gin.Context) {
	request, ok := h.loadVisible(c)
	if !ok {
		return
	}
	history, serviceErr := h.service.GetStatusHistory(c.Request.Context(), request.RequestID)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, model.StatusAuditListResponse{Data: history})
}

// listForPatient handles GET /patients/:patientId/consent-requests
func (h *consentRequestHandler) listForPatient(c *gin.Context) {
	patientID := c.Param("patientId")
	if !authorizeOwner(c, patientID) {
		return
	}
	limit, offset, ok := parsePagination(c)
	if !ok {
		return
	}
	resp, serviceErr := h.service.ListForPatient(c.Request.Context(), patientID, limit, offset)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, resp)
}

// listForDoctor handles GET /doctors/:doctorId/consent-requests
func (h *consentRequestHandler) listForDoctor(c *gin.Context) {
	doctorID := c.Param("doctorId")
	if !authorizeOwner(c, doctorID) {
		return
	}
	limit, offset, ok := parsePagination(c)
	if !ok {
		return
	}
	resp, serviceErr := h.service.ListForDoctor(c.Request.Context(), doctorID, limit, offset)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, resp)
}

// approve handles POST /consent-requests/:requestId/approve
func (h *consentRequestHandler) approve(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	request, serviceErr := h.service.Approve(c.Request.Context(), c.Param("requestId"), principal.ID)
	respond(c, request, serviceErr)
}

// deny handles POST /consent-requests/:requestId/deny
func (h *consentRequestHandler) deny(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var body model.DenyRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			utils.SendBadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	request, serviceErr := h.service.Deny(c.Request.Context(), c.Param("requestId"), principal.ID, body.Reason)
	respond(c, request, serviceErr)
}

// revoke handles POST /consent-requests/:requestId/revoke
func (h *consentRequestHandler) revoke(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	request, serviceErr := h.service.Revoke(c.Request.Context(), c.Param("requestId"), principal.ID)
	respond(c, request, serviceErr)
}

// extend handles POST /consent-requests/:requestId/extend
func (h *consentRequestHandler) extend(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	var body model.ExtendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.SendBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	request, serviceErr := h.service.Extend(c.Request.Context(), c.Param("requestId"), principal.ID, body.AdditionalDays)
	respond(c, request, serviceErr)
}

// loadVisible fetches the request and checks the caller takes part in it.
func (h *consentRequestHandler) loadVisible(c *gin.Context) (*model.ConsentRequest, bool) {
	principal, _ := middleware.GetPrincipal(c)

	request, serviceErr := h.service.GetRequest(c.Request.Context(), c.Param("requestId"))
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return nil, false
	}
	if !principal.IsService() && !request.IsParticipant(principal.ID) {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
			"only the patient or doctor of a request can view it"))
		return nil, false
	}
	return request, true
}

func respond(c *gin.Context, request *model.ConsentRequest, serviceErr *serviceerror.ServiceError) {
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, request)
}

func authorizeOwner(c *gin.Context, ownerID string) bool {
	principal, _ := middleware.GetPrincipal(c)
	if principal.IsService() || principal.ID == ownerID {
		return true
	}
	utils.SendError(c, serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
		"requests can only be listed by their owner"))
	return false
}

func parsePagination(c *gin.Context) (int, int, bool) {
	limit, offset := 0, 0
	var err error
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			utils.SendBadRequest(c, "limit must be an integer")
			return 0, 0, false
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			utils.SendBadRequest(c, "offset must be an integer")
			return 0, 0, false
		}
	}
	return limit, offset, true
}
