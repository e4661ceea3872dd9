package accessgrant

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/accessgrant/model"
	"github.com/carebridge/consent-api/internal/scope"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/middleware"
	"github.com/carebridge/consent-api/internal/system/utils"
)

type accessGrantHandler struct {
	service AccessGrantService
}

func newAccessGrantHandler(service AccessGrantService) *accessGrantHandler {
	return &accessGrantHandler{service: service}
}

// checkAccess handles GET /access-check
func (h *accessGrantHandler) checkAccess(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	doctorID := c.Query("doctorId")
	patientID := c.Query("patientId")
	recordType, err := scope.ParseRecordType(c.Query("scope"))
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	if !principal.IsService() && principal.ID != doctorID {
		utils.SendError(c, serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
			"access can only be checked by the doctor or a trusted service"))
		return
	}

	allowed, serviceErr := h.service.HasAccess(c.Request.Context(), doctorID, patientID, recordType)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}

	utils.SendOK(c, model.AccessCheckResponse{
		DoctorID:   doctorID,
		PatientID:  patientID,
		Scope:      recordType,
		AccessType: scope.ToAccessType(recordType),
		Allowed:    allowed,
	})
}

// listForPatient handles GET /patients/:patientId/access-grants
func (h *accessGrantHandler) listForPatient(c *gin.Context) {
	patientID := c.Param("patientId")
	if !h.authorizeOwner(c, patientID) {
		return
	}
	activeOnly, ok := parseActiveOnly(c)
	if !ok {
		return
	}

	grants, serviceErr := h.service.ListForPatient(c.Request.Context(), patientID, activeOnly)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, model.AccessGrantListResponse{Data: grants})
}

// listForDoctor handles GET /doctors/:doctorId/access-grants
func (h *accessGrantHandler) listForDoctor(c *gin.Context) {
	doctorID := c.Param("doctorId")
	if !h.authorizeOwner(c, doctorID) {
		return
	}
	activeOnly, ok := parseActiveOnly(c)
	if !ok {
		return
	}

	grants, serviceErr := h.service.ListForDoctor(c.Request.Context(), doctorID, activeOnly)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, model.AccessGrantListResponse{Data: grants})
}

func (h *accessGrantHandler) authorizeOwner(c *gin.Context, ownerID string) bool {
	principal, _ := middleware.GetPrincipal(c)
	if principal.IsService() || principal.ID == ownerID {
		return true
	}
	utils.SendError(c, serviceerror.CustomServiceError(serviceerror.UnauthorizedError,
		"grants can only be listed by their owner"))
	return false
}

func parseActiveOnly(c *gin.Context) (bool, bool) {
	raw := c.Query("active")
	if raw == "" {
		return false, true
	}
	activeOnly, err := strconv.ParseBool(raw)
	if err != nil {
		utils.SendBadRequest(c, "active must be a boolean")
		return false, false
	}
	return activeOnly, true
}
