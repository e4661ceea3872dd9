package consentrequest

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/system/stores"
)

// Initialize sets up the consent request module and registers routes
func Initialize(router gin.IRouter, registry *stores.StoreRegistry, notifier Notifier,
	now func() time.Time) ConsentRequestService {
	service := NewConsentRequestService(registry, notifier, now)
	handler := newConsentRequestHandler(service)

	registerRoutes(router, handler)

	return service
}

func registerRoutes(router gin.IRouter, handler *consentRequestHandler) {
	requests := router.Group("/consent-requests")
	{
		// POST /api/v1/consent-requests - Create consent request
		requests.POST("", handler.createRequest)

		// GET /api/v1/consent-requests/{requestId} - Get consent request
		requests.GET("/:requestId", handler.getRequest)

		// GET /api/v1/consent-requests/{requestId}/history - Status history
		requests.GET("/:requestId/history", handler.getHistory)

		requests.POST("/:requestId/approve", handler.approve)
		requests.POST("/:requestId/deny", handler.deny)
		requests.POST("/:requestId/revoke", handler.revoke)
		requests.POST("/:requestId/extend", handler.extend)
	}

	// GET /api/v1/patients/{patientId}/consent-requests
	router.GET("/patients/:patientId/consent-requests", handler.listForPatient)

	// GET /api/v1/doctors/{doctorId}/consent-requests
	router.GET("/doctors/:doctorId/consent-requests", handler.listForDoctor)
}
