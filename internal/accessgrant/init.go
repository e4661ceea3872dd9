package accessgrant

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/system/stores"
)

// Initialize sets up the access grant module and registers routes
func Initialize(router gin.IRouter, registry *stores.StoreRegistry, now func() time.Time) AccessGrantService {
	service := NewAccessGrantService(registry, now)
	handler := newAccessGrantHandler(service)

	registerRoutes(router, handler)

	return service
}

func registerRoutes(router gin.IRouter, handler *accessGrantHandler) {
	// GET /api/v1/access-check?doctorId=&patientId=&scope=
	router.GET("/access-check", handler.checkAccess)

	// GET /api/v1/patients/{patientId}/access-grants
	router.GET("/patients/:patientId/access-grants", handler.listForPatient)

	// GET /api/v1/doctors/{doctorId}/access-grants
	router.GET("/doctors/:doctorId/access-grants", handler.listForDoctor)
}
