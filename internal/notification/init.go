package notification

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/system/stores"
)

// Initialize sets up the notification module and registers routes
func Initialize(router gin.IRouter, registry *stores.StoreRegistry, now func() time.Time) NotificationService {
	service := NewNotificationService(registry, now)
	handler := newNotificationHandler(service)

	registerRoutes(router, handler)

	return service
}

func registerRoutes(router gin.IRouter, handler *notificationHandler) {
	// GET /api/v1/notifications
	router.GET("/notifications", handler.list)

	// POST /api/v1/notifications/{notificationId}/read
	router.POST("/notifications/:notificationId/read", handler.markRead)
}
