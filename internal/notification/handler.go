package notification

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/system/middleware"
	"github.com/carebridge/consent-api/internal/system/utils"
)

type notificationHandler struct {
	service NotificationService
}

func newNotificationHandler(service NotificationService) *notificationHandler {
	return &notificationHandler{service: service}
}

// list handles GET /notifications for the calling principal
func (h *notificationHandler) list(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	limit, err := queryInt(c, "limit")
	if err != nil {
		utils.SendBadRequest(c, "limit must be an integer")
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		utils.SendBadRequest(c, "offset must be an integer")
		return
	}
	unreadOnly := c.Query("unread") == "true"

	resp, serviceErr := h.service.List(c.Request.Context(), principal.ID, unreadOnly, limit, offset)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, resp)
}

// markRead handles POST /notifications/:notificationId/read
func (h *notificationHandler) markRead(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	n, serviceErr := h.service.MarkRead(c.Request.Context(), c.Param("notificationId"), principal.ID)
	if serviceErr != nil {
		utils.SendError(c, serviceErr)
		return
	}
	utils.SendOK(c, n)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
