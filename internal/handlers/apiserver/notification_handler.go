package apiserver

import (
	"net/http"

	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/services"
)

// NotificationHandler handles HTTP requests related to notifications.
type NotificationHandler struct {
	notificationService services.NotificationService
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(ns services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: ns}
}

// ListNotificationsHandler handles GET /api/v1/notifications
func (h *NotificationHandler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	limit, offset := parsePagination(r)
	notifications, err := h.notificationService.GetForUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err, "获取通知失败")
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	writeJSONResponse(w, http.StatusOK, notifications)
}

// MarkAllReadHandler handles POST /api/v1/notifications/read
func (h *NotificationHandler) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	if err := h.notificationService.MarkAllRead(r.Context(), userID); err != nil {
		writeServiceError(w, err, "标记通知已读失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "通知已全部标记为已读"})
}
