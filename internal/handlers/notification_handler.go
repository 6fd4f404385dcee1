package handlers

import (
	"net/http"
	"strconv"

	"deskify/internal/services"

	"github.com/gin-gonic/gin"
)

// NotificationHandler 通知处理器
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler 创建通知处理器
func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// ListNotifications 获取通知列表
// @Summary 获取通知列表
// @Description 按接收人、已读状态过滤，新通知在前
// @Tags 通知
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Param recipient_id query int false "接收人ID"
// @Param unread query bool false "只看未读"
// @Success 200 {object} PaginatedResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/notifications [get]
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var req services.NotificationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Message: err.Error()})
		return
	}

	items, total, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list notifications", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// MarkRead 标记单条通知为已读
// @Summary 标记通知为已读
// @Description 幂等操作，重复标记或通知不存在时同样返回成功
// @Tags 通知
// @Produce json
// @Param id path int true "通知ID"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid notification ID", Message: err.Error()})
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to mark notification read", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Notification marked as read"})
}

// MarkAllRead 标记某用户全部通知为已读
// @Summary 标记全部通知为已读
// @Tags 通知
// @Accept json
// @Produce json
// @Param request body object true "接收人"
// @Success 200 {object} map[string]interface{} "本次标记的数量"
// @Failure 400 {object} ErrorResponse
// @Router /api/notifications/read_all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	var req struct {
		RecipientID uint `json:"recipient_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	count, err := h.service.MarkAllRead(c.Request.Context(), req.RecipientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to mark notifications read", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": count})
}

// RegisterNotificationRoutes 注册通知相关路由
func RegisterNotificationRoutes(r *gin.RouterGroup, handler *NotificationHandler) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", handler.ListNotifications)
		notifications.POST("/:id/read", handler.MarkRead)
		notifications.POST("/read_all", handler.MarkAllRead)
	}
}
