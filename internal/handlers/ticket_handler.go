package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"deskify/internal/automation"
	"deskify/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TicketHandler 工单处理器
type TicketHandler struct {
	tickets *services.TicketService
	logger  *logrus.Logger
}

// NewTicketHandler 创建工单处理器
func NewTicketHandler(tickets *services.TicketService, logger *logrus.Logger) *TicketHandler {
	return &TicketHandler{
		tickets: tickets,
		logger:  logger,
	}
}

// CreateTicket 创建工单
// @Summary 创建工单
// @Description 创建新的客服工单，自动盖 SLA 期限并触发规则引擎
// @Tags 工单
// @Accept json
// @Produce json
// @Param ticket body services.TicketCreateRequest true "工单信息"
// @Success 201 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/tickets [post]
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.tickets.Create(c.Request.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "invalid") {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid ticket data",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to create ticket: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to create ticket",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

// GetTicket 获取工单详情
// @Summary 获取工单详情
// @Description 根据ID获取工单及其分类、标签、评论
// @Tags 工单
// @Produce json
// @Param id path int true "工单ID"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id} [get]
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	ticket, err := h.tickets.Get(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Ticket not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// ListTickets 获取工单列表
// @Summary 获取工单列表
// @Description 获取工单列表，支持状态/优先级/指派人过滤、标签过滤和关键词搜索
// @Tags 工单
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页大小"
// @Param status query []string false "状态过滤"
// @Param priority query []string false "优先级过滤"
// @Param assignee_id query int false "指派人过滤"
// @Param tag query string false "标签过滤"
// @Param search query string false "搜索关键词"
// @Success 200 {object} PaginatedResponse{data=[]models.Ticket}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/tickets [get]
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req services.TicketListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	tickets, total, err := h.tickets.List(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list tickets: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list tickets",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     tickets,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// UpdateTicket 更新工单
// @Summary 更新工单
// @Description 更新工单的主题、描述、优先级、团队和元数据。状态和指派走专门接口。
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param ticket body services.TicketUpdateRequest true "更新信息"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/tickets/{id} [put]
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req services.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.tickets.Update(c.Request.Context(), uint(id), &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Ticket not found",
				Message: err.Error(),
			})
			return
		}
		if strings.Contains(err.Error(), "invalid") {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid ticket data",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to update ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to update ticket",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// ChangeStatus 工单状态流转
// @Summary 工单状态流转
// @Description 按状态机流转工单状态，非法流转返回 409
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param status body services.StatusChangeRequest true "目标状态"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/tickets/{id}/status [post]
func (h *TicketHandler) ChangeStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req services.StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.tickets.ChangeStatus(c.Request.Context(), uint(id), &req)
	if err != nil {
		if errors.Is(err, automation.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "Invalid status transition",
				Message: err.Error(),
			})
			return
		}
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Ticket not found",
				Message: err.Error(),
			})
			return
		}
		if strings.Contains(err.Error(), "invalid status") {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid status",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to change status of ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to change status",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// AssignTicket 指派工单
// @Summary 指派工单
// @Description 将工单指派给客服，assignee_id 为空表示取消指派
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param assignment body services.AssignRequest true "指派信息"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/tickets/{id}/assign [post]
func (h *TicketHandler) AssignTicket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req services.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.tickets.Assign(c.Request.Context(), uint(id), &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not found",
				Message: err.Error(),
			})
			return
		}
		if strings.Contains(err.Error(), "not an agent") {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid assignee",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to assign ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to assign ticket",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// AddComment 添加工单评论
// @Summary 添加工单评论
// @Description 为工单添加公开评论或内部备注，客服的首条公开回复会盖首响时间
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param comment body services.CommentCreateRequest true "评论信息"
// @Success 201 {object} models.TicketComment
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/tickets/{id}/comments [post]
func (h *TicketHandler) AddComment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req services.CommentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	comment, err := h.tickets.AddComment(c.Request.Context(), uint(id), &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Ticket not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to add comment to ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to add comment",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, comment)
}

// ListComments 查询工单评论
// @Summary 查询工单评论
// @Description 按时间顺序返回工单评论，默认不含内部备注
// @Tags 工单
// @Produce json
// @Param id path int true "工单ID"
// @Param include_internal query bool false "是否包含内部备注"
// @Success 200 {array} models.TicketComment
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/tickets/{id}/comments [get]
func (h *TicketHandler) ListComments(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	includeInternal := c.Query("include_internal") == "true"

	comments, err := h.tickets.ListComments(c.Request.Context(), uint(id), includeInternal)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Ticket not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to list comments of ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list comments",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, comments)
}

// AddTags 追加标签
// @Summary 追加标签
// @Description 为工单追加标签，标签名会被规范化并去重
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param tags body object true "标签列表"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id}/tags [post]
func (h *TicketHandler) AddTags(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req struct {
		Tags []string `json:"tags" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.tickets.AddTags(c.Request.Context(), uint(id), req.Tags)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Ticket not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to add tags to ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to add tags",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// RemoveTags 移除标签
// @Summary 移除标签
// @Description 从工单移除标签
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param tags body object true "标签列表"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id}/tags [delete]
func (h *TicketHandler) RemoveTags(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req struct {
		Tags []string `json:"tags" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.tickets.RemoveTags(c.Request.Context(), uint(id), req.Tags)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Ticket not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to remove tags from ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to remove tags",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// AddCategory 挂接分类
// @Summary 挂接分类
// @Description 将工单挂到指定分类下
// @Tags 工单
// @Produce json
// @Param id path int true "工单ID"
// @Param category_id path int true "分类ID"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id}/categories/{category_id} [post]
func (h *TicketHandler) AddCategory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}
	categoryID, err := strconv.ParseUint(c.Param("category_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid category ID",
			Message: "ID must be a valid number",
		})
		return
	}

	ticket, err := h.tickets.AddCategory(c.Request.Context(), uint(id), uint(categoryID))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to add category %d to ticket %d: %v", categoryID, id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to add category",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// RemoveCategory 摘除分类
// @Summary 摘除分类
// @Description 将工单从指定分类摘除
// @Tags 工单
// @Produce json
// @Param id path int true "工单ID"
// @Param category_id path int true "分类ID"
// @Success 200 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id}/categories/{category_id} [delete]
func (h *TicketHandler) RemoveCategory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}
	categoryID, err := strconv.ParseUint(c.Param("category_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid category ID",
			Message: "ID must be a valid number",
		})
		return
	}

	ticket, err := h.tickets.RemoveCategory(c.Request.Context(), uint(id), uint(categoryID))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to remove category %d from ticket %d: %v", categoryID, id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to remove category",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// Subscribe 订阅工单
// @Summary 订阅工单
// @Description 用户订阅工单后会收到该工单的事件通知
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param subscription body object true "订阅人"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id}/subscribe [post]
func (h *TicketHandler) Subscribe(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req struct {
		UserID uint `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.tickets.Subscribe(c.Request.Context(), uint(id), req.UserID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to subscribe user %d to ticket %d: %v", req.UserID, id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to subscribe",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "subscribed"})
}

// Unsubscribe 退订工单
// @Summary 退订工单
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param subscription body object true "退订人"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id}/unsubscribe [post]
func (h *TicketHandler) Unsubscribe(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ticket ID",
			Message: "ID must be a valid number",
		})
		return
	}

	var req struct {
		UserID uint `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.tickets.Unsubscribe(c.Request.Context(), uint(id), req.UserID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to unsubscribe user %d from ticket %d: %v", req.UserID, id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to unsubscribe",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "unsubscribed"})
}

// GetTicketStats 获取工单统计
// @Summary 获取工单统计
// @Description 按状态和优先级汇总工单数量
// @Tags 工单
// @Produce json
// @Success 200 {object} services.TicketStats
// @Failure 500 {object} ErrorResponse
// @Router /api/tickets/stats [get]
func (h *TicketHandler) GetTicketStats(c *gin.Context) {
	stats, err := h.tickets.Stats(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to get ticket stats: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to get ticket statistics",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// RegisterTicketRoutes 注册工单相关路由
func RegisterTicketRoutes(r *gin.RouterGroup, handler *TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.POST("", handler.CreateTicket)
		tickets.GET("", handler.ListTickets)
		tickets.GET("/stats", handler.GetTicketStats)
		tickets.GET("/:id", handler.GetTicket)
		tickets.PUT("/:id", handler.UpdateTicket)
		tickets.POST("/:id/status", handler.ChangeStatus)
		tickets.POST("/:id/assign", handler.AssignTicket)
		tickets.POST("/:id/comments", handler.AddComment)
		tickets.GET("/:id/comments", handler.ListComments)
		tickets.POST("/:id/tags", handler.AddTags)
		tickets.DELETE("/:id/tags", handler.RemoveTags)
		tickets.POST("/:id/categories/:category_id", handler.AddCategory)
		tickets.DELETE("/:id/categories/:category_id", handler.RemoveCategory)
		tickets.POST("/:id/subscribe", handler.Subscribe)
		tickets.POST("/:id/unsubscribe", handler.Unsubscribe)
	}
}
