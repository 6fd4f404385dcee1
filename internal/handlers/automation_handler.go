package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"deskify/internal/models"
	"deskify/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 管理自动化规则与执行审计。
// 条件树和动作列表由前端传 JSON，创建/更新时做完整校验。
type AutomationHandler struct {
	service *services.AutomationService
}

func NewAutomationHandler(service *services.AutomationService) *AutomationHandler {
	return &AutomationHandler{service: service}
}

// ListTriggers 获取支持的触发器名称
func (h *AutomationHandler) ListTriggers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"triggers": models.SupportedTriggers()})
}

// CreateRule 创建规则
// @Summary 创建自动化规则
// @Description 创建规则：触发器、条件树和动作列表都会被校验
// @Tags 自动化
// @Accept json
// @Produce json
// @Param rule body services.RuleCreateRequest true "规则定义"
// @Success 201 {object} models.AutomationRule
// @Failure 400 {object} ErrorResponse
// @Router /api/automation/rules [post]
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule 获取规则详情
func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid rule ID", Message: err.Error()})
		return
	}

	rule, err := h.service.GetRule(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// ListRules 获取规则列表
// @Summary 获取规则列表
// @Description 按执行顺序（优先级降序）返回规则，支持触发器和启用状态过滤
// @Tags 自动化
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页大小"
// @Param trigger query string false "触发器过滤"
// @Param active query boolean false "启用状态过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.AutomationRule}
// @Failure 400 {object} ErrorResponse
// @Router /api/automation/rules [get]
func (h *AutomationHandler) ListRules(c *gin.Context) {
	var req services.RuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Message: err.Error()})
		return
	}

	rules, total, err := h.service.ListRules(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     rules,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid rule ID", Message: err.Error()})
		return
	}

	var req services.RuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	rule, err := h.service.UpdateRule(c.Request.Context(), uint(id), &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid rule ID", Message: err.Error()})
		return
	}

	if err := h.service.DeleteRule(c.Request.Context(), uint(id)); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// TestRule 规则试跑
// @Summary 规则试跑
// @Description 对指定工单试跑规则：只求值条件，不执行动作、不落审计
// @Tags 自动化
// @Accept json
// @Produce json
// @Param id path int true "规则ID"
// @Param target body object true "目标工单"
// @Success 200 {object} services.RuleTestResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/automation/rules/{id}/test [post]
func (h *AutomationHandler) TestRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid rule ID", Message: err.Error()})
		return
	}

	var req struct {
		TicketID uint `json:"ticket_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	result, err := h.service.TestRule(c.Request.Context(), uint(id), req.TicketID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to test rule", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListExecutions 获取执行审计
// @Summary 获取执行审计列表
// @Description 每次规则运行恰好一条记录，按时间倒序
// @Tags 自动化
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页大小"
// @Param rule_id query int false "规则过滤"
// @Param ticket_id query int false "工单过滤"
// @Param matched query boolean false "是否命中过滤"
// @Param success query boolean false "是否成功过滤"
// @Success 200 {object} PaginatedResponse{data=[]models.AutomationExecution}
// @Failure 400 {object} ErrorResponse
// @Router /api/automation/executions [get]
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Message: err.Error()})
		return
	}

	executions, total, err := h.service.ListExecutions(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     executions,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// RegisterAutomationRoutes 注册自动化相关路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automation")
	{
		auto.GET("/triggers", handler.ListTriggers)

		rules := auto.Group("/rules")
		{
			rules.POST("", handler.CreateRule)
			rules.GET("", handler.ListRules)
			rules.GET("/:id", handler.GetRule)
			rules.PUT("/:id", handler.UpdateRule)
			rules.DELETE("/:id", handler.DeleteRule)
			rules.POST("/:id/test", handler.TestRule)
		}

		auto.GET("/executions", handler.ListExecutions)
	}
}
