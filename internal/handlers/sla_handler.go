package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"deskify/internal/services"

	"github.com/gin-gonic/gin"
)

// SLAHandler SLA 策略处理器
type SLAHandler struct {
	service *services.SLAService
}

// NewSLAHandler 创建SLA策略处理器
func NewSLAHandler(service *services.SLAService) *SLAHandler {
	return &SLAHandler{service: service}
}

// CreatePolicy 创建SLA策略
// @Summary 创建SLA策略
// @Description 为某个优先级创建SLA策略，每个优先级只允许一条
// @Tags SLA
// @Accept json
// @Produce json
// @Param policy body services.SLAPolicyCreateRequest true "SLA策略"
// @Success 201 {object} models.SLAPolicy
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/sla/policies [post]
func (h *SLAHandler) CreatePolicy(c *gin.Context) {
	var req services.SLAPolicyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	policy, err := h.service.CreatePolicy(c.Request.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Policy already exists", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create policy", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, policy)
}

// GetPolicy 获取SLA策略详情
// @Summary 获取SLA策略详情
// @Tags SLA
// @Produce json
// @Param id path int true "策略ID"
// @Success 200 {object} models.SLAPolicy
// @Failure 404 {object} ErrorResponse
// @Router /api/sla/policies/{id} [get]
func (h *SLAHandler) GetPolicy(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid policy ID", Message: err.Error()})
		return
	}

	policy, err := h.service.GetPolicy(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Policy not found", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// ListPolicies 获取SLA策略列表
// @Summary 获取SLA策略列表
// @Description 返回全部SLA策略，按优先级从高到低排列
// @Tags SLA
// @Produce json
// @Success 200 {array} models.SLAPolicy
// @Failure 500 {object} ErrorResponse
// @Router /api/sla/policies [get]
func (h *SLAHandler) ListPolicies(c *gin.Context) {
	policies, err := h.service.ListPolicies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list policies", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, policies)
}

// UpdatePolicy 更新SLA策略
// @Summary 更新SLA策略
// @Description 更新时限或启用状态，已盖章的工单期限不受影响
// @Tags SLA
// @Accept json
// @Produce json
// @Param id path int true "策略ID"
// @Param policy body services.SLAPolicyUpdateRequest true "更新信息"
// @Success 200 {object} models.SLAPolicy
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/sla/policies/{id} [put]
func (h *SLAHandler) UpdatePolicy(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid policy ID", Message: err.Error()})
		return
	}

	var req services.SLAPolicyUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	policy, err := h.service.UpdatePolicy(c.Request.Context(), uint(id), &req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Policy not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update policy", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// DeletePolicy 删除SLA策略
// @Summary 删除SLA策略
// @Description 删除后新建工单不再盖该优先级的期限
// @Tags SLA
// @Produce json
// @Param id path int true "策略ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/sla/policies/{id} [delete]
func (h *SLAHandler) DeletePolicy(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid policy ID", Message: err.Error()})
		return
	}

	if err := h.service.DeletePolicy(c.Request.Context(), uint(id)); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Policy not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete policy", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Policy deleted successfully"})
}

// RunSweep 手动触发SLA到期检查
// @Summary 手动触发SLA到期检查
// @Description 立即扫描未了结工单，对超期的首响/解决期限发出违约事件
// @Tags SLA
// @Produce json
// @Success 200 {object} map[string]interface{} "本次发出的违约事件数"
// @Failure 500 {object} ErrorResponse
// @Router /api/sla/sweep [post]
func (h *SLAHandler) RunSweep(c *gin.Context) {
	fired, err := h.service.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Sweep failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"breaches_fired": fired})
}

// RegisterSLARoutes 注册SLA相关路由
func RegisterSLARoutes(r *gin.RouterGroup, handler *SLAHandler) {
	sla := r.Group("/sla")
	{
		policies := sla.Group("/policies")
		{
			policies.POST("", handler.CreatePolicy)
			policies.GET("", handler.ListPolicies)
			policies.GET("/:id", handler.GetPolicy)
			policies.PUT("/:id", handler.UpdatePolicy)
			policies.DELETE("/:id", handler.DeletePolicy)
		}

		sla.POST("/sweep", handler.RunSweep)
	}
}
