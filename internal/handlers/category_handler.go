package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"deskify/internal/services"

	"github.com/gin-gonic/gin"
)

// CategoryHandler 分类树管理
type CategoryHandler struct {
	service *services.CategoryService
}

func NewCategoryHandler(service *services.CategoryService) *CategoryHandler {
	return &CategoryHandler{service: service}
}

// CreateCategory 创建分类
// @Summary 创建分类
// @Description 创建分类，parent_id 指定父分类可构成层级树
// @Tags 分类
// @Accept json
// @Produce json
// @Param category body services.CategoryCreateRequest true "分类信息"
// @Success 201 {object} models.Category
// @Failure 400 {object} ErrorResponse
// @Router /api/categories [post]
func (h *CategoryHandler) CreateCategory(c *gin.Context) {
	var req services.CategoryCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	category, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create category", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, category)
}

// GetCategory 获取分类详情（含直接子分类）
func (h *CategoryHandler) GetCategory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid category ID", Message: err.Error()})
		return
	}

	category, err := h.service.Get(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Category not found", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, category)
}

// ListCategories 获取全部分类
func (h *CategoryHandler) ListCategories(c *gin.Context) {
	categories, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list categories", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, categories)
}

// GetDescendants 获取子树的分类 ID 集合
// @Summary 获取子树分类
// @Description 返回该分类的所有后代分类 ID，不含自身
// @Tags 分类
// @Produce json
// @Param id path int true "分类ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /api/categories/{id}/descendants [get]
func (h *CategoryHandler) GetDescendants(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid category ID", Message: err.Error()})
		return
	}

	if _, err := h.service.Get(c.Request.Context(), uint(id)); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Category not found", Message: err.Error()})
		return
	}

	ids, err := h.service.Descendants(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to resolve descendants", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"category_id": uint(id), "descendants": ids})
}

// UpdateCategory 更新分类
// @Summary 更新分类
// @Description 改名或换父分类，会拒绝成环的移动
// @Tags 分类
// @Accept json
// @Produce json
// @Param id path int true "分类ID"
// @Param category body services.CategoryUpdateRequest true "更新信息"
// @Success 200 {object} models.Category
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/categories/{id} [put]
func (h *CategoryHandler) UpdateCategory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid category ID", Message: err.Error()})
		return
	}

	var req services.CategoryUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	category, err := h.service.Update(c.Request.Context(), uint(id), &req)
	if err != nil {
		// 目标父分类不存在属于请求错误，分类本身不存在才是 404
		if strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "parent category") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Category not found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update category", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, category)
}

// DeleteCategory 删除分类
// @Summary 删除分类
// @Description 仅允许删除没有子分类的叶子节点
// @Tags 分类
// @Produce json
// @Param id path int true "分类ID"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/categories/{id} [delete]
func (h *CategoryHandler) DeleteCategory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid category ID", Message: err.Error()})
		return
	}

	if err := h.service.Delete(c.Request.Context(), uint(id)); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Category not found", Message: err.Error()})
			return
		}
		if strings.Contains(err.Error(), "child categories") {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Category has children", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete category", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// RegisterCategoryRoutes 注册分类相关路由
func RegisterCategoryRoutes(r *gin.RouterGroup, handler *CategoryHandler) {
	categories := r.Group("/categories")
	{
		categories.POST("", handler.CreateCategory)
		categories.GET("", handler.ListCategories)
		categories.GET("/:id", handler.GetCategory)
		categories.GET("/:id/descendants", handler.GetDescendants)
		categories.PUT("/:id", handler.UpdateCategory)
		categories.DELETE("/:id", handler.DeleteCategory)
	}
}
