package services

import (
	"context"
	"errors"
	"fmt"

	"deskify/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// CategoryService 分类树服务。Children 同时是规则引擎的后代查询入口。
type CategoryService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewCategoryService 创建分类服务
func NewCategoryService(db *gorm.DB, logger *logrus.Logger) *CategoryService {
	if logger == nil {
		logger = logrus.New()
	}

	return &CategoryService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("deskify.category"),
	}
}

// CategoryCreateRequest 创建分类请求
type CategoryCreateRequest struct {
	Name     string `json:"name" binding:"required"`
	ParentID *uint  `json:"parent_id"`
}

// CategoryUpdateRequest 更新分类请求
type CategoryUpdateRequest struct {
	Name     *string `json:"name"`
	ParentID *uint   `json:"parent_id"`
}

// Create 创建分类，父分类必须存在
func (s *CategoryService) Create(ctx context.Context, req *CategoryCreateRequest) (*models.Category, error) {
	ctx, span := s.tracer.Start(ctx, "category.create")
	defer span.End()
	span.SetAttributes(attribute.String("name", req.Name))

	if req.ParentID != nil {
		var parent models.Category
		if err := s.db.WithContext(ctx).First(&parent, *req.ParentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("parent category %d not found", *req.ParentID)
			}
			return nil, fmt.Errorf("load parent category: %w", err)
		}
	}

	category := &models.Category{Name: req.Name, ParentID: req.ParentID}
	if err := s.db.WithContext(ctx).Create(category).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

// Get 按 ID 取分类（带直接子分类）
func (s *CategoryService) Get(ctx context.Context, id uint) (*models.Category, error) {
	ctx, span := s.tracer.Start(ctx, "category.get")
	defer span.End()

	var category models.Category
	if err := s.db.WithContext(ctx).Preload("Children").First(&category, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("category %d not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("load category: %w", err)
	}
	return &category, nil
}

// List 返回全部分类（扁平，前端自行组树）
func (s *CategoryService) List(ctx context.Context) ([]models.Category, error) {
	ctx, span := s.tracer.Start(ctx, "category.list")
	defer span.End()

	var categories []models.Category
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&categories).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// Update 更新分类。改父分类时拒绝指向自身或自己的后代，避免造出环。
func (s *CategoryService) Update(ctx context.Context, id uint, req *CategoryUpdateRequest) (*models.Category, error) {
	ctx, span := s.tracer.Start(ctx, "category.update")
	defer span.End()
	span.SetAttributes(attribute.Int64("category_id", int64(id)))

	var category models.Category
	if err := s.db.WithContext(ctx).First(&category, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("category %d not found", id)
		}
		return nil, fmt.Errorf("load category: %w", err)
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.ParentID != nil {
		newParent := *req.ParentID
		if newParent == id {
			return nil, fmt.Errorf("category cannot be its own parent")
		}
		desc, err := s.Descendants(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range desc {
			if d == newParent {
				return nil, fmt.Errorf("cannot move category %d under its descendant %d", id, newParent)
			}
		}
		var parent models.Category
		if err := s.db.WithContext(ctx).First(&parent, newParent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("parent category %d not found", newParent)
			}
			return nil, fmt.Errorf("load parent category: %w", err)
		}
		updates["parent_id"] = newParent
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&category).Updates(updates).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("update category: %w", err)
		}
	}
	return &category, nil
}

// Delete 删除分类，有子分类时拒绝
func (s *CategoryService) Delete(ctx context.Context, id uint) error {
	ctx, span := s.tracer.Start(ctx, "category.delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("category_id", int64(id)))

	var childCount int64
	if err := s.db.WithContext(ctx).Model(&models.Category{}).Where("parent_id = ?", id).Count(&childCount).Error; err != nil {
		return fmt.Errorf("count children: %w", err)
	}
	if childCount > 0 {
		return fmt.Errorf("category %d has %d child categories", id, childCount)
	}

	result := s.db.WithContext(ctx).Delete(&models.Category{}, id)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("delete category: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("category %d not found", id)
	}
	return nil
}

// Children 返回直接子分类的 ID，供规则引擎做后代匹配
func (s *CategoryService) Children(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Category{}).
		Where("parent_id = ?", id).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load children of category %d: %w", id, err)
	}
	return ids, nil
}

// Descendants 广度优先收集全部后代 ID。访问过的节点跳过，坏数据里的环也能终止。
func (s *CategoryService) Descendants(ctx context.Context, id uint) ([]uint, error) {
	ctx, span := s.tracer.Start(ctx, "category.descendants")
	defer span.End()

	visited := map[uint]bool{id: true}
	var out []uint
	queue := []uint{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := s.Children(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}
