package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deskify/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// TriggerSink 接收后台扫描产生的自动化触发事件。
// 由 AutomationService 实现；测试里可以换成记录桩。
type TriggerSink interface {
	HandleTrigger(ctx context.Context, trigger string, ticketID uint) error
}

// 工单元数据里的 SLA 违约戳，避免同一违约重复触发
const (
	metaFirstResponseBreachedAt = "sla_first_response_breached_at"
	metaResolutionBreachedAt    = "sla_resolution_breached_at"
)

// SLAService SLA 策略管理与违约扫描
type SLAService struct {
	db     *gorm.DB
	sink   TriggerSink
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewSLAService 创建 SLA 服务，sink 可以为 nil（不触发自动化）
func NewSLAService(db *gorm.DB, sink TriggerSink, logger *logrus.Logger) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}

	return &SLAService{
		db:     db,
		sink:   sink,
		logger: logger,
		tracer: otel.Tracer("deskify.sla"),
	}
}

// SLAPolicyCreateRequest 创建 SLA 策略请求
type SLAPolicyCreateRequest struct {
	Priority          string `json:"priority" binding:"required"`
	FirstResponseMins int    `json:"first_response_mins" binding:"required,min=1"`
	ResolutionMins    int    `json:"resolution_mins" binding:"required,min=1"`
	Active            *bool  `json:"active"`
}

// SLAPolicyUpdateRequest 更新 SLA 策略请求
type SLAPolicyUpdateRequest struct {
	FirstResponseMins *int  `json:"first_response_mins"`
	ResolutionMins    *int  `json:"resolution_mins"`
	Active            *bool `json:"active"`
}

// CreatePolicy 创建策略，每个优先级只允许一条
func (s *SLAService) CreatePolicy(ctx context.Context, req *SLAPolicyCreateRequest) (*models.SLAPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "sla.create_policy")
	defer span.End()
	span.SetAttributes(attribute.String("priority", req.Priority))

	if !models.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("invalid priority %q", req.Priority)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SLAPolicy{}).
		Where("priority = ?", req.Priority).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check existing policy: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("policy for priority %q already exists", req.Priority)
	}

	policy := &models.SLAPolicy{
		Priority:          req.Priority,
		FirstResponseMins: req.FirstResponseMins,
		ResolutionMins:    req.ResolutionMins,
		Active:            true,
	}
	if req.Active != nil {
		policy.Active = *req.Active
	}
	if err := s.db.WithContext(ctx).Create(policy).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create sla policy: %w", err)
	}
	return policy, nil
}

// GetPolicy 按 ID 取策略
func (s *SLAService) GetPolicy(ctx context.Context, id uint) (*models.SLAPolicy, error) {
	var policy models.SLAPolicy
	if err := s.db.WithContext(ctx).First(&policy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("sla policy %d not found", id)
		}
		return nil, fmt.Errorf("load sla policy: %w", err)
	}
	return &policy, nil
}

// ListPolicies 返回全部策略
func (s *SLAService) ListPolicies(ctx context.Context) ([]models.SLAPolicy, error) {
	var policies []models.SLAPolicy
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("list sla policies: %w", err)
	}
	return policies, nil
}

// UpdatePolicy 更新策略时限或启停
func (s *SLAService) UpdatePolicy(ctx context.Context, id uint, req *SLAPolicyUpdateRequest) (*models.SLAPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "sla.update_policy")
	defer span.End()
	span.SetAttributes(attribute.Int64("policy_id", int64(id)))

	policy, err := s.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.FirstResponseMins != nil {
		if *req.FirstResponseMins <= 0 {
			return nil, fmt.Errorf("first_response_mins must be positive")
		}
		updates["first_response_mins"] = *req.FirstResponseMins
	}
	if req.ResolutionMins != nil {
		if *req.ResolutionMins <= 0 {
			return nil, fmt.Errorf("resolution_mins must be positive")
		}
		updates["resolution_mins"] = *req.ResolutionMins
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(policy).Updates(updates).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("update sla policy: %w", err)
		}
	}
	return policy, nil
}

// DeletePolicy 删除策略
func (s *SLAService) DeletePolicy(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.SLAPolicy{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete sla policy: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("sla policy %d not found", id)
	}
	return nil
}

// ApplyToTicket 按工单当前优先级盖 SLA 期限（从创建时间起算）。
// 只改内存字段，由调用方负责落库；已有首次响应/已解决的期限不再重算。
func (s *SLAService) ApplyToTicket(ctx context.Context, ticket *models.Ticket) error {
	var policy models.SLAPolicy
	err := s.db.WithContext(ctx).
		Where("priority = ? AND active = ?", ticket.Priority, true).
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // 该优先级没有策略，保持现状
		}
		return fmt.Errorf("load sla policy for %q: %w", ticket.Priority, err)
	}

	if ticket.FirstRespondedAt == nil {
		due := ticket.CreatedAt.Add(time.Duration(policy.FirstResponseMins) * time.Minute)
		ticket.FirstResponseDueAt = &due
	}
	if ticket.ResolvedAt == nil {
		due := ticket.CreatedAt.Add(time.Duration(policy.ResolutionMins) * time.Minute)
		ticket.ResolutionDueAt = &due
	}
	return nil
}

// Sweep 扫描未了结工单，发现新的 SLA 违约就打戳并触发 sla_breached。
// 返回本轮触发的违约数。
func (s *SLAService) Sweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "sla.sweep")
	defer span.End()

	now := time.Now().UTC()
	var tickets []models.Ticket
	if err := s.db.WithContext(ctx).
		Where("status IN ?", models.OpenStatuses()).
		Where("(first_response_due_at IS NOT NULL AND first_response_due_at < ? AND first_responded_at IS NULL) OR (resolution_due_at IS NOT NULL AND resolution_due_at < ? AND resolved_at IS NULL)", now, now).
		Find(&tickets).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("scan sla breaches: %w", err)
	}

	fired := 0
	for i := range tickets {
		ticket := &tickets[i]
		meta := ticket.DecodeMetadata()
		breached := false

		if ticket.FirstResponseDueAt != nil && ticket.FirstResponseDueAt.Before(now) &&
			ticket.FirstRespondedAt == nil && meta[metaFirstResponseBreachedAt] == nil {
			meta[metaFirstResponseBreachedAt] = now.Format(time.RFC3339)
			breached = true
		}
		if ticket.ResolutionDueAt != nil && ticket.ResolutionDueAt.Before(now) &&
			ticket.ResolvedAt == nil && meta[metaResolutionBreachedAt] == nil {
			meta[metaResolutionBreachedAt] = now.Format(time.RFC3339)
			breached = true
		}
		if !breached {
			continue
		}

		if err := ticket.EncodeMetadata(meta); err != nil {
			s.logger.Errorf("Encode breach metadata for ticket %d: %v", ticket.ID, err)
			continue
		}
		if err := s.db.WithContext(ctx).Model(ticket).Update("metadata", ticket.Metadata).Error; err != nil {
			s.logger.Errorf("Stamp breach on ticket %d: %v", ticket.ID, err)
			continue
		}

		fired++
		if s.sink != nil {
			if err := s.sink.HandleTrigger(ctx, models.TriggerSLABreached, ticket.ID); err != nil {
				s.logger.Errorf("Handle sla_breached for ticket %d: %v", ticket.ID, err)
			}
		}
	}

	if fired > 0 {
		s.logger.Infof("SLA sweep: checked %d tickets, fired %d breaches", len(tickets), fired)
	}
	span.SetAttributes(
		attribute.Int("sla.sweep.tickets_checked", len(tickets)),
		attribute.Int("sla.sweep.breaches_fired", fired),
	)
	return fired, nil
}

// StartMonitor 启动 SLA 扫描循环，直到 ctx 取消
func (s *SLAService) StartMonitor(ctx context.Context, interval time.Duration) {
	s.logger.Info("Starting SLA monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SLA monitor stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Errorf("SLA sweep error: %v", err)
			}
		}
	}
}
