package services

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deskify/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// followUpItem 堆元素：只存 ID 和到期时间，执行时以数据库为准
type followUpItem struct {
	id    uint
	runAt time.Time
	index int
}

// followUpHeap 按到期时间排序的最小堆
type followUpHeap []*followUpItem

func (h followUpHeap) Len() int           { return len(h) }
func (h followUpHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h followUpHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *followUpHeap) Push(x interface{}) {
	n := len(*h)
	item := x.(*followUpItem)
	item.index = n
	*h = append(*h, item)
}

func (h *followUpHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// SchedulerService 延迟跟进调度器。任务落库保证重启不丢，
// 内存最小堆决定下一次到期，到期后写内部备注并触发 followup_due。
type SchedulerService struct {
	db     *gorm.DB
	sink   TriggerSink
	logger *logrus.Logger
	tracer trace.Tracer

	mu   sync.Mutex
	heap followUpHeap
}

// NewSchedulerService 创建调度器，sink 可以为 nil（不触发自动化）
func NewSchedulerService(db *gorm.DB, sink TriggerSink, logger *logrus.Logger) *SchedulerService {
	if logger == nil {
		logger = logrus.New()
	}

	s := &SchedulerService{
		db:     db,
		sink:   sink,
		logger: logger,
		tracer: otel.Tracer("deskify.scheduler"),
	}
	heap.Init(&s.heap)
	return s
}

// SetSink 注入触发接收方。调度器先于自动化服务构造，装配时回填。
func (s *SchedulerService) SetSink(sink TriggerSink) {
	s.sink = sink
}

// Schedule 登记一个跟进任务。delayMinutes 非正数视为立即到期。
func (s *SchedulerService) Schedule(ctx context.Context, ticketID, ruleID uint, delayMinutes int, note string) (*models.FollowUp, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.schedule")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ticket_id", int64(ticketID)),
		attribute.Int("delay_minutes", delayMinutes),
	)

	if delayMinutes < 0 {
		delayMinutes = 0
	}
	fu := &models.FollowUp{
		TicketID: ticketID,
		RuleID:   ruleID,
		RunAt:    time.Now().Add(time.Duration(delayMinutes) * time.Minute),
		Note:     note,
		Status:   "pending",
	}
	if err := s.db.WithContext(ctx).Create(fu).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create follow-up: %w", err)
	}

	s.push(fu.ID, fu.RunAt)
	return fu, nil
}

// Cancel 取消一条待执行的跟进
func (s *SchedulerService) Cancel(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("id = ? AND status = ?", id, "pending").
		Update("status", "canceled")
	if result.Error != nil {
		return fmt.Errorf("cancel follow-up: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("follow-up %d not found or not pending", id)
	}
	return nil
}

// CancelForTicket 工单了结时取消其全部待执行跟进
func (s *SchedulerService) CancelForTicket(ctx context.Context, ticketID uint) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("ticket_id = ? AND status = ?", ticketID, "pending").
		Update("status", "canceled")
	if result.Error != nil {
		return 0, fmt.Errorf("cancel follow-ups for ticket %d: %w", ticketID, result.Error)
	}
	return result.RowsAffected, nil
}

// ListForTicket 查询某工单的全部跟进
func (s *SchedulerService) ListForTicket(ctx context.Context, ticketID uint) ([]models.FollowUp, error) {
	var items []models.FollowUp
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).Order("run_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	return items, nil
}

// Load 把库里的 pending 任务重新装入堆（服务启动时调用）
func (s *SchedulerService) Load(ctx context.Context) error {
	var pending []models.FollowUp
	if err := s.db.WithContext(ctx).Where("status = ?", "pending").Find(&pending).Error; err != nil {
		return fmt.Errorf("load pending follow-ups: %w", err)
	}
	for _, fu := range pending {
		s.push(fu.ID, fu.RunAt)
	}
	if len(pending) > 0 {
		s.logger.Infof("Scheduler recovered %d pending follow-ups", len(pending))
	}
	return nil
}

// PendingCount 堆中待执行任务数
func (s *SchedulerService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Run 调度循环，直到 ctx 取消
func (s *SchedulerService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	s.logger.Info("Starting follow-up scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Follow-up scheduler stopped")
			return
		case <-ticker.C:
			s.processDue(ctx)
		}
	}
}

func (s *SchedulerService) push(id uint, runAt time.Time) {
	s.mu.Lock()
	heap.Push(&s.heap, &followUpItem{id: id, runAt: runAt})
	s.mu.Unlock()
}

// processDue 弹出全部到期任务并执行
func (s *SchedulerService) processDue(ctx context.Context) {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].runAt.After(now) {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.heap).(*followUpItem)
		s.mu.Unlock()

		if err := s.fire(ctx, item.id); err != nil {
			s.logger.Errorf("Follow-up %d failed: %v", item.id, err)
		}
	}
}

// fire 执行一条跟进：写内部备注、标记完成、触发 followup_due
func (s *SchedulerService) fire(ctx context.Context, id uint) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.fire")
	defer span.End()
	span.SetAttributes(attribute.Int64("followup_id", int64(id)))

	var fu models.FollowUp
	if err := s.db.WithContext(ctx).First(&fu, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // 已被删除
		}
		return fmt.Errorf("load follow-up: %w", err)
	}
	if fu.Status != "pending" {
		return nil // 已取消或已执行
	}

	if fu.Note != "" {
		comment := &models.TicketComment{
			TicketID: fu.TicketID,
			AuthorID: nil, // 系统
			Body:     fu.Note,
			Internal: true,
		}
		if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
			return fmt.Errorf("write follow-up note: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).Model(&fu).Update("status", "done").Error; err != nil {
		return fmt.Errorf("mark follow-up done: %w", err)
	}

	if s.sink != nil {
		if err := s.sink.HandleTrigger(ctx, models.TriggerFollowUpDue, fu.TicketID); err != nil {
			s.logger.Errorf("Handle followup_due for ticket %d: %v", fu.TicketID, err)
		}
	}
	return nil
}
