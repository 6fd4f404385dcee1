package services

import (
	"context"
	"fmt"

	"deskify/internal/automation"
	"deskify/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// NotificationService 站内通知服务，落库并通过 WebSocket 即时推送
type NotificationService struct {
	db     *gorm.DB
	hub    *WebSocketHub
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewNotificationService 创建通知服务，hub 可以为 nil（仅落库）
func NewNotificationService(db *gorm.DB, hub *WebSocketHub, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}

	return &NotificationService{
		db:     db,
		hub:    hub,
		logger: logger,
		tracer: otel.Tracer("deskify.notification"),
	}
}

// NotificationListRequest 通知列表请求
type NotificationListRequest struct {
	Page        int   `form:"page,default=1"`
	PageSize    int   `form:"page_size,default=20"`
	RecipientID *uint `form:"recipient_id"`
	Unread      *bool `form:"unread"`
}

// Create 写入一条通知并推送给接收人
func (s *NotificationService) Create(ctx context.Context, recipientID, ticketID uint, kind, subject, body string) (*models.Notification, error) {
	ctx, span := s.tracer.Start(ctx, "notification.create")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("recipient_id", int64(recipientID)),
		attribute.String("kind", kind),
	)

	n := &models.Notification{
		RecipientID: recipientID,
		TicketID:    ticketID,
		Kind:        kind,
		Subject:     subject,
		Body:        body,
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if s.hub != nil {
		s.hub.SendToUser(recipientID, "notification", n)
	}
	return n, nil
}

// NotifyForTicket 把收件人说明（assignee/opener/subscribers）解析成具体用户并逐个通知。
// 没有可解析的收件人时只记录日志，不算错误。
func (s *NotificationService) NotifyForTicket(ctx context.Context, ticket *models.Ticket, recipient, kind, subject, body string) ([]models.Notification, error) {
	ctx, span := s.tracer.Start(ctx, "notification.for_ticket")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ticket_id", int64(ticket.ID)),
		attribute.String("recipient", recipient),
	)

	var targets []uint
	switch recipient {
	case automation.RecipientAssignee:
		if ticket.AssigneeID != nil {
			targets = append(targets, *ticket.AssigneeID)
		}
	case automation.RecipientOpener:
		targets = append(targets, ticket.OpenerID)
	case automation.RecipientSubscribers:
		var subs []models.TicketSubscription
		if err := s.db.WithContext(ctx).Where("ticket_id = ?", ticket.ID).Find(&subs).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("load subscribers: %w", err)
		}
		for _, sub := range subs {
			targets = append(targets, sub.UserID)
		}
	default:
		return nil, fmt.Errorf("unknown notification recipient %q", recipient)
	}

	if len(targets) == 0 {
		s.logger.Debugf("Ticket %d has no %s to notify", ticket.ID, recipient)
		return nil, nil
	}

	out := make([]models.Notification, 0, len(targets))
	for _, userID := range targets {
		n, err := s.Create(ctx, userID, ticket.ID, kind, subject, body)
		if err != nil {
			return out, err
		}
		out = append(out, *n)
	}
	return out, nil
}

// List 按接收人/已读状态分页查询通知
func (s *NotificationService) List(ctx context.Context, req *NotificationListRequest) ([]models.Notification, int64, error) {
	ctx, span := s.tracer.Start(ctx, "notification.list")
	defer span.End()

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Notification{})
	if req.RecipientID != nil {
		query = query.Where("recipient_id = ?", *req.RecipientID)
	}
	if req.Unread != nil {
		if *req.Unread {
			query = query.Where("read_at IS NULL")
		} else {
			query = query.Where("read_at IS NOT NULL")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	var items []models.Notification
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead 将单条通知标记为已读
func (s *NotificationService) MarkRead(ctx context.Context, id uint) error {
	ctx, span := s.tracer.Start(ctx, "notification.mark_read")
	defer span.End()

	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", gorm.Expr("CURRENT_TIMESTAMP"))
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("mark notification read: %w", result.Error)
	}
	return nil
}

// MarkAllRead 将某个用户的全部未读通知标记为已读
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "notification.mark_all_read")
	defer span.End()

	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		Update("read_at", gorm.Expr("CURRENT_TIMESTAMP"))
	if result.Error != nil {
		span.RecordError(result.Error)
		return 0, fmt.Errorf("mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}
