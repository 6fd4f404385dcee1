package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskify/internal/automation"
	"deskify/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// TicketService 工单生命周期服务。每个写操作完成后同步触发
// 对应的自动化事件，规则失败只记日志，不影响原操作。
type TicketService struct {
	db         *gorm.DB
	automation TriggerSink
	sla        *SLAService
	scheduler  *SchedulerService
	logger     *logrus.Logger
	tracer     trace.Tracer
}

// NewTicketService 创建工单服务。sink/sla/scheduler 允许为 nil（测试或降级）。
func NewTicketService(db *gorm.DB, sink TriggerSink, sla *SLAService, scheduler *SchedulerService, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}

	return &TicketService{
		db:         db,
		automation: sink,
		sla:        sla,
		scheduler:  scheduler,
		logger:     logger,
		tracer:     otel.Tracer("deskify.ticket"),
	}
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Subject     string                 `json:"subject" binding:"required"`
	Description string                 `json:"description"`
	Type        string                 `json:"type"`
	Priority    string                 `json:"priority"`
	OpenerID    uint                   `json:"opener_id" binding:"required"`
	AssigneeID  *uint                  `json:"assignee_id"`
	TeamID      *uint                  `json:"team_id"`
	CategoryIDs []uint                 `json:"category_ids"`
	Tags        []string               `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// TicketUpdateRequest 更新工单请求。状态和指派走专门接口。
type TicketUpdateRequest struct {
	Subject     *string                `json:"subject"`
	Description *string                `json:"description"`
	Type        *string                `json:"type"`
	Priority    *string                `json:"priority"`
	TeamID      *uint                  `json:"team_id"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// TicketListRequest 工单列表请求
type TicketListRequest struct {
	Page       int      `form:"page,default=1"`
	PageSize   int      `form:"page_size,default=20"`
	Status     []string `form:"status"`
	Priority   []string `form:"priority"`
	Type       []string `form:"type"`
	AssigneeID *uint    `form:"assignee_id"`
	OpenerID   *uint    `form:"opener_id"`
	TeamID     *uint    `form:"team_id"`
	Tag        string   `form:"tag"`
	Search     string   `form:"search"`
	SortBy     string   `form:"sort_by,default=created_at"`
	SortOrder  string   `form:"sort_order,default=desc"`
}

// CommentCreateRequest 添加评论请求
type CommentCreateRequest struct {
	AuthorID *uint  `json:"author_id"`
	Body     string `json:"body" binding:"required"`
	Internal bool   `json:"internal"`
}

// StatusChangeRequest 状态流转请求
type StatusChangeRequest struct {
	Status  string `json:"status" binding:"required"`
	Note    string `json:"note"`
	ActorID *uint  `json:"actor_id"`
}

// AssignRequest 指派请求，AssigneeID 为空表示取消指派
type AssignRequest struct {
	AssigneeID *uint `json:"assignee_id"`
	ActorID    *uint `json:"actor_id"`
}

// Create 创建工单：校验开单人、盖 SLA 期限、挂分类标签，最后触发 ticket_created
func (s *TicketService) Create(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.create")
	defer span.End()
	span.SetAttributes(attribute.Int64("opener_id", int64(req.OpenerID)))

	var opener models.User
	if err := s.db.WithContext(ctx).First(&opener, req.OpenerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("opener %d not found", req.OpenerID)
		}
		return nil, fmt.Errorf("load opener: %w", err)
	}

	if req.Type == "" {
		req.Type = models.TypeQuestion
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !models.ValidTicketType(req.Type) {
		return nil, fmt.Errorf("invalid ticket type %q", req.Type)
	}
	if !models.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("invalid priority %q", req.Priority)
	}

	ticket := &models.Ticket{
		Subject:     req.Subject,
		Description: req.Description,
		Type:        req.Type,
		Status:      models.StatusOpen,
		Priority:    req.Priority,
		OpenerID:    req.OpenerID,
		AssigneeID:  req.AssigneeID,
		TeamID:      req.TeamID,
	}
	if len(req.Metadata) > 0 {
		if err := ticket.EncodeMetadata(req.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ticket).Error; err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}

		if len(req.CategoryIDs) > 0 {
			var categories []models.Category
			if err := tx.Find(&categories, req.CategoryIDs).Error; err != nil {
				return fmt.Errorf("load categories: %w", err)
			}
			if len(categories) != len(req.CategoryIDs) {
				return fmt.Errorf("some categories not found")
			}
			if err := tx.Model(ticket).Association("Categories").Append(&categories); err != nil {
				return fmt.Errorf("attach categories: %w", err)
			}
		}

		if len(req.Tags) > 0 {
			tags, err := s.ensureTags(tx, req.Tags)
			if err != nil {
				return err
			}
			if err := tx.Model(ticket).Association("Tags").Append(&tags); err != nil {
				return fmt.Errorf("attach tags: %w", err)
			}
		}

		if req.AssigneeID != nil {
			if err := adjustOpenLoad(tx, *req.AssigneeID, +1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// SLA 期限从创建时间起算
	if s.sla != nil {
		if err := s.sla.ApplyToTicket(ctx, ticket); err != nil {
			s.logger.Errorf("Apply SLA to ticket %d: %v", ticket.ID, err)
		} else if ticket.FirstResponseDueAt != nil || ticket.ResolutionDueAt != nil {
			updates := map[string]interface{}{
				"first_response_due_at": ticket.FirstResponseDueAt,
				"resolution_due_at":     ticket.ResolutionDueAt,
			}
			if err := s.db.WithContext(ctx).Model(ticket).Updates(updates).Error; err != nil {
				s.logger.Errorf("Stamp SLA on ticket %d: %v", ticket.ID, err)
			}
		}
	}

	s.recordStatusChange(ctx, ticket.ID, "", models.StatusOpen, "ticket created", nil)
	s.logger.Infof("Created ticket %d for user %d", ticket.ID, req.OpenerID)

	s.fireTrigger(ctx, models.TriggerTicketCreated, ticket.ID)
	return s.Get(ctx, ticket.ID)
}

// Get 取完整工单（含关联）
func (s *TicketService) Get(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Opener").
		Preload("Assignee").
		Preload("Team").
		Preload("Categories").
		Preload("Tags").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Preload("Author")
		}).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Subscriptions").
		First(&ticket, ticketID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ticket %d not found", ticketID)
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	return &ticket, nil
}

// List 分页查询工单
func (s *TicketService) List(ctx context.Context, req *TicketListRequest) ([]models.Ticket, int64, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.list")
	defer span.End()

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Preload("Opener").
		Preload("Assignee")

	if len(req.Status) > 0 {
		query = query.Where("status IN ?", req.Status)
	}
	if len(req.Priority) > 0 {
		query = query.Where("priority IN ?", req.Priority)
	}
	if len(req.Type) > 0 {
		query = query.Where("type IN ?", req.Type)
	}
	if req.AssigneeID != nil {
		query = query.Where("assignee_id = ?", *req.AssigneeID)
	}
	if req.OpenerID != nil {
		query = query.Where("opener_id = ?", *req.OpenerID)
	}
	if req.TeamID != nil {
		query = query.Where("team_id = ?", *req.TeamID)
	}
	if req.Tag != "" {
		sub := s.db.Table("ticket_tags").
			Select("ticket_tags.ticket_id").
			Joins("JOIN tags ON tags.id = ticket_tags.tag_id").
			Where("tags.name = ?", automation.NormalizeTag(req.Tag))
		query = query.Where("tickets.id IN (?)", sub)
	}
	if req.Search != "" {
		term := "%" + strings.ToLower(req.Search) + "%"
		query = query.Where("LOWER(subject) LIKE ? OR LOWER(description) LIKE ?", term, term)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	sortBy := req.SortBy
	switch sortBy {
	case "created_at", "updated_at", "priority", "status", "id":
	default:
		sortBy = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(req.SortOrder, "asc") {
		order = "ASC"
	}

	var tickets []models.Ticket
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order(sortBy + " " + order).Offset(offset).Limit(req.PageSize).Find(&tickets).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, total, nil
}

// Update 更新工单字段，优先级变化会重算 SLA 期限，完成后触发 ticket_updated
func (s *TicketService) Update(ctx context.Context, ticketID uint, req *TicketUpdateRequest) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.update")
	defer span.End()
	span.SetAttributes(attribute.Int64("ticket_id", int64(ticketID)))

	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Subject != nil {
		updates["subject"] = *req.Subject
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Type != nil {
		if !models.ValidTicketType(*req.Type) {
			return nil, fmt.Errorf("invalid ticket type %q", *req.Type)
		}
		updates["type"] = *req.Type
	}
	priorityChanged := false
	if req.Priority != nil && *req.Priority != ticket.Priority {
		if !models.ValidPriority(*req.Priority) {
			return nil, fmt.Errorf("invalid priority %q", *req.Priority)
		}
		updates["priority"] = *req.Priority
		priorityChanged = true
	}
	if req.TeamID != nil {
		updates["team_id"] = *req.TeamID
	}
	if len(req.Metadata) > 0 {
		meta := ticket.DecodeMetadata()
		for k, v := range req.Metadata {
			meta[k] = v
		}
		if err := ticket.EncodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		updates["metadata"] = ticket.Metadata
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("update ticket: %w", err)
		}
	}

	if priorityChanged && s.sla != nil {
		ticket.Priority = *req.Priority
		if err := s.sla.ApplyToTicket(ctx, ticket); err != nil {
			s.logger.Errorf("Reapply SLA to ticket %d: %v", ticketID, err)
		} else {
			slaUpdates := map[string]interface{}{
				"first_response_due_at": ticket.FirstResponseDueAt,
				"resolution_due_at":     ticket.ResolutionDueAt,
			}
			if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(slaUpdates).Error; err != nil {
				s.logger.Errorf("Stamp SLA on ticket %d: %v", ticketID, err)
			}
		}
	}

	s.fireTrigger(ctx, models.TriggerTicketUpdated, ticketID)
	return s.Get(ctx, ticketID)
}

// ChangeStatus 状态流转。非法流转返回 ErrInvalidTransition；
// 进入 resolved/closed 盖对应时间戳，关闭时顺带取消待执行跟进。
func (s *TicketService) ChangeStatus(ctx context.Context, ticketID uint, req *StatusChangeRequest) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.change_status")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ticket_id", int64(ticketID)),
		attribute.String("to_status", req.Status),
	)

	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if req.Status == ticket.Status {
		return ticket, nil
	}
	if !models.ValidStatus(req.Status) {
		return nil, fmt.Errorf("invalid status %q", req.Status)
	}
	if !models.CanTransition(ticket.Status, req.Status) {
		return nil, fmt.Errorf("%s -> %s: %w", ticket.Status, req.Status, automation.ErrInvalidTransition)
	}

	now := time.Now()
	updates := map[string]interface{}{"status": req.Status}
	switch req.Status {
	case models.StatusResolved:
		updates["resolved_at"] = &now
	case models.StatusClosed:
		updates["closed_at"] = &now
		if ticket.ResolvedAt == nil {
			updates["resolved_at"] = &now
		}
	case models.StatusOpen:
		// resolved -> open 重新打开，清掉解决时间
		if ticket.Status == models.StatusResolved {
			updates["resolved_at"] = nil
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if ticket.AssigneeID != nil {
			wasOpen := statusCountsAsLoad(ticket.Status)
			isOpen := statusCountsAsLoad(req.Status)
			if wasOpen && !isOpen {
				if err := adjustOpenLoad(tx, *ticket.AssigneeID, -1); err != nil {
					return err
				}
			} else if !wasOpen && isOpen {
				if err := adjustOpenLoad(tx, *ticket.AssigneeID, +1); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordStatusChange(ctx, ticketID, ticket.Status, req.Status, req.Note, req.ActorID)
	s.logger.Infof("Ticket %d status %s -> %s", ticketID, ticket.Status, req.Status)

	if req.Status == models.StatusClosed && s.scheduler != nil {
		if n, err := s.scheduler.CancelForTicket(ctx, ticketID); err != nil {
			s.logger.Errorf("Cancel follow-ups for ticket %d: %v", ticketID, err)
		} else if n > 0 {
			s.logger.Infof("Canceled %d pending follow-ups for closed ticket %d", n, ticketID)
		}
	}

	s.fireTrigger(ctx, models.TriggerTicketStatusChanged, ticketID)
	return s.Get(ctx, ticketID)
}

// Assign 指派或取消指派，维护客服负载计数
func (s *TicketService) Assign(ctx context.Context, ticketID uint, req *AssignRequest) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.assign")
	defer span.End()
	span.SetAttributes(attribute.Int64("ticket_id", int64(ticketID)))

	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if req.AssigneeID != nil {
		var assignee models.User
		if err := s.db.WithContext(ctx).First(&assignee, *req.AssigneeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("assignee %d not found", *req.AssigneeID)
			}
			return nil, fmt.Errorf("load assignee: %w", err)
		}
		if assignee.Role == models.RoleCustomer {
			return nil, fmt.Errorf("user %d is not an agent", *req.AssigneeID)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Ticket{}).Where("id = ?", ticketID).
			Update("assignee_id", req.AssigneeID).Error; err != nil {
			return fmt.Errorf("assign ticket: %w", err)
		}
		// 负载计数只跟未了结工单走
		if statusCountsAsLoad(ticket.Status) {
			if ticket.AssigneeID != nil {
				if err := adjustOpenLoad(tx, *ticket.AssigneeID, -1); err != nil {
					return err
				}
			}
			if req.AssigneeID != nil {
				if err := adjustOpenLoad(tx, *req.AssigneeID, +1); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if req.AssigneeID != nil {
		s.logger.Infof("Assigned ticket %d to user %d", ticketID, *req.AssigneeID)
		s.fireTrigger(ctx, models.TriggerTicketAssigned, ticketID)
	} else {
		s.logger.Infof("Unassigned ticket %d", ticketID)
		s.fireTrigger(ctx, models.TriggerTicketUpdated, ticketID)
	}
	return s.Get(ctx, ticketID)
}

// AddComment 添加评论。客服的第一条公开回复盖首次响应时间，之后触发 comment_added。
func (s *TicketService) AddComment(ctx context.Context, ticketID uint, req *CommentCreateRequest) (*models.TicketComment, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.add_comment")
	defer span.End()
	span.SetAttributes(attribute.Int64("ticket_id", int64(ticketID)))

	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	comment := &models.TicketComment{
		TicketID: ticketID,
		AuthorID: req.AuthorID,
		Body:     req.Body,
		Internal: req.Internal,
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("add comment: %w", err)
	}

	if !req.Internal && req.AuthorID != nil && *req.AuthorID != ticket.OpenerID && ticket.FirstRespondedAt == nil {
		now := time.Now()
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).
			Update("first_responded_at", &now).Error; err != nil {
			s.logger.Errorf("Stamp first response on ticket %d: %v", ticketID, err)
		}
	}

	if req.AuthorID != nil {
		s.db.WithContext(ctx).Preload("Author").First(comment, comment.ID)
	}

	s.fireTrigger(ctx, models.TriggerCommentAdded, ticketID)
	return comment, nil
}

// ListComments 按时间顺序取工单评论。includeInternal 为 false 时过滤内部备注。
func (s *TicketService) ListComments(ctx context.Context, ticketID uint, includeInternal bool) ([]models.TicketComment, error) {
	if _, err := s.Get(ctx, ticketID); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Preload("Author").
		Where("ticket_id = ?", ticketID).Order("created_at ASC")
	if !includeInternal {
		q = q.Where("internal = ?", false)
	}
	var comments []models.TicketComment
	if err := q.Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// AddTags 给工单贴标签（小写归一、去重），触发 ticket_updated
func (s *TicketService) AddTags(ctx context.Context, ticketID uint, tags []string) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.ensureTags(tx, tags)
		if err != nil {
			return err
		}
		existing := make(map[string]bool, len(ticket.Tags))
		for _, t := range ticket.Tags {
			existing[t.Name] = true
		}
		var fresh []models.Tag
		for _, t := range rows {
			if !existing[t.Name] {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		return tx.Model(ticket).Association("Tags").Append(&fresh)
	})
	if err != nil {
		return nil, fmt.Errorf("add tags: %w", err)
	}

	s.fireTrigger(ctx, models.TriggerTicketUpdated, ticketID)
	return s.Get(ctx, ticketID)
}

// RemoveTags 摘除标签，触发 ticket_updated
func (s *TicketService) RemoveTags(ctx context.Context, ticketID uint, tags []string) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(tags))
	for _, raw := range tags {
		if name := automation.NormalizeTag(raw); name != "" {
			wanted[name] = true
		}
	}
	var victims []models.Tag
	for _, t := range ticket.Tags {
		if wanted[t.Name] {
			victims = append(victims, t)
		}
	}
	if len(victims) > 0 {
		if err := s.db.WithContext(ctx).Model(ticket).Association("Tags").Delete(&victims); err != nil {
			return nil, fmt.Errorf("remove tags: %w", err)
		}
	}

	s.fireTrigger(ctx, models.TriggerTicketUpdated, ticketID)
	return s.Get(ctx, ticketID)
}

// AddCategory 挂分类，触发 ticket_updated
func (s *TicketService) AddCategory(ctx context.Context, ticketID, categoryID uint) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	for _, c := range ticket.Categories {
		if c.ID == categoryID {
			return ticket, nil
		}
	}

	var category models.Category
	if err := s.db.WithContext(ctx).First(&category, categoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("category %d not found", categoryID)
		}
		return nil, fmt.Errorf("load category: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(ticket).Association("Categories").Append(&category); err != nil {
		return nil, fmt.Errorf("attach category: %w", err)
	}

	s.fireTrigger(ctx, models.TriggerTicketUpdated, ticketID)
	return s.Get(ctx, ticketID)
}

// RemoveCategory 摘除分类，触发 ticket_updated
func (s *TicketService) RemoveCategory(ctx context.Context, ticketID, categoryID uint) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(ticket).Association("Categories").Delete(&models.Category{ID: categoryID}); err != nil {
		return nil, fmt.Errorf("detach category: %w", err)
	}

	s.fireTrigger(ctx, models.TriggerTicketUpdated, ticketID)
	return s.Get(ctx, ticketID)
}

// Subscribe 订阅工单（notify recipient=subscribers 的收件组）
func (s *TicketService) Subscribe(ctx context.Context, ticketID, userID uint) error {
	if _, err := s.Get(ctx, ticketID); err != nil {
		return err
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user %d not found", userID)
		}
		return fmt.Errorf("load user: %w", err)
	}

	var count int64
	s.db.WithContext(ctx).Model(&models.TicketSubscription{}).
		Where("ticket_id = ? AND user_id = ?", ticketID, userID).Count(&count)
	if count > 0 {
		return nil
	}

	sub := &models.TicketSubscription{TicketID: ticketID, UserID: userID}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe 取消订阅
func (s *TicketService) Unsubscribe(ctx context.Context, ticketID, userID uint) error {
	result := s.db.WithContext(ctx).
		Where("ticket_id = ? AND user_id = ?", ticketID, userID).
		Delete(&models.TicketSubscription{})
	if result.Error != nil {
		return fmt.Errorf("unsubscribe: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("subscription not found")
	}
	return nil
}

// Stats 工单统计
func (s *TicketService) Stats(ctx context.Context) (*TicketStats, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.stats")
	defer span.End()

	stats := &TicketStats{}
	db := s.db.WithContext(ctx)

	db.Model(&models.Ticket{}).Count(&stats.Total)
	db.Model(&models.Ticket{}).Where("status IN ?", models.OpenStatuses()).Count(&stats.Open)
	db.Model(&models.Ticket{}).Where("status = ?", models.StatusResolved).Count(&stats.Resolved)

	today := time.Now().Truncate(24 * time.Hour)
	db.Model(&models.Ticket{}).Where("created_at >= ?", today).Count(&stats.TodayCreated)

	db.Model(&models.Ticket{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&stats.ByStatus)
	db.Model(&models.Ticket{}).
		Select("priority, COUNT(*) as count").
		Group("priority").
		Scan(&stats.ByPriority)

	return stats, nil
}

// TicketStats 工单统计信息
type TicketStats struct {
	Total        int64           `json:"total"`
	Open         int64           `json:"open"`
	Resolved     int64           `json:"resolved"`
	TodayCreated int64           `json:"today_created"`
	ByStatus     []StatusCount   `json:"by_status"`
	ByPriority   []PriorityCount `json:"by_priority"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type PriorityCount struct {
	Priority string `json:"priority"`
	Count    int64  `json:"count"`
}

// ensureTags 按归一化名称查找或创建标签行
func (s *TicketService) ensureTags(tx *gorm.DB, raw []string) ([]models.Tag, error) {
	seen := make(map[string]bool)
	var out []models.Tag
	for _, r := range raw {
		name := automation.NormalizeTag(r)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		var tag models.Tag
		err := tx.Where("name = ?", name).First(&tag).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			tag = models.Tag{Name: name}
			if err := tx.Create(&tag).Error; err != nil {
				return nil, fmt.Errorf("create tag %q: %w", name, err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("load tag %q: %w", name, err)
		}
		out = append(out, tag)
	}
	return out, nil
}

// recordStatusChange 记录状态流转历史
func (s *TicketService) recordStatusChange(ctx context.Context, ticketID uint, from, to, note string, actorID *uint) {
	change := &models.TicketStatusChange{
		TicketID:   ticketID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		ActorID:    actorID,
	}
	if err := s.db.WithContext(ctx).Create(change).Error; err != nil {
		s.logger.Errorf("Record status change for ticket %d: %v", ticketID, err)
	}
}

// fireTrigger 同步进入自动化编排。规则的失败记日志即可，不影响原操作。
func (s *TicketService) fireTrigger(ctx context.Context, trigger string, ticketID uint) {
	if s.automation == nil {
		return
	}
	if err := s.automation.HandleTrigger(ctx, trigger, ticketID); err != nil {
		s.logger.Errorf("Automation %s for ticket %d: %v", trigger, ticketID, err)
	}
}

// statusCountsAsLoad 判断状态是否计入客服负载
func statusCountsAsLoad(status string) bool {
	for _, s := range models.OpenStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// adjustOpenLoad 增减客服的未了结工单数，下限为 0
func adjustOpenLoad(tx *gorm.DB, userID uint, delta int) error {
	query := tx.Model(&models.User{}).Where("id = ?", userID)
	var err error
	if delta >= 0 {
		err = query.UpdateColumn("open_load", gorm.Expr("open_load + ?", delta)).Error
	} else {
		err = query.Where("open_load > 0").
			UpdateColumn("open_load", gorm.Expr("open_load - ?", -delta)).Error
	}
	if err != nil {
		return fmt.Errorf("adjust load of user %d: %w", userID, err)
	}
	return nil
}
