package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"deskify/internal/automation"
	appmetrics "deskify/internal/metrics"
	"deskify/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// AutomationService 规则编排器：加载触发器命中的规则，逐条求值、执行、
// 落审计，并把动作产生的副作用投递出去。实现 TriggerSink。
type AutomationService struct {
	db             *gorm.DB
	evaluator      *automation.Evaluator
	executor       *automation.Executor
	categories     *CategoryService
	notifications  *NotificationService
	scheduler      *SchedulerService
	maxRulesPerRun int
	logger         *logrus.Logger
	tracer         trace.Tracer
}

// NewAutomationService 创建编排器。maxRulesPerRun 非正数时取 10。
func NewAutomationService(
	db *gorm.DB,
	maxRulesPerRun int,
	categories *CategoryService,
	notifications *NotificationService,
	scheduler *SchedulerService,
	webhooks automation.WebhookCaller,
	cursors automation.CursorStore,
	logger *logrus.Logger,
) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	if maxRulesPerRun <= 0 {
		maxRulesPerRun = 10
	}

	return &AutomationService{
		db:             db,
		evaluator:      automation.NewEvaluator(logger),
		executor:       automation.NewExecutor(NewTeamDirectory(db), cursors, nil, webhooks, logger),
		categories:     categories,
		notifications:  notifications,
		scheduler:      scheduler,
		maxRulesPerRun: maxRulesPerRun,
		logger:         logger,
		tracer:         otel.Tracer("deskify.automation"),
	}
}

// Evaluator 暴露断言注册表，供装配阶段挂自定义断言
func (s *AutomationService) Evaluator() *automation.Evaluator { return s.evaluator }

// Executor 暴露动作注册表，供装配阶段挂自定义动作
func (s *AutomationService) Executor() *automation.Executor { return s.executor }

// RuleCreateRequest 创建规则请求。条件为 {operator, rules} 树，动作为有序列表。
type RuleCreateRequest struct {
	Name           string                   `json:"name" binding:"required"`
	Trigger        string                   `json:"trigger" binding:"required"`
	Conditions     map[string]interface{}   `json:"conditions"`
	Actions        []map[string]interface{} `json:"actions"`
	Priority       int                      `json:"priority"`
	StopProcessing bool                     `json:"stop_processing"`
	Active         *bool                    `json:"active"`
}

// RuleUpdateRequest 更新规则请求
type RuleUpdateRequest struct {
	Name           *string                  `json:"name"`
	Trigger        *string                  `json:"trigger"`
	Conditions     map[string]interface{}   `json:"conditions"`
	Actions        []map[string]interface{} `json:"actions"`
	Priority       *int                     `json:"priority"`
	StopProcessing *bool                    `json:"stop_processing"`
	Active         *bool                    `json:"active"`
}

// RuleListRequest 规则列表请求
type RuleListRequest struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Trigger  string `form:"trigger"`
	Active   *bool  `form:"active"`
}

// ExecutionListRequest 执行审计列表请求
type ExecutionListRequest struct {
	Page     int   `form:"page,default=1"`
	PageSize int   `form:"page_size,default=20"`
	RuleID   *uint `form:"rule_id"`
	TicketID *uint `form:"ticket_id"`
	Matched  *bool `form:"matched"`
	Success  *bool `form:"success"`
}

// RuleTestResult 规则试跑结果：只求值，不执行动作
type RuleTestResult struct {
	Matched bool                    `json:"matched"`
	Actions []automation.ActionSpec `json:"actions"` // 命中后将按序执行的动作
}

// HandleTrigger 编排入口：对一张工单跑完该触发器下的全部生效规则。
// 规则按优先级降序、同优先级按 ID 升序执行；单条规则失败不影响后续，
// 命中 stop_processing 的规则会终止本轮。每条规则恰好落一行审计。
func (s *AutomationService) HandleTrigger(ctx context.Context, trigger string, ticketID uint) error {
	ctx, span := s.tracer.Start(ctx, "automation.handle_trigger")
	defer span.End()
	span.SetAttributes(
		attribute.String("trigger", trigger),
		attribute.Int64("ticket_id", int64(ticketID)),
	)

	if !models.SupportedTrigger(trigger) {
		return fmt.Errorf("unsupported trigger %q", trigger)
	}

	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("trigger = ? AND active = ?", trigger, true).
		Order("priority DESC, id ASC").
		Find(&rules).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("load rules for %s: %w", trigger, err)
	}
	if len(rules) == 0 {
		return nil
	}
	if len(rules) > s.maxRulesPerRun {
		s.logger.Warnf("Trigger %s has %d rules, capping at %d", trigger, len(rules), s.maxRulesPerRun)
		rules = rules[:s.maxRulesPerRun]
	}

	snap, err := s.loadState(ctx, ticketID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for i := range rules {
		rule := &rules[i]
		appmetrics.IncRuleEvaluated(trigger)

		matched, execErr := s.runRule(ctx, rule, trigger, snap)
		if matched && rule.StopProcessing {
			s.logger.Debugf("Rule %d (%s) stops processing for ticket %d", rule.ID, rule.Name, ticketID)
			break
		}
		_ = execErr // 已落审计，链路继续
	}
	return nil
}

// runRule 跑单条规则：求值、执行、落库、投递副作用、写审计。
// 返回是否命中；执行失败通过审计行反映，不中断兄弟规则。
func (s *AutomationService) runRule(ctx context.Context, rule *models.AutomationRule, trigger string, snap *automation.TicketState) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "automation.run_rule")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("rule_id", int64(rule.ID)),
		attribute.String("rule_name", rule.Name),
	)

	tree, err := automation.ParseConditions(rule.Conditions)
	if err != nil {
		s.logger.Warnf("Rule %d has invalid conditions: %v", rule.ID, err)
		s.recordExecution(ctx, rule, snap.ID, trigger, false, false, fmt.Sprintf("parse conditions: %v", err))
		return false, err
	}

	facts := automation.NewFacts(snap, s.categoryLookup())
	matched := s.evaluator.Evaluate(ctx, tree, facts)
	span.SetAttributes(attribute.Bool("matched", matched))
	if !matched {
		s.recordExecution(ctx, rule, snap.ID, trigger, false, true, "")
		return false, nil
	}
	appmetrics.IncRuleMatched()

	actions, err := automation.ParseActions(rule.Actions)
	if err != nil {
		s.logger.Warnf("Rule %d has invalid actions: %v", rule.ID, err)
		s.recordExecution(ctx, rule, snap.ID, trigger, true, false, fmt.Sprintf("parse actions: %v", err))
		s.touchRule(ctx, rule)
		return true, err
	}

	effects, execErr := s.executor.Execute(ctx, actions, snap)

	// 失败前的改动照样落库（无回滚语义），已产生的副作用照样投递
	persistErr := s.persist(ctx, snap)
	if persistErr != nil {
		s.logger.Errorf("Persist automation changes for ticket %d: %v", snap.ID, persistErr)
	}
	s.deliverEffects(ctx, rule.ID, snap, effects)

	success := execErr == nil && persistErr == nil
	errMsg := ""
	switch {
	case execErr != nil:
		errMsg = execErr.Error()
	case persistErr != nil:
		errMsg = fmt.Sprintf("persist: %v", persistErr)
	}
	if success {
		appmetrics.AddActionsExecuted(len(actions))
	} else {
		appmetrics.IncRuleFailed()
		span.RecordError(fmt.Errorf("%s", errMsg))
	}

	s.recordExecution(ctx, rule, snap.ID, trigger, true, success, errMsg)
	s.touchRule(ctx, rule)

	if execErr != nil {
		return true, execErr
	}
	return true, persistErr
}

// Sweep 单轮时间扫描：对每张未关闭工单触发 time_elapsed。
// 没有生效的时间型规则时直接跳过，避免空扫。
func (s *AutomationService) Sweep(ctx context.Context) error {
	var ruleCount int64
	if err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("trigger = ? AND active = ?", models.TriggerTimeElapsed, true).
		Count(&ruleCount).Error; err != nil {
		return fmt.Errorf("count time rules: %w", err)
	}
	if ruleCount == 0 {
		return nil
	}

	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("status IN ?", models.OpenStatuses()).
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("load open tickets: %w", err)
	}
	for _, id := range ids {
		if err := s.HandleTrigger(ctx, models.TriggerTimeElapsed, id); err != nil {
			s.logger.Warnf("Time sweep for ticket %d: %v", id, err)
		}
	}
	return nil
}

// StartSweep 周期跑 Sweep，直到 ctx 取消
func (s *AutomationService) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infof("Automation time sweep started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Automation time sweep stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Errorf("Automation time sweep: %v", err)
			}
		}
	}
}

// TestRule 对指定工单试跑规则：求值条件并返回将要执行的动作，不落任何改动
func (s *AutomationService) TestRule(ctx context.Context, ruleID, ticketID uint) (*RuleTestResult, error) {
	ctx, span := s.tracer.Start(ctx, "automation.test_rule")
	defer span.End()

	rule, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	snap, err := s.loadState(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	tree, err := automation.ParseConditions(rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("parse conditions: %w", err)
	}
	actions, err := automation.ParseActions(rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}

	facts := automation.NewFacts(snap, s.categoryLookup())
	result := &RuleTestResult{Matched: s.evaluator.Evaluate(ctx, tree, facts)}
	if result.Matched {
		result.Actions = actions
	}
	return result, nil
}

// CreateRule 创建规则：触发器、条件树叶子类型、动作类型都要先过注册表
func (s *AutomationService) CreateRule(ctx context.Context, req *RuleCreateRequest) (*models.AutomationRule, error) {
	ctx, span := s.tracer.Start(ctx, "automation.create_rule")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", req.Trigger))

	if !models.SupportedTrigger(req.Trigger) {
		return nil, fmt.Errorf("unsupported trigger %q", req.Trigger)
	}
	condJSON, err := s.validateConditions(req.Conditions)
	if err != nil {
		return nil, err
	}
	actJSON, err := s.validateActions(req.Actions)
	if err != nil {
		return nil, err
	}

	rule := &models.AutomationRule{
		Name:           req.Name,
		Trigger:        req.Trigger,
		Conditions:     condJSON,
		Actions:        actJSON,
		Priority:       req.Priority,
		StopProcessing: req.StopProcessing,
		Active:         true,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.logger.Infof("Created automation rule %d (%s) on %s", rule.ID, rule.Name, rule.Trigger)
	return rule, nil
}

// GetRule 按 ID 取规则
func (s *AutomationService) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("rule %d not found", id)
		}
		return nil, fmt.Errorf("load rule: %w", err)
	}
	return &rule, nil
}

// ListRules 分页查询规则，按执行顺序排列
func (s *AutomationService) ListRules(ctx context.Context, req *RuleListRequest) ([]models.AutomationRule, int64, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	if req.Trigger != "" {
		query = query.Where("trigger = ?", req.Trigger)
	}
	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count rules: %w", err)
	}

	var rules []models.AutomationRule
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("priority DESC, id ASC").Offset(offset).Limit(req.PageSize).Find(&rules).Error; err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}
	return rules, total, nil
}

// UpdateRule 更新规则，改动的部分重新过校验
func (s *AutomationService) UpdateRule(ctx context.Context, id uint, req *RuleUpdateRequest) (*models.AutomationRule, error) {
	ctx, span := s.tracer.Start(ctx, "automation.update_rule")
	defer span.End()
	span.SetAttributes(attribute.Int64("rule_id", int64(id)))

	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Trigger != nil {
		if !models.SupportedTrigger(*req.Trigger) {
			return nil, fmt.Errorf("unsupported trigger %q", *req.Trigger)
		}
		updates["trigger"] = *req.Trigger
	}
	if req.Conditions != nil {
		condJSON, err := s.validateConditions(req.Conditions)
		if err != nil {
			return nil, err
		}
		updates["conditions"] = condJSON
	}
	if req.Actions != nil {
		actJSON, err := s.validateActions(req.Actions)
		if err != nil {
			return nil, err
		}
		updates["actions"] = actJSON
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.StopProcessing != nil {
		updates["stop_processing"] = *req.StopProcessing
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(rule).Updates(updates).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("update rule: %w", err)
		}
	}
	return rule, nil
}

// DeleteRule 删除规则，审计行保留
func (s *AutomationService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule %d not found", id)
	}
	return nil
}

// ListExecutions 分页查询执行审计
func (s *AutomationService) ListExecutions(ctx context.Context, req *ExecutionListRequest) ([]models.AutomationExecution, int64, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.AutomationExecution{})
	if req.RuleID != nil {
		query = query.Where("rule_id = ?", *req.RuleID)
	}
	if req.TicketID != nil {
		query = query.Where("ticket_id = ?", *req.TicketID)
	}
	if req.Matched != nil {
		query = query.Where("matched = ?", *req.Matched)
	}
	if req.Success != nil {
		query = query.Where("success = ?", *req.Success)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	var items []models.AutomationExecution
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	return items, total, nil
}

// loadState 把工单读成引擎用的状态快照
func (s *AutomationService) loadState(ctx context.Context, ticketID uint) (*automation.TicketState, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).
		Preload("Categories").
		Preload("Tags").
		First(&ticket, ticketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ticket %d not found", ticketID)
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}

	snap := &automation.TicketState{
		ID:                 ticket.ID,
		Type:               ticket.Type,
		Status:             ticket.Status,
		Priority:           ticket.Priority,
		OpenerID:           ticket.OpenerID,
		AssigneeID:         ticket.AssigneeID,
		TeamID:             ticket.TeamID,
		OpenedAt:           ticket.CreatedAt,
		UpdatedAt:          ticket.UpdatedAt,
		FirstResponseDueAt: ticket.FirstResponseDueAt,
		ResolutionDueAt:    ticket.ResolutionDueAt,
		Metadata:           ticket.DecodeMetadata(),
	}
	for _, c := range ticket.Categories {
		snap.CategoryIDs = append(snap.CategoryIDs, c.ID)
	}
	for _, t := range ticket.Tags {
		snap.Tags = append(snap.Tags, t.Name)
	}

	// 最近一条公开评论时间，活跃度断言的回退口径
	var lastPublic time.Time
	row := s.db.WithContext(ctx).Model(&models.TicketComment{}).
		Where("ticket_id = ? AND internal = ?", ticketID, false).
		Select("MAX(created_at)").Row()
	if row != nil {
		var t *time.Time
		if err := row.Scan(&t); err == nil && t != nil {
			lastPublic = *t
			snap.LastPublicCommentAt = &lastPublic
		}
	}
	return snap, nil
}

// persist 把快照与数据库的差异写回：标量列、元数据、标签、分类，
// 状态变化时附带历史行、时间戳和负载计数。
func (s *AutomationService) persist(ctx context.Context, snap *automation.TicketState) error {
	var current models.Ticket
	if err := s.db.WithContext(ctx).
		Preload("Categories").
		Preload("Tags").
		First(&current, snap.ID).Error; err != nil {
		return fmt.Errorf("reload ticket: %w", err)
	}

	updates := make(map[string]interface{})
	now := time.Now()

	statusChanged := snap.Status != current.Status
	if statusChanged {
		updates["status"] = snap.Status
		switch snap.Status {
		case models.StatusResolved:
			updates["resolved_at"] = &now
		case models.StatusClosed:
			updates["closed_at"] = &now
			if current.ResolvedAt == nil {
				updates["resolved_at"] = &now
			}
		case models.StatusOpen:
			if current.Status == models.StatusResolved {
				updates["resolved_at"] = nil
			}
		}
	}
	if snap.Priority != current.Priority {
		updates["priority"] = snap.Priority
	}
	if !uintPtrEqual(snap.AssigneeID, current.AssigneeID) {
		updates["assignee_id"] = snap.AssigneeID
	}
	if !uintPtrEqual(snap.TeamID, current.TeamID) {
		updates["team_id"] = snap.TeamID
	}
	if !timePtrEqual(snap.FirstResponseDueAt, current.FirstResponseDueAt) {
		updates["first_response_due_at"] = snap.FirstResponseDueAt
	}
	if !timePtrEqual(snap.ResolutionDueAt, current.ResolutionDueAt) {
		updates["resolution_due_at"] = snap.ResolutionDueAt
	}

	metaJSON := current.Metadata
	if err := current.EncodeMetadata(snap.Metadata); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if current.Metadata != metaJSON {
		updates["metadata"] = current.Metadata
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&models.Ticket{}).Where("id = ?", snap.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("update ticket: %w", err)
			}
		}

		// 负载计数跟着状态与指派走
		if statusChanged && snap.AssigneeID != nil && uintPtrEqual(snap.AssigneeID, current.AssigneeID) {
			wasOpen := statusCountsAsLoad(current.Status)
			isOpen := statusCountsAsLoad(snap.Status)
			if wasOpen && !isOpen {
				if err := adjustOpenLoad(tx, *snap.AssigneeID, -1); err != nil {
					return err
				}
			} else if !wasOpen && isOpen {
				if err := adjustOpenLoad(tx, *snap.AssigneeID, +1); err != nil {
					return err
				}
			}
		}
		if !uintPtrEqual(snap.AssigneeID, current.AssigneeID) && statusCountsAsLoad(snap.Status) {
			if current.AssigneeID != nil {
				if err := adjustOpenLoad(tx, *current.AssigneeID, -1); err != nil {
					return err
				}
			}
			if snap.AssigneeID != nil {
				if err := adjustOpenLoad(tx, *snap.AssigneeID, +1); err != nil {
					return err
				}
			}
		}

		if statusChanged {
			change := &models.TicketStatusChange{
				TicketID:   snap.ID,
				FromStatus: current.Status,
				ToStatus:   snap.Status,
				Note:       "automation",
			}
			if err := tx.Create(change).Error; err != nil {
				return fmt.Errorf("record status change: %w", err)
			}
		}

		if err := s.syncTags(tx, &current, snap.Tags); err != nil {
			return err
		}
		return s.syncCategories(tx, &current, snap.CategoryIDs)
	})
	return err
}

// syncTags 让工单的标签集合与快照一致
func (s *AutomationService) syncTags(tx *gorm.DB, ticket *models.Ticket, want []string) error {
	have := make(map[string]models.Tag, len(ticket.Tags))
	for _, t := range ticket.Tags {
		have[t.Name] = t
	}
	wanted := make(map[string]bool, len(want))
	for _, name := range want {
		wanted[automation.NormalizeTag(name)] = true
	}

	var toRemove []models.Tag
	for name, tag := range have {
		if !wanted[name] {
			toRemove = append(toRemove, tag)
		}
	}
	if len(toRemove) > 0 {
		if err := tx.Model(ticket).Association("Tags").Delete(&toRemove); err != nil {
			return fmt.Errorf("detach tags: %w", err)
		}
	}

	var toAdd []models.Tag
	for name := range wanted {
		if name == "" {
			continue
		}
		if _, ok := have[name]; ok {
			continue
		}
		var tag models.Tag
		err := tx.Where("name = ?", name).First(&tag).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			tag = models.Tag{Name: name}
			if err := tx.Create(&tag).Error; err != nil {
				return fmt.Errorf("create tag %q: %w", name, err)
			}
		} else if err != nil {
			return fmt.Errorf("load tag %q: %w", name, err)
		}
		toAdd = append(toAdd, tag)
	}
	if len(toAdd) > 0 {
		if err := tx.Model(ticket).Association("Tags").Append(&toAdd); err != nil {
			return fmt.Errorf("attach tags: %w", err)
		}
	}
	return nil
}

// syncCategories 让工单的分类集合与快照一致
func (s *AutomationService) syncCategories(tx *gorm.DB, ticket *models.Ticket, want []uint) error {
	have := make(map[uint]bool, len(ticket.Categories))
	for _, c := range ticket.Categories {
		have[c.ID] = true
	}
	wanted := make(map[uint]bool, len(want))
	for _, id := range want {
		wanted[id] = true
	}

	var toRemove []models.Category
	for _, c := range ticket.Categories {
		if !wanted[c.ID] {
			toRemove = append(toRemove, c)
		}
	}
	if len(toRemove) > 0 {
		if err := tx.Model(ticket).Association("Categories").Delete(&toRemove); err != nil {
			return fmt.Errorf("detach categories: %w", err)
		}
	}

	var addIDs []uint
	for id := range wanted {
		if !have[id] {
			addIDs = append(addIDs, id)
		}
	}
	if len(addIDs) > 0 {
		var rows []models.Category
		if err := tx.Find(&rows, addIDs).Error; err != nil {
			return fmt.Errorf("load categories: %w", err)
		}
		if err := tx.Model(ticket).Association("Categories").Append(&rows); err != nil {
			return fmt.Errorf("attach categories: %w", err)
		}
	}
	return nil
}

// deliverEffects 把执行器返回的副作用逐个投递。投递失败记日志，不反悔已成功的动作。
func (s *AutomationService) deliverEffects(ctx context.Context, ruleID uint, snap *automation.TicketState, effects []automation.Effect) {
	if len(effects) == 0 {
		return
	}
	// 收件人解析只需要这几列
	shim := &models.Ticket{
		ID:         snap.ID,
		OpenerID:   snap.OpenerID,
		AssigneeID: snap.AssigneeID,
	}

	for _, eff := range effects {
		switch e := eff.(type) {
		case automation.NotifyEffect:
			if s.notifications == nil {
				continue
			}
			if _, err := s.notifications.NotifyForTicket(ctx, shim, e.Recipient, "automation", e.Subject, e.Message); err != nil {
				s.logger.Errorf("Deliver notify effect for ticket %d: %v", snap.ID, err)
				continue
			}

		case automation.NoteEffect:
			comment := &models.TicketComment{
				TicketID: snap.ID,
				AuthorID: nil, // 系统
				Body:     e.Body,
				Internal: true,
			}
			if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
				s.logger.Errorf("Deliver note effect for ticket %d: %v", snap.ID, err)
				continue
			}

		case automation.EscalationEffect:
			if s.notifications != nil && snap.AssigneeID != nil {
				subject := fmt.Sprintf("Ticket #%d escalated to %s", snap.ID, e.ToPriority)
				body := fmt.Sprintf("Escalation level %d: priority raised from %s to %s.", e.Level, e.FromPriority, e.ToPriority)
				if _, err := s.notifications.Create(ctx, *snap.AssigneeID, snap.ID, "escalation", subject, body); err != nil {
					s.logger.Errorf("Deliver escalation effect for ticket %d: %v", snap.ID, err)
					continue
				}
			}

		case automation.FollowUpEffect:
			if s.scheduler == nil {
				continue
			}
			if _, err := s.scheduler.Schedule(ctx, snap.ID, ruleID, e.DelayMinutes, e.Note); err != nil {
				s.logger.Errorf("Deliver follow-up effect for ticket %d: %v", snap.ID, err)
				continue
			}

		default:
			s.logger.Warnf("Unknown effect kind %q for ticket %d", eff.Kind(), snap.ID)
			continue
		}
		appmetrics.IncEffectDelivered(eff.Kind())
	}
}

// recordExecution 写一行审计，带条件与动作快照
func (s *AutomationService) recordExecution(ctx context.Context, rule *models.AutomationRule, ticketID uint, trigger string, matched, success bool, errMsg string) {
	exec := &models.AutomationExecution{
		RuleID:     rule.ID,
		TicketID:   ticketID,
		Trigger:    trigger,
		Conditions: rule.Conditions,
		Actions:    rule.Actions,
		Matched:    matched,
		Success:    success,
		Error:      errMsg,
	}
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		s.logger.Warnf("Record execution of rule %d: %v", rule.ID, err)
	}
}

// touchRule 更新规则的最近执行时间与执行计数
func (s *AutomationService) touchRule(ctx context.Context, rule *models.AutomationRule) {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(rule).Updates(map[string]interface{}{
		"last_executed_at": &now,
		"execution_count":  gorm.Expr("execution_count + 1"),
	}).Error; err != nil {
		s.logger.Warnf("Touch rule %d: %v", rule.ID, err)
	}
}

// validateConditions 校验条件树并返回存储用 JSON。空树表示无条件命中。
func (s *AutomationService) validateConditions(conditions map[string]interface{}) (string, error) {
	if len(conditions) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(conditions)
	if err != nil {
		return "", fmt.Errorf("encode conditions: %w", err)
	}
	tree, err := automation.ParseConditions(string(raw))
	if err != nil {
		return "", fmt.Errorf("invalid conditions: %w", err)
	}
	if err := s.validateTree(tree); err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *AutomationService) validateTree(tree *automation.ConditionTree) error {
	if tree == nil || tree.Empty() {
		return nil
	}
	if tree.Operator != automation.OperatorAnd && tree.Operator != automation.OperatorOr {
		return fmt.Errorf("unknown group operator %q", tree.Operator)
	}
	for i, spec := range tree.Rules {
		if sub := spec.Subtree(); sub != nil {
			if err := s.validateTree(sub); err != nil {
				return err
			}
			continue
		}
		condType := spec.Type()
		if condType == "" {
			return fmt.Errorf("condition %d is missing a type", i+1)
		}
		if !s.evaluator.Registered(condType) {
			return fmt.Errorf("unknown condition type %q", condType)
		}
	}
	return nil
}

// validateActions 校验动作列表并返回存储用 JSON
func (s *AutomationService) validateActions(actions []map[string]interface{}) (string, error) {
	if len(actions) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("encode actions: %w", err)
	}
	parsed, err := automation.ParseActions(string(raw))
	if err != nil {
		return "", fmt.Errorf("invalid actions: %w", err)
	}
	for i, spec := range parsed {
		actType := spec.Type()
		if actType == "" {
			return "", fmt.Errorf("action %d is missing a type", i+1)
		}
		if !s.executor.Registered(actType) {
			return "", fmt.Errorf("unknown action type %q", actType)
		}
	}
	return string(raw), nil
}

// categoryLookup 避免把 nil 指针塞进接口
func (s *AutomationService) categoryLookup() automation.CategoryLookup {
	if s.categories == nil {
		return nil
	}
	return s.categories
}

func uintPtrEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
