package services

import (
	"context"
	"testing"

	"deskify/internal/automation"
	"deskify/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newAutomationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.TeamMember{},
		&models.Category{},
		&models.Tag{},
		&models.Ticket{},
		&models.TicketComment{},
		&models.TicketStatusChange{},
		&models.TicketSubscription{},
		&models.SLAPolicy{},
		&models.Notification{},
		&models.FollowUp{},
		&models.AutomationRule{},
		&models.AutomationExecution{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newAutomationTestService(t *testing.T, db *gorm.DB, maxRules int) *AutomationService {
	logger := logrus.New()
	categories := NewCategoryService(db, logger)
	notifications := NewNotificationService(db, nil, logger)
	scheduler := NewSchedulerService(db, nil, logger)
	return NewAutomationService(db, maxRules, categories, notifications, scheduler, nil, automation.NewMemoryCursorStore(), logger)
}

func makeAutomationUser(t *testing.T, db *gorm.DB, name, role string) *models.User {
	user := &models.User{Name: name, Email: name + "@example.com", Role: role}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func makeAutomationTicket(t *testing.T, db *gorm.DB, openerID uint, priority string) *models.Ticket {
	ticket := &models.Ticket{
		Subject:  "测试工单",
		Type:     models.TypeQuestion,
		Status:   models.StatusOpen,
		Priority: priority,
		OpenerID: openerID,
	}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestAutomationService_CreateRule(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)

	tests := []struct {
		name    string
		req     *RuleCreateRequest
		wantErr bool
	}{
		{
			name: "valid rule",
			req: &RuleCreateRequest{
				Name:    "高优先级打标",
				Trigger: models.TriggerTicketCreated,
				Conditions: map[string]interface{}{
					"operator": "and",
					"rules": []map[string]interface{}{
						{"type": "priority", "operator": "equals", "value": "high"},
					},
				},
				Actions: []map[string]interface{}{
					{"type": "add_tags", "tags": []string{"urgent-queue"}},
				},
				Priority: 10,
			},
			wantErr: false,
		},
		{
			name: "empty conditions match everything",
			req: &RuleCreateRequest{
				Name:    "无条件规则",
				Trigger: models.TriggerTicketCreated,
				Actions: []map[string]interface{}{
					{"type": "add_note", "body": "auto"},
				},
			},
			wantErr: false,
		},
		{
			name: "nested condition group",
			req: &RuleCreateRequest{
				Name:    "嵌套条件",
				Trigger: models.TriggerTicketUpdated,
				Conditions: map[string]interface{}{
					"operator": "and",
					"rules": []map[string]interface{}{
						{"type": "status", "operator": "equals", "value": "open"},
						{
							"operator": "or",
							"rules": []map[string]interface{}{
								{"type": "priority", "operator": "equals", "value": "high"},
								{"type": "has_tags", "tags": []string{"vip"}},
							},
						},
					},
				},
			},
			wantErr: false,
		},
		{
			name: "unsupported trigger",
			req: &RuleCreateRequest{
				Name:    "无效触发器",
				Trigger: "ticket_deleted",
			},
			wantErr: true,
		},
		{
			name: "unknown condition type",
			req: &RuleCreateRequest{
				Name:    "未知条件",
				Trigger: models.TriggerTicketCreated,
				Conditions: map[string]interface{}{
					"operator": "and",
					"rules": []map[string]interface{}{
						{"type": "moon_phase", "operator": "equals", "value": "full"},
					},
				},
			},
			wantErr: true,
		},
		{
			name: "unknown group operator",
			req: &RuleCreateRequest{
				Name:    "未知组合符",
				Trigger: models.TriggerTicketCreated,
				Conditions: map[string]interface{}{
					"operator": "xor",
					"rules": []map[string]interface{}{
						{"type": "status", "operator": "equals", "value": "open"},
					},
				},
			},
			wantErr: true,
		},
		{
			name: "unknown action type",
			req: &RuleCreateRequest{
				Name:    "未知动作",
				Trigger: models.TriggerTicketCreated,
				Actions: []map[string]interface{}{
					{"type": "launch_rocket"},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := svc.CreateRule(context.Background(), tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("CreateRule() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if rule.ID == 0 {
					t.Error("expected non-zero ID")
				}
				if !rule.Active {
					t.Error("expected rule active by default")
				}
			}
		})
	}
}

func TestAutomationService_HandleTrigger_MatchAndPersist(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityHigh)

	rule, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "高优先级处理",
		Trigger: models.TriggerTicketCreated,
		Conditions: map[string]interface{}{
			"operator": "and",
			"rules": []map[string]interface{}{
				{"type": "priority", "operator": "equals", "value": "high"},
			},
		},
		Actions: []map[string]interface{}{
			{"type": "add_tags", "tags": []string{"Urgent-Queue"}},
			{"type": "change_status", "status": "in_progress"},
			{"type": "set_metadata", "field": "lane", "value": "fast"},
		},
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketCreated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	var updated models.Ticket
	if err := db.Preload("Tags").First(&updated, ticket.ID).Error; err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if updated.Status != models.StatusInProgress {
		t.Errorf("expected status in_progress, got %s", updated.Status)
	}
	if len(updated.Tags) != 1 || updated.Tags[0].Name != "urgent-queue" {
		t.Errorf("expected normalized tag urgent-queue, got %+v", updated.Tags)
	}
	meta := updated.DecodeMetadata()
	if meta["lane"] != "fast" {
		t.Errorf("expected metadata lane=fast, got %v", meta["lane"])
	}

	var changes []models.TicketStatusChange
	db.Where("ticket_id = ?", ticket.ID).Find(&changes)
	if len(changes) != 1 || changes[0].ToStatus != models.StatusInProgress {
		t.Errorf("expected one status change to in_progress, got %+v", changes)
	}

	var execs []models.AutomationExecution
	db.Where("rule_id = ?", rule.ID).Find(&execs)
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(execs))
	}
	if !execs[0].Matched || !execs[0].Success || execs[0].Error != "" {
		t.Errorf("expected matched successful execution, got %+v", execs[0])
	}

	var reloaded models.AutomationRule
	db.First(&reloaded, rule.ID)
	if reloaded.ExecutionCount != 1 {
		t.Errorf("expected execution_count 1, got %d", reloaded.ExecutionCount)
	}
	if reloaded.LastExecutedAt == nil {
		t.Error("expected last_executed_at to be set")
	}
}

func TestAutomationService_HandleTrigger_StopProcessing(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)

	// 高优先级规则命中且带 stop_processing，低优先级规则不应执行
	first, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:           "先手规则",
		Trigger:        models.TriggerTicketCreated,
		Actions:        []map[string]interface{}{{"type": "add_tags", "tags": []string{"first"}}},
		Priority:       100,
		StopProcessing: true,
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	second, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:     "后手规则",
		Trigger:  models.TriggerTicketCreated,
		Actions:  []map[string]interface{}{{"type": "add_tags", "tags": []string{"second"}}},
		Priority: 50,
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketCreated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	var updated models.Ticket
	db.Preload("Tags").First(&updated, ticket.ID)
	if len(updated.Tags) != 1 || updated.Tags[0].Name != "first" {
		t.Errorf("expected only tag first, got %+v", updated.Tags)
	}

	var execs []models.AutomationExecution
	db.Order("id ASC").Find(&execs)
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(execs))
	}
	if execs[0].RuleID != first.ID {
		t.Errorf("expected execution for rule %d, got %d", first.ID, execs[0].RuleID)
	}

	var late models.AutomationRule
	db.First(&late, second.ID)
	if late.ExecutionCount != 0 {
		t.Errorf("expected second rule never executed, got count %d", late.ExecutionCount)
	}
}

func TestAutomationService_HandleTrigger_FailureDoesNotAbortSiblings(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)

	// webhook caller 未配置，先手规则注定失败
	failing, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:     "必败规则",
		Trigger:  models.TriggerTicketCreated,
		Actions:  []map[string]interface{}{{"type": "webhook", "url": "http://example.com/hook"}},
		Priority: 100,
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	surviving, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:     "幸存规则",
		Trigger:  models.TriggerTicketCreated,
		Actions:  []map[string]interface{}{{"type": "add_tags", "tags": []string{"survivor"}}},
		Priority: 50,
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketCreated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	var updated models.Ticket
	db.Preload("Tags").First(&updated, ticket.ID)
	if len(updated.Tags) != 1 || updated.Tags[0].Name != "survivor" {
		t.Errorf("expected surviving rule to run, got tags %+v", updated.Tags)
	}

	var failExec models.AutomationExecution
	if err := db.Where("rule_id = ?", failing.ID).First(&failExec).Error; err != nil {
		t.Fatalf("load failing execution: %v", err)
	}
	if !failExec.Matched || failExec.Success || failExec.Error == "" {
		t.Errorf("expected matched failed execution with error, got %+v", failExec)
	}

	var okExec models.AutomationExecution
	if err := db.Where("rule_id = ?", surviving.ID).First(&okExec).Error; err != nil {
		t.Fatalf("load surviving execution: %v", err)
	}
	if !okExec.Matched || !okExec.Success {
		t.Errorf("expected matched successful execution, got %+v", okExec)
	}
}

func TestAutomationService_HandleTrigger_UnmatchedRuleAudited(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityLow)

	rule, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "只认紧急",
		Trigger: models.TriggerTicketCreated,
		Conditions: map[string]interface{}{
			"operator": "and",
			"rules": []map[string]interface{}{
				{"type": "priority", "operator": "equals", "value": "urgent"},
			},
		},
		Actions: []map[string]interface{}{{"type": "add_tags", "tags": []string{"never"}}},
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketCreated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	var exec models.AutomationExecution
	if err := db.Where("rule_id = ?", rule.ID).First(&exec).Error; err != nil {
		t.Fatalf("load execution: %v", err)
	}
	if exec.Matched || !exec.Success || exec.Error != "" {
		t.Errorf("expected unmatched clean execution record, got %+v", exec)
	}

	var reloaded models.AutomationRule
	db.First(&reloaded, rule.ID)
	if reloaded.ExecutionCount != 0 {
		t.Errorf("expected execution_count 0 for unmatched rule, got %d", reloaded.ExecutionCount)
	}
}

func TestAutomationService_HandleTrigger_RuleCap(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 2)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)

	for i, tag := range []string{"one", "two", "three"} {
		_, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
			Name:     "规则" + tag,
			Trigger:  models.TriggerTicketCreated,
			Actions:  []map[string]interface{}{{"type": "add_tags", "tags": []string{tag}}},
			Priority: 100 - i, // one > two > three
		})
		if err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketCreated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	var execs []models.AutomationExecution
	db.Find(&execs)
	if len(execs) != 2 {
		t.Fatalf("expected cap to limit run to 2 executions, got %d", len(execs))
	}

	var updated models.Ticket
	db.Preload("Tags").First(&updated, ticket.ID)
	names := map[string]bool{}
	for _, tag := range updated.Tags {
		names[tag.Name] = true
	}
	if !names["one"] || !names["two"] || names["three"] {
		t.Errorf("expected tags one and two only, got %+v", names)
	}
}

func TestAutomationService_HandleTrigger_EffectDelivery(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	agent := makeAutomationUser(t, db, "agent", models.RoleAgent)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)
	db.Model(ticket).Update("assignee_id", agent.ID)

	rule, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "全套副作用",
		Trigger: models.TriggerTicketUpdated,
		Actions: []map[string]interface{}{
			{"type": "notify", "recipient": "opener", "subject": "进度更新", "message": "您的工单有新进展"},
			{"type": "add_note", "body": "自动备注"},
			{"type": "schedule_followup", "delay_minutes": 30, "note": "回访客户"},
			{"type": "escalate", "level": 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketUpdated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	// notify -> 开单人收到 automation 通知
	var notices []models.Notification
	db.Where("recipient_id = ? AND kind = ?", opener.ID, "automation").Find(&notices)
	if len(notices) != 1 || notices[0].Subject != "进度更新" {
		t.Errorf("expected opener automation notification, got %+v", notices)
	}

	// add_note -> 系统内部评论
	var comments []models.TicketComment
	db.Where("ticket_id = ?", ticket.ID).Find(&comments)
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
	if comments[0].AuthorID != nil || !comments[0].Internal || comments[0].Body != "自动备注" {
		t.Errorf("expected internal system note, got %+v", comments[0])
	}

	// schedule_followup -> pending 回访
	var followUps []models.FollowUp
	db.Where("ticket_id = ?", ticket.ID).Find(&followUps)
	if len(followUps) != 1 || followUps[0].Status != "pending" || followUps[0].RuleID != rule.ID {
		t.Errorf("expected pending follow-up from rule, got %+v", followUps)
	}

	// escalate -> 优先级提升 + 受理人升级通知 + 元数据戳
	var updated models.Ticket
	db.First(&updated, ticket.ID)
	if updated.Priority != models.PriorityHigh {
		t.Errorf("expected priority escalated to high, got %s", updated.Priority)
	}
	meta := updated.DecodeMetadata()
	if meta["escalated_at"] == nil {
		t.Error("expected escalated_at metadata stamp")
	}
	var escalations []models.Notification
	db.Where("recipient_id = ? AND kind = ?", agent.ID, "escalation").Find(&escalations)
	if len(escalations) != 1 {
		t.Errorf("expected escalation notification for assignee, got %d", len(escalations))
	}
}

func TestAutomationService_TestRuleDryRun(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityHigh)

	rule, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "试跑规则",
		Trigger: models.TriggerTicketCreated,
		Conditions: map[string]interface{}{
			"operator": "and",
			"rules": []map[string]interface{}{
				{"type": "priority", "operator": "equals", "value": "high"},
			},
		},
		Actions: []map[string]interface{}{{"type": "add_tags", "tags": []string{"dry"}}},
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	result, err := svc.TestRule(context.Background(), rule.ID, ticket.ID)
	if err != nil {
		t.Fatalf("TestRule failed: %v", err)
	}
	if !result.Matched {
		t.Error("expected rule to match")
	}
	if len(result.Actions) != 1 || result.Actions[0].Type() != "add_tags" {
		t.Errorf("expected would-run add_tags action, got %+v", result.Actions)
	}

	// 试跑不落任何改动
	var updated models.Ticket
	db.Preload("Tags").First(&updated, ticket.ID)
	if len(updated.Tags) != 0 {
		t.Errorf("dry run must not persist tags, got %+v", updated.Tags)
	}
	var count int64
	db.Model(&models.AutomationExecution{}).Count(&count)
	if count != 0 {
		t.Errorf("dry run must not record executions, got %d", count)
	}
}

func TestAutomationService_UpdateAndDeleteRule(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)

	rule, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "待维护规则",
		Trigger: models.TriggerTicketCreated,
	})
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	newPriority := 42
	inactive := false
	if _, err := svc.UpdateRule(context.Background(), rule.ID, &RuleUpdateRequest{
		Priority: &newPriority,
		Active:   &inactive,
	}); err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}

	var reloaded models.AutomationRule
	db.First(&reloaded, rule.ID)
	if reloaded.Priority != 42 || reloaded.Active {
		t.Errorf("expected priority 42 inactive, got %+v", reloaded)
	}

	badTrigger := "no_such_event"
	if _, err := svc.UpdateRule(context.Background(), rule.ID, &RuleUpdateRequest{Trigger: &badTrigger}); err == nil {
		t.Error("expected error for unsupported trigger")
	}

	if err := svc.DeleteRule(context.Background(), rule.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if err := svc.DeleteRule(context.Background(), rule.ID); err == nil {
		t.Error("expected error deleting missing rule")
	}
}

func TestAutomationService_InactiveRuleSkipped(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)

	off := false
	if _, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "停用规则",
		Trigger: models.TriggerTicketCreated,
		Actions: []map[string]interface{}{{"type": "add_tags", "tags": []string{"ghost"}}},
		Active:  &off,
	}); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketCreated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	var count int64
	db.Model(&models.AutomationExecution{}).Count(&count)
	if count != 0 {
		t.Errorf("inactive rule must not run, got %d executions", count)
	}
}

func TestAutomationService_ListRulesAndExecutions(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	ticket := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)

	low, _ := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:     "低优先级",
		Trigger:  models.TriggerTicketCreated,
		Priority: 1,
	})
	high, _ := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:     "高优先级",
		Trigger:  models.TriggerTicketCreated,
		Priority: 9,
	})
	_, _ = svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "其他触发器",
		Trigger: models.TriggerCommentAdded,
	})

	rules, total, err := svc.ListRules(context.Background(), &RuleListRequest{Page: 1, PageSize: 10, Trigger: models.TriggerTicketCreated})
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if total != 2 || len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d (total %d)", len(rules), total)
	}
	if rules[0].ID != high.ID || rules[1].ID != low.ID {
		t.Error("expected rules ordered by priority DESC")
	}

	if err := svc.HandleTrigger(context.Background(), models.TriggerTicketCreated, ticket.ID); err != nil {
		t.Fatalf("HandleTrigger failed: %v", err)
	}

	matched := true
	execs, total, err := svc.ListExecutions(context.Background(), &ExecutionListRequest{
		Page: 1, PageSize: 10, TicketID: &ticket.ID, Matched: &matched,
	})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if total != 2 || len(execs) != 2 {
		t.Errorf("expected 2 matched executions, got %d (total %d)", len(execs), total)
	}

	ruleFilter := high.ID
	execs, _, err = svc.ListExecutions(context.Background(), &ExecutionListRequest{
		Page: 1, PageSize: 10, RuleID: &ruleFilter,
	})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(execs) != 1 || execs[0].RuleID != high.ID {
		t.Errorf("expected execution for rule %d, got %+v", high.ID, execs)
	}
}

func TestAutomationService_Sweep(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	opener := makeAutomationUser(t, db, "opener", models.RoleCustomer)
	open := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)
	closed := makeAutomationTicket(t, db, opener.ID, models.PriorityNormal)
	db.Model(closed).Update("status", models.StatusClosed)

	// 没有时间型规则时不扫描
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	var count int64
	db.Model(&models.AutomationExecution{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no executions without time rules, got %d", count)
	}

	if _, err := svc.CreateRule(context.Background(), &RuleCreateRequest{
		Name:    "闲置打标",
		Trigger: models.TriggerTimeElapsed,
		Actions: []map[string]interface{}{{"type": "add_tags", "tags": []string{"stale"}}},
	}); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	var execs []models.AutomationExecution
	db.Find(&execs)
	if len(execs) != 1 {
		t.Fatalf("expected sweep to hit only the open ticket, got %d executions", len(execs))
	}
	if execs[0].TicketID != open.ID {
		t.Errorf("expected execution for open ticket %d, got %d", open.ID, execs[0].TicketID)
	}
}

func TestAutomationService_HandleTrigger_UnsupportedTrigger(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newAutomationTestService(t, db, 10)
	if err := svc.HandleTrigger(context.Background(), "no_such_trigger", 1); err == nil {
		t.Fatal("expected error for unsupported trigger")
	}
}
