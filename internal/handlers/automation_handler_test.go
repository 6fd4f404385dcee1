package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"deskify/internal/automation"
	"deskify/internal/models"
	"deskify/internal/services"
)

func newAutomationHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:automation_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
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
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newAutomationHandlerRouter(t *testing.T, db *gorm.DB) *gin.Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	categories := services.NewCategoryService(db, logger)
	notifications := services.NewNotificationService(db, nil, logger)
	scheduler := services.NewSchedulerService(db, nil, logger)
	svc := services.NewAutomationService(db, 0, categories, notifications, scheduler, nil, automation.NewMemoryCursorStore(), logger)
	h := NewAutomationHandler(svc)

	r := gin.New()
	api := r.Group("/api")
	RegisterAutomationRoutes(api, h)
	return r
}

func TestAutomationHandler_Rules_CRUD(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAutomationHandlerDB(t)
	r := newAutomationHandlerRouter(t, db)

	// Create
	w := postJSON(t, r, "/api/automation/rules", map[string]any{
		"name":    "高优先级打标",
		"trigger": "ticket_created",
		"conditions": map[string]any{
			"operator": "and",
			"rules": []map[string]any{
				{"type": "priority", "operator": "equals", "value": "high"},
			},
		},
		"actions": []map[string]any{
			{"type": "add_tags", "tags": []string{"urgent-queue"}},
		},
		"priority": 5,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var created models.AutomationRule
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v body=%s", err, w.Body.String())
	}
	if created.ID == 0 || !created.Active || created.Priority != 5 {
		t.Fatalf("unexpected rule: %+v", created)
	}

	// Get
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("/api/automation/rules/%d", created.ID), nil)
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", w2.Code, w2.Body.String())
	}

	// List
	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest(http.MethodGet, "/api/automation/rules?page=1&page_size=10", nil)
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w3.Code, w3.Body.String())
	}
	var page PaginatedResponse
	if err := json.Unmarshal(w3.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected total=1, got %d", page.Total)
	}

	// Update
	b, _ := json.Marshal(map[string]any{"name": "改名", "active": false})
	w4 := httptest.NewRecorder()
	req4, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("/api/automation/rules/%d", created.ID), bytes.NewReader(b))
	req4.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w4, req4)
	if w4.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w4.Code, w4.Body.String())
	}
	var updated models.AutomationRule
	if err := db.First(&updated, created.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if updated.Name != "改名" || updated.Active {
		t.Fatalf("update not applied: %+v", updated)
	}

	// Delete
	w5 := httptest.NewRecorder()
	req5, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("/api/automation/rules/%d", created.ID), nil)
	r.ServeHTTP(w5, req5)
	if w5.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", w5.Code, w5.Body.String())
	}
	w6 := httptest.NewRecorder()
	req6, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("/api/automation/rules/%d", created.ID), nil)
	r.ServeHTTP(w6, req6)
	if w6.Code != http.StatusNotFound {
		t.Fatalf("get deleted status=%d body=%s", w6.Code, w6.Body.String())
	}
}

func TestAutomationHandler_CreateRule_Invalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAutomationHandlerDB(t)
	r := newAutomationHandlerRouter(t, db)

	// unknown trigger
	w := postJSON(t, r, "/api/automation/rules", map[string]any{
		"name":    "bad",
		"trigger": "bogus_event",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad trigger status=%d body=%s", w.Code, w.Body.String())
	}

	// unknown action type
	w2 := postJSON(t, r, "/api/automation/rules", map[string]any{
		"name":    "bad2",
		"trigger": "ticket_created",
		"actions": []map[string]any{
			{"type": "fly_to_moon"},
		},
	})
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("bad action status=%d body=%s", w2.Code, w2.Body.String())
	}
}

func TestAutomationHandler_ListTriggers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAutomationHandlerDB(t)
	r := newAutomationHandlerRouter(t, db)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/automation/triggers", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Triggers []string `json:"triggers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Triggers) != 8 {
		t.Fatalf("expected 8 triggers, got %v", resp.Triggers)
	}
	found := false
	for _, trig := range resp.Triggers {
		if trig == models.TriggerSLABreached {
			found = true
		}
	}
	if !found {
		t.Fatalf("sla_breached missing from %v", resp.Triggers)
	}
}

func TestAutomationHandler_TestRule(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAutomationHandlerDB(t)
	r := newAutomationHandlerRouter(t, db)
	opener := seedUser(t, db, "tester", models.RoleCustomer)

	ticket := &models.Ticket{Subject: "VIP 客户投诉", OpenerID: opener.ID, Priority: models.PriorityHigh}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("seed ticket: %v", err)
	}

	matching := mustCreateRule(t, r, map[string]any{
		"name":    "命中高优先级",
		"trigger": "ticket_created",
		"conditions": map[string]any{
			"operator": "and",
			"rules": []map[string]any{
				{"type": "priority", "operator": "equals", "value": "high"},
			},
		},
		"actions": []map[string]any{
			{"type": "add_tags", "tags": []string{"escalated"}},
		},
	})
	missing := mustCreateRule(t, r, map[string]any{
		"name":    "不命中低优先级",
		"trigger": "ticket_created",
		"conditions": map[string]any{
			"operator": "and",
			"rules": []map[string]any{
				{"type": "priority", "operator": "equals", "value": "low"},
			},
		},
	})

	// dry run only, the ticket must stay untouched
	w := postJSON(t, r, fmt.Sprintf("/api/automation/rules/%d/test", matching), map[string]any{"ticket_id": ticket.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("test matching status=%d body=%s", w.Code, w.Body.String())
	}
	var result services.RuleTestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Matched || len(result.Actions) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	var count int64
	db.Model(&models.Tag{}).Count(&count)
	if count != 0 {
		t.Fatalf("test run must not create tags, found %d", count)
	}

	w2 := postJSON(t, r, fmt.Sprintf("/api/automation/rules/%d/test", missing), map[string]any{"ticket_id": ticket.ID})
	if w2.Code != http.StatusOK {
		t.Fatalf("test missing status=%d body=%s", w2.Code, w2.Body.String())
	}
	var result2 services.RuleTestResult
	if err := json.Unmarshal(w2.Body.Bytes(), &result2); err != nil {
		t.Fatalf("unmarshal result2: %v", err)
	}
	if result2.Matched {
		t.Fatalf("expected no match, got %+v", result2)
	}

	w3 := postJSON(t, r, "/api/automation/rules/9999/test", map[string]any{"ticket_id": ticket.ID})
	if w3.Code != http.StatusNotFound {
		t.Fatalf("missing rule status=%d body=%s", w3.Code, w3.Body.String())
	}

	w4 := postJSON(t, r, fmt.Sprintf("/api/automation/rules/%d/test", matching), map[string]any{"ticket_id": 9999})
	if w4.Code != http.StatusNotFound {
		t.Fatalf("missing ticket status=%d body=%s", w4.Code, w4.Body.String())
	}
}

func mustCreateRule(t *testing.T, r *gin.Engine, body map[string]any) uint {
	t.Helper()
	w := postJSON(t, r, "/api/automation/rules", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule status=%d body=%s", w.Code, w.Body.String())
	}
	var rule models.AutomationRule
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}
	return rule.ID
}

func TestAutomationHandler_ListExecutions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAutomationHandlerDB(t)
	r := newAutomationHandlerRouter(t, db)

	rows := []models.AutomationExecution{
		{RuleID: 1, TicketID: 10, Trigger: "ticket_created", Matched: true, Success: true},
		{RuleID: 1, TicketID: 11, Trigger: "ticket_created", Matched: false, Success: true},
		{RuleID: 2, TicketID: 10, Trigger: "sla_breached", Matched: true, Success: false, Error: "webhook: circuit open"},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed execution: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/automation/executions?rule_id=1", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var page PaginatedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 executions for rule 1, got %d", page.Total)
	}

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, "/api/automation/executions?success=false", nil)
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w2.Code, w2.Body.String())
	}
	var failedPage PaginatedResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &failedPage); err != nil {
		t.Fatalf("unmarshal failed page: %v", err)
	}
	if failedPage.Total != 1 {
		t.Fatalf("expected 1 failed execution, got %d", failedPage.Total)
	}
}
