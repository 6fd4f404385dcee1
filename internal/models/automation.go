package models

import "time"

// 自动化触发事件
const (
	TriggerTicketCreated       = "ticket_created"
	TriggerTicketUpdated       = "ticket_updated"
	TriggerTicketStatusChanged = "ticket_status_changed"
	TriggerTicketAssigned      = "ticket_assigned"
	TriggerCommentAdded        = "comment_added"
	TriggerTimeElapsed         = "time_elapsed" // 周期扫描
	TriggerFollowUpDue         = "followup_due"
	TriggerSLABreached         = "sla_breached"
)

// SupportedTrigger 判断事件名是否为已知触发器。
func SupportedTrigger(name string) bool {
	switch name {
	case TriggerTicketCreated, TriggerTicketUpdated, TriggerTicketStatusChanged,
		TriggerTicketAssigned, TriggerCommentAdded, TriggerTimeElapsed,
		TriggerFollowUpDue, TriggerSLABreached:
		return true
	}
	return false
}

// SupportedTriggers 返回全部触发器名称，顺序固定
func SupportedTriggers() []string {
	return []string{
		TriggerTicketCreated, TriggerTicketUpdated, TriggerTicketStatusChanged,
		TriggerTicketAssigned, TriggerCommentAdded, TriggerTimeElapsed,
		TriggerFollowUpDue, TriggerSLABreached,
	}
}

// 自动化规则：触发器 + 条件树 + 动作列表
type AutomationRule struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"not null" json:"name"`
	Trigger        string     `gorm:"not null;index" json:"trigger"`
	Conditions     string     `gorm:"type:text" json:"conditions"` // JSON: {operator, rules:[...]}
	Actions        string     `gorm:"type:text" json:"actions"`    // JSON: [{type, ...}]
	Priority       int        `gorm:"default:0;index" json:"priority"` // 数值大者先执行
	StopProcessing bool       `gorm:"default:false" json:"stop_processing"`
	Active         bool       `gorm:"default:true;index" json:"active"`
	LastExecutedAt *time.Time `json:"last_executed_at"`
	ExecutionCount int64      `gorm:"default:0" json:"execution_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// 执行审计记录，追加写入，不做更新
type AutomationExecution struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RuleID     uint      `gorm:"index" json:"rule_id"`
	TicketID   uint      `gorm:"index" json:"ticket_id"`
	Trigger    string    `gorm:"index" json:"trigger"`
	Conditions string    `gorm:"type:text" json:"conditions"` // 执行时的条件快照
	Actions    string    `gorm:"type:text" json:"actions"`    // 执行时的动作快照
	Matched    bool      `gorm:"index" json:"matched"`
	Success    bool      `gorm:"index" json:"success"`
	Error      string    `gorm:"type:text" json:"error"`
	CreatedAt  time.Time `json:"created_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}
