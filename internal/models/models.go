package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// 用户角色
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// 用户模型（客户与客服共用）
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Role      string         `gorm:"default:'customer'" json:"role"` // customer, agent, admin
	OpenLoad  int            `gorm:"default:0" json:"open_load"`     // 当前指派的未关闭工单数
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 客服团队
type Team struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"unique;not null" json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Members []TeamMember `gorm:"foreignKey:TeamID" json:"members,omitempty"`
}

// 团队成员，ID 顺序即轮询指派顺序
type TeamMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    uint      `gorm:"index;uniqueIndex:idx_team_user" json:"team_id"`
	UserID    uint      `gorm:"index;uniqueIndex:idx_team_user" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// 工单分类，ParentID 构成层级树
type Category struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	ParentID  *uint          `gorm:"index" json:"parent_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Parent   *Category  `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	Children []Category `gorm:"foreignKey:ParentID" json:"children,omitempty"`
}

// 标签，名称统一小写
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// 工单模型
type Ticket struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Subject            string         `gorm:"not null" json:"subject"`
	Description        string         `gorm:"type:text" json:"description"`
	Type               string         `gorm:"default:'question';index" json:"type"`   // question, incident, problem, task
	Status             string         `gorm:"default:'open';index" json:"status"`     // open, in_progress, on_hold, resolved, closed
	Priority           string         `gorm:"default:'normal';index" json:"priority"` // low, normal, high, urgent
	OpenerID           uint           `gorm:"index" json:"opener_id"`
	AssigneeID         *uint          `gorm:"index" json:"assignee_id"`
	TeamID             *uint          `gorm:"index" json:"team_id"`
	Metadata           string         `gorm:"type:text" json:"metadata"` // JSON 对象，自由键值
	FirstResponseDueAt *time.Time     `json:"first_response_due_at"`
	ResolutionDueAt    *time.Time     `json:"resolution_due_at"`
	FirstRespondedAt   *time.Time     `json:"first_responded_at"`
	ResolvedAt         *time.Time     `json:"resolved_at"`
	ClosedAt           *time.Time     `json:"closed_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联关系
	Opener        User                 `gorm:"foreignKey:OpenerID" json:"opener,omitempty"`
	Assignee      *User                `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Team          *Team                `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	Categories    []Category           `gorm:"many2many:ticket_categories" json:"categories,omitempty"`
	Tags          []Tag                `gorm:"many2many:ticket_tags" json:"tags,omitempty"`
	Comments      []TicketComment      `gorm:"foreignKey:TicketID" json:"comments,omitempty"`
	StatusHistory []TicketStatusChange `gorm:"foreignKey:TicketID" json:"status_history,omitempty"`
	Subscriptions []TicketSubscription `gorm:"foreignKey:TicketID" json:"subscriptions,omitempty"`
}

// DecodeMetadata 解析元数据 JSON，空串或坏数据返回空 map
func (t *Ticket) DecodeMetadata() map[string]interface{} {
	out := make(map[string]interface{})
	if t.Metadata == "" {
		return out
	}
	if err := json.Unmarshal([]byte(t.Metadata), &out); err != nil {
		return make(map[string]interface{})
	}
	return out
}

// EncodeMetadata 序列化元数据写回工单
func (t *Ticket) EncodeMetadata(m map[string]interface{}) error {
	if len(m) == 0 {
		t.Metadata = ""
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	t.Metadata = string(raw)
	return nil
}

// 工单评论，Internal 为内部备注（客户不可见）
type TicketComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	AuthorID  *uint     `gorm:"index" json:"author_id"` // 空表示系统/自动化
	Body      string    `gorm:"type:text;not null" json:"body"`
	Internal  bool      `gorm:"default:false;index" json:"internal"`
	CreatedAt time.Time `json:"created_at"`

	Author *User `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
}

// 工单状态变更历史
type TicketStatusChange struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"index" json:"ticket_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Note       string    `json:"note"`
	ActorID    *uint     `json:"actor_id"` // 空表示系统/自动化
	CreatedAt  time.Time `json:"created_at"`
}

// 工单订阅者（notify recipient=subscribers 的收件组）
type TicketSubscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index;uniqueIndex:idx_ticket_subscriber" json:"ticket_id"`
	UserID    uint      `gorm:"index;uniqueIndex:idx_ticket_subscriber" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// SLA 策略：按优先级约定响应/解决时限（分钟）
type SLAPolicy struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Priority          string    `gorm:"unique;not null" json:"priority"`
	FirstResponseMins int       `gorm:"not null" json:"first_response_mins"`
	ResolutionMins    int       `gorm:"not null" json:"resolution_mins"`
	Active            bool      `gorm:"default:true" json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// 站内通知
type Notification struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	RecipientID uint       `gorm:"index" json:"recipient_id"`
	TicketID    uint       `gorm:"index" json:"ticket_id"`
	Kind        string     `gorm:"index" json:"kind"` // automation, escalation, followup
	Subject     string     `json:"subject"`
	Body        string     `gorm:"type:text" json:"body"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// 延迟跟进任务，由调度器到期执行
type FollowUp struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	RuleID    uint      `gorm:"index" json:"rule_id"`
	RunAt     time.Time `gorm:"index" json:"run_at"`
	Note      string    `gorm:"type:text" json:"note"`
	Status    string    `gorm:"default:'pending';index" json:"status"` // pending, done, canceled
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
