package main

import (
	"fmt"
	"log"
	"os"

	"deskify/internal/config"
	"deskify/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 读取配置文件（默认 ./config.yml）
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	// 连接数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	// 自动迁移所有模型
	err = db.AutoMigrate(
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
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 工单列表及 SLA 扫描的复合索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_status_created ON tickets(status, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_assignee_status ON tickets(assignee_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_opener_created ON tickets(opener_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_first_response_due ON tickets(first_response_due_at) WHERE first_responded_at IS NULL")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_resolution_due ON tickets(resolution_due_at) WHERE resolved_at IS NULL")

	// 通知未读查询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_recipient_read ON notifications(recipient_id, read_at)")

	// 调度器恢复 pending 任务
	db.Exec("CREATE INDEX IF NOT EXISTS idx_follow_ups_status_run ON follow_ups(status, run_at)")

	// 触发时按优先级取活跃规则
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_rules_trigger_active ON automation_rules(trigger, active)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_executions_rule_created ON automation_executions(rule_id, created_at)")

	log.Println("Additional indexes created successfully!")

	// 插入默认数据
	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	// 创建默认管理员用户
	var adminUser models.User
	if err := db.Where("email = ?", "admin@deskify.local").First(&adminUser).Error; err != nil {
		adminUser = models.User{
			Name:  "系统管理员",
			Email: "admin@deskify.local",
			Role:  models.RoleAdmin,
		}
		db.Create(&adminUser)
		log.Println("Created default admin user")
	}

	// 创建测试客服与客户
	var demoAgent models.User
	if err := db.Where("email = ?", "agent@deskify.local").First(&demoAgent).Error; err != nil {
		demoAgent = models.User{
			Name:  "测试客服",
			Email: "agent@deskify.local",
			Role:  models.RoleAgent,
		}
		db.Create(&demoAgent)
		log.Println("Created demo agent")
	}
	var demoCustomer models.User
	if err := db.Where("email = ?", "customer@deskify.local").First(&demoCustomer).Error; err != nil {
		demoCustomer = models.User{
			Name:  "测试客户",
			Email: "customer@deskify.local",
			Role:  models.RoleCustomer,
		}
		db.Create(&demoCustomer)
		log.Println("Created demo customer")
	}

	// 每个优先级一条默认 SLA 策略，已存在则跳过
	defaults := []models.SLAPolicy{
		{Priority: models.PriorityUrgent, FirstResponseMins: 15, ResolutionMins: 240},
		{Priority: models.PriorityHigh, FirstResponseMins: 30, ResolutionMins: 480},
		{Priority: models.PriorityNormal, FirstResponseMins: 60, ResolutionMins: 1440},
		{Priority: models.PriorityLow, FirstResponseMins: 240, ResolutionMins: 2880},
	}
	for _, p := range defaults {
		var existing models.SLAPolicy
		if err := db.Where("priority = ?", p.Priority).First(&existing).Error; err != nil {
			db.Create(&p)
			log.Printf("Created default SLA policy for %s", p.Priority)
		}
	}
}
