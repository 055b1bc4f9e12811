package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatsync/internal/config"
	"chatsync/internal/models"
)

// InitDB initializes the database connection using the provided configuration.
func InitDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dsn string
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		var dsnParts []string
		dsnParts = append(dsnParts, fmt.Sprintf("host=%s", cfg.Host))
		dsnParts = append(dsnParts, fmt.Sprintf("port=%d", cfg.Port))
		dsnParts = append(dsnParts, fmt.Sprintf("user=%s", cfg.User))
		dsnParts = append(dsnParts, fmt.Sprintf("dbname=%s", cfg.DBName))

		if cfg.Password != "" {
			dsnParts = append(dsnParts, fmt.Sprintf("password=%s", cfg.Password))
		}

		dsnParts = append(dsnParts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))

		dsn = strings.Join(dsnParts, " ")
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	// Configure GORM logger
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
		// 唯一索引冲突需要翻译成 gorm.ErrDuplicatedKey，错误分类依赖它。
		TranslateError: true,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// AutoMigrateTables runs GORM's auto-migration feature for all defined models.
func AutoMigrateTables(db *gorm.DB) error {
	log.Println("开始数据库表结构迁移...")
	err := db.AutoMigrate(
		&models.User{},
		&models.Follow{},
		&models.Block{},
		&models.FollowRequest{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.MessageDeletion{},
		&models.Notification{},
	)
	if err != nil {
		log.Printf("数据库迁移失败: %v", err)
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	// 同一有向对最多一条 pending 请求；终态记录不受此约束，
	// 因此用条件唯一索引而不是普通唯一索引。
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_follow_request_pending
		 ON follow_requests (from_user_id, to_user_id)
		 WHERE status = 'pending' AND deleted_at IS NULL`,
	).Error; err != nil {
		return fmt.Errorf("创建 pending 请求唯一索引失败: %w", err)
	}

	log.Println("数据库迁移完成。")
	return nil
}

// DBPinger adapts the gorm connection to the connectivity monitor's Pinger:
// a trivial read that answers "is the backend reachable right now".
type DBPinger struct {
	db *gorm.DB
}

// NewDBPinger creates a DBPinger over the given connection.
func NewDBPinger(db *gorm.DB) *DBPinger {
	return &DBPinger{db: db}
}

// Ping performs a trivial read against the database.
func (p *DBPinger) Ping(ctx context.Context) error {
	var one int
	return p.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}
