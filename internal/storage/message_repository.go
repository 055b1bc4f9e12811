package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。
type MessageRepository interface {
	// Create 在一个事务中写入消息和发送者的已读记录：
	// readBy 在创建时刻就包含 senderId。
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// GetPageBefore 返回某会话中严格早于 before 时间点的一页消息，
	// 倒序排列，最多 limit 条。为 viewer 过滤掉其已删除的消息和墓碑消息。
	// before 为 nil 时从最新消息开始。
	GetPageBefore(ctx context.Context, conversationID, viewerID uint, limit int, before *time.Time) ([]*models.Message, error)
	// MarkConversationRead 把会话中所有非 userID 发送、且 userID 尚未读过的
	// 消息标记为已读。单条批量写语句，天然幂等。
	MarkConversationRead(ctx context.Context, conversationID, userID uint) error
	GetReaderIDs(ctx context.Context, messageID uint) ([]uint, error)
	// Tombstone 为"为所有人删除"打墓碑标记，消息不物理删除。
	Tombstone(ctx context.Context, messageID uint) error
	// AddDeletion 记录单用户删除（"为我删除"）。重复删除视为成功。
	AddDeletion(ctx context.Context, messageID, userID uint) error
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("存储消息失败: %w", err)
		}
		senderRead := &models.MessageRead{
			MessageID: message.ID,
			UserID:    message.SenderID,
			ReadAt:    message.SentAt,
		}
		if err := tx.Create(senderRead).Error; err != nil {
			return fmt.Errorf("写入发送者已读记录失败: %w", err)
		}
		return nil
	})
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).First(&message, id).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// GetPageBefore 分页读取会话消息。
// 游标按时间戳而不是ID解析，以容忍按时钟排序的分页。
func (r *gormMessageRepository) GetPageBefore(ctx context.Context, conversationID, viewerID uint, limit int, before *time.Time) ([]*models.Message, error) {
	var messages []*models.Message
	query := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("tombstoned_at IS NULL").
		Where("NOT EXISTS (SELECT 1 FROM message_deletions md WHERE md.message_id = messages.id AND md.user_id = ?)", viewerID).
		Order("sent_at DESC")

	if before != nil {
		query = query.Where("sent_at < ?", *before)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkConversationRead 批量标记已读：一条 INSERT..SELECT，
// ON CONFLICT DO NOTHING 使重复调用产生完全相同的结果。
func (r *gormMessageRepository) MarkConversationRead(ctx context.Context, conversationID, userID uint) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 SELECT m.id, ?, ?
		 FROM messages m
		 WHERE m.conversation_id = ?
		   AND m.sender_id <> ?
		   AND m.tombstoned_at IS NULL
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		userID, time.Now(), conversationID, userID,
	).Error
}

// GetReaderIDs 返回已读某条消息的用户ID列表。
func (r *gormMessageRepository) GetReaderIDs(ctx context.Context, messageID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.MessageRead{}).
		Where("message_id = ?", messageID).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *gormMessageRepository) Tombstone(ctx context.Context, messageID uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Update("tombstoned_at", &now).Error
}

func (r *gormMessageRepository) AddDeletion(ctx context.Context, messageID, userID uint) error {
	deletion := &models.MessageDeletion{MessageID: messageID, UserID: userID}
	err := r.db.WithContext(ctx).Create(deletion).Error
	if err != nil {
		// 重复删除视为成功
		var count int64
		if countErr := r.db.WithContext(ctx).Model(&models.MessageDeletion{}).
			Where("message_id = ? AND user_id = ?", messageID, userID).
			Count(&count).Error; countErr == nil && count > 0 {
			return nil
		}
		return err
	}
	return nil
}
