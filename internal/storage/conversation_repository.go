package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatsync/internal/models"
)

// ConversationRepository 定义了会话数据操作的接口。
type ConversationRepository interface {
	// FindOrCreateDirect 查找或创建两个用户之间的私聊会话。
	// 返回会话对象以及一个布尔值，指示会话是否是新创建的。
	FindOrCreateDirect(ctx context.Context, userID1, userID2 uint, createdBy uint) (*models.Conversation, bool, error)
	// FindDirectByUsers 查找两个用户之间的私聊会话；不存在时返回 (nil, nil)。
	FindDirectByUsers(ctx context.Context, userID1, userID2 uint) (*models.Conversation, error)
	CreateGroup(ctx context.Context, conversation *models.Conversation, participantIDs []uint, adminID uint) error

	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID uint) (*models.ConversationParticipant, error)
	GetParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error)
	// SetLastMessage 更新会话的最后一条消息引用并顺带刷新 updated_at。
	SetLastMessage(ctx context.Context, conversationID, messageID uint) error
}

// gormConversationRepository 使用 GORM 实现 ConversationRepository。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建一个新的基于 GORM 的 ConversationRepository。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// FindOrCreateDirect 查找或创建两个用户之间的私聊会话。
//
// 去重不靠"查询后创建"：私聊会话带规范化的 pair_key 唯一索引，创建用
// ON CONFLICT DO NOTHING 的条件写，冲突时改为读取已有行。两个客户端并发
// 创建同一对会话时会收敛到同一行，而不是产生重复会话。
func (r *gormConversationRepository) FindOrCreateDirect(ctx context.Context, userID1, userID2 uint, createdBy uint) (*models.Conversation, bool, error) {
	if userID1 == userID2 {
		return nil, false, fmt.Errorf("不能与自己创建私聊会话")
	}

	existing, err := r.FindDirectByUsers(ctx, userID1, userID2)
	if err != nil {
		return nil, false, fmt.Errorf("查找私聊会话失败: %w", err)
	}
	if existing != nil {
		return existing, false, nil // 会话已存在
	}

	pairKey := models.DirectPairKey(userID1, userID2)
	newConversation := &models.Conversation{
		IsGroup:   false,
		PairKey:   &pairKey,
		CreatedBy: createdBy,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).Create(newConversation)
		if result.Error != nil {
			return fmt.Errorf("创建私聊会话失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// 输给了并发的创建者；上面的重读路径会接手。
			return gorm.ErrDuplicatedKey
		}

		now := time.Now()
		participants := []models.ConversationParticipant{
			{ConversationID: newConversation.ID, UserID: userID1, JoinedAt: now},
			{ConversationID: newConversation.ID, UserID: userID2, JoinedAt: now},
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error; err != nil {
			return fmt.Errorf("添加私聊参与者失败: %w", err)
		}
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		existing, findErr := r.FindDirectByUsers(ctx, userID1, userID2)
		if findErr != nil {
			return nil, false, fmt.Errorf("冲突后重读私聊会话失败: %w", findErr)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("私聊会话冲突后不存在，pair_key=%s", pairKey)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return newConversation, true, nil
}

// FindDirectByUsers 通过规范化 pair_key 查找私聊会话。
func (r *gormConversationRepository) FindDirectByUsers(ctx context.Context, userID1, userID2 uint) (*models.Conversation, error) {
	pairKey := models.DirectPairKey(userID1, userID2)
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("pair_key = ? AND is_group = ?", pairKey, false).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversation, nil
}

// CreateGroup 创建群组会话并添加全部参与者，创建者标记为管理员。
func (r *gormConversationRepository) CreateGroup(ctx context.Context, conversation *models.Conversation, participantIDs []uint, adminID uint) error {
	conversation.IsGroup = true
	conversation.PairKey = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversation).Error; err != nil {
			return fmt.Errorf("创建群组会话失败: %w", err)
		}

		now := time.Now()
		seen := make(map[uint]bool, len(participantIDs))
		participants := make([]models.ConversationParticipant, 0, len(participantIDs))
		for _, id := range participantIDs {
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			participants = append(participants, models.ConversationParticipant{
				ConversationID: conversation.ID,
				UserID:         id,
				JoinedAt:       now,
				IsAdmin:        id == adminID,
			})
		}
		if len(participants) == 0 {
			return fmt.Errorf("群组会话没有有效的参与者")
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error; err != nil {
			return fmt.Errorf("添加群组参与者失败: %w", err)
		}
		return nil
	})
}

// GetByID 通过ID检索会话。
func (r *gormConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).First(&conversation, id).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetUserConversations 获取用户参与的所有会话列表，按最近活动排序。
func (r *gormConversationRepository) GetUserConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	query := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.updated_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&conversations).Error
	return conversations, err
}

// GetParticipant 获取会话中的特定参与者信息。
func (r *gormConversationRepository) GetParticipant(ctx context.Context, conversationID, userID uint) (*models.ConversationParticipant, error) {
	var participant models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&participant).Error
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

// GetParticipants 获取会话的所有参与者。
func (r *gormConversationRepository) GetParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error) {
	var participants []*models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&participants).Error
	return participants, err
}

// SetLastMessage 更新会话的最后一条消息引用。
func (r *gormConversationRepository) SetLastMessage(ctx context.Context, conversationID, messageID uint) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"last_message_id": messageID,
			"updated_at":      time.Now(),
		}).Error
}
