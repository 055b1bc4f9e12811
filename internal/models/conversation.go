package models

import (
	"fmt"
	"time"
)

// Conversation 代表一个聊天会话（一对一或群组）。
type Conversation struct {
	BaseModel
	IsGroup bool   `gorm:"not null;default:false;index" json:"isGroup"`
	Name    string `gorm:"type:varchar(100)" json:"name,omitempty"` // 仅群组会话有名称

	// PairKey 是私聊会话的规范化参与者对键（"小ID:大ID"）。
	// 群组会话为 NULL。唯一索引使私聊去重成为数据库层的条件创建，
	// 而不是查询后创建的竞态模式。
	PairKey *string `gorm:"type:varchar(50);uniqueIndex" json:"-"`

	CreatedBy uint `gorm:"index" json:"createdBy"`

	// LastMessageID 可用于快速获取最后一条消息以供显示。
	// 可为空，因为新会话可能还没有消息。
	LastMessageID *uint `gorm:"index" json:"lastMessageId,omitempty"`

	// 关联关系 (实际成员关系由 ConversationParticipant 管理)
	Users        []*User                   `gorm:"many2many:conversation_participants;" json:"users,omitempty"`
	Messages     []Message                 `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// DirectPairKey returns the canonical pair key for a direct conversation
// between two users. The smaller ID always comes first, so both argument
// orders produce the same key.
func DirectPairKey(userID1, userID2 uint) string {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return fmt.Sprintf("%d:%d", userID1, userID2)
}

// ConversationParticipant 将用户链接到会话。
// 此表对于私聊（2个参与者）和群聊（多个参与者）都至关重要。
type ConversationParticipant struct {
	BaseModel
	ConversationID uint       `gorm:"primaryKey;autoIncrement:false" json:"conversationId"`
	UserID         uint       `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`                   // 用户在此会话中最后阅读消息的时间
	IsAdmin        bool       `gorm:"default:false" json:"isAdmin,omitempty"` // 与群组会话相关

	// 关联关系
	User         User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}

// TableName 指定 ConversationParticipant 模型的表名。
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}
