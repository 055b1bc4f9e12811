package models

import (
	"encoding/json"
	"time"
)

// Message 代表存储在数据库中的聊天消息。
// 已读状态和按用户删除分别由 MessageRead / MessageDeletion 两张表维护，
// 这样批量已读标记可以是一条写语句而不是 N 条。
type Message struct {
	BaseModel
	ConversationID uint            `gorm:"index;not null" json:"conversationId"` // 指向 Conversation 模型的外键
	SenderID       uint            `gorm:"index;not null" json:"senderId"`       // 指向 User 模型（发送者）的外键
	Kind           ContentKind     `gorm:"type:varchar(20);not null" json:"kind"`
	Body           json.RawMessage `gorm:"type:jsonb" json:"body"` // 序列化后的 Content 变体

	SentAt time.Time `gorm:"not null;index" json:"sentAt"`

	// TombstonedAt 是"为所有人删除"的墓碑标记。消息从不物理删除，
	// 带墓碑的消息在读取路径上按删除处理。
	TombstonedAt *time.Time `json:"tombstonedAt,omitempty"`

	// 关联关系
	Sender       User         `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
	Reads        []MessageRead `gorm:"foreignKey:MessageID" json:"reads,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// Content 反序列化消息体为带判别字段的内容变体。
func (m *Message) Content() (*Content, error) {
	var c Content
	if err := json.Unmarshal(m.Body, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetContent 序列化内容变体到消息体，并同步判别字段。
func (m *Message) SetContent(c *Content) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	m.Kind = c.Kind
	m.Body = data
	return nil
}

// MessageRead records that a user has read a message. The sender's row is
// created together with the message itself.
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"messageId"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	ReadAt    time.Time `gorm:"not null" json:"readAt"`
}

// TableName 指定 MessageRead 模型的表名。
func (MessageRead) TableName() string {
	return "message_reads"
}

// MessageDeletion records a per-user soft delete ("delete for me"). The
// message row itself is untouched; reads for this user filter it out.
type MessageDeletion struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"messageId"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 MessageDeletion 模型的表名。
func (MessageDeletion) TableName() string {
	return "message_deletions"
}
