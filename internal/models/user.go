package models

import "time"

// User 代表系统中的用户。
// 关注/粉丝/拉黑关系不直接存在 User 上，而是由 Follow 和 Block 两张边表维护，
// 避免在单条用户文档里维护无界集合。
type User struct {
	BaseModel
	Username   string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Nickname   string     `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	AvatarURL  string     `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Bio        string     `gorm:"type:text" json:"bio,omitempty"`
	IsPrivate  bool       `gorm:"default:false" json:"isPrivate"` // 私密账号需要关注请求
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`

	// 关联关系
	Messages      []Message       `gorm:"foreignKey:SenderID" json:"messages,omitempty"`
	Conversations []*Conversation `gorm:"many2many:conversation_participants;" json:"conversations,omitempty"`
}

// UserBasicInfo holds minimal public information about a user.
// Used for scenarios like listing followers or pending follow requests.
type UserBasicInfo struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	IsPrivate bool   `json:"isPrivate"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}
