package models

// NotificationCategory 定义通知类别。
type NotificationCategory string

const (
	NotificationFollowRequest  NotificationCategory = "follow_request"
	NotificationFollow         NotificationCategory = "follow"
	NotificationFollowAccepted NotificationCategory = "follow_accept"
	NotificationPostLike       NotificationCategory = "post_like"
	NotificationPostComment    NotificationCategory = "post_comment"
	NotificationPostTag        NotificationCategory = "post_tag"
	NotificationMessageRequest NotificationCategory = "message_request"
)

// Notification 代表投递给某个用户的一条通知。
// 同一 (用户, 类别, 行为者) 的未读通知会被合并更新而不是无限重复，
// 合并逻辑在仓库层的 Upsert 中实现。
type Notification struct {
	BaseModel
	UserID    uint                 `gorm:"not null;index:idx_notification_target" json:"userId"` // 通知接收者
	Category  NotificationCategory `gorm:"type:varchar(30);not null;index:idx_notification_target" json:"category"`
	ActorID   uint                 `gorm:"not null;index:idx_notification_target" json:"actorId"` // 触发通知的用户
	RelatedID *uint                `json:"relatedId,omitempty"`                                   // 相关实体（请求、会话、帖子）的ID
	IsRead    bool                 `gorm:"not null;default:false;index" json:"isRead"`
}

// TableName 指定 Notification 模型的表名。
func (Notification) TableName() string {
	return "notifications"
}
