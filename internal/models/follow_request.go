package models

// FollowRequestStatus 定义关注请求的状态
type FollowRequestStatus string

const (
	FollowRequestStatusPending  FollowRequestStatus = "pending"
	FollowRequestStatusAccepted FollowRequestStatus = "accepted"
	FollowRequestStatusRejected FollowRequestStatus = "rejected"
)

// FollowRequest 代表一条对私密账号的关注请求记录。
// 终态（accepted/rejected）的请求保留作为审计记录，状态原地更新、从不删除；
// 再次关注会创建带新 ID 的新记录。同一有向对最多一条 pending 请求，
// 由仓库层的条件唯一索引保证。
type FollowRequest struct {
	BaseModel
	FromUserID uint                `gorm:"not null;index:idx_follow_request_users" json:"fromUserId"` // 请求发起者
	ToUserID   uint                `gorm:"not null;index:idx_follow_request_users" json:"toUserId"`   // 请求接收者
	Status     FollowRequestStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
}

// TableName 指定 FollowRequest 模型的表名。
func (FollowRequest) TableName() string {
	return "follow_requests"
}

// FollowRequestWithRequester is a DTO that includes follow request details
// along with basic information about the user who sent the request.
// Useful for API responses for listing pending requests.
type FollowRequestWithRequester struct {
	FollowRequest
	Requester *UserBasicInfo `json:"requester"`
}
