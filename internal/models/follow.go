package models

// Follow 代表一条有向关注边：FollowerID 关注 FolloweeID。
// 同一对用户最多一条边，由唯一索引保证。
type Follow struct {
	BaseModel
	FollowerID uint `gorm:"not null;uniqueIndex:idx_follow_pair" json:"followerId"`
	FolloweeID uint `gorm:"not null;uniqueIndex:idx_follow_pair;index" json:"followeeId"`

	Follower User `gorm:"foreignKey:FollowerID" json:"follower,omitempty"`
	Followee User `gorm:"foreignKey:FolloweeID" json:"followee,omitempty"`
}

// TableName 指定 Follow 模型的表名。
func (Follow) TableName() string {
	return "follows"
}

// Block represents a directed block edge: BlockerID has blocked BlockedID.
// Blocking is orthogonal to following; creating a block must clear follow
// edges in both directions, which the social service enforces in one
// transaction.
type Block struct {
	BaseModel
	BlockerID uint `gorm:"not null;uniqueIndex:idx_block_pair" json:"blockerId"`
	BlockedID uint `gorm:"not null;uniqueIndex:idx_block_pair;index" json:"blockedId"`
}

// TableName 指定 Block 模型的表名。
func (Block) TableName() string {
	return "blocks"
}
