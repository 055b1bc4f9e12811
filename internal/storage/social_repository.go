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

// SocialGraphRepository 定义了关注/拉黑边的数据操作接口。
type SocialGraphRepository interface {
	CreateFollow(ctx context.Context, followerID, followeeID uint) error
	DeleteFollow(ctx context.Context, followerID, followeeID uint) error
	FollowExists(ctx context.Context, followerID, followeeID uint) (bool, error)
	GetFollowingIDs(ctx context.Context, userID uint) ([]uint, error)
	GetFollowerIDs(ctx context.Context, userID uint) ([]uint, error)

	// BlockExistsEither 检查两个用户之间任一方向是否存在拉黑边。
	BlockExistsEither(ctx context.Context, userID1, userID2 uint) (bool, error)
	DeleteBlock(ctx context.Context, blockerID, blockedID uint) error

	// ApplyBlock 在一个事务中创建拉黑边并清除双向关注边、将双向
	// pending 请求置为 rejected。解除拉黑不恢复任何关注边。
	ApplyBlock(ctx context.Context, blockerID, blockedID uint) error
}

// gormSocialGraphRepository 使用 GORM 实现 SocialGraphRepository。
type gormSocialGraphRepository struct {
	db *gorm.DB
}

// NewGormSocialGraphRepository 创建一个新的基于 GORM 的 SocialGraphRepository。
func NewGormSocialGraphRepository(db *gorm.DB) SocialGraphRepository {
	return &gormSocialGraphRepository{db: db}
}

// CreateFollow 创建关注边。重复创建视为成功（幂等）。
func (r *gormSocialGraphRepository) CreateFollow(ctx context.Context, followerID, followeeID uint) error {
	follow := &models.Follow{FollowerID: followerID, FolloweeID: followeeID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(follow).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	return nil
}

func (r *gormSocialGraphRepository) DeleteFollow(ctx context.Context, followerID, followeeID uint) error {
	return r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&models.Follow{}).Error
}

// FollowExists checks for a directed follow edge.
func (r *gormSocialGraphRepository) FollowExists(ctx context.Context, followerID, followeeID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetFollowingIDs retrieves the IDs of everyone userID follows.
func (r *gormSocialGraphRepository) GetFollowingIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ?", userID).
		Pluck("followee_id", &ids).Error
	return ids, err
}

// GetFollowerIDs retrieves the IDs of everyone following userID.
func (r *gormSocialGraphRepository) GetFollowerIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("followee_id = ?", userID).
		Pluck("follower_id", &ids).Error
	return ids, err
}

// BlockExistsEither 检查任一方向的拉黑边。消息和关注的入口检查都用它。
func (r *gormSocialGraphRepository) BlockExistsEither(ctx context.Context, userID1, userID2 uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)",
			userID1, userID2, userID2, userID1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormSocialGraphRepository) DeleteBlock(ctx context.Context, blockerID, blockedID uint) error {
	return r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{}).Error
}

// ApplyBlock creates the block edge and clears any follow relationship in
// both directions in one transaction, so no concurrent reader can see a
// block coexisting with a follow edge.
func (r *gormSocialGraphRepository) ApplyBlock(ctx context.Context, blockerID, blockedID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		block := &models.Block{BlockerID: blockerID, BlockedID: blockedID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(block).Error; err != nil &&
			!errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("创建拉黑边失败: %w", err)
		}

		if err := tx.
			Where("(follower_id = ? AND followee_id = ?) OR (follower_id = ? AND followee_id = ?)",
				blockerID, blockedID, blockedID, blockerID).
			Delete(&models.Follow{}).Error; err != nil {
			return fmt.Errorf("清除双向关注边失败: %w", err)
		}

		if err := tx.Model(&models.FollowRequest{}).
			Where("((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)) AND status = ?",
				blockerID, blockedID, blockedID, blockerID, models.FollowRequestStatusPending).
			Updates(map[string]any{"status": models.FollowRequestStatusRejected, "updated_at": time.Now()}).Error; err != nil {
			return fmt.Errorf("拒绝双向 pending 请求失败: %w", err)
		}

		return nil
	})
}
