package storage

import (
	"context"

	"gorm.io/gorm"

	"chatsync/internal/models"
)

// UserRepository 定义了用户数据操作的接口。
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error)
	GetMultipleBasicInfoByIDs(ctx context.Context, ids []uint) ([]*models.UserBasicInfo, error)
}

// gormUserRepository 使用 GORM 实现 UserRepository。
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建一个新的基于 GORM 的 UserRepository。
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID 通过ID检索用户。
func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetBasicInfoByID retrieves the public subset of a user's profile.
func (r *gormUserRepository) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	var info models.UserBasicInfo
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Select("id", "username", "nickname", "avatar_url", "is_private").
		Where("id = ?", id).
		First(&info).Error
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetMultipleBasicInfoByIDs retrieves public profiles for a set of user IDs.
func (r *gormUserRepository) GetMultipleBasicInfoByIDs(ctx context.Context, ids []uint) ([]*models.UserBasicInfo, error) {
	if len(ids) == 0 {
		return []*models.UserBasicInfo{}, nil
	}
	var infos []*models.UserBasicInfo
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Select("id", "username", "nickname", "avatar_url", "is_private").
		Where("id IN ?", ids).
		Find(&infos).Error
	return infos, err
}
