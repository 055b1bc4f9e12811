package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/models"
)

// NotificationRepository defines the interface for notification data operations.
type NotificationRepository interface {
	// Upsert coalesces repeated identical-category/actor events: when an
	// unread notification with the same (user, category, actor) exists, it
	// is refreshed in place instead of duplicated. The stored (possibly
	// pre-existing) row is written back into n.
	Upsert(ctx context.Context, n *models.Notification) error
	GetForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error)
	MarkAllRead(ctx context.Context, userID uint) error
	MarkReadByCategoryAndActor(ctx context.Context, userID uint, category models.NotificationCategory, actorID uint) error
}

type gormNotificationRepository struct {
	db *gorm.DB
}

// NewGormNotificationRepository creates a new GORM-backed NotificationRepository.
func NewGormNotificationRepository(db *gorm.DB) NotificationRepository {
	return &gormNotificationRepository{db: db}
}

func (r *gormNotificationRepository) Upsert(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Notification
		err := tx.
			Where("user_id = ? AND category = ? AND actor_id = ? AND is_read = ?",
				n.UserID, n.Category, n.ActorID, false).
			First(&existing).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return tx.Create(n).Error
		}

		// 合并：刷新时间与相关实体引用，不产生新行。
		updates := map[string]any{"updated_at": time.Now()}
		if n.RelatedID != nil {
			updates["related_id"] = *n.RelatedID
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		*n = existing
		return nil
	})
}

func (r *gormNotificationRepository) GetForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error) {
	var notifications []*models.Notification
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&notifications).Error
	return notifications, err
}

// MarkAllRead 是幂等的批量状态更新：已读行不再匹配谓词，重复调用是空操作。
func (r *gormNotificationRepository) MarkAllRead(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
}

func (r *gormNotificationRepository) MarkReadByCategoryAndActor(ctx context.Context, userID uint, category models.NotificationCategory, actorID uint) error {
	return r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND category = ? AND actor_id = ? AND is_read = ?",
			userID, category, actorID, false).
		Update("is_read", true).Error
}
