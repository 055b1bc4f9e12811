package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chatsync/internal/models"
)

// FollowRequestRepository defines the interface for follow request data operations.
type FollowRequestRepository interface {
	Create(ctx context.Context, request *models.FollowRequest) error
	// FindPending looks up the pending request for the ordered pair
	// (fromUserID -> toUserID). Returns (nil, nil) when none exists.
	FindPending(ctx context.Context, fromUserID, toUserID uint) (*models.FollowRequest, error)
	GetByID(ctx context.Context, requestID uint) (*models.FollowRequest, error)
	UpdateStatus(ctx context.Context, requestID uint, status models.FollowRequestStatus) error
	GetPendingForUser(ctx context.Context, toUserID uint) ([]models.FollowRequest, error)
}

type gormFollowRequestRepository struct {
	db *gorm.DB
}

// NewGormFollowRequestRepository creates a new GORM-backed FollowRequestRepository.
func NewGormFollowRequestRepository(db *gorm.DB) FollowRequestRepository {
	return &gormFollowRequestRepository{db: db}
}

// Create inserts a new request. The partial unique index on pending pairs
// turns a duplicate pending request into gorm.ErrDuplicatedKey.
func (r *gormFollowRequestRepository) Create(ctx context.Context, request *models.FollowRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *gormFollowRequestRepository) FindPending(ctx context.Context, fromUserID, toUserID uint) (*models.FollowRequest, error) {
	var request models.FollowRequest
	err := r.db.WithContext(ctx).
		Where("from_user_id = ? AND to_user_id = ? AND status = ?",
			fromUserID, toUserID, models.FollowRequestStatusPending).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No pending request found is not an error in this context
		}
		return nil, err
	}
	return &request, nil
}

func (r *gormFollowRequestRepository) GetByID(ctx context.Context, requestID uint) (*models.FollowRequest, error) {
	var request models.FollowRequest
	err := r.db.WithContext(ctx).First(&request, requestID).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// UpdateStatus moves a request to a terminal status. Terminal records are
// kept as audit history, never deleted.
func (r *gormFollowRequestRepository) UpdateStatus(ctx context.Context, requestID uint, status models.FollowRequestStatus) error {
	return r.db.WithContext(ctx).Model(&models.FollowRequest{}).
		Where("id = ?", requestID).
		Update("status", status).Error
}

func (r *gormFollowRequestRepository) GetPendingForUser(ctx context.Context, toUserID uint) ([]models.FollowRequest, error) {
	var requests []models.FollowRequest
	err := r.db.WithContext(ctx).
		Where("to_user_id = ? AND status = ?", toUserID, models.FollowRequestStatusPending).
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}
