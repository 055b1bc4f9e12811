package services

import (
	"context"
	"errors"
	"log"

	"gorm.io/gorm"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
	"chatsync/internal/retry"
	"chatsync/internal/storage"
)

var (
	ErrFollowSelf        = apperr.E(apperr.Invalid, "不能关注自己")
	ErrUserNotFound      = apperr.E(apperr.NotFound, "用户不存在")
	ErrRequestPending    = apperr.E(apperr.Conflict, "已存在待处理的关注请求")
	ErrAlreadyFollowing  = apperr.E(apperr.Conflict, "已经关注了该用户")
	ErrRequestNotFound   = apperr.E(apperr.NotFound, "关注请求不存在")
	ErrRequestNotPending = apperr.E(apperr.Conflict, "该关注请求不是待处理状态")
	ErrBlocked           = apperr.E(apperr.Blocked, "与该用户之间存在拉黑关系")
	ErrBlockSelf         = apperr.E(apperr.Invalid, "不能拉黑自己")
)

// SocialService 实现关注/拉黑关系的状态机：
//
//	NoRelation → PendingRequest → {Following | Rejected}
//
// 外加一个正交的 Blocked 状态：从任何状态都可以进入，退出时强制回到
// NoRelation——解除拉黑不恢复先前的关注边。
type SocialService interface {
	// RequestFollow 发起关注。私密账号创建 pending 请求并通知对方；
	// 公开账号跳过请求状态直接建边（自动接受）。
	RequestFollow(ctx context.Context, fromUserID, toUserID uint) error
	// AcceptFollowRequest 由 toUserID 接受 fromUserID 的 pending 请求。
	AcceptFollowRequest(ctx context.Context, fromUserID, toUserID uint) error
	// RejectFollowRequest 由 toUserID 拒绝 fromUserID 的 pending 请求。
	RejectFollowRequest(ctx context.Context, fromUserID, toUserID uint) error
	Unfollow(ctx context.Context, fromUserID, toUserID uint) error
	Block(ctx context.Context, actorID, targetID uint) error
	Unblock(ctx context.Context, actorID, targetID uint) error

	ListPendingRequests(ctx context.Context, userID uint) ([]*models.FollowRequestWithRequester, error)
	GetFollowing(ctx context.Context, userID uint) ([]*models.UserBasicInfo, error)
	GetFollowers(ctx context.Context, userID uint) ([]*models.UserBasicInfo, error)
}

// socialService 是 SocialService 的实现。
type socialService struct {
	userRepo   storage.UserRepository
	socialRepo storage.SocialGraphRepository
	reqRepo    storage.FollowRequestRepository
	executor   *retry.Executor
	notifier   NotificationService
}

// NewSocialService 创建一个新的 SocialService 实例。
func NewSocialService(
	userRepo storage.UserRepository,
	socialRepo storage.SocialGraphRepository,
	reqRepo storage.FollowRequestRepository,
	executor *retry.Executor,
	notifier NotificationService,
) SocialService {
	return &socialService{
		userRepo:   userRepo,
		socialRepo: socialRepo,
		reqRepo:    reqRepo,
		executor:   executor,
		notifier:   notifier,
	}
}

// ensureNotBlocked 是每个图变更操作入口的拉黑检查：任一方向存在拉黑边
// 都以 Blocked 错误失败，而不是静默成功。
func (s *socialService) ensureNotBlocked(ctx context.Context, userID1, userID2 uint) error {
	blocked, err := s.socialRepo.BlockExistsEither(ctx, userID1, userID2)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}
	return nil
}

// RequestFollow 处理关注请求。
func (s *socialService) RequestFollow(ctx context.Context, fromUserID, toUserID uint) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}

	return s.executor.Do(ctx, func(ctx context.Context) error {
		if err := s.ensureNotBlocked(ctx, fromUserID, toUserID); err != nil {
			return err
		}

		target, err := s.userRepo.GetByID(ctx, toUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		following, err := s.socialRepo.FollowExists(ctx, fromUserID, toUserID)
		if err != nil {
			return err
		}

		if target.IsPrivate {
			if following {
				return ErrAlreadyFollowing
			}
			existing, err := s.reqRepo.FindPending(ctx, fromUserID, toUserID)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrRequestPending
			}

			request := &models.FollowRequest{
				FromUserID: fromUserID,
				ToUserID:   toUserID,
				Status:     models.FollowRequestStatusPending,
			}
			if err := s.reqRepo.Create(ctx, request); err != nil {
				if apperr.KindOf(err) == apperr.Conflict {
					// 输给并发的重复请求，语义上等同于已存在 pending
					return ErrRequestPending
				}
				return err
			}

			if err := s.notifier.Dispatch(ctx, Event{
				Kind:      EventFollowRequest,
				ActorID:   fromUserID,
				SubjectID: toUserID,
				RelatedID: &request.ID,
			}); err != nil {
				log.Printf("派发关注请求通知失败 (%d -> %d): %v", fromUserID, toUserID, err)
			}
			return nil
		}

		// 公开账号：跳过请求状态，直接建边（自动接受）。重复关注是空操作。
		if following {
			return nil
		}
		if err := s.socialRepo.CreateFollow(ctx, fromUserID, toUserID); err != nil {
			return err
		}
		if err := s.notifier.Dispatch(ctx, Event{
			Kind:      EventFollow,
			ActorID:   fromUserID,
			SubjectID: toUserID,
		}); err != nil {
			log.Printf("派发关注通知失败 (%d -> %d): %v", fromUserID, toUserID, err)
		}
		return nil
	}, "处理关注请求失败")
}

// AcceptFollowRequest 接受关注请求：请求置为 accepted（保留记录），建立
// 关注边，把相关的请求通知标为已读，并通知请求方。
func (s *socialService) AcceptFollowRequest(ctx context.Context, fromUserID, toUserID uint) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		if err := s.ensureNotBlocked(ctx, fromUserID, toUserID); err != nil {
			return err
		}
		request, err := s.reqRepo.FindPending(ctx, fromUserID, toUserID)
		if err != nil {
			return err
		}
		if request == nil {
			return ErrRequestNotFound
		}

		if err := s.reqRepo.UpdateStatus(ctx, request.ID, models.FollowRequestStatusAccepted); err != nil {
			return err
		}
		if err := s.socialRepo.CreateFollow(ctx, fromUserID, toUserID); err != nil {
			return err
		}

		if err := s.notifier.MarkReadByCategoryAndActor(ctx, toUserID, models.NotificationFollowRequest, fromUserID); err != nil {
			log.Printf("标记关注请求通知已读失败 (user %d, actor %d): %v", toUserID, fromUserID, err)
		}
		if err := s.notifier.Dispatch(ctx, Event{
			Kind:      EventFollowAccepted,
			ActorID:   toUserID,
			SubjectID: fromUserID,
			RelatedID: &request.ID,
		}); err != nil {
			log.Printf("派发请求已接受通知失败 (%d -> %d): %v", toUserID, fromUserID, err)
		}
		return nil
	}, "接受关注请求失败")
}

// RejectFollowRequest 拒绝关注请求：请求置为 rejected，不做任何图变更，
// 把相关通知标为已读。请求方不会收到被拒绝的通知。
func (s *socialService) RejectFollowRequest(ctx context.Context, fromUserID, toUserID uint) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		if err := s.ensureNotBlocked(ctx, fromUserID, toUserID); err != nil {
			return err
		}
		request, err := s.reqRepo.FindPending(ctx, fromUserID, toUserID)
		if err != nil {
			return err
		}
		if request == nil {
			return ErrRequestNotFound
		}

		if err := s.reqRepo.UpdateStatus(ctx, request.ID, models.FollowRequestStatusRejected); err != nil {
			return err
		}
		if err := s.notifier.MarkReadByCategoryAndActor(ctx, toUserID, models.NotificationFollowRequest, fromUserID); err != nil {
			log.Printf("标记关注请求通知已读失败 (user %d, actor %d): %v", toUserID, fromUserID, err)
		}
		return nil
	}, "拒绝关注请求失败")
}

// Unfollow 移除关注边。没有通知。
func (s *socialService) Unfollow(ctx context.Context, fromUserID, toUserID uint) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		if err := s.ensureNotBlocked(ctx, fromUserID, toUserID); err != nil {
			return err
		}
		return s.socialRepo.DeleteFollow(ctx, fromUserID, toUserID)
	}, "取消关注失败")
}

// Block 拉黑：建拉黑边并原子地清除双向关注边，无论先前处于什么状态。
func (s *socialService) Block(ctx context.Context, actorID, targetID uint) error {
	if actorID == targetID {
		return ErrBlockSelf
	}
	return s.executor.Do(ctx, func(ctx context.Context) error {
		return s.socialRepo.ApplyBlock(ctx, actorID, targetID)
	}, "拉黑用户失败")
}

// Unblock 解除拉黑：只移除拉黑边，不恢复任何关注边。
func (s *socialService) Unblock(ctx context.Context, actorID, targetID uint) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		return s.socialRepo.DeleteBlock(ctx, actorID, targetID)
	}, "解除拉黑失败")
}

// ListPendingRequests retrieves pending follow requests for a user,
// enriched with requester info for API responses.
func (s *socialService) ListPendingRequests(ctx context.Context, userID uint) ([]*models.FollowRequestWithRequester, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) ([]*models.FollowRequestWithRequester, error) {
		pending, err := s.reqRepo.GetPendingForUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		result := make([]*models.FollowRequestWithRequester, 0, len(pending))
		for _, req := range pending {
			requester, err := s.userRepo.GetBasicInfoByID(ctx, req.FromUserID)
			if err != nil {
				log.Printf("获取请求者 %d 信息失败 (request %d): %v", req.FromUserID, req.ID, err)
				continue
			}
			result = append(result, &models.FollowRequestWithRequester{
				FollowRequest: req,
				Requester:     requester,
			})
		}
		return result, nil
	}, "获取待处理关注请求失败")
}

// GetFollowing retrieves basic info for everyone the user follows.
func (s *socialService) GetFollowing(ctx context.Context, userID uint) ([]*models.UserBasicInfo, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) ([]*models.UserBasicInfo, error) {
		ids, err := s.socialRepo.GetFollowingIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	}, "获取关注列表失败")
}

// GetFollowers retrieves basic info for the user's followers.
func (s *socialService) GetFollowers(ctx context.Context, userID uint) ([]*models.UserBasicInfo, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) ([]*models.UserBasicInfo, error) {
		ids, err := s.socialRepo.GetFollowerIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	}, "获取粉丝列表失败")
}
