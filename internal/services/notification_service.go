package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"chatsync/internal/apperr"
	"chatsync/internal/config"
	"chatsync/internal/kafka"
	"chatsync/internal/models"
	"chatsync/internal/retry"
	"chatsync/internal/storage"
)

// EventKind 标识一次状态变迁事件。
type EventKind string

const (
	EventFollowRequest  EventKind = "follow_request"
	EventFollow         EventKind = "follow"
	EventFollowAccepted EventKind = "follow_accept"
	EventPostLike       EventKind = "post_like"
	EventPostComment    EventKind = "post_comment"
	EventPostTag        EventKind = "post_tag"
	EventMessageRequest EventKind = "message_request"
)

// Event 描述一次状态变迁：actor 对 subject 做了某件事。
// RelatedID 指向相关实体（请求、会话、帖子）。
type Event struct {
	Kind      EventKind
	ActorID   uint
	SubjectID uint
	RelatedID *uint
}

// NotificationService 根据状态变迁事件派生通知，并提供已读状态的批量变更。
type NotificationService interface {
	// Dispatch 对一个事件派生零或一条通知。规则是事件的纯函数：
	// 同一事件重复派发被合并，自己触发的事件不通知自己。
	Dispatch(ctx context.Context, event Event) error
	GetForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error)
	MarkAllRead(ctx context.Context, userID uint) error
	MarkReadByCategoryAndActor(ctx context.Context, userID uint, category models.NotificationCategory, actorID uint) error
}

// notificationPush 是推送到 Kafka 供实时分发的载荷。
type notificationPush struct {
	NotificationID uint                        `json:"notificationId"`
	UserID         uint                        `json:"userId"`
	Category       models.NotificationCategory `json:"category"`
	ActorID        uint                        `json:"actorId"`
	RelatedID      *uint                       `json:"relatedId,omitempty"`
}

// notificationService 是 NotificationService 的实现。
type notificationService struct {
	notifRepo  storage.NotificationRepository
	socialRepo storage.SocialGraphRepository
	executor   *retry.Executor
	producer   kafka.MessageProducer // 可为 nil：仅持久化，不做实时分发
	kafkaCfg   config.KafkaConfig
}

// NewNotificationService 创建一个新的 NotificationService 实例。
func NewNotificationService(
	notifRepo storage.NotificationRepository,
	socialRepo storage.SocialGraphRepository,
	executor *retry.Executor,
	producer kafka.MessageProducer,
	kafkaCfg config.KafkaConfig,
) NotificationService {
	return &notificationService{
		notifRepo:  notifRepo,
		socialRepo: socialRepo,
		executor:   executor,
		producer:   producer,
		kafkaCfg:   kafkaCfg,
	}
}

var eventCategories = map[EventKind]models.NotificationCategory{
	EventFollowRequest:  models.NotificationFollowRequest,
	EventFollow:         models.NotificationFollow,
	EventFollowAccepted: models.NotificationFollowAccepted,
	EventPostLike:       models.NotificationPostLike,
	EventPostComment:    models.NotificationPostComment,
	EventPostTag:        models.NotificationPostTag,
	EventMessageRequest: models.NotificationMessageRequest,
}

// Dispatch 实现通知派生规则。
func (s *notificationService) Dispatch(ctx context.Context, event Event) error {
	category, ok := eventCategories[event.Kind]
	if !ok {
		return apperr.E(apperr.Invalid, fmt.Sprintf("未知的事件类型: %s", event.Kind))
	}

	// 自己触发的事件不通知自己（点赞/评论自己的帖子等）。
	if event.ActorID == event.SubjectID {
		return nil
	}

	if event.Kind == EventMessageRequest {
		// 不对称规则：按发起者的关注边判断，而不是接收者的。
		// 发起者已关注接收者时，新私聊不算陌生人消息请求。
		follows, err := retry.DoValue(ctx, s.executor, func(ctx context.Context) (bool, error) {
			return s.socialRepo.FollowExists(ctx, event.ActorID, event.SubjectID)
		}, "检查消息请求的关注边失败")
		if err != nil {
			return err
		}
		if follows {
			return nil
		}
	}

	notification := &models.Notification{
		UserID:    event.SubjectID,
		Category:  category,
		ActorID:   event.ActorID,
		RelatedID: event.RelatedID,
	}

	err := s.executor.Do(ctx, func(ctx context.Context) error {
		return s.notifRepo.Upsert(ctx, notification)
	}, "写入通知失败")
	if err != nil {
		return err
	}

	s.publish(ctx, notification)
	return nil
}

// publish 尽力而为地把通知推到 Kafka 供 WebSocket 网关实时投递。
// 推送失败只记录日志，不影响主流程：通知已经持久化，客户端下次拉取能看到。
func (s *notificationService) publish(ctx context.Context, n *models.Notification) {
	if s.producer == nil {
		return
	}
	push := notificationPush{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Category:       n.Category,
		ActorID:        n.ActorID,
		RelatedID:      n.RelatedID,
	}
	payload, err := json.Marshal(push)
	if err != nil {
		log.Printf("序列化通知推送载荷失败: %v", err)
		return
	}
	key := []byte(strconv.FormatUint(uint64(n.UserID), 10))
	if err := s.producer.SendMessage(ctx, s.kafkaCfg.NotificationsTopic, key, payload); err != nil {
		log.Printf("推送通知到 Kafka 失败 (user %d): %v", n.UserID, err)
	}
}

func (s *notificationService) GetForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) ([]*models.Notification, error) {
		return s.notifRepo.GetForUser(ctx, userID, limit, offset)
	}, "获取通知列表失败")
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		return s.notifRepo.MarkAllRead(ctx, userID)
	}, "标记全部通知已读失败")
}

func (s *notificationService) MarkReadByCategoryAndActor(ctx context.Context, userID uint, category models.NotificationCategory, actorID uint) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		return s.notifRepo.MarkReadByCategoryAndActor(ctx, userID, category, actorID)
	}, "按类别标记通知已读失败")
}
