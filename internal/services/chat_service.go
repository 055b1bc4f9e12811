package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
	"chatsync/internal/offline"
	"chatsync/internal/retry"
	"chatsync/internal/storage"
)

var (
	ErrConversationNotFound = apperr.E(apperr.NotFound, "会话不存在")
	ErrNotParticipant       = apperr.E(apperr.Forbidden, "不是该会话的参与者")
	ErrMessageNotFound      = apperr.E(apperr.NotFound, "消息不存在")
	ErrNotMessageSender     = apperr.E(apperr.Forbidden, "只有发送者才能为所有人删除消息")
	ErrInvalidParticipants  = apperr.E(apperr.Invalid, "参与者列表无效")
	ErrEmptyContent         = apperr.E(apperr.Invalid, "消息内容不能为空")
)

// ConversationResult 是创建会话的结果。Queued 为 true 表示操作因后端不可达
// 被捕获进离线队列，Conversation 为 nil，重连后重放。排队结果同时回带
// 规范化后的参与者集合，后续排队的发送携带它来重新解析会话。
type ConversationResult struct {
	Conversation   *models.Conversation `json:"conversation,omitempty"`
	Created        bool                 `json:"created"`
	Queued         bool                 `json:"queued"`
	QueuedID       string               `json:"queuedId,omitempty"`
	ParticipantIDs []uint               `json:"participantIds,omitempty"`
}

// SendMessageInput 是发送消息的入参。ParticipantIDs 由调用方提供（例如
// 来自排队创建会话的返回值）：后端不可达时它随动作一起入队，重放按参与者
// 对重新解析会话，而不是信任一个可能已过期的会话 ID。
type SendMessageInput struct {
	SenderID       uint
	ConversationID uint
	ParticipantIDs []uint
	Content        *models.Content
}

// MessageResult 是发送消息的结果，Queued 语义同 ConversationResult。
type MessageResult struct {
	Message  *models.Message `json:"message,omitempty"`
	Queued   bool            `json:"queued"`
	QueuedID string          `json:"queuedId,omitempty"`
}

// ChatService 定义了会话与消息同步的业务逻辑接口。
type ChatService interface {
	// CreateConversation 创建（或找到已有的）会话。两人的私聊会话按参与者对
	// 去重：重复创建返回同一个会话。后端不可达时操作入离线队列。
	CreateConversation(ctx context.Context, actorID uint, participantIDs []uint, isGroup bool, name string) (*ConversationResult, error)
	// SendMessage 向会话发送一条消息。后端不可达时操作入离线队列。
	SendMessage(ctx context.Context, in SendMessageInput) (*MessageResult, error)
	// GetMessages 按时间倒序分页拉取消息，返回时翻转为时间正序。
	// 游标是消息 ID，解析为该消息的时间戳后取严格更早的一页；
	// beforeMessageID 为 0 时从最新一页开始。
	GetMessages(ctx context.Context, userID, conversationID uint, limit int, beforeMessageID uint) ([]*models.Message, error)
	// MarkMessagesAsRead 把会话中 viewer 未读的消息一次性标记为已读。
	MarkMessagesAsRead(ctx context.Context, userID, conversationID uint) error
	// DeleteMessage 删除消息。forEveryone 时仅发送者可操作，消息对所有
	// 参与者墓碑化；否则只对操作者本人隐藏。
	DeleteMessage(ctx context.Context, userID, messageID uint, forEveryone bool) error
	GetUserConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error)

	// QueueHandlers 返回离线队列重放用的处理器表。
	QueueHandlers() map[string]offline.Handler
}

// chatService 是 ChatService 的实现。
type chatService struct {
	convoRepo  storage.ConversationRepository
	msgRepo    storage.MessageRepository
	socialRepo storage.SocialGraphRepository
	executor   *retry.Executor
	queue      *offline.Queue
	notifier   NotificationService
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	convoRepo storage.ConversationRepository,
	msgRepo storage.MessageRepository,
	socialRepo storage.SocialGraphRepository,
	executor *retry.Executor,
	queue *offline.Queue,
	notifier NotificationService,
) ChatService {
	return &chatService{
		convoRepo:  convoRepo,
		msgRepo:    msgRepo,
		socialRepo: socialRepo,
		executor:   executor,
		queue:      queue,
		notifier:   notifier,
	}
}

// 离线队列的 payload。重放时从这里重建完整操作，不依赖中断时的局部状态。
type queuedConversationPayload struct {
	ActorID        uint   `json:"actorId"`
	ParticipantIDs []uint `json:"participantIds"`
	IsGroup        bool   `json:"isGroup"`
	Name           string `json:"name,omitempty"`
}

type queuedMessagePayload struct {
	SenderID       uint            `json:"senderId"`
	ConversationID uint            `json:"conversationId,omitempty"`
	ParticipantIDs []uint          `json:"participantIds,omitempty"`
	Content        *models.Content `json:"content"`
}

// CreateConversation 创建会话。
func (s *chatService) CreateConversation(ctx context.Context, actorID uint, participantIDs []uint, isGroup bool, name string) (*ConversationResult, error) {
	ids := normalizeParticipants(actorID, participantIDs)
	if isGroup {
		if len(ids) < 2 {
			return nil, ErrInvalidParticipants
		}
	} else if len(ids) != 2 {
		return nil, ErrInvalidParticipants
	}

	result, err := s.createConversation(ctx, actorID, ids, isGroup, name, true)
	if errors.Is(err, retry.ErrOffline) {
		action, qErr := s.queue.Enqueue(ctx, offline.ActionCreateConversation, queuedConversationPayload{
			ActorID:        actorID,
			ParticipantIDs: ids,
			IsGroup:        isGroup,
			Name:           name,
		})
		if qErr != nil {
			return nil, qErr
		}
		return &ConversationResult{Queued: true, QueuedID: action.ID, ParticipantIDs: ids}, nil
	}
	return result, err
}

// createConversation 是在线路径与离线重放共用的核心逻辑。notify 为 false
// 时跳过消息请求通知（重放时由 payload 决定是否补发）。
func (s *chatService) createConversation(ctx context.Context, actorID uint, ids []uint, isGroup bool, name string, notify bool) (*ConversationResult, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) (*ConversationResult, error) {
		if isGroup {
			conversation := &models.Conversation{Name: name, CreatedBy: actorID}
			if err := s.convoRepo.CreateGroup(ctx, conversation, ids, actorID); err != nil {
				return nil, err
			}
			return &ConversationResult{Conversation: conversation, Created: true}, nil
		}

		other := ids[0]
		if other == actorID {
			other = ids[1]
		}

		blocked, err := s.socialRepo.BlockExistsEither(ctx, actorID, other)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, ErrBlocked
		}

		conversation, created, err := s.convoRepo.FindOrCreateDirect(ctx, actorID, other, actorID)
		if err != nil {
			return nil, err
		}
		if created && notify {
			// 消息请求通知只在会话首次建立时发；关注关系的抑制规则
			// 由 notifier 判断。
			if err := s.notifier.Dispatch(ctx, Event{
				Kind:      EventMessageRequest,
				ActorID:   actorID,
				SubjectID: other,
				RelatedID: &conversation.ID,
			}); err != nil {
				log.Printf("派发消息请求通知失败 (%d -> %d): %v", actorID, other, err)
			}
		}
		return &ConversationResult{Conversation: conversation, Created: created}, nil
	}, "创建会话失败")
}

// SendMessage 向会话发送消息。
func (s *chatService) SendMessage(ctx context.Context, in SendMessageInput) (*MessageResult, error) {
	if in.Content == nil {
		return nil, ErrEmptyContent
	}

	result, err := s.sendMessage(ctx, in.SenderID, in.ConversationID, in.Content)
	if errors.Is(err, retry.ErrOffline) {
		// 参与者集合取自调用方手里的状态，不在断连时去读后端。消息可能
		// 依赖同样排队的 create_conversation，重放时按参与者对重新解析
		// 会话 ID。
		var participantIDs []uint
		if len(in.ParticipantIDs) > 0 {
			participantIDs = normalizeParticipants(in.SenderID, in.ParticipantIDs)
		}
		action, qErr := s.queue.Enqueue(ctx, offline.ActionSendMessage, queuedMessagePayload{
			SenderID:       in.SenderID,
			ConversationID: in.ConversationID,
			ParticipantIDs: participantIDs,
			Content:        in.Content,
		})
		if qErr != nil {
			return nil, qErr
		}
		return &MessageResult{Queued: true, QueuedID: action.ID}, nil
	}
	return result, err
}

func (s *chatService) sendMessage(ctx context.Context, senderID, conversationID uint, content *models.Content) (*MessageResult, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) (*MessageResult, error) {
		conversation, err := s.convoRepo.GetByID(ctx, conversationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, err
		}

		if _, err := s.convoRepo.GetParticipant(ctx, conversationID, senderID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotParticipant
			}
			return nil, err
		}

		// 私聊会话在发送时机检查拉黑，拉黑发生在会话创建之后也能拦住。
		if !conversation.IsGroup {
			participants, err := s.convoRepo.GetParticipants(ctx, conversationID)
			if err != nil {
				return nil, err
			}
			for _, p := range participants {
				if p.UserID == senderID {
					continue
				}
				blocked, err := s.socialRepo.BlockExistsEither(ctx, senderID, p.UserID)
				if err != nil {
					return nil, err
				}
				if blocked {
					return nil, ErrBlocked
				}
			}
		}

		message := &models.Message{
			ConversationID: conversationID,
			SenderID:       senderID,
			SentAt:         time.Now(),
		}
		if err := message.SetContent(content); err != nil {
			return nil, apperr.Wrap(apperr.Invalid, "消息内容无效", err)
		}
		if err := s.msgRepo.Create(ctx, message); err != nil {
			return nil, err
		}
		if err := s.convoRepo.SetLastMessage(ctx, conversationID, message.ID); err != nil {
			log.Printf("更新会话 %d 最后消息失败: %v", conversationID, err)
		}
		return &MessageResult{Message: message}, nil
	}, "发送消息失败")
}

// GetMessages 分页拉取消息。游标消息先解析成它的 sent_at 时间点，仓储层
// 按该时间点倒序取一页，这里翻转为时间正序方便客户端直接渲染。
func (s *chatService) GetMessages(ctx context.Context, userID, conversationID uint, limit int, beforeMessageID uint) ([]*models.Message, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) ([]*models.Message, error) {
		if _, err := s.convoRepo.GetParticipant(ctx, conversationID, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotParticipant
			}
			return nil, err
		}

		var before *time.Time
		if beforeMessageID != 0 {
			cursor, err := s.msgRepo.GetByID(ctx, beforeMessageID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, ErrMessageNotFound
				}
				return nil, err
			}
			if cursor.ConversationID != conversationID {
				return nil, ErrMessageNotFound
			}
			before = &cursor.SentAt
		}

		messages, err := s.msgRepo.GetPageBefore(ctx, conversationID, userID, limit, before)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	}, "获取消息失败")
}

// MarkMessagesAsRead 批量标记会话已读。重复调用是幂等的空操作。
func (s *chatService) MarkMessagesAsRead(ctx context.Context, userID, conversationID uint) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		if _, err := s.convoRepo.GetParticipant(ctx, conversationID, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotParticipant
			}
			return err
		}
		return s.msgRepo.MarkConversationRead(ctx, conversationID, userID)
	}, "标记消息已读失败")
}

// DeleteMessage 删除消息。
func (s *chatService) DeleteMessage(ctx context.Context, userID, messageID uint, forEveryone bool) error {
	return s.executor.Do(ctx, func(ctx context.Context) error {
		message, err := s.msgRepo.GetByID(ctx, messageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}

		if forEveryone {
			if message.SenderID != userID {
				return ErrNotMessageSender
			}
			return s.msgRepo.Tombstone(ctx, messageID)
		}

		if _, err := s.convoRepo.GetParticipant(ctx, message.ConversationID, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotParticipant
			}
			return err
		}
		return s.msgRepo.AddDeletion(ctx, messageID, userID)
	}, "删除消息失败")
}

// GetUserConversations 获取用户的会话列表，按最近活动排序。
func (s *chatService) GetUserConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error) {
	return retry.DoValue(ctx, s.executor, func(ctx context.Context) ([]*models.Conversation, error) {
		return s.convoRepo.GetUserConversations(ctx, userID, limit, offset)
	}, "获取会话列表失败")
}

// QueueHandlers 返回离线重放处理器。处理器从 payload 重建完整操作：
// create_conversation 走去重路径，重复重放收敛到同一会话；send_message
// 先按参与者对重新解析会话（会话可能刚被前一条重放的操作创建，ID 与
// 入队时客户端看到的不同）。
func (s *chatService) QueueHandlers() map[string]offline.Handler {
	return map[string]offline.Handler{
		offline.ActionCreateConversation: func(ctx context.Context, raw json.RawMessage) error {
			var p queuedConversationPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return apperr.Wrap(apperr.Invalid, "解码排队的会话创建操作失败", err)
			}
			_, err := s.createConversation(ctx, p.ActorID, p.ParticipantIDs, p.IsGroup, p.Name, true)
			return err
		},
		offline.ActionSendMessage: func(ctx context.Context, raw json.RawMessage) error {
			var p queuedMessagePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return apperr.Wrap(apperr.Invalid, "解码排队的消息发送操作失败", err)
			}

			conversationID := p.ConversationID
			if len(p.ParticipantIDs) == 2 {
				conversation, err := s.convoRepo.FindDirectByUsers(ctx, p.ParticipantIDs[0], p.ParticipantIDs[1])
				if err != nil {
					return err
				}
				if conversation != nil {
					conversationID = conversation.ID
				}
			}
			if conversationID == 0 {
				return ErrConversationNotFound
			}
			_, err := s.sendMessage(ctx, p.SenderID, conversationID, p.Content)
			return err
		},
	}
}

// normalizeParticipants 确保 actor 在参与者列表中，去重并排序。
func normalizeParticipants(actorID uint, participantIDs []uint) []uint {
	seen := map[uint]bool{actorID: true}
	ids := []uint{actorID}
	for _, id := range participantIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
