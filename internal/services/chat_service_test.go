package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/netmon"
	"chatsync/internal/offline"
)

type chatFixture struct {
	convos  *fakeConvoRepo
	msgs    *fakeMsgRepo
	social  *fakeSocialRepo
	notifs  *fakeNotifRepo
	queue   *offline.Queue
	monitor *netmon.Monitor
	service ChatService
}

func newChatFixture() *chatFixture {
	f := &chatFixture{
		convos:  newFakeConvoRepo(),
		msgs:    newFakeMsgRepo(),
		social:  newFakeSocialRepo(),
		notifs:  newFakeNotifRepo(),
		queue:   offline.NewQueue(offline.NewMemoryStore()),
		monitor: netmon.NewMonitor(nil),
	}
	executor := newTestExecutor(f.monitor)
	notifier := NewNotificationService(f.notifs, f.social, executor, nil, kafkaTestConfig())
	f.service = NewChatService(f.convos, f.msgs, f.social, executor, f.queue, notifier)
	return f
}

func TestCreateDirectConversationDedupsBothOrders(t *testing.T) {
	f := newChatFixture()

	first, err := f.service.CreateConversation(context.Background(), 1, []uint{2}, false, "")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !first.Created || first.Conversation == nil {
		t.Fatal("first create should produce a new conversation")
	}

	// 同一对用户反向创建：收敛到同一会话
	second, err := f.service.CreateConversation(context.Background(), 2, []uint{1}, false, "")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Created {
		t.Fatal("second create must reuse the existing conversation")
	}
	if second.Conversation.ID != first.Conversation.ID {
		t.Fatalf("conversations differ: %d vs %d", first.Conversation.ID, second.Conversation.ID)
	}
}

func TestCreateDirectConversationRequiresExactlyTwo(t *testing.T) {
	f := newChatFixture()
	if _, err := f.service.CreateConversation(context.Background(), 1, []uint{2, 3}, false, ""); !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("expected ErrInvalidParticipants, got %v", err)
	}
	if _, err := f.service.CreateConversation(context.Background(), 1, nil, false, ""); !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("expected ErrInvalidParticipants for self-only, got %v", err)
	}
}

func TestCreateDirectConversationBlockedFails(t *testing.T) {
	f := newChatFixture()
	f.social.blocks[pair{2, 1}] = true

	if _, err := f.service.CreateConversation(context.Background(), 1, []uint{2}, false, ""); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestNewDirectConversationDispatchesMessageRequest(t *testing.T) {
	f := newChatFixture()

	if _, err := f.service.CreateConversation(context.Background(), 1, []uint{2}, false, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	unread := f.notifs.unreadFor(2)
	if len(unread) != 1 || unread[0].Category != models.NotificationMessageRequest {
		t.Fatalf("recipient should get a message_request notification, got %v", unread)
	}

	// 重复创建不再通知
	if _, err := f.service.CreateConversation(context.Background(), 1, []uint{2}, false, ""); err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if len(f.notifs.unreadFor(2)) != 1 {
		t.Fatal("reusing the conversation must not re-notify")
	}
}

func TestNewDirectConversationNoRequestWhenFollowing(t *testing.T) {
	f := newChatFixture()
	f.social.follows[pair{1, 2}] = true // 发起者关注接收者

	if _, err := f.service.CreateConversation(context.Background(), 1, []uint{2}, false, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(f.notifs.unreadFor(2)) != 0 {
		t.Fatal("no message_request when the initiator follows the recipient")
	}
}

func TestCreateGroupConversation(t *testing.T) {
	f := newChatFixture()

	result, err := f.service.CreateConversation(context.Background(), 1, []uint{2, 3}, true, "周末小组")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if !result.Created || !result.Conversation.IsGroup {
		t.Fatal("expected a new group conversation")
	}

	participants, _ := f.convos.GetParticipants(context.Background(), result.Conversation.ID)
	if len(participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(participants))
	}
	admin, err := f.convos.GetParticipant(context.Background(), result.Conversation.ID, 1)
	if err != nil || !admin.IsAdmin {
		t.Fatal("creator should be a participant with admin flag")
	}
}

func mustCreateDirect(t *testing.T, f *chatFixture, a, b uint) *models.Conversation {
	t.Helper()
	result, err := f.service.CreateConversation(context.Background(), a, []uint{b}, false, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return result.Conversation
}

func sendText(f *chatFixture, senderID, conversationID uint, text string) (*MessageResult, error) {
	return f.service.SendMessage(context.Background(), SendMessageInput{
		SenderID:       senderID,
		ConversationID: conversationID,
		Content:        models.TextMessage(text),
	})
}

func TestSendMessageRequiresParticipant(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)

	_, err := sendText(f, 3, convo.ID, "你好")
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestSendMessageBlockedAfterConversationCreated(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)
	f.social.blocks[pair{2, 1}] = true // 会话建立后才拉黑

	_, err := sendText(f, 1, convo.ID, "你好")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestSendMessageUpdatesLastMessage(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)

	result, err := sendText(f, 1, convo.ID, "你好")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Message == nil || result.Message.ID == 0 {
		t.Fatal("message should be persisted with an ID")
	}
	if convo.LastMessageID == nil || *convo.LastMessageID != result.Message.ID {
		t.Fatal("conversation should track the last message")
	}
}

func TestGetMessagesChronologicalAndFiltersDeleted(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)

	var ids []uint
	for i := 0; i < 3; i++ {
		result, err := sendText(f, 1, convo.ID, "消息")
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		ids = append(ids, result.Message.ID)
		// SentAt 单调递增
		result.Message.SentAt = result.Message.SentAt.Add(time.Duration(i) * time.Millisecond)
	}

	// 第二条：发送者对所有人删除；第三条：接收者对自己删除
	if err := f.service.DeleteMessage(context.Background(), 1, ids[1], true); err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	if err := f.service.DeleteMessage(context.Background(), 2, ids[2], false); err != nil {
		t.Fatalf("per-user delete: %v", err)
	}

	// 发送者视角：看到第一条和第三条，时间正序
	got, err := f.service.GetMessages(context.Background(), 1, convo.ID, 50, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[0] || got[1].ID != ids[2] {
		t.Fatalf("sender view wrong: %v", messageIDs(got))
	}

	// 接收者视角：第三条被本人删除，只剩第一条
	got, err = f.service.GetMessages(context.Background(), 2, convo.ID, 50, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 1 || got[0].ID != ids[0] {
		t.Fatalf("recipient view wrong: %v", messageIDs(got))
	}
}

func messageIDs(messages []*models.Message) []uint {
	out := make([]uint, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestGetMessagesPagesByMessageIDCursor(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)

	base := time.Now()
	var ids []uint
	for i := 0; i < 3; i++ {
		result, err := sendText(f, 1, convo.ID, "消息")
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		result.Message.SentAt = base.Add(time.Duration(i) * time.Second)
		ids = append(ids, result.Message.ID)
	}

	// 游标消息解析为它的时间点，返回严格更早的一页
	got, err := f.service.GetMessages(context.Background(), 2, convo.ID, 50, ids[2])
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[0] || got[1].ID != ids[1] {
		t.Fatalf("cursor page wrong: %v", messageIDs(got))
	}

	got, err = f.service.GetMessages(context.Background(), 2, convo.ID, 50, ids[1])
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != 1 || got[0].ID != ids[0] {
		t.Fatalf("second page wrong: %v", messageIDs(got))
	}

	if _, err := f.service.GetMessages(context.Background(), 2, convo.ID, 50, 777); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("unknown cursor should fail with ErrMessageNotFound, got %v", err)
	}
}

func TestGetMessagesCursorMustBelongToConversation(t *testing.T) {
	f := newChatFixture()
	convoA := mustCreateDirect(t, f, 1, 2)
	convoB := mustCreateDirect(t, f, 1, 3)

	result, err := sendText(f, 1, convoB.ID, "别处的消息")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f.service.GetMessages(context.Background(), 2, convoA.ID, 50, result.Message.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("cursor from another conversation should fail, got %v", err)
	}
}

func TestGetMessagesRequiresParticipant(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)
	if _, err := f.service.GetMessages(context.Background(), 9, convo.ID, 50, 0); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestDeleteForEveryoneOnlyBySender(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)
	result, err := sendText(f, 1, convo.ID, "你好")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	err = f.service.DeleteMessage(context.Background(), 2, result.Message.ID, true)
	if !errors.Is(err, ErrNotMessageSender) {
		t.Fatalf("expected ErrNotMessageSender, got %v", err)
	}
}

func TestMarkMessagesAsReadIsIdempotent(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)
	result, err := sendText(f, 1, convo.ID, "你好")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.service.MarkMessagesAsRead(context.Background(), 2, convo.ID); err != nil {
			t.Fatalf("mark read (round %d): %v", i, err)
		}
	}

	readers, _ := f.msgs.GetReaderIDs(context.Background(), result.Message.ID)
	if len(readers) != 2 {
		t.Fatalf("expected sender and recipient as readers, got %v", readers)
	}
}

func TestMarkMessagesAsReadSkipsTombstoned(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)

	kept, err := sendText(f, 1, convo.ID, "保留")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	gone, err := sendText(f, 1, convo.ID, "删除")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := f.service.DeleteMessage(context.Background(), 1, gone.Message.ID, true); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	if err := f.service.MarkMessagesAsRead(context.Background(), 2, convo.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	readers, _ := f.msgs.GetReaderIDs(context.Background(), kept.Message.ID)
	if len(readers) != 2 {
		t.Fatalf("kept message should gain the reader, got %v", readers)
	}
	readers, _ = f.msgs.GetReaderIDs(context.Background(), gone.Message.ID)
	if len(readers) != 1 {
		t.Fatalf("tombstoned message must not gain read rows, got %v", readers)
	}
}

func TestCreateConversationQueuedWhileOffline(t *testing.T) {
	f := newChatFixture()
	f.monitor.SetOnline(false)

	result, err := f.service.CreateConversation(context.Background(), 1, []uint{2}, false, "")
	if err != nil {
		t.Fatalf("offline create should queue, got %v", err)
	}
	if !result.Queued || result.QueuedID == "" {
		t.Fatal("offline create should report a queued action")
	}
	if result.Conversation != nil {
		t.Fatal("no conversation exists before replay")
	}
	if n, _ := f.queue.Len(context.Background()); n != 1 {
		t.Fatalf("expected 1 queued action, got %d", n)
	}
}

func TestOfflineReplayCreateThenSend(t *testing.T) {
	f := newChatFixture()
	f.monitor.SetOnline(false)
	// 真实断连：后端读写一概失败，入队不能依赖任何远端读取
	f.convos.err = errors.New("connection refused")
	f.msgs.err = errors.New("connection refused")

	// 离线期间：创建会话 + 发消息都被捕获
	created, err := f.service.CreateConversation(context.Background(), 1, []uint{2}, false, "")
	if err != nil {
		t.Fatalf("offline create: %v", err)
	}
	if len(created.ParticipantIDs) != 2 {
		t.Fatalf("queued create should return the participant set, got %v", created.ParticipantIDs)
	}
	// 客户端拿着排队结果里的参与者集合发消息；本地会话 ID 是临时的
	if _, err := f.service.SendMessage(context.Background(), SendMessageInput{
		SenderID:       1,
		ConversationID: 999,
		ParticipantIDs: created.ParticipantIDs,
		Content:        models.TextMessage("离线消息"),
	}); err != nil {
		t.Fatalf("offline send: %v", err)
	}

	// 重连：按序重放，消息按参与者对解析到新创建的会话，不信任过期 ID
	f.convos.err = nil
	f.msgs.err = nil
	f.monitor.SetOnline(true)
	if err := f.queue.Flush(context.Background(), f.service.QueueHandlers()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n, _ := f.queue.Len(context.Background()); n != 0 {
		t.Fatalf("queue should drain, len = %d", n)
	}

	convo, err := f.convos.FindDirectByUsers(context.Background(), 1, 2)
	if err != nil || convo == nil {
		t.Fatalf("conversation should exist after replay: %v", err)
	}
	messages, err := f.service.GetMessages(context.Background(), 2, convo.ID, 50, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected the replayed message, got %d", len(messages))
	}
	content, err := messages[0].Content()
	if err != nil || content.Text != "离线消息" {
		t.Fatalf("replayed message content wrong: %+v (%v)", content, err)
	}
}

func TestSendMessageQueuedWhileOfflineReplaysById(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)

	f.monitor.SetOnline(false)
	result, err := sendText(f, 1, convo.ID, "稍后送达")
	if err != nil {
		t.Fatalf("offline send should queue, got %v", err)
	}
	if !result.Queued {
		t.Fatal("offline send should report queued")
	}

	f.monitor.SetOnline(true)
	if err := f.queue.Flush(context.Background(), f.service.QueueHandlers()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	messages, err := f.service.GetMessages(context.Background(), 2, convo.ID, 50, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 replayed message, got %d", len(messages))
	}
}

func TestOfflineReplayDiscardsTerminallyFailedAction(t *testing.T) {
	f := newChatFixture()
	convo := mustCreateDirect(t, f, 1, 2)

	f.monitor.SetOnline(false)
	if _, err := sendText(f, 1, convo.ID, "注定失败"); err != nil {
		t.Fatalf("offline send: %v", err)
	}

	// 重连前对方拉黑了发送者：重放遇到终态错误
	f.social.blocks[pair{2, 1}] = true
	f.monitor.SetOnline(true)

	err := f.queue.Flush(context.Background(), f.service.QueueHandlers())
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("flush should surface the terminal error, got %v", err)
	}
	if n, _ := f.queue.Len(context.Background()); n != 0 {
		t.Fatalf("terminally failed action should be discarded, len = %d", n)
	}
}
