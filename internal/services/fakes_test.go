package services

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/apperr"
	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/internal/netmon"
	"chatsync/internal/retry"
)

func kafkaTestConfig() config.KafkaConfig {
	return config.KafkaConfig{NotificationsTopic: "test-notifications"}
}

// 服务层测试用的内存仓库。err 字段非空时所有方法返回该错误，
// 用于模拟瞬时故障。

func newTestExecutor(monitor *netmon.Monitor) *retry.Executor {
	return &retry.Executor{
		MaxAttempts:   2,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      2 * time.Millisecond,
		Monitor:       monitor,
	}
}

type fakeUserRepo struct {
	users map[uint]*models.User
	err   error
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[uint]*models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	if r.err != nil {
		return r.err
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uint) (*models.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.UserBasicInfo{ID: u.ID, Username: u.Username, Nickname: u.Nickname}, nil
}

func (r *fakeUserRepo) GetMultipleBasicInfoByIDs(ctx context.Context, ids []uint) ([]*models.UserBasicInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.UserBasicInfo
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, &models.UserBasicInfo{ID: u.ID, Username: u.Username, Nickname: u.Nickname})
		}
	}
	return out, nil
}

type pair struct{ a, b uint }

type fakeSocialRepo struct {
	follows map[pair]bool
	blocks  map[pair]bool
	reqRepo *fakeFollowRequestRepo // ApplyBlock 顺带拒绝双向 pending 请求
	err     error
}

func newFakeSocialRepo() *fakeSocialRepo {
	return &fakeSocialRepo{follows: make(map[pair]bool), blocks: make(map[pair]bool)}
}

func (r *fakeSocialRepo) CreateFollow(ctx context.Context, followerID, followeeID uint) error {
	if r.err != nil {
		return r.err
	}
	r.follows[pair{followerID, followeeID}] = true
	return nil
}

func (r *fakeSocialRepo) DeleteFollow(ctx context.Context, followerID, followeeID uint) error {
	if r.err != nil {
		return r.err
	}
	delete(r.follows, pair{followerID, followeeID})
	return nil
}

func (r *fakeSocialRepo) FollowExists(ctx context.Context, followerID, followeeID uint) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.follows[pair{followerID, followeeID}], nil
}

func (r *fakeSocialRepo) GetFollowingIDs(ctx context.Context, userID uint) ([]uint, error) {
	if r.err != nil {
		return nil, r.err
	}
	var ids []uint
	for p := range r.follows {
		if p.a == userID {
			ids = append(ids, p.b)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *fakeSocialRepo) GetFollowerIDs(ctx context.Context, userID uint) ([]uint, error) {
	if r.err != nil {
		return nil, r.err
	}
	var ids []uint
	for p := range r.follows {
		if p.b == userID {
			ids = append(ids, p.a)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *fakeSocialRepo) BlockExistsEither(ctx context.Context, userID1, userID2 uint) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.blocks[pair{userID1, userID2}] || r.blocks[pair{userID2, userID1}], nil
}

func (r *fakeSocialRepo) DeleteBlock(ctx context.Context, blockerID, blockedID uint) error {
	if r.err != nil {
		return r.err
	}
	delete(r.blocks, pair{blockerID, blockedID})
	return nil
}

func (r *fakeSocialRepo) ApplyBlock(ctx context.Context, blockerID, blockedID uint) error {
	if r.err != nil {
		return r.err
	}
	r.blocks[pair{blockerID, blockedID}] = true
	delete(r.follows, pair{blockerID, blockedID})
	delete(r.follows, pair{blockedID, blockerID})
	if r.reqRepo != nil {
		r.reqRepo.rejectPendingBetween(blockerID, blockedID)
	}
	return nil
}

type fakeFollowRequestRepo struct {
	requests []models.FollowRequest
	nextID   uint
	err      error
}

func newFakeFollowRequestRepo() *fakeFollowRequestRepo {
	return &fakeFollowRequestRepo{nextID: 1}
}

func (r *fakeFollowRequestRepo) Create(ctx context.Context, request *models.FollowRequest) error {
	if r.err != nil {
		return r.err
	}
	// 模拟条件唯一索引：同一有向对最多一条 pending
	for _, existing := range r.requests {
		if existing.FromUserID == request.FromUserID && existing.ToUserID == request.ToUserID &&
			existing.Status == models.FollowRequestStatusPending {
			return apperr.E(apperr.Conflict, "重复的关注请求")
		}
	}
	request.ID = r.nextID
	r.nextID++
	r.requests = append(r.requests, *request)
	return nil
}

func (r *fakeFollowRequestRepo) FindPending(ctx context.Context, fromUserID, toUserID uint) (*models.FollowRequest, error) {
	if r.err != nil {
		return nil, r.err
	}
	for i := range r.requests {
		req := &r.requests[i]
		if req.FromUserID == fromUserID && req.ToUserID == toUserID && req.Status == models.FollowRequestStatusPending {
			copy := *req
			return &copy, nil
		}
	}
	return nil, nil
}

func (r *fakeFollowRequestRepo) GetByID(ctx context.Context, requestID uint) (*models.FollowRequest, error) {
	if r.err != nil {
		return nil, r.err
	}
	for i := range r.requests {
		if r.requests[i].ID == requestID {
			copy := r.requests[i]
			return &copy, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeFollowRequestRepo) UpdateStatus(ctx context.Context, requestID uint, status models.FollowRequestStatus) error {
	if r.err != nil {
		return r.err
	}
	for i := range r.requests {
		if r.requests[i].ID == requestID {
			r.requests[i].Status = status
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeFollowRequestRepo) GetPendingForUser(ctx context.Context, toUserID uint) ([]models.FollowRequest, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []models.FollowRequest
	for _, req := range r.requests {
		if req.ToUserID == toUserID && req.Status == models.FollowRequestStatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *fakeFollowRequestRepo) rejectPendingBetween(userID1, userID2 uint) {
	for i := range r.requests {
		req := &r.requests[i]
		if req.Status != models.FollowRequestStatusPending {
			continue
		}
		if (req.FromUserID == userID1 && req.ToUserID == userID2) ||
			(req.FromUserID == userID2 && req.ToUserID == userID1) {
			req.Status = models.FollowRequestStatusRejected
		}
	}
}

func (r *fakeFollowRequestRepo) statusOf(fromUserID, toUserID uint) (models.FollowRequestStatus, bool) {
	for i := len(r.requests) - 1; i >= 0; i-- {
		req := r.requests[i]
		if req.FromUserID == fromUserID && req.ToUserID == toUserID {
			return req.Status, true
		}
	}
	return "", false
}

type fakeConvoRepo struct {
	conversations map[uint]*models.Conversation
	participants  map[uint][]models.ConversationParticipant
	byPairKey     map[string]uint
	nextID        uint
	err           error
}

func newFakeConvoRepo() *fakeConvoRepo {
	return &fakeConvoRepo{
		conversations: make(map[uint]*models.Conversation),
		participants:  make(map[uint][]models.ConversationParticipant),
		byPairKey:     make(map[string]uint),
		nextID:        1,
	}
}

func (r *fakeConvoRepo) FindOrCreateDirect(ctx context.Context, userID1, userID2 uint, createdBy uint) (*models.Conversation, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	pairKey := models.DirectPairKey(userID1, userID2)
	if id, ok := r.byPairKey[pairKey]; ok {
		return r.conversations[id], false, nil
	}
	conversation := &models.Conversation{
		IsGroup:   false,
		PairKey:   &pairKey,
		CreatedBy: createdBy,
	}
	conversation.ID = r.nextID
	r.nextID++
	r.conversations[conversation.ID] = conversation
	r.byPairKey[pairKey] = conversation.ID
	now := time.Now()
	r.participants[conversation.ID] = []models.ConversationParticipant{
		{ConversationID: conversation.ID, UserID: userID1, JoinedAt: now},
		{ConversationID: conversation.ID, UserID: userID2, JoinedAt: now},
	}
	return conversation, true, nil
}

func (r *fakeConvoRepo) FindDirectByUsers(ctx context.Context, userID1, userID2 uint) (*models.Conversation, error) {
	if r.err != nil {
		return nil, r.err
	}
	if id, ok := r.byPairKey[models.DirectPairKey(userID1, userID2)]; ok {
		return r.conversations[id], nil
	}
	return nil, nil
}

func (r *fakeConvoRepo) CreateGroup(ctx context.Context, conversation *models.Conversation, participantIDs []uint, adminID uint) error {
	if r.err != nil {
		return r.err
	}
	conversation.IsGroup = true
	conversation.ID = r.nextID
	r.nextID++
	r.conversations[conversation.ID] = conversation
	now := time.Now()
	seen := make(map[uint]bool)
	for _, id := range participantIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		r.participants[conversation.ID] = append(r.participants[conversation.ID], models.ConversationParticipant{
			ConversationID: conversation.ID,
			UserID:         id,
			JoinedAt:       now,
			IsAdmin:        id == adminID,
		})
	}
	return nil
}

func (r *fakeConvoRepo) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.conversations[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *fakeConvoRepo) GetUserConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.Conversation
	for id, parts := range r.participants {
		for _, p := range parts {
			if p.UserID == userID {
				out = append(out, r.conversations[id])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeConvoRepo) GetParticipant(ctx context.Context, conversationID, userID uint) (*models.ConversationParticipant, error) {
	if r.err != nil {
		return nil, r.err
	}
	for i := range r.participants[conversationID] {
		p := r.participants[conversationID][i]
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeConvoRepo) GetParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.ConversationParticipant
	for i := range r.participants[conversationID] {
		p := r.participants[conversationID][i]
		out = append(out, &p)
	}
	return out, nil
}

func (r *fakeConvoRepo) SetLastMessage(ctx context.Context, conversationID, messageID uint) error {
	if r.err != nil {
		return r.err
	}
	if c, ok := r.conversations[conversationID]; ok {
		c.LastMessageID = &messageID
	}
	return nil
}

type fakeMsgRepo struct {
	messages  map[uint]*models.Message
	reads     map[pair]bool // (messageID, userID)
	deletions map[pair]bool
	nextID    uint
	err       error
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{
		messages:  make(map[uint]*models.Message),
		reads:     make(map[pair]bool),
		deletions: make(map[pair]bool),
		nextID:    1,
	}
}

func (r *fakeMsgRepo) Create(ctx context.Context, message *models.Message) error {
	if r.err != nil {
		return r.err
	}
	message.ID = r.nextID
	r.nextID++
	r.messages[message.ID] = message
	r.reads[pair{message.ID, message.SenderID}] = true // 发送者视为已读
	return nil
}

func (r *fakeMsgRepo) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	if r.err != nil {
		return nil, r.err
	}
	m, ok := r.messages[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return m, nil
}

func (r *fakeMsgRepo) GetPageBefore(ctx context.Context, conversationID, viewerID uint, limit int, before *time.Time) ([]*models.Message, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID || m.TombstonedAt != nil {
			continue
		}
		if r.deletions[pair{m.ID, viewerID}] {
			continue
		}
		if before != nil && !m.SentAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMsgRepo) MarkConversationRead(ctx context.Context, conversationID, userID uint) error {
	if r.err != nil {
		return r.err
	}
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.TombstonedAt == nil {
			r.reads[pair{m.ID, userID}] = true
		}
	}
	return nil
}

func (r *fakeMsgRepo) GetReaderIDs(ctx context.Context, messageID uint) ([]uint, error) {
	if r.err != nil {
		return nil, r.err
	}
	var ids []uint
	for p, ok := range r.reads {
		if ok && p.a == messageID {
			ids = append(ids, p.b)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *fakeMsgRepo) Tombstone(ctx context.Context, messageID uint) error {
	if r.err != nil {
		return r.err
	}
	m, ok := r.messages[messageID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	m.TombstonedAt = &now
	return nil
}

func (r *fakeMsgRepo) AddDeletion(ctx context.Context, messageID, userID uint) error {
	if r.err != nil {
		return r.err
	}
	r.deletions[pair{messageID, userID}] = true
	return nil
}

type fakeNotifRepo struct {
	notifications []*models.Notification
	nextID        uint
	err           error
}

func newFakeNotifRepo() *fakeNotifRepo {
	return &fakeNotifRepo{nextID: 1}
}

func (r *fakeNotifRepo) Upsert(ctx context.Context, n *models.Notification) error {
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.notifications {
		if existing.UserID == n.UserID && existing.Category == n.Category &&
			existing.ActorID == n.ActorID && !existing.IsRead {
			existing.RelatedID = n.RelatedID
			existing.UpdatedAt = time.Now()
			*n = *existing
			return nil
		}
	}
	n.ID = r.nextID
	r.nextID++
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *fakeNotifRepo) GetForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.Notification
	for _, n := range r.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeNotifRepo) MarkAllRead(ctx context.Context, userID uint) error {
	if r.err != nil {
		return r.err
	}
	for _, n := range r.notifications {
		if n.UserID == userID {
			n.IsRead = true
		}
	}
	return nil
}

func (r *fakeNotifRepo) MarkReadByCategoryAndActor(ctx context.Context, userID uint, category models.NotificationCategory, actorID uint) error {
	if r.err != nil {
		return r.err
	}
	for _, n := range r.notifications {
		if n.UserID == userID && n.Category == category && n.ActorID == actorID {
			n.IsRead = true
		}
	}
	return nil
}

func (r *fakeNotifRepo) unreadFor(userID uint) []*models.Notification {
	var out []*models.Notification
	for _, n := range r.notifications {
		if n.UserID == userID && !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}
