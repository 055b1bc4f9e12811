package apiserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/services"
)

// ConversationHandler handles HTTP requests for conversations and messages.
type ConversationHandler struct {
	chatService services.ChatService
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(cs services.ChatService) *ConversationHandler {
	return &ConversationHandler{chatService: cs}
}

// CreateConversationPayload defines the expected JSON body for creating a conversation.
type CreateConversationPayload struct {
	ParticipantIDs []uint `json:"participantIds"`
	IsGroup        bool   `json:"isGroup"`
	Name           string `json:"name,omitempty"`
}

// CreateConversationHandler handles POST /api/v1/conversations
//
// 操作入离线队列时返回 202 与排队凭据，而不是 200。
func (h *ConversationHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload CreateConversationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	result, err := h.chatService.CreateConversation(r.Context(), userID, payload.ParticipantIDs, payload.IsGroup, payload.Name)
	if err != nil {
		writeServiceError(w, err, "创建会话失败")
		return
	}
	if result.Queued {
		writeJSONResponse(w, http.StatusAccepted, result)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, result)
}

// ListConversationsHandler handles GET /api/v1/conversations
func (h *ConversationHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	limit, offset := parsePagination(r)
	conversations, err := h.chatService.GetUserConversations(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err, "获取会话列表失败")
		return
	}
	if conversations == nil {
		conversations = []*models.Conversation{}
	}
	writeJSONResponse(w, http.StatusOK, conversations)
}

// SendMessagePayload defines the expected JSON body for sending a message.
// participantIds 可选：客户端回传排队创建会话时拿到的参与者集合，
// 断连发送入队后重放用它重新解析会话。
type SendMessagePayload struct {
	Content        *models.Content `json:"content"`
	ParticipantIDs []uint          `json:"participantIds,omitempty"`
}

// SendMessageHandler handles POST /api/v1/conversations/{conversationID}/messages
func (h *ConversationHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	conversationID, ok := pathConversationID(r)
	if !ok {
		writeJSONError(w, "无效的会话ID", http.StatusBadRequest)
		return
	}

	var payload SendMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	result, err := h.chatService.SendMessage(r.Context(), services.SendMessageInput{
		SenderID:       userID,
		ConversationID: conversationID,
		ParticipantIDs: payload.ParticipantIDs,
		Content:        payload.Content,
	})
	if err != nil {
		writeServiceError(w, err, "发送消息失败")
		return
	}
	if result.Queued {
		writeJSONResponse(w, http.StatusAccepted, result)
		return
	}
	writeJSONResponse(w, http.StatusCreated, result)
}

// GetMessagesHandler handles GET /api/v1/conversations/{conversationID}/messages
// 可选查询参数: limit, beforeMessageId (游标消息 ID，取严格早于它的一页)。
func (h *ConversationHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	conversationID, ok := pathConversationID(r)
	if !ok {
		writeJSONError(w, "无效的会话ID", http.StatusBadRequest)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	var beforeMessageID uint
	if beforeStr := r.URL.Query().Get("beforeMessageId"); beforeStr != "" {
		parsed, err := strconv.ParseUint(beforeStr, 10, 32)
		if err != nil || parsed == 0 {
			writeJSONError(w, "无效的 beforeMessageId", http.StatusBadRequest)
			return
		}
		beforeMessageID = uint(parsed)
	}

	messages, err := h.chatService.GetMessages(r.Context(), userID, conversationID, limit, beforeMessageID)
	if err != nil {
		writeServiceError(w, err, "获取消息失败")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

// MarkReadHandler handles POST /api/v1/conversations/{conversationID}/read
func (h *ConversationHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	conversationID, ok := pathConversationID(r)
	if !ok {
		writeJSONError(w, "无效的会话ID", http.StatusBadRequest)
		return
	}

	if err := h.chatService.MarkMessagesAsRead(r.Context(), userID, conversationID); err != nil {
		writeServiceError(w, err, "标记消息已读失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "消息已标记为已读"})
}

// DeleteMessageHandler handles DELETE /api/v1/messages/{messageID}
// 可选查询参数 forEveryone=true 时对所有参与者删除（仅发送者）。
func (h *ConversationHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	messageIDStr, ok := mux.Vars(r)["messageID"]
	if !ok {
		writeJSONError(w, "缺少消息ID", http.StatusBadRequest)
		return
	}
	messageID, err := strconv.ParseUint(messageIDStr, 10, 32)
	if err != nil {
		writeJSONError(w, "无效的消息ID格式", http.StatusBadRequest)
		return
	}
	forEveryone := r.URL.Query().Get("forEveryone") == "true"

	if err := h.chatService.DeleteMessage(r.Context(), userID, uint(messageID), forEveryone); err != nil {
		writeServiceError(w, err, "删除消息失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "消息已删除"})
}

func pathConversationID(r *http.Request) (uint, bool) {
	idStr, ok := mux.Vars(r)["conversationID"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
