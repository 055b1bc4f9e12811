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

// SocialHandler handles HTTP requests related to the follow/block graph.
type SocialHandler struct {
	socialService services.SocialService
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(ss services.SocialService) *SocialHandler {
	return &SocialHandler{socialService: ss}
}

// pathUserID 从路由变量中解析目标用户ID。
func pathUserID(r *http.Request) (uint, bool) {
	idStr, ok := mux.Vars(r)["userID"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// FollowHandler handles POST /api/v1/users/{userID}/follow
func (h *SocialHandler) FollowHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := pathUserID(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.socialService.RequestFollow(r.Context(), actorID, targetID); err != nil {
		writeServiceError(w, err, "处理关注请求失败")
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"message": "关注请求已处理"})
}

// UnfollowHandler handles DELETE /api/v1/users/{userID}/follow
func (h *SocialHandler) UnfollowHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := pathUserID(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.socialService.Unfollow(r.Context(), actorID, targetID); err != nil {
		writeServiceError(w, err, "取消关注失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "已取消关注"})
}

// respondToRequestPayload 是接受/拒绝关注请求的请求体。
type respondToRequestPayload struct {
	RequesterID uint `json:"requesterId"`
}

// AcceptFollowRequestHandler handles POST /api/v1/follow-requests/accept
func (h *SocialHandler) AcceptFollowRequestHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload respondToRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.RequesterID == 0 {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.socialService.AcceptFollowRequest(r.Context(), payload.RequesterID, userID); err != nil {
		writeServiceError(w, err, "接受关注请求失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "关注请求已接受"})
}

// RejectFollowRequestHandler handles POST /api/v1/follow-requests/reject
func (h *SocialHandler) RejectFollowRequestHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload respondToRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.RequesterID == 0 {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.socialService.RejectFollowRequest(r.Context(), payload.RequesterID, userID); err != nil {
		writeServiceError(w, err, "拒绝关注请求失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "关注请求已拒绝"})
}

// ListPendingRequestsHandler handles GET /api/v1/follow-requests/pending
func (h *SocialHandler) ListPendingRequestsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	pending, err := h.socialService.ListPendingRequests(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "获取待处理请求失败")
		return
	}
	if pending == nil {
		pending = []*models.FollowRequestWithRequester{}
	}
	writeJSONResponse(w, http.StatusOK, pending)
}

// BlockHandler handles POST /api/v1/users/{userID}/block
func (h *SocialHandler) BlockHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := pathUserID(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.socialService.Block(r.Context(), actorID, targetID); err != nil {
		writeServiceError(w, err, "拉黑用户失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "已拉黑该用户"})
}

// UnblockHandler handles DELETE /api/v1/users/{userID}/block
func (h *SocialHandler) UnblockHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	targetID, ok := pathUserID(r)
	if !ok {
		writeJSONError(w, "无效的用户ID", http.StatusBadRequest)
		return
	}

	if err := h.socialService.Unblock(r.Context(), actorID, targetID); err != nil {
		writeServiceError(w, err, "解除拉黑失败")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "已解除拉黑"})
}

// ListFollowingHandler handles GET /api/v1/users/me/following
func (h *SocialHandler) ListFollowingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	users, err := h.socialService.GetFollowing(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "获取关注列表失败")
		return
	}
	if users == nil {
		users = []*models.UserBasicInfo{}
	}
	writeJSONResponse(w, http.StatusOK, users)
}

// ListFollowersHandler handles GET /api/v1/users/me/followers
func (h *SocialHandler) ListFollowersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	users, err := h.socialService.GetFollowers(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "获取粉丝列表失败")
		return
	}
	if users == nil {
		users = []*models.UserBasicInfo{}
	}
	writeJSONResponse(w, http.StatusOK, users)
}
