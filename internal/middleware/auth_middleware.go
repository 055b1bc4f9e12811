package middleware

import (
	"context"
	"net/http"
	"strings"

	"chatsync/internal/auth"
	"chatsync/internal/config"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// UserIDKey 是用于在上下文中存储用户ID的键。
const UserIDKey contextKey = "userID"

// UsernameKey 是用于在上下文中存储用户名的键。
const UsernameKey contextKey = "username"

// AuthMiddleware 返回一个 HTTP 中间件，用于验证 JWT 并将用户信息添加到上下文中。
// 令牌取自 Authorization: Bearer 头；浏览器的 WebSocket 连接无法设置请求头，
// 允许退化为 ?token= 查询参数。
func AuthMiddleware(authCfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ""
			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				headerParts := strings.Split(authHeader, " ")
				if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
					http.Error(w, "授权头部格式无效", http.StatusUnauthorized)
					return
				}
				tokenString = headerParts[1]
			} else {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				http.Error(w, "请求未包含授权令牌", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ValidateToken(tokenString, authCfg.JWTSecretKey)
			if err != nil {
				http.Error(w, "令牌无效", http.StatusUnauthorized)
				return
			}

			// 将用户信息存入请求上下文
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UsernameKey, claims.Username)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext 从上下文中获取用户ID。
// 如果用户ID不存在或类型不正确，返回0和false。
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok
}

// GetUsernameFromContext 从上下文中获取用户名。
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}
