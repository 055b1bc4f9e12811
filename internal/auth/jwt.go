// Package auth 校验同步服务收到的 JWT。令牌由身份服务签发，这里只做验证。
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 是 JWT 中的自定义声明，嵌入了 jwt.RegisteredClaims。
type Claims struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ValidateToken 验证给定的 JWT 字符串的有效性。
// 如果令牌有效，它会返回 Claims。否则返回错误。
func ValidateToken(tokenString string, jwtKey string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// 确保签名算法是我们期望的
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名算法: %v", token.Header["alg"])
		}
		return []byte(jwtKey), nil
	})

	if err != nil {
		return nil, fmt.Errorf("解析或验证 JWT 失败: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("JWT 无效") // 包括过期在内的多种无效情况
	}

	return claims, nil
}
