package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("missing bearer token")

// ParseAddress 校验 HS256 JWT，返回 sub（钱包地址）
func ParseAddress(tokenStr string, secret []byte) (string, error) {
	if tokenStr == "" {
		return "", errMissingToken
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// JwtAuthMiddleware 从 Authorization: Bearer 或 ?token=（浏览器 WebSocket 无法带 header）读取 JWT，
// 通过后把地址写入 c.Set("address")
func JwtAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			tokenStr = c.Query("token")
		}

		addr, err := ParseAddress(strings.TrimSpace(tokenStr), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set("address", addr)
		c.Next()
	}
}
