package middleware

import (
	"Fieldlink/internal/api/config"
	"Fieldlink/internal/pkg/response"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 回环接口鉴权。UI 进程持有启动时下发的本地令牌，
// 防止同机其他进程访问消息库
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			response.Fail(c, response.Unauthorized, "Token 缺失或格式错误")
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		expected := config.Cfg.Server.LocalToken
		if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			response.Fail(c, response.Unauthorized, "Token 无效")
			c.Abort()
			return
		}

		c.Next()
	}
}
