package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hamdanyasser/debug-battle-backend/pkg/jwt"
)

const (
	ContextPlayerID = "player_id"
	ContextUsername = "username"
)

// Auth JWT 인증 미들웨어.
// 웹소켓 핸드셰이크는 헤더를 못 싣는 클라이언트가 있어 쿼리 파라미터도 허용한다.
func Auth(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "invalid token"
			if err == jwt.ErrExpiredToken {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(ContextPlayerID, claims.PlayerID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
