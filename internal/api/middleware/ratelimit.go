package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hamdanyasser/debug-battle-backend/pkg/ratelimit"
)

// RateLimit IP 단위 토큰 버킷 제한
func RateLimit(limiter *ratelimit.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// AuthRateLimit 로그인/가입용 엄격한 제한 (버스트 10, 초당 1 충전)
func AuthRateLimit() gin.HandlerFunc {
	return RateLimit(ratelimit.NewRateLimiter(10, 1))
}

// APIRateLimit 일반 API 제한 (버스트 40, 초당 20 충전)
func APIRateLimit() gin.HandlerFunc {
	return RateLimit(ratelimit.NewRateLimiter(40, 20))
}
