package api

import (
	"github.com/gin-gonic/gin"

	"github.com/hamdanyasser/debug-battle-backend/internal/api/handlers"
	"github.com/hamdanyasser/debug-battle-backend/internal/api/middleware"
	"github.com/hamdanyasser/debug-battle-backend/internal/config"
	"github.com/hamdanyasser/debug-battle-backend/pkg/jwt"
)

// Handlers 라우터에 연결되는 핸들러 묶음
type Handlers struct {
	Auth   *handlers.AuthHandler
	Player *handlers.PlayerHandler
	Battle *handlers.BattleHandler
	Health *handlers.HealthHandler
}

// NewRouter 전체 라우팅 구성
func NewRouter(cfg *config.Config, jwtManager *jwt.JWTManager, h Handlers) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	r.GET("/health", h.Health.Health)

	v1 := r.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
		}

		v1.GET("/leaderboard", middleware.APIRateLimit(), h.Player.Leaderboard)

		authed := v1.Group("")
		authed.Use(middleware.Auth(jwtManager))
		{
			authed.GET("/players/me", h.Player.Me)
			authed.GET("/battle/ws", h.Battle.Connect)
		}
	}

	return r
}
