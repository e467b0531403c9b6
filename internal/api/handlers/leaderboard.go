package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hamdanyasser/debug-battle-backend/internal/api/middleware"
	"github.com/hamdanyasser/debug-battle-backend/internal/models"
	"github.com/hamdanyasser/debug-battle-backend/internal/repository"
	"github.com/hamdanyasser/debug-battle-backend/internal/service"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

// PlayerHandler 리더보드 및 프로필 조회
type PlayerHandler struct {
	players *repository.PlayerRepository
	ranking *service.RankingService
}

func NewPlayerHandler(players *repository.PlayerRepository, ranking *service.RankingService) *PlayerHandler {
	return &PlayerHandler{players: players, ranking: ranking}
}

// Leaderboard GET /api/v1/leaderboard?limit=50
func (h *PlayerHandler) Leaderboard(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	players, err := h.players.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		logger.Error("failed to load leaderboard", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	entries := make([]models.PublicProfile, 0, len(players))
	for _, p := range players {
		entries = append(entries, models.PublicProfile{
			ID:       p.ID,
			Username: p.Username,
			Rating:   p.Rating,
			Tier:     h.ranking.RankTier(p.Rating),
			Wins:     p.Wins,
			Losses:   p.Losses,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// Me GET /api/v1/players/me
func (h *PlayerHandler) Me(c *gin.Context) {
	playerID := c.GetString(middleware.ContextPlayerID)

	player, err := h.players.FindByID(c.Request.Context(), playerID)
	if err != nil {
		logger.Error("failed to load player", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if player == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player":         player,
		"tier":           h.ranking.RankTier(player.Rating),
		"rank_points":    h.ranking.RankPoints(player.Rating),
		"win_rate":       player.WinRate(),
		"near_promotion": h.ranking.IsNearPromotion(player.Rating),
		"demotion_risk":  h.ranking.IsAtDemotionRisk(player.Rating),
	})
}
