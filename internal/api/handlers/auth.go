package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
	"github.com/hamdanyasser/debug-battle-backend/internal/repository"
	"github.com/hamdanyasser/debug-battle-backend/pkg/jwt"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

// AuthHandler 가입 및 로그인
type AuthHandler struct {
	players    *repository.PlayerRepository
	jwtManager *jwt.JWTManager
}

func NewAuthHandler(players *repository.PlayerRepository, jwtManager *jwt.JWTManager) *AuthHandler {
	return &AuthHandler{players: players, jwtManager: jwtManager}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=20,alphanum"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token  string         `json:"token"`
	Player *models.Player `json:"player"`
}

// Register POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.players.FindByUsername(c.Request.Context(), req.Username)
	if err != nil {
		logger.Error("failed to check username", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}

	player := &models.Player{
		ID:       uuid.New().String(),
		Username: req.Username,
		Email:    req.Email,
	}
	if err := player.HashPassword(req.Password); err != nil {
		logger.Error("failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if err := h.players.Create(c.Request.Context(), player); err != nil {
		logger.Error("failed to create player", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	token, err := h.jwtManager.Generate(player.ID, player.Username)
	if err != nil {
		logger.Error("failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	logger.Info("player registered", "player_id", player.ID, "username", player.Username)
	c.JSON(http.StatusCreated, authResponse{Token: token, Player: player})
}

// Login POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := h.players.FindByUsername(c.Request.Context(), req.Username)
	if err != nil {
		logger.Error("failed to find player", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if player == nil || !player.CheckPassword(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.jwtManager.Generate(player.ID, player.Username)
	if err != nil {
		logger.Error("failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, authResponse{Token: token, Player: player})
}
