package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hamdanyasser/debug-battle-backend/internal/api/middleware"
	"github.com/hamdanyasser/debug-battle-backend/internal/models"
	"github.com/hamdanyasser/debug-battle-backend/internal/repository"
	"github.com/hamdanyasser/debug-battle-backend/internal/service"
	"github.com/hamdanyasser/debug-battle-backend/internal/store"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// BattleHandler 웹소켓 배틀 세션 진입점
type BattleHandler struct {
	store    store.Store
	clock    *service.Clock
	rating   *service.RatingService
	players  *repository.PlayerRepository
	cfg      service.CoordinatorConfig
	upgrader websocket.Upgrader
}

func NewBattleHandler(
	st store.Store,
	clock *service.Clock,
	rating *service.RatingService,
	players *repository.PlayerRepository,
	cfg service.CoordinatorConfig,
) *BattleHandler {
	return &BattleHandler{
		store:   st,
		clock:   clock,
		rating:  rating,
		players: players,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// battleCommand 클라이언트 → 서버 메시지
type battleCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// battleMessage 서버 → 클라이언트 메시지
type battleMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Connect GET /api/v1/battle/ws
func (h *BattleHandler) Connect(c *gin.Context) {
	playerID := c.GetString(middleware.ContextPlayerID)

	player, err := h.players.FindByID(c.Request.Context(), playerID)
	if err != nil {
		logger.Error("failed to load player for battle", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if player == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	coord := service.NewCoordinator(h.store, h.clock, h.cfg, service.PlayerInfo{
		ID:     player.ID,
		Name:   player.Username,
		Rating: player.Rating,
	})

	s := &battleSession{
		handler:  h,
		conn:     conn,
		coord:    coord,
		playerID: player.ID,
		outbound: make(chan battleMessage, 64),
		done:     make(chan struct{}),
	}
	s.run()
}

// battleSession 연결 하나의 수명. 쓰기는 writePump 단일 고루틴만 한다.
type battleSession struct {
	handler  *BattleHandler
	conn     *websocket.Conn
	coord    *service.Coordinator
	playerID string

	outbound chan battleMessage
	done     chan struct{}

	closeOnce  sync.Once
	lastRoomID atomic.Value // string

	ratingMu  sync.Mutex
	ratedRoom string
}

func (s *battleSession) run() {
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	go func() {
		if err := s.coord.RunConnectivityWatch(connCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("connectivity watch stopped", "player_id", s.playerID, "error", err)
		}
	}()
	go s.eventPump()
	go s.writePump()

	logger.Info("battle session opened", "player_id", s.playerID)
	s.readPump()

	s.shutdown()
	logger.Info("battle session closed", "player_id", s.playerID)
}

func (s *battleSession) shutdown() {
	s.closeOnce.Do(func() {
		s.coord.Close()
		// 연결이 끊겨 몰수패가 됐다면 패배도 기록하고 닫는다
		s.applyRating()
		close(s.done)
		s.conn.Close()
	})
}

func (s *battleSession) send(msgType string, payload interface{}) {
	select {
	case s.outbound <- battleMessage{Type: msgType, Payload: payload}:
	case <-s.done:
	}
}

func (s *battleSession) sendError(message string) {
	s.send("error", gin.H{"message": message})
}

// eventPump 코디네이터 이벤트를 클라이언트로 중계한다.
// 배틀이 끝나면 본인 레이팅을 반영하고 결과를 이어서 보낸다.
func (s *battleSession) eventPump() {
	for ev := range s.coord.Events() {
		s.send(ev.Type(), ev)
		if _, ok := ev.(service.GameEndedEvent); ok {
			s.applyRating()
		}
	}
}

// applyRating 끝난 방당 정확히 한 번만 본인 레이팅을 반영한다.
func (s *battleSession) applyRating() {
	roomID := s.coord.RoomID()
	if roomID == "" {
		if v, ok := s.lastRoomID.Load().(string); ok {
			roomID = v
		}
	}
	if roomID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	room, err := s.handler.store.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	if room.State != models.RoomStateFinished || room.WinnerID == "" {
		return
	}

	s.ratingMu.Lock()
	if s.ratedRoom == roomID {
		s.ratingMu.Unlock()
		return
	}
	s.ratedRoom = roomID
	s.ratingMu.Unlock()

	change, err := s.handler.rating.ApplyMatchOutcome(ctx, s.playerID, room)
	if err != nil {
		logger.Warn("failed to apply rating", "player_id", s.playerID, "error", err)
		return
	}
	s.send(change.Type(), change)
}

func (s *battleSession) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", "player_id", s.playerID, "error", err)
			}
			return
		}

		var cmd battleCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError("invalid message format")
			continue
		}
		s.handleCommand(cmd)
	}
}

func (s *battleSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.shutdown()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown()
				return
			}
		}
	}
}

func (s *battleSession) handleCommand(cmd battleCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd.Type {
	case "create_room":
		var p struct {
			ChallengeID string `json:"challenge_id"`
		}
		if err := json.Unmarshal(cmd.Payload, &p); err != nil || p.ChallengeID == "" {
			s.sendError("challenge_id is required")
			return
		}
		room, err := s.coord.CreateRoom(ctx, p.ChallengeID)
		if err != nil {
			s.sendError(err.Error())
			return
		}
		s.rememberRoom(room)

	case "join_room":
		var p struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			s.sendError("code is required")
			return
		}
		room, err := s.coord.JoinByCode(ctx, p.Code)
		if err != nil {
			s.sendError(err.Error())
			return
		}
		s.rememberRoom(room)
		s.send("room_joined", gin.H{
			"room_id":         room.ID,
			"challenge_id":    room.ChallengeID,
			"opponent_id":     room.HostID,
			"opponent_name":   room.HostName,
			"opponent_rating": room.HostRating,
		})

	case "quick_match":
		var p struct {
			ChallengeID string `json:"challenge_id"`
		}
		if err := json.Unmarshal(cmd.Payload, &p); err != nil || p.ChallengeID == "" {
			s.sendError("challenge_id is required")
			return
		}
		room, err := s.coord.QuickMatch(ctx, p.ChallengeID)
		if err != nil {
			s.sendError(err.Error())
			return
		}
		s.rememberRoom(room)

	case "start_battle":
		if err := s.coord.StartBattle(ctx); err != nil {
			s.sendError(err.Error())
		}

	case "update_progress":
		var p struct {
			Progress int `json:"progress"`
		}
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			s.sendError("progress is required")
			return
		}
		if err := s.coord.UpdateProgress(ctx, p.Progress); err != nil {
			s.sendError(err.Error())
		}

	case "submit":
		var p struct {
			Submission string `json:"submission"`
			Correct    bool   `json:"correct"`
		}
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			s.sendError("submission payload is required")
			return
		}
		result, err := s.coord.Submit(ctx, p.Submission, p.Correct)
		if err != nil {
			// 전송 오류는 제출 피드백으로 보낸다 — 같은 제출을 다시 보내면 된다
			if errors.Is(err, service.ErrTransport) {
				s.send("submission_result", service.SubmissionResultEvent{
					Correct:   p.Correct,
					Retryable: true,
					Message:   "Network error. Try again!",
				})
				return
			}
			s.sendError(err.Error())
			return
		}
		s.send(result.Type(), result)

	case "leave_room":
		if err := s.coord.LeaveRoom(ctx); err != nil {
			s.sendError(err.Error())
			return
		}
		s.send("room_left", nil)
		// 몰수패로 끝났다면 떠난 쪽 레이팅도 여기서 반영한다
		s.applyRating()

	case "cancel_matchmaking":
		if err := s.coord.CancelMatchmaking(ctx); err != nil {
			s.sendError(err.Error())
			return
		}
		s.send("matchmaking_cancelled", nil)

	default:
		s.sendError("unknown command: " + cmd.Type)
	}
}

func (s *battleSession) rememberRoom(room *models.BattleRoom) {
	if room != nil {
		s.lastRoomID.Store(room.ID)
	}
}
