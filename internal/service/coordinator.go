package service

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
	"github.com/hamdanyasser/debug-battle-backend/internal/store"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

// 방 코드: 혼동하기 쉬운 문자(I, O, 0, 1) 제외 32자
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const codeLength = 6

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

const (
	winReasonSolved       = "Solved the challenge"
	winReasonOpponentLeft = "Opponent left the game"
)

// PlayerInfo 세션을 소유한 플레이어
type PlayerInfo struct {
	ID     string
	Name   string
	Rating int
}

// CoordinatorConfig 배틀 파라미터
type CoordinatorConfig struct {
	RoomTTL        time.Duration
	BattleDuration time.Duration
	ReconnectGrace time.Duration
}

// Coordinator 한 플레이어 세션의 배틀 수명주기를 관리한다.
// 방 문서의 변경은 전부 Store의 CAS 트랜잭션을 거치고, 관측된 변경은
// Events 채널로 흘러나온다. 세션(웹소켓 연결)당 하나씩 만든다.
type Coordinator struct {
	store  store.Store
	clock  *Clock
	cfg    CoordinatorConfig
	player PlayerInfo

	events chan Event

	mu             sync.Mutex
	roomID         string
	isHost         bool
	matchmaking    bool
	prev           *models.BattleRoom
	watchCancel    context.CancelFunc
	connCancel     context.CancelFunc
	watchdog       *Watchdog
	pendingForfeit bool
	closed         bool
}

func NewCoordinator(st store.Store, clock *Clock, cfg CoordinatorConfig, player PlayerInfo) *Coordinator {
	c := &Coordinator{
		store:  st,
		clock:  clock,
		cfg:    cfg,
		player: player,
		events: make(chan Event, 32),
	}
	c.watchdog = NewWatchdog(cfg.ReconnectGrace, c.onGraceExpired)
	return c
}

// Events 세션 이벤트 스트림. Close 시 채널이 닫힌다.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Player 세션 플레이어 정보
func (c *Coordinator) Player() PlayerInfo {
	return c.player
}

// RoomID 현재 방 ID (없으면 빈 문자열)
func (c *Coordinator) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// CreateRoom 코드 입장형 방을 만든다.
func (c *Coordinator) CreateRoom(ctx context.Context, challengeID string) (*models.BattleRoom, error) {
	c.mu.Lock()
	if c.roomID != "" {
		c.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	c.mu.Unlock()

	room, err := c.createRoom(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	c.enterRoom(room.ID, true, false)
	c.emit(RoomCreatedEvent{RoomID: room.ID, Code: room.Code})
	return room, nil
}

func (c *Coordinator) createRoom(ctx context.Context, challengeID string) (*models.BattleRoom, error) {
	serverNow, err := c.store.ServerTime(ctx)
	if err != nil {
		return nil, c.mapRoomErr(err)
	}

	room := &models.BattleRoom{
		ID:          uuid.New().String(),
		State:       models.RoomStateWaiting,
		ChallengeID: challengeID,
		HostID:      c.player.ID,
		HostName:    c.player.Name,
		HostRating:  c.player.Rating,
		CreatedAt:   serverNow,
		DurationMs:  c.cfg.BattleDuration.Milliseconds(),
		TTLMs:       c.cfg.RoomTTL.Milliseconds(),
	}

	// 코드 충돌 시 새 코드로 재시도
	for attempt := 0; attempt < 5; attempt++ {
		code := generateRoomCode()
		if err := c.store.PutRoomCode(ctx, code, room.ID); err != nil {
			if err == store.ErrExists {
				continue
			}
			return nil, c.mapRoomErr(err)
		}
		room.Code = code
		break
	}
	if room.Code == "" {
		return nil, fmt.Errorf("failed to allocate a room code")
	}

	if err := c.store.CreateRoom(ctx, room); err != nil {
		c.store.DeleteRoomCode(ctx, room.Code)
		return nil, c.mapRoomErr(err)
	}

	logger.Info("room created",
		"room_id", room.ID, "code", room.Code, "host_id", c.player.ID)
	return room, nil
}

// JoinByCode 코드를 검증하고 게스트로 입장한다.
func (c *Coordinator) JoinByCode(ctx context.Context, code string) (*models.BattleRoom, error) {
	c.mu.Lock()
	if c.roomID != "" {
		c.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	c.mu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return nil, ErrInvalidCode
	}

	roomID, err := c.store.LookupRoomCode(ctx, code)
	if err != nil {
		return nil, c.mapRoomErr(err)
	}

	room, err := c.joinRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// 코드는 일회용 — 재입장 시도를 막는다
	c.store.DeleteRoomCode(ctx, code)

	c.enterRoom(room.ID, false, false)
	return room, nil
}

func (c *Coordinator) joinRoom(ctx context.Context, roomID string) (*models.BattleRoom, error) {
	room, err := c.store.UpdateRoom(ctx, roomID, func(r *models.BattleRoom, serverNow int64) error {
		if r.HostID == c.player.ID {
			return ErrSelfJoin
		}
		if r.State != models.RoomStateWaiting {
			return ErrWrongState
		}
		if r.IsFull() {
			return ErrRoomFull
		}
		if r.IsExpired(serverNow) {
			return ErrRoomExpired
		}
		// 입장과 동시에 STARTING — 양쪽이 같은 서버 시각으로 카운트다운을 돌린다
		r.GuestID = c.player.ID
		r.GuestName = c.player.Name
		r.GuestRating = c.player.Rating
		r.State = models.RoomStateStarting
		r.StartedAt = serverNow
		return nil
	})
	if err != nil {
		return nil, c.mapRoomErr(err)
	}

	logger.Info("joined room", "room_id", roomID, "player_id", c.player.ID)
	return room, nil
}

// QuickMatch 대기열에서 상대를 찾는다. 없으면 방을 만들어 대기열에 올린다.
func (c *Coordinator) QuickMatch(ctx context.Context, challengeID string) (*models.BattleRoom, error) {
	c.mu.Lock()
	if c.roomID != "" {
		c.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	c.mu.Unlock()

	ticket, err := c.store.ClaimOldestTicket(ctx, c.player.ID)
	if err == nil {
		room, joinErr := c.joinRoom(ctx, ticket.RoomID)
		if joinErr == nil {
			c.enterRoom(room.ID, false, false)
			c.emit(MatchFoundEvent{
				RoomID:         room.ID,
				OpponentID:     room.HostID,
				OpponentName:   room.HostName,
				OpponentRating: room.HostRating,
				ChallengeID:    room.ChallengeID,
			})
			return room, nil
		}
		// 만료되거나 사라진 방의 티켓이었다 — 새로 만든다
		logger.Debug("claimed ticket unusable, falling back to create",
			"room_id", ticket.RoomID, "error", joinErr)
	} else if err != store.ErrNoTicket {
		return nil, c.mapRoomErr(err)
	}

	room, err := c.createRoom(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	serverNow, err := c.store.ServerTime(ctx)
	if err != nil {
		return nil, c.mapRoomErr(err)
	}
	err = c.store.EnqueueTicket(ctx, &models.QueueTicket{
		PlayerID:    c.player.ID,
		PlayerName:  c.player.Name,
		Rating:      c.player.Rating,
		RoomID:      room.ID,
		ChallengeID: challengeID,
		EnqueuedAt:  serverNow,
	})
	if err != nil {
		c.store.DeleteRoom(ctx, room.ID)
		c.store.DeleteRoomCode(ctx, room.Code)
		return nil, c.mapRoomErr(err)
	}

	c.enterRoom(room.ID, true, true)
	c.emit(RoomCreatedEvent{RoomID: room.ID, Code: room.Code})
	return room, nil
}

// CancelMatchmaking 대기열에서 빠지고 대기 중이던 방을 정리한다.
func (c *Coordinator) CancelMatchmaking(ctx context.Context) error {
	c.mu.Lock()
	if !c.matchmaking {
		c.mu.Unlock()
		return ErrNotMatchmaking
	}
	c.mu.Unlock()

	if err := c.store.RemoveTicket(ctx, c.player.ID); err != nil {
		return c.mapRoomErr(err)
	}
	return c.LeaveRoom(ctx)
}

// StartBattle 방장의 명시적 시작 신호. STARTING→IN_PROGRESS이며
// 시작 시각은 커밋 시점의 서버 시각으로 다시 찍는다.
func (c *Coordinator) StartBattle(ctx context.Context) error {
	roomID, isHost := c.currentRoom()
	if roomID == "" {
		return ErrNotInRoom
	}
	if !isHost {
		return ErrNotHost
	}

	_, err := c.store.UpdateRoom(ctx, roomID, func(r *models.BattleRoom, serverNow int64) error {
		if r.State != models.RoomStateStarting {
			return ErrWrongState
		}
		r.State = models.RoomStateInProgress
		r.StartedAt = serverNow
		return nil
	})
	return c.mapRoomErr(err)
}

// UpdateProgress 본인 진행률 보고 (0~100). 승패와 무관한 조언성 쓰기.
func (c *Coordinator) UpdateProgress(ctx context.Context, progress int) error {
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}
	roomID, _ := c.currentRoom()
	if roomID == "" {
		return ErrNotInRoom
	}
	return c.mapRoomErr(c.store.SetProgress(ctx, roomID, c.player.ID, progress))
}

// Submit 제출물과 채점 결과를 기록한다. 제출물·제출 시각·정오답·시도 횟수는
// 경합에서 져도 항상 남고, 정답이면서 아직 승자가 없을 때만 승자가 된다.
// 전부 한 트랜잭션이다.
func (c *Coordinator) Submit(ctx context.Context, submission string, correct bool) (*SubmissionResultEvent, error) {
	roomID, _ := c.currentRoom()
	if roomID == "" {
		return nil, ErrNotInRoom
	}

	var becameWinner bool
	room, err := c.store.UpdateRoom(ctx, roomID, func(r *models.BattleRoom, serverNow int64) error {
		if !r.HasPlayer(c.player.ID) {
			return ErrNotInRoom
		}
		// 경합으로 이미 끝난 방도 시도 기록은 받는다
		if r.State != models.RoomStateInProgress && r.State != models.RoomStateFinished {
			return ErrWrongState
		}

		if r.HostID == c.player.ID {
			r.HostSubmission = submission
			r.HostSubmitTime = serverNow
			r.HostCorrect = correct
			r.HostAttempts++
		} else {
			r.GuestSubmission = submission
			r.GuestSubmitTime = serverNow
			r.GuestCorrect = correct
			r.GuestAttempts++
		}

		becameWinner = false
		if correct && r.WinnerID == "" && r.State.CanAdvanceTo(models.RoomStateFinished) {
			r.WinnerID = c.player.ID
			r.WinReason = winReasonSolved
			r.State = models.RoomStateFinished
			r.FinishedAt = serverNow
			becameWinner = true
		}
		return nil
	})
	if err != nil {
		return nil, c.mapRoomErr(err)
	}

	result := &SubmissionResultEvent{
		Correct:  correct,
		Winner:   becameWinner,
		Attempts: room.AttemptsOf(c.player.ID),
	}
	if correct && !becameWinner {
		result.Message = "Opponent solved it first"
	}
	return result, nil
}

// LeaveRoom 방을 떠난다. 게스트 없는 대기 방은 통째로 지우고,
// 배틀이 진행 중이면 상대의 승리로 마무리한다.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	roomID, isHost := c.currentRoom()
	if roomID == "" {
		return ErrNotInRoom
	}

	room, err := c.store.GetRoom(ctx, roomID)
	if err == store.ErrNotFound {
		c.exitRoom()
		return nil
	}
	if err != nil {
		return c.mapRoomErr(err)
	}

	if isHost && !room.IsFull() && room.State == models.RoomStateWaiting {
		c.store.DeleteRoomCode(ctx, room.Code)
		if err := c.store.DeleteRoom(ctx, roomID); err != nil && err != store.ErrNotFound {
			return c.mapRoomErr(err)
		}
		c.store.RemoveTicket(ctx, c.player.ID)
		c.exitRoom()
		return nil
	}

	_, err = c.store.UpdateRoom(ctx, roomID, func(r *models.BattleRoom, serverNow int64) error {
		if !r.State.CanAdvanceTo(models.RoomStateFinished) {
			return nil
		}
		opponent := r.OpponentID(c.player.ID)
		if opponent == "" {
			return nil
		}
		r.WinnerID = opponent
		r.WinReason = winReasonOpponentLeft
		r.State = models.RoomStateFinished
		r.FinishedAt = serverNow
		return nil
	})
	if err != nil && err != store.ErrNotFound {
		return c.mapRoomErr(err)
	}

	c.exitRoom()
	return nil
}

// RunConnectivityWatch 저장소 연결 감시 루프. 끊기면 유예 타이머를 올린다.
func (c *Coordinator) RunConnectivityWatch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.connCancel = cancel
	c.mu.Unlock()

	ch, err := c.store.WatchConnectivity(ctx)
	if err != nil {
		return err
	}
	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case connected, ok := <-ch:
			if !ok {
				return nil
			}
			if !first {
				c.emit(ConnectionStateChangedEvent{Connected: connected})
			}
			first = false
			if connected {
				c.watchdog.Disarm()
				c.forfeitIfPending()
			} else if c.RoomID() != "" {
				c.watchdog.Arm()
			}
		}
	}
}

// Close 세션 종료. 진행 중인 배틀은 몰수패 처리된다.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	watchCancel := c.watchCancel
	connCancel := c.connCancel
	inRoom := c.roomID != ""
	c.mu.Unlock()

	c.watchdog.Disarm()
	if inRoom {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.LeaveRoom(ctx); err != nil && err != ErrNotInRoom {
			logger.Warn("failed to leave room on close",
				"player_id", c.player.ID, "error", err)
		}
		cancel()
	}
	if watchCancel != nil {
		watchCancel()
	}
	if connCancel != nil {
		connCancel()
	}
	close(c.events)
}

func (c *Coordinator) currentRoom() (roomID string, isHost bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.isHost
}

func (c *Coordinator) enterRoom(roomID string, isHost, matchmaking bool) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.roomID = roomID
	c.isHost = isHost
	c.matchmaking = matchmaking
	c.prev = nil
	c.watchCancel = cancel
	c.pendingForfeit = false
	c.mu.Unlock()

	// 지난 배틀의 몰수 기록은 이번 배틀과 무관하다
	c.watchdog.Reset()

	// 구독은 동기로 끝내야 이 직후의 변경을 놓치지 않는다
	ch, err := c.store.WatchRoom(ctx, roomID)
	if err != nil {
		logger.Error("failed to watch room", "room_id", roomID, "error", err)
		cancel()
		return
	}
	go c.watchRoom(ctx, ch)
}

func (c *Coordinator) exitRoom() {
	c.mu.Lock()
	cancel := c.watchCancel
	c.roomID = ""
	c.isHost = false
	c.matchmaking = false
	c.prev = nil
	c.watchCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// watchRoom 방 문서 스트림을 이벤트로 번역한다.
func (c *Coordinator) watchRoom(ctx context.Context, ch <-chan *models.BattleRoom) {
	for {
		select {
		case <-ctx.Done():
			return
		case room, ok := <-ch:
			if !ok {
				return
			}
			c.handleSnapshot(room)
		}
	}
}

func (c *Coordinator) handleSnapshot(room *models.BattleRoom) {
	c.mu.Lock()
	prev := c.prev
	c.prev = room
	matchmaking := c.matchmaking
	if room != nil && room.IsFull() {
		c.matchmaking = false
	}
	c.mu.Unlock()

	if room == nil {
		c.emit(RoomClosedEvent{Reason: "room deleted"})
		c.exitRoom()
		return
	}
	if prev == nil {
		// 구독 시점 스냅샷 — 비교 기준으로만 쓴다
		return
	}

	me := c.player.ID

	// 상대 입장
	if !prev.IsFull() && room.IsFull() && room.HostID == me {
		if matchmaking {
			c.emit(MatchFoundEvent{
				RoomID:         room.ID,
				OpponentID:     room.GuestID,
				OpponentName:   room.GuestName,
				OpponentRating: room.GuestRating,
				ChallengeID:    room.ChallengeID,
			})
		} else {
			c.emit(OpponentJoinedEvent{
				OpponentID:     room.GuestID,
				OpponentName:   room.GuestName,
				OpponentRating: room.GuestRating,
			})
		}
	}

	// 상태 전이
	if prev.State != room.State {
		c.emit(StateChangedEvent{State: room.State})
		if room.State == models.RoomStateInProgress && room.StartedAt > 0 {
			serverNow := c.clock.ServerNow()
			c.emit(TimerSyncEvent{
				StartedAt:   room.StartedAt,
				DurationMs:  room.DurationMs,
				RemainingMs: room.RemainingMs(serverNow),
				ServerNowMs: serverNow,
				ClockSynced: c.clock.IsSynced(),
			})
		}
	}

	// 상대 진행률
	opp := room.OpponentID(me)
	if opp != "" && prev.ProgressOf(opp) != room.ProgressOf(opp) {
		c.emit(ProgressUpdateEvent{PlayerID: opp, Progress: room.ProgressOf(opp)})
	}

	// 상대의 제출 (정답으로 이겼다면 GameEnded로 끝난다)
	if opp != "" && room.AttemptsOf(opp) > prev.AttemptsOf(opp) && room.WinnerID == "" {
		c.emit(OpponentSubmittedEvent{
			PlayerID: opp,
			Attempts: room.AttemptsOf(opp),
			Correct:  room.CorrectOf(opp),
		})
	}

	// 승자 결정
	if prev.WinnerID == "" && room.WinnerID != "" {
		if room.WinReason == winReasonOpponentLeft && room.WinnerID == me {
			c.emit(OpponentLeftEvent{OpponentID: opp, Reason: room.WinReason})
		}
		c.emit(GameEndedEvent{
			WinnerID:   room.WinnerID,
			WinReason:  room.WinReason,
			You:        room.WinnerID == me,
			FinishedAt: room.FinishedAt,
		})
	}
}

// onGraceExpired 유예 시간 내 재접속 실패 — 배틀 몰수.
// 저장소 연결이 끊긴 상태이므로 여기서는 쓰지 않고, 연결이 돌아왔을 때
// forfeitIfPending이 몰수 쓰기를 실행한다.
func (c *Coordinator) onGraceExpired() {
	c.mu.Lock()
	c.pendingForfeit = c.roomID != ""
	c.mu.Unlock()

	c.emit(ReconnectFailedEvent{GraceMs: c.cfg.ReconnectGrace.Milliseconds()})
}

// forfeitIfPending 재접속 후 미뤄둔 몰수패를 기록한다.
func (c *Coordinator) forfeitIfPending() {
	c.mu.Lock()
	pending := c.pendingForfeit
	c.pendingForfeit = false
	c.mu.Unlock()
	if !pending {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.LeaveRoom(ctx); err != nil && err != ErrNotInRoom {
		logger.Warn("forfeit on reconnect failure",
			"player_id", c.player.ID, "error", err)
	}
}

// emit 버퍼가 가득 차면 이벤트를 버린다. closed 검사와 전송을 같은
// 락 안에서 해야 Close의 채널 닫기와 경합하지 않는다.
func (c *Coordinator) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		logger.Warn("event channel full, dropping event",
			"player_id", c.player.ID, "type", ev.Type())
	}
}

// mapRoomErr 저장소 오류를 호출자가 구분할 수 있는 종류로 바꾼다.
// 분류되지 않은 오류(트랜잭션 경합 포함)는 전부 재시도 가능한 전송 오류다.
func (c *Coordinator) mapRoomErr(err error) error {
	if err == nil {
		return nil
	}
	if err == store.ErrNotFound {
		return ErrRoomNotFound
	}
	if isCoordinatorErr(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func isCoordinatorErr(err error) bool {
	switch err {
	case ErrInvalidCode, ErrRoomNotFound, ErrRoomFull, ErrRoomExpired,
		ErrAlreadyInRoom, ErrNotInRoom, ErrWrongState, ErrNotHost,
		ErrSelfJoin, ErrAlreadyDecided, ErrNotMatchmaking,
		ErrClockNotSynced, ErrInvalidProgress:
		return true
	}
	return false
}

func generateRoomCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}
