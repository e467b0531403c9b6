package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
	"github.com/hamdanyasser/debug-battle-backend/internal/store"
)

func testConfig() CoordinatorConfig {
	return CoordinatorConfig{
		RoomTTL:        5 * time.Minute,
		BattleDuration: 3 * time.Minute,
		ReconnectGrace: 10 * time.Second,
	}
}

func newTestCoordinator(st *store.MemoryStore, id, name string, rating int) *Coordinator {
	clock := NewClock()
	clock.SetOffset(0)
	return NewCoordinator(st, clock, testConfig(), PlayerInfo{
		ID: id, Name: name, Rating: rating,
	})
}

// waitEvent 원하는 타입의 이벤트가 올 때까지 다른 이벤트는 흘려보낸다.
func waitEvent[T Event](t *testing.T, c *Coordinator) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("event channel closed")
			}
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func startedBattle(t *testing.T, st *store.MemoryStore) (host, guest *Coordinator, roomID string) {
	t.Helper()
	ctx := context.Background()

	host = newTestCoordinator(st, "host-1", "alice", 1200)
	guest = newTestCoordinator(st, "guest-1", "bob", 1250)

	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	_, err = guest.JoinByCode(ctx, room.Code)
	require.NoError(t, err)

	require.NoError(t, host.StartBattle(ctx))
	return host, guest, room.ID
}

func TestCoordinator_CreateRoom(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(st, "p1", "alice", 1200)
	ctx := context.Background()

	room, err := c.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)
	assert.Regexp(t, "^[A-Z2-9]{6}$", room.Code)
	assert.Equal(t, models.RoomStateWaiting, room.State)
	assert.Equal(t, "p1", room.HostID)
	assert.Greater(t, room.CreatedAt, int64(0))

	ev := waitEvent[RoomCreatedEvent](t, c)
	assert.Equal(t, room.ID, ev.RoomID)
	assert.Equal(t, room.Code, ev.Code)

	// 이미 방에 있으면 새 방을 만들 수 없다
	_, err = c.CreateRoom(ctx, "challenge-2")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestCoordinator_JoinByCode_Validation(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		player  string
		code    string
		wantErr error
	}{
		{"too short", "p2", "ABC", ErrInvalidCode},
		{"lowercase is normalized", "p2", "zzzzzz", ErrRoomNotFound},
		{"unknown code", "p2", "ZZZZZZ", ErrRoomNotFound},
		{"host cannot join own room", "host-1", room.Code, ErrSelfJoin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(st, tt.player, tt.player, 1000)
			if tt.player == "host-1" {
				c = newTestCoordinator(st, "host-1", "alice", 1200)
			}
			_, err := c.JoinByCode(ctx, tt.code)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCoordinator_JoinByCode_FullRoom(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	guest := newTestCoordinator(st, "guest-1", "bob", 1100)
	_, err = guest.JoinByCode(ctx, room.Code)
	require.NoError(t, err)

	// 코드는 일회용으로 소비된다
	third := newTestCoordinator(st, "p3", "carol", 1000)
	_, err = third.JoinByCode(ctx, room.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCoordinator_JoinByCode_ExpiredRoom(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UnixMilli()
	st.SetNowFunc(func() int64 { return now })

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	// TTL(5분) 경과
	now += 6 * 60 * 1000

	guest := newTestCoordinator(st, "guest-1", "bob", 1100)
	_, err = guest.JoinByCode(ctx, room.Code)
	assert.ErrorIs(t, err, ErrRoomExpired)
}

func TestCoordinator_HostSeesOpponentJoin(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	guest := newTestCoordinator(st, "guest-1", "bob", 1250)
	_, err = guest.JoinByCode(ctx, room.Code)
	require.NoError(t, err)

	ev := waitEvent[OpponentJoinedEvent](t, host)
	assert.Equal(t, "guest-1", ev.OpponentID)
	assert.Equal(t, "bob", ev.OpponentName)
	assert.Equal(t, 1250, ev.OpponentRating)
}

func TestCoordinator_StartBattle(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	// 게스트가 들어오기 전(WAITING)에는 시작 불가
	assert.ErrorIs(t, host.StartBattle(ctx), ErrWrongState)

	guest := newTestCoordinator(st, "guest-1", "bob", 1250)
	joined, err := guest.JoinByCode(ctx, room.Code)
	require.NoError(t, err)

	// 입장만으로 STARTING이 되고 서버 시각이 찍힌다
	assert.Equal(t, models.RoomStateStarting, joined.State)
	assert.Greater(t, joined.StartedAt, int64(0))

	// 게스트는 시작할 수 없다
	assert.ErrorIs(t, guest.StartBattle(ctx), ErrNotHost)

	require.NoError(t, host.StartBattle(ctx))

	got, err := st.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStateInProgress, got.State)
	assert.Greater(t, got.StartedAt, int64(0))

	// 중복 시작은 거부
	assert.ErrorIs(t, host.StartBattle(ctx), ErrWrongState)

	// 게스트는 타이머 동기화 이벤트를 받는다
	sync := waitEvent[TimerSyncEvent](t, guest)
	assert.Equal(t, got.StartedAt, sync.StartedAt)
	assert.Equal(t, int64(180000), sync.DurationMs)
	assert.LessOrEqual(t, sync.RemainingMs, sync.DurationMs)
	assert.True(t, sync.ClockSynced)
}

func TestCoordinator_TimerSyncBeforeFirstOffsetSample(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	// 오프셋 표본을 받은 적 없는 시계
	clock := NewClock()
	host := NewCoordinator(st, clock, testConfig(), PlayerInfo{ID: "host-1", Name: "alice", Rating: 1200})
	guest := NewCoordinator(st, clock, testConfig(), PlayerInfo{ID: "guest-1", Name: "bob", Rating: 1250})

	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)
	_, err = guest.JoinByCode(ctx, room.Code)
	require.NoError(t, err)
	require.NoError(t, host.StartBattle(ctx))

	// 동기화 전에는 남은 시간을 신뢰하면 안 된다는 표시가 붙는다
	sync := waitEvent[TimerSyncEvent](t, guest)
	assert.False(t, sync.ClockSynced)
	assert.Greater(t, sync.StartedAt, int64(0))
}

func TestCoordinator_SubmitWrongAnswer(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	result, err := guest.Submit(ctx, "return nil", false)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.False(t, result.Winner)
	assert.Equal(t, 1, result.Attempts)

	// 오답이어도 제출물·제출 시각·정오답·시도 횟수가 전부 남는다
	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, room.GuestAttempts)
	assert.Equal(t, "return nil", room.GuestSubmission)
	assert.Greater(t, room.GuestSubmitTime, int64(0))
	assert.False(t, room.GuestCorrect)
	assert.Empty(t, room.WinnerID)

	// 상대에게는 제출 알림이 간다
	ev := waitEvent[OpponentSubmittedEvent](t, host)
	assert.Equal(t, "guest-1", ev.PlayerID)
	assert.Equal(t, 1, ev.Attempts)
	assert.False(t, ev.Correct)
}

func TestCoordinator_ConcurrentSubmitOneWinner(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	// 둘 다 동시에 정답 제출 — 정확히 한 명만 승자
	var wg sync.WaitGroup
	results := make([]*SubmissionResultEvent, 2)
	for i, c := range []*Coordinator{host, guest} {
		wg.Add(1)
		go func(idx int, co *Coordinator) {
			defer wg.Done()
			r, err := co.Submit(ctx, "fixed the off-by-one", true)
			if err == nil {
				results[idx] = r
			}
		}(i, c)
	}
	wg.Wait()

	var winners, losers int
	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.Correct)
		if r.Winner {
			winners++
		} else {
			losers++
			assert.Equal(t, "Opponent solved it first", r.Message)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStateFinished, room.State)
	assert.NotEmpty(t, room.WinnerID)
	assert.Greater(t, room.FinishedAt, int64(0))
	// 패자의 제출도 전부 기록되어 있어야 한다
	assert.Equal(t, 1, room.HostAttempts)
	assert.Equal(t, 1, room.GuestAttempts)
	loser := room.OpponentID(room.WinnerID)
	assert.True(t, room.CorrectOf(loser))
	assert.Equal(t, "fixed the off-by-one", room.SubmissionOf(loser))
	assert.Greater(t, room.SubmitTimeOf(loser), int64(0))
}

func TestCoordinator_LosingCorrectSubmissionIsRecorded(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	_, err := host.Submit(ctx, "host fix", true)
	require.NoError(t, err)

	// 이미 끝난 방에도 정답 제출은 기록되지만 승자는 바뀌지 않는다
	result, err := guest.Submit(ctx, "guest fix", true)
	require.NoError(t, err)
	assert.True(t, result.Correct)
	assert.False(t, result.Winner)
	assert.Equal(t, "Opponent solved it first", result.Message)

	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "host-1", room.WinnerID)
	assert.True(t, room.GuestCorrect)
	assert.Equal(t, "guest fix", room.GuestSubmission)
	assert.Greater(t, room.GuestSubmitTime, int64(0))
	assert.Equal(t, 1, room.GuestAttempts)
}

func TestCoordinator_SubmitBeforeStart(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	_, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	_, err = host.Submit(ctx, "too early", true)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestCoordinator_StoreFailureBecomesTransportError(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	st.SetFailWrites(true)

	_, err := guest.Submit(ctx, "fix", true)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, host.UpdateProgress(ctx, 10), ErrTransport)

	// 실패한 트랜잭션은 아무것도 남기지 않는다
	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 0, room.GuestAttempts)
	assert.Empty(t, room.WinnerID)

	// 링크가 돌아오면 같은 제출을 그대로 재시도할 수 있다
	st.SetFailWrites(false)
	result, err := guest.Submit(ctx, "fix", true)
	require.NoError(t, err)
	assert.True(t, result.Winner)
}

func TestCoordinator_WinnerGetsGameEnded(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, _ := startedBattle(t, st)
	ctx := context.Background()

	result, err := host.Submit(ctx, "host fix", true)
	require.NoError(t, err)
	assert.True(t, result.Winner)

	for _, c := range []*Coordinator{host, guest} {
		ev := waitEvent[GameEndedEvent](t, c)
		assert.Equal(t, "host-1", ev.WinnerID)
		assert.Equal(t, "Solved the challenge", ev.WinReason)
	}
}

func TestCoordinator_LeaveUnjoinedRoomDeletesIt(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)

	require.NoError(t, host.LeaveRoom(ctx))

	_, err = st.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.LookupRoomCode(ctx, room.Code)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, host.RoomID())
}

func TestCoordinator_LeaveDuringBattleForfeits(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	require.NoError(t, guest.LeaveRoom(ctx))

	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStateFinished, room.State)
	assert.Equal(t, "host-1", room.WinnerID)
	assert.Equal(t, "Opponent left the game", room.WinReason)

	left := waitEvent[OpponentLeftEvent](t, host)
	assert.Equal(t, "guest-1", left.OpponentID)

	ended := waitEvent[GameEndedEvent](t, host)
	assert.True(t, ended.You)
}

func TestCoordinator_LeaveAfterFinishKeepsWinner(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	_, err := host.Submit(ctx, "host fix", true)
	require.NoError(t, err)

	// 이미 끝난 배틀에서 나가도 승자는 바뀌지 않는다
	require.NoError(t, guest.LeaveRoom(ctx))

	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "host-1", room.WinnerID)
	assert.Equal(t, "Solved the challenge", room.WinReason)
}

func TestCoordinator_QuickMatchPairsPlayers(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	first := newTestCoordinator(st, "p1", "alice", 1200)
	room1, err := first.QuickMatch(ctx, "challenge-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStateWaiting, room1.State)

	second := newTestCoordinator(st, "p2", "bob", 1250)
	room2, err := second.QuickMatch(ctx, "challenge-1")
	require.NoError(t, err)

	// 대기 중인 방에 합류했어야 한다
	assert.Equal(t, room1.ID, room2.ID)

	found := waitEvent[MatchFoundEvent](t, second)
	assert.Equal(t, "p1", found.OpponentID)

	hostFound := waitEvent[MatchFoundEvent](t, first)
	assert.Equal(t, "p2", hostFound.OpponentID)
}

func TestCoordinator_QuickMatchSkipsOwnTicket(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	c := newTestCoordinator(st, "p1", "alice", 1200)
	room1, err := c.QuickMatch(ctx, "challenge-1")
	require.NoError(t, err)
	require.NoError(t, c.LeaveRoom(ctx))

	// 자신의 남은 티켓과는 매칭되지 않고 새 방이 생긴다
	room2, err := c.QuickMatch(ctx, "challenge-1")
	require.NoError(t, err)
	assert.NotEqual(t, room1.ID, room2.ID)
}

func TestCoordinator_CancelMatchmaking(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	c := newTestCoordinator(st, "p1", "alice", 1200)

	// 대기열에 없으면 취소할 수 없다
	assert.ErrorIs(t, c.CancelMatchmaking(ctx), ErrNotMatchmaking)

	room, err := c.QuickMatch(ctx, "challenge-1")
	require.NoError(t, err)

	require.NoError(t, c.CancelMatchmaking(ctx))

	_, err = st.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// 티켓도 지워져서 다른 플레이어와 매칭되지 않는다
	other := newTestCoordinator(st, "p2", "bob", 1250)
	room2, err := other.QuickMatch(ctx, "challenge-1")
	require.NoError(t, err)
	assert.NotEqual(t, room.ID, room2.ID)
}

func TestCoordinator_UpdateProgress(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	assert.ErrorIs(t, host.UpdateProgress(ctx, 101), ErrInvalidProgress)
	assert.ErrorIs(t, host.UpdateProgress(ctx, -1), ErrInvalidProgress)

	require.NoError(t, host.UpdateProgress(ctx, 40))

	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 40, room.HostProgress)

	ev := waitEvent[ProgressUpdateEvent](t, guest)
	assert.Equal(t, "host-1", ev.PlayerID)
	assert.Equal(t, 40, ev.Progress)
}

func TestCoordinator_DisconnectGraceForfeit(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	guest := NewCoordinator(st, host.clock, CoordinatorConfig{
		RoomTTL:        5 * time.Minute,
		BattleDuration: 3 * time.Minute,
		ReconnectGrace: 30 * time.Millisecond,
	}, PlayerInfo{ID: "guest-1", Name: "bob", Rating: 1250})

	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)
	_, err = guest.JoinByCode(ctx, room.Code)
	require.NoError(t, err)
	require.NoError(t, host.StartBattle(ctx))

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go func() { _ = guest.RunConnectivityWatch(connCtx) }()

	// 짧게 끊겼다 돌아오면 아무 일도 없다
	st.SetFailWrites(true)
	st.SetConnected(false)
	time.Sleep(10 * time.Millisecond)
	st.SetFailWrites(false)
	st.SetConnected(true)
	time.Sleep(50 * time.Millisecond)

	got, err := st.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.WinnerID)

	// 유예 시간을 넘기면 몰수패. 단, 끊긴 동안에는 쓸 수 없으므로
	// 몰수 쓰기는 재접속 후에 실행된다.
	st.SetFailWrites(true)
	st.SetConnected(false)
	waitEvent[ReconnectFailedEvent](t, guest)

	got, err = st.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.WinnerID)

	st.SetFailWrites(false)
	st.SetConnected(true)

	require.Eventually(t, func() bool {
		r, err := st.GetRoom(ctx, room.ID)
		return err == nil && r.WinnerID == "host-1"
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_GraceResetsForNextBattle(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	host := newTestCoordinator(st, "host-1", "alice", 1200)
	guest := NewCoordinator(st, host.clock, CoordinatorConfig{
		RoomTTL:        5 * time.Minute,
		BattleDuration: 3 * time.Minute,
		ReconnectGrace: 30 * time.Millisecond,
	}, PlayerInfo{ID: "guest-1", Name: "bob", Rating: 1250})

	room, err := host.CreateRoom(ctx, "challenge-1")
	require.NoError(t, err)
	_, err = guest.JoinByCode(ctx, room.Code)
	require.NoError(t, err)
	require.NoError(t, host.StartBattle(ctx))

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go func() { _ = guest.RunConnectivityWatch(connCtx) }()

	// 첫 배틀 몰수
	st.SetFailWrites(true)
	st.SetConnected(false)
	waitEvent[ReconnectFailedEvent](t, guest)
	st.SetFailWrites(false)
	st.SetConnected(true)

	require.Eventually(t, func() bool {
		r, err := st.GetRoom(ctx, room.ID)
		return err == nil && r.WinnerID == "host-1"
	}, time.Second, 10*time.Millisecond)

	// 같은 세션의 다음 배틀도 끊김 보호를 받아야 한다
	room2, err := guest.CreateRoom(ctx, "challenge-2")
	require.NoError(t, err)

	other := newTestCoordinator(st, "p3", "carol", 1300)
	_, err = other.JoinByCode(ctx, room2.Code)
	require.NoError(t, err)
	require.NoError(t, guest.StartBattle(ctx))

	st.SetFailWrites(true)
	st.SetConnected(false)
	waitEvent[ReconnectFailedEvent](t, guest)
	st.SetFailWrites(false)
	st.SetConnected(true)

	require.Eventually(t, func() bool {
		r, err := st.GetRoom(ctx, room2.ID)
		return err == nil && r.WinnerID == "p3"
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_CloseForfeitsAndClosesEvents(t *testing.T) {
	st := store.NewMemoryStore()
	host, guest, roomID := startedBattle(t, st)
	ctx := context.Background()

	guest.Close()

	room, err := st.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "host-1", room.WinnerID)

	// 채널은 닫힌다
	_, ok := <-guest.Events()
	for ok {
		_, ok = <-guest.Events()
	}

	host.Close()
}
