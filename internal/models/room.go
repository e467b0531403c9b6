package models

// RoomState 배틀 방 상태
type RoomState string

const (
	RoomStateWaiting    RoomState = "WAITING"
	RoomStateStarting   RoomState = "STARTING"
	RoomStateInProgress RoomState = "IN_PROGRESS"
	RoomStateFinished   RoomState = "FINISHED"
)

// stateOrder 상태 전이 순서 (역행 불가)
var stateOrder = map[RoomState]int{
	RoomStateWaiting:    0,
	RoomStateStarting:   1,
	RoomStateInProgress: 2,
	RoomStateFinished:   3,
}

// Valid 알려진 상태인지 확인
func (s RoomState) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// CanAdvanceTo 전진 방향 전이만 허용
func (s RoomState) CanAdvanceTo(next RoomState) bool {
	from, ok1 := stateOrder[s]
	to, ok2 := stateOrder[next]
	return ok1 && ok2 && to > from
}

// BattleRoom 두 플레이어가 공유하는 배틀 방 문서.
// 모든 타임스탬프는 서버 시각 기준 unix millis.
type BattleRoom struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	State       RoomState `json:"state"`
	ChallengeID string    `json:"challenge_id"`

	HostID         string `json:"host_id"`
	HostName       string `json:"host_name"`
	HostRating     int    `json:"host_rating"`
	HostProgress   int    `json:"host_progress"`
	HostAttempts   int    `json:"host_attempts"`
	HostSubmission string `json:"host_submission,omitempty"`
	HostSubmitTime int64  `json:"host_submit_time,omitempty"`
	HostCorrect    bool   `json:"host_correct"`

	GuestID         string `json:"guest_id,omitempty"`
	GuestName       string `json:"guest_name,omitempty"`
	GuestRating     int    `json:"guest_rating,omitempty"`
	GuestProgress   int    `json:"guest_progress"`
	GuestAttempts   int    `json:"guest_attempts"`
	GuestSubmission string `json:"guest_submission,omitempty"`
	GuestSubmitTime int64  `json:"guest_submit_time,omitempty"`
	GuestCorrect    bool   `json:"guest_correct"`

	WinnerID  string `json:"winner_id,omitempty"`
	WinReason string `json:"win_reason,omitempty"`

	CreatedAt   int64 `json:"created_at"`
	StartedAt   int64 `json:"started_at,omitempty"`
	FinishedAt  int64 `json:"finished_at,omitempty"`
	DurationMs  int64 `json:"duration_ms"`
	TTLMs       int64 `json:"ttl_ms"`
	RankedMatch bool  `json:"ranked_match"`
}

// IsHost 해당 플레이어가 방장인지
func (r *BattleRoom) IsHost(playerID string) bool {
	return r.HostID == playerID
}

// HasPlayer 해당 플레이어가 방에 속해 있는지
func (r *BattleRoom) HasPlayer(playerID string) bool {
	return r.HostID == playerID || (r.GuestID != "" && r.GuestID == playerID)
}

// IsFull 게스트 자리가 찼는지
func (r *BattleRoom) IsFull() bool {
	return r.GuestID != ""
}

// IsExpired WAITING 상태로 TTL을 초과했는지
func (r *BattleRoom) IsExpired(nowMs int64) bool {
	return r.State == RoomStateWaiting && nowMs-r.CreatedAt > r.TTLMs
}

// OpponentID 상대 플레이어 ID (없으면 빈 문자열)
func (r *BattleRoom) OpponentID(playerID string) string {
	if r.HostID == playerID {
		return r.GuestID
	}
	if r.GuestID == playerID {
		return r.HostID
	}
	return ""
}

// OpponentName 상대 플레이어 이름
func (r *BattleRoom) OpponentName(playerID string) string {
	if r.HostID == playerID {
		return r.GuestName
	}
	return r.HostName
}

// OpponentRating 상대 플레이어 레이팅
func (r *BattleRoom) OpponentRating(playerID string) int {
	if r.HostID == playerID {
		return r.GuestRating
	}
	return r.HostRating
}

// ProgressOf 해당 플레이어의 진행률
func (r *BattleRoom) ProgressOf(playerID string) int {
	if r.HostID == playerID {
		return r.HostProgress
	}
	return r.GuestProgress
}

// AttemptsOf 해당 플레이어의 제출 횟수
func (r *BattleRoom) AttemptsOf(playerID string) int {
	if r.HostID == playerID {
		return r.HostAttempts
	}
	return r.GuestAttempts
}

// SubmissionOf 해당 플레이어의 마지막 제출물
func (r *BattleRoom) SubmissionOf(playerID string) string {
	if r.HostID == playerID {
		return r.HostSubmission
	}
	return r.GuestSubmission
}

// SubmitTimeOf 해당 플레이어의 마지막 제출 서버 시각
func (r *BattleRoom) SubmitTimeOf(playerID string) int64 {
	if r.HostID == playerID {
		return r.HostSubmitTime
	}
	return r.GuestSubmitTime
}

// CorrectOf 해당 플레이어의 마지막 제출이 정답이었는지
func (r *BattleRoom) CorrectOf(playerID string) bool {
	if r.HostID == playerID {
		return r.HostCorrect
	}
	return r.GuestCorrect
}

// RemainingMs 배틀 남은 시간 (시작 전이면 전체 시간)
func (r *BattleRoom) RemainingMs(nowMs int64) int64 {
	if r.StartedAt == 0 {
		return r.DurationMs
	}
	remaining := r.DurationMs - (nowMs - r.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
