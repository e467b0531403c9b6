package service

import "github.com/hamdanyasser/debug-battle-backend/internal/models"

// Event 배틀 세션에서 클라이언트로 전달되는 이벤트.
// Type()은 그대로 웹소켓 메시지 타입으로 쓰인다.
type Event interface {
	Type() string
}

// RoomCreatedEvent 방 생성 완료
type RoomCreatedEvent struct {
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
}

func (RoomCreatedEvent) Type() string { return "room_created" }

// MatchFoundEvent 퀵 매칭 성사
type MatchFoundEvent struct {
	RoomID         string `json:"room_id"`
	OpponentID     string `json:"opponent_id"`
	OpponentName   string `json:"opponent_name"`
	OpponentRating int    `json:"opponent_rating"`
	ChallengeID    string `json:"challenge_id"`
}

func (MatchFoundEvent) Type() string { return "match_found" }

// OpponentJoinedEvent 상대가 방에 입장
type OpponentJoinedEvent struct {
	OpponentID     string `json:"opponent_id"`
	OpponentName   string `json:"opponent_name"`
	OpponentRating int    `json:"opponent_rating"`
}

func (OpponentJoinedEvent) Type() string { return "opponent_joined" }

// OpponentLeftEvent 상대가 방을 떠남
type OpponentLeftEvent struct {
	OpponentID string `json:"opponent_id"`
	Reason     string `json:"reason"`
}

func (OpponentLeftEvent) Type() string { return "opponent_left" }

// ProgressUpdateEvent 상대 진행률 변경
type ProgressUpdateEvent struct {
	PlayerID string `json:"player_id"`
	Progress int    `json:"progress"`
}

func (ProgressUpdateEvent) Type() string { return "progress_update" }

// OpponentSubmittedEvent 상대가 제출 (정답으로 이겼다면 GameEnded로 끝난다)
type OpponentSubmittedEvent struct {
	PlayerID string `json:"player_id"`
	Attempts int    `json:"attempts"`
	Correct  bool   `json:"correct"`
}

func (OpponentSubmittedEvent) Type() string { return "opponent_submitted" }

// StateChangedEvent 방 상태 전이
type StateChangedEvent struct {
	State models.RoomState `json:"state"`
}

func (StateChangedEvent) Type() string { return "state_changed" }

// TimerSyncEvent 배틀 시작 시각과 남은 시간 동기화.
// ClockSynced가 false면 오프셋 표본을 아직 못 받은 상태라
// RemainingMs와 ServerNowMs를 카운트다운에 쓰면 안 된다.
type TimerSyncEvent struct {
	StartedAt   int64 `json:"started_at"`
	DurationMs  int64 `json:"duration_ms"`
	RemainingMs int64 `json:"remaining_ms"`
	ServerNowMs int64 `json:"server_now_ms"`
	ClockSynced bool  `json:"clock_synced"`
}

func (TimerSyncEvent) Type() string { return "timer_sync" }

// GameEndedEvent 배틀 종료
type GameEndedEvent struct {
	WinnerID   string `json:"winner_id"`
	WinReason  string `json:"win_reason"`
	You        bool   `json:"you_won"`
	FinishedAt int64  `json:"finished_at"`
}

func (GameEndedEvent) Type() string { return "game_ended" }

// SubmissionResultEvent 본인 제출 결과. Retryable은 전송 오류라
// 같은 제출을 그대로 다시 보내면 된다는 뜻이다.
type SubmissionResultEvent struct {
	Correct   bool   `json:"correct"`
	Winner    bool   `json:"winner"`
	Attempts  int    `json:"attempts"`
	Retryable bool   `json:"retryable,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (SubmissionResultEvent) Type() string { return "submission_result" }

// ConnectionStateChangedEvent 저장소 연결 상태 변경
type ConnectionStateChangedEvent struct {
	Connected bool `json:"connected"`
}

func (ConnectionStateChangedEvent) Type() string { return "connection_state_changed" }

// ReconnectFailedEvent 유예 시간 내 재접속 실패
type ReconnectFailedEvent struct {
	GraceMs int64 `json:"grace_ms"`
}

func (ReconnectFailedEvent) Type() string { return "reconnect_failed" }

// RoomClosedEvent 방이 삭제됨 (만료 등)
type RoomClosedEvent struct {
	Reason string `json:"reason"`
}

func (RoomClosedEvent) Type() string { return "room_closed" }

// RatingChangedEvent 배틀 결과 반영된 레이팅 변동
type RatingChangedEvent struct {
	OldRating   int    `json:"old_rating"`
	NewRating   int    `json:"new_rating"`
	Delta       int    `json:"delta"`
	BonusReason string `json:"bonus_reason,omitempty"`
	Tier        string `json:"tier"`
}

func (RatingChangedEvent) Type() string { return "rating_changed" }
