package models

// QueueTicket 퀵 매칭 대기열 항목.
// EnqueuedAt은 서버 시각 unix millis — 오래된 티켓부터 매칭된다.
type QueueTicket struct {
	PlayerID    string `json:"player_id"`
	PlayerName  string `json:"player_name"`
	Rating      int    `json:"rating"`
	RoomID      string `json:"room_id"`
	ChallengeID string `json:"challenge_id"`
	EnqueuedAt  int64  `json:"enqueued_at"`
}
