package service

import "errors"

var (
	ErrInvalidCode     = errors.New("invalid room code")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomExpired     = errors.New("room has expired")
	ErrAlreadyInRoom   = errors.New("already in a room")
	ErrNotInRoom       = errors.New("not in a room")
	ErrWrongState      = errors.New("operation not allowed in current room state")
	ErrNotHost         = errors.New("only the host can do this")
	ErrSelfJoin        = errors.New("cannot join your own room")
	ErrAlreadyDecided  = errors.New("battle already has a winner")
	ErrNotMatchmaking  = errors.New("not in the matchmaking queue")
	ErrClockNotSynced  = errors.New("server clock not synced yet")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrTransport 저장소 통신 실패. 방 상태는 손상되지 않았으므로 재시도하면 된다.
	ErrTransport = errors.New("network error, try again")
)
