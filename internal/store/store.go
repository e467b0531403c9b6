package store

import (
	"context"
	"errors"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrExists       = errors.New("store: already exists")
	ErrNoTicket     = errors.New("store: no matching ticket")
	ErrTxContention = errors.New("store: transaction contention")
)

// MutateFunc 방 문서를 트랜잭션 내에서 변경한다.
// serverNowMs는 스토어가 관측한 서버 시각. 에러를 반환하면 커밋하지 않는다.
type MutateFunc func(room *models.BattleRoom, serverNowMs int64) error

// Store 배틀 방 공유 상태 저장소.
// UpdateRoom은 compare-and-set 의미를 가진다: 읽은 시점과 커밋 시점 사이에
// 다른 쓰기가 끼어들면 재시도하거나 ErrTxContention을 반환한다.
// SetProgress는 예외적으로 last-writer-wins 단순 쓰기다.
type Store interface {
	// 방 문서
	CreateRoom(ctx context.Context, room *models.BattleRoom) error
	GetRoom(ctx context.Context, roomID string) (*models.BattleRoom, error)
	UpdateRoom(ctx context.Context, roomID string, mutate MutateFunc) (*models.BattleRoom, error)
	DeleteRoom(ctx context.Context, roomID string) error

	// SetProgress 진행률 필드만 갱신. 조언성 데이터이므로 CAS 없이 쓴다.
	SetProgress(ctx context.Context, roomID, playerID string, progress int) error

	// 방 코드 인덱스
	PutRoomCode(ctx context.Context, code, roomID string) error
	LookupRoomCode(ctx context.Context, code string) (string, error)
	DeleteRoomCode(ctx context.Context, code string) error

	// 퀵 매칭 대기열
	EnqueueTicket(ctx context.Context, ticket *models.QueueTicket) error
	// ClaimOldestTicket 자신의 티켓을 제외한 가장 오래된 티켓을 원자적으로
	// 꺼낸다. 없으면 ErrNoTicket.
	ClaimOldestTicket(ctx context.Context, selfPlayerID string) (*models.QueueTicket, error)
	RemoveTicket(ctx context.Context, playerID string) error

	// 시간 및 연결 상태
	ServerTime(ctx context.Context) (int64, error)

	// WatchRoom 방 문서 변경 스트림. 구독 시점 스냅샷을 먼저 전달한다.
	// ctx가 끝나면 채널을 닫는다.
	WatchRoom(ctx context.Context, roomID string) (<-chan *models.BattleRoom, error)

	// WatchServerOffset 서버 시각과 로컬 시각의 차이(millis) 스트림.
	WatchServerOffset(ctx context.Context) (<-chan int64, error)

	// WatchConnectivity 저장소 연결 상태 스트림. 구독 시점 상태를 먼저 전달한다.
	WatchConnectivity(ctx context.Context) (<-chan bool, error)

	// SweepExpiredRooms WAITING 상태로 TTL을 초과한 방을 삭제하고 개수를 반환.
	SweepExpiredRooms(ctx context.Context) (int, error)

	Close() error
}
