package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
)

var errConnLost = errors.New("memory store: connection lost")

// MemoryStore 인메모리 Store 구현. 테스트 및 단일 프로세스 운용용.
// 모든 쓰기는 뮤텍스로 직렬화되므로 UpdateRoom의 CAS 의미가 자명하게 성립한다.
type MemoryStore struct {
	mu      sync.Mutex
	rooms   map[string]*models.BattleRoom
	codes   map[string]string
	tickets map[string]*models.QueueTicket

	roomWatchers map[string][]chan *models.BattleRoom
	offsetSubs   []chan int64
	connSubs     []chan bool

	offsetMs   int64
	connected  bool
	failWrites bool
	nowFn      func() int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[string]*models.BattleRoom),
		codes:        make(map[string]string),
		tickets:      make(map[string]*models.QueueTicket),
		roomWatchers: make(map[string][]chan *models.BattleRoom),
		connected:    true,
		nowFn:        func() int64 { return time.Now().UnixMilli() },
	}
}

// SetNowFunc 테스트에서 서버 시각을 제어한다.
func (s *MemoryStore) SetNowFunc(fn func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// SetServerOffset 오프셋 변경을 구독자에게 전파한다.
func (s *MemoryStore) SetServerOffset(offsetMs int64) {
	s.mu.Lock()
	s.offsetMs = offsetMs
	subs := append([]chan int64(nil), s.offsetSubs...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- offsetMs:
		default:
		}
	}
}

// SetFailWrites 저장소 링크 단절을 시뮬레이션한다. true인 동안
// 쓰기와 서버 시각 조회가 전부 오류를 낸다.
func (s *MemoryStore) SetFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// SetConnected 연결 상태 변경을 구독자에게 전파한다.
func (s *MemoryStore) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	subs := append([]chan bool(nil), s.connSubs...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- connected:
		default:
		}
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.BattleRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errConnLost
	}
	if _, ok := s.rooms[room.ID]; ok {
		return ErrExists
	}
	cp := *room
	s.rooms[room.ID] = &cp
	s.notifyLocked(room.ID, &cp)
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (*models.BattleRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *MemoryStore) UpdateRoom(ctx context.Context, roomID string, mutate MutateFunc) (*models.BattleRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return nil, errConnLost
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *room
	if err := mutate(&cp, s.nowFn()); err != nil {
		return nil, err
	}
	s.rooms[roomID] = &cp
	out := cp
	s.notifyLocked(roomID, &out)
	return &out, nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errConnLost
	}
	if _, ok := s.rooms[roomID]; !ok {
		return ErrNotFound
	}
	delete(s.rooms, roomID)
	s.notifyLocked(roomID, nil)
	return nil
}

func (s *MemoryStore) SetProgress(ctx context.Context, roomID, playerID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errConnLost
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	cp := *room
	if cp.HostID == playerID {
		cp.HostProgress = progress
	} else if cp.GuestID == playerID {
		cp.GuestProgress = progress
	} else {
		return ErrNotFound
	}
	s.rooms[roomID] = &cp
	out := cp
	s.notifyLocked(roomID, &out)
	return nil
}

func (s *MemoryStore) PutRoomCode(ctx context.Context, code, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errConnLost
	}
	if _, ok := s.codes[code]; ok {
		return ErrExists
	}
	s.codes[code] = roomID
	return nil
}

func (s *MemoryStore) LookupRoomCode(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.codes[code]
	if !ok {
		return "", ErrNotFound
	}
	return roomID, nil
}

func (s *MemoryStore) DeleteRoomCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

func (s *MemoryStore) EnqueueTicket(ctx context.Context, ticket *models.QueueTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errConnLost
	}
	cp := *ticket
	s.tickets[ticket.PlayerID] = &cp
	return nil
}

func (s *MemoryStore) ClaimOldestTicket(ctx context.Context, selfPlayerID string) (*models.QueueTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*models.QueueTicket
	for _, t := range s.tickets {
		if t.PlayerID != selfPlayerID {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoTicket
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EnqueuedAt < candidates[j].EnqueuedAt
	})
	claimed := candidates[0]
	delete(s.tickets, claimed.PlayerID)
	cp := *claimed
	return &cp, nil
}

func (s *MemoryStore) RemoveTicket(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, playerID)
	return nil
}

func (s *MemoryStore) ServerTime(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return 0, errConnLost
	}
	return s.nowFn(), nil
}

func (s *MemoryStore) WatchRoom(ctx context.Context, roomID string) (<-chan *models.BattleRoom, error) {
	s.mu.Lock()
	ch := make(chan *models.BattleRoom, 16)
	s.roomWatchers[roomID] = append(s.roomWatchers[roomID], ch)
	if room, ok := s.rooms[roomID]; ok {
		cp := *room
		ch <- &cp
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		watchers := s.roomWatchers[roomID]
		for i, w := range watchers {
			if w == ch {
				s.roomWatchers[roomID] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *MemoryStore) WatchServerOffset(ctx context.Context) (<-chan int64, error) {
	s.mu.Lock()
	ch := make(chan int64, 4)
	s.offsetSubs = append(s.offsetSubs, ch)
	ch <- s.offsetMs
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.offsetSubs {
			if w == ch {
				s.offsetSubs = append(s.offsetSubs[:i], s.offsetSubs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *MemoryStore) WatchConnectivity(ctx context.Context) (<-chan bool, error) {
	s.mu.Lock()
	ch := make(chan bool, 4)
	s.connSubs = append(s.connSubs, ch)
	ch <- s.connected
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.connSubs {
			if w == ch {
				s.connSubs = append(s.connSubs[:i], s.connSubs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *MemoryStore) SweepExpiredRooms(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	count := 0
	for id, room := range s.rooms {
		if room.IsExpired(now) {
			delete(s.rooms, id)
			delete(s.codes, room.Code)
			s.notifyLocked(id, nil)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// notifyLocked 호출자는 s.mu를 잡고 있어야 한다. nil은 방 삭제를 뜻한다.
func (s *MemoryStore) notifyLocked(roomID string, room *models.BattleRoom) {
	for _, ch := range s.roomWatchers[roomID] {
		var cp *models.BattleRoom
		if room != nil {
			c := *room
			cp = &c
		}
		select {
		case ch <- cp:
		default:
		}
	}
}
