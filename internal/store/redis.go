package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hamdanyasser/debug-battle-backend/internal/models"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

const (
	roomKeyPrefix   = "battle:room:"
	codeKeyPrefix   = "battle:code:"
	queueKey        = "battle:queue"
	ticketKeyPrefix = "battle:ticket:"
	roomChanPrefix  = "battle:events:"
	roomIndexKey    = "battle:rooms"

	maxTxRetries   = 5
	offsetInterval = 30 * time.Second
	pingInterval   = 5 * time.Second
)

// claimScript 자신을 제외한 가장 오래된 티켓을 원자적으로 꺼낸다.
// KEYS[1]=queue zset, ARGV[1]=self player id, ARGV[2]=ticket key prefix
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for i, id in ipairs(ids) do
    if id ~= ARGV[1] then
        local ticket = redis.call('GET', ARGV[2] .. id)
        redis.call('ZREM', KEYS[1], id)
        redis.call('DEL', ARGV[2] .. id)
        if ticket then
            return ticket
        end
    end
end
return false
`)

// RedisStore Redis 기반 Store 구현.
// 방 문서는 JSON 문자열, CAS는 WATCH/MULTI 트랜잭션, 변경 알림은 pub/sub.
type RedisStore struct {
	client  *redis.Client
	roomTTL time.Duration
}

func NewRedisStore(redisURL string, roomTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis store connected")
	return &RedisStore{client: client, roomTTL: roomTTL}, nil
}

func (s *RedisStore) CreateRoom(ctx context.Context, room *models.BattleRoom) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	ok, err := s.client.SetNX(ctx, roomKeyPrefix+room.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	if !ok {
		return ErrExists
	}
	s.client.SAdd(ctx, roomIndexKey, room.ID)
	s.publishRoom(ctx, room.ID, data)
	return nil
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (*models.BattleRoom, error) {
	data, err := s.client.Get(ctx, roomKeyPrefix+roomID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	var room models.BattleRoom
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (s *RedisStore) UpdateRoom(ctx context.Context, roomID string, mutate MutateFunc) (*models.BattleRoom, error) {
	key := roomKeyPrefix + roomID
	var result *models.BattleRoom

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var room models.BattleRoom
		if err := json.Unmarshal(data, &room); err != nil {
			return err
		}

		serverTime, err := tx.Time(ctx).Result()
		if err != nil {
			return err
		}
		if err := mutate(&room, serverTime.UnixMilli()); err != nil {
			return err
		}

		updated, err := json.Marshal(&room)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.Publish(ctx, roomChanPrefix+roomID, updated)
			return nil
		})
		if err == nil {
			result = &room
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, err
	}
	return nil, ErrTxContention
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	n, err := s.client.Del(ctx, roomKeyPrefix+roomID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.client.SRem(ctx, roomIndexKey, roomID)
	s.client.Publish(ctx, roomChanPrefix+roomID, "null")
	return nil
}

func (s *RedisStore) SetProgress(ctx context.Context, roomID, playerID string, progress int) error {
	// 진행률은 조언성 데이터 — 경합 시 마지막 쓰기가 이긴다.
	_, err := s.UpdateRoom(ctx, roomID, func(room *models.BattleRoom, _ int64) error {
		if room.HostID == playerID {
			room.HostProgress = progress
		} else if room.GuestID == playerID {
			room.GuestProgress = progress
		} else {
			return ErrNotFound
		}
		return nil
	})
	return err
}

func (s *RedisStore) PutRoomCode(ctx context.Context, code, roomID string) error {
	ok, err := s.client.SetNX(ctx, codeKeyPrefix+code, roomID, s.roomTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to put room code: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) LookupRoomCode(ctx context.Context, code string) (string, error) {
	roomID, err := s.client.Get(ctx, codeKeyPrefix+code).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lookup room code: %w", err)
	}
	return roomID, nil
}

func (s *RedisStore) DeleteRoomCode(ctx context.Context, code string) error {
	return s.client.Del(ctx, codeKeyPrefix+code).Err()
}

func (s *RedisStore) EnqueueTicket(ctx context.Context, ticket *models.QueueTicket) error {
	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ticketKeyPrefix+ticket.PlayerID, data, s.roomTTL)
	pipe.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(ticket.EnqueuedAt),
		Member: ticket.PlayerID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue ticket: %w", err)
	}
	return nil
}

func (s *RedisStore) ClaimOldestTicket(ctx context.Context, selfPlayerID string) (*models.QueueTicket, error) {
	raw, err := claimScript.Run(ctx, s.client, []string{queueKey}, selfPlayerID, ticketKeyPrefix).Result()
	if err == redis.Nil {
		return nil, ErrNoTicket
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim ticket: %w", err)
	}
	str, ok := raw.(string)
	if !ok {
		return nil, ErrNoTicket
	}
	var ticket models.QueueTicket
	if err := json.Unmarshal([]byte(str), &ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	return &ticket, nil
}

func (s *RedisStore) RemoveTicket(ctx context.Context, playerID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, queueKey, playerID)
	pipe.Del(ctx, ticketKeyPrefix+playerID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ServerTime(ctx context.Context) (int64, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	return t.UnixMilli(), nil
}

func (s *RedisStore) WatchRoom(ctx context.Context, roomID string) (<-chan *models.BattleRoom, error) {
	pubsub := s.client.Subscribe(ctx, roomChanPrefix+roomID)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room: %w", err)
	}

	out := make(chan *models.BattleRoom, 16)

	// 구독 시점 스냅샷을 먼저 전달
	room, err := s.GetRoom(ctx, roomID)
	if err != nil && err != ErrNotFound {
		pubsub.Close()
		return nil, err
	}
	if room != nil {
		out <- room
	}

	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == "null" {
					select {
					case out <- nil:
					case <-ctx.Done():
						return
					}
					continue
				}
				var r models.BattleRoom
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					logger.Warn("failed to decode room event", "room_id", roomID, "error", err)
					continue
				}
				select {
				case out <- &r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) WatchServerOffset(ctx context.Context) (<-chan int64, error) {
	out := make(chan int64, 4)

	sample := func() (int64, error) {
		before := time.Now()
		serverMs, err := s.ServerTime(ctx)
		if err != nil {
			return 0, err
		}
		// 왕복 절반을 보정한 로컬 시각 기준 오프셋
		rtt := time.Since(before)
		localMs := before.Add(rtt / 2).UnixMilli()
		return serverMs - localMs, nil
	}

	if offset, err := sample(); err == nil {
		out <- offset
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(offsetInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				offset, err := sample()
				if err != nil {
					continue
				}
				select {
				case out <- offset:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) WatchConnectivity(ctx context.Context) (<-chan bool, error) {
	out := make(chan bool, 4)

	connected := s.client.Ping(ctx).Err() == nil
	out <- connected
	last := connected

	go func() {
		defer close(out)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := s.client.Ping(ctx).Err() == nil
				if now == last {
					continue
				}
				last = now
				select {
				case out <- now:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) SweepExpiredRooms(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list rooms: %w", err)
	}
	now, err := s.ServerTime(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if err == ErrNotFound {
			s.client.SRem(ctx, roomIndexKey, id)
			continue
		}
		if err != nil {
			return count, err
		}
		if !room.IsExpired(now) {
			continue
		}
		// 만료 확인과 삭제 사이에 게스트가 들어올 수 있으므로 CAS로 재확인
		_, err = s.UpdateRoom(ctx, id, func(r *models.BattleRoom, serverNow int64) error {
			if !r.IsExpired(serverNow) {
				return ErrNotFound
			}
			return nil
		})
		if err != nil {
			continue
		}
		if err := s.DeleteRoom(ctx, id); err != nil && err != ErrNotFound {
			return count, err
		}
		s.DeleteRoomCode(ctx, room.Code)
		count++
	}

	if count > 0 {
		logger.Info("swept expired rooms", "count", count)
	}
	return count, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) publishRoom(ctx context.Context, roomID string, data []byte) {
	if err := s.client.Publish(ctx, roomChanPrefix+roomID, data).Err(); err != nil {
		logger.Warn("failed to publish room event", "room_id", roomID, "error", err)
	}
}
