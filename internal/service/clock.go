package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hamdanyasser/debug-battle-backend/internal/store"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

// Clock 저장소 서버 시각 기준의 시계.
// 로컬 시각에 관측된 오프셋을 더해 서버 시각을 근사한다.
// 타이머 계산은 전부 이 시계를 거쳐야 양쪽 플레이어가 같은 시각을 본다.
type Clock struct {
	offsetMs atomic.Int64
	synced   atomic.Bool
}

func NewClock() *Clock {
	return &Clock{}
}

// Run 오프셋 스트림을 소비한다. ctx가 끝날 때까지 블록된다.
func (c *Clock) Run(ctx context.Context, st store.Store) error {
	ch, err := st.WatchServerOffset(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case offset, ok := <-ch:
			if !ok {
				return nil
			}
			c.SetOffset(offset)
		}
	}
}

// SetOffset 오프셋 갱신. 첫 갱신 이후 synced 상태가 된다.
func (c *Clock) SetOffset(offsetMs int64) {
	c.offsetMs.Store(offsetMs)
	if !c.synced.Swap(true) {
		logger.Debug("server clock synced", "offset_ms", offsetMs)
	}
}

// IsSynced 오프셋을 한 번이라도 받았는지
func (c *Clock) IsSynced() bool {
	return c.synced.Load()
}

// OffsetMs 현재 오프셋
func (c *Clock) OffsetMs() int64 {
	return c.offsetMs.Load()
}

// ServerNow 서버 시각 근사치 (unix millis)
func (c *Clock) ServerNow() int64 {
	return time.Now().UnixMilli() + c.offsetMs.Load()
}

// RemainingMs 시작 시각과 제한 시간으로 남은 시간 계산. 음수는 0으로 고정.
func (c *Clock) RemainingMs(startedAtMs, durationMs int64) int64 {
	remaining := durationMs - (c.ServerNow() - startedAtMs)
	if remaining < 0 {
		return 0
	}
	return remaining
}
