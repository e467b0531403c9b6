package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamdanyasser/debug-battle-backend/internal/store"
)

func TestClock_SyncedAfterFirstOffset(t *testing.T) {
	c := NewClock()
	assert.False(t, c.IsSynced())

	c.SetOffset(500)
	assert.True(t, c.IsSynced())
	assert.Equal(t, int64(500), c.OffsetMs())
}

func TestClock_ServerNowAppliesOffset(t *testing.T) {
	c := NewClock()
	c.SetOffset(10000)

	now := time.Now().UnixMilli()
	serverNow := c.ServerNow()

	// 오프셋 10초가 반영되어야 한다 (호출 간 지연 약간 허용)
	assert.InDelta(t, now+10000, serverNow, 100)
}

func TestClock_RemainingMsClampsToZero(t *testing.T) {
	c := NewClock()
	c.SetOffset(0)

	started := time.Now().UnixMilli() - 5000
	assert.InDelta(t, 175000, c.RemainingMs(started, 180000), 100)

	// 이미 끝난 배틀은 0
	longAgo := time.Now().UnixMilli() - 200000
	assert.Equal(t, int64(0), c.RemainingMs(longAgo, 180000))
}

func TestClock_RunConsumesOffsetStream(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewClock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, st)
	}()

	st.SetServerOffset(7777)

	require.Eventually(t, func() bool {
		return c.OffsetMs() == 7777
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
