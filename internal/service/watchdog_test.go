package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdog_FiresAfterGrace(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(20*time.Millisecond, func() { fired.Add(1) })

	w.Arm()
	assert.True(t, w.Armed())

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, w.Expired())
	assert.False(t, w.Armed())
}

func TestWatchdog_DisarmCancels(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(20*time.Millisecond, func() { fired.Add(1) })

	w.Arm()
	w.Disarm()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, w.Expired())
}

func TestWatchdog_RearmRestartsNotStacks(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(40*time.Millisecond, func() { fired.Add(1) })

	// 연속 Arm은 타이머를 재시작할 뿐 중첩되지 않는다
	w.Arm()
	time.Sleep(25 * time.Millisecond)
	w.Arm()
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// 발화 후에는 다시 Arm해도 재발화하지 않는다
	w.Arm()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatchdog_FiresExactlyOnce(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(10*time.Millisecond, func() { fired.Add(1) })

	w.Arm()
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)

	w.Disarm()
	w.Arm()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatchdog_ResetAllowsNewCycle(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(10*time.Millisecond, func() { fired.Add(1) })

	w.Arm()
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// 발화 기록은 Reset 전까지 유지된다
	w.Arm()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())

	// Reset 후에는 새 주기가 돌고, 한 번만 발화하는 보장도 새로 시작한다
	w.Reset()
	assert.False(t, w.Expired())
	w.Arm()
	require.Eventually(t, func() bool {
		return fired.Load() == 2
	}, time.Second, 5*time.Millisecond)
}
