package service

import (
	"sync"
	"time"
)

// Watchdog 재접속 유예 타이머.
// 연결이 끊기면 Arm, 복구되면 Disarm. 유예 시간 안에 Disarm되지 않으면
// 콜백이 정확히 한 번 실행된다. Arm을 반복 호출해도 타이머는 하나만 돈다.
type Watchdog struct {
	mu      sync.Mutex
	grace   time.Duration
	timer   *time.Timer
	armed   bool
	expired bool
	onFire  func()
}

func NewWatchdog(grace time.Duration, onFire func()) *Watchdog {
	return &Watchdog{grace: grace, onFire: onFire}
}

// Arm 유예 타이머 시작. 이미 돌고 있으면 처음부터 다시 센다.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.armed = true
	w.timer = time.AfterFunc(w.grace, w.fire)
}

// Disarm 타이머 취소. 이미 발화했으면 무시된다.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = false
}

// Armed 타이머가 돌고 있는지
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Reset 발화 기록을 지우고 초기 상태로 돌린다. 새 배틀에 들어갈 때
// 호출해야 직전 배틀의 몰수가 다음 배틀의 보호를 막지 않는다.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = false
	w.expired = false
}

// Expired 발화 여부. 발화한 와치독은 Reset 전까지 다시 Arm할 수 없다.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.expired || !w.armed {
		w.mu.Unlock()
		return
	}
	w.expired = true
	w.armed = false
	w.timer = nil
	cb := w.onFire
	w.mu.Unlock()

	if cb != nil {
		cb()
	}
}
