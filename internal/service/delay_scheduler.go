package service

import (
	"sync"
	"time"
)

// DelayScheduler 延遲執行任務，不佔用呼叫端的 goroutine
type DelayScheduler interface {
	Schedule(delay time.Duration, task func())
}

// TimerDelayScheduler 以 time.AfterFunc 實作延遲任務
type TimerDelayScheduler struct {
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewTimerDelayScheduler 創建延遲排程器
func NewTimerDelayScheduler() *TimerDelayScheduler {
	return &TimerDelayScheduler{timers: make(map[uint64]*time.Timer)}
}

// Schedule 在 delay 之後執行 task，Stop 之後的排程會被忽略
func (s *TimerDelayScheduler) Schedule(delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	id := s.nextID
	s.nextID++
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()

		defer s.wg.Done()
		if pending {
			task()
		}
	})
}

// Pending 尚未執行的任務數
func (s *TimerDelayScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop 取消所有尚未觸發的任務，並等待執行中的任務結束
func (s *TimerDelayScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, timer := range s.timers {
		if timer.Stop() {
			delete(s.timers, id)
			s.wg.Done()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// ManualDelayScheduler 手動觸發的延遲排程器（用於測試）
type ManualDelayScheduler struct {
	tasks  []func()
	delays []time.Duration
	mu     sync.Mutex
}

// NewManualDelayScheduler 創建手動排程器
func NewManualDelayScheduler() *ManualDelayScheduler {
	return &ManualDelayScheduler{}
}

func (s *ManualDelayScheduler) Schedule(delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.delays = append(s.delays, delay)
}

// Delays 已排程任務的延遲時間
func (s *ManualDelayScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// RunPending 依序執行所有已排程的任務，回傳執行數量
func (s *ManualDelayScheduler) RunPending() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, task := range tasks {
		task()
	}
	return len(tasks)
}
