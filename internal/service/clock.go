package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock 時間來源
type Clock interface {
	Now() time.Time
}

// SystemClock 系統時間（UTC）
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock 可手動推進的時鐘（用於測試）
type FakeClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewFakeClock 創建固定時間的時鐘
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推進時間
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// IDGenerator 產生訂單 ID
type IDGenerator func() string

// NewUUID 以 UUIDv4 產生 ID
func NewUUID() string {
	return uuid.NewString()
}
