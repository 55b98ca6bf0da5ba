package handler

import (
	"bytes"
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/pkg/events"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	err    error
	events []domain.OrderCreatedEvent
}

func (p *stubProcessor) HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func createdMessage() events.OrderEventMessage {
	return events.OrderEventMessage{
		EventID:   "event-1",
		EventType: events.KeyOrderCreated,
		OrderID:   "order-1",
		UserID:    "user-1",
		ProductID: "product-1",
		Quantity:  3,
		Total:     decimal.RequireFromString("450.00"),
		Status:    "PENDING",
		Timestamp: "2024-01-01T12:00:00.5Z",
	}
}

func TestOrderEventHandler_HandleOrderCreated(t *testing.T) {
	t.Run("消息轉為領域事件後交給處理器", func(t *testing.T) {
		processor := &stubProcessor{}
		h := NewOrderEventHandler(processor)

		err := h.HandleOrderCreated(context.Background(), createdMessage())

		require.NoError(t, err)
		require.Len(t, processor.events, 1)
		event := processor.events[0]
		assert.Equal(t, "order-1", event.OrderID)
		assert.Equal(t, domain.StatusPending, event.Status)
		assert.Equal(t, 3, event.Quantity)
		assert.True(t, event.Total.Equal(decimal.NewFromInt(450)))
		assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 500_000_000, time.UTC), event.Timestamp.UTC())
	})

	t.Run("處理失敗時回傳包裝後的錯誤", func(t *testing.T) {
		cause := domain.ErrProcessing{OrderID: "order-1", Op: "begin-payment", Err: errors.New("db down")}
		h := NewOrderEventHandler(&stubProcessor{err: cause})

		err := h.HandleOrderCreated(context.Background(), createdMessage())

		var processingErr domain.ErrProcessing
		require.ErrorAs(t, err, &processingErr)
		assert.Equal(t, "begin-payment", processingErr.Op)
	})
}

func TestToOrderCreatedEvent(t *testing.T) {
	captureLog := func(t *testing.T) *bytes.Buffer {
		var buf bytes.Buffer
		log.SetOutput(&buf)
		t.Cleanup(func() { log.SetOutput(os.Stderr) })
		return &buf
	}

	t.Run("時間格式錯誤時記錄日誌並保留零值", func(t *testing.T) {
		buf := captureLog(t)
		msg := createdMessage()
		msg.Timestamp = "not-a-time"

		event := ToOrderCreatedEvent(msg)

		assert.True(t, event.Timestamp.IsZero())
		assert.Equal(t, "event-1", event.EventID)
		assert.Contains(t, buf.String(), "[Handler] 事件時間格式錯誤")
		assert.Contains(t, buf.String(), `timestamp="not-a-time"`)
	})

	t.Run("正確的時間不記錄錯誤", func(t *testing.T) {
		buf := captureLog(t)

		event := ToOrderCreatedEvent(createdMessage())

		assert.False(t, event.Timestamp.IsZero())
		assert.NotContains(t, buf.String(), "事件時間格式錯誤")
	})
}
