package events

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("order-created 帶有狀態欄位", func(t *testing.T) {
		body, err := Encode(OrderEventMessage{
			EventID:   "e1",
			EventType: KeyOrderCreated,
			OrderID:   "o1",
			UserID:    "u1",
			ProductID: "p1",
			Quantity:  3,
			Total:     decimal.RequireFromString("150.00"),
			Status:    "PENDING",
			Timestamp: "2024-01-01T12:00:00Z",
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"eventId":"e1","eventType":"order-created","orderId":"o1","userId":"u1",
			"productId":"p1","quantity":3,"total":"150","status":"PENDING",
			"timestamp":"2024-01-01T12:00:00Z"
		}`, string(body))

		msg, err := Decode(body)
		require.NoError(t, err)
		assert.Equal(t, "PENDING", msg.Status)
		assert.True(t, decimal.RequireFromString("150").Equal(msg.Total))
	})

	t.Run("order-expired 不輸出狀態欄位", func(t *testing.T) {
		body, err := Encode(OrderEventMessage{EventType: KeyOrderExpired, OrderID: "o1", Total: decimal.Zero})
		require.NoError(t, err)
		assert.NotContains(t, string(body), `"status"`)
	})

	t.Run("未知的事件類型無法序列化", func(t *testing.T) {
		_, err := Encode(OrderEventMessage{EventType: "order-shipped", OrderID: "o1"})
		assert.ErrorIs(t, err, ErrUnknownEventType)
	})
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "不是 JSON", body: `not-json`},
		{name: "未知類型", body: `{"eventType":"order-shipped","orderId":"o1"}`},
		{name: "缺少 orderId", body: `{"eventType":"order-created"}`},
		{name: "金額格式錯誤", body: `{"eventType":"order-created","orderId":"o1","total":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestOrderIDOf(t *testing.T) {
	assert.Equal(t, "o9", OrderIDOf([]byte(`{"orderId":"o9"}`)))
	assert.Equal(t, "unknown", OrderIDOf([]byte(`garbage`)))
}
