package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultChannel 預設的事件通道名稱（RabbitMQ exchange / Kafka topic）
const DefaultChannel = "order-events"

// 事件類型，同時作為通道上的 routing key / message key
const (
	KeyOrderCreated   = "order-created"
	KeyOrderCompleted = "order-completed"
	KeyOrderExpired   = "order-expired"
)

// 重試相關的訊息 header
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalQueue = "x-original-queue"
	HeaderFailedReason  = "x-failed-reason"
)

// MaxRetries 超過此重試次數的訊息會被送到死信隊列
const MaxRetries = 3

// ErrUnknownEventType 未知的事件類型
var ErrUnknownEventType = errors.New("未知的事件類型")

// OrderEventMessage order-events 通道上的 JSON 訊息
// Status 只出現在 order-created 事件中，消費者用它過濾重複或過時的訊息
type OrderEventMessage struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	OrderID   string          `json:"orderId"`
	UserID    string          `json:"userId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Publisher 將已序列化的事件發布到通道（以 key 分區）
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
}

// Handler 消費者處理 order-created 事件的介面
type Handler interface {
	HandleOrderCreated(ctx context.Context, msg OrderEventMessage) error
}

// IsKnownKey 檢查事件類型是否為已知的生命週期事件
func IsKnownKey(key string) bool {
	switch key {
	case KeyOrderCreated, KeyOrderCompleted, KeyOrderExpired:
		return true
	}
	return false
}

// Encode 序列化事件訊息
func Encode(msg OrderEventMessage) ([]byte, error) {
	if !IsKnownKey(msg.EventType) {
		return nil, fmt.Errorf("序列化事件失敗: %w: %q", ErrUnknownEventType, msg.EventType)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失敗: %w", err)
	}
	return body, nil
}

// Decode 反序列化事件訊息
func Decode(body []byte) (OrderEventMessage, error) {
	var msg OrderEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return OrderEventMessage{}, fmt.Errorf("解析事件失敗: %w", err)
	}
	if !IsKnownKey(msg.EventType) {
		return OrderEventMessage{}, fmt.Errorf("解析事件失敗: %w: %q", ErrUnknownEventType, msg.EventType)
	}
	if msg.OrderID == "" {
		return OrderEventMessage{}, errors.New("解析事件失敗: 缺少 orderId")
	}
	return msg, nil
}

// OrderIDOf 從訊息內容中盡量取出 orderId（用於日誌）
func OrderIDOf(body []byte) string {
	var msg struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.OrderID != "" {
		return msg.OrderID
	}
	return "unknown"
}
