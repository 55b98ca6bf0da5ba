package kafka

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter kafka.Writer 的最小介面
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEventProducer 將生命週期事件寫入 order-events topic（message key 為事件類型）
type OrderEventProducer struct {
	writer messageWriter
	topic  string
}

// NewOrderEventProducer 建立事件生產者
func NewOrderEventProducer(client *Client, topic string) *OrderEventProducer {
	return &OrderEventProducer{writer: client.NewWriter(topic), topic: topic}
}

// Publish 同步寫入訊息，broker 確認後才返回
func (p *OrderEventProducer) Publish(ctx context.Context, key string, body []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("寫入 Kafka 失敗 (topic=%s, key=%s): %w", p.topic, key, err)
	}
	log.Printf("[KafkaProducer] 已發布事件: topic=%s, key=%s", p.topic, key)
	return nil
}

// Close 關閉生產者
func (p *OrderEventProducer) Close() error {
	return p.writer.Close()
}
