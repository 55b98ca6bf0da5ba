package kafka

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Client Kafka broker 設定
type Client struct {
	Brokers []string
}

// NewClient 由 broker 列表建立客戶端（忽略空白項目）
func NewClient(brokers []string) *Client {
	cleaned := []string{}
	for _, b := range brokers {
		b = strings.TrimSpace(b)
		if b != "" {
			cleaned = append(cleaned, b)
		}
	}
	return &Client{Brokers: cleaned}
}

// Enabled 是否有可用的 broker
func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

// NewWriter 建立以 key 雜湊分區的 writer（同一事件類型落在同一分區）
func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewReader 建立 consumer group reader
func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// DeadLetterTopic 死信 topic 名稱
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}
