package kafka

import (
	"context"
	"ec-order-lifecycle-service/pkg/events"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageReader kafka.Reader 的最小介面
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEventConsumer 以 consumer group 讀取 order-events，失敗時帶重試 header 重新寫回，超過上限寫入死信 topic
type OrderEventConsumer struct {
	reader         messageReader
	retryWriter    messageWriter
	dlqWriter      messageWriter
	handler        events.Handler
	topic          string
	messageTimeout time.Duration
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewOrderEventConsumer 建立消費者
func NewOrderEventConsumer(client *Client, topic, groupID string, handler events.Handler) *OrderEventConsumer {
	return &OrderEventConsumer{
		reader:         client.NewReader(topic, groupID),
		retryWriter:    client.NewWriter(topic),
		dlqWriter:      client.NewWriter(DeadLetterTopic(topic)),
		handler:        handler,
		topic:          topic,
		messageTimeout: 30 * time.Second,
	}
}

// Start 在背景開始消費
func (c *OrderEventConsumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()

	log.Printf("[KafkaConsumer] 訂單事件消費者已啟動 (topic=%s)", c.topic)
	return nil
}

func (c *OrderEventConsumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[KafkaConsumer] 讀取消息失敗: %v，2 秒後重試", err)
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		// 重新發布或寫入死信失敗時停在同一筆消息，offset 不前進
		for !c.handleMessage(ctx, msg) {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Printf("[KafkaConsumer] 提交 offset 失敗: %v", err)
		}
	}
}

// handleMessage 處理單一消息，返回是否可以提交 offset
func (c *OrderEventConsumer) handleMessage(ctx context.Context, msg kafka.Message) bool {
	if string(msg.Key) != events.KeyOrderCreated {
		return true
	}

	message, err := events.Decode(msg.Value)
	if err != nil {
		log.Printf("[KafkaConsumer] 解析訊息失敗: %v，直接寫入死信 topic", err)
		return c.sendToDLQ(ctx, msg, getRetryCount(msg), err)
	}

	retryCount := getRetryCount(msg)

	handleCtx, cancel := context.WithTimeout(ctx, c.messageTimeout)
	err = c.handler.HandleOrderCreated(handleCtx, message)
	cancel()
	if err == nil {
		log.Printf("[KafkaConsumer] 訂單建立事件處理成功: orderId=%s", message.OrderID)
		return true
	}

	log.Printf("[KafkaConsumer] 處理訂單建立事件失敗: %v (重試次數: %d, orderId=%s)", err, retryCount, message.OrderID)
	if retryCount >= events.MaxRetries {
		return c.sendToDLQ(ctx, msg, retryCount, err)
	}

	retry := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: withHeader(msg.Headers, events.HeaderRetryCount, strconv.Itoa(retryCount+1)),
		Time:    time.Now().UTC(),
	}
	if err := c.retryWriter.WriteMessages(ctx, retry); err != nil {
		log.Printf("[KafkaConsumer] 重新發布消息失敗: %v", err)
		return false
	}
	return true
}

func (c *OrderEventConsumer) sendToDLQ(ctx context.Context, msg kafka.Message, retryCount int, cause error) bool {
	headers := withHeader(msg.Headers, events.HeaderRetryCount, strconv.Itoa(retryCount))
	headers = withHeader(headers, events.HeaderOriginalQueue, c.topic)
	headers = withHeader(headers, events.HeaderFailedReason, cause.Error())

	err := c.dlqWriter.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[KafkaConsumer] 發送消息到死信 topic 失敗: %v", err)
		return false
	}
	log.Printf("[KafkaConsumer] 消息已發送到死信 topic: orderId=%s", events.OrderIDOf(msg.Value))
	return true
}

// getRetryCount 從 header 讀取重試次數
func getRetryCount(msg kafka.Message) int {
	for _, h := range msg.Headers {
		if h.Key == events.HeaderRetryCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

// withHeader 覆寫或新增 header（不修改原切片）
func withHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: key, Value: []byte(value)})
}

// Stop 停止消費並關閉 reader / writer
func (c *OrderEventConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var errs []error
	for _, closer := range []interface{ Close() error }{c.reader, c.retryWriter, c.dlqWriter} {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("關閉 Kafka 消費者失敗: %w", err)
	}

	log.Println("[KafkaConsumer] Kafka Consumer 已停止")
	return nil
}
