package rabbitmq

import (
	"context"
	"ec-order-lifecycle-service/pkg/events"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publishFunc 重新發布消息（重試或死信）
type publishFunc func(ctx context.Context, exchange, key string, msg amqp.Publishing) error

// OrderEventConsumer 訂單事件消費者（Worker Pool + 重試計數 + 死信隊列）
type OrderEventConsumer struct {
	conn           *Connection
	topology       Topology
	channel        *amqp.Channel
	handler        events.Handler
	workerCount    int // Worker Pool 大小
	prefetchCount  int // Prefetch count
	workerChan     chan amqp.Delivery
	stopChan       chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
	messageTimeout time.Duration // 消息處理超時時間
	publish        publishFunc
}

// NewOrderEventConsumer 建立訂單事件消費者（使用預設配置）
func NewOrderEventConsumer(conn *Connection, topology Topology, handler events.Handler) (*OrderEventConsumer, error) {
	return NewOrderEventConsumerWithConfig(conn, topology, handler, 10, 10)
}

// NewOrderEventConsumerWithConfig 建立訂單事件消費者（使用自訂配置）
func NewOrderEventConsumerWithConfig(conn *Connection, topology Topology, handler events.Handler, prefetchCount, workerCount int) (*OrderEventConsumer, error) {
	// 為 Consumer 創建獨立的 Channel
	channel, err := conn.GetNewChannel()
	if err != nil {
		return nil, fmt.Errorf("建立 Channel 失敗: %w", err)
	}

	if err := topology.declareConsumer(channel, prefetchCount); err != nil {
		channel.Close()
		return nil, err
	}

	c := newOrderEventConsumer(topology, handler, prefetchCount, workerCount)
	c.conn = conn
	c.channel = channel
	c.publish = c.publishOnChannel
	return c, nil
}

func newOrderEventConsumer(topology Topology, handler events.Handler, prefetchCount, workerCount int) *OrderEventConsumer {
	if workerCount <= 0 {
		workerCount = 1
	}

	// 計算 worker channel 緩衝區大小（至少為 worker 數量的 2 倍，但最多 100）
	bufferSize := workerCount * 2
	if bufferSize > 100 {
		bufferSize = 100
	}

	return &OrderEventConsumer{
		topology:       topology,
		handler:        handler,
		workerCount:    workerCount,
		prefetchCount:  prefetchCount,
		workerChan:     make(chan amqp.Delivery, bufferSize),
		stopChan:       make(chan struct{}),
		messageTimeout: 30 * time.Second,
	}
}

// Start 開始消費訊息（使用 Worker Pool 實現並發處理，支持自動重連）
func (c *OrderEventConsumer) Start() error {
	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go func(workerID int) {
			defer c.wg.Done()
			for {
				select {
				case msg := <-c.workerChan:
					c.handleMessage(msg, workerID)
				case <-c.stopChan:
					log.Printf("[Worker %d] 收到停止信號", workerID)
					return
				}
			}
		}(i)
	}

	c.wg.Add(1)
	go c.messageReceiver()

	log.Printf("[Consumer] 訂單事件消費者已啟動 (queue=%s, Workers=%d, Prefetch=%d)",
		c.topology.Queue, c.workerCount, c.prefetchCount)
	return nil
}

// messageReceiver 接收消息並分發到 worker channel（支持自動重連）
func (c *OrderEventConsumer) messageReceiver() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		msgs, err := c.consumeMessages()
		if err != nil {
			log.Printf("[Consumer] 接收消息失敗，嘗試重連: %v", err)
			if err := c.reconnect(); err != nil {
				log.Printf("[Consumer] 重連失敗: %v，5 秒後重試", err)
				if c.sleepOrStop(5 * time.Second) {
					return
				}
			}
			continue
		}

		for msg := range msgs {
			select {
			case c.workerChan <- msg:
			case <-c.stopChan:
				msg.Nack(false, true) // 重新入隊
				return
			default:
				// worker channel 已滿：最多等待 5 秒，仍無空間則重新入隊
				log.Printf("[Consumer] 警告: worker channel 已滿，等待空間...")
				select {
				case c.workerChan <- msg:
				case <-time.After(5 * time.Second):
					log.Printf("[Consumer] 錯誤: worker channel 長時間滿載，拒絕消息: orderId=%s",
						events.OrderIDOf(msg.Body))
					msg.Nack(false, true)
				case <-c.stopChan:
					msg.Nack(false, true)
					return
				}
			}
		}

		select {
		case <-c.stopChan:
			return
		default:
		}

		log.Println("[Consumer] 消息通道已關閉，嘗試重連...")
		if err := c.reconnect(); err != nil {
			log.Printf("[Consumer] 重連失敗: %v，5 秒後重試", err)
			if c.sleepOrStop(5 * time.Second) {
				return
			}
		}
	}
}

// sleepOrStop 等待一段時間，收到停止信號時返回 true
func (c *OrderEventConsumer) sleepOrStop(d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-c.stopChan:
		return true
	}
}

// consumeMessages 消費消息
func (c *OrderEventConsumer) consumeMessages() (<-chan amqp.Delivery, error) {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	if channel == nil {
		return nil, errors.New("channel 為 nil")
	}
	if channel.IsClosed() {
		return nil, errors.New("channel 已關閉")
	}

	msgs, err := channel.Consume(
		c.topology.Queue, // queue
		"",               // consumer
		false,            // auto-ack
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	if err != nil {
		return nil, fmt.Errorf("註冊消費者失敗: %w", err)
	}

	return msgs, nil
}

// reconnect 重新連接並重新設置 channel
func (c *OrderEventConsumer) reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldChannel := c.channel
	c.channel = nil
	if oldChannel != nil && !oldChannel.IsClosed() {
		oldChannel.Close()
	}

	if err := c.conn.Reconnect(); err != nil {
		return fmt.Errorf("重新連接失敗: %w", err)
	}

	channel, err := c.conn.GetNewChannel()
	if err != nil {
		return fmt.Errorf("創建新 channel 失敗: %w", err)
	}

	if err := c.topology.declareConsumer(channel, c.prefetchCount); err != nil {
		channel.Close()
		return fmt.Errorf("設置 channel 失敗: %w", err)
	}

	c.channel = channel
	return nil
}

// handleMessage 處理訊息（帶重試限制和超時機制）
func (c *OrderEventConsumer) handleMessage(msg amqp.Delivery, workerID int) {
	message, err := events.Decode(msg.Body)
	if err != nil {
		// 無法解析的消息不重試，直接經由 DLX 進入死信佇列
		log.Printf("[Worker %d] 解析訊息失敗: %v, 訊息內容: %s", workerID, err, string(msg.Body))
		msg.Nack(false, false)
		return
	}

	if message.EventType != events.KeyOrderCreated {
		log.Printf("[Worker %d] 略過非 order-created 事件: eventType=%s, orderId=%s",
			workerID, message.EventType, message.OrderID)
		msg.Ack(false)
		return
	}

	log.Printf("[Worker %d] 收到訂單建立事件: orderId=%s, status=%s", workerID, message.OrderID, message.Status)

	retryCount := getRetryCount(msg)

	ctx, cancel := context.WithTimeout(context.Background(), c.messageTimeout)
	defer cancel()

	resultChan := make(chan error, 1)
	go func() {
		resultChan <- c.handler.HandleOrderCreated(ctx, message)
	}()

	select {
	case err = <-resultChan:
	case <-ctx.Done():
		err = fmt.Errorf("處理消息超時（超過 %v）", c.messageTimeout)
		log.Printf("[Worker %d] 處理消息超時: orderId=%s", workerID, message.OrderID)
	}

	if err == nil {
		log.Printf("[Worker %d] 訂單建立事件處理成功: orderId=%s", workerID, message.OrderID)
		msg.Ack(false)
		return
	}

	log.Printf("[Worker %d] 處理訂單建立事件失敗: %v (重試次數: %d, orderId=%s)",
		workerID, err, retryCount, message.OrderID)

	if retryCount >= events.MaxRetries {
		log.Printf("[Worker %d] 重試次數已達上限，將消息發送到死信隊列: orderId=%s", workerID, message.OrderID)
		if c.sendToDLQ(msg, retryCount, err) {
			msg.Ack(false)
		} else {
			msg.Nack(false, true)
		}
		return
	}

	newRetryCount := retryCount + 1
	if c.republishWithRetryCount(msg, newRetryCount) {
		log.Printf("[Worker %d] 已重新發布消息: orderId=%s, retryCount=%d", workerID, message.OrderID, newRetryCount)
		msg.Ack(false)
	} else {
		msg.Nack(false, true)
	}
}

// getRetryCount 從消息 headers 獲取重試次數（AMQP 解碼後的整數型別不固定）
func getRetryCount(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}

	switch v := msg.Headers[events.HeaderRetryCount].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// republishWithRetryCount 重新發布消息並增加重試計數（返回是否成功）
func (c *OrderEventConsumer) republishWithRetryCount(original amqp.Delivery, retryCount int) bool {
	err := c.publish(context.Background(), c.topology.Exchange, c.topology.RoutingKey, amqp.Publishing{
		ContentType:  "application/json",
		Body:         original.Body,
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			events.HeaderRetryCount: int32(retryCount),
		},
	})
	if err != nil {
		log.Printf("[Consumer] 重新發布消息失敗: %v", err)
		return false
	}
	return true
}

// sendToDLQ 將消息發送到死信隊列（返回是否成功）
func (c *OrderEventConsumer) sendToDLQ(original amqp.Delivery, retryCount int, cause error) bool {
	err := c.publish(context.Background(), c.topology.DeadLetterExchange, c.topology.DeadLetterKey, amqp.Publishing{
		ContentType:  "application/json",
		Body:         original.Body,
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			events.HeaderOriginalQueue: c.topology.Queue,
			events.HeaderRetryCount:    int32(retryCount),
			events.HeaderFailedReason:  cause.Error(),
		},
	})
	if err != nil {
		log.Printf("[Consumer] 發送消息到死信隊列失敗: %v", err)
		return false
	}
	log.Printf("[Consumer] 消息已發送到死信隊列: orderId=%s", events.OrderIDOf(original.Body))
	return true
}

// publishOnChannel 使用目前的 channel 發布
func (c *OrderEventConsumer) publishOnChannel(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	if channel == nil || channel.IsClosed() {
		return errors.New("channel 不可用")
	}
	return channel.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// Stop 停止消費者（優雅關閉）
func (c *OrderEventConsumer) Stop() error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	// 關閉 channel 讓 messageReceiver 的 range 結束
	if channel != nil && !channel.IsClosed() {
		channel.Close()
	}

	c.wg.Wait()
	log.Println("[Consumer] RabbitMQ Consumer 已停止")
	return nil
}
