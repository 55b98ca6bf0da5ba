package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderEventProducer 將生命週期事件發布到 order-events 交換器（routing key 為事件類型）
type OrderEventProducer struct {
	conn     *Connection
	topology Topology
	channel  *amqp.Channel
	mu       sync.Mutex
}

// NewOrderEventProducer 建立事件生產者（channel 開啟 publisher confirm）
func NewOrderEventProducer(conn *Connection, topology Topology) (*OrderEventProducer, error) {
	p := &OrderEventProducer{
		conn:     conn,
		topology: topology,
	}
	if err := p.openChannel(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *OrderEventProducer) openChannel() error {
	channel, err := p.conn.GetNewChannel()
	if err != nil {
		return fmt.Errorf("建立 Channel 失敗: %w", err)
	}

	if err := p.topology.declareExchange(channel); err != nil {
		channel.Close()
		return err
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return fmt.Errorf("開啟 publisher confirm 失敗: %w", err)
	}

	p.channel = channel
	return nil
}

// Publish 發布訊息並等待 broker 確認，未確認視為失敗
func (p *OrderEventProducer) Publish(ctx context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		log.Printf("[Producer] channel 已關閉，嘗試重新建立")
		if err := p.conn.Reconnect(); err != nil {
			return err
		}
		if err := p.openChannel(); err != nil {
			return err
		}
	}

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.topology.Exchange, // exchange
		key,                 // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent, // 持久化訊息
		},
	)
	if err != nil {
		return fmt.Errorf("發布訊息失敗: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("等待 broker 確認失敗: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker 拒絕訊息: key=%s", key)
	}

	log.Printf("[Producer] 已發布事件: exchange=%s, key=%s", p.topology.Exchange, key)
	return nil
}

// Close 關閉生產者
func (p *OrderEventProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel.Close()
	}
	return nil
}
