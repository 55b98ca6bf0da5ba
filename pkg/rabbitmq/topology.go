package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology order-events 通道在 RabbitMQ 上的拓撲
// 交換器以事件類型作為 routing key，付款處理佇列只綁定 order-created
type Topology struct {
	Exchange           string
	Queue              string
	RoutingKey         string
	DeadLetterExchange string
	DeadLetterQueue    string
	DeadLetterKey      string
}

// NewTopology 依通道名稱建立預設拓撲
func NewTopology(channelName string) Topology {
	return Topology{
		Exchange:           channelName,
		Queue:              channelName + ".payment",
		RoutingKey:         "order-created",
		DeadLetterExchange: channelName + ".dlx",
		DeadLetterQueue:    channelName + ".payment.dlq",
		DeadLetterKey:      "order-created.dlq",
	}
}

// declareExchange 宣告事件交換器
func (t Topology) declareExchange(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(
		t.Exchange, // exchange name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("宣告交換器失敗: %w", err)
	}
	return nil
}

// declareConsumer 宣告消費端需要的交換器、死信佇列與工作佇列
func (t Topology) declareConsumer(channel *amqp.Channel, prefetchCount int) error {
	if err := t.declareExchange(channel); err != nil {
		return err
	}

	// 宣告死信交換器
	if err := channel.ExchangeDeclare(
		t.DeadLetterExchange, // exchange name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	); err != nil {
		return fmt.Errorf("宣告死信交換器失敗: %w", err)
	}

	// 宣告死信佇列（收集無法解析或重試超過上限的消息）
	if _, err := channel.QueueDeclare(
		t.DeadLetterQueue, // dead letter queue name
		true,              // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		return fmt.Errorf("宣告死信佇列失敗: %w", err)
	}

	if err := channel.QueueBind(
		t.DeadLetterQueue,    // queue name
		t.DeadLetterKey,      // routing key
		t.DeadLetterExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("綁定死信佇列失敗: %w", err)
	}

	// 宣告工作佇列（包含死信參數，被 Nack(requeue=false) 的消息也會進入死信佇列）
	if _, err := channel.QueueDeclare(
		t.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    t.DeadLetterExchange,
			"x-dead-letter-routing-key": t.DeadLetterKey,
		},
	); err != nil {
		return fmt.Errorf("宣告隊列失敗: %w", err)
	}

	if err := channel.QueueBind(
		t.Queue,
		t.RoutingKey,
		t.Exchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("綁定隊列失敗: %w", err)
	}

	// 設置公平分發
	if err := channel.Qos(
		prefetchCount,
		0,     // prefetch size
		false, // global
	); err != nil {
		return fmt.Errorf("設置 Qos 失敗: %w", err)
	}

	return nil
}
