package rabbitmq

import (
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection RabbitMQ 連接管理
type Connection struct {
	conn *amqp.Connection
	url  string
	mu   sync.Mutex
}

// NewConnection 建立新的 RabbitMQ 連接
func NewConnection(url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("連接 RabbitMQ 失敗: %w", err)
	}

	return &Connection{
		conn: conn,
		url:  url,
	}, nil
}

// GetNewChannel 獲取新的 Channel（每次調用返回新的 Channel，避免共享）
func (c *Connection) GetNewChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil, fmt.Errorf("連接已關閉")
	}

	channel, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("建立 Channel 失敗: %w", err)
	}
	return channel, nil
}

// Close 關閉連接
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}

// Reconnect 重新連接（生產者與消費者共用同一個連接，已被其他人重連時直接返回）
func (c *Connection) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("重新連接 RabbitMQ 失敗: %w", err)
	}

	c.conn = conn
	log.Println("[RabbitMQ] 重新連接成功")
	return nil
}
