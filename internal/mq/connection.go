package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
	heartbeat         = 10 * time.Second
)

// Connection держит AMQP соединение с одним каналом.
//
// После разрыва соединение восстанавливается в фоне; задержка между
// попытками удваивается до reconnectMaxDelay. Consumer узнаёт о новом
// канале через ReconnectNotify и заново подписывается на очередь.
type Connection struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	lost    chan *amqp.Error

	closed   bool
	closedCh chan struct{}

	reconnectCh chan struct{}
}

// NewConnection подключается к RabbitMQ и запускает наблюдение за соединением.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		logger:      logger.With("component", "amqp"),
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}

	if err := c.dial(); err != nil {
		return nil, err
	}

	go c.watch()

	return c, nil
}

// dial открывает соединение и канал и подписывается на их закрытие.
func (c *Connection) dial() error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeat,
		Properties: amqp.Table{"connection_name": connectionName()},
	})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.lost = conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Unlock()

	c.logger.Info("connected to rabbitmq")
	return nil
}

// watch ждёт разрыва соединения и переподключается до Close.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		lost := c.lost
		c.mu.RUnlock()

		select {
		case <-c.closedCh:
			return
		case err, ok := <-lost:
			// NotifyClose закрывает канал без ошибки при штатном Close
			if !ok || err == nil {
				if c.isClosed() {
					return
				}
			} else {
				c.logger.Warn("connection lost", "error", err)
			}
		}

		if !c.redial() {
			return
		}

		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
	}
}

// redial повторяет dial с растущей задержкой. false — соединение закрыто.
func (c *Connection) redial() bool {
	delay := reconnectMinDelay

	for {
		c.logger.Info("reconnecting", "delay", delay)

		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("reconnect failed", "error", err)
			delay = nextDelay(delay)
			continue
		}

		c.logger.Info("reconnected to rabbitmq")
		return true
	}
}

// nextDelay удваивает задержку переподключения в пределах reconnectMaxDelay.
func nextDelay(d time.Duration) time.Duration {
	return min(d*2, reconnectMaxDelay)
}

// ReconnectNotify сигналит, что открыт новый канал.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// Close закрывает канал и соединение; повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("connection closed")
	return errors.Join(errs...)
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// WithChannel вызывает fn с текущим каналом.
// Между переподключениями возвращает ErrNoChannel.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch, closed := c.channel, c.closed
	c.mu.RUnlock()

	if closed {
		return ErrConnectionClosed
	}
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}

	return fn(ch)
}

// connectionName — имя соединения в RabbitMQ management: "<бинарник>@<хост>".
func connectionName() string {
	host, _ := os.Hostname()
	return filepath.Base(os.Args[0]) + "@" + host
}
