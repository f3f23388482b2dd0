// SPDX-License-Identifier: MIT

package amqplink

import (
	"fmt"
	"math/bits"
	"net/url"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection manages a RabbitMQ AMQP091 connection with automatic
// reconnection: an exponential-backoff bit trick caps maxReconnectTime,
// and a single-flight TryLock keeps concurrent link failures from
// spawning parallel reconnect loops.
type Connection struct {
	mu         sync.RWMutex
	connection *amqp091.Connection
	url        *url.URL
	cfg        amqp091.Config

	reconnecting     sync.Mutex
	maxReconnectTime time.Duration
	logger           *zap.Logger

	stop      chan struct{}
	closeOnce sync.Once
}

func dial(cfg ConnectionConfig, logger *zap.Logger) (*Connection, error) {
	const stdMaxTime time.Duration = 0x3_ffff_ffff

	clientCfg := amqp091.Config{
		SASL:       []amqp091.Authentication{&amqp091.PlainAuth{Username: cfg.Username, Password: cfg.Password}},
		Vhost:      cfg.VHost,
		Properties: cfg.Properties,
		Heartbeat:  cfg.TCPHeartbeat,
	}

	maxTime := stdMaxTime
	if cfg.MaxReconnectTime != 0 {
		value := ^uint64(0) << (63 - bits.LeadingZeros64(uint64(cfg.MaxReconnectTime)))
		maxTime = time.Duration(^value)
		if uint64(maxTime-cfg.MaxReconnectTime) > uint64(cfg.MaxReconnectTime-time.Duration(^(value<<1))) {
			maxTime = time.Duration(^(value << 1))
		}
	}

	uri := &url.URL{Scheme: "amqp", Host: cfg.Host}

	conn, err := amqp091.DialConfig(uri.String(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial amqp091: %w", err)
	}

	return &Connection{
		connection:       conn,
		url:              uri,
		cfg:              clientCfg,
		maxReconnectTime: maxTime,
		logger:           logger,
		stop:             make(chan struct{}),
	}, nil
}

// reconnect triggers a one-time reconnect sequence, guarded so
// concurrent failures observed by multiple links don't spawn parallel
// reconnect loops.
func (c *Connection) reconnect(cause error) {
	if !c.reconnecting.TryLock() {
		return
	}
	defer c.reconnecting.Unlock()

	c.logger.Warn("amqp connection lost, reconnecting", zap.Error(cause))
	c.reconnectLoop()
}

func (c *Connection) reconnectLoop() {
	const firstDelay time.Duration = 0x1_FFFF_FFF // ~0.54s

	timer := time.NewTimer(0)
	defer timer.Stop()

	for waitTime, attempt := firstDelay, 1; ; waitTime, attempt = c.maxReconnectTime&(waitTime<<1|1), attempt + 1 {
		select {
		case <-c.stop:
			return
		case <-timer.C:
			c.logger.Debug("amqp reconnect attempt", zap.Int("attempt", attempt))

			conn, err := amqp091.DialConfig(c.url.String(), c.cfg)
			if err != nil {
				timer.Reset(waitTime)
				continue
			}

			c.mu.Lock()
			c.connection = conn
			c.mu.Unlock()

			c.logger.Info("amqp reconnect succeeded")
			return
		}
	}
}

func (c *Connection) channel() (*amqp091.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connection.Channel()
}

func (c *Connection) notifyClose() chan *amqp091.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connection.NotifyClose(make(chan *amqp091.Error, 1))
}

// Close stops the reconnect loop and closes the underlying connection.
// Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })

	c.mu.RLock()
	conn := c.connection
	c.mu.RUnlock()

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close amqp091 connection: %w", err)
	}
	return nil
}
