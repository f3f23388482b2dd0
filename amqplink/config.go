// SPDX-License-Identifier: MIT

// Package amqplink adapts github.com/rabbitmq/amqp091-go into the
// linkiface collaborators the receiver package depends on: a
// single-threaded reactor dispatcher, a receive link over a consumed
// queue, and a request/response link built on RabbitMQ's direct
// reply-to pseudo-queue.
package amqplink

import (
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// ConnectionConfig configures the underlying AMQP091 connection via a
// plain struct with env and yaml tags, so it can be populated directly
// from either source.
type ConnectionConfig struct {
	Username         string        `env:"USERNAME" yaml:"-"`
	Password         string        `env:"PASSWORD" yaml:"-"`
	Host             string        `env:"HOST" yaml:"host"`
	VHost            string        `env:"VHOST" yaml:"vhost"`
	TCPHeartbeat     time.Duration `env:"HEARTBEAT" yaml:"tcp_heartbeat"`
	Properties       amqp091.Table `env:"PROPERTIES" yaml:"properties"`
	MaxReconnectTime time.Duration `env:"RECONNECT" yaml:"reconnect"`
	ClientID         string        `env:"CLIENT_ID" yaml:"client_id"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT" yaml:"operation_timeout"`
	Logging          bool          `env:"LOGGING" yaml:"logging"`
}
