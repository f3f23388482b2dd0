// SPDX-License-Identifier: MIT

package amqplink

import (
	"time"

	"go.uber.org/zap"

	"github.com/arkveil/linkrecv/linkiface"
	"github.com/arkveil/linkrecv/retry"
	"github.com/arkveil/linkrecv/ticks"
)

// Factory is the out-of-scope owner of the transport the receiver
// depends on (linkiface.Factory): it owns the AMQP091 connection, the
// reactor thread, the retry policy, and constructs links on request.
type Factory struct {
	*reactor

	conn      *Connection
	clientID  string
	hostName  string
	opTimeout time.Duration
	retry     *retry.ExponentialPolicy
	clock     linkiface.Clock
	logger    *zap.Logger
}

// FactoryOption customizes a Factory at construction time, following
// the same functional-options convention used by receiver.Option.
type FactoryOption func(*Factory)

func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithRetryPolicy(policy *retry.ExponentialPolicy) FactoryOption {
	return func(f *Factory) {
		if policy != nil {
			f.retry = policy
		}
	}
}

func WithClock(clock linkiface.Clock) FactoryOption {
	return func(f *Factory) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewFactory dials the broker and starts the reactor thread.
func NewFactory(cfg ConnectionConfig, opts...FactoryOption) (*Factory, error) {
	if cfg.Host == "" {
		return nil, ConnectionConfigEmptyError{}
	}

	f := &Factory{
		clientID:  cfg.ClientID,
		hostName:  cfg.Host,
		opTimeout: cfg.OperationTimeout,
		retry:     retry.NewExponentialPolicy(200*time.Millisecond, 30*time.Second, 0),
		clock:     ticks.RealClock{},
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.opTimeout <= 0 {
		f.opTimeout = 60 * time.Second
	}

	conn, err := dial(cfg, f.logger)
	if err != nil {
		return nil, err
	}
	f.conn = conn
	f.reactor = newReactor(f.logger)

	return f, nil
}

func (f *Factory) RetryPolicy() linkiface.RetryPolicy { return f.retry }
func (f *Factory) OperationTimeout() time.Duration    { return f.opTimeout }
func (f *Factory) Clock() linkiface.Clock             { return f.clock }
func (f *Factory) ClientID() string                   { return f.clientID }
func (f *Factory) HostName() string                   { return f.hostName }

func (f *Factory) CreateReceiverLink(linkiface.LinkObserver) (linkiface.Receiver, error) {
	return newReceiveLink(f.conn, f.reactor, f.logger), nil
}

func (f *Factory) CreateRequestResponseLink(path string) (linkiface.RequestResponseLink, error) {
	return newRequestResponseLink(f.conn, path, f.logger)
}

// Close stops the reactor and closes the underlying connection.
func (f *Factory) Close() error {
	f.reactor.close()
	return f.conn.Close()
}

var _ linkiface.Factory = (*Factory)(nil)
