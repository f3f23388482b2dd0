// SPDX-License-Identifier: MIT

package amqplink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/arkveil/linkrecv/linkiface"
)

// directReplyToQueue is RabbitMQ's pseudo-queue for correlating a
// publish with an anonymous, one-shot consumer — the closest AMQP091
// primitive to an AMQP 1.0 request/response link.
const directReplyToQueue = "amq.rabbitmq.reply-to"

// requestResponseLink implements linkiface.RequestResponseLink on top
// of direct reply-to: one channel publishes requests and consumes the
// matching replies, correlated by id into one round trip per call.
type requestResponseLink struct {
	path   string
	logger *zap.Logger

	channel *amqp091.Channel
	replies <-chan amqp091.Delivery

	pendingMu sync.Mutex
	pending   map[string]chan amqp091.Delivery
}

func newRequestResponseLink(conn *Connection, path string, logger *zap.Logger) (*requestResponseLink, error) {
	ch, err := conn.channel()
	if err != nil {
		return nil, err
	}

	replies, err := ch.Consume(directReplyToQueue, "", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	l := &requestResponseLink{
		path:    path,
		logger:  logger,
		channel: ch,
		replies: replies,
		pending: make(map[string]chan amqp091.Delivery),
	}

	go l.pump()

	return l, nil
}

func (l *requestResponseLink) pump() {
	for reply := range l.replies {
		l.pendingMu.Lock()
		waitCh, ok := l.pending[reply.CorrelationId]
		if ok {
			delete(l.pending, reply.CorrelationId)
		}
		l.pendingMu.Unlock()

		if ok {
			waitCh <- reply
		}
	}
}

type managementRequestEnvelope struct {
	Body       map[string]any `json:"body"`
	Properties map[string]any `json:"application_properties"`
}

type managementResponseEnvelope struct {
	StatusCode int            `json:"status_code"`
	Body       map[string]any `json:"body"`
	Properties map[string]any `json:"application_properties"`
	Condition  string         `json:"condition,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Request implements linkiface.RequestResponseLink. Each call publishes
// a correlated JSON envelope addressed to path and waits for the single
// reply carrying the same correlation id.
func (l *requestResponseLink) Request(ctx context.Context, req linkiface.RequestMessage, timeout time.Duration) (linkiface.ResponseMessage, error) {
	body, err := json.Marshal(managementRequestEnvelope{Body: req.Body, Properties: req.ApplicationProperties})
	if err != nil {
		return linkiface.ResponseMessage{}, fmt.Errorf("encode management request: %w", err)
	}

	correlationID := uuid.NewString()
	waitCh := make(chan amqp091.Delivery, 1)

	l.pendingMu.Lock()
	l.pending[correlationID] = waitCh
	l.pendingMu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = l.channel.PublishWithContext(reqCtx, "", l.path, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       directReplyToQueue,
		Type:          req.Operation,
		Body:          body,
	})
	if err != nil {
		l.pendingMu.Lock()
		delete(l.pending, correlationID)
		l.pendingMu.Unlock()
		return linkiface.ResponseMessage{}, fmt.Errorf("publish management request: %w", err)
	}

	select {
	case reply := <-waitCh:
		return decodeManagementResponse(reply)
	case <-reqCtx.Done():
		l.pendingMu.Lock()
		delete(l.pending, correlationID)
		l.pendingMu.Unlock()
		return linkiface.ResponseMessage{}, reqCtx.Err()
	}
}

func decodeManagementResponse(d amqp091.Delivery) (linkiface.ResponseMessage, error) {
	var payload managementResponseEnvelope
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return linkiface.ResponseMessage{}, fmt.Errorf("decode management response: %w", err)
	}

	resp := linkiface.ResponseMessage{
		StatusCode:            payload.StatusCode,
		Body:                  payload.Body,
		ApplicationProperties: payload.Properties,
	}
	if payload.Condition != "" {
		resp.Error = &linkiface.ErrorCondition{Condition: payload.Condition, Description: payload.Description}
	}

	return resp, nil
}

func (l *requestResponseLink) Close() error {
	return l.channel.Close()
}

var _ linkiface.RequestResponseLink = (*requestResponseLink)(nil)
