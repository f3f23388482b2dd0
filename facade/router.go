// SPDX-License-Identifier: MIT

// Package facade is a thin, optional dispatch layer on top of
// receiver.Receiver: a map of content-type handlers fed by a worker
// pool that polls Receiver.Receive and settles each message with the
// outcome its handler reports.
package facade

import "github.com/arkveil/linkrecv/receiver"

// Handler processes one received message and reports the outcome the
// dispatcher should settle it with.
type Handler func(msg receiver.MessageWithTag) Outcome

// Outcome is the caller's verdict on a handled message, translated by
// the dispatcher into the matching Receiver settlement call.
type Outcome struct {
	Kind        OutcomeKind
	Reason      string
	Description string
	Properties  map[string]any
}

type OutcomeKind int

const (
	OutcomeComplete OutcomeKind = iota
	OutcomeAbandon
	OutcomeDefer
	OutcomeDeadLetter
)

// Router maps a message's content type to the handler responsible for
// it. Messages here carry no routing key, only the content-type
// metadata decoded off the delivery payload, so dispatch keys on that
// instead.
type Router map[string]Handler

func NewRouter() Router {
	return make(Router)
}

func (r Router) Add(contentType string, h Handler) {
	r[contentType] = h
}
