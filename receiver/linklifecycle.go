// SPDX-License-Identifier: MIT

package receiver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/arkveil/linkrecv/linkiface"
	"github.com/arkveil/linkrecv/ticks"
)

var _ linkiface.LinkObserver = (*Receiver)(nil)

// createLink builds the receive link, schedules its creation on the
// reactor thread, arms an open-timeout timer, and blocks until
// OnOpenComplete fires or ctx is done.
func (r *Receiver) createLink(ctx context.Context) (*Receiver, error) {
	r.linkOpen = newFuture[*Receiver]()

	err := r.scheduleOnReactor("open", func() {
		link, createErr := r.factory.CreateReceiverLink(r)
		if createErr != nil {
			r.OnOpenComplete(createErr)
			return
		}
		r.link = link

		if openErr := link.Open(r.openArgs(), r); openErr != nil {
			r.OnOpenComplete(openErr)
			return
		}

		cancel, schedErr := r.scheduleOnReactorAfter("open-timeout", r.opTimeout, func() {
			r.OnOpenComplete(TimeoutError{Op: "open", Cause: r.lastKnownLinkError})
		})
		if schedErr != nil {
			r.OnOpenComplete(schedErr)
			return
		}
		r.openTimeoutCancel = cancel
	})
	if err != nil {
		return nil, err
	}

	return r.linkOpen.wait(ctx)
}

// openArgs builds the source, properties, and settle-mode pair a new
// (or reattached) link opens with.
func (r *Receiver) openArgs() linkiface.OpenArgs {
	props := map[string]any{
		linkiface.TimeoutPropertyKey: uint64(linkiface.AdjustServerTimeout(r.opTimeout) / time.Millisecond),
	}

	source := linkiface.Source{Address: r.receivePath}

	if r.session.isSession {
		source.Filter = map[string]any{linkiface.SessionFilterKey: r.session.id()}
		if r.session.browsable {
			props[linkiface.PeekModePropertyKey] = true
		}
	}

	return linkiface.OpenArgs{Source: source, Properties: props, Settle: r.settle}
}

// ensureLinkIsOpen re-opens the link if either the local or remote
// endpoint has moved to CLOSED since it was last observed open.
func (r *Receiver) ensureLinkIsOpen() {
	if r.link == nil {
		return
	}

	if r.link.LocalState() == linkiface.StateClosed || r.link.RemoteState() == linkiface.StateClosed {
		r.reattach()
	}
}

// reattach creates a fresh link in place of one that closed, preserving
// the prefetch queue, delivery registry, and pending receives/
// dispositions untouched.
func (r *Receiver) reattach() {
	link, err := r.factory.CreateReceiverLink(r)
	if err != nil {
		r.OnError(err)
		return
	}
	r.link = link

	if err := link.Open(r.openArgs(), r); err != nil {
		r.OnError(err)
	}
}

// OnOpenComplete implements linkiface.LinkObserver. For a session
// receiver it validates the session filter echo and decodes the
// locked-until property before completing the open future.
func (r *Receiver) OnOpenComplete(err error) {
	if r.openTimeoutCancel != nil {
		r.openTimeoutCancel()
		r.openTimeoutCancel = nil
	}

	if err != nil {
		r.lastKnownLinkError = err
		r.lastKnownErrorAt = r.now()
		r.linkOpen.completeErr(err)
		return
	}

	if r.session.isSession {
		source := r.link.RemoteSource()
		filterID, echoed := source.Filter[linkiface.SessionFilterKey]
		if !echoed {
			cause := SessionFilterMissingError{}
			r.lastKnownLinkError = cause
			r.linkOpen.completeErr(cause)
			_ = r.link.Close()
			return
		}
		if id, ok := filterID.(string); ok {
			r.session.setID(id)
		}

		lockedUntil := time.Unix(0, 0).UTC()
		if raw, ok := r.link.RemoteProperties()[linkiface.LockedUntilPropertyKey]; ok {
			if dotnetTicks, ok := raw.(int64); ok {
				lockedUntil = ticks.ToTime(dotnetTicks)
			}
		}
		r.session.setLockedUntil(lockedUntil)
	}

	r.factory.RetryPolicy().ResetRetryCount(r.factory.ClientID())
	r.credit.reset()
	r.credit.enqueue(r.link, r.currentPrefetchCount()-r.prefetch.len(), r.currentPrefetchCount())

	r.linkOpen.complete(r)
}

// OnError implements linkiface.LinkObserver. A transient error with a
// pending receive schedules a reattach after the retry policy's
// interval; anything else fans out to all pending work.
func (r *Receiver) OnError(err error) {
	r.lastKnownLinkError = err
	r.lastKnownErrorAt = r.now()

	if r.closed.Load() {
		return
	}

	if !r.factory.RetryPolicy().IsTransient(err) {
		r.clearAllPendingWorkItems(err, false)
		return
	}

	if r.pendingReceives.len() == 0 {
		return
	}

	interval, ok := r.factory.RetryPolicy().NextRetryInterval(r.factory.ClientID(), err, r.opTimeout)
	if !ok {
		r.clearAllPendingWorkItems(err, false)
		return
	}

	_, _ = r.scheduleOnReactorAfter("reattach", interval, r.reattach)
}

// OnClose implements linkiface.LinkObserver, firing once the link has
// fully closed, whether by our own Close call or a remote-initiated
// close carrying cond.
func (r *Receiver) OnClose(cond *linkiface.ErrorCondition) {
	if r.closeTimeoutCancel != nil {
		r.closeTimeoutCancel()
		r.closeTimeoutCancel = nil
	}

	r.closed.Store(true)

	var err error
	if cond != nil {
		err = FatalError{Cause: fmt.Errorf("%s: %s", cond.Condition, cond.Description)}
		r.lastKnownLinkError = err
	}

	// A nil cond means this close was caller-initiated rather than a
	// remote fatal close, so pending receives resolve empty instead of
	// failing.
	r.clearAllPendingWorkItems(err, cond == nil)

	if err != nil {
		r.linkClose.completeErr(err)
		return
	}
	r.linkClose.complete(struct{}{})
}

// clearAllPendingWorkItems fans out completion to every pending receive
// and disposition. Receives resolve empty on a transient cause, with
// error otherwise; dispositions always fail.
func (r *Receiver) clearAllPendingWorkItems(cause error, transient bool) {
	for _, item := range r.pendingReceives.drainAll() {
		if item.cancelTimeout != nil {
			item.cancelTimeout()
		}
		if transient {
			item.result.complete(nil)
		} else {
			item.result.completeErr(cause)
		}
	}

	for _, item := range r.dispositions.drainAll() {
		item.result.completeErr(cause)
	}

	r.registry.clear()
}

// Close tears down the receive link and, if one was created, the
// request/response link. Calling Close more than once returns the same
// completed future.
func (r *Receiver) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.reaper.close()

		err := r.scheduleOnReactor("close", func() {
			var errs error

			if r.link != nil {
				errs = multierr.Append(errs, r.link.Close())
			}

			r.rrMu.Lock()
			rrLink := r.rrLink
			r.rrMu.Unlock()
			if rrLink != nil {
				errs = multierr.Append(errs, rrLink.Close())
			}

			cancel, schedErr := r.scheduleOnReactorAfter("close-timeout", r.opTimeout, func() {
				r.linkClose.completeErr(TimeoutError{Op: "close"})
			})
			if schedErr == nil {
				r.closeTimeoutCancel = cancel
			}

			r.closed.Store(true)
			r.clearAllPendingWorkItems(ClosedError{Cause: r.lastKnownLinkError}, true)

			if errs != nil {
				r.linkClose.completeErr(errs)
				return
			}
			r.linkClose.complete(struct{}{})
		})
		if err != nil {
			r.linkClose.completeErr(err)
		}
	})

	_, waitErr := r.linkClose.wait(ctx)
	return waitErr
}
