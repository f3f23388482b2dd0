// SPDX-License-Identifier: MIT

package receiver

import "github.com/arkveil/linkrecv/linkiface"

// ErrorContext returns a diagnostic snapshot for attaching to
// caller-visible errors or logs. It is best-effort: the prefetch depth
// and reference id are read without synchronizing with the reactor
// thread, so a concurrent delivery or reattach may be reflected only
// after this call returns.
func (r *Receiver) ErrorContext() ErrorContext {
	prefetchCount := r.currentPrefetchCount()
	prefetchDepth := r.prefetch.len()

	ec := ErrorContext{
		HostName:      r.factory.HostName(),
		ReceivePath:   r.receivePath,
		PrefetchCount: &prefetchCount,
		PrefetchDepth: &prefetchDepth,
	}

	if r.link != nil {
		if raw, ok := r.link.RemoteProperties()[linkiface.TrackingIDPropertyKey]; ok {
			if id, ok := raw.(string); ok {
				ec.ReferenceID = id
			}
		}
	}

	return ec
}
