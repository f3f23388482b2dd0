// SPDX-License-Identifier: MIT

package receiver

import "github.com/arkveil/linkrecv/linkiface"

// creditController batches flow grants to avoid sending a flow frame
// per message. Reactor-thread owned.
type creditController struct {
	browsable   bool
	accumulator int
}

func newCreditController(browsable bool) *creditController {
	return &creditController{browsable: browsable}
}

// enqueue accumulates credits and flushes to the link once the
// accumulator reaches prefetchCount or 100, whichever comes first. A
// no-op in browsable-session mode.
func (c *creditController) enqueue(link linkiface.Receiver, credits, prefetchCount int) {
	if c.browsable {
		return
	}

	c.accumulator += credits
	if c.accumulator >= prefetchCount || c.accumulator >= 100 {
		flow := c.accumulator
		link.Flow(flow)
		c.accumulator = 0
	}
}

// reset zeroes the accumulator, called whenever the link transitions
// to OPEN.
func (c *creditController) reset() {
	c.accumulator = 0
}
